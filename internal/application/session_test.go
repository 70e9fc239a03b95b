package application

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/warmpool/internal/domain"
)

func newFakeSession(t *testing.T, configure func(d *fakeDriver)) (*Session, *fakeDriver) {
	t.Helper()

	factory := &fakeFactory{configure: func(_ int, d *fakeDriver) {
		if configure != nil {
			configure(d)
		}
	}}
	id := nextSessionID()
	driver := factory.New(id).(*fakeDriver)
	return newSession(id, domain.RoleActive, driver, fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, nil), driver
}

func TestSessionStartSetsCredentialWhenReady(t *testing.T) {
	t.Parallel()

	session, _ := newFakeSession(t, nil)
	assert.Equal(t, domain.StateInitializing, session.State())
	assert.Empty(t, session.Credential())

	require.NoError(t, session.Start(context.Background()))

	assert.Equal(t, domain.StateReady, session.State())
	assert.NotEmpty(t, session.Credential())

	snapshot := session.Snapshot()
	assert.True(t, snapshot.HasCredential)
	assert.Len(t, snapshot.Fingerprint, 12)
	assert.Equal(t, domain.RoleActive, snapshot.Role)
}

func TestSessionStartFailureMarksDeadAndClosesDriver(t *testing.T) {
	t.Parallel()

	session, driver := newFakeSession(t, func(d *fakeDriver) { d.initErr = domain.ErrLoginTimeout })

	err := session.Start(context.Background())

	require.ErrorIs(t, err, domain.ErrLoginTimeout)
	assert.Equal(t, domain.StateDead, session.State())
	assert.Empty(t, session.Credential())
	assert.EqualValues(t, 1, driver.closes.Load())
}

func TestSessionStartRejectsInvalidCredential(t *testing.T) {
	t.Parallel()

	session, _ := newFakeSession(t, func(d *fakeDriver) { d.credential = "undefined" })

	err := session.Start(context.Background())

	require.ErrorIs(t, err, domain.ErrInvalidCredential)
	assert.Equal(t, domain.StateDead, session.State())
}

func TestSessionInFlightNeverNegative(t *testing.T) {
	t.Parallel()

	session, _ := newFakeSession(t, nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 {
			session.Retain()
		} else {
			session.Release()
		}
		require.GreaterOrEqual(t, session.InFlight(), int64(0))
	}

	for session.InFlight() > 0 {
		session.Release()
	}
	session.Release()
	assert.Zero(t, session.InFlight())
}

func TestSessionCloseDrainsInFlight(t *testing.T) {
	t.Parallel()

	session, driver := newFakeSession(t, nil)
	require.NoError(t, session.Start(context.Background()))

	session.Retain()
	done := make(chan error, 1)
	go func() { done <- session.Close(context.Background()) }()

	select {
	case <-done:
		t.Fatal("close returned while an invocation was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, driver.closes.Load())

	session.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not finish after release")
	}
	assert.EqualValues(t, 1, driver.closes.Load())
	assert.Equal(t, domain.StateDead, session.State())
	assert.Empty(t, session.Credential())
}

func TestSessionCloseForcedWhenContextExpires(t *testing.T) {
	t.Parallel()

	session, driver := newFakeSession(t, nil)
	require.NoError(t, session.Start(context.Background()))
	session.Retain()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, session.Close(ctx))
	assert.EqualValues(t, 1, driver.closes.Load())
	assert.Equal(t, domain.StateDead, session.State())

	require.NoError(t, session.Kill())
	assert.EqualValues(t, 1, driver.closes.Load())
}

func TestSessionInvokeFailsWithSessionDeadWhenKilledMidCall(t *testing.T) {
	t.Parallel()

	session, driver := newFakeSession(t, nil)
	require.NoError(t, session.Start(context.Background()))

	entered := make(chan struct{})
	driver.setInvoke(func(ctx context.Context, _ domain.Call, _ domain.ChunkFunc) (domain.Artifact, error) {
		close(entered)
		<-driver.closed
		return domain.Artifact{}, errors.New("target closed")
	})

	result := make(chan error, 1)
	go func() {
		_, err := session.Invoke(context.Background(), domain.Call{Capability: domain.CapabilityChat, Prompt: "hi"}, nil)
		result <- err
	}()

	<-entered
	require.NoError(t, session.Kill())

	err := <-result
	require.ErrorIs(t, err, domain.ErrSessionDead)
	assert.True(t, domain.DefaultErrorPolicy().Recoverable(err))
}

func TestSessionInvokeRejectedBeforeReady(t *testing.T) {
	t.Parallel()

	session, driver := newFakeSession(t, nil)

	_, err := session.Invoke(context.Background(), domain.Call{Capability: domain.CapabilityChat, Prompt: "hi"}, nil)

	require.ErrorIs(t, err, domain.ErrSessionDead)
	assert.Zero(t, driver.invokes.Load())
}
