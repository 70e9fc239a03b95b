package application

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tomlrepo "github.com/bnema/warmpool/internal/adapters/repo/toml"
	filestore "github.com/bnema/warmpool/internal/adapters/secrets/file"
	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports/mocks"
)

const (
	firstCredential  = "first-credential-aaaaaaaaaaaaaaaa"
	secondCredential = "second-credential-bbbbbbbbbbbbbbbb"
)

var capturedAt = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func TestCredentialServiceUpdatePersistsNewCredential(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)

	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{}, domain.ErrStateNotFound)
	store.EXPECT().Get(mockAnyContext(), CredentialSecretKey).Return("", domain.ErrSecretNotFound)
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, firstCredential).Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.LoginState{
		SecretRef:   CredentialSecretKey,
		Fingerprint: domain.Fingerprint(firstCredential),
		CapturedAt:  capturedAt,
		SessionID:   7,
	}).Return(nil)

	changed, err := service.Update(context.Background(), map[string]any{"token": firstCredential}, 7)

	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCredentialServiceIgnoresInvalidAndUnchanged(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)

	changed, err := service.Update(context.Background(), "null", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{Rotations: 4}, nil).Once()
	store.EXPECT().Get(mockAnyContext(), CredentialSecretKey).Return("", domain.ErrSecretNotFound).Once()
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, firstCredential).Return(nil).Once()
	repo.EXPECT().Save(mockAnyContext(), domain.LoginState{
		SecretRef:   CredentialSecretKey,
		Fingerprint: domain.Fingerprint(firstCredential),
		CapturedAt:  capturedAt,
		SessionID:   1,
		Rotations:   4,
	}).Return(nil).Once()

	changed, err = service.Update(context.Background(), firstCredential, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = service.Update(context.Background(), "  "+firstCredential+"  ", 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCredentialServiceRestoresPreviousSecretWhenSaveFails(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)

	saveErr := errors.New("disk full")
	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{}, nil)
	store.EXPECT().Get(mockAnyContext(), CredentialSecretKey).Return(firstCredential, nil)
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, secondCredential).Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.LoginState{
		SecretRef:   CredentialSecretKey,
		Fingerprint: domain.Fingerprint(secondCredential),
		CapturedAt:  capturedAt,
		SessionID:   3,
	}).Return(saveErr)
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, firstCredential).Return(nil)

	changed, err := service.Update(context.Background(), secondCredential, 3)

	require.ErrorIs(t, err, saveErr)
	assert.False(t, changed)
}

func TestCredentialServiceDeletesSecretWhenSaveFailsWithoutPrevious(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)

	saveErr := errors.New("disk full")
	deleteErr := errors.New("keyring locked")
	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{}, domain.ErrStateNotFound)
	store.EXPECT().Get(mockAnyContext(), CredentialSecretKey).Return("", domain.ErrSecretNotFound)
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, firstCredential).Return(nil)
	repo.EXPECT().Save(mockAnyContext(), domain.LoginState{
		SecretRef:   CredentialSecretKey,
		Fingerprint: domain.Fingerprint(firstCredential),
		CapturedAt:  capturedAt,
		SessionID:   5,
	}).Return(saveErr)
	store.EXPECT().Delete(mockAnyContext(), CredentialSecretKey).Return(deleteErr)

	_, err := service.Update(context.Background(), firstCredential, 5)

	require.ErrorIs(t, err, saveErr)
	require.ErrorIs(t, err, deleteErr)
}

func TestCredentialServiceKeepsUnreadableStateUntouched(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)
	ctx := context.Background()

	readErr := errors.New("decode state file: toml: expected character =")
	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{}, readErr).Times(3)

	changed, err := service.Update(ctx, firstCredential, 1)
	require.ErrorIs(t, err, readErr)
	assert.False(t, changed)

	require.ErrorIs(t, service.RecordRotation(ctx), readErr)
	require.ErrorIs(t, service.RecordRegistration(ctx, domain.RegisteredAccount{Username: "quietowl"}), readErr)
}

func TestCredentialServiceReturnsPutError(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)

	putErr := errors.New("pass not installed")
	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{}, domain.ErrStateNotFound)
	store.EXPECT().Get(mockAnyContext(), CredentialSecretKey).Return("", domain.ErrSecretNotFound)
	store.EXPECT().Put(mockAnyContext(), CredentialSecretKey, firstCredential).Return(putErr)

	_, err := service.Update(context.Background(), firstCredential, 1)

	require.ErrorIs(t, err, putErr)
}

func TestCredentialServiceRecordsRotationsAndRegistrations(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("state.path", filepath.Join(t.TempDir(), "state.toml"))
	repo, err := tomlrepo.NewStateRepository(v)
	require.NoError(t, err)
	store := filestore.NewStore(filepath.Join(t.TempDir(), "secrets"))

	service := NewCredentialService(repo, store, fixedClock{now: capturedAt}, nil)
	ctx := context.Background()

	changed, err := service.Update(ctx, firstCredential, 11)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, service.RecordRotation(ctx))
	require.NoError(t, service.RecordRotation(ctx))
	require.NoError(t, service.RecordRegistration(ctx, domain.RegisteredAccount{Username: "quietowl", Email: "quietowl@mail.tm"}))

	state, err := service.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, CredentialSecretKey, state.SecretRef)
	assert.Equal(t, domain.Fingerprint(firstCredential), state.Fingerprint)
	assert.Equal(t, domain.SessionID(11), state.SessionID)
	assert.EqualValues(t, 2, state.Rotations)
	require.Len(t, state.Accounts, 1)
	assert.Equal(t, "quietowl", state.Accounts[0].Username)
	assert.True(t, state.Accounts[0].CreatedAt.Equal(capturedAt))

	value, err := store.Get(ctx, CredentialSecretKey)
	require.NoError(t, err)
	assert.Equal(t, firstCredential, value)
}

func TestCredentialServiceStampsRegistrationWithClock(t *testing.T) {
	repo := mocks.NewMockStateRepository(t)
	clock := mocks.NewMockClock(t)
	service := NewCredentialService(repo, mocks.NewMockSecretStore(t), clock, nil)

	clock.EXPECT().Now().Return(capturedAt).Once()
	repo.EXPECT().Get(mockAnyContext()).Return(domain.LoginState{Rotations: 1}, nil).Once()
	repo.EXPECT().Save(mockAnyContext(), domain.LoginState{
		Rotations: 1,
		Accounts: []domain.RegisteredAccount{
			{Username: "quietowl", Email: "quietowl@mail.tm", CreatedAt: capturedAt},
		},
	}).Return(nil).Once()

	err := service.RecordRegistration(context.Background(), domain.RegisteredAccount{Username: "quietowl", Email: "quietowl@mail.tm"})

	require.NoError(t, err)
}
