package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

type invokeFunc func(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error)

type fakeDriver struct {
	id         domain.SessionID
	credential string
	initErr    error
	initGate   <-chan struct{}

	mu       sync.Mutex
	invoke   invokeFunc
	inits    atomic.Int32
	invokes  atomic.Int32
	closes   atomic.Int32
	closed   chan struct{}
	shutdown sync.Once
}

func (d *fakeDriver) Init(ctx context.Context) (string, error) {
	d.inits.Add(1)
	if d.initGate != nil {
		select {
		case <-d.initGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if d.initErr != nil {
		return "", d.initErr
	}
	return d.credential, nil
}

func (d *fakeDriver) Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error) {
	d.invokes.Add(1)

	d.mu.Lock()
	invoke := d.invoke
	d.mu.Unlock()
	if invoke != nil {
		return invoke(ctx, call, onChunk)
	}

	return domain.Artifact{Kind: domain.ArtifactText, Value: fmt.Sprintf("ok from %s", d.id)}, nil
}

func (d *fakeDriver) Close() error {
	d.closes.Add(1)
	d.shutdown.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDriver) setInvoke(fn invokeFunc) {
	d.mu.Lock()
	d.invoke = fn
	d.mu.Unlock()
}

// fakeFactory hands out fake drivers and lets a test shape each one by creation order.
type fakeFactory struct {
	mu        sync.Mutex
	drivers   []*fakeDriver
	configure func(n int, d *fakeDriver)
}

func (f *fakeFactory) New(id domain.SessionID) ports.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := &fakeDriver{
		id:         id,
		credential: fmt.Sprintf("credential-%04d-xxxxxxxxxxxxxxxx", len(f.drivers)),
		closed:     make(chan struct{}),
	}
	if f.configure != nil {
		f.configure(len(f.drivers), d)
	}
	f.drivers = append(f.drivers, d)
	return d
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drivers)
}

func (f *fakeFactory) driver(id domain.SessionID) *fakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.drivers {
		if d.id == id {
			return d
		}
	}
	return nil
}

func (f *fakeFactory) totalInvokes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, d := range f.drivers {
		total += int(d.invokes.Load())
	}
	return total
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time {
	return f.now
}

type recordingObserver struct {
	ports.NopObserver

	mu       sync.Mutex
	rotated  int
	invoked  []int
	lastLive int
}

func (o *recordingObserver) Rotated(domain.PoolMode) {
	o.mu.Lock()
	o.rotated++
	o.mu.Unlock()
}

func (o *recordingObserver) Invoked(_ string, attempts int, _ error, _ time.Duration) {
	o.mu.Lock()
	o.invoked = append(o.invoked, attempts)
	o.mu.Unlock()
}

func (o *recordingObserver) SessionsLive(count int) {
	o.mu.Lock()
	o.lastLive = count
	o.mu.Unlock()
}

func (o *recordingObserver) attempts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.invoked...)
}

func mockAnyContext() interface{} {
	return mock.Anything
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

func newTestGuard(pool Orchestrator, cfg GuardConfig, observer ports.Observer) *Guard {
	guard := NewGuard(pool, cfg, nil, nil, observer)
	guard.sleep = noSleep
	return guard
}
