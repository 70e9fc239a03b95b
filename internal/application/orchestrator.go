package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const defaultDrainTimeout = 30 * time.Second

// Orchestrator is the only supplier of ready sessions.
type Orchestrator interface {
	Initialize(ctx context.Context) error
	Acquire(ctx context.Context) (*Session, error)
	Rotate(ctx context.Context) (*Session, error)
	// RotateFrom replaces the session identified by stale. When stale is no longer
	// active the current active session is returned unchanged.
	RotateFrom(ctx context.Context, stale domain.SessionID) (*Session, error)
	UpdateCredential(ctx context.Context, raw any) error
	Snapshot() domain.PoolSnapshot
	Close(ctx context.Context) error
}

type CredentialRecorder interface {
	Update(ctx context.Context, raw any, sessionID domain.SessionID) (bool, error)
	RecordRotation(ctx context.Context) error
}

type PoolOptions struct {
	Factory      ports.DriverFactory
	Credentials  CredentialRecorder
	Clock        ports.Clock
	Logger       *zap.Logger
	Observer     ports.Observer
	DrainTimeout time.Duration
}

func NewOrchestrator(mode domain.PoolMode, opts PoolOptions) (Orchestrator, error) {
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("new orchestrator: driver factory is required")
	}

	switch mode.Normalize() {
	case domain.PoolModeReactive:
		return NewReactivePool(opts), nil
	default:
		return NewHotSwapPool(opts), nil
	}
}

type poolBase struct {
	mode         domain.PoolMode
	factory      ports.DriverFactory
	credentials  CredentialRecorder
	clock        ports.Clock
	logger       *zap.Logger
	observer     ports.Observer
	drainTimeout time.Duration

	lifetime context.Context
	cancel   context.CancelFunc
}

func newPoolBase(mode domain.PoolMode, opts PoolOptions) poolBase {
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = ports.NopObserver{}
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return poolBase{
		mode:         mode.Normalize(),
		factory:      opts.Factory,
		credentials:  opts.Credentials,
		clock:        opts.Clock,
		logger:       opts.Logger.With(zap.String("component", "pool"), zap.String("mode", string(mode.Normalize()))),
		observer:     opts.Observer,
		drainTimeout: opts.DrainTimeout,
		lifetime:     lifetime,
		cancel:       cancel,
	}
}

func (b *poolBase) startSession(ctx context.Context, role domain.Role) (*Session, error) {
	id := nextSessionID()
	session := newSession(id, role, b.factory(id), b.clock, b.logger)

	started := b.clock.Now()
	err := session.Start(ctx)
	b.observer.SessionStarted(role, err, b.clock.Now().Sub(started))
	if err != nil {
		return nil, err
	}

	b.persistCredential(ctx, session)
	return session, nil
}

func (b *poolBase) persistCredential(ctx context.Context, session *Session) {
	if b.credentials == nil {
		return
	}
	if _, err := b.credentials.Update(ctx, session.Credential(), session.ID()); err != nil {
		b.logger.Warn("persist credential", zap.Int64("session_id", int64(session.ID())), zap.Error(err))
	}
}

func (b *poolBase) recordRotation(ctx context.Context) {
	b.observer.Rotated(b.mode)
	if b.credentials == nil {
		return
	}
	if err := b.credentials.RecordRotation(ctx); err != nil {
		b.logger.Warn("record rotation", zap.Error(err))
	}
}

func (b *poolBase) updateCredential(ctx context.Context, raw any, sessionID domain.SessionID) error {
	if b.credentials == nil {
		return nil
	}
	if _, err := b.credentials.Update(ctx, raw, sessionID); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

// awaitFlight stops waiting when ctx ends; the flight itself keeps running.
func awaitFlight(ctx context.Context, ch <-chan singleflight.Result) (*Session, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		session, _ := res.Val.(*Session)
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func rotateKey(stale domain.SessionID) string {
	return "rotate:" + stale.String()
}
