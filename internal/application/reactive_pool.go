package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/warmpool/internal/domain"
)

// ReactivePool runs a single session and rebuilds it synchronously when it fails.
// Calls still running on the replaced session are abandoned and fail with ErrSessionDead.
type ReactivePool struct {
	poolBase

	mu          sync.RWMutex
	active      *Session
	initialized bool
	closed      bool

	swapMu    sync.Mutex
	flights   singleflight.Group
	rotations atomic.Int64
}

var _ Orchestrator = (*ReactivePool)(nil)

func NewReactivePool(opts PoolOptions) *ReactivePool {
	return &ReactivePool{poolBase: newPoolBase(domain.PoolModeReactive, opts)}
}

func (p *ReactivePool) Initialize(ctx context.Context) error {
	if p.isInitialized() {
		return nil
	}

	_, err := awaitFlight(ctx, p.flights.DoChan("init", func() (any, error) {
		if p.isInitialized() {
			return nil, nil
		}

		session, err := p.startSession(p.lifetime, domain.RoleActive)
		if err != nil {
			return nil, fmt.Errorf("initialize pool: %w", err)
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = session.Kill()
			return nil, domain.ErrPoolClosed
		}
		p.active = session
		p.initialized = true
		p.observer.SessionsLive(1)
		return session, nil
	}))
	return err
}

func (p *ReactivePool) Acquire(ctx context.Context) (*Session, error) {
	if err := p.Initialize(ctx); err != nil {
		if errors.Is(err, domain.ErrPoolClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPoolUnavailable, err)
	}

	p.mu.RLock()
	active, closed := p.active, p.closed
	p.mu.RUnlock()
	if closed {
		return nil, domain.ErrPoolClosed
	}
	if active.Ready() {
		return active, nil
	}

	recovered, err := p.RotateFrom(ctx, sessionIDOf(active))
	if err != nil {
		if errors.Is(err, domain.ErrPoolClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPoolUnavailable, err)
	}
	return recovered, nil
}

func (p *ReactivePool) Rotate(ctx context.Context) (*Session, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	stale := sessionIDOf(p.active)
	p.mu.RUnlock()

	return p.RotateFrom(ctx, stale)
}

func (p *ReactivePool) RotateFrom(ctx context.Context, stale domain.SessionID) (*Session, error) {
	return awaitFlight(ctx, p.flights.DoChan(rotateKey(stale), func() (any, error) {
		return p.replace(stale)
	}))
}

func (p *ReactivePool) replace(stale domain.SessionID) (*Session, error) {
	p.swapMu.Lock()
	defer p.swapMu.Unlock()

	p.mu.RLock()
	current, closed := p.active, p.closed
	p.mu.RUnlock()
	if closed {
		return nil, domain.ErrPoolClosed
	}
	if current != nil && current.ID() != stale && current.Ready() {
		return current, nil
	}

	if current != nil {
		current.setRole(domain.RoleRetired)
		if err := current.Kill(); err != nil {
			p.logger.Warn("close replaced session", zap.Int64("session_id", int64(current.ID())), zap.Error(err))
		}
	}

	fresh, err := p.startSession(p.lifetime, domain.RoleActive)
	if err != nil {
		p.observer.SessionsLive(0)
		return nil, fmt.Errorf("rotate session %s: %w", stale, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = fresh.Kill()
		return nil, domain.ErrPoolClosed
	}
	p.active = fresh
	p.mu.Unlock()

	p.rotations.Add(1)
	p.recordRotation(p.lifetime)
	p.observer.SessionsLive(1)
	p.logger.Info("rotated session",
		zap.Int64("from_id", int64(stale)),
		zap.Int64("to_id", int64(fresh.ID())),
	)

	return fresh, nil
}

func (p *ReactivePool) UpdateCredential(ctx context.Context, raw any) error {
	p.mu.RLock()
	id := sessionIDOf(p.active)
	p.mu.RUnlock()

	return p.updateCredential(ctx, raw, id)
}

func (p *ReactivePool) Snapshot() domain.PoolSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := domain.PoolSnapshot{
		Mode:        domain.PoolModeReactive,
		Initialized: p.initialized,
		Rotations:   p.rotations.Load(),
		TakenAt:     p.clock.Now(),
	}
	if p.active != nil {
		active := p.active.Snapshot()
		snapshot.Fingerprint = active.Fingerprint
		snapshot.Sessions = []domain.SessionSnapshot{active}
	}

	return snapshot
}

func (p *ReactivePool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	active := p.active
	p.active = nil
	p.mu.Unlock()
	p.cancel()

	p.observer.SessionsLive(0)
	if active == nil {
		return nil
	}
	return active.Close(ctx)
}

func (p *ReactivePool) isInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}
