package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/warmpool/internal/domain"
)

// HotSwapPool keeps an active and a ready standby session. Rotation promotes the
// standby and rebuilds a new one in the background.
type HotSwapPool struct {
	poolBase

	mu          sync.RWMutex
	active      *Session
	standby     *Session
	initialized bool
	closed      bool

	// swapMu serializes swaps for different stale sessions.
	swapMu     sync.Mutex
	flights    singleflight.Group
	rotations  atomic.Int64
	background sync.WaitGroup
}

var _ Orchestrator = (*HotSwapPool)(nil)

func NewHotSwapPool(opts PoolOptions) *HotSwapPool {
	return &HotSwapPool{poolBase: newPoolBase(domain.PoolModeHotSwap, opts)}
}

func (p *HotSwapPool) Initialize(ctx context.Context) error {
	if p.isInitialized() {
		return nil
	}

	_, err := awaitFlight(ctx, p.flights.DoChan("init", func() (any, error) {
		if p.isInitialized() {
			return nil, nil
		}
		return nil, p.initialize()
	}))
	return err
}

func (p *HotSwapPool) initialize() error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return domain.ErrPoolClosed
	}

	var (
		active, standby       *Session
		activeErr, standbyErr error
		group                 errgroup.Group
	)
	group.Go(func() error {
		active, activeErr = p.startSession(p.lifetime, domain.RoleActive)
		return activeErr
	})
	group.Go(func() error {
		standby, standbyErr = p.startSession(p.lifetime, domain.RoleStandby)
		return standbyErr
	})
	_ = group.Wait()

	if active == nil && standby != nil {
		standby.setRole(domain.RoleActive)
		active, standby = standby, nil
	}
	if active == nil {
		return fmt.Errorf("initialize pool: %w", errors.Join(activeErr, standbyErr))
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = active.Kill()
		if standby != nil {
			_ = standby.Kill()
		}
		return domain.ErrPoolClosed
	}
	p.active = active
	p.standby = standby
	p.initialized = true
	p.mu.Unlock()

	p.observer.SessionsLive(p.liveCount())
	if standby == nil {
		p.logger.Warn("standby failed to start, replenishing", zap.Error(errors.Join(activeErr, standbyErr)))
		p.replenish()
	}

	p.logger.Info("pool initialized", zap.Int64("active_id", int64(active.ID())))
	return nil
}

func (p *HotSwapPool) Acquire(ctx context.Context) (*Session, error) {
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
	if !recovered.Ready() {
		return nil, domain.ErrPoolUnavailable
	}
	return recovered, nil
}

func (p *HotSwapPool) Rotate(ctx context.Context) (*Session, error) {
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	stale := sessionIDOf(p.active)
	p.mu.RUnlock()

	return p.RotateFrom(ctx, stale)
}

func (p *HotSwapPool) RotateFrom(ctx context.Context, stale domain.SessionID) (*Session, error) {
	return awaitFlight(ctx, p.flights.DoChan(rotateKey(stale), func() (any, error) {
		return p.swap(stale)
	}))
}

func (p *HotSwapPool) swap(stale domain.SessionID) (*Session, error) {
	p.swapMu.Lock()
	defer p.swapMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	if p.active != nil && p.active.ID() != stale && p.active.Ready() {
		current := p.active
		p.mu.Unlock()
		return current, nil
	}
	if p.standby.Ready() {
		promoted := p.promoteLocked()
		p.mu.Unlock()
		return promoted, nil
	}
	p.mu.Unlock()

	p.logger.Warn("no ready standby, starting one synchronously", zap.Int64("stale_id", int64(stale)))
	if _, err := p.ensureStandby(); err != nil {
		return nil, fmt.Errorf("rotate session %s: %w", stale, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrPoolClosed
	}
	if !p.standby.Ready() {
		return nil, fmt.Errorf("rotate session %s: %w", stale, domain.ErrPoolUnavailable)
	}
	return p.promoteLocked(), nil
}

// promoteLocked flips the standby into the active slot. p.mu must be held.
func (p *HotSwapPool) promoteLocked() *Session {
	old := p.active
	promoted := p.standby
	if old != nil {
		old.setRole(domain.RoleRetired)
	}
	promoted.setRole(domain.RoleActive)
	p.active = promoted
	p.standby = nil

	p.rotations.Add(1)
	p.logger.Info("rotated session",
		zap.Int64("from_id", int64(sessionIDOf(old))),
		zap.Int64("to_id", int64(promoted.ID())),
	)

	p.retire(old)
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		p.recordRotation(p.lifetime)
	}()
	p.replenish()

	return promoted
}

// retire drains and closes a session that is no longer reachable from the pool.
func (p *HotSwapPool) retire(session *Session) {
	if session == nil {
		return
	}

	p.background.Add(1)
	go func() {
		defer p.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
		defer cancel()
		if err := session.Close(ctx); err != nil {
			p.logger.Warn("retire session", zap.Int64("session_id", int64(session.ID())), zap.Error(err))
		}
		p.observer.SessionsLive(p.liveCount())
	}()
}

func (p *HotSwapPool) replenish() {
	p.background.Add(1)
	go func() {
		defer p.background.Done()
		if _, err := p.ensureStandby(); err != nil && !errors.Is(err, domain.ErrPoolClosed) {
			p.logger.Warn("replenish standby", zap.Error(err))
		}
	}()
}

// ensureStandby starts a standby unless a ready one exists. Concurrent callers join one start.
func (p *HotSwapPool) ensureStandby() (*Session, error) {
	value, err, _ := p.flights.Do("standby", func() (any, error) {
		p.mu.RLock()
		current, closed := p.standby, p.closed
		p.mu.RUnlock()
		if closed {
			return nil, domain.ErrPoolClosed
		}
		if current.Ready() {
			return current, nil
		}

		fresh, err := p.startSession(p.lifetime, domain.RoleStandby)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = fresh.Kill()
			return nil, domain.ErrPoolClosed
		}
		previous := p.standby
		p.standby = fresh
		p.mu.Unlock()

		p.retire(previous)
		p.observer.SessionsLive(p.liveCount())
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	session, _ := value.(*Session)
	return session, nil
}

func (p *HotSwapPool) UpdateCredential(ctx context.Context, raw any) error {
	p.mu.RLock()
	id := sessionIDOf(p.active)
	p.mu.RUnlock()

	return p.updateCredential(ctx, raw, id)
}

func (p *HotSwapPool) Snapshot() domain.PoolSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snapshot := domain.PoolSnapshot{
		Mode:        domain.PoolModeHotSwap,
		Initialized: p.initialized,
		Rotations:   p.rotations.Load(),
		TakenAt:     p.clock.Now(),
	}
	if p.active != nil {
		active := p.active.Snapshot()
		snapshot.Fingerprint = active.Fingerprint
		snapshot.Sessions = append(snapshot.Sessions, active)
	}
	if p.standby != nil {
		snapshot.Sessions = append(snapshot.Sessions, p.standby.Snapshot())
	}
	snapshot.NormalizeSessions()

	return snapshot
}

func (p *HotSwapPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	active, standby := p.active, p.standby
	p.active, p.standby = nil, nil
	p.mu.Unlock()
	p.cancel()

	var errs []error
	if standby != nil {
		errs = append(errs, standby.Kill())
	}
	if active != nil {
		errs = append(errs, active.Close(ctx))
	}

	done := make(chan struct{})
	go func() {
		p.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background sessions: %w", ctx.Err()))
	}

	p.observer.SessionsLive(0)
	return errors.Join(errs...)
}

func (p *HotSwapPool) isInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

func (p *HotSwapPool) liveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, session := range []*Session{p.active, p.standby} {
		if session.Ready() {
			count++
		}
	}
	return count
}

func sessionIDOf(session *Session) domain.SessionID {
	if session == nil {
		return 0
	}
	return session.ID()
}
