package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

var sessionSeq atomic.Int64

func nextSessionID() domain.SessionID {
	return domain.SessionID(sessionSeq.Add(1))
}

// Session wraps exactly one driver. The driver is never shared or handed out.
type Session struct {
	id        domain.SessionID
	driver    ports.Driver
	createdAt time.Time
	logger    *zap.Logger

	mu         sync.RWMutex
	role       domain.Role
	state      domain.SessionState
	credential string

	inFlight atomic.Int64
	released chan struct{}
	killOnce sync.Once
	killErr  error
}

func newSession(id domain.SessionID, role domain.Role, driver ports.Driver, clock ports.Clock, logger *zap.Logger) *Session {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		id:        id,
		driver:    driver,
		createdAt: clock.Now(),
		logger:    logger.With(zap.Int64("session_id", int64(id))),
		role:      role,
		state:     domain.StateInitializing,
		released:  make(chan struct{}, 1),
	}
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) setRole(role domain.Role) {
	s.mu.Lock()
	s.role = role
	s.mu.Unlock()
}

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Ready() bool {
	return s != nil && s.State() == domain.StateReady
}

func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

func (s *Session) InFlight() int64 {
	return s.inFlight.Load()
}

// Start runs the driver login. On failure the session is dead and its driver closed.
func (s *Session) Start(ctx context.Context) error {
	s.logger.Info("starting session", zap.String("role", string(s.Role())))

	raw, err := s.driver.Init(ctx)
	if err == nil {
		raw, err = domain.ValidateCredential(raw)
	}
	if err != nil {
		s.logger.Warn("session start failed", zap.Error(err))
		if killErr := s.Kill(); killErr != nil {
			s.logger.Warn("close driver after failed start", zap.Error(killErr))
		}
		return fmt.Errorf("start session %s: %w", s.id, err)
	}

	s.mu.Lock()
	if s.state == domain.StateDead {
		s.mu.Unlock()
		return fmt.Errorf("start session %s: %w", s.id, domain.ErrSessionDead)
	}
	s.state = domain.StateReady
	s.credential = raw
	s.mu.Unlock()

	s.logger.Info("session ready", zap.String("credential_fingerprint", domain.Fingerprint(raw)))
	return nil
}

func (s *Session) Retain() {
	s.inFlight.Add(1)
}

// Release never drives the in-flight count below zero.
func (s *Session) Release() {
	for {
		current := s.inFlight.Load()
		if current <= 0 {
			return
		}
		if s.inFlight.CompareAndSwap(current, current-1) {
			select {
			case s.released <- struct{}{}:
			default:
			}
			return
		}
	}
}

func (s *Session) Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error) {
	if !s.Ready() {
		return domain.Artifact{}, fmt.Errorf("invoke %s on session %s: %w", call.Capability, s.id, domain.ErrSessionDead)
	}

	artifact, err := s.driver.Invoke(ctx, call, onChunk)
	if err != nil {
		if s.State() == domain.StateDead {
			return domain.Artifact{}, fmt.Errorf("invoke %s on session %s: %w: %w", call.Capability, s.id, domain.ErrSessionDead, err)
		}
		return domain.Artifact{}, err
	}

	return artifact, nil
}

// Close waits for in-flight invocations to finish, then tears the driver down.
// When ctx expires first the close is forced and abandoned calls fail with ErrSessionDead.
func (s *Session) Close(ctx context.Context) error {
	for s.inFlight.Load() > 0 {
		select {
		case <-s.released:
		case <-ctx.Done():
			s.logger.Warn("forcing session close", zap.Int64("in_flight", s.inFlight.Load()))
			return s.Kill()
		}
	}

	return s.Kill()
}

// Kill tears the driver down immediately. Safe to call more than once.
func (s *Session) Kill() error {
	s.killOnce.Do(func() {
		s.mu.Lock()
		s.state = domain.StateDead
		s.credential = ""
		s.mu.Unlock()

		if err := s.driver.Close(); err != nil {
			s.killErr = fmt.Errorf("close driver for session %s: %w", s.id, err)
		}
		s.logger.Info("session closed")
	})

	return s.killErr
}

func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.SessionSnapshot{
		ID:            s.id,
		Role:          s.role,
		State:         s.state,
		InFlight:      s.inFlight.Load(),
		HasCredential: s.credential != "",
		Fingerprint:   domain.Fingerprint(s.credential),
		CreatedAt:     s.createdAt,
	}
}
