package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 500 * time.Millisecond
)

type GuardConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Policy     domain.ErrorPolicy
}

// SessionFunc is one capability invocation against an acquired session.
type SessionFunc func(ctx context.Context, session *Session) error

// Guard wraps invocations with in-flight accounting and bounded retry with rotation.
type Guard struct {
	pool     Orchestrator
	cfg      GuardConfig
	clock    ports.Clock
	logger   *zap.Logger
	observer ports.Observer
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewGuard(pool Orchestrator, cfg GuardConfig, clock ports.Clock, logger *zap.Logger, observer ports.Observer) *Guard {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if len(cfg.Policy.LimitSignals) == 0 && len(cfg.Policy.TransportSignals) == 0 {
		cfg.Policy = domain.DefaultErrorPolicy()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = ports.NopObserver{}
	}

	return &Guard{
		pool:     pool,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With(zap.String("component", "guard")),
		observer: observer,
		sleep:    sleepContext,
	}
}

// Run executes fn against a ready session. Recoverable failures back off, rotate
// away from the failed session and retry, at most MaxRetries times.
func (g *Guard) Run(ctx context.Context, label string, fn SessionFunc) error {
	started := g.clock.Now()
	attempts := 0

	err := g.run(ctx, label, fn, &attempts)
	g.observer.Invoked(label, attempts, err, g.clock.Now().Sub(started))
	return err
}

func (g *Guard) run(ctx context.Context, label string, fn SessionFunc, attempts *int) error {
	for attempt := 0; ; attempt++ {
		*attempts = attempt + 1

		session, err := g.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire session for %s: %w", label, err)
		}

		err = g.cfg.Policy.Classify(g.invoke(ctx, session, fn))
		if err == nil {
			return nil
		}
		if !g.cfg.Policy.Recoverable(err) || attempt >= g.cfg.MaxRetries {
			return err
		}

		delay := g.cfg.BaseDelay * time.Duration(1<<attempt)
		g.logger.Warn("recoverable failure, rotating",
			zap.String("label", label),
			zap.Int("attempt", attempt+1),
			zap.Int64("session_id", int64(session.ID())),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
		if _, rotateErr := g.pool.RotateFrom(ctx, session.ID()); rotateErr != nil {
			g.logger.Warn("rotation failed", zap.String("label", label), zap.Error(rotateErr))
		}
	}
}

func (g *Guard) invoke(ctx context.Context, session *Session, fn SessionFunc) error {
	session.Retain()
	defer session.Release()

	return fn(ctx, session)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
