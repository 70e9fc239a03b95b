package ports

import (
	"time"

	"github.com/bnema/warmpool/internal/domain"
)

type Observer interface {
	SessionStarted(role domain.Role, err error, elapsed time.Duration)
	SessionsLive(count int)
	Rotated(mode domain.PoolMode)
	Invoked(label string, attempts int, err error, elapsed time.Duration)
}

type NopObserver struct{}

func (NopObserver) SessionStarted(domain.Role, error, time.Duration) {}
func (NopObserver) SessionsLive(int)                                 {}
func (NopObserver) Rotated(domain.PoolMode)                          {}
func (NopObserver) Invoked(string, int, error, time.Duration)        {}
