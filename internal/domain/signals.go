package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	DefaultLimitSignals     = []string{"insufficient_funds", "usage-limited", "limit", "quota"}
	DefaultTransportSignals = []string{"429", "rate", "navigat", "protocol", "target closed", "session"}
)

// ErrorPolicy decides which failures are worth a rotation and a retry.
type ErrorPolicy struct {
	LimitSignals     []string
	TransportSignals []string
}

func DefaultErrorPolicy() ErrorPolicy {
	return ErrorPolicy{
		LimitSignals:     append([]string(nil), DefaultLimitSignals...),
		TransportSignals: append([]string(nil), DefaultTransportSignals...),
	}
}

func (p ErrorPolicy) IsLimit(text string) bool {
	return containsAny(text, p.LimitSignals)
}

func (p ErrorPolicy) IsTransport(text string) bool {
	return containsAny(text, p.TransportSignals)
}

// Classify promotes a capability error carrying a limit signal to ErrLimitReached.
// Every other error is returned as is.
func (p ErrorPolicy) Classify(err error) error {
	if err == nil || errors.Is(err, ErrLimitReached) {
		return err
	}

	capErr, ok := AsCapabilityError(err)
	if !ok {
		return err
	}
	if p.IsLimit(capErr.Error()) {
		return fmt.Errorf("%w: %w", ErrLimitReached, err)
	}

	return err
}

func (p ErrorPolicy) Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamInterrupted) {
		return false
	}
	if errors.Is(err, ErrLimitReached) || errors.Is(err, ErrTransportFailure) || errors.Is(err, ErrSessionDead) {
		return true
	}

	if capErr, ok := AsCapabilityError(err); ok {
		return p.IsLimit(capErr.Error())
	}

	text := err.Error()
	return p.IsLimit(text) || p.IsTransport(text)
}

func containsAny(text string, signals []string) bool {
	lowered := strings.ToLower(text)
	for _, signal := range signals {
		signal = strings.ToLower(strings.TrimSpace(signal))
		if signal == "" {
			continue
		}
		if strings.Contains(lowered, signal) {
			return true
		}
	}
	return false
}
