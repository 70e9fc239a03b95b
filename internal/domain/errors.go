package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLoginTimeout          = errors.New("login timed out")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrLimitReached          = errors.New("limit reached")
	ErrTransportFailure      = errors.New("transport failure")
	ErrPoolUnavailable       = errors.New("pool unavailable")
	ErrPoolClosed            = errors.New("pool closed")
	ErrSessionDead           = errors.New("session dead")
	ErrRegistrationFailed    = errors.New("registration failed")
	ErrMailboxAddressTimeout = errors.New("timed out waiting for mailbox address")
	ErrMailboxCodeTimeout    = errors.New("timed out waiting for verification code")
	ErrStreamInterrupted     = errors.New("stream interrupted")
	ErrStateNotFound         = errors.New("login state not found")
	ErrSecretNotFound        = errors.New("secret not found")
)

// CapabilityError is a failure reported by the upstream capability itself.
type CapabilityError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (e *CapabilityError) Error() string {
	if e == nil {
		return ""
	}

	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "capability failed without a message"
	}
	if e.Name == "" || e.Name == "Error" {
		return message
	}

	return fmt.Sprintf("%s: %s", e.Name, message)
}

func AsCapabilityError(err error) (*CapabilityError, bool) {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr, true
	}
	return nil, false
}
