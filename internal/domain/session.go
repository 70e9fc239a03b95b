package domain

import (
	"strconv"
	"time"
)

type SessionID int64

func (id SessionID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type Role string

const (
	RoleActive  Role = "active"
	RoleStandby Role = "standby"
	// RoleRetired marks a session that left the pool and is draining or closed.
	RoleRetired Role = "retired"
)

type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateReady        SessionState = "ready"
	StateDead         SessionState = "dead"
)

type SessionSnapshot struct {
	ID            SessionID    `json:"id"`
	Role          Role         `json:"role"`
	State         SessionState `json:"state"`
	InFlight      int64        `json:"in_flight"`
	HasCredential bool         `json:"has_credential"`
	Fingerprint   string       `json:"credential_fingerprint,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}
