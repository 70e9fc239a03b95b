package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type PoolMode string

const (
	PoolModeHotSwap  PoolMode = "hotswap"
	PoolModeReactive PoolMode = "reactive"
)

func (m PoolMode) Normalize() PoolMode {
	return PoolMode(strings.ToLower(strings.TrimSpace(string(m))))
}

func (m PoolMode) Validate() error {
	switch m.Normalize() {
	case PoolModeHotSwap, PoolModeReactive:
		return nil
	case "":
		return fmt.Errorf("pool mode is required")
	default:
		return fmt.Errorf("unsupported pool mode %q", m)
	}
}

type PoolSnapshot struct {
	Mode        PoolMode          `json:"mode"`
	Initialized bool              `json:"initialized"`
	Rotations   int64             `json:"rotations"`
	Sessions    []SessionSnapshot `json:"sessions"`
	Fingerprint string            `json:"credential_fingerprint,omitempty"`
	TakenAt     time.Time         `json:"taken_at"`
}

func (p PoolSnapshot) ActiveCount() int {
	count := 0
	for _, session := range p.Sessions {
		if session.Role == RoleActive {
			count++
		}
	}
	return count
}

func (p PoolSnapshot) Active() (SessionSnapshot, bool) {
	for _, session := range p.Sessions {
		if session.Role == RoleActive {
			return session, true
		}
	}
	return SessionSnapshot{}, false
}

// NormalizeSessions orders sessions active first, then by id.
func (p *PoolSnapshot) NormalizeSessions() {
	if p == nil {
		return
	}

	sort.SliceStable(p.Sessions, func(i, j int) bool {
		left, right := p.Sessions[i], p.Sessions[j]
		if left.Role != right.Role {
			return left.Role == RoleActive
		}
		return left.ID < right.ID
	})
}
