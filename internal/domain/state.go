package domain

import "time"

// LoginState is the durable record of the most recent login. The credential value
// itself lives in the secret store under SecretRef.
type LoginState struct {
	SecretRef   string
	Fingerprint string
	CapturedAt  time.Time
	SessionID   SessionID
	Rotations   int64
	Accounts    []RegisteredAccount
}

type RegisteredAccount struct {
	Username  string
	Email     string
	CreatedAt time.Time
}

func (s LoginState) HasCredential() bool {
	return s.SecretRef != "" && s.Fingerprint != ""
}

func (s LoginState) Age(now time.Time) time.Duration {
	if s.CapturedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CapturedAt)
}
