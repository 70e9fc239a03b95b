package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version    int              `toml:"version"`
	Credential credentialSchema `toml:"credential"`
	Pool       poolSchema       `toml:"pool"`
	Accounts   []accountSchema  `toml:"accounts,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported state schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

func (s fileSchema) empty() bool {
	return s.Credential == (credentialSchema{}) && s.Pool == (poolSchema{}) && len(s.Accounts) == 0
}

type credentialSchema struct {
	SecretRef   string `toml:"secret_ref"`
	Fingerprint string `toml:"fingerprint"`
	CapturedAt  string `toml:"captured_at"`
	SessionID   int64  `toml:"session_id"`
}

type poolSchema struct {
	Rotations int64 `toml:"rotations"`
}

type accountSchema struct {
	Username  string `toml:"username"`
	Email     string `toml:"email"`
	CreatedAt string `toml:"created_at"`
}
