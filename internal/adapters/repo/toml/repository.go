package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const (
	statePathKey    = "state.path"
	stateFileMode   = 0o600
	stateDirMode    = 0o700
	stateConfigDir  = ".warmpool"
	stateConfigFile = "state.toml"
	tempFilePattern = ".state-*.toml.tmp"
)

// StateRepository stores the last login state as a TOML document.
type StateRepository struct {
	statePath string
	mu        *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.StateRepository = (*StateRepository)(nil)

func NewStateRepository(cfg *viper.Viper) (*StateRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	statePath := cfg.GetString(statePathKey)
	if statePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		statePath = filepath.Join(homeDir, stateConfigDir, stateConfigFile)
	}

	statePath, err := normalizeStatePath(statePath)
	if err != nil {
		return nil, err
	}

	return &StateRepository{statePath: statePath, mu: lockForPath(statePath)}, nil
}

func (r *StateRepository) Path() string {
	return r.statePath
}

func (r *StateRepository) Get(ctx context.Context) (domain.LoginState, error) {
	if err := ctx.Err(); err != nil {
		return domain.LoginState{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, found, err := r.readSchema()
	if err != nil {
		return domain.LoginState{}, err
	}
	if !found || file.empty() {
		return domain.LoginState{}, domain.ErrStateNotFound
	}

	return fromSchema(file), nil
}

func (r *StateRepository) Save(ctx context.Context, state domain.LoginState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file := toSchema(state)
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.writeSchema(file)
}

func (r *StateRepository) readSchema() (fileSchema, bool, error) {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, false, nil
		}
		return fileSchema{}, false, fmt.Errorf("read state file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, false, fmt.Errorf("decode state file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, false, err
	}
	file.applyDefaults()

	return file, true, nil
}

func (r *StateRepository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.statePath), stateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.statePath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tempName, r.statePath); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	cleanup = false

	return nil
}

func normalizeStatePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve state path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func toSchema(state domain.LoginState) fileSchema {
	accounts := make([]accountSchema, 0, len(state.Accounts))
	for _, account := range state.Accounts {
		accounts = append(accounts, accountSchema{
			Username:  account.Username,
			Email:     account.Email,
			CreatedAt: formatTime(account.CreatedAt),
		})
	}

	return fileSchema{
		Version: currentSchemaVersion,
		Credential: credentialSchema{
			SecretRef:   state.SecretRef,
			Fingerprint: state.Fingerprint,
			CapturedAt:  formatTime(state.CapturedAt),
			SessionID:   int64(state.SessionID),
		},
		Pool:     poolSchema{Rotations: state.Rotations},
		Accounts: accounts,
	}
}

func fromSchema(file fileSchema) domain.LoginState {
	var accounts []domain.RegisteredAccount
	for _, account := range file.Accounts {
		accounts = append(accounts, domain.RegisteredAccount{
			Username:  account.Username,
			Email:     account.Email,
			CreatedAt: parseTime(account.CreatedAt),
		})
	}

	return domain.LoginState{
		SecretRef:   file.Credential.SecretRef,
		Fingerprint: file.Credential.Fingerprint,
		CapturedAt:  parseTime(file.Credential.CapturedAt),
		SessionID:   domain.SessionID(file.Credential.SessionID),
		Rotations:   file.Pool.Rotations,
		Accounts:    accounts,
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339)
}
