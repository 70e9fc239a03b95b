package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const (
	DefaultBinary = "pass"
	DefaultPrefix = "warmpool"

	notInStore = "is not in the password store"
)

var (
	ErrUnavailable = errors.New("pass command unavailable")
	ErrInvalidKey  = errors.New("invalid pass entry name")
)

// Config selects the pass binary, the folder entries live under and an
// optional PASSWORD_STORE_DIR override.
type Config struct {
	Binary   string
	Prefix   string
	StoreDir string
}

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

// Store keeps secrets as pass entries below Config.Prefix, one entry per key.
type Store struct {
	run    runFunc
	prefix string
	logger *zap.Logger
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(cfg Config, logger *zap.Logger) *Store {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		run:    commandRunner(cfg.Binary, cfg.StoreDir),
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		logger: logger.With(zap.String("component", "secrets.pass")),
	}
}

// Entry is the pass entry name a key is stored under.
func (s *Store) Entry(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if s.prefix == "" {
		return trimmed, nil
	}
	return path.Join(s.prefix, trimmed), nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	entry, err := s.entry(ctx, key)
	if err != nil {
		return err
	}

	_, stderr, err := s.run(ctx, value+"\n", "insert", "--multiline", "--force", entry)
	if err != nil {
		return formatError("insert", entry, err, stderr)
	}
	s.logger.Debug("secret stored", zap.String("entry", entry))
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.entry(ctx, key)
	if err != nil {
		return "", err
	}

	stdout, stderr, err := s.run(ctx, "", "show", entry)
	switch {
	case err != nil && strings.Contains(stderr, notInStore):
		return "", fmt.Errorf("pass entry %q: %w", entry, domain.ErrSecretNotFound)
	case err != nil:
		return "", formatError("show", entry, err, stderr)
	}

	// The first line is the secret; pass keeps metadata on the following lines.
	value, _, _ := strings.Cut(stdout, "\n")
	value = strings.TrimSuffix(value, "\r")
	if value == "" {
		return "", fmt.Errorf("pass entry %q is empty: %w", entry, domain.ErrSecretNotFound)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	entry, err := s.entry(ctx, key)
	if err != nil {
		return err
	}

	_, stderr, err := s.run(ctx, "", "rm", "--force", entry)
	switch {
	case err != nil && strings.Contains(stderr, notInStore):
		return nil
	case err != nil:
		return formatError("rm", entry, err, stderr)
	}
	s.logger.Debug("secret removed", zap.String("entry", entry))
	return nil
}

func (s *Store) entry(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Entry(key)
}

func commandRunner(binary string, storeDir string) runFunc {
	return func(ctx context.Context, input string, args ...string) (string, string, error) {
		bin, err := exec.LookPath(binary)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return "", "", ErrUnavailable
			}
			return "", "", fmt.Errorf("locate %s: %w", binary, err)
		}

		cmd := exec.CommandContext(ctx, bin, args...)
		if storeDir != "" {
			cmd.Env = append(os.Environ(), "PASSWORD_STORE_DIR="+storeDir)
		}
		if input != "" {
			cmd.Stdin = strings.NewReader(input)
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err = cmd.Run()
		return stdout.String(), strings.TrimSpace(stderr.String()), err
	}
}

func formatError(op string, entry string, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("pass %s %q: %w", op, entry, err)
	}
	return fmt.Errorf("pass %s %q: %w: %s", op, entry, err, stderr)
}
