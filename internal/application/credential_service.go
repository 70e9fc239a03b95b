package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

// CredentialSecretKey names the credential inside the secret store. Backends add
// their own namespace.
const CredentialSecretKey = "credential"

// CredentialService caches the last validated credential and persists new ones.
// Persisted credentials are reported only; they are never used to skip a login.
type CredentialService struct {
	repo   ports.StateRepository
	store  ports.SecretStore
	clock  ports.Clock
	logger *zap.Logger

	mu     sync.Mutex
	cached string
}

func NewCredentialService(repo ports.StateRepository, store ports.SecretStore, clock ports.Clock, logger *zap.Logger) *CredentialService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CredentialService{
		repo:   repo,
		store:  store,
		clock:  clock,
		logger: logger.With(zap.String("component", "credentials")),
	}
}

// Update validates raw and persists it when it differs from the cached value.
// Invalid and unchanged candidates are ignored and report false.
func (s *CredentialService) Update(ctx context.Context, raw any, sessionID domain.SessionID) (bool, error) {
	credential, err := domain.ValidateCredential(raw)
	if err != nil {
		s.logger.Debug("ignoring credential candidate", zap.Error(err))
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if credential == s.cached {
		return false, nil
	}

	state, err := s.loadState(ctx)
	if err != nil {
		return false, err
	}
	previousValue, hadPrevious := s.previousSecret(ctx)

	if err := s.store.Put(ctx, CredentialSecretKey, credential); err != nil {
		return false, fmt.Errorf("store credential secret: %w", err)
	}

	state.SecretRef = CredentialSecretKey
	state.Fingerprint = domain.Fingerprint(credential)
	state.CapturedAt = s.clock.Now()
	state.SessionID = sessionID

	if err := s.repo.Save(ctx, state); err != nil {
		var rollbackErr error
		if hadPrevious {
			rollbackErr = s.store.Put(ctx, CredentialSecretKey, previousValue)
		} else {
			rollbackErr = s.store.Delete(ctx, CredentialSecretKey)
		}
		if rollbackErr != nil {
			return false, fmt.Errorf("save login state and rollback stored credential: %w", errors.Join(err, rollbackErr))
		}
		return false, fmt.Errorf("save login state: %w", err)
	}

	s.cached = credential
	s.logger.Info("credential persisted",
		zap.Int64("session_id", int64(sessionID)),
		zap.String("credential_fingerprint", state.Fingerprint),
	)

	return true, nil
}

func (s *CredentialService) RecordRotation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	state.Rotations++

	if err := s.repo.Save(ctx, state); err != nil {
		return fmt.Errorf("save rotation count: %w", err)
	}
	return nil
}

func (s *CredentialService) RecordRegistration(ctx context.Context, account domain.RegisteredAccount) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	state.Accounts = append(state.Accounts, account)

	if err := s.repo.Save(ctx, state); err != nil {
		return fmt.Errorf("save registered account: %w", err)
	}
	return nil
}

func (s *CredentialService) State(ctx context.Context) (domain.LoginState, error) {
	state, err := s.repo.Get(ctx)
	if err != nil {
		return domain.LoginState{}, fmt.Errorf("get login state: %w", err)
	}
	return state, nil
}

// loadState starts fresh only when no state was saved yet. An unreadable file
// is reported so a save never overwrites the recorded accounts and rotations.
func (s *CredentialService) loadState(ctx context.Context) (domain.LoginState, error) {
	state, err := s.repo.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrStateNotFound):
		return domain.LoginState{}, nil
	case err != nil:
		return domain.LoginState{}, fmt.Errorf("load login state: %w", err)
	}
	return state, nil
}

func (s *CredentialService) previousSecret(ctx context.Context) (string, bool) {
	value, err := s.store.Get(ctx, CredentialSecretKey)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}
