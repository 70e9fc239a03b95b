package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
)

// TabOpener opens secondary tabs in the browser that owns the platform page.
type TabOpener interface {
	NewTab(ctx context.Context, url string) (Page, error)
}

// Mailbox drives a disposable-mailbox provider to register a fresh account.
// UI misses are logged and absorbed; only the address and code waits fail hard.
type Mailbox struct {
	cfg    MailboxConfig
	accept func(string) bool
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type inboxRow struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type fillResult struct {
	Filled    []string `json:"filled"`
	Submitted bool     `json:"submitted"`
}

type codeEntryResult struct {
	Mode      string `json:"mode"`
	Submitted bool   `json:"submitted"`
}

func NewMailbox(cfg MailboxConfig, logger *zap.Logger) *Mailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AddressAttempts <= 0 {
		cfg.AddressAttempts = 15
	}
	if cfg.CodeInterval <= 0 {
		cfg.CodeInterval = 5 * time.Second
	}
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = 120 * time.Second
	}

	return &Mailbox{
		cfg:    cfg,
		accept: domain.AcceptedDomain(cfg.AcceptedDomains),
		logger: logger.With(zap.String("component", "mailbox")),
		sleep:  sleepContext,
	}
}

// Register opens the mailbox in a new tab, submits the platform's registration
// form with the acquired address and enters the emailed verification code.
func (m *Mailbox) Register(ctx context.Context, tabs TabOpener, platform Page, identity Identity) (domain.RegisteredAccount, error) {
	tab, err := tabs.NewTab(ctx, m.cfg.URL)
	if err != nil {
		return domain.RegisteredAccount{}, fmt.Errorf("%w: open mailbox tab: %w", domain.ErrRegistrationFailed, err)
	}
	defer func() { _ = tab.Close() }()

	var box domain.Mailbox
	box.Address, err = m.AcquireAddress(ctx, tab)
	if err != nil {
		return domain.RegisteredAccount{}, err
	}

	m.fillRegistration(ctx, platform, identity, box.Address)

	box.PendingCode, err = m.WaitForCode(ctx, tab)
	if err != nil {
		return domain.RegisteredAccount{}, err
	}

	if err := m.enterCode(ctx, platform, box.PendingCode); err != nil {
		return domain.RegisteredAccount{}, err
	}

	m.logger.Info("registration submitted", zap.String("username", identity.Username), zap.String("email", box.Address))
	return domain.RegisteredAccount{Username: identity.Username, Email: box.Address}, nil
}

func (m *Mailbox) AcquireAddress(ctx context.Context, tab Page) (string, error) {
	for attempt := 1; attempt <= m.cfg.AddressAttempts; attempt++ {
		var candidates []string
		if err := evalInto(ctx, tab, scriptMailboxAddress, &candidates, addressSelectors); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			m.logger.Debug("mailbox address probe failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if address, found := firstEmail(candidates); found {
			if m.accept(address) {
				m.logger.Info("mailbox address acquired", zap.String("address", address), zap.Int("attempt", attempt))
				return address, nil
			}
			m.logger.Info("mailbox address rejected", zap.String("address", address), zap.Int("attempt", attempt))
			m.regenerate(ctx, tab)
		}

		if attempt == m.cfg.AddressAttempts {
			break
		}
		if err := m.sleep(ctx, m.cfg.AddressWait); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("acquire mailbox address after %d attempts: %w", m.cfg.AddressAttempts, domain.ErrMailboxAddressTimeout)
}

func (m *Mailbox) WaitForCode(ctx context.Context, tab Page) (string, error) {
	polls := int((m.cfg.CodeTimeout + m.cfg.CodeInterval - 1) / m.cfg.CodeInterval)

	for poll := 1; poll <= polls; poll++ {
		m.refresh(ctx, tab)

		var rows []inboxRow
		if err := evalInto(ctx, tab, scriptInboxScan, &rows, inboxRowSelectors); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			m.logger.Debug("inbox scan failed", zap.Int("poll", poll), zap.Error(err))
		}

		if code, ok := m.codeFromRows(ctx, tab, rows); ok {
			m.logger.Info("verification code received", zap.Int("poll", poll))
			return code, nil
		}

		if poll == polls {
			break
		}
		if err := m.sleep(ctx, m.cfg.CodeInterval); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("wait for verification code after %s: %w", m.cfg.CodeTimeout, domain.ErrMailboxCodeTimeout)
}

func (m *Mailbox) codeFromRows(ctx context.Context, tab Page, rows []inboxRow) (string, bool) {
	for _, row := range rows {
		if !domain.LooksLikeVerification(row.Text) {
			continue
		}
		if code, ok := domain.ExtractCode(row.Text); ok {
			return code, true
		}

		var bodies []string
		if err := evalInto(ctx, tab, scriptMessageBody, &bodies, row.Index, messageBodySelectors); err != nil {
			m.logger.Debug("open message failed", zap.Int("row", row.Index), zap.Error(err))
			continue
		}
		for _, body := range bodies {
			if code, ok := domain.ExtractCode(body); ok {
				return code, true
			}
		}
	}
	return "", false
}

func (m *Mailbox) regenerate(ctx context.Context, tab Page) {
	var clicked bool
	if err := evalInto(ctx, tab, scriptMailboxRegen, &clicked, regeneratePhrases, regenerateSelectors); err != nil {
		m.logger.Debug("regenerate control failed", zap.Error(err))
	}
	if clicked {
		return
	}
	if err := tab.Reload(ctx); err != nil {
		m.logger.Debug("mailbox reload failed", zap.Error(err))
	}
}

func (m *Mailbox) refresh(ctx context.Context, tab Page) {
	var clicked bool
	if err := evalInto(ctx, tab, scriptMailboxRefresh, &clicked, refreshPhrases); err != nil {
		m.logger.Debug("inbox refresh failed", zap.Error(err))
	}
	if clicked {
		return
	}
	if err := tab.Reload(ctx); err != nil {
		m.logger.Debug("mailbox reload failed", zap.Error(err))
	}
}

func (m *Mailbox) fillRegistration(ctx context.Context, platform Page, identity Identity, address string) {
	var result fillResult
	if err := evalInto(ctx, platform, scriptFillRegistration, &result, identity.Username, address, identity.Password, submitRegistrationPhrases); err != nil {
		m.logger.Warn("registration form fill failed", zap.Error(err))
		return
	}
	if !result.Submitted {
		m.logger.Warn("registration submit control not found", zap.Strings("filled", result.Filled))
	}
}

func (m *Mailbox) enterCode(ctx context.Context, platform Page, code string) error {
	var result codeEntryResult
	if err := evalInto(ctx, platform, scriptCodeEntry, &result, code, codeInputHints, confirmCodePhrases); err != nil {
		return fmt.Errorf("%w: enter verification code: %w", domain.ErrRegistrationFailed, err)
	}
	if result.Mode == "" {
		return fmt.Errorf("%w: verification code fields not found", domain.ErrRegistrationFailed)
	}
	if !result.Submitted {
		m.logger.Warn("verification submit control not found", zap.String("mode", result.Mode))
	}
	return nil
}

func firstEmail(candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if address, ok := domain.FindEmail(candidate); ok {
			return address, true
		}
	}
	return "", false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
