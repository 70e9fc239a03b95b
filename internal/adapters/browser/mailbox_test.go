package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/warmpool/internal/domain"
)

func newTestMailbox(cfg MailboxConfig) (*Mailbox, *virtualSleep) {
	mailbox := NewMailbox(cfg, nil)
	clock := &virtualSleep{}
	mailbox.sleep = clock.sleep
	return mailbox, clock
}

func mailboxConfig(accepted ...string) MailboxConfig {
	cfg := DefaultConfig().Mailbox
	cfg.URL = "https://mailbox.test"
	cfg.AcceptedDomains = accepted
	return cfg
}

func TestMailboxRegistersWithFirstAcceptedAddress(t *testing.T) {
	t.Parallel()

	addresses := []string{"one@rejected.test", "two@rejected.test", "three@rejected.test", "four@accepted.test"}
	served := 0
	tab := newFakePage(map[string]evalHandler{
		scriptMailboxAddress.Name: func(*fakePage, []any) (any, error) {
			address := addresses[min(served, len(addresses)-1)]
			return []string{"Your temporary address", "Address: " + address}, nil
		},
		scriptMailboxRegen.Name: func(*fakePage, []any) (any, error) {
			served++
			return true, nil
		},
		scriptInboxScan.Name: constant([]map[string]any{
			{"index": 0, "text": "Newsletter: spring offers"},
			{"index": 1, "text": "Verify your email: 318-204"},
		}),
	})

	var submittedEmail, enteredCode any
	platform := newFakePage(map[string]evalHandler{
		scriptFillRegistration.Name: func(_ *fakePage, args []any) (any, error) {
			submittedEmail = args[1]
			return map[string]any{"filled": []string{"username", "email", "password", "confirm"}, "submitted": true}, nil
		},
		scriptCodeEntry.Name: func(_ *fakePage, args []any) (any, error) {
			enteredCode = args[0]
			return map[string]any{"mode": "digits", "submitted": true}, nil
		},
	})
	browser := newFakeBrowser(platform, tab)
	mailbox, _ := newTestMailbox(mailboxConfig("accepted.test"))

	account, err := mailbox.Register(context.Background(), browser, platform, Identity{Username: "amberotter0001", Password: "secret-password"})

	require.NoError(t, err)
	assert.Equal(t, "four@accepted.test", account.Email)
	assert.Equal(t, "amberotter0001", account.Username)
	assert.Equal(t, "four@accepted.test", submittedEmail)
	assert.Equal(t, "318204", enteredCode)
	assert.Equal(t, 3, tab.callCount(scriptMailboxRegen.Name))
	assert.Equal(t, 4, tab.callCount(scriptMailboxAddress.Name))
	assert.EqualValues(t, 1, tab.closes.Load())
}

func TestMailboxAddressTimeout(t *testing.T) {
	t.Parallel()

	tab := newFakePage(map[string]evalHandler{
		scriptMailboxAddress.Name: constant([]string{"someone@elsewhere.test"}),
	})
	mailbox, clock := newTestMailbox(mailboxConfig("accepted.test"))

	_, err := mailbox.AcquireAddress(context.Background(), tab)

	require.ErrorIs(t, err, domain.ErrMailboxAddressTimeout)
	assert.Equal(t, 15, tab.callCount(scriptMailboxAddress.Name))
	assert.Equal(t, 15, tab.reloads)
	assert.Equal(t, 28*time.Second, clock.elapsed(), "no wait after the final attempt")
}

func TestMailboxCodeTimeout(t *testing.T) {
	t.Parallel()

	tab := newFakePage(map[string]evalHandler{
		scriptInboxScan.Name:      constant([]map[string]any{}),
		scriptMailboxRefresh.Name: constant(true),
	})
	mailbox, clock := newTestMailbox(mailboxConfig())

	_, err := mailbox.WaitForCode(context.Background(), tab)

	require.ErrorIs(t, err, domain.ErrMailboxCodeTimeout)
	assert.Equal(t, 24, tab.callCount(scriptInboxScan.Name))
	assert.Equal(t, 24, tab.callCount(scriptMailboxRefresh.Name))
	assert.Zero(t, tab.reloads)
	assert.Equal(t, 115*time.Second, clock.elapsed(), "no wait after the final poll")
}

func TestMailboxReadsCodeFromOpenedMessage(t *testing.T) {
	t.Parallel()

	var openedRow any
	tab := newFakePage(map[string]evalHandler{
		scriptInboxScan.Name: constant([]map[string]any{{"index": 2, "text": "Welcome aboard!"}}),
		scriptMessageBody.Name: func(_ *fakePage, args []any) (any, error) {
			openedRow = args[0]
			return []string{"Hi there,", "Use 654321 to finish signing up."}, nil
		},
	})
	mailbox, _ := newTestMailbox(mailboxConfig())

	code, err := mailbox.WaitForCode(context.Background(), tab)

	require.NoError(t, err)
	assert.Equal(t, "654321", code)
	assert.Equal(t, 2, openedRow)
}

func TestMailboxMissingCodeFieldsFailsRegistration(t *testing.T) {
	t.Parallel()

	tab := newFakePage(map[string]evalHandler{
		scriptMailboxAddress.Name: constant([]string{"new@mail.test"}),
		scriptInboxScan.Name:      constant([]map[string]any{{"index": 0, "text": "code 111222"}}),
	})
	platform := newFakePage(map[string]evalHandler{
		scriptCodeEntry.Name: constant(map[string]any{"mode": ""}),
	})
	mailbox, _ := newTestMailbox(mailboxConfig())

	_, err := mailbox.Register(context.Background(), newFakeBrowser(platform, tab), platform, Identity{Username: "u", Password: "p"})

	require.ErrorIs(t, err, domain.ErrRegistrationFailed)
	assert.Equal(t, 1, platform.callCount(scriptFillRegistration.Name))
}

func TestMailboxTabFailureIsRegistrationFailure(t *testing.T) {
	t.Parallel()

	mailbox, _ := newTestMailbox(mailboxConfig())

	_, err := mailbox.Register(context.Background(), newFakeBrowser(newFakePage(nil), nil), newFakePage(nil), Identity{})

	require.ErrorIs(t, err, domain.ErrRegistrationFailed)
}

func TestMailboxStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mailbox, _ := newTestMailbox(mailboxConfig())

	_, err := mailbox.AcquireAddress(ctx, newFakePage(nil))

	require.ErrorIs(t, err, context.Canceled)
}
