package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	URL      string
	Bin      string
	Headless bool
	Stealth  bool
	// Flags are extra Chromium switches in "name" or "name=value" form.
	Flags []string

	// Namespace is the dotted path of the in-page capability object.
	Namespace          string
	CredentialProperty string
	CredentialKeys     []string

	InitAttempts      int
	InitBackoff       time.Duration
	LoginPollInterval time.Duration
	LoginAttempts     int
	NavigateTimeout   time.Duration
	SearchDepth       int

	Models  map[string]string
	Mailbox MailboxConfig
}

type MailboxConfig struct {
	Enabled         bool
	URL             string
	AcceptedDomains []string
	AddressAttempts int
	AddressWait     time.Duration
	CodeInterval    time.Duration
	CodeTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:                "https://puter.com",
		Headless:           true,
		Stealth:            true,
		Namespace:          "puter.ai",
		CredentialProperty: "puter.authToken",
		CredentialKeys:     []string{"puter.auth.token", "auth_token"},
		InitAttempts:       3,
		InitBackoff:        5 * time.Second,
		LoginPollInterval:  2 * time.Second,
		LoginAttempts:      60,
		NavigateTimeout:    60 * time.Second,
		SearchDepth:        4,
		Models: map[string]string{
			"chat":   "gpt-4o-mini",
			"image":  "dall-e-3",
			"search": "openai/gpt-4o-mini-search-preview",
			"video":  "sora-2",
		},
		Mailbox: MailboxConfig{
			Enabled:         true,
			URL:             "https://temp-mail.io/en",
			AddressAttempts: 15,
			AddressWait:     2 * time.Second,
			CodeInterval:    5 * time.Second,
			CodeTimeout:     120 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.URL) == "" {
		errs = append(errs, errors.New("platform url is required"))
	}
	if strings.TrimSpace(c.Namespace) == "" {
		errs = append(errs, errors.New("capability namespace is required"))
	}
	if c.InitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("init attempts must be positive, got %d", c.InitAttempts))
	}
	if c.LoginAttempts <= 0 {
		errs = append(errs, fmt.Errorf("login attempts must be positive, got %d", c.LoginAttempts))
	}
	if c.LoginPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("login poll interval must be positive, got %s", c.LoginPollInterval))
	}
	if c.Mailbox.Enabled {
		if strings.TrimSpace(c.Mailbox.URL) == "" {
			errs = append(errs, errors.New("mailbox url is required when the mailbox is enabled"))
		}
		if c.Mailbox.AddressAttempts <= 0 {
			errs = append(errs, fmt.Errorf("mailbox address attempts must be positive, got %d", c.Mailbox.AddressAttempts))
		}
		if c.Mailbox.CodeInterval <= 0 || c.Mailbox.CodeTimeout <= 0 {
			errs = append(errs, errors.New("mailbox code interval and timeout must be positive"))
		}
	}

	return errors.Join(errs...)
}

func (c Config) model(key string, requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return c.Models[key]
}
