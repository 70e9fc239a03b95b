package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/warmpool/internal/adapters/browser"
	"github.com/bnema/warmpool/internal/application"
	"github.com/bnema/warmpool/internal/domain"
)

const (
	EnvPrefix  = "WARMPOOL"
	configDir  = ".warmpool"
	configName = "config"
	configType = "toml"
)

const (
	SecretsBackendChain = "chain"
	SecretsBackendFile  = "file"
	SecretsBackendPass  = "pass"
	SecretsBackendRedis = "redis"
)

var ErrConfigFileNotFound = errors.New("config file not found")

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	State   StateConfig   `mapstructure:"state"`
	Secrets SecretsConfig `mapstructure:"secrets"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Guard   GuardConfig   `mapstructure:"guard"`
	Browser BrowserConfig `mapstructure:"browser"`
	Mailbox MailboxConfig `mapstructure:"mailbox"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StateConfig struct {
	Path string `mapstructure:"path"`
}

type SecretsConfig struct {
	Backend    string      `mapstructure:"backend"`
	Dir        string      `mapstructure:"dir"`
	PassBinary string      `mapstructure:"pass_binary"`
	PassPrefix string      `mapstructure:"pass_prefix"`
	PassDir    string      `mapstructure:"pass_store_dir"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type PoolConfig struct {
	Mode         string        `mapstructure:"mode"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

type GuardConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	LimitSignals     []string      `mapstructure:"limit_signals"`
	TransportSignals []string      `mapstructure:"transport_signals"`
}

type BrowserConfig struct {
	URL                string            `mapstructure:"url"`
	Bin                string            `mapstructure:"bin"`
	Headless           bool              `mapstructure:"headless"`
	Stealth            bool              `mapstructure:"stealth"`
	Flags              []string          `mapstructure:"flags"`
	Namespace          string            `mapstructure:"namespace"`
	CredentialProperty string            `mapstructure:"credential_property"`
	CredentialKeys     []string          `mapstructure:"credential_keys"`
	InitAttempts       int               `mapstructure:"init_attempts"`
	InitBackoff        time.Duration     `mapstructure:"init_backoff"`
	LoginPollInterval  time.Duration     `mapstructure:"login_poll_interval"`
	LoginAttempts      int               `mapstructure:"login_attempts"`
	NavigateTimeout    time.Duration     `mapstructure:"navigate_timeout"`
	SearchDepth        int               `mapstructure:"search_depth"`
	Models             map[string]string `mapstructure:"models"`
}

type MailboxConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	AcceptedDomains []string      `mapstructure:"accepted_domains"`
	AddressAttempts int           `mapstructure:"address_attempts"`
	AddressWait     time.Duration `mapstructure:"address_wait"`
	CodeInterval    time.Duration `mapstructure:"code_interval"`
	CodeTimeout     time.Duration `mapstructure:"code_timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// SetDefaults registers every known key so that environment overrides resolve
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	driver := browser.DefaultConfig()
	policy := domain.DefaultErrorPolicy()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("state.path", "")

	v.SetDefault("secrets.backend", SecretsBackendChain)
	v.SetDefault("secrets.dir", "")
	v.SetDefault("secrets.pass_binary", "pass")
	v.SetDefault("secrets.pass_prefix", "warmpool")
	v.SetDefault("secrets.pass_store_dir", "")
	v.SetDefault("secrets.redis.addr", "localhost:6379")
	v.SetDefault("secrets.redis.password", "")
	v.SetDefault("secrets.redis.db", 0)
	v.SetDefault("secrets.redis.key_prefix", "warmpool:")
	v.SetDefault("secrets.redis.ttl", time.Duration(0))

	v.SetDefault("pool.mode", string(domain.PoolModeHotSwap))
	v.SetDefault("pool.drain_timeout", 30*time.Second)

	v.SetDefault("guard.max_retries", application.DefaultMaxRetries)
	v.SetDefault("guard.base_delay", application.DefaultBaseDelay)
	v.SetDefault("guard.limit_signals", policy.LimitSignals)
	v.SetDefault("guard.transport_signals", policy.TransportSignals)

	v.SetDefault("browser.url", driver.URL)
	v.SetDefault("browser.bin", driver.Bin)
	v.SetDefault("browser.headless", driver.Headless)
	v.SetDefault("browser.stealth", driver.Stealth)
	v.SetDefault("browser.flags", []string{})
	v.SetDefault("browser.namespace", driver.Namespace)
	v.SetDefault("browser.credential_property", driver.CredentialProperty)
	v.SetDefault("browser.credential_keys", driver.CredentialKeys)
	v.SetDefault("browser.init_attempts", driver.InitAttempts)
	v.SetDefault("browser.init_backoff", driver.InitBackoff)
	v.SetDefault("browser.login_poll_interval", driver.LoginPollInterval)
	v.SetDefault("browser.login_attempts", driver.LoginAttempts)
	v.SetDefault("browser.navigate_timeout", driver.NavigateTimeout)
	v.SetDefault("browser.search_depth", driver.SearchDepth)
	v.SetDefault("browser.models", driver.Models)

	v.SetDefault("mailbox.enabled", driver.Mailbox.Enabled)
	v.SetDefault("mailbox.url", driver.Mailbox.URL)
	v.SetDefault("mailbox.accepted_domains", []string{})
	v.SetDefault("mailbox.address_attempts", driver.Mailbox.AddressAttempts)
	v.SetDefault("mailbox.address_wait", driver.Mailbox.AddressWait)
	v.SetDefault("mailbox.code_interval", driver.Mailbox.CodeInterval)
	v.SetDefault("mailbox.code_timeout", driver.Mailbox.CodeTimeout)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.request_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", int64(32<<20))

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "warmpool")
}

// Load reads defaults, the TOML config file and WARMPOOL_* environment overrides
// into v and decodes the result. An empty path looks for ~/.warmpool/config.toml
// and tolerates its absence; an explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	SetDefaults(v)
	v.SetConfigType(configType)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, ErrConfigFileNotFound)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(filepath.Join(homeDir, configDir))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if strings.TrimSpace(cfg.Secrets.Dir) == "" {
		cfg.Secrets.Dir = filepath.Join(homeDir, configDir, "secrets")
	}
	cfg.Pool.Mode = string(domain.PoolMode(cfg.Pool.Mode).Normalize())
	cfg.Secrets.Backend = strings.ToLower(strings.TrimSpace(cfg.Secrets.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.Log.Format))
	}

	if err := domain.PoolMode(c.Pool.Mode).Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pool.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pool drain timeout must be positive, got %s", c.Pool.DrainTimeout))
	}

	if c.Guard.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("guard max retries must not be negative, got %d", c.Guard.MaxRetries))
	}
	if c.Guard.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("guard base delay must not be negative, got %s", c.Guard.BaseDelay))
	}

	switch strings.ToLower(strings.TrimSpace(c.Secrets.Backend)) {
	case SecretsBackendChain, SecretsBackendFile, SecretsBackendPass:
	case SecretsBackendRedis:
		if strings.TrimSpace(c.Secrets.Redis.Addr) == "" {
			errs = append(errs, errors.New("redis address is required for the redis secrets backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported secrets backend %q", c.Secrets.Backend))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server rate limit must not be negative, got %v", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		errs = append(errs, fmt.Errorf("server rate burst must be positive, got %d", c.Server.RateBurst))
	}

	if err := c.Driver().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Driver converts the browser and mailbox sections into the driver configuration.
func (c Config) Driver() browser.Config {
	models := make(map[string]string, len(c.Browser.Models))
	for key, model := range c.Browser.Models {
		models[key] = model
	}

	return browser.Config{
		URL:                c.Browser.URL,
		Bin:                c.Browser.Bin,
		Headless:           c.Browser.Headless,
		Stealth:            c.Browser.Stealth,
		Flags:              append([]string(nil), c.Browser.Flags...),
		Namespace:          c.Browser.Namespace,
		CredentialProperty: c.Browser.CredentialProperty,
		CredentialKeys:     append([]string(nil), c.Browser.CredentialKeys...),
		InitAttempts:       c.Browser.InitAttempts,
		InitBackoff:        c.Browser.InitBackoff,
		LoginPollInterval:  c.Browser.LoginPollInterval,
		LoginAttempts:      c.Browser.LoginAttempts,
		NavigateTimeout:    c.Browser.NavigateTimeout,
		SearchDepth:        c.Browser.SearchDepth,
		Models:             models,
		Mailbox: browser.MailboxConfig{
			Enabled:         c.Mailbox.Enabled,
			URL:             c.Mailbox.URL,
			AcceptedDomains: append([]string(nil), c.Mailbox.AcceptedDomains...),
			AddressAttempts: c.Mailbox.AddressAttempts,
			AddressWait:     c.Mailbox.AddressWait,
			CodeInterval:    c.Mailbox.CodeInterval,
			CodeTimeout:     c.Mailbox.CodeTimeout,
		},
	}
}

func (c Config) ErrorPolicy() domain.ErrorPolicy {
	return domain.ErrorPolicy{
		LimitSignals:     append([]string(nil), c.Guard.LimitSignals...),
		TransportSignals: append([]string(nil), c.Guard.TransportSignals...),
	}
}

func (c Config) GuardConfig() application.GuardConfig {
	return application.GuardConfig{
		MaxRetries: c.Guard.MaxRetries,
		BaseDelay:  c.Guard.BaseDelay,
		Policy:     c.ErrorPolicy(),
	}
}

func (c Config) PoolMode() domain.PoolMode {
	return domain.PoolMode(c.Pool.Mode)
}
