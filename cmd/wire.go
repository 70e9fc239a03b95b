package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/adapters/browser"
	statusadapter "github.com/bnema/warmpool/internal/adapters/render/status"
	tomlrepo "github.com/bnema/warmpool/internal/adapters/repo/toml"
	chainstore "github.com/bnema/warmpool/internal/adapters/secrets/chain"
	filestore "github.com/bnema/warmpool/internal/adapters/secrets/file"
	passstore "github.com/bnema/warmpool/internal/adapters/secrets/pass"
	redisstore "github.com/bnema/warmpool/internal/adapters/secrets/redis"
	"github.com/bnema/warmpool/internal/application"
	"github.com/bnema/warmpool/internal/config"
	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/logging"
	"github.com/bnema/warmpool/internal/ports"
)

const configPathEnv = "WARMPOOL_CONFIG"

type app struct {
	cfg            config.Config
	logger         *zap.Logger
	secretStore    ports.SecretStore
	credentials    *application.CredentialService
	statusRenderer func(statusadapter.Report, statusadapter.RenderOptions) (string, error)
	newLauncher    func(browser.Config) browser.Launcher
	httpClient     *http.Client
	now            func() time.Time
}

type engine struct {
	pool  application.Orchestrator
	guard *application.Guard
}

func wireApp() (*app, error) {
	v := viper.New()
	cfg, err := config.Load(v, os.Getenv(configPathEnv))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}

	repo, err := tomlrepo.NewStateRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire state repository: %w", err)
	}

	secretStore, err := newSecretStore(cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	return &app{
		cfg:            cfg,
		logger:         logger,
		secretStore:    secretStore,
		credentials:    application.NewCredentialService(repo, secretStore, ports.SystemClock{}, logger),
		statusRenderer: statusadapter.Render,
		newLauncher: func(driverCfg browser.Config) browser.Launcher {
			return browser.NewRodLauncher(driverCfg, logger)
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}, nil
}

func newSecretStore(cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretStore, error) {
	switch cfg.Backend {
	case config.SecretsBackendFile:
		return filestore.NewStore(cfg.Dir), nil
	case config.SecretsBackendPass:
		return passstore.NewStore(passConfig(cfg), logger), nil
	case config.SecretsBackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisstore.NewStoreWithClient(client, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		}, logger), nil
	default:
		return chainstore.NewPassFirstWithFileFallback(passConfig(cfg), cfg.Dir, logger)
	}
}

func passConfig(cfg config.SecretsConfig) passstore.Config {
	return passstore.Config{Binary: cfg.PassBinary, Prefix: cfg.PassPrefix, StoreDir: cfg.PassDir}
}

// driverOptions assembles the collaborators every browser driver shares.
func (a *app) driverOptions(driverCfg browser.Config) browser.Options {
	var mailbox *browser.Mailbox
	if driverCfg.Mailbox.Enabled {
		mailbox = browser.NewMailbox(driverCfg.Mailbox, a.logger)
	}

	return browser.Options{
		Launcher: a.newLauncher(driverCfg),
		Mailbox:  mailbox,
		Policy:   a.cfg.ErrorPolicy(),
		OnRegistered: func(account domain.RegisteredAccount) {
			if err := a.credentials.RecordRegistration(context.Background(), account); err != nil {
				a.logger.Warn("record registered account", zap.String("username", account.Username), zap.Error(err))
			}
		},
		Logger: a.logger,
	}
}

func (a *app) newEngine(mode domain.PoolMode, driverCfg browser.Config, observer ports.Observer) (*engine, error) {
	if err := driverCfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate browser config: %w", err)
	}

	pool, err := application.NewOrchestrator(mode, application.PoolOptions{
		Factory:      browser.NewFactory(driverCfg, a.driverOptions(driverCfg)),
		Credentials:  a.credentials,
		Clock:        ports.SystemClock{},
		Logger:       a.logger,
		Observer:     observer,
		DrainTimeout: a.cfg.Pool.DrainTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("wire orchestrator: %w", err)
	}

	return &engine{
		pool:  pool,
		guard: application.NewGuard(pool, a.cfg.GuardConfig(), ports.SystemClock{}, a.logger, observer),
	}, nil
}

// shutdown drains the pool within the configured drain timeout.
func (e *engine) shutdown(drain time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), drain+5*time.Second)
	defer cancel()
	return e.pool.Close(ctx)
}

func (a *app) close() {
	if closer, ok := a.secretStore.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Debug("close secret store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
