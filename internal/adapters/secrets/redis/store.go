package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

const (
	DefaultKeyPrefix = "warmpool:"
	pingTimeout      = 5 * time.Second
)

var errEmptyKey = errors.New("secret key is empty")

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL of zero keeps secrets until they are deleted.
	TTL time.Duration
}

// Store keeps secrets as plain redis string values under a key prefix.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return NewStoreWithClient(client, cfg, logger), nil
}

func NewStoreWithClient(client *goredis.Client, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Store{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "secrets.redis")),
	}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, redisKey, value, s.ttl).Err(); err != nil {
		s.logger.Warn("redis secret put failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("put redis secret %q: %w", key, err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return "", err
	}

	value, err := s.client.Get(ctx, redisKey).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("get redis secret %q: %w", key, domain.ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get redis secret %q: %w", key, err)
	}

	return value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	redisKey, err := s.redisKey(key)
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("delete redis secret %q: %w", key, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) redisKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errEmptyKey
	}

	return s.prefix + key, nil
}
