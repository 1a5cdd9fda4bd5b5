package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	PingTimeout time.Duration
}

// Enabled reports whether DWH_REDIS_ADDR is set. Redis backs optional
// features (event dedupe, pub/sub notifications) and is skipped otherwise.
func Enabled() bool {
	return strings.TrimSpace(env.String("DWH_REDIS_ADDR", "")) != ""
}

func ConfigFromEnv() (Config, error) {
	db, err := env.Int("DWH_REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	dialTimeout, err := env.Duration("DWH_REDIS_DIAL_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	pingTimeout, err := env.Duration("DWH_REDIS_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:        strings.TrimSpace(env.String("DWH_REDIS_ADDR", "localhost:6379")),
		Password:    env.String("DWH_REDIS_PASSWORD", ""),
		DB:          db,
		DialTimeout: dialTimeout,
		PingTimeout: pingTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("DWH_REDIS_ADDR is required")
	}
	if !strings.Contains(c.Addr, ":") {
		return fmt.Errorf("DWH_REDIS_ADDR must be host:port (got %q)", c.Addr)
	}
	if c.DB < 0 {
		return errors.New("DWH_REDIS_DB must be >= 0")
	}
	if c.DialTimeout <= 0 || c.PingTimeout <= 0 {
		return errors.New("redis timeouts must be positive")
	}
	return nil
}

func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
