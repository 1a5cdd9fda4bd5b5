package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

const (
	SinkLog     = "log"
	SinkRedis   = "redis"
	SinkWebhook = "webhook"
)

type Config struct {
	Sinks          []string
	WebhookURL     string
	WebhookToken   string
	WebhookTimeout time.Duration
	RedisChannel   string
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("DWH_NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Sinks:          env.List("DWH_NOTIFY_SINKS", []string{SinkLog}),
		WebhookURL:     strings.TrimSpace(env.String("DWH_NOTIFY_WEBHOOK_URL", "")),
		WebhookToken:   env.String("DWH_NOTIFY_WEBHOOK_TOKEN", ""),
		WebhookTimeout: timeout,
		RedisChannel:   strings.TrimSpace(env.String("DWH_NOTIFY_REDIS_CHANNEL", DefaultRedisChannel)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, sink := range c.Sinks {
		switch strings.ToLower(sink) {
		case SinkLog, SinkRedis:
		case SinkWebhook:
			u, err := url.Parse(c.WebhookURL)
			if c.WebhookURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return errors.New("DWH_NOTIFY_WEBHOOK_URL must be an http(s) url when the webhook sink is enabled")
			}
		default:
			return fmt.Errorf("DWH_NOTIFY_SINKS: unsupported sink %q", sink)
		}
	}
	return nil
}

// Uses reports whether sink is enabled.
func (c Config) Uses(sink string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(s, sink) {
			return true
		}
	}
	return false
}

// Build assembles the configured sinks. redis may be nil when the redis sink
// is not enabled.
func (c Config) Build(logger *slog.Logger, redis Publisher) (Notifier, error) {
	var out Multi
	for _, sink := range c.Sinks {
		switch strings.ToLower(sink) {
		case SinkLog:
			out = append(out, LogNotifier{Logger: logger})
		case SinkRedis:
			if redis == nil {
				return nil, errors.New("redis sink enabled but DWH_REDIS_ADDR is not configured")
			}
			out = append(out, RedisNotifier{Client: redis, Channel: c.RedisChannel})
		case SinkWebhook:
			out = append(out, WebhookNotifier{URL: c.WebhookURL, Token: c.WebhookToken, Client: newHTTPClient(c.WebhookTimeout)})
		}
	}
	return out, nil
}
