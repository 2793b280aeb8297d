// Package redis publishes vault events on Redis pub/sub channels.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/mediavault/internal/errs"
	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is prepended to every channel name, e.g. "mediavault:".
	Prefix string `yaml:"prefix"`
}

// DefaultConfig returns local-dev settings.
func DefaultConfig() *Config {
	return &Config{Addr: "localhost:6379", Prefix: "mediavault:"}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db must not be negative")
	}
	return nil
}

// Publisher issues one PUBLISH per event.
type Publisher struct {
	client goredis.UniversalClient
	prefix string
}

// New connects and pings the server.
func New(ctx context.Context, cfg *Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid redis config", err)
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(errs.ErrKindNotificationFailure, "ping redis", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string) *Publisher {
	return &Publisher{client: client, prefix: prefix}
}

// Publish sends payload on prefix+channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, p.prefix+channel, payload).Err(); err != nil {
		if ctxErr := errs.FromContext(err, "publish to redis"); ctxErr != nil {
			return ctxErr
		}
		return errs.Wrap(errs.ErrKindNotificationFailure, "publish to redis", err)
	}
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
