package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/mediavault/internal/database"
	"github.com/koustreak/mediavault/internal/filestore"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "MEDIAVAULT_"

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func int64v(dst func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

// envVars lists the supported overrides, without EnvPrefix.
var envVars = []envVar{
	{"HTTP_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"HTTP_SHUTDOWN_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"MAX_UPLOAD_BYTES", int64v(func(c *Config) *int64 { return &c.Server.MaxUploadBytes })},

	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},

	{"STORAGE_PROVIDER", func(c *Config, v string) error {
		c.Storage.Provider = filestore.Provider(strings.ToLower(v))
		return nil
	}},
	{"STORAGE_ENDPOINT", str(func(c *Config) *string { return &c.Storage.Endpoint })},
	{"STORAGE_ACCESS_KEY", str(func(c *Config) *string { return &c.Storage.AccessKey })},
	{"STORAGE_SECRET_KEY", str(func(c *Config) *string { return &c.Storage.SecretKey })},
	{"STORAGE_BUCKET", str(func(c *Config) *string { return &c.Storage.Bucket })},
	{"STORAGE_REGION", str(func(c *Config) *string { return &c.Storage.Region })},
	{"STORAGE_USE_SSL", boolean(func(c *Config) *bool { return &c.Storage.UseSSL })},
	{"STORAGE_ROOT", str(func(c *Config) *string { return &c.Storage.Root })},

	{"STAGING_DIR", str(func(c *Config) *string { return &c.Staging.Dir })},
	{"STAGING_MAX_BYTES", int64v(func(c *Config) *int64 { return &c.Staging.MaxBytes })},

	{"IO_WORKERS", integer(func(c *Config) *int { return &c.IO.Workers })},
	{"CHUNK_SIZE", integer(func(c *Config) *int { return &c.IO.ChunkSize })},

	{"NOTIFY_BACKENDS", func(c *Config, v string) error {
		c.Notify.Backends = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(strings.ToLower(b)); b != "" {
				c.Notify.Backends = append(c.Notify.Backends, Backend(b))
			}
		}
		return nil
	}},
	{"AMQP_URL", str(func(c *Config) *string { return &c.Notify.AMQP.URL })},
	{"AMQP_EXCHANGE", str(func(c *Config) *string { return &c.Notify.AMQP.Exchange })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Notify.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Notify.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Notify.Redis.DB })},
	{"JOURNAL_DRIVER", func(c *Config, v string) error {
		c.Notify.Journal.Driver = database.Driver(strings.ToLower(v))
		return nil
	}},
	{"JOURNAL_DSN", str(func(c *Config) *string { return &c.Notify.Journal.DSN })},

	{"JWT_SECRET", str(func(c *Config) *string { return &c.Auth.Secret })},
	{"JWT_ISSUER", str(func(c *Config) *string { return &c.Auth.Issuer })},
	{"JWT_TTL", duration(func(c *Config) *time.Duration { return &c.Auth.TTL })},
}

// applyEnv overlays every set MEDIAVAULT_* variable. Empty values count as
// unset.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		name := EnvPrefix + ev.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
