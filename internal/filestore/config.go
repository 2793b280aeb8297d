package filestore

import (
	"fmt"
	"strings"
)

// Provider identifies the object-store backend.
type Provider string

const (
	ProviderMinIO Provider = "minio"
	ProviderLocal Provider = "local"
)

// Config holds all settings needed to reach an object-store backend.
type Config struct {
	// Provider is the storage backend (ProviderMinIO or ProviderLocal).
	Provider Provider `yaml:"provider"`

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string `yaml:"region"`

	// PathStyle forces path-style bucket lookup.
	PathStyle bool `yaml:"path_style"`

	// Bucket holds every vault object.
	Bucket string `yaml:"bucket"`

	// Root is the directory used by ProviderLocal.
	Root string `yaml:"root"`
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey, bucket string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
	}
}

// Validate reports the first missing setting for the selected provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMinIO:
		if strings.TrimSpace(c.Endpoint) == "" {
			return fmt.Errorf("storage endpoint is required for provider %q", c.Provider)
		}
		if strings.TrimSpace(c.Bucket) == "" {
			return fmt.Errorf("storage bucket is required")
		}
	case ProviderLocal:
		if strings.TrimSpace(c.Root) == "" {
			return fmt.Errorf("storage root is required for provider %q", c.Provider)
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Provider)
	}
	return nil
}
