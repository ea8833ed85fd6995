package config

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
)

const (
	EnvStorageBackend       = "DOCQ_STORAGE_BACKEND"
	EnvStorageBasePath      = "DOCQ_STORAGE_BASE_PATH"
	EnvStorageBucket        = "DOCQ_STORAGE_BUCKET"
	EnvStorageMaxUploadSize = "DOCQ_STORAGE_MAX_UPLOAD_SIZE"
)

// StorageConfig contains blob storage and upload acceptance settings
type StorageConfig struct {
	// Backend is "filesystem" or "gcs"
	Backend       string   `toml:"backend"`
	BasePath      string   `toml:"base_path"`
	Bucket        string   `toml:"bucket"`
	MaxUploadSize string   `toml:"max_upload_size"`
	AllowedTypes  []string `toml:"allowed_types"`

	maxUploadSizeVal int64
}

// MaxUploadSizeBytes returns the parsed upload limit
func (c *StorageConfig) MaxUploadSizeBytes() int64 {
	return c.maxUploadSizeVal
}

// Allowed reports whether mimeType is on the allow-list
func (c *StorageConfig) Allowed(mimeType string) bool {
	for _, t := range c.AllowedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

func (c *StorageConfig) finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

func (c *StorageConfig) loadDefaults() {
	if c.Backend == "" {
		c.Backend = "filesystem"
	}
	if c.BasePath == "" {
		c.BasePath = ".data/blobs"
	}
	if c.MaxUploadSize == "" {
		c.MaxUploadSize = "10MB"
	}
	if len(c.AllowedTypes) == 0 {
		c.AllowedTypes = []string{"application/pdf", "image/jpeg", "image/jpg", "image/png"}
	}
}

func (c *StorageConfig) loadEnv() {
	if v := os.Getenv(EnvStorageBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvStorageBasePath); v != "" {
		c.BasePath = v
	}
	if v := os.Getenv(EnvStorageBucket); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv(EnvStorageMaxUploadSize); v != "" {
		c.MaxUploadSize = v
	}
}

func (c *StorageConfig) validate() error {
	switch c.Backend {
	case "filesystem":
		if c.BasePath == "" {
			return fmt.Errorf("base_path required")
		}
	case "gcs":
		if c.Bucket == "" {
			return fmt.Errorf("bucket required for gcs backend")
		}
	default:
		return fmt.Errorf("invalid backend %q (must be filesystem or gcs)", c.Backend)
	}

	size, err := units.FromHumanSize(c.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("invalid max_upload_size: %w", err)
	}
	if size <= 0 {
		return fmt.Errorf("max_upload_size must be positive")
	}
	c.maxUploadSizeVal = size

	return nil
}
