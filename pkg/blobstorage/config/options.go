package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-blob/pkg/blobstorage"
	fsstorage "github.com/tendant/simple-blob/pkg/blobstorage/storage/fs"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WithConfigFile reads a JSON, YAML, TOML or .env file. Environment variables
// override file values. JSON files are checked against the configuration
// schema first so structural mistakes are reported by path.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return errors.New("config file path cannot be empty")
		}

		if strings.EqualFold(filepath.Ext(path), ".json") {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			if err := ValidateJSON(data); err != nil {
				return err
			}
		}

		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		return nil
	}
}

// WithEnv applies environment variable overrides:
//
//	DATABASE_URL     - memory (default), postgres://..., sqlite:///path/to/blobs.db
//	DB_SCHEMA        - postgres search_path
//	LISTEN_ADDR      - HTTP listen address (default ":8080")
//	VERIFY_CHECKSUMS - fail reads whose CRC32 does not match
//	LOCK_BLOBS       - serialize writes to the same blob
//
// Containers are only configured through files or options.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		return nil
	}
}

// WithDatabase sets the metadata database URL
func WithDatabase(databaseURL string) Option {
	return func(c *Config) error {
		if _, _, err := parseDatabaseURL(databaseURL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.DatabaseURL = databaseURL
		return nil
	}
}

// WithDBSchema sets the postgres search_path
func WithDBSchema(schema string) Option {
	return func(c *Config) error {
		c.DBSchema = schema
		return nil
	}
}

// WithListenAddr sets the HTTP listen address
func WithListenAddr(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return fmt.Errorf("listen address cannot be empty")
		}
		c.ListenAddr = addr
		return nil
	}
}

// WithChecksumVerification makes every container fail reads on checksum mismatch
func WithChecksumVerification(enabled bool) Option {
	return func(c *Config) error {
		c.VerifyChecksums = enabled
		return nil
	}
}

// WithBlobLocking makes every container serialize writes per blob
func WithBlobLocking(enabled bool) Option {
	return func(c *Config) error {
		c.LockBlobs = enabled
		return nil
	}
}

// WithContainer adds a container, replacing one with the same store type and id
func WithContainer(container ContainerOptions) Option {
	return func(c *Config) error {
		if container.Parameters == nil {
			container.Parameters = map[string]string{}
		}
		c.BlobStorage.Containers = upsertContainer(c.BlobStorage.Containers, container)
		return nil
	}
}

// WithFilesystemContainer adds a filesystem container rooted at rootPath
func WithFilesystemContainer(containerID, rootPath string, readOnly bool) Option {
	return WithContainer(ContainerOptions{
		StoreType:   blobstorage.StoreTypeFilesystem,
		ContainerID: containerID,
		Parameters: map[string]string{
			fsstorage.RootPathKey: rootPath,
			ReadOnlyKey:           strconv.FormatBool(readOnly),
		},
	})
}

// WithObjectStoreContainer adds an object store container
func WithObjectStoreContainer(containerID string, params map[string]string) Option {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return WithContainer(ContainerOptions{
		StoreType:   blobstorage.StoreTypeObjectStore,
		ContainerID: containerID,
		Parameters:  copied,
	})
}

func upsertContainer(containers []ContainerOptions, container ContainerOptions) []ContainerOptions {
	for i := range containers {
		if containers[i].StoreType == container.StoreType && containers[i].ContainerID == container.ContainerID {
			containers[i] = container
			return containers
		}
	}
	return append(containers, container)
}
