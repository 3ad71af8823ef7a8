package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tendant/simple-blob/pkg/blobstorage"
	fsstorage "github.com/tendant/simple-blob/pkg/blobstorage/storage/fs"
	s3storage "github.com/tendant/simple-blob/pkg/blobstorage/storage/s3"
)

// ErrInvalidConfig is returned when the configuration cannot be used to start.
var ErrInvalidConfig = errors.New("invalid configuration")

// ReadOnlyKey is the container parameter that makes a container reject writes.
const ReadOnlyKey = "ReadOnly"

// Database URL forms understood by BuildRepository.
const (
	DatabaseMemory   = "memory"
	schemePostgres   = "postgres"
	schemePostgresql = "postgresql"
	schemeSQLite     = "sqlite"
)

// Config is the process-wide configuration: where metadata lives, where the
// HTTP API listens and which blob containers exist.
type Config struct {
	DatabaseURL string `json:"DatabaseUrl" yaml:"DatabaseUrl" env:"DATABASE_URL" env-description:"metadata database: memory, postgres://..., sqlite:///path"`
	DBSchema    string `json:"DbSchema" yaml:"DbSchema" env:"DB_SCHEMA" env-description:"postgres search_path"`
	ListenAddr  string `json:"ListenAddr" yaml:"ListenAddr" env:"LISTEN_ADDR" env-description:"HTTP listen address"`

	// Applied to every container.
	VerifyChecksums bool `json:"VerifyChecksums" yaml:"VerifyChecksums" env:"VERIFY_CHECKSUMS" env-description:"fail reads whose bytes do not match the stored CRC32"`
	LockBlobs       bool `json:"LockBlobs" yaml:"LockBlobs" env:"LOCK_BLOBS" env-description:"serialize concurrent writes to the same blob"`

	BlobStorage BlobStorageOptions `json:"BlobStorage" yaml:"BlobStorage"`
}

// BlobStorageOptions lists the configured containers.
type BlobStorageOptions struct {
	Containers []ContainerOptions `json:"Containers" yaml:"Containers"`
}

// ContainerOptions configures a single container. Parameters are free-form
// and interpreted by the store type's backend.
type ContainerOptions struct {
	StoreType   blobstorage.StoreType `json:"StoreType" yaml:"StoreType"`
	ContainerID string                `json:"ContainerId" yaml:"ContainerId"`
	Parameters  map[string]string     `json:"Parameters" yaml:"Parameters"`
}

// ReadOnly reports the parsed ReadOnly parameter (false when absent).
func (o ContainerOptions) ReadOnly() (bool, error) {
	raw, ok := o.Parameters[ReadOnlyKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	readOnly, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("'%s' must be a boolean, got %q", ReadOnlyKey, raw)
	}
	return readOnly, nil
}

func (o ContainerOptions) String() string {
	return fmt.Sprintf("%s container %q", o.StoreType, o.ContainerID)
}

// Validate checks a single container's options against its store type.
func (o ContainerOptions) Validate() error {
	if _, err := o.ReadOnly(); err != nil {
		return err
	}

	switch o.StoreType {
	case blobstorage.StoreTypeFilesystem:
		_, err := fsstorage.ConfigFromParameters(o.Parameters)
		return err
	case blobstorage.StoreTypeObjectStore:
		_, err := s3storage.ConfigFromParameters(o.ContainerID, o.Parameters)
		return err
	default:
		return fmt.Errorf("%w: store type must be specified", blobstorage.ErrInvalidStoreType)
	}
}

func defaults() Config {
	return Config{
		DatabaseURL: DatabaseMemory,
		ListenAddr:  ":8080",
	}
}

// Validate validates the configuration. All failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}

	if _, _, err := parseDatabaseURL(c.DatabaseURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	type containerKey struct {
		storeType   blobstorage.StoreType
		containerID string
	}
	seen := make(map[containerKey]int, len(c.BlobStorage.Containers))
	for i, container := range c.BlobStorage.Containers {
		if err := container.Validate(); err != nil {
			return fmt.Errorf("%w: BlobStorage.Containers[%d] (%s): %v", ErrInvalidConfig, i, container, err)
		}
		key := containerKey{container.StoreType, container.ContainerID}
		if first, dup := seen[key]; dup {
			return fmt.Errorf("%w: BlobStorage.Containers[%d] duplicates Containers[%d] (%s)", ErrInvalidConfig, i, first, container)
		}
		seen[key] = i
	}

	return nil
}

// parseDatabaseURL returns the database kind and, for sqlite, the file path.
func parseDatabaseURL(raw string) (kind string, path string, err error) {
	if raw == "" || raw == DatabaseMemory {
		return DatabaseMemory, "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("malformed database url: %w", err)
	}

	switch u.Scheme {
	case schemePostgres, schemePostgresql:
		return schemePostgres, "", nil
	case schemeSQLite:
		path = u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite database url needs a path: %q", raw)
		}
		return schemeSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q (use 'memory', 'postgres://...' or 'sqlite:///path')", raw)
	}
}
