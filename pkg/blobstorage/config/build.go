package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/blobstorage"
	repomemory "github.com/tendant/simple-blob/pkg/blobstorage/repo/memory"
	repopg "github.com/tendant/simple-blob/pkg/blobstorage/repo/postgres"
	reposqlite "github.com/tendant/simple-blob/pkg/blobstorage/repo/sqlite"
	fsstorage "github.com/tendant/simple-blob/pkg/blobstorage/storage/fs"
	s3storage "github.com/tendant/simple-blob/pkg/blobstorage/storage/s3"
)

// BuildRepository opens the metadata repository named by DatabaseURL. The
// returned close function releases its connections.
func (c *Config) BuildRepository(ctx context.Context) (blobstorage.MetadataRepository, func() error, error) {
	kind, path, err := parseDatabaseURL(c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch kind {
	case DatabaseMemory:
		return repomemory.New(), func() error { return nil }, nil

	case schemeSQLite:
		repo, err := reposqlite.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		return repo, repo.Close, nil

	case schemePostgres:
		poolConfig, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		if schema := c.DBSchema; schema != "" {
			poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		repo := repopg.NewWithPool(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to prepare metadata table: %w", err)
		}
		return repo, func() error { pool.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unsupported database %q", ErrInvalidConfig, kind)
	}
}

// BuildBackend constructs the storage backend for a container.
func BuildBackend(ctx context.Context, container ContainerOptions) (blobstorage.Backend, error) {
	switch container.StoreType {
	case blobstorage.StoreTypeFilesystem:
		fsConfig, err := fsstorage.ConfigFromParameters(container.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, container, err)
		}
		backend, err := fsstorage.New(fsConfig)
		if err != nil {
			return nil, err
		}
		return backend, nil

	case blobstorage.StoreTypeObjectStore:
		s3Config, err := s3storage.ConfigFromParameters(container.ContainerID, container.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, container, err)
		}
		backend, err := s3storage.New(ctx, s3Config)
		if err != nil {
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, container, blobstorage.ErrInvalidStoreType)
	}
}

// BackendBuilder constructs the backend for one container.
type BackendBuilder func(ctx context.Context, container ContainerOptions) (blobstorage.Backend, error)

// BuildRegistry constructs every configured container over repo and returns
// them as a registry.
func (c *Config) BuildRegistry(ctx context.Context, repo blobstorage.MetadataRepository, logger *slog.Logger) (*blobstorage.Registry, error) {
	return c.BuildRegistryWith(ctx, repo, logger, BuildBackend)
}

// BuildRegistryWith is BuildRegistry with a custom backend constructor.
func (c *Config) BuildRegistryWith(ctx context.Context, repo blobstorage.MetadataRepository, logger *slog.Logger, buildBackend BackendBuilder) (*blobstorage.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	containers := make([]blobstorage.Container, 0, len(c.BlobStorage.Containers))
	for _, options := range c.BlobStorage.Containers {
		readOnly, err := options.ReadOnly()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, options, err)
		}

		backend, err := buildBackend(ctx, options)
		if err != nil {
			return nil, fmt.Errorf("failed to build backend for %s: %w", options, err)
		}

		containerOpts := []blobstorage.Option{
			blobstorage.WithStoreType(options.StoreType),
			blobstorage.WithContainerID(options.ContainerID),
			blobstorage.WithReadOnly(readOnly),
			blobstorage.WithBackend(backend),
			blobstorage.WithRepository(repo),
			blobstorage.WithLogger(logger),
		}
		if c.VerifyChecksums {
			containerOpts = append(containerOpts, blobstorage.WithChecksumVerification())
		}
		if c.LockBlobs {
			containerOpts = append(containerOpts, blobstorage.WithBlobLocking())
		}

		container, err := blobstorage.New(containerOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", options, err)
		}
		containers = append(containers, container)

		logger.Info("container configured",
			"store_type", options.StoreType.String(),
			"container_id", options.ContainerID,
			"read_only", readOnly)
	}

	return blobstorage.NewRegistry(containers...)
}
