package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

// Schema creates the blob_metadata table in the current search_path.
const Schema = `
CREATE TABLE IF NOT EXISTS blob_metadata (
	id           BIGSERIAL PRIMARY KEY,
	store_type   SMALLINT NOT NULL CHECK (store_type > 0),
	container_id VARCHAR(255) NOT NULL DEFAULT '',
	blob_id      VARCHAR(1024) NOT NULL,
	content_type VARCHAR(255) NOT NULL DEFAULT '',
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	checksum     BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT blob_metadata_location_key UNIQUE (store_type, container_id, blob_id)
)`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements blobstorage.MetadataRepository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the metadata table if it does not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return blobstorage.ErrDuplicateMetadata
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s", blobstorage.ErrInvalidStoreType, pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return blobstorage.ErrMetadataNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const selectColumns = `id, store_type, container_id, blob_id, content_type, size_bytes, checksum, created_at, updated_at`

func scanMetadata(row pgx.Row) (*blobstorage.BlobMetadata, error) {
	var (
		metadata  blobstorage.BlobMetadata
		storeType int16
		size      int64
		checksum  int64
	)
	err := row.Scan(
		&metadata.ID, &storeType, &metadata.ContainerID, &metadata.BlobID,
		&metadata.ContentType, &size, &checksum, &metadata.CreatedAt, &metadata.UpdatedAt)
	if err != nil {
		return nil, err
	}
	metadata.StoreType = blobstorage.StoreType(storeType)
	metadata.Size = uint64(size)
	metadata.Checksum = uint32(checksum)
	return &metadata, nil
}

func (r *Repository) CreateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	query := `
		INSERT INTO blob_metadata (
			store_type, container_id, blob_id, content_type, size_bytes, checksum
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		int16(metadata.StoreType), metadata.ContainerID, metadata.BlobID,
		metadata.ContentType, int64(metadata.Size), int64(metadata.Checksum),
	).Scan(&metadata.ID, &metadata.CreatedAt, &metadata.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create metadata", err)
	}

	return nil
}

func (r *Repository) GetMetadata(ctx context.Context, id int64) (*blobstorage.BlobMetadata, error) {
	query := `SELECT ` + selectColumns + ` FROM blob_metadata WHERE id = $1`

	metadata, err := scanMetadata(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get metadata", err)
	}

	return metadata, nil
}

func (r *Repository) UpdateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	query := `
		UPDATE blob_metadata SET
			store_type = $2, container_id = $3, blob_id = $4,
			content_type = $5, size_bytes = $6, checksum = $7, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		metadata.ID, int16(metadata.StoreType), metadata.ContainerID, metadata.BlobID,
		metadata.ContentType, int64(metadata.Size), int64(metadata.Checksum),
	).Scan(&metadata.CreatedAt, &metadata.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update metadata", err)
	}

	return nil
}

func (r *Repository) DeleteMetadata(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM blob_metadata WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return blobstorage.ErrMetadataNotFound
	}
	return nil
}

func (r *Repository) QueryMetadata(ctx context.Context, filter blobstorage.MetadataFilter) ([]*blobstorage.BlobMetadata, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StoreType != nil {
		args = append(args, int16(*filter.StoreType))
		conditions = append(conditions, fmt.Sprintf("store_type = $%d", len(args)))
	}
	if filter.ContainerID != nil {
		args = append(args, *filter.ContainerID)
		conditions = append(conditions, fmt.Sprintf("container_id = $%d", len(args)))
	}
	if filter.BlobID != nil {
		args = append(args, *filter.BlobID)
		conditions = append(conditions, fmt.Sprintf("blob_id = $%d", len(args)))
	}

	query := `SELECT ` + selectColumns + ` FROM blob_metadata`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("query metadata", err)
	}
	defer rows.Close()

	var result []*blobstorage.BlobMetadata
	for rows.Next() {
		metadata, err := scanMetadata(rows)
		if err != nil {
			return nil, r.handlePostgresError("query metadata", err)
		}
		result = append(result, metadata)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("query metadata", err)
	}

	return result, nil
}
