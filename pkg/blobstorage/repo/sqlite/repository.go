package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-blob/pkg/blobstorage"
	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blob_metadata (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  store_type   INTEGER NOT NULL CHECK (store_type > 0),
  container_id TEXT NOT NULL DEFAULT '',
  blob_id      TEXT NOT NULL,
  content_type TEXT NOT NULL DEFAULT '',
  size_bytes   INTEGER NOT NULL DEFAULT 0,
  checksum     INTEGER NOT NULL DEFAULT 0,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL,
  UNIQUE(store_type, container_id, blob_id)
);
`

// Repository implements blobstorage.MetadataRepository on a SQLite file.
type Repository struct {
	db *sql.DB
}

// Open opens the SQLite database and bootstraps the schema.
func Open(path string) (*Repository, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectColumns = `id, store_type, container_id, blob_id, content_type, size_bytes, checksum, created_at, updated_at`

func scanMetadata(row rowScanner) (*blobstorage.BlobMetadata, error) {
	var (
		metadata             blobstorage.BlobMetadata
		storeType            int
		size                 int64
		checksum             int64
		createdAt, updatedAt string
	)
	if err := row.Scan(&metadata.ID, &storeType, &metadata.ContainerID, &metadata.BlobID,
		&metadata.ContentType, &size, &checksum, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if metadata.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if metadata.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	metadata.StoreType = blobstorage.StoreType(storeType)
	metadata.Size = uint64(size)
	metadata.Checksum = uint32(checksum)
	return &metadata, nil
}

func (r *Repository) CreateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO blob_metadata (store_type, container_id, blob_id, content_type, size_bytes, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int(metadata.StoreType), metadata.ContainerID, metadata.BlobID, metadata.ContentType,
		int64(metadata.Size), int64(metadata.Checksum), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return blobstorage.ErrDuplicateMetadata
		}
		return fmt.Errorf("insert metadata: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}
	metadata.ID = id
	metadata.CreatedAt = now
	metadata.UpdatedAt = now
	return nil
}

func (r *Repository) GetMetadata(ctx context.Context, id int64) (*blobstorage.BlobMetadata, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM blob_metadata WHERE id = ?`, id)
	metadata, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blobstorage.ErrMetadataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	return metadata, nil
}

func (r *Repository) UpdateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		UPDATE blob_metadata SET
			store_type = ?, container_id = ?, blob_id = ?, content_type = ?,
			size_bytes = ?, checksum = ?, updated_at = ?
		WHERE id = ?
		RETURNING created_at`,
		int(metadata.StoreType), metadata.ContainerID, metadata.BlobID, metadata.ContentType,
		int64(metadata.Size), int64(metadata.Checksum), formatTime(now), metadata.ID)

	var createdAt string
	if err := row.Scan(&createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return blobstorage.ErrMetadataNotFound
		}
		if isUniqueViolation(err) {
			return blobstorage.ErrDuplicateMetadata
		}
		return fmt.Errorf("update metadata: %w", err)
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	metadata.CreatedAt = parsed
	metadata.UpdatedAt = now
	return nil
}

func (r *Repository) DeleteMetadata(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blob_metadata WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if affected == 0 {
		return blobstorage.ErrMetadataNotFound
	}
	return nil
}

func (r *Repository) QueryMetadata(ctx context.Context, filter blobstorage.MetadataFilter) ([]*blobstorage.BlobMetadata, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.StoreType != nil {
		conditions = append(conditions, "store_type = ?")
		args = append(args, int(*filter.StoreType))
	}
	if filter.ContainerID != nil {
		conditions = append(conditions, "container_id = ?")
		args = append(args, *filter.ContainerID)
	}
	if filter.BlobID != nil {
		conditions = append(conditions, "blob_id = ?")
		args = append(args, *filter.BlobID)
	}

	query := `SELECT ` + selectColumns + ` FROM blob_metadata`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	var result []*blobstorage.BlobMetadata
	for rows.Next() {
		metadata, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("query metadata: %w", err)
		}
		result = append(result, metadata)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	return result, nil
}
