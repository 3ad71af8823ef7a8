package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-blob/pkg/blobstorage"
)

const backendName = "fs"

// Backend is a filesystem implementation of the blobstorage.Backend interface.
// Each blob is one file named by its blob id directly under the root directory.
type Backend struct {
	rootPath string
}

// RootPathKey is the container parameter naming the root directory.
const RootPathKey = "RootPath"

// Config options for the filesystem backend
type Config struct {
	RootPath string // Directory holding the blob files; created if missing
}

// ConfigFromParameters builds a Config from a container's free-form parameters.
func ConfigFromParameters(params map[string]string) (Config, error) {
	rootPath := strings.TrimSpace(params[RootPathKey])
	if rootPath == "" {
		return Config{}, fmt.Errorf("'%s' parameter is required", RootPathKey)
	}
	return Config{RootPath: rootPath}, nil
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.RootPath == "" {
		return nil, errors.New("root path is required")
	}

	if err := os.MkdirAll(config.RootPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &Backend{rootPath: config.RootPath}, nil
}

// RootPath returns the directory the backend writes to
func (b *Backend) RootPath() string {
	return b.rootPath
}

func (b *Backend) path(blobID string) (string, error) {
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return "", err
	}
	return filepath.Join(b.rootPath, blobID), nil
}

func storageErr(op, key string, err error) error {
	return &blobstorage.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

// Get reads the file for blobID
func (b *Backend) Get(ctx context.Context, blobID string) ([]byte, error) {
	filePath, err := b.path(blobID)
	if err != nil {
		return nil, storageErr("get", blobID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, storageErr("get", blobID, blobstorage.ErrBlobNotFound)
	} else if err != nil {
		return nil, storageErr("get", blobID, fmt.Errorf("failed to read file: %w", err))
	}

	return data, nil
}

// Create writes data under a new random id. It fails rather than retries if
// a file with the generated name already exists.
func (b *Backend) Create(ctx context.Context, data []byte) (string, error) {
	blobID := blobstorage.NewBlobID()
	filePath, err := b.path(blobID)
	if err != nil {
		return "", storageErr("create", blobID, err)
	}

	if err := b.write(ctx, filePath, data, os.O_WRONLY|os.O_CREATE|os.O_EXCL); err != nil {
		if os.IsExist(err) {
			return "", storageErr("create", blobID, blobstorage.ErrBlobExists)
		}
		return "", storageErr("create", blobID, err)
	}

	return blobID, nil
}

// Update replaces the file for blobID, creating it if absent
func (b *Backend) Update(ctx context.Context, blobID string, data []byte) (string, error) {
	filePath, err := b.path(blobID)
	if err != nil {
		return "", storageErr("update", blobID, err)
	}

	if err := b.write(ctx, filePath, data, os.O_WRONLY|os.O_CREATE|os.O_TRUNC); err != nil {
		return "", storageErr("update", blobID, err)
	}

	return blobID, nil
}

// Delete removes the file for blobID; a missing file is not an error
func (b *Backend) Delete(ctx context.Context, blobID string) error {
	filePath, err := b.path(blobID)
	if err != nil {
		return storageErr("delete", blobID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return storageErr("delete", blobID, fmt.Errorf("failed to delete file: %w", err))
	}

	return nil
}

func (b *Backend) write(ctx context.Context, filePath string, data []byte, flag int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file, err := os.OpenFile(filePath, flag, 0644)
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	return nil
}
