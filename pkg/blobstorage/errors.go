package blobstorage

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrReadOnly indicates a mutating call against a read-only container
	ErrReadOnly = errors.New("blob container is read only")

	// ErrBlobNotFound indicates the backend holds no bytes for a blob id
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobExists indicates a freshly generated blob id is already taken
	ErrBlobExists = errors.New("blob already exists")

	// ErrInvalidBlobID indicates a blob id that cannot be used as a locator
	ErrInvalidBlobID = errors.New("invalid blob id")

	// ErrIDGenerationExhausted indicates every attempt to mint a unique id collided
	ErrIDGenerationExhausted = errors.New("could not generate unique blob id")

	// ErrMetadataNotFound indicates a metadata record was not found
	ErrMetadataNotFound = errors.New("blob metadata not found")

	// ErrDuplicateMetadata indicates a second record for the same store type, container and blob id
	ErrDuplicateMetadata = errors.New("blob metadata already exists")

	// ErrChecksumMismatch indicates stored bytes no longer match the recorded checksum
	ErrChecksumMismatch = errors.New("blob checksum mismatch")

	// ErrInvalidStoreType indicates an unknown or unsupported store type
	ErrInvalidStoreType = errors.New("invalid store type")
)

// ContainerError represents an error raised by a container operation
type ContainerError struct {
	StoreType   StoreType
	ContainerID string
	BlobID      string
	Op          string
	Err         error
}

func (e *ContainerError) Error() string {
	if e.BlobID == "" {
		return fmt.Sprintf("container operation %s failed on %s container %q: %v", e.Op, e.StoreType, e.ContainerID, e.Err)
	}
	return fmt.Sprintf("container operation %s failed for blob %s on %s container %q: %v", e.Op, e.BlobID, e.StoreType, e.ContainerID, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to physical storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
