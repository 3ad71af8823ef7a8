package blobstorage

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Backend translates container operations into physical byte storage.
type Backend interface {
	// Get returns the raw content, or ErrBlobNotFound when nothing is stored under blobID
	Get(ctx context.Context, blobID string) ([]byte, error)

	// Create stores data under a freshly generated unique id and returns it
	Create(ctx context.Context, data []byte) (string, error)

	// Update overwrites (or creates) the content at blobID and returns the id actually used
	Update(ctx context.Context, blobID string, data []byte) (string, error)

	// Delete removes the content; deleting a missing blob is not an error
	Delete(ctx context.Context, blobID string) error
}

// MetadataRepository persists BlobMetadata records keyed by their numeric ID.
type MetadataRepository interface {
	// CreateMetadata inserts a record and assigns its ID and timestamps
	CreateMetadata(ctx context.Context, metadata *BlobMetadata) error

	// GetMetadata returns the record with the given ID or ErrMetadataNotFound
	GetMetadata(ctx context.Context, id int64) (*BlobMetadata, error)

	// UpdateMetadata replaces the mutable fields of an existing record
	UpdateMetadata(ctx context.Context, metadata *BlobMetadata) error

	// DeleteMetadata removes the record with the given ID
	DeleteMetadata(ctx context.Context, id int64) error

	// QueryMetadata returns every record matching the filter, ordered by ID
	QueryMetadata(ctx context.Context, filter MetadataFilter) ([]*BlobMetadata, error)
}

// Container is the CRUD surface for the blobs of one configured container.
type Container interface {
	StoreType() StoreType
	ContainerID() string
	ReadOnly() bool

	// GetAllMetadata returns every metadata record owned by this container
	GetAllMetadata(ctx context.Context) ([]*BlobMetadata, error)

	// GetMetadata returns the record for blobID, or nil when there is none
	GetMetadata(ctx context.Context, blobID string) (*BlobMetadata, error)

	// GetContent returns metadata and bytes for blobID, or nil when there is no record
	GetContent(ctx context.Context, blobID string) (*BlobContent, error)

	// CreateContent stores new bytes under a generated blob id
	CreateContent(ctx context.Context, req CreateContentRequest) (*BlobContent, error)

	// UpdateContent overwrites an existing blob, creating it when absent
	UpdateContent(ctx context.Context, req UpdateContentRequest) (*BlobContent, error)

	// DeleteContent removes metadata and bytes for blobID
	DeleteContent(ctx context.Context, blobID string) error
}

// IsNilBlobID reports whether blobID is empty or the nil UUID.
func IsNilBlobID(blobID string) bool {
	blobID = strings.TrimSpace(blobID)
	return blobID == "" || blobID == uuid.Nil.String()
}

// ValidateBlobID rejects ids that would escape a backend's namespace.
func ValidateBlobID(blobID string) error {
	if strings.TrimSpace(blobID) == "" {
		return ErrInvalidBlobID
	}
	if blobID == "." || strings.Contains(blobID, "..") || strings.ContainsAny(blobID, `/\`) {
		return ErrInvalidBlobID
	}
	return nil
}

// NewBlobID returns a random blob id.
func NewBlobID() string {
	return uuid.NewString()
}
