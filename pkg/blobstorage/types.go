package blobstorage

import (
	"fmt"
	"strings"
	"time"
)

// StoreType is the kind of physical backend holding a container's bytes.
type StoreType int

// Store type constants.
const (
	StoreTypeUnspecified StoreType = iota
	StoreTypeFilesystem
	StoreTypeObjectStore
)

var storeTypeNames = map[StoreType]string{
	StoreTypeUnspecified: "Unspecified",
	StoreTypeFilesystem:  "Filesystem",
	StoreTypeObjectStore: "ObjectStore",
}

func (t StoreType) String() string {
	if name, ok := storeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("StoreType(%d)", int(t))
}

// ParseStoreType converts a configuration name into a StoreType. Matching is
// case-insensitive; "Azure" and "S3" are accepted as aliases for ObjectStore
// and an empty string yields StoreTypeUnspecified.
func ParseStoreType(s string) (StoreType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unspecified":
		return StoreTypeUnspecified, nil
	case "filesystem":
		return StoreTypeFilesystem, nil
	case "objectstore", "azure", "s3":
		return StoreTypeObjectStore, nil
	default:
		return StoreTypeUnspecified, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t StoreType) MarshalText() ([]byte, error) {
	if _, ok := storeTypeNames[t]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStoreType, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StoreType) UnmarshalText(text []byte) error {
	parsed, err := ParseStoreType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SetValue lets cleanenv populate a StoreType from an environment variable.
func (t *StoreType) SetValue(s string) error {
	return t.UnmarshalText([]byte(s))
}

// BlobMetadata is the persisted logical record of a stored blob.
//
// (StoreType, ContainerID, BlobID) is unique across all records. Size is the
// byte length of the content last written under BlobID and Checksum its CRC32.
type BlobMetadata struct {
	ID          int64     `json:"id"`
	StoreType   StoreType `json:"store_type"`
	ContainerID string    `json:"container_id"`
	BlobID      string    `json:"blob_id"`
	ContentType string    `json:"content_type,omitempty"`
	Size        uint64    `json:"size"`
	Checksum    uint32    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BlobContent is a blob's metadata together with its bytes.
type BlobContent struct {
	BlobMetadata
	Content []byte `json:"-"`
}

// CreateContentRequest contains the parameters for storing a new blob.
type CreateContentRequest struct {
	Content     []byte
	ContentType string
}

// UpdateContentRequest contains the parameters for overwriting a blob. An
// empty BlobID (or the nil UUID) creates a new blob instead.
type UpdateContentRequest struct {
	BlobID      string
	Content     []byte
	ContentType string
}

// MetadataFilter selects metadata records. Nil fields do not constrain.
type MetadataFilter struct {
	StoreType   *StoreType
	ContainerID *string
	BlobID      *string
}

// Matches reports whether m satisfies every non-nil field of the filter.
func (f MetadataFilter) Matches(m *BlobMetadata) bool {
	if m == nil {
		return false
	}
	if f.StoreType != nil && m.StoreType != *f.StoreType {
		return false
	}
	if f.ContainerID != nil && m.ContainerID != *f.ContainerID {
		return false
	}
	if f.BlobID != nil && m.BlobID != *f.BlobID {
		return false
	}
	return true
}

// ContainerFilter returns a filter scoped to one container, optionally to a
// single blob within it when blobID is non-empty.
func ContainerFilter(storeType StoreType, containerID string, blobID string) MetadataFilter {
	f := MetadataFilter{
		StoreType:   &storeType,
		ContainerID: &containerID,
	}
	if blobID != "" {
		f.BlobID = &blobID
	}
	return f
}
