package blobstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// container implements the Container interface
type container struct {
	storeType       StoreType
	containerID     string
	readOnly        bool
	backend         Backend
	repository      MetadataRepository
	logger          *slog.Logger
	locks           *keyedMutex
	verifyChecksums bool
}

// Option represents a functional option for configuring a container
type Option func(*container)

// WithStoreType sets the kind of backend the container writes to
func WithStoreType(storeType StoreType) Option {
	return func(c *container) {
		c.storeType = storeType
	}
}

// WithContainerID sets the container id; empty marks the default container of its store type
func WithContainerID(containerID string) Option {
	return func(c *container) {
		c.containerID = containerID
	}
}

// WithReadOnly rejects every mutating operation when readOnly is true
func WithReadOnly(readOnly bool) Option {
	return func(c *container) {
		c.readOnly = readOnly
	}
}

// WithBackend sets the physical storage backend
func WithBackend(backend Backend) Option {
	return func(c *container) {
		c.backend = backend
	}
}

// WithRepository sets the metadata repository
func WithRepository(repo MetadataRepository) Option {
	return func(c *container) {
		c.repository = repo
	}
}

// WithLogger sets the logger used for container diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(c *container) {
		c.logger = logger
	}
}

// WithBlobLocking serializes concurrent writers to the same blob id within this process
func WithBlobLocking() Option {
	return func(c *container) {
		c.locks = newKeyedMutex()
	}
}

// WithChecksumVerification makes GetContent fail with ErrChecksumMismatch
// instead of logging a warning when stored bytes do not match their checksum
func WithChecksumVerification() Option {
	return func(c *container) {
		c.verifyChecksums = true
	}
}

// New creates a new container with the given options
func New(options ...Option) (Container, error) {
	c := &container{}

	for _, option := range options {
		option(c)
	}

	if c.storeType == StoreTypeUnspecified {
		return nil, fmt.Errorf("%w: store type is required", ErrInvalidStoreType)
	}
	if _, ok := storeTypeNames[c.storeType]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStoreType, int(c.storeType))
	}
	if c.backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if c.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("store_type", c.storeType.String(), "container_id", c.containerID)

	return c, nil
}

func (c *container) StoreType() StoreType {
	return c.storeType
}

func (c *container) ContainerID() string {
	return c.containerID
}

func (c *container) ReadOnly() bool {
	return c.readOnly
}

func (c *container) wrap(op, blobID string, err error) error {
	return &ContainerError{
		StoreType:   c.storeType,
		ContainerID: c.containerID,
		BlobID:      blobID,
		Op:          op,
		Err:         err,
	}
}

func (c *container) lock(ctx context.Context, blobID string) (func(), error) {
	if c.locks == nil {
		return func() {}, nil
	}
	return c.locks.Lock(ctx, blobID)
}

// findMetadata returns the record for blobID within this container, or nil.
// A blank id never matches.
func (c *container) findMetadata(ctx context.Context, blobID string) (*BlobMetadata, error) {
	if strings.TrimSpace(blobID) == "" {
		return nil, nil
	}
	records, err := c.repository.QueryMetadata(ctx, ContainerFilter(c.storeType, c.containerID, blobID))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Metadata operations

func (c *container) GetAllMetadata(ctx context.Context) ([]*BlobMetadata, error) {
	records, err := c.repository.QueryMetadata(ctx, ContainerFilter(c.storeType, c.containerID, ""))
	if err != nil {
		return nil, c.wrap("list", "", err)
	}
	if records == nil {
		records = []*BlobMetadata{}
	}
	return records, nil
}

func (c *container) GetMetadata(ctx context.Context, blobID string) (*BlobMetadata, error) {
	if blobID == "" {
		return nil, nil
	}
	metadata, err := c.findMetadata(ctx, blobID)
	if err != nil {
		return nil, c.wrap("get_metadata", blobID, err)
	}
	return metadata, nil
}

// Content operations

func (c *container) GetContent(ctx context.Context, blobID string) (*BlobContent, error) {
	if blobID == "" {
		return nil, nil
	}
	metadata, err := c.findMetadata(ctx, blobID)
	if err != nil {
		return nil, c.wrap("get_content", blobID, err)
	}
	if metadata == nil {
		return nil, nil
	}

	data, err := c.backend.Get(ctx, blobID)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			return nil, c.wrap("get_content", blobID, err)
		}
		// Metadata without bytes: hand back the record with empty content.
		c.logger.Warn("blob content missing for metadata record", "blob_id", blobID, "metadata_id", metadata.ID)
		return &BlobContent{BlobMetadata: *metadata, Content: []byte{}}, nil
	}

	if !verifyChecksum(metadata, data) {
		if c.verifyChecksums {
			return nil, c.wrap("get_content", blobID, ErrChecksumMismatch)
		}
		c.logger.Warn("blob checksum mismatch", "blob_id", blobID, "expected", metadata.Checksum, "actual", Checksum(data))
	}

	return &BlobContent{BlobMetadata: *metadata, Content: data}, nil
}

func (c *container) CreateContent(ctx context.Context, req CreateContentRequest) (*BlobContent, error) {
	if c.readOnly {
		return nil, c.wrap("create", "", ErrReadOnly)
	}

	data := req.Content
	if data == nil {
		data = []byte{}
	}

	blobID, err := c.backend.Create(ctx, data)
	if err != nil {
		return nil, c.wrap("create", "", err)
	}

	metadata := &BlobMetadata{
		StoreType:   c.storeType,
		ContainerID: c.containerID,
		BlobID:      blobID,
		ContentType: req.ContentType,
		Size:        uint64(len(data)),
		Checksum:    Checksum(data),
	}
	if err := c.repository.CreateMetadata(ctx, metadata); err != nil {
		c.logger.Error("metadata create failed after blob write", "blob_id", blobID, "error", err)
		return nil, c.wrap("create", blobID, err)
	}

	c.logger.Debug("blob created", "blob_id", blobID, "size", metadata.Size)
	return &BlobContent{BlobMetadata: *metadata, Content: data}, nil
}

func (c *container) UpdateContent(ctx context.Context, req UpdateContentRequest) (*BlobContent, error) {
	if c.readOnly {
		return nil, c.wrap("update", req.BlobID, ErrReadOnly)
	}

	if IsNilBlobID(req.BlobID) {
		return c.CreateContent(ctx, CreateContentRequest{
			Content:     req.Content,
			ContentType: req.ContentType,
		})
	}

	unlock, err := c.lock(ctx, req.BlobID)
	if err != nil {
		return nil, c.wrap("update", req.BlobID, err)
	}
	defer unlock()

	data := req.Content
	if data == nil {
		data = []byte{}
	}

	existing, err := c.findMetadata(ctx, req.BlobID)
	if err != nil {
		return nil, c.wrap("update", req.BlobID, err)
	}

	blobID, err := c.backend.Update(ctx, req.BlobID, data)
	if err != nil {
		return nil, c.wrap("update", req.BlobID, err)
	}
	if blobID == "" {
		blobID = req.BlobID
	}
	if blobID != req.BlobID {
		c.logger.Info("backend stored blob under a different id", "requested_blob_id", req.BlobID, "blob_id", blobID)
	}

	metadata := existing
	var stale *BlobMetadata
	if blobID != req.BlobID {
		// The bytes under blobID now belong to this write. A record already
		// describing blobID takes them over and the requested id's record goes.
		occupant, err := c.findMetadata(ctx, blobID)
		if err != nil {
			return nil, c.wrap("update", blobID, err)
		}
		if occupant != nil {
			stale = existing
			metadata = occupant
		}
	}

	created := metadata == nil
	if created {
		metadata = &BlobMetadata{
			StoreType:   c.storeType,
			ContainerID: c.containerID,
		}
	}
	metadata.BlobID = blobID
	metadata.Size = uint64(len(data))
	metadata.Checksum = Checksum(data)
	if req.ContentType != "" {
		metadata.ContentType = req.ContentType
	} else if stale != nil {
		metadata.ContentType = stale.ContentType
	}

	if created {
		err = c.repository.CreateMetadata(ctx, metadata)
	} else {
		err = c.repository.UpdateMetadata(ctx, metadata)
	}
	if err != nil {
		c.logger.Error("metadata write failed after blob write", "blob_id", blobID, "error", err)
		return nil, c.wrap("update", blobID, err)
	}

	if blobID != req.BlobID {
		c.dropRelocated(ctx, req.BlobID, stale)
	}

	c.logger.Debug("blob updated", "blob_id", blobID, "size", metadata.Size, "created", created)
	return &BlobContent{BlobMetadata: *metadata, Content: data}, nil
}

// dropRelocated removes what is left under the requested id after the backend
// stored an update elsewhere. Failures only leak and are logged.
func (c *container) dropRelocated(ctx context.Context, blobID string, stale *BlobMetadata) {
	if stale != nil {
		if err := c.repository.DeleteMetadata(ctx, stale.ID); err != nil && !errors.Is(err, ErrMetadataNotFound) {
			c.logger.Warn("failed to remove metadata of relocated blob", "blob_id", blobID, "error", err)
		}
	}
	if err := c.backend.Delete(ctx, blobID); err != nil {
		c.logger.Warn("failed to remove bytes of relocated blob", "blob_id", blobID, "error", err)
	}
}

func (c *container) DeleteContent(ctx context.Context, blobID string) error {
	if c.readOnly {
		return c.wrap("delete", blobID, ErrReadOnly)
	}
	if IsNilBlobID(blobID) {
		return nil
	}

	unlock, err := c.lock(ctx, blobID)
	if err != nil {
		return c.wrap("delete", blobID, err)
	}
	defer unlock()

	// Metadata and bytes are removed independently; one failing does not
	// stop the other.
	var errs []error

	metadata, err := c.findMetadata(ctx, blobID)
	if err != nil {
		errs = append(errs, err)
	} else if metadata != nil {
		if err := c.repository.DeleteMetadata(ctx, metadata.ID); err != nil && !errors.Is(err, ErrMetadataNotFound) {
			errs = append(errs, err)
		}
	}

	if err := c.backend.Delete(ctx, blobID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Error("blob delete incomplete", "blob_id", blobID, "error", err)
		return c.wrap("delete", blobID, err)
	}

	c.logger.Debug("blob deleted", "blob_id", blobID)
	return nil
}
