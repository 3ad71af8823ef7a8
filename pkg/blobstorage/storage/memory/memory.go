package memory

import (
	"context"
	"sync"

	"github.com/tendant/simple-blob/pkg/blobstorage"
)

const backendName = "memory"

// Backend is an in-memory implementation of the blobstorage.Backend interface
type Backend struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	newID    func() string
	relocate func(blobID string) string
}

// Option configures the in-memory backend
type Option func(*Backend)

// WithIDGenerator replaces the blob id generator, e.g. to force collisions
func WithIDGenerator(newID func() string) Option {
	return func(b *Backend) {
		b.newID = newID
	}
}

// WithRelocation makes Update store content under the id returned by fn
// instead of the requested one
func WithRelocation(fn func(blobID string) string) Option {
	return func(b *Backend) {
		b.relocate = fn
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string][]byte),
		newID:   blobstorage.NewBlobID,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func storageErr(op, key string, err error) error {
	return &blobstorage.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

// Get returns a copy of the stored bytes
func (b *Backend) Get(ctx context.Context, blobID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[blobID]
	if !exists {
		return nil, storageErr("get", blobID, blobstorage.ErrBlobNotFound)
	}

	return append([]byte{}, data...), nil
}

// Create stores data under a new id; a taken id fails with ErrBlobExists
func (b *Backend) Create(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	blobID := b.newID()
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return "", storageErr("create", blobID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[blobID]; exists {
		return "", storageErr("create", blobID, blobstorage.ErrBlobExists)
	}
	b.objects[blobID] = append([]byte{}, data...)
	return blobID, nil
}

// Update overwrites the bytes stored under blobID
func (b *Backend) Update(ctx context.Context, blobID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return "", storageErr("update", blobID, err)
	}

	target := blobID
	if b.relocate != nil {
		target = b.relocate(blobID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[target] = append([]byte{}, data...)
	return target, nil
}

// Delete removes the bytes stored under blobID
func (b *Backend) Delete(ctx context.Context, blobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, blobID)
	return nil
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Has reports whether bytes are stored under blobID
func (b *Backend) Has(blobID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.objects[blobID]
	return ok
}
