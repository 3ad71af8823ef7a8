package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-blob/pkg/blobstorage"
)

// Repository implements blobstorage.MetadataRepository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*blobstorage.BlobMetadata
	byKey   map[metadataKey]int64
}

type metadataKey struct {
	storeType   blobstorage.StoreType
	containerID string
	blobID      string
}

func keyOf(m *blobstorage.BlobMetadata) metadataKey {
	return metadataKey{storeType: m.StoreType, containerID: m.ContainerID, blobID: m.BlobID}
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[int64]*blobstorage.BlobMetadata),
		byKey:   make(map[metadataKey]int64),
	}
}

func (r *Repository) CreateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf(metadata)
	if _, exists := r.byKey[key]; exists {
		return blobstorage.ErrDuplicateMetadata
	}

	r.nextID++
	now := time.Now().UTC()
	metadata.ID = r.nextID
	metadata.CreatedAt = now
	metadata.UpdatedAt = now

	// Store a copy to avoid external modifications
	metadataCopy := *metadata
	r.records[metadata.ID] = &metadataCopy
	r.byKey[key] = metadata.ID

	return nil
}

func (r *Repository) GetMetadata(ctx context.Context, id int64) (*blobstorage.BlobMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	metadata, exists := r.records[id]
	if !exists {
		return nil, blobstorage.ErrMetadataNotFound
	}

	metadataCopy := *metadata
	return &metadataCopy, nil
}

func (r *Repository) UpdateMetadata(ctx context.Context, metadata *blobstorage.BlobMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.records[metadata.ID]
	if !exists {
		return blobstorage.ErrMetadataNotFound
	}

	oldKey := keyOf(current)
	newKey := keyOf(metadata)
	if newKey != oldKey {
		if _, taken := r.byKey[newKey]; taken {
			return blobstorage.ErrDuplicateMetadata
		}
		delete(r.byKey, oldKey)
		r.byKey[newKey] = metadata.ID
	}

	metadata.CreatedAt = current.CreatedAt
	metadata.UpdatedAt = time.Now().UTC()

	metadataCopy := *metadata
	r.records[metadata.ID] = &metadataCopy

	return nil
}

func (r *Repository) DeleteMetadata(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metadata, exists := r.records[id]
	if !exists {
		return blobstorage.ErrMetadataNotFound
	}

	delete(r.byKey, keyOf(metadata))
	delete(r.records, id)
	return nil
}

func (r *Repository) QueryMetadata(ctx context.Context, filter blobstorage.MetadataFilter) ([]*blobstorage.BlobMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*blobstorage.BlobMetadata
	for _, metadata := range r.records {
		if filter.Matches(metadata) {
			metadataCopy := *metadata
			result = append(result, &metadataCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}
