package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

func TestBackend_BasicOps(t *testing.T) {
	b := New()
	ctx := context.Background()

	data := []byte("hello")
	blobID, err := b.Create(ctx, data)
	require.NoError(t, err)
	assert.True(t, b.Has(blobID))

	// Stored bytes are isolated from the caller's slice
	data[0] = 'j'
	got, err := b.Get(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got[0] = 'y'
	again, err := b.Get(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), again)

	updatedID, err := b.Update(ctx, blobID, []byte("bye"))
	require.NoError(t, err)
	assert.Equal(t, blobID, updatedID)

	require.NoError(t, b.Delete(ctx, blobID))
	assert.False(t, b.Has(blobID))
	assert.Equal(t, 0, b.Len())

	_, err = b.Get(ctx, blobID)
	assert.ErrorIs(t, err, blobstorage.ErrBlobNotFound)
	assert.NoError(t, b.Delete(ctx, blobID))
}

func TestBackend_CreateCollision(t *testing.T) {
	b := New(WithIDGenerator(func() string { return "fixed" }))
	ctx := context.Background()

	_, err := b.Create(ctx, []byte("one"))
	require.NoError(t, err)

	_, err = b.Create(ctx, []byte("two"))
	assert.ErrorIs(t, err, blobstorage.ErrBlobExists)

	got, err := b.Get(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
}

func TestBackend_Relocation(t *testing.T) {
	b := New(WithRelocation(func(blobID string) string { return "moved-" + blobID }))
	ctx := context.Background()

	blobID, err := b.Update(ctx, "b1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "moved-b1", blobID)
	assert.True(t, b.Has("moved-b1"))
	assert.False(t, b.Has("b1"))
}

func TestBackend_InvalidID(t *testing.T) {
	b := New()
	_, err := b.Update(context.Background(), "../x", []byte("x"))
	assert.ErrorIs(t, err, blobstorage.ErrInvalidBlobID)
}
