package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/blobstorage"
	repomemory "github.com/tendant/simple-blob/pkg/blobstorage/repo/memory"
	"github.com/tendant/simple-blob/pkg/blobstorage/storage/memory"
)

type testEnv struct {
	router   http.Handler
	repo     *repomemory.Repository
	backends map[string]*memory.Backend
}

func newContainer(t *testing.T, repo blobstorage.MetadataRepository, storeType blobstorage.StoreType, id string, readOnly bool) (blobstorage.Container, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	container, err := blobstorage.New(
		blobstorage.WithStoreType(storeType),
		blobstorage.WithContainerID(id),
		blobstorage.WithReadOnly(readOnly),
		blobstorage.WithBackend(backend),
		blobstorage.WithRepository(repo),
	)
	require.NoError(t, err)
	return container, backend
}

// setupBlobHandlerTest registers a default filesystem container, a named
// filesystem container, a read-only one and a default object store container.
func setupBlobHandlerTest(t *testing.T) *testEnv {
	t.Helper()
	repo := repomemory.New()
	env := &testEnv{repo: repo, backends: map[string]*memory.Backend{}}

	var containers []blobstorage.Container
	for _, spec := range []struct {
		storeType blobstorage.StoreType
		id        string
		readOnly  bool
	}{
		{blobstorage.StoreTypeFilesystem, "", false},
		{blobstorage.StoreTypeFilesystem, "docs", false},
		{blobstorage.StoreTypeFilesystem, "archive", true},
		{blobstorage.StoreTypeObjectStore, "", false},
	} {
		c, backend := newContainer(t, repo, spec.storeType, spec.id, spec.readOnly)
		containers = append(containers, c)
		env.backends[spec.storeType.String()+"/"+spec.id] = backend
	}

	registry, err := blobstorage.NewRegistry(containers...)
	require.NoError(t, err)
	env.router = NewBlobHandler(registry).Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeMetadata(t *testing.T, w *httptest.ResponseRecorder) blobstorage.BlobMetadata {
	t.Helper()
	var metadata blobstorage.BlobMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metadata))
	return metadata
}

func TestBlobHandler_ListContainers(t *testing.T) {
	env := setupBlobHandlerTest(t)

	w := env.do(t, http.MethodGet, "/containers", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []ContainerSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "Filesystem", summaries[0].StoreType)
	assert.Equal(t, []string{"", "docs", "archive"}, summaries[0].ContainerIDs)
	assert.Equal(t, "ObjectStore", summaries[1].StoreType)
}

func TestBlobHandler_CreateAndGet(t *testing.T) {
	env := setupBlobHandlerTest(t)

	w := env.do(t, http.MethodPost, "/stores/filesystem/blobs", []byte{1, 2, 3}, "image/png")
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeMetadata(t, w)
	assert.NotEmpty(t, created.BlobID)
	assert.Equal(t, uint64(3), created.Size)
	assert.Equal(t, blobstorage.StoreTypeFilesystem, created.StoreType)
	assert.Equal(t, "image/png", created.ContentType)
	assert.True(t, env.backends["Filesystem/"].Has(created.BlobID))

	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs/"+created.BlobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{1, 2, 3}, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "3", w.Header().Get("Content-Length"))

	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs/"+created.BlobID+"/metadata", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decodeMetadata(t, w).ID)

	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []blobstorage.BlobMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.BlobID, list[0].BlobID)
}

func TestBlobHandler_NamedContainerIsolation(t *testing.T) {
	env := setupBlobHandlerTest(t)

	w := env.do(t, http.MethodPost, "/stores/Filesystem/containers/docs/blobs", []byte("hello"), "text/plain")
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeMetadata(t, w)
	assert.Equal(t, "docs", created.ContainerID)

	// Not visible through the default container
	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs/"+created.BlobID+"/metadata", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestBlobHandler_Update(t *testing.T) {
	env := setupBlobHandlerTest(t)

	w := env.do(t, http.MethodPost, "/stores/ObjectStore/blobs", []byte("v1"), "text/plain")
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeMetadata(t, w)

	w = env.do(t, http.MethodPut, "/stores/ObjectStore/blobs/"+created.BlobID, []byte("version 2"), "")
	require.Equal(t, http.StatusOK, w.Code)
	updated := decodeMetadata(t, w)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, uint64(9), updated.Size)
	assert.Equal(t, "text/plain", updated.ContentType)

	w = env.do(t, http.MethodGet, "/stores/ObjectStore/blobs/"+created.BlobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "version 2", w.Body.String())

	// Upsert of an unknown id
	w = env.do(t, http.MethodPut, "/stores/ObjectStore/blobs/brand-new", []byte("x"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "brand-new", decodeMetadata(t, w).BlobID)
}

func TestBlobHandler_Delete(t *testing.T) {
	env := setupBlobHandlerTest(t)

	w := env.do(t, http.MethodPost, "/stores/Filesystem/blobs", []byte("bye"), "")
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeMetadata(t, w)

	w = env.do(t, http.MethodDelete, "/stores/Filesystem/blobs/"+created.BlobID, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, env.backends["Filesystem/"].Has(created.BlobID))

	w = env.do(t, http.MethodGet, "/stores/Filesystem/blobs/"+created.BlobID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Deleting again is not an error
	w = env.do(t, http.MethodDelete, "/stores/Filesystem/blobs/"+created.BlobID, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBlobHandler_Errors(t *testing.T) {
	env := setupBlobHandlerTest(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"unknown store type", http.MethodGet, "/stores/tape/blobs", http.StatusBadRequest},
		{"unknown container", http.MethodGet, "/stores/Filesystem/containers/missing/blobs", http.StatusNotFound},
		{"unknown blob", http.MethodGet, "/stores/Filesystem/blobs/missing", http.StatusNotFound},
		{"unknown metadata", http.MethodGet, "/stores/Filesystem/blobs/missing/metadata", http.StatusNotFound},
		{"read only create", http.MethodPost, "/stores/Filesystem/containers/archive/blobs", http.StatusForbidden},
		{"read only delete", http.MethodDelete, "/stores/Filesystem/containers/archive/blobs/x", http.StatusForbidden},
		{"invalid blob id", http.MethodPut, "/stores/Filesystem/blobs/..", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, []byte("data"), "")
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestBlobHandler_BodyTooLarge(t *testing.T) {
	repo := repomemory.New()
	container, _ := newContainer(t, repo, blobstorage.StoreTypeFilesystem, "", false)
	registry, err := blobstorage.NewRegistry(container)
	require.NoError(t, err)
	router := NewBlobHandler(registry, WithMaxBodyBytes(4)).Routes()

	req := httptest.NewRequest(http.MethodPost, "/stores/Filesystem/blobs", strings.NewReader("too large"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	all, err := container.GetAllMetadata(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}
