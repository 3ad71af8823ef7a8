package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

const defaultMaxBodyBytes int64 = 64 << 20

var errContainerNotFound = errors.New("container not found")

// ContainerSummary describes the containers configured for one store type
type ContainerSummary struct {
	StoreType    string   `json:"store_type"`
	ContainerIDs []string `json:"container_ids"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// BlobHandler serves blob content and metadata for every registered container
type BlobHandler struct {
	registry     *blobstorage.Registry
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption configures a BlobHandler
type HandlerOption func(*BlobHandler)

// WithLogger sets the logger used for handler errors
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *BlobHandler) {
		h.logger = logger
	}
}

// WithMaxBodyBytes limits the size of uploaded content
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *BlobHandler) {
		h.maxBodyBytes = n
	}
}

// NewBlobHandler creates a new blob handler
func NewBlobHandler(registry *blobstorage.Registry, opts ...HandlerOption) *BlobHandler {
	h := &BlobHandler{
		registry:     registry,
		logger:       slog.Default(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type containerResolver func(r *http.Request) (blobstorage.Container, error)

// Routes returns the routes for containers and blobs
func (h *BlobHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/containers", h.ListContainers)

	r.Route("/stores/{storeType}", func(r chi.Router) {
		r.Route("/blobs", h.blobRoutes(h.defaultContainer))
		r.Route("/containers/{containerID}/blobs", h.blobRoutes(h.namedContainer))
	})

	return r
}

func (h *BlobHandler) blobRoutes(resolve containerResolver) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", h.listBlobs(resolve))
		r.Post("/", h.createBlob(resolve))
		r.Get("/{blobID}", h.getBlob(resolve))
		r.Put("/{blobID}", h.updateBlob(resolve))
		r.Delete("/{blobID}", h.deleteBlob(resolve))
		r.Get("/{blobID}/metadata", h.getMetadata(resolve))
	}
}

func (h *BlobHandler) storeType(r *http.Request) (blobstorage.StoreType, error) {
	storeType, err := blobstorage.ParseStoreType(chi.URLParam(r, "storeType"))
	if err != nil {
		return blobstorage.StoreTypeUnspecified, err
	}
	if storeType == blobstorage.StoreTypeUnspecified {
		return storeType, blobstorage.ErrInvalidStoreType
	}
	return storeType, nil
}

func (h *BlobHandler) defaultContainer(r *http.Request) (blobstorage.Container, error) {
	storeType, err := h.storeType(r)
	if err != nil {
		return nil, err
	}
	container := h.registry.GetDefaultContainer(storeType)
	if container == nil {
		return nil, errContainerNotFound
	}
	return container, nil
}

func (h *BlobHandler) namedContainer(r *http.Request) (blobstorage.Container, error) {
	storeType, err := h.storeType(r)
	if err != nil {
		return nil, err
	}
	container := h.registry.GetContainer(storeType, chi.URLParam(r, "containerID"))
	if container == nil {
		return nil, errContainerNotFound
	}
	return container, nil
}

// ListContainers lists the configured containers grouped by store type
func (h *BlobHandler) ListContainers(w http.ResponseWriter, r *http.Request) {
	summaries := []ContainerSummary{}
	for _, storeType := range h.registry.GetContainerTypes() {
		summaries = append(summaries, ContainerSummary{
			StoreType:    storeType.String(),
			ContainerIDs: h.registry.GetContainerIDs(storeType),
		})
	}
	render.JSON(w, r, summaries)
}

func (h *BlobHandler) listBlobs(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		metadata, err := container.GetAllMetadata(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		render.JSON(w, r, metadata)
	}
}

func (h *BlobHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
}

func (h *BlobHandler) createBlob(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		content, err := h.readBody(w, r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		metadata, err := container.CreateContent(r.Context(), blobstorage.CreateContentRequest{
			Content:     content,
			ContentType: r.Header.Get("Content-Type"),
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, metadata)
	}
}

func (h *BlobHandler) getBlob(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		blob, err := container.GetContent(r.Context(), chi.URLParam(r, "blobID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if blob == nil {
			h.writeError(w, r, blobstorage.ErrBlobNotFound)
			return
		}

		contentType := blob.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Content)))
		w.Header().Set("X-Blob-Checksum", strconv.FormatUint(uint64(blob.Checksum), 10))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(blob.Content); err != nil {
			h.logger.Error("failed to write blob", "blob_id", blob.BlobID, "error", err)
		}
	}
}

func (h *BlobHandler) getMetadata(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		metadata, err := container.GetMetadata(r.Context(), chi.URLParam(r, "blobID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if metadata == nil {
			h.writeError(w, r, blobstorage.ErrMetadataNotFound)
			return
		}
		render.JSON(w, r, metadata)
	}
}

func (h *BlobHandler) updateBlob(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		content, err := h.readBody(w, r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		metadata, err := container.UpdateContent(r.Context(), blobstorage.UpdateContentRequest{
			BlobID:      chi.URLParam(r, "blobID"),
			Content:     content,
			ContentType: r.Header.Get("Content-Type"),
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		render.JSON(w, r, metadata)
	}
}

func (h *BlobHandler) deleteBlob(resolve containerResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		container, err := resolve(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		if err := container.DeleteContent(r.Context(), chi.URLParam(r, "blobID")); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errContainerNotFound),
		errors.Is(err, blobstorage.ErrBlobNotFound),
		errors.Is(err, blobstorage.ErrMetadataNotFound):
		return http.StatusNotFound
	case errors.Is(err, blobstorage.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, blobstorage.ErrInvalidBlobID),
		errors.Is(err, blobstorage.ErrInvalidStoreType):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (h *BlobHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}
