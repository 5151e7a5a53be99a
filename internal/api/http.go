package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/settings"
	"github.com/kalambet/chronicle/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 10 << 20     // 10MB

// BlobStore serves and stores binary content referenced by blob URLs.
// Implemented by storage.Store.
type BlobStore interface {
	PutBlob(ctx context.Context, kind, contentType string, data []byte) (string, error)
	GetBlob(ctx context.Context, id string) (storage.Blob, error)
	DeleteBlob(ctx context.Context, id string) error
}

type AppDeps struct {
	Campaign *campaign.Store
	Settings *settings.Manager
	Blobs    BlobStore
	Token    string
	Logger   *slog.Logger
}

func (d AppDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewAppHandler returns the HTTP surface of the campaign: health and blob
// reads are public, everything under /api requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get(storage.BlobURLPrefix+"{id}", handleGetBlob(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/events", handleEvents(deps))

		r.Post("/suggest", handleSuggest(deps))
		r.Post("/timeline/reorder", handleReorder(deps))
		r.Post("/timeline/confirm", handleConfirm(deps))
		r.Post("/timeline/import", handleImport(deps))
		r.Put("/characters/{id}/avatar", handlePutAvatar(deps))
		r.Put("/map", handlePutMap(deps))

		r.Get("/backup", handleExport(deps))
		r.Post("/backup", handleRestore(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))

		r.Get("/{kind}", handleList(deps))
		r.Post("/{kind}", handleCreate(deps))
		r.Get("/{kind}/{id}", handleGet(deps))
		r.Patch("/{kind}/{id}", handleUpdate(deps))
		r.Delete("/{kind}/{id}", handleDelete(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// storeError maps campaign errors onto HTTP status codes.
func storeError(w http.ResponseWriter, err error) {
	var verr *campaign.ValidationError
	var perr *campaign.PersistenceError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
	case errors.Is(err, campaign.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s", err)
	case errors.Is(err, campaign.ErrInvalidFormat):
		httpError(w, http.StatusBadRequest, "invalid_format", "%s", err)
	case errors.As(err, &perr):
		httpError(w, http.StatusBadGateway, "persistence_error", "%s", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
