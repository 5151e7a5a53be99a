package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chronicle/internal/settings"
	"github.com/kalambet/chronicle/internal/storage"
)

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "reading upload: %v", err)
		return nil, "", false
	}
	if len(data) == 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "empty upload")
		return nil, "", false
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, true
}

func handlePutAvatar(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, ok := readUpload(w, r)
		if !ok {
			return
		}
		url, err := deps.Campaign.SetAvatar(r.Context(), chi.URLParam(r, "id"), data, contentType)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"avatar": url})
	}
}

// handlePutMap stores the campaign map and drops the one it replaces.
func handlePutMap(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, ok := readUpload(w, r)
		if !ok {
			return
		}
		current, err := deps.Settings.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}

		id, err := deps.Blobs.PutBlob(r.Context(), "map", contentType, data)
		if err != nil {
			httpError(w, http.StatusBadGateway, "persistence_error", "failed to store map: %v", err)
			return
		}
		url := storage.BlobURL(id)
		if err := deps.Settings.Set(settings.KeyMap, url); err != nil {
			_ = deps.Blobs.DeleteBlob(r.Context(), id)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record map: %v", err)
			return
		}

		if current.Map != "" {
			if prev, err := storage.ParseBlobURL(current.Map); err == nil {
				if err := deps.Blobs.DeleteBlob(r.Context(), prev); err != nil && !errors.Is(err, storage.ErrNotFound) {
					deps.logger().Warn("previous map not deleted", "url", current.Map, "error", err)
				}
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"map": url})
	}
}

// handleGetBlob serves blob content. The URL itself is the capability, so no
// token is required.
func handleGetBlob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := storage.ParseBlobURL(r.URL.Path)
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "blob not found")
			return
		}
		blob, err := deps.Blobs.GetBlob(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "blob not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get blob: %v", err)
			return
		}
		w.Header().Set("Content-Type", blob.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
		w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
		w.Write(blob.Data)
	}
}
