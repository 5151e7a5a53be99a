package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/chronicle/internal/campaign"
)

func parseKind(w http.ResponseWriter, r *http.Request) (campaign.Kind, bool) {
	kind, err := campaign.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpError(w, http.StatusNotFound, "not_found", "%s", err)
		return "", false
	}
	return kind, true
}

func decodeFields(w http.ResponseWriter, r *http.Request) (campaign.Fields, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var f campaign.Fields
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return f, false
	}
	return f, true
}

func handleList(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, deps.Campaign.List(kind))
	}
}

func handleGet(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(w, r)
		if !ok {
			return
		}
		rec, err := deps.Campaign.Get(kind, chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleCreate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(w, r)
		if !ok {
			return
		}
		f, ok := decodeFields(w, r)
		if !ok {
			return
		}
		id, err := deps.Campaign.Create(r.Context(), kind, f)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleUpdate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(w, r)
		if !ok {
			return
		}
		f, ok := decodeFields(w, r)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")
		if err := deps.Campaign.Update(r.Context(), kind, id, f); err != nil {
			storeError(w, err)
			return
		}
		rec, err := deps.Campaign.Get(kind, id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := parseKind(w, r)
		if !ok {
			return
		}
		if err := deps.Campaign.Delete(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
