package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/extract"
	"github.com/kalambet/chronicle/internal/suggest"
)

type ReorderRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SuggestRequest struct {
	Text string `json:"text"`
}

type SuggestResponse struct {
	Candidates []suggest.Candidate `json:"candidates"`
}

type ImportResponse struct {
	Text       string              `json:"text"`
	Candidates []suggest.Candidate `json:"candidates"`
}

func handleReorder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ReorderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := deps.Campaign.ReorderSessions(r.Context(), req.From, req.To); err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Campaign.Sessions())
	}
}

func handleConfirm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var d campaign.SessionDraft
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		id, err := deps.Campaign.ConfirmSession(r.Context(), d)
		if err != nil {
			storeError(w, err)
			return
		}
		rec, err := deps.Campaign.Get(campaign.KindSessions, id)
		if err != nil {
			storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleSuggest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SuggestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, SuggestResponse{Candidates: candidates(req.Text)})
	}
}

// handleImport extracts the text of an uploaded session log and proposes
// candidates for it. Nothing is stored until the text is confirmed.
func handleImport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "reading upload: %v", err)
			return
		}
		text, err := extract.Text(r.Header.Get("Content-Type"), data)
		if errors.Is(err, extract.ErrUnsupported) {
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "%s", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
			return
		}
		deps.logger().Debug("session log imported", "bytes", len(data), "chars", len(text))
		writeJSON(w, http.StatusOK, ImportResponse{Text: text, Candidates: candidates(text)})
	}
}

func candidates(text string) []suggest.Candidate {
	c := suggest.Classify(text)
	if c == nil {
		c = []suggest.Candidate{}
	}
	return c
}
