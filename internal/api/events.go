package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/chronicle/internal/campaign"
)

const keepAliveInterval = 30 * time.Second

// ChangeEvent is the payload of one "change" server-sent event.
type ChangeEvent struct {
	Kind   campaign.Kind   `json:"kind"`
	Source campaign.Source `json:"source"`
}

// handleEvents streams store change notifications as server-sent events, one
// event per changed collection.
func handleEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		changes, unsubscribe := deps.Campaign.Subscribe()
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case c, ok := <-changes:
				if !ok {
					return
				}
				for _, kind := range c.Kinds {
					data, _ := json.Marshal(ChangeEvent{Kind: kind, Source: c.Source})
					fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
				}
				flusher.Flush()
			}
		}
	}
}
