package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/chronicle/internal/campaign"
	"github.com/kalambet/chronicle/internal/settings"
)

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Settings.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		now := time.Now()
		b := deps.Campaign.Export(campaign.BackupMeta{
			Map:        s.Map,
			ExportedBy: s.Nickname,
			ExportedAt: now,
		})
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chronicle-%s.json"`, now.Format("2006-01-02")))
		writeJSON(w, http.StatusOK, b)
	}
}

func handleRestore(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		c, meta, err := campaign.DecodeBackup(r.Body)
		if err != nil {
			storeError(w, err)
			return
		}
		if err := deps.Campaign.Restore(r.Context(), c); err != nil {
			storeError(w, err)
			return
		}
		if meta.Map != "" {
			if err := deps.Settings.Set(settings.KeyMap, meta.Map); err != nil {
				deps.logger().Warn("restored backup map not recorded", "map", meta.Map, "error", err)
			}
		}
		deps.logger().Info("campaign restored", "exported_by", meta.ExportedBy, "sessions", len(c.Timeline))
		writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Settings.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handlePatchSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if key == settings.KeyNickname {
				nick, _ := value.(string)
				if err := deps.Settings.Join(nick); err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
					return
				}
				continue
			}
			if err := deps.Settings.Set(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to set %q: %v", key, err)
				return
			}
		}

		s, err := deps.Settings.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
