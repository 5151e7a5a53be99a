package storage

import (
	"fmt"
	"log/slog"

	"github.com/kalambet/chronicle/internal/campaign"
)

// Storage backends selectable through configuration.
const (
	BackendRecords = "records"
	BackendLocal   = "local"
)

// NewAdapter returns the campaign adapter for backend.
func NewAdapter(backend string, store *Store, logger *slog.Logger) (campaign.Adapter, error) {
	switch backend {
	case BackendRecords, "":
		return NewRecordAdapter(store, logger), nil
	case BackendLocal:
		return NewLocalAdapter(store), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q (want %s or %s)", backend, BackendRecords, BackendLocal)
}
