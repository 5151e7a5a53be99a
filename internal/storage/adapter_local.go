package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kalambet/chronicle/internal/campaign"
)

// LocalSnapshotKey is the settings key under which LocalAdapter keeps the
// serialized campaign.
const LocalSnapshotKey = "chronicle-campaign"

// LocalAdapter stores the whole campaign as one JSON document. Every write
// rewrites the document. It has no other writers, so Subscribe never emits.
type LocalAdapter struct {
	blobs
	store *Store

	mu     sync.Mutex
	data   campaign.Collections
	loaded bool
}

var (
	_ campaign.Adapter     = (*LocalAdapter)(nil)
	_ campaign.BatchWriter = (*LocalAdapter)(nil)
)

func NewLocalAdapter(store *Store) *LocalAdapter {
	return &LocalAdapter{blobs: blobs{store: store}, store: store}
}

func (a *LocalAdapter) LoadSnapshot(ctx context.Context) (campaign.Collections, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(); err != nil {
		return campaign.Collections{}, err
	}
	return a.data.Clone(), nil
}

func (a *LocalAdapter) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	raw, err := a.store.GetSetting(LocalSnapshotKey)
	switch {
	case errors.Is(err, ErrNotFound):
		a.data = campaign.NewCollections()
	case err != nil:
		return fmt.Errorf("reading local snapshot: %w", err)
	default:
		var c campaign.Collections
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return fmt.Errorf("decoding local snapshot: %w", err)
		}
		c.Normalize()
		a.data = c
	}
	a.loaded = true
	return nil
}

func (a *LocalAdapter) Subscribe(ctx context.Context, kind campaign.Kind) (<-chan campaign.Collections, error) {
	ch := make(chan campaign.Collections)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (a *LocalAdapter) WriteRecord(ctx context.Context, kind campaign.Kind, id string, record any) error {
	return a.WriteBatch(ctx, []campaign.Mutation{{Kind: kind, ID: id, Record: record}})
}

func (a *LocalAdapter) DeleteRecord(ctx context.Context, kind campaign.Kind, id string) error {
	return a.WriteBatch(ctx, []campaign.Mutation{{Kind: kind, ID: id}})
}

// WriteBatch applies muts to the cached document and saves it once.
func (a *LocalAdapter) WriteBatch(ctx context.Context, muts []campaign.Mutation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureLoaded(); err != nil {
		return err
	}

	next := a.data.Clone()
	for _, m := range muts {
		if m.Record == nil {
			removeRecord(&next, m.Kind, m.ID)
			continue
		}
		// Round-trip through JSON so the cache holds exactly what is saved.
		body, err := json.Marshal(m.Record)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", m.Kind, m.ID, err)
		}
		if err := decodeRecord(&next, m.Kind, m.ID, body); err != nil {
			return fmt.Errorf("decoding %s/%s: %w", m.Kind, m.ID, err)
		}
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding local snapshot: %w", err)
	}
	if err := a.store.SetSetting(LocalSnapshotKey, string(doc)); err != nil {
		return fmt.Errorf("saving local snapshot: %w", err)
	}
	a.data = next
	return nil
}

func removeRecord(c *campaign.Collections, kind campaign.Kind, id string) {
	switch kind {
	case campaign.KindSessions:
		delete(c.Timeline, id)
	case campaign.KindCharacters:
		delete(c.Characters, id)
	case campaign.KindLocations:
		delete(c.Locations, id)
	case campaign.KindQuests:
		delete(c.Quests, id)
	case campaign.KindOrganizations:
		delete(c.Organizations, id)
	}
}
