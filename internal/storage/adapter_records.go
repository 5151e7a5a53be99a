package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/chronicle/internal/campaign"
)

// RecordAdapter keeps one row per campaign record and notifies every other
// writer sharing it of committed changes, collection by collection.
type RecordAdapter struct {
	blobs
	store  *Store
	broker *broker
	logger *slog.Logger
}

var (
	_ campaign.Adapter     = (*RecordAdapter)(nil)
	_ campaign.BatchWriter = (*RecordAdapter)(nil)
)

func NewRecordAdapter(store *Store, logger *slog.Logger) *RecordAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordAdapter{
		blobs:  blobs{store: store},
		store:  store,
		broker: newBroker(),
		logger: logger,
	}
}

func (a *RecordAdapter) LoadSnapshot(ctx context.Context) (campaign.Collections, error) {
	return a.load(ctx, "")
}

func (a *RecordAdapter) load(ctx context.Context, kind campaign.Kind) (campaign.Collections, error) {
	recs, err := a.store.ListRecords(ctx, string(kind))
	if err != nil {
		return campaign.Collections{}, fmt.Errorf("listing records: %w", err)
	}
	c := campaign.NewCollections()
	for _, r := range recs {
		if err := decodeRecord(&c, campaign.Kind(r.Kind), r.ID, r.Body); err != nil {
			a.logger.Warn("skipping unreadable record", "kind", r.Kind, "id", r.ID, "error", err)
		}
	}
	return c, nil
}

// Subscribe returns a channel of snapshots of kind written by other origins.
func (a *RecordAdapter) Subscribe(ctx context.Context, kind campaign.Kind) (<-chan campaign.Collections, error) {
	sub := a.broker.subscribe(kind, campaign.OriginFrom(ctx))
	go func() {
		<-ctx.Done()
		a.broker.unsubscribe(kind, sub)
	}()
	return sub.ch, nil
}

func (a *RecordAdapter) WriteRecord(ctx context.Context, kind campaign.Kind, id string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", kind, id, err)
	}
	if err := a.store.PutRecord(ctx, Record{Kind: string(kind), ID: id, Body: body}); err != nil {
		return fmt.Errorf("writing %s/%s: %w", kind, id, err)
	}
	a.publish(ctx, kind)
	return nil
}

// DeleteRecord removes a record. Deleting a missing record succeeds.
func (a *RecordAdapter) DeleteRecord(ctx context.Context, kind campaign.Kind, id string) error {
	if err := a.store.DeleteRecord(ctx, string(kind), id); err != nil && err != ErrNotFound {
		return fmt.Errorf("deleting %s/%s: %w", kind, id, err)
	}
	a.publish(ctx, kind)
	return nil
}

// WriteBatch commits every mutation in one transaction and publishes each
// affected collection once.
func (a *RecordAdapter) WriteBatch(ctx context.Context, muts []campaign.Mutation) error {
	changes := make([]RecordChange, 0, len(muts))
	var kinds []campaign.Kind
	for _, m := range muts {
		c := RecordChange{Kind: string(m.Kind), ID: m.ID}
		if m.Record != nil {
			body, err := json.Marshal(m.Record)
			if err != nil {
				return fmt.Errorf("encoding %s/%s: %w", m.Kind, m.ID, err)
			}
			c.Body = body
		}
		changes = append(changes, c)
		if !containsKind(kinds, m.Kind) {
			kinds = append(kinds, m.Kind)
		}
	}
	if err := a.store.ApplyRecords(ctx, changes); err != nil {
		return err
	}
	for _, kind := range kinds {
		a.publish(ctx, kind)
	}
	return nil
}

func (a *RecordAdapter) publish(ctx context.Context, kind campaign.Kind) {
	if a.broker.subscribers(kind) == 0 {
		return
	}
	snap, err := a.load(ctx, kind)
	if err != nil {
		a.logger.Warn("change not published", "kind", kind, "error", err)
		return
	}
	a.broker.publish(kind, campaign.OriginFrom(ctx), snap)
}

func containsKind(kinds []campaign.Kind, k campaign.Kind) bool {
	for _, have := range kinds {
		if have == k {
			return true
		}
	}
	return false
}

func decodeRecord(c *campaign.Collections, kind campaign.Kind, id string, body []byte) error {
	switch kind {
	case campaign.KindSessions:
		var r campaign.Session
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID = id
		c.Timeline[id] = r
	case campaign.KindCharacters:
		var r campaign.Character
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID = id
		c.Characters[id] = r
	case campaign.KindLocations:
		var r campaign.Location
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID = id
		c.Locations[id] = r
	case campaign.KindQuests:
		var r campaign.Quest
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID = id
		c.Quests[id] = r
	case campaign.KindOrganizations:
		var r campaign.Organization
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		r.ID = id
		c.Organizations[id] = r
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}
