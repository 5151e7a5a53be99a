package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Backup is the portable JSON document holding a whole campaign.
type Backup struct {
	Timeline      map[string]Session      `json:"timeline"`
	Characters    map[string]Character    `json:"characters"`
	Locations     map[string]Location     `json:"locations"`
	Quests        map[string]Quest        `json:"quests"`
	Organizations map[string]Organization `json:"organizations"`
	Map           string                  `json:"map,omitempty"`
	ExportedBy    string                  `json:"exportedBy,omitempty"`
	ExportedAt    *time.Time              `json:"exportedAt,omitempty"`
}

// BackupMeta carries the optional fields of a backup.
type BackupMeta struct {
	Map        string
	ExportedBy string
	ExportedAt time.Time
}

// NewBackup wraps c and meta into a document ready for encoding.
func NewBackup(c Collections, meta BackupMeta) Backup {
	c = c.Clone()
	b := Backup{
		Timeline:      c.Timeline,
		Characters:    c.Characters,
		Locations:     c.Locations,
		Quests:        c.Quests,
		Organizations: c.Organizations,
		Map:           meta.Map,
		ExportedBy:    meta.ExportedBy,
	}
	if !meta.ExportedAt.IsZero() {
		t := meta.ExportedAt.UTC()
		b.ExportedAt = &t
	}
	return b
}

// Collections returns the five collections held by b.
func (b Backup) Collections() Collections {
	c := Collections{
		Timeline:      b.Timeline,
		Characters:    b.Characters,
		Locations:     b.Locations,
		Quests:        b.Quests,
		Organizations: b.Organizations,
	}
	c.Normalize()
	return c.Clone()
}

// Export snapshots the store. A zero ExportedAt is filled with the current time.
func (s *Store) Export(meta BackupMeta) Backup {
	if meta.ExportedAt.IsZero() {
		meta.ExportedAt = s.now()
	}
	return NewBackup(s.Snapshot(), meta)
}

// DecodeBackup parses a backup document. Every one of the five collection
// keys must be present.
func DecodeBackup(r io.Reader) (Collections, BackupMeta, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Collections{}, BackupMeta{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	for _, kind := range Kinds {
		v, ok := raw[string(kind)]
		if !ok || string(v) == "null" {
			return Collections{}, BackupMeta{}, fmt.Errorf("%w: missing %q", ErrInvalidFormat, kind)
		}
	}

	var b Backup
	for key, dst := range map[string]any{
		string(KindSessions):      &b.Timeline,
		string(KindCharacters):    &b.Characters,
		string(KindLocations):     &b.Locations,
		string(KindQuests):        &b.Quests,
		string(KindOrganizations): &b.Organizations,
	} {
		if err := json.Unmarshal(raw[key], dst); err != nil {
			return Collections{}, BackupMeta{}, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, key, err)
		}
	}

	var meta BackupMeta
	for key, dst := range map[string]any{
		"map":        &meta.Map,
		"exportedBy": &meta.ExportedBy,
		"exportedAt": &meta.ExportedAt,
	} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return Collections{}, BackupMeta{}, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, key, err)
		}
	}

	c := b.Collections()
	if err := validateBackup(c); err != nil {
		return Collections{}, BackupMeta{}, err
	}
	return c, meta, nil
}

// validateBackup rejects records that no reconciliation can repair.
func validateBackup(c Collections) error {
	for id, s := range c.Timeline {
		if s.Title == "" {
			return fmt.Errorf("%w: session %q has no title", ErrInvalidFormat, id)
		}
	}
	for id, ch := range c.Characters {
		if ch.Name == "" {
			return fmt.Errorf("%w: character %q has no name", ErrInvalidFormat, id)
		}
	}
	for id, l := range c.Locations {
		if l.Name == "" {
			return fmt.Errorf("%w: location %q has no name", ErrInvalidFormat, id)
		}
	}
	for id, q := range c.Quests {
		if q.Name == "" {
			return fmt.Errorf("%w: quest %q has no name", ErrInvalidFormat, id)
		}
		if q.Status != "" && !q.Status.Valid() {
			return fmt.Errorf("%w: quest %q has unknown status %q", ErrInvalidFormat, id, q.Status)
		}
	}
	for id, o := range c.Organizations {
		if o.Name == "" {
			return fmt.Errorf("%w: organization %q has no name", ErrInvalidFormat, id)
		}
	}
	return nil
}

// Restore replaces every collection with c. Sessions are renumbered, missing
// entities are synthesized and appearance lists are completed from the
// timeline, all in one mutation set. Appearances recorded in c are kept.
func (s *Store) Restore(ctx context.Context, c Collections) error {
	c.Normalize()
	next := c.Clone()
	for id, rec := range next.Characters {
		rec.ID = id
		next.Characters[id] = rec
	}
	for id, rec := range next.Locations {
		rec.ID = id
		next.Locations[id] = rec
	}
	for id, rec := range next.Organizations {
		rec.ID = id
		next.Organizations[id] = rec
	}
	for id, rec := range next.Quests {
		rec.ID = id
		if rec.Status == "" {
			rec.Status = QuestActive
		}
		next.Quests[id] = rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reconcile(&next, s.newID)

	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("campaign restored",
		"sessions", len(next.Timeline),
		"characters", len(next.Characters),
	)
	return nil
}
