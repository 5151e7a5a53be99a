package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestBackup_RoundTrip(t *testing.T) {
	src := newTestStore(t, newMockAdapter())
	ctx := context.Background()
	mustCreate(t, src, KindSessions, Fields{Title: Ptr("one"), Characters: &[]string{"Garli"}, Locations: &[]string{"Borgo"}})
	mustCreate(t, src, KindSessions, Fields{Title: Ptr("two"), Organizations: &[]string{"Ordine del Drago"}, Active: Ptr(false)})
	mustCreate(t, src, KindQuests, Fields{Name: Ptr("Find the crown"), Status: Ptr(QuestPaused)})
	mustCreate(t, src, KindCharacters, Fields{Name: Ptr("Zoltab"), Race: Ptr("dwarf")})
	if err := src.ReorderSessions(ctx, 2, 1); err != nil {
		t.Fatalf("ReorderSessions: %v", err)
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(src.Export(BackupMeta{ExportedBy: "Mira", ExportedAt: at, Map: "/blobs/m"})); err != nil {
		t.Fatalf("encode: %v", err)
	}

	c, meta, err := DecodeBackup(&buf)
	if err != nil {
		t.Fatalf("DecodeBackup: %v", err)
	}
	if meta.ExportedBy != "Mira" || !meta.ExportedAt.Equal(at) || meta.Map != "/blobs/m" {
		t.Errorf("unexpected meta: %+v", meta)
	}

	dst := newTestStore(t, newMockAdapter())
	if err := dst.Restore(ctx, c); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("restored store differs (-src +dst):\n%s", diff)
	}
}

func TestRestore_ReplacesWholesale(t *testing.T) {
	a := newMockAdapter()
	s := newTestStore(t, a)
	mustCreate(t, s, KindCharacters, Fields{Name: Ptr("Old")})

	c := NewCollections()
	c.Timeline["x"] = Session{ID: "x", Position: 7, Title: "only", Characters: []string{"New"}}
	if err := s.Restore(context.Background(), c); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, ok := findCharacter(s, "Old"); ok {
		t.Error("character missing from backup survived restore")
	}
	ch, ok := findCharacter(s, "New")
	if !ok || len(ch.Appearances) != 1 || ch.Appearances[0] != 1 {
		t.Errorf("expected stub New appearing in 1, got %+v", ch)
	}
	if got := s.Sessions()[0].Position; got != 1 {
		t.Errorf("position = %d, want 1", got)
	}
	if len(a.stored().Characters) != 1 {
		t.Errorf("adapter characters = %d, want 1", len(a.stored().Characters))
	}
}

func TestDecodeBackup_InvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "{"},
		{"missing quests", `{"timeline":{},"characters":{},"locations":{},"organizations":{}}`},
		{"null collection", `{"timeline":null,"characters":{},"locations":{},"quests":{},"organizations":{}}`},
		{"wrong shape", `{"timeline":[],"characters":{},"locations":{},"quests":{},"organizations":{}}`},
		{"nameless character", `{"timeline":{},"characters":{"a":{"id":"a"}},"locations":{},"quests":{},"organizations":{}}`},
		{"numeric export time", `{"timeline":{},"characters":{},"locations":{},"quests":{},"organizations":{},"exportedAt":42}`},
		{"unparsable export time", `{"timeline":{},"characters":{},"locations":{},"quests":{},"organizations":{},"exportedAt":"yesterday"}`},
		{"exporter not a string", `{"timeline":{},"characters":{},"locations":{},"quests":{},"organizations":{},"exportedBy":{"name":"x"}}`},
		{"map not a string", `{"timeline":{},"characters":{},"locations":{},"quests":{},"organizations":{},"map":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeBackup(strings.NewReader(tt.in))
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("expected ErrInvalidFormat, got %v", err)
			}
		})
	}
}

func TestDecodeBackup_InvalidLeavesStoreUntouched(t *testing.T) {
	s := newTestStore(t, newMockAdapter())
	mustCreate(t, s, KindCharacters, Fields{Name: Ptr("Zoltab")})
	before := s.Snapshot()

	if _, _, err := DecodeBackup(strings.NewReader(`{"timeline":{}}`)); err == nil {
		t.Fatal("expected error")
	}
	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("store changed:\n%s", diff)
	}
}
