package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// --- Mock adapter ---

type mockAdapter struct {
	mu   sync.Mutex
	data Collections

	blobs       map[string][]byte
	blobSeq     int
	deleteBlobs []string

	writes        int
	failWritesAt  int // fail the n-th write (1-based); 0 fails every write
	errWrite      error
	errDeleteBlob error
	errUpload     error

	feeds map[Kind]chan Collections
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		data:  NewCollections(),
		blobs: make(map[string][]byte),
		feeds: make(map[Kind]chan Collections),
	}
}

func (m *mockAdapter) LoadSnapshot(ctx context.Context) (Collections, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone(), nil
}

func (m *mockAdapter) Subscribe(ctx context.Context, kind Kind) (<-chan Collections, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Collections, 4)
	m.feeds[kind] = ch
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.feeds, kind)
		close(ch)
	}()
	return ch, nil
}

// push delivers a remote snapshot of one collection.
func (m *mockAdapter) push(t *testing.T, kind Kind, snap Collections) {
	t.Helper()
	m.mu.Lock()
	ch, ok := m.feeds[kind]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %s", kind)
	}
	ch <- snap
}

func (m *mockAdapter) subscribed(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.feeds[kind]
	return ok
}

func (m *mockAdapter) WriteRecord(ctx context.Context, kind Kind, id string, record any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.errWrite != nil && (m.failWritesAt == 0 || m.writes == m.failWritesAt) {
		return m.errWrite
	}
	return putRecord(&m.data, kind, id, record)
}

func (m *mockAdapter) DeleteRecord(ctx context.Context, kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.errWrite != nil && (m.failWritesAt == 0 || m.writes == m.failWritesAt) {
		return m.errWrite
	}
	removeRecord(&m.data, kind, id)
	return nil
}

func (m *mockAdapter) UploadBlob(ctx context.Context, kind string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errUpload != nil {
		return "", m.errUpload
	}
	m.blobSeq++
	url := fmt.Sprintf("/blobs/%s-%d", kind, m.blobSeq)
	m.blobs[url] = data
	return url, nil
}

func (m *mockAdapter) DeleteBlob(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteBlobs = append(m.deleteBlobs, url)
	if m.errDeleteBlob != nil {
		return m.errDeleteBlob
	}
	delete(m.blobs, url)
	return nil
}

func (m *mockAdapter) stored() Collections {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// batchAdapter commits mutation sets all-or-nothing.
type batchAdapter struct {
	*mockAdapter
	batches  int
	errBatch error
}

func (b *batchAdapter) WriteBatch(ctx context.Context, muts []Mutation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++
	if b.errBatch != nil {
		return b.errBatch
	}
	next := b.data.Clone()
	for _, m := range muts {
		if m.Record == nil {
			removeRecord(&next, m.Kind, m.ID)
			continue
		}
		if err := putRecord(&next, m.Kind, m.ID, m.Record); err != nil {
			return err
		}
	}
	b.data = next
	return nil
}

func putRecord(c *Collections, kind Kind, id string, record any) error {
	switch r := record.(type) {
	case Session:
		c.Timeline[id] = r
	case Character:
		c.Characters[id] = r
	case Location:
		c.Locations[id] = r
	case Quest:
		c.Quests[id] = r
	case Organization:
		c.Organizations[id] = r
	default:
		return errors.New("unexpected record type")
	}
	return nil
}

func removeRecord(c *Collections, kind Kind, id string) {
	switch kind {
	case KindSessions:
		delete(c.Timeline, id)
	case KindCharacters:
		delete(c.Characters, id)
	case KindLocations:
		delete(c.Locations, id)
	case KindQuests:
		delete(c.Quests, id)
	case KindOrganizations:
		delete(c.Organizations, id)
	}
}

// --- Helpers ---

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func newTestStore(t *testing.T, a Adapter) *Store {
	t.Helper()
	s := NewStore(a, Options{NewID: sequentialIDs()})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, kind Kind, f Fields) string {
	t.Helper()
	id, err := s.Create(context.Background(), kind, f)
	if err != nil {
		t.Fatalf("Create(%s): %v", kind, err)
	}
	return id
}

func findCharacter(s *Store, name string) (Character, bool) {
	for _, ch := range s.Characters() {
		if ch.Name == name {
			return ch, true
		}
	}
	return Character{}, false
}

func assertDense(t *testing.T, s *Store) {
	t.Helper()
	for i, sess := range s.Sessions() {
		if sess.Position != i+1 {
			t.Fatalf("session %s at index %d has position %d", sess.ID, i, sess.Position)
		}
	}
}
