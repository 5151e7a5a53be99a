package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/chronicle/internal/storage"
)

type mockDeleter struct {
	mu       sync.Mutex
	deleted  []string
	deleteFn func(url string) error
}

func (m *mockDeleter) DeleteBlob(_ context.Context, url string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(url); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, url)
	return nil
}

func (m *mockDeleter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deleted)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countJobs(t *testing.T, store *storage.Store) map[string]int {
	t.Helper()
	counts, err := store.CountJobs(context.Background(), JobBlobDelete)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	return counts
}

func TestWorker_DeletesOrphanedBlob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	adapter := storage.NewRecordAdapter(store, nil)

	url, err := adapter.UploadBlob(ctx, "avatar", []byte("img"), "image/png")
	if err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}

	w := NewWorker(store, adapter, 0, nil)
	w.Enqueue(ctx, url, errors.New("network down"))

	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected a job")
	}

	id, _ := storage.ParseBlobURL(url)
	if _, err := store.GetBlob(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("blob still present after janitor run: %v", err)
	}
	if got := countJobs(t, store); got["completed"] != 1 {
		t.Errorf("job counts = %v, want 1 completed", got)
	}
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockDeleter{}, 0, nil)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_FailureBacksOff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	deleter := &mockDeleter{deleteFn: func(string) error { return fmt.Errorf("still down") }}
	w := NewWorker(store, deleter, 0, nil)

	w.Enqueue(ctx, "/blobs/0190c7a4-6a1e-7c3b-9a43-0c3f7d9b2e11", nil)

	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false")
	}
	if got := countJobs(t, store); got["pending"] != 1 {
		t.Errorf("job counts = %v, want 1 pending retry", got)
	}

	// The retry is scheduled in the future, so nothing is claimable now.
	didWork, err = w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce 2: %v", err)
	}
	if didWork {
		t.Error("job claimed again before its backoff elapsed")
	}
}

func TestWorker_BadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.EnqueueJob(ctx, storage.Job{
		ID:          "job-bad",
		Type:        JobBlobDelete,
		PayloadJSON: `{"url":""}`,
		MaxAttempts: 1,
	}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	deleter := &mockDeleter{}
	w := NewWorker(store, deleter, 0, nil)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := countJobs(t, store); got["failed"] != 1 {
		t.Errorf("job counts = %v, want 1 failed", got)
	}
	if deleter.count() != 0 {
		t.Error("deleter called for an empty url")
	}
}

func TestWorker_IgnoresOtherJobTypes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.EnqueueJob(ctx, storage.Job{ID: "job-other", Type: "export", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	w := NewWorker(store, &mockDeleter{}, 0, nil)
	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("janitor claimed a job of another type")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	deleter := &mockDeleter{}
	w := NewWorker(store, deleter, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := range 3 {
		w.Enqueue(context.Background(), fmt.Sprintf("/blobs/0190c7a4-6a1e-7c3b-9a43-0c3f7d9b2e1%d", i), nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for deleter.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 3 blobs deleted", deleter.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
