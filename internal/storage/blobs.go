package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobURLPrefix is the path under which the HTTP server serves blobs.
const BlobURLPrefix = "/blobs/"

// BlobURL returns the URL of the blob with the given ID.
func BlobURL(id string) string {
	return BlobURLPrefix + id
}

// ParseBlobURL extracts the blob ID from a URL produced by BlobURL. Absolute
// URLs are accepted as long as their path has the blob prefix.
func ParseBlobURL(url string) (string, error) {
	i := strings.Index(url, BlobURLPrefix)
	if i < 0 {
		return "", fmt.Errorf("not a blob URL: %q", url)
	}
	id := url[i+len(BlobURLPrefix):]
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid blob id in %q: %w", url, err)
	}
	return id, nil
}

// PutBlob stores data and returns its new ID.
func (s *Store) PutBlob(ctx context.Context, kind, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, kind, content_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, contentType, data, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetBlob(ctx context.Context, id string) (Blob, error) {
	b := Blob{ID: id}
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT kind, content_type, data, created_at FROM blobs WHERE id = ?`, id).
		Scan(&b.Kind, &b.ContentType, &b.Data, &createdAt)
	if err == sql.ErrNoRows {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Blob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return b, nil
}

func (s *Store) DeleteBlob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// blobs implements the blob half of campaign.Adapter for both adapters.
type blobs struct {
	store *Store
}

func (b blobs) UploadBlob(ctx context.Context, kind string, data []byte, contentType string) (string, error) {
	id, err := b.store.PutBlob(ctx, kind, contentType, data)
	if err != nil {
		return "", fmt.Errorf("storing %s blob: %w", kind, err)
	}
	return BlobURL(id), nil
}

// DeleteBlob removes the blob behind url. A blob that is already gone counts
// as deleted.
func (b blobs) DeleteBlob(ctx context.Context, url string) error {
	id, err := ParseBlobURL(url)
	if err != nil {
		return err
	}
	if err := b.store.DeleteBlob(ctx, id); err != nil && err != ErrNotFound {
		return fmt.Errorf("deleting blob %s: %w", id, err)
	}
	return nil
}
