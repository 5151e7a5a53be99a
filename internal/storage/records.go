package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ListRecords returns every record of kind, ordered by ID. An empty kind
// lists all records.
func (s *Store) ListRecords(ctx context.Context, kind string) ([]Record, error) {
	query := `SELECT kind, id, body, updated_at FROM records`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var body, updatedAt string
		if err := rows.Scan(&r.Kind, &r.ID, &body, &updatedAt); err != nil {
			return nil, err
		}
		r.Body = []byte(body)
		if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s/%s: %w", r.Kind, r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecord returns a single record.
func (s *Store) GetRecord(ctx context.Context, kind, id string) (Record, error) {
	r := Record{Kind: kind, ID: id}
	var body, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT body, updated_at FROM records WHERE kind = ? AND id = ?`, kind, id).
		Scan(&body, &updatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	r.Body = []byte(body)
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Record{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

// PutRecord inserts or replaces a record.
func (s *Store) PutRecord(ctx context.Context, r Record) error {
	return putRecord(ctx, s.db, r)
}

// DeleteRecord removes a record, returning ErrNotFound if it does not exist.
func (s *Store) DeleteRecord(ctx context.Context, kind, id string) error {
	return deleteRecord(ctx, s.db, kind, id)
}

// RecordChange is one element of an ApplyRecords batch. A nil Body deletes.
type RecordChange struct {
	Kind string
	ID   string
	Body []byte
}

// ApplyRecords writes every change in one transaction. Deleting a missing
// record is not an error inside a batch.
func (s *Store) ApplyRecords(ctx context.Context, changes []RecordChange) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			if c.Body == nil {
				if err := deleteRecord(ctx, tx, c.Kind, c.ID); err != nil && err != ErrNotFound {
					return fmt.Errorf("deleting %s/%s: %w", c.Kind, c.ID, err)
				}
				continue
			}
			if err := putRecord(ctx, tx, Record{Kind: c.Kind, ID: c.ID, Body: c.Body}); err != nil {
				return fmt.Errorf("writing %s/%s: %w", c.Kind, c.ID, err)
			}
		}
		return nil
	})
}

func putRecord(ctx context.Context, db execer, r Record) error {
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO records (kind, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		r.Kind, r.ID, string(r.Body), updatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func deleteRecord(ctx context.Context, db execer, kind, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
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
