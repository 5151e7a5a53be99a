package campaign

import (
	"context"
	"fmt"
	"strings"
)

// SessionDraft is free text plus the candidate names a user accepted for it.
// When SessionID is set the names are added to that existing session instead
// of creating a new one.
type SessionDraft struct {
	SessionID     string   `json:"session_id,omitempty"`
	Title         string   `json:"title,omitempty"`
	Text          string   `json:"text"`
	Characters    []string `json:"characters,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
}

// DefaultTitle is the title given to a session confirmed without one.
func DefaultTitle(position int) string {
	return fmt.Sprintf("Giornata %d", position)
}

// ConfirmSession records accepted suggestions. Confirming the same names for
// the same session twice leaves the store unchanged.
func (s *Store) ConfirmSession(ctx context.Context, d SessionDraft) (string, error) {
	if d.SessionID == "" && strings.TrimSpace(d.Text) == "" && strings.TrimSpace(d.Title) == "" {
		return "", &ValidationError{Field: "text", Message: "cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.Clone()
	id := d.SessionID
	if id == "" {
		id = s.newID()
		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = DefaultTitle(len(next.Timeline) + 1)
		}
		f := Fields{
			Title:         &title,
			Body:          &d.Text,
			Characters:    &d.Characters,
			Locations:     &d.Locations,
			Organizations: &d.Organizations,
		}
		if err := s.buildSession(&next, id, f); err != nil {
			return "", err
		}
	} else {
		sess, ok := next.Timeline[id]
		if !ok {
			return "", notFound(KindSessions, id)
		}
		sess.Characters = normalizeNames(append(sess.Characters, d.Characters...))
		sess.Locations = normalizeNames(append(sess.Locations, d.Locations...))
		sess.Organizations = normalizeNames(append(sess.Organizations, d.Organizations...))
		if t := strings.TrimSpace(d.Title); t != "" {
			sess.Title = t
		}
		if d.Text != "" {
			sess.Body = d.Text
		}
		next.Timeline[id] = sess
		enrich(&next, sess, s.newID)
	}

	if err := s.commit(ctx, next); err != nil {
		return "", err
	}
	s.logger.Info("session confirmed", "id", id,
		"characters", len(d.Characters), "locations", len(d.Locations), "organizations", len(d.Organizations))
	return id, nil
}
