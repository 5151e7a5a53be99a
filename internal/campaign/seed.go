package campaign

import (
	"context"
)

// SeedIfEmpty writes the opening session of a new campaign. It does nothing
// when any collection already holds a record and reports whether it seeded.
func (s *Store) SeedIfEmpty(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.data.Empty() {
		return false, nil
	}

	next := s.data.Clone()
	id := s.newID()
	next.Timeline[id] = Session{
		ID:       id,
		Position: 1,
		Title:    DefaultTitle(1),
		Body:     "",
		Active:   true,
	}
	if err := s.commit(ctx, next); err != nil {
		return false, err
	}
	s.logger.Info("campaign seeded", "session", id)
	return true, nil
}
