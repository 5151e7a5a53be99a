package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetSetting(key, value string) error
	GetAllSettings() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to the campaign settings.
type Manager struct {
	store Store
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Settings
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get returns the current settings. A store with nothing set yields zero
// Settings.
func (m *Manager) Get() (Settings, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		s := copySettings(m.cached)
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copySettings(m.cached), nil
	}

	keys, err := m.store.GetAllSettings()
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	s := build(keys)
	m.cached = &s
	m.cachedAt = m.clock.Now()
	return copySettings(&s), nil
}

// Set persists one key and invalidates the cache. List values are stored as
// JSON; a plain string is accepted for campaign.players as a comma-separated
// list.
func (m *Manager) Set(key string, value any) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("unknown setting %q (valid: %s)", key, strings.Join(Keys, ", "))
	}

	var str string
	switch v := value.(type) {
	case string:
		str = strings.TrimSpace(v)
		if key == KeyPlayers {
			b, _ := json.Marshal(splitList(str))
			str = string(b)
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetSetting(key, str); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// Join records nickname as this installation's player and adds it to the
// campaign's player list.
func (m *Manager) Join(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return fmt.Errorf("nickname cannot be empty")
	}
	s, err := m.Get()
	if err != nil {
		return err
	}
	if err := m.Set(KeyNickname, nickname); err != nil {
		return err
	}
	if slices.Contains(s.Players, nickname) {
		return nil
	}
	return m.Set(KeyPlayers, append(s.Players, nickname))
}

// Summary renders the settings on one line for status output.
func (s Settings) Summary() string {
	var parts []string
	if s.CampaignName != "" {
		parts = append(parts, s.CampaignName)
	} else {
		parts = append(parts, "unnamed campaign")
	}
	if s.Nickname != "" {
		parts = append(parts, "playing as "+s.Nickname)
	}
	if n := len(s.Players); n > 0 {
		parts = append(parts, fmt.Sprintf("%d players", n))
	}
	if s.Map != "" {
		parts = append(parts, "map set")
	}
	return strings.Join(parts, ", ")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func copySettings(s *Settings) Settings {
	if s == nil {
		return Settings{}
	}
	cp := *s
	cp.Players = slices.Clone(s.Players)
	return cp
}

func build(keys map[string]string) Settings {
	s := Settings{
		Nickname:     keys[KeyNickname],
		CampaignName: keys[KeyCampaignName],
		Map:          keys[KeyMap],
	}
	if v, ok := keys[KeyPlayers]; ok {
		if err := json.Unmarshal([]byte(v), &s.Players); err != nil {
			slog.Warn("malformed setting, skipping", "key", KeyPlayers, "error", err)
		}
	}
	return s
}
