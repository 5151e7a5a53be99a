package campaign

import (
	"fmt"
	"slices"
	"strings"
)

// Kind names one of the five campaign collections. The string value is the
// collection key used by adapters and the backup format.
type Kind string

const (
	KindSessions      Kind = "timeline"
	KindCharacters    Kind = "characters"
	KindLocations     Kind = "locations"
	KindQuests        Kind = "quests"
	KindOrganizations Kind = "organizations"
)

// Kinds lists every collection in backup-key order.
var Kinds = []Kind{KindSessions, KindCharacters, KindLocations, KindQuests, KindOrganizations}

// ParseKind maps a collection name to its Kind. "sessions" is accepted as an
// alias for the timeline.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timeline", "sessions":
		return KindSessions, nil
	case "characters":
		return KindCharacters, nil
	case "locations":
		return KindLocations, nil
	case "quests":
		return KindQuests, nil
	case "organizations":
		return KindOrganizations, nil
	}
	return "", &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", s)}
}

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
	QuestPaused    QuestStatus = "paused"
)

// Valid reports whether s is one of the known statuses.
func (s QuestStatus) Valid() bool {
	switch s {
	case QuestActive, QuestCompleted, QuestFailed, QuestPaused:
		return true
	}
	return false
}

// Defaults applied to records synthesized for dangling session references.
const (
	StubRace        = "unknown"
	StubClass       = "n/a"
	StubType        = "unknown"
	StubDescription = "add a description"
)

// Base is the part every named entity shares.
type Base struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Session is one recorded game day on the timeline.
type Session struct {
	ID            string   `json:"id"`
	Position      int      `json:"day"`
	Title         string   `json:"title"`
	Body          string   `json:"content"`
	Characters    []string `json:"characters,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	Active        bool     `json:"active"`
}

type Character struct {
	Base
	Race        string `json:"race,omitempty"`
	Class       string `json:"class,omitempty"`
	Appearances []int  `json:"appearances,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type Location struct {
	Base
	Type        string `json:"type,omitempty"`
	Appearances []int  `json:"appearances,omitempty"`
}

type Organization struct {
	Base
	Type        string `json:"type,omitempty"`
	Appearances []int  `json:"appearances,omitempty"`
}

type Quest struct {
	Base
	Status QuestStatus `json:"status"`
}

// Collections is the full campaign state: one map per kind, keyed by ID.
type Collections struct {
	Timeline      map[string]Session      `json:"timeline"`
	Characters    map[string]Character    `json:"characters"`
	Locations     map[string]Location     `json:"locations"`
	Quests        map[string]Quest        `json:"quests"`
	Organizations map[string]Organization `json:"organizations"`
}

// NewCollections returns an empty, fully initialized set of collections.
func NewCollections() Collections {
	return Collections{
		Timeline:      make(map[string]Session),
		Characters:    make(map[string]Character),
		Locations:     make(map[string]Location),
		Quests:        make(map[string]Quest),
		Organizations: make(map[string]Organization),
	}
}

// Normalize replaces nil maps with empty ones.
func (c *Collections) Normalize() {
	if c.Timeline == nil {
		c.Timeline = make(map[string]Session)
	}
	if c.Characters == nil {
		c.Characters = make(map[string]Character)
	}
	if c.Locations == nil {
		c.Locations = make(map[string]Location)
	}
	if c.Quests == nil {
		c.Quests = make(map[string]Quest)
	}
	if c.Organizations == nil {
		c.Organizations = make(map[string]Organization)
	}
}

// Empty reports whether every collection is empty.
func (c Collections) Empty() bool {
	return len(c.Timeline) == 0 && len(c.Characters) == 0 && len(c.Locations) == 0 &&
		len(c.Quests) == 0 && len(c.Organizations) == 0
}

// Clone returns a deep copy.
func (c Collections) Clone() Collections {
	out := NewCollections()
	for id, s := range c.Timeline {
		s.Characters = slices.Clone(s.Characters)
		s.Locations = slices.Clone(s.Locations)
		s.Organizations = slices.Clone(s.Organizations)
		out.Timeline[id] = s
	}
	for id, ch := range c.Characters {
		ch.Appearances = slices.Clone(ch.Appearances)
		out.Characters[id] = ch
	}
	for id, l := range c.Locations {
		l.Appearances = slices.Clone(l.Appearances)
		out.Locations[id] = l
	}
	for id, q := range c.Quests {
		out.Quests[id] = q
	}
	for id, o := range c.Organizations {
		o.Appearances = slices.Clone(o.Appearances)
		out.Organizations[id] = o
	}
	return out
}

// Replace swaps in the collection of the given kind from src.
func (c *Collections) Replace(kind Kind, src Collections) {
	src = src.Clone()
	switch kind {
	case KindSessions:
		c.Timeline = src.Timeline
	case KindCharacters:
		c.Characters = src.Characters
	case KindLocations:
		c.Locations = src.Locations
	case KindQuests:
		c.Quests = src.Quests
	case KindOrganizations:
		c.Organizations = src.Organizations
	}
}

// Record returns the record stored under kind/id.
func (c Collections) Record(kind Kind, id string) (any, bool) {
	var (
		rec any
		ok  bool
	)
	switch kind {
	case KindSessions:
		rec, ok = c.Timeline[id]
	case KindCharacters:
		rec, ok = c.Characters[id]
	case KindLocations:
		rec, ok = c.Locations[id]
	case KindQuests:
		rec, ok = c.Quests[id]
	case KindOrganizations:
		rec, ok = c.Organizations[id]
	}
	return rec, ok
}

// IDs returns the identifiers present in the collection of the given kind.
func (c Collections) IDs(kind Kind) []string {
	var ids []string
	switch kind {
	case KindSessions:
		for id := range c.Timeline {
			ids = append(ids, id)
		}
	case KindCharacters:
		for id := range c.Characters {
			ids = append(ids, id)
		}
	case KindLocations:
		for id := range c.Locations {
			ids = append(ids, id)
		}
	case KindQuests:
		for id := range c.Quests {
			ids = append(ids, id)
		}
	case KindOrganizations:
		for id := range c.Organizations {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Fields is a partial record used by Create and Update. Nil pointers leave
// the stored value unchanged.
type Fields struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`

	// Sessions.
	Title         *string   `json:"title,omitempty"`
	Body          *string   `json:"content,omitempty"`
	Characters    *[]string `json:"characters,omitempty"`
	Locations     *[]string `json:"locations,omitempty"`
	Organizations *[]string `json:"organizations,omitempty"`
	Active        *bool     `json:"active,omitempty"`
	Position      *int      `json:"day,omitempty"`

	// Characters.
	Race  *string `json:"race,omitempty"`
	Class *string `json:"class,omitempty"`

	// Locations and organizations.
	Type *string `json:"type,omitempty"`

	// Quests.
	Status *QuestStatus `json:"status,omitempty"`
}

// Ptr returns a pointer to v. It keeps Fields literals short.
func Ptr[T any](v T) *T { return &v }
