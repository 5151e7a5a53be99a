package campaign

import (
	"cmp"
	"reflect"
	"slices"
	"strings"
)

// orderedSessions returns the timeline sorted by position, ties broken by ID.
func orderedSessions(c Collections) []Session {
	out := make([]Session, 0, len(c.Timeline))
	for _, s := range c.Timeline {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int {
		if n := cmp.Compare(a.Position, b.Position); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// renumber assigns positions 1..N following order and rewrites every
// appearance list through the old->new mapping. Positions whose session is
// no longer on the timeline are dropped.
func renumber(c *Collections, order []Session) {
	remap := make(map[int]int, len(order))
	for i, s := range order {
		remap[s.Position] = i + 1
		s.Position = i + 1
		c.Timeline[s.ID] = s
	}
	// Duplicate old positions make the mapping ambiguous. Callers re-enrich
	// every session after renumbering such a timeline.
	if len(remap) != len(order) {
		clearAppearances(c)
		return
	}
	mapList := func(in []int) []int {
		var out []int
		for _, p := range in {
			if np, ok := remap[p]; ok {
				out = addPosition(out, np)
			}
		}
		return out
	}
	for id, ch := range c.Characters {
		ch.Appearances = mapList(ch.Appearances)
		c.Characters[id] = ch
	}
	for id, l := range c.Locations {
		l.Appearances = mapList(l.Appearances)
		c.Locations[id] = l
	}
	for id, o := range c.Organizations {
		o.Appearances = mapList(o.Appearances)
		c.Organizations[id] = o
	}
}

// dense reports whether session positions already form 1..N.
func dense(c Collections) bool {
	for i, s := range orderedSessions(c) {
		if s.Position != i+1 {
			return false
		}
	}
	return true
}

// addPosition inserts p into the sorted list if it is not there yet.
func addPosition(list []int, p int) []int {
	i, found := slices.BinarySearch(list, p)
	if found {
		return list
	}
	return slices.Insert(list, i, p)
}

// normalizeNames trims, drops blanks and removes duplicates while keeping the
// order of first mention.
func normalizeNames(names []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// lookupName finds a record by exact, case-sensitive name. When remote
// writers produced duplicates the smallest ID wins.
func lookupName[T any](m map[string]T, name string, nameOf func(T) string) (string, bool) {
	best := ""
	for id, rec := range m {
		if nameOf(rec) != name {
			continue
		}
		if best == "" || id < best {
			best = id
		}
	}
	return best, best != ""
}

func characterName(c Character) string       { return c.Name }
func locationName(l Location) string         { return l.Name }
func organizationName(o Organization) string { return o.Name }
func questName(q Quest) string               { return q.Name }

// resolver turns names into record IDs, synthesizing stubs when needed.
type resolver struct {
	c     *Collections
	newID func() string
}

func (r resolver) character(name string) string {
	if id, ok := lookupName(r.c.Characters, name, characterName); ok {
		return id
	}
	id := r.newID()
	r.c.Characters[id] = Character{
		Base:  Base{ID: id, Name: name, Description: StubDescription},
		Race:  StubRace,
		Class: StubClass,
	}
	return id
}

func (r resolver) location(name string) string {
	if id, ok := lookupName(r.c.Locations, name, locationName); ok {
		return id
	}
	id := r.newID()
	r.c.Locations[id] = Location{
		Base: Base{ID: id, Name: name, Description: StubDescription},
		Type: StubType,
	}
	return id
}

func (r resolver) organization(name string) string {
	if id, ok := lookupName(r.c.Organizations, name, organizationName); ok {
		return id
	}
	id := r.newID()
	r.c.Organizations[id] = Organization{
		Base: Base{ID: id, Name: name, Description: StubDescription},
		Type: StubType,
	}
	return id
}

// enrich links one session to every entity it names: stubs are synthesized
// for unknown names and the session position is added to each appearance
// list. It is idempotent.
func enrich(c *Collections, s Session, newID func() string) {
	r := resolver{c: c, newID: newID}
	for _, name := range s.Characters {
		id := r.character(name)
		ch := c.Characters[id]
		ch.Appearances = addPosition(ch.Appearances, s.Position)
		c.Characters[id] = ch
	}
	for _, name := range s.Locations {
		id := r.location(name)
		l := c.Locations[id]
		l.Appearances = addPosition(l.Appearances, s.Position)
		c.Locations[id] = l
	}
	for _, name := range s.Organizations {
		id := r.organization(name)
		o := c.Organizations[id]
		o.Appearances = addPosition(o.Appearances, s.Position)
		c.Organizations[id] = o
	}
}

func isStubCharacter(ch Character) bool {
	return ch.Description == StubDescription && ch.Race == StubRace && ch.Class == StubClass && ch.Avatar == ""
}

func isStubLocation(l Location) bool {
	return l.Description == StubDescription && l.Type == StubType
}

func isStubOrganization(o Organization) bool {
	return o.Description == StubDescription && o.Type == StubType
}

// mergeStubs folds untouched stubs into the record that shares their name.
// Two writers that synthesized a stub for the same name each keep the same
// record: the smallest non-stub ID, else the smallest ID.
func mergeStubs[T any](m map[string]T, nameOf func(T) string, isStub func(T) bool, appearances func(*T) *[]int) {
	byName := make(map[string][]string)
	for id, rec := range m {
		byName[nameOf(rec)] = append(byName[nameOf(rec)], id)
	}
	for _, ids := range byName {
		if len(ids) < 2 {
			continue
		}
		slices.Sort(ids)
		keep := ids[0]
		for _, id := range ids {
			if !isStub(m[id]) {
				keep = id
				break
			}
		}
		kept := m[keep]
		for _, id := range ids {
			dup := m[id]
			if id == keep || !isStub(dup) {
				continue
			}
			for _, p := range *appearances(&dup) {
				*appearances(&kept) = addPosition(*appearances(&kept), p)
			}
			delete(m, id)
		}
		m[keep] = kept
	}
}

// reconcile restores every invariant on a state that may come from a writer
// that did not apply them: dense positions, stubs and appearances.
func reconcile(c *Collections, newID func() string) {
	c.Normalize()
	mergeStubs(c.Characters, characterName, isStubCharacter, func(ch *Character) *[]int { return &ch.Appearances })
	mergeStubs(c.Locations, locationName, isStubLocation, func(l *Location) *[]int { return &l.Appearances })
	mergeStubs(c.Organizations, organizationName, isStubOrganization, func(o *Organization) *[]int { return &o.Appearances })
	for id, s := range c.Timeline {
		s.ID = id
		s.Characters = normalizeNames(s.Characters)
		s.Locations = normalizeNames(s.Locations)
		s.Organizations = normalizeNames(s.Organizations)
		c.Timeline[id] = s
	}
	if !dense(*c) {
		renumber(c, orderedSessions(*c))
	}
	for _, s := range orderedSessions(*c) {
		enrich(c, s, newID)
	}
}

// RebuildAppearances recomputes every appearance list from scratch by
// folding the sessions in ascending position order. Missing entities are
// synthesized with newID. The input is not modified.
func RebuildAppearances(c Collections, newID func() string) Collections {
	out := c.Clone()
	clearAppearances(&out)
	for _, s := range orderedSessions(out) {
		enrich(&out, s, newID)
	}
	return out
}

func clearAppearances(c *Collections) {
	for id, ch := range c.Characters {
		ch.Appearances = nil
		c.Characters[id] = ch
	}
	for id, l := range c.Locations {
		l.Appearances = nil
		c.Locations[id] = l
	}
	for id, o := range c.Organizations {
		o.Appearances = nil
		c.Organizations[id] = o
	}
}

// dropReference removes name from one reference set of every session.
func dropReference(c *Collections, kind Kind, name string) {
	for id, s := range c.Timeline {
		switch kind {
		case KindCharacters:
			s.Characters = slices.DeleteFunc(s.Characters, func(n string) bool { return n == name })
		case KindLocations:
			s.Locations = slices.DeleteFunc(s.Locations, func(n string) bool { return n == name })
		case KindOrganizations:
			s.Organizations = slices.DeleteFunc(s.Organizations, func(n string) bool { return n == name })
		}
		c.Timeline[id] = s
	}
}

// renameReference rewrites references to an entity whose name changed.
func renameReference(c *Collections, kind Kind, from, to string) {
	swap := func(names []string) []string {
		for i, n := range names {
			if n == from {
				names[i] = to
			}
		}
		return normalizeNames(names)
	}
	for id, s := range c.Timeline {
		switch kind {
		case KindCharacters:
			s.Characters = swap(s.Characters)
		case KindLocations:
			s.Locations = swap(s.Locations)
		case KindOrganizations:
			s.Organizations = swap(s.Organizations)
		}
		c.Timeline[id] = s
	}
}

// diff lists the mutations that turn prev into next.
func diff(prev, next Collections) []Mutation {
	var muts []Mutation
	add := func(kind Kind) {
		for _, id := range next.IDs(kind) {
			rec, _ := next.Record(kind, id)
			old, existed := prev.Record(kind, id)
			if existed && reflect.DeepEqual(old, rec) {
				continue
			}
			m := Mutation{Kind: kind, ID: id, Record: rec}
			if existed {
				m.Prev = old
			}
			muts = append(muts, m)
		}
		for _, id := range prev.IDs(kind) {
			if _, ok := next.Record(kind, id); ok {
				continue
			}
			old, _ := prev.Record(kind, id)
			muts = append(muts, Mutation{Kind: kind, ID: id, Prev: old})
		}
	}
	for _, kind := range Kinds {
		add(kind)
	}
	return muts
}
