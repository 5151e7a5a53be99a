package campaign

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source tells subscribers where a change came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Change is emitted after every successful mutation or remote replacement.
type Change struct {
	Kinds  []Kind `json:"kinds"`
	Source Source `json:"source"`
}

// Options tunes a Store. Zero values select defaults.
type Options struct {
	Logger *slog.Logger
	// NewID generates record identifiers. Defaults to UUIDv7.
	NewID func() string
	Now   func() time.Time
	// OrphanedBlob is called when deleting a blob fails after its owning
	// record is gone, so the blob can be collected later.
	OrphanedBlob func(ctx context.Context, url string, err error)
}

// Store owns the campaign collections. All mutations are serialized and go
// through the reconciliation rules before they reach the adapter.
type Store struct {
	adapter  Adapter
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time
	orphaned func(ctx context.Context, url string, err error)
	origin   string

	mu   sync.RWMutex
	data Collections

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// NewStore creates an empty Store backed by adapter. Call Load to populate it.
func NewStore(adapter Adapter, opts Options) *Store {
	s := &Store{
		adapter:  adapter,
		logger:   opts.Logger,
		newID:    opts.NewID,
		now:      opts.Now,
		orphaned: opts.OrphanedBlob,
		data:     NewCollections(),
		subs:     make(map[int]chan Change),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newID == nil {
		s.newID = newUUID
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.orphaned == nil {
		s.orphaned = func(context.Context, string, error) {}
	}
	s.origin = uuid.NewString()
	return s
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Origin identifies this Store in adapter calls.
func (s *Store) Origin() string { return s.origin }

func (s *Store) adapterCtx(ctx context.Context) context.Context {
	return WithOrigin(ctx, s.origin)
}

// Load replaces the in-memory state with the adapter snapshot and repairs
// whatever invariants the stored data violates.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.adapter.LoadSnapshot(s.adapterCtx(ctx))
	if err != nil {
		return &PersistenceError{Op: "load snapshot", Err: err}
	}
	snap.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := snap.Clone()
	reconcile(&next, s.newID)
	if err := s.persist(ctx, diff(snap, next)); err != nil {
		return err
	}
	s.data = next
	s.logger.Debug("campaign loaded",
		"sessions", len(next.Timeline),
		"characters", len(next.Characters),
		"locations", len(next.Locations),
		"quests", len(next.Quests),
		"organizations", len(next.Organizations),
	)
	s.notify(Change{Kinds: slices.Clone(Kinds), Source: SourceLocal})
	return nil
}

// commit persists the difference between the current state and next, then
// swaps next in. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next Collections) error {
	muts := diff(s.data, next)
	if len(muts) == 0 {
		return nil
	}
	if err := s.persist(ctx, muts); err != nil {
		return err
	}
	s.data = next
	s.notify(Change{Kinds: mutatedKinds(muts), Source: SourceLocal})
	return nil
}

func (s *Store) persist(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	actx := s.adapterCtx(ctx)
	if bw, ok := s.adapter.(BatchWriter); ok {
		if err := bw.WriteBatch(actx, muts); err != nil {
			return &PersistenceError{Op: "write batch", Err: err}
		}
		return nil
	}
	for i, m := range muts {
		if err := s.apply(actx, m); err != nil {
			s.compensate(actx, muts[:i])
			return &PersistenceError{Op: fmt.Sprintf("write %s/%s", m.Kind, m.ID), Err: err}
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m Mutation) error {
	if m.Record == nil {
		return s.adapter.DeleteRecord(ctx, m.Kind, m.ID)
	}
	return s.adapter.WriteRecord(ctx, m.Kind, m.ID, m.Record)
}

// compensate undoes already applied mutations in reverse order. It runs even
// when the caller's context is done.
func (s *Store) compensate(ctx context.Context, applied []Mutation) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		m := applied[i]
		undo := Mutation{Kind: m.Kind, ID: m.ID, Record: m.Prev}
		if err := s.apply(ctx, undo); err != nil {
			s.logger.Error("rollback failed", "kind", m.Kind, "id", m.ID, "error", err)
		}
	}
}

func mutatedKinds(muts []Mutation) []Kind {
	var kinds []Kind
	for _, m := range muts {
		if !slices.Contains(kinds, m.Kind) {
			kinds = append(kinds, m.Kind)
		}
	}
	return kinds
}

// --- mutations ---

// Create adds a record to the collection and returns its new identifier.
func (s *Store) Create(ctx context.Context, kind Kind, f Fields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.Clone()
	id := s.newID()
	if err := s.build(&next, kind, id, f); err != nil {
		return "", err
	}
	if err := s.commit(ctx, next); err != nil {
		return "", err
	}
	s.logger.Info("record created", "kind", kind, "id", id)
	return id, nil
}

func (s *Store) build(c *Collections, kind Kind, id string, f Fields) error {
	switch kind {
	case KindSessions:
		return s.buildSession(c, id, f)
	case KindCharacters:
		name, err := requireName(f)
		if err != nil {
			return err
		}
		if _, dup := lookupName(c.Characters, name, characterName); dup {
			return duplicateName(kind, name)
		}
		ch := Character{Base: Base{ID: id, Name: name}}
		mergeCharacter(&ch, f)
		ch.Name = name
		c.Characters[id] = ch
	case KindLocations:
		name, err := requireName(f)
		if err != nil {
			return err
		}
		if _, dup := lookupName(c.Locations, name, locationName); dup {
			return duplicateName(kind, name)
		}
		l := Location{Base: Base{ID: id}}
		mergeBase(&l.Base, f)
		l.Name = name
		if f.Type != nil {
			l.Type = *f.Type
		}
		c.Locations[id] = l
	case KindOrganizations:
		name, err := requireName(f)
		if err != nil {
			return err
		}
		if _, dup := lookupName(c.Organizations, name, organizationName); dup {
			return duplicateName(kind, name)
		}
		o := Organization{Base: Base{ID: id}}
		mergeBase(&o.Base, f)
		o.Name = name
		if f.Type != nil {
			o.Type = *f.Type
		}
		c.Organizations[id] = o
	case KindQuests:
		name, err := requireName(f)
		if err != nil {
			return err
		}
		if _, dup := lookupName(c.Quests, name, questName); dup {
			return duplicateName(kind, name)
		}
		q := Quest{Base: Base{ID: id}, Status: QuestActive}
		if err := mergeQuest(&q, f); err != nil {
			return err
		}
		q.Name = name
		c.Quests[id] = q
	default:
		return &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", kind)}
	}
	return nil
}

func (s *Store) buildSession(c *Collections, id string, f Fields) error {
	title := ""
	switch {
	case f.Title != nil:
		title = strings.TrimSpace(*f.Title)
	case f.Name != nil:
		title = strings.TrimSpace(*f.Name)
	}
	if title == "" {
		return &ValidationError{Field: "title", Message: "cannot be empty"}
	}

	order := orderedSessions(*c)
	pos := len(order) + 1
	if f.Position != nil {
		pos = *f.Position
		if pos < 1 || pos > len(order)+1 {
			return &ValidationError{Field: "day", Message: fmt.Sprintf("position %d out of range [1, %d]", pos, len(order)+1)}
		}
	}

	sess := Session{ID: id, Title: title, Active: true}
	if f.Body != nil {
		sess.Body = *f.Body
	}
	if f.Active != nil {
		sess.Active = *f.Active
	}
	if f.Characters != nil {
		sess.Characters = normalizeNames(*f.Characters)
	}
	if f.Locations != nil {
		sess.Locations = normalizeNames(*f.Locations)
	}
	if f.Organizations != nil {
		sess.Organizations = normalizeNames(*f.Organizations)
	}

	// Shift later sessions out of the way, then close the numbering.
	if pos <= len(order) {
		sess.Position = pos
		shifted := make([]Session, 0, len(order)+1)
		shifted = append(shifted, order[:pos-1]...)
		shifted = append(shifted, sess)
		shifted = append(shifted, order[pos-1:]...)
		c.Timeline[id] = sess
		renumberWithInsert(c, shifted, pos)
	} else {
		sess.Position = pos
		c.Timeline[id] = sess
	}
	enrich(c, c.Timeline[id], s.newID)
	return nil
}

// renumberWithInsert renumbers after inserting a new session at pos: every
// existing appearance at or after pos moves up by one.
func renumberWithInsert(c *Collections, order []Session, pos int) {
	for i, sess := range order {
		sess.Position = i + 1
		c.Timeline[sess.ID] = sess
	}
	shift := func(in []int) []int {
		var out []int
		for _, p := range in {
			if p >= pos {
				p++
			}
			out = addPosition(out, p)
		}
		return out
	}
	for id, ch := range c.Characters {
		ch.Appearances = shift(ch.Appearances)
		c.Characters[id] = ch
	}
	for id, l := range c.Locations {
		l.Appearances = shift(l.Appearances)
		c.Locations[id] = l
	}
	for id, o := range c.Organizations {
		o.Appearances = shift(o.Appearances)
		c.Organizations[id] = o
	}
}

// Update merges f into the record. Unset fields keep their values.
func (s *Store) Update(ctx context.Context, kind Kind, id string, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.Clone()
	if err := s.merge(&next, kind, id, f); err != nil {
		return err
	}
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("record updated", "kind", kind, "id", id)
	return nil
}

func (s *Store) merge(c *Collections, kind Kind, id string, f Fields) error {
	if f.Name != nil && strings.TrimSpace(*f.Name) == "" && kind != KindSessions {
		return &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	switch kind {
	case KindSessions:
		sess, ok := c.Timeline[id]
		if !ok {
			return notFound(kind, id)
		}
		if f.Position != nil && *f.Position != sess.Position {
			return &ValidationError{Field: "day", Message: "use reorder to move a session"}
		}
		title := f.Title
		if title == nil {
			title = f.Name
		}
		if title != nil {
			if strings.TrimSpace(*title) == "" {
				return &ValidationError{Field: "title", Message: "cannot be empty"}
			}
			sess.Title = strings.TrimSpace(*title)
		}
		if f.Body != nil {
			sess.Body = *f.Body
		}
		if f.Active != nil {
			sess.Active = *f.Active
		}
		if f.Characters != nil {
			sess.Characters = normalizeNames(*f.Characters)
		}
		if f.Locations != nil {
			sess.Locations = normalizeNames(*f.Locations)
		}
		if f.Organizations != nil {
			sess.Organizations = normalizeNames(*f.Organizations)
		}
		c.Timeline[id] = sess
		enrich(c, sess, s.newID)
	case KindCharacters:
		ch, ok := c.Characters[id]
		if !ok {
			return notFound(kind, id)
		}
		old := ch.Name
		mergeCharacter(&ch, f)
		if err := checkRename(c.Characters, id, ch.Name, characterName, kind); err != nil {
			return err
		}
		c.Characters[id] = ch
		renameReference(c, kind, old, ch.Name)
	case KindLocations:
		l, ok := c.Locations[id]
		if !ok {
			return notFound(kind, id)
		}
		old := l.Name
		mergeBase(&l.Base, f)
		if f.Type != nil {
			l.Type = *f.Type
		}
		if err := checkRename(c.Locations, id, l.Name, locationName, kind); err != nil {
			return err
		}
		c.Locations[id] = l
		renameReference(c, kind, old, l.Name)
	case KindOrganizations:
		o, ok := c.Organizations[id]
		if !ok {
			return notFound(kind, id)
		}
		old := o.Name
		mergeBase(&o.Base, f)
		if f.Type != nil {
			o.Type = *f.Type
		}
		if err := checkRename(c.Organizations, id, o.Name, organizationName, kind); err != nil {
			return err
		}
		c.Organizations[id] = o
		renameReference(c, kind, old, o.Name)
	case KindQuests:
		q, ok := c.Quests[id]
		if !ok {
			return notFound(kind, id)
		}
		if err := mergeQuest(&q, f); err != nil {
			return err
		}
		if err := checkRename(c.Quests, id, q.Name, questName, kind); err != nil {
			return err
		}
		c.Quests[id] = q
	default:
		return &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", kind)}
	}
	return nil
}

// Delete removes a record. Deleting a session renumbers the timeline and
// drops its position from every appearance list; later positions shift
// down by one. Deleting a character, location or organization removes its
// name from the sessions that reference it. A character's avatar blob is
// deleted only after the record is gone; failing to delete it is reported
// through Options.OrphanedBlob.
func (s *Store) Delete(ctx context.Context, kind Kind, id string) error {
	if !slices.Contains(Kinds, kind) {
		return &ValidationError{Field: "collection", Message: fmt.Sprintf("unknown collection %q", kind)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data.Record(kind, id)
	if !ok {
		return notFound(kind, id)
	}

	next := s.data.Clone()
	switch kind {
	case KindSessions:
		delete(next.Timeline, id)
		renumber(&next, orderedSessions(next))
	case KindCharacters:
		ch := rec.(Character)
		delete(next.Characters, id)
		dropReference(&next, kind, ch.Name)
	case KindLocations:
		delete(next.Locations, id)
		dropReference(&next, kind, rec.(Location).Name)
	case KindOrganizations:
		delete(next.Organizations, id)
		dropReference(&next, kind, rec.(Organization).Name)
	case KindQuests:
		delete(next.Quests, id)
	}

	if err := s.commit(ctx, next); err != nil {
		return err
	}
	if ch, isChar := rec.(Character); isChar && ch.Avatar != "" {
		s.deleteBlob(ctx, ch.Avatar)
	}
	s.logger.Info("record deleted", "kind", kind, "id", id)
	return nil
}

func (s *Store) deleteBlob(ctx context.Context, url string) {
	if err := s.adapter.DeleteBlob(s.adapterCtx(ctx), url); err != nil {
		s.logger.Warn("blob deletion failed", "url", url, "error", err)
		s.orphaned(ctx, url, err)
	}
}

// ReorderSessions moves the session at position from to position to and
// renumbers the whole timeline.
func (s *Store) ReorderSessions(ctx context.Context, from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := orderedSessions(s.data)
	n := len(order)
	if from < 1 || from > n {
		return &ValidationError{Field: "from", Message: fmt.Sprintf("position %d out of range [1, %d]", from, n)}
	}
	if to < 1 || to > n {
		return &ValidationError{Field: "to", Message: fmt.Sprintf("position %d out of range [1, %d]", to, n)}
	}
	if from == to {
		return nil
	}

	moved := order[from-1]
	order = slices.Delete(order, from-1, from)
	order = slices.Insert(order, to-1, moved)

	next := s.data.Clone()
	renumber(&next, order)
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.logger.Info("timeline reordered", "from", from, "to", to)
	return nil
}

// SetAvatar uploads a character portrait and replaces the previous one.
func (s *Store) SetAvatar(ctx context.Context, characterID string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", &ValidationError{Field: "avatar", Message: "cannot be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.data.Characters[characterID]
	if !ok {
		return "", notFound(KindCharacters, characterID)
	}

	url, err := s.adapter.UploadBlob(s.adapterCtx(ctx), "avatar", data, contentType)
	if err != nil {
		return "", &PersistenceError{Op: "upload avatar", Err: err}
	}

	prev := ch.Avatar
	next := s.data.Clone()
	ch.Avatar = url
	next.Characters[characterID] = ch
	if err := s.commit(ctx, next); err != nil {
		// The record never pointed at the new blob.
		s.deleteBlob(ctx, url)
		return "", err
	}
	if prev != "" {
		s.deleteBlob(ctx, prev)
	}
	return url, nil
}

// --- remote snapshots ---

// Watch subscribes to every collection and applies incoming snapshots until
// ctx ends.
func (s *Store) Watch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feeds := make(map[Kind]<-chan Collections, len(Kinds))
	for _, kind := range Kinds {
		ch, err := s.adapter.Subscribe(s.adapterCtx(ctx), kind)
		if err != nil {
			return &PersistenceError{Op: fmt.Sprintf("subscribe %s", kind), Err: err}
		}
		feeds[kind] = ch
	}

	g, gctx := errgroup.WithContext(ctx)
	for kind, feed := range feeds {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case snap, ok := <-feed:
					if !ok {
						return nil
					}
					if err := s.ApplyRemote(gctx, kind, snap); err != nil {
						s.logger.Warn("remote snapshot not fully applied", "kind", kind, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// ApplyRemote replaces one collection with a snapshot written elsewhere and
// re-runs the reconciliation rules against it. Repairs are persisted; if
// that fails the snapshot is still accepted as delivered.
func (s *Store) ApplyRemote(ctx context.Context, kind Kind, snap Collections) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.data.Clone()
	base.Replace(kind, snap)
	base.Normalize()

	next := base.Clone()
	reconcile(&next, s.newID)

	// A batch written elsewhere reaches this store one collection at a time.
	// Before synthesizing records, look at what the adapter already holds so
	// the other writer's stubs are found instead of duplicated.
	if creates(diff(base, next)) {
		stored, err := s.adapter.LoadSnapshot(s.adapterCtx(ctx))
		if err != nil {
			s.logger.Warn("reload before remote repair failed", "kind", kind, "error", err)
		} else {
			stored.Replace(kind, snap)
			stored.Normalize()
			base = stored
			next = base.Clone()
			reconcile(&next, s.newID)
		}
	}

	var err error
	if perr := s.persist(ctx, diff(base, next)); perr != nil {
		err = perr
		next = base
	}
	kinds := []Kind{kind}
	for _, k := range mutatedKinds(diff(s.data, next)) {
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	s.data = next
	s.notify(Change{Kinds: kinds, Source: SourceRemote})
	return err
}

// creates reports whether muts add records that did not exist before.
func creates(muts []Mutation) bool {
	return slices.ContainsFunc(muts, func(m Mutation) bool { return m.Prev == nil && m.Record != nil })
}

// --- reads ---

// Sessions returns the timeline ordered by position.
func (s *Store) Sessions() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return orderedSessions(s.data.Clone())
}

func (s *Store) Characters() []Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.data.Clone().Characters, characterName)
}

func (s *Store) Locations() []Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.data.Clone().Locations, locationName)
}

func (s *Store) Organizations() []Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.data.Clone().Organizations, organizationName)
}

func (s *Store) Quests() []Quest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByName(s.data.Clone().Quests, questName)
}

// List returns the records of one collection in display order.
func (s *Store) List(kind Kind) any {
	switch kind {
	case KindSessions:
		return s.Sessions()
	case KindCharacters:
		return s.Characters()
	case KindLocations:
		return s.Locations()
	case KindOrganizations:
		return s.Organizations()
	case KindQuests:
		return s.Quests()
	}
	return nil
}

// Get returns a copy of one record.
func (s *Store) Get(kind Kind, id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data.Clone().Record(kind, id)
	if !ok {
		return nil, notFound(kind, id)
	}
	return rec, nil
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() Collections {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

func sortedByName[T any](m map[string]T, nameOf func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int {
		return cmp.Compare(nameOf(a), nameOf(b))
	})
	return out
}

// --- notifications ---

// Subscribe returns a channel of change notifications and a function that
// cancels the subscription. Slow readers miss notifications rather than
// stalling writers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 32)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.logger.Debug("change notification dropped", "subscriber", id)
		}
	}
}

// --- field helpers ---

func requireName(f Fields) (string, error) {
	if f.Name == nil || strings.TrimSpace(*f.Name) == "" {
		return "", &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	return strings.TrimSpace(*f.Name), nil
}

func duplicateName(kind Kind, name string) error {
	return &ValidationError{Field: "name", Message: fmt.Sprintf("%s %q already exists", kind, name)}
}

func checkRename[T any](m map[string]T, id, name string, nameOf func(T) string, kind Kind) error {
	for other, rec := range m {
		if other != id && nameOf(rec) == name {
			return duplicateName(kind, name)
		}
	}
	return nil
}

func mergeBase(b *Base, f Fields) {
	if f.Name != nil {
		b.Name = strings.TrimSpace(*f.Name)
	}
	if f.Description != nil {
		b.Description = *f.Description
	}
}

func mergeCharacter(ch *Character, f Fields) {
	mergeBase(&ch.Base, f)
	if f.Race != nil {
		ch.Race = *f.Race
	}
	if f.Class != nil {
		ch.Class = *f.Class
	}
}

func mergeQuest(q *Quest, f Fields) error {
	mergeBase(&q.Base, f)
	if f.Status != nil {
		if !f.Status.Valid() {
			return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown quest status %q", *f.Status)}
		}
		q.Status = *f.Status
	}
	return nil
}
