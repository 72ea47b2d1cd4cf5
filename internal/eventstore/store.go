// Package eventstore holds the local table of events for the signed-in user.
//
// The table keeps two ordered lists (active and archived) plus the tombstone
// set of ids the user deleted in this process. It is mutated only through its
// methods; callers receive deep copies and never hold references into the table.
package eventstore

import (
	"slices"
	"sync"

	"github.com/mmynk/eventlist/internal/models"
)

// Origin says where a change came from.
type Origin int

const (
	// Local changes come from the user's own operations.
	Local Origin = iota
	// Remote changes were received from peers or the backend and must not be
	// persisted back to the backend.
	Remote
)

func (o Origin) String() string {
	if o == Remote {
		return "remote"
	}
	return "local"
}

// ChangeKind classifies a change notification.
type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
	Removed
	Reloaded
	// Queued reports a local write deferred for retry. The table itself did
	// not change.
	Queued
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind    ChangeKind
	EventID models.ID
	Origin  Origin
}

// Store is the local event table.
type Store struct {
	mu         sync.Mutex
	active     []*models.Event
	archived   []*models.Event
	tombstones map[models.ID]struct{}

	// seq counts local mutations; versions holds the seq of each event's
	// latest local mutation.
	seq      uint64
	versions map[models.ID]uint64

	subMu       sync.Mutex
	subscribers map[int]func(Change)
	nextSub     int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tombstones:  make(map[models.ID]struct{}),
		versions:    make(map[models.ID]uint64),
		subscribers: make(map[int]func(Change)),
	}
}

// Subscribe registers fn for change notifications and returns a function that
// removes it. fn runs synchronously after the mutation, outside the table lock.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Publish delivers c to subscribers without touching the table.
func (s *Store) Publish(c Change) {
	s.notify(c)
}

// touch records a local mutation of id. Callers hold s.mu.
func (s *Store) touch(id models.ID, origin Origin) {
	if origin != Local {
		return
	}
	s.seq++
	s.versions[id] = s.seq
}

// Mark returns the current local mutation counter. Pass it to ReplaceSince
// to keep events mutated locally after the mark.
func (s *Store) Mark() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// find returns the list holding id and the index within it.
func (s *Store) find(id models.ID) (*[]*models.Event, int) {
	if i := indexOf(s.active, id); i >= 0 {
		return &s.active, i
	}
	if i := indexOf(s.archived, id); i >= 0 {
		return &s.archived, i
	}
	return nil, -1
}

func indexOf(list []*models.Event, id models.ID) int {
	return slices.IndexFunc(list, func(ev *models.Event) bool { return ev.ID == id })
}

func (s *Store) listFor(ev *models.Event) *[]*models.Event {
	if ev.Archived {
		return &s.archived
	}
	return &s.active
}

// Insert places ev at the head of its list, replacing any event with the same id.
// Tombstoned ids are ignored; Insert reports whether the event was stored.
func (s *Store) Insert(ev *models.Event, origin Origin) bool {
	s.mu.Lock()
	if _, dead := s.tombstones[ev.ID]; dead {
		s.mu.Unlock()
		return false
	}
	if list, i := s.find(ev.ID); list != nil {
		*list = slices.Delete(*list, i, i+1)
	}
	target := s.listFor(ev)
	*target = slices.Insert(*target, 0, ev.Clone())
	s.touch(ev.ID, origin)
	s.mu.Unlock()

	s.notify(Change{Kind: Inserted, EventID: ev.ID, Origin: origin})
	return true
}

// Get returns a copy of the event with the given id.
func (s *Store) Get(id models.ID) (*models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, i := s.find(id)
	if list == nil {
		return nil, false
	}
	return (*list)[i].Clone(), true
}

// Update applies fn to the event in place and returns a copy of the result.
// If fn flips Archived, the event moves to the head of the other list.
func (s *Store) Update(id models.ID, origin Origin, fn func(ev *models.Event)) (*models.Event, bool) {
	s.mu.Lock()
	list, i := s.find(id)
	if list == nil {
		s.mu.Unlock()
		return nil, false
	}
	ev := (*list)[i]
	wasArchived := ev.Archived
	fn(ev)
	ev.ID = id
	if ev.Archived != wasArchived {
		*list = slices.Delete(*list, i, i+1)
		target := s.listFor(ev)
		*target = slices.Insert(*target, 0, ev)
	}
	out := ev.Clone()
	s.touch(id, origin)
	s.mu.Unlock()

	s.notify(Change{Kind: Updated, EventID: id, Origin: origin})
	return out, true
}

// Remove deletes the event from both lists and tombstones its id.
// The returned event is the removed copy, if any.
func (s *Store) Remove(id models.ID, origin Origin) (*models.Event, bool) {
	s.mu.Lock()
	s.tombstones[id] = struct{}{}
	var removed *models.Event
	for _, list := range []*[]*models.Event{&s.active, &s.archived} {
		if i := indexOf(*list, id); i >= 0 {
			removed = (*list)[i]
			*list = slices.Delete(*list, i, i+1)
		}
	}
	delete(s.versions, id)
	s.mu.Unlock()

	if removed == nil {
		return nil, false
	}
	s.notify(Change{Kind: Removed, EventID: id, Origin: origin})
	return removed, true
}

// Restore puts a previously captured copy back, at its old position when the
// event is still in the same list. Used to roll back a rejected local change.
func (s *Store) Restore(snapshot *models.Event, origin Origin) {
	s.mu.Lock()
	if _, dead := s.tombstones[snapshot.ID]; dead {
		s.mu.Unlock()
		return
	}
	pos := 0
	if list, i := s.find(snapshot.ID); list != nil {
		if list == s.listFor(snapshot) {
			pos = i
		}
		*list = slices.Delete(*list, i, i+1)
	}
	target := s.listFor(snapshot)
	pos = min(pos, len(*target))
	*target = slices.Insert(*target, pos, snapshot.Clone())
	s.touch(snapshot.ID, origin)
	s.mu.Unlock()

	s.notify(Change{Kind: Updated, EventID: snapshot.ID, Origin: origin})
}

// Replace swaps the whole table for a freshly loaded one. Tombstoned ids are
// dropped. Local events still waiting for their first save (IsNew) that are
// missing from the loaded set are kept at the head of their lists.
func (s *Store) Replace(events []*models.Event, origin Origin) {
	s.replace(events, origin, nil)
}

// ReplaceSince is Replace for a load that started at mark. Events mutated
// locally after mark keep their local copy, in the loaded position when the
// load has them and at the head of their list otherwise.
func (s *Store) ReplaceSince(events []*models.Event, origin Origin, mark uint64) {
	s.replace(events, origin, &mark)
}

func (s *Store) replace(events []*models.Event, origin Origin, mark *uint64) {
	s.mu.Lock()
	newer := make(map[models.ID]*models.Event)
	if mark != nil {
		for _, list := range [][]*models.Event{s.active, s.archived} {
			for _, ev := range list {
				if s.versions[ev.ID] > *mark {
					newer[ev.ID] = ev
				}
			}
		}
	}

	loaded := make(map[models.ID]bool, len(events))
	var active, archived []*models.Event
	for _, ev := range events {
		if _, dead := s.tombstones[ev.ID]; dead || loaded[ev.ID] {
			continue
		}
		loaded[ev.ID] = true
		if local, ok := newer[ev.ID]; ok {
			ev = local
			ev.IsNew = false
		} else {
			ev = ev.Clone()
		}
		if ev.Archived {
			archived = append(archived, ev)
		} else {
			active = append(active, ev)
		}
	}

	var pendingActive, pendingArchived []*models.Event
	for _, list := range [][]*models.Event{s.active, s.archived} {
		for _, ev := range list {
			if loaded[ev.ID] {
				continue
			}
			if _, changed := newer[ev.ID]; !ev.IsNew && !changed {
				continue
			}
			if ev.Archived {
				pendingArchived = append(pendingArchived, ev)
			} else {
				pendingActive = append(pendingActive, ev)
			}
		}
	}
	s.active = append(pendingActive, active...)
	s.archived = append(pendingArchived, archived...)
	s.mu.Unlock()

	s.notify(Change{Kind: Reloaded, Origin: origin})
}

// Reset empties both lists. Tombstones survive for the life of the process.
func (s *Store) Reset() {
	s.mu.Lock()
	s.active = nil
	s.archived = nil
	clear(s.versions)
	s.mu.Unlock()

	s.notify(Change{Kind: Reloaded, Origin: Local})
}

// Active returns copies of the active events, newest first.
func (s *Store) Active() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.active)
}

// Archived returns copies of the archived events, most recently archived first.
func (s *Store) Archived() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.archived)
}

func cloneAll(list []*models.Event) []*models.Event {
	out := make([]*models.Event, len(list))
	for i, ev := range list {
		out[i] = ev.Clone()
	}
	return out
}
