// Package service implements the event service: the single object that owns
// the local event table, the persistence adapter, the realtime channel and
// the ledger, and exposes typed operations for UI layers.
//
// All store operations are optimistic. The table is updated first; the
// backend write and the realtime broadcast follow. Each operation takes an
// explicit Durability so callers choose between awaiting the backend and
// fire-and-forget.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/ledger"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/persistence"
	"github.com/mmynk/eventlist/internal/realtime"
)

var (
	// ErrNotFound is returned for events that are absent or not visible to the
	// current user. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("event not found")

	// ErrNotSignedIn is returned when no user is signed in.
	ErrNotSignedIn = errors.New("not signed in")
)

// Persister is the durable event store behind the REST boundary.
type Persister interface {
	ListEvents(ctx context.Context, userID string) ([]*models.Event, error)
	SaveEvent(ctx context.Context, userID string, ev *models.Event) error
	DeleteEvent(ctx context.Context, userID string, id models.ID) error
}

// Channel is the realtime connection to peers.
type Channel interface {
	Connect(ctx context.Context, userID string, h realtime.Handler)
	Disconnect()
	Send(ctx context.Context, msg realtime.Message) error
}

// Durability selects whether an operation waits for the backend.
type Durability int

const (
	// FireAndForget returns once the local table is updated. Failures
	// self-heal (retry or reload) and are only logged.
	FireAndForget Durability = iota
	// AwaitDurable returns after the backend acknowledged the write, and
	// surfaces its failure.
	AwaitDurable
)

// DefaultTimeout bounds each backend call made by the service.
const DefaultTimeout = 8 * time.Second

// EventService owns the event table for the signed-in user.
type EventService struct {
	store     *eventstore.Store
	persister Persister
	channel   Channel
	timeout   time.Duration

	mu             sync.Mutex
	userID         string
	sessionCtx     context.Context
	cancelSession  context.CancelFunc
	dirty          map[models.ID]struct{}
	pendingDeletes map[models.ID][]string
	highWater      map[models.ID]int64
	friends        []string
	profile        models.Profile

	reloadQueued atomic.Bool
	wg           sync.WaitGroup
}

// Option configures an EventService.
type Option func(*EventService)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *EventService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewEventService creates a service around the given collaborators.
func NewEventService(store *eventstore.Store, persister Persister, channel Channel, opts ...Option) *EventService {
	s := &EventService{
		store:          store,
		persister:      persister,
		channel:        channel,
		timeout:        DefaultTimeout,
		sessionCtx:     context.Background(),
		cancelSession:  func() {},
		dirty:          make(map[models.ID]struct{}),
		pendingDeletes: make(map[models.ID][]string),
		highWater:      make(map[models.ID]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentUser returns the signed-in identity, or "".
func (s *EventService) CurrentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *EventService) session() (string, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.sessionCtx
}

// Login signs userID in: the realtime channel is (re)opened for this user and
// the table is reloaded from the backend. Switching users clears the table.
// A reload failure is returned but leaves the service signed in.
func (s *EventService) Login(ctx context.Context, userID string) error {
	userID = access.Normalize(userID)
	if userID == "" {
		return ErrNotSignedIn
	}

	s.mu.Lock()
	previous := s.userID
	if previous == "" {
		// A restored snapshot belongs to the profile it was taken for.
		previous = s.profile.UserID
	}
	s.cancelSession()
	s.sessionCtx, s.cancelSession = context.WithCancel(context.WithoutCancel(ctx))
	s.userID = userID
	if s.profile.UserID != userID {
		s.profile = models.Profile{UserID: userID}
	}
	sessionCtx := s.sessionCtx
	s.mu.Unlock()

	if previous != "" && previous != userID {
		s.resetLocal()
	}
	slog.Info("Signed in", "user_id", userID)

	s.channel.Connect(sessionCtx, userID, s)
	if err := s.Reload(ctx); err != nil {
		return err
	}
	if s.hasPending() {
		s.flushPending(ctx)
	}
	return nil
}

// Logout closes the channel and clears the table. Tombstones survive.
func (s *EventService) Logout() {
	s.channel.Disconnect()

	s.mu.Lock()
	user := s.userID
	s.userID = ""
	s.cancelSession()
	s.mu.Unlock()

	s.resetLocal()
	slog.Info("Signed out", "user_id", user)
}

func (s *EventService) resetLocal() {
	s.mu.Lock()
	s.dirty = make(map[models.ID]struct{})
	s.pendingDeletes = make(map[models.ID][]string)
	s.highWater = make(map[models.ID]int64)
	s.friends = nil
	s.profile = models.Profile{UserID: s.userID}
	s.mu.Unlock()
	s.store.Reset()
}

// Wait blocks until all fire-and-forget work has finished.
func (s *EventService) Wait() {
	s.wg.Wait()
}

// Subscribe forwards table changes to fn. See eventstore.Store.Subscribe.
func (s *EventService) Subscribe(fn func(eventstore.Change)) (cancel func()) {
	return s.store.Subscribe(fn)
}

// run executes fn now (AwaitDurable) or in the background (FireAndForget).
func (s *EventService) run(ctx context.Context, d Durability, fn func(ctx context.Context) error) error {
	if d == AwaitDurable {
		return fn(ctx)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = fn(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *EventService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// AddEvent creates an event owned by the current user and inserts it at the
// head of the active list with IsNew set. IsNew clears once the backend
// acknowledges the write; until then the event is retried on reconnect.
func (s *EventService) AddEvent(ctx context.Context, draft models.EventDraft, d Durability) (*models.Event, error) {
	user := s.CurrentUser()
	if user == "" {
		return nil, ErrNotSignedIn
	}

	id := draft.ID
	if id == "" {
		id = models.ID(uuid.New().String())
	}
	participants := access.NormalizeParticipants(user, draft.Participants)
	items := ensureItemInvariants(draft.Items, participants, user)
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = models.ID(uuid.New().String())
		}
	}
	ev := &models.Event{
		ID:           id,
		Title:        draft.Title,
		Items:        items,
		Participants: participants,
		SharedWith:   access.DeriveSharedWith(user, participants),
		OwnerID:      user,
		IsNew:        true,
	}
	if !s.store.Insert(ev, eventstore.Local) {
		return nil, fmt.Errorf("event %s was deleted in this session", id)
	}
	slog.Info("Event added", "event_id", id, "participants", len(participants))

	err := s.run(ctx, d, func(ctx context.Context) error {
		return s.persist(ctx, user, id, func(error) { s.markDirty(user, id) })
	})
	return ev.Clone(), err
}

// UpdateItems replaces the item list of an event. With AwaitDurable it
// returns only after the backend acknowledged the write. A rejected write
// schedules a full reload rather than guessing a merge.
func (s *EventService) UpdateItems(ctx context.Context, id models.ID, items []models.Item, d Durability) error {
	user := s.CurrentUser()
	if user == "" {
		return ErrNotSignedIn
	}
	if _, err := s.GetEventByID(id); err != nil {
		return err
	}

	_, ok := s.store.Update(id, eventstore.Local, func(ev *models.Event) {
		ev.Items = ensureItemInvariants(items, ev.Participants, user)
		for i := range ev.Items {
			if ev.Items[i].ID == "" {
				ev.Items[i].ID = models.ID(uuid.New().String())
			}
		}
	})
	if !ok {
		return ErrNotFound
	}

	return s.run(ctx, d, func(ctx context.Context) error {
		return s.persist(ctx, user, id, s.reloadOnReject)
	})
}

// UpdateParticipants replaces the participant list. The owner is always kept,
// stale sharers are pruned from items and the access list is re-derived. A
// rejected write rolls the event back to its prior state.
func (s *EventService) UpdateParticipants(ctx context.Context, id models.ID, participants []string, d Durability) error {
	user := s.CurrentUser()
	if user == "" {
		return ErrNotSignedIn
	}
	prior, err := s.GetEventByID(id)
	if err != nil {
		return err
	}

	_, ok := s.store.Update(id, eventstore.Local, func(ev *models.Event) {
		ev.Participants = access.NormalizeParticipants(ev.OwnerID, participants)
		ev.SharedWith = access.DeriveSharedWith(ev.OwnerID, ev.Participants)
		ev.Items = ensureItemInvariants(ev.Items, ev.Participants, user)
	})
	if !ok {
		return ErrNotFound
	}

	return s.run(ctx, d, func(ctx context.Context) error {
		return s.persist(ctx, user, id, func(err error) {
			slog.Warn("Rolling back participant change", "event_id", id, "error", err)
			s.store.Restore(prior, eventstore.Local)
		})
	})
}

// ArchiveEvent moves an event to the archived list.
func (s *EventService) ArchiveEvent(ctx context.Context, id models.ID, d Durability) error {
	return s.setArchived(ctx, id, true, d)
}

// UnarchiveEvent moves an event back to the active list.
func (s *EventService) UnarchiveEvent(ctx context.Context, id models.ID, d Durability) error {
	return s.setArchived(ctx, id, false, d)
}

// setArchived persists before broadcasting: peers must never observe a state
// the owner's own client cannot reproduce after a reload.
func (s *EventService) setArchived(ctx context.Context, id models.ID, archived bool, d Durability) error {
	user := s.CurrentUser()
	if user == "" {
		return ErrNotSignedIn
	}
	if _, err := s.GetEventByID(id); err != nil {
		return err
	}

	_, ok := s.store.Update(id, eventstore.Local, func(ev *models.Event) { ev.Archived = archived })
	if !ok {
		return ErrNotFound
	}

	return s.run(ctx, d, func(ctx context.Context) error {
		return s.persist(ctx, user, id, s.reloadOnReject)
	})
}

// DeleteEvent removes an event from both lists and tombstones it. Events that
// were never saved skip the backend call; only the broadcast is sent.
func (s *EventService) DeleteEvent(ctx context.Context, id models.ID, d Durability) error {
	user := s.CurrentUser()
	if user == "" {
		return ErrNotSignedIn
	}

	removed, ok := s.store.Remove(id, eventstore.Local)
	s.mu.Lock()
	delete(s.dirty, id)
	delete(s.highWater, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	slog.Info("Event deleted", "event_id", id, "unsaved", removed.IsNew)

	recipients := removed.Participants
	if removed.IsNew {
		return s.run(ctx, d, func(ctx context.Context) error {
			s.broadcastDelete(ctx, user, id, recipients)
			return nil
		})
	}
	return s.run(ctx, d, func(ctx context.Context) error {
		return s.deleteRemote(ctx, user, id, recipients)
	})
}

func (s *EventService) deleteRemote(ctx context.Context, user string, id models.ID, recipients []string) error {
	callCtx, cancel := s.withTimeout(ctx)
	err := s.persister.DeleteEvent(callCtx, user, id)
	cancel()

	switch persistence.Classify(err) {
	case persistence.ClassNetwork:
		slog.Warn("Delete deferred until reconnect", "event_id", id, "error", err)
		s.mu.Lock()
		queued := s.userID == user
		if queued {
			s.pendingDeletes[id] = recipients
		}
		s.mu.Unlock()
		if queued {
			s.store.Publish(eventstore.Change{Kind: eventstore.Queued, EventID: id, Origin: eventstore.Local})
		}
		return err
	case persistence.ClassNotFound:
		slog.Debug("Event already deleted on backend", "event_id", id)
	case persistence.ClassRejected:
		slog.Warn("Backend refused delete, treating as deleted", "event_id", id, "error", err)
	}

	s.mu.Lock()
	delete(s.pendingDeletes, id)
	s.mu.Unlock()
	s.broadcastDelete(ctx, user, id, recipients)
	return nil
}

// GetEventByID returns the event only if the current user may see it.
func (s *EventService) GetEventByID(id models.ID) (*models.Event, error) {
	user := s.CurrentUser()
	ev, ok := s.store.Get(id)
	if !ok || !access.CanView(ev, user) {
		return nil, ErrNotFound
	}
	return ev, nil
}

// Events returns the visible active events, newest first.
func (s *EventService) Events() []*models.Event {
	return s.visible(s.store.Active())
}

// ArchivedEvents returns the visible archived events.
func (s *EventService) ArchivedEvents() []*models.Event {
	return s.visible(s.store.Archived())
}

func (s *EventService) visible(events []*models.Event) []*models.Event {
	user := s.CurrentUser()
	return slices.DeleteFunc(events, func(ev *models.Event) bool { return !access.CanView(ev, user) })
}

// Settle runs the ledger over an event's current items and participants.
func (s *EventService) Settle(id models.ID) (ledger.Result, error) {
	ev, err := s.GetEventByID(id)
	if err != nil {
		return ledger.Result{}, err
	}
	return ledger.Settle(ev.Items, ev.Participants, s.CurrentUser()), nil
}

// Reload replaces the table with the backend's view. Tombstoned and
// inaccessible events are dropped; unsaved local events and events changed
// locally while the list was loading are kept. Network failures leave the
// table untouched.
func (s *EventService) Reload(ctx context.Context) error {
	user := s.CurrentUser()
	if user == "" {
		return ErrNotSignedIn
	}

	mark := s.store.Mark()
	callCtx, cancel := s.withTimeout(ctx)
	events, err := s.persister.ListEvents(callCtx, user)
	cancel()
	if err != nil {
		if persistence.Classify(err) == persistence.ClassNetwork {
			slog.Warn("Reload skipped, backend unreachable", "error", err)
		} else {
			slog.Error("Reload failed", "error", err)
		}
		return err
	}
	if s.CurrentUser() != user {
		return nil
	}

	s.mu.Lock()
	dirty := make(map[models.ID]bool, len(s.dirty))
	for id := range s.dirty {
		dirty[id] = true
	}
	s.mu.Unlock()

	visible := make([]*models.Event, 0, len(events))
	for _, ev := range events {
		if ev == nil || !access.CanView(ev, user) {
			continue
		}
		// Local edits not yet saved win until the retry lands.
		if dirty[ev.ID] {
			if local, ok := s.store.Get(ev.ID); ok {
				ev = local
			}
		}
		ev.IsNew = false
		visible = append(visible, ev)
	}
	s.store.ReplaceSince(visible, eventstore.Remote, mark)
	slog.Info("Events reloaded", "count", len(visible))
	return nil
}

// scheduleReload queues one background reload; concurrent requests coalesce.
func (s *EventService) scheduleReload() {
	if !s.reloadQueued.CompareAndSwap(false, true) {
		return
	}
	_, ctx := s.session()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reloadQueued.Store(false)
		_ = s.Reload(ctx)
	}()
}

// persist saves the current copy of an event and broadcasts it. Network
// failures keep the local state and mark the event for retry on reconnect;
// any other failure runs onReject.
func (s *EventService) persist(ctx context.Context, user string, id models.ID, onReject func(error)) error {
	ev, ok := s.store.Get(id)
	if !ok {
		return nil
	}
	ev.SharedWith = access.DeriveSharedWith(ev.OwnerID, ev.Participants)

	callCtx, cancel := s.withTimeout(ctx)
	err := s.persister.SaveEvent(callCtx, user, ev)
	cancel()

	if err != nil {
		switch class := persistence.Classify(err); class {
		case persistence.ClassNetwork:
			slog.Warn("Save deferred until reconnect", "event_id", id, "error", err)
			s.markDirty(user, id)
			return err
		case persistence.ClassNotFound:
			// Gone on the backend: the reload reconciles, nothing to report.
			slog.Info("Event missing on backend, resyncing", "event_id", id)
			s.clearDirty(id)
			s.scheduleReload()
			return nil
		default:
			slog.Error("Save rejected", "event_id", id, "class", class, "error", err)
			s.clearDirty(id)
			onReject(err)
			return err
		}
	}

	s.clearDirty(id)
	if ev.IsNew {
		s.store.Update(id, eventstore.Local, func(e *models.Event) { e.IsNew = false })
	}
	s.broadcastUpdate(ctx, user, ev)
	return nil
}

// markDirty queues id for a retry on the next reconnect.
func (s *EventService) markDirty(user string, id models.ID) {
	s.mu.Lock()
	queued := s.userID == user
	if queued {
		s.dirty[id] = struct{}{}
	}
	s.mu.Unlock()
	if queued {
		s.store.Publish(eventstore.Change{Kind: eventstore.Queued, EventID: id, Origin: eventstore.Local})
	}
}

func (s *EventService) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)+len(s.pendingDeletes) > 0
}

func (s *EventService) clearDirty(id models.ID) {
	s.mu.Lock()
	delete(s.dirty, id)
	s.mu.Unlock()
}

// reloadOnReject is the reject policy for item updates and archive toggles.
func (s *EventService) reloadOnReject(error) {
	s.scheduleReload()
}

func (s *EventService) broadcastUpdate(ctx context.Context, user string, ev *models.Event) {
	msg, err := realtime.NewMessage(realtime.TypeEventUpdate, realtime.EventUpdate{
		EventID:    ev.ID,
		EventData:  models.PatchFrom(ev),
		FromUserID: user,
	})
	if err != nil {
		slog.Error("Broadcast encode failed", "event_id", ev.ID, "error", err)
		return
	}
	if err := s.channel.Send(ctx, msg); err != nil {
		slog.Warn("Broadcast failed", "event_id", ev.ID, "type", msg.Type, "error", err)
	}
}

func (s *EventService) broadcastDelete(ctx context.Context, user string, id models.ID, participants []string) {
	msg, err := realtime.NewMessage(realtime.TypeEventDelete, realtime.EventDelete{
		EventID:      id,
		FromUserID:   user,
		Participants: participants,
	})
	if err != nil {
		slog.Error("Broadcast encode failed", "event_id", id, "error", err)
		return
	}
	if err := s.channel.Send(ctx, msg); err != nil {
		slog.Warn("Broadcast failed", "event_id", id, "type", msg.Type, "error", err)
	}
}

// flushPending retries saves and deletes deferred by network failures.
func (s *EventService) flushPending(ctx context.Context) {
	user, _ := s.session()
	if user == "" {
		return
	}

	s.mu.Lock()
	dirty := make([]models.ID, 0, len(s.dirty))
	for id := range s.dirty {
		dirty = append(dirty, id)
	}
	deletes := make(map[models.ID][]string, len(s.pendingDeletes))
	for id, recipients := range s.pendingDeletes {
		deletes[id] = recipients
	}
	s.mu.Unlock()

	for id, recipients := range deletes {
		_ = s.deleteRemote(ctx, user, id, recipients)
	}
	for _, id := range dirty {
		_ = s.persist(ctx, user, id, func(error) {})
	}
	if len(dirty)+len(deletes) > 0 {
		slog.Info("Flushed pending writes", "saves", len(dirty), "deletes", len(deletes))
	}
}
