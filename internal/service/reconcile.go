package service

import (
	"context"
	"log/slog"
	"slices"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/realtime"
)

var _ realtime.Handler = (*EventService)(nil)

// HandleUpdate reconciles an inbound event:update into the table. Changes
// applied here carry the Remote origin and are never written back.
func (s *EventService) HandleUpdate(_ context.Context, u realtime.EventUpdate) {
	user := s.CurrentUser()
	if user == "" || access.Equal(u.FromUserID, user) {
		return
	}
	if s.store.Tombstoned(u.EventID) {
		slog.Debug("Dropping update for deleted event", "event_id", u.EventID)
		return
	}
	if !s.advanceHighWater(u.EventID, u.ServerTs) {
		slog.Debug("Dropping stale update", "event_id", u.EventID, "server_ts", u.ServerTs)
		return
	}

	existing, hasCopy := s.store.Get(u.EventID)

	owner := ""
	var sharedWith []string
	if hasCopy {
		owner = existing.OwnerID
		sharedWith = existing.SharedWith
	}
	if u.EventData.OwnerID != nil {
		owner = *u.EventData.OwnerID
	}
	if u.EventData.SharedWith != nil {
		sharedWith = *u.EventData.SharedWith
	}

	if !access.HasAccess(owner, sharedWith, user) {
		if hasCopy {
			slog.Info("Access revoked, removing event", "event_id", u.EventID, "from_user_id", u.FromUserID)
			s.store.Remove(u.EventID, eventstore.Remote)
			s.forget(u.EventID)
		}
		return
	}

	if hasCopy {
		s.store.Update(u.EventID, eventstore.Remote, func(ev *models.Event) {
			u.EventData.Apply(ev)
		})
		return
	}

	ev := &models.Event{ID: u.EventID}
	u.EventData.Apply(ev)
	if ev.SharedWith == nil {
		ev.SharedWith = []string{}
	}
	s.store.Insert(ev, eventstore.Remote)
	slog.Info("Event shared with us", "event_id", u.EventID, "owner_id", ev.OwnerID)
}

// HandleDelete removes the event unconditionally unless we sent it.
func (s *EventService) HandleDelete(_ context.Context, d realtime.EventDelete) {
	user := s.CurrentUser()
	if user == "" || access.Equal(d.FromUserID, user) {
		return
	}
	s.store.Remove(d.EventID, eventstore.Remote)
	s.forget(d.EventID)
	slog.Info("Event deleted by peer", "event_id", d.EventID, "from_user_id", d.FromUserID)
}

// HandleReload answers the relay's resync hint.
func (s *EventService) HandleReload(ctx context.Context) {
	_ = s.Reload(ctx)
}

// HandleConnected flushes writes deferred while offline, then resyncs.
func (s *EventService) HandleConnected(ctx context.Context) {
	s.flushPending(ctx)
	_ = s.Reload(ctx)
}

// HandleFriend records accepted friends; the rest of the friends workflow
// lives outside this service.
func (s *EventService) HandleFriend(_ context.Context, msg realtime.Message) {
	slog.Info("Friend message", "type", msg.Type)
	if msg.Type != realtime.TypeFriendAccepted {
		return
	}
	var payload struct {
		UserID string `json:"userId"`
		Email  string `json:"email"`
	}
	if err := msg.Decode(&payload); err != nil {
		slog.Warn("Dropping malformed friend message", "error", err)
		return
	}
	friend := access.Normalize(payload.Email)
	if friend == "" {
		friend = access.Normalize(payload.UserID)
	}
	if friend == "" {
		return
	}
	s.mu.Lock()
	if !slices.Contains(s.friends, friend) {
		s.friends = append(s.friends, friend)
	}
	s.mu.Unlock()
}

// advanceHighWater reports whether ts is newer than the last update applied
// to id. Updates without a timestamp always pass. The mark is kept per event,
// so a burst on one event never shadows another.
func (s *EventService) advanceHighWater(id models.ID, ts int64) bool {
	if ts <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.highWater[id] {
		return false
	}
	s.highWater[id] = ts
	return true
}

func (s *EventService) forget(id models.ID) {
	s.mu.Lock()
	delete(s.dirty, id)
	delete(s.pendingDeletes, id)
	delete(s.highWater, id)
	s.mu.Unlock()
}
