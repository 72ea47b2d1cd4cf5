package service

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/models"
)

// Friends returns the known friend identities.
func (s *EventService) Friends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.friends)
}

// SetFriends replaces the friend list.
func (s *EventService) SetFriends(friends []string) {
	out := make([]string, 0, len(friends))
	for _, f := range friends {
		if n := access.Normalize(f); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	s.mu.Lock()
	s.friends = out
	s.mu.Unlock()
}

// Profile returns the signed-in user's profile.
func (s *EventService) Profile() models.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetProfile updates the display name of the signed-in user.
func (s *EventService) SetProfile(displayName string) {
	s.mu.Lock()
	s.profile.DisplayName = displayName
	s.mu.Unlock()
}

// Snapshot captures the state written to disk for offline boot, including
// the writes still waiting for the backend.
func (s *EventService) Snapshot() models.Snapshot {
	s.mu.Lock()
	friends := slices.Clone(s.friends)
	profile := s.profile
	saves := make([]models.ID, 0, len(s.dirty))
	for id := range s.dirty {
		saves = append(saves, id)
	}
	deletes := make([]models.PendingDelete, 0, len(s.pendingDeletes))
	for id, recipients := range s.pendingDeletes {
		deletes = append(deletes, models.PendingDelete{EventID: id, Participants: slices.Clone(recipients)})
	}
	s.mu.Unlock()

	slices.Sort(saves)
	slices.SortFunc(deletes, func(a, b models.PendingDelete) int { return strings.Compare(string(a.EventID), string(b.EventID)) })
	snap := models.Snapshot{
		Events:         s.store.Active(),
		ArchivedEvents: s.store.Archived(),
		Friends:        friends,
		Profile:        profile,
	}
	if len(saves) > 0 {
		snap.PendingSaves = saves
	}
	if len(deletes) > 0 {
		snap.PendingDeletes = deletes
	}
	return snap
}

// RestoreSnapshot seeds the table from an offline snapshot, before the first
// network reconciliation. Unsaved events and deferred writes are queued again;
// Login sends them once the backend answers.
func (s *EventService) RestoreSnapshot(snap models.Snapshot) {
	for _, d := range snap.PendingDeletes {
		s.store.Tombstone(d.EventID)
	}

	events := make([]*models.Event, 0, len(snap.Events)+len(snap.ArchivedEvents))
	for _, ev := range snap.Events {
		if ev != nil {
			ev.Archived = false
			events = append(events, ev)
		}
	}
	for _, ev := range snap.ArchivedEvents {
		if ev != nil {
			ev.Archived = true
			events = append(events, ev)
		}
	}

	s.store.Replace(events, eventstore.Remote)

	var retry []models.ID
	for _, ev := range events {
		if ev.IsNew {
			retry = append(retry, ev.ID)
		}
	}
	for _, id := range snap.PendingSaves {
		if _, ok := s.store.Get(id); ok {
			retry = append(retry, id)
		}
	}

	s.mu.Lock()
	for _, id := range retry {
		s.dirty[id] = struct{}{}
	}
	for _, d := range snap.PendingDeletes {
		s.pendingDeletes[d.EventID] = slices.Clone(d.Participants)
	}
	s.mu.Unlock()
	s.SetFriends(snap.Friends)
	if snap.Profile.UserID != "" {
		s.mu.Lock()
		s.profile = snap.Profile
		s.mu.Unlock()
	}
	slog.Info("Snapshot restored", "events", len(snap.Events), "archived", len(snap.ArchivedEvents),
		"pending_saves", len(snap.PendingSaves), "pending_deletes", len(snap.PendingDeletes))
}
