// Package access decides who may see an event.
//
// The decision depends only on the event owner and its SharedWith list.
// Event.Participants is a display list and is never consulted here.
package access

import (
	"strings"

	"github.com/mmynk/eventlist/internal/models"
)

// Normalize returns the canonical form of an identity for comparison.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Equal reports whether two identities name the same user.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// HasAccess reports whether viewer may see an event owned by owner and shared with sharedWith.
func HasAccess(owner string, sharedWith []string, viewer string) bool {
	v := Normalize(viewer)
	if v == "" {
		return false
	}
	if Normalize(owner) == v {
		return true
	}
	for _, s := range sharedWith {
		if Normalize(s) == v {
			return true
		}
	}
	return false
}

// CanView is HasAccess applied to an event.
func CanView(ev *models.Event, viewer string) bool {
	if ev == nil {
		return false
	}
	return HasAccess(ev.OwnerID, ev.SharedWith, viewer)
}

// NormalizeParticipants returns owner followed by the normalized, de-duplicated
// entries of list. Blank entries are dropped.
func NormalizeParticipants(owner string, list []string) []string {
	seen := make(map[string]bool, len(list)+1)
	out := make([]string, 0, len(list)+1)
	add := func(id string) {
		n := Normalize(id)
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	add(owner)
	for _, p := range list {
		add(p)
	}
	return out
}

// DeriveSharedWith computes the access list from the participant list.
// Every outbound payload carries a SharedWith derived here rather than a value
// supplied by the caller.
func DeriveSharedWith(owner string, participants []string) []string {
	o := Normalize(owner)
	seen := make(map[string]bool, len(participants))
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		n := Normalize(p)
		if n == "" || n == o || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Contains reports whether list holds id, compared case-insensitively.
func Contains(list []string, id string) bool {
	n := Normalize(id)
	for _, s := range list {
		if Normalize(s) == n {
			return true
		}
	}
	return false
}
