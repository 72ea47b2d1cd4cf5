package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmynk/eventlist/internal/models"
)

func TestHasAccess(t *testing.T) {
	tests := []struct {
		name       string
		owner      string
		sharedWith []string
		viewer     string
		want       bool
	}{
		{name: "owner", owner: "alice", viewer: "alice", want: true},
		{name: "owner case-insensitive", owner: "Alice@Example.com", viewer: "alice@example.com ", want: true},
		{name: "shared", owner: "alice", sharedWith: []string{"bob"}, viewer: "BOB", want: true},
		{name: "stranger", owner: "alice", sharedWith: []string{"bob"}, viewer: "carol", want: false},
		{name: "empty viewer", owner: "", viewer: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasAccess(tt.owner, tt.sharedWith, tt.viewer))
		})
	}
}

func TestParticipantsNeverGrantAccess(t *testing.T) {
	ev := &models.Event{
		ID:           "e1",
		OwnerID:      "alice",
		SharedWith:   []string{"bob"},
		Participants: []string{"alice", "bob"},
	}
	before := CanView(ev, "carol")

	ev.Participants = append(ev.Participants, "carol")
	assert.Equal(t, before, CanView(ev, "carol"))
	assert.False(t, CanView(ev, "carol"))

	ev.Participants = nil
	assert.True(t, CanView(ev, "bob"), "removing participants alone never revokes access")
}

func TestNormalizeParticipants(t *testing.T) {
	got := NormalizeParticipants("Alice", []string{"bob", "ALICE", " Bob ", "", "carol"})
	assert.Equal(t, []string{"alice", "bob", "carol"}, got)
}

func TestDeriveSharedWith(t *testing.T) {
	got := DeriveSharedWith("alice", []string{"Alice", "bob", "BOB", "carol"})
	assert.Equal(t, []string{"bob", "carol"}, got)
	assert.Empty(t, DeriveSharedWith("alice", []string{"alice"}))
}
