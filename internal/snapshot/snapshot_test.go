package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/models"
)

func sample() models.Snapshot {
	price := 12.5
	return models.Snapshot{
		Events: []*models.Event{{
			ID:           "e1",
			Title:        "Picnic",
			OwnerID:      "alice",
			Participants: []string{"alice", "bob"},
			SharedWith:   []string{"bob"},
			Items: []models.Item{{
				ID: "i1", Name: "Wine", Bought: true, Price: &price,
				ClaimedBy: "alice", SharedBy: []string{"alice", "bob"},
			}},
			IsNew: true,
		}},
		ArchivedEvents: []*models.Event{{ID: "e0", Title: "Old", OwnerID: "alice", Archived: true}},
		Friends:        []string{"bob"},
		Profile:        models.Profile{UserID: "alice", DisplayName: "Alice"},
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapshot.bin")
	want := sample()

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)

	require.Len(t, got.Events, 1)
	ev := got.Events[0]
	assert.Equal(t, models.ID("e1"), ev.ID)
	assert.True(t, ev.IsNew, "unsaved markers survive a restart")
	assert.Equal(t, []string{"bob"}, ev.SharedWith)
	require.Len(t, ev.Items, 1)
	require.NotNil(t, ev.Items[0].Price)
	assert.Equal(t, 12.5, *ev.Items[0].Price)
	require.Len(t, got.ArchivedEvents, 1)
	assert.True(t, got.ArchivedEvents[0].Archived)
	assert.Equal(t, want.Friends, got.Friends)
	assert.Equal(t, want.Profile, got.Profile)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(sample())
	require.NoError(t, err)
	b, err := Encode(sample())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadMissingFile(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "nope.bin"))
	require.NoError(t, err)
	assert.Empty(t, got.Events)
	assert.Empty(t, got.Profile.UserID)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveReplacesWithoutLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.bin")
	require.NoError(t, Save(path, sample()))
	require.NoError(t, Save(path, models.Snapshot{Friends: []string{"carol"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, got.Events)
	assert.Equal(t, []string{"carol"}, got.Friends)
}

type storeSource struct {
	*eventstore.Store
}

func (s storeSource) Snapshot() models.Snapshot {
	return models.Snapshot{Events: s.Active(), ArchivedEvents: s.Archived()}
}

func TestSaverDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	store := eventstore.New()
	saver := NewSaver(path, storeSource{store}, 20*time.Millisecond)
	saver.Start()

	store.Insert(&models.Event{ID: "e1", OwnerID: "alice"}, eventstore.Local)
	store.Insert(&models.Event{ID: "e2", OwnerID: "alice"}, eventstore.Local)

	require.Eventually(t, func() bool {
		snap, err := Load(path)
		return err == nil && len(snap.Events) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaverCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	store := eventstore.New()
	saver := NewSaver(path, storeSource{store}, time.Hour)
	saver.Start()

	store.Insert(&models.Event{ID: "e1", OwnerID: "alice"}, eventstore.Local)
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, saver.Close())
	snap, err := Load(path)
	require.NoError(t, err)
	require.Len(t, snap.Events, 1)

	store.Insert(&models.Event{ID: "e2", OwnerID: "alice"}, eventstore.Local)
	require.NoError(t, saver.Close())
	snap, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, snap.Events, 1, "changes after Close are not written")
}
