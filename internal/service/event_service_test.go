package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/persistence"
	"github.com/mmynk/eventlist/internal/realtime"
	"github.com/mmynk/eventlist/internal/service"
	"github.com/mmynk/eventlist/internal/service/mocks"
	"github.com/mmynk/eventlist/internal/snapshot"
)

func setup(t *testing.T, user string, initial ...*models.Event) (*service.EventService, *mocks.Persister, *mocks.Channel, *eventstore.Store) {
	t.Helper()
	store := eventstore.New()
	p := &mocks.Persister{}
	ch := &mocks.Channel{}
	svc := service.NewEventService(store, p, ch, service.WithTimeout(time.Second))

	p.On("ListEvents", mock.Anything, user).Return(initial, nil).Once()
	require.NoError(t, svc.Login(context.Background(), user))
	return svc, p, ch, store
}

func event(id, owner string, sharedWith ...string) *models.Event {
	return &models.Event{
		ID:           models.ID(id),
		Title:        "Dinner",
		OwnerID:      owner,
		Participants: append([]string{owner}, sharedWith...),
		SharedWith:   sharedWith,
		Items:        []models.Item{{ID: "i1", Name: "Bread"}},
	}
}

func ptr[T any](v T) *T { return &v }

func networkErr() error {
	return fmt.Errorf("failed to send request: %w", persistence.ErrNetwork)
}

func decodeUpdates(t *testing.T, ch *mocks.Channel) []realtime.EventUpdate {
	t.Helper()
	var out []realtime.EventUpdate
	for _, msg := range ch.SentOfType(realtime.TypeEventUpdate) {
		var u realtime.EventUpdate
		require.NoError(t, msg.Decode(&u))
		out = append(out, u)
	}
	return out
}

func TestLoginConnectsAndLoads(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice@example.com", event("e1", "Alice@Example.com"))

	assert.Equal(t, "alice@example.com", svc.CurrentUser())
	assert.Equal(t, "alice@example.com", ch.UserID())
	require.Len(t, svc.Events(), 1)
	p.AssertExpectations(t)

	p.On("ListEvents", mock.Anything, "bob").Return([]*models.Event(nil), nil).Once()
	require.NoError(t, svc.Login(context.Background(), "bob"))
	assert.Empty(t, svc.Events(), "switching users clears the table")
	assert.Equal(t, "bob", ch.UserID())
	assert.Equal(t, 2, ch.Connects())
}

func TestAddEventAwaitDurable(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice")
	p.On("SaveEvent", mock.Anything, "alice", mock.MatchedBy(func(ev *models.Event) bool {
		return ev.Title == "Picnic"
	})).Return(nil).Once()

	added, err := svc.AddEvent(context.Background(), models.EventDraft{
		Title:        "Picnic",
		Participants: []string{"Bob", "alice"},
		Items:        []models.Item{{Name: "Wine", Bought: true, Price: ptr(12.0)}},
	}, service.AwaitDurable)
	require.NoError(t, err)
	p.AssertExpectations(t)

	got, err := svc.GetEventByID(added.ID)
	require.NoError(t, err)
	assert.False(t, got.IsNew)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)
	assert.Equal(t, []string{"bob"}, got.SharedWith)
	require.Len(t, got.Items, 1)
	assert.NotEmpty(t, got.Items[0].ID)
	assert.Equal(t, []string{"alice"}, got.Items[0].SharedBy, "bought items fall back to a sharer")

	updates := decodeUpdates(t, ch)
	require.Len(t, updates, 1)
	assert.Equal(t, added.ID, updates[0].EventID)
	assert.Equal(t, "alice", updates[0].FromUserID)
	require.NotNil(t, updates[0].EventData.SharedWith)
	assert.Equal(t, []string{"bob"}, *updates[0].EventData.SharedWith)
}

func TestAddEventOfflineRetriesOnReconnect(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice")
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(networkErr()).Once()

	added, err := svc.AddEvent(context.Background(), models.EventDraft{Title: "Picnic"}, service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)

	got, err := svc.GetEventByID(added.ID)
	require.NoError(t, err)
	assert.True(t, got.IsNew, "optimistic state survives a network failure")
	assert.Empty(t, ch.Sent(), "nothing is broadcast before the backend has the event")

	saved := added.Clone()
	saved.IsNew = false
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(nil).Once()
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{saved}, nil).Once()
	svc.HandleConnected(context.Background())

	got, err = svc.GetEventByID(added.ID)
	require.NoError(t, err)
	assert.False(t, got.IsNew)
	assert.Len(t, decodeUpdates(t, ch), 1)
	p.AssertExpectations(t)
}

func TestFireAndForgetCompletesInBackground(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice", "bob"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	require.NoError(t, svc.ArchiveEvent(context.Background(), "e1", service.FireAndForget))
	assert.Empty(t, svc.Events(), "the table moves before the backend answers")
	require.Len(t, svc.ArchivedEvents(), 1)

	svc.Wait()
	p.AssertExpectations(t)
	updates := decodeUpdates(t, ch)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].EventData.Archived)
	assert.True(t, *updates[0].EventData.Archived)

	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(nil).Once()
	require.NoError(t, svc.UnarchiveEvent(context.Background(), "e1", service.AwaitDurable))
	assert.Len(t, svc.Events(), 1)
	assert.Empty(t, svc.ArchivedEvents())
}

func TestArchiveRejectedReloads(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).
		Return(fmt.Errorf("status 500: %w", persistence.ErrRejected)).Once()
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice")}, nil).Once()

	err := svc.ArchiveEvent(context.Background(), "e1", service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrRejected)

	svc.Wait()
	assert.Len(t, svc.Events(), 1, "reload restores the backend's view")
	assert.Empty(t, svc.ArchivedEvents())
	p.AssertExpectations(t)
}

func TestUpdateItemsAwaitDurable(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice", "bob"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(networkErr()).Once()

	items := []models.Item{{ID: "i1", Name: "Bread", Bought: true, Price: ptr(4.0), SharedBy: []string{"Bob", "zed"}}}
	err := svc.UpdateItems(context.Background(), "e1", items, service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)
	assert.Empty(t, ch.Sent())

	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Bought)
	assert.Equal(t, []string{"bob"}, got.Items[0].SharedBy, "sharers outside the participants are pruned")

	// The failed write is still applied and retried on reconnect.
	p.On("SaveEvent", mock.Anything, "alice", mock.MatchedBy(func(ev *models.Event) bool {
		return len(ev.Items) == 1 && ev.Items[0].Bought
	})).Return(nil).Once()
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice", "bob")}, nil).Once()
	svc.HandleConnected(context.Background())
	p.AssertExpectations(t)
}

func TestUpdateItemsNotFoundIsNotAnError(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).
		Return(fmt.Errorf("status 404: %w", persistence.ErrNotFound)).Once()
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event(nil), nil).Once()

	err := svc.UpdateItems(context.Background(), "e1", nil, service.AwaitDurable)
	require.NoError(t, err)

	svc.Wait()
	assert.Empty(t, svc.Events())
	p.AssertExpectations(t)
}

func TestUpdateParticipantsRejectedRollsBack(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice", "bob"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).
		Return(fmt.Errorf("status 403: %w", persistence.ErrRejected)).Once()

	err := svc.UpdateParticipants(context.Background(), "e1", []string{"carol"}, service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrRejected)
	assert.Empty(t, ch.Sent())

	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)
	assert.Equal(t, []string{"bob"}, got.SharedWith)
}

func TestUpdateParticipantsRederivesAccess(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice", "bob"))
	p.On("SaveEvent", mock.Anything, "alice", mock.MatchedBy(func(ev *models.Event) bool {
		return assert.ObjectsAreEqual([]string{"carol"}, ev.SharedWith)
	})).Return(nil).Once()

	require.NoError(t, svc.UpdateParticipants(context.Background(), "e1", []string{"Carol"}, service.AwaitDurable))
	p.AssertExpectations(t)

	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, got.Participants, "the owner is always a participant")

	updates := decodeUpdates(t, ch)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"carol"}, *updates[0].EventData.SharedWith)
}

func TestParticipantsNeverGrantVisibility(t *testing.T) {
	svc, _, _, store := setup(t, "carol")

	ev := event("e1", "alice", "bob")
	ev.Participants = []string{"alice", "bob", "carol"}
	require.True(t, store.Insert(ev, eventstore.Remote))

	_, err := svc.GetEventByID("e1")
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Empty(t, svc.Events())

	_, err = svc.Settle("e1")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestReloadFiltersInaccessible(t *testing.T) {
	hidden := event("e2", "alice", "bob")
	hidden.Participants = []string{"alice", "bob", "carol"}
	svc, _, _, _ := setup(t, "carol", event("e1", "alice", "CAROL"), hidden)

	events := svc.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ID("e1"), events[0].ID)
}

func TestDeleteEventTombstones(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice", "bob"))
	p.On("DeleteEvent", mock.Anything, "alice", models.ID("e1")).Return(nil).Once()

	require.NoError(t, svc.DeleteEvent(context.Background(), "e1", service.AwaitDurable))
	p.AssertExpectations(t)

	deletes := ch.SentOfType(realtime.TypeEventDelete)
	require.Len(t, deletes, 1)
	var d realtime.EventDelete
	require.NoError(t, deletes[0].Decode(&d))
	assert.Equal(t, []string{"alice", "bob"}, d.Participants)

	// A stale peer keeps sending updates after the delete was broadcast.
	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "bob",
		EventData:  models.PatchFrom(event("e1", "alice", "bob")),
		ServerTs:   time.Now().UnixMilli(),
	})
	_, err := svc.GetEventByID("e1")
	assert.ErrorIs(t, err, service.ErrNotFound)

	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice", "bob")}, nil).Once()
	require.NoError(t, svc.Reload(context.Background()))
	assert.Empty(t, svc.Events())
	assert.Empty(t, svc.ArchivedEvents())
}

func TestDeleteUnsavedEventSkipsBackend(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice")
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(networkErr()).Once()

	added, err := svc.AddEvent(context.Background(), models.EventDraft{Title: "Picnic", Participants: []string{"bob"}}, service.AwaitDurable)
	require.Error(t, err)

	require.NoError(t, svc.DeleteEvent(context.Background(), added.ID, service.AwaitDurable))
	p.AssertNotCalled(t, "DeleteEvent", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, ch.SentOfType(realtime.TypeEventDelete), 1)

	// The deleted event is not retried on reconnect.
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event(nil), nil).Once()
	svc.HandleConnected(context.Background())
	p.AssertNumberOfCalls(t, "SaveEvent", 1)
}

func TestDeleteOfflineIsRetried(t *testing.T) {
	svc, p, ch, _ := setup(t, "alice", event("e1", "alice"))
	p.On("DeleteEvent", mock.Anything, "alice", models.ID("e1")).Return(networkErr()).Once()

	err := svc.DeleteEvent(context.Background(), "e1", service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)
	assert.Empty(t, svc.Events())
	assert.Empty(t, ch.Sent(), "peers hear about the delete only after the backend does")

	p.On("DeleteEvent", mock.Anything, "alice", models.ID("e1")).
		Return(fmt.Errorf("status 404: %w", persistence.ErrNotFound)).Once()
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice")}, nil).Once()
	svc.HandleConnected(context.Background())

	p.AssertExpectations(t)
	assert.Len(t, ch.SentOfType(realtime.TypeEventDelete), 1)
	assert.Empty(t, svc.Events())
}

func TestHandleUpdateMergesPartially(t *testing.T) {
	svc, _, _, _ := setup(t, "bob", event("e1", "alice", "bob"))

	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "alice",
		EventData:  models.EventPatch{Title: ptr("Brunch")},
	})
	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	assert.Equal(t, "Brunch", got.Title)
	require.Len(t, got.Items, 1, "absent fields keep their prior value")
	assert.Equal(t, []string{"bob"}, got.SharedWith)

	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "alice",
		EventData:  models.EventPatch{Archived: ptr(true)},
	})
	assert.Empty(t, svc.Events())
	require.Len(t, svc.ArchivedEvents(), 1)
	assert.Equal(t, "Brunch", svc.ArchivedEvents()[0].Title)
}

func TestHandleUpdateIgnoresSelfEcho(t *testing.T) {
	svc, _, _, _ := setup(t, "alice", event("e1", "alice", "bob"))

	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "ALICE",
		EventData:  models.EventPatch{Title: ptr("Echo")},
	})
	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	assert.Equal(t, "Dinner", got.Title)
}

func TestHandleUpdateRevokesAccess(t *testing.T) {
	svc, _, _, store := setup(t, "bob", event("e1", "alice", "bob"))

	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "alice",
		EventData: models.EventPatch{
			SharedWith:   &[]string{},
			Participants: &[]string{"alice", "bob"},
		},
	})
	assert.Empty(t, svc.Events())
	assert.True(t, store.Tombstoned("e1"))

	// Regaining access later in the session does not resurrect it.
	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "alice",
		EventData:  models.EventPatch{SharedWith: &[]string{"bob"}},
	})
	assert.Empty(t, svc.Events())
}

func TestHandleUpdateMaterializesOnlyVisible(t *testing.T) {
	svc, _, _, _ := setup(t, "bob")

	hidden := event("e1", "alice", "carol")
	hidden.Participants = []string{"alice", "bob", "carol"}
	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e1",
		FromUserID: "alice",
		EventData:  models.PatchFrom(hidden),
	})
	assert.Empty(t, svc.Events())

	svc.HandleUpdate(context.Background(), realtime.EventUpdate{
		EventID:    "e2",
		FromUserID: "alice",
		EventData:  models.PatchFrom(event("e2", "alice", "Bob")),
	})
	events := svc.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ID("e2"), events[0].ID)
	assert.Equal(t, "alice", events[0].OwnerID)
}

func TestHandleUpdateStalenessIsPerEvent(t *testing.T) {
	svc, _, _, _ := setup(t, "bob", event("e1", "alice", "bob"), event("e2", "alice", "bob"))

	update := func(id, title string, ts int64) {
		svc.HandleUpdate(context.Background(), realtime.EventUpdate{
			EventID:    models.ID(id),
			FromUserID: "alice",
			EventData:  models.EventPatch{Title: ptr(title)},
			ServerTs:   ts,
		})
	}
	title := func(id string) string {
		ev, err := svc.GetEventByID(models.ID(id))
		require.NoError(t, err)
		return ev.Title
	}

	update("e1", "first", 10)
	update("e1", "stale", 5)
	update("e1", "replay", 10)
	assert.Equal(t, "first", title("e1"))

	update("e2", "other", 7)
	assert.Equal(t, "other", title("e2"), "an older mark on another event does not shadow this one")

	update("e1", "untimed", 0)
	assert.Equal(t, "untimed", title("e1"))
}

func TestHandleDelete(t *testing.T) {
	svc, _, _, store := setup(t, "bob", event("e1", "alice", "bob"), event("e2", "bob"))

	svc.HandleDelete(context.Background(), realtime.EventDelete{EventID: "e1", FromUserID: "alice"})
	svc.HandleDelete(context.Background(), realtime.EventDelete{EventID: "e2", FromUserID: "bob"})

	events := svc.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.ID("e2"), events[0].ID, "self-originated deletes are ignored")
	assert.True(t, store.Tombstoned("e1"))
}

func TestSettle(t *testing.T) {
	ev := event("e1", "alice", "bob")
	ev.Items = []models.Item{{
		ID: "i1", Name: "Groceries", Bought: true, Price: ptr(30.0),
		ClaimedBy: "alice", SharedBy: []string{"alice", "bob"},
	}}
	svc, _, _, _ := setup(t, "bob", ev)

	res, err := svc.Settle("e1")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, res.Balances["alice"], 0.001)
	assert.InDelta(t, -15.0, res.Balances["bob"], 0.001)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "bob", res.Transactions[0].From)
	assert.Equal(t, "alice", res.Transactions[0].To)
	assert.Equal(t, "15.00", res.Transactions[0].Amount.String())
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := eventstore.New()
	p := &mocks.Persister{}
	ch := &mocks.Channel{}
	svc := service.NewEventService(store, p, ch)

	unsaved := event("draft", "alice")
	unsaved.IsNew = true
	archived := event("old", "alice")
	svc.RestoreSnapshot(models.Snapshot{
		Events:         []*models.Event{unsaved, event("e1", "alice")},
		ArchivedEvents: []*models.Event{archived},
		Friends:        []string{"Bob", "bob"},
		Profile:        models.Profile{UserID: "alice", DisplayName: "Alice"},
	})

	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice")}, nil).Once()
	p.On("SaveEvent", mock.Anything, "alice", mock.MatchedBy(func(ev *models.Event) bool {
		return ev.ID == "draft"
	})).Return(nil).Once()
	require.NoError(t, svc.Login(context.Background(), "alice"))
	p.AssertExpectations(t)

	events := svc.Events()
	require.Len(t, events, 2, "unsaved events survive the first reload")
	assert.Equal(t, models.ID("draft"), events[0].ID)
	assert.False(t, events[0].IsNew, "sign-in sends the queued first save")
	assert.Equal(t, "Alice", svc.Profile().DisplayName)
	assert.Equal(t, []string{"bob"}, svc.Friends())

	snap := svc.Snapshot()
	assert.Len(t, snap.Events, 2)
	assert.Empty(t, snap.ArchivedEvents, "the backend no longer lists the archived event")
	assert.Empty(t, snap.PendingSaves)

	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice"), event("draft", "alice")}, nil).Once()
	svc.HandleConnected(context.Background())
	p.AssertExpectations(t)
	p.AssertNumberOfCalls(t, "SaveEvent", 1)
}

// restart encodes svc's snapshot as it would be written to disk and boots a
// fresh service from it.
func restart(t *testing.T, svc *service.EventService) (*service.EventService, *mocks.Persister, *mocks.Channel) {
	t.Helper()
	data, err := snapshot.Encode(svc.Snapshot())
	require.NoError(t, err)
	snap, err := snapshot.Decode(data)
	require.NoError(t, err)

	p := &mocks.Persister{}
	ch := &mocks.Channel{}
	next := service.NewEventService(eventstore.New(), p, ch, service.WithTimeout(time.Second))
	next.RestoreSnapshot(snap)
	return next, p, ch
}

func TestOfflineEditSurvivesRestart(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(networkErr()).Once()

	var kinds []eventstore.ChangeKind
	cancel := svc.Subscribe(func(c eventstore.Change) { kinds = append(kinds, c.Kind) })
	items := []models.Item{{ID: "i1", Name: "Cheese"}}
	err := svc.UpdateItems(context.Background(), "e1", items, service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)
	cancel()
	assert.Equal(t, []eventstore.ChangeKind{eventstore.Updated, eventstore.Queued}, kinds)
	assert.Equal(t, []models.ID{"e1"}, svc.Snapshot().PendingSaves)

	next, p2, _ := restart(t, svc)
	p2.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice")}, nil).Once()
	p2.On("SaveEvent", mock.Anything, "alice", mock.MatchedBy(func(ev *models.Event) bool {
		return len(ev.Items) == 1 && ev.Items[0].Name == "Cheese"
	})).Return(nil).Once()
	require.NoError(t, next.Login(context.Background(), "alice"))
	p2.AssertExpectations(t)

	got, err := next.GetEventByID("e1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Cheese", got.Items[0].Name)
	assert.Empty(t, next.Snapshot().PendingSaves)
}

func TestOfflineDeleteSurvivesRestart(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice", "bob"), event("e2", "alice"))
	p.On("DeleteEvent", mock.Anything, "alice", models.ID("e1")).Return(networkErr()).Once()

	err := svc.DeleteEvent(context.Background(), "e1", service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)
	require.Len(t, svc.Snapshot().PendingDeletes, 1)

	next, p2, ch2 := restart(t, svc)
	p2.On("ListEvents", mock.Anything, "alice").
		Return([]*models.Event{event("e1", "alice", "bob"), event("e2", "alice")}, nil).Once()
	p2.On("DeleteEvent", mock.Anything, "alice", models.ID("e1")).Return(nil).Once()
	require.NoError(t, next.Login(context.Background(), "alice"))
	p2.AssertExpectations(t)

	events := next.Events()
	require.Len(t, events, 1, "the deleted event does not come back")
	assert.Equal(t, models.ID("e2"), events[0].ID)

	deletes := ch2.SentOfType(realtime.TypeEventDelete)
	require.Len(t, deletes, 1)
	var d realtime.EventDelete
	require.NoError(t, deletes[0].Decode(&d))
	assert.Equal(t, []string{"alice", "bob"}, d.Participants)
	assert.Empty(t, next.Snapshot().PendingDeletes)
}

func TestRestoredSnapshotOfAnotherUserIsDropped(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice"))
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(networkErr()).Once()
	err := svc.UpdateItems(context.Background(), "e1", nil, service.AwaitDurable)
	require.ErrorIs(t, err, persistence.ErrNetwork)

	next, p2, _ := restart(t, svc)
	p2.On("ListEvents", mock.Anything, "bob").Return([]*models.Event(nil), nil).Once()
	require.NoError(t, next.Login(context.Background(), "bob"))

	assert.Empty(t, next.Events())
	p2.AssertNotCalled(t, "SaveEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestReloadKeepsEditMadeWhileLoading(t *testing.T) {
	svc, p, _, _ := setup(t, "alice", event("e1", "alice"))

	loading := make(chan struct{})
	release := make(chan struct{})
	p.On("ListEvents", mock.Anything, "alice").Run(func(mock.Arguments) {
		close(loading)
		<-release
	}).Return([]*models.Event{event("e1", "alice")}, nil).Once()
	p.On("SaveEvent", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	done := make(chan error, 1)
	go func() { done <- svc.Reload(context.Background()) }()
	<-loading

	items := []models.Item{{ID: "i1", Name: "Cheese"}}
	require.NoError(t, svc.UpdateItems(context.Background(), "e1", items, service.AwaitDurable))
	close(release)
	require.NoError(t, <-done)
	p.AssertExpectations(t)

	got, err := svc.GetEventByID("e1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Cheese", got.Items[0].Name, "the acknowledged edit outlives the older list")

	// The next reload is not shadowed by the earlier edit.
	p.On("ListEvents", mock.Anything, "alice").Return([]*models.Event{event("e1", "alice")}, nil).Once()
	require.NoError(t, svc.Reload(context.Background()))
	got, err = svc.GetEventByID("e1")
	require.NoError(t, err)
	assert.Equal(t, "Bread", got.Items[0].Name)
}

func TestLogoutClearsTable(t *testing.T) {
	svc, _, ch, store := setup(t, "alice", event("e1", "alice"))
	store.Tombstone("gone")

	svc.Logout()
	assert.Empty(t, svc.CurrentUser())
	assert.Empty(t, store.Active())
	assert.Empty(t, ch.UserID())
	assert.True(t, store.Tombstoned("gone"))

	_, err := svc.AddEvent(context.Background(), models.EventDraft{Title: "x"}, service.AwaitDurable)
	assert.ErrorIs(t, err, service.ErrNotSignedIn)
}
