package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/storage"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListEvents returns the events userID owns or is shared on.
func (s *SQLiteStore) ListEvents(ctx context.Context, userID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.data
		FROM events e
		JOIN event_access a ON a.event_id = e.id
		WHERE a.user_id = ?
		ORDER BY e.updated_at DESC, e.id`,
		access.Normalize(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev, err := decodeEvent(data)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// GetEvent retrieves an event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id models.ID) (*models.Event, error) {
	return getEvent(ctx, s.db, id)
}

func getEvent(ctx context.Context, q queryer, id models.ID) (*models.Event, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data FROM events WHERE id = ?", id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return decodeEvent(data)
}

// PutEvent upserts an event. The stored owner never changes; the access list
// is always derived from the participants.
func (s *SQLiteStore) PutEvent(ctx context.Context, userID string, ev *models.Event) (*models.Event, error) {
	userID = access.Normalize(userID)
	if ev.ID == "" {
		return nil, fmt.Errorf("event id is required: %w", storage.ErrForbidden)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := getEvent(ctx, tx, ev.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	owner := userID
	if prev != nil {
		if !access.CanView(prev, userID) {
			return nil, fmt.Errorf("event %s: %w", ev.ID, storage.ErrForbidden)
		}
		owner = access.Normalize(prev.OwnerID)
	}

	stored := ev.Clone()
	stored.OwnerID = owner
	stored.Participants = access.NormalizeParticipants(owner, stored.Participants)
	stored.SharedWith = access.DeriveSharedWith(owner, stored.Participants)
	stored.IsNew = false

	if err := writeEvent(ctx, tx, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	*ev = *stored
	return prev, nil
}

// DeleteEvent deletes an owned event, or drops userID from a shared one.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, userID string, id models.ID) (*models.Event, bool, error) {
	userID = access.Normalize(userID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ev, err := getEvent(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if !access.CanView(ev, userID) {
		return nil, false, fmt.Errorf("event %s: %w", id, storage.ErrNotFound)
	}

	removed := access.Equal(ev.OwnerID, userID)
	if removed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id.String()); err != nil {
			return nil, false, fmt.Errorf("failed to delete event: %w", err)
		}
	} else {
		leave := func(p string) bool { return access.Equal(p, userID) }
		ev.Participants = slices.DeleteFunc(ev.Participants, leave)
		ev.SharedWith = access.DeriveSharedWith(ev.OwnerID, ev.Participants)
		if err := writeEvent(ctx, tx, ev); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ev, removed, nil
}

func writeEvent(ctx context.Context, tx *sql.Tx, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, owner_id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		ev.ID.String(), ev.OwnerID, string(data), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM event_access WHERE event_id = ?", ev.ID.String()); err != nil {
		return fmt.Errorf("failed to clear event access: %w", err)
	}
	for _, user := range append([]string{ev.OwnerID}, ev.SharedWith...) {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO event_access (event_id, user_id) VALUES (?, ?)",
			ev.ID.String(), access.Normalize(user),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event access: %w", err)
		}
	}
	return nil
}

func decodeEvent(data string) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &ev, nil
}
