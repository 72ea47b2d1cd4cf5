// Package storage provides abstractions for the backend's persistent data.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/eventlist/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist, or exists but is
	// not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may not modify a record.
	ErrForbidden = errors.New("forbidden")
)

// EventStore persists events and their access lists.
// User identities are compared in normalized (lowercase) form.
type EventStore interface {
	// ListEvents returns every event userID owns or is shared on, most
	// recently updated first.
	ListEvents(ctx context.Context, userID string) ([]*models.Event, error)

	// GetEvent returns the event regardless of access.
	GetEvent(ctx context.Context, id models.ID) (*models.Event, error)

	// PutEvent upserts ev on behalf of userID and returns the previous
	// version, or nil for a new event. New events are owned by userID; an
	// existing event keeps its owner and requires userID to have access.
	PutEvent(ctx context.Context, userID string, ev *models.Event) (prev *models.Event, err error)

	// DeleteEvent deletes the event when userID owns it. A shared user only
	// loses access; the event survives and is returned with removed == false.
	DeleteEvent(ctx context.Context, userID string, id models.ID) (ev *models.Event, removed bool, err error)
}

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Store is the full backend storage.
type Store interface {
	EventStore
	UserStore

	// Close releases any resources held by the store.
	Close() error
}
