// Package mocks provides testify mocks for the event service's collaborators.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/realtime"
)

// Persister is a mock for service.Persister.
type Persister struct {
	mock.Mock
}

func (m *Persister) ListEvents(ctx context.Context, userID string) ([]*models.Event, error) {
	args := m.Called(ctx, userID)
	if events, ok := args.Get(0).([]*models.Event); ok {
		return events, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Persister) SaveEvent(ctx context.Context, userID string, ev *models.Event) error {
	args := m.Called(ctx, userID, ev)
	return args.Error(0)
}

func (m *Persister) DeleteEvent(ctx context.Context, userID string, id models.ID) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

// Channel is an in-memory service.Channel that records outbound messages.
type Channel struct {
	mu        sync.Mutex
	userID    string
	handler   realtime.Handler
	sent      []realtime.Message
	connects  int
	SendError error
}

func (c *Channel) Connect(_ context.Context, userID string, h realtime.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.handler = h
	c.connects++
}

func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = ""
	c.handler = nil
}

func (c *Channel) Send(_ context.Context, msg realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Sent returns the messages sent so far.
func (c *Channel) Sent() []realtime.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Message(nil), c.sent...)
}

// SentOfType filters Sent by message type.
func (c *Channel) SentOfType(t realtime.MessageType) []realtime.Message {
	var out []realtime.Message
	for _, msg := range c.Sent() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// UserID returns the user of the open channel, or "".
func (c *Channel) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Connects counts Connect calls.
func (c *Channel) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}
