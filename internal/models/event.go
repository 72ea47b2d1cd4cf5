package models

import "slices"

// Event represents a shared gathering with a list of items to bring or buy.
type Event struct {
	// ID is the canonical event id (UUID for events created by this client).
	ID ID `json:"id"`

	// Title is the human-readable name of the event (e.g., "Lake weekend").
	Title string `json:"title"`

	// Items are the things to bring or buy.
	Items []Item `json:"items"`

	// Participants is the display list of people involved in the event.
	// It MAY contain identities without access (e.g., contacts that have not
	// registered yet) and must never be consulted for access control.
	Participants []string `json:"participants"`

	// SharedWith is the authoritative access list. The owner always has access
	// whether or not it appears here.
	SharedWith []string `json:"sharedWith"`

	// OwnerID is the identity that created the event.
	OwnerID string `json:"ownerId"`

	// Archived moves the event from the active list to the archived list.
	Archived bool `json:"archived"`

	// IsNew is set while the event has not yet been acknowledged by the
	// persistence backend. Local only.
	IsNew bool `json:"isNew,omitempty"`
}

// Item represents a single thing on an event's list.
type Item struct {
	// ID is the unique identifier for the item.
	ID ID `json:"id"`

	// Name is what the item is (e.g., "Charcoal", "Sparkling water").
	Name string `json:"name"`

	// Urgent flags items that must be sorted out first.
	Urgent bool `json:"urgent"`

	// ClaimedBy is the identity that said they would get the item, empty when unclaimed.
	// Once bought, the claimer is the buyer for settlement purposes.
	ClaimedBy string `json:"claimedBy,omitempty"`

	// Bought is set once the item was purchased.
	Bought bool `json:"bought"`

	// Price is what the item cost. Nil when unknown.
	Price *float64 `json:"price"`

	// SharedBy is the list of participants splitting the cost of the item equally.
	SharedBy []string `json:"sharedBy"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Items = CloneItems(e.Items)
	out.Participants = slices.Clone(e.Participants)
	out.SharedWith = slices.Clone(e.SharedWith)
	return &out
}

// CloneItems deep-copies an item slice, including prices and sharer lists.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = item
		out[i].SharedBy = slices.Clone(item.SharedBy)
		if item.Price != nil {
			price := *item.Price
			out[i].Price = &price
		}
	}
	return out
}

// EventDraft is the user's input for a new event.
type EventDraft struct {
	// ID is optional; a UUID is minted when empty.
	ID           ID
	Title        string
	Items        []Item
	Participants []string
}
