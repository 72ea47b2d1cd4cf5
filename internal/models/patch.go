package models

import "slices"

// EventPatch is the eventData payload of an event:update message.
// Nil fields were absent from the payload and keep their prior value on merge.
type EventPatch struct {
	Title        *string   `json:"title,omitempty"`
	Items        *[]Item   `json:"items,omitempty"`
	Participants *[]string `json:"participants,omitempty"`
	SharedWith   *[]string `json:"sharedWith,omitempty"`
	OwnerID      *string   `json:"ownerId,omitempty"`
	Archived     *bool     `json:"archived,omitempty"`
}

// PatchFrom returns a patch carrying every persisted field of e.
func PatchFrom(e *Event) EventPatch {
	title := e.Title
	items := CloneItems(e.Items)
	if items == nil {
		items = []Item{}
	}
	participants := slices.Clone(e.Participants)
	sharedWith := slices.Clone(e.SharedWith)
	if sharedWith == nil {
		sharedWith = []string{}
	}
	owner := e.OwnerID
	archived := e.Archived
	return EventPatch{
		Title:        &title,
		Items:        &items,
		Participants: &participants,
		SharedWith:   &sharedWith,
		OwnerID:      &owner,
		Archived:     &archived,
	}
}

// Apply merges the present fields onto e.
func (p EventPatch) Apply(e *Event) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Items != nil {
		e.Items = CloneItems(*p.Items)
	}
	if p.Participants != nil {
		e.Participants = slices.Clone(*p.Participants)
	}
	if p.SharedWith != nil {
		e.SharedWith = slices.Clone(*p.SharedWith)
	}
	if p.OwnerID != nil {
		e.OwnerID = *p.OwnerID
	}
	if p.Archived != nil {
		e.Archived = *p.Archived
	}
}

// Empty reports whether no field is present.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.Items == nil && p.Participants == nil &&
		p.SharedWith == nil && p.OwnerID == nil && p.Archived == nil
}
