// Package models defines the core domain models for eventlist.
//
// # Models
//
//   - Event: a shared gathering with its item list, participant list and access list
//   - Item: one thing to bring or buy for an event, optionally claimed and priced
//   - EventPatch: a partial event used on the wire; absent fields keep their prior value
//   - User: a registered account on the reference backend
//
// # Identities
//
// User identities are opaque strings (usually email addresses) compared
// case-insensitively. Event and item ids are carried as ID, a string type that
// also accepts JSON numbers so that ids minted by older clients as integers
// share one canonical form with string ids.
//
// # Design Principles
//
// 1. **Participants are cosmetic**: Event.Participants is a display list and never grants access
// 2. **SharedWith is authoritative**: access = owner OR member of SharedWith
// 3. **Avoid circular references**: relationships are ID strings, never pointers
package models
