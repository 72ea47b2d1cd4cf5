package eventstore

import "github.com/mmynk/eventlist/internal/models"

// Tombstone records id as deleted without touching the lists.
func (s *Store) Tombstone(id models.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones[id] = struct{}{}
}

// Tombstoned reports whether id was deleted locally during this process.
func (s *Store) Tombstoned(id models.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, dead := s.tombstones[id]
	return dead
}
