package snapshot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/models"
)

// DefaultDebounce is the quiet period after the last change before a write.
const DefaultDebounce = 500 * time.Millisecond

// Source is the state being snapshotted.
type Source interface {
	Snapshot() models.Snapshot
	Subscribe(fn func(eventstore.Change)) (cancel func())
}

// Saver writes the source's snapshot to disk after every burst of changes.
type Saver struct {
	path     string
	src      Source
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	pending     bool
	unsubscribe func()
}

// NewSaver creates a saver. Call Start to begin watching for changes.
func NewSaver(path string, src Source, debounce time.Duration) *Saver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Saver{path: path, src: src, debounce: debounce}
}

// Start subscribes to changes.
func (s *Saver) Start() {
	cancel := s.src.Subscribe(func(eventstore.Change) { s.schedule() })
	s.mu.Lock()
	s.unsubscribe = cancel
	s.mu.Unlock()
}

func (s *Saver) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			slog.Warn("Snapshot write failed", "path", s.path, "error", err)
		}
	})
}

// Flush writes the snapshot now if a change is pending.
func (s *Saver) Flush() error {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.pending = false
	s.mu.Unlock()

	if err := Save(s.path, s.src.Snapshot()); err != nil {
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
		return err
	}
	slog.Debug("Snapshot written", "path", s.path)
	return nil
}

// Close stops watching and writes any pending change.
func (s *Saver) Close() error {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.Flush()
}
