package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

// ErrInvalidReading is returned when a reading breaks the store invariants.
var ErrInvalidReading = errors.New("invalid reading")

// Update is the outcome of one store write.
type Update struct {
	Current  messages.Reading
	Previous messages.Reading
	// Existed is false on the first sighting of a sensor.
	Existed bool
}

// StatusChanged reports whether a known sensor moved to a different status.
func (u Update) StatusChanged() bool {
	return u.Existed && u.Previous.Status != u.Current.Status
}

type StoreConfig struct {
	// UseDeviceTimestamp keeps the timestamp sent by the device instead of
	// stamping the receipt time. Readings without one are stamped anyway.
	UseDeviceTimestamp bool
	Now                func() time.Time
}

// Store holds the latest reading of every sensor seen so far.
type Store struct {
	cfg StoreConfig

	mu    sync.RWMutex
	byID  map[string]messages.Reading
	order []string
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{cfg: cfg, byID: make(map[string]messages.Reading)}
}

// Upsert replaces the entry for r.ID and returns the stored copy along with
// the one it replaced.
func (s *Store) Upsert(r messages.Reading) (Update, error) {
	if err := r.Validate(); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	r = r.Clone()
	if !s.cfg.UseDeviceTimestamp || r.Timestamp.IsZero() {
		r.Timestamp = s.cfg.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[r.ID]
	if !ok {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = r
	return Update{Current: r.Clone(), Previous: prev, Existed: ok}, nil
}

func (s *Store) Get(id string) (messages.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return messages.Reading{}, false
	}
	return r.Clone(), true
}

// List returns a copy of every entry, ordered by first sighting.
func (s *Store) List() []messages.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]messages.Reading, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
