package domain

import (
	"sync"
)

// StateStore keeps the most recent inverter state for concurrent readers.
type StateStore struct {
	reading *Reading
	mode    *ModeReading
	rating  string
	mutex   sync.RWMutex
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{}
}

// SetReading replaces the latest general status reading.
func (s *StateStore) SetReading(reading Reading) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.reading = &reading
}

// Latest returns the latest reading, if any.
func (s *StateStore) Latest() (Reading, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.reading == nil {
		return Reading{}, false
	}
	return *s.reading, true
}

// SetMode records a mode reading and reports whether the mode differs from
// the previous one. The first mode recorded always counts as a change.
func (s *StateStore) SetMode(mode ModeReading) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	changed := s.mode == nil || s.mode.Code != mode.Code
	s.mode = &mode
	return changed
}

// Mode returns the latest mode reading, if any.
func (s *StateStore) Mode() (ModeReading, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.mode == nil {
		return ModeReading{}, false
	}
	return *s.mode, true
}

// SetRating stores the raw rating information payload.
func (s *StateStore) SetRating(rating string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.rating = rating
}

// Rating returns the raw rating information payload, if one was read.
func (s *StateStore) Rating() (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.rating, s.rating != ""
}
