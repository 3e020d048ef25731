package device

import (
	"sort"
	"sync"
	"time"

	"locsim/internal/types"
)

// LocationStates records the last coordinate successfully pushed to each
// device. Entries never expire; they are removed on clear or disconnect.
type LocationStates struct {
	mu     sync.Mutex
	states map[string]types.LocationState
}

func NewLocationStates() *LocationStates {
	return &LocationStates{states: map[string]types.LocationState{}}
}

func (s *LocationStates) Get(deviceID string) (types.LocationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[deviceID]
	return state, ok
}

func (s *LocationStates) Set(deviceID string, latitude, longitude float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[deviceID] = types.LocationState{
		DeviceID:  deviceID,
		Latitude:  latitude,
		Longitude: longitude,
		UpdatedAt: at,
	}
}

// Touch refreshes the timestamp only when the stored coordinate still
// matches, so a keep-alive never overwrites a newer set.
func (s *LocationStates) Touch(deviceID string, latitude, longitude float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[deviceID]
	if !ok || state.Latitude != latitude || state.Longitude != longitude {
		return false
	}
	if at.After(state.UpdatedAt) {
		state.UpdatedAt = at
		s.states[deviceID] = state
	}
	return true
}

func (s *LocationStates) Delete(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
}

func (s *LocationStates) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
