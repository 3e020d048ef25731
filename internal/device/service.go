package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"locsim/internal/events"
	"locsim/internal/logging"
	"locsim/internal/types"
)

type Publisher interface {
	Publish(evt types.Event)
}

// LocationRecorder keeps the last-known location per device for restore.
type LocationRecorder interface {
	Update(deviceID string, location types.LastLocation)
	Get(deviceID string) (types.LastLocation, bool)
}

// MovementStopper halts any movement session of a device and waits for it.
type MovementStopper interface {
	Stop(ctx context.Context, deviceID string) error
}

// Service is the command surface for direct location control. It composes
// the registry, retry path, keep-alive and location state.
type Service struct {
	registry  *Registry
	retrier   *Retrier
	keepAlive *KeepAlive
	states    *LocationStates
	recorder  LocationRecorder
	publisher Publisher
	logger    logging.Logger
	now       func() time.Time

	mu       sync.RWMutex
	movement MovementStopper
}

type ServiceOption func(*Service)

func WithRecorder(recorder LocationRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithPublisher(publisher Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithServiceLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the close hooks: closing a device stops its keep-alive
// and forgets its location state.
func NewService(registry *Registry, retrier *Retrier, keepAlive *KeepAlive, states *LocationStates, opts ...ServiceOption) *Service {
	s := &Service{
		registry:  registry,
		retrier:   retrier,
		keepAlive: keepAlive,
		states:    states,
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	registry.OnClose(keepAlive.Stop)
	registry.OnClose(states.Delete)
	return s
}

// SetMovementStopper attaches the movement manager. Set after construction
// because the manager drives location through this service.
func (s *Service) SetMovementStopper(stopper MovementStopper) {
	s.mu.Lock()
	s.movement = stopper
	s.mu.Unlock()
}

// SetLocation pushes a coordinate on behalf of an operator command.
func (s *Service) SetLocation(ctx context.Context, deviceID string, coord types.Coordinate) error {
	deviceID, err := validate(deviceID, coord)
	if err != nil {
		return err
	}
	if err := s.push(ctx, deviceID, coord); err != nil {
		return err
	}
	s.logger.Info("location_set", logging.Device(deviceID), logging.F("coord", coord))
	s.publish(events.New(types.EventLocationSet, deviceID, coord))
	return nil
}

// UpdateLocation pushes a coordinate for a movement step. No event is
// emitted; the movement worker reports its own progress.
func (s *Service) UpdateLocation(ctx context.Context, deviceID string, coord types.Coordinate) error {
	deviceID, err := validate(deviceID, coord)
	if err != nil {
		return err
	}
	return s.push(ctx, deviceID, coord)
}

// ClearLocation stops movement and keep-alive, then asks the device to drop
// the simulated location. Device-side failures are logged, never returned.
func (s *Service) ClearLocation(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}
	s.stopMovement(ctx, deviceID)
	s.keepAlive.Stop(deviceID)

	_, hadState := s.states.Get(deviceID)
	if hadState || s.registry.Handle(deviceID) != nil {
		if err := s.retrier.Do(ctx, deviceID, ClearOp{}, nil); err != nil {
			s.logger.Warn("location_clear_failed", logging.Device(deviceID), logging.Err(err))
		}
	}
	// The session is closed whether or not the clear reached the device.
	s.registry.Close(deviceID)
	s.logger.Info("location_cleared", logging.Device(deviceID))
	s.publish(events.New(types.EventLocationCleared, deviceID, nil))
	return nil
}

// Disconnect stops movement and tears the device down completely.
func (s *Service) Disconnect(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}
	s.stopMovement(ctx, deviceID)
	s.registry.Close(deviceID)
	s.publish(events.New(types.EventDeviceDisconnected, deviceID, nil))
	return nil
}

// LastKnown returns the persisted last-known location, which survives
// clear and disconnect.
func (s *Service) LastKnown(deviceID string) (types.Coordinate, bool) {
	if s.recorder != nil {
		if loc, ok := s.recorder.Get(deviceID); ok {
			return loc.Coordinate(), true
		}
	}
	if state, ok := s.states.Get(deviceID); ok {
		return state.Coordinate(), true
	}
	return types.Coordinate{}, false
}

func (s *Service) Status(deviceID string) types.DeviceStatus {
	status := types.DeviceStatus{DeviceID: deviceID}
	if handle := s.registry.Handle(deviceID); handle != nil {
		status.Connected = true
		status.Kind = handle.Kind
	}
	if state, ok := s.states.Get(deviceID); ok {
		status.Location = &state
	}
	if coord, ok := s.LastKnown(deviceID); ok {
		status.LastKnown = &coord
	}
	return status
}

// Devices lists every device with a session or a location state.
func (s *Service) Devices() []string {
	seen := map[string]struct{}{}
	for _, id := range s.registry.Devices() {
		seen[id] = struct{}{}
	}
	for _, id := range s.states.Devices() {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown stops every keep-alive and closes every session.
func (s *Service) Shutdown() {
	s.keepAlive.StopAll()
	s.registry.CloseAll()
}

func (s *Service) push(ctx context.Context, deviceID string, coord types.Coordinate) error {
	if err := s.retrier.Do(ctx, deviceID, SetOp{Latitude: coord.Latitude, Longitude: coord.Longitude}, nil); err != nil {
		return err
	}
	s.states.Set(deviceID, coord.Latitude, coord.Longitude, s.now())
	s.keepAlive.Start(deviceID)
	if s.recorder != nil {
		s.recorder.Update(deviceID, types.LastLocation{Lat: coord.Latitude, Lon: coord.Longitude})
	}
	return nil
}

func (s *Service) stopMovement(ctx context.Context, deviceID string) {
	s.mu.RLock()
	stopper := s.movement
	s.mu.RUnlock()
	if stopper == nil {
		return
	}
	if err := stopper.Stop(ctx, deviceID); err != nil {
		s.logger.Debug("movement_stop_failed", logging.Device(deviceID), logging.Err(err))
	}
}

func (s *Service) publish(evt types.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

// KeepAliveSender adapts the retry path for the keep-alive scheduler.
func KeepAliveSender(retrier *Retrier) Sender {
	return func(ctx context.Context, deviceID string, latitude, longitude float64) error {
		return retrier.Do(ctx, deviceID, SetOp{Latitude: latitude, Longitude: longitude}, nil)
	}
}

func validate(deviceID string, coord types.Coordinate) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", fmt.Errorf("%w: device id is required", ErrInvalidRequest)
	}
	if err := coord.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return deviceID, nil
}
