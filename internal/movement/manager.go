// Package movement drives simulated devices along straight lines (cruise)
// and multi-segment routes. Each device gets its own worker goroutine that
// ticks independently of every other device and of the control plane.
package movement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"locsim/internal/device"
	"locsim/internal/events"
	"locsim/internal/geo"
	"locsim/internal/logging"
	"locsim/internal/types"
)

const (
	DefaultTickBase         = 100 * time.Millisecond
	DefaultTickJitter       = 100 * time.Millisecond
	DefaultArrivalThreshold = 5.0 // meters
	DefaultStopTimeout      = 2 * time.Second

	MinCruiseSpeedKmh = 1.0
	MaxCruiseSpeedKmh = 50.0
	MinRouteSpeedKmh  = 0.1
	MaxRouteSpeedKmh  = 200.0
)

var (
	ErrNoSession       = errors.New("no active movement")
	ErrInvalidState    = errors.New("invalid movement state")
	ErrClosed          = errors.New("movement manager closed")
	ErrAlreadyAtTarget = fmt.Errorf("%w: already at target location", device.ErrInvalidRequest)
	ErrNoStart         = fmt.Errorf("%w: no known location to start from", device.ErrInvalidRequest)
)

// Locator pushes a movement step to the device and reports where a device
// was last seen. device.Service implements it.
type Locator interface {
	UpdateLocation(ctx context.Context, deviceID string, coord types.Coordinate) error
	LastKnown(deviceID string) (types.Coordinate, bool)
}

// PathFinder returns the path between two consecutive waypoints.
type PathFinder interface {
	Route(ctx context.Context, from, to types.Coordinate) (types.RouteSegment, error)
}

type Publisher interface {
	Publish(evt types.Event)
}

type Manager struct {
	locator     Locator
	paths       PathFinder
	publisher   Publisher
	logger      logging.Logger
	now         func() time.Time
	tickBase    time.Duration
	tickJitter  time.Duration
	thresholdKm float64
	stopTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	starts   map[string]*sync.Mutex
	closed   bool
}

type Option func(*Manager)

func WithTick(base, jitter time.Duration) Option {
	return func(m *Manager) {
		if base > 0 {
			m.tickBase = base
		}
		if jitter >= 0 {
			m.tickJitter = jitter
		}
	}
}

func WithArrivalThreshold(meters float64) Option {
	return func(m *Manager) {
		if meters > 0 {
			m.thresholdKm = meters / 1000
		}
	}
}

func WithStopTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.stopTimeout = timeout
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires movement to the device layer. paths may be nil, in
// which case routes follow straight lines between waypoints.
func NewManager(locator Locator, paths PathFinder, publisher Publisher, opts ...Option) *Manager {
	m := &Manager{
		locator:     locator,
		paths:       paths,
		publisher:   publisher,
		logger:      logging.Nop(),
		now:         time.Now,
		tickBase:    DefaultTickBase,
		tickJitter:  DefaultTickJitter,
		thresholdKm: DefaultArrivalThreshold / 1000,
		stopTimeout: DefaultStopTimeout,
		sessions:    map[string]*session{},
		starts:      map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// StartCruise moves the device in a straight line to target. A nil start
// continues from the device's last known location. Any running movement on
// the device is stopped first.
func (m *Manager) StartCruise(ctx context.Context, deviceID string, start *types.Coordinate, target types.Coordinate, speedKmh float64) (types.MovementSnapshot, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return types.MovementSnapshot{}, fmt.Errorf("%w: device id is required", device.ErrInvalidRequest)
	}
	if err := target.Validate(); err != nil {
		return types.MovementSnapshot{}, fmt.Errorf("%w: target: %v", device.ErrInvalidRequest, err)
	}
	speed, err := clampSpeed(types.MovementCruise, speedKmh)
	if err != nil {
		return types.MovementSnapshot{}, err
	}
	var from types.Coordinate
	if start != nil {
		if err := start.Validate(); err != nil {
			return types.MovementSnapshot{}, fmt.Errorf("%w: start: %v", device.ErrInvalidRequest, err)
		}
		from = *start
	} else {
		known, ok := m.locator.LastKnown(deviceID)
		if !ok {
			return types.MovementSnapshot{}, ErrNoStart
		}
		from = known
	}
	distance := geo.DistanceKm(from, target)
	if distance < m.thresholdKm {
		return types.MovementSnapshot{}, ErrAlreadyAtTarget
	}
	segments := []types.RouteSegment{{
		FromWaypoint: 0,
		ToWaypoint:   1,
		Path:         []types.Coordinate{from, target},
		DistanceKm:   distance,
	}}
	s := newSession(deviceID, types.MovementCruise, []types.Coordinate{from, target}, segments, speed, false, m.now())
	return m.install(ctx, s)
}

// StartRoute follows the waypoints in order, asking the path finder for
// the path of every leg. With loop set, a closing leg returns to the first
// waypoint and the route repeats until stopped.
func (m *Manager) StartRoute(ctx context.Context, deviceID string, waypoints []types.Coordinate, speedKmh float64, loop bool) (types.MovementSnapshot, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return types.MovementSnapshot{}, fmt.Errorf("%w: device id is required", device.ErrInvalidRequest)
	}
	if len(waypoints) < 2 {
		return types.MovementSnapshot{}, fmt.Errorf("%w: route needs at least 2 waypoints", device.ErrInvalidRequest)
	}
	for i, wp := range waypoints {
		if err := wp.Validate(); err != nil {
			return types.MovementSnapshot{}, fmt.Errorf("%w: waypoint %d: %v", device.ErrInvalidRequest, i, err)
		}
	}
	speed, err := clampSpeed(types.MovementRoute, speedKmh)
	if err != nil {
		return types.MovementSnapshot{}, err
	}
	waypoints = append([]types.Coordinate{}, waypoints...)

	segments := make([]types.RouteSegment, 0, len(waypoints))
	for i := 0; i+1 < len(waypoints); i++ {
		seg, err := m.route(ctx, waypoints[i], waypoints[i+1])
		if err != nil {
			return types.MovementSnapshot{}, err
		}
		seg.FromWaypoint, seg.ToWaypoint = i, i+1
		segments = append(segments, seg)
	}
	if loop {
		last := len(waypoints) - 1
		closure, err := m.route(ctx, waypoints[last], waypoints[0])
		if err != nil {
			return types.MovementSnapshot{}, err
		}
		closure.FromWaypoint, closure.ToWaypoint, closure.IsClosure = last, 0, true
		segments = append(segments, closure)
	}
	s := newSession(deviceID, types.MovementRoute, waypoints, segments, speed, loop, m.now())
	return m.install(ctx, s)
}

func (m *Manager) Pause(deviceID string) (types.MovementSnapshot, error) {
	s := m.lookup(deviceID)
	if s == nil {
		return types.MovementSnapshot{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.MovementRunning {
		return types.MovementSnapshot{}, fmt.Errorf("%w: cannot pause, movement is %s", ErrInvalidState, s.state)
	}
	s.state = types.MovementPaused
	snap := s.snapshot(m.now(), false)
	m.publish(s.events.paused, snap)
	m.logger.Info("movement_paused", logging.Device(deviceID), logging.F("mode", s.mode))
	return snap, nil
}

// Resume restarts a paused movement. The tick clock restarts too, so the
// time spent paused is not turned into distance.
func (m *Manager) Resume(deviceID string) (types.MovementSnapshot, error) {
	s := m.lookup(deviceID)
	if s == nil {
		return types.MovementSnapshot{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != types.MovementPaused {
		return types.MovementSnapshot{}, fmt.Errorf("%w: cannot resume, movement is %s", ErrInvalidState, s.state)
	}
	now := m.now()
	s.state = types.MovementRunning
	s.lastTick = now
	snap := s.snapshot(now, false)
	m.publish(s.events.resumed, snap)
	m.logger.Info("movement_resumed", logging.Device(deviceID), logging.F("mode", s.mode))
	return snap, nil
}

// SetSpeed changes the speed of a running or paused movement, clamped to
// the range of its mode.
func (m *Manager) SetSpeed(deviceID string, speedKmh float64) (types.MovementSnapshot, error) {
	s := m.lookup(deviceID)
	if s == nil {
		return types.MovementSnapshot{}, ErrNoSession
	}
	speed, err := clampSpeed(s.mode, speedKmh)
	if err != nil {
		return types.MovementSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return types.MovementSnapshot{}, ErrNoSession
	}
	s.speedKmh = speed
	m.logger.Debug("movement_speed", logging.Device(deviceID), logging.F("speed_kmh", speed))
	return s.snapshot(m.now(), false), nil
}

// Stop ends the device's movement and waits for its worker. Stopping a
// device without movement is a no-op.
func (m *Manager) Stop(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	lock := m.startLock(deviceID)
	lock.Lock()
	defer lock.Unlock()
	s := m.lookup(deviceID)
	if s == nil {
		return nil
	}
	m.stopSession(ctx, s, "stopped")
	return nil
}

// StopAll stops every movement and refuses new ones.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			m.stopSession(ctx, s, "shutdown")
		}(s)
	}
	wg.Wait()
}

func (m *Manager) Status(deviceID string) (types.MovementSnapshot, bool) {
	s := m.lookup(deviceID)
	if s == nil {
		return types.MovementSnapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(m.now(), true), true
}

// Devices lists devices with an active movement.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// install replaces any movement on the device with s and starts its
// worker. The previous movement has emitted its stopped event before s
// emits its started event.
func (m *Manager) install(ctx context.Context, s *session) (types.MovementSnapshot, error) {
	lock := m.startLock(s.deviceID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return types.MovementSnapshot{}, ErrClosed
	}
	prev := m.sessions[s.deviceID]
	m.mu.Unlock()
	if prev != nil {
		m.stopSession(ctx, prev, "replaced")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return types.MovementSnapshot{}, ErrClosed
	}
	m.sessions[s.deviceID] = s
	m.mu.Unlock()

	s.mu.Lock()
	snap := s.snapshot(m.now(), true)
	m.publish(s.events.started, snap)
	s.mu.Unlock()

	m.logger.Info("movement_started",
		logging.Device(s.deviceID),
		logging.F("mode", s.mode),
		logging.F("segments", len(s.segments)),
		logging.F("distance_km", snap.RemainingKm),
		logging.F("speed_kmh", snap.SpeedKmh),
	)
	go m.run(workerCtx, s)
	return snap, nil
}

// stopSession moves s to stopped, emitting its terminal event unless the
// worker already emitted one, then cancels and joins the worker.
func (m *Manager) stopSession(ctx context.Context, s *session, reason string) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = types.MovementStopped
		snap := s.snapshot(m.now(), false)
		snap.Reason = reason
		m.publish(s.events.stopped, snap)
	}
	s.mu.Unlock()

	m.remove(s)
	if s.cancel != nil {
		s.cancel()
	}
	if !waitDone(ctx, s.done, m.stopTimeout) {
		m.logger.Warn("movement_stop_timeout", logging.Device(s.deviceID), logging.F("timeout", m.stopTimeout))
		return
	}
	m.logger.Info("movement_stopped", logging.Device(s.deviceID), logging.F("reason", reason))
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)
	timer := time.NewTimer(m.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !m.tick(ctx, s) {
			return
		}
		timer.Reset(m.interval())
	}
}

// tick performs one movement step. It returns false once the session has
// reached a terminal state.
func (m *Manager) tick(ctx context.Context, s *session) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	if s.state != types.MovementRunning {
		s.mu.Unlock()
		return true
	}
	now := m.now()
	elapsed := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	step := s.advance(geo.StepKm(s.speedKmh, elapsed), m.thresholdKm)
	position := s.location
	s.mu.Unlock()

	err := m.locator.UpdateLocation(ctx, s.deviceID, position)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if device.IsFatal(err) {
			m.fail(s, err)
			return false
		}
		m.logger.Warn("movement_step_failed", logging.Device(s.deviceID), logging.Err(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	now = m.now()
	if s.mode == types.MovementRoute && step.segmentCompleted {
		m.publish(types.EventRouteSegmentComplete, s.snapshot(now, false))
	}
	if step.arrived {
		s.state = types.MovementArrived
		snap := s.snapshot(now, false)
		m.publish(s.events.arrived, snap)
		m.logger.Info("movement_arrived",
			logging.Device(s.deviceID),
			logging.F("mode", s.mode),
			logging.F("distance_km", s.traveledKm),
		)
		m.finish(s)
		return false
	}
	if step.loopCompleted {
		m.logger.Info("route_loop_complete", logging.Device(s.deviceID), logging.F("loops", s.loopsCompleted))
		m.publish(types.EventRouteLoopComplete, s.snapshot(now, false))
	}
	m.publish(s.events.update, s.snapshot(now, false))
	return true
}

func (m *Manager) fail(s *session, cause error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = types.MovementStopped
	snap := s.snapshot(m.now(), false)
	snap.Reason = "error"
	snap.Error = cause.Error()
	m.publish(s.events.failed, snap)
	s.mu.Unlock()
	m.logger.Error("movement_failed", logging.Device(s.deviceID), logging.F("mode", s.mode), logging.Err(cause))
	m.finish(s)
}

// finish drops a session that ended on its own. Safe with s.mu held: the
// manager lock is never held while taking a session lock.
func (m *Manager) finish(s *session) {
	m.remove(s)
	if s.cancel != nil {
		s.cancel()
	}
}

func (m *Manager) remove(s *session) {
	m.mu.Lock()
	if m.sessions[s.deviceID] == s {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()
}

func (m *Manager) lookup(deviceID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[strings.TrimSpace(deviceID)]
}

// startLock serializes start and stop for one device so two concurrent
// starts cannot both install a session.
func (m *Manager) startLock(deviceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.starts[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.starts[deviceID] = lock
	}
	return lock
}

func (m *Manager) route(ctx context.Context, from, to types.Coordinate) (types.RouteSegment, error) {
	if m.paths == nil {
		return straightSegment(from, to), nil
	}
	seg, err := m.paths.Route(ctx, from, to)
	if err != nil {
		return types.RouteSegment{}, fmt.Errorf("find path: %w", err)
	}
	if len(seg.Path) < 2 {
		return straightSegment(from, to), nil
	}
	return seg, nil
}

func (m *Manager) interval() time.Duration {
	if m.tickJitter <= 0 {
		return m.tickBase
	}
	return m.tickBase + time.Duration(rand.Int63n(int64(m.tickJitter)))
}

func (m *Manager) publish(eventType types.EventType, snap types.MovementSnapshot) {
	if m.publisher != nil {
		m.publisher.Publish(events.New(eventType, snap.DeviceID, snap))
	}
}

func straightSegment(from, to types.Coordinate) types.RouteSegment {
	return types.RouteSegment{
		Path:       []types.Coordinate{from, to},
		DistanceKm: geo.DistanceKm(from, to),
		IsFallback: true,
	}
}

func clampSpeed(mode types.MovementMode, speedKmh float64) (float64, error) {
	if math.IsNaN(speedKmh) || math.IsInf(speedKmh, 0) || speedKmh <= 0 {
		return 0, fmt.Errorf("%w: speed must be a positive number", device.ErrInvalidRequest)
	}
	lo, hi := MinCruiseSpeedKmh, MaxCruiseSpeedKmh
	if mode == types.MovementRoute {
		lo, hi = MinRouteSpeedKmh, MaxRouteSpeedKmh
	}
	return math.Max(lo, math.Min(hi, speedKmh)), nil
}

func waitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
