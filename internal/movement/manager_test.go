package movement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locsim/internal/device"
	"locsim/internal/geo"
	"locsim/internal/types"
)

type fakeLocator struct {
	mu        sync.Mutex
	positions map[string][]types.Coordinate
	known     map[string]types.Coordinate
	err       error
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{positions: map[string][]types.Coordinate{}, known: map[string]types.Coordinate{}}
}

func (f *fakeLocator) UpdateLocation(ctx context.Context, deviceID string, coord types.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.positions[deviceID] = append(f.positions[deviceID], coord)
	f.known[deviceID] = coord
	return nil
}

func (f *fakeLocator) LastKnown(deviceID string) (types.Coordinate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	coord, ok := f.known[deviceID]
	return coord, ok
}

func (f *fakeLocator) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLocator) history(deviceID string) []types.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Coordinate{}, f.positions[deviceID]...)
}

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) Publish(evt types.Event) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) all() []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.Event{}, l.events...)
}

func (l *eventLog) count(eventType types.EventType) int {
	n := 0
	for _, evt := range l.all() {
		if evt.Type == eventType {
			n++
		}
	}
	return n
}

func (l *eventLog) forDevice(deviceID string) []types.Event {
	var out []types.Event
	for _, evt := range l.all() {
		if evt.DeviceID == deviceID {
			out = append(out, evt)
		}
	}
	return out
}

func indexOf(events []types.Event, eventType types.EventType) int {
	for i, evt := range events {
		if evt.Type == eventType {
			return i
		}
	}
	return -1
}

type straightPaths struct{}

func (straightPaths) Route(ctx context.Context, from, to types.Coordinate) (types.RouteSegment, error) {
	mid := types.Coordinate{Latitude: (from.Latitude + to.Latitude) / 2, Longitude: (from.Longitude + to.Longitude) / 2}
	path := []types.Coordinate{from, mid, to}
	return types.RouteSegment{Path: path, DistanceKm: geo.PathLengthKm(path)}, nil
}

func newTestManager(t *testing.T, locator *fakeLocator, log *eventLog) *Manager {
	t.Helper()
	m := NewManager(locator, straightPaths{}, log, WithTick(2*time.Millisecond, 0))
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m
}

var (
	origin = types.Coordinate{Latitude: 0, Longitude: 0}
	far    = types.Coordinate{Latitude: 1, Longitude: 1}
)

func TestCruiseArrivalSnapsOntoTarget(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	target := types.Coordinate{Latitude: 0, Longitude: 0.00005}
	_, err := m.StartCruise(context.Background(), "dev", &origin, target, 5)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.count(types.EventCruiseArrived) == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 1, log.count(types.EventCruiseArrived))
	require.Zero(t, log.count(types.EventCruiseStopped))
	history := locator.history("dev")
	require.NotEmpty(t, history)
	require.Equal(t, target, history[len(history)-1])
	for _, coord := range history {
		require.LessOrEqual(t, coord.Longitude, target.Longitude)
	}
	_, active := m.Status("dev")
	require.False(t, active)

	events := log.forDevice("dev")
	require.Equal(t, types.EventCruiseArrived, events[len(events)-1].Type)
	final := events[len(events)-1].Data.(types.MovementSnapshot)
	require.Equal(t, target, final.Location)
	require.Zero(t, final.RemainingKm)
}

func TestCruiseRejectsStartAtTarget(t *testing.T) {
	m := newTestManager(t, newFakeLocator(), &eventLog{})
	near := types.Coordinate{Latitude: 0, Longitude: 0.00001}
	_, err := m.StartCruise(context.Background(), "dev", &origin, near, 5)
	require.ErrorIs(t, err, ErrAlreadyAtTarget)
	require.ErrorIs(t, err, device.ErrInvalidRequest)
}

func TestCruiseStartsFromLastKnownLocation(t *testing.T) {
	locator := newFakeLocator()
	m := newTestManager(t, locator, &eventLog{})

	_, err := m.StartCruise(context.Background(), "dev", nil, far, 5)
	require.ErrorIs(t, err, ErrNoStart)

	locator.known["dev"] = types.Coordinate{Latitude: 0.5, Longitude: 0.5}
	snap, err := m.StartCruise(context.Background(), "dev", nil, far, 5)
	require.NoError(t, err)
	require.Equal(t, types.Coordinate{Latitude: 0.5, Longitude: 0.5}, snap.Location)
	require.Equal(t, far, snap.Target)
}

func TestCruiseSpeedIsClamped(t *testing.T) {
	m := newTestManager(t, newFakeLocator(), &eventLog{})
	snap, err := m.StartCruise(context.Background(), "dev", &origin, far, 500)
	require.NoError(t, err)
	require.Equal(t, MaxCruiseSpeedKmh, snap.SpeedKmh)

	snap, err = m.SetSpeed("dev", 0.2)
	require.NoError(t, err)
	require.Equal(t, MinCruiseSpeedKmh, snap.SpeedKmh)

	_, err = m.SetSpeed("dev", -1)
	require.ErrorIs(t, err, device.ErrInvalidRequest)
	_, err = m.SetSpeed("other", 10)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestDevicesMoveIndependently(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	targetA := types.Coordinate{Latitude: 1, Longitude: 0}
	targetB := types.Coordinate{Latitude: 0, Longitude: -1}
	_, err := m.StartCruise(context.Background(), "A", &origin, targetA, 10)
	require.NoError(t, err)
	_, err = m.StartCruise(context.Background(), "B", &origin, targetB, 40)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(locator.history("A")) > 3 && len(locator.history("B")) > 3
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background(), "A"))
	_, activeA := m.Status("A")
	require.False(t, activeA)
	snapB, activeB := m.Status("B")
	require.True(t, activeB)
	require.Equal(t, types.MovementRunning, snapB.State)

	before := len(locator.history("B"))
	require.Eventually(t, func() bool { return len(locator.history("B")) > before }, 5*time.Second, 5*time.Millisecond)

	for _, evt := range log.forDevice("A") {
		snap := evt.Data.(types.MovementSnapshot)
		require.Equal(t, "A", snap.DeviceID)
		require.Equal(t, targetA, snap.Target)
	}
	for _, evt := range log.forDevice("B") {
		snap := evt.Data.(types.MovementSnapshot)
		require.Equal(t, targetB, snap.Target)
		require.NotEqual(t, types.EventCruiseStopped, evt.Type)
	}
	for _, coord := range locator.history("A") {
		require.InDelta(t, 0, coord.Longitude, 1e-9)
	}
}

func TestRouteReplacesCruiseAfterStopping(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	_, err := m.StartCruise(context.Background(), "dev", &origin, far, 10)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(locator.history("dev")) > 2 }, 5*time.Second, 5*time.Millisecond)

	snap, err := m.StartRoute(context.Background(), "dev", []types.Coordinate{origin, far}, 10, false)
	require.NoError(t, err)
	require.Equal(t, types.MovementRoute, snap.Mode)
	require.Equal(t, types.MovementRunning, snap.State)

	events := log.forDevice("dev")
	stopped := indexOf(events, types.EventCruiseStopped)
	started := indexOf(events, types.EventRouteStarted)
	require.NotEqual(t, -1, stopped)
	require.NotEqual(t, -1, started)
	require.Less(t, stopped, started)
	require.Equal(t, "replaced", events[stopped].Data.(types.MovementSnapshot).Reason)
	for _, evt := range events[started:] {
		require.NotEqual(t, types.EventCruiseUpdate, evt.Type)
	}
	require.Equal(t, []string{"dev"}, m.Devices())
}

func TestConcurrentStartsLeaveOneSession(t *testing.T) {
	log := &eventLog{}
	m := newTestManager(t, newFakeLocator(), log)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.StartCruise(context.Background(), "dev", &origin, far, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, []string{"dev"}, m.Devices())
	require.Equal(t, 8, log.count(types.EventCruiseStarted))
	require.Equal(t, 7, log.count(types.EventCruiseStopped))
}

func TestFatalErrorStopsMovement(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	locator.setErr(&device.RetryExhaustedError{DeviceID: "dev", Op: "set_location", Attempts: 5, Last: errors.New("boom")})
	_, err := m.StartCruise(context.Background(), "dev", &origin, far, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.count(types.EventCruiseError) == 1 }, 5*time.Second, 5*time.Millisecond)
	_, active := m.Status("dev")
	require.False(t, active)
	require.NoError(t, m.Stop(context.Background(), "dev"))
	require.Zero(t, log.count(types.EventCruiseStopped))

	events := log.forDevice("dev")
	failure := events[indexOf(events, types.EventCruiseError)].Data.(types.MovementSnapshot)
	require.Equal(t, types.MovementStopped, failure.State)
	require.Contains(t, failure.Error, "boom")
}

func TestTransientErrorKeepsMoving(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	locator.setErr(errors.New("flaky"))
	_, err := m.StartCruise(context.Background(), "dev", &origin, far, 10)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(types.EventCruiseUpdate) > 3 }, 5*time.Second, 5*time.Millisecond)
	_, active := m.Status("dev")
	require.True(t, active)
	require.Zero(t, log.count(types.EventCruiseError))
}

func TestPauseAndResume(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	_, err := m.Resume("dev")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = m.StartCruise(context.Background(), "dev", &origin, far, 10)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(locator.history("dev")) > 2 }, 5*time.Second, 5*time.Millisecond)

	snap, err := m.Pause("dev")
	require.NoError(t, err)
	require.Equal(t, types.MovementPaused, snap.State)
	_, err = m.Pause("dev")
	require.ErrorIs(t, err, ErrInvalidState)

	time.Sleep(20 * time.Millisecond)
	paused := len(locator.history("dev"))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, paused, len(locator.history("dev")))

	_, err = m.Resume("dev")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(locator.history("dev")) > paused }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, log.count(types.EventCruisePaused))
	require.Equal(t, 1, log.count(types.EventCruiseResumed))
}

func TestRouteArrivesAtLastWaypoint(t *testing.T) {
	locator := newFakeLocator()
	log := &eventLog{}
	m := newTestManager(t, locator, log)

	waypoints := []types.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.0001},
		{Latitude: 0.0001, Longitude: 0.0001},
	}
	snap, err := m.StartRoute(context.Background(), "dev", waypoints, 200, false)
	require.NoError(t, err)
	require.Equal(t, 2, snap.SegmentCount)
	require.Len(t, snap.Segments, 2)

	require.Eventually(t, func() bool { return log.count(types.EventRouteArrived) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, log.count(types.EventRouteSegmentComplete))
	history := locator.history("dev")
	require.Equal(t, waypoints[2], history[len(history)-1])
}

func TestRouteLoopsThroughClosureSegment(t *testing.T) {
	log := &eventLog{}
	m := newTestManager(t, newFakeLocator(), log)

	waypoints := []types.Coordinate{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.0001},
	}
	snap, err := m.StartRoute(context.Background(), "dev", waypoints, 200, true)
	require.NoError(t, err)
	require.Len(t, snap.Segments, 2)
	require.True(t, snap.Segments[1].IsClosure)
	require.Equal(t, 1, snap.Segments[1].FromWaypoint)
	require.Equal(t, 0, snap.Segments[1].ToWaypoint)

	require.Eventually(t, func() bool { return log.count(types.EventRouteLoopComplete) >= 2 }, 5*time.Second, 5*time.Millisecond)
	status, active := m.Status("dev")
	require.True(t, active)
	require.GreaterOrEqual(t, status.LoopsCompleted, 2)
	require.Zero(t, log.count(types.EventRouteArrived))
}

func TestStartRouteValidation(t *testing.T) {
	m := newTestManager(t, newFakeLocator(), &eventLog{})
	_, err := m.StartRoute(context.Background(), "dev", []types.Coordinate{origin}, 10, false)
	require.ErrorIs(t, err, device.ErrInvalidRequest)
	_, err = m.StartRoute(context.Background(), "dev", []types.Coordinate{origin, {Latitude: 95}}, 10, false)
	require.ErrorIs(t, err, device.ErrInvalidRequest)
	_, err = m.StartRoute(context.Background(), " ", []types.Coordinate{origin, far}, 10, false)
	require.ErrorIs(t, err, device.ErrInvalidRequest)
}

func TestStopAllRefusesNewMovement(t *testing.T) {
	log := &eventLog{}
	m := NewManager(newFakeLocator(), nil, log, WithTick(2*time.Millisecond, 0))
	_, err := m.StartCruise(context.Background(), "a", &origin, far, 10)
	require.NoError(t, err)
	_, err = m.StartRoute(context.Background(), "b", []types.Coordinate{origin, far}, 10, false)
	require.NoError(t, err)

	m.StopAll(context.Background())
	require.Empty(t, m.Devices())
	require.Equal(t, 1, log.count(types.EventCruiseStopped))
	require.Equal(t, 1, log.count(types.EventRouteStopped))

	_, err = m.StartCruise(context.Background(), "a", &origin, far, 10)
	require.ErrorIs(t, err, ErrClosed)
}

func TestAdvanceStopsAtSegmentBoundary(t *testing.T) {
	path := []types.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 0.001}, {Latitude: 0, Longitude: 0.002}}
	segments := []types.RouteSegment{
		{Path: path, DistanceKm: geo.PathLengthKm(path)},
		{Path: []types.Coordinate{path[2], {Latitude: 0.001, Longitude: 0.002}}, DistanceKm: 0.111},
	}
	s := newSession("dev", types.MovementRoute, nil, segments, 10, false, time.Now())

	res := s.advance(1.0, 0.005)
	require.True(t, res.segmentCompleted)
	require.False(t, res.arrived)
	require.Equal(t, path[2], s.location)
	require.Equal(t, 1, s.segIndex)
	require.InDelta(t, segments[0].DistanceKm, s.traveledKm, 1e-9)

	res = s.advance(0.05, 0.005)
	require.False(t, res.segmentCompleted)
	require.InDelta(t, 0.05, geo.DistanceKm(path[2], s.location), 1e-6)

	res = s.advance(1.0, 0.005)
	require.True(t, res.arrived)
	require.Equal(t, segments[1].Path[1], s.location)
}
