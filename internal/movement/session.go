package movement

import (
	"context"
	"sync"
	"time"

	"locsim/internal/geo"
	"locsim/internal/types"
)

type modeEvents struct {
	started types.EventType
	update  types.EventType
	arrived types.EventType
	stopped types.EventType
	paused  types.EventType
	resumed types.EventType
	failed  types.EventType
}

var eventsByMode = map[types.MovementMode]modeEvents{
	types.MovementCruise: {
		started: types.EventCruiseStarted,
		update:  types.EventCruiseUpdate,
		arrived: types.EventCruiseArrived,
		stopped: types.EventCruiseStopped,
		paused:  types.EventCruisePaused,
		resumed: types.EventCruiseResumed,
		failed:  types.EventCruiseError,
	},
	types.MovementRoute: {
		started: types.EventRouteStarted,
		update:  types.EventRouteUpdate,
		arrived: types.EventRouteArrived,
		stopped: types.EventRouteStopped,
		paused:  types.EventRoutePaused,
		resumed: types.EventRouteResumed,
		failed:  types.EventRouteError,
	},
}

// session is one device's movement. Every field below mu is guarded by it;
// the worker reads state and speed fresh on each tick.
type session struct {
	deviceID  string
	mode      types.MovementMode
	loop      bool
	waypoints []types.Coordinate
	segments  []types.RouteSegment
	startedAt time.Time
	events    modeEvents

	cancel context.CancelFunc
	done   chan struct{}

	mu                sync.Mutex
	state             types.MovementState
	speedKmh          float64
	location          types.Coordinate
	lastTick          time.Time
	segIndex          int
	vertex            int
	traveledKm        float64
	segmentsCompleted int
	loopsCompleted    int
}

func newSession(deviceID string, mode types.MovementMode, waypoints []types.Coordinate, segments []types.RouteSegment, speedKmh float64, loop bool, now time.Time) *session {
	return &session{
		deviceID:  deviceID,
		mode:      mode,
		loop:      loop,
		waypoints: waypoints,
		segments:  segments,
		startedAt: now,
		events:    eventsByMode[mode],
		done:      make(chan struct{}),
		state:     types.MovementRunning,
		speedKmh:  speedKmh,
		location:  segments[0].Path[0],
		lastTick:  now,
	}
}

type stepResult struct {
	segmentCompleted bool
	loopCompleted    bool
	arrived          bool
}

// advance moves the session location along its path by budgetKm. A vertex
// closer than thresholdKm, or within the remaining budget, is snapped onto
// exactly. Movement never crosses a segment boundary within one step so
// every completed segment is reported on its own tick. Caller holds mu.
func (s *session) advance(budgetKm, thresholdKm float64) stepResult {
	var res stepResult
	for {
		seg := s.segments[s.segIndex]
		next := seg.Path[s.vertex]
		d := geo.DistanceKm(s.location, next)
		if d > budgetKm && d >= thresholdKm {
			s.location = geo.Destination(s.location, geo.Bearing(s.location, next), budgetKm)
			s.traveledKm += budgetKm
			return res
		}
		s.location = next
		s.traveledKm += d
		budgetKm -= d
		s.vertex++
		if s.vertex < len(seg.Path) {
			if budgetKm <= 0 {
				return res
			}
			continue
		}

		s.vertex = 0
		s.segIndex++
		s.segmentsCompleted++
		res.segmentCompleted = true
		if s.segIndex < len(s.segments) {
			return res
		}
		if !s.loop {
			s.segIndex = len(s.segments) - 1
			s.vertex = len(s.segments[s.segIndex].Path) - 1
			res.arrived = true
			return res
		}
		s.segIndex = 0
		s.loopsCompleted++
		res.loopCompleted = true
		return res
	}
}

// remainingKm is the distance left in the current pass over the segments.
func (s *session) remainingKm() float64 {
	if s.state == types.MovementArrived {
		return 0
	}
	seg := s.segments[s.segIndex]
	remaining := geo.DistanceKm(s.location, seg.Path[s.vertex])
	remaining += geo.PathLengthKm(seg.Path[s.vertex:])
	for _, next := range s.segments[s.segIndex+1:] {
		remaining += next.DistanceKm
	}
	return remaining
}

func (s *session) target() types.Coordinate {
	if s.mode == types.MovementCruise {
		path := s.segments[0].Path
		return path[len(path)-1]
	}
	seg := s.segments[s.segIndex]
	return seg.Path[len(seg.Path)-1]
}

// snapshot reports progress. full adds the route geometry, which is only
// worth sending on start and on explicit status requests. Caller holds mu.
func (s *session) snapshot(now time.Time, full bool) types.MovementSnapshot {
	snap := types.MovementSnapshot{
		DeviceID:           s.deviceID,
		Mode:               s.mode,
		State:              s.state,
		Location:           s.location,
		Target:             s.target(),
		SpeedKmh:           s.speedKmh,
		RemainingKm:        s.remainingKm(),
		DistanceTraveledKm: s.traveledKm,
		DurationSeconds:    now.Sub(s.startedAt).Seconds(),
		StartedAt:          s.startedAt,
	}
	if s.mode == types.MovementRoute {
		snap.Loop = s.loop
		snap.SegmentIndex = s.segIndex
		snap.SegmentCount = len(s.segments)
		snap.SegmentsCompleted = s.segmentsCompleted
		snap.LoopsCompleted = s.loopsCompleted
		if full {
			snap.Waypoints = append([]types.Coordinate{}, s.waypoints...)
			snap.Segments = append([]types.RouteSegment{}, s.segments...)
		}
	}
	return snap
}
