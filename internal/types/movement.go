package types

import "time"

type MovementMode string

const (
	MovementCruise MovementMode = "cruise"
	MovementRoute  MovementMode = "route"
)

type MovementState string

const (
	MovementRunning MovementState = "running"
	MovementPaused  MovementState = "paused"
	MovementStopped MovementState = "stopped"
	MovementArrived MovementState = "arrived"
)

func (s MovementState) Terminal() bool {
	return s == MovementStopped || s == MovementArrived
}

type RouteSegment struct {
	FromWaypoint int          `json:"from_waypoint"`
	ToWaypoint   int          `json:"to_waypoint"`
	Path         []Coordinate `json:"path"`
	DistanceKm   float64      `json:"distance_km"`
	IsClosure    bool         `json:"is_closure,omitempty"`
	IsFallback   bool         `json:"is_fallback,omitempty"`
}

type MovementSnapshot struct {
	DeviceID           string         `json:"device_id"`
	Mode               MovementMode   `json:"mode"`
	State              MovementState  `json:"state"`
	Location           Coordinate     `json:"location"`
	Target             Coordinate     `json:"target"`
	SpeedKmh           float64        `json:"speed_kmh"`
	RemainingKm        float64        `json:"remaining_km"`
	DistanceTraveledKm float64        `json:"distance_traveled_km"`
	DurationSeconds    float64        `json:"duration_seconds"`
	StartedAt          time.Time      `json:"started_at"`
	Loop               bool           `json:"loop,omitempty"`
	SegmentIndex       int            `json:"segment_index,omitempty"`
	SegmentCount       int            `json:"segment_count,omitempty"`
	SegmentsCompleted  int            `json:"segments_completed,omitempty"`
	LoopsCompleted     int            `json:"loops_completed,omitempty"`
	Waypoints          []Coordinate   `json:"waypoints,omitempty"`
	Segments           []RouteSegment `json:"segments,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Error              string         `json:"error,omitempty"`
}
