package types

import "time"

type EventType string

const (
	EventCruiseStarted EventType = "cruiseStarted"
	EventCruiseUpdate  EventType = "cruiseUpdate"
	EventCruiseArrived EventType = "cruiseArrived"
	EventCruiseStopped EventType = "cruiseStopped"
	EventCruisePaused  EventType = "cruisePaused"
	EventCruiseResumed EventType = "cruiseResumed"
	EventCruiseError   EventType = "cruiseError"

	EventRouteStarted         EventType = "routeStarted"
	EventRouteUpdate          EventType = "routeUpdate"
	EventRouteSegmentComplete EventType = "routeSegmentComplete"
	EventRouteLoopComplete    EventType = "routeLoopComplete"
	EventRouteArrived         EventType = "routeArrived"
	EventRouteStopped         EventType = "routeStopped"
	EventRoutePaused          EventType = "routePaused"
	EventRouteResumed         EventType = "routeResumed"
	EventRouteError           EventType = "routeError"

	EventLocationSet        EventType = "locationSet"
	EventLocationCleared    EventType = "locationCleared"
	EventDeviceDisconnected EventType = "deviceDisconnected"
)

// Droppable reports whether an event may be coalesced away under
// back-pressure. Only periodic progress updates qualify.
func (t EventType) Droppable() bool {
	return t == EventCruiseUpdate || t == EventRouteUpdate
}

type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"event"`
	DeviceID string    `json:"device_id"`
	Time     time.Time `json:"time"`
	Data     any       `json:"data,omitempty"`
}
