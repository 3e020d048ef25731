package client

import (
	"locsim/internal/events"
	"locsim/internal/types"
)

type HealthResponse struct {
	OK      bool         `json:"ok"`
	Version string       `json:"version"`
	PID     int          `json:"pid"`
	Events  events.Stats `json:"events"`
}

type DevicesResponse struct {
	Devices []types.DeviceStatus `json:"devices"`
}

type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type LocationResponse struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type CruiseRequest struct {
	Start    *types.Coordinate `json:"start,omitempty"`
	Target   *types.Coordinate `json:"target"`
	SpeedKmh float64           `json:"speed_kmh"`
}

type RouteRequest struct {
	Waypoints []types.Coordinate `json:"waypoints"`
	SpeedKmh  float64            `json:"speed_kmh"`
	Loop      bool               `json:"loop"`
}

type SpeedRequest struct {
	SpeedKmh float64 `json:"speed_kmh"`
}

type FavoriteRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name,omitempty"`
}

type FavoriteRenameRequest struct {
	Name string `json:"name"`
}

type FavoritesResponse struct {
	Favorites []types.Favorite `json:"favorites"`
}

type ImportFavoritesRequest struct {
	Content string `json:"content"`
}

type ImportFavoritesResponse struct {
	Imported int `json:"imported"`
}
