package daemon

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"locsim/internal/events"
	"locsim/internal/logging"
	"locsim/internal/types"
)

// DeviceService is the direct location surface, implemented by
// device.Service.
type DeviceService interface {
	SetLocation(ctx context.Context, deviceID string, coord types.Coordinate) error
	ClearLocation(ctx context.Context, deviceID string) error
	Disconnect(ctx context.Context, deviceID string) error
	LastKnown(deviceID string) (types.Coordinate, bool)
	Status(deviceID string) types.DeviceStatus
	Devices() []string
}

// MovementService is implemented by movement.Manager.
type MovementService interface {
	StartCruise(ctx context.Context, deviceID string, start *types.Coordinate, target types.Coordinate, speedKmh float64) (types.MovementSnapshot, error)
	StartRoute(ctx context.Context, deviceID string, waypoints []types.Coordinate, speedKmh float64, loop bool) (types.MovementSnapshot, error)
	Pause(deviceID string) (types.MovementSnapshot, error)
	Resume(deviceID string) (types.MovementSnapshot, error)
	SetSpeed(deviceID string, speedKmh float64) (types.MovementSnapshot, error)
	Stop(ctx context.Context, deviceID string) error
	Status(deviceID string) (types.MovementSnapshot, bool)
	Devices() []string
}

type TunnelStatusSource interface {
	Status(deviceID string) types.TunnelState
}

type EventSource interface {
	Subscribe() (<-chan types.Event, func())
	Stats() events.Stats
}

// FavoriteService is implemented by store.FileFavoriteStore.
type FavoriteService interface {
	List(ctx context.Context) ([]types.Favorite, error)
	Add(ctx context.Context, favorite types.Favorite) (types.Favorite, error)
	Rename(ctx context.Context, index int, name string) (types.Favorite, error)
	Delete(ctx context.Context, index int) error
	Import(ctx context.Context, r io.Reader) (int, error)
}

type API struct {
	Version   string
	Devices   DeviceService
	Movement  MovementService
	Tunnels   TunnelStatusSource
	Events    EventSource
	Favorites FavoriteService
	Shutdown  func(context.Context) error
	Logger    logging.Logger
}

type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r LocationRequest) coordinate() (types.Coordinate, error) {
	if r.Latitude == nil || r.Longitude == nil {
		return types.Coordinate{}, invalidError("latitude and longitude are required", nil)
	}
	return types.Coordinate{Latitude: *r.Latitude, Longitude: *r.Longitude}, nil
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

type LocationResponse struct {
	DeviceID  string  `json:"device_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type FavoriteRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Name      string   `json:"name"`
}

type FavoriteRenameRequest struct {
	Name string `json:"name"`
}

// ImportFavoritesRequest carries favorites file text inline, or a path
// readable by the daemon.
type ImportFavoritesRequest struct {
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
}

type ImportFavoritesResponse struct {
	Imported int `json:"imported"`
}

type FavoritesResponse struct {
	Favorites []types.Favorite `json:"favorites"`
}

type DevicesResponse struct {
	Devices []types.DeviceStatus `json:"devices"`
}

func (a *API) logger() logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}

// devicePath splits "/v1/devices/{id}/rest..." into the id and the
// remaining path segments.
func devicePath(r *http.Request) (string, []string) {
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/v1/devices/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", nil
	}
	id, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", nil
	}
	return id, parts[1:]
}
