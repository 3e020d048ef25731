package main

import (
	"context"

	locsimclient "locsim/internal/client"
	"locsim/internal/config"
	"locsim/internal/types"
)

type clientFactory func() (commandClient, error)

// commandClient is the daemon surface the commands use; *client.Client
// implements it.
type commandClient interface {
	EnsureDaemon(ctx context.Context) error
	Health(ctx context.Context) (*locsimclient.HealthResponse, error)
	ShutdownDaemon(ctx context.Context) error
	Devices(ctx context.Context) ([]types.DeviceStatus, error)
	Device(ctx context.Context, deviceID string) (*types.DeviceStatus, error)
	SetLocation(ctx context.Context, deviceID string, coord types.Coordinate) (*locsimclient.LocationResponse, error)
	ClearLocation(ctx context.Context, deviceID string) error
	LastLocation(ctx context.Context, deviceID string) (*locsimclient.LocationResponse, bool, error)
	Disconnect(ctx context.Context, deviceID string) error
	StartCruise(ctx context.Context, deviceID string, req locsimclient.CruiseRequest) (*types.MovementSnapshot, error)
	StartRoute(ctx context.Context, deviceID string, req locsimclient.RouteRequest) (*types.MovementSnapshot, error)
	Pause(ctx context.Context, deviceID string) (*types.MovementSnapshot, error)
	Resume(ctx context.Context, deviceID string) (*types.MovementSnapshot, error)
	Stop(ctx context.Context, deviceID string) error
	SetSpeed(ctx context.Context, deviceID string, speedKmh float64) (*types.MovementSnapshot, error)
	Tunnel(ctx context.Context, deviceID string) (*types.TunnelState, error)
	Events(ctx context.Context, deviceID string) (<-chan types.Event, func(), error)
	EventsSocket(ctx context.Context, deviceID string) (<-chan types.Event, func(), error)
	Favorites(ctx context.Context) ([]types.Favorite, error)
	AddFavorite(ctx context.Context, coord types.Coordinate, name string) (*types.Favorite, error)
	RenameFavorite(ctx context.Context, index int, name string) (*types.Favorite, error)
	DeleteFavorite(ctx context.Context, index int) error
	ImportFavorites(ctx context.Context, content string) (int, error)
}

func newLocsimClient() (commandClient, error) {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return nil, err
	}
	client, err := locsimclient.New(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
