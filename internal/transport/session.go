package transport

import (
	"context"
	"time"

	"locsim/internal/types"
)

type openParams struct {
	DeviceID string `json:"device_id"`
	Kind     string `json:"kind"`
	Address  string `json:"address,omitempty"`
	Port     int    `json:"port,omitempty"`
}

type locationParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func newOpenParams(deviceID string, params *types.TunnelInfo) openParams {
	out := openParams{DeviceID: deviceID, Kind: string(types.ConnectionUSB)}
	if params != nil {
		out.Kind = string(types.ConnectionTunnel)
		out.Address = params.Address
		out.Port = params.Port
	}
	return out
}

// session is the device.Capability backed by a helper connection.
type session struct {
	conn        *rpcConn
	callTimeout time.Duration
	release     func() error
}

func (s *session) SetLocation(ctx context.Context, latitude, longitude float64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.conn.call(ctx, "set_location", locationParams{Latitude: latitude, Longitude: longitude}, nil)
}

func (s *session) ClearLocation(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.conn.call(ctx, "clear_location", struct{}{}, nil)
}

func (s *session) Close() error {
	_ = s.conn.Close()
	if s.release != nil {
		return s.release()
	}
	return nil
}

func (s *session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

func openSession(ctx context.Context, conn *rpcConn, deviceID string, params *types.TunnelInfo, callTimeout time.Duration, release func() error) (*session, error) {
	s := &session{conn: conn, callTimeout: callTimeout, release: release}
	openCtx, cancel := s.bound(ctx)
	defer cancel()
	if err := conn.call(openCtx, "open", newOpenParams(deviceID, params), nil); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
