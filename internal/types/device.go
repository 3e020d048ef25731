package types

import (
	"net"
	"strconv"
	"time"
)

type ConnectionKind string

const (
	ConnectionTunnel ConnectionKind = "tunnel"
	ConnectionUSB    ConnectionKind = "usb"
)

// TunnelInfo is the network endpoint of a device's tunnel as reported by
// the brokering daemon.
type TunnelInfo struct {
	DeviceID  string    `json:"device_id"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (t TunnelInfo) HostPort() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

func (t TunnelInfo) Fresh(now time.Time, ttl time.Duration) bool {
	return !t.FetchedAt.IsZero() && now.Sub(t.FetchedAt) < ttl
}

type TunnelStatus string

const (
	TunnelStatusConnected    TunnelStatus = "connected"
	TunnelStatusNoTunnel     TunnelStatus = "no_tunnel"
	TunnelStatusDisconnected TunnelStatus = "disconnected"
)

// TunnelState is the broker-side view of one device.
type TunnelState struct {
	DeviceID  string       `json:"device_id"`
	Status    TunnelStatus `json:"status"`
	Address   string       `json:"address,omitempty"`
	Port      int          `json:"port,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
	Error     string       `json:"error,omitempty"`
}

type DeviceStatus struct {
	DeviceID  string            `json:"device_id"`
	Connected bool              `json:"connected"`
	Kind      ConnectionKind    `json:"kind,omitempty"`
	Location  *LocationState    `json:"location,omitempty"`
	LastKnown *Coordinate       `json:"last_known,omitempty"`
	Movement  *MovementSnapshot `json:"movement,omitempty"`
}
