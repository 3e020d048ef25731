// Package tunneld queries the local tunnel brokering daemon for the network
// endpoint of each device's tunnel.
package tunneld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const DefaultURL = "http://127.0.0.1:49151"

var (
	addressKeys = []string{"tunnel-address", "address", "tunnel_address", "rsd_address"}
	portKeys    = []string{"tunnel-port", "port", "tunnel_port", "rsd_port"}
)

// Client is safe for concurrent use. It never caches tunnel endpoints; the
// broker is the source of truth and callers layer their own cache on top.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
	now     func() time.Time

	mu     sync.Mutex
	status map[string]types.TunnelState
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.Nop(),
		now:     time.Now,
		status:  map[string]types.TunnelState{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the tunnel endpoint for deviceID. A nil info with a nil error
// means the broker answered but has no tunnel for the device. Any error means
// the broker could not be queried.
func (c *Client) Get(ctx context.Context, deviceID string) (*types.TunnelInfo, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	listing, err := c.list(ctx)
	if err != nil {
		c.setStatus(types.TunnelState{DeviceID: deviceID, Status: types.TunnelStatusNoTunnel, Error: err.Error()})
		return nil, err
	}
	info := matchDevice(listing, deviceID)
	if info == nil {
		c.logger.Debug("tunneld_no_tunnel", logging.Device(deviceID))
		c.setStatus(types.TunnelState{DeviceID: deviceID, Status: types.TunnelStatusNoTunnel})
		return nil, nil
	}
	info.FetchedAt = c.now()
	c.logger.Debug("tunneld_tunnel_found", logging.Device(deviceID), logging.F("endpoint", info.HostPort()))
	c.setStatus(types.TunnelState{
		DeviceID: deviceID,
		Status:   types.TunnelStatusConnected,
		Address:  info.Address,
		Port:     info.Port,
	})
	return info, nil
}

// Devices lists every device the broker currently reports a tunnel for.
func (c *Client) Devices(ctx context.Context) ([]types.TunnelInfo, error) {
	listing, err := c.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.TunnelInfo, 0, len(listing))
	for udid, raw := range listing {
		info := extractTunnel(raw, udid)
		if info == nil {
			continue
		}
		info.FetchedAt = c.now()
		out = append(out, *info)
	}
	return out, nil
}

// Status returns the last broker-side state observed for deviceID.
func (c *Client) Status(deviceID string) types.TunnelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.status[deviceID]; ok {
		return state
	}
	return types.TunnelState{DeviceID: deviceID, Status: types.TunnelStatusNoTunnel}
}

// Invalidate marks a device's tunnel as disconnected after a failed
// operation. The next Get queries the broker again regardless.
func (c *Client) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.status[deviceID]
	if !ok {
		return
	}
	state.Status = types.TunnelStatusDisconnected
	state.Error = "connection failed"
	state.CheckedAt = c.now()
	c.status[deviceID] = state
}

func (c *Client) setStatus(state types.TunnelState) {
	state.CheckedAt = c.now()
	c.mu.Lock()
	c.status[state.DeviceID] = state
	c.mu.Unlock()
}

func (c *Client) list(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tunneld unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tunneld returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var listing map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode tunneld response: %w", err)
	}
	return listing, nil
}

func matchDevice(listing map[string]json.RawMessage, deviceID string) *types.TunnelInfo {
	if raw, ok := listing[deviceID]; ok {
		return extractTunnel(raw, deviceID)
	}
	// Some hosts report UDIDs with or without the dash-separated prefix.
	for udid, raw := range listing {
		if strings.Contains(udid, deviceID) || strings.Contains(deviceID, udid) {
			return extractTunnel(raw, deviceID)
		}
	}
	return nil
}

func extractTunnel(raw json.RawMessage, deviceID string) *types.TunnelInfo {
	var entry map[string]any
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err == nil {
		if len(entries) == 0 {
			return nil
		}
		entry = entries[0]
	} else if err := json.Unmarshal(raw, &entry); err != nil {
		return nil
	}
	address := firstString(entry, addressKeys)
	port := firstPort(entry, portKeys)
	if address == "" || port <= 0 {
		return nil
	}
	return &types.TunnelInfo{DeviceID: deviceID, Address: address, Port: port}
}

func firstString(entry map[string]any, keys []string) string {
	for _, key := range keys {
		if value, ok := entry[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func firstPort(entry map[string]any, keys []string) int {
	for _, key := range keys {
		switch value := entry[key].(type) {
		case float64:
			if value > 0 {
				return int(value)
			}
		case string:
			if port, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && port > 0 {
				return port
			}
		}
	}
	return 0
}
