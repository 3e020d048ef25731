package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"locsim/internal/config"
	"locsim/internal/types"
)

// Starting a route resolves every leg through the routing service, which
// can take far longer than a plain command.
const routeRequestTimeout = 2 * time.Minute

type Client struct {
	baseURL   string
	tokenPath string
	token     string
	http      *http.Client
}

func New(cfg config.CoreConfig) (*Client, error) {
	tokenPath, err := config.TokenPath()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.DaemonBaseURL(), "/"),
		tokenPath: tokenPath,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	_ = c.loadToken()
	return c, nil
}

func NewWithBaseURL(baseURL, token string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenPath: "",
		token:     token,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Devices(ctx context.Context) ([]types.DeviceStatus, error) {
	var resp DevicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/devices", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

func (c *Client) Device(ctx context.Context, deviceID string) (*types.DeviceStatus, error) {
	path, err := devicePath(deviceID, "")
	if err != nil {
		return nil, err
	}
	var resp types.DeviceStatus
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetLocation(ctx context.Context, deviceID string, coord types.Coordinate) (*LocationResponse, error) {
	path, err := devicePath(deviceID, "location")
	if err != nil {
		return nil, err
	}
	req := LocationRequest{Latitude: &coord.Latitude, Longitude: &coord.Longitude}
	var resp LocationResponse
	if err := c.doJSON(ctx, http.MethodPut, path, req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ClearLocation(ctx context.Context, deviceID string) error {
	path, err := devicePath(deviceID, "location")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, true, nil)
}

// LastLocation returns the persisted last-known location. The boolean is
// false when the daemon has never seen one for the device.
func (c *Client) LastLocation(ctx context.Context, deviceID string) (*LocationResponse, bool, error) {
	path, err := devicePath(deviceID, "location")
	if err != nil {
		return nil, false, err
	}
	var resp LocationResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		if apiErr := asAPIError(err); apiErr != nil && apiErr.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &resp, true, nil
}

func (c *Client) Disconnect(ctx context.Context, deviceID string) error {
	path, err := devicePath(deviceID, "disconnect")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, true, nil)
}

func (c *Client) StartCruise(ctx context.Context, deviceID string, req CruiseRequest) (*types.MovementSnapshot, error) {
	if req.Target == nil {
		return nil, errors.New("target is required")
	}
	path, err := devicePath(deviceID, "cruise")
	if err != nil {
		return nil, err
	}
	var resp types.MovementSnapshot
	if err := c.doJSON(ctx, http.MethodPost, path, req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) StartRoute(ctx context.Context, deviceID string, req RouteRequest) (*types.MovementSnapshot, error) {
	if len(req.Waypoints) < 2 {
		return nil, errors.New("at least 2 waypoints are required")
	}
	path, err := devicePath(deviceID, "route")
	if err != nil {
		return nil, err
	}
	var resp types.MovementSnapshot
	if err := c.doJSONWithTimeout(ctx, http.MethodPost, path, req, true, &resp, routeRequestTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Movement(ctx context.Context, deviceID string) (*types.MovementSnapshot, error) {
	path, err := devicePath(deviceID, "movement")
	if err != nil {
		return nil, err
	}
	var resp types.MovementSnapshot
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Pause(ctx context.Context, deviceID string) (*types.MovementSnapshot, error) {
	return c.movementAction(ctx, deviceID, "pause")
}

func (c *Client) Resume(ctx context.Context, deviceID string) (*types.MovementSnapshot, error) {
	return c.movementAction(ctx, deviceID, "resume")
}

func (c *Client) Stop(ctx context.Context, deviceID string) error {
	path, err := devicePath(deviceID, "movement/stop")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, true, nil)
}

func (c *Client) SetSpeed(ctx context.Context, deviceID string, speedKmh float64) (*types.MovementSnapshot, error) {
	path, err := devicePath(deviceID, "movement")
	if err != nil {
		return nil, err
	}
	var resp types.MovementSnapshot
	if err := c.doJSON(ctx, http.MethodPatch, path, SpeedRequest{SpeedKmh: speedKmh}, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Tunnel(ctx context.Context, deviceID string) (*types.TunnelState, error) {
	path, err := devicePath(deviceID, "tunnel")
	if err != nil {
		return nil, err
	}
	var resp types.TunnelState
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Favorites(ctx context.Context) ([]types.Favorite, error) {
	var resp FavoritesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/favorites", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Favorites, nil
}

// AddFavorite saves a location. An empty name is replaced by the daemon
// with the coordinates.
func (c *Client) AddFavorite(ctx context.Context, coord types.Coordinate, name string) (*types.Favorite, error) {
	req := FavoriteRequest{Latitude: &coord.Latitude, Longitude: &coord.Longitude, Name: name}
	var resp types.Favorite
	if err := c.doJSON(ctx, http.MethodPost, "/v1/favorites", req, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RenameFavorite(ctx context.Context, index int, name string) (*types.Favorite, error) {
	var resp types.Favorite
	if err := c.doJSON(ctx, http.MethodPatch, favoritePath(index), FavoriteRenameRequest{Name: name}, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteFavorite(ctx context.Context, index int) error {
	return c.doJSON(ctx, http.MethodDelete, favoritePath(index), nil, true, nil)
}

// ImportFavorites sends favorites file text to the daemon and returns how
// many lines were added.
func (c *Client) ImportFavorites(ctx context.Context, content string) (int, error) {
	if strings.TrimSpace(content) == "" {
		return 0, errors.New("favorites content is empty")
	}
	var resp ImportFavoritesResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/favorites/import", ImportFavoritesRequest{Content: content}, true, &resp); err != nil {
		return 0, err
	}
	return resp.Imported, nil
}

func favoritePath(index int) string {
	return "/v1/favorites/" + strconv.Itoa(index)
}

func (c *Client) movementAction(ctx context.Context, deviceID, action string) (*types.MovementSnapshot, error) {
	path, err := devicePath(deviceID, "movement/"+action)
	if err != nil {
		return nil, err
	}
	var resp types.MovementSnapshot
	if err := c.doJSON(ctx, http.MethodPost, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func devicePath(deviceID, suffix string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", errors.New("device id is required")
	}
	path := "/v1/devices/" + url.PathEscape(deviceID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}

func (c *Client) EnsureDaemon(ctx context.Context) error {
	return c.ensureDaemon(ctx, "", false)
}

func (c *Client) EnsureDaemonVersion(ctx context.Context, expectedVersion string, restart bool) error {
	return c.ensureDaemon(ctx, expectedVersion, restart)
}

func (c *Client) ShutdownDaemon(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/shutdown", nil, true, nil)
}

func (c *Client) ensureDaemon(ctx context.Context, expectedVersion string, restart bool) error {
	resp, err := c.Health(ctx)
	if err == nil && resp.OK {
		if expectedVersion == "" || resp.Version == expectedVersion {
			return nil
		}
		if !restart {
			return fmt.Errorf("daemon version mismatch: %s (expected %s)", resp.Version, expectedVersion)
		}
		if err := c.ShutdownDaemon(ctx); err != nil {
			apiErr := asAPIError(err)
			if apiErr == nil || apiErr.StatusCode != http.StatusNotFound {
				return err
			}
			if resp.PID <= 0 {
				return err
			}
			if killErr := killProcess(resp.PID); killErr != nil {
				return fmt.Errorf("failed to stop stale daemon (pid %d): %w", resp.PID, killErr)
			}
		}
		shutdownDeadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(shutdownDeadline) {
			if _, err := c.Health(ctx); err != nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	if err := StartBackgroundDaemon(); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := c.Health(ctx)
		if err == nil && resp.OK {
			if expectedVersion == "" || resp.Version == expectedVersion {
				_ = c.loadToken()
				return nil
			}
			lastErr = fmt.Errorf("daemon version mismatch: %s (expected %s)", resp.Version, expectedVersion)
		} else {
			lastErr = err
		}
		time.Sleep(150 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("daemon not healthy after start")
	}
	return lastErr
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	return c.doJSONWithClient(ctx, method, path, body, requireAuth, out, c.http)
}

func (c *Client) doJSONWithTimeout(ctx context.Context, method, path string, body any, requireAuth bool, out any, timeout time.Duration) error {
	client := c.http
	if timeout > 0 {
		var transport http.RoundTripper
		if c.http != nil {
			transport = c.http.Transport
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
	return c.doJSONWithClient(ctx, method, path, body, requireAuth, out, client)
}

func (c *Client) doJSONWithClient(ctx context.Context, method, path string, body any, requireAuth bool, out any, httpClient *http.Client) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		if err := c.ensureToken(); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureToken() error {
	if strings.TrimSpace(c.token) == "" {
		if err := c.loadToken(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("token not found; is the daemon running?")
	}
	return nil
}

func (c *Client) loadToken() error {
	if c.tokenPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.token = ""
			return nil
		}
		return err
	}
	c.token = strings.TrimSpace(string(data))
	return nil
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// IsNotFound reports a 404 from the daemon, e.g. a device without movement.
func IsNotFound(err error) bool {
	apiErr := asAPIError(err)
	return apiErr != nil && apiErr.StatusCode == http.StatusNotFound
}

var killProcess = terminateProcess

func terminateProcess(pid int) error {
	if pid <= 0 {
		return errors.New("invalid pid")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		return proc.Kill()
	}
	return proc.Signal(syscall.SIGTERM)
}
