package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	locsimclient "locsim/internal/client"
	"locsim/internal/types"
)

func TestDaemonCommandKillFlag(t *testing.T) {
	var calls []string
	cmd := NewDaemonCommand(
		&bytes.Buffer{},
		func(background bool) error {
			calls = append(calls, "run")
			if background {
				calls = append(calls, "background")
			}
			return nil
		},
		func() error {
			calls = append(calls, "kill")
			return nil
		},
	)

	if err := cmd.Run([]string{"--kill"}); err != nil {
		t.Fatalf("expected kill run to succeed, got err=%v", err)
	}
	if strings.Join(calls, ",") != "kill" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestDaemonCommandForceKillsThenRuns(t *testing.T) {
	var calls []string
	cmd := NewDaemonCommand(
		&bytes.Buffer{},
		func(background bool) error {
			calls = append(calls, "run")
			if background {
				calls = append(calls, "background")
			}
			return nil
		},
		func() error {
			calls = append(calls, "kill")
			return nil
		},
	)

	if err := cmd.Run([]string{"--force", "--background"}); err != nil {
		t.Fatalf("expected daemon run to succeed, got err=%v", err)
	}
	if strings.Join(calls, ",") != "kill,run,background" {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestSetCommandFlagsAndPositional(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want types.Coordinate
	}{
		{name: "flags", args: []string{"dev-1", "--lat", "-33.8568", "--lon", "151.2153"}, want: types.Coordinate{Latitude: -33.8568, Longitude: 151.2153}},
		{name: "positional", args: []string{"dev-1", "37.3349,-122.009"}, want: types.Coordinate{Latitude: 37.3349, Longitude: -122.009}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			fake := &fakeCommandClient{}
			cmd := NewSetCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))
			if err := cmd.Run(tc.args); err != nil {
				t.Fatalf("set: %v", err)
			}
			if fake.ensureDaemonCalls != 1 {
				t.Fatalf("expected ensure daemon once, got %d", fake.ensureDaemonCalls)
			}
			if len(fake.setRequests) != 1 || fake.setRequests[0] != tc.want {
				t.Fatalf("unexpected set requests: %#v", fake.setRequests)
			}
			if !strings.Contains(stdout.String(), formatCoordinate(tc.want)) {
				t.Fatalf("unexpected stdout: %q", stdout.String())
			}
		})
	}
}

func TestSetCommandRequiresCoordinate(t *testing.T) {
	fake := &fakeCommandClient{}
	cmd := NewSetCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	if err := cmd.Run([]string{"dev-1"}); err == nil {
		t.Fatalf("expected missing coordinate error")
	}
	if err := cmd.Run([]string{"dev-1", "91,0"}); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if len(fake.setRequests) != 0 {
		t.Fatalf("invalid input must not reach the daemon")
	}
}

func TestCruiseCommandBuildsRequest(t *testing.T) {
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{
		snapshot: &types.MovementSnapshot{Mode: types.MovementCruise, State: types.MovementRunning, SpeedKmh: 12},
	}
	cmd := NewCruiseCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run([]string{"dev-1", "--to", "1,2", "--from", "0,0", "--speed", "12"}); err != nil {
		t.Fatalf("cruise: %v", err)
	}
	if len(fake.cruiseRequests) != 1 {
		t.Fatalf("expected one cruise request, got %d", len(fake.cruiseRequests))
	}
	req := fake.cruiseRequests[0]
	if req.Target == nil || *req.Target != (types.Coordinate{Latitude: 1, Longitude: 2}) {
		t.Fatalf("unexpected target: %#v", req.Target)
	}
	if req.Start == nil || *req.Start != (types.Coordinate{}) {
		t.Fatalf("unexpected start: %#v", req.Start)
	}
	if req.SpeedKmh != 12 {
		t.Fatalf("speed = %v", req.SpeedKmh)
	}
	if !strings.Contains(stdout.String(), "cruise running") {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestCruiseCommandWithoutStartUsesLastKnown(t *testing.T) {
	fake := &fakeCommandClient{snapshot: &types.MovementSnapshot{}}
	cmd := NewCruiseCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	if err := cmd.Run([]string{"dev-1", "--to", "1,2"}); err != nil {
		t.Fatalf("cruise: %v", err)
	}
	if fake.cruiseRequests[0].Start != nil {
		t.Fatalf("expected no explicit start")
	}
	if err := cmd.Run([]string{"dev-1"}); err == nil {
		t.Fatalf("expected --to to be required")
	}
}

func TestRouteCommandCollectsWaypoints(t *testing.T) {
	stderr := &bytes.Buffer{}
	fake := &fakeCommandClient{
		snapshot: &types.MovementSnapshot{
			Mode:         types.MovementRoute,
			SegmentCount: 2,
			Segments:     []types.RouteSegment{{IsFallback: true}, {}},
		},
	}
	cmd := NewRouteCommand(&bytes.Buffer{}, stderr, fixedFactory(fake))

	if err := cmd.Run([]string{"dev-1", "-w", "-33.8,151.2", "--loop", "-w", "-33.9,151.3", "--", "-34,151.4"}); err != nil {
		t.Fatalf("route: %v", err)
	}
	req := fake.routeRequests[0]
	if len(req.Waypoints) != 3 || !req.Loop || req.SpeedKmh != 5 {
		t.Fatalf("unexpected route request: %#v", req)
	}
	if req.Waypoints[2] != (types.Coordinate{Latitude: -34, Longitude: 151.4}) {
		t.Fatalf("positional waypoints must come last: %#v", req.Waypoints)
	}
	if !strings.Contains(stderr.String(), "1 of 2 legs") {
		t.Fatalf("expected fallback warning, got %q", stderr.String())
	}
}

func TestRouteCommandNeedsTwoWaypoints(t *testing.T) {
	fake := &fakeCommandClient{}
	cmd := NewRouteCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	if err := cmd.Run([]string{"dev-1", "-w", "1,1"}); err == nil {
		t.Fatalf("expected error for a single waypoint")
	}
}

func TestDeviceActionCommands(t *testing.T) {
	snap := &types.MovementSnapshot{Mode: types.MovementCruise, State: types.MovementPaused}
	cases := []struct {
		name    string
		build   func(stdout *bytes.Buffer, factory clientFactory) commandRunner
		call    string
		wantOut string
	}{
		{name: "clear", build: func(out *bytes.Buffer, f clientFactory) commandRunner { return NewClearCommand(out, &bytes.Buffer{}, f) }, call: "clear", wantOut: "ok"},
		{name: "disconnect", build: func(out *bytes.Buffer, f clientFactory) commandRunner { return NewDisconnectCommand(out, &bytes.Buffer{}, f) }, call: "disconnect", wantOut: "ok"},
		{name: "stop", build: func(out *bytes.Buffer, f clientFactory) commandRunner { return NewStopCommand(out, &bytes.Buffer{}, f) }, call: "stop", wantOut: "ok"},
		{name: "pause", build: func(out *bytes.Buffer, f clientFactory) commandRunner { return NewPauseCommand(out, &bytes.Buffer{}, f) }, call: "pause", wantOut: "cruise paused"},
		{name: "resume", build: func(out *bytes.Buffer, f clientFactory) commandRunner { return NewResumeCommand(out, &bytes.Buffer{}, f) }, call: "resume", wantOut: "cruise paused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			fake := &fakeCommandClient{snapshot: snap}
			if err := tc.build(stdout, fixedFactory(fake)).Run([]string{"dev-1"}); err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if strings.Join(fake.calls, ",") != tc.call+":dev-1" {
				t.Fatalf("unexpected calls: %v", fake.calls)
			}
			if !strings.Contains(stdout.String(), tc.wantOut) {
				t.Fatalf("unexpected stdout: %q", stdout.String())
			}
		})
	}
}

func TestDeviceActionRequiresDevice(t *testing.T) {
	fake := &fakeCommandClient{}
	if err := NewStopCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake)).Run(nil); err == nil {
		t.Fatalf("expected missing device error")
	}
	if fake.ensureDaemonCalls != 0 {
		t.Fatalf("daemon should not be contacted")
	}
}

func TestSpeedCommand(t *testing.T) {
	fake := &fakeCommandClient{snapshot: &types.MovementSnapshot{SpeedKmh: 42}}
	cmd := NewSpeedCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	if err := cmd.Run([]string{"dev-1", "42"}); err != nil {
		t.Fatalf("speed: %v", err)
	}
	if len(fake.speeds) != 1 || fake.speeds[0] != 42 {
		t.Fatalf("unexpected speeds: %v", fake.speeds)
	}
	if err := cmd.Run([]string{"dev-1", "fast"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDevicesCommandPrintsTable(t *testing.T) {
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{
		devices: []types.DeviceStatus{{
			DeviceID:  "dev-1",
			Connected: true,
			Kind:      types.ConnectionTunnel,
			Location:  &types.LocationState{Latitude: 1.5, Longitude: 2.5},
			Movement:  &types.MovementSnapshot{Mode: types.MovementRoute, State: types.MovementRunning},
		}},
	}
	cmd := NewDevicesCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run(nil); err != nil {
		t.Fatalf("devices: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "DEVICE") || !strings.Contains(out, "MOVEMENT") {
		t.Fatalf("expected header in output, got %q", out)
	}
	if !strings.Contains(out, "dev-1") || !strings.Contains(out, "tunnel") || !strings.Contains(out, "route/running") {
		t.Fatalf("expected device row in output, got %q", out)
	}
}

func TestLastCommandUnknownDevice(t *testing.T) {
	fake := &fakeCommandClient{}
	cmd := NewLastCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	if err := cmd.Run([]string{"dev-1"}); err == nil || !strings.Contains(err.Error(), "no known location") {
		t.Fatalf("expected no known location error, got %v", err)
	}
}

func TestEventsCommandWritesJSONLines(t *testing.T) {
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{
		events: []types.Event{
			{ID: "1", Type: types.EventCruiseStarted, DeviceID: "dev-1"},
			{ID: "2", Type: types.EventCruiseArrived, DeviceID: "dev-1"},
		},
	}
	cmd := NewEventsCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run([]string{"--device", "dev-1", "--ws"}); err != nil {
		t.Fatalf("events: %v", err)
	}
	if strings.Join(fake.calls, ",") != "events_ws:dev-1" {
		t.Fatalf("unexpected calls: %v", fake.calls)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", stdout.String())
	}
	var evt types.Event
	if err := json.Unmarshal([]byte(lines[1]), &evt); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if evt.Type != types.EventCruiseArrived {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestKillDaemonTreatsNotFoundAsStopped(t *testing.T) {
	fake := &fakeCommandClient{shutdownErr: &locsimclient.APIError{StatusCode: 404, Message: "not found"}}
	if err := killDaemonWithFactory(fixedFactory(fake)); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	fake = &fakeCommandClient{shutdownErr: errors.New("dial tcp: connect: connection refused")}
	if err := killDaemonWithFactory(fixedFactory(fake)); err != nil {
		t.Fatalf("expected unavailable daemon to count as stopped, got %v", err)
	}
}

func TestParseCoordinate(t *testing.T) {
	coord, err := parseCoordinate(" 37.5 , -122.25 ")
	if err != nil {
		t.Fatalf("parseCoordinate: %v", err)
	}
	if coord != (types.Coordinate{Latitude: 37.5, Longitude: -122.25}) {
		t.Fatalf("unexpected coordinate %+v", coord)
	}
	for _, raw := range []string{"", "1", "a,b", "1,200"} {
		if _, err := parseCoordinate(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestBuildCommandsRegistersEverything(t *testing.T) {
	commands := buildCommands(commandWiring{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}})
	for _, name := range []string{"daemon", "config", "token", "devices", "status", "set", "clear", "last", "disconnect", "cruise", "route", "pause", "resume", "stop", "speed", "tunnel", "events", "favorites"} {
		if _, ok := commands[name]; !ok {
			t.Fatalf("missing command %q", name)
		}
	}
}

type fakeCommandClient struct {
	ensureDaemonCalls int
	calls             []string
	setRequests       []types.Coordinate
	cruiseRequests    []locsimclient.CruiseRequest
	routeRequests     []locsimclient.RouteRequest
	speeds            []float64
	snapshot          *types.MovementSnapshot
	devices           []types.DeviceStatus
	events            []types.Event
	shutdownErr       error
	favorites         []types.Favorite
	imports           []string
}

func fixedFactory(client commandClient) clientFactory {
	return func() (commandClient, error) {
		return client, nil
	}
}

func (f *fakeCommandClient) EnsureDaemon(ctx context.Context) error {
	f.ensureDaemonCalls++
	return nil
}

func (f *fakeCommandClient) Health(ctx context.Context) (*locsimclient.HealthResponse, error) {
	return &locsimclient.HealthResponse{OK: true}, nil
}

func (f *fakeCommandClient) ShutdownDaemon(ctx context.Context) error {
	return f.shutdownErr
}

func (f *fakeCommandClient) Devices(ctx context.Context) ([]types.DeviceStatus, error) {
	return f.devices, nil
}

func (f *fakeCommandClient) Device(ctx context.Context, deviceID string) (*types.DeviceStatus, error) {
	return &types.DeviceStatus{DeviceID: deviceID}, nil
}

func (f *fakeCommandClient) SetLocation(ctx context.Context, deviceID string, coord types.Coordinate) (*locsimclient.LocationResponse, error) {
	f.setRequests = append(f.setRequests, coord)
	return &locsimclient.LocationResponse{DeviceID: deviceID, Latitude: coord.Latitude, Longitude: coord.Longitude}, nil
}

func (f *fakeCommandClient) ClearLocation(ctx context.Context, deviceID string) error {
	f.calls = append(f.calls, "clear:"+deviceID)
	return nil
}

func (f *fakeCommandClient) LastLocation(ctx context.Context, deviceID string) (*locsimclient.LocationResponse, bool, error) {
	return nil, false, nil
}

func (f *fakeCommandClient) Disconnect(ctx context.Context, deviceID string) error {
	f.calls = append(f.calls, "disconnect:"+deviceID)
	return nil
}

func (f *fakeCommandClient) StartCruise(ctx context.Context, deviceID string, req locsimclient.CruiseRequest) (*types.MovementSnapshot, error) {
	f.cruiseRequests = append(f.cruiseRequests, req)
	return f.snapshot, nil
}

func (f *fakeCommandClient) StartRoute(ctx context.Context, deviceID string, req locsimclient.RouteRequest) (*types.MovementSnapshot, error) {
	f.routeRequests = append(f.routeRequests, req)
	return f.snapshot, nil
}

func (f *fakeCommandClient) Pause(ctx context.Context, deviceID string) (*types.MovementSnapshot, error) {
	f.calls = append(f.calls, "pause:"+deviceID)
	return f.snapshot, nil
}

func (f *fakeCommandClient) Resume(ctx context.Context, deviceID string) (*types.MovementSnapshot, error) {
	f.calls = append(f.calls, "resume:"+deviceID)
	return f.snapshot, nil
}

func (f *fakeCommandClient) Stop(ctx context.Context, deviceID string) error {
	f.calls = append(f.calls, "stop:"+deviceID)
	return nil
}

func (f *fakeCommandClient) SetSpeed(ctx context.Context, deviceID string, speedKmh float64) (*types.MovementSnapshot, error) {
	f.speeds = append(f.speeds, speedKmh)
	return f.snapshot, nil
}

func (f *fakeCommandClient) Tunnel(ctx context.Context, deviceID string) (*types.TunnelState, error) {
	return &types.TunnelState{DeviceID: deviceID, Status: types.TunnelStatusNoTunnel}, nil
}

func (f *fakeCommandClient) Events(ctx context.Context, deviceID string) (<-chan types.Event, func(), error) {
	f.calls = append(f.calls, "events:"+deviceID)
	return f.stream(), func() {}, nil
}

func (f *fakeCommandClient) EventsSocket(ctx context.Context, deviceID string) (<-chan types.Event, func(), error) {
	f.calls = append(f.calls, "events_ws:"+deviceID)
	return f.stream(), func() {}, nil
}

func (f *fakeCommandClient) stream() <-chan types.Event {
	ch := make(chan types.Event, len(f.events))
	for _, evt := range f.events {
		ch <- evt
	}
	close(ch)
	return ch
}

func (f *fakeCommandClient) Favorites(ctx context.Context) ([]types.Favorite, error) {
	return f.favorites, nil
}

func (f *fakeCommandClient) AddFavorite(ctx context.Context, coord types.Coordinate, name string) (*types.Favorite, error) {
	if name == "" {
		name = "unnamed"
	}
	favorite := types.Favorite{Latitude: coord.Latitude, Longitude: coord.Longitude, Name: name}
	f.favorites = append(f.favorites, favorite)
	return &favorite, nil
}

func (f *fakeCommandClient) RenameFavorite(ctx context.Context, index int, name string) (*types.Favorite, error) {
	if index >= len(f.favorites) {
		return nil, &locsimclient.APIError{StatusCode: 404, Message: "favorite not found"}
	}
	f.favorites[index].Name = name
	favorite := f.favorites[index]
	return &favorite, nil
}

func (f *fakeCommandClient) DeleteFavorite(ctx context.Context, index int) error {
	if index >= len(f.favorites) {
		return &locsimclient.APIError{StatusCode: 404, Message: "favorite not found"}
	}
	f.favorites = append(f.favorites[:index], f.favorites[index+1:]...)
	return nil
}

func (f *fakeCommandClient) ImportFavorites(ctx context.Context, content string) (int, error) {
	f.imports = append(f.imports, content)
	return strings.Count(strings.TrimSpace(content), "\n") + 1, nil
}
