package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"locsim/internal/types"
)

type fakeCapability struct {
	transport *fakeTransport
	params    *types.TunnelInfo
	closed    atomic.Bool
	inFlight  atomic.Int32
}

func (c *fakeCapability) SetLocation(ctx context.Context, latitude, longitude float64) error {
	return c.transport.call(c, "set", latitude, longitude)
}

func (c *fakeCapability) ClearLocation(ctx context.Context) error {
	return c.transport.call(c, "clear", 0, 0)
}

func (c *fakeCapability) Close() error {
	c.closed.Store(true)
	c.transport.closes.Add(1)
	return nil
}

type call struct {
	op        string
	latitude  float64
	longitude float64
	endpoint  string
}

type fakeTransport struct {
	establishes  atomic.Int32
	closes       atomic.Int32
	overlapped   atomic.Bool
	establishErr error
	establishLag time.Duration

	mu        sync.Mutex
	calls     []call
	failCalls int
	failAll   bool
	created   []*fakeCapability
}

func (t *fakeTransport) Establish(ctx context.Context, deviceID string, params *types.TunnelInfo) (Capability, error) {
	t.establishes.Add(1)
	if t.establishLag > 0 {
		time.Sleep(t.establishLag)
	}
	if t.establishErr != nil {
		return nil, t.establishErr
	}
	capability := &fakeCapability{transport: t, params: params}
	t.mu.Lock()
	t.created = append(t.created, capability)
	t.mu.Unlock()
	return capability, nil
}

func (t *fakeTransport) call(c *fakeCapability, op string, latitude, longitude float64) error {
	if c.inFlight.Add(1) > 1 {
		t.overlapped.Store(true)
	}
	defer c.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()
	endpoint := "usb"
	if c.params != nil {
		endpoint = c.params.HostPort()
	}
	t.calls = append(t.calls, call{op: op, latitude: latitude, longitude: longitude, endpoint: endpoint})
	if t.failAll {
		return errors.New("connection reset")
	}
	if t.failCalls > 0 {
		t.failCalls--
		return errors.New("connection reset")
	}
	return nil
}

func (t *fakeTransport) recorded() []call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]call{}, t.calls...)
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	answers []*types.TunnelInfo
	err     error
	invalid []string
}

func (p *fakeProvider) Get(ctx context.Context, deviceID string) (*types.TunnelInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.answers) == 0 {
		return nil, nil
	}
	answer := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	if answer == nil {
		return nil, nil
	}
	copied := *answer
	return &copied, nil
}

func (p *fakeProvider) Invalidate(deviceID string) {
	p.mu.Lock()
	p.invalid = append(p.invalid, deviceID)
	p.mu.Unlock()
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type recorder struct {
	mu   sync.Mutex
	last map[string]types.LastLocation
}

func (r *recorder) Update(deviceID string, location types.LastLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		r.last = map[string]types.LastLocation{}
	}
	r.last[deviceID] = location
}

func (r *recorder) Get(deviceID string) (types.LastLocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.last[deviceID]
	return loc, ok
}

type publisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *publisher) Publish(evt types.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *publisher) kinds() []types.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EventType, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type stopper struct {
	stops atomic.Int32
}

func (s *stopper) Stop(ctx context.Context, deviceID string) error {
	s.stops.Add(1)
	return nil
}

func tunnel(address string, port int) *types.TunnelInfo {
	return &types.TunnelInfo{Address: address, Port: port}
}
