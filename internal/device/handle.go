package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"locsim/internal/types"
)

// Capability is the device-side location simulation service reached through
// an established session.
type Capability interface {
	SetLocation(ctx context.Context, latitude, longitude float64) error
	ClearLocation(ctx context.Context) error
	Close() error
}

// Transport opens sessions. A nil params value selects the USB channel.
type Transport interface {
	Establish(ctx context.Context, deviceID string, params *types.TunnelInfo) (Capability, error)
}

// SessionHandle wraps one live session. Calls through a handle are
// serialized; Close may run concurrently with an in-flight call and is
// expected to unblock it.
type SessionHandle struct {
	DeviceID  string
	Kind      types.ConnectionKind
	Params    *types.TunnelInfo
	CreatedAt time.Time

	capability Capability
	callMu     sync.Mutex
	closeOnce  sync.Once
	closed     atomic.Bool
	closeErr   error
}

func newSessionHandle(deviceID string, params *types.TunnelInfo, capability Capability, now time.Time) *SessionHandle {
	kind := types.ConnectionUSB
	var copied *types.TunnelInfo
	if params != nil {
		kind = types.ConnectionTunnel
		p := *params
		copied = &p
	}
	return &SessionHandle{
		DeviceID:   deviceID,
		Kind:       kind,
		Params:     copied,
		CreatedAt:  now,
		capability: capability,
	}
}

func (h *SessionHandle) SetLocation(ctx context.Context, latitude, longitude float64) error {
	return h.call(func() error { return h.capability.SetLocation(ctx, latitude, longitude) })
}

func (h *SessionHandle) ClearLocation(ctx context.Context) error {
	return h.call(func() error { return h.capability.ClearLocation(ctx) })
}

func (h *SessionHandle) Closed() bool {
	return h.closed.Load()
}

func (h *SessionHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.capability != nil {
			h.closeErr = h.capability.Close()
		}
	})
	return h.closeErr
}

func (h *SessionHandle) call(fn func() error) error {
	h.callMu.Lock()
	defer h.callMu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	return fn()
}
