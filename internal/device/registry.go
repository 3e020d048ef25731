package device

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"locsim/internal/logging"
	"locsim/internal/types"
)

// Registry owns at most one SessionHandle per device. Establishment happens
// outside the registry lock; installation re-checks under the lock so a
// losing concurrent establishment is closed instead of installed.
type Registry struct {
	transport Transport
	logger    logging.Logger
	now       func() time.Time
	timeout   time.Duration

	mu      sync.Mutex
	handles map[string]*SessionHandle
	hooks   []func(deviceID string)
}

type RegistryOption func(*Registry)

func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEstablishTimeout bounds a single Establish call.
func WithEstablishTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = timeout
	}
}

func NewRegistry(transport Transport, opts ...RegistryOption) *Registry {
	r := &Registry{
		transport: transport,
		logger:    logging.Nop(),
		now:       time.Now,
		handles:   map[string]*SessionHandle{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnClose registers a hook run on every Close of a device, before its handle
// is torn down. Hooks must not call back into the registry.
func (r *Registry) OnClose(hook func(deviceID string)) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
}

// GetOrCreate returns the installed handle for deviceID, establishing one
// with params when none exists.
func (r *Registry) GetOrCreate(ctx context.Context, deviceID string, params *types.TunnelInfo) (*SessionHandle, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidRequest
	}
	if handle := r.Handle(deviceID); handle != nil {
		return handle, nil
	}

	kind := types.ConnectionUSB
	if params != nil {
		kind = types.ConnectionTunnel
	}
	establishCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		establishCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	capability, err := r.transport.Establish(establishCtx, deviceID, params)
	if err != nil {
		return nil, &EstablishError{DeviceID: deviceID, Kind: kind, Err: err}
	}
	created := newSessionHandle(deviceID, params, capability, r.now())

	r.mu.Lock()
	if existing := r.handles[deviceID]; existing != nil && !existing.Closed() {
		r.mu.Unlock()
		r.logger.Debug("session_establish_lost_race", logging.Device(deviceID))
		if err := created.Close(); err != nil {
			r.logger.Warn("session_close_failed", logging.Device(deviceID), logging.Err(err))
		}
		return existing, nil
	}
	r.handles[deviceID] = created
	r.mu.Unlock()

	fields := []logging.Field{logging.Device(deviceID), logging.F("kind", string(kind))}
	if params != nil {
		fields = append(fields, logging.F("endpoint", params.HostPort()))
	}
	r.logger.Info("session_established", fields...)
	return created, nil
}

// Handle returns the installed, open handle for deviceID or nil.
func (r *Registry) Handle(deviceID string) *SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	handle := r.handles[deviceID]
	if handle == nil {
		return nil
	}
	if handle.Closed() {
		delete(r.handles, deviceID)
		return nil
	}
	return handle
}

// Release drops handle if it is still the one installed for deviceID and
// closes it. Close hooks are not run.
func (r *Registry) Release(deviceID string, handle *SessionHandle) {
	if handle == nil {
		return
	}
	r.mu.Lock()
	if r.handles[deviceID] == handle {
		delete(r.handles, deviceID)
	}
	r.mu.Unlock()
	if err := handle.Close(); err != nil {
		r.logger.Debug("session_release_close_failed", logging.Device(deviceID), logging.Err(err))
	}
}

// Close runs the close hooks and tears down any session for deviceID.
// Calling it for an unknown device is a no-op apart from the hooks.
func (r *Registry) Close(deviceID string) {
	r.mu.Lock()
	hooks := append([]func(string){}, r.hooks...)
	r.mu.Unlock()
	for _, hook := range hooks {
		hook(deviceID)
	}

	r.mu.Lock()
	handle := r.handles[deviceID]
	delete(r.handles, deviceID)
	r.mu.Unlock()
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		r.logger.Warn("session_close_failed", logging.Device(deviceID), logging.Err(err))
	}
	r.logger.Info("session_closed", logging.Device(deviceID))
}

// CloseAll closes every device. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// Devices lists devices with an open handle, sorted.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.handles))
	for id, handle := range r.handles {
		if !handle.Closed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
