package device

import (
	"context"
	"time"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 500 * time.Millisecond
)

// Operation is one device-side action executed through a session handle.
type Operation interface {
	Name() string
	apply(ctx context.Context, handle *SessionHandle) error
}

type SetOp struct {
	Latitude  float64
	Longitude float64
}

func (SetOp) Name() string { return "set_location" }

func (op SetOp) apply(ctx context.Context, handle *SessionHandle) error {
	return handle.SetLocation(ctx, op.Latitude, op.Longitude)
}

type ClearOp struct{}

func (ClearOp) Name() string { return "clear_location" }

func (ClearOp) apply(ctx context.Context, handle *SessionHandle) error {
	return handle.ClearLocation(ctx)
}

// Retrier runs operations with a fixed attempt budget. Every failed attempt
// poisons the handle in use and re-acquires parameters from the provider
// before the next one.
type Retrier struct {
	registry *Registry
	cache    *TunnelCache
	logger   logging.Logger
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	// tunnelRequired disables the USB fallback when the provider is down.
	tunnelRequired bool
}

type RetrierOption func(*Retrier)

func WithRetryPolicy(attempts int, delay time.Duration) RetrierOption {
	return func(r *Retrier) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if delay >= 0 {
			r.delay = delay
		}
	}
}

func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

func WithRetryLogger(logger logging.Logger) RetrierOption {
	return func(r *Retrier) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithTunnelRequired(required bool) RetrierOption {
	return func(r *Retrier) {
		r.tunnelRequired = required
	}
}

func NewRetrier(registry *Registry, cache *TunnelCache, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		registry: registry,
		cache:    cache,
		logger:   logging.Nop(),
		attempts: DefaultRetryAttempts,
		delay:    DefaultRetryDelay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Do executes op for deviceID. initial overrides parameter resolution for the
// first attempt; nil means reuse the installed handle or resolve through the
// cache.
func (r *Retrier) Do(ctx context.Context, deviceID string, op Operation, initial *types.TunnelInfo) error {
	params := initial
	resolved := initial != nil
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.delay); err != nil {
				return err
			}
			fresh, err := r.refresh(ctx, deviceID, params)
			if err != nil {
				return err
			}
			params = fresh
			resolved = true
		}

		handle := r.registry.Handle(deviceID)
		if handle == nil {
			if !resolved {
				var err error
				params, err = r.resolve(ctx, deviceID)
				if err != nil {
					return err
				}
				resolved = true
			}
			var err error
			handle, err = r.registry.GetOrCreate(ctx, deviceID, params)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				last = err
				r.cache.Invalidate(deviceID)
				r.logger.Warn("device_attempt_failed",
					logging.Device(deviceID),
					logging.F("op", op.Name()),
					logging.F("attempt", attempt),
					logging.Err(err),
				)
				continue
			}
		} else if !resolved {
			params = handle.Params
			resolved = true
		}

		err := op.apply(ctx, handle)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("device_operation_recovered",
					logging.Device(deviceID),
					logging.F("op", op.Name()),
					logging.F("attempt", attempt),
				)
			}
			return nil
		}
		r.registry.Release(deviceID, handle)
		r.cache.Invalidate(deviceID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		last = &OperationError{DeviceID: deviceID, Op: op.Name(), Err: err}
		r.logger.Warn("device_attempt_failed",
			logging.Device(deviceID),
			logging.F("op", op.Name()),
			logging.F("attempt", attempt),
			logging.Err(err),
		)
	}
	r.logger.Error("device_retries_exhausted",
		logging.Device(deviceID),
		logging.F("op", op.Name()),
		logging.F("attempts", r.attempts),
		logging.Err(last),
	)
	return &RetryExhaustedError{DeviceID: deviceID, Op: op.Name(), Attempts: r.attempts, Last: last}
}

// resolve picks the parameters for a device with no session yet.
func (r *Retrier) resolve(ctx context.Context, deviceID string) (*types.TunnelInfo, error) {
	info, err := r.cache.Resolve(ctx, deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.tunnelRequired {
			return nil, &TunnelUnavailableError{DeviceID: deviceID, Err: err}
		}
		r.logger.Warn("tunnel_provider_unreachable_using_usb", logging.Device(deviceID), logging.Err(err))
		return nil, nil
	}
	return info, nil
}

// refresh forces a provider query between attempts. A device missing from
// the provider keeps its previous parameters.
func (r *Retrier) refresh(ctx context.Context, deviceID string, previous *types.TunnelInfo) (*types.TunnelInfo, error) {
	info, err := r.cache.Refresh(ctx, deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if previous != nil || r.tunnelRequired {
			return nil, &TunnelUnavailableError{DeviceID: deviceID, Err: err}
		}
		return nil, nil
	}
	if info == nil {
		return previous, nil
	}
	if previous == nil || previous.HostPort() != info.HostPort() {
		r.logger.Info("tunnel_params_refreshed", logging.Device(deviceID), logging.F("endpoint", info.HostPort()))
	}
	return info, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
