package device

import (
	"context"
	"sync"
	"time"

	"locsim/internal/logging"
)

const (
	DefaultKeepAliveInterval = 3 * time.Second
	DefaultStopTimeout       = 2 * time.Second
)

// Sender re-sends a coordinate to a device. Implemented by the retry path.
type Sender func(ctx context.Context, deviceID string, latitude, longitude float64) error

type keepAliveWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// KeepAlive re-sends each device's last location on a fixed interval so the
// simulated position does not lapse while no movement is running.
type KeepAlive struct {
	states      *LocationStates
	send        Sender
	interval    time.Duration
	stopTimeout time.Duration
	now         func() time.Time
	logger      logging.Logger

	mu      sync.Mutex
	workers map[string]*keepAliveWorker
}

type KeepAliveOption func(*KeepAlive)

func WithKeepAliveInterval(interval time.Duration) KeepAliveOption {
	return func(k *KeepAlive) {
		if interval > 0 {
			k.interval = interval
		}
	}
}

func WithKeepAliveStopTimeout(timeout time.Duration) KeepAliveOption {
	return func(k *KeepAlive) {
		if timeout > 0 {
			k.stopTimeout = timeout
		}
	}
}

func WithKeepAliveClock(now func() time.Time) KeepAliveOption {
	return func(k *KeepAlive) {
		if now != nil {
			k.now = now
		}
	}
}

func WithKeepAliveLogger(logger logging.Logger) KeepAliveOption {
	return func(k *KeepAlive) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func NewKeepAlive(states *LocationStates, send Sender, opts ...KeepAliveOption) *KeepAlive {
	k := &KeepAlive{
		states:      states,
		send:        send,
		interval:    DefaultKeepAliveInterval,
		stopTimeout: DefaultStopTimeout,
		now:         time.Now,
		logger:      logging.Nop(),
		workers:     map[string]*keepAliveWorker{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Start launches the worker for deviceID unless one is already running.
func (k *KeepAlive) Start(deviceID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.workers[deviceID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	worker := &keepAliveWorker{cancel: cancel, done: make(chan struct{})}
	k.workers[deviceID] = worker
	go k.run(ctx, deviceID, worker.done)
	k.logger.Debug("keepalive_started", logging.Device(deviceID), logging.F("interval", k.interval))
}

// Stop cancels the worker and waits for it up to the stop timeout.
func (k *KeepAlive) Stop(deviceID string) {
	k.mu.Lock()
	worker := k.workers[deviceID]
	delete(k.workers, deviceID)
	k.mu.Unlock()
	if worker == nil {
		return
	}
	worker.cancel()
	if !waitDone(worker.done, k.stopTimeout) {
		k.logger.Warn("keepalive_stop_timeout", logging.Device(deviceID), logging.F("timeout", k.stopTimeout))
		return
	}
	k.logger.Debug("keepalive_stopped", logging.Device(deviceID))
}

func (k *KeepAlive) StopAll() {
	k.mu.Lock()
	ids := make([]string, 0, len(k.workers))
	for id := range k.workers {
		ids = append(ids, id)
	}
	k.mu.Unlock()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			k.Stop(id)
		}(id)
	}
	wg.Wait()
}

func (k *KeepAlive) Running(deviceID string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.workers[deviceID]
	return ok
}

func (k *KeepAlive) run(ctx context.Context, deviceID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := k.refreshOnce(ctx, deviceID); err != nil && ctx.Err() == nil {
				k.logger.Warn("keepalive_refresh_failed", logging.Device(deviceID), logging.Err(err))
			}
		}
	}
}

// refreshOnce re-sends the stored location when it is at least one interval
// old. It reports whether a send was attempted.
func (k *KeepAlive) refreshOnce(ctx context.Context, deviceID string) (bool, error) {
	state, ok := k.states.Get(deviceID)
	if !ok {
		return false, nil
	}
	if k.now().Sub(state.UpdatedAt) < k.interval {
		return false, nil
	}
	if err := k.send(ctx, deviceID, state.Latitude, state.Longitude); err != nil {
		return true, err
	}
	k.states.Touch(deviceID, state.Latitude, state.Longitude, k.now())
	return true, nil
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
