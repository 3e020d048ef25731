package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const (
	DefaultFlushInterval = 5 * time.Second
	flusherStopTimeout   = 2 * time.Second
)

// Debouncer holds last-known locations in memory and writes the whole map
// to its LocationStore at most once per interval, and only when changed.
type Debouncer struct {
	store    LocationStore
	interval time.Duration
	logger   logging.Logger

	mu        sync.Mutex
	locations map[string]types.LastLocation
	dirty     bool

	saveMu sync.Mutex
	saves  int

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// OpenDebouncer loads the stored document and starts the flusher.
func OpenDebouncer(ctx context.Context, store LocationStore, interval time.Duration, logger logging.Logger) (*Debouncer, error) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = map[string]types.LastLocation{}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		store:     store,
		interval:  interval,
		logger:    logger,
		locations: loaded,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go d.run(runCtx)
	logger.Info("last_locations_loaded", logging.F("count", len(loaded)), logging.F("backend", store.Backend()))
	return d, nil
}

func (d *Debouncer) Update(deviceID string, location types.LastLocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.locations[deviceID]; ok && current == location {
		return
	}
	d.locations[deviceID] = location
	d.dirty = true
}

func (d *Debouncer) Delete(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.locations[deviceID]; !ok {
		return
	}
	delete(d.locations, deviceID)
	d.dirty = true
}

func (d *Debouncer) Get(deviceID string) (types.LastLocation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc, ok := d.locations[deviceID]
	return loc, ok
}

func (d *Debouncer) Devices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.locations))
	for id := range d.locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes pending changes now. A failed write keeps the map dirty so
// the next tick retries.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]types.LastLocation, len(d.locations))
	for id, loc := range d.locations {
		snapshot[id] = loc
	}
	d.dirty = false
	d.mu.Unlock()

	if err := d.store.Save(ctx, snapshot); err != nil {
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return err
	}
	d.saves++
	return nil
}

// Close stops the flusher, performs a final flush and closes the store.
func (d *Debouncer) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		timer := time.NewTimer(flusherStopTimeout)
		select {
		case <-d.done:
		case <-timer.C:
			d.logger.Warn("last_locations_flusher_stop_timeout")
		}
		timer.Stop()
		if flushErr := d.Flush(ctx); flushErr != nil {
			err = flushErr
		}
		if closeErr := d.store.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

func (d *Debouncer) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("last_locations_flush_failed", logging.Err(err))
			}
		}
	}
}

func (d *Debouncer) saveCount() int {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	return d.saves
}
