package device

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"locsim/internal/types"
)

// TunnelProvider looks up a device's tunnel endpoint. A nil info with a nil
// error means the device has no tunnel; an error means the provider itself
// could not be reached.
type TunnelProvider interface {
	Get(ctx context.Context, deviceID string) (*types.TunnelInfo, error)
}

// tunnelInvalidator is implemented by providers that track per-device
// status and want to hear about failed sessions.
type tunnelInvalidator interface {
	Invalidate(deviceID string)
}

const DefaultTunnelTTL = 30 * time.Second

// TunnelCache keeps provider answers for a short TTL. Concurrent misses for
// the same device share one provider query.
type TunnelCache struct {
	provider TunnelProvider
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]types.TunnelInfo
	group   singleflight.Group
}

func NewTunnelCache(provider TunnelProvider, ttl time.Duration, now func() time.Time) *TunnelCache {
	if ttl <= 0 {
		ttl = DefaultTunnelTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TunnelCache{provider: provider, ttl: ttl, now: now, entries: map[string]types.TunnelInfo{}}
}

func (c *TunnelCache) Get(deviceID string) (*types.TunnelInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[deviceID]
	if !ok {
		return nil, false
	}
	if !info.Fresh(c.now(), c.ttl) {
		delete(c.entries, deviceID)
		return nil, false
	}
	return &info, true
}

func (c *TunnelCache) Put(info types.TunnelInfo) {
	if info.FetchedAt.IsZero() {
		info.FetchedAt = c.now()
	}
	c.mu.Lock()
	c.entries[info.DeviceID] = info
	c.mu.Unlock()
}

func (c *TunnelCache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
	if inv, ok := c.provider.(tunnelInvalidator); ok {
		inv.Invalidate(deviceID)
	}
}

// Resolve serves a fresh cache entry or asks the provider.
func (c *TunnelCache) Resolve(ctx context.Context, deviceID string) (*types.TunnelInfo, error) {
	if info, ok := c.Get(deviceID); ok {
		return info, nil
	}
	return c.Refresh(ctx, deviceID)
}

// Refresh bypasses the cache and writes a successful answer through.
func (c *TunnelCache) Refresh(ctx context.Context, deviceID string) (*types.TunnelInfo, error) {
	if c.provider == nil {
		return nil, nil
	}
	ch := c.group.DoChan(deviceID, func() (any, error) {
		info, err := c.provider.Get(context.WithoutCancel(ctx), deviceID)
		if err != nil || info == nil {
			return (*types.TunnelInfo)(nil), err
		}
		stored := *info
		stored.DeviceID = deviceID
		c.Put(stored)
		return &stored, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		info, _ := res.Val.(*types.TunnelInfo)
		if info == nil {
			return nil, nil
		}
		copied := *info
		return &copied, nil
	}
}
