package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locsim/internal/types"
)

func TestTunnelCacheExpiresAfterTTL(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewTunnelCache(&fakeProvider{}, 30*time.Second, clock.Now)
	cache.Put(types.TunnelInfo{DeviceID: "dev", Address: "fd00::1", Port: 1})

	_, ok := cache.Get("dev")
	require.True(t, ok)
	clock.Advance(29 * time.Second)
	_, ok = cache.Get("dev")
	require.True(t, ok)
	clock.Advance(time.Second)
	_, ok = cache.Get("dev")
	require.False(t, ok)
}

func TestTunnelCacheResolveHitsProviderOnce(t *testing.T) {
	provider := &fakeProvider{answers: []*types.TunnelInfo{tunnel("fd00::1", 7)}}
	cache := NewTunnelCache(provider, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := cache.Resolve(context.Background(), "dev")
			if err != nil || info == nil || info.Port != 7 {
				t.Errorf("unexpected resolve result %+v %v", info, err)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, provider.callCount(), 8)
	before := provider.callCount()
	_, err := cache.Resolve(context.Background(), "dev")
	require.NoError(t, err)
	require.Equal(t, before, provider.callCount(), "fresh entry served from cache")
}

func TestTunnelCacheInvalidateNotifiesProvider(t *testing.T) {
	provider := &fakeProvider{}
	cache := NewTunnelCache(provider, time.Minute, nil)
	cache.Put(types.TunnelInfo{DeviceID: "dev", Address: "fd00::1", Port: 1})
	cache.Invalidate("dev")
	_, ok := cache.Get("dev")
	require.False(t, ok)
	require.Equal(t, []string{"dev"}, provider.invalid)
}

func TestTunnelCacheAbsentDevice(t *testing.T) {
	cache := NewTunnelCache(&fakeProvider{}, time.Minute, nil)
	info, err := cache.Resolve(context.Background(), "dev")
	require.NoError(t, err)
	require.Nil(t, info)
}
