package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locsim/internal/types"
)

func TestRegistryConcurrentGetOrCreateInstallsOneHandle(t *testing.T) {
	transport := &fakeTransport{establishLag: 5 * time.Millisecond}
	registry := NewRegistry(transport)

	const callers = 32
	handles := make([]*SessionHandle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := registry.GetOrCreate(context.Background(), "dev", nil)
			assert.NoError(t, err)
			handles[i] = handle
		}(i)
	}
	wg.Wait()

	for _, handle := range handles {
		require.Same(t, handles[0], handle)
	}
	require.Equal(t, []string{"dev"}, registry.Devices())
	established := int(transport.establishes.Load())
	require.Equal(t, established-1, int(transport.closes.Load()), "every losing handle must be closed")
	require.False(t, handles[0].Closed())
}

func TestRegistryEstablishFailure(t *testing.T) {
	transport := &fakeTransport{establishErr: errors.New("no route to host")}
	registry := NewRegistry(transport)

	_, err := registry.GetOrCreate(context.Background(), "dev", tunnel("fd00::1", 1))
	var establishErr *EstablishError
	require.ErrorAs(t, err, &establishErr)
	require.Equal(t, types.ConnectionTunnel, establishErr.Kind)
	require.Nil(t, registry.Handle("dev"))
}

func TestRegistryKindFollowsParams(t *testing.T) {
	registry := NewRegistry(&fakeTransport{})
	usb, err := registry.GetOrCreate(context.Background(), "usb-dev", nil)
	require.NoError(t, err)
	require.Equal(t, types.ConnectionUSB, usb.Kind)

	tun, err := registry.GetOrCreate(context.Background(), "tun-dev", tunnel("fd00::1", 5000))
	require.NoError(t, err)
	require.Equal(t, types.ConnectionTunnel, tun.Kind)
	require.Equal(t, 5000, tun.Params.Port)
}

func TestRegistryCloseIsIdempotentAndRunsHooks(t *testing.T) {
	transport := &fakeTransport{}
	registry := NewRegistry(transport)
	var hooked []string
	registry.OnClose(func(deviceID string) { hooked = append(hooked, deviceID) })

	handle, err := registry.GetOrCreate(context.Background(), "dev", nil)
	require.NoError(t, err)
	registry.Close("dev")
	registry.Close("dev")

	require.True(t, handle.Closed())
	require.Nil(t, registry.Handle("dev"))
	require.Equal(t, []string{"dev", "dev"}, hooked)
	require.EqualValues(t, 1, transport.closes.Load())
	require.ErrorIs(t, handle.SetLocation(context.Background(), 1, 1), ErrHandleClosed)
}

func TestRegistryReleaseOnlyDropsMatchingHandle(t *testing.T) {
	registry := NewRegistry(&fakeTransport{})
	var hooked int
	registry.OnClose(func(string) { hooked++ })

	first, err := registry.GetOrCreate(context.Background(), "dev", nil)
	require.NoError(t, err)
	registry.Release("dev", first)
	require.Nil(t, registry.Handle("dev"))

	second, err := registry.GetOrCreate(context.Background(), "dev", nil)
	require.NoError(t, err)
	registry.Release("dev", first)
	require.Same(t, second, registry.Handle("dev"))
	require.Zero(t, hooked)
}

func TestRegistryCloseAll(t *testing.T) {
	registry := NewRegistry(&fakeTransport{})
	for _, id := range []string{"a", "b", "c"} {
		_, err := registry.GetOrCreate(context.Background(), id, nil)
		require.NoError(t, err)
	}
	registry.CloseAll()
	require.Empty(t, registry.Devices())
}

func TestSessionHandleSerializesCalls(t *testing.T) {
	transport := &fakeTransport{}
	registry := NewRegistry(transport)
	handle, err := registry.GetOrCreate(context.Background(), "dev", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = handle.SetLocation(context.Background(), float64(i), 0)
		}(i)
	}
	wg.Wait()
	require.False(t, transport.overlapped.Load())
	require.Len(t, transport.recorded(), 16)
}
