package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"locsim/internal/logging"
	"locsim/internal/types"
)

func TestFileLocationStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "last_locations.json")
	store, err := NewFileLocationStore(path)
	require.NoError(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, loaded)

	doc := map[string]types.LastLocation{"dev": {Lat: 1.5, Lon: -2.5}}
	require.NoError(t, store.Save(context.Background(), doc))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"dev":{"lat":1.5,"lon":-2.5}}`, string(raw))

	loaded, err = store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, doc, loaded)
}

func TestFileLocationStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_locations.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	store, err := NewFileLocationStore(path)
	require.NoError(t, err)
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestBboltLocationStoreReplacesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.db")
	store, err := NewBboltLocationStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, map[string]types.LastLocation{"a": {Lat: 1}, "b": {Lat: 2}}))
	require.NoError(t, store.Save(ctx, map[string]types.LastLocation{"b": {Lat: 3}}))
	require.NoError(t, store.Close())

	reopened, err := NewBboltLocationStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]types.LastLocation{"b": {Lat: 3}}, loaded)
}

func TestNewLocationStoreFallsBackFromRedis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_locations.json")
	store, err := NewLocationStore(context.Background(), Options{
		Backend: BackendRedis,
		Path:    path,
		Redis:   RedisOptions{Address: "127.0.0.1:1"},
	}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, BackendFile, store.Backend())
}

func TestNewLocationStoreBbolt(t *testing.T) {
	store, err := NewLocationStore(context.Background(), Options{
		Backend: BackendBbolt,
		Path:    filepath.Join(t.TempDir(), "locations.db"),
	}, nil)
	require.NoError(t, err)
	defer store.Close()
	require.Equal(t, BackendBbolt, store.Backend())
}

type countingStore struct {
	mu      sync.Mutex
	saves   []map[string]types.LastLocation
	initial map[string]types.LastLocation
	failing bool
}

func (s *countingStore) Load(context.Context) (map[string]types.LastLocation, error) {
	return s.initial, nil
}

func (s *countingStore) Save(_ context.Context, locations map[string]types.LastLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("disk full")
	}
	s.saves = append(s.saves, locations)
	return nil
}

func (s *countingStore) Backend() string { return "memory" }
func (s *countingStore) Close() error    { return nil }

func (s *countingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func TestDebouncerCoalescesUpdatesIntoOneWrite(t *testing.T) {
	backing := &countingStore{}
	d, err := OpenDebouncer(context.Background(), backing, time.Hour, nil)
	require.NoError(t, err)
	defer d.Close(context.Background())

	for i := 0; i < 100; i++ {
		d.Update("dev", types.LastLocation{Lat: float64(i), Lon: 1})
		loc, ok := d.Get("dev")
		require.True(t, ok)
		require.Equal(t, float64(i), loc.Lat, "Get must reflect the latest update immediately")
	}
	require.Zero(t, backing.count())

	require.NoError(t, d.Flush(context.Background()))
	require.NoError(t, d.Flush(context.Background()))
	require.Equal(t, 1, backing.count())
	require.Equal(t, 99.0, backing.saves[0]["dev"].Lat)
}

func TestDebouncerFlusherWritesWithinInterval(t *testing.T) {
	backing := &countingStore{}
	d, err := OpenDebouncer(context.Background(), backing, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer d.Close(context.Background())

	d.Update("dev", types.LastLocation{Lat: 1})
	require.Eventually(t, func() bool { return backing.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, backing.count(), "clean map must not be rewritten")
}

func TestDebouncerCloseFlushesPending(t *testing.T) {
	backing := &countingStore{initial: map[string]types.LastLocation{"old": {Lat: 9}}}
	d, err := OpenDebouncer(context.Background(), backing, time.Hour, nil)
	require.NoError(t, err)

	loc, ok := d.Get("old")
	require.True(t, ok)
	require.Equal(t, 9.0, loc.Lat)

	d.Update("dev", types.LastLocation{Lat: 2})
	d.Delete("old")
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 1, backing.count())
	require.Equal(t, map[string]types.LastLocation{"dev": {Lat: 2}}, backing.saves[0])
	require.NoError(t, d.Close(context.Background()))
}

func TestDebouncerFailedSaveStaysDirty(t *testing.T) {
	backing := &countingStore{failing: true}
	d, err := OpenDebouncer(context.Background(), backing, time.Hour, nil)
	require.NoError(t, err)
	defer d.Close(context.Background())

	d.Update("dev", types.LastLocation{Lat: 1})
	require.Error(t, d.Flush(context.Background()))

	backing.mu.Lock()
	backing.failing = false
	backing.mu.Unlock()
	require.NoError(t, d.Flush(context.Background()))
	require.Equal(t, 1, backing.count())
	require.Equal(t, 1, d.saveCount())
}
