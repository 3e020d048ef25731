package store

import (
	"context"

	"locsim/internal/types"
)

const (
	BackendFile  = "file"
	BackendBbolt = "bbolt"
	BackendRedis = "redis"
)

// LocationStore persists the full last-location document. Save replaces
// whatever was stored before.
type LocationStore interface {
	Load(ctx context.Context) (map[string]types.LastLocation, error)
	Save(ctx context.Context, locations map[string]types.LastLocation) error
	Backend() string
	Close() error
}
