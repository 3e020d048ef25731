package store

import (
	"context"

	"locsim/internal/logging"
)

type Options struct {
	Backend string
	// Path backs the file and bbolt backends, and is the file fallback when
	// Redis cannot be reached.
	Path         string
	FallbackPath string
	Redis        RedisOptions
}

// NewLocationStore opens the configured backend. An unreachable Redis falls
// back to the JSON file so the daemon still starts.
func NewLocationStore(ctx context.Context, opts Options, logger logging.Logger) (LocationStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	switch opts.Backend {
	case BackendBbolt:
		store, err := NewBboltLocationStore(opts.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("location_store_opened", logging.F("backend", BackendBbolt), logging.F("path", opts.Path))
		return store, nil
	case BackendRedis:
		store, err := NewRedisLocationStore(ctx, opts.Redis)
		if err == nil {
			logger.Info("location_store_opened", logging.F("backend", BackendRedis), logging.F("addr", opts.Redis.Address))
			return store, nil
		}
		logger.Warn("location_store_redis_unavailable", logging.F("addr", opts.Redis.Address), logging.Err(err))
		path := opts.FallbackPath
		if path == "" {
			path = opts.Path
		}
		return openFile(path, logger)
	default:
		return openFile(opts.Path, logger)
	}
}

func openFile(path string, logger logging.Logger) (LocationStore, error) {
	store, err := NewFileLocationStore(path)
	if err != nil {
		return nil, err
	}
	logger.Info("location_store_opened", logging.F("backend", BackendFile), logging.F("path", path))
	return store, nil
}
