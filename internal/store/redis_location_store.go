package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"locsim/internal/types"
)

// RedisLocationStore keeps the document as one hash, field per device.
type RedisLocationStore struct {
	client *redis.Client
	key    string
}

type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
}

func NewRedisLocationStore(ctx context.Context, opts RedisOptions) (*RedisLocationStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        strings.TrimSpace(opts.Address),
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		key = "locsim:last_locations"
	}
	return &RedisLocationStore{client: client, key: key}, nil
}

func (s *RedisLocationStore) Load(ctx context.Context) (map[string]types.LastLocation, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.LastLocation, len(fields))
	for deviceID, raw := range fields {
		var loc types.LastLocation
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			continue
		}
		out[deviceID] = loc
	}
	return out, nil
}

func (s *RedisLocationStore) Save(ctx context.Context, locations map[string]types.LastLocation) error {
	values := make([]any, 0, len(locations)*2)
	for deviceID, loc := range locations {
		data, err := json.Marshal(loc)
		if err != nil {
			return err
		}
		values = append(values, deviceID, string(data))
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	return err
}

func (s *RedisLocationStore) Backend() string { return BackendRedis }

func (s *RedisLocationStore) Close() error {
	return s.client.Close()
}
