package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"locsim/internal/types"
)

var bucketLastLocations = []byte("last_locations")

type BboltLocationStore struct {
	db *bolt.DB
}

func NewBboltLocationStore(path string) (*BboltLocationStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("location db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLastLocations)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BboltLocationStore{db: db}, nil
}

func (s *BboltLocationStore) Load(ctx context.Context) (map[string]types.LastLocation, error) {
	out := map[string]types.LastLocation{}
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLastLocations)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var loc types.LastLocation
			if err := json.Unmarshal(v, &loc); err != nil {
				return err
			}
			out[string(k)] = loc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save rewrites the bucket in one transaction so readers never observe a
// partially written document.
func (s *BboltLocationStore) Save(ctx context.Context, locations map[string]types.LastLocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketLastLocations); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := tx.CreateBucket(bucketLastLocations)
		if err != nil {
			return err
		}
		for deviceID, loc := range locations {
			data, err := json.Marshal(loc)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(deviceID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltLocationStore) Backend() string { return BackendBbolt }

func (s *BboltLocationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
