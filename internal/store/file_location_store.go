package store

import (
	"context"
	"errors"
	"os"
	"strings"

	"locsim/internal/types"
)

type FileLocationStore struct {
	path string
}

func NewFileLocationStore(path string) (*FileLocationStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("location file path is required")
	}
	return &FileLocationStore{path: path}, nil
}

func (s *FileLocationStore) Load(ctx context.Context) (map[string]types.LastLocation, error) {
	out := map[string]types.LastLocation{}
	if err := readJSON(s.path, &out); err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, errEmptyFile) {
			return map[string]types.LastLocation{}, nil
		}
		return nil, err
	}
	return out, nil
}

func (s *FileLocationStore) Save(ctx context.Context, locations map[string]types.LastLocation) error {
	if locations == nil {
		locations = map[string]types.LastLocation{}
	}
	return writeJSONAtomic(s.path, locations)
}

func (s *FileLocationStore) Backend() string { return BackendFile }

func (s *FileLocationStore) Close() error { return nil }
