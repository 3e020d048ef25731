package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"locsim/internal/types"
)

var (
	ErrFavoriteNotFound = errors.New("favorite not found")
	ErrInvalidFavorite  = errors.New("invalid favorite")
	ErrNoFavorites      = errors.New("no valid favorites found")
)

// FavoriteStore keeps an ordered list of named locations. Indexes are
// positions in List.
type FavoriteStore interface {
	List(ctx context.Context) ([]types.Favorite, error)
	Add(ctx context.Context, favorite types.Favorite) (types.Favorite, error)
	Rename(ctx context.Context, index int, name string) (types.Favorite, error)
	Delete(ctx context.Context, index int) error
	Import(ctx context.Context, r io.Reader) (int, error)
}

// FileFavoriteStore is a plain text file with one "latitude,longitude,name"
// line per favorite. Lines that do not parse are skipped on load and
// dropped on the next write.
type FileFavoriteStore struct {
	path      string
	mu        sync.Mutex
	favorites []types.Favorite
}

func NewFileFavoriteStore(path string) (*FileFavoriteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("favorites path is required")
	}
	s := &FileFavoriteStore{path: path}
	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := writeFileAtomic(path, func(io.Writer) error { return nil }); err != nil {
			return nil, fmt.Errorf("create favorites file: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, err
	}
	defer file.Close()
	s.favorites, err = readFavorites(file)
	if err != nil {
		return nil, fmt.Errorf("read favorites: %w", err)
	}
	return s, nil
}

func (s *FileFavoriteStore) Path() string {
	return s.path
}

func (s *FileFavoriteStore) List(ctx context.Context) ([]types.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Favorite{}, s.favorites...), nil
}

func (s *FileFavoriteStore) Add(ctx context.Context, favorite types.Favorite) (types.Favorite, error) {
	favorite, err := normalizeFavorite(favorite)
	if err != nil {
		return types.Favorite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites = append(s.favorites, favorite)
	if err := s.save(); err != nil {
		s.favorites = s.favorites[:len(s.favorites)-1]
		return types.Favorite{}, err
	}
	return favorite, nil
}

func (s *FileFavoriteStore) Rename(ctx context.Context, index int, name string) (types.Favorite, error) {
	name = cleanFavoriteName(name)
	if name == "" {
		return types.Favorite{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidFavorite)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.favorites) {
		return types.Favorite{}, fmt.Errorf("%w: index %d", ErrFavoriteNotFound, index)
	}
	previous := s.favorites[index].Name
	s.favorites[index].Name = name
	if err := s.save(); err != nil {
		s.favorites[index].Name = previous
		return types.Favorite{}, err
	}
	return s.favorites[index], nil
}

func (s *FileFavoriteStore) Delete(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.favorites) {
		return fmt.Errorf("%w: index %d", ErrFavoriteNotFound, index)
	}
	previous := s.favorites
	next := make([]types.Favorite, 0, len(previous)-1)
	next = append(next, previous[:index]...)
	next = append(next, previous[index+1:]...)
	s.favorites = next
	if err := s.save(); err != nil {
		s.favorites = previous
		return err
	}
	return nil
}

// Import appends every valid line read from r and returns how many were
// added. Nothing is added when no line is valid.
func (s *FileFavoriteStore) Import(ctx context.Context, r io.Reader) (int, error) {
	imported, err := readFavorites(r)
	if err != nil {
		return 0, err
	}
	if len(imported) == 0 {
		return 0, ErrNoFavorites
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.favorites)
	s.favorites = append(s.favorites, imported...)
	if err := s.save(); err != nil {
		s.favorites = s.favorites[:count]
		return 0, err
	}
	return len(imported), nil
}

// save rewrites the whole file. Caller holds mu.
func (s *FileFavoriteStore) save() error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		buf := bufio.NewWriter(w)
		for _, favorite := range s.favorites {
			if _, err := buf.WriteString(FormatFavoriteLine(favorite) + "\n"); err != nil {
				return err
			}
		}
		return buf.Flush()
	})
}

func readFavorites(r io.Reader) ([]types.Favorite, error) {
	var out []types.Favorite
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if favorite, ok := ParseFavoriteLine(scanner.Text()); ok {
			out = append(out, favorite)
		}
	}
	return out, scanner.Err()
}

// ParseFavoriteLine reads "latitude,longitude[,name]". The name may itself
// contain commas and defaults to the coordinates. Out-of-range coordinates
// are rejected.
func ParseFavoriteLine(line string) (types.Favorite, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.Favorite{}, false
	}
	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 2 {
		return types.Favorite{}, false
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return types.Favorite{}, false
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return types.Favorite{}, false
	}
	favorite := types.Favorite{Latitude: latitude, Longitude: longitude}
	if len(parts) == 3 {
		favorite.Name = parts[2]
	}
	favorite, err = normalizeFavorite(favorite)
	if err != nil {
		return types.Favorite{}, false
	}
	return favorite, true
}

func FormatFavoriteLine(favorite types.Favorite) string {
	return formatDegrees(favorite.Latitude) + "," + formatDegrees(favorite.Longitude) + "," + favorite.Name
}

func normalizeFavorite(favorite types.Favorite) (types.Favorite, error) {
	if err := favorite.Coordinate().Validate(); err != nil {
		return types.Favorite{}, fmt.Errorf("%w: %v", ErrInvalidFavorite, err)
	}
	favorite.Name = cleanFavoriteName(favorite.Name)
	if favorite.Name == "" {
		favorite.Name = formatDegrees(favorite.Latitude) + ", " + formatDegrees(favorite.Longitude)
	}
	return favorite, nil
}

// cleanFavoriteName keeps a name on one line of the file.
func cleanFavoriteName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
