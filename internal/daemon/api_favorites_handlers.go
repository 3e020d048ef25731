package daemon

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"locsim/internal/logging"
	"locsim/internal/types"
)

func (a *API) FavoriteList(w http.ResponseWriter, r *http.Request) {
	if a.Favorites == nil {
		writeServiceError(w, unavailableError("favorites not available", nil))
		return
	}
	switch r.Method {
	case http.MethodGet:
		favorites, err := a.Favorites.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if favorites == nil {
			favorites = []types.Favorite{}
		}
		writeJSON(w, http.StatusOK, FavoritesResponse{Favorites: favorites})
	case http.MethodPost:
		var req FavoriteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		if req.Latitude == nil || req.Longitude == nil {
			writeServiceError(w, invalidError("latitude and longitude are required", nil))
			return
		}
		favorite, err := a.Favorites.Add(r.Context(), types.Favorite{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Name:      req.Name,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		a.logger().Info("favorite_added", logging.F("name", favorite.Name))
		writeJSON(w, http.StatusCreated, favorite)
	default:
		writeMethodNotAllowed(w)
	}
}

// FavoriteByIndex serves /v1/favorites/{index} and /v1/favorites/import.
func (a *API) FavoriteByIndex(w http.ResponseWriter, r *http.Request) {
	if a.Favorites == nil {
		writeServiceError(w, unavailableError("favorites not available", nil))
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/favorites/"), "/")
	if rest == "import" {
		a.importFavorites(w, r)
		return
	}
	index, err := strconv.Atoi(rest)
	if err != nil || strings.Contains(rest, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req FavoriteRenameRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		favorite, err := a.Favorites.Rename(r.Context(), index, req.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, favorite)
	case http.MethodDelete:
		if err := a.Favorites.Delete(r.Context(), index); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) importFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req ImportFavoritesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	var source io.Reader
	switch {
	case req.Content != "":
		source = strings.NewReader(req.Content)
	case strings.TrimSpace(req.Path) != "":
		file, err := os.Open(strings.TrimSpace(req.Path))
		if err != nil {
			writeServiceError(w, invalidError("cannot read favorites file", err))
			return
		}
		defer file.Close()
		source = file
	default:
		writeServiceError(w, invalidError("content or path is required", nil))
		return
	}
	count, err := a.Favorites.Import(r.Context(), source)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	a.logger().Info("favorites_imported", logging.F("count", count))
	writeJSON(w, http.StatusOK, ImportFavoritesResponse{Imported: count})
}
