package config

import (
	"os"
	"path/filepath"
)

const appDirName = ".locsim"

// DataDir returns the base data directory for locsim.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDirName), nil
}

// TokenPath returns the path to the API token file.
func TokenPath() (string, error) {
	return dataPath("token")
}

// CoreConfigPath returns the path to the daemon configuration file.
func CoreConfigPath() (string, error) {
	return dataPath("config.toml")
}

// EnvPath returns the path to the optional dotenv overrides file.
func EnvPath() (string, error) {
	return dataPath(".env")
}

// LastLocationsPath returns the JSON document holding last-known locations.
func LastLocationsPath() (string, error) {
	return dataPath("last_locations.json")
}

// LocationsDBPath returns the bbolt database used by the bbolt location backend.
func LocationsDBPath() (string, error) {
	return dataPath("locations.db")
}

// FavoritesPath returns the plain text favorites list.
func FavoritesPath() (string, error) {
	return dataPath("favorites.txt")
}

func dataPath(name string) (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, name), nil
}
