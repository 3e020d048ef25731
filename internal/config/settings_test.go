package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDataFile(t *testing.T, home, name, content string) {
	t.Helper()
	dataDir := filepath.Join(home, ".locsim")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoadCoreConfigDefaults(t *testing.T) {
	t.Setenv("HOME", filepath.Join(t.TempDir(), "home"))
	chdirForTest(t, t.TempDir())
	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.DaemonAddress() != "127.0.0.1:8765" {
		t.Fatalf("unexpected daemon address: %q", cfg.DaemonAddress())
	}
	if cfg.TunneldURL() != "http://127.0.0.1:49151" {
		t.Fatalf("unexpected tunneld url: %q", cfg.TunneldURL())
	}
	if cfg.KeepAliveInterval() != 3*time.Second || cfg.RetryAttempts() != 5 || cfg.RetryDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected device defaults: %+v", cfg.Device)
	}
	if cfg.TunnelTTL() != 30*time.Second || cfg.FlushInterval() != 5*time.Second {
		t.Fatalf("unexpected cache/flush defaults")
	}
	if cfg.StoreBackend() != StoreFile || cfg.TransportKind() != TransportExec {
		t.Fatalf("unexpected backend defaults: %q %q", cfg.StoreBackend(), cfg.TransportKind())
	}
	if cfg.RoutingProfile() != "trekking" {
		t.Fatalf("unexpected routing profile %q", cfg.RoutingProfile())
	}
}

func TestLoadCoreConfigFromTOML(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	chdirForTest(t, t.TempDir())
	writeDataFile(t, home, "config.toml", `
[daemon]
address = "http://127.0.0.1:9999/"

[device]
keepalive_ms = 1500

[persistence]
backend = "bbolt"

[transport]
kind = "bridge"
bridge_address = "10.0.0.2:7000"
`)

	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.DaemonBaseURL() != "http://127.0.0.1:9999" {
		t.Fatalf("unexpected daemon base url: %q", cfg.DaemonBaseURL())
	}
	if cfg.KeepAliveInterval() != 1500*time.Millisecond {
		t.Fatalf("unexpected keepalive: %v", cfg.KeepAliveInterval())
	}
	if cfg.StoreBackend() != StoreBbolt {
		t.Fatalf("unexpected backend: %q", cfg.StoreBackend())
	}
	path, err := cfg.StorePath()
	if err != nil {
		t.Fatalf("StorePath: %v", err)
	}
	if filepath.Base(path) != "locations.db" {
		t.Fatalf("unexpected store path %q", path)
	}
	if cfg.TransportKind() != TransportBridge || cfg.BridgeAddress() != "10.0.0.2:7000" {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.RetryAttempts() != 5 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.RetryAttempts())
	}
}

func TestLoadCoreConfigEnvOverrides(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	chdirForTest(t, t.TempDir())
	writeDataFile(t, home, "config.toml", "[logging]\nlevel = \"warn\"\n")
	writeDataFile(t, home, ".env", "LOCSIM_LOG_LEVEL=debug\nLOCSIM_TUNNELD_URL=127.0.0.1:5000\nLOCSIM_STORE_BACKEND=redis\n")
	t.Setenv("LOCSIM_STORE_BACKEND", "bbolt")
	t.Setenv("LOCSIM_TUNNELD_REQUIRED", "true")

	cfg, err := LoadCoreConfig()
	if err != nil {
		t.Fatalf("LoadCoreConfig: %v", err)
	}
	if cfg.LogLevel() != "debug" {
		t.Fatalf("expected .env to override toml, got %q", cfg.LogLevel())
	}
	if cfg.TunneldURL() != "http://127.0.0.1:5000" {
		t.Fatalf("unexpected tunneld url %q", cfg.TunneldURL())
	}
	if cfg.StoreBackend() != StoreBbolt {
		t.Fatalf("expected process env to win, got %q", cfg.StoreBackend())
	}
	if !cfg.TunneldRequired() {
		t.Fatalf("expected tunneld required")
	}
}

func TestCoreConfigFavoritesFile(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg := DefaultCoreConfig()
	path, err := cfg.FavoritesFile()
	if err != nil {
		t.Fatalf("FavoritesFile: %v", err)
	}
	if path != filepath.Join(home, ".locsim", "favorites.txt") {
		t.Fatalf("unexpected default favorites path %q", path)
	}

	cfg.Persistence.FavoritesPath = "~/places.txt"
	path, err = cfg.FavoritesFile()
	if err != nil {
		t.Fatalf("FavoritesFile: %v", err)
	}
	if path != filepath.Join(home, "places.txt") {
		t.Fatalf("unexpected configured favorites path %q", path)
	}
}

func TestCoreConfigEncodeRoundTrip(t *testing.T) {
	cfg := DefaultCoreConfig()
	cfg.Daemon.Address = "127.0.0.1:1234"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	loaded, err := loadCoreConfigFromPath(path)
	if err != nil {
		t.Fatalf("loadCoreConfigFromPath: %v", err)
	}
	if loaded.DaemonAddress() != "127.0.0.1:1234" {
		t.Fatalf("unexpected address %q", loaded.DaemonAddress())
	}
}

// chdirForTest changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore Chdir: %v", err)
		}
	})
}
