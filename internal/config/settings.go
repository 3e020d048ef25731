package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultDaemonAddress  = "127.0.0.1:8765"
	defaultTunneldURL     = "http://127.0.0.1:49151"
	defaultRoutingURL     = "https://brouter.de/brouter"
	defaultRoutingProfile = "trekking"
	defaultRedisKey       = "locsim:last_locations"
)

const (
	TransportExec   = "exec"
	TransportBridge = "bridge"

	StoreFile  = "file"
	StoreBbolt = "bbolt"
	StoreRedis = "redis"
)

type CoreConfig struct {
	Daemon      CoreDaemonConfig      `toml:"daemon" json:"daemon"`
	Logging     CoreLoggingConfig     `toml:"logging" json:"logging"`
	Tunneld     CoreTunneldConfig     `toml:"tunneld" json:"tunneld"`
	Transport   CoreTransportConfig   `toml:"transport" json:"transport"`
	Device      CoreDeviceConfig      `toml:"device" json:"device"`
	Movement    CoreMovementConfig    `toml:"movement" json:"movement"`
	Events      CoreEventsConfig      `toml:"events" json:"events"`
	Persistence CorePersistenceConfig `toml:"persistence" json:"persistence"`
	Routing     CoreRoutingConfig     `toml:"routing" json:"routing"`
}

type CoreDaemonConfig struct {
	Address string `toml:"address" json:"address"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type CoreTunneldConfig struct {
	URL       string `toml:"url" json:"url"`
	TimeoutMS int    `toml:"timeout_ms" json:"timeout_ms"`
	// Required disables the USB fallback when the broker cannot be reached.
	Required bool `toml:"required" json:"required"`
}

type CoreTransportConfig struct {
	Kind          string   `toml:"kind" json:"kind"`
	Command       []string `toml:"command" json:"command"`
	BridgeAddress string   `toml:"bridge_address" json:"bridge_address"`
	CallTimeoutMS int      `toml:"call_timeout_ms" json:"call_timeout_ms"`
}

type CoreDeviceConfig struct {
	KeepAliveMS   int `toml:"keepalive_ms" json:"keepalive_ms"`
	RetryAttempts int `toml:"retry_attempts" json:"retry_attempts"`
	RetryDelayMS  int `toml:"retry_delay_ms" json:"retry_delay_ms"`
	TunnelTTLSec  int `toml:"tunnel_ttl_seconds" json:"tunnel_ttl_seconds"`
	StopTimeoutMS int `toml:"stop_timeout_ms" json:"stop_timeout_ms"`
	EstablishMS   int `toml:"establish_timeout_ms" json:"establish_timeout_ms"`
}

type CoreMovementConfig struct {
	TickBaseMS        int     `toml:"tick_base_ms" json:"tick_base_ms"`
	TickJitterMS      int     `toml:"tick_jitter_ms" json:"tick_jitter_ms"`
	ArrivalThresholdM float64 `toml:"arrival_threshold_m" json:"arrival_threshold_m"`
}

type CoreEventsConfig struct {
	QueueSize int `toml:"queue_size" json:"queue_size"`
}

type CorePersistenceConfig struct {
	Backend         string `toml:"backend" json:"backend"`
	FlushIntervalMS int    `toml:"flush_interval_ms" json:"flush_interval_ms"`
	Path            string `toml:"path" json:"path"`
	RedisAddress    string `toml:"redis_address" json:"redis_address"`
	RedisPassword   string `toml:"redis_password" json:"redis_password"`
	RedisDB         int    `toml:"redis_db" json:"redis_db"`
	RedisKey        string `toml:"redis_key" json:"redis_key"`
	FavoritesPath   string `toml:"favorites_path" json:"favorites_path"`
}

type CoreRoutingConfig struct {
	URL           string  `toml:"url" json:"url"`
	Profile       string  `toml:"profile" json:"profile"`
	TimeoutSec    int     `toml:"timeout_seconds" json:"timeout_seconds"`
	Retries       int     `toml:"retries" json:"retries"`
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`
	Disabled      bool    `toml:"disabled" json:"disabled"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Daemon:  CoreDaemonConfig{Address: defaultDaemonAddress},
		Logging: CoreLoggingConfig{Level: "info"},
		Tunneld: CoreTunneldConfig{URL: defaultTunneldURL, TimeoutMS: 10000},
		Transport: CoreTransportConfig{
			Kind:          TransportExec,
			Command:       []string{"locsim-dvt-helper"},
			CallTimeoutMS: 10000,
		},
		Device: CoreDeviceConfig{
			KeepAliveMS:   3000,
			RetryAttempts: 5,
			RetryDelayMS:  500,
			TunnelTTLSec:  30,
			StopTimeoutMS: 2000,
			EstablishMS:   15000,
		},
		Movement: CoreMovementConfig{
			TickBaseMS:        100,
			TickJitterMS:      100,
			ArrivalThresholdM: 5,
		},
		Events:      CoreEventsConfig{QueueSize: 256},
		Persistence: CorePersistenceConfig{Backend: StoreFile, FlushIntervalMS: 5000, RedisKey: defaultRedisKey},
		Routing: CoreRoutingConfig{
			URL:           defaultRoutingURL,
			Profile:       defaultRoutingProfile,
			TimeoutSec:    10,
			Retries:       3,
			RatePerSecond: 2,
		},
	}
}

// LoadCoreConfig reads config.toml from the data dir, then applies
// LOCSIM_* overrides from the data-dir .env, ./.env, and the process
// environment, in increasing precedence.
func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	cfg, err := loadCoreConfigFromPath(path)
	if err != nil {
		return CoreConfig{}, err
	}
	envPath, err := EnvPath()
	if err != nil {
		return CoreConfig{}, err
	}
	env, err := readEnvFiles(envPath, ".env")
	if err != nil {
		return CoreConfig{}, err
	}
	cfg.applyEnv(func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
		value, ok := env[key]
		return value, ok
	})
	return cfg, nil
}

// Encode renders the effective configuration as TOML.
func (c CoreConfig) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c CoreConfig) DaemonAddress() string {
	addr := strings.TrimSpace(c.Daemon.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (c CoreConfig) DaemonBaseURL() string {
	return "http://" + c.DaemonAddress()
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) TunneldURL() string {
	url := strings.TrimRight(strings.TrimSpace(c.Tunneld.URL), "/")
	if url == "" {
		return defaultTunneldURL
	}
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return url
}

func (c CoreConfig) TunneldTimeout() time.Duration {
	return millis(c.Tunneld.TimeoutMS, 10*time.Second)
}

func (c CoreConfig) TunneldRequired() bool {
	return c.Tunneld.Required
}

func (c CoreConfig) TransportKind() string {
	switch strings.ToLower(strings.TrimSpace(c.Transport.Kind)) {
	case TransportBridge:
		return TransportBridge
	default:
		return TransportExec
	}
}

func (c CoreConfig) TransportCommand() []string {
	out := make([]string, 0, len(c.Transport.Command))
	for _, part := range c.Transport.Command {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c CoreConfig) BridgeAddress() string {
	return strings.TrimSpace(c.Transport.BridgeAddress)
}

func (c CoreConfig) TransportCallTimeout() time.Duration {
	return millis(c.Transport.CallTimeoutMS, 10*time.Second)
}

func (c CoreConfig) KeepAliveInterval() time.Duration {
	return millis(c.Device.KeepAliveMS, 3*time.Second)
}

func (c CoreConfig) RetryAttempts() int {
	if c.Device.RetryAttempts <= 0 {
		return 5
	}
	return c.Device.RetryAttempts
}

func (c CoreConfig) RetryDelay() time.Duration {
	return millis(c.Device.RetryDelayMS, 500*time.Millisecond)
}

func (c CoreConfig) TunnelTTL() time.Duration {
	if c.Device.TunnelTTLSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Device.TunnelTTLSec) * time.Second
}

func (c CoreConfig) StopTimeout() time.Duration {
	return millis(c.Device.StopTimeoutMS, 2*time.Second)
}

func (c CoreConfig) EstablishTimeout() time.Duration {
	return millis(c.Device.EstablishMS, 15*time.Second)
}

func (c CoreConfig) TickBase() time.Duration {
	return millis(c.Movement.TickBaseMS, 100*time.Millisecond)
}

func (c CoreConfig) TickJitter() time.Duration {
	if c.Movement.TickJitterMS < 0 {
		return 0
	}
	return time.Duration(c.Movement.TickJitterMS) * time.Millisecond
}

func (c CoreConfig) ArrivalThresholdMeters() float64 {
	if c.Movement.ArrivalThresholdM <= 0 {
		return 5
	}
	return c.Movement.ArrivalThresholdM
}

func (c CoreConfig) EventQueueSize() int {
	if c.Events.QueueSize <= 0 {
		return 256
	}
	return c.Events.QueueSize
}

func (c CoreConfig) StoreBackend() string {
	switch strings.ToLower(strings.TrimSpace(c.Persistence.Backend)) {
	case StoreBbolt:
		return StoreBbolt
	case StoreRedis:
		return StoreRedis
	default:
		return StoreFile
	}
}

func (c CoreConfig) FlushInterval() time.Duration {
	return millis(c.Persistence.FlushIntervalMS, 5*time.Second)
}

// StorePath resolves the file backing the file or bbolt backend.
func (c CoreConfig) StorePath() (string, error) {
	if path := strings.TrimSpace(c.Persistence.Path); path != "" {
		return resolveConfigPath(path)
	}
	if c.StoreBackend() == StoreBbolt {
		return LocationsDBPath()
	}
	return LastLocationsPath()
}

// FavoritesFile resolves the plain text favorites list.
func (c CoreConfig) FavoritesFile() (string, error) {
	if path := strings.TrimSpace(c.Persistence.FavoritesPath); path != "" {
		return resolveConfigPath(path)
	}
	return FavoritesPath()
}

func (c CoreConfig) RedisKey() string {
	if key := strings.TrimSpace(c.Persistence.RedisKey); key != "" {
		return key
	}
	return defaultRedisKey
}

func (c CoreConfig) RoutingURL() string {
	url := strings.TrimRight(strings.TrimSpace(c.Routing.URL), "/")
	if url == "" {
		return defaultRoutingURL
	}
	return url
}

func (c CoreConfig) RoutingProfile() string {
	if profile := strings.TrimSpace(c.Routing.Profile); profile != "" {
		return profile
	}
	return defaultRoutingProfile
}

func (c CoreConfig) RoutingTimeout() time.Duration {
	if c.Routing.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Routing.TimeoutSec) * time.Second
}

func (c CoreConfig) RoutingRetries() int {
	if c.Routing.Retries <= 0 {
		return 3
	}
	return c.Routing.Retries
}

func (c CoreConfig) RoutingRate() float64 {
	if c.Routing.RatePerSecond <= 0 {
		return 2
	}
	return c.Routing.RatePerSecond
}

func (c CoreConfig) RoutingDisabled() bool {
	return c.Routing.Disabled
}

func (c *CoreConfig) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	str("LOCSIM_DAEMON_ADDRESS", &c.Daemon.Address)
	str("LOCSIM_LOG_LEVEL", &c.Logging.Level)
	str("LOCSIM_TUNNELD_URL", &c.Tunneld.URL)
	str("LOCSIM_TRANSPORT", &c.Transport.Kind)
	str("LOCSIM_BRIDGE_ADDRESS", &c.Transport.BridgeAddress)
	str("LOCSIM_STORE_BACKEND", &c.Persistence.Backend)
	str("LOCSIM_STORE_PATH", &c.Persistence.Path)
	str("LOCSIM_FAVORITES_PATH", &c.Persistence.FavoritesPath)
	str("LOCSIM_REDIS_ADDRESS", &c.Persistence.RedisAddress)
	str("LOCSIM_REDIS_PASSWORD", &c.Persistence.RedisPassword)
	str("LOCSIM_ROUTING_URL", &c.Routing.URL)
	if value, ok := lookup("LOCSIM_TUNNELD_REQUIRED"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			c.Tunneld.Required = parsed
		}
	}
	if value, ok := lookup("LOCSIM_HELPER_COMMAND"); ok && strings.TrimSpace(value) != "" {
		c.Transport.Command = strings.Fields(value)
	}
}

func readEnvFiles(paths ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for key, value := range values {
			out[key] = value
		}
	}
	return out, nil
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	if err := readTOML(path, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	return dataPath(path)
}

func millis(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Millisecond
}
