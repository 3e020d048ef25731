package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"locsim/internal/config"
	"locsim/internal/device"
	"locsim/internal/events"
	"locsim/internal/logging"
	"locsim/internal/movement"
	"locsim/internal/routing"
	"locsim/internal/store"
	"locsim/internal/transport"
	"locsim/internal/tunneld"
)

type Daemon struct {
	cfg     config.CoreConfig
	token   string
	version string
	logger  logging.Logger

	transport device.Transport
	provider  device.TunnelProvider
	paths     movement.PathFinder
	locations store.LocationStore
	favorites store.FavoriteStore

	server    *http.Server
	handler   http.Handler
	service   *device.Service
	manager   *movement.Manager
	debouncer *store.Debouncer
	channel   *events.Channel
	closers   []io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

type Option func(*Daemon)

func WithLogger(logger logging.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTransport replaces the configured helper transport.
func WithTransport(t device.Transport) Option {
	return func(d *Daemon) {
		d.transport = t
	}
}

// WithTunnelProvider replaces the tunneld client.
func WithTunnelProvider(provider device.TunnelProvider) Option {
	return func(d *Daemon) {
		d.provider = provider
	}
}

func WithPathFinder(paths movement.PathFinder) Option {
	return func(d *Daemon) {
		d.paths = paths
	}
}

func WithLocationStore(locations store.LocationStore) Option {
	return func(d *Daemon) {
		d.locations = locations
	}
}

func WithFavoriteStore(favorites store.FavoriteStore) Option {
	return func(d *Daemon) {
		d.favorites = favorites
	}
}

func New(cfg config.CoreConfig, token, version string, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		token:   token,
		version: version,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Start assembles the component graph and the HTTP handler without
// listening. Run calls it; tests drive Handler directly.
func (d *Daemon) Start(ctx context.Context) error {
	if d.handler != nil {
		return nil
	}
	cfg := d.cfg
	logger := d.logger

	favorites := d.favorites
	if favorites == nil {
		path, err := cfg.FavoritesFile()
		if err != nil {
			return err
		}
		fileFavorites, err := store.NewFileFavoriteStore(path)
		if err != nil {
			return fmt.Errorf("open favorites: %w", err)
		}
		favorites = fileFavorites
	}

	locations := d.locations
	if locations == nil {
		path, err := cfg.StorePath()
		if err != nil {
			return err
		}
		fallback, err := config.LastLocationsPath()
		if err != nil {
			return err
		}
		locations, err = store.NewLocationStore(ctx, store.Options{
			Backend:      cfg.StoreBackend(),
			Path:         path,
			FallbackPath: fallback,
			Redis: store.RedisOptions{
				Address:  cfg.Persistence.RedisAddress,
				Password: cfg.Persistence.RedisPassword,
				DB:       cfg.Persistence.RedisDB,
				Key:      cfg.RedisKey(),
			},
		}, logger)
		if err != nil {
			return fmt.Errorf("open location store: %w", err)
		}
	}
	debouncer, err := store.OpenDebouncer(ctx, locations, cfg.FlushInterval(), logger)
	if err != nil {
		_ = locations.Close()
		return fmt.Errorf("load last locations: %w", err)
	}
	d.debouncer = debouncer

	var tunnels TunnelStatusSource
	provider := d.provider
	if provider == nil {
		client := tunneld.New(cfg.TunneldURL(), cfg.TunneldTimeout(), tunneld.WithLogger(logger))
		provider = client
		tunnels = client
	} else if source, ok := provider.(TunnelStatusSource); ok {
		tunnels = source
	}

	helper := d.transport
	if helper == nil {
		helper, err = d.openTransport()
		if err != nil {
			_ = debouncer.Close(ctx)
			return err
		}
	}

	d.channel = events.NewChannel(cfg.EventQueueSize(), logger)

	registry := device.NewRegistry(helper,
		device.WithRegistryLogger(logger),
		device.WithEstablishTimeout(cfg.EstablishTimeout()),
	)
	cache := device.NewTunnelCache(provider, cfg.TunnelTTL(), time.Now)
	retrier := device.NewRetrier(registry, cache,
		device.WithRetryPolicy(cfg.RetryAttempts(), cfg.RetryDelay()),
		device.WithTunnelRequired(cfg.TunneldRequired()),
		device.WithRetryLogger(logger),
	)
	states := device.NewLocationStates()
	keepAlive := device.NewKeepAlive(states, device.KeepAliveSender(retrier),
		device.WithKeepAliveInterval(cfg.KeepAliveInterval()),
		device.WithKeepAliveStopTimeout(cfg.StopTimeout()),
		device.WithKeepAliveLogger(logger),
	)
	d.service = device.NewService(registry, retrier, keepAlive, states,
		device.WithRecorder(debouncer),
		device.WithPublisher(d.channel),
		device.WithServiceLogger(logger),
	)

	paths := d.paths
	if paths == nil {
		paths = routing.New(cfg.RoutingURL(), cfg.RoutingTimeout(),
			routing.WithProfile(cfg.RoutingProfile()),
			routing.WithRetries(cfg.RoutingRetries()),
			routing.WithRate(cfg.RoutingRate()),
			routing.WithDisabled(cfg.RoutingDisabled()),
			routing.WithLogger(logger),
		)
	}
	d.manager = movement.NewManager(d.service, paths, d.channel,
		movement.WithTick(cfg.TickBase(), cfg.TickJitter()),
		movement.WithArrivalThreshold(cfg.ArrivalThresholdMeters()),
		movement.WithStopTimeout(cfg.StopTimeout()),
		movement.WithLogger(logger),
	)
	d.service.SetMovementStopper(d.manager)

	api := &API{
		Version:   d.version,
		Devices:   d.service,
		Movement:  d.manager,
		Tunnels:   tunnels,
		Events:    d.channel,
		Favorites: favorites,
		Shutdown:  d.Shutdown,
		Logger:    logger,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	d.handler = LoggingMiddleware(logger, TokenAuthMiddleware(d.token, mux))
	return nil
}

func (d *Daemon) openTransport() (device.Transport, error) {
	cfg := d.cfg
	switch cfg.TransportKind() {
	case config.TransportBridge:
		bridge, err := transport.NewBridge(cfg.BridgeAddress(), cfg.TransportCallTimeout(), d.logger)
		if err != nil {
			return nil, fmt.Errorf("connect transport bridge: %w", err)
		}
		d.closers = append(d.closers, bridge)
		return bridge, nil
	default:
		exec, err := transport.NewExec(cfg.TransportCommand(), cfg.TransportCallTimeout(), d.logger)
		if err != nil {
			return nil, fmt.Errorf("configure transport helper: %w", err)
		}
		return exec, nil
	}
}

// Handler is nil until Start succeeds.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.server = &http.Server{
		Addr:              d.cfg.DaemonAddress(),
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon_listening", logging.F("addr", d.server.Addr), logging.F("version", d.version))
		errCh <- d.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.Shutdown(shutdownCtx)
	case err := <-errCh:
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := d.Shutdown(closeCtx); closeErr != nil {
			d.logger.Warn("daemon_shutdown_failed", logging.Err(closeErr))
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown tears the daemon down in dependency order: the listener, every
// movement worker, keep-alives and sessions, the last-location flush, then
// the event streams. Later calls wait for the first and return its result.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		d.shutdownErr = d.shutdown(ctx)
	})
	return d.shutdownErr
}

func (d *Daemon) shutdown(ctx context.Context) error {
	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if d.manager != nil {
		d.manager.StopAll(ctx)
	}
	if d.service != nil {
		d.service.Shutdown()
	}
	if d.debouncer != nil {
		if err := d.debouncer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush last locations: %w", err))
		}
	}
	if d.channel != nil {
		d.channel.Close()
	}
	for _, closer := range d.closers {
		_ = closer.Close()
	}
	d.closers = nil
	d.logger.Info("daemon_stopped")
	return errors.Join(errs...)
}
