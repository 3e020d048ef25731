// Package routing finds walkable paths between waypoints using a Brouter
// server. When the server cannot answer, a straight line stands in so a
// route can always start.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"locsim/internal/geo"
	"locsim/internal/logging"
	"locsim/internal/types"
)

const (
	DefaultURL     = "https://brouter.de/brouter"
	DefaultProfile = "trekking"
	DefaultRetries = 3
)

type Brouter struct {
	baseURL  string
	profile  string
	retries  int
	disabled bool
	http     *http.Client
	limiter  *rate.Limiter
	logger   logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Brouter)

func WithProfile(profile string) Option {
	return func(b *Brouter) {
		if profile = strings.TrimSpace(profile); profile != "" {
			b.profile = profile
		}
	}
}

func WithRetries(retries int) Option {
	return func(b *Brouter) {
		if retries > 0 {
			b.retries = retries
		}
	}
}

// WithRate caps outgoing requests per second. Zero or less removes the cap.
func WithRate(perSecond float64) Option {
	return func(b *Brouter) {
		if perSecond <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(b *Brouter) {
		if client != nil {
			b.http = client
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(b *Brouter) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Brouter) {
		if sleep != nil {
			b.sleep = sleep
		}
	}
}

// WithDisabled skips the server entirely; every segment is a straight line.
func WithDisabled(disabled bool) Option {
	return func(b *Brouter) {
		b.disabled = disabled
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Brouter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &Brouter{
		baseURL: baseURL,
		profile: DefaultProfile,
		retries: DefaultRetries,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		logger:  logging.Nop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Route returns the path from one waypoint to the next. Server failures
// produce a straight-line segment flagged IsFallback; only a cancelled
// context is reported as an error.
func (b *Brouter) Route(ctx context.Context, from, to types.Coordinate) (types.RouteSegment, error) {
	if !b.disabled {
		path, err := b.fetch(ctx, from, to)
		if err != nil && ctx.Err() != nil {
			return types.RouteSegment{}, ctx.Err()
		}
		if err == nil {
			distance := geo.PathLengthKm(path)
			b.logger.Info("route_found",
				logging.F("points", len(path)),
				logging.F("distance_km", distance),
			)
			return types.RouteSegment{Path: path, DistanceKm: distance}, nil
		}
		b.logger.Warn("route_fallback", logging.Err(err))
	}
	return StraightLine(from, to), nil
}

// StraightLine is the two-point fallback segment.
func StraightLine(from, to types.Coordinate) types.RouteSegment {
	return types.RouteSegment{
		Path:       []types.Coordinate{from, to},
		DistanceKm: geo.DistanceKm(from, to),
		IsFallback: true,
	}
}

type geoJSON struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

var errEmptyRoute = errors.New("brouter returned no coordinates")

// fetch retries transport and HTTP failures with exponential backoff. An
// empty answer is final: the server has no path between the points.
func (b *Brouter) fetch(ctx context.Context, from, to types.Coordinate) ([]types.Coordinate, error) {
	var lastErr error
	for attempt := 0; attempt < b.retries; attempt++ {
		if attempt > 0 {
			if err := b.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				return nil, err
			}
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		path, err := b.request(ctx, from, to)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, errEmptyRoute) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		b.logger.Warn("route_request_failed",
			logging.F("attempt", attempt+1),
			logging.F("max_attempts", b.retries),
			logging.Err(err),
		)
	}
	return nil, lastErr
}

func (b *Brouter) request(ctx context.Context, from, to types.Coordinate) ([]types.Coordinate, error) {
	query := url.Values{}
	query.Set("lonlats", fmt.Sprintf("%f,%f|%f,%f", from.Longitude, from.Latitude, to.Longitude, to.Latitude))
	query.Set("profile", b.profile)
	query.Set("alternativeidx", "0")
	query.Set("format", "geojson")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("brouter http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var doc geoJSON
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode brouter response: %w", err)
	}
	if len(doc.Features) == 0 {
		return nil, errEmptyRoute
	}
	path := make([]types.Coordinate, 0, len(doc.Features[0].Geometry.Coordinates))
	for _, point := range doc.Features[0].Geometry.Coordinates {
		if len(point) < 2 {
			continue
		}
		// GeoJSON positions are [lon, lat(, elevation)].
		path = append(path, types.Coordinate{Latitude: point[1], Longitude: point[0]})
	}
	if len(path) < 2 {
		return nil, errEmptyRoute
	}
	return path, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
