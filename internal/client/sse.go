package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const eventBuffer = 256

var (
	streamLogger     logging.Logger
	streamLoggerOnce sync.Once
)

// streamDebugLogger writes stream diagnostics to stderr when
// LOCSIM_STREAM_DEBUG=1, and discards them otherwise.
func streamDebugLogger() logging.Logger {
	streamLoggerOnce.Do(func() {
		if strings.TrimSpace(os.Getenv("LOCSIM_STREAM_DEBUG")) != "1" {
			streamLogger = logging.Nop()
			return
		}
		streamLogger = logging.New(os.Stderr, logging.Debug).With(logging.F("component", "event_stream"))
	})
	return streamLogger
}

func (c *Client) eventsURL(scheme, path, deviceID string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	if scheme != "" {
		base.Scheme = scheme
	}
	base.Path = strings.TrimRight(base.Path, "/") + path
	query := url.Values{}
	if deviceID = strings.TrimSpace(deviceID); deviceID != "" {
		query.Set("device", deviceID)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

// Events follows the daemon's server-sent event stream. An empty deviceID
// subscribes to every device. The channel closes when the stream ends or
// stop is called.
func (c *Client) Events(ctx context.Context, deviceID string) (<-chan types.Event, func(), error) {
	if err := c.ensureToken(); err != nil {
		return nil, nil, err
	}
	target, err := c.eventsURL("", "/v1/events", deviceID)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	logger := streamDebugLogger()
	logger.Debug("stream_open", logging.F("url", target))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		logger.Debug("stream_error", logging.F("status", resp.StatusCode))
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan types.Event, eventBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		count := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var dataLines []string

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if len(dataLines) == 0 {
					continue
				}
				payload := strings.Join(dataLines, "\n")
				dataLines = dataLines[:0]
				var event types.Event
				if err := json.Unmarshal([]byte(payload), &event); err != nil {
					logger.Debug("stream_decode_failed", logging.Err(err))
					continue
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
				count++
				continue
			}
			if strings.HasPrefix(line, "data:") {
				dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Debug("stream_scan_error", logging.Err(err))
		}
		logger.Debug("stream_close", logging.F("count", count), logging.F("dur", time.Since(start)))
	}()

	return ch, cancel, nil
}

// EventsSocket is Events over the WebSocket endpoint.
func (c *Client) EventsSocket(ctx context.Context, deviceID string) (<-chan types.Event, func(), error) {
	if err := c.ensureToken(); err != nil {
		return nil, nil, err
	}
	scheme := "ws"
	if strings.HasPrefix(c.baseURL, "https://") {
		scheme = "wss"
	}
	target, err := c.eventsURL(scheme, "/v1/events/ws", deviceID)
	if err != nil {
		return nil, nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, nil, decodeAPIError(resp)
		}
		return nil, nil, err
	}

	logger := streamDebugLogger()
	logger.Debug("socket_open", logging.F("url", target))
	ctx, cancel := context.WithCancel(ctx)
	stop := func() {
		cancel()
		_ = conn.Close()
	}
	ch := make(chan types.Event, eventBuffer)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(ch)
		defer stop()
		for {
			var event types.Event
			if err := conn.ReadJSON(&event); err != nil {
				logger.Debug("socket_close", logging.Err(err))
				return
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, stop, nil
}
