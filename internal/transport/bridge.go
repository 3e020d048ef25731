package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"locsim/internal/device"
	"locsim/internal/logging"
	"locsim/internal/types"
)

// Bridge reaches a remote helper over one TCP connection, opening a yamux
// stream per device session. The connection is redialed when it dies.
type Bridge struct {
	address     string
	callTimeout time.Duration
	logger      logging.Logger
	dialer      net.Dialer

	mu      sync.Mutex
	session *yamux.Session
	closed  bool
}

func NewBridge(address string, callTimeout time.Duration, logger logging.Logger) (*Bridge, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("bridge address is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bridge{
		address:     address,
		callTimeout: callTimeout,
		logger:      logger,
		dialer:      net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second},
	}, nil
}

func yamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.EnableKeepAlive = true
	config.KeepAliveInterval = 15 * time.Second
	config.ConnectionWriteTimeout = 10 * time.Second
	config.LogOutput = io.Discard
	return config
}

func (b *Bridge) Establish(ctx context.Context, deviceID string, params *types.TunnelInfo) (device.Capability, error) {
	sess, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStream()
	if err != nil {
		b.drop(sess)
		return nil, fmt.Errorf("open bridge stream: %w", err)
	}
	logger := b.logger.With(logging.Device(deviceID), logging.F("stream", stream.StreamID()))
	conn := newRPCConn(stream, logger)
	return openSession(ctx, conn, deviceID, params, b.callTimeout, nil)
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	return err
}

func (b *Bridge) connect(ctx context.Context) (*yamux.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("bridge closed")
	}
	if b.session != nil && !b.session.IsClosed() {
		return b.session, nil
	}
	conn, err := b.dialer.DialContext(ctx, "tcp", b.address)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", b.address, err)
	}
	sess, err := yamux.Client(conn, yamuxConfig())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create yamux client: %w", err)
	}
	b.session = sess
	b.logger.Info("bridge_connected", logging.F("addr", b.address))
	return sess, nil
}

func (b *Bridge) drop(sess *yamux.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == sess {
		_ = sess.Close()
		b.session = nil
	}
}
