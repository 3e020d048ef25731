// Package transport opens device sessions by speaking line-delimited
// JSON-RPC to a helper that owns the device-side protocol. The helper runs
// either as a child process (Exec) or behind a multiplexed TCP bridge
// (Bridge). Every session starts with an "open" call naming the device and
// its connection parameters, followed by "set_location" and
// "clear_location" calls.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"locsim/internal/logging"
)

var ErrConnClosed = errors.New("helper connection closed")

type rpcMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcConn multiplexes concurrent calls over one stream by request id.
type rpcConn struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	logger logging.Logger
	nextID atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int]chan rpcMessage
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

func newRPCConn(rw io.ReadWriteCloser, logger logging.Logger) *rpcConn {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &rpcConn{
		rw:      rw,
		reader:  bufio.NewReader(rw),
		logger:  logger,
		pending: map[int]chan rpcMessage{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *rpcConn) call(ctx context.Context, method string, params any, out any) error {
	id := int(c.nextID.Add(1))
	reply := make(chan rpcMessage, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	start := time.Now()
	if err := c.send(map[string]any{"id": id, "method": method, "params": params}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		c.logger.Warn("helper_call_timeout", logging.F("request_id", id), logging.F("method", method))
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	case msg := <-reply:
		if c.logger.Enabled(logging.Debug) {
			c.logger.Debug("helper_response",
				logging.F("request_id", id),
				logging.F("method", method),
				logging.F("latency_ms", time.Since(start).Milliseconds()),
			)
		}
		if msg.Error != nil {
			return msg.Error
		}
		if out != nil && len(msg.Result) > 0 {
			return json.Unmarshal(msg.Result, out)
		}
		return nil
	}
}

func (c *rpcConn) send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.rw.Write(data); err != nil {
		c.fail(err)
		return fmt.Errorf("write to helper: %w", err)
	}
	return nil
}

func (c *rpcConn) readLoop() {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("helper_read_error", logging.Err(err))
			}
			c.fail(err)
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("helper_parse_error", logging.Err(err))
			continue
		}
		if msg.ID == nil {
			c.logger.Debug("helper_notification", logging.F("method", msg.Method))
			continue
		}
		c.mu.Lock()
		reply := c.pending[*msg.ID]
		c.mu.Unlock()
		if reply != nil {
			select {
			case reply <- msg:
			default:
			}
		}
	}
}

func (c *rpcConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrConnClosed
		}
		c.err = err
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.rw.Close()
	})
}

func (c *rpcConn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrConnClosed
	}
	return c.err
}

func (c *rpcConn) Close() error {
	c.fail(ErrConnClosed)
	return nil
}
