package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"locsim/internal/device"
	"locsim/internal/logging"
	"locsim/internal/types"
)

// Exec starts one helper process per device session.
type Exec struct {
	command      []string
	env          []string
	callTimeout  time.Duration
	graceTimeout time.Duration
	logger       logging.Logger
}

func NewExec(command []string, callTimeout time.Duration, logger logging.Logger) (*Exec, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("helper command is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Exec{
		command:      append([]string{}, command...),
		callTimeout:  callTimeout,
		graceTimeout: time.Second,
		logger:       logger,
	}, nil
}

// WithEnv appends environment variables passed to every helper process.
func (e *Exec) WithEnv(env ...string) *Exec {
	e.env = append(e.env, env...)
	return e
}

type processPipes struct {
	io.ReadCloser
	stdin io.WriteCloser
}

func (p processPipes) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p processPipes) Close() error {
	err := p.stdin.Close()
	_ = p.ReadCloser.Close()
	return err
}

func (e *Exec) Establish(ctx context.Context, deviceID string, params *types.TunnelInfo) (device.Capability, error) {
	cmd := exec.Command(e.command[0], e.command[1:]...)
	cmd.Env = append(os.Environ(), e.env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	logger := e.logger.With(logging.Device(deviceID), logging.F("pid", cmd.Process.Pid))
	go logStderr(stderr, logger)
	logger.Debug("helper_started", logging.F("cmd", e.command[0]))

	var waitOnce sync.Once
	release := func() error {
		waitOnce.Do(func() {
			_ = stdin.Close()
			done := make(chan struct{})
			go func() {
				_ = cmd.Wait()
				close(done)
			}()
			if !waitExit(done, e.graceTimeout) {
				logger.Debug("helper_terminate")
				_ = signalTerminate(cmd.Process)
				if !waitExit(done, e.graceTimeout) {
					logger.Warn("helper_kill")
					_ = signalKill(cmd.Process)
					<-done
				}
			}
			logger.Debug("helper_exited")
		})
		return nil
	}
	conn := newRPCConn(processPipes{ReadCloser: stdout, stdin: stdin}, logger)
	return openSession(ctx, conn, deviceID, params, e.callTimeout, release)
}

func waitExit(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func logStderr(r io.Reader, logger logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("helper_stderr", logging.F("line", scanner.Text()))
	}
}
