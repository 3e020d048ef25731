package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

type EventsCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewEventsCommand(stdout, stderr io.Writer, newClient clientFactory) *EventsCommand {
	return &EventsCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

// Run prints one JSON event per line until interrupted or the daemon
// closes the stream.
func (c *EventsCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("events", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	deviceID := fs.StringP("device", "d", "", "only events for this device")
	socket := fs.Bool("ws", false, "use the WebSocket endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	follow := client.Events
	if *socket {
		follow = client.EventsSocket
	}
	events, cancel, err := follow(ctx, *deviceID)
	if err != nil {
		return err
	}
	defer cancel()

	encoder := json.NewEncoder(c.stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := encoder.Encode(evt); err != nil {
				return err
			}
		}
	}
}
