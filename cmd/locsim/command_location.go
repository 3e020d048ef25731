package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"

	"locsim/internal/types"
)

type SetCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewSetCommand(stdout, stderr io.Writer, newClient clientFactory) *SetCommand {
	return &SetCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

// Run accepts either --lat/--lon or a trailing "lat,lon" argument.
func (c *SetCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("set", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	lat := fs.String("lat", "", "latitude in degrees")
	lon := fs.String("lon", "", "longitude in degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("set", fs.Args())
	if err != nil {
		return err
	}
	var coord types.Coordinate
	switch {
	case *lat != "" || *lon != "":
		latitude, err := strconv.ParseFloat(*lat, 64)
		if err != nil {
			return fmt.Errorf("invalid --lat %q", *lat)
		}
		longitude, err := strconv.ParseFloat(*lon, 64)
		if err != nil {
			return fmt.Errorf("invalid --lon %q", *lon)
		}
		coord = types.Coordinate{Latitude: latitude, Longitude: longitude}
	case fs.NArg() >= 2:
		coord, err = parseCoordinate(fs.Arg(1))
		if err != nil {
			return err
		}
	default:
		return errors.New("set requires --lat and --lon, or a lat,lon argument")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	resp, err := client.SetLocation(ctx, deviceID, coord)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, formatCoordinate(types.Coordinate{Latitude: resp.Latitude, Longitude: resp.Longitude}))
	return nil
}

type LastCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewLastCommand(stdout, stderr io.Writer, newClient clientFactory) *LastCommand {
	return &LastCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *LastCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("last", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("last", fs.Args())
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	resp, ok, err := client.LastLocation(ctx, deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no known location for %s", deviceID)
	}
	fmt.Fprintln(c.stdout, formatCoordinate(types.Coordinate{Latitude: resp.Latitude, Longitude: resp.Longitude}))
	return nil
}

// deviceActionCommand runs one device-scoped call that takes no flags.
type deviceActionCommand struct {
	name      string
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
	action    func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error)
}

func (c *deviceActionCommand) Run(args []string) error {
	fs := pflag.NewFlagSet(c.name, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice(c.name, fs.Args())
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	snap, err := c.action(ctx, client, deviceID)
	if err != nil {
		return err
	}
	if snap != nil {
		printSnapshot(c.stdout, snap)
		return nil
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}

func NewClearCommand(stdout, stderr io.Writer, newClient clientFactory) commandRunner {
	return &deviceActionCommand{name: "clear", stdout: stdout, stderr: stderr, newClient: newClient,
		action: func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error) {
			return nil, client.ClearLocation(ctx, deviceID)
		},
	}
}

func NewDisconnectCommand(stdout, stderr io.Writer, newClient clientFactory) commandRunner {
	return &deviceActionCommand{name: "disconnect", stdout: stdout, stderr: stderr, newClient: newClient,
		action: func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error) {
			return nil, client.Disconnect(ctx, deviceID)
		},
	}
}

func NewPauseCommand(stdout, stderr io.Writer, newClient clientFactory) commandRunner {
	return &deviceActionCommand{name: "pause", stdout: stdout, stderr: stderr, newClient: newClient,
		action: func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error) {
			return client.Pause(ctx, deviceID)
		},
	}
}

func NewResumeCommand(stdout, stderr io.Writer, newClient clientFactory) commandRunner {
	return &deviceActionCommand{name: "resume", stdout: stdout, stderr: stderr, newClient: newClient,
		action: func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error) {
			return client.Resume(ctx, deviceID)
		},
	}
}

func NewStopCommand(stdout, stderr io.Writer, newClient clientFactory) commandRunner {
	return &deviceActionCommand{name: "stop", stdout: stdout, stderr: stderr, newClient: newClient,
		action: func(ctx context.Context, client commandClient, deviceID string) (*types.MovementSnapshot, error) {
			return nil, client.Stop(ctx, deviceID)
		},
	}
}
