package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"

	locsimclient "locsim/internal/client"
	"locsim/internal/types"
)

type CruiseCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewCruiseCommand(stdout, stderr io.Writer, newClient clientFactory) *CruiseCommand {
	return &CruiseCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *CruiseCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("cruise", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	to := fs.String("to", "", "target as lat,lon")
	from := fs.String("from", "", "start as lat,lon (default: last known location)")
	speed := fs.Float64("speed", 5, "speed in km/h")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("cruise", fs.Args())
	if err != nil {
		return err
	}
	if *to == "" {
		return errors.New("cruise requires --to lat,lon")
	}
	target, err := parseCoordinate(*to)
	if err != nil {
		return err
	}
	req := locsimclient.CruiseRequest{Target: &target, SpeedKmh: *speed}
	if *from != "" {
		start, err := parseCoordinate(*from)
		if err != nil {
			return err
		}
		req.Start = &start
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	snap, err := client.StartCruise(ctx, deviceID, req)
	if err != nil {
		return err
	}
	printSnapshot(c.stdout, snap)
	return nil
}

type RouteCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewRouteCommand(stdout, stderr io.Writer, newClient clientFactory) *RouteCommand {
	return &RouteCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

// Run takes waypoints from repeated -w flags followed by any trailing
// lat,lon arguments, in order.
func (c *RouteCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("route", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	waypointFlags := fs.StringArrayP("waypoint", "w", nil, "waypoint as lat,lon (repeatable)")
	speed := fs.Float64("speed", 5, "speed in km/h")
	loop := fs.Bool("loop", false, "return to the first waypoint and repeat")
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("route", fs.Args())
	if err != nil {
		return err
	}
	raw := append(append([]string{}, *waypointFlags...), fs.Args()[1:]...)
	waypoints := make([]types.Coordinate, 0, len(raw))
	for _, value := range raw {
		coord, err := parseCoordinate(value)
		if err != nil {
			return err
		}
		waypoints = append(waypoints, coord)
	}
	if len(waypoints) < 2 {
		return errors.New("route requires at least 2 waypoints")
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	snap, err := client.StartRoute(ctx, deviceID, locsimclient.RouteRequest{Waypoints: waypoints, SpeedKmh: *speed, Loop: *loop})
	if err != nil {
		return err
	}
	printSnapshot(c.stdout, snap)
	fallback := 0
	for _, seg := range snap.Segments {
		if seg.IsFallback {
			fallback++
		}
	}
	if fallback > 0 {
		fmt.Fprintf(c.stderr, "warning: %d of %d legs use straight lines (routing unavailable)\n", fallback, len(snap.Segments))
	}
	return nil
}

type SpeedCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewSpeedCommand(stdout, stderr io.Writer, newClient clientFactory) *SpeedCommand {
	return &SpeedCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *SpeedCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("speed", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("speed", fs.Args())
	if err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("speed requires a value in km/h")
	}
	speedKmh, err := strconv.ParseFloat(fs.Arg(1), 64)
	if err != nil {
		return fmt.Errorf("invalid speed %q", fs.Arg(1))
	}

	ctx := context.Background()
	client, err := c.newClient()
	if err != nil {
		return err
	}
	if err := client.EnsureDaemon(ctx); err != nil {
		return err
	}
	snap, err := client.SetSpeed(ctx, deviceID, speedKmh)
	if err != nil {
		return err
	}
	printSnapshot(c.stdout, snap)
	return nil
}
