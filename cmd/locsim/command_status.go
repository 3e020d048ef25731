package main

import (
	"context"
	"io"

	"github.com/spf13/pflag"
)

type DevicesCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewDevicesCommand(stdout, stderr io.Writer, newClient clientFactory) *DevicesCommand {
	return &DevicesCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *DevicesCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("devices", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
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
	devices, err := client.Devices(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(c.stdout, devices)
	}
	printDevices(c.stdout, devices)
	return nil
}

type StatusCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewStatusCommand(stdout, stderr io.Writer, newClient clientFactory) *StatusCommand {
	return &StatusCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *StatusCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("status", fs.Args())
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
	status, err := client.Device(ctx, deviceID)
	if err != nil {
		return err
	}
	return printJSON(c.stdout, status)
}

type TunnelCommand struct {
	stdout    io.Writer
	stderr    io.Writer
	newClient clientFactory
}

func NewTunnelCommand(stdout, stderr io.Writer, newClient clientFactory) *TunnelCommand {
	return &TunnelCommand{stdout: stdout, stderr: stderr, newClient: newClient}
}

func (c *TunnelCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("tunnel", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	deviceID, err := requireDevice("tunnel", fs.Args())
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
	state, err := client.Tunnel(ctx, deviceID)
	if err != nil {
		return err
	}
	return printJSON(c.stdout, state)
}
