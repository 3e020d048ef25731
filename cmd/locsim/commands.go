package main

import (
	"io"
	"os"
)

type commandRunner interface {
	Run(args []string) error
}

type commandWiring struct {
	stdout     io.Writer
	stderr     io.Writer
	newClient  clientFactory
	runDaemon  func(background bool) error
	killDaemon func() error
	version    string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		newClient: newLocsimClient,
		runDaemon: runDaemonProcess,
		killDaemon: func() error {
			return killDaemonWithFactory(newLocsimClient)
		},
		version: buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	out, errOut, factory := wiring.stdout, wiring.stderr, wiring.newClient
	return map[string]commandRunner{
		"daemon":     NewDaemonCommand(errOut, wiring.runDaemon, wiring.killDaemon),
		"config":     NewConfigCommand(out, errOut),
		"token":      NewTokenCommand(out, errOut),
		"devices":    NewDevicesCommand(out, errOut, factory),
		"status":     NewStatusCommand(out, errOut, factory),
		"set":        NewSetCommand(out, errOut, factory),
		"clear":      NewClearCommand(out, errOut, factory),
		"last":       NewLastCommand(out, errOut, factory),
		"disconnect": NewDisconnectCommand(out, errOut, factory),
		"cruise":     NewCruiseCommand(out, errOut, factory),
		"route":      NewRouteCommand(out, errOut, factory),
		"pause":      NewPauseCommand(out, errOut, factory),
		"resume":     NewResumeCommand(out, errOut, factory),
		"stop":       NewStopCommand(out, errOut, factory),
		"speed":      NewSpeedCommand(out, errOut, factory),
		"tunnel":     NewTunnelCommand(out, errOut, factory),
		"events":     NewEventsCommand(out, errOut, factory),
		"favorites":  NewFavoritesCommand(out, errOut, factory),
	}
}
