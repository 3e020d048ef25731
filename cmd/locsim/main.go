package main

import (
	"fmt"
	"os"
)

const usageText = `locsim drives simulated GPS locations on connected iOS devices.

Usage:
  locsim <command> [flags]

Commands:
  daemon      run the device daemon
  config      print configuration (effective or defaults)
  token       print or rotate the API token
  devices     list known devices
  status      show one device with its movement
  set         set a device location
  clear       clear the simulated location
  last        print the last known location
  disconnect  close the device session
  cruise      move in a straight line to a target
  route       follow waypoints along routed paths
  pause       pause movement
  resume      resume movement
  stop        stop movement
  speed       change movement speed
  tunnel      show tunnel broker status for a device
  events      follow the event stream
  favorites   list, add, rename, delete or import saved locations
  help        show help

Daemon flags:
  --background    run in background (logs to file)
  --force         stop any running daemon before starting
  --kill          stop any running daemon and exit

Examples:
  locsim set 00008110-001A --lat 37.3349 --lon -122.009
  locsim cruise 00008110-001A --to 37.3318,-122.0312 --speed 5
  locsim route 00008110-001A -w 37.33,-122.03 -w 37.34,-122.02 --loop
  locsim events --device 00008110-001A
  locsim favorites add 37.3349,-122.009 --name "Apple Park"
  locsim favorites import ~/favorites.txt
  locsim config --format toml
`

func printUsage() {
	fmt.Fprint(os.Stderr, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	switch args[0] {
	case "-h", "--help", "help":
		printUsage()
		return
	}

	runner, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	exitOnErr(args[0], runner.Run(args[1:]), wiring.stderr)
}
