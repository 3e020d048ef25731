package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"text/tabwriter"

	"locsim/internal/types"
)

const version = "dev"

func printDevices(output io.Writer, devices []types.DeviceStatus) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "DEVICE\tCONNECTED\tKIND\tLOCATION\tMOVEMENT")
	for _, dev := range devices {
		kind := "-"
		if dev.Kind != "" {
			kind = string(dev.Kind)
		}
		location := "-"
		if dev.Location != nil {
			location = formatCoordinate(dev.Location.Coordinate())
		}
		movement := "-"
		if dev.Movement != nil {
			movement = fmt.Sprintf("%s/%s", dev.Movement.Mode, dev.Movement.State)
		}
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\t%s\n", dev.DeviceID, dev.Connected, kind, location, movement)
	}
	_ = writer.Flush()
}

func printSnapshot(output io.Writer, snap *types.MovementSnapshot) {
	if snap == nil {
		return
	}
	line := fmt.Sprintf("%s %s at %s, %.1f km/h, %.3f km to go",
		snap.Mode, snap.State, formatCoordinate(snap.Location), snap.SpeedKmh, snap.RemainingKm)
	if snap.Mode == types.MovementRoute {
		line += fmt.Sprintf(", segment %d/%d", snap.SegmentIndex+1, snap.SegmentCount)
		if snap.Loop {
			line += fmt.Sprintf(", loops %d", snap.LoopsCompleted)
		}
	}
	fmt.Fprintln(output, line)
}

func printJSON(output io.Writer, value any) error {
	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func formatCoordinate(coord types.Coordinate) string {
	return strconv.FormatFloat(coord.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(coord.Longitude, 'f', 6, 64)
}

// parseCoordinate reads "lat,lon".
func parseCoordinate(raw string) (types.Coordinate, error) {
	lat, lon, ok := strings.Cut(strings.TrimSpace(raw), ",")
	if !ok {
		return types.Coordinate{}, fmt.Errorf("invalid coordinate %q: want lat,lon", raw)
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return types.Coordinate{}, fmt.Errorf("invalid latitude %q", lat)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return types.Coordinate{}, fmt.Errorf("invalid longitude %q", lon)
	}
	coord := types.Coordinate{Latitude: latitude, Longitude: longitude}
	if err := coord.Validate(); err != nil {
		return types.Coordinate{}, err
	}
	return coord, nil
}

func requireDevice(name string, args []string) (string, error) {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return "", errors.New(name + " requires a device id")
	}
	return strings.TrimSpace(args[0]), nil
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
