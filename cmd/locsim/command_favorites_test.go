package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"locsim/internal/types"
)

func TestFavoritesCommandListIsDefault(t *testing.T) {
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{favorites: []types.Favorite{
		{Latitude: 37.3349, Longitude: -122.009, Name: "Apple Park"},
		{Latitude: -33.8568, Longitude: 151.2153, Name: "Opera House"},
	}}
	cmd := NewFavoritesCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run(nil); err != nil {
		t.Fatalf("favorites: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "Opera House") || !strings.Contains(out, "37.334900,-122.009000") {
		t.Fatalf("unexpected table: %q", out)
	}
	if fake.ensureDaemonCalls != 1 {
		t.Fatalf("expected ensure daemon once, got %d", fake.ensureDaemonCalls)
	}

	stdout.Reset()
	if err := cmd.Run([]string{"--json"}); err != nil {
		t.Fatalf("favorites --json: %v", err)
	}
	var decoded []types.Favorite
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded) != 2 || decoded[1].Name != "Opera House" {
		t.Fatalf("unexpected json favorites %+v", decoded)
	}
}

func TestFavoritesCommandAdd(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want types.Favorite
	}{
		{name: "positional", args: []string{"add", "37.3349,-122.009", "--name", "Apple Park"}, want: types.Favorite{Latitude: 37.3349, Longitude: -122.009, Name: "Apple Park"}},
		{name: "flags", args: []string{"add", "--lat", "-33.8568", "--lon", "151.2153"}, want: types.Favorite{Latitude: -33.8568, Longitude: 151.2153, Name: "unnamed"}},
		{name: "negative-positional", args: []string{"add", "--name", "south", "--", "-33.8568,151.2153"}, want: types.Favorite{Latitude: -33.8568, Longitude: 151.2153, Name: "south"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			fake := &fakeCommandClient{}
			if err := NewFavoritesCommand(stdout, &bytes.Buffer{}, fixedFactory(fake)).Run(tc.args); err != nil {
				t.Fatalf("favorites add: %v", err)
			}
			if len(fake.favorites) != 1 || fake.favorites[0] != tc.want {
				t.Fatalf("unexpected favorites: %#v", fake.favorites)
			}
			if !strings.HasPrefix(stdout.String(), "added "+tc.want.Name) {
				t.Fatalf("unexpected stdout: %q", stdout.String())
			}
		})
	}
}

func TestFavoritesCommandRejectsInvalidInput(t *testing.T) {
	fake := &fakeCommandClient{}
	cmd := NewFavoritesCommand(&bytes.Buffer{}, &bytes.Buffer{}, fixedFactory(fake))
	for _, args := range [][]string{
		{"add"},
		{"add", "91,0"},
		{"add", "--lat", "0", "--lon", "181"},
		{"add", "--lat", "north", "--lon", "1"},
		{"rename", "0"},
		{"rename", "x", "home"},
		{"delete"},
		{"delete", "-1"},
		{"import"},
		{"bogus"},
	} {
		if err := cmd.Run(args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	if fake.ensureDaemonCalls != 0 || len(fake.favorites) != 0 {
		t.Fatalf("invalid input must not reach the daemon")
	}
}

func TestFavoritesCommandRenameAndDelete(t *testing.T) {
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{favorites: []types.Favorite{
		{Latitude: 1, Longitude: 1, Name: "one"},
		{Latitude: 2, Longitude: 2, Name: "two"},
	}}
	cmd := NewFavoritesCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run([]string{"rename", "1", "second", "place"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if fake.favorites[1].Name != "second place" {
		t.Fatalf("unexpected rename: %+v", fake.favorites)
	}
	if err := cmd.Run([]string{"delete", "0"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.favorites) != 1 || fake.favorites[0].Name != "second place" {
		t.Fatalf("unexpected favorites after delete: %+v", fake.favorites)
	}
	if err := cmd.Run([]string{"delete", "5"}); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestFavoritesCommandImportSendsFileContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favorites.txt")
	content := "37.3349,-122.009,Apple Park\n-33.8568,151.2153,Opera House\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	stdout := &bytes.Buffer{}
	fake := &fakeCommandClient{}
	cmd := NewFavoritesCommand(stdout, &bytes.Buffer{}, fixedFactory(fake))

	if err := cmd.Run([]string{"import", path}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(fake.imports) != 1 || fake.imports[0] != content {
		t.Fatalf("unexpected import content: %q", fake.imports)
	}
	if strings.TrimSpace(stdout.String()) != "imported 2 favorites" {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
	if err := cmd.Run([]string{"import", filepath.Join(t.TempDir(), "missing.txt")}); err == nil {
		t.Fatalf("expected missing file error")
	}
}
