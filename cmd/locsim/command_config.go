package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"locsim/internal/config"
	"locsim/internal/daemon"
)

const (
	configFormatJSON = "json"
	configFormatTOML = "toml"
)

type ConfigCommand struct {
	stdout io.Writer
	stderr io.Writer
}

func NewConfigCommand(stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		stdout: stdout,
		stderr: stderr,
	}
}

func (c *ConfigCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	defaults := fs.Bool("default", false, "print default config values")
	format := fs.String("format", configFormatJSON, "output format: json|toml")
	paths := fs.Bool("paths", false, "print the resolved file locations instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resolvedFormat, err := resolveConfigFormat(*format)
	if err != nil {
		return err
	}
	if *paths {
		return c.printPaths(resolvedFormat)
	}

	cfg := config.DefaultCoreConfig()
	if !*defaults {
		cfg, err = config.LoadCoreConfig()
		if err != nil {
			return err
		}
	}
	if resolvedFormat == configFormatTOML {
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = c.stdout.Write(data)
		return err
	}
	return printJSON(c.stdout, cfg)
}

type configPaths struct {
	Config    string `json:"config" toml:"config"`
	Env       string `json:"env" toml:"env"`
	Token     string `json:"token" toml:"token"`
	Store     string `json:"store" toml:"store"`
	Favorites string `json:"favorites" toml:"favorites"`
}

func (c *ConfigCommand) printPaths(format string) error {
	cfg, err := config.LoadCoreConfig()
	if err != nil {
		return err
	}
	var out configPaths
	if out.Config, err = config.CoreConfigPath(); err != nil {
		return err
	}
	if out.Env, err = config.EnvPath(); err != nil {
		return err
	}
	if out.Token, err = config.TokenPath(); err != nil {
		return err
	}
	if out.Store, err = cfg.StorePath(); err != nil {
		return err
	}
	if out.Favorites, err = cfg.FavoritesFile(); err != nil {
		return err
	}
	if format == configFormatTOML {
		_, err := fmt.Fprintf(c.stdout, "config = %q\nenv = %q\ntoken = %q\nstore = %q\nfavorites = %q\n", out.Config, out.Env, out.Token, out.Store, out.Favorites)
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(data))
	return err
}

func resolveConfigFormat(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", configFormatJSON:
		return configFormatJSON, nil
	case configFormatTOML:
		return configFormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected json or toml)", raw)
	}
}

type TokenCommand struct {
	stdout io.Writer
	stderr io.Writer
}

func NewTokenCommand(stdout, stderr io.Writer) *TokenCommand {
	return &TokenCommand{stdout: stdout, stderr: stderr}
}

func (c *TokenCommand) Run(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	rotate := fs.Bool("rotate", false, "replace the token; restart the daemon to apply")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tokenPath, err := config.TokenPath()
	if err != nil {
		return err
	}
	var token string
	if *rotate {
		token, err = daemon.RotateToken(tokenPath)
	} else {
		token, err = daemon.LoadOrCreateToken(tokenPath)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	return nil
}
