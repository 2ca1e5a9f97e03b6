// Package main is the entry point for the agent workspace runner.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/agentrun/internal/config"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// API keys usually come from .env during development
	_ = godotenv.Load()
}

// app is bound into every command's Run method.
type app struct {
	cli    *CLI
	out    io.Writer
	errOut io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("agent"),
		kong.Description("Run declarative agent workspaces."),
		kong.UsageOnError(),
		kongVars(),
	)
	a := &app{cli: &cli, out: os.Stdout, errOut: os.Stderr}
	if err := kctx.Run(a); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config (or ./agentrun.toml) and applies --debug.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.cli.Config)
	if err != nil {
		return nil, err
	}
	if a.cli.Debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func (c *VersionCmd) Run(a *app) error {
	fmt.Fprintf(a.out, "agent version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
