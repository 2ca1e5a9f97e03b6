// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path (default: ./agentrun.toml)" type:"path"`
	Debug  bool   `help:"Enable debug logging"`

	Run       RunCmd       `cmd:"" help:"Run a workspace"`
	Validate  ValidateCmd  `cmd:"" help:"Validate a workspace and bind its functions"`
	Inspect   InspectCmd   `cmd:"" help:"Show workspace structure"`
	Functions FunctionsCmd `cmd:"" help:"List built-in functions"`
	Runs      RunsCmd      `cmd:"" help:"List stored runs"`
	Replay    ReplayCmd    `cmd:"" help:"Replay a stored run for forensic analysis"`
	Serve     ServeCmd     `cmd:"" help:"Start the HTTP API"`
	Version   VersionCmd   `cmd:"" help:"Show version information"`
}

// RunCmd executes a workspace.
type RunCmd struct {
	File  string            `short:"f" default:"workspace.json" help:"Workspace file (.json, .yaml)"`
	Input map[string]string `short:"i" help:"Input key=value (repeatable)"`
}

// ValidateCmd validates a workspace.
type ValidateCmd struct {
	File string `arg:"" optional:"" default:"workspace.json" help:"Workspace file"`
}

// InspectCmd shows workspace structure.
type InspectCmd struct {
	File   string `arg:"" optional:"" default:"workspace.json" help:"Workspace file"`
	Format string `default:"text" enum:"text,json,yaml" help:"Output format (text, json, yaml)"`
}

// FunctionsCmd lists the built-in function registry.
type FunctionsCmd struct {
	Format string `default:"text" enum:"text,json" help:"Output format (text, json)"`
}

// RunsCmd lists runs in the configured audit store.
type RunsCmd struct {
	Limit int `short:"n" default:"20" help:"Maximum runs to list"`
}

// ReplayCmd renders the audit tree of a stored run.
type ReplayCmd struct {
	RunID   string `arg:"" help:"Run id to replay"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	Width   int    `default:"100" help:"Wrap width for content blocks"`
	Cost    string `help:"Token pricing per 1M tokens: input,output" placeholder:"IN,OUT"`
}

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Addr         string `help:"Listen address (overrides server.addr)"`
	WorkspaceDir string `help:"Directory of workspace files to load (overrides server.workspace_dir)" type:"path"`
	Watch        bool   `help:"Reload workspace files when they change"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
