package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/agentrun/internal/functions"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

type stepInfo struct {
	ID               string   `json:"id" yaml:"id"`
	Model            string   `json:"model,omitempty" yaml:"model,omitempty"`
	Functions        []string `json:"functions,omitempty" yaml:"functions,omitempty"`
	Parallel         bool     `json:"parallel" yaml:"parallel"`
	PassConversation bool     `json:"pass_conversation" yaml:"pass_conversation"`
	Messages         int      `json:"messages" yaml:"messages"`
	NextStep         string   `json:"next_step" yaml:"next_step"`
}

type paramInfo struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type functionInfo struct {
	Name           string      `json:"name" yaml:"name"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	Implementation string      `json:"implementation" yaml:"implementation"`
	Parameters     []paramInfo `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type workspaceInfo struct {
	Name      string         `json:"name" yaml:"name"`
	Version   string         `json:"version,omitempty" yaml:"version,omitempty"`
	Chain     []string       `json:"chain" yaml:"chain"`
	Steps     []stepInfo     `json:"steps" yaml:"steps"`
	Functions []functionInfo `json:"functions,omitempty" yaml:"functions,omitempty"`
}

func describe(ws *workspace.Workspace) workspaceInfo {
	info := workspaceInfo{Name: ws.Name, Version: ws.Version, Chain: ws.Chain()}
	for _, id := range ws.StepOrder {
		s := ws.Steps[id]
		info.Steps = append(info.Steps, stepInfo{
			ID:               s.ID,
			Model:            s.Model,
			Functions:        s.Functions,
			Parallel:         s.RunFunctionsInParallel,
			PassConversation: s.PassConversationToNextStep,
			Messages:         len(s.Chat),
			NextStep:         s.NextStep,
		})
	}
	for _, name := range ws.FuncOrder {
		f := ws.Functions[name]
		fi := functionInfo{Name: f.Name, Description: f.Description, Implementation: f.ImplementationName()}
		for _, p := range f.Parameters {
			fi.Parameters = append(fi.Parameters, paramInfo{Name: p.Name, Type: p.Type, Description: p.Description})
		}
		info.Functions = append(info.Functions, fi)
	}
	return info
}

func (c *InspectCmd) Run(a *app) error {
	ws, err := workspace.LoadFile(c.File)
	if err != nil {
		return err
	}
	info := describe(ws)

	switch c.Format {
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(info)
	default:
		printWorkspaceInfo(a.out, info)
		return nil
	}
}

func printWorkspaceInfo(w io.Writer, info workspaceInfo) {
	fmt.Fprintf(w, "Workspace: %s", info.Name)
	if info.Version != "" {
		fmt.Fprintf(w, " (%s)", info.Version)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Steps:")
	for i, s := range info.Steps {
		fmt.Fprintf(w, "  %d. %s", i+1, s.ID)
		if s.Model != "" {
			fmt.Fprintf(w, " [%s]", s.Model)
		}
		fmt.Fprintf(w, " → %s\n", s.NextStep)
		if len(s.Functions) > 0 {
			mode := "sequential"
			if s.Parallel {
				mode = "parallel"
			}
			fmt.Fprintf(w, "     functions: %s (%s)\n", strings.Join(s.Functions, ", "), mode)
		}
		if s.PassConversation {
			fmt.Fprintln(w, "     passes conversation to next step")
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Chain: %s\n", strings.Join(info.Chain, " → "))

	if len(info.Functions) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Functions:")
		for _, f := range info.Functions {
			fmt.Fprintf(w, "  - %s", f.Name)
			if f.Implementation != f.Name {
				fmt.Fprintf(w, " (implemented by %s)", f.Implementation)
			}
			fmt.Fprintln(w)
			if f.Description != "" {
				fmt.Fprintf(w, "      %s\n", f.Description)
			}
			for _, p := range f.Parameters {
				fmt.Fprintf(w, "      %s: %s\n", p.Name, p.Type)
			}
		}
	}
}

func (c *FunctionsCmd) Run(a *app) error {
	reg := functions.NewBuiltinRegistry()
	names := reg.Names()

	if c.Format == "json" {
		out := make([]map[string]interface{}, 0, len(names))
		for _, name := range names {
			f, _ := reg.Lookup(name)
			out = append(out, map[string]interface{}{
				"name":        f.Name,
				"description": f.Description,
				"schema":      f.Schema,
			})
		}
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, name := range names {
		f, _ := reg.Lookup(name)
		fmt.Fprintf(a.out, "%s\n", f.Name)
		if f.Description != "" {
			fmt.Fprintf(a.out, "    %s\n", f.Description)
		}
		types := functions.ParamTypes(f.Schema)
		params := make([]string, 0, len(types))
		for p := range types {
			params = append(params, p)
		}
		sort.Strings(params)
		for _, p := range params {
			fmt.Fprintf(a.out, "    %s: %s\n", p, types[p])
		}
	}
	return nil
}
