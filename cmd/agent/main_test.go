package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		t.Fatal(err)
	}
	return &cli, kctx
}

// execute parses args and runs the selected command with captured output.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cli, kctx := parse(t, args...)
	var out, errOut bytes.Buffer
	err := kctx.Run(&app{cli: cli, out: &out, errOut: &errOut})
	return out.String(), errOut.String(), err
}

// writeConfig writes a config using the mock gateway and a file audit
// store under a temp directory.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	auditDir := filepath.Join(dir, "audit")
	path := filepath.Join(dir, "agentrun.toml")
	body := fmt.Sprintf(`
[llm]
provider = "mock"

[storage]
backend = "file"
path = %q

[log]
level = "error"
`, auditDir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, auditDir
}

func TestRunCmd_Defaults(t *testing.T) {
	cli, _ := parse(t, "run")
	if cli.Run.File != "workspace.json" {
		t.Errorf("expected default file 'workspace.json', got %q", cli.Run.File)
	}
}

func TestRunCmd_FlagsAndInputs(t *testing.T) {
	cli, _ := parse(t, "run", "-f", "custom.yaml", "-i", "key=value", "-i", "foo=bar", "--debug", "--config", "x.toml")
	if cli.Run.File != "custom.yaml" {
		t.Errorf("expected 'custom.yaml', got %q", cli.Run.File)
	}
	if cli.Run.Input["key"] != "value" || cli.Run.Input["foo"] != "bar" {
		t.Errorf("unexpected inputs %v", cli.Run.Input)
	}
	if !cli.Debug {
		t.Error("expected --debug")
	}
	if !strings.HasSuffix(cli.Config, "x.toml") {
		t.Errorf("expected config path, got %q", cli.Config)
	}
}

func TestInspectCmd_RejectsUnknownFormat(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"inspect", "--format", "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestReplayCmd_Verbosity(t *testing.T) {
	cli, _ := parse(t, "replay", "abc", "-vv", "--cost", "3,15")
	if cli.Replay.RunID != "abc" {
		t.Errorf("expected run id abc, got %q", cli.Replay.RunID)
	}
	if cli.Replay.Verbose != 2 {
		t.Errorf("expected verbosity 2, got %d", cli.Replay.Verbose)
	}
}

func TestParseCostSpec(t *testing.T) {
	in, out, err := parseCostSpec("3, 15")
	if err != nil || in != 3 || out != 15 {
		t.Errorf("got %v %v %v", in, out, err)
	}
	for _, bad := range []string{"3", "a,1", "1,b", "1,2,3"} {
		if _, _, err := parseCostSpec(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "agent version dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestValidateCmd(t *testing.T) {
	out, _, err := execute(t, "validate", "testdata/echo.json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "greet → count") {
		t.Errorf("expected step chain in output:\n%s", out)
	}

	if _, _, err := execute(t, "validate", "testdata/missing.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestInspectCmd_Formats(t *testing.T) {
	out, _, err := execute(t, "inspect", "testdata/echo.json")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Workspace: Echo (v1)", "functions: process_text (parallel)", "Chain: greet → count"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "inspect", "testdata/echo.json", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var info workspaceInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "Echo" || len(info.Steps) != 2 || info.Functions[0].Implementation != "process_text" {
		t.Errorf("unexpected json info %+v", info)
	}

	out, _, err = execute(t, "inspect", "testdata/echo.json", "--format", "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "name: Echo") || !strings.Contains(out, "- greet") {
		t.Errorf("unexpected yaml output:\n%s", out)
	}
}

func TestFunctionsCmd(t *testing.T) {
	out, _, err := execute(t, "functions")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"process_text", "calculate_statistics", "send_notification", "fetch_data"} {
		if !strings.Contains(out, name) {
			t.Errorf("missing %s in:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "operations: array") {
		t.Errorf("expected reflected parameter types:\n%s", out)
	}
}

func TestRunReplayAndRuns(t *testing.T) {
	cfg, auditDir := writeConfig(t)

	out, _, err := execute(t, "run", "--config", cfg, "-f", "testdata/echo.json", "-i", "name=Ada")
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		RunID       string `json:"run_id"`
		Status      string `json:"status"`
		TotalTokens int    `json:"total_tokens"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, out)
	}
	if res.Status != "completed" {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if res.TotalTokens != 30 {
		t.Errorf("expected 30 tokens over two steps, got %d", res.TotalTokens)
	}
	if _, err := os.Stat(filepath.Join(auditDir, res.RunID+".jsonl")); err != nil {
		t.Errorf("expected audit file: %v", err)
	}

	out, _, err = execute(t, "replay", "--config", cfg, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{res.RunID, "Echo", "STEP", "greet", "count", "MODEL"} {
		if !strings.Contains(out, want) {
			t.Errorf("replay missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "runs", "--config", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, res.RunID) || !strings.Contains(out, "completed") {
		t.Errorf("runs output missing run:\n%s", out)
	}
}

func TestReplayCmd_MemoryBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentrun.toml")
	if err := os.WriteFile(path, []byte("[storage]\nbackend = \"memory\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, err := execute(t, "replay", "--config", path, "abc")
	if err == nil || !strings.Contains(err.Error(), "file or sqlite") {
		t.Errorf("expected durable store error, got %v", err)
	}
}
