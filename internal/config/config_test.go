package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinayprograms/agentrun/internal/faults"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrun.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.Runner.MaxIterations != 5 {
		t.Errorf("expected max_iterations 5, got %d", cfg.Runner.MaxIterations)
	}
	if cfg.Runner.DefaultModel != "gpt-4" {
		t.Errorf("expected default model gpt-4, got %s", cfg.Runner.DefaultModel)
	}
	if cfg.Storage.Backend != "memory" || cfg.Server.Addr != ":8080" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[runner]
max_iterations = 3
tool_concurrency = 8

[llm]
provider = "anthropic"
model = "claude-sonnet-4"

[profiles.gpt-4o]
provider = "openai"
api_key_env = "ALT_OPENAI_KEY"

[storage]
backend = "sqlite"
path = "audit.db"

[telemetry]
enabled = true
protocol = "http"
endpoint = "localhost:4318"

[events]
nats_url = "nats://localhost:4222"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Runner.MaxIterations != 3 || cfg.Runner.ToolConcurrency != 8 {
		t.Errorf("unexpected runner config: %+v", cfg.Runner)
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("unset keys should keep defaults, got max_tokens %d", cfg.LLM.MaxTokens)
	}
	if cfg.Events.SubjectPrefix != "agentrun.audit" {
		t.Errorf("expected default subject prefix, got %s", cfg.Events.SubjectPrefix)
	}

	t.Setenv("ALT_OPENAI_KEY", "sk-alt")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	g := cfg.GatewayFor("gpt-4o")
	if g.Provider != "openai" || g.APIKey != "sk-alt" {
		t.Errorf("profile should override provider and key: %+v", g)
	}
	g = cfg.GatewayFor("claude-sonnet-4")
	if g.Provider != "anthropic" || g.APIKey != "sk-ant" {
		t.Errorf("default gateway should use [llm]: %+v", g)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad toml":       `[runner`,
		"unknown key":    "[runner]\nmax_iters = 3\n",
		"zero iteration": "[runner]\nmax_iterations = 0\n",
		"bad backend":    "[storage]\nbackend = \"redis\"\n",
		"missing path":   "[storage]\nbackend = \"file\"\n",
		"bad protocol":   "[telemetry]\nprotocol = \"udp\"\n",
		"bad level":      "[log]\nlevel = \"loud\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !faults.IsConfiguration(err) {
				t.Errorf("expected configuration error, got %T: %v", err, err)
			}
		})
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Runner.MaxIterations != 5 {
		t.Error("expected defaults when no config file exists")
	}
}

func TestDefaultAPIKeyEnv(t *testing.T) {
	if DefaultAPIKeyEnv("anthropic") != "ANTHROPIC_API_KEY" {
		t.Error("anthropic key env")
	}
	if !strings.HasPrefix(DefaultAPIKeyEnv("openai"), "OPENAI") {
		t.Error("openai key env")
	}
	if DefaultAPIKeyEnv("mock") != "" {
		t.Error("mock needs no key")
	}
}
