package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "docket.yaml")
	content := `
sandbox:
  path: /srv/cases
data_dir: /srv/data
log_level: debug

models:
  provider: anthropic
  default: claude-sonnet-4-5

anthropic:
  api_key: ${TEST_API_KEY}

embeddings:
  enabled: true
  model: custom-embed

agent:
  max_tool_iterations: 5
  provider_timeout_sec: 60
  dispatch_timeout_sec: 10
  provider_retries: 2

file_server:
  command: /usr/local/bin/docket-files
  args: ["-log-level", "debug"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Sandbox.Path != "/srv/cases" {
		t.Errorf("Sandbox.Path = %q", cfg.Sandbox.Path)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("env expansion failed: %q", cfg.Anthropic.APIKey)
	}
	if cfg.Models.Default != "claude-sonnet-4-5" || cfg.Models.Provider != "anthropic" {
		t.Errorf("models = %+v", cfg.Models)
	}
	if !cfg.Embeddings.Enabled || cfg.Embeddings.Model != "custom-embed" {
		t.Errorf("embeddings = %+v", cfg.Embeddings)
	}
	// BaseURL defaults to the Ollama URL when unset.
	if cfg.Embeddings.BaseURL != cfg.Models.OllamaURL {
		t.Errorf("Embeddings.BaseURL = %q", cfg.Embeddings.BaseURL)
	}
	if cfg.Agent.MaxToolIterations != 5 {
		t.Errorf("MaxToolIterations = %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.ProviderTimeout() != 60*time.Second {
		t.Errorf("ProviderTimeout = %v", cfg.Agent.ProviderTimeout())
	}
	if cfg.Agent.DispatchTimeout() != 10*time.Second {
		t.Errorf("DispatchTimeout = %v", cfg.Agent.DispatchTimeout())
	}
	if cfg.FileServer.Command != "/usr/local/bin/docket-files" || len(cfg.FileServer.Args) != 2 {
		t.Errorf("file_server = %+v", cfg.FileServer)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sandbox.Path != "case_files" {
		t.Errorf("Sandbox.Path = %q", cfg.Sandbox.Path)
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Models.OllamaURL != "http://localhost:11434" {
		t.Errorf("OllamaURL = %q", cfg.Models.OllamaURL)
	}
	if cfg.Agent.MaxToolIterations != 10 {
		t.Errorf("MaxToolIterations = %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.ProviderTimeout() != 120*time.Second {
		t.Errorf("ProviderTimeout = %v", cfg.Agent.ProviderTimeout())
	}
	if cfg.FileServer.Command != "docket-files" {
		t.Errorf("FileServer.Command = %q", cfg.FileServer.Command)
	}
}

func TestFindConfig(t *testing.T) {
	t.Run("explicit missing path fails", func(t *testing.T) {
		if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected an error for a missing explicit path")
		}
	})

	t.Run("explicit existing path wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		got, err := FindConfig(path)
		if err != nil {
			t.Fatal(err)
		}
		if got != path {
			t.Errorf("FindConfig = %q, want %q", got, path)
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"INFO", slog.LevelInfo, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
