// Package config handles docket configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./docket.yaml, ~/.config/docket/docket.yaml, /etc/docket/docket.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"docket.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "docket", "docket.yaml"))
	}

	paths = append(paths, "/etc/docket/docket.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all docket configuration.
type Config struct {
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Agent      AgentConfig      `yaml:"agent"`
	FileServer FileServerConfig `yaml:"file_server"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// SandboxConfig defines the directory all file operations are confined to.
type SandboxConfig struct {
	// Path is the sandbox root. Created on startup if missing.
	Path string `yaml:"path"`
}

// ModelsConfig defines completion provider routing.
type ModelsConfig struct {
	// Default is the model used for completions (e.g. "claude-sonnet-4-5"
	// or an Ollama model name like "llama3.1").
	Default string `yaml:"default"`
	// Provider selects the completion backend: "anthropic" or "ollama".
	// Empty means anthropic when an API key is configured, ollama otherwise.
	Provider  string `yaml:"provider"`
	OllamaURL string `yaml:"ollama_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// EmbeddingsConfig defines embedding generation for the semantic index.
// When disabled, the index falls back to keyword matching.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // e.g. "nomic-embed-text"
	BaseURL string `yaml:"baseurl"` // defaults to models.ollama_url
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	// MaxToolIterations caps provider rounds per turn. Default 10.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// ProviderTimeoutSec bounds each completion call. Default 120.
	ProviderTimeoutSec int `yaml:"provider_timeout_sec"`
	// DispatchTimeoutSec bounds each capability dispatch. Default 30.
	DispatchTimeoutSec int `yaml:"dispatch_timeout_sec"`
	// ProviderRetries is the number of extra attempts after a failed
	// completion call. Default 1.
	ProviderRetries int `yaml:"provider_retries"`
}

// FileServerConfig defines how the capability server subprocess is launched.
type FileServerConfig struct {
	// Command is the server executable. Default "docket-files".
	Command string `yaml:"command"`
	// Args are extra command-line arguments.
	Args []string `yaml:"args"`
}

// ProviderTimeout returns the completion call timeout.
func (a AgentConfig) ProviderTimeout() time.Duration {
	if a.ProviderTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(a.ProviderTimeoutSec) * time.Second
}

// DispatchTimeout returns the per-tool-dispatch timeout.
func (a AgentConfig) DispatchTimeout() time.Duration {
	if a.DispatchTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.DispatchTimeoutSec) * time.Second
}

// Load reads configuration from a YAML file. Environment variables in
// the file (e.g. ${ANTHROPIC_API_KEY}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Sandbox.Path == "" {
		c.Sandbox.Path = "case_files"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	c.Sandbox.Path = expandHome(c.Sandbox.Path)
	c.DataDir = expandHome(c.DataDir)
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "llama3.1"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.Agent.MaxToolIterations <= 0 {
		c.Agent.MaxToolIterations = 10
	}
	if c.Agent.ProviderRetries < 0 {
		c.Agent.ProviderRetries = 0
	}
	if c.FileServer.Command == "" {
		c.FileServer.Command = "docket-files"
	}
}

// expandHome resolves a leading ~ to the user's home directory. Paths
// without one pass through unchanged, as do paths like ~user which
// os.UserHomeDir cannot resolve.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
