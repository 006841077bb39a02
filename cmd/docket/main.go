// Docket is a document-processing agent for case files.
//
// It drives a completion provider (Anthropic or Ollama) through a tool
// loop whose file operations run in a sandboxed capability server
// subprocess. Conversations persist across runs in SQLite threads.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	docket chat              Start an interactive session
//	docket ask <question>    Ask a single question
//	docket index <file>      Add a document to the semantic index
//	docket search <query>    Search the semantic index
//	docket init [dir]        Initialize a working directory with defaults
//	docket version           Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/andmartins7/docket/internal/agent"
	"github.com/andmartins7/docket/internal/buildinfo"
	"github.com/andmartins7/docket/internal/capability"
	"github.com/andmartins7/docket/internal/config"
	"github.com/andmartins7/docket/internal/embeddings"
	"github.com/andmartins7/docket/internal/index"
	"github.com/andmartins7/docket/internal/llm"
	"github.com/andmartins7/docket/internal/sandbox"
	"github.com/andmartins7/docket/internal/thread"
	"github.com/andmartins7/docket/internal/tools"
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, and the surface here is
// small enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	// Secrets like ANTHROPIC_API_KEY may live in a .env next to the
	// config. Absence is not an error.
	_ = godotenv.Load()

	var configPath string
	var threadID string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-thread" && i+1 < len(args):
			threadID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-thread="):
			threadID = strings.TrimPrefix(args[i], "-thread=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		if threadID == "" {
			threadID = "main"
		}
		return runChat(ctx, stdin, stdout, stderr, configPath, threadID)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: docket ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "index":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: docket index <file>")
		}
		return runIndex(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "search":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: docket search <query>")
		}
		return runSearch(ctx, stdout, stderr, configPath, strings.Join(cmdArgs, " "))
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Docket - Case File Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: docket [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat           Start an interactive session")
	fmt.Fprintln(w, "  ask            Ask a single question")
	fmt.Fprintln(w, "  index <file>   Add a document to the semantic index")
	fmt.Fprintln(w, "  search <query> Search the semantic index")
	fmt.Fprintln(w, "  init [dir]     Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -thread <id>      Conversation thread for chat (default: main)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./docket.yaml, ~/.config/docket/docket.yaml, /etc/docket/docket.yaml")
	return nil
}

// session bundles everything a conversation needs, so chat and ask can
// share one boot path.
type session struct {
	loop    *agent.Loop
	threads *thread.Store
	files   *capability.Client
}

func (s *session) Close() {
	if s.files != nil {
		_ = s.files.Close()
	}
	if s.threads != nil {
		_ = s.threads.Close()
	}
}

// bootSession opens the thread store, launches the capability server
// subprocess, and wires the completion provider and tool registry into
// an orchestration loop.
func bootSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	threads, err := thread.Open(filepath.Join(cfg.DataDir, "threads.db"))
	if err != nil {
		return nil, fmt.Errorf("open thread store: %w", err)
	}

	transport := capability.NewStdioTransport(capability.StdioConfig{
		Command: cfg.FileServer.Command,
		Args:    fileServerArgs(cfg),
		Logger:  logger,
	})
	files := capability.NewClient(transport, logger)

	ops, err := files.Handshake(ctx)
	if err != nil {
		files.Close()
		threads.Close()
		return nil, fmt.Errorf("capability server handshake: %w", err)
	}
	logger.Debug("capability operations", "ops", ops)

	llmClient, err := newLLMClient(cfg, logger)
	if err != nil {
		files.Close()
		threads.Close()
		return nil, err
	}

	registry := tools.NewRegistry(files)

	loop := agent.New(logger, threads, llmClient, registry, agent.Config{
		Model:             cfg.Models.Default,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		ProviderTimeout:   cfg.Agent.ProviderTimeout(),
		DispatchTimeout:   cfg.Agent.DispatchTimeout(),
		ProviderRetries:   cfg.Agent.ProviderRetries,
	})

	return &session{loop: loop, threads: threads, files: files}, nil
}

// fileServerArgs derives the subprocess command line from config, so
// the server sees the same sandbox and index settings as the agent.
func fileServerArgs(cfg *config.Config) []string {
	args := []string{
		"-dir", cfg.Sandbox.Path,
		"-data", cfg.DataDir,
	}
	if cfg.Embeddings.Enabled {
		args = append(args,
			"-embeddings-url", cfg.Embeddings.BaseURL,
			"-embeddings-model", cfg.Embeddings.Model,
		)
	}
	if cfg.LogLevel != "" {
		args = append(args, "-log-level", cfg.LogLevel)
	}
	return append(args, cfg.FileServer.Args...)
}

// newLLMClient selects the completion provider. An explicit provider
// setting wins; otherwise an Anthropic key means Anthropic, and Ollama
// is the fallback.
func newLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	provider := cfg.Models.Provider
	if provider == "" {
		if cfg.Anthropic.APIKey != "" {
			provider = "anthropic"
		} else {
			provider = "ollama"
		}
	}

	switch provider {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but no API key configured")
		}
		logger.Info("completion provider", "provider", "anthropic", "model", cfg.Models.Default)
		return llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger), nil
	case "ollama":
		logger.Info("completion provider", "provider", "ollama", "model", cfg.Models.Default, "url", cfg.Models.OllamaURL)
		return llm.NewOllamaClient(cfg.Models.OllamaURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q (expected anthropic or ollama)", provider)
	}
}

// runChat handles "docket chat": a line-oriented REPL over a persistent
// thread. The conversation resumes where it left off.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, threadID string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	sess, err := bootSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	history, err := sess.threads.Messages(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	fmt.Fprintf(stdout, "docket %s, thread %q (%d prior messages). Type 'exit' to quit.\n",
		buildinfo.Version, threadID, len(history))

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		reply, err := sess.loop.Advance(ctx, threadID, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply.Content)
	}
}

// runAsk handles "docket ask <question>": one question on a throwaway
// thread, answer on stdout.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	sess, err := bootSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	// A fresh thread per invocation keeps one-shots out of the main
	// conversation history.
	id, _ := uuid.NewV7()
	threadID := "ask-" + id.String()

	reply, err := sess.loop.Advance(ctx, threadID, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply.Content)
	return nil
}

// runIndex and runSearch go through an in-process capability server
// rather than the subprocess: same code path, no process management.
func runIndex(ctx context.Context, stdout, stderr io.Writer, configPath, filename string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	files, cleanup, err := localFilesClient(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	text, isErr, err := files.Call(ctx, capability.OpIndexFile, map[string]any{"filename": filename})
	if err != nil {
		return err
	}
	if isErr {
		return fmt.Errorf("index: %s", text)
	}
	fmt.Fprintln(stdout, text)
	return nil
}

func runSearch(ctx context.Context, stdout, stderr io.Writer, configPath, query string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	files, cleanup, err := localFilesClient(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	text, isErr, err := files.Call(ctx, capability.OpSearch, map[string]any{"query": query})
	if err != nil {
		return err
	}
	if isErr {
		return fmt.Errorf("search: %s", text)
	}
	fmt.Fprintln(stdout, text)
	return nil
}

// localFilesClient builds a capability client over an in-process server
// for the index and search subcommands.
func localFilesClient(cfg *config.Config, logger *slog.Logger) (*capability.Client, func(), error) {
	dir, err := sandbox.New(cfg.Sandbox.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open sandbox: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	var embedder index.Embedder
	if cfg.Embeddings.Enabled {
		embedder = embeddings.New(embeddings.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
		logger.Info("embeddings enabled", "model", cfg.Embeddings.Model)
	}

	idx, err := index.Open(filepath.Join(cfg.DataDir, "index.db"), embedder, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}

	server := capability.NewServer(dir, idx, capability.ServerConfig{Version: buildinfo.Version}, logger)
	client := capability.NewClient(capability.NewLocalTransport(server), logger)

	cleanup := func() {
		_ = client.Close()
		_ = idx.Close()
	}
	return client, cleanup, nil
}

const defaultConfigYAML = `# Docket configuration.
# Environment variables are expanded, e.g. api_key: ${ANTHROPIC_API_KEY}

sandbox:
  path: case_files

data_dir: data
log_level: info

models:
  # provider: anthropic or ollama. Empty picks anthropic when an API
  # key is set, ollama otherwise.
  provider: ""
  default: llama3.1
  ollama_url: http://localhost:11434

anthropic:
  api_key: ${ANTHROPIC_API_KEY}

embeddings:
  enabled: false
  model: nomic-embed-text

agent:
  max_tool_iterations: 10
  provider_timeout_sec: 120
  dispatch_timeout_sec: 30
  provider_retries: 1

file_server:
  command: docket-files
`

// runInit handles "docket init [dir]": writes a starter config and
// creates the sandbox and data directories.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	cfgPath := filepath.Join(dir, "docket.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	for _, sub := range []string{"case_files", "data"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}

	fmt.Fprintf(stdout, "Initialized docket working directory in %s\n", dir)
	fmt.Fprintf(stdout, "  %s\n  %s\n  %s\n", cfgPath, filepath.Join(dir, "case_files"), filepath.Join(dir, "data"))
	return nil
}

// loadConfig finds and parses the config file. With no explicit path
// and no discoverable file, built-in defaults apply: docket runs
// zero-config against a local Ollama.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// newLogger builds the process logger. Logs go to stderr so stdout
// stays clean for conversation output.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl := slog.LevelInfo
	if level != "" {
		parsed, err := config.ParseLogLevel(level)
		if err != nil {
			return nil, err
		}
		lvl = parsed
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler), nil
}
