// Docket-files is the sandboxed capability server behind docket.
//
// It speaks newline-delimited JSON-RPC 2.0 on stdin/stdout and confines
// every file operation to a single directory. Logs go to stderr so
// stdout carries nothing but protocol traffic. The agent launches it as
// a subprocess, but it runs standalone just as well:
//
//	docket-files -dir case_files -data data
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/andmartins7/docket/internal/buildinfo"
	"github.com/andmartins7/docket/internal/capability"
	"github.com/andmartins7/docket/internal/config"
	"github.com/andmartins7/docket/internal/embeddings"
	"github.com/andmartins7/docket/internal/index"
	"github.com/andmartins7/docket/internal/sandbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	dir             string
	dataDir         string
	embeddingsURL   string
	embeddingsModel string
	logLevel        string
	version         bool
}

func parseArgs(args []string) (*options, error) {
	opts := &options{
		dir:      "case_files",
		dataDir:  "data",
		logLevel: "info",
	}

	take := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch {
		case args[i] == "-dir":
			opts.dir, err = take(&i, "-dir")
		case strings.HasPrefix(args[i], "-dir="):
			opts.dir = strings.TrimPrefix(args[i], "-dir=")
		case args[i] == "-data":
			opts.dataDir, err = take(&i, "-data")
		case strings.HasPrefix(args[i], "-data="):
			opts.dataDir = strings.TrimPrefix(args[i], "-data=")
		case args[i] == "-embeddings-url":
			opts.embeddingsURL, err = take(&i, "-embeddings-url")
		case strings.HasPrefix(args[i], "-embeddings-url="):
			opts.embeddingsURL = strings.TrimPrefix(args[i], "-embeddings-url=")
		case args[i] == "-embeddings-model":
			opts.embeddingsModel, err = take(&i, "-embeddings-model")
		case strings.HasPrefix(args[i], "-embeddings-model="):
			opts.embeddingsModel = strings.TrimPrefix(args[i], "-embeddings-model=")
		case args[i] == "-log-level":
			opts.logLevel, err = take(&i, "-log-level")
		case strings.HasPrefix(args[i], "-log-level="):
			opts.logLevel = strings.TrimPrefix(args[i], "-log-level=")
		case args[i] == "-version":
			opts.version = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return opts, nil
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	if opts.version {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	level, err := config.ParseLogLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	dir, err := sandbox.New(opts.dir)
	if err != nil {
		return fmt.Errorf("open sandbox: %w", err)
	}

	if err := os.MkdirAll(opts.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Embeddings are opt-in: without them the index answers queries by
	// keyword match.
	var embedder index.Embedder
	if opts.embeddingsURL != "" {
		model := opts.embeddingsModel
		if model == "" {
			model = "nomic-embed-text"
		}
		embedder = embeddings.New(embeddings.Config{
			BaseURL: opts.embeddingsURL,
			Model:   model,
		})
		logger.Info("embeddings enabled", "model", model, "url", opts.embeddingsURL)
	}

	idx, err := index.Open(filepath.Join(opts.dataDir, "index.db"), embedder, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	server := capability.NewServer(dir, idx, capability.ServerConfig{
		Version: buildinfo.Version,
	}, logger)

	logger.Info("capability server listening on stdio",
		"sandbox", dir.Root(),
		"version", buildinfo.Version,
	)

	if err := server.Serve(ctx, stdin, stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("capability server shutting down")
	return nil
}
