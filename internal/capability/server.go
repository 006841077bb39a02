package capability

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/andmartins7/docket/internal/extract"
	"github.com/andmartins7/docket/internal/index"
	"github.com/andmartins7/docket/internal/sandbox"
)

// Operation names form a closed set; dispatch happens on these
// constants and nothing else.
const (
	OpListFiles = "list_files"
	OpReadFile  = "read_file"
	OpSaveFile  = "save_file"
	OpIndexFile = "index_file"
	OpSearch    = "search"
)

// Operations returns the declared operation names in a stable order.
func Operations() []string {
	return []string{OpListFiles, OpReadFile, OpSaveFile, OpIndexFile, OpSearch}
}

// Protocol method names.
const (
	methodCapabilities = "capabilities/list"
	methodCall         = "tools/call"
)

// callParams is the params payload of a tools/call request.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// callResult is the result payload of a tools/call response.
type callResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a single content item in a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// capabilitiesResult is the result payload of capabilities/list.
type capabilitiesResult struct {
	ServerName string   `json:"serverName"`
	Version    string   `json:"version"`
	Operations []string `json:"operations"`
}

// ServerConfig configures a capability Server.
type ServerConfig struct {
	// ChunkSize and ChunkOverlap control document splitting for
	// index_file. Zero values use the extract package defaults.
	ChunkSize    int
	ChunkOverlap int

	// Version is reported in the capabilities/list handshake.
	Version string
}

// Server executes capability operations against a sandbox directory
// and a chunk index. Its side effects are confined to those two; it
// originates no network calls of its own.
type Server struct {
	dir    *sandbox.Dir
	idx    *index.Store
	cfg    ServerConfig
	logger *slog.Logger
}

// NewServer creates a capability server. idx may be nil, in which case
// index_file and search report the index as unavailable.
func NewServer(dir *sandbox.Dir, idx *index.Store, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = extract.DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = extract.DefaultChunkOverlap
	}
	return &Server{dir: dir, idx: idx, cfg: cfg, logger: logger}
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// one response line per request to w, until r reaches EOF or ctx is
// cancelled. Malformed lines produce protocol-level error responses;
// the loop itself keeps going.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		resp := func() *Response {
			if err := json.Unmarshal(line, &req); err != nil {
				return errorResponse(0, codeParseError, fmt.Sprintf("parse request: %v", err))
			}
			return s.Handle(ctx, &req)
		}()

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

// Handle processes a single request and always returns a response.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case methodCapabilities:
		return resultResponse(req.ID, capabilitiesResult{
			ServerName: "docket-files",
			Version:    s.cfg.Version,
			Operations: Operations(),
		})

	case methodCall:
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("parse params: %v", err))
		}

		text, err := s.dispatch(ctx, params.Name, params.Arguments)
		if err != nil {
			// Operation failures are results, not protocol errors:
			// the model reads them and reacts on its next turn.
			s.logger.Warn("operation failed", "op", params.Name, "error", err)
			return resultResponse(req.ID, callResult{
				Content: []ContentBlock{{Type: "text", Text: errorText(err)}},
				IsError: true,
			})
		}
		return resultResponse(req.ID, callResult{
			Content: []ContentBlock{{Type: "text", Text: text}},
		})

	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// errorText renders an operation failure for the model. Typed errors
// keep their stable code prefix; anything else becomes internal.
func errorText(err error) string {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Error()
	}
	return (&Error{Code: CodeInternal, Message: err.Error()}).Error()
}

// dispatch routes an operation by name. Unknown names are rejected
// here, at the boundary.
func (s *Server) dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	s.logger.Debug("dispatch", "op", name)

	switch name {
	case OpListFiles:
		return s.listFiles()
	case OpReadFile:
		return s.readFile(args)
	case OpSaveFile:
		return s.saveFile(args)
	case OpIndexFile:
		return s.indexFile(ctx, args)
	case OpSearch:
		return s.search(ctx, args)
	default:
		return "", opError(CodeUnknownOperation, "operation %q is not in the declared set", name)
	}
}

func (s *Server) listFiles() (string, error) {
	names, err := s.dir.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		// Explicit signal, not an empty list: the model renders this
		// directly to the user.
		return "No files found.", nil
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (s *Server) readFile(args map[string]any) (string, error) {
	filename, err := stringArg(args, "filename")
	if err != nil {
		return "", err
	}

	text, err := s.dir.ReadText(filename)
	if err != nil {
		return "", classifySandboxErr(err)
	}
	return text, nil
}

func (s *Server) saveFile(args map[string]any) (string, error) {
	filename, err := stringArg(args, "filename")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}

	saved, err := s.dir.Save(filename, content)
	if err != nil {
		return "", classifySandboxErr(err)
	}

	s.logger.Info("document saved", "filename", saved, "bytes", len(content))
	return fmt.Sprintf("Saved %q (%d bytes) in the document folder.", saved, len(content)), nil
}

func (s *Server) indexFile(ctx context.Context, args map[string]any) (string, error) {
	if s.idx == nil {
		return "", opError(CodeInternal, "semantic index is not configured")
	}

	filename, err := stringArg(args, "filename")
	if err != nil {
		return "", err
	}

	text, err := s.dir.ReadText(filename)
	if err != nil {
		return "", classifySandboxErr(err)
	}
	if strings.TrimSpace(text) == "" {
		return "", opError(CodeEmptyDocument, "no text extracted from %q", filename)
	}

	pieces := extract.Split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	chunks := make([]index.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = index.Chunk{Text: p, Source: filename}
	}

	n, err := s.idx.Add(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("index %s: %w", filename, err)
	}

	s.logger.Info("document indexed", "filename", filename, "chunks", n)
	return fmt.Sprintf("Indexed %q as %d chunks.", filename, n), nil
}

func (s *Server) search(ctx context.Context, args map[string]any) (string, error) {
	if s.idx == nil {
		return "", opError(CodeInternal, "semantic index is not configured")
	}

	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}

	k := 4
	if raw, ok := args["k"]; ok {
		// JSON numbers decode as float64.
		if f, ok := raw.(float64); ok && int(f) > 0 {
			k = int(f)
		}
	}

	results, err := s.idx.Query(ctx, query, k)
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		return "No matching chunks found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] source: %s\n%s", i+1, r.Source, r.Text)
	}
	return b.String(), nil
}

// classifySandboxErr maps sandbox failures onto the wire taxonomy.
func classifySandboxErr(err error) error {
	var violation *sandbox.ViolationError
	if errors.As(err, &violation) {
		return opError(CodeSandboxViolation, "%s", violation.Error())
	}
	if errors.Is(err, sandbox.ErrNotFound) {
		return opError(CodeNotFound, "%s", err.Error())
	}
	return err
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", opError(CodeInvalidArgument, "missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", opError(CodeInvalidArgument, "argument %q must be a non-empty string", key)
	}
	return s, nil
}
