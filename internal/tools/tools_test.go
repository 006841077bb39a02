package tools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/andmartins7/docket/internal/capability"
	"github.com/andmartins7/docket/internal/sandbox"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelError}))
	dir, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	server := capability.NewServer(dir, nil, capability.ServerConfig{Version: "test"}, logger)
	return NewRegistry(capability.NewClient(capability.NewLocalTransport(server), logger))
}

func TestRegistry_ListDeclarations(t *testing.T) {
	r := newTestRegistry(t)

	defs := r.List()
	want := []string{"list_files", "read_file", "save_file", "index_file", "search"}
	if len(defs) != len(want) {
		t.Fatalf("List returned %d tools, want %d", len(defs), len(want))
	}

	for i, def := range defs {
		if def["type"] != "function" {
			t.Errorf("def[%d] type = %v", i, def["type"])
		}
		fn, ok := def["function"].(map[string]any)
		if !ok {
			t.Fatalf("def[%d] has no function block", i)
		}
		if fn["name"] != want[i] {
			t.Errorf("def[%d] name = %v, want %s", i, fn["name"], want[i])
		}
		if desc, _ := fn["description"].(string); desc == "" {
			t.Errorf("tool %s has no description", want[i])
		}
		params, ok := fn["parameters"].(map[string]any)
		if !ok || params["type"] != "object" {
			t.Errorf("tool %s parameters are not a JSON schema object", want[i])
		}
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	result, err := r.Execute(ctx, "save_file", map[string]any{
		"filename": "notes.txt",
		"content":  "remember the deadline",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, `"notes.txt"`) {
		t.Errorf("save result = %q", result)
	}

	result, err = r.Execute(ctx, "read_file", map[string]any{"filename": "notes.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "remember the deadline" {
		t.Errorf("read result = %q", result)
	}
}

func TestRegistry_ExecuteSurfacesOperationErrors(t *testing.T) {
	r := newTestRegistry(t)

	// Server-side failures come back as readable text, not Go errors:
	// they belong in the conversation, not in the control flow.
	result, err := r.Execute(context.Background(), "read_file", map[string]any{"filename": "missing.txt"})
	if err != nil {
		t.Fatalf("operation error escalated to transport error: %v", err)
	}
	if !strings.HasPrefix(result, "not_found:") {
		t.Errorf("result = %q, want not_found error text", result)
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Execute(context.Background(), "teleport", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var unknown *UnknownToolError
	if !errors.As(err, &unknown) {
		t.Errorf("error = %v, want UnknownToolError", err)
	}
	if unknown.Name != "teleport" {
		t.Errorf("Name = %q", unknown.Name)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := newTestRegistry(t)

	if r.Get("search") == nil {
		t.Error("Get(search) = nil")
	}
	if r.Get("nope") != nil {
		t.Error("Get(nope) should be nil")
	}
}
