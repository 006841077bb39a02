package agent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andmartins7/docket/internal/capability"
	"github.com/andmartins7/docket/internal/llm"
	"github.com/andmartins7/docket/internal/sandbox"
	"github.com/andmartins7/docket/internal/thread"
	"github.com/andmartins7/docket/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelError}))
}

// step is one scripted provider exchange.
type step struct {
	resp *llm.ChatResponse
	err  error
}

// scriptedClient replays canned responses and records what it was sent.
type scriptedClient struct {
	steps []step
	calls [][]llm.Message
}

func (c *scriptedClient) Chat(_ context.Context, _ string, messages []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	c.calls = append(c.calls, snapshot)

	if len(c.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := c.steps[0]
	c.steps = c.steps[1:]
	return next.resp, next.err
}

func (c *scriptedClient) Ping(context.Context) error { return nil }

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", Content: content},
		Done:    true,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", ToolCalls: calls},
		Done:    true,
	}
}

// newTestLoop wires a loop over a real thread store and a real
// capability server confined to a temp directory.
func newTestLoop(t *testing.T, client llm.Client, cfg Config) (*Loop, *thread.Store) {
	t.Helper()

	store, err := thread.Open(filepath.Join(t.TempDir(), "threads.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	dir, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	server := capability.NewServer(dir, nil, capability.ServerConfig{Version: "test"}, discardLogger())
	files := capability.NewClient(capability.NewLocalTransport(server), discardLogger())
	registry := tools.NewRegistry(files)

	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return New(discardLogger(), store, client, registry, cfg), store
}

func TestLoop_PlainAnswer(t *testing.T) {
	client := &scriptedClient{steps: []step{{resp: textResponse("Forty-two.")}}}
	loop, store := newTestLoop(t, client, Config{})
	ctx := context.Background()

	reply, err := loop.Advance(ctx, "t1", "what is the answer?")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != "Forty-two." {
		t.Errorf("reply = %q", reply.Content)
	}

	msgs, err := store.Messages(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	roles := rolesOf(msgs)
	if roles != "system,user,assistant" {
		t.Errorf("persisted roles = %s", roles)
	}

	// The provider must have seen the system instruction first.
	if len(client.calls) != 1 {
		t.Fatalf("provider called %d times", len(client.calls))
	}
	if client.calls[0][0].Role != "system" {
		t.Errorf("first provider message role = %s", client.calls[0][0].Role)
	}
}

func TestLoop_SystemInstructionOnce(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{resp: textResponse("first")},
		{resp: textResponse("second")},
	}}
	loop, store := newTestLoop(t, client, Config{})
	ctx := context.Background()

	if _, err := loop.Advance(ctx, "t1", "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := loop.Advance(ctx, "t1", "two"); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Messages(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	systems := 0
	for _, m := range msgs {
		if m.Role == "system" {
			systems++
		}
	}
	if systems != 1 {
		t.Errorf("system instruction stored %d times, want once", systems)
	}
	if rolesOf(msgs) != "system,user,assistant,user,assistant" {
		t.Errorf("persisted roles = %s", rolesOf(msgs))
	}
}

func TestLoop_ToolDispatch(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{resp: toolResponse(
			llm.ToolCall{ID: "call_1", Name: "save_file", Arguments: map[string]any{
				"filename": "report.md", "content": "# Report",
			}},
			llm.ToolCall{ID: "call_2", Name: "list_files", Arguments: map[string]any{}},
		)},
		{resp: textResponse("Saved and verified.")},
	}}
	loop, store := newTestLoop(t, client, Config{})
	ctx := context.Background()

	reply, err := loop.Advance(ctx, "t1", "write the report")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != "Saved and verified." {
		t.Errorf("reply = %q", reply.Content)
	}

	msgs, err := store.Messages(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if rolesOf(msgs) != "system,user,assistant,tool,tool,assistant" {
		t.Fatalf("persisted roles = %s", rolesOf(msgs))
	}

	// Results arrive in dispatch order and carry the matching call ids.
	if msgs[3].ToolCallID != "call_1" || !strings.Contains(msgs[3].Content, "report.md") {
		t.Errorf("first tool result = %q (%s)", msgs[3].Content, msgs[3].ToolCallID)
	}
	if msgs[4].ToolCallID != "call_2" || msgs[4].Content != "report.md" {
		t.Errorf("second tool result = %q (%s)", msgs[4].Content, msgs[4].ToolCallID)
	}

	// The second provider call saw both tool results.
	if len(client.calls) != 2 {
		t.Fatalf("provider called %d times", len(client.calls))
	}
	last := client.calls[1]
	if last[len(last)-2].Role != "tool" || last[len(last)-1].Role != "tool" {
		t.Errorf("second provider call missing tool results")
	}
}

func TestLoop_OperationErrorContinues(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{resp: toolResponse(llm.ToolCall{ID: "call_1", Name: "read_file", Arguments: map[string]any{
			"filename": "missing.txt",
		}})},
		{resp: textResponse("That file does not exist.")},
	}}
	loop, store := newTestLoop(t, client, Config{})
	ctx := context.Background()

	reply, err := loop.Advance(ctx, "t1", "read missing.txt")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != "That file does not exist." {
		t.Errorf("reply = %q", reply.Content)
	}

	msgs, _ := store.Messages(ctx, "t1")
	if len(msgs) != 5 {
		t.Fatalf("persisted roles = %s", rolesOf(msgs))
	}
	if !strings.HasPrefix(msgs[3].Content, "not_found:") {
		t.Errorf("tool result = %q, want a not_found error text", msgs[3].Content)
	}
}

func TestLoop_UnknownToolReported(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{resp: toolResponse(llm.ToolCall{ID: "call_1", Name: "launch_rocket", Arguments: map[string]any{}})},
		{resp: textResponse("I do not have that tool.")},
	}}
	loop, store := newTestLoop(t, client, Config{})
	ctx := context.Background()

	if _, err := loop.Advance(ctx, "t1", "launch it"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := store.Messages(ctx, "t1")
	if len(msgs) != 5 {
		t.Fatalf("persisted roles = %s", rolesOf(msgs))
	}
	if !strings.HasPrefix(msgs[3].Content, "Error: unknown tool") {
		t.Errorf("tool result = %q", msgs[3].Content)
	}
}

func TestLoop_IterationCap(t *testing.T) {
	// A model that never stops asking for tools.
	client := &scriptedClient{steps: []step{
		{resp: toolResponse(llm.ToolCall{ID: "c1", Name: "list_files", Arguments: map[string]any{}})},
		{resp: toolResponse(llm.ToolCall{ID: "c2", Name: "list_files", Arguments: map[string]any{}})},
		{resp: toolResponse(llm.ToolCall{ID: "c3", Name: "list_files", Arguments: map[string]any{}})},
	}}
	loop, store := newTestLoop(t, client, Config{MaxToolIterations: 2})
	ctx := context.Background()

	_, err := loop.Advance(ctx, "t1", "loop forever")
	if err == nil {
		t.Fatal("expected the turn to fail at the iteration cap")
	}
	if !strings.Contains(err.Error(), "exceeded 2 tool iterations") {
		t.Errorf("error = %v", err)
	}
	if len(client.calls) != 2 {
		t.Errorf("provider called %d times, want 2", len(client.calls))
	}

	// A failed turn persists nothing.
	msgs, _ := store.Messages(ctx, "t1")
	if len(msgs) != 0 {
		t.Errorf("failed turn leaked %d messages: %s", len(msgs), rolesOf(msgs))
	}
}

func TestLoop_ProviderFailure(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{err: errors.New("upstream unavailable")},
	}}
	loop, store := newTestLoop(t, client, Config{ProviderRetries: 0})
	ctx := context.Background()

	_, err := loop.Advance(ctx, "t1", "hello")
	if err == nil {
		t.Fatal("expected provider failure to fail the turn")
	}
	if !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("error = %v", err)
	}

	msgs, _ := store.Messages(ctx, "t1")
	if len(msgs) != 0 {
		t.Errorf("failed turn leaked %d messages", len(msgs))
	}
}

func TestLoop_ProviderRetrySucceeds(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{err: errors.New("transient blip")},
		{resp: textResponse("recovered")},
	}}
	loop, _ := newTestLoop(t, client, Config{ProviderRetries: 1})

	reply, err := loop.Advance(context.Background(), "t1", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Content != "recovered" {
		t.Errorf("reply = %q", reply.Content)
	}
	if len(client.calls) != 2 {
		t.Errorf("provider called %d times, want 2", len(client.calls))
	}
}

func rolesOf(msgs []thread.Message) string {
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	return strings.Join(roles, ",")
}
