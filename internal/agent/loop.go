// Package agent drives the conversation loop: provider call, tool
// dispatch, repeat, until the model produces a message with no tool
// calls. Conversation state lives in the thread store; the loop holds
// none of its own between turns.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andmartins7/docket/internal/llm"
	"github.com/andmartins7/docket/internal/thread"
	"github.com/andmartins7/docket/internal/tools"
)

// Defaults for unset Config fields.
const (
	defaultMaxIter         = 10
	defaultProviderTimeout = 120 * time.Second
	defaultDispatchTimeout = 30 * time.Second
	retryBackoff           = 2 * time.Second
)

// Config bounds a single turn.
type Config struct {
	// Model is the provider model identifier.
	Model string

	// MaxToolIterations caps provider rounds per turn.
	MaxToolIterations int

	// ProviderTimeout bounds each provider call.
	ProviderTimeout time.Duration

	// DispatchTimeout bounds each tool dispatch.
	DispatchTimeout time.Duration

	// ProviderRetries is the number of retries after a failed provider
	// call (0 means a single attempt).
	ProviderRetries int
}

func (c *Config) applyDefaults() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaultMaxIter
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = defaultDispatchTimeout
	}
}

// Store is the slice of the thread store the loop needs.
type Store interface {
	Messages(ctx context.Context, threadID string) ([]thread.Message, error)
	AppendTurn(ctx context.Context, threadID string, msgs []thread.Message) error
}

// Loop orchestrates turns against a completion provider and a tool
// registry.
type Loop struct {
	logger   *slog.Logger
	store    Store
	llm      llm.Client
	registry *tools.Registry
	cfg      Config
}

// New creates a loop. All dependencies are required except logger,
// which falls back to slog.Default.
func New(logger *slog.Logger, store Store, client llm.Client, registry *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Loop{
		logger:   logger,
		store:    store,
		llm:      client,
		registry: registry,
		cfg:      cfg,
	}
}

// Advance runs one full turn: append the user input, call the provider,
// dispatch any requested tools, and repeat until the model answers in
// plain text. The entire turn is persisted in one transaction only
// after the final message exists; a failed turn leaves the thread
// exactly as it was.
func (l *Loop) Advance(ctx context.Context, threadID, userInput string) (*llm.Message, error) {
	history, err := l.store.Messages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	// The system instruction is written once, on the thread's first
	// turn. After that it is already part of history.
	var turn []thread.Message
	if len(history) == 0 {
		turn = append(turn, thread.New("system", systemInstruction))
	}
	turn = append(turn, thread.New("user", userInput))

	messages := make([]llm.Message, 0, len(history)+len(turn))
	for _, m := range history {
		messages = append(messages, toLLM(m))
	}
	for _, m := range turn {
		messages = append(messages, toLLM(m))
	}

	toolDefs := l.registry.List()
	startTime := time.Now()

	for i := range l.cfg.MaxToolIterations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn cancelled: %w", err)
		}

		l.logger.Info("provider call",
			"thread", threadID,
			"iter", i,
			"model", l.cfg.Model,
			"msgs", len(messages),
		)

		resp, err := l.chatWithRetry(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("provider call failed (iter %d): %w", i, err)
		}

		l.logger.Info("provider response",
			"thread", threadID,
			"iter", i,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
			"tool_calls", len(resp.Message.ToolCalls),
		)

		assistant := thread.New("assistant", resp.Message.Content)
		assistant.ToolCalls = resp.Message.ToolCalls
		turn = append(turn, assistant)
		messages = append(messages, resp.Message)

		// No tool calls: the turn is complete. Persist everything at
		// once and hand the answer back.
		if len(resp.Message.ToolCalls) == 0 {
			if err := l.store.AppendTurn(ctx, threadID, turn); err != nil {
				return nil, fmt.Errorf("persist turn: %w", err)
			}
			l.logger.Info("turn complete",
				"thread", threadID,
				"iterations", i+1,
				"elapsed", time.Since(startTime).Round(time.Millisecond),
			)
			final := resp.Message
			return &final, nil
		}

		// Dispatch sequentially, in the order the model asked. A
		// failed dispatch becomes a readable tool result; the model
		// decides what to do about it on the next round.
		for _, tc := range resp.Message.ToolCalls {
			result := l.dispatch(ctx, threadID, tc)

			toolMsg := thread.New("tool", result)
			toolMsg.ToolCallID = tc.ID
			turn = append(turn, toolMsg)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}

	// Iteration cap reached. Nothing is persisted: the thread replays
	// cleanly from its previous turn.
	l.logger.Warn("tool iteration limit reached",
		"thread", threadID,
		"max_iterations", l.cfg.MaxToolIterations,
	)
	return nil, fmt.Errorf("turn exceeded %d tool iterations", l.cfg.MaxToolIterations)
}

// chatWithRetry calls the provider with a per-call timeout, retrying
// transient failures a bounded number of times.
func (l *Loop) chatWithRetry(ctx context.Context, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	attempts := 1 + l.cfg.ProviderRetries
	var lastErr error

	for attempt := range attempts {
		if attempt > 0 {
			l.logger.Warn("retrying provider call",
				"attempt", attempt+1,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, l.cfg.ProviderTimeout)
		resp, err := l.llm.Chat(callCtx, l.cfg.Model, messages, toolDefs)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// The parent context going away is not transient.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// dispatch runs one tool call and always returns text for the model.
func (l *Loop) dispatch(ctx context.Context, threadID string, tc llm.ToolCall) string {
	l.logger.Info("tool dispatch",
		"thread", threadID,
		"tool", tc.Name,
		"call_id", tc.ID,
	)

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	result, err := l.registry.Execute(callCtx, tc.Name, tc.Arguments)
	if err != nil {
		l.logger.Error("tool dispatch failed",
			"thread", threadID,
			"tool", tc.Name,
			"error", err,
		)
		return "Error: " + err.Error()
	}

	l.logger.Debug("tool dispatch done",
		"thread", threadID,
		"tool", tc.Name,
		"result_len", len(result),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// toLLM projects a stored message into the provider message shape.
func toLLM(m thread.Message) llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}
