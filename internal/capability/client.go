package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Client provides typed access to a capability server over any
// Transport.
type Client struct {
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64
}

// NewClient creates a capability client.
func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		logger:    logger,
	}
}

// Handshake queries the server for its declared operations.
func (c *Client) Handshake(ctx context.Context) ([]string, error) {
	resp, err := c.send(ctx, methodCapabilities, nil)
	if err != nil {
		return nil, fmt.Errorf("capabilities/list: %w", err)
	}

	var result capabilitiesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}

	c.logger.Info("capability server ready",
		"server", result.ServerName,
		"version", result.Version,
		"operations", len(result.Operations),
	)
	return result.Operations, nil
}

// Call invokes a named operation. The returned text is the operation's
// result; isError reports whether it describes a failure. A non-nil
// error means the transport itself failed.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (text string, isError bool, err error) {
	if args == nil {
		args = map[string]any{}
	}

	resp, err := c.send(ctx, methodCall, callParams{Name: name, Arguments: args})
	if err != nil {
		return "", false, fmt.Errorf("call %s: %w", name, err)
	}

	var result callResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", false, fmt.Errorf("unmarshal %s result: %w", name, err)
	}

	var parts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), result.IsError, nil
}

// Close shuts down the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}
