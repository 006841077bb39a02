package capability

import "context"

// Transport delivers JSON-RPC requests to a capability server.
// Implementations handle framing, encoding, and correlation over a
// specific channel (subprocess stdio, or in-process for tests).
type Transport interface {
	// Send sends a request and returns the matching response.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Close shuts down the transport and releases resources. For the
	// stdio transport this terminates the subprocess.
	Close() error
}
