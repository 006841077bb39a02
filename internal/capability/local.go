package capability

import "context"

// LocalTransport delivers requests to a Server in the same process.
// It exists for tests and for single-binary deployments where the
// subprocess boundary is unnecessary; the wire contract is identical.
type LocalTransport struct {
	server *Server
}

// NewLocalTransport wraps a server as an in-process transport.
func NewLocalTransport(s *Server) *LocalTransport {
	return &LocalTransport{server: s}
}

// Send handles the request directly.
func (t *LocalTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	return t.server.Handle(ctx, req), nil
}

// Close is a no-op; the server owns no transport resources.
func (t *LocalTransport) Close() error {
	return nil
}
