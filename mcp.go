package mcp

import (
	"context"
	"encoding/json"
)

// ToolHandler executes a tool. Invoke receives arguments that already satisfy the tool's
// input schema and returns the tool's native value: a scalar, a JSON-encodable object, or a
// ready-made CallToolResult. A ready-made result without content is given the text of its
// structured content. Returning an error, or panicking, produces a ToolExecutionError
// reported to the caller with code -32000.
type ToolHandler interface {
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// ToolHandlerFunc adapts an ordinary function to the ToolHandler interface.
type ToolHandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ClientTransport provides the client-side communication layer in the MCP protocol.
type ClientTransport interface {
	// Open establishes a new connection to the server. The returned ClientConn must be
	// closed by the caller on every exit path.
	Open(ctx context.Context) (ClientConn, error)
}

// ClientConn is one open client connection, carrying exactly one logical session.
type ClientConn interface {
	// RoundTrip sends req and waits for its reply. For notifications it returns a nil
	// Response once the server has accepted the message. Failures of the carrying
	// mechanism are reported as TransportError.
	RoundTrip(ctx context.Context, req Request) (*Response, error)

	// Close tears the connection down, releasing the server-side session when the
	// transport has one.
	Close(ctx context.Context) error
}

// Invoke calls f(ctx, args).
func (f ToolHandlerFunc) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	return f(ctx, args)
}
