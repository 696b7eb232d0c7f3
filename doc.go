// Package mcp implements a small Model Context Protocol (MCP) server core and client. It
// speaks JSON-RPC 2.0 and exposes a registry of tools through the tools/list and
// tools/call methods, following https://modelcontextprotocol.io/specification/2025-03-26.
//
// The core is transport-agnostic: Server.Dispatch takes one raw message together with the
// Session it belongs to and returns the raw reply, or nil for notifications. Transports own
// their sessions and only move bytes:
//
//   - HTTPHandler serves one message per POST and replies with application/json, or with a
//     single SSE event when the client accepts text/event-stream. Sessions are keyed by the
//     Mcp-Session-Id header and expire when idle.
//   - StdIOServer serves newline-delimited messages over a reader/writer pair, with one
//     session per stream.
//
// Every session must complete the initialize request and the notifications/initialized
// notification before tools/list or tools/call are accepted, unless the server was built
// with WithLenientHandshake.
//
// Tools are registered with a JSON Schema for their arguments, and optionally for their
// structured output. Arguments are validated before the handler runs, so handlers only see
// well-formed input. A handler returns its native value; the server renders it as a text
// content block and, when an output schema is declared, as structured content.
//
// Client performs the handshake and a tool call in one step:
//
//	client := mcp.NewClient(mcp.Info{Name: "me", Version: "1.0"},
//		mcp.NewHTTPClientTransport("http://127.0.0.1:8080/jsonrpc"))
//	result, err := client.CallTool(ctx, "add_tool", map[string]any{"a": 123, "b": 456})
//	// result is map[string]any{"value": 579.0}; mcp.UnwrapValue(result) is 579.0.
package mcp
