package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client calls tools on a remote MCP server. The one-shot methods CallTool and ListTools
// open a connection, perform the handshake, issue a single request and close the
// connection again on every exit path. Connect returns a ClientSession for callers that
// want to reuse one handshake for several requests.
//
// A Client holds no connection state of its own and is safe for concurrent use.
type Client struct {
	info         Info
	capabilities ClientCapabilities
	transport    ClientTransport

	timeout time.Duration
	logger  *slog.Logger
}

// ClientSession is an initialized connection to a server. It must be closed with Close.
type ClientSession struct {
	conn    ClientConn
	timeout time.Duration
	logger  *slog.Logger

	serverInfo         Info
	serverCapabilities ServerCapabilities
	protocolVersion    string

	nextID    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

var defaultClientTimeout = 30 * time.Second

// WithClientTimeout sets the deadline applied to each request. A non-positive value
// disables it; the caller's context still applies.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientCapabilities sets the capabilities announced during initialize.
func WithClientCapabilities(capabilities ClientCapabilities) ClientOption {
	return func(c *Client) {
		c.capabilities = capabilities
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client identifying itself as info and reaching the server through
// transport.
func NewClient(info Info, transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		info:      info,
		transport: transport,
		timeout:   defaultClientTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Connect opens a connection and performs the initialize/initialized handshake. The
// connection is closed again if the handshake fails.
func (c *Client) Connect(ctx context.Context) (*ClientSession, error) {
	conn, err := c.transport.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	cs := &ClientSession{
		conn:    conn,
		timeout: c.timeout,
		logger:  c.logger,
	}
	if err := cs.initialize(ctx, c.info, c.capabilities); err != nil {
		if cErr := cs.Close(ctx); cErr != nil {
			c.logger.Warn("failed to close connection", slog.String("err", cErr.Error()))
		}
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	return cs, nil
}

// CallTool calls the named tool with args and returns its value. See
// ClientSession.CallTool for how the value is extracted.
func (c *Client) CallTool(ctx context.Context, name string, args any) (result any, err error) {
	cs, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := cs.Close(ctx); cErr != nil {
			c.logger.Warn("failed to close session", slog.String("err", cErr.Error()))
		}
	}()

	return cs.CallTool(ctx, name, args)
}

// ListTools returns the tools offered by the server.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	cs, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cErr := cs.Close(ctx); cErr != nil {
			c.logger.Warn("failed to close session", slog.String("err", cErr.Error()))
		}
	}()

	return cs.ListTools(ctx)
}

// ServerInfo returns the server identification received during the handshake.
func (cs *ClientSession) ServerInfo() Info { return cs.serverInfo }

// ServerCapabilities returns the capabilities the server announced.
func (cs *ClientSession) ServerCapabilities() ServerCapabilities { return cs.serverCapabilities }

// ProtocolVersion returns the protocol version the server agreed to.
func (cs *ClientSession) ProtocolVersion() string { return cs.protocolVersion }

// ListTools returns the tools offered by the server.
func (cs *ClientSession) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := cs.Call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

// CallToolResult calls the named tool and returns the full result envelope. A result
// flagged as an error is returned as is.
func (cs *ClientSession) CallToolResult(ctx context.Context, name string, args any) (CallToolResult, error) {
	params := CallToolParams{Name: name}
	if args != nil {
		argsBs, err := json.Marshal(args)
		if err != nil {
			return CallToolResult{}, fmt.Errorf("failed to marshal arguments: %w", err)
		}
		params.Arguments = argsBs
	}

	var result CallToolResult
	if err := cs.Call(ctx, MethodToolsCall, params, &result); err != nil {
		return CallToolResult{}, err
	}
	return result, nil
}

// CallTool calls the named tool and returns its value: the structured content as decoded
// when present, otherwise the text of the first text block, otherwise nil. Use
// UnwrapValue to get at a scalar wrapped as {"value": v}. A JSON-RPC failure is returned
// as *JSONRPCError and a result flagged as an error as ToolExecutionError.
func (cs *ClientSession) CallTool(ctx context.Context, name string, args any) (any, error) {
	result, err := cs.CallToolResult(ctx, name, args)
	if err != nil {
		return nil, err
	}

	if result.IsError {
		return nil, ToolExecutionError{Tool: name, Err: errors.New(resultText(result))}
	}

	return toolValue(result), nil
}

// Call sends a request and decodes its result into result, which may be nil. A JSON-RPC
// error reply is returned as *JSONRPCError.
func (cs *ClientSession) Call(ctx context.Context, method string, params any, result any) error {
	req, err := newRequest(method, params)
	if err != nil {
		return err
	}
	req.ID = NewRequestID(int(cs.nextID.Add(1)))

	ctx, cancel := cs.withTimeout(ctx)
	defer cancel()

	resp, err := cs.conn.RoundTrip(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return errNoResponse
	}
	if resp.Error != nil {
		return resp.Error
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// Notify sends a notification.
func (cs *ClientSession) Notify(ctx context.Context, method string, params any) error {
	req, err := newRequest(method, params)
	if err != nil {
		return err
	}

	ctx, cancel := cs.withTimeout(ctx)
	defer cancel()

	_, err = cs.conn.RoundTrip(ctx, req)
	return err
}

// Close releases the connection. Only the first call has an effect. The caller's context
// is used even when it is already done, so the server-side session is still released.
func (cs *ClientSession) Close(ctx context.Context) error {
	cs.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout(cs.timeout))
		defer cancel()
		cs.closeErr = cs.conn.Close(ctx)
	})
	return cs.closeErr
}

func (cs *ClientSession) initialize(ctx context.Context, info Info, capabilities ClientCapabilities) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    capabilities,
		ClientInfo:      info,
	}

	var result InitializeResult
	if err := cs.Call(ctx, MethodInitialize, params, &result); err != nil {
		return err
	}
	if result.ProtocolVersion == "" {
		return fmt.Errorf("%w: server sent no protocol version", errInvalidHandshake)
	}
	if result.Capabilities.Tools == nil {
		return fmt.Errorf("%w: server does not offer tools", errInvalidHandshake)
	}
	if result.ProtocolVersion != ProtocolVersion {
		cs.logger.Info("server agreed to a different protocol version",
			slog.String("requested", ProtocolVersion),
			slog.String("agreed", result.ProtocolVersion))
	}

	cs.serverInfo = result.ServerInfo
	cs.serverCapabilities = result.Capabilities
	cs.protocolVersion = result.ProtocolVersion

	if err := cs.Notify(ctx, MethodNotificationsInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}
	return nil
}

func (cs *ClientSession) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cs.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cs.timeout)
}

func newRequest(method string, params any) (Request, error) {
	req := Request{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = paramsBs
	}
	return req, nil
}

// UnwrapValue returns v["value"] when v is a structured result holding only a "value"
// member, which is how servers wrap tool results that are not objects. Any other v is
// returned unchanged.
func UnwrapValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	if inner, ok := m["value"]; ok {
		return inner
	}
	return v
}

func toolValue(result CallToolResult) any {
	if result.StructuredContent != nil {
		return result.StructuredContent
	}
	for _, content := range result.Content {
		if content.Type == ContentTypeText {
			return content.Text
		}
	}
	return nil
}

func resultText(result CallToolResult) string {
	texts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if content.Type == ContentTypeText {
			texts = append(texts, content.Text)
		}
	}
	if len(texts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(texts, "\n")
}

func closeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > 5*time.Second {
		return 5 * time.Second
	}
	return timeout
}
