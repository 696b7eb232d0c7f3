package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server is the transport-agnostic core of an MCP server. It parses JSON-RPC envelopes,
// enforces the handshake through the caller-supplied Session, resolves methods against a
// fixed table and shapes the reply. Server holds no per-request state; the Registry is
// read-only once the server is built, so Dispatch is safe for concurrent use across
// sessions.
type Server struct {
	info         Info
	capabilities ServerCapabilities
	registry     *Registry
	methods      map[string]method

	lenient       bool
	topLevelTools bool

	limiter    *RateLimiter
	registerer prometheus.Registerer
	metrics    *serverMetrics

	logger *slog.Logger
}

type method struct {
	// gated methods carry tool traffic and need a completed handshake.
	gated  bool
	handle func(ctx context.Context, sess *Session, params json.RawMessage) (any, error)
}

// DefaultServerInfo identifies this server when no other Info is configured.
var DefaultServerInfo = Info{Name: "ghosttown_mcp", Version: "0.1.0"}

// WithLenientHandshake accepts tools/list and tools/call before the handshake completes.
// Closed sessions are still rejected. The default is strict ordering.
func WithLenientHandshake() ServerOption {
	return func(s *Server) {
		s.lenient = true
	}
}

// WithTopLevelTools additionally exposes every registered tool as a JSON-RPC method of the
// same name. Such calls take the tool arguments as params and return the tool's raw value
// instead of the tools/call envelope.
func WithTopLevelTools() ServerOption {
	return func(s *Server) {
		s.topLevelTools = true
	}
}

// WithRateLimiter throttles tool traffic through limiter.
func WithRateLimiter(limiter *RateLimiter) ServerOption {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithMetrics registers request counters and latency histograms with reg.
func WithMetrics(reg prometheus.Registerer) ServerOption {
	return func(s *Server) {
		s.registerer = reg
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server exposing the tools of registry. A nil registry serves no
// tools. The registry must not be modified after this call.
func NewServer(info Info, registry *Registry, options ...ServerOption) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Server{
		info:     info,
		registry: registry,
		capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: false},
		},
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.registerer != nil {
		s.metrics = newServerMetrics(s.registerer)
	}

	s.methods = map[string]method{
		MethodInitialize:               {handle: s.handleInitialize},
		MethodNotificationsInitialized: {handle: s.handleInitialized},
		MethodPing:                     {handle: s.handlePing},
		MethodToolsList:                {gated: true, handle: s.handleListTools},
		MethodToolsCall:                {gated: true, handle: s.handleCallTool},
	}
	if s.topLevelTools {
		for _, tool := range registry.List() {
			if _, taken := s.methods[tool.Name]; taken {
				s.logger.Warn("tool name shadows a protocol method, not exposed as method",
					slog.String("tool", tool.Name))
				continue
			}
			s.methods[tool.Name] = method{gated: true, handle: s.toolMethod(tool.Name)}
		}
	}

	return s
}

// Info returns the server identification sent in the initialize reply.
func (s *Server) Info() Info { return s.info }

// Dispatch processes one raw JSON-RPC message on behalf of sess and returns the encoded
// reply. It returns nil for notifications, which never receive a reply. Framing errors are
// always answered, with a null id when the request id could not be determined.
func (s *Server) Dispatch(ctx context.Context, sess *Session, raw []byte) []byte {
	start := time.Now()

	resp, methodName := s.dispatch(ctx, sess, raw)
	if _, known := s.methods[methodName]; !known && methodName != "" {
		// Keep client-chosen method names out of metric labels.
		methodName = "unknown"
	}
	if resp == nil {
		s.metrics.observe(methodName, "notification", time.Since(start))
		return nil
	}

	code := "ok"
	if resp.Error != nil {
		code = strconv.Itoa(resp.Error.Code)
	}
	s.metrics.observe(methodName, code, time.Since(start))

	bs, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", slog.String("err", err.Error()))
		bs, _ = json.Marshal(NewErrorResponse(resp.ID, &JSONRPCError{
			Code:    JSONRPCInternalErrorCode,
			Message: "failed to marshal response",
		}))
	}
	return bs
}

func (s *Server) dispatch(ctx context.Context, sess *Session, raw []byte) (*Response, string) {
	if !json.Valid(raw) {
		s.logger.Info("failed to parse message", slog.String("session", sess.ID()))
		resp := NewErrorResponse(nil, &JSONRPCError{Code: JSONRPCParseErrorCode, Message: errMsgParseError})
		return &resp, ""
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		resp := NewErrorResponse(nil, &JSONRPCError{
			Code:    JSONRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"reason": "batch requests are not supported"},
		})
		return &resp, ""
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := NewErrorResponse(salvageID(raw), &JSONRPCError{
			Code:    JSONRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"reason": err.Error()},
		})
		return &resp, ""
	}

	if req.JSONRPC != JSONRPCVersion || req.Method == "" {
		resp := NewErrorResponse(req.ID, &JSONRPCError{
			Code:    JSONRPCInvalidRequestCode,
			Message: errMsgInvalidRequest,
			Data:    map[string]any{"reason": "jsonrpc must be \"2.0\" and method must be set"},
		})
		return &resp, ""
	}

	logger := s.logger.With(slog.String("method", req.Method), slog.String("session", sess.ID()))

	m, ok := s.methods[req.Method]
	if !ok {
		if req.IsNotification() {
			logger.Debug("ignoring unknown notification")
			return nil, req.Method
		}
		resp := NewErrorResponse(req.ID, &JSONRPCError{
			Code:    JSONRPCMethodNotFoundCode,
			Message: errMsgMethodNotFound,
			Data:    map[string]any{"method": req.Method},
		})
		return &resp, req.Method
	}

	result, err := s.invoke(ctx, sess, req, m)
	if req.IsNotification() {
		if err != nil {
			logger.Info("notification failed", slog.String("err", err.Error()))
		}
		return nil, req.Method
	}

	if err != nil {
		logger.Info("request failed", slog.String("err", err.Error()))
		resp := NewErrorResponse(req.ID, toJSONRPCError(err))
		return &resp, req.Method
	}

	resp, err := NewResultResponse(req.ID, result)
	if err != nil {
		logger.Error("failed to encode result", slog.String("err", err.Error()))
		resp = NewErrorResponse(req.ID, &JSONRPCError{
			Code:    JSONRPCInternalErrorCode,
			Message: err.Error(),
		})
	}
	logger.Debug("request handled")

	return &resp, req.Method
}

func (s *Server) invoke(ctx context.Context, sess *Session, req Request, m method) (any, error) {
	if m.gated {
		if err := sess.admit(req.Method, s.lenient); err != nil {
			return nil, err
		}
		if err := s.limiter.Allow(ctx, req.Method); err != nil {
			return nil, rateLimitError(req.Method, err)
		}
	}
	return m.handle(ctx, sess, req.Params)
}

func (s *Server) handleInitialize(_ context.Context, sess *Session, params json.RawMessage) (any, error) {
	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}

	if err := sess.beginInitialize(p); err != nil {
		return nil, err
	}

	if p.ProtocolVersion != ProtocolVersion {
		s.logger.Info("client requested a different protocol version",
			slog.String("requested", p.ProtocolVersion),
			slog.String("offered", ProtocolVersion))
	}
	s.logger.Debug("session initializing",
		slog.String("session", sess.ID()),
		slog.String("client", p.ClientInfo.Name),
		slog.String("clientVersion", p.ClientInfo.Version),
		slog.Bool("roots", p.Capabilities.Roots != nil),
		slog.Bool("sampling", p.Capabilities.Sampling != nil))

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
	}, nil
}

func (s *Server) handleInitialized(_ context.Context, sess *Session, _ json.RawMessage) (any, error) {
	if !sess.completeInitialize() {
		s.logger.Warn("unexpected initialized notification",
			slog.String("session", sess.ID()),
			slog.String("state", sess.State().String()))
		return nil, nil
	}
	s.logger.Debug("session ready", slog.String("session", sess.ID()))
	return nil, nil
}

func (s *Server) handlePing(_ context.Context, sess *Session, _ json.RawMessage) (any, error) {
	if err := sess.admit(MethodPing, true); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (s *Server) handleListTools(context.Context, *Session, json.RawMessage) (any, error) {
	return ListToolsResult{Tools: s.registry.List()}, nil
}

func (s *Server) handleCallTool(ctx context.Context, _ *Session, params json.RawMessage) (any, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}
	if p.Name == "" {
		return nil, &JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: "missing tool name",
		}
	}

	return s.callTool(ctx, p.Name, p.Arguments, true)
}

func (s *Server) toolMethod(name string) func(context.Context, *Session, json.RawMessage) (any, error) {
	return func(ctx context.Context, _ *Session, params json.RawMessage) (any, error) {
		return s.callTool(ctx, name, params, false)
	}
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage, envelope bool) (any, error) {
	rt, err := s.registry.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.AllowTool(ctx, name); err != nil {
		return nil, rateLimitError(name, err)
	}

	value, err := rt.call(ctx, args)
	if err != nil {
		return nil, err
	}

	return shapeToolResult(ctx, rt, value, envelope)
}

// shapeToolResult turns a tool's native value into what goes on the wire. With envelope
// set it builds the tools/call result: a text block always, plus structured content when
// the tool declares an output schema, wrapping non-object values as {"value": v}. Without
// envelope the raw value is returned as is.
func shapeToolResult(ctx context.Context, rt *registeredTool, value any, envelope bool) (any, error) {
	if res, ok := value.(CallToolResult); ok {
		completed, err := completeToolResult(ctx, rt, res)
		if err != nil {
			return nil, err
		}
		if !envelope && completed.StructuredContent != nil {
			return completed.StructuredContent, nil
		}
		return completed, nil
	}
	if !envelope {
		return value, nil
	}

	valueBs, err := json.Marshal(value)
	if err != nil {
		return nil, ToolExecutionError{Tool: rt.descriptor.Name, Err: fmt.Errorf("failed to marshal result: %w", err)}
	}

	result := CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: renderText(value, valueBs)}},
	}

	if rt.output != nil {
		var structured any = json.RawMessage(valueBs)
		if trimmed := bytes.TrimSpace(valueBs); len(trimmed) == 0 || trimmed[0] != '{' {
			structured = map[string]any{"value": json.RawMessage(valueBs)}
		}
		if err := rt.checkOutput(ctx, structured); err != nil {
			return nil, &JSONRPCError{Code: JSONRPCInternalErrorCode, Message: err.Error()}
		}
		result.StructuredContent = structured
	}

	return result, nil
}

// completeToolResult checks a result built by the handler itself. Structured content is
// validated against the output schema, and a result without content gets the text
// rendering of its structured content. A result with neither is a tool bug.
func completeToolResult(ctx context.Context, rt *registeredTool, res CallToolResult) (CallToolResult, error) {
	if res.StructuredContent != nil {
		if err := rt.checkOutput(ctx, res.StructuredContent); err != nil {
			return CallToolResult{}, &JSONRPCError{Code: JSONRPCInternalErrorCode, Message: err.Error()}
		}
	} else if rt.output != nil && !res.IsError {
		return CallToolResult{}, &JSONRPCError{
			Code:    JSONRPCInternalErrorCode,
			Message: fmt.Sprintf("tool %q declares an output schema but returned no structured content", rt.descriptor.Name),
		}
	}

	if len(res.Content) > 0 {
		return res, nil
	}
	if res.StructuredContent == nil {
		return CallToolResult{}, &JSONRPCError{
			Code:    JSONRPCInternalErrorCode,
			Message: fmt.Sprintf("tool %q returned no content", rt.descriptor.Name),
		}
	}

	bs, err := json.Marshal(res.StructuredContent)
	if err != nil {
		return CallToolResult{}, ToolExecutionError{Tool: rt.descriptor.Name, Err: fmt.Errorf("failed to marshal result: %w", err)}
	}
	res.Content = []Content{{Type: ContentTypeText, Text: string(bs)}}

	return res, nil
}

// renderText produces the human-readable fallback of a tool value. Numbers use their
// shortest decimal form and strings are kept verbatim; everything else is compact JSON.
func renderText(value any, encoded []byte) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	default:
		return string(encoded)
	}
}

// salvageID recovers the id of a message whose envelope failed to decode, so the error
// reply can still be correlated. It returns nil when no valid id is present.
func salvageID(raw []byte) RequestID {
	var probe struct {
		ID RequestID `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.ID
}
