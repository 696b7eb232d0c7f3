package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID holds the raw JSON form of a JSON-RPC request identifier. The protocol allows
// either a string or a number, and the server must echo it back exactly as received, so the
// original bytes are kept instead of being normalized. A nil RequestID means the id member was
// absent, which marks the message as a notification; it marshals as JSON null.
type RequestID []byte

// Request represents a JSON-RPC 2.0 request or notification. A notification is a Request
// without an ID and never receives a reply.
type Request struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// Method contains the RPC method name
	Method string `json:"method"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// ID is absent for notifications
	ID RequestID `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response envelope. Exactly one of Result or Error is
// populated; use NewResultResponse and NewErrorResponse to build one.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	// Must use standard JSON-RPC error codes or custom codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	// Should be limited to a concise single sentence.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents server capabilities. Only tools are offered.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ClientCapabilities represents client capabilities. The server does not require any of
// them; they are kept on the Session for tools that want to know what the client offers.
type ClientCapabilities struct {
	Roots    *RootsCapability    `json:"roots,omitempty"`
	Sampling *SamplingCapability `json:"sampling,omitempty"`
}

// ToolsCapability represents tools-specific capabilities. ListChanged is always reported,
// even when false, because clients rely on it to know no change notifications will come.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// RootsCapability represents roots-specific capabilities.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability represents sampling-specific capabilities.
type SamplingCapability struct{}

// InitializeParams is sent by the client to open the handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's reply to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// Tool describes a callable tool as advertised by tools/list. InputSchema and OutputSchema
// are JSON Schema objects kept in their raw form so they are listed byte-for-byte as
// registered.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs
	// Must satisfy required arguments defined in tool's InputSchema field
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation via tools/call. Content is the
// human-readable rendering and is never empty on success. StructuredContent carries the
// machine-readable value whenever the tool declares an output schema.
type CallToolResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Content represents a single content block of a tool result.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// ContentType represents the type of content in messages.
type ContentType string

// ContentType represents the type of content in messages.
const (
	ContentTypeText ContentType = "text"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP revision this server speaks.
	ProtocolVersion = "2025-03-26"

	// MethodInitialize opens the handshake.
	MethodInitialize = "initialize"
	// MethodNotificationsInitialized is the client's notification that completes the handshake.
	MethodNotificationsInitialized = "notifications/initialized"
	// MethodPing checks liveness and is accepted in any open session state.
	MethodPing = "ping"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// JSONRPCParseErrorCode is returned when the body is not valid JSON.
	JSONRPCParseErrorCode = -32700
	// JSONRPCInvalidRequestCode is returned when the envelope is not a valid request.
	JSONRPCInvalidRequestCode = -32600
	// JSONRPCMethodNotFoundCode is returned for methods outside the method table.
	JSONRPCMethodNotFoundCode = -32601
	// JSONRPCInvalidParamsCode is returned for unknown tools and bad arguments.
	JSONRPCInvalidParamsCode = -32602
	// JSONRPCInternalErrorCode is returned when the server itself misbehaves.
	JSONRPCInternalErrorCode = -32603
	// JSONRPCServerErrorCode is returned when a tool fails while executing.
	JSONRPCServerErrorCode = -32000
	// JSONRPCNotInitializedCode is returned for tool traffic before the handshake completes.
	JSONRPCNotInitializedCode = -32002

	errMsgParseError     = "Parse error"
	errMsgInvalidRequest = "Invalid Request"
	errMsgMethodNotFound = "Method not found"

	headerSessionID = "Mcp-Session-Id"
	mediaTypeJSON   = "application/json"
	mediaTypeSSE    = "text/event-stream"
)

// NewRequestID returns a numeric request identifier.
func NewRequestID(n int) RequestID {
	return RequestID(strconv.Itoa(n))
}

// UnmarshalJSON implements json.Unmarshaler. It accepts strings, numbers and null, and keeps
// the raw bytes so the identifier can be echoed back unchanged.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v.(type) {
	case string, float64, nil:
	default:
		return fmt.Errorf("invalid id type: %T", v)
	}

	*id = append((*id)[:0], data...)
	return nil
}

// MarshalJSON implements json.Marshaler. An absent identifier is encoded as null, which is
// what error replies use when the request id could not be determined.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

func (id RequestID) String() string {
	if len(id) == 0 {
		return "null"
	}
	return string(id)
}

// IsNotification reports whether the request carries no id and therefore expects no reply.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// NewResultResponse builds a success envelope. The result is marshaled eagerly so a value
// that cannot be encoded is reported to the caller rather than producing a broken envelope.
func NewResultResponse(id RequestID, result any) (Response, error) {
	resultBs, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultBs,
	}, nil
}

// NewErrorResponse builds an error envelope. It panics when err is nil, since an error
// envelope without an error object violates the response invariant.
func NewErrorResponse(id RequestID, err *JSONRPCError) Response {
	if err == nil {
		panic("mcp: NewErrorResponse called with nil error")
	}
	return Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

func (j JSONRPCError) Error() string {
	if len(j.Data) == 0 {
		return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
	}
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
