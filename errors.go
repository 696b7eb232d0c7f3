package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateToolError is returned by Registry.Register when a tool with the same name is
// already registered.
type DuplicateToolError struct {
	Name string
}

// UnknownToolError is returned when a tool name does not resolve in the registry.
type UnknownToolError struct {
	Name string
}

// InvalidArgumentsError is returned when tool arguments do not satisfy the input schema.
type InvalidArgumentsError struct {
	Tool     string
	Problems []string
}

// ToolExecutionError wraps any failure raised by a tool handler, including panics.
type ToolExecutionError struct {
	Tool string
	Err  error
}

// NotInitializedError is returned for tool traffic on a session that has not completed the
// initialize/initialized exchange.
type NotInitializedError struct {
	Method string
	State  SessionState
}

// SessionClosedError is returned for any request on a session that has been torn down.
type SessionClosedError struct {
	Method string
}

// TransportError reports a failure of the carrying mechanism (connection, HTTP status,
// framing) as opposed to an error reported by the peer.
type TransportError struct {
	Op  string
	Err error
}

var (
	errNoResponse       = errors.New("no response in event stream")
	errInvalidHandshake = errors.New("invalid handshake state")
)

func (e DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

func (e UnknownToolError) Error() string {
	return "Unknown tool: " + e.Name
}

func (e InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Err)
}

func (e ToolExecutionError) Unwrap() error { return e.Err }

func (e NotInitializedError) Error() string {
	return fmt.Sprintf("session not initialized: %s received in state %s", e.Method, e.State)
}

func (e SessionClosedError) Error() string {
	return fmt.Sprintf("session closed: %s rejected", e.Method)
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %s", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// toJSONRPCError maps a dispatch failure onto its wire representation.
func toJSONRPCError(err error) *JSONRPCError {
	var (
		rpcErr      JSONRPCError
		unknownErr  UnknownToolError
		argsErr     InvalidArgumentsError
		execErr     ToolExecutionError
		notInitErr  NotInitializedError
		closedErr   SessionClosedError
		rpcErrPtr   *JSONRPCError
		internalErr = &JSONRPCError{Code: JSONRPCInternalErrorCode, Message: err.Error()}
	)

	switch {
	case errors.As(err, &rpcErrPtr):
		return rpcErrPtr
	case errors.As(err, &rpcErr):
		return &rpcErr
	case errors.As(err, &unknownErr):
		return &JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: unknownErr.Error(),
			Data:    map[string]any{"tool": unknownErr.Name},
		}
	case errors.As(err, &argsErr):
		return &JSONRPCError{
			Code:    JSONRPCInvalidParamsCode,
			Message: argsErr.Error(),
			Data:    map[string]any{"tool": argsErr.Tool, "problems": argsErr.Problems},
		}
	case errors.As(err, &execErr):
		// The handler's own message is what the caller needs to see.
		return &JSONRPCError{
			Code:    JSONRPCServerErrorCode,
			Message: execErr.Err.Error(),
			Data:    map[string]any{"tool": execErr.Tool},
		}
	case errors.As(err, &notInitErr):
		return &JSONRPCError{
			Code:    JSONRPCNotInitializedCode,
			Message: notInitErr.Error(),
			Data:    map[string]any{"state": notInitErr.State.String()},
		}
	case errors.As(err, &closedErr):
		return &JSONRPCError{
			Code:    JSONRPCServerErrorCode,
			Message: closedErr.Error(),
		}
	default:
		return internalErr
	}
}
