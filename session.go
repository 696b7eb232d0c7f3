package mcp

import (
	"sync"
)

// SessionState is the handshake state of a single logical session.
type SessionState int

// Session states, in the order a well-behaved client moves through them.
const (
	SessionUnstarted SessionState = iota
	SessionInitializing
	SessionReady
	SessionClosed
)

// Session tracks the handshake of one logical connection. Each transport connection owns
// exactly one Session; sessions are never shared between connections. The mutex only guards
// against a single HTTP session receiving overlapping requests.
type Session struct {
	id string

	mu         sync.Mutex
	state        SessionState
	clientInfo   Info
	capabilities ClientCapabilities
}

// NewSession creates a session in the Unstarted state.
func NewSession(id string) *Session {
	return &Session{id: id}
}

// ID returns the identifier the transport assigned to this session.
func (s *Session) ID() string { return s.id }

// State returns the current handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the client identification received with initialize.
func (s *Session) ClientInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// ClientCapabilities returns the capabilities the client announced with initialize.
func (s *Session) ClientCapabilities() ClientCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Close moves the session to Closed. Closing is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionClosed
}

// beginInitialize handles the initialize request: Unstarted -> Initializing.
func (s *Session) beginInitialize(params InitializeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionUnstarted:
		s.state = SessionInitializing
		s.clientInfo = params.ClientInfo
		s.capabilities = params.Capabilities
		return nil
	case SessionClosed:
		return SessionClosedError{Method: MethodInitialize}
	default:
		return &JSONRPCError{
			Code:    JSONRPCInvalidRequestCode,
			Message: "session already initialized",
			Data:    map[string]any{"state": s.state.String()},
		}
	}
}

// completeInitialize handles the initialized notification: Initializing -> Ready. It reports
// whether the transition happened; notifications in any other state are ignored.
func (s *Session) completeInitialize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionInitializing {
		return false
	}
	s.state = SessionReady
	return true
}

// admit decides whether method may run in the current state. Tool traffic requires Ready
// unless lenient is set; nothing is admitted once the session is closed.
func (s *Session) admit(method string, lenient bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == SessionClosed:
		return SessionClosedError{Method: method}
	case s.state == SessionReady, lenient:
		return nil
	default:
		return NotInitializedError{Method: method, State: s.state}
	}
}

func (s SessionState) String() string {
	switch s {
	case SessionUnstarted:
		return "unstarted"
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
