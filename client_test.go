package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ghosttown/go-mcp"
	"github.com/ghosttown/go-mcp/servers/arith"
)

var testClientInfo = mcp.Info{Name: "test-client", Version: "1.0"}

func TestClientCallTool(t *testing.T) {
	for _, streaming := range []bool{true, false} {
		name := "JSON"
		if streaming {
			name = "SSE"
		}
		t.Run(name, func(t *testing.T) {
			handler, httpSrv := setupHTTP(t, nil)

			transport := mcp.NewHTTPClientTransport(httpSrv.URL, mcp.WithStreaming(streaming))
			client := mcp.NewClient(testClientInfo, transport)

			got, err := client.CallTool(context.Background(), arith.AddToolName, map[string]any{"a": 123, "b": 456})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(map[string]any{"value": 579.0}, got); diff != "" {
				t.Errorf("unexpected result (-want +got):\n%s", diff)
			}
			if v := mcp.UnwrapValue(got); v != 579.0 {
				t.Errorf("expected unwrapped 579, got %v (%T)", v, v)
			}

			if handler.SessionCount() != 0 {
				t.Errorf("expected session to be released, got %d live sessions", handler.SessionCount())
			}
		})
	}
}

func TestClientCallToolErrors(t *testing.T) {
	_, httpSrv := setupHTTP(t, nil)
	client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(httpSrv.URL))

	tests := []struct {
		name     string
		tool     string
		args     any
		wantCode int
	}{
		{
			name:     "unknown tool",
			tool:     "nope",
			args:     map[string]any{},
			wantCode: mcp.JSONRPCInvalidParamsCode,
		},
		{
			name:     "invalid arguments",
			tool:     arith.AddToolName,
			args:     map[string]any{"a": "one", "b": 2},
			wantCode: mcp.JSONRPCInvalidParamsCode,
		},
		{
			name:     "handler failure",
			tool:     "fail",
			wantCode: mcp.JSONRPCServerErrorCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CallTool(context.Background(), tt.tool, tt.args)

			var rpcErr *mcp.JSONRPCError
			if !errors.As(err, &rpcErr) {
				t.Fatalf("expected JSONRPCError, got %v", err)
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d", tt.wantCode, rpcErr.Code)
			}
		})
	}
}

func TestClientSessionReuse(t *testing.T) {
	handler, httpSrv := setupHTTP(t, nil)
	client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(httpSrv.URL))

	ctx := context.Background()
	cs, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if cs.ServerInfo() != mcp.DefaultServerInfo {
		t.Errorf("expected server info %+v, got %+v", mcp.DefaultServerInfo, cs.ServerInfo())
	}
	if cs.ProtocolVersion() != mcp.ProtocolVersion {
		t.Errorf("expected protocol version %s, got %s", mcp.ProtocolVersion, cs.ProtocolVersion())
	}

	tools, err := cs.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) == 0 || tools[0].Name != arith.AddToolName {
		t.Errorf("expected %s first, got %+v", arith.AddToolName, tools)
	}

	for i := 0; i < 3; i++ {
		got, err := cs.CallTool(ctx, arith.AddToolName, map[string]any{"a": i, "b": 1})
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if diff := cmp.Diff(map[string]any{"value": float64(i + 1)}, got); diff != "" {
			t.Errorf("call %d: unexpected result (-want +got):\n%s", i, diff)
		}
	}

	greeting, err := cs.CallTool(ctx, "greet", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if greeting != "Hello, Ada!" {
		t.Errorf("expected greeting, got %v", greeting)
	}

	if handler.SessionCount() != 1 {
		t.Errorf("expected 1 live session, got %d", handler.SessionCount())
	}
	if err := cs.Close(ctx); err != nil {
		t.Errorf("failed to close: %v", err)
	}
	if err := cs.Close(ctx); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if handler.SessionCount() != 0 {
		t.Errorf("expected no live session, got %d", handler.SessionCount())
	}
}

func TestClientTransportFailures(t *testing.T) {
	t.Run("server error status", func(t *testing.T) {
		httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		defer httpSrv.Close()

		client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(httpSrv.URL))
		_, err := client.CallTool(context.Background(), arith.AddToolName, nil)

		var transportErr mcp.TransportError
		if !errors.As(err, &transportErr) {
			t.Errorf("expected TransportError, got %v", err)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		httpSrv := httptest.NewServer(http.NotFoundHandler())
		url := httpSrv.URL
		httpSrv.Close()

		client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(url))
		_, err := client.CallTool(context.Background(), arith.AddToolName, nil)

		var transportErr mcp.TransportError
		if !errors.As(err, &transportErr) {
			t.Errorf("expected TransportError, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		block := make(chan struct{})
		httpSrv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			<-block
		}))
		defer httpSrv.Close()
		defer close(block)

		client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(httpSrv.URL),
			mcp.WithClientTimeout(50*time.Millisecond))
		_, err := client.CallTool(context.Background(), arith.AddToolName, nil)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestClientRejectsServerWithoutTools(t *testing.T) {
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":"2025-03-26","capabilities":{},"serverInfo":{"name":"bare","version":"0"}}}`))
	}))
	defer httpSrv.Close()

	client := mcp.NewClient(testClientInfo, mcp.NewHTTPClientTransport(httpSrv.URL, mcp.WithStreaming(false)))
	if _, err := client.Connect(context.Background()); err == nil {
		t.Errorf("expected handshake error, got nil")
	}
}

func TestUnwrapValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "wrapped number", in: map[string]any{"value": 12.0}, want: 12.0},
		{name: "wrapped object", in: map[string]any{"value": map[string]any{"x": 1.0}}, want: map[string]any{"x": 1.0}},
		{name: "extra members", in: map[string]any{"value": 1.0, "unit": "m"}, want: map[string]any{"value": 1.0, "unit": "m"}},
		{name: "other member", in: map[string]any{"sum": 1.0}, want: map[string]any{"sum": 1.0}},
		{name: "text", in: "hello", want: "hello"},
		{name: "nil", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, mcp.UnwrapValue(tt.in)); diff != "" {
				t.Errorf("UnwrapValue() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// inProcessTransport hands requests straight to a Server, on a session the test can inspect.
type inProcessTransport struct {
	server  *mcp.Server
	session *mcp.Session
}

func (t inProcessTransport) Open(context.Context) (mcp.ClientConn, error) {
	return t, nil
}

func (t inProcessTransport) RoundTrip(ctx context.Context, req mcp.Request) (*mcp.Response, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	reply := t.server.Dispatch(ctx, t.session, msg)
	if reply == nil {
		return nil, nil
	}
	var resp mcp.Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t inProcessTransport) Close(context.Context) error {
	t.session.Close()
	return nil
}

func TestClientAnnouncesCapabilities(t *testing.T) {
	sess := mcp.NewSession("capabilities")
	transport := inProcessTransport{
		server:  mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t)),
		session: sess,
	}
	capabilities := mcp.ClientCapabilities{
		Roots:    &mcp.RootsCapability{ListChanged: true},
		Sampling: &mcp.SamplingCapability{},
	}

	client := mcp.NewClient(testClientInfo, transport, mcp.WithClientCapabilities(capabilities))
	cs, err := client.Connect(context.Background())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	if sess.State() != mcp.SessionReady {
		t.Errorf("expected state ready, got %s", sess.State())
	}
	if sess.ClientInfo() != testClientInfo {
		t.Errorf("expected client info %+v, got %+v", testClientInfo, sess.ClientInfo())
	}
	if diff := cmp.Diff(capabilities, sess.ClientCapabilities()); diff != "" {
		t.Errorf("unexpected capabilities (-want +got):\n%s", diff)
	}

	if err := cs.Close(context.Background()); err != nil {
		t.Errorf("failed to close: %v", err)
	}
	if sess.State() != mcp.SessionClosed {
		t.Errorf("expected state closed, got %s", sess.State())
	}
}

func TestClientDefaultCapabilities(t *testing.T) {
	sess := mcp.NewSession("no-capabilities")
	transport := inProcessTransport{
		server:  mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t)),
		session: sess,
	}

	if _, err := mcp.NewClient(testClientInfo, transport).ListTools(context.Background()); err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if diff := cmp.Diff(mcp.ClientCapabilities{}, sess.ClientCapabilities()); diff != "" {
		t.Errorf("unexpected capabilities (-want +got):\n%s", diff)
	}
}
