package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ghosttown/go-mcp"
	"github.com/ghosttown/go-mcp/servers/arith"
)

func TestStdIOServeLines(t *testing.T) {
	input := strings.Join([]string{
		initializeMsg,
		"",
		initializedMsg,
		addMsg,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n")

	var out bytes.Buffer
	srv := mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t))
	if err := mcp.NewStdIOServer(srv, strings.NewReader(input), &out, nil).Serve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 replies, got %d: %q", len(lines), lines)
	}

	var reply mcp.Response
	if err := json.Unmarshal([]byte(lines[1]), &reply); err != nil {
		t.Fatalf("failed to unmarshal reply: %v", err)
	}
	if reply.Error != nil {
		t.Fatalf("unexpected error: %v", reply.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result.Content[0].Text != "579" {
		t.Errorf("expected 579, got %s", result.Content[0].Text)
	}

	// The last line has no trailing newline and must still be answered.
	if !strings.Contains(lines[2], `"id":3`) {
		t.Errorf("expected ping reply, got %s", lines[2])
	}
}

func TestStdIOClientAndServer(t *testing.T) {
	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t))
	errs := make(chan error, 1)
	go func() {
		errs <- mcp.NewStdIOServer(srv, serverReader, serverWriter, nil).Serve(ctx)
	}()

	client := mcp.NewClient(testClientInfo, mcp.NewStdIOClientTransport(clientReader, clientWriter, nil))
	cs, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	got, err := cs.CallTool(ctx, arith.AddToolName, map[string]any{"a": 123, "b": 456})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := mcp.UnwrapValue(got); v != 579.0 {
		t.Errorf("expected 579, got %v", got)
	}

	_, err = cs.CallTool(ctx, "nope", nil)
	var rpcErr *mcp.JSONRPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != mcp.JSONRPCInvalidParamsCode {
		t.Errorf("expected invalid params error, got %v", err)
	}

	if err := cs.Close(ctx); err != nil {
		t.Errorf("failed to close: %v", err)
	}

	// EOF on the server's input ends Serve without error.
	clientWriter.Close()
	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("unexpected serve error: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("server did not stop on EOF")
	}

	if _, err := cs.CallTool(ctx, arith.AddToolName, map[string]any{"a": 1, "b": 1}); err == nil {
		t.Errorf("expected error on closed connection, got nil")
	}
}

func TestStdIOContextCancellation(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t))

	var out bytes.Buffer
	errs := make(chan error, 1)
	go func() {
		errs <- mcp.NewStdIOServer(srv, reader, &out, nil).Serve(ctx)
	}()

	cancel()

	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("server did not stop on cancellation")
	}

	// The pending read still takes one more line off the input, then gives up without
	// dispatching it.
	written := make(chan error, 1)
	go func() {
		_, err := writer.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"))
		written <- err
	}()
	select {
	case err := <-written:
		if err != nil {
			t.Errorf("unexpected write error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("input was not drained after cancellation")
	}
	if out.Len() != 0 {
		t.Errorf("expected no reply after cancellation, got %s", out.String())
	}
}

func TestStdIOLargeMessagePayload(t *testing.T) {
	name := strings.Repeat("a", 1<<20)
	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"greet","arguments":{"name":"` + name + `"}}}`

	var out bytes.Buffer
	srv := mcp.NewServer(mcp.DefaultServerInfo, newTestRegistry(t), mcp.WithLenientHandshake())
	if err := mcp.NewStdIOServer(srv, strings.NewReader(msg+"\n"), &out, nil).Serve(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(out.String(), "Hello, "+name+"!") {
		t.Errorf("expected greeting for large name, got %d bytes", out.Len())
	}
}
