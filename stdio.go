package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// StdIOServer serves a Server over a reader/writer pair such as stdin/stdout, using
// newline-delimited JSON-RPC messages. The stream carries exactly one session for its
// whole lifetime and messages are processed in order.
type StdIOServer struct {
	server *Server
	reader io.Reader
	writer io.Writer
	logger *slog.Logger
}

// StdIOClientTransport implements ClientTransport over a reader/writer pair, typically
// the stdout and stdin of a server process. It supports a single open connection.
type StdIOClientTransport struct {
	conn *stdIOClientConn
}

type stdIOClientConn struct {
	mu     sync.Mutex
	reader *bufio.Reader
	writer io.Writer
	logger *slog.Logger
	closed bool
}

type lineWithErr struct {
	line string
	err  error
}

// NewStdIOServer creates a stdio binding of server.
func NewStdIOServer(server *Server, reader io.Reader, writer io.Writer, logger *slog.Logger) *StdIOServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdIOServer{
		server: server,
		reader: reader,
		writer: writer,
		logger: logger,
	}
}

// Serve processes messages until the reader reaches EOF or ctx is done. The session is
// closed when Serve returns. Reaching EOF is not an error.
//
// When ctx is done Serve returns at once, but the goroutine reading the input stays
// blocked until the reader yields a line or an error. Close the reader (for a process,
// its stdin) to release it.
func (s *StdIOServer) Serve(ctx context.Context) error {
	sess := NewSession(uuid.New().String())
	defer sess.Close()

	lines := readLines(ctx, bufio.NewReader(s.reader))
	for {
		var lwe lineWithErr
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			lwe = l
		}

		if lwe.err != nil {
			if errors.Is(lwe.err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", lwe.err)
		}

		line := strings.TrimSpace(lwe.line)
		if line == "" {
			continue
		}

		reply := s.server.Dispatch(ctx, sess, []byte(line))
		if reply == nil {
			continue
		}
		if _, err := s.writer.Write(append(reply, '\n')); err != nil {
			return fmt.Errorf("failed to write reply: %w", err)
		}
	}
}

// readLines reads newline-terminated lines on a separate goroutine so the caller can stop
// waiting when ctx is done. The last element carries the read error, io.EOF included.
func readLines(ctx context.Context, reader *bufio.Reader) <-chan lineWithErr {
	lines := make(chan lineWithErr)
	go func() {
		defer close(lines)
		for {
			// bufio.Reader instead of bufio.Scanner, so long messages have no size cap.
			line, err := reader.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				select {
				case lines <- lineWithErr{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case lines <- lineWithErr{line: strings.TrimSuffix(line, "\n")}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// NewStdIOClientTransport creates a client transport writing requests to writer and
// reading replies from reader.
func NewStdIOClientTransport(reader io.Reader, writer io.Writer, logger *slog.Logger) *StdIOClientTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdIOClientTransport{
		conn: &stdIOClientConn{
			reader: bufio.NewReader(reader),
			writer: writer,
			logger: logger,
		},
	}
}

// Open implements ClientTransport.
func (t *StdIOClientTransport) Open(context.Context) (ClientConn, error) {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.closed {
		return nil, TransportError{Op: "open", Err: io.ErrClosedPipe}
	}
	return t.conn, nil
}

// RoundTrip writes req and, unless it is a notification, reads lines until the reply with
// the same id arrives. Requests are serialized.
func (c *stdIOClientConn) RoundTrip(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, TransportError{Op: "write", Err: io.ErrClosedPipe}
	}

	msgBs, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := c.writer.Write(append(msgBs, '\n')); err != nil {
		return nil, TransportError{Op: "write", Err: err}
	}
	if req.IsNotification() {
		return nil, nil
	}

	type result struct {
		resp *Response
		err  error
	}
	results := make(chan result, 1)
	go func() {
		for {
			line, err := c.reader.ReadString('\n')
			if err != nil && strings.TrimSpace(line) == "" {
				results <- result{err: TransportError{Op: "read", Err: err}}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			var resp Response
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				results <- result{err: TransportError{Op: "read", Err: fmt.Errorf("failed to unmarshal reply: %w", err)}}
				return
			}
			if resp.ID.String() != req.ID.String() {
				c.logger.Debug("skipping unrelated message", slog.String("id", resp.ID.String()))
				continue
			}
			results <- result{resp: &resp}
			return
		}
	}()

	select {
	case <-ctx.Done():
		// The reader goroutine still owns the stream; the connection cannot be reused.
		c.closed = true
		return nil, ctx.Err()
	case r := <-results:
		return r.resp, r.err
	}
}

// Close marks the connection closed. Closing the underlying streams is left to their owner.
func (c *stdIOClientConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
