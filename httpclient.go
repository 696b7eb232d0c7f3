package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// HTTPClientTransport implements ClientTransport against an HTTPHandler, or any server
// speaking the same POST-per-message protocol. By default it asks for replies as an event
// stream; WithStreaming(false) asks for plain JSON instead.
type HTTPClientTransport struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	streaming      bool
	maxPayloadSize int
}

// HTTPClientOption represents the options for the HTTPClientTransport.
type HTTPClientOption func(*HTTPClientTransport)

type httpClientConn struct {
	transport *HTTPClientTransport

	mu        sync.Mutex
	sessionID string
}

// WithHTTPClient sets the http.Client used for requests. The default is http.DefaultClient.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(t *HTTPClientTransport) {
		t.httpClient = client
	}
}

// WithStreaming selects between SSE replies (true, the default) and plain JSON replies.
func WithStreaming(streaming bool) HTTPClientOption {
	return func(t *HTTPClientTransport) {
		t.streaming = streaming
	}
}

// WithMaxPayloadSize limits the size of a reply. Larger replies fail with a TransportError.
func WithMaxPayloadSize(size int) HTTPClientOption {
	return func(t *HTTPClientTransport) {
		t.maxPayloadSize = size
	}
}

// WithHTTPClientLogger sets the logger for the transport.
func WithHTTPClientLogger(logger *slog.Logger) HTTPClientOption {
	return func(t *HTTPClientTransport) {
		t.logger = logger
	}
}

// NewHTTPClientTransport creates a transport posting to url.
func NewHTTPClientTransport(url string, options ...HTTPClientOption) *HTTPClientTransport {
	t := &HTTPClientTransport{
		url:        url,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		streaming:  true,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Open implements ClientTransport. No request is made until the first RoundTrip; the
// server-side session is created by the initialize request.
func (t *HTTPClientTransport) Open(context.Context) (ClientConn, error) {
	return &httpClientConn{transport: t}, nil
}

func (c *httpClientConn) RoundTrip(ctx context.Context, req Request) (*Response, error) {
	t := c.transport

	msgBs, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(msgBs))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mediaTypeJSON)
	if t.streaming {
		httpReq.Header.Set("Accept", mediaTypeJSON+", "+mediaTypeSSE)
	} else {
		httpReq.Header.Set("Accept", mediaTypeJSON)
	}
	if id := c.session(); id != "" {
		httpReq.Header.Set(headerSessionID, id)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, TransportError{Op: "post", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	if id := resp.Header.Get(headerSessionID); id != "" {
		c.setSession(id)
	}

	if req.IsNotification() {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), mediaTypeSSE) {
		reply, err := readSSEReply(resp.Body, req.ID, t.maxPayloadSize, t.logger)
		if err != nil {
			return nil, TransportError{Op: "read", Err: err}
		}
		return reply, nil
	}

	var body io.Reader = resp.Body
	if t.maxPayloadSize > 0 {
		body = io.LimitReader(resp.Body, int64(t.maxPayloadSize)+1)
	}
	bs, err := io.ReadAll(body)
	if err != nil {
		return nil, TransportError{Op: "read", Err: err}
	}
	if t.maxPayloadSize > 0 && len(bs) > t.maxPayloadSize {
		return nil, TransportError{Op: "read", Err: fmt.Errorf("reply exceeds %d bytes", t.maxPayloadSize)}
	}
	if len(bs) == 0 {
		return nil, TransportError{Op: "read", Err: errNoResponse}
	}

	var reply Response
	if err := json.Unmarshal(bs, &reply); err != nil {
		return nil, TransportError{Op: "read", Err: fmt.Errorf("failed to unmarshal reply: %w", err)}
	}
	return &reply, nil
}

// Close releases the server-side session, if one was created. A session the server no
// longer knows is treated as already released.
func (c *httpClientConn) Close(ctx context.Context) error {
	id := c.session()
	if id == "" {
		return nil
	}
	c.setSession("")

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.transport.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerSessionID, id)

	resp, err := c.transport.httpClient.Do(req)
	if err != nil {
		return TransportError{Op: "delete", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return TransportError{Op: "delete", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	return nil
}

func (c *httpClientConn) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *httpClientConn) setSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}
