package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

// sseEventMessage is the event type carrying JSON-RPC payloads on a stream.
const sseEventMessage = "message"

// writeSSEReply upgrades the response to an event stream and sends payload as a single
// "message" event. Headers set on w before the call, such as the session header, are kept.
func writeSSEReply(w http.ResponseWriter, r *http.Request, payload []byte) error {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		return fmt.Errorf("failed to upgrade session: %w", err)
	}

	msg := &sse.Message{
		Type: sse.Type(sseEventMessage),
	}
	msg.AppendData(string(payload))

	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush SSE: %w", err)
	}

	return nil
}

// readSSEReply consumes an event stream until the reply with the given id arrives.
// Messages without an id, or with a different one, are server-initiated traffic this
// client does not handle and are skipped. A stream ending without the reply yields
// errNoResponse.
func readSSEReply(body io.Reader, id RequestID, maxPayloadSize int, logger *slog.Logger) (*Response, error) {
	var config *sse.ReadConfig
	if maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: maxPayloadSize,
		}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to read SSE message: %w", err)
		}

		if ev.Type != "" && ev.Type != sseEventMessage {
			logger.Debug("unhandled event type", slog.String("type", ev.Type))
			continue
		}

		var resp Response
		if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if resp.ID.String() != id.String() {
			logger.Debug("skipping unrelated message", slog.String("id", resp.ID.String()))
			continue
		}

		return &resp, nil
	}

	return nil, errNoResponse
}
