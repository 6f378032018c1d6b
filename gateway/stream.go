package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"google.golang.org/grpc/codes"
)

// streamHeartbeat is how often an idle stream sends a comment line so
// proxies keep the connection open.
var streamHeartbeat = 15 * time.Second

// SSEEvent is a single Server-Sent Event.
type SSEEvent struct {
	// Event type, omitted for the default "message".
	Event string
	Data  any
}

// MarshalSSE converts the event to the SSE wire format.
func (e *SSEEvent) MarshalSSE() ([]byte, error) {
	var buf strings.Builder

	if e.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(e.Event)
		buf.WriteString("\n")
	}

	if e.Data != nil {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		buf.WriteString("data: ")
		buf.Write(data)
		buf.WriteString("\n")
	}

	buf.WriteString("\n")
	return []byte(buf.String()), nil
}

// handleStream sends a "state" event with the current state and then one
// for every change until the client disconnects or the session closes.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	e, err := entryFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.NewC("gateway: streaming not supported", codes.Internal))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	release := g.sessions.hold(e)
	defer release()

	states := e.store.Watch(ctx)
	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	logging.Debugw(ctx, "gateway: stream opened")
	for {
		select {
		case st, ok := <-states:
			if !ok {
				logging.Debugw(ctx, "gateway: stream closed by session")
				return
			}
			ev := SSEEvent{Event: "state", Data: NewStateView(st)}
			b, err := ev.MarshalSSE()
			if err != nil {
				logging.Errorw(ctx, "gateway: failed to marshal state", "error", err)
				continue
			}
			if _, err := w.Write(b); err != nil {
				logging.Debugw(ctx, "gateway: failed to write event", "error", err)
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			logging.Debugw(ctx, "gateway: stream client disconnected")
			return

		case <-g.streams.Done():
			return
		}
	}
}
