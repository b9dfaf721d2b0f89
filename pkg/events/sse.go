package events

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gin-contrib/sse"
)

// doneMarker is the stream terminator clients use to stop reconnecting.
const doneMarker = "[DONE]"

// WriteEvent renders one bus event as an SSE frame.
func WriteEvent(w io.Writer, ev Event) error {
	var data any
	// Payloads are objects; decode so the encoder emits compact JSON
	// rather than a double-encoded string.
	var obj map[string]any
	if err := json.Unmarshal(ev.Payload, &obj); err == nil {
		data = obj
	} else {
		data = string(ev.Payload)
	}
	return sse.Encode(w, sse.Event{Event: ev.Name, Data: data})
}

// WriteDone renders the terminal frame of a stream.
func WriteDone(w io.Writer) error {
	return sse.Encode(w, sse.Event{Data: doneMarker})
}

// Flusher is the subset of http.Flusher the stream needs. Kept as a local
// interface so tests can stream into a buffer.
type Flusher interface {
	Flush()
}

// Stream copies a subscription to w as SSE frames until the subscription
// closes or ctx is cancelled, then writes the done marker. A closed
// subscription means the session reached a terminal state.
func Stream(ctx context.Context, w io.Writer, sub *Subscription) error {
	defer sub.Close()
	flusher, _ := w.(Flusher)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := WriteDone(w); err != nil {
					return err
				}
				if flusher != nil {
					flusher.Flush()
				}
				return nil
			}
			if err := WriteEvent(w, ev); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
