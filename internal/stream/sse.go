package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// SSE wire encoding: discrete named messages with a JSON body, per the
// EventSource wire format. Comments carry no data and serve as the initial
// connect acknowledgment and as keepalives.

// WriteSSE encodes one event as a named SSE message.
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// WriteSSEComment writes a comment line. Proxies and clients ignore it, but
// it keeps idle connections alive and confirms the stream is open.
func WriteSSEComment(w io.Writer, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	return nil
}
