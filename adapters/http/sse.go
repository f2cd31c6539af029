package http

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SSEEvent represents a single Server-Sent Event.
type SSEEvent struct {
	Event string `json:"event,omitempty"` // Event type ("event:" field)
	Data  string `json:"data"`            // Event data ("data:" field(s))
	ID    string `json:"id,omitempty"`    // Event ID ("id:" field)
	Retry int    `json:"retry,omitempty"` // Reconnect delay in ms ("retry:" field)
}

// WriteSSE writes e in the text/event-stream format. Multi-line data is
// split across data fields.
func WriteSSE(w io.Writer, e SSEEvent) error {
	var b strings.Builder
	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", e.ID)
	}
	if e.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Event)
	}
	if e.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", e.Retry)
	}
	for _, line := range strings.Split(e.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// ParseSSEEvents parses raw SSE data into a slice of events.
// The grammar is the WHATWG event stream format (https://html.spec.whatwg.org/multipage/server-sent-events.html).
func ParseSSEEvents(data []byte) []SSEEvent {
	if len(data) == 0 {
		return nil
	}

	var events []SSEEvent
	var current SSEEvent
	var dataLines []string

	flush := func() {
		if len(dataLines) > 0 || current.Event != "" || current.ID != "" {
			current.Data = strings.Join(dataLines, "\n")
			events = append(events, current)
		}
		current = SSEEvent{}
		dataLines = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		// Empty line = end of event
		if line == "" {
			flush()
			continue
		}

		// Skip comments
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			current.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			current.ID = value
		case "retry":
			if retry, err := strconv.Atoi(value); err == nil && retry >= 0 {
				current.Retry = retry
			}
		}
	}

	// Handle final event if no trailing newline
	flush()
	return events
}
