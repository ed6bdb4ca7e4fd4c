// Package sse implements the server-sent-event framing used between the
// assistant engine and its clients: three-line events (id, event, data)
// terminated by a blank line, flushed immediately after each event.
package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DefaultEventType is assumed for data lines that arrive before any
// event: line on the stream.
const DefaultEventType = "message"

// Event is a decoded wire event: the event type name and the raw JSON
// payload of its data line.
type Event struct {
	Type string
	Data json.RawMessage
}

// Writer encodes events onto an http.ResponseWriter. Every event is
// flushed as soon as it is written; the transport must not buffer.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// ErrStreamingUnsupported is returned when the underlying ResponseWriter
// cannot flush incrementally.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support streaming")

// NewWriter prepares w for event streaming and sets the response headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (w *Writer) Send(id, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}

	if _, err := fmt.Fprintf(w.w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// ErrorPayload is the JSON body of an "error" event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendError emits an error event so a listening client can render the
// failure without discarding the transcript received so far.
func (w *Writer) SendError(code string, err error) error {
	return w.Send("error-"+uuid.New().String(), "error", ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

// Scanner decodes events from a byte stream. It is a single forward-only
// cursor: not safe for concurrent use and not rewindable.
type Scanner struct {
	r   *bufio.Reader
	typ string
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r), typ: DefaultEventType}
}

// Next returns the next event on the stream. Data lines are yielded as
// soon as they are read; the blank-line terminator is cosmetic framing
// only. At end of stream Next returns io.EOF, discarding any trailing
// partial line that was never newline-terminated.
func (s *Scanner) Next() (Event, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			// A partial line without its terminator is dropped.
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("sse: read: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "event:"):
			s.typ = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(line[len("data:"):])
			typ := s.typ
			s.typ = DefaultEventType
			return Event{Type: typ, Data: json.RawMessage(data)}, nil
		}
		// id: lines and blank separators carry no payload.
	}
}
