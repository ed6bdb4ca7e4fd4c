package openai

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/cmskit/assistant-engine/internal/sse"
)

// StreamResult wraps one event or error from a streamed run.
type StreamResult struct {
	Event *StreamEvent
	Err   error
}

// RunStream is the event stream of one streamed run (or tool-output
// continuation). It is iterable exactly once; Close releases the
// connection when the caller stops early.
type RunStream struct {
	body      io.ReadCloser
	events    chan StreamResult
	done      chan struct{}
	closeOnce sync.Once
}

func newRunStream(body io.ReadCloser) *RunStream {
	s := &RunStream{
		body:   body,
		events: make(chan StreamResult),
		done:   make(chan struct{}),
	}
	go s.read()
	return s
}

// Events returns the event channel. It is closed when the stream ends or
// fails; a failure is delivered as the final result's Err.
func (s *RunStream) Events() <-chan StreamResult {
	return s.events
}

// Close terminates the stream early. Safe to call multiple times and
// concurrently with a consumer of Events.
func (s *RunStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}

// send delivers a result unless the stream has been closed.
func (s *RunStream) send(res StreamResult) bool {
	select {
	case s.events <- res:
		return true
	case <-s.done:
		return false
	}
}

func (s *RunStream) read() {
	defer close(s.events)
	defer s.Close()

	scanner := sse.NewScanner(s.body)
	for {
		ev, err := scanner.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.send(StreamResult{Err: err})
			return
		}

		// The terminal sentinel carries no payload.
		if string(ev.Data) == "[DONE]" || ev.Type == EventDone {
			return
		}

		if !s.send(StreamResult{Event: &StreamEvent{
			Event: ev.Type,
			Data:  json.RawMessage(ev.Data),
		}}) {
			return
		}
	}
}
