package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cmskit/assistant-engine/internal/openai"
)

// streamAPI scripts the streamed flavor of a run. The initial stream ends
// at a required action; the tool-output submission opens a second stream
// carrying the assistant message and the terminal run status.
type streamAPI struct {
	t *testing.T

	mu        sync.Mutex
	submitted [][]openai.ToolOutput
}

func sseEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *streamAPI) handler() http.Handler {
	mux := http.NewServeMux()

	requiresAction := `{"id":"run_1","thread_id":"thread_1","assistant_id":"asst_1","status":"requires_action",` +
		`"required_action":{"type":"submit_tool_outputs","submit_tool_outputs":{"tool_calls":[` +
		`{"id":"call_1","type":"function","function":{"name":"get_posts","arguments":"{\"search\":\"\"}"}}]}}}`

	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			s.t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "thread.run.created", `{"id":"run_1","thread_id":"thread_1","assistant_id":"asst_1","status":"queued"}`)
		sseEvent(w, "thread.run.step.created", `{"id":"step_tool","run_id":"run_1","type":"tool_calls","status":"in_progress"}`)
		sseEvent(w, "thread.run.requires_action", requiresAction)
		sseEvent(w, "done", "[DONE]")
	})

	mux.HandleFunc("POST /threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []openai.ToolOutput `json:"tool_outputs"`
			Stream      bool                `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.t.Fatalf("decode tool outputs: %v", err)
		}
		if !body.Stream {
			s.t.Error("tool outputs were not submitted in streaming mode")
		}
		s.mu.Lock()
		s.submitted = append(s.submitted, body.ToolOutputs)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "thread.message.created", `{"id":"msg_1","thread_id":"thread_1","role":"assistant","content":[]}`)
		sseEvent(w, "thread.message.delta", `{"id":"msg_1","delta":{"content":[{"index":0,"type":"text","text":{"value":"Hi"}}]}}`)
		sseEvent(w, "thread.run.completed", `{"id":"run_1","thread_id":"thread_1","assistant_id":"asst_1","status":"completed"}`)
		sseEvent(w, "done", "[DONE]")
	})

	return mux
}

func TestRunStreamSplicesContinuation(t *testing.T) {
	api := &streamAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ch, err := engine.RunStream(context.Background(), "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	var names []string
	for res := range ch {
		if res.Err != nil {
			t.Fatalf("event sequence error: %v", res.Err)
		}
		names = append(names, res.Event.Event)
	}

	// The continuation stream interleaves right after the required-action
	// event; the caller sees one ordered feed.
	want := []string{
		"thread.run.created",
		"thread.run.step.created",
		"thread.run.requires_action",
		"thread.message.created",
		"thread.message.delta",
		"thread.run.completed",
	}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.submitted) != 1 || len(api.submitted[0]) != 1 {
		t.Fatalf("submitted = %+v", api.submitted)
	}
	if api.submitted[0][0].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", api.submitted[0][0].ToolCallID)
	}
}

func TestRunStreamConsumerStopsEarly(t *testing.T) {
	api := &streamAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := engine.RunStream(ctx, "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}

	<-ch
	cancel()
	for range ch {
	}
}
