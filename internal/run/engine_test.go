package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmskit/assistant-engine/internal/assistant"
	"github.com/cmskit/assistant-engine/internal/openai"
)

// fakeAPI scripts the remote side of a run: a requires_action phase with
// one function tool call, then completion with a message step.
type fakeAPI struct {
	t *testing.T

	mu        sync.Mutex
	completed bool
	submitted [][]openai.ToolOutput
	runPolls  int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openai.ThreadRun{
			ID:          "run_1",
			ThreadID:    "thread_1",
			AssistantID: "asst_1",
			Status:      openai.RunStatusQueued,
		})
	})

	mux.HandleFunc("GET /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := openai.RunStatusRequiresAction
		if f.completed {
			status = openai.RunStatusCompleted
		}
		fmt.Fprintf(w, `{"object":"list","data":[{"id":"run_1","thread_id":"thread_1","assistant_id":"asst_1","status":%q}]}`, status)
	})

	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.runPolls++
		status := openai.RunStatusRequiresAction
		if f.completed {
			status = openai.RunStatusCompleted
		}
		json.NewEncoder(w).Encode(openai.ThreadRun{
			ID:          "run_1",
			ThreadID:    "thread_1",
			AssistantID: "asst_1",
			Status:      status,
		})
	})

	mux.HandleFunc("GET /threads/thread_1/runs/run_1/steps", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "asc" {
			f.t.Errorf("steps order = %q, want asc", got)
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		toolStep := openai.RunStep{
			ID:       "step_tool",
			ThreadID: "thread_1",
			RunID:    "run_1",
			Status:   openai.RunStatusInProgress,
			Type:     openai.StepTypeToolCalls,
			StepDetails: openai.StepDetails{
				Type: openai.StepTypeToolCalls,
				ToolCalls: []openai.ToolCall{
					{
						ID:   "call_1",
						Type: openai.ToolTypeFunction,
						Function: &openai.FunctionCall{
							Name:      "get_posts",
							Arguments: `{"search":""}`,
						},
					},
					{ID: "call_2", Type: "retrieval"},
				},
			},
		}

		var steps []openai.RunStep
		if !f.completed {
			steps = []openai.RunStep{toolStep}
		} else {
			toolStep.Status = openai.RunStatusCompleted
			msgStep := openai.RunStep{
				ID:       "step_msg",
				ThreadID: "thread_1",
				RunID:    "run_1",
				Status:   openai.RunStatusCompleted,
				Type:     openai.StepTypeMessageCreation,
				StepDetails: openai.StepDetails{
					Type:            openai.StepTypeMessageCreation,
					MessageCreation: &openai.MessageCreation{MessageID: "msg_assistant"},
				},
			}
			switch r.URL.Query().Get("after") {
			case "":
				steps = []openai.RunStep{toolStep, msgStep}
			case "step_tool":
				steps = []openai.RunStep{msgStep}
			default:
				steps = nil
			}
		}

		json.NewEncoder(w).Encode(struct {
			Object string           `json:"object"`
			Data   []openai.RunStep `json:"data"`
		}{"list", steps})
	})

	mux.HandleFunc("POST /threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []openai.ToolOutput `json:"tool_outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			f.t.Fatalf("decode tool outputs: %v", err)
		}

		f.mu.Lock()
		f.submitted = append(f.submitted, body.ToolOutputs)
		f.completed = true
		f.mu.Unlock()

		json.NewEncoder(w).Encode(openai.ThreadRun{
			ID:       "run_1",
			ThreadID: "thread_1",
			Status:   openai.RunStatusInProgress,
		})
	})

	return mux
}

func newTestEngine(t *testing.T, baseURL string) (*Engine, *assistant.Registry) {
	t.Helper()

	registry := assistant.NewRegistry()
	a := assistant.New(&openai.Assistant{ID: "asst_1", Name: "Site Assistant", Model: "gpt-4o"}, nil)
	fn, err := assistant.NewFunction("get_posts", "Get the posts on the site.", []assistant.Param{
		{Name: "search", Type: "string", Default: ""},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return []map[string]any{{"id": 1, "title": "Hello"}}, nil
	})
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}
	if err := a.RegisterFunction(fn); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}
	registry.Register(a)

	client := openai.NewClient("test-key", openai.WithBaseURL(baseURL))
	engine := NewEngine(client, registry, slog.New(slog.DiscardHandler), WithPollInterval(time.Millisecond))
	return engine, registry
}

func collectSteps(t *testing.T, ch <-chan StepResult) []openai.RunStep {
	t.Helper()
	var steps []openai.RunStep
	for res := range ch {
		if res.Err != nil {
			t.Fatalf("step sequence error: %v", res.Err)
		}
		steps = append(steps, *res.Step)
	}
	return steps
}

func TestRunDispatchesToolCallsAndTerminates(t *testing.T) {
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ch, err := engine.Run(context.Background(), "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	steps := collectSteps(t, ch)

	// in_progress tool step, completed tool step, completed message step.
	if len(steps) != 3 {
		t.Fatalf("expected 3 emitted steps, got %d: %+v", len(steps), steps)
	}
	if steps[0].ID != "step_tool" || steps[0].Status != openai.RunStatusInProgress {
		t.Errorf("first step = %+v", steps[0])
	}
	if steps[1].ID != "step_tool" || steps[1].Status != openai.RunStatusCompleted {
		t.Errorf("second step = %+v", steps[1])
	}
	if steps[2].ID != "step_msg" || steps[2].Type != openai.StepTypeMessageCreation {
		t.Errorf("third step = %+v", steps[2])
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.submitted) != 1 {
		t.Fatalf("expected one batch submission, got %d", len(api.submitted))
	}
	outputs := api.submitted[0]
	// The retrieval-type call is skipped locally, never submitted.
	if len(outputs) != 1 {
		t.Fatalf("expected a single tool output, got %+v", outputs)
	}
	if outputs[0].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", outputs[0].ToolCallID)
	}
	if outputs[0].Output != `[{"id":1,"title":"Hello"}]` {
		t.Errorf("output = %q", outputs[0].Output)
	}
}

func TestResumeActiveRun(t *testing.T) {
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ch, err := engine.Resume(context.Background(), "thread_1")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	steps := collectSteps(t, ch)
	if len(steps) == 0 {
		t.Fatal("resume of an active run should yield steps")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.submitted) != 1 {
		t.Errorf("resume should have driven the pending tool call, submissions = %d", len(api.submitted))
	}
}

func TestResumeNothingToDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"id":"run_1","thread_id":"thread_1","assistant_id":"asst_1","status":"completed"}]}`)
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	_, err := engine.Resume(context.Background(), "thread_1")
	if err != ErrNothingToResume {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
}

func TestRunRemoteErrorTerminatesSequence(t *testing.T) {
	var created atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && created.CompareAndSwap(false, true) {
			json.NewEncoder(w).Encode(openai.ThreadRun{
				ID: "run_1", ThreadID: "thread_1", AssistantID: "asst_1",
				Status: openai.RunStatusQueued,
			})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream exploded","type":"server_error"}}`)
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ch, err := engine.Run(context.Background(), "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var last StepResult
	for res := range ch {
		last = res
	}
	if last.Err == nil {
		t.Fatal("expected the sequence to end with an error result")
	}
}

func TestRunUnknownAssistant(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)
	if _, err := engine.Run(context.Background(), "thread_1", "asst_unknown"); err == nil {
		t.Fatal("expected error for unregistered assistant")
	}
}

func TestRunCancellation(t *testing.T) {
	api := &fakeAPI{t: t}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := engine.Run(ctx, "thread_1", "asst_1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Take the first step, then abort; the sequence must end without
	// further emissions.
	<-ch
	cancel()
	for range ch {
	}
}
