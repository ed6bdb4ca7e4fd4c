package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestRunThread(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("OpenAI-Beta"); got != "assistants=v2" {
			t.Errorf("OpenAI-Beta = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["assistant_id"] != "asst_1" {
			t.Errorf("assistant_id = %v", body["assistant_id"])
		}

		json.NewEncoder(w).Encode(ThreadRun{
			ID:          "run_1",
			ThreadID:    "thread_1",
			AssistantID: "asst_1",
			Status:      RunStatusQueued,
		})
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	run, err := client.RunThread(context.Background(), "thread_1", "asst_1", nil)
	if err != nil {
		t.Fatalf("RunThread: %v", err)
	}
	if run.ID != "run_1" || !run.ShouldWait() {
		t.Errorf("unexpected run %+v", run)
	}
}

func TestListThreadRunStepsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("order") != "asc" || q.Get("after") != "step_5" || q.Get("limit") != "20" {
			t.Errorf("unexpected query %v", q)
		}
		fmt.Fprint(w, `{"object":"list","data":[{"id":"step_6","status":"completed","type":"message_creation","thread_id":"thread_1","step_details":{"type":"message_creation","message_creation":{"message_id":"msg_9"}}}]}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	steps, err := client.ListThreadRunSteps(context.Background(), "thread_1", "run_1", ListOptions{
		Limit: 20,
		Order: "asc",
		After: "step_5",
	})
	if err != nil {
		t.Fatalf("ListThreadRunSteps: %v", err)
	}
	if len(steps) != 1 || steps[0].ID != "step_6" {
		t.Fatalf("unexpected steps %+v", steps)
	}
	if steps[0].ShouldWait() {
		t.Error("completed step should not wait")
	}
	if steps[0].StepDetails.MessageCreation.MessageID != "msg_9" {
		t.Errorf("message id = %q", steps[0].StepDetails.MessageCreation.MessageID)
	}
}

func TestSubmitToolOutputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs/run_1/submit_tool_outputs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			ToolOutputs []ToolOutput `json:"tool_outputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.ToolOutputs) != 1 || body.ToolOutputs[0].ToolCallID != "call_1" {
			t.Errorf("unexpected outputs %+v", body.ToolOutputs)
		}
		json.NewEncoder(w).Encode(ThreadRun{ID: "run_1", Status: RunStatusInProgress})
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	run, err := client.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: `[{"id":1}]`},
	})
	if err != nil {
		t.Fatalf("SubmitToolOutputs: %v", err)
	}
	if run.Status != RunStatusInProgress {
		t.Errorf("status = %q", run.Status)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"No thread found","type":"invalid_request_error","code":"not_found"}}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.GetThreadRun(context.Background(), "thread_x", "run_x")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "No thread found" || apiErr.Code != "not_found" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestAPIErrorMessageArray(t *testing.T) {
	apiErr, err := ParseErrorResponse([]byte(`{"error":{"message":["first","second"],"type":"invalid_request_error"}}`), 400)
	if err != nil {
		t.Fatalf("ParseErrorResponse: %v", err)
	}
	if apiErr.Message != "first\nsecond" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestThreadNewMessageMarshal(t *testing.T) {
	data, err := json.Marshal(ThreadNewMessage{
		ThreadID: "thread_1",
		Role:     RoleUser,
		Content:  "hello",
		Name:     "ignored",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var body map[string]any
	json.Unmarshal(data, &body)
	if _, ok := body["name"]; ok {
		t.Error("name must only be serialized for function-role messages")
	}

	data, _ = json.Marshal(ThreadNewMessage{Role: RoleFunction, Content: "{}", Name: "get_posts"})
	json.Unmarshal(data, &body)
	if body["name"] != "get_posts" {
		t.Errorf("function message name = %v", body["name"])
	}
}

func TestFunctionCallArgumentSets(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []map[string]any
	}{
		{"single object", `{"search":"hello"}`, []map[string]any{{"search": "hello"}}},
		{"list of sets", `[{"a":1},{"a":2}]`, []map[string]any{{"a": float64(1)}, {"a": float64(2)}}},
		{"empty", ``, []map[string]any{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := FunctionCall{Name: "f", Arguments: tt.raw}
			got, err := call.ArgumentSets()
			if err != nil {
				t.Fatalf("ArgumentSets: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnnotationsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","thread_id":"thread_1","role":"assistant","content":[{"type":"text","text":{"value":"see file","annotations":[{"type":"file_path"}]}}]}`)
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	_, err := client.GetThreadMessage(context.Background(), "thread_1", "msg_1")
	if !errors.Is(err, ErrAnnotationsUnsupported) {
		t.Fatalf("expected ErrAnnotationsUnsupported, got %v", err)
	}
}

func TestRunThreadStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Error("stream flag not set")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: thread.run.created\ndata: {\"id\":\"run_1\",\"status\":\"queued\",\"thread_id\":\"thread_1\",\"assistant_id\":\"asst_1\"}\n\n")
		fmt.Fprint(w, "event: thread.message.delta\ndata: {\"id\":\"msg_1\",\"delta\":{\"content\":[{\"type\":\"text\",\"text\":{\"value\":\"Hi\"}}]}}\n\n")
		fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	stream, err := client.RunThreadStream(context.Background(), "thread_1", "asst_1", nil)
	if err != nil {
		t.Fatalf("RunThreadStream: %v", err)
	}
	defer stream.Close()

	var events []StreamEvent
	for res := range stream.Events() {
		if res.Err != nil {
			t.Fatalf("stream error: %v", res.Err)
		}
		events = append(events, *res.Event)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events before [DONE], got %d", len(events))
	}
	if events[0].Event != EventThreadRunCreated {
		t.Errorf("first event = %q", events[0].Event)
	}
	run, err := events[0].Run()
	if err != nil || run.ID != "run_1" {
		t.Errorf("run decode: %v %+v", err, run)
	}
	if events[1].Event != EventThreadMessageDelta {
		t.Errorf("second event = %q", events[1].Event)
	}
}

func TestRunStreamEarlyClose(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: thread.run.created\ndata: {\"id\":\"run_1\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	client := NewClient("test-key", WithBaseURL(server.URL))
	stream, err := client.RunThreadStream(context.Background(), "thread_1", "asst_1", nil)
	if err != nil {
		t.Fatalf("RunThreadStream: %v", err)
	}

	res := <-stream.Events()
	if res.Err != nil || res.Event.Event != EventThreadRunCreated {
		t.Fatalf("unexpected first result %+v", res)
	}

	// Stop consuming; Close must release the connection and end the stream.
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range stream.Events() {
	}
}
