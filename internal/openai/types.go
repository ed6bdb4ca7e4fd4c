package openai

import (
	"encoding/json"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// Run statuses.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCancelling     = "cancelling"
	RunStatusCancelled      = "cancelled"
	RunStatusFailed         = "failed"
	RunStatusCompleted      = "completed"
	RunStatusExpired        = "expired"
)

// Step types and tool call types.
const (
	StepTypeMessageCreation = "message_creation"
	StepTypeToolCalls       = "tool_calls"

	ToolTypeFunction        = "function"
	ToolTypeCodeInterpreter = "code_interpreter"
)

// Assistant is the remote assistant object.
type Assistant struct {
	ID           string `json:"id"`
	Object       string `json:"object,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Model        string `json:"model"`
	Tools        []Tool `json:"tools,omitempty"`
}

// Tool is one entry in an assistant's or run's tool list.
type Tool struct {
	Type     string       `json:"type"`
	Function *FunctionDef `json:"function,omitempty"`
}

// FunctionDef is the declaration of a callable function as sent to the
// service: a name, a description and a JSON-Schema parameters object.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

// Thread is a durable ordered conversation container.
type Thread struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
}

// ThreadMessage is a message stored on a thread.
type ThreadMessage struct {
	ID          string           `json:"id"`
	Object      string           `json:"object,omitempty"`
	ThreadID    string           `json:"thread_id"`
	Role        string           `json:"role"`
	Content     []MessageContent `json:"content"`
	RunID       string           `json:"run_id,omitempty"`
	AssistantID string           `json:"assistant_id,omitempty"`
	CreatedAt   int64            `json:"created_at,omitempty"`
}

// MessageContent is one ordered content block of a message.
type MessageContent struct {
	Type      string       `json:"type"`
	Text      *MessageText `json:"text,omitempty"`
	ImageFile *ImageFile   `json:"image_file,omitempty"`
}

// MessageText is a text content block. Annotations are decoded but any
// non-empty annotation list is rejected as unsupported input.
type MessageText struct {
	Value       string            `json:"value"`
	Annotations []json.RawMessage `json:"annotations"`
}

// CheckSupported rejects content the engine cannot faithfully render.
func (m *ThreadMessage) CheckSupported() error {
	for _, c := range m.Content {
		if c.Text != nil && len(c.Text.Annotations) > 0 {
			return ErrAnnotationsUnsupported
		}
	}
	return nil
}

// ImageFile references an uploaded file used as image content.
type ImageFile struct {
	FileID string `json:"file_id"`
}

// ThreadNewMessage is a message to be appended to a thread. The thread id
// routes the request and is not part of the wire body; name is only sent
// for function-role messages.
type ThreadNewMessage struct {
	ThreadID string
	Role     string
	Content  string
	Name     string
}

func (m ThreadNewMessage) MarshalJSON() ([]byte, error) {
	body := map[string]any{
		"role":    m.Role,
		"content": m.Content,
	}
	if m.Role == RoleFunction {
		body["name"] = m.Name
	}
	return json.Marshal(body)
}

// Message is a bare role/content/name message, used for locally produced
// function results before they are posted anywhere.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ThreadRun is one execution of an assistant against a thread.
type ThreadRun struct {
	ID             string          `json:"id"`
	Object         string          `json:"object,omitempty"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         string          `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
	Model          string          `json:"model,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
	Tools          []Tool          `json:"tools,omitempty"`
}

// ShouldWait reports whether the run is still making server-side progress
// and must be polled again before its outcome is known.
func (r *ThreadRun) ShouldWait() bool {
	switch r.Status {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return true
	}
	return false
}

// RequiredAction blocks a run until tool outputs are submitted.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the tool calls awaiting local execution.
type SubmitToolOutputs struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall is a server-originated request to invoke a local capability.
type ToolCall struct {
	ID              string               `json:"id,omitempty"`
	Type            string               `json:"type"`
	Function        *FunctionCall        `json:"function,omitempty"`
	CodeInterpreter *CodeInterpreterCall `json:"code_interpreter,omitempty"`
}

// FunctionCall carries the model-supplied arguments for a function tool
// call. Arguments travel as a JSON string on the wire; during streaming
// they accumulate as fragments, so decoding is deferred to ArgumentSets.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output,omitempty"`
}

// ArgumentSets decodes the raw arguments into one or more argument sets.
// The protocol technically allows a list of sets; a single object decodes
// to a one-element list.
func (c *FunctionCall) ArgumentSets() ([]map[string]any, error) {
	if c.Arguments == "" {
		return []map[string]any{{}}, nil
	}

	var sets []map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &sets); err == nil {
		return sets, nil
	}

	var single map[string]any
	if err := json.Unmarshal([]byte(c.Arguments), &single); err != nil {
		return nil, fmt.Errorf("openai: decode function arguments: %w", err)
	}
	return []map[string]any{single}, nil
}

// CodeInterpreterCall is a code-interpreter tool invocation.
type CodeInterpreterCall struct {
	Input   string            `json:"input"`
	Outputs []json.RawMessage `json:"outputs,omitempty"`
	Output  string            `json:"output,omitempty"`
}

// ToolOutput is one locally produced result submitted back to a blocked run.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// RunError describes why a run failed.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunStep is one unit of work within a run.
type RunStep struct {
	ID          string      `json:"id"`
	Object      string      `json:"object,omitempty"`
	ThreadID    string      `json:"thread_id"`
	RunID       string      `json:"run_id,omitempty"`
	AssistantID string      `json:"assistant_id,omitempty"`
	Status      string      `json:"status"`
	Type        string      `json:"type"`
	StepDetails StepDetails `json:"step_details"`
}

// ShouldWait reports whether the step is still in progress.
func (s *RunStep) ShouldWait() bool {
	return s.Status == RunStatusInProgress
}

// StepDetails carries either a message reference or the step's tool calls.
type StepDetails struct {
	Type            string           `json:"type"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
}

// MessageCreation references the message a step produced.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// MessageDelta is a streamed incremental fragment of a message.
type MessageDelta struct {
	ID    string `json:"id"`
	Delta struct {
		Content []MessageContent `json:"content"`
	} `json:"delta"`
}

// RunStepDelta is a streamed incremental fragment of a run step.
type RunStepDelta struct {
	ID    string `json:"id"`
	Delta struct {
		StepDetails StepDetails `json:"step_details"`
	} `json:"delta"`
}

// Stream event type names emitted by the service during a streamed run.
const (
	EventThreadMessageCreated   = "thread.message.created"
	EventThreadMessageDelta     = "thread.message.delta"
	EventThreadMessageCompleted = "thread.message.completed"
	EventThreadRunCreated       = "thread.run.created"
	EventThreadRunRequiresAct   = "thread.run.requires_action"
	EventThreadRunCompleted     = "thread.run.completed"
	EventThreadRunFailed        = "thread.run.failed"
	EventThreadRunStepCreated   = "thread.run.step.created"
	EventThreadRunStepDelta     = "thread.run.step.delta"
	EventThreadRunStepInProg    = "thread.run.step.in_progress"
	EventThreadRunStepCompleted = "thread.run.step.completed"
	EventDone                   = "done"
)

// StreamEvent is one typed event read off a streamed run.
type StreamEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Run decodes the event payload as a ThreadRun.
func (e StreamEvent) Run() (*ThreadRun, error) {
	var run ThreadRun
	if err := json.Unmarshal(e.Data, &run); err != nil {
		return nil, fmt.Errorf("openai: decode run event: %w", err)
	}
	return &run, nil
}

// Message decodes the event payload as a ThreadMessage.
func (e StreamEvent) Message() (*ThreadMessage, error) {
	var msg ThreadMessage
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		return nil, fmt.Errorf("openai: decode message event: %w", err)
	}
	return &msg, nil
}

// Step decodes the event payload as a RunStep.
func (e StreamEvent) Step() (*RunStep, error) {
	var step RunStep
	if err := json.Unmarshal(e.Data, &step); err != nil {
		return nil, fmt.Errorf("openai: decode step event: %w", err)
	}
	return &step, nil
}
