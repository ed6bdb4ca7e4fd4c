// Package events normalizes the heterogeneous stream of run events into a
// flat, client-displayable transcript. Messages and steps share one list;
// entries are deduplicated by id and a message replaces the placeholder
// step that announced it.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/cmskit/assistant-engine/internal/openai"
)

// Discriminator values carried in the serialized form.
const (
	TypeMessage = "message"
	TypeStep    = "step"
)

// Event is one entry of the normalized transcript: either a message or a
// run step, never both.
type Event struct {
	Message *openai.ThreadMessage
	Step    *openai.RunStep
}

// NewMessage wraps a message as a transcript event.
func NewMessage(m *openai.ThreadMessage) Event {
	return Event{Message: m}
}

// NewStep wraps a run step as a transcript event.
func NewStep(s *openai.RunStep) Event {
	return Event{Step: s}
}

// Type returns the discriminator of the wrapped payload.
func (e Event) Type() string {
	if e.Message != nil {
		return TypeMessage
	}
	return TypeStep
}

// ID returns the identifier of the wrapped payload. Identifiers are
// unique across a normalized list.
func (e Event) ID() string {
	if e.Message != nil {
		return e.Message.ID
	}
	if e.Step != nil {
		return e.Step.ID
	}
	return ""
}

// MarshalJSON flattens the payload and tags it with _message_type so a
// client can discriminate without nesting.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case e.Message != nil:
		payload = e.Message
	case e.Step != nil:
		payload = e.Step
	default:
		return nil, fmt.Errorf("events: empty event")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["_message_type"] = json.RawMessage(`"` + e.Type() + `"`)
	return json.Marshal(fields)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"_message_type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case TypeStep:
		var step openai.RunStep
		if err := json.Unmarshal(data, &step); err != nil {
			return err
		}
		*e = Event{Step: &step}
	case TypeMessage, "":
		var msg openai.ThreadMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		*e = Event{Message: &msg}
	default:
		return fmt.Errorf("events: unknown event type %q", tag.Type)
	}
	return nil
}

// List is a normalized transcript. All operations are copy-on-write; a
// List value already handed out is never mutated.
type List []Event

// Apply folds one wire event into the list and returns the new list.
// Unknown event types leave the list untouched.
func (l List) Apply(ev *openai.StreamEvent) (List, error) {
	switch ev.Event {
	case openai.EventThreadMessageCreated, openai.EventThreadMessageCompleted:
		msg, err := ev.Message()
		if err != nil {
			return l, err
		}
		return l.UpsertMessage(msg), nil

	case openai.EventThreadMessageDelta:
		var delta openai.MessageDelta
		if err := json.Unmarshal(ev.Data, &delta); err != nil {
			return l, fmt.Errorf("events: decode message delta: %w", err)
		}
		return l.applyMessageDelta(&delta), nil

	case openai.EventThreadRunStepCreated:
		step, err := ev.Step()
		if err != nil {
			return l, err
		}
		// Message-creation steps are not displayed on their own; the
		// resulting message event carries the content.
		if step.Type != openai.StepTypeToolCalls {
			return l, nil
		}
		return l.UpsertStep(step), nil

	case openai.EventThreadRunStepDelta:
		var delta openai.RunStepDelta
		if err := json.Unmarshal(ev.Data, &delta); err != nil {
			return l, fmt.Errorf("events: decode step delta: %w", err)
		}
		return l.applyStepDelta(&delta), nil

	case openai.EventThreadRunStepInProg, openai.EventThreadRunStepCompleted:
		step, err := ev.Step()
		if err != nil {
			return l, err
		}
		return l.UpsertStep(step), nil
	}

	return l, nil
}

// UpsertMessage inserts or replaces the message by id, preserving list
// position on replacement, and removes the pending step that announced
// this message.
func (l List) UpsertMessage(msg *openai.ThreadMessage) List {
	out := l.upsert(NewMessage(msg), msg.ID)

	for i, e := range out {
		s := e.Step
		if s == nil || s.StepDetails.MessageCreation == nil {
			continue
		}
		if s.StepDetails.MessageCreation.MessageID == msg.ID {
			out = append(out[:i:i], out[i+1:]...)
			break
		}
	}
	return out
}

// UpsertStep inserts or replaces the step by id, preserving list position
// on replacement.
func (l List) UpsertStep(step *openai.RunStep) List {
	return l.upsert(NewStep(step), step.ID)
}

func (l List) upsert(e Event, id string) List {
	for i := range l {
		if l[i].ID() == id {
			out := append(List(nil), l...)
			out[i] = e
			return out
		}
	}
	return append(l[:len(l):len(l)], e)
}

// applyMessageDelta appends streamed text to the message's sole text
// block. A delta for an unknown message is dropped; creation always
// precedes deltas on a well-formed stream.
func (l List) applyMessageDelta(delta *openai.MessageDelta) List {
	idx := -1
	for i := range l {
		if l[i].Message != nil && l[i].Message.ID == delta.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return l
	}

	msg := cloneMessage(l[idx].Message)
	if len(msg.Content) == 0 {
		msg.Content = []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{},
		}}
	}
	block := &msg.Content[0]
	for _, c := range delta.Delta.Content {
		if c.Text == nil {
			continue
		}
		block.Text.Value += c.Text.Value
	}

	out := append(List(nil), l...)
	out[idx] = NewMessage(msg)
	return out
}

// applyStepDelta folds streamed tool-call fragments into the step's
// tool-call entries, matching by tool call id.
func (l List) applyStepDelta(delta *openai.RunStepDelta) List {
	idx := -1
	for i := range l {
		if l[i].Step != nil && l[i].Step.ID == delta.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return l
	}

	step := cloneStep(l[idx].Step)
	for _, dc := range delta.Delta.StepDetails.ToolCalls {
		call := findToolCall(step, dc.ID)
		switch dc.Type {
		case openai.ToolTypeFunction:
			if dc.Function == nil {
				continue
			}
			if call.Function == nil {
				call.Function = &openai.FunctionCall{}
			}
			if dc.Function.Name != "" {
				call.Function.Name = dc.Function.Name
			}
			call.Function.Arguments += dc.Function.Arguments
			call.Function.Output += dc.Function.Output
		case openai.ToolTypeCodeInterpreter:
			if dc.CodeInterpreter == nil {
				continue
			}
			if call.CodeInterpreter == nil {
				call.CodeInterpreter = &openai.CodeInterpreterCall{}
			}
			call.CodeInterpreter.Input += dc.CodeInterpreter.Input
			call.CodeInterpreter.Output += dc.CodeInterpreter.Output
		}
		if call.Type == "" {
			call.Type = dc.Type
		}
	}

	out := append(List(nil), l...)
	out[idx] = NewStep(step)
	return out
}

func findToolCall(step *openai.RunStep, id string) *openai.ToolCall {
	for i := range step.StepDetails.ToolCalls {
		if step.StepDetails.ToolCalls[i].ID == id {
			return &step.StepDetails.ToolCalls[i]
		}
	}
	step.StepDetails.ToolCalls = append(step.StepDetails.ToolCalls, openai.ToolCall{ID: id})
	return &step.StepDetails.ToolCalls[len(step.StepDetails.ToolCalls)-1]
}

func cloneMessage(m *openai.ThreadMessage) *openai.ThreadMessage {
	out := *m
	out.Content = make([]openai.MessageContent, len(m.Content))
	for i, c := range m.Content {
		out.Content[i] = c
		if c.Text != nil {
			text := *c.Text
			out.Content[i].Text = &text
		}
	}
	return &out
}

func cloneStep(s *openai.RunStep) *openai.RunStep {
	out := *s
	out.StepDetails.ToolCalls = make([]openai.ToolCall, len(s.StepDetails.ToolCalls))
	for i, call := range s.StepDetails.ToolCalls {
		out.StepDetails.ToolCalls[i] = call
		if call.Function != nil {
			fn := *call.Function
			out.StepDetails.ToolCalls[i].Function = &fn
		}
		if call.CodeInterpreter != nil {
			ci := *call.CodeInterpreter
			out.StepDetails.ToolCalls[i].CodeInterpreter = &ci
		}
	}
	return &out
}
