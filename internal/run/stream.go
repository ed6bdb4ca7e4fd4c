package run

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cmskit/assistant-engine/internal/openai"
)

// RunStream starts a streamed run and returns its forwarded event
// sequence. Tool calls are handled transparently: when the service
// reports a required action, the engine dispatches the embedded calls,
// submits their outputs through the streaming endpoint and splices the
// continuation stream in place, so the caller observes one ordered event
// feed across every round of tool calls.
func (e *Engine) RunStream(ctx context.Context, threadID, assistantID string) (<-chan EventResult, error) {
	a, ok := e.registry.Get(assistantID)
	if !ok {
		return nil, fmt.Errorf("run: assistant %s is not registered", assistantID)
	}

	stream, err := e.client.RunThreadStream(ctx, threadID, a.ID, a.Tools())
	if err != nil {
		return nil, err
	}

	out := make(chan EventResult)
	go e.forwardStreams(ctx, stream, out)
	return out, nil
}

// emitEvent delivers one result, aborting when the caller is gone.
func emitEvent(ctx context.Context, out chan<- EventResult, res EventResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// forwardStreams drains a work stack of open streams. A required action
// pushes the tool-output continuation stream so its events interleave in
// place of the required-action event; the outer stream resumes once the
// inner one is exhausted. An explicit stack keeps memory bounded and
// makes cancellation a single loop exit.
func (e *Engine) forwardStreams(ctx context.Context, first *openai.RunStream, out chan<- EventResult) {
	defer close(out)

	stack := []*openai.RunStream{first}
	defer func() {
		for _, s := range stack {
			s.Close()
		}
	}()

	for len(stack) > 0 {
		stream := stack[len(stack)-1]

		res, ok := e.nextEvent(ctx, stream)
		if !ok {
			// Stream exhausted; resume the one beneath it.
			stack = stack[:len(stack)-1]
			stream.Close()
			continue
		}
		if res.Err != nil {
			emitEvent(ctx, out, EventResult{Err: res.Err})
			return
		}

		ev := res.Event
		if !emitEvent(ctx, out, EventResult{Event: ev}) {
			return
		}

		if ev.Event != openai.EventThreadRunRequiresAct {
			continue
		}

		next, err := e.continueRequiredAction(ctx, ev)
		if err != nil {
			emitEvent(ctx, out, EventResult{Err: err})
			return
		}
		if next != nil {
			stack = append(stack, next)
		}
	}
}

// nextEvent reads one result from a stream, honoring cancellation.
func (e *Engine) nextEvent(ctx context.Context, stream *openai.RunStream) (openai.StreamResult, bool) {
	select {
	case res, ok := <-stream.Events():
		return res, ok
	case <-ctx.Done():
		return openai.StreamResult{}, false
	}
}

// continueRequiredAction dispatches the tool calls embedded in a
// required-action run event and opens the continuation stream produced by
// submitting their outputs.
func (e *Engine) continueRequiredAction(ctx context.Context, ev *openai.StreamEvent) (*openai.RunStream, error) {
	r, err := ev.Run()
	if err != nil {
		return nil, err
	}
	if r.RequiredAction == nil || r.RequiredAction.SubmitToolOutputs == nil {
		e.logger.Warn("required-action event without tool calls", slog.String("run_id", r.ID))
		return nil, nil
	}

	outputs := e.dispatchToolCalls(ctx, r.AssistantID, r.RequiredAction.SubmitToolOutputs.ToolCalls)
	if len(outputs) == 0 {
		return nil, nil
	}

	return e.client.SubmitToolOutputsStream(ctx, r.ThreadID, r.ID, outputs)
}
