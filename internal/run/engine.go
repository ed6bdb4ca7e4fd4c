// Package run drives assistant runs over a thread: creation, polling or
// streaming of run steps, local dispatch of required tool calls, and
// submission of their outputs until the run reaches a terminal state.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmskit/assistant-engine/internal/assistant"
	"github.com/cmskit/assistant-engine/internal/openai"
)

// ErrNothingToResume signals that a thread has no interrupted run.
var ErrNothingToResume = errors.New("run: no active run to resume")

// stepPageSize is the page size used when polling run steps.
const stepPageSize = 20

// StepResult is one polled run step, or the terminal error of the
// sequence. Steps already delivered remain valid after an error.
type StepResult struct {
	Step *openai.RunStep
	Err  error
}

// EventResult is one forwarded wire event of a streamed run.
type EventResult struct {
	Event *openai.StreamEvent
	Err   error
}

// Option configures the engine.
type Option func(*Engine)

// WithPollInterval sets the delay between polling cycles.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// Engine is the thread run state machine. One engine serves all sessions;
// it holds no per-run state.
type Engine struct {
	client       *openai.Client
	registry     *assistant.Registry
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewEngine creates a run engine.
func NewEngine(client *openai.Client, registry *assistant.Registry, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		client:       client,
		registry:     registry,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts a run of the thread against the named assistant and returns
// the lazily polled step sequence. The channel is closed when the run
// reaches a terminal state or a remote error ends the sequence.
func (e *Engine) Run(ctx context.Context, threadID, assistantID string) (<-chan StepResult, error) {
	a, ok := e.registry.Get(assistantID)
	if !ok {
		return nil, fmt.Errorf("run: assistant %s is not registered", assistantID)
	}

	created, err := e.client.RunThread(ctx, threadID, a.ID, a.Tools())
	if err != nil {
		return nil, err
	}

	out := make(chan StepResult)
	go e.pollSteps(ctx, created, out)
	return out, nil
}

// Resume re-enters the polling loop for the most recent run of the
// thread that is still waiting or blocked on tool outputs. It returns
// ErrNothingToResume when every run is settled.
func (e *Engine) Resume(ctx context.Context, threadID string) (<-chan StepResult, error) {
	runs, err := e.client.ListThreadRuns(ctx, threadID)
	if err != nil {
		return nil, err
	}

	for i := range runs {
		r := &runs[i]
		if r.ShouldWait() || r.Status == openai.RunStatusRequiresAction {
			out := make(chan StepResult)
			go e.pollSteps(ctx, r, out)
			return out, nil
		}
	}
	return nil, ErrNothingToResume
}

// emit delivers one result, aborting when the caller is gone.
func emitStep(ctx context.Context, out chan<- StepResult, res StepResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// pollSteps is the polling flavor of the state machine. Steps are emitted
// as soon as they are seen; the watermark only advances past settled
// steps, so a step is never revisited once its final form was delivered.
// One extra listing cycle always runs after the run turns terminal, to
// flush steps that completed marginally after the status transition.
func (e *Engine) pollSteps(ctx context.Context, run *openai.ThreadRun, out chan<- StepResult) {
	defer close(out)

	threadID := run.ThreadID
	runID := run.ID
	lastStep := ""

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		current, err := e.client.GetThreadRun(ctx, threadID, runID)
		if err != nil {
			emitStep(ctx, out, StepResult{Err: err})
			return
		}

		steps, err := e.client.ListThreadRunSteps(ctx, threadID, runID, openai.ListOptions{
			Limit: stepPageSize,
			Order: "asc",
			After: lastStep,
		})
		if err != nil {
			emitStep(ctx, out, StepResult{Err: err})
			return
		}

		settled := true
		for i := range steps {
			step := &steps[i]
			if !emitStep(ctx, out, StepResult{Step: step}) {
				return
			}

			if !step.ShouldWait() {
				lastStep = step.ID
				continue
			}
			settled = false

			if step.Type == openai.StepTypeToolCalls && current.Status == openai.RunStatusRequiresAction {
				outputs := e.dispatchToolCalls(ctx, current.AssistantID, step.StepDetails.ToolCalls)
				if len(outputs) > 0 {
					if _, err := e.client.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
						emitStep(ctx, out, StepResult{Err: err})
						return
					}
				}
			}
		}

		if settled && !current.ShouldWait() && current.Status != openai.RunStatusRequiresAction {
			return
		}

		select {
		case <-time.After(e.pollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// dispatchToolCalls executes every function tool call and collects the
// outputs for one batch submission. Unsupported tool call types are
// skipped with a warning, never submitted and never fatal. Cancellation
// is honored between calls; a call already dispatched runs to completion.
func (e *Engine) dispatchToolCalls(ctx context.Context, assistantID string, calls []openai.ToolCall) []openai.ToolOutput {
	a, ok := e.registry.Get(assistantID)
	if !ok {
		e.logger.Error("run requires tool outputs for unregistered assistant",
			slog.String("assistant_id", assistantID))
		return nil
	}

	var outputs []openai.ToolOutput
	for _, call := range calls {
		if ctx.Err() != nil {
			return outputs
		}

		switch call.Type {
		case openai.ToolTypeFunction:
			if call.Function == nil {
				continue
			}
			e.logger.Info("dispatching function call",
				slog.String("function", call.Function.Name),
				slog.String("tool_call_id", call.ID))
			msg := a.CallFunction(ctx, call.Function)
			outputs = append(outputs, openai.ToolOutput{
				ToolCallID: call.ID,
				Output:     msg.Content,
			})
		default:
			e.logger.Warn("skipping unsupported tool call type",
				slog.String("type", call.Type),
				slog.String("tool_call_id", call.ID))
		}
	}
	return outputs
}
