package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cmskit/assistant-engine/internal/openai"
)

// Assistant associates a remote assistant id with its locally registered
// function set and capability flags. Functions are registered once at
// boot and never removed during a process lifetime.
type Assistant struct {
	ID           string
	Name         string
	Description  string
	Instructions string
	Model        string

	functions       map[string]*Function
	codeInterpreter bool
	logger          *slog.Logger
}

// New creates an assistant wrapper for a remote assistant object.
func New(remote *openai.Assistant, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		ID:           remote.ID,
		Name:         remote.Name,
		Description:  remote.Description,
		Instructions: remote.Instructions,
		Model:        remote.Model,
		functions:    make(map[string]*Function),
		logger:       logger,
	}
}

// RegisterFunction exposes a function to the assistant. Duplicate names
// are a registration error; collisions would make dispatch ambiguous.
func (a *Assistant) RegisterFunction(fn *Function) error {
	if _, exists := a.functions[fn.Name]; exists {
		return fmt.Errorf("assistant: function %s already registered", fn.Name)
	}
	a.functions[fn.Name] = fn
	return nil
}

// RegisterCodeInterpreter enables the code-execution capability.
func (a *Assistant) RegisterCodeInterpreter() {
	a.codeInterpreter = true
}

// Tools returns the full tool list for run creation: every registered
// function plus the code interpreter when enabled.
func (a *Assistant) Tools() []openai.Tool {
	tools := make([]openai.Tool, 0, len(a.functions)+1)
	if a.codeInterpreter {
		tools = append(tools, openai.Tool{Type: openai.ToolTypeCodeInterpreter})
	}
	for _, fn := range a.functions {
		def := fn.Def()
		tools = append(tools, openai.Tool{Type: openai.ToolTypeFunction, Function: &def})
	}
	return tools
}

// CallFunction dispatches a server-requested function call and wraps the
// result as a function-role message. Failures degrade into message text
// rather than errors so the run can continue and the model can react.
//
// Every argument set is executed in order. A single set yields its result
// directly; multiple sets yield a JSON array of the results.
func (a *Assistant) CallFunction(ctx context.Context, call *openai.FunctionCall) openai.Message {
	fn, ok := a.functions[call.Name]
	if !ok {
		a.logger.Warn("call to unregistered function", slog.String("function", call.Name))
		return openai.Message{
			Role:    openai.RoleFunction,
			Name:    a.Name,
			Content: fmt.Sprintf("An exception occurred. Could not find function %s", call.Name),
		}
	}

	sets, err := call.ArgumentSets()
	if err != nil {
		return openai.Message{
			Role:    openai.RoleFunction,
			Name:    a.Name,
			Content: fmt.Sprintf("An exception occurred. Invalid arguments: %s", err),
		}
	}

	results := make([]any, 0, len(sets))
	for _, args := range sets {
		result, err := fn.handler(ctx, fn.filterArgs(args, a.logger))
		if err != nil {
			a.logger.Warn("function call failed",
				slog.String("function", fn.Name),
				slog.String("error", err.Error()),
			)
			result = map[string]any{"error": err.Error()}
		}
		results = append(results, result)
	}

	var payload any
	if len(results) == 1 {
		payload = results[0]
	} else {
		payload = results
	}

	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}

	return openai.Message{
		Role:    openai.RoleFunction,
		Name:    a.Name,
		Content: string(content),
	}
}

// Registry is the process-wide assistant lookup, constructed once at
// startup and injected into every component that resolves assistants.
// Writes happen during boot; reads dominate afterwards.
type Registry struct {
	mu         sync.RWMutex
	assistants map[string]*Assistant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{assistants: make(map[string]*Assistant)}
}

// Register adds an assistant by id.
func (r *Registry) Register(a *Assistant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assistants[a.ID] = a
}

// Get resolves an assistant by id.
func (r *Registry) Get(id string) (*Assistant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assistants[id]
	return a, ok
}
