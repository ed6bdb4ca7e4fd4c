// Package assistant holds the local side of an assistant: the declarative
// function table exposed to the service as tools, the dispatcher that
// executes server-requested tool calls, and the process-wide registry.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cmskit/assistant-engine/internal/openai"
)

// Handler executes a function call with schema-filtered arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Param declares one parameter of a registrable function. Type uses the
// host language names (int, string, float, bool), with a "[]" suffix for
// arrays of a base type. A parameter is required unless it declares a
// Default or is marked Optional.
type Param struct {
	Name        string
	Type        string
	Description string
	Default     any
	Optional    bool
}

// Property is the JSON-Schema shape of one declared parameter.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the parameters object of a function declaration.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Function is a registered callable: its wire declaration plus the bound
// handler, which is never serialized.
type Function struct {
	Name        string
	Description string
	Parameters  Schema

	handler Handler
}

var typeMap = map[string]string{
	"int":    "integer",
	"string": "string",
	"float":  "number",
	"bool":   "boolean",
}

// normalizeName derives a wire-safe function name from a fully-qualified
// callable name: namespace separators become underscores, lower-cased.
func normalizeName(name string) string {
	replacer := strings.NewReplacer("\\", "_", "/", "_", ".", "_", "-", "_")
	return strings.ToLower(replacer.Replace(name))
}

// NewFunction builds a validated function declaration. Registration fails
// fast: a parameter with no JSON-Schema mapping must never be exposed.
func NewFunction(name, description string, params []Param, handler Handler) (*Function, error) {
	if name == "" {
		return nil, fmt.Errorf("assistant: function name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("assistant: function %s has no handler", name)
	}

	schema := Schema{
		Type:       "object",
		Properties: make(map[string]Property, len(params)),
		Required:   []string{},
	}

	for _, p := range params {
		prop, err := mapParamType(p)
		if err != nil {
			return nil, err
		}
		schema.Properties[p.Name] = prop
		if !p.Optional && p.Default == nil {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	fn := &Function{
		Name:        normalizeName(name),
		Description: description,
		Parameters:  schema,
		handler:     handler,
	}

	if err := fn.compileSchema(); err != nil {
		return nil, fmt.Errorf("assistant: function %s produced an invalid schema: %w", fn.Name, err)
	}
	return fn, nil
}

func mapParamType(p Param) (Property, error) {
	declared := p.Type
	isArray := strings.HasSuffix(declared, "[]")
	if isArray {
		declared = strings.TrimSuffix(declared, "[]")
	}

	mapped, ok := typeMap[declared]
	if !ok {
		return Property{}, fmt.Errorf("assistant: parameter %s has unsupported type %q", p.Name, p.Type)
	}

	prop := Property{
		Type:        mapped,
		Description: p.Description,
		Default:     p.Default,
	}
	if isArray {
		prop = Property{
			Type:        "array",
			Description: p.Description,
			Default:     p.Default,
			Items:       &Property{Type: mapped},
		}
	}
	return prop, nil
}

// compileSchema runs the generated schema through a real JSON-Schema
// compiler so malformed declarations fail at registration, not at call
// time.
func (f *Function) compileSchema() error {
	raw, err := json.Marshal(f.Parameters)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("function.json", doc); err != nil {
		return err
	}
	if _, err := c.Compile("function.json"); err != nil {
		return err
	}
	return nil
}

// Handler returns the bound handler.
func (f *Function) Handler() Handler {
	return f.handler
}

// Def is the wire declaration sent to the service.
func (f *Function) Def() openai.FunctionDef {
	return openai.FunctionDef{
		Name:        f.Name,
		Description: f.Description,
		Parameters:  f.Parameters,
	}
}

// filterArgs drops any argument the schema does not declare. Models
// occasionally invent parameters; those must not reach the handler.
func (f *Function) filterArgs(args map[string]any, logger *slog.Logger) map[string]any {
	filtered := make(map[string]any, len(args))
	for name, value := range args {
		if _, ok := f.Parameters.Properties[name]; !ok {
			logger.Warn("dropping hallucinated function argument",
				slog.String("function", f.Name),
				slog.String("argument", name),
			)
			continue
		}
		filtered[name] = value
	}
	return filtered
}
