package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/qri-io/jsonschema"
)

// Registry maps tool names to their descriptors and handlers. It is populated once at
// startup and only read afterwards, so it carries no locking: Register must not be called
// while the registry is being served.
type Registry struct {
	tools []*registeredTool
	index map[string]*registeredTool
}

type registeredTool struct {
	descriptor Tool
	input      *jsonschema.Schema
	output     *jsonschema.Schema
	handler    ToolHandler
}

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]*registeredTool),
	}
}

// Register adds a tool. The input schema (and output schema, when present) are compiled
// here so malformed schemas are rejected at startup instead of on the first call. A tool
// without an input schema accepts any object.
func (r *Registry) Register(tool Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}
	if _, ok := r.index[tool.Name]; ok {
		return DuplicateToolError{Name: tool.Name}
	}

	if len(tool.InputSchema) == 0 {
		tool.InputSchema = defaultInputSchema
	}
	input, err := compileSchema(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to compile input schema of tool %q: %w", tool.Name, err)
	}

	var output *jsonschema.Schema
	if len(tool.OutputSchema) > 0 {
		if output, err = compileSchema(tool.OutputSchema); err != nil {
			return fmt.Errorf("failed to compile output schema of tool %q: %w", tool.Name, err)
		}
	}

	rt := &registeredTool{
		descriptor: tool,
		input:      input,
		output:     output,
		handler:    handler,
	}
	r.tools = append(r.tools, rt)
	r.index[tool.Name] = rt

	return nil
}

// Lookup returns the descriptor and handler registered under name.
func (r *Registry) Lookup(name string) (Tool, ToolHandler, error) {
	rt, err := r.lookup(name)
	if err != nil {
		return Tool{}, nil, err
	}
	return rt.descriptor, rt.handler, nil
}

// List returns the registered descriptors in registration order.
func (r *Registry) List() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, rt := range r.tools {
		tools = append(tools, rt.descriptor)
	}
	return tools
}

// Select returns a new registry holding only the tools whose name matches at least one of
// the glob patterns, keeping registration order. With no patterns every tool is kept.
func (r *Registry) Select(patterns ...string) (*Registry, error) {
	if len(patterns) == 0 {
		return r, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile tool pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	selected := NewRegistry()
	for _, rt := range r.tools {
		for _, g := range globs {
			if g.Match(rt.descriptor.Name) {
				selected.tools = append(selected.tools, rt)
				selected.index[rt.descriptor.Name] = rt
				break
			}
		}
	}
	if len(selected.tools) == 0 {
		return nil, fmt.Errorf("no tool matches patterns %v", patterns)
	}

	return selected, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

func (r *Registry) lookup(name string) (*registeredTool, error) {
	rt, ok := r.index[name]
	if !ok {
		return nil, UnknownToolError{Name: name}
	}
	return rt, nil
}

// call validates the arguments against the input schema and runs the handler. Handler
// failures and panics come back as ToolExecutionError.
func (t *registeredTool) call(ctx context.Context, args json.RawMessage) (result any, err error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	problems, err := validate(ctx, t.input, args)
	if err != nil {
		return nil, InvalidArgumentsError{Tool: t.descriptor.Name, Problems: []string{err.Error()}}
	}
	if len(problems) > 0 {
		return nil, InvalidArgumentsError{Tool: t.descriptor.Name, Problems: problems}
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = ToolExecutionError{Tool: t.descriptor.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err = t.handler.Invoke(ctx, args)
	if err != nil {
		var argsErr InvalidArgumentsError
		if errors.As(err, &argsErr) {
			return nil, err
		}
		return nil, ToolExecutionError{Tool: t.descriptor.Name, Err: err}
	}

	return result, nil
}

// checkOutput validates a structured result against the output schema, if any.
func (t *registeredTool) checkOutput(ctx context.Context, structured any) error {
	if t.output == nil {
		return nil
	}

	bs, err := json.Marshal(structured)
	if err != nil {
		return fmt.Errorf("failed to marshal structured content: %w", err)
	}
	problems, err := validate(ctx, t.output, bs)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("structured content of tool %q does not match output schema: %v",
			t.descriptor.Name, problems)
	}

	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func validate(ctx context.Context, schema *jsonschema.Schema, data []byte) ([]string, error) {
	keyErrs, err := schema.ValidateBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to validate: %w", err)
	}

	problems := make([]string, 0, len(keyErrs))
	for _, ke := range keyErrs {
		if ke.PropertyPath == "" || ke.PropertyPath == "/" {
			problems = append(problems, ke.Message)
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: %s", ke.PropertyPath, ke.Message))
	}

	return problems, nil
}
