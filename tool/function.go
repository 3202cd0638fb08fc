package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It compiles the declared parameter schema once at construction and
// validates model-supplied arguments against it before execution, so tool
// functions only ever see structurally valid input.
//
// Error semantics:
//
//	*Error (returned directly)  -> forwarded unchanged
//	validation failure          -> *Error{Code: CodeValidation}
//	other error                 -> *Error{Code: CodeExecution}
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *jsonschema.Schema
	fn          func(ctx context.Context, tctx *Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and
// function. The schema must be a valid JSON Schema object; an invalid schema
// is a registration-time error, not a call-time one.
//
// Example:
//
//	sum, err := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []any{"a", "b"},
//	  },
//	  func(_ context.Context, _ *Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, tctx *Context, args map[string]any) (any, error),
) (*FunctionTool, error) {
	schema, err := CompileSchema(name, parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		schema:      schema,
		fn:          fn,
	}, nil
}

// MustFunctionTool is NewFunctionTool panicking on schema errors. Intended
// for statically declared tools where the schema is a literal.
func MustFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, tctx *Context, args map[string]any) (any, error),
) *FunctionTool {
	t, err := NewFunctionTool(name, description, parameters, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// CompileSchema compiles a JSON-Schema-shaped map into a validator.
func CompileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameter schema: %w", err)
	}
	schema, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	return schema, nil
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the wrapped
// function. Failures are wrapped (or passed through) as *Error for uniform
// downstream handling.
func (t *FunctionTool) Call(ctx context.Context, tctx *Context, args map[string]any) (any, error) {
	logger := tctx.Logger
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "call_id", tctx.CallID)

	if err := t.schema.Validate(normalize(args)); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, &Error{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err.Error(),
		}
	}

	result, err := t.fn(ctx, tctx, args)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
			return nil, toolErr
		}
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return nil, &Error{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// normalize round-trips args through JSON so the validator sees canonical
// types (map[string]any / float64) regardless of how the caller built them.
func normalize(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
