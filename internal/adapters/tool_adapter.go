package adapters

import (
	"context"
	"fmt"
)

// FuncTool adapts a standard Go function to the agenticrag.Tool interface.
type FuncTool struct {
	toolFunc    func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
	schema      map[string]interface{}
	name        string
	validator   func(map[string]interface{}) error
	description string
	category    string
}

// ToolOption represents an option for configuring a FuncTool.
type ToolOption func(*FuncTool)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(map[string]interface{}) error) ToolOption {
	return func(adapter *FuncTool) {
		adapter.validator = validator
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(adapter *FuncTool) {
		adapter.category = category
		if adapter.schema != nil {
			adapter.schema["category"] = category
		}
	}
}

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(adapter *FuncTool) {
		adapter.description = description
		if adapter.schema != nil {
			adapter.schema["description"] = description
		}
	}
}

// WithParameters sets the parameters description in the schema.
func WithParameters(parameters map[string]string) ToolOption {
	return func(adapter *FuncTool) {
		if adapter.schema != nil {
			adapter.schema["parameters"] = parameters
		}
	}
}

// WithRequired lists the mandatory parameter names. Unless a custom
// validator is set, inputs missing any of them are rejected before the tool
// runs.
func WithRequired(required ...string) ToolOption {
	return func(adapter *FuncTool) {
		if adapter.schema != nil {
			adapter.schema["required"] = required
		}
		adapter.validator = requireParams(required)
	}
}

// WithReturns sets the return value description in the schema.
func WithReturns(returns string) ToolOption {
	return func(adapter *FuncTool) {
		if adapter.schema != nil {
			adapter.schema["returns"] = returns
		}
	}
}

// WithExamples adds usage examples to the schema.
func WithExamples(examples []string) ToolOption {
	return func(adapter *FuncTool) {
		if adapter.schema != nil {
			adapter.schema["examples"] = examples
		}
	}
}

// requireParams builds a validator that checks the presence of every listed
// parameter.
func requireParams(required []string) func(map[string]interface{}) error {
	return func(input map[string]interface{}) error {
		if input == nil {
			return fmt.Errorf("input cannot be nil")
		}
		for _, param := range required {
			if _, exists := input[param]; !exists {
				return fmt.Errorf("missing required parameter '%s'", param)
			}
		}
		return nil
	}
}

// NewFuncTool creates a new adapter for a Go function.
func NewFuncTool(
	name string,
	toolFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error),
	options ...ToolOption) *FuncTool {

	schema := map[string]interface{}{
		"name": name,
	}

	adapter := &FuncTool{
		toolFunc: toolFunc,
		schema:   schema,
		name:     name,
		validator: func(input map[string]interface{}) error {
			// Default validator just ensures input is not nil
			if input == nil {
				return fmt.Errorf("input cannot be nil")
			}
			return nil
		},
	}

	// Apply all options
	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Execute implements the agenticrag.Tool interface.
func (a *FuncTool) Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if a.toolFunc == nil {
		return nil, fmt.Errorf("tool function is nil")
	}

	// Validate input before execution
	if err := a.Validate(input); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.name, err)
	}

	return a.toolFunc(ctx, input)
}

// Schema implements the agenticrag.Tool interface.
func (a *FuncTool) Schema() map[string]interface{} {
	return a.schema
}

// Validate implements the agenticrag.Tool interface.
func (a *FuncTool) Validate(input map[string]interface{}) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

// Name implements the agenticrag.Tool interface.
func (a *FuncTool) Name() string {
	return a.name
}
