package tools

import (
	"context"
	"fmt"

	"github.com/Knetic/govaluate"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
)

// NewCalculateTool evaluates arithmetic expressions.
func NewCalculateTool() agenticrag.Tool {
	return adapters.NewFuncTool("calculate",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			raw, err := parseString(input, "expression")
			if err != nil {
				return nil, err
			}
			expression, err := govaluate.NewEvaluableExpression(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid expression %q: %w", raw, err)
			}
			result, err := expression.Evaluate(nil)
			if err != nil {
				return nil, fmt.Errorf("evaluating %q: %w", raw, err)
			}
			return map[string]interface{}{
				"expression": raw,
				"result":     result,
			}, nil
		},
		adapters.WithDescription("Evaluates an arithmetic expression and returns the numeric result."),
		adapters.WithParameters(map[string]string{
			"expression": "the expression to evaluate, e.g. (120 - 45) * 0.8",
		}),
		adapters.WithRequired("expression"),
		adapters.WithReturns("the original expression and its computed result"),
		adapters.WithCategory("utility"),
		adapters.WithExamples([]string{
			`{"expression": "2 + 2 * 10"}`,
		}),
	)
}
