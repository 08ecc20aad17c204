package tools

import (
	"context"
	"fmt"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
	"github.com/changxeokSong/agentic-rag/internal/automation"
)

// Controller is the slice of the automation manager the control tool needs.
type Controller interface {
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Status() automation.Status
}

// NewAutomationControlTool arms, disarms, and inspects the automation loop
// from the chat pipeline.
func NewAutomationControlTool(controller Controller) agenticrag.Tool {
	return adapters.NewFuncTool("automation_control",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			command, err := parseString(input, "command")
			if err != nil {
				return nil, err
			}

			switch command {
			case "arm":
				if err := controller.Arm(ctx); err != nil {
					return nil, err
				}
			case "disarm":
				if err := controller.Disarm(ctx); err != nil {
					return nil, err
				}
			case "status":
			default:
				return nil, fmt.Errorf("unknown command %q, expected arm, disarm, or status", command)
			}

			status := controller.Status()
			return map[string]interface{}{
				"command": command,
				"armed":   status.Armed,
				"status":  status,
			}, nil
		},
		adapters.WithDescription("Arms or disarms the autonomous water level control loop, or reports its status."),
		adapters.WithParameters(map[string]string{
			"command": "one of arm, disarm, status",
		}),
		adapters.WithRequired("command"),
		adapters.WithReturns("the loop state after the command"),
		adapters.WithCategory("water-level"),
		adapters.WithExamples([]string{
			`{"command": "status"}`,
		}),
	)
}
