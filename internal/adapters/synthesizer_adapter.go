package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/core"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// SynthesisInput is the expected input structure for the synthesizer flow.
type SynthesisInput struct {
	Query   string            `json:"query"`
	History []agenticrag.Turn `json:"history,omitempty"`
	Digest  string            `json:"digest"`
}

// GenkitSynthesizerAdapter uses a Genkit Flow to implement the Synthesizer
// interface.
type GenkitSynthesizerAdapter struct {
	synthesizerFlow *core.Flow[*SynthesisInput, string, struct{}]
}

// NewGenkitSynthesizerAdapter creates a new adapter for the synthesizer flow.
func NewGenkitSynthesizerAdapter(flow *core.Flow[*SynthesisInput, string, struct{}]) *GenkitSynthesizerAdapter {
	return &GenkitSynthesizerAdapter{synthesizerFlow: flow}
}

// Synthesize implements the agenticrag.Synthesizer interface. The result
// digest handed to the model names every failed capability so partial
// results are acknowledged, never silently dropped.
func (a *GenkitSynthesizerAdapter) Synthesize(ctx context.Context, query string, history []agenticrag.Turn, results []agenticrag.ToolResult) (string, error) {
	if a.synthesizerFlow == nil {
		return "", agenticrag.NewConfigurationError("synthesizer flow is not configured", nil)
	}

	input := SynthesisInput{
		Query:   query,
		History: history,
		Digest:  BuildResultDigest(results),
	}

	finalAnswer, err := a.synthesizerFlow.Run(ctx, &input)
	if err != nil {
		// A flow failure means the model backend itself is down, which is a
		// different class than a post-flow synthesis problem.
		return "", agenticrag.NewBackendUnreachableError("synthesis", err)
	}

	return finalAnswer, nil
}

// BuildResultDigest renders a mixed result set as prompt-ready text. Every
// failed or timed-out invocation appears by tool name with its error so the
// model can acknowledge what is missing.
func BuildResultDigest(results []agenticrag.ToolResult) string {
	if len(results) == 0 {
		return "No tools were used for this request."
	}

	var b strings.Builder
	for i, result := range results {
		fmt.Fprintf(&b, "[%d] tool=%s", i+1, result.Intent.Tool)
		switch result.Status {
		case agenticrag.StatusOK:
			b.WriteString(" status=ok\n")
			b.WriteString(renderPayload(result.Payload))
		case agenticrag.StatusTimeout:
			fmt.Fprintf(&b, " status=timeout\nThe '%s' capability did not respond in time: %s\n",
				result.Intent.Tool, result.ErrorMsg)
		default:
			fmt.Fprintf(&b, " status=failed\nThe '%s' capability failed: %s\n",
				result.Intent.Tool, result.ErrorMsg)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func renderPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return "(empty result)\n"
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v\n", payload)
	}
	return string(data) + "\n"
}
