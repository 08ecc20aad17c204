// Package prompt manages the Genkit prompts used by the analyzer and
// synthesizer flows.
package prompt

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Prompt names looked up by the flows.
const (
	PromptAnalyzer       = "analyzer"
	PromptSynthesizer    = "synthesizer"
	PromptConversational = "conversational"
)

// Registry manages the loading and execution of Genkit prompts.
type Registry struct {
	genkitInstance *genkit.Genkit
}

// NewRegistry initializes the Genkit environment and creates a prompt registry.
// It takes Genkit initialization options, such as plugin configurations and the
// prompt directory.
func NewRegistry(ctx context.Context, opts ...genkit.GenkitOption) (*Registry, error) {
	g, err := genkit.Init(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Genkit: %w", err)
	}

	r := &Registry{genkitInstance: g}
	if err := r.defineDefaultPrompts(); err != nil {
		return nil, err
	}
	return r, nil
}

// Genkit returns the underlying Genkit instance for flow definitions.
func (r *Registry) Genkit() *genkit.Genkit {
	return r.genkitInstance
}

// GetPrompt retrieves a loaded prompt by its name using Genkit's lookup.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	p := genkit.LookupPrompt(r.genkitInstance, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// ExecutePrompt retrieves a prompt by name, renders it with the given input,
// and executes it against the configured model.
func (r *Registry) ExecutePrompt(ctx context.Context, promptName string, input map[string]interface{}, execOpts ...ai.PromptExecuteOption) (*ai.ModelResponse, error) {
	p, err := r.GetPrompt(promptName)
	if err != nil {
		return nil, err
	}

	allOpts := append([]ai.PromptExecuteOption{ai.WithInput(input)}, execOpts...)

	resp, err := p.Execute(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute prompt '%s': %w", promptName, err)
	}

	return resp, nil
}

// DefinePrompt allows defining prompts programmatically via the registry.
func (r *Registry) DefinePrompt(name string, opts ...ai.PromptOption) (*ai.Prompt, error) {
	p, err := genkit.DefinePrompt(r.genkitInstance, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return p, nil
}

// defineDefaultPrompts registers the built-in prompt set. Prompts loaded
// from the prompt directory take precedence through LookupPrompt.
func (r *Registry) defineDefaultPrompts() error {
	if genkit.LookupPrompt(r.genkitInstance, PromptAnalyzer) == nil {
		if _, err := r.DefinePrompt(PromptAnalyzer,
			ai.WithSystem(analyzerSystemPrompt),
			ai.WithPrompt(analyzerUserPrompt),
		); err != nil {
			return err
		}
	}

	if genkit.LookupPrompt(r.genkitInstance, PromptSynthesizer) == nil {
		if _, err := r.DefinePrompt(PromptSynthesizer,
			ai.WithSystem(synthesizerSystemPrompt),
			ai.WithPrompt(synthesizerUserPrompt),
		); err != nil {
			return err
		}
	}

	if genkit.LookupPrompt(r.genkitInstance, PromptConversational) == nil {
		if _, err := r.DefinePrompt(PromptConversational,
			ai.WithSystem(conversationalSystemPrompt),
			ai.WithPrompt(synthesizerUserPrompt),
		); err != nil {
			return err
		}
	}

	return nil
}

const analyzerSystemPrompt = `You map a user request onto a closed set of tools.
Reply with ONLY a JSON array of intents. Each intent is an object:
  {"tool": "<tool name>", "args": {<parameter>: <value>, ...}}

Rules:
- Only use tools from the provided schema. Never invent tool names.
- A compound request maps to multiple intents, one per sub-request, in request order.
- If the request needs no tool (small talk, general knowledge), reply with [].
- If two tools could serve a sub-request, prefer the one whose description
  matches the request wording more specifically.
- No prose, no markdown, no code fences. JSON only.`

const analyzerUserPrompt = `Available tools:
{{toolSchema}}

{{#if history}}Conversation so far:
{{history}}

{{/if}}{{#if repairHint}}{{repairHint}}

{{/if}}User request: {{query}}`

const synthesizerSystemPrompt = `You write the final reply to the user based on
tool results. Ground every claim in the digest below. When a tool failed or
timed out, say plainly which capability was unavailable and answer with what
remains. Never invent values for missing results.`

const synthesizerUserPrompt = `{{#if history}}Conversation so far:
{{history}}

{{/if}}User request: {{query}}

Tool results:
{{digest}}`

const conversationalSystemPrompt = `You are a helpful assistant for a water
level monitoring system. Answer the user directly from the conversation; no
tool results are available for this request.`
