package agenticrag

import "context"

// Tool represents an executable capability held by the registry. Every
// concrete capability (search, computation, telemetry, forecasting,
// actuation) implements exactly this shape regardless of transport.
type Tool interface {
	// Execute performs the tool's action with already-validated input.
	Execute(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

	// Schema returns the tool's descriptor, used by the analyzer prompt and
	// by parameter validation. Standard keys:
	// - "description": what the tool does
	// - "parameters": map of parameter name to its JSON-schema-ish spec
	// - "required": list of mandatory parameter names
	// - "returns": description of the payload
	// - "category": optional grouping
	Schema() map[string]interface{}

	// Validate checks if the provided input is valid for this tool.
	Validate(input map[string]interface{}) error

	// Name returns the tool's unique name.
	Name() string
}

// Analyzer maps a natural-language request onto an ordered list of intents
// against a closed, enumerable schema set. A nil-error empty slice means the
// request needs no tools (pure conversational answer).
type Analyzer interface {
	Analyze(ctx context.Context, input AnalyzerInput) ([]Intent, error)
}

// Executor dispatches a batch of intents concurrently against a snapshot of
// the enabled tool set and returns results in intent correspondence. Tool
// failures never surface as the returned error; they become per-result
// statuses. The error is reserved for context cancellation.
type Executor interface {
	Dispatch(ctx context.Context, intents []Intent, tools map[string]Tool) ([]ToolResult, error)
}

// Synthesizer merges the original request, history, and the full mixed
// result set into one reply. Failed sub-requests must be named, never
// silently dropped.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, history []Turn, results []ToolResult) (string, error)
}

// Cache provides storage for frequently recomputed data, like analysis
// output for repeated queries. A miss is reported through the error.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
