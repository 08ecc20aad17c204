package agenticrag

import (
	"time"
)

// ResultStatus represents the outcome class of a single tool invocation.
type ResultStatus string

const (
	// StatusOK indicates the tool completed and produced a payload.
	StatusOK ResultStatus = "ok"
	// StatusError indicates the tool failed validation or execution.
	StatusError ResultStatus = "error"
	// StatusTimeout indicates the caller stopped waiting for the tool.
	StatusTimeout ResultStatus = "timeout"
)

// Intent is a structured request to invoke one named tool with parameters,
// derived from free-form user text by the analyzer.
type Intent struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	RequestID string                 `json:"request_id,omitempty"`
}

// ToolResult is the outcome of exactly one dispatched intent. Results are
// reported in intent correspondence; completion order is unspecified.
type ToolResult struct {
	Intent   Intent                 `json:"intent"`
	Status   ResultStatus           `json:"status"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	ErrorMsg string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Status == StatusOK }

// Turn is a single prior exchange in a conversation.
type Turn struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Conversation is the caller-owned ordered history of prior turns. The agent
// never rewrites history; it only appends the finished turn.
type Conversation struct {
	Turns []Turn
}

// Append records a finished exchange.
func (c *Conversation) Append(role, content string) {
	c.Turns = append(c.Turns, Turn{Role: role, Content: content, Time: time.Now()})
}

// AnalyzerInput carries everything the analyzer needs to map a request onto
// the enabled tool set. RepairHint is set only on the single repair attempt
// after a malformed analysis.
type AnalyzerInput struct {
	Query      string                            `json:"query"`
	History    []Turn                            `json:"history,omitempty"`
	ToolSchema map[string]map[string]interface{} `json:"tool_schema"`
	RepairHint string                            `json:"repair_hint,omitempty"`
}

// SampleSource records where a water level reading came from.
type SampleSource string

const (
	SourceSensor   SampleSource = "sensor"
	SourceHistory  SampleSource = "history"
	SourceForecast SampleSource = "forecast"
)

// WaterLevelSample is one immutable reading of a site's water level together
// with the pump states observed at the same instant.
type WaterLevelSample struct {
	Site      string          `json:"site"`
	Timestamp time.Time       `json:"timestamp"`
	Level     float64         `json:"level"`
	Pumps     map[string]bool `json:"pumps,omitempty"`
	Source    SampleSource    `json:"source"`
	Stale     bool            `json:"stale,omitempty"`
}

// PumpState is the last known actuator state for one pump at one site.
type PumpState struct {
	Site       string    `json:"site"`
	Pump       string    `json:"pump"`
	On         bool      `json:"on"`
	LastChange time.Time `json:"last_change"`
}

// ActionKind enumerates the decision engine's possible outputs.
type ActionKind string

const (
	ActionNone       ActionKind = "no-op"
	ActionPumpOn     ActionKind = "pump-on"
	ActionPumpOff    ActionKind = "pump-off"
	ActionRaiseAlert ActionKind = "raise-alert"
)

// Action is one concrete decision engine output.
type Action struct {
	Kind ActionKind `json:"kind"`
	Site string     `json:"site,omitempty"`
	Pump string     `json:"pump,omitempty"`
}

// AutomationDecision is one append-only audit log entry. Entries are strictly
// increasing in timestamp and never retracted.
type AutomationDecision struct {
	Timestamp time.Time        `json:"timestamp"`
	Sample    WaterLevelSample `json:"sample"`
	Pump      PumpState        `json:"pump"`
	Action    Action           `json:"action"`
	Rationale string           `json:"rationale"`
	Armed     bool             `json:"armed"`
	Executed  bool             `json:"executed"`
	ErrorMsg  string           `json:"error,omitempty"`
}
