package agenticrag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockAnalyzer struct {
	mu      sync.Mutex
	intents []Intent
	err     error
	input   AnalyzerInput
	block   chan struct{}
}

func (m *mockAnalyzer) Analyze(ctx context.Context, input AnalyzerInput) ([]Intent, error) {
	m.mu.Lock()
	m.input = input
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.intents, nil
}

func (m *mockAnalyzer) lastInput() AnalyzerInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input
}

// passthroughExecutor runs each tool synchronously, in order.
type passthroughExecutor struct {
	mu      sync.Mutex
	batches int
}

func (e *passthroughExecutor) Dispatch(ctx context.Context, intents []Intent, tools map[string]Tool) ([]ToolResult, error) {
	e.mu.Lock()
	e.batches++
	e.mu.Unlock()

	results := make([]ToolResult, len(intents))
	for i, intent := range intents {
		tool, ok := tools[intent.Tool]
		if !ok {
			results[i] = ToolResult{Intent: intent, Status: StatusError, ErrorMsg: "tool not in snapshot"}
			continue
		}
		payload, err := tool.Execute(ctx, intent.Args)
		if err != nil {
			results[i] = ToolResult{Intent: intent, Status: StatusError, ErrorMsg: err.Error()}
			continue
		}
		results[i] = ToolResult{Intent: intent, Status: StatusOK, Payload: payload}
	}
	return results, nil
}

func (e *passthroughExecutor) batchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

type mockSynthesizer struct {
	mu      sync.Mutex
	answer  string
	err     error
	results []ToolResult
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, query string, history []Turn, results []ToolResult) (string, error) {
	m.mu.Lock()
	m.results = results
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockSynthesizer) seenResults() []ToolResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results
}

func newTestAgent(t *testing.T, analyzer Analyzer, exec Executor, synth Synthesizer, toolNames ...string) *Agent {
	t.Helper()
	registry := NewRegistry()
	for _, name := range toolNames {
		if err := registry.Register(&namedTool{name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	agent, err := New(context.Background(),
		WithAnalyzer(analyzer),
		WithExecutor(exec),
		WithSynthesizer(synth),
		WithRegistry(registry),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { agent.Close() })
	return agent
}

func TestAgent_HandleCompoundRequest(t *testing.T) {
	analyzer := &mockAnalyzer{intents: []Intent{
		{ID: "i1", Tool: "alpha", Args: map[string]interface{}{"x": 1.0}},
		{ID: "i2", Tool: "beta"},
	}}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "both done"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha", "beta")

	conv := &Conversation{}
	answer, err := agent.Handle(context.Background(), "do alpha and beta", conv)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if answer != "both done" {
		t.Errorf("unexpected answer %q", answer)
	}

	results := synth.seenResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Intent.Tool != "alpha" || results[1].Intent.Tool != "beta" {
		t.Errorf("results must follow intent order, got %s then %s",
			results[0].Intent.Tool, results[1].Intent.Tool)
	}
	for _, result := range results {
		if result.Intent.RequestID == "" {
			t.Error("intents must be stamped with the request ID")
		}
	}

	if len(conv.Turns) != 2 || conv.Turns[0].Role != "user" || conv.Turns[1].Role != "assistant" {
		t.Errorf("expected user and assistant turns appended, got %+v", conv.Turns)
	}
}

func TestAgent_AnalyzerSeesOnlyEnabledTools(t *testing.T) {
	analyzer := &mockAnalyzer{}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "ok"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha", "beta")

	if err := agent.Registry().SetEnabled("beta", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if _, err := agent.Handle(context.Background(), "anything", nil); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	schema := analyzer.lastInput().ToolSchema
	if _, visible := schema["beta"]; visible {
		t.Error("disabled tool leaked into the analyzer input")
	}
	if _, visible := schema["alpha"]; !visible {
		t.Error("enabled tool missing from the analyzer input")
	}
}

func TestAgent_EmptyIntentsSkipDispatch(t *testing.T) {
	analyzer := &mockAnalyzer{intents: nil}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "just chatting"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	answer, err := agent.Handle(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if answer != "just chatting" {
		t.Errorf("unexpected answer %q", answer)
	}
	if exec.batchCount() != 0 {
		t.Error("no-tool requests must not reach dispatch")
	}
	if results := synth.seenResults(); len(results) != 0 {
		t.Errorf("expected empty result set, got %d", len(results))
	}
}

func TestAgent_BackendUnreachableFailsRequest(t *testing.T) {
	analyzer := &mockAnalyzer{err: NewBackendUnreachableError("analysis", fmt.Errorf("connection refused"))}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "never"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	conv := &Conversation{}
	_, err := agent.Handle(context.Background(), "anything", conv)
	if !IsBackendUnreachable(err) {
		t.Fatalf("expected backend unreachable, got %v", err)
	}
	if len(conv.Turns) != 0 {
		t.Error("failed requests must not append to the conversation")
	}
}

func TestAgent_UnknownToolIntentBecomesFailedResult(t *testing.T) {
	analyzer := &mockAnalyzer{intents: []Intent{
		{ID: "i1", Tool: "alpha"},
		{ID: "i2", Tool: "ghost"},
	}}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "partial"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	answer, err := agent.Handle(context.Background(), "alpha then ghost", nil)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if answer != "partial" {
		t.Errorf("unexpected answer %q", answer)
	}

	results := synth.seenResults()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != StatusOK {
		t.Errorf("expected alpha to succeed, got %s", results[0].Status)
	}
	if results[1].Status != StatusError || !strings.Contains(results[1].ErrorMsg, "ghost") {
		t.Errorf("expected named failure for unknown tool, got %+v", results[1])
	}
}

func TestAgent_SynthesisFailureFailsRequest(t *testing.T) {
	analyzer := &mockAnalyzer{intents: []Intent{{ID: "i1", Tool: "alpha"}}}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{err: NewSynthesisError(fmt.Errorf("model exploded"))}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	_, err := agent.Handle(context.Background(), "anything", nil)
	if !HasCode(err, ErrCodeSynthesis) {
		t.Fatalf("expected synthesis error, got %v", err)
	}
}

func TestAgent_HandleAsyncLifecycle(t *testing.T) {
	analyzer := &mockAnalyzer{intents: []Intent{{ID: "i1", Tool: "alpha"}}}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "async done"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	id, err := agent.HandleAsync(context.Background(), "run async", nil)
	if err != nil {
		t.Fatalf("HandleAsync failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := agent.AsyncStatus(id)
		if err != nil {
			t.Fatalf("AsyncStatus failed: %v", err)
		}
		if status.IsComplete {
			break
		}
		if status.HasError {
			t.Fatalf("async execution failed: %s", status.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("async execution did not finish, state %s", status.CurrentState)
		}
		time.Sleep(5 * time.Millisecond)
	}

	answer, err := agent.AsyncResult(id)
	if err != nil {
		t.Fatalf("AsyncResult failed: %v", err)
	}
	if answer != "async done" {
		t.Errorf("unexpected answer %q", answer)
	}

	if states := agent.ListAsyncExecutions(); states[id] != string(StateComplete) {
		t.Errorf("expected complete in execution list, got %v", states)
	}
	if removed := agent.CleanupCompletedExecutions(0); removed != 1 {
		t.Errorf("expected 1 cleaned execution, got %d", removed)
	}
}

func TestAgent_CancelAsync(t *testing.T) {
	block := make(chan struct{})
	analyzer := &mockAnalyzer{block: block, intents: []Intent{{ID: "i1", Tool: "alpha"}}}
	exec := &passthroughExecutor{}
	synth := &mockSynthesizer{answer: "never"}
	agent := newTestAgent(t, analyzer, exec, synth, "alpha")

	id, err := agent.HandleAsync(context.Background(), "slow request", nil)
	if err != nil {
		t.Fatalf("HandleAsync failed: %v", err)
	}

	cancelled, err := agent.CancelAsync(id)
	if err != nil {
		t.Fatalf("CancelAsync failed: %v", err)
	}
	if !cancelled {
		t.Fatal("expected in-flight execution to be cancelled")
	}

	if _, err := agent.AsyncResult(id); err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("expected cancelled result error, got %v", err)
	}

	// Cancelling again reports the execution already finished.
	cancelled, err = agent.CancelAsync(id)
	if err != nil {
		t.Fatalf("second CancelAsync failed: %v", err)
	}
	if cancelled {
		t.Error("terminal execution must not report cancelled again")
	}
	close(block)
}

func TestAgent_RequiresComponents(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(&namedTool{name: "alpha"})

	_, err := New(context.Background(),
		WithExecutor(&passthroughExecutor{}),
		WithSynthesizer(&mockSynthesizer{}),
		WithRegistry(registry),
	)
	if !HasCode(err, ErrCodeConfiguration) {
		t.Errorf("expected configuration error for missing analyzer, got %v", err)
	}

	_, err = New(context.Background(),
		WithAnalyzer(&mockAnalyzer{}),
		WithExecutor(&passthroughExecutor{}),
		WithSynthesizer(&mockSynthesizer{}),
		WithRegistry(NewRegistry()),
	)
	if !HasCode(err, ErrCodeConfiguration) {
		t.Errorf("expected configuration error for empty registry, got %v", err)
	}
}
