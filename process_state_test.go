package agenticrag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/changxeokSong/agentic-rag/internal/eventbus"
)

func TestStateMachine_Execute_ErrorState(t *testing.T) {
	sm := NewStateMachine(nil)
	pCtx := NewProcessContext("req-1", "test query", nil)
	pCtx.SetError(errors.New("fail"), "analysis")

	final, err := sm.Execute(context.Background(), pCtx)
	if err == nil {
		t.Error("expected error for error state, got nil")
	}
	if final != "" {
		t.Errorf("expected empty final answer, got %v", final)
	}
}

func TestStateMachine_Execute_Cancellation(t *testing.T) {
	machine := NewStateMachine(nil)
	machine.RegisterTransition(StateInit, func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		return StateComplete, nil
	})
	pCtx := NewProcessContext("req-2", "test query", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, err := machine.Execute(ctx, pCtx)
	if err == nil {
		t.Error("expected error for cancellation, got nil")
	}
	if final != "" {
		t.Errorf("expected empty final answer, got %v", final)
	}
	if pCtx.CurrentState != StateCancelled {
		t.Errorf("expected cancelled state, got %s", pCtx.CurrentState)
	}
}

func TestStateMachine_Execute_MissingTransition(t *testing.T) {
	sm := NewStateMachine(nil)
	pCtx := NewProcessContext("req-3", "test query", nil)

	_, err := sm.Execute(context.Background(), pCtx)
	if err == nil || !strings.Contains(err.Error(), string(StateInit)) {
		t.Errorf("expected missing transition error naming the state, got %v", err)
	}
	if pCtx.CurrentState != StateError {
		t.Errorf("expected error state, got %s", pCtx.CurrentState)
	}
}

func TestProcessContext_PushPop(t *testing.T) {
	pCtx := NewProcessContext("req-4", "test query", nil)

	pCtx.PushState(StateAnalysis)
	pCtx.PushState(StateDispatch)
	if pCtx.CurrentState != StateDispatch {
		t.Errorf("expected dispatch, got %s", pCtx.CurrentState)
	}

	if !pCtx.PopState() {
		t.Fatal("expected pop to succeed")
	}
	if pCtx.CurrentState != StateAnalysis {
		t.Errorf("expected analysis after pop, got %s", pCtx.CurrentState)
	}
	if !pCtx.PopState() {
		t.Fatal("expected pop to succeed")
	}
	if pCtx.CurrentState != StateInit {
		t.Errorf("expected init after pop, got %s", pCtx.CurrentState)
	}
	if pCtx.PopState() {
		t.Error("expected pop on empty stack to fail")
	}
}

func TestProcessContext_TerminalStates(t *testing.T) {
	pCtx := NewProcessContext("req-5", "test query", nil)
	if pCtx.IsTerminal() {
		t.Error("fresh context must not be terminal")
	}

	pCtx.Complete()
	if !pCtx.IsTerminal() {
		t.Error("completed context must be terminal")
	}
	if pCtx.EndTime.IsZero() {
		t.Error("completion must record the end time")
	}
	if pCtx.GetTotalDuration() < 0 {
		t.Error("total duration must not be negative")
	}
}
