package agenticrag

import (
	"context"
	"fmt"
	"time"

	"github.com/changxeokSong/agentic-rag/internal/eventbus"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Query        string        `json:"query"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// AsyncStatus retrieves the current status of an async execution.
func (a *Agent) AsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	pCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Query:        pCtx.Query,
		CurrentState: pCtx.CurrentState,
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   pCtx.CurrentState == StateComplete,
		HasError:     pCtx.CurrentState == StateError,
	}

	if pCtx.LastError != nil {
		status.ErrorMessage = pCtx.LastError.Error()
		status.ErrorStage = pCtx.ErrorStage
	}

	return status, nil
}

// AsyncResult retrieves the result of a completed async execution.
// Returns an error if the execution is not complete or failed.
func (a *Agent) AsyncResult(executionID string) (string, error) {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	pCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return "", fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if pCtx.CurrentState != StateComplete {
		if pCtx.CurrentState == StateError {
			return "", fmt.Errorf("execution failed during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
		}
		if pCtx.CurrentState == StateCancelled {
			return "", fmt.Errorf("execution was cancelled during stage '%s'", pCtx.ErrorStage)
		}
		return "", fmt.Errorf("execution is still in progress (current state: %s)", pCtx.CurrentState)
	}

	if pCtx.LastError != nil {
		return "", fmt.Errorf("execution completed but encountered an error during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
	}

	return pCtx.FinalAnswer, nil
}

// CancelAsync cancels an ongoing async execution.
// Returns true if the execution was cancelled, false if it had already
// finished.
func (a *Agent) CancelAsync(executionID string) (bool, error) {
	a.asyncExecutionsMutex.Lock()
	defer a.asyncExecutionsMutex.Unlock()

	pCtx, exists := a.asyncExecutions[executionID]
	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	if pCtx.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := pCtx.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel execution: cancel function not found")
	}
	cancelFn()

	pCtx.SetCancelled(NewCancelledError(string(pCtx.CurrentState), nil), string(pCtx.CurrentState))

	_ = a.eventBus.Publish(context.Background(), eventbus.NewEvent(
		eventbus.EventRequestAsyncCancelled,
		pCtx.Query,
		"Agent.CancelAsync",
		map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  pCtx.GetTotalDuration().Milliseconds(),
		},
	))

	return true, nil
}

// ListAsyncExecutions returns all async execution IDs and their current states.
func (a *Agent) ListAsyncExecutions() map[string]string {
	a.asyncExecutionsMutex.RLock()
	defer a.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string)
	for id, pCtx := range a.asyncExecutions {
		result[id] = string(pCtx.CurrentState)
	}

	return result
}

// CleanupCompletedExecutions removes terminal executions older than the given
// duration, bounding memory held by the async map.
func (a *Agent) CleanupCompletedExecutions(olderThan time.Duration) int {
	a.asyncExecutionsMutex.Lock()
	defer a.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, pCtx := range a.asyncExecutions {
		if pCtx.IsTerminal() && now.Sub(pCtx.StateStartTimes[pCtx.CurrentState]) > olderThan {
			delete(a.asyncExecutions, id)
			count++
		}
	}

	return count
}
