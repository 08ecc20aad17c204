// Package executor implements the concurrent dispatch substrate shared by
// the request pipeline and the automation loop.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// IntentExecutor fans a batch of intents out over a bounded worker pool. One
// slow or stuck tool never blocks its siblings: each invocation is waited on
// with a per-tool timeout, and results land at the index of their intent so
// output order is deterministic regardless of completion order.
type IntentExecutor struct {
	maxWorkers  int
	toolTimeout time.Duration
	log         zerolog.Logger

	metrics DispatchMetrics
}

// ExecutorOption represents an option for configuring the IntentExecutor.
type ExecutorOption func(*IntentExecutor)

// WithMaxWorkers bounds the number of concurrently running tools.
func WithMaxWorkers(workers int) ExecutorOption {
	return func(e *IntentExecutor) {
		if workers > 0 {
			e.maxWorkers = workers
		}
	}
}

// WithToolTimeout sets the per-tool wait bound. When it elapses the batch
// stops waiting for that tool and records a timeout result; the tool's
// goroutine is handed a cancelled context and abandoned.
func WithToolTimeout(timeout time.Duration) ExecutorOption {
	return func(e *IntentExecutor) {
		if timeout > 0 {
			e.toolTimeout = timeout
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(log zerolog.Logger) ExecutorOption {
	return func(e *IntentExecutor) {
		e.log = log
	}
}

// NewExecutor creates a new executor with default settings.
func NewExecutor(options ...ExecutorOption) *IntentExecutor {
	e := &IntentExecutor{
		maxWorkers:  8,
		toolTimeout: 30 * time.Second,
		log:         zerolog.Nop(),
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Dispatch runs every intent against the given tool snapshot and returns one
// result per intent, in intent order. Tool failures, validation failures,
// and timeouts become per-result statuses; the returned error is reserved
// for cancellation of the whole batch.
func (e *IntentExecutor) Dispatch(ctx context.Context, intents []agenticrag.Intent, tools map[string]agenticrag.Tool) ([]agenticrag.ToolResult, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	startTime := time.Now()
	e.log.Debug().Int("intent_count", len(intents)).Msg("starting dispatch batch")

	results := make([]agenticrag.ToolResult, len(intents))

	workerPool := pool.New().WithMaxGoroutines(e.maxWorkers)
	for i, intent := range intents {
		workerPool.Go(func() {
			results[i] = e.invoke(ctx, intent, tools)
		})
	}
	workerPool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, agenticrag.NewCancelledError("dispatch", err)
	}

	e.updateMetrics(results, time.Since(startTime))
	return results, nil
}

// invoke runs a single intent to completion, timeout, or failure.
func (e *IntentExecutor) invoke(ctx context.Context, intent agenticrag.Intent, tools map[string]agenticrag.Tool) agenticrag.ToolResult {
	started := time.Now()
	result := agenticrag.ToolResult{Intent: intent}

	tool, exists := tools[intent.Tool]
	if !exists {
		result.Status = agenticrag.StatusError
		result.ErrorMsg = agenticrag.NewToolNotFoundError("dispatch", intent.Tool).Error()
		result.Duration = time.Since(started)
		return result
	}

	if err := tool.Validate(intent.Args); err != nil {
		result.Status = agenticrag.StatusError
		result.ErrorMsg = agenticrag.NewValidationError("dispatch", "invalid arguments for tool '"+intent.Tool+"'", err).Error()
		result.Duration = time.Since(started)
		e.log.Debug().Str("tool", intent.Tool).Err(err).Msg("intent rejected by validation")
		return result
	}

	// The tool runs in its own goroutine so a stuck tool cannot hold the
	// worker past the timeout. Abandoned invocations see a cancelled
	// context and are expected to unwind on their own.
	type outcome struct {
		payload map[string]interface{}
		err     error
	}
	toolCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		payload, err := tool.Execute(toolCtx, intent.Args)
		done <- outcome{payload: payload, err: err}
	}()

	timer := time.NewTimer(e.toolTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		cancel()
		result.Duration = time.Since(started)
		if out.err != nil {
			result.Status = agenticrag.StatusError
			execErr := out.err
			if !agenticrag.IsAgentError(execErr) {
				execErr = agenticrag.NewToolExecutionError("dispatch", intent.Tool, execErr)
			}
			result.ErrorMsg = execErr.Error()
			e.log.Debug().Str("tool", intent.Tool).Err(out.err).Msg("tool execution failed")
			return result
		}
		result.Status = agenticrag.StatusOK
		result.Payload = out.payload
		return result

	case <-timer.C:
		cancel()
		result.Status = agenticrag.StatusTimeout
		result.ErrorMsg = agenticrag.NewTimeoutError("dispatch", intent.Tool).Error()
		result.Duration = time.Since(started)
		e.log.Warn().Str("tool", intent.Tool).Dur("timeout", e.toolTimeout).Msg("stopped waiting for tool")
		return result

	case <-ctx.Done():
		cancel()
		result.Status = agenticrag.StatusError
		result.ErrorMsg = agenticrag.NewCancelledError("dispatch", ctx.Err()).Error()
		result.Duration = time.Since(started)
		return result
	}
}

// Metrics returns a copy of the accumulated dispatch metrics.
func (e *IntentExecutor) Metrics() DispatchMetrics {
	return e.metrics.Copy()
}

func (e *IntentExecutor) updateMetrics(results []agenticrag.ToolResult, elapsed time.Duration) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()

	e.metrics.BatchesDispatched++
	e.metrics.TotalDuration += elapsed
	for _, result := range results {
		e.metrics.ToolsInvoked++
		switch result.Status {
		case agenticrag.StatusOK:
			e.metrics.ToolsSucceeded++
		case agenticrag.StatusTimeout:
			e.metrics.ToolsTimedOut++
		default:
			e.metrics.ToolsFailed++
		}
		if result.Duration > e.metrics.LongestToolTime {
			e.metrics.LongestToolTime = result.Duration
		}
	}
}
