package agenticrag

import (
	"context"
	"time"

	"github.com/changxeokSong/agentic-rag/internal/eventbus"
)

// pipelineComponents holds references to the components needed for state
// transitions.
type pipelineComponents struct {
	analyzer    Analyzer
	executor    Executor
	synthesizer Synthesizer
	registry    *Registry
	config      Config
}

// createPipelineStateMachine builds the complete state machine for one
// request: init -> analysis -> dispatch -> synthesis -> complete, with error
// and cancelled as terminal sinks.
func createPipelineStateMachine(components pipelineComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateAnalysis, createAnalysisTransition(components))
	sm.RegisterTransition(StateDispatch, createDispatchTransition(components))
	sm.RegisterTransition(StateSynthesis, createSynthesisTransition(components))

	return sm
}

func publish(ctx context.Context, eb eventbus.EventBus, event *eventbus.BaseEvent) {
	if eb != nil {
		_ = eb.Publish(ctx, event)
	}
}

// createInitTransition prepares the analyzer input from the enabled tool set.
func createInitTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventRequestStarted,
			pCtx.Query,
			"StateMachine.Init",
			map[string]interface{}{
				"request_id": pCtx.RequestID,
				"timestamp":  time.Now().Format(time.RFC3339),
			},
		))

		// Disabled tools are invisible from here on.
		pCtx.AnalyzerInput = AnalyzerInput{
			Query:      pCtx.Query,
			History:    pCtx.History,
			ToolSchema: components.registry.Schemas(),
		}

		return StateAnalysis, nil
	}
}

// createAnalysisTransition maps the request onto intents. Repair of malformed
// analyzer output happens inside the Analyzer; an error surfacing here means
// the backend itself failed.
func createAnalysisTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventAnalysisStarted,
			pCtx.Query,
			"StateMachine.Analysis",
			map[string]interface{}{"request_id": pCtx.RequestID},
		))

		intents, err := components.analyzer.Analyze(ctx, pCtx.AnalyzerInput)
		if err != nil {
			publish(ctx, eb, eventbus.NewEvent(
				eventbus.EventAnalysisFailure,
				err.Error(),
				"StateMachine.Analysis",
				map[string]interface{}{
					"request_id": pCtx.RequestID,
					"error":      err.Error(),
				},
			))
			pCtx.SetError(err, "analysis")
			return StateError, err
		}

		for i := range intents {
			intents[i].RequestID = pCtx.RequestID
		}
		pCtx.Intents = intents

		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventAnalysisSuccess,
			intents,
			"StateMachine.Analysis",
			map[string]interface{}{
				"request_id":   pCtx.RequestID,
				"intent_count": len(intents),
			},
		))

		// An empty intent list is a valid outcome: the request needs no
		// tools and goes straight to a conversational reply.
		if len(intents) == 0 {
			return StateSynthesis, nil
		}

		return StateDispatch, nil
	}
}

// createDispatchTransition fans the intents out against a snapshot of the
// enabled tool set. Individual tool failures become per-result statuses and
// never abort the batch.
func createDispatchTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		snapshot := components.registry.Snapshot()

		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventDispatchStarted,
			pCtx.Intents,
			"StateMachine.Dispatch",
			map[string]interface{}{
				"request_id":   pCtx.RequestID,
				"intent_count": len(pCtx.Intents),
			},
		))

		// An intent naming a tool outside the snapshot becomes a failed
		// result instead of aborting its siblings.
		dispatchable := make([]Intent, 0, len(pCtx.Intents))
		for _, intent := range pCtx.Intents {
			if _, ok := snapshot[intent.Tool]; ok {
				dispatchable = append(dispatchable, intent)
			}
		}

		dispatched, err := components.executor.Dispatch(ctx, dispatchable, snapshot)
		if err != nil {
			publish(ctx, eb, eventbus.NewEvent(
				eventbus.EventDispatchFailure,
				err.Error(),
				"StateMachine.Dispatch",
				map[string]interface{}{
					"request_id": pCtx.RequestID,
					"error":      err.Error(),
				},
			))
			pCtx.SetError(err, "dispatch")
			return StateError, err
		}

		// Merge back in intent order so results always correspond 1:1 to
		// intents regardless of completion order.
		results := make([]ToolResult, 0, len(pCtx.Intents))
		next := 0
		for _, intent := range pCtx.Intents {
			if _, ok := snapshot[intent.Tool]; ok {
				results = append(results, dispatched[next])
				next++
				continue
			}
			notFound := NewToolNotFoundError("dispatch", intent.Tool)
			results = append(results, ToolResult{
				Intent:   intent,
				Status:   StatusError,
				ErrorMsg: notFound.Error(),
			})
		}
		pCtx.Results = results

		failed := 0
		for _, result := range results {
			if !result.OK() {
				failed++
			}
		}

		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventDispatchSuccess,
			results,
			"StateMachine.Dispatch",
			map[string]interface{}{
				"request_id":   pCtx.RequestID,
				"result_count": len(results),
				"failed_count": failed,
			},
		))

		return StateSynthesis, nil
	}
}

// createSynthesisTransition merges the mixed result set into the final reply.
func createSynthesisTransition(components pipelineComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventSynthesisStarted,
			pCtx.Query,
			"StateMachine.Synthesis",
			map[string]interface{}{
				"request_id":   pCtx.RequestID,
				"result_count": len(pCtx.Results),
			},
		))

		finalAnswer, err := components.synthesizer.Synthesize(ctx, pCtx.Query, pCtx.History, pCtx.Results)
		if err != nil {
			publish(ctx, eb, eventbus.NewEvent(
				eventbus.EventSynthesisFailure,
				err.Error(),
				"StateMachine.Synthesis",
				map[string]interface{}{
					"request_id": pCtx.RequestID,
					"error":      err.Error(),
				},
			))
			pCtx.SetError(err, "synthesis")
			return StateError, err
		}

		pCtx.FinalAnswer = finalAnswer

		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventSynthesisSuccess,
			finalAnswer,
			"StateMachine.Synthesis",
			map[string]interface{}{
				"request_id":    pCtx.RequestID,
				"answer_length": len(finalAnswer),
			},
		))
		publish(ctx, eb, eventbus.NewEvent(
			eventbus.EventRequestSuccess,
			pCtx.Query,
			"StateMachine.Synthesis",
			map[string]interface{}{
				"request_id":  pCtx.RequestID,
				"duration_ms": pCtx.GetTotalDuration().Milliseconds(),
			},
		))

		pCtx.Complete()
		return StateComplete, nil
	}
}
