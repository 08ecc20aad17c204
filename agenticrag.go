// Package agenticrag provides the core runtime for tool-orchestrated
// request handling: request analysis, concurrent tool dispatch, and
// response synthesis over a closed registry of capabilities.
package agenticrag

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/changxeokSong/agentic-rag/internal/eventbus"
)

// Agent is the main entry point into the runtime. It owns the pipeline
// components and the registry of capabilities, and turns free-form requests
// into grounded replies.
type Agent struct {
	// Core components
	analyzer    Analyzer
	executor    Executor
	synthesizer Synthesizer
	registry    *Registry
	eventBus    eventbus.EventBus

	// Configuration
	config Config
	log    zerolog.Logger

	// Async processing
	asyncExecutions      map[string]*ProcessContext
	asyncExecutionsMutex sync.RWMutex
}

// Option is a function that configures an Agent instance.
type Option func(*Agent)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(a *Agent) {
		a.config = config
	}
}

// WithAnalyzer sets the request analyzer component.
func WithAnalyzer(analyzer Analyzer) Option {
	return func(a *Agent) {
		a.analyzer = analyzer
	}
}

// WithExecutor sets the dispatch executor component.
func WithExecutor(executor Executor) Option {
	return func(a *Agent) {
		a.executor = executor
	}
}

// WithSynthesizer sets the reply synthesizer component.
func WithSynthesizer(synthesizer Synthesizer) Option {
	return func(a *Agent) {
		a.synthesizer = synthesizer
	}
}

// WithRegistry sets the tool registry.
func WithRegistry(registry *Registry) Option {
	return func(a *Agent) {
		a.registry = registry
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Agent) {
		a.log = log
	}
}

// New creates a new Agent with the provided options.
func New(ctx context.Context, options ...Option) (*Agent, error) {
	a := &Agent{
		config:          DefaultConfig(),
		log:             zerolog.Nop(),
		asyncExecutions: make(map[string]*ProcessContext),
	}

	for _, option := range options {
		option(a)
	}

	// Validate required components
	if a.analyzer == nil {
		return nil, NewConfigurationError("analyzer is required", nil)
	}
	if a.executor == nil {
		return nil, NewConfigurationError("executor is required", nil)
	}
	if a.synthesizer == nil {
		return nil, NewConfigurationError("synthesizer is required", nil)
	}
	if a.registry == nil {
		return nil, NewConfigurationError("tool registry is required", nil)
	}
	if len(a.registry.Names()) == 0 {
		return nil, NewConfigurationError("at least one tool is required", nil)
	}
	if err := a.config.Validate(); err != nil {
		return nil, err
	}

	// Initialize a default event bus if none was provided
	if a.eventBus == nil {
		a.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithLogger(a.log),
		)
		a.log.Debug().Msg("initialized default channel-based event bus")
	}

	return a, nil
}

// Registry returns the tool registry.
func (a *Agent) Registry() *Registry {
	return a.registry
}

// EventBus returns the event bus.
func (a *Agent) EventBus() eventbus.EventBus {
	return a.eventBus
}

// Config returns the active configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Close releases the agent's resources.
func (a *Agent) Close() error {
	return a.eventBus.Close()
}

// Handle runs one request through the full pipeline and returns the final
// reply. On success the exchange is appended to conv; history is never
// rewritten. Tool failures do not fail the request; an unreachable model
// backend does.
func (a *Agent) Handle(ctx context.Context, query string, conv *Conversation) (string, error) {
	requestID := uuid.New().String()

	stateMachine := a.createStateMachine()
	processContext := NewProcessContext(requestID, query, a.historySnapshot(conv))

	a.log.Debug().Str("request_id", requestID).Str("query", query).Msg("handling request")

	answer, err := stateMachine.Execute(ctx, processContext)
	if err != nil {
		a.log.Error().Str("request_id", requestID).Str("stage", processContext.ErrorStage).Err(err).
			Msg("request failed")
		return "", err
	}

	if conv != nil {
		conv.Append("user", query)
		conv.Append("assistant", answer)
	}
	return answer, nil
}

// HandleAsync starts an asynchronous request execution. It returns a unique
// execution ID for polling via AsyncStatus and AsyncResult. The conversation
// is snapshotted at submission and never mutated.
func (a *Agent) HandleAsync(ctx context.Context, query string, conv *Conversation) (string, error) {
	executionID := uuid.New().String()

	stateMachine := a.createStateMachine()
	processContext := NewProcessContext(executionID, query, a.historySnapshot(conv))

	a.asyncExecutionsMutex.Lock()
	a.asyncExecutions[executionID] = processContext
	a.asyncExecutionsMutex.Unlock()

	// The async execution outlives the submitting context.
	asyncCtx, cancel := context.WithCancel(context.Background())
	processContext.StateData["cancel"] = cancel

	_ = a.eventBus.Publish(ctx, eventbus.NewEvent(
		eventbus.EventRequestAsyncStarted,
		query,
		"Agent.HandleAsync",
		map[string]interface{}{
			"timestamp":    time.Now().Format(time.RFC3339),
			"execution_id": executionID,
		},
	))

	go func() {
		defer cancel()

		result, err := stateMachine.Execute(asyncCtx, processContext)

		a.asyncExecutionsMutex.Lock()
		if pCtx, exists := a.asyncExecutions[executionID]; exists {
			pCtx.FinalAnswer = result
			if err != nil {
				pCtx.SetError(err, string(pCtx.CurrentState))
			} else if pCtx.CurrentState != StateComplete {
				pCtx.Complete()
			}
		}
		a.asyncExecutionsMutex.Unlock()

		eventType := eventbus.EventRequestAsyncSuccess
		metadata := map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  processContext.GetTotalDuration().Milliseconds(),
		}
		if err != nil {
			eventType = eventbus.EventRequestAsyncFailure
			metadata["error"] = err.Error()
			metadata["error_stage"] = processContext.ErrorStage
		}
		// Use a background context since the submitting context may be done
		_ = a.eventBus.Publish(context.Background(), eventbus.NewEvent(
			eventType,
			query,
			"Agent.HandleAsync",
			metadata,
		))
	}()

	return executionID, nil
}

// historySnapshot copies the conversation turns so the pipeline works on an
// immutable view.
func (a *Agent) historySnapshot(conv *Conversation) []Turn {
	if conv == nil || len(conv.Turns) == 0 {
		return nil
	}
	history := make([]Turn, len(conv.Turns))
	copy(history, conv.Turns)
	return history
}

// createStateMachine builds a state machine with all transitions for the
// request pipeline.
func (a *Agent) createStateMachine() *StateMachine {
	components := pipelineComponents{
		analyzer:    a.analyzer,
		executor:    a.executor,
		synthesizer: a.synthesizer,
		registry:    a.registry,
		config:      a.config,
	}

	return createPipelineStateMachine(components, a.eventBus)
}
