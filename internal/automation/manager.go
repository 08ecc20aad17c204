package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/eventbus"
)

// Tool names the manager dispatches against.
const (
	ToolReadLevel   = "read_level"
	ToolPumpControl = "pump_control"
)

// initiatorAutomation marks pump commands issued by the control loop so
// they are not mistaken for manual overrides.
const initiatorAutomation = "automation"

// AuditStore is the slice of storage the manager needs: append-only
// persistence of samples and decisions, plus recent history for the
// forecast fallback.
type AuditStore interface {
	AppendSample(ctx context.Context, sample agenticrag.WaterLevelSample) error
	AppendDecision(ctx context.Context, d agenticrag.AutomationDecision, repeats int) error
	LatestSamples(ctx context.Context, site string, limit int) ([]agenticrag.WaterLevelSample, error)
}

// Forecaster bridges sensor outages with a projected level.
type Forecaster interface {
	Predict(ctx context.Context, site string, history []agenticrag.WaterLevelSample, horizon time.Duration) (agenticrag.WaterLevelSample, error)
}

type pumpKey struct {
	site string
	pump string
}

// noopStreak aggregates consecutive identical no-op decisions so an idle
// night does not flood the audit trail.
type noopStreak struct {
	rationale string
	count     int
	last      agenticrag.AutomationDecision
}

// Manager runs the autonomous control loop. It observes through the same
// dispatch substrate the chat pipeline uses: sensor reads and pump commands
// are intents executed against the enabled tool snapshot.
type Manager struct {
	cfg      agenticrag.Config
	executor agenticrag.Executor
	snapshot func() map[string]agenticrag.Tool

	store      AuditStore
	forecaster Forecaster
	bus        eventbus.EventBus
	log        zerolog.Logger
	now        func() time.Time

	interlock PumpInterlock

	mu         sync.Mutex
	armed      bool
	cancelLoop context.CancelFunc
	loopGroup  *errgroup.Group

	siteStates map[string]SiteState
	pumpStates map[pumpKey]agenticrag.PumpState
	overrides  map[pumpKey]time.Time
	lastGood   map[string]agenticrag.WaterLevelSample
	streaks    map[pumpKey]*noopStreak
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the audit store.
func WithStore(store AuditStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithForecaster sets the forecast fallback for sensor outages.
func WithForecaster(forecaster Forecaster) ManagerOption {
	return func(m *Manager) { m.forecaster = forecaster }
}

// WithEventBus sets the event bus.
func WithEventBus(bus eventbus.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager over the given dispatch substrate. snapshot
// must return the enabled tool set for one tick.
func NewManager(cfg agenticrag.Config, executor agenticrag.Executor, snapshot func() map[string]agenticrag.Tool, options ...ManagerOption) *Manager {
	m := &Manager{
		cfg:        cfg,
		executor:   executor,
		snapshot:   snapshot,
		log:        zerolog.Nop(),
		now:        time.Now,
		siteStates: make(map[string]SiteState),
		pumpStates: make(map[pumpKey]agenticrag.PumpState),
		overrides:  make(map[pumpKey]time.Time),
		lastGood:   make(map[string]agenticrag.WaterLevelSample),
		streaks:    make(map[pumpKey]*noopStreak),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Arm starts the control loop. Arming an armed manager is a no-op.
func (m *Manager) Arm(ctx context.Context) error {
	m.mu.Lock()
	if m.armed {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(loopCtx)
	m.armed = true
	m.cancelLoop = cancel
	m.loopGroup = group
	m.mu.Unlock()

	group.Go(func() error {
		m.run(groupCtx)
		return nil
	})

	m.log.Info().Dur("tick_interval", m.cfg.Automation.TickInterval).Msg("automation armed")
	m.publish(ctx, eventbus.EventAutomationArmed, nil, map[string]interface{}{
		"tick_interval": m.cfg.Automation.TickInterval.String(),
	})
	return nil
}

// Disarm stops the control loop and waits for the in-flight tick to finish.
// Disarming a disarmed manager is a no-op. Pumps keep their current state.
func (m *Manager) Disarm(ctx context.Context) error {
	m.mu.Lock()
	armed := m.armed
	cancel := m.cancelLoop
	group := m.loopGroup
	m.armed = false
	m.cancelLoop = nil
	m.loopGroup = nil
	m.mu.Unlock()

	if armed {
		cancel()
		_ = group.Wait()
	}

	// The audit log is append-only, so the trailing no-op aggregates must
	// land before shutdown or their repeat counts are lost.
	m.mu.Lock()
	for key := range m.streaks {
		m.flushStreakLocked(ctx, key)
	}
	m.mu.Unlock()

	if !armed {
		return nil
	}

	m.log.Info().Msg("automation disarmed")
	m.publish(ctx, eventbus.EventAutomationDisarmed, nil, nil)
	return nil
}

// Armed reports whether the control loop is running.
func (m *Manager) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Automation.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one observation and decision round for every configured site.
// It is exported so callers can drive the loop from their own scheduler.
func (m *Manager) Tick(ctx context.Context) {
	tools := m.snapshot()

	for _, site := range m.cfg.Automation.Sites {
		sample := m.observe(ctx, tools, site)

		m.publish(ctx, eventbus.EventAutomationTick, sample, map[string]interface{}{
			"site":   site.Name,
			"level":  sample.Level,
			"source": string(sample.Source),
		})

		for _, pumpName := range site.Pumps {
			m.decideAndAct(ctx, tools, site, pumpName, sample)
		}
	}
}

// observe obtains the best available sample for a site: live sensor first,
// then a forecast from recent history, then the last known good reading
// marked stale. With nothing at all, a zero-time sample forces the
// fail-safe path.
func (m *Manager) observe(ctx context.Context, tools map[string]agenticrag.Tool, site agenticrag.SiteConfig) agenticrag.WaterLevelSample {
	intent := agenticrag.Intent{
		ID:   uuid.New().String(),
		Tool: ToolReadLevel,
		Args: map[string]interface{}{"site": site.Name},
	}
	results, err := m.executor.Dispatch(ctx, []agenticrag.Intent{intent}, tools)
	if err == nil && len(results) == 1 && results[0].OK() {
		sample, perr := sampleFromPayload(site.Name, results[0].Payload, m.now())
		if perr == nil {
			m.mu.Lock()
			m.lastGood[site.Name] = sample
			m.mu.Unlock()
			if m.store != nil {
				if serr := m.store.AppendSample(ctx, sample); serr != nil {
					m.log.Warn().Err(serr).Str("site", site.Name).Msg("failed to persist sample")
				}
			}
			return sample
		}
		m.log.Warn().Err(perr).Str("site", site.Name).Msg("sensor payload unusable")
	} else if err == nil && len(results) == 1 {
		m.log.Warn().Str("site", site.Name).Str("error", results[0].ErrorMsg).Msg("sensor read failed")
	}

	// Forecast from recent history.
	if m.store != nil && m.forecaster != nil {
		history, herr := m.store.LatestSamples(ctx, site.Name, DefaultHistoryWindow)
		if herr == nil && len(history) > 0 {
			if sample, ferr := m.forecaster.Predict(ctx, site.Name, history, site.Thresholds.ForecastHorizon); ferr == nil {
				m.log.Debug().Str("site", site.Name).Float64("level", sample.Level).Msg("using forecast sample")
				return sample
			}
		}
	}

	// Last known good, explicitly marked stale so the engine can fail safe.
	m.mu.Lock()
	last, ok := m.lastGood[site.Name]
	m.mu.Unlock()
	if ok {
		last.Stale = true
		return last
	}

	return agenticrag.WaterLevelSample{Site: site.Name, Source: agenticrag.SourceSensor}
}

// DefaultHistoryWindow is how many trailing samples feed the forecast
// fallback.
const DefaultHistoryWindow = 5

func (m *Manager) decideAndAct(ctx context.Context, tools map[string]agenticrag.Tool, site agenticrag.SiteConfig, pumpName string, sample agenticrag.WaterLevelSample) {
	key := pumpKey{site: site.Name, pump: pumpName}
	now := m.now()

	m.mu.Lock()
	state := m.siteStates[site.Name]
	pump, ok := m.pumpStates[key]
	if !ok {
		pump = agenticrag.PumpState{Site: site.Name, Pump: pumpName}
		if observed, seen := sample.Pumps[pumpName]; seen {
			pump.On = observed
		}
	}
	overrideUntil, overridden := m.overrides[key]
	m.mu.Unlock()

	// A recent manual command wins over the loop until its cooldown ends.
	if overridden && now.Before(overrideUntil) {
		decision := agenticrag.AutomationDecision{
			Timestamp: now,
			Sample:    sample,
			Pump:      pump,
			Action:    agenticrag.Action{Kind: agenticrag.ActionNone, Site: site.Name, Pump: pumpName},
			Rationale: fmt.Sprintf("manual override active until %s", overrideUntil.Format(time.RFC3339)),
			Armed:     m.Armed(),
		}
		m.recordDecision(ctx, key, decision)
		return
	}

	d := Decide(DecisionInput{
		State:      state,
		Sample:     sample,
		Pump:       pump,
		Thresholds: site.Thresholds,
		Now:        now,
	})

	m.mu.Lock()
	m.siteStates[site.Name] = d.NextState
	m.mu.Unlock()

	decision := agenticrag.AutomationDecision{
		Timestamp: now,
		Sample:    sample,
		Pump:      pump,
		Action:    d.Action,
		Rationale: d.Rationale,
		Armed:     m.Armed(),
	}

	switch d.Action.Kind {
	case agenticrag.ActionPumpOn, agenticrag.ActionPumpOff:
		on := d.Action.Kind == agenticrag.ActionPumpOn
		if err := m.actuate(ctx, tools, site.Name, pumpName, on); err != nil {
			decision.ErrorMsg = err.Error()
			m.log.Error().Err(err).Str("site", site.Name).Str("pump", pumpName).Msg("actuation failed")
		} else {
			decision.Executed = true
			pump.On = on
			pump.LastChange = now
			m.mu.Lock()
			m.pumpStates[key] = pump
			m.mu.Unlock()
			decision.Pump = pump
			m.publish(ctx, eventbus.EventPumpActuated, decision, map[string]interface{}{
				"site": site.Name,
				"pump": pumpName,
				"on":   on,
			})
		}

	case agenticrag.ActionRaiseAlert:
		decision.Executed = true
		m.log.Warn().Str("site", site.Name).Float64("level", sample.Level).Str("rationale", d.Rationale).
			Msg("automation alert")
		m.publish(ctx, eventbus.EventAutomationAlert, decision, map[string]interface{}{
			"site":  site.Name,
			"level": sample.Level,
		})
	}

	m.publish(ctx, eventbus.EventAutomationDecision, decision, map[string]interface{}{
		"site":   site.Name,
		"pump":   pumpName,
		"action": string(d.Action.Kind),
	})
	m.recordDecision(ctx, key, decision)
}

// actuate issues a pump command through the dispatch substrate, holding the
// per-pump interlock so concurrent commands for the same pump serialize.
func (m *Manager) actuate(ctx context.Context, tools map[string]agenticrag.Tool, site, pump string, on bool) error {
	unlock := m.interlock.Lock(site, pump)
	defer unlock()

	intent := agenticrag.Intent{
		ID:   uuid.New().String(),
		Tool: ToolPumpControl,
		Args: map[string]interface{}{
			"site":      site,
			"pump":      pump,
			"on":        on,
			"initiator": initiatorAutomation,
		},
	}
	results, err := m.executor.Dispatch(ctx, []agenticrag.Intent{intent}, tools)
	if err != nil {
		return agenticrag.NewActuationError(site, pump, err)
	}
	if len(results) != 1 {
		return agenticrag.NewActuationError(site, pump, fmt.Errorf("expected one result, got %d", len(results)))
	}
	if !results[0].OK() {
		return agenticrag.NewActuationError(site, pump, fmt.Errorf("%s", results[0].ErrorMsg))
	}
	return nil
}

// ManualOverride executes a pump command on behalf of a human and holds the
// loop off that pump for the override cooldown. Later commands always win;
// the newest cooldown replaces the previous one.
func (m *Manager) ManualOverride(ctx context.Context, site, pump string, on bool) error {
	cfgSite, found := m.cfg.Site(site)
	if !found {
		return agenticrag.NewValidationError("automation", fmt.Sprintf("unknown site '%s'", site), nil)
	}
	if !containsPump(cfgSite.Pumps, pump) {
		return agenticrag.NewValidationError("automation", fmt.Sprintf("unknown pump '%s' at site '%s'", pump, site), nil)
	}

	unlock := m.interlock.Lock(site, pump)
	intent := agenticrag.Intent{
		ID:   uuid.New().String(),
		Tool: ToolPumpControl,
		Args: map[string]interface{}{"site": site, "pump": pump, "on": on},
	}
	results, err := m.executor.Dispatch(ctx, []agenticrag.Intent{intent}, m.snapshot())
	unlock()
	if err != nil {
		return agenticrag.NewActuationError(site, pump, err)
	}
	if len(results) != 1 || !results[0].OK() {
		msg := "no result"
		if len(results) == 1 {
			msg = results[0].ErrorMsg
		}
		return agenticrag.NewActuationError(site, pump, fmt.Errorf("%s", msg))
	}

	m.RecordManualActuation(site, pump, on)
	return nil
}

// RecordManualActuation notes a pump command that did not come from the
// loop, starting the override cooldown. The pump control tool calls this
// for chat-initiated commands.
func (m *Manager) RecordManualActuation(site, pump string, on bool) {
	now := m.now()
	key := pumpKey{site: site, pump: pump}

	m.mu.Lock()
	state := m.pumpStates[key]
	state.Site = site
	state.Pump = pump
	state.On = on
	state.LastChange = now
	m.pumpStates[key] = state
	m.overrides[key] = now.Add(m.cfg.Automation.OverrideCooldown)
	m.mu.Unlock()

	decision := agenticrag.AutomationDecision{
		Timestamp: now,
		Sample:    agenticrag.WaterLevelSample{Site: site, Timestamp: now, Source: agenticrag.SourceHistory},
		Pump:      state,
		Action:    agenticrag.Action{Kind: manualActionKind(on), Site: site, Pump: pump},
		Rationale: fmt.Sprintf("manual override, automation deferred for %s", m.cfg.Automation.OverrideCooldown),
		Armed:     m.Armed(),
		Executed:  true,
	}
	m.recordDecision(context.Background(), key, decision)
	m.publish(context.Background(), eventbus.EventManualOverride, decision, map[string]interface{}{
		"site": site,
		"pump": pump,
		"on":   on,
	})
}

// Status describes the manager for operators and the automation control
// tool.
type Status struct {
	Armed bool         `json:"armed"`
	Sites []SiteStatus `json:"sites"`
}

// SiteStatus is the per-site slice of Status.
type SiteStatus struct {
	Site       string                      `json:"site"`
	State      SiteState                   `json:"state"`
	LastSample agenticrag.WaterLevelSample `json:"last_sample"`
	Pumps      []agenticrag.PumpState      `json:"pumps"`
}

// Status returns a snapshot of the control state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{Armed: m.armed}
	for _, site := range m.cfg.Automation.Sites {
		state := m.siteStates[site.Name]
		if state == "" {
			state = SiteIdle
		}
		siteStatus := SiteStatus{
			Site:       site.Name,
			State:      state,
			LastSample: m.lastGood[site.Name],
		}
		for _, pumpName := range site.Pumps {
			pump, ok := m.pumpStates[pumpKey{site: site.Name, pump: pumpName}]
			if !ok {
				pump = agenticrag.PumpState{Site: site.Name, Pump: pumpName}
			}
			siteStatus.Pumps = append(siteStatus.Pumps, pump)
		}
		status.Sites = append(status.Sites, siteStatus)
	}
	return status
}

// recordDecision appends an audit entry, aggregating consecutive identical
// no-ops into one row with a repeat count.
func (m *Manager) recordDecision(ctx context.Context, key pumpKey, d agenticrag.AutomationDecision) {
	if m.store == nil {
		return
	}

	m.mu.Lock()
	streak := m.streaks[key]
	if d.Action.Kind == agenticrag.ActionNone {
		if streak != nil && streak.rationale == d.Rationale {
			streak.count++
			streak.last = d
			m.mu.Unlock()
			return
		}
		m.flushStreakLocked(ctx, key)
		m.streaks[key] = &noopStreak{rationale: d.Rationale, last: d}
		m.mu.Unlock()
		m.appendDecision(ctx, d, 0)
		return
	}
	m.flushStreakLocked(ctx, key)
	m.mu.Unlock()
	m.appendDecision(ctx, d, 0)
}

// flushStreakLocked writes the pending aggregate row, if any. Caller holds
// m.mu.
func (m *Manager) flushStreakLocked(ctx context.Context, key pumpKey) {
	streak := m.streaks[key]
	delete(m.streaks, key)
	if streak == nil || streak.count == 0 {
		return
	}
	// Append outside the lock is not worth the complexity here; the store
	// write is quick and ticks are seconds apart.
	m.appendDecision(ctx, streak.last, streak.count)
}

func (m *Manager) appendDecision(ctx context.Context, d agenticrag.AutomationDecision, repeats int) {
	if err := m.store.AppendDecision(ctx, d, repeats); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist decision")
	}
}

func (m *Manager) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, eventbus.NewEvent(eventType, payload, "automation.Manager", metadata))
}

// sampleFromPayload converts a read_level tool payload into a sample. now is
// the fallback timestamp for payloads that do not carry their own.
func sampleFromPayload(site string, payload map[string]interface{}, now time.Time) (agenticrag.WaterLevelSample, error) {
	level, ok := payload["level"].(float64)
	if !ok {
		return agenticrag.WaterLevelSample{}, fmt.Errorf("payload has no numeric level: %v", payload)
	}

	sample := agenticrag.WaterLevelSample{
		Site:      site,
		Timestamp: now,
		Level:     level,
		Source:    agenticrag.SourceSensor,
	}
	if ts, ok := payload["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			sample.Timestamp = parsed
		}
	}
	if rawPumps, ok := payload["pumps"].(map[string]interface{}); ok {
		sample.Pumps = make(map[string]bool, len(rawPumps))
		for name, value := range rawPumps {
			if on, ok := value.(bool); ok {
				sample.Pumps[name] = on
			}
		}
	} else if pumps, ok := payload["pumps"].(map[string]bool); ok {
		sample.Pumps = pumps
	}
	return sample, nil
}

func manualActionKind(on bool) agenticrag.ActionKind {
	if on {
		return agenticrag.ActionPumpOn
	}
	return agenticrag.ActionPumpOff
}

func containsPump(pumps []string, pump string) bool {
	for _, p := range pumps {
		if p == pump {
			return true
		}
	}
	return false
}

// PumpInterlock serializes actuation per pump so one command finishes
// before the next starts.
type PumpInterlock struct {
	mu    sync.Mutex
	locks map[pumpKey]*sync.Mutex
}

// Lock acquires the interlock for one pump and returns its release
// function.
func (p *PumpInterlock) Lock(site, pump string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[pumpKey]*sync.Mutex)
	}
	key := pumpKey{site: site, pump: pump}
	lock, ok := p.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[key] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
