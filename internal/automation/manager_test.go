package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeExecutor struct {
	mu      sync.Mutex
	intents []agenticrag.Intent
	handler func(agenticrag.Intent) agenticrag.ToolResult
}

func (f *fakeExecutor) Dispatch(ctx context.Context, intents []agenticrag.Intent, tools map[string]agenticrag.Tool) ([]agenticrag.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]agenticrag.ToolResult, len(intents))
	for i, intent := range intents {
		f.intents = append(f.intents, intent)
		results[i] = f.handler(intent)
	}
	return results, nil
}

func (f *fakeExecutor) dispatched(tool string) []agenticrag.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []agenticrag.Intent
	for _, intent := range f.intents {
		if intent.Tool == tool {
			matched = append(matched, intent)
		}
	}
	return matched
}

type recordedDecision struct {
	d       agenticrag.AutomationDecision
	repeats int
}

type fakeStore struct {
	mu        sync.Mutex
	samples   []agenticrag.WaterLevelSample
	decisions []recordedDecision
	history   []agenticrag.WaterLevelSample
}

func (f *fakeStore) AppendSample(ctx context.Context, sample agenticrag.WaterLevelSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	return nil
}

func (f *fakeStore) AppendDecision(ctx context.Context, d agenticrag.AutomationDecision, repeats int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, recordedDecision{d: d, repeats: repeats})
	return nil
}

func (f *fakeStore) LatestSamples(ctx context.Context, site string, limit int) ([]agenticrag.WaterLevelSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeStore) recorded() []recordedDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedDecision, len(f.decisions))
	copy(out, f.decisions)
	return out
}

type fixedForecaster struct {
	sample agenticrag.WaterLevelSample
	err    error
}

func (f *fixedForecaster) Predict(ctx context.Context, site string, history []agenticrag.WaterLevelSample, horizon time.Duration) (agenticrag.WaterLevelSample, error) {
	return f.sample, f.err
}

func testManagerConfig() agenticrag.Config {
	cfg := agenticrag.DefaultConfig()
	// Ticks are driven explicitly in tests.
	cfg.Automation.TickInterval = time.Hour
	cfg.Automation.OverrideCooldown = 5 * time.Minute
	return cfg
}

// sensorExec wires a fake executor whose read_level reports the current
// value of level and whose pump_control always succeeds.
func sensorExec(clock *fakeClock, level *float64) *fakeExecutor {
	exec := &fakeExecutor{}
	exec.handler = func(intent agenticrag.Intent) agenticrag.ToolResult {
		switch intent.Tool {
		case ToolReadLevel:
			return agenticrag.ToolResult{
				Intent: intent,
				Status: agenticrag.StatusOK,
				Payload: map[string]interface{}{
					"level":     *level,
					"timestamp": clock.Now().Format(time.RFC3339),
				},
			}
		case ToolPumpControl:
			return agenticrag.ToolResult{
				Intent:  intent,
				Status:  agenticrag.StatusOK,
				Payload: map[string]interface{}{"status": "ok"},
			}
		default:
			return agenticrag.ToolResult{
				Intent:   intent,
				Status:   agenticrag.StatusError,
				ErrorMsg: fmt.Sprintf("unexpected tool %s", intent.Tool),
			}
		}
	}
	return exec
}

func emptySnapshot() map[string]agenticrag.Tool { return nil }

func TestManager_ArmDisarmIdempotent(t *testing.T) {
	clock := newFakeClock()
	level := 50.0
	m := NewManager(testManagerConfig(), sensorExec(clock, &level), emptySnapshot, WithClock(clock.Now))
	ctx := context.Background()

	if m.Armed() {
		t.Fatal("manager should start disarmed")
	}
	if err := m.Arm(ctx); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if err := m.Arm(ctx); err != nil {
		t.Fatalf("second Arm failed: %v", err)
	}
	if !m.Armed() {
		t.Fatal("expected armed after Arm")
	}

	if err := m.Disarm(ctx); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}
	if err := m.Disarm(ctx); err != nil {
		t.Fatalf("second Disarm failed: %v", err)
	}
	if m.Armed() {
		t.Fatal("expected disarmed after Disarm")
	}
}

func TestManager_TickRunsDrainageEpisode(t *testing.T) {
	clock := newFakeClock()
	level := 82.0
	exec := sensorExec(clock, &level)
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))
	ctx := context.Background()

	m.Tick(ctx)

	commands := exec.dispatched(ToolPumpControl)
	if len(commands) != 1 {
		t.Fatalf("expected 1 pump command, got %d", len(commands))
	}
	if on, _ := commands[0].Args["on"].(bool); !on {
		t.Error("expected pump-on command")
	}
	if commands[0].Args["initiator"] != initiatorAutomation {
		t.Errorf("loop commands must carry the automation initiator, got %v", commands[0].Args["initiator"])
	}

	status := m.Status()
	if status.Sites[0].State != SiteDraining {
		t.Errorf("expected draining state, got %s", status.Sites[0].State)
	}
	if !status.Sites[0].Pumps[0].On {
		t.Error("expected pump reported on")
	}

	// The level recedes below the release threshold; the next tick stops
	// drainage.
	clock.Advance(10 * time.Minute)
	level = 58.0
	m.Tick(ctx)

	commands = exec.dispatched(ToolPumpControl)
	if len(commands) != 2 {
		t.Fatalf("expected 2 pump commands, got %d", len(commands))
	}
	if on, _ := commands[1].Args["on"].(bool); on {
		t.Error("expected pump-off command")
	}

	decisions := store.recorded()
	if len(decisions) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(decisions))
	}
	if decisions[0].d.Action.Kind != agenticrag.ActionPumpOn || !decisions[0].d.Executed {
		t.Errorf("unexpected first decision: %+v", decisions[0].d)
	}
	if decisions[1].d.Action.Kind != agenticrag.ActionPumpOff {
		t.Errorf("unexpected second decision: %+v", decisions[1].d)
	}
	if len(store.samples) != 2 {
		t.Errorf("expected 2 persisted samples, got %d", len(store.samples))
	}
}

func TestManager_ManualOverrideDefersAutomation(t *testing.T) {
	clock := newFakeClock()
	level := 82.0
	exec := sensorExec(clock, &level)
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))
	ctx := context.Background()

	m.RecordManualActuation("site-a", "pump-1", true)

	m.Tick(ctx)
	if commands := exec.dispatched(ToolPumpControl); len(commands) != 0 {
		t.Fatalf("automation must defer during the override cooldown, got %d commands", len(commands))
	}

	decisions := store.recorded()
	last := decisions[len(decisions)-1].d
	if last.Action.Kind != agenticrag.ActionNone || !strings.Contains(last.Rationale, "manual override active") {
		t.Errorf("expected deferred no-op, got %+v", last)
	}

	// After the cooldown the loop takes over again. The pump is already on,
	// so the engine advances to draining without a redundant command.
	clock.Advance(6 * time.Minute)
	m.Tick(ctx)

	if commands := exec.dispatched(ToolPumpControl); len(commands) != 0 {
		t.Fatalf("pump already on, expected no command, got %d", len(commands))
	}
	if status := m.Status(); status.Sites[0].State != SiteDraining {
		t.Errorf("expected draining after cooldown, got %s", status.Sites[0].State)
	}
}

func TestManager_ManualOverrideDispatchesCommand(t *testing.T) {
	clock := newFakeClock()
	level := 50.0
	exec := sensorExec(clock, &level)
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithClock(clock.Now))
	ctx := context.Background()

	if err := m.ManualOverride(ctx, "site-a", "pump-1", true); err != nil {
		t.Fatalf("ManualOverride failed: %v", err)
	}
	commands := exec.dispatched(ToolPumpControl)
	if len(commands) != 1 {
		t.Fatalf("expected 1 pump command, got %d", len(commands))
	}
	if _, isLoop := commands[0].Args["initiator"]; isLoop {
		t.Error("manual commands must not carry the automation initiator")
	}
	if !m.Status().Sites[0].Pumps[0].On {
		t.Error("expected pump reported on after override")
	}

	if err := m.ManualOverride(ctx, "site-x", "pump-1", true); err == nil {
		t.Error("expected error for unknown site")
	}
	if err := m.ManualOverride(ctx, "site-a", "pump-9", true); err == nil {
		t.Error("expected error for unknown pump")
	}
}

func TestManager_AggregatesIdleNoops(t *testing.T) {
	clock := newFakeClock()
	level := 50.0
	exec := sensorExec(clock, &level)
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Tick(ctx)
		clock.Advance(time.Minute)
	}
	if decisions := store.recorded(); len(decisions) != 1 {
		t.Fatalf("identical no-ops should aggregate, got %d entries", len(decisions))
	}

	level = 82.0
	m.Tick(ctx)

	decisions := store.recorded()
	if len(decisions) != 3 {
		t.Fatalf("expected flushed aggregate plus actuation, got %d entries", len(decisions))
	}
	if decisions[1].repeats != 2 {
		t.Errorf("expected aggregate of 2 repeats, got %d", decisions[1].repeats)
	}
	if decisions[2].d.Action.Kind != agenticrag.ActionPumpOn {
		t.Errorf("expected pump-on after flush, got %s", decisions[2].d.Action.Kind)
	}
}

func TestManager_DisarmFlushesPendingAggregates(t *testing.T) {
	clock := newFakeClock()
	level := 50.0
	exec := sensorExec(clock, &level)
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))
	ctx := context.Background()

	if err := m.Arm(ctx); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		m.Tick(ctx)
		clock.Advance(time.Minute)
	}
	if decisions := store.recorded(); len(decisions) != 1 {
		t.Fatalf("identical no-ops should aggregate, got %d entries", len(decisions))
	}

	if err := m.Disarm(ctx); err != nil {
		t.Fatalf("Disarm failed: %v", err)
	}

	decisions := store.recorded()
	if len(decisions) != 2 {
		t.Fatalf("disarm must flush the trailing aggregate, got %d entries", len(decisions))
	}
	if decisions[1].repeats != 2 {
		t.Errorf("expected aggregate of 2 repeats, got %d", decisions[1].repeats)
	}
	if decisions[1].d.Action.Kind != agenticrag.ActionNone {
		t.Errorf("expected flushed no-op, got %s", decisions[1].d.Action.Kind)
	}
}

func TestManager_SamplesStampedWithInjectedClock(t *testing.T) {
	clock := newFakeClock()
	exec := &fakeExecutor{handler: func(intent agenticrag.Intent) agenticrag.ToolResult {
		if intent.Tool == ToolReadLevel {
			// No timestamp in the payload; the manager supplies one.
			return agenticrag.ToolResult{
				Intent:  intent,
				Status:  agenticrag.StatusOK,
				Payload: map[string]interface{}{"level": 50.0},
			}
		}
		return agenticrag.ToolResult{Intent: intent, Status: agenticrag.StatusOK}
	}}
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))

	m.Tick(context.Background())

	if len(store.samples) != 1 {
		t.Fatalf("expected 1 persisted sample, got %d", len(store.samples))
	}
	if !store.samples[0].Timestamp.Equal(clock.Now()) {
		t.Errorf("sample must carry the injected clock time %v, got %v",
			clock.Now(), store.samples[0].Timestamp)
	}
}

func TestManager_FailSafeOnSensorOutage(t *testing.T) {
	clock := newFakeClock()
	exec := &fakeExecutor{handler: func(intent agenticrag.Intent) agenticrag.ToolResult {
		return agenticrag.ToolResult{
			Intent:   intent,
			Status:   agenticrag.StatusError,
			ErrorMsg: "sensor gateway is unavailable",
		}
	}}
	store := &fakeStore{}
	m := NewManager(testManagerConfig(), exec, emptySnapshot, WithStore(store), WithClock(clock.Now))

	m.Tick(context.Background())

	decisions := store.recorded()
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0].d
	if d.Action.Kind != agenticrag.ActionRaiseAlert {
		t.Errorf("expected raise-alert fail-safe, got %s", d.Action.Kind)
	}
	if !strings.Contains(d.Rationale, "fail-safe") {
		t.Errorf("expected fail-safe rationale, got %q", d.Rationale)
	}
	if status := m.Status(); status.Sites[0].State != SiteIdle {
		t.Errorf("stale input must not advance state, got %s", status.Sites[0].State)
	}
}

func TestManager_ForecastBridgesOutage(t *testing.T) {
	clock := newFakeClock()
	exec := &fakeExecutor{handler: func(intent agenticrag.Intent) agenticrag.ToolResult {
		if intent.Tool == ToolReadLevel {
			return agenticrag.ToolResult{Intent: intent, Status: agenticrag.StatusTimeout, ErrorMsg: "timed out"}
		}
		return agenticrag.ToolResult{Intent: intent, Status: agenticrag.StatusOK}
	}}
	store := &fakeStore{history: []agenticrag.WaterLevelSample{
		{Site: "site-a", Timestamp: clock.Now().Add(-2 * time.Minute), Level: 63, Source: agenticrag.SourceSensor},
		{Site: "site-a", Timestamp: clock.Now().Add(-time.Minute), Level: 64, Source: agenticrag.SourceSensor},
	}}
	forecaster := &fixedForecaster{sample: agenticrag.WaterLevelSample{
		Site:      "site-a",
		Timestamp: clock.Now(),
		Level:     65,
		Source:    agenticrag.SourceForecast,
	}}
	m := NewManager(testManagerConfig(), exec, emptySnapshot,
		WithStore(store), WithForecaster(forecaster), WithClock(clock.Now))

	m.Tick(context.Background())

	decisions := store.recorded()
	if len(decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(decisions))
	}
	d := decisions[0].d
	if d.Sample.Source != agenticrag.SourceForecast {
		t.Errorf("expected forecast sample to drive the decision, got %s", d.Sample.Source)
	}
	if d.Sample.Level != 65 {
		t.Errorf("expected forecast level 65, got %v", d.Sample.Level)
	}
	if status := m.Status(); status.Sites[0].State != SiteRising {
		t.Errorf("expected rising on forecast 65, got %s", status.Sites[0].State)
	}
}
