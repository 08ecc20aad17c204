// Package automation implements the autonomous water level control loop:
// a pure decision engine and a manager that runs it against the shared
// dispatch substrate.
package automation

import (
	"fmt"
	"time"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// SiteState is the control state of one monitored site.
type SiteState string

const (
	// SiteIdle means the level is in the normal band and no drainage runs.
	SiteIdle SiteState = "idle"
	// SiteRising means the level has left the normal band but has not yet
	// reached the drainage trigger.
	SiteRising SiteState = "rising"
	// SiteDraining means drainage has been triggered for this episode.
	SiteDraining SiteState = "draining"
	// SiteAlert means the level kept climbing past the trigger despite
	// drainage.
	SiteAlert SiteState = "alert"
)

// DecisionInput is everything one decision depends on. The engine reads
// nothing else, so identical inputs always produce identical decisions.
type DecisionInput struct {
	State      SiteState
	Sample     agenticrag.WaterLevelSample
	Pump       agenticrag.PumpState
	Thresholds agenticrag.Thresholds
	Now        time.Time
}

// Decision is the engine's verdict for one pump at one tick.
type Decision struct {
	Action    agenticrag.Action
	NextState SiteState
	Rationale string
}

// Decide runs one step of the control state machine. It is a pure function:
// no clock reads, no IO, no hidden state.
//
// The hysteresis band keeps the engine from chattering around a single cut
// line: drainage starts at the high trigger, stops below the low release,
// and the episode only fully resets once the level clears the release by
// the band. The alert threshold sits a band above the trigger so a working
// pump is given room before escalation.
func Decide(in DecisionInput) Decision {
	t := in.Thresholds
	level := in.Sample.Level
	state := in.State
	if state == "" {
		state = SiteIdle
	}

	// A sample older than the staleness bound is not trustworthy enough to
	// drive actuation. Take the configured fail-safe regardless of state.
	if age := in.Now.Sub(in.Sample.Timestamp); age > t.StalenessBound {
		return decideFailSafe(in, age)
	}

	var d Decision
	switch state {
	case SiteIdle:
		switch {
		case level >= t.HighTrigger:
			d = pumpOn(in, fmt.Sprintf("level %.1f reached high trigger %.1f, starting drainage", level, t.HighTrigger))
			d.NextState = SiteDraining
		case level >= t.LowRelease:
			d = noop(in, fmt.Sprintf("level %.1f above release %.1f, watching", level, t.LowRelease))
			d.NextState = SiteRising
		default:
			d = noop(in, fmt.Sprintf("level %.1f in normal band", level))
			d.NextState = SiteIdle
		}

	case SiteRising:
		switch {
		case level >= t.HighTrigger:
			d = pumpOn(in, fmt.Sprintf("level %.1f reached high trigger %.1f, starting drainage", level, t.HighTrigger))
			d.NextState = SiteDraining
		case level < t.LowRelease:
			d = noop(in, fmt.Sprintf("level %.1f back below release %.1f", level, t.LowRelease))
			d.NextState = SiteIdle
		default:
			d = noop(in, fmt.Sprintf("level %.1f still between release and trigger", level))
			d.NextState = SiteRising
		}

	case SiteDraining:
		switch {
		case level >= t.HighTrigger+t.HysteresisBand:
			d = Decision{
				Action:    agenticrag.Action{Kind: agenticrag.ActionRaiseAlert, Site: in.Sample.Site, Pump: in.Pump.Pump},
				NextState: SiteAlert,
				Rationale: fmt.Sprintf("level %.1f exceeded alert threshold %.1f while draining", level, t.HighTrigger+t.HysteresisBand),
			}
		case level < t.LowRelease && in.Pump.On:
			d = pumpOff(in, fmt.Sprintf("level %.1f below release %.1f, stopping drainage", level, t.LowRelease))
			d.NextState = SiteDraining
		case level < t.LowRelease-t.HysteresisBand:
			d = noop(in, fmt.Sprintf("level %.1f cleared release band, episode over", level))
			d.NextState = SiteIdle
		default:
			d = noop(in, fmt.Sprintf("level %.1f, drainage in progress", level))
			d.NextState = SiteDraining
		}

	case SiteAlert:
		if level < t.HighTrigger {
			d = noop(in, fmt.Sprintf("level %.1f back below trigger %.1f, de-escalating", level, t.HighTrigger))
			d.NextState = SiteDraining
		} else if !in.Pump.On {
			d = pumpOn(in, fmt.Sprintf("level %.1f still critical, ensuring pump runs", level))
			d.NextState = SiteAlert
		} else {
			d = noop(in, fmt.Sprintf("level %.1f still critical, pump already running", level))
			d.NextState = SiteAlert
		}

	default:
		d = noop(in, fmt.Sprintf("unknown state %q, holding", state))
		d.NextState = SiteIdle
	}

	return applyRateLimit(in, d)
}

// decideFailSafe handles an untrustworthy sample. The fail-safe action still
// respects the pump's current state and the rate limit.
func decideFailSafe(in DecisionInput, age time.Duration) Decision {
	t := in.Thresholds
	reason := fmt.Sprintf("sample is %s old (bound %s)", age.Round(time.Second), t.StalenessBound)

	var d Decision
	switch t.FailSafeAction {
	case agenticrag.ActionPumpOn:
		if in.Pump.On {
			d = noop(in, fmt.Sprintf("fail-safe: %s, pump already running", reason))
		} else {
			d = pumpOn(in, "fail-safe: "+reason)
		}
	case agenticrag.ActionRaiseAlert:
		d = Decision{
			Action:    agenticrag.Action{Kind: agenticrag.ActionRaiseAlert, Site: in.Sample.Site, Pump: in.Pump.Pump},
			Rationale: "fail-safe: " + reason,
		}
	default:
		d = noop(in, "fail-safe: "+reason)
	}
	// Stale input never advances the episode.
	d.NextState = in.State
	if d.NextState == "" {
		d.NextState = SiteIdle
	}
	return applyRateLimit(in, d)
}

// applyRateLimit suppresses an actuation that would change the pump state
// again within the minimum actuation interval. The site state also holds so
// the suppressed transition is retried on a later tick.
func applyRateLimit(in DecisionInput, d Decision) Decision {
	if d.Action.Kind != agenticrag.ActionPumpOn && d.Action.Kind != agenticrag.ActionPumpOff {
		return d
	}
	if in.Pump.LastChange.IsZero() {
		return d
	}
	sinceChange := in.Now.Sub(in.Pump.LastChange)
	if sinceChange >= in.Thresholds.MinActuationInterval {
		return d
	}
	return Decision{
		Action:    agenticrag.Action{Kind: agenticrag.ActionNone, Site: d.Action.Site, Pump: d.Action.Pump},
		NextState: in.State,
		Rationale: fmt.Sprintf("suppressed %s: last change %s ago (rate limit %s)",
			d.Action.Kind, sinceChange.Round(time.Second), in.Thresholds.MinActuationInterval),
	}
}

func pumpOn(in DecisionInput, rationale string) Decision {
	if in.Pump.On {
		return Decision{
			Action:    agenticrag.Action{Kind: agenticrag.ActionNone, Site: in.Sample.Site, Pump: in.Pump.Pump},
			Rationale: rationale + " (pump already on)",
		}
	}
	return Decision{
		Action:    agenticrag.Action{Kind: agenticrag.ActionPumpOn, Site: in.Sample.Site, Pump: in.Pump.Pump},
		Rationale: rationale,
	}
}

func pumpOff(in DecisionInput, rationale string) Decision {
	if !in.Pump.On {
		return Decision{
			Action:    agenticrag.Action{Kind: agenticrag.ActionNone, Site: in.Sample.Site, Pump: in.Pump.Pump},
			Rationale: rationale + " (pump already off)",
		}
	}
	return Decision{
		Action:    agenticrag.Action{Kind: agenticrag.ActionPumpOff, Site: in.Sample.Site, Pump: in.Pump.Pump},
		Rationale: rationale,
	}
}

func noop(in DecisionInput, rationale string) Decision {
	return Decision{
		Action:    agenticrag.Action{Kind: agenticrag.ActionNone, Site: in.Sample.Site, Pump: in.Pump.Pump},
		Rationale: rationale,
	}
}
