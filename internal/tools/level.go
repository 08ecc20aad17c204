package tools

import (
	"context"
	"time"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
	"github.com/changxeokSong/agentic-rag/internal/automation"
	"github.com/changxeokSong/agentic-rag/internal/hardware"
)

// HistoryStore is the slice of storage the level tools need.
type HistoryStore interface {
	LatestSamples(ctx context.Context, site string, limit int) ([]agenticrag.WaterLevelSample, error)
	SamplesRange(ctx context.Context, site string, from, to time.Time) ([]agenticrag.WaterLevelSample, error)
}

// Forecaster projects a level forward from history.
type Forecaster interface {
	Predict(ctx context.Context, site string, history []agenticrag.WaterLevelSample, horizon time.Duration) (agenticrag.WaterLevelSample, error)
}

// ManualRecorder is notified when a pump command did not come from the
// automation loop, so the loop can defer to the human for a cooldown.
type ManualRecorder func(site, pump string, on bool)

// NewReadLevelTool takes a live water level reading from the sensor gateway.
func NewReadLevelTool(gateway hardware.Gateway) agenticrag.Tool {
	return adapters.NewFuncTool(automation.ToolReadLevel,
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			site, err := parseString(input, "site")
			if err != nil {
				return nil, err
			}
			sample, err := gateway.ReadLevel(ctx, site)
			if err != nil {
				return nil, err
			}
			payload := map[string]interface{}{
				"site":      sample.Site,
				"level":     sample.Level,
				"timestamp": formatTimestamp(sample.Timestamp),
				"source":    string(sample.Source),
			}
			if len(sample.Pumps) > 0 {
				payload["pumps"] = sample.Pumps
			}
			return payload, nil
		},
		adapters.WithDescription("Reads the current water level at a site from the live sensor."),
		adapters.WithParameters(map[string]string{
			"site": "site identifier, e.g. site-a",
		}),
		adapters.WithRequired("site"),
		adapters.WithReturns("the current level, reading time, and observed pump states"),
		adapters.WithCategory("water-level"),
	)
}

// NewPumpControlTool switches a drainage pump on or off. Commands that do
// not carry the automation initiator are reported to the recorder as manual
// overrides.
func NewPumpControlTool(gateway hardware.Gateway, recorder ManualRecorder) agenticrag.Tool {
	return adapters.NewFuncTool(automation.ToolPumpControl,
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			site, err := parseString(input, "site")
			if err != nil {
				return nil, err
			}
			pump, err := parseString(input, "pump")
			if err != nil {
				return nil, err
			}
			on, err := parseBool(input, "on")
			if err != nil {
				return nil, err
			}

			if err := gateway.SetPump(ctx, site, pump, on); err != nil {
				return nil, err
			}

			initiator, _ := input["initiator"].(string)
			if initiator != "automation" && recorder != nil {
				recorder(site, pump, on)
			}

			state := "off"
			if on {
				state = "on"
			}
			return map[string]interface{}{
				"site":   site,
				"pump":   pump,
				"state":  state,
				"status": "ok",
			}, nil
		},
		adapters.WithDescription("Switches a drainage pump on or off."),
		adapters.WithParameters(map[string]string{
			"site": "site identifier",
			"pump": "pump identifier, e.g. pump-1",
			"on":   "true to start the pump, false to stop it",
		}),
		adapters.WithRequired("site", "pump", "on"),
		adapters.WithReturns("the resulting pump state"),
		adapters.WithCategory("water-level"),
	)
}

// NewForecastLevelTool projects the water level forward from recent history.
func NewForecastLevelTool(forecaster Forecaster, store HistoryStore, defaultHorizon time.Duration) agenticrag.Tool {
	return adapters.NewFuncTool("forecast_level",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			site, err := parseString(input, "site")
			if err != nil {
				return nil, err
			}
			minutes, err := parseNumber(input, "horizon_minutes", defaultHorizon.Minutes())
			if err != nil {
				return nil, err
			}
			horizon := time.Duration(minutes * float64(time.Minute))

			history, err := store.LatestSamples(ctx, site, automation.DefaultHistoryWindow)
			if err != nil {
				return nil, err
			}
			sample, err := forecaster.Predict(ctx, site, history, horizon)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"site":      sample.Site,
				"level":     sample.Level,
				"timestamp": formatTimestamp(sample.Timestamp),
				"source":    string(sample.Source),
				"horizon":   horizon.String(),
			}, nil
		},
		adapters.WithDescription("Projects the water level at a site into the near future from recent readings."),
		adapters.WithParameters(map[string]string{
			"site":            "site identifier",
			"horizon_minutes": "how far ahead to project, optional",
		}),
		adapters.WithRequired("site"),
		adapters.WithReturns("the projected level and its reference time"),
		adapters.WithCategory("water-level"),
	)
}

// NewLevelHistoryTool returns recorded water levels for a site.
func NewLevelHistoryTool(store HistoryStore) agenticrag.Tool {
	return adapters.NewFuncTool("level_history",
		func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			site, err := parseString(input, "site")
			if err != nil {
				return nil, err
			}
			hours, err := parseNumber(input, "hours", 24)
			if err != nil {
				return nil, err
			}

			to := time.Now()
			from := to.Add(-time.Duration(hours * float64(time.Hour)))
			samples, err := store.SamplesRange(ctx, site, from, to)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"site":    site,
				"from":    formatTimestamp(from),
				"to":      formatTimestamp(to),
				"count":   len(samples),
				"samples": samples,
			}, nil
		},
		adapters.WithDescription("Returns recorded water levels for a site over a recent time window."),
		adapters.WithParameters(map[string]string{
			"site":  "site identifier",
			"hours": "how far back to look, optional, default 24",
		}),
		adapters.WithRequired("site"),
		adapters.WithReturns("the recorded samples, oldest first"),
		adapters.WithCategory("water-level"),
	)
}
