// Package forecast projects water levels forward from recent history. The
// automation loop uses it to bridge short sensor outages.
package forecast

import (
	"context"
	"fmt"
	"sort"
	"time"

	agenticrag "github.com/changxeokSong/agentic-rag"
)

// DefaultWindow is the number of trailing samples used to estimate the
// trend.
const DefaultWindow = 5

// TrendForecaster extrapolates the recent level trend linearly. It needs at
// least two samples to estimate a rate; with fewer it carries the last level
// forward.
type TrendForecaster struct {
	window int
}

// NewTrendForecaster creates a forecaster over the given trailing window.
// A non-positive window falls back to the default.
func NewTrendForecaster(window int) *TrendForecaster {
	if window <= 0 {
		window = DefaultWindow
	}
	return &TrendForecaster{window: window}
}

// Predict projects the level at horizon past the newest sample. History may
// arrive in any order; only the trailing window matters. Levels never go
// below zero.
func (f *TrendForecaster) Predict(ctx context.Context, site string, history []agenticrag.WaterLevelSample, horizon time.Duration) (agenticrag.WaterLevelSample, error) {
	if err := ctx.Err(); err != nil {
		return agenticrag.WaterLevelSample{}, err
	}
	if len(history) == 0 {
		return agenticrag.WaterLevelSample{}, agenticrag.NewUnavailableError("forecast", "level history",
			fmt.Errorf("no samples for site '%s'", site))
	}

	samples := make([]agenticrag.WaterLevelSample, len(history))
	copy(samples, history)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	if len(samples) > f.window {
		samples = samples[len(samples)-f.window:]
	}

	newest := samples[len(samples)-1]
	predicted := newest.Level + ratePerSecond(samples)*horizon.Seconds()
	if predicted < 0 {
		predicted = 0
	}

	return agenticrag.WaterLevelSample{
		Site:      site,
		Timestamp: newest.Timestamp.Add(horizon),
		Level:     predicted,
		Source:    agenticrag.SourceForecast,
	}, nil
}

// ratePerSecond estimates the level change rate over the window endpoints.
func ratePerSecond(samples []agenticrag.WaterLevelSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first := samples[0]
	last := samples[len(samples)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (last.Level - first.Level) / elapsed
}
