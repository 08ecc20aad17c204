package agenticrag

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the water level control parameters for one site. All
// levels are in the same unit the sensor reports (centimeters).
type Thresholds struct {
	// HighTrigger is the level at or above which drainage must start.
	HighTrigger float64 `yaml:"high_trigger"`
	// LowRelease is the level below which drainage may stop.
	LowRelease float64 `yaml:"low_release"`
	// HysteresisBand widens both thresholds to suppress oscillation around
	// a single cut line.
	HysteresisBand float64 `yaml:"hysteresis_band"`
	// MinActuationInterval is the minimum wall time between two state
	// changes of the same pump.
	MinActuationInterval time.Duration `yaml:"min_actuation_interval"`
	// ForecastHorizon is how far ahead the trend forecaster projects when a
	// live reading is missing.
	ForecastHorizon time.Duration `yaml:"forecast_horizon"`
	// StalenessBound is the maximum sample age before readings are treated
	// as unreliable and the fail-safe action applies.
	StalenessBound time.Duration `yaml:"staleness_bound"`
	// FailSafeAction is taken when no trustworthy reading exists.
	FailSafeAction ActionKind `yaml:"fail_safe_action"`
}

// UnmarshalYAML accepts durations as strings like "30s" or "5m". Absent
// fields keep their current values so a partial file merges over defaults.
func (t *Thresholds) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		HighTrigger          float64 `yaml:"high_trigger"`
		LowRelease           float64 `yaml:"low_release"`
		HysteresisBand       float64 `yaml:"hysteresis_band"`
		MinActuationInterval string  `yaml:"min_actuation_interval"`
		ForecastHorizon      string  `yaml:"forecast_horizon"`
		StalenessBound       string  `yaml:"staleness_bound"`
		FailSafeAction       string  `yaml:"fail_safe_action"`
	}{
		HighTrigger:    t.HighTrigger,
		LowRelease:     t.LowRelease,
		HysteresisBand: t.HysteresisBand,
		FailSafeAction: string(t.FailSafeAction),
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	t.HighTrigger = raw.HighTrigger
	t.LowRelease = raw.LowRelease
	t.HysteresisBand = raw.HysteresisBand
	t.FailSafeAction = ActionKind(raw.FailSafeAction)

	var err error
	if t.MinActuationInterval, err = parseDuration(raw.MinActuationInterval, t.MinActuationInterval); err != nil {
		return fmt.Errorf("min_actuation_interval: %w", err)
	}
	if t.ForecastHorizon, err = parseDuration(raw.ForecastHorizon, t.ForecastHorizon); err != nil {
		return fmt.Errorf("forecast_horizon: %w", err)
	}
	if t.StalenessBound, err = parseDuration(raw.StalenessBound, t.StalenessBound); err != nil {
		return fmt.Errorf("staleness_bound: %w", err)
	}
	return nil
}

// Validate checks the threshold geometry.
func (t Thresholds) Validate() error {
	if t.HighTrigger <= t.LowRelease {
		return NewConfigurationError(
			fmt.Sprintf("high trigger %.2f must be above low release %.2f", t.HighTrigger, t.LowRelease), nil)
	}
	if t.HysteresisBand < 0 {
		return NewConfigurationError("hysteresis band must not be negative", nil)
	}
	if t.MinActuationInterval < 0 {
		return NewConfigurationError("min actuation interval must not be negative", nil)
	}
	if t.StalenessBound <= 0 {
		return NewConfigurationError("staleness bound must be positive", nil)
	}
	switch t.FailSafeAction {
	case ActionNone, ActionPumpOn, ActionRaiseAlert:
	default:
		return NewConfigurationError(
			fmt.Sprintf("fail safe action %q is not allowed", t.FailSafeAction), nil)
	}
	return nil
}

// SiteConfig binds a monitored site to its pumps and thresholds.
type SiteConfig struct {
	Name       string     `yaml:"name"`
	Pumps      []string   `yaml:"pumps"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// AutomationConfig holds the control loop parameters.
type AutomationConfig struct {
	// TickInterval is the period of the automation loop.
	TickInterval time.Duration `yaml:"tick_interval"`
	// OverrideCooldown is how long a manual pump command suppresses
	// automatic actuation of the same pump.
	OverrideCooldown time.Duration `yaml:"override_cooldown"`
	// Sites lists the monitored sites.
	Sites []SiteConfig `yaml:"sites"`
}

// UnmarshalYAML accepts durations as strings. Absent fields keep their
// current values.
func (a *AutomationConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		TickInterval     string       `yaml:"tick_interval"`
		OverrideCooldown string       `yaml:"override_cooldown"`
		Sites            []SiteConfig `yaml:"sites"`
	}{
		Sites: a.Sites,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	a.Sites = raw.Sites
	var err error
	if a.TickInterval, err = parseDuration(raw.TickInterval, a.TickInterval); err != nil {
		return fmt.Errorf("tick_interval: %w", err)
	}
	if a.OverrideCooldown, err = parseDuration(raw.OverrideCooldown, a.OverrideCooldown); err != nil {
		return fmt.Errorf("override_cooldown: %w", err)
	}
	return nil
}

// Config holds the agent-wide settings.
type Config struct {
	// MaxConcurrency caps parallel tool invocations in one dispatch batch.
	MaxConcurrency int `yaml:"max_concurrency"`
	// ToolTimeout bounds how long dispatch waits for a single tool.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
	// AnalysisCacheTTL bounds how long analyzer output is reused for an
	// identical query. Zero disables analysis caching.
	AnalysisCacheTTL time.Duration `yaml:"analysis_cache_ttl"`
	// Automation configures the autonomous control loop.
	Automation AutomationConfig `yaml:"automation"`
}

// UnmarshalYAML accepts durations as strings. Absent fields keep their
// current values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MaxConcurrency   int              `yaml:"max_concurrency"`
		ToolTimeout      string           `yaml:"tool_timeout"`
		AnalysisCacheTTL string           `yaml:"analysis_cache_ttl"`
		Automation       AutomationConfig `yaml:"automation"`
	}{
		MaxConcurrency: c.MaxConcurrency,
		Automation:     c.Automation,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.MaxConcurrency = raw.MaxConcurrency
	c.Automation = raw.Automation
	var err error
	if c.ToolTimeout, err = parseDuration(raw.ToolTimeout, c.ToolTimeout); err != nil {
		return fmt.Errorf("tool_timeout: %w", err)
	}
	if c.AnalysisCacheTTL, err = parseDuration(raw.AnalysisCacheTTL, c.AnalysisCacheTTL); err != nil {
		return fmt.Errorf("analysis_cache_ttl: %w", err)
	}
	return nil
}

// parseDuration parses a duration string, keeping fallback for an absent
// value.
func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}

// DefaultThresholds returns the control parameters used when a site does not
// override them.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighTrigger:          80,
		LowRelease:           60,
		HysteresisBand:       5,
		MinActuationInterval: 5 * time.Minute,
		ForecastHorizon:      10 * time.Minute,
		StalenessBound:       2 * time.Minute,
		FailSafeAction:       ActionRaiseAlert,
	}
}

// DefaultConfig returns a working configuration with one default site.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   8,
		ToolTimeout:      30 * time.Second,
		AnalysisCacheTTL: 5 * time.Minute,
		Automation: AutomationConfig{
			TickInterval:     30 * time.Second,
			OverrideCooldown: 5 * time.Minute,
			Sites: []SiteConfig{
				{
					Name:       "site-a",
					Pumps:      []string{"pump-1"},
					Thresholds: DefaultThresholds(),
				},
			},
		},
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return NewConfigurationError("max concurrency must be positive", nil)
	}
	if c.ToolTimeout <= 0 {
		return NewConfigurationError("tool timeout must be positive", nil)
	}
	if c.Automation.TickInterval <= 0 {
		return NewConfigurationError("automation tick interval must be positive", nil)
	}
	seen := make(map[string]bool)
	for _, site := range c.Automation.Sites {
		if site.Name == "" {
			return NewConfigurationError("site name must not be empty", nil)
		}
		if seen[site.Name] {
			return NewConfigurationError(fmt.Sprintf("duplicate site %q", site.Name), nil)
		}
		seen[site.Name] = true
		if len(site.Pumps) == 0 {
			return NewConfigurationError(fmt.Sprintf("site %q has no pumps", site.Name), nil)
		}
		if err := site.Thresholds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Site returns the configuration for the named site.
func (c Config) Site(name string) (SiteConfig, bool) {
	for _, site := range c.Automation.Sites {
		if site.Name == name {
			return site, true
		}
	}
	return SiteConfig{}, false
}

// LoadConfig reads a YAML configuration file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("reading config %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, NewConfigurationError(fmt.Sprintf("parsing config %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
