package risk

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AutoClosePolicy is the corrective policy applied when a position outgrows
// its ceiling.
type AutoClosePolicy int

const (
	PolicyHybrid AutoClosePolicy = iota
	PolicyCancelOrders
	PolicyForceSell
	PolicyStopBuy
)

func (p AutoClosePolicy) String() string {
	switch p {
	case PolicyCancelOrders:
		return "cancel_orders"
	case PolicyForceSell:
		return "force_sell"
	case PolicyStopBuy:
		return "stop_buy"
	default:
		return "hybrid"
	}
}

// policyAliases maps every accepted user-facing spelling to its policy, so
// config compatibility survives renames without string comparisons leaking
// into business logic.
var policyAliases = map[string]AutoClosePolicy{
	"hybrid":        PolicyHybrid,
	"smart":         PolicyHybrid,
	"cancel_orders": PolicyCancelOrders,
	"cancel":        PolicyCancelOrders,
	"force_sell":    PolicyForceSell,
	"sell":          PolicyForceSell,
	"partial_sell":  PolicyForceSell,
	"stop_buy":      PolicyStopBuy,
	"stop_buying":   PolicyStopBuy,
}

// ParseAutoClosePolicy resolves a user-facing policy name.
func ParseAutoClosePolicy(name string) (AutoClosePolicy, error) {
	if name == "" {
		return PolicyHybrid, nil
	}
	p, ok := policyAliases[name]
	if !ok {
		return PolicyHybrid, fmt.Errorf("unknown auto-close policy %q", name)
	}
	return p, nil
}

// SessionAction is what the session breaker does when a limit is crossed.
type SessionAction int

const (
	ActionPause SessionAction = iota
	ActionShutdown
)

func (a SessionAction) String() string {
	if a == ActionShutdown {
		return "shutdown"
	}
	return "pause"
}

var sessionActionAliases = map[string]SessionAction{
	"pause":    ActionPause,
	"wait":     ActionPause,
	"shutdown": ActionShutdown,
	"stop":     ActionShutdown,
	"halt":     ActionShutdown,
}

// ParseSessionAction resolves a user-facing session action name.
func ParseSessionAction(name string) (SessionAction, error) {
	if name == "" {
		return ActionPause, nil
	}
	a, ok := sessionActionAliases[name]
	if !ok {
		return ActionPause, fmt.Errorf("unknown session action %q", name)
	}
	return a, nil
}

// Config carries every risk threshold, immutable for the duration of a run.
// Defaults are the operationally observed values, all overridable.
type Config struct {
	// Cycle-level circuit breaker, percent of cycle entry notional.
	CycleStopLossPct   float64 `yaml:"cycle_stop_loss_pct"`
	CycleTakeProfitPct float64 `yaml:"cycle_take_profit_pct"`

	// Session-level limits. Zero disables the corresponding check.
	SessionMaxLossUSD    float64       `yaml:"session_max_loss_usd"`
	SessionMaxLossPct    float64       `yaml:"session_max_loss_pct"`
	SessionProfitUSD     float64       `yaml:"session_profit_usd"`
	SessionProfitPct     float64       `yaml:"session_profit_pct"`
	SessionAction        SessionAction `yaml:"-"`
	SessionActionName    string        `yaml:"session_action"`
	SessionPauseDuration time.Duration `yaml:"-"`
	SessionPauseMinutes  int           `yaml:"session_pause_minutes"`

	// Margin guard cascade, in margin-free percent.
	MarginCancelEnabled   bool    `yaml:"margin_cancel_enabled"`
	MarginCancelThreshold float64 `yaml:"margin_cancel_threshold"`
	MarginReduceEnabled   bool    `yaml:"margin_reduce_enabled"`
	MarginReduceThreshold float64 `yaml:"margin_reduce_threshold"`
	MarginReduceFraction  float64 `yaml:"margin_reduce_fraction"`

	// Auto-close limiter.
	MaxPositionValueUSD  float64         `yaml:"max_position_value_usd"`
	AutoClosePolicy      AutoClosePolicy `yaml:"-"`
	AutoClosePolicyName  string          `yaml:"auto_close_policy"`
	AutoClosePercent     float64         `yaml:"auto_close_percent"`
	DistantOrderCutoff   float64         `yaml:"distant_order_cutoff"` // fraction of mark, e.g. 0.02
	CoverageRecheckEvery int             `yaml:"coverage_recheck_every"`

	// Primary TP/SL coverage, percent of entry notional.
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`

	// Emergency fail-safe.
	EmergencyStopLossPct    float64       `yaml:"emergency_stop_loss_pct"`
	EmergencyTakeProfitPct  float64       `yaml:"emergency_take_profit_pct"`
	EmergencyMaxTimeInLoss  time.Duration `yaml:"-"`
	EmergencyMaxLossMinutes int           `yaml:"emergency_max_loss_minutes"`

	// Time-in-loss reset policy: "recovery" or "any_tick".
	LossResetPolicy string `yaml:"loss_reset_policy"`
}

// DefaultConfig returns the observed operational defaults.
func DefaultConfig() Config {
	return Config{
		CycleStopLossPct:       2.0,
		CycleTakeProfitPct:     4.0,
		SessionMaxLossUSD:      200,
		SessionProfitUSD:       500,
		SessionAction:          ActionPause,
		SessionPauseDuration:   30 * time.Minute,
		MarginCancelEnabled:    true,
		MarginCancelThreshold:  20,
		MarginReduceEnabled:    true,
		MarginReduceThreshold:  10,
		MarginReduceFraction:   0.25,
		MaxPositionValueUSD:    1000,
		AutoClosePolicy:        PolicyHybrid,
		AutoClosePercent:       0.30,
		DistantOrderCutoff:     0.02,
		CoverageRecheckEvery:   5,
		TakeProfitPct:          3.0,
		StopLossPct:            1.5,
		EmergencyStopLossPct:   3.0,
		EmergencyTakeProfitPct: 10.0,
		EmergencyMaxTimeInLoss: 45 * time.Minute,
		LossResetPolicy:        "recovery",
	}
}

// LoadConfig merges an optional YAML profile over the defaults,
// resolves alias names, and validates.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read risk profile: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse risk profile: %w", err)
		}
	}
	if cfg.AutoClosePolicyName != "" {
		p, err := ParseAutoClosePolicy(cfg.AutoClosePolicyName)
		if err != nil {
			return Config{}, err
		}
		cfg.AutoClosePolicy = p
	}
	if cfg.SessionActionName != "" {
		a, err := ParseSessionAction(cfg.SessionActionName)
		if err != nil {
			return Config{}, err
		}
		cfg.SessionAction = a
	}
	if cfg.SessionPauseMinutes > 0 {
		cfg.SessionPauseDuration = time.Duration(cfg.SessionPauseMinutes) * time.Minute
	}
	if cfg.EmergencyMaxLossMinutes > 0 {
		cfg.EmergencyMaxTimeInLoss = time.Duration(cfg.EmergencyMaxLossMinutes) * time.Minute
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects economically backwards configurations at startup.
// A bot running with TP <= SL has negative expectancy by construction, so
// that is a fatal error, never a silent default.
func (c Config) Validate() error {
	if c.TakeProfitPct <= c.StopLossPct {
		return fmt.Errorf("risk config: take profit %.2f%% must be strictly greater than stop loss %.2f%%",
			c.TakeProfitPct, c.StopLossPct)
	}
	if c.CycleTakeProfitPct <= c.CycleStopLossPct {
		return fmt.Errorf("risk config: cycle take profit %.2f%% must be strictly greater than cycle stop loss %.2f%%",
			c.CycleTakeProfitPct, c.CycleStopLossPct)
	}
	if c.StopLossPct <= 0 || c.TakeProfitPct <= 0 {
		return fmt.Errorf("risk config: TP/SL percentages must be positive")
	}
	if c.MarginCancelEnabled && c.MarginReduceEnabled && c.MarginReduceThreshold >= c.MarginCancelThreshold {
		return fmt.Errorf("risk config: reduce threshold %.1f must be below cancel threshold %.1f",
			c.MarginReduceThreshold, c.MarginCancelThreshold)
	}
	if c.MarginReduceFraction <= 0 || c.MarginReduceFraction > 1 {
		return fmt.Errorf("risk config: reduce fraction %.2f out of (0,1]", c.MarginReduceFraction)
	}
	if c.AutoClosePercent <= 0 || c.AutoClosePercent > 1 {
		return fmt.Errorf("risk config: auto-close percent %.2f out of (0,1]", c.AutoClosePercent)
	}
	if c.EmergencyStopLossPct <= c.StopLossPct {
		return fmt.Errorf("risk config: emergency stop loss %.2f%% must be stricter (greater) than primary %.2f%%",
			c.EmergencyStopLossPct, c.StopLossPct)
	}
	if c.CoverageRecheckEvery <= 0 {
		return fmt.Errorf("risk config: coverage recheck cadence must be positive")
	}
	return nil
}
