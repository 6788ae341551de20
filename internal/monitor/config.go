package monitor

import (
	"fmt"
	"time"
)

// Thresholds are the alerting limits evaluated after every check.
type Thresholds struct {
	ResponseTimeMs   int64   `mapstructure:"response_time_ms" json:"response_time_ms"`
	UptimePercentage float64 `mapstructure:"uptime_percentage" json:"uptime_percentage"`
}

// Config controls one user's monitoring session. Supplied at
// StartMonitoring and held for the session's lifetime; a running session
// is never reconfigured (stop and start again instead).
type Config struct {
	CheckInterval          time.Duration `mapstructure:"check_interval" json:"check_interval"`
	Timeout                time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures" json:"max_consecutive_failures"`
	EnableRealTimeUpdates  bool          `mapstructure:"enable_realtime_updates" json:"enable_realtime_updates"`
	InitialCheckDelay      time.Duration `mapstructure:"initial_check_delay" json:"initial_check_delay"`
	MaxWorkers             int           `mapstructure:"max_workers" json:"max_workers"`
	AlertThresholds        Thresholds    `mapstructure:"alert_thresholds" json:"alert_thresholds"`
}

// DefaultConfig returns the monitoring parameters used when a session is
// started without an explicit config.
func DefaultConfig() Config {
	return Config{
		CheckInterval:          5 * time.Minute,
		Timeout:                30 * time.Second,
		MaxConsecutiveFailures: 3,
		EnableRealTimeUpdates:  true,
		InitialCheckDelay:      time.Second,
		MaxWorkers:             8,
		AlertThresholds: Thresholds{
			ResponseTimeMs:   5000,
			UptimePercentage: 95,
		},
	}
}

// Validate rejects configs that indicate a caller bug.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("monitoring config: check interval must be > 0, got %s", c.CheckInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("monitoring config: timeout must be > 0, got %s", c.Timeout)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("monitoring config: max consecutive failures must be >= 1, got %d", c.MaxConsecutiveFailures)
	}
	if c.InitialCheckDelay < 0 {
		return fmt.Errorf("monitoring config: initial check delay must be >= 0, got %s", c.InitialCheckDelay)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("monitoring config: max workers must be >= 1, got %d", c.MaxWorkers)
	}
	return nil
}
