package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DataDir string `mapstructure:"data_dir"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "./data/brokerpulse.db")

	v.SetDefault("vault.passphrase", "")
	v.SetDefault("probe.ping_preflight", true)

	v.SetDefault("monitor.check_interval", "5m")
	v.SetDefault("monitor.timeout", "30s")
	v.SetDefault("monitor.max_consecutive_failures", 3)
	v.SetDefault("monitor.enable_realtime_updates", true)
	v.SetDefault("monitor.initial_check_delay", "1s")
	v.SetDefault("monitor.max_workers", 8)
	v.SetDefault("monitor.alert_thresholds.response_time_ms", 5000)
	v.SetDefault("monitor.alert_thresholds.uptime_percentage", 95)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("brokerpulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/brokerpulse")
	}

	// Environment variable support: BROKERPULSE_SERVER_PORT=9090
	v.SetEnvPrefix("BROKERPULSE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
