package config

import "fmt"

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled starts the metrics server alongside long-running commands.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for /metrics, /health and /ready.
	// Default: ":9095"
	Addr string `yaml:"addr"`
}

// PprofConfig contains pprof profiling configuration.
type PprofConfig struct {
	// Enabled starts the pprof server.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty"`

	// Addr is the address for the pprof server.
	// Default: "localhost:6060" (keep it on loopback)
	Addr string `yaml:"addr,omitempty"`
}

func (c MetricsConfig) validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func (c PprofConfig) validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("pprof.addr is required when pprof is enabled")
	}
	return nil
}
