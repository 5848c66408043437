// Package config provides guardian configuration: YAML file loading with
// environment overrides and fail-fast validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GetEnv returns the value of key from the environment, or defaultValue if
// unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if
// unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// DecoyConfig configures the decoy-interaction detector.
type DecoyConfig struct {
	Enabled bool `yaml:"enabled"`
	// RegistryPath points at a YAML file listing decoy markers. When set,
	// the detector reloads it on change. Empty means built-in defaults only.
	RegistryPath  string   `yaml:"registry_path"`
	Markers       []string `yaml:"markers"`
	AdminSuffixes []string `yaml:"admin_suffixes"`
}

// RiskConfig configures the risk scorer.
type RiskConfig struct {
	Enabled bool `yaml:"enabled"`
	// AnomalyThreshold is the normalized score at or above which a verdict
	// escalates. Must be in [0,1].
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
	// RuleConfidence is reported for rule-based assessments. A model-backed
	// scorer reports ModelConfidence instead.
	RuleConfidence  float64  `yaml:"rule_confidence"`
	ModelConfidence float64  `yaml:"model_confidence"`
	PrivateNetworks []string `yaml:"private_networks"`
}

// RemediationConfig configures the remediation coordinator.
type RemediationConfig struct {
	Enabled bool `yaml:"enabled"`
	// QuarantineThreshold is the normalized score at or above which an
	// escalation is classified critical. Must be in [0,1].
	QuarantineThreshold float64 `yaml:"quarantine_threshold"`
}

// AlertsConfig configures the alert store.
type AlertsConfig struct {
	Capacity int `yaml:"capacity"`
}

// MonitoringConfig configures the health and metrics supervision loops.
type MonitoringConfig struct {
	HealthInterval  time.Duration `yaml:"health_interval"`
	HealthBackoff   time.Duration `yaml:"health_backoff"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	MetricsBackoff  time.Duration `yaml:"metrics_backoff"`
}

// SinkConfig configures the external alert/metrics sink. An empty NATS URL
// disables publishing.
type SinkConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Config is the resolved guardian configuration.
type Config struct {
	Environment     string        `yaml:"environment"`
	HTTPAddr        string        `yaml:"http_addr"`
	APIKey          string        `yaml:"api_key"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Decoy       DecoyConfig       `yaml:"decoy"`
	Risk        RiskConfig        `yaml:"risk"`
	Remediation RemediationConfig `yaml:"remediation"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Sink        SinkConfig        `yaml:"sink"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Environment:     "development",
		HTTPAddr:        ":8080",
		ShutdownTimeout: 30 * time.Second,
		Decoy: DecoyConfig{
			Enabled:       true,
			Markers:       []string{"_decoy_"},
			AdminSuffixes: []string{"_decoy_admin"},
		},
		Risk: RiskConfig{
			Enabled:          true,
			AnomalyThreshold: 0.8,
			RuleConfidence:   0.7,
			ModelConfidence:  0.8,
			PrivateNetworks:  []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		},
		Remediation: RemediationConfig{
			Enabled:             true,
			QuarantineThreshold: 0.9,
		},
		Alerts: AlertsConfig{Capacity: 100},
		Monitoring: MonitoringConfig{
			HealthInterval:  30 * time.Second,
			HealthBackoff:   60 * time.Second,
			MetricsInterval: 60 * time.Second,
			MetricsBackoff:  120 * time.Second,
		},
		Sink: SinkConfig{SubjectPrefix: "guardian"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = GetEnv("GUARDIAN_ENVIRONMENT", c.Environment)
	c.HTTPAddr = GetEnv("GUARDIAN_HTTP_ADDR", c.HTTPAddr)
	c.APIKey = GetEnv("GUARDIAN_API_KEY", c.APIKey)
	c.ShutdownTimeout = GetEnvDuration("GUARDIAN_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.Sink.NATSURL = GetEnv("GUARDIAN_NATS_URL", c.Sink.NATSURL)
	c.Decoy.RegistryPath = GetEnv("GUARDIAN_DECOY_REGISTRY", c.Decoy.RegistryPath)
}

// Validate rejects out-of-range thresholds and non-positive intervals.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	if c.Risk.AnomalyThreshold < 0 || c.Risk.AnomalyThreshold > 1 {
		problems = append(problems, "risk.anomaly_threshold must be between 0 and 1")
	}
	if c.Remediation.QuarantineThreshold < 0 || c.Remediation.QuarantineThreshold > 1 {
		problems = append(problems, "remediation.quarantine_threshold must be between 0 and 1")
	}
	if c.Risk.RuleConfidence < 0 || c.Risk.RuleConfidence > 1 {
		problems = append(problems, "risk.rule_confidence must be between 0 and 1")
	}
	if c.Risk.ModelConfidence < 0 || c.Risk.ModelConfidence > 1 {
		problems = append(problems, "risk.model_confidence must be between 0 and 1")
	}
	if c.Alerts.Capacity <= 0 {
		problems = append(problems, "alerts.capacity must be positive")
	}
	if c.Monitoring.HealthInterval <= 0 || c.Monitoring.MetricsInterval <= 0 {
		problems = append(problems, "monitoring intervals must be positive")
	}
	if c.Monitoring.HealthBackoff <= 0 || c.Monitoring.MetricsBackoff <= 0 {
		problems = append(problems, "monitoring backoffs must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
