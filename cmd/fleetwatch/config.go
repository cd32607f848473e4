package main

import (
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

const (
	defaultBindHost       = "127.0.0.1"
	defaultAgentPort      = 4000
	defaultAPIPort        = 3000
	defaultQueryTimeout   = 30 * time.Second
	defaultMaxLineSize    = 1024 * 1024
	defaultAlertRetention = 90 // days, 0 = disabled
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath              string             `mapstructure:"db-path" yaml:"db-path"`
	QueryTimeout        time.Duration      `mapstructure:"query-timeout" yaml:"query-timeout"`
	AggregationInterval time.Duration      `mapstructure:"aggregation-interval" yaml:"aggregation-interval"`
	AnomalyThreshold    float64            `mapstructure:"anomaly-threshold" yaml:"anomaly-threshold"`
	AnomalyThresholds   map[string]float64 `mapstructure:"anomaly-thresholds" yaml:"anomaly-thresholds,omitempty"`
	Metrics             []string           `mapstructure:"metrics" yaml:"metrics"`
	SentinelCategory    string             `mapstructure:"sentinel-category" yaml:"sentinel-category"`
	AlertSeverity       int                `mapstructure:"alert-severity" yaml:"alert-severity"`
	AgentEnabled        bool               `mapstructure:"agent-enabled" yaml:"agent-enabled"`
	AgentPort           int                `mapstructure:"agent-port" yaml:"agent-port"`
	AgentAddr           string             `mapstructure:"agent-addr" yaml:"agent-addr"`
	MaxLineSize         int                `mapstructure:"max-line-size" yaml:"max-line-size"`
	APIEnabled          bool               `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort             int                `mapstructure:"api-port" yaml:"api-port"`
	APIAddr             string             `mapstructure:"api-addr" yaml:"api-addr"`
	JournalEnabled      bool               `mapstructure:"journal-enabled" yaml:"journal-enabled"`
	JournalDir          string             `mapstructure:"journal-dir" yaml:"journal-dir"`
	AlertRetention      int                `mapstructure:"alert-retention" yaml:"alert-retention"`
	ConfigPath          string             `mapstructure:"-" yaml:"-"` // not from config file
}

func defaultConfig() map[string]any {
	return map[string]any{
		"query-timeout":        defaultQueryTimeout,
		"aggregation-interval": model.DefaultAggregationInterval,
		"anomaly-threshold":    model.DefaultAnomalyThreshold,
		"metrics":              model.DefaultMetrics(),
		"sentinel-category":    model.DefaultSentinelCategory,
		"alert-severity":       model.DefaultAlertSeverity,
		"agent-enabled":        true,
		"agent-port":           defaultAgentPort,
		"max-line-size":        defaultMaxLineSize,
		"api-enabled":          true,
		"api-port":             defaultAPIPort,
		"journal-enabled":      true,
		"alert-retention":      defaultAlertRetention,
	}
}
