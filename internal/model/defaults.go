package model

import "time"

// Shared defaults used by the server binary and the aggregation job.
const (
	DefaultAggregationInterval = 30 * time.Minute
	DefaultAnomalyThreshold    = 80000.0
	DefaultAlertSeverity       = 3
	DefaultSentinelCategory    = "New"
)

// DefaultMetrics is the fixed enumerable set of interface counters the
// aggregation job drains each cycle. The set size bounds per-cycle work.
func DefaultMetrics() []string {
	return []string{
		"in_bytes",
		"in_unicast_packets",
		"in_non_unicast_packets",
		"in_discards",
		"in_errors",
		"in_unknown_protocols",
		"out_bytes",
		"out_unicast_packets",
		"out_non_unicast_packets",
		"out_discards",
		"out_errors",
	}
}
