// Package aggregate runs the periodic drain-aggregate-alert cycle that
// turns buffered counter samples into per-device live metrics and
// threshold alerts.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

// deviceStore is the slice of the persistent store the job needs.
type deviceStore interface {
	model.DeviceWriter
	model.AlertWriter
	EnsureCategory(name string) (*model.Category, error)
}

// Config tunes one aggregation job.
type Config struct {
	// Interval is the fixed delay between cycles, measured from the end
	// of one cycle to the start of the next.
	Interval time.Duration

	// Metrics is the set of counter metrics to aggregate each cycle.
	Metrics []string

	// Threshold is the default per-sample anomaly threshold. Thresholds
	// overrides it per metric.
	Threshold  float64
	Thresholds map[string]float64

	// SentinelCategory is the category auto-created devices land in.
	SentinelCategory string

	// AlertSeverity is the severity stamped on threshold alerts.
	AlertSeverity int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = model.DefaultAggregationInterval
	}
	if len(c.Metrics) == 0 {
		c.Metrics = model.DefaultMetrics()
	}
	if c.Threshold <= 0 {
		c.Threshold = model.DefaultAnomalyThreshold
	}
	if c.SentinelCategory == "" {
		c.SentinelCategory = model.DefaultSentinelCategory
	}
	if c.AlertSeverity == 0 {
		c.AlertSeverity = model.DefaultAlertSeverity
	}
}

// Job drains the sample buffer on a fixed-delay schedule, computes
// per-hostname means, raises per-sample threshold alerts, and merges
// results into device documents.
type Job struct {
	buffer model.SampleBuffer
	store  deviceStore
	conf   Config

	// now is swappable for tests.
	now func() time.Time
}

// NewJob creates an aggregation job. Zero config fields fall back to the
// fleet defaults.
func NewJob(buffer model.SampleBuffer, store deviceStore, conf Config) *Job {
	conf.applyDefaults()
	return &Job{buffer: buffer, store: store, conf: conf, now: time.Now}
}

// Run executes cycles until ctx is cancelled. Scheduling is fixed-delay:
// the interval is slept after a cycle completes, so a slow cycle never
// stacks onto the next.
func (j *Job) Run(ctx context.Context) error {
	timer := time.NewTimer(j.conf.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		j.RunCycle(ctx)
		timer.Reset(j.conf.Interval)
	}
}

// RunCycle processes every configured metric once. Metric failures are
// independent: one metric's failure never blocks the others.
func (j *Job) RunCycle(ctx context.Context) {
	for _, metric := range j.conf.Metrics {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := j.processMetric(metric); err != nil {
			log.Printf("aggregate: metric %s: %v", metric, err)
		}
	}
}

// processMetric drains one metric, persists every hostname's results, and
// clears the metric only when all hostnames succeeded. A partial failure
// leaves the buffer intact so the next cycle retries; alert dedup makes
// the replay idempotent.
func (j *Job) processMetric(metric string) error {
	hosts, err := j.buffer.Drain(metric)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if len(hosts) == 0 {
		return nil
	}

	drainedAt := j.now().UTC().Format("2006-01-02 15:04:05")

	var failed int
	for _, host := range hosts {
		if err := j.processHost(metric, drainedAt, host); err != nil {
			failed++
			log.Printf("aggregate: metric %s host %s: %v", metric, host.Hostname, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d hostnames failed, leaving buffer for retry", failed, len(hosts))
	}

	if err := j.buffer.Clear(metric); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (j *Job) processHost(metric, drainedAt string, host model.HostSamples) error {
	sentinel, err := j.store.EnsureCategory(j.conf.SentinelCategory)
	if err != nil {
		return fmt.Errorf("ensure category: %w", err)
	}
	device, err := j.store.UpsertDevice(host.Hostname, sentinel.ID, "")
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}

	threshold := j.conf.Threshold
	if t, ok := j.conf.Thresholds[metric]; ok {
		threshold = t
	}

	var sum float64
	for _, s := range host.Samples {
		sum += s.Value
		if s.Value >= threshold {
			_, err := j.store.InsertAlert(model.Alert{
				DeviceID:  device.ID,
				Severity:  j.conf.AlertSeverity,
				Message:   fmt.Sprintf("Unusual high amount of %s: %g", metric, s.Value),
				Timestamp: s.Timestamp,
			})
			if err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
	}

	mean := 0.0
	if len(host.Samples) > 0 {
		mean = sum / float64(len(host.Samples))
	}

	if err := j.store.MergeLive(device.ID, metric, map[string]float64{drainedAt: mean}); err != nil {
		return fmt.Errorf("merge live: %w", err)
	}
	return nil
}
