// Package ingest parses and routes collector push payloads into the
// sample buffer.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

// timestampLayout is the canonical timestamp format agents send.
const timestampLayout = "2006-01-02 15:04:05"

// PushSample is one parsed counter reading.
type PushSample struct {
	Metric    string
	Timestamp time.Time
	Value     float64
}

// PushBatch is one agent push: every sample of one device from one line.
type PushBatch struct {
	Hostname string
	Samples  []PushSample
}

type pushEnvelope struct {
	Device string                        `json:"device"`
	Data   map[string]map[string]float64 `json:"data"`
}

// ParsePushLine decodes one newline-delimited push payload of the form
//
//	{"device": "core-sw-1", "data": {"in_bytes": {"2026-02-03 10:00:00": 4211}}}
//
// Malformed JSON, a missing device name, an unparsable timestamp, or a
// non-finite value rejects the whole line.
func ParsePushLine(line []byte) (PushBatch, error) {
	var env pushEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return PushBatch{}, fmt.Errorf("%w: malformed push payload: %v", model.ErrInvalidInput, err)
	}

	hostname := strings.TrimSpace(env.Device)
	if hostname == "" {
		return PushBatch{}, fmt.Errorf("%w: push payload has no device", model.ErrInvalidInput)
	}

	batch := PushBatch{Hostname: hostname}
	for metric, points := range env.Data {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			return PushBatch{}, fmt.Errorf("%w: push payload has an unnamed metric", model.ErrInvalidInput)
		}
		for raw, value := range points {
			ts, err := parseTimestamp(raw)
			if err != nil {
				return PushBatch{}, err
			}
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return PushBatch{}, fmt.Errorf("%w: metric %s has non-finite value", model.ErrInvalidInput, metric)
			}
			batch.Samples = append(batch.Samples, PushSample{Metric: metric, Timestamp: ts, Value: value})
		}
	}
	return batch, nil
}

// parseTimestamp accepts the canonical "2006-01-02 15:04:05" layout,
// RFC3339, and unix seconds.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(timestampLayout, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unparsable sample timestamp %q", model.ErrInvalidInput, raw)
}
