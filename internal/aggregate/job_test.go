package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

type fakeBuffer struct {
	pending map[string][]model.HostSamples
	cleared []string
}

func (f *fakeBuffer) Push(metric, hostname string, ts time.Time, value float64) error {
	return nil
}

func (f *fakeBuffer) Drain(metric string) ([]model.HostSamples, error) {
	return f.pending[metric], nil
}

func (f *fakeBuffer) Clear(metric string) error {
	f.cleared = append(f.cleared, metric)
	delete(f.pending, metric)
	return nil
}

type fakeStore struct {
	devices   map[string]*model.Device
	alerts    []model.Alert
	merges    map[string]map[string]float64 // "deviceID/metric" -> values
	mergeErr  map[string]error              // hostname -> forced MergeLive failure
	nextID    int
	category  model.Category
	ensureHit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:  make(map[string]*model.Device),
		merges:   make(map[string]map[string]float64),
		mergeErr: make(map[string]error),
		category: model.Category{ID: "cat-new", Name: "New"},
	}
}

func (f *fakeStore) EnsureCategory(name string) (*model.Category, error) {
	f.ensureHit++
	if name != f.category.Name {
		return nil, errors.New("unexpected category " + name)
	}
	return &f.category, nil
}

func (f *fakeStore) UpsertDevice(hostname, categoryID, ip string) (*model.Device, error) {
	if d, ok := f.devices[hostname]; ok {
		return d, nil
	}
	f.nextID++
	d := &model.Device{ID: "dev-" + hostname, Hostname: hostname, CategoryID: categoryID}
	f.devices[hostname] = d
	return d, nil
}

func (f *fakeStore) MergeLive(deviceID, key string, values map[string]float64) error {
	for host, d := range f.devices {
		if d.ID == deviceID {
			if err := f.mergeErr[host]; err != nil {
				return err
			}
		}
	}
	slot := deviceID + "/" + key
	if f.merges[slot] == nil {
		f.merges[slot] = make(map[string]float64)
	}
	for ts, v := range values {
		f.merges[slot][ts] = v
	}
	return nil
}

func (f *fakeStore) ReplaceStatic(deviceID, key string, value any) error { return nil }

func (f *fakeStore) InsertAlert(a model.Alert) (model.Alert, error) {
	f.alerts = append(f.alerts, a)
	return a, nil
}

func samplesAt(base time.Time, values ...float64) []model.Sample {
	out := make([]model.Sample, len(values))
	for i, v := range values {
		out[i] = model.Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func TestProcessMetricMeanAndThresholdAlerts(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	buf := &fakeBuffer{pending: map[string][]model.HostSamples{
		"in_bytes": {{Hostname: "core-sw-1", Samples: samplesAt(base, 79999, 80000, 80001)}},
	}}
	store := newFakeStore()

	job := NewJob(buf, store, Config{Metrics: []string{"in_bytes"}})
	job.now = func() time.Time { return time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC) }

	job.RunCycle(context.Background())

	// Threshold is inclusive: 80000 and 80001 alert, 79999 does not.
	if len(store.alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(store.alerts))
	}
	if store.alerts[0].Message != "Unusual high amount of in_bytes: 80000" {
		t.Errorf("message = %q", store.alerts[0].Message)
	}
	if store.alerts[0].Severity != model.DefaultAlertSeverity {
		t.Errorf("severity = %d, want %d", store.alerts[0].Severity, model.DefaultAlertSeverity)
	}
	// Alerts carry the offending sample's own timestamp.
	if !store.alerts[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Errorf("alert timestamp = %v, want sample time %v", store.alerts[0].Timestamp, base.Add(time.Minute))
	}

	values := store.merges["dev-core-sw-1/in_bytes"]
	if len(values) != 1 {
		t.Fatalf("merged values = %v, want one drain point", values)
	}
	mean, ok := values["2026-02-03 10:30:00"]
	if !ok {
		t.Fatalf("merge keyed %v, want drain-time key", values)
	}
	if mean != 80000 {
		t.Errorf("mean = %v, want 80000", mean)
	}

	if len(buf.cleared) != 1 || buf.cleared[0] != "in_bytes" {
		t.Errorf("cleared = %v, want [in_bytes]", buf.cleared)
	}
}

func TestProcessMetricEmptyDrainIsANoop(t *testing.T) {
	buf := &fakeBuffer{pending: map[string][]model.HostSamples{}}
	store := newFakeStore()

	job := NewJob(buf, store, Config{Metrics: []string{"in_bytes"}})
	job.RunCycle(context.Background())

	if len(store.devices) != 0 || len(store.alerts) != 0 || len(store.merges) != 0 {
		t.Errorf("empty drain wrote state: devices=%d alerts=%d merges=%d",
			len(store.devices), len(store.alerts), len(store.merges))
	}
	if len(buf.cleared) != 0 {
		t.Errorf("cleared = %v, want none for an empty drain", buf.cleared)
	}
}

func TestProcessMetricHostFailureLeavesBuffer(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	buf := &fakeBuffer{pending: map[string][]model.HostSamples{
		"in_bytes": {
			{Hostname: "good-host", Samples: samplesAt(base, 10)},
			{Hostname: "bad-host", Samples: samplesAt(base, 20)},
		},
	}}
	store := newFakeStore()
	store.mergeErr["bad-host"] = errors.New("db unavailable")

	job := NewJob(buf, store, Config{Metrics: []string{"in_bytes"}})
	err := job.processMetric("in_bytes")
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("processMetric = %v, want partial-failure error", err)
	}

	// The healthy hostname was persisted; the metric stays buffered.
	if _, ok := store.merges["dev-good-host/in_bytes"]; !ok {
		t.Errorf("good-host was not persisted: %v", store.merges)
	}
	if len(buf.cleared) != 0 {
		t.Errorf("cleared = %v, metric must stay buffered after a failure", buf.cleared)
	}
}

func TestProcessHostPerMetricThresholdOverride(t *testing.T) {
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	buf := &fakeBuffer{pending: map[string][]model.HostSamples{
		"in_errors": {{Hostname: "core-sw-1", Samples: samplesAt(base, 50, 120)}},
	}}
	store := newFakeStore()

	job := NewJob(buf, store, Config{
		Metrics:    []string{"in_errors"},
		Thresholds: map[string]float64{"in_errors": 100},
	})
	job.RunCycle(context.Background())

	if len(store.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 (override threshold 100)", len(store.alerts))
	}
	if store.alerts[0].Message != "Unusual high amount of in_errors: 120" {
		t.Errorf("message = %q", store.alerts[0].Message)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	buf := &fakeBuffer{pending: map[string][]model.HostSamples{}}
	job := NewJob(buf, newFakeStore(), Config{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	job := NewJob(&fakeBuffer{}, newFakeStore(), Config{})
	if job.conf.Interval != model.DefaultAggregationInterval {
		t.Errorf("interval = %v, want %v", job.conf.Interval, model.DefaultAggregationInterval)
	}
	if len(job.conf.Metrics) != 11 {
		t.Errorf("metrics = %d, want the 11 counter defaults", len(job.conf.Metrics))
	}
	if job.conf.Threshold != model.DefaultAnomalyThreshold {
		t.Errorf("threshold = %v, want %v", job.conf.Threshold, model.DefaultAnomalyThreshold)
	}
	if job.conf.SentinelCategory != model.DefaultSentinelCategory {
		t.Errorf("sentinel = %q, want %q", job.conf.SentinelCategory, model.DefaultSentinelCategory)
	}
}
