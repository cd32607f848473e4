package samplestore

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

func newTestBuffer(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPushAndDrain(t *testing.T) {
	s := newTestBuffer(t)
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	if err := s.Push("in_bytes", "core-sw-1", ts, 100); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("in_bytes", "core-sw-2", ts, 200); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("in_bytes", "core-sw-1", ts.Add(time.Minute), 300); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("out_bytes", "core-sw-1", ts, 999); err != nil {
		t.Fatalf("Push(out_bytes): %v", err)
	}

	hosts, err := s.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(hosts))
	}
	// First-push order.
	if hosts[0].Hostname != "core-sw-1" || hosts[1].Hostname != "core-sw-2" {
		t.Errorf("order = [%s %s], want [core-sw-1 core-sw-2]", hosts[0].Hostname, hosts[1].Hostname)
	}
	if len(hosts[0].Samples) != 2 || hosts[0].Samples[1].Value != 300 {
		t.Errorf("core-sw-1 samples = %+v, want two samples ending at 300", hosts[0].Samples)
	}
}

func TestDrainLeavesBufferIntact(t *testing.T) {
	s := newTestBuffer(t)
	if err := s.Push("in_errors", "h1", time.Now(), 1); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := s.Drain("in_errors"); err != nil {
		t.Fatalf("first Drain: %v", err)
	}
	again, err := s.Drain("in_errors")
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if len(again) != 1 || len(again[0].Samples) != 1 {
		t.Errorf("second drain = %+v, want the same pending sample", again)
	}
}

func TestDrainSnapshotIsACopy(t *testing.T) {
	s := newTestBuffer(t)
	if err := s.Push("in_bytes", "h1", time.Now(), 5); err != nil {
		t.Fatalf("Push: %v", err)
	}

	hosts, err := s.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	hosts[0].Samples[0].Value = -1

	fresh, err := s.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain after mutation: %v", err)
	}
	if fresh[0].Samples[0].Value != 5 {
		t.Errorf("buffer value = %v, want 5 (snapshot must not alias)", fresh[0].Samples[0].Value)
	}
}

func TestClearDropsOnlyThatMetric(t *testing.T) {
	s := newTestBuffer(t)
	now := time.Now()
	if err := s.Push("in_bytes", "h1", now, 1); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("out_bytes", "h1", now, 2); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := s.Clear("in_bytes"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	cleared, err := s.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain(cleared): %v", err)
	}
	if len(cleared) != 0 {
		t.Errorf("in_bytes after clear = %+v, want empty", cleared)
	}

	kept, err := s.Drain("out_bytes")
	if err != nil {
		t.Fatalf("Drain(kept): %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("out_bytes after clearing in_bytes = %+v, want untouched", kept)
	}
}

func TestDrainUnknownMetricIsEmpty(t *testing.T) {
	s := newTestBuffer(t)
	hosts, err := s.Drain("ghost_metric")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(hosts) != 0 {
		t.Errorf("hosts = %+v, want empty", hosts)
	}
}

func TestPushRejectsBadInput(t *testing.T) {
	s := newTestBuffer(t)
	now := time.Now()

	cases := []struct {
		name     string
		metric   string
		hostname string
		value    float64
	}{
		{"empty metric", "", "h1", 1},
		{"empty hostname", "in_bytes", " ", 1},
		{"nan", "in_bytes", "h1", math.NaN()},
		{"positive inf", "in_bytes", "h1", math.Inf(1)},
		{"negative inf", "in_bytes", "h1", math.Inf(-1)},
	}
	for _, tc := range cases {
		if err := s.Push(tc.metric, tc.hostname, now, tc.value); !errors.Is(err, model.ErrInvalidInput) {
			t.Errorf("%s: Push = %v, want ErrInvalidInput", tc.name, err)
		}
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d, want 0 after rejected pushes", s.Pending())
	}
}

func TestConcurrentPush(t *testing.T) {
	s := newTestBuffer(t)
	now := time.Now()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := s.Push("in_bytes", "core-sw-1", now, float64(g*100+i)); err != nil {
					t.Errorf("Push: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	hosts, err := s.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(hosts) != 1 || len(hosts[0].Samples) != 400 {
		t.Errorf("drained %d hosts / %d samples, want 1/400", len(hosts), len(hosts[0].Samples))
	}
}

func TestJournalReplayAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Push("in_bytes", "core-sw-1", ts, 80001); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("in_bytes", "core-sw-1", ts.Add(time.Minute), 120); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push("out_bytes", "core-sw-2", ts, 7); err != nil {
		t.Fatalf("Push(out_bytes): %v", err)
	}
	// out_bytes was drained and persisted before the "crash".
	if err := s.Clear("out_bytes"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted, err := New(dir)
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	t.Cleanup(func() { restarted.Close() })

	inBytes, err := restarted.Drain("in_bytes")
	if err != nil {
		t.Fatalf("Drain(in_bytes): %v", err)
	}
	if len(inBytes) != 1 || len(inBytes[0].Samples) != 2 {
		t.Fatalf("in_bytes after restart = %+v, want 1 host / 2 samples", inBytes)
	}
	if inBytes[0].Samples[0].Value != 80001 || !inBytes[0].Samples[0].Timestamp.Equal(ts) {
		t.Errorf("replayed sample = %+v, want value 80001 at %v", inBytes[0].Samples[0], ts)
	}

	outBytes, err := restarted.Drain("out_bytes")
	if err != nil {
		t.Fatalf("Drain(out_bytes): %v", err)
	}
	if len(outBytes) != 0 {
		t.Errorf("cleared metric replayed after restart: %+v", outBytes)
	}
}
