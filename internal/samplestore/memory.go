// Package samplestore buffers pushed counter samples between aggregation
// cycles. The buffer is in-memory and partitioned per metric; an optional
// per-metric journal makes pushed samples survive a restart until the
// cycle that drains them commits.
package samplestore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/journal"
	"github.com/fleetwatch/fleetwatch/internal/model"
)

const journalSuffix = ".journal"

// partition holds the pending samples of one metric. order preserves
// first-push hostname order so drains enumerate hosts deterministically.
type partition struct {
	hosts map[string][]model.Sample
	order []string
}

func newPartition() *partition {
	return &partition{hosts: make(map[string][]model.Sample)}
}

func (p *partition) add(hostname string, s model.Sample) {
	if _, seen := p.hosts[hostname]; !seen {
		p.order = append(p.order, hostname)
	}
	p.hosts[hostname] = append(p.hosts[hostname], s)
}

// Store is an in-memory model.SampleBuffer with optional durability.
// When journalDir is set, every push is appended to a per-metric journal
// before it lands in memory, and Clear advances that journal's commit
// watermark so replay after a crash only re-buffers undrained samples.
type Store struct {
	mu         sync.Mutex
	partitions map[string]*partition
	journalDir string
	journals   map[string]*journal.Journal
}

// New creates a sample store. journalDir may be empty for a purely
// ephemeral buffer; otherwise existing journals in the directory are
// replayed into memory before the store is returned.
func New(journalDir string) (*Store, error) {
	s := &Store{
		partitions: make(map[string]*partition),
		journalDir: journalDir,
		journals:   make(map[string]*journal.Journal),
	}
	if journalDir == "" {
		return s, nil
	}

	if err := os.MkdirAll(journalDir, 0755); err != nil {
		return nil, fmt.Errorf("samplestore: mkdir journal dir: %w", err)
	}
	entries, err := os.ReadDir(journalDir)
	if err != nil {
		return nil, fmt.Errorf("samplestore: read journal dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, journalSuffix) {
			continue
		}
		metric := strings.TrimSuffix(name, journalSuffix)
		j, err := journal.Open(filepath.Join(journalDir, name))
		if err != nil {
			s.closeJournals()
			return nil, err
		}
		s.journals[metric] = j

		part := newPartition()
		err = j.Replay(func(seq uint64, rec journal.Record) error {
			part.add(rec.Hostname, model.Sample{Timestamp: rec.Timestamp, Value: rec.Value})
			return nil
		})
		if err != nil {
			s.closeJournals()
			return nil, err
		}
		if len(part.hosts) > 0 {
			s.partitions[metric] = part
		}
	}
	return s, nil
}

// Push appends one sample under (metric, hostname).
func (s *Store) Push(metric, hostname string, ts time.Time, value float64) error {
	metric = strings.TrimSpace(metric)
	hostname = strings.TrimSpace(hostname)
	if metric == "" {
		return fmt.Errorf("%w: metric is empty", model.ErrInvalidInput)
	}
	if hostname == "" {
		return fmt.Errorf("%w: hostname is empty", model.ErrInvalidInput)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: sample value %v is not finite", model.ErrInvalidInput, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.journalDir != "" {
		j, err := s.journalLocked(metric)
		if err != nil {
			return err
		}
		if _, err := j.Append(journal.Record{Hostname: hostname, Timestamp: ts, Value: value}); err != nil {
			return err
		}
	}

	part, ok := s.partitions[metric]
	if !ok {
		part = newPartition()
		s.partitions[metric] = part
	}
	part.add(hostname, model.Sample{Timestamp: ts, Value: value})
	return nil
}

// Drain returns a snapshot of every hostname's pending samples for the
// metric, in first-push hostname order. The buffer is left untouched;
// callers Clear once the drain's results are persisted.
func (s *Store) Drain(metric string) ([]model.HostSamples, error) {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return nil, fmt.Errorf("%w: metric is empty", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.partitions[metric]
	if !ok {
		return nil, nil
	}

	out := make([]model.HostSamples, 0, len(part.order))
	for _, host := range part.order {
		samples := make([]model.Sample, len(part.hosts[host]))
		copy(samples, part.hosts[host])
		out = append(out, model.HostSamples{Hostname: host, Samples: samples})
	}
	return out, nil
}

// Clear drops every pending sample for the metric and, when journaling,
// commits the metric's journal watermark.
func (s *Store) Clear(metric string) error {
	metric = strings.TrimSpace(metric)
	if metric == "" {
		return fmt.Errorf("%w: metric is empty", model.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.partitions, metric)

	if j, ok := s.journals[metric]; ok {
		if err := j.Commit(j.LastSeq()); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports how many samples are buffered across all metrics.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, part := range s.partitions {
		for _, samples := range part.hosts {
			n += len(samples)
		}
	}
	return n
}

// Close closes all open journals.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeJournals()
}

func (s *Store) journalLocked(metric string) (*journal.Journal, error) {
	if j, ok := s.journals[metric]; ok {
		return j, nil
	}
	j, err := journal.Open(filepath.Join(s.journalDir, metric+journalSuffix))
	if err != nil {
		return nil, err
	}
	s.journals[metric] = j
	return j, nil
}

func (s *Store) closeJournals() error {
	var firstErr error
	for metric, j := range s.journals {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.journals, metric)
	}
	return firstErr
}
