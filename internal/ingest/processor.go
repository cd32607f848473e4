package ingest

import (
	"log"
	"sync/atomic"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

// Processor routes parsed push batches into the sample buffer, keeping
// only metrics from the configured set. Unknown metrics are skipped and
// counted rather than rejected so an agent running a newer collector does
// not lose its known counters.
type Processor struct {
	buffer  model.SampleBuffer
	allowed map[string]struct{}

	accepted uint64
	skipped  uint64
	rejected uint64
}

// NewProcessor creates a processor for the given metric set. An empty
// metric list accepts everything.
func NewProcessor(buffer model.SampleBuffer, metrics []string) *Processor {
	var allowed map[string]struct{}
	if len(metrics) > 0 {
		allowed = make(map[string]struct{}, len(metrics))
		for _, m := range metrics {
			allowed[m] = struct{}{}
		}
	}
	return &Processor{buffer: buffer, allowed: allowed}
}

// ProcessLine parses one push payload and buffers its samples.
func (p *Processor) ProcessLine(line []byte) error {
	batch, err := ParsePushLine(line)
	if err != nil {
		atomic.AddUint64(&p.rejected, 1)
		return err
	}

	for _, s := range batch.Samples {
		if p.allowed != nil {
			if _, ok := p.allowed[s.Metric]; !ok {
				atomic.AddUint64(&p.skipped, 1)
				continue
			}
		}
		if err := p.buffer.Push(s.Metric, batch.Hostname, s.Timestamp, s.Value); err != nil {
			log.Printf("ingest: push %s/%s failed: %v", batch.Hostname, s.Metric, err)
			return err
		}
		atomic.AddUint64(&p.accepted, 1)
	}
	return nil
}

// Stats returns accepted, skipped, and rejected counters.
func (p *Processor) Stats() (accepted, skipped, rejected uint64) {
	return atomic.LoadUint64(&p.accepted), atomic.LoadUint64(&p.skipped), atomic.LoadUint64(&p.rejected)
}
