// Package ticks compresses the decision stream into a sparse state-change
// stream and persists it off the hot loop.
package ticks

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/pkg/telemetry"
)

// Stats are the pipeline counters.
type Stats struct {
	Added    int64
	Deduped  int64
	Enqueued int64
	Dropped  int64
	Written  int64
}

// Pipeline holds a fixed ring of recent ticks. When the ring overflows, the
// oldest record is either deduplicated away or handed to a bounded queue
// drained by a single background writer.
type Pipeline struct {
	store  core.IStore
	logger core.ILogger

	ringSize int
	queueCap int

	mu    sync.Mutex
	queue chan *core.TickRecord
	ring  []*core.TickRecord
	stats Stats

	writerCancel context.CancelFunc
	wg           sync.WaitGroup
}

// NewPipeline creates the pipeline. Start must be called to launch the writer.
func NewPipeline(cfg config.TicksConfig, store core.IStore, logger core.ILogger) *Pipeline {
	return &Pipeline{
		store:    store,
		logger:   logger.WithField("component", "ticks"),
		ringSize: cfg.RingSize,
		queueCap: cfg.QueueCapacity,
		queue:    make(chan *core.TickRecord, cfg.QueueCapacity),
		ring:     make([]*core.TickRecord, 0, cfg.RingSize),
	}
}

// Start launches the background writer. Stop closes the queue, so each
// Start builds a fresh one: the pipeline survives stop/start cycles driven
// over the API.
func (p *Pipeline) Start(ctx context.Context) {
	writerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.queue = make(chan *core.TickRecord, p.queueCap)
	p.writerCancel = cancel
	queue := p.queue
	p.mu.Unlock()

	p.wg.Add(1)
	go p.writerLoop(writerCtx, queue)
}

// Add appends a tick to the ring. If the ring is full, the evicted oldest
// record is persisted unless its rounded net edge matches the next oldest.
func (p *Pipeline) Add(t *core.TickRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Added++

	if len(p.ring) == p.ringSize {
		oldest := p.ring[0]
		secondOldest := p.ring[1]
		p.ring = p.ring[1:]

		if round1(oldest.NetEdgeBps) == round1(secondOldest.NetEdgeBps) {
			// No material change since the neighbouring tick, drop it.
			p.stats.Deduped++
		} else {
			p.enqueueLocked(oldest)
		}
	}

	p.ring = append(p.ring, t)
}

// enqueueLocked performs a non-blocking enqueue. Caller holds p.mu.
func (p *Pipeline) enqueueLocked(t *core.TickRecord) {
	select {
	case p.queue <- t:
		p.stats.Enqueued++
		telemetry.TickQueueDepth.Set(float64(len(p.queue)))
	default:
		p.stats.Dropped++
		telemetry.TickQueueDroppedTotal.Inc()
		p.logger.Warn("tick queue full, dropping record",
			"net_edge_bps", t.NetEdgeBps, "direction", t.Direction)
	}
}

// Flush moves every remaining ring entry to the queue, oldest first.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.ring {
		p.enqueueLocked(t)
	}
	p.ring = p.ring[:0]
}

// Stop flushes the ring and gives the writer up to 5 s to drain the queue.
// Records still queued after the deadline are lost.
func (p *Pipeline) Stop() {
	p.Flush()

	p.mu.Lock()
	queue := p.queue
	cancel := p.writerCancel
	p.mu.Unlock()

	close(queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn("tick writer did not drain within timeout, abandoning queued ticks")
		cancel()
		<-done
	}
}

func (p *Pipeline) writerLoop(ctx context.Context, queue chan *core.TickRecord) {
	defer p.wg.Done()

	for t := range queue {
		if ctx.Err() != nil {
			return
		}
		if err := p.store.SaveTick(ctx, t); err != nil {
			p.logger.Error("failed to persist tick", "error", err)
			continue
		}
		p.mu.Lock()
		p.stats.Written++
		p.mu.Unlock()
		telemetry.TickQueueDepth.Set(float64(len(queue)))
	}
}

// Ring returns a copy of the current ring contents, oldest first.
func (p *Pipeline) Ring() []core.TickRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]core.TickRecord, len(p.ring))
	for i, t := range p.ring {
		out[i] = *t
	}
	return out
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
