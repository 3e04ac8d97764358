package ticks

import (
	"context"
	"testing"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/config"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
	"github.com/DaleTiley-AirCapital/CryptArb/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func tick(edge float64) *core.TickRecord {
	return &core.TickRecord{
		Timestamp:  time.Now().UTC(),
		NetEdgeBps: edge,
		Direction:  core.DirectionLunoToBinance,
	}
}

func newTestPipeline(store core.IStore) *Pipeline {
	return NewPipeline(config.TicksConfig{RingSize: 6, QueueCapacity: 100}, store, &MockLogger{})
}

func TestRing_HoldsLastN(t *testing.T) {
	p := newTestPipeline(mock.NewStore())

	for i := 0; i < 6; i++ {
		p.Add(tick(float64(i)))
	}
	ring := p.Ring()
	require.Len(t, ring, 6)
	assert.Equal(t, 0.0, ring[0].NetEdgeBps)
	assert.Equal(t, 5.0, ring[5].NetEdgeBps)

	// Overflow evicts the oldest
	p.Add(tick(6))
	ring = p.Ring()
	require.Len(t, ring, 6)
	assert.Equal(t, 1.0, ring[0].NetEdgeBps)
	assert.Equal(t, 6.0, ring[5].NetEdgeBps)
}

func TestOverflow_DedupsUnchangedEdge(t *testing.T) {
	p := newTestPipeline(mock.NewStore())

	// Oldest two round to the same 0.1 bps bucket
	p.Add(tick(12.34))
	p.Add(tick(12.31))
	for i := 0; i < 4; i++ {
		p.Add(tick(20 + float64(i)))
	}

	p.Add(tick(99)) // evicts 12.34; rounds equal to 12.31 -> dedup
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Deduped)
	assert.Equal(t, int64(0), stats.Enqueued)
}

func TestOverflow_EnqueuesChangedEdge(t *testing.T) {
	p := newTestPipeline(mock.NewStore())

	p.Add(tick(12.3))
	p.Add(tick(15.8))
	for i := 0; i < 4; i++ {
		p.Add(tick(20 + float64(i)))
	}

	p.Add(tick(99)) // evicts 12.3; differs from 15.8 -> enqueue
	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Deduped)
	assert.Equal(t, int64(1), stats.Enqueued)
}

func TestQueueFull_DropsWithWarning(t *testing.T) {
	p := NewPipeline(config.TicksConfig{RingSize: 2, QueueCapacity: 1}, mock.NewStore(), &MockLogger{})
	// Writer not started, so the queue never drains.

	p.Add(tick(1))
	p.Add(tick(2))
	p.Add(tick(10)) // evicts 1 -> enqueued (queue now full)
	p.Add(tick(20)) // evicts 2 -> dropped

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestWriter_PersistsFIFO(t *testing.T) {
	store := mock.NewStore()
	p := NewPipeline(config.TicksConfig{RingSize: 2, QueueCapacity: 100}, store, &MockLogger{})
	p.Start(context.Background())

	p.Add(tick(1))
	p.Add(tick(2))
	p.Add(tick(10)) // evicts 1
	p.Add(tick(20)) // evicts 2

	require.Eventually(t, func() bool {
		got, _ := store.RecentTicks(context.Background(), 0)
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	got, err := store.RecentTicks(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0].NetEdgeBps)
	assert.Equal(t, 2.0, got[1].NetEdgeBps)
}

func TestStop_FlushesRing(t *testing.T) {
	store := mock.NewStore()
	p := newTestPipeline(store)
	p.Start(context.Background())

	p.Add(tick(1))
	p.Add(tick(2))
	p.Add(tick(3))
	p.Stop()

	got, err := store.RecentTicks(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3, "ring contents must be flushed on stop")
	assert.Empty(t, p.Ring())
}

func TestRestart_AcceptsTicksAfterStop(t *testing.T) {
	store := mock.NewStore()
	p := NewPipeline(config.TicksConfig{RingSize: 2, QueueCapacity: 100}, store, &MockLogger{})

	p.Start(context.Background())
	p.Add(tick(1))
	p.Stop()

	// The API can stop and restart the engine; the pipeline must come back
	// with a working writer and queue.
	p.Start(context.Background())
	p.Add(tick(10))
	p.Add(tick(20))
	p.Add(tick(30)) // evicts 10 -> must enqueue, not panic

	require.Eventually(t, func() bool {
		got, _ := store.RecentTicks(context.Background(), 0)
		return len(got) == 2 // 1 from the flush, 10 from the eviction
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	got, err := store.RecentTicks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 10.0, got[1].NetEdgeBps)
	assert.Equal(t, 30.0, got[3].NetEdgeBps)
	assert.Zero(t, p.Stats().Dropped)
}

func TestStop_SurvivesFailingStore(t *testing.T) {
	store := mock.NewStore()
	store.SaveTickErr = assert.AnError
	p := newTestPipeline(store)
	p.Start(context.Background())

	p.Add(tick(1))
	p.Stop() // must not hang or panic

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.Written)
}
