package batcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrel/sentrel/internal/event"
)

type capture struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *capture) flush(_ context.Context, batch []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]Event, len(batch))
	copy(copied, batch)
	c.batches = append(c.batches, copied)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *capture) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func testEvent(id string) Event {
	return Event{
		Raw:        &event.RawEvent{Level: "error"},
		ProjectID:  1,
		EventID:    id,
		ReceivedAt: time.Now(),
	}
}

func TestSizeTriggeredFlush(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 3, FlushInterval: time.Hour, MaxPending: 100}, c.flush)

	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, testEvent("a")))
	require.NoError(t, b.Submit(ctx, testEvent("b")))
	assert.Equal(t, 0, c.count(), "no flush before the batch fills")
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.Submit(ctx, testEvent("c")))
	require.Equal(t, 1, c.count())
	assert.Equal(t, 0, b.Pending())

	// submission order is preserved within the flush
	batch := c.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, "a", batch[0].EventID)
	assert.Equal(t, "b", batch[1].EventID)
	assert.Equal(t, "c", batch[2].EventID)
}

func TestTimeTriggeredFlush(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 100, FlushInterval: 1500 * time.Millisecond, MaxPending: 100}, c.flush)
	b.Start()
	defer b.Stop(context.Background())

	require.NoError(t, b.Submit(context.Background(), testEvent("a")))

	require.Eventually(t, func() bool { return c.count() == 1 },
		5*time.Second, 50*time.Millisecond, "aged buffer should flush")
	assert.Equal(t, 1, c.total())
}

func TestStopDrainsBuffer(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 100, FlushInterval: time.Hour, MaxPending: 100}, c.flush)
	b.Start()

	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, testEvent("a")))
	require.NoError(t, b.Submit(ctx, testEvent("b")))

	b.Stop(ctx)
	assert.Equal(t, 2, c.total(), "shutdown must flush the remaining buffer")
	assert.False(t, b.Running())
	assert.Equal(t, 0, b.Pending())
}

func TestBufferFullBackPressure(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 100, FlushInterval: time.Hour, MaxPending: 2}, c.flush)

	ctx := context.Background()
	require.NoError(t, b.Submit(ctx, testEvent("a")))
	require.NoError(t, b.Submit(ctx, testEvent("b")))

	err := b.Submit(ctx, testEvent("c"))
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 2, b.Pending(), "rejected event is not buffered")
}

func TestFlushOnEmptyBufferIsNoop(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 10, FlushInterval: time.Hour, MaxPending: 100}, c.flush)

	b.Flush(context.Background())
	assert.Equal(t, 0, c.count())
}

func TestStopIsIdempotent(t *testing.T) {
	c := &capture{}
	b := New(DefaultConfig(), c.flush)
	b.Start()

	ctx := context.Background()
	b.Stop(ctx)
	b.Stop(ctx)
	assert.False(t, b.Running())
}

func TestConcurrentSubmit(t *testing.T) {
	c := &capture{}
	b := New(Config{MaxBatchSize: 10, FlushInterval: time.Hour, MaxPending: 10000}, c.flush)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Submit(context.Background(), testEvent(event.NewEventID()))
			}
		}()
	}
	wg.Wait()
	b.Flush(context.Background())

	assert.Equal(t, 400, c.total(), "every accepted event reaches exactly one flush")
}
