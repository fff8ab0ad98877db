// Package batcher buffers accepted events and hands them to a flush
// callback in batches, triggered by size, age or shutdown.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sentrel/sentrel/internal/event"
	"github.com/sentrel/sentrel/internal/metrics"
)

// ErrBufferFull is returned by Submit when the pending buffer has reached
// its back-pressure limit. Callers should answer 503.
var ErrBufferFull = errors.New("batcher buffer full")

// Event is one accepted event awaiting the pipeline.
type Event struct {
	Raw        *event.RawEvent
	ProjectID  int
	EventID    string
	ReceivedAt time.Time
}

// FlushFunc receives a drained batch. It runs outside the batcher lock and
// must not call back into Submit from the same goroutine it blocks.
type FlushFunc func(ctx context.Context, batch []Event)

// Config controls batch boundaries.
type Config struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	MaxPending    int
}

// DefaultConfig matches the production ingestion defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  100,
		FlushInterval: 5 * time.Second,
		MaxPending:    10000,
	}
}

// Batcher accumulates events and flushes when a batch fills, when the
// oldest buffered event exceeds the flush interval, or on Stop.
type Batcher struct {
	config Config
	flush  FlushFunc

	mu      sync.Mutex
	buffer  []Event
	firstAt time.Time
	running bool

	stop chan struct{}
	done chan struct{}
}

// New creates a Batcher delivering batches to fn.
func New(cfg Config, fn FlushFunc) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}
	return &Batcher{
		config: cfg,
		flush:  fn,
		buffer: make([]Event, 0, cfg.MaxBatchSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the age-based flush loop.
func (b *Batcher) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.loop()
}

// Stop halts the flush loop and drains the remaining buffer.
func (b *Batcher) Stop(ctx context.Context) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stop)
	select {
	case <-b.done:
	case <-ctx.Done():
	}

	b.Flush(ctx)
}

// Submit buffers one event. A full batch flushes immediately on the caller's
// goroutine; a full pending buffer rejects with ErrBufferFull.
func (b *Batcher) Submit(ctx context.Context, ev Event) error {
	b.mu.Lock()

	if len(b.buffer) >= b.config.MaxPending {
		b.mu.Unlock()
		return ErrBufferFull
	}

	if len(b.buffer) == 0 {
		b.firstAt = time.Now()
	}
	b.buffer = append(b.buffer, ev)
	metrics.BatcherPending.Set(float64(len(b.buffer)))

	if len(b.buffer) >= b.config.MaxBatchSize {
		batch := b.take()
		b.mu.Unlock()
		b.deliver(ctx, batch)
		return nil
	}

	b.mu.Unlock()
	return nil
}

// Flush drains whatever is buffered right now.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	b.deliver(ctx, batch)
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Running reports whether the flush loop is active.
func (b *Batcher) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// take swaps out the buffer. Caller holds the lock.
func (b *Batcher) take() []Event {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = make([]Event, 0, b.config.MaxBatchSize)
	b.firstAt = time.Time{}
	metrics.BatcherPending.Set(0)
	return batch
}

func (b *Batcher) deliver(ctx context.Context, batch []Event) {
	if len(batch) == 0 {
		return
	}
	metrics.BatchFlushesTotal.Inc()
	metrics.BatchFlushSize.Observe(float64(len(batch)))
	b.flush(ctx, batch)
}

// loop checks the oldest buffered event once a second and flushes the
// buffer when it has aged past the flush interval.
func (b *Batcher) loop() {
	defer close(b.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			expired := len(b.buffer) > 0 && time.Since(b.firstAt) >= b.config.FlushInterval
			var batch []Event
			if expired {
				batch = b.take()
			}
			b.mu.Unlock()

			if expired {
				b.deliver(context.Background(), batch)
			}
		}
	}
}
