// Package pipeline chains transform, enrich and index into the processing
// path shared by the batcher flush and the queue worker.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentrel/sentrel/internal/batcher"
	"github.com/sentrel/sentrel/internal/enrich"
	"github.com/sentrel/sentrel/internal/indexer"
	"github.com/sentrel/sentrel/internal/metrics"
	"github.com/sentrel/sentrel/internal/schema"
	"github.com/sentrel/sentrel/internal/transform"
)

// Result aggregates one batch run.
type Result struct {
	Processed int
	Failed    int
	Errors    []string
}

// Pipeline owns the transform -> enrich -> index sequence.
type Pipeline struct {
	transformer *transform.Transformer
	enricher    *enrich.Enricher
	indexer     *indexer.Indexer
}

// New creates a Pipeline.
func New(t *transform.Transformer, e *enrich.Enricher, ix *indexer.Indexer) *Pipeline {
	return &Pipeline{
		transformer: t,
		enricher:    e,
		indexer:     ix,
	}
}

// ProcessEvent runs one event through the full pipeline synchronously.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev batcher.Event) error {
	doc := p.prepare(ev)
	if doc == nil {
		return fmt.Errorf("failed to transform event %s", ev.EventID)
	}
	if res := p.indexer.IndexOne(ctx, doc); res.Err != nil {
		return fmt.Errorf("failed to index event %s: %w", doc.EventID, res.Err)
	}
	return nil
}

// ProcessBatch transforms and enriches a drained batch, then bulk-indexes
// the surviving documents. A document never fails transformation, so Failed
// only counts index rejections.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []batcher.Event) Result {
	if len(batch) == 0 {
		return Result{}
	}

	docs := make([]*schema.Document, 0, len(batch))
	for _, ev := range batch {
		if doc := p.prepare(ev); doc != nil {
			docs = append(docs, doc)
		}
	}

	bulk := p.indexer.IndexBulk(ctx, docs)
	result := Result{
		Processed: bulk.Success,
		Failed:    bulk.Failed,
		Errors:    bulk.Errors,
	}

	if result.Failed > 0 {
		slog.Error("batch partially failed",
			slog.Int("processed", result.Processed),
			slog.Int("failed", result.Failed),
			slog.Any("errors", result.Errors),
		)
	} else {
		slog.Debug("batch processed", slog.Int("processed", result.Processed))
	}
	return result
}

// prepare transforms and enriches one event. Returns nil when the
// transform panics on pathological input; the event is dropped and counted.
func (p *Pipeline) prepare(ev batcher.Event) (doc *schema.Document) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TransformErrors.Inc()
			slog.Error("transform panic", slog.Any("panic", r), slog.String("event_id", ev.EventID))
			doc = nil
		}
	}()

	doc = p.transformer.Transform(ev.Raw, ev.ProjectID)
	if ev.EventID != "" {
		doc.EventID = ev.EventID
	}
	if !ev.ReceivedAt.IsZero() {
		doc.ReceivedAt = ev.ReceivedAt.UTC()
	}
	return p.enricher.Enrich(doc)
}
