package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/sentrel/sentrel/internal/metrics"
	"github.com/sentrel/sentrel/internal/schema"
)

const maxBulkErrors = 10

// Indexer routes documents to date-sharded indices. Async variants run on a
// bounded worker pool so callers never block on OpenSearch.
type Indexer struct {
	client *opensearch.Client
	config Config

	// semaphore bounding concurrent async operations
	workers chan struct{}
}

// SingleResult reports one document write.
type SingleResult struct {
	OK    bool
	ID    string
	Index string
	Err   error
}

// BulkResult aggregates a bulk write. Errors is truncated to the first few
// item failures.
type BulkResult struct {
	Success int
	Failed  int
	Errors  []string
}

// New creates an Indexer over an established client.
func New(client *opensearch.Client, cfg Config) *Indexer {
	if cfg.BulkChunkSize <= 0 {
		cfg.BulkChunkSize = 500
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Indexer{
		client:  client,
		config:  cfg,
		workers: make(chan struct{}, cfg.WorkerPoolSize),
	}
}

// IndexName returns the daily index for a document timestamp, always in UTC.
func (ix *Indexer) IndexName(ts time.Time) string {
	return fmt.Sprintf("%s-%s", ix.config.IndexPrefix, ts.UTC().Format("2006.01.02"))
}

// IndexOne writes a single document, using its event ID as the document ID
// so retried deliveries overwrite rather than duplicate.
func (ix *Indexer) IndexOne(ctx context.Context, doc *schema.Document) SingleResult {
	ctx, cancel := context.WithTimeout(ctx, ix.config.Timeout)
	defer cancel()

	index := ix.IndexName(doc.Timestamp)
	result := SingleResult{ID: doc.EventID, Index: index}

	body, err := json.Marshal(doc)
	if err != nil {
		result.Err = fmt.Errorf("failed to marshal document: %w", err)
		metrics.IndexErrors.Inc()
		return result
	}

	start := time.Now()
	res, err := ix.client.Index(
		index,
		bytes.NewReader(body),
		ix.client.Index.WithDocumentID(doc.EventID),
		ix.client.Index.WithContext(ctx),
	)
	metrics.IndexDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		result.Err = fmt.Errorf("index request failed: %w", err)
		metrics.IndexErrors.Inc()
		return result
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(res.Body)
		result.Err = fmt.Errorf("opensearch rejected document: %s - %s", res.Status(), string(detail))
		metrics.IndexErrors.Inc()
		return result
	}

	result.OK = true
	metrics.IndexedDocuments.Inc()
	return result
}

// IndexBulk writes documents via the bulk API in chunks. Item failures are
// counted and sampled into Errors; the call itself only fails when no
// request could be issued.
func (ix *Indexer) IndexBulk(ctx context.Context, docs []*schema.Document) BulkResult {
	result := BulkResult{}
	if len(docs) == 0 {
		return result
	}

	for start := 0; start < len(docs); start += ix.config.BulkChunkSize {
		end := start + ix.config.BulkChunkSize
		if end > len(docs) {
			end = len(docs)
		}
		ix.indexChunk(ctx, docs[start:end], &result)
	}

	metrics.IndexedDocuments.Add(float64(result.Success))
	if result.Failed > 0 {
		metrics.IndexErrors.Add(float64(result.Failed))
	}
	return result
}

func (ix *Indexer) indexChunk(ctx context.Context, docs []*schema.Document, result *BulkResult) {
	ctx, cancel := context.WithTimeout(ctx, ix.config.Timeout)
	defer cancel()

	// One worker per chunk: the item callbacks mutate the shared result
	// and must not run concurrently.
	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     ix.client,
		NumWorkers: 1,
	})
	if err != nil {
		result.Failed += len(docs)
		result.Errors = appendError(result.Errors, fmt.Sprintf("failed to create bulk indexer: %v", err))
		return
	}

	start := time.Now()
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			result.Failed++
			result.Errors = appendError(result.Errors, fmt.Sprintf("failed to marshal document %s: %v", doc.EventID, err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      ix.IndexName(doc.Timestamp),
			DocumentID: doc.EventID,
			Body:       bytes.NewReader(body),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				result.Success++
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				result.Failed++
				if err != nil {
					result.Errors = appendError(result.Errors, err.Error())
				} else {
					result.Errors = appendError(result.Errors, fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
				}
			},
		})
		if err != nil {
			result.Failed++
			result.Errors = appendError(result.Errors, fmt.Sprintf("failed to queue document: %v", err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		result.Errors = appendError(result.Errors, fmt.Sprintf("bulk flush error: %v", err))
	}
	metrics.IndexDuration.Observe(time.Since(start).Seconds())
}

func appendError(errs []string, msg string) []string {
	if len(errs) >= maxBulkErrors {
		return errs
	}
	return append(errs, msg)
}

// IndexOneAsync writes a document on the worker pool. Failures are logged,
// not reported to the caller.
func (ix *Indexer) IndexOneAsync(doc *schema.Document) {
	ix.workers <- struct{}{}
	go func() {
		defer func() { <-ix.workers }()
		if res := ix.IndexOne(context.Background(), doc); res.Err != nil {
			slog.Error("async index failed",
				slog.String("event_id", res.ID),
				slog.String("index", res.Index),
				slog.String("error", res.Err.Error()),
			)
		}
	}()
}

// IndexBulkAsync writes a batch on the worker pool.
func (ix *Indexer) IndexBulkAsync(docs []*schema.Document) {
	if len(docs) == 0 {
		return
	}
	ix.workers <- struct{}{}
	go func() {
		defer func() { <-ix.workers }()
		res := ix.IndexBulk(context.Background(), docs)
		if res.Failed > 0 {
			slog.Error("async bulk index partially failed",
				slog.Int("success", res.Success),
				slog.Int("failed", res.Failed),
				slog.Any("errors", res.Errors),
			)
		}
	}()
}

// Refresh forces a refresh so freshly indexed documents become searchable.
// Intended for tests and admin tooling.
func (ix *Indexer) Refresh(ctx context.Context) error {
	res, err := ix.client.Indices.Refresh(
		ix.client.Indices.Refresh.WithContext(ctx),
		ix.client.Indices.Refresh.WithIndex(ix.config.IndexPrefix+"-*"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh failed: %s", res.Status())
	}
	return nil
}

// Count returns the total number of documents across event indices.
func (ix *Indexer) Count(ctx context.Context) (int64, error) {
	res, err := ix.client.Count(
		ix.client.Count.WithContext(ctx),
		ix.client.Count.WithIndex(ix.config.IndexPrefix+"-*"),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count failed: %s", res.Status())
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.Count, nil
}

// DeleteOld removes event indices whose date suffix is older than the
// retention window. Indices with unparseable suffixes are left alone.
func (ix *Indexer) DeleteOld(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	res, err := ix.client.Cat.Indices(
		ix.client.Cat.Indices.WithContext(ctx),
		ix.client.Cat.Indices.WithIndex(ix.config.IndexPrefix+"-*"),
		ix.client.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("failed to list indices: %s", res.Status())
	}

	var listed []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted := 0

	for _, entry := range listed {
		suffix := strings.TrimPrefix(entry.Index, ix.config.IndexPrefix+"-")
		day, err := time.Parse("2006.01.02", suffix)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}

		del, err := ix.client.Indices.Delete(
			[]string{entry.Index},
			ix.client.Indices.Delete.WithContext(ctx),
		)
		if err != nil {
			slog.Error("failed to delete expired index",
				slog.String("index", entry.Index),
				slog.String("error", err.Error()),
			)
			continue
		}
		del.Body.Close()
		if !del.IsError() {
			deleted++
			slog.Info("deleted expired index", slog.String("index", entry.Index))
		}
	}

	return deleted, nil
}

// StatsSummary aggregates primary-shard document and storage totals across
// the event indices.
type StatsSummary struct {
	Indices        int   `json:"indices"`
	TotalDocs      int64 `json:"total_docs"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Stats reads the indices-stats API and reduces it to the /stats summary.
func (ix *Indexer) Stats(ctx context.Context) (StatsSummary, error) {
	var summary StatsSummary

	res, err := ix.client.Indices.Stats(
		ix.client.Indices.Stats.WithContext(ctx),
		ix.client.Indices.Stats.WithIndex(ix.config.IndexPrefix+"-*"),
	)
	if err != nil {
		return summary, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return summary, fmt.Errorf("failed to read index stats: %s", res.Status())
	}

	var parsed struct {
		All struct {
			Primaries struct {
				Docs struct {
					Count int64 `json:"count"`
				} `json:"docs"`
				Store struct {
					SizeInBytes int64 `json:"size_in_bytes"`
				} `json:"store"`
			} `json:"primaries"`
		} `json:"_all"`
		Indices map[string]json.RawMessage `json:"indices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return summary, err
	}

	summary.Indices = len(parsed.Indices)
	summary.TotalDocs = parsed.All.Primaries.Docs.Count
	summary.TotalSizeBytes = parsed.All.Primaries.Store.SizeInBytes
	return summary, nil
}

// ClusterHealth is the subset of the cluster health response surfaced by
// the readiness check.
type ClusterHealth struct {
	Status        string `json:"status"`
	ClusterName   string `json:"cluster_name"`
	NumberOfNodes int    `json:"number_of_nodes"`
}

// Health reports cluster status for the readiness check.
func (ix *Indexer) Health(ctx context.Context) (ClusterHealth, error) {
	var health ClusterHealth

	res, err := ix.client.Cluster.Health(
		ix.client.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return health, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return health, fmt.Errorf("cluster health failed: %s", res.Status())
	}

	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return ClusterHealth{}, err
	}
	return health, nil
}
