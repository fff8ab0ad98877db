package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sentrel/sentrel/internal/httputil"
	"github.com/sentrel/sentrel/internal/indexer"
	"github.com/sentrel/sentrel/internal/logging"
)

// version reported by /health.
const version = "1.0.0"

// Pinger reports broker connectivity. Satisfied by the queue; nil when the
// queue path is disabled.
type Pinger interface {
	Ping() error
}

// BatchStatus exposes the in-process batcher state. Satisfied by the
// batcher; nil when the queue path is active.
type BatchStatus interface {
	Running() bool
	Pending() int
}

// Ops serves health, readiness and stats.
type Ops struct {
	log     *logging.Logger
	appName string
	indexer *indexer.Indexer
	queue   Pinger
	batcher BatchStatus
}

// NewOps creates the operational handler. queue and batch may be nil.
func NewOps(log *logging.Logger, appName string, ix *indexer.Indexer, queue Pinger, batch BatchStatus) *Ops {
	return &Ops{
		log:     log,
		appName: appName,
		indexer: ix,
		queue:   queue,
		batcher: batch,
	}
}

// HandleHealth is the liveness probe: 200 whenever the process serves. The
// body carries the batcher state when the in-process path is active.
func (h *Ops) HandleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"service": h.appName,
		"version": version,
	}
	if h.batcher != nil {
		body["batcher"] = map[string]interface{}{
			"running":        h.batcher.Running(),
			"pending_events": h.batcher.Pending(),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

// HandleReady is the readiness probe. OpenSearch must answer with a green
// or yellow cluster and, when configured, the queue broker must ping; the
// batcher state is reported but never fails readiness.
func (h *Ops) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]interface{}{}
	ready := true

	health, err := h.indexer.Health(ctx)
	switch {
	case err != nil:
		checks["opensearch"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
		ready = false
	default:
		status := "ok"
		if health.Status == "red" {
			status = "degraded"
			ready = false
		}
		checks["opensearch"] = map[string]interface{}{
			"status":          status,
			"cluster_status":  health.Status,
			"cluster_name":    health.ClusterName,
			"number_of_nodes": health.NumberOfNodes,
		}
	}

	if h.queue != nil {
		if err := h.queue.Ping(); err != nil {
			checks["queue"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
			ready = false
		} else {
			checks["queue"] = map[string]interface{}{"status": "ok"}
		}
	}

	if h.batcher != nil {
		status := "ok"
		if !h.batcher.Running() {
			status = "stopped"
		}
		checks["batcher"] = map[string]interface{}{
			"status":         status,
			"pending_events": h.batcher.Pending(),
		}
	}

	if !ready {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": checks,
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// HandleStats returns aggregate document and storage totals.
func (h *Ops) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := h.indexer.Stats(ctx)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to collect index stats", "error", err.Error())
		httputil.WriteError(w, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
