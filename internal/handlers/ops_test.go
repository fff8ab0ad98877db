package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrel/sentrel/internal/indexer"
	"github.com/sentrel/sentrel/internal/logging"
)

type stubBatchStatus struct {
	running bool
	pending int
}

func (s stubBatchStatus) Running() bool { return s.running }
func (s stubBatchStatus) Pending() int  { return s.pending }

type stubPinger struct{ err error }

func (s stubPinger) Ping() error { return s.err }

func newTestOps(t *testing.T, opensearch http.HandlerFunc, queue Pinger, batch BatchStatus) *Ops {
	t.Helper()
	srv := httptest.NewServer(opensearch)
	t.Cleanup(srv.Close)

	client, err := indexer.NewOpenSearchClient(indexer.Config{Hosts: []string{srv.URL}})
	require.NoError(t, err)
	cfg := indexer.DefaultConfig()
	cfg.Hosts = []string{srv.URL}

	return NewOps(logging.Default(), "sentrel", indexer.New(client, cfg), queue, batch)
}

func greenCluster(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"green","cluster_name":"sentrel-os","number_of_nodes":3}`)
}

func TestHandleHealthReportsBatcher(t *testing.T) {
	h := newTestOps(t, greenCluster, nil, stubBatchStatus{running: true, pending: 7})

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sentrel", body["service"])
	assert.Equal(t, "1.0.0", body["version"])

	batcher, ok := body["batcher"].(map[string]interface{})
	require.True(t, ok, "batcher block expected when the in-process path is active")
	assert.Equal(t, true, batcher["running"])
	assert.Equal(t, float64(7), batcher["pending_events"])
}

func TestHandleHealthWithoutBatcher(t *testing.T) {
	h := newTestOps(t, greenCluster, nil, nil)

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotContains(t, body, "batcher")
}

func TestHandleReadyChecksDetail(t *testing.T) {
	h := newTestOps(t, greenCluster, stubPinger{}, stubBatchStatus{running: true, pending: 2})

	rr := httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status string                            `json:"status"`
		Checks map[string]map[string]interface{} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)

	os := body.Checks["opensearch"]
	assert.Equal(t, "ok", os["status"])
	assert.Equal(t, "green", os["cluster_status"])
	assert.Equal(t, "sentrel-os", os["cluster_name"])
	assert.Equal(t, float64(3), os["number_of_nodes"])

	assert.Equal(t, "ok", body.Checks["queue"]["status"])
	assert.Equal(t, "ok", body.Checks["batcher"]["status"])
	assert.Equal(t, float64(2), body.Checks["batcher"]["pending_events"])
}

func TestHandleReadyRedCluster(t *testing.T) {
	h := newTestOps(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"red","cluster_name":"sentrel-os","number_of_nodes":1}`)
	}, nil, nil)

	rr := httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Status string                            `json:"status"`
		Checks map[string]map[string]interface{} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "degraded", body.Checks["opensearch"]["status"])
}

func TestHandleReadyQueueDown(t *testing.T) {
	h := newTestOps(t, greenCluster, stubPinger{err: errors.New("nats connection down")}, nil)

	rr := httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

func TestHandleStatsSummary(t *testing.T) {
	h := newTestOps(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"_all": {"primaries": {"docs": {"count": 42}, "store": {"size_in_bytes": 2048}}},
			"indices": {"sentry-events-2024.03.15": {}, "sentry-events-2024.03.16": {}}
		}`)
	}, nil, nil)

	rr := httptest.NewRecorder()
	h.HandleStats(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"indices": 2, "total_docs": 42, "total_size_bytes": 2048}`, rr.Body.String())
}
