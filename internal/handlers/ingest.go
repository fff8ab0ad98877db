// Package handlers implements the HTTP surface: the Sentry SDK ingestion
// endpoints and the operational endpoints.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/sentrel/sentrel/internal/auth"
	"github.com/sentrel/sentrel/internal/batcher"
	"github.com/sentrel/sentrel/internal/envelope"
	"github.com/sentrel/sentrel/internal/event"
	"github.com/sentrel/sentrel/internal/httputil"
	"github.com/sentrel/sentrel/internal/logging"
	"github.com/sentrel/sentrel/internal/metrics"
)

// minidumpMaxSize overrides the default body cap for crash dumps.
const minidumpMaxSize = 50 * 1024 * 1024

// EventSink accepts decoded events for processing. Implemented by the
// batcher (in-process) and the queue (distributed).
type EventSink interface {
	Submit(ctx context.Context, ev batcher.Event) error
}

// Ingest serves the Sentry SDK-facing endpoints.
type Ingest struct {
	log            *logging.Logger
	auth           *auth.Authenticator
	sink           EventSink
	projects       map[int]struct{}
	maxRequestSize int64
}

// NewIngest creates the ingestion handler. An empty projectIDs list allows
// any project.
func NewIngest(log *logging.Logger, a *auth.Authenticator, sink EventSink, projectIDs []int, maxRequestSize int64) *Ingest {
	projects := make(map[int]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		projects[id] = struct{}{}
	}
	return &Ingest{
		log:            log,
		auth:           a,
		sink:           sink,
		projects:       projects,
		maxRequestSize: maxRequestSize,
	}
}

// HandleEnvelope accepts the envelope endpoint: POST /api/{project_id}/envelope/.
func (h *Ingest) HandleEnvelope(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.admit(w, r, "envelope")
	if !ok {
		return
	}

	body, ok := h.readBody(w, r, "envelope", h.maxRequestSize)
	if !ok {
		return
	}

	env, err := envelope.Decode(body)
	if err != nil && len(env.Items) == 0 {
		h.log.WarnContext(r.Context(), "rejected malformed envelope",
			"project_id", projectID, "error", err.Error())
		metrics.EventsTotal.WithLabelValues("envelope", "parse_error").Inc()
		httputil.WriteError(w, http.StatusBadRequest, "invalid envelope")
		return
	}

	h.checkEnvelopeDSN(r, env.Header.DSN, projectID)

	var firstID string
	for _, item := range env.Events() {
		ev := event.Decode(item.Payload)

		eventID := ev.EventID
		if eventID == "" {
			eventID = env.Header.EventID
		}
		if eventID == "" {
			eventID = event.NewEventID()
		}

		if !h.submit(w, r, "envelope", ev, projectID, eventID) {
			return
		}
		if firstID == "" {
			firstID = eventID
		}
	}

	metrics.EventsTotal.WithLabelValues("envelope", "accepted").Inc()
	writeEventID(w, firstID)
}

// HandleStore accepts the legacy store endpoint: POST /api/{project_id}/store/.
// The event decoder is tolerant, so a malformed body still produces an
// accepted (if sparse) event.
func (h *Ingest) HandleStore(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.admit(w, r, "store")
	if !ok {
		return
	}

	body, ok := h.readBody(w, r, "store", h.maxRequestSize)
	if !ok {
		return
	}

	ev := event.Decode(body)
	eventID := ev.EventID
	if eventID == "" {
		eventID = event.NewEventID()
	}

	if !h.submit(w, r, "store", ev, projectID, eventID) {
		return
	}

	metrics.EventsTotal.WithLabelValues("store", "accepted").Inc()
	writeEventID(w, eventID)
}

// HandleMinidump acknowledges crash dump uploads without processing them.
func (h *Ingest) HandleMinidump(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admit(w, r, "minidump"); !ok {
		return
	}

	if _, ok := h.readBody(w, r, "minidump", minidumpMaxSize); !ok {
		return
	}

	metrics.EventsTotal.WithLabelValues("minidump", "accepted").Inc()
	writeEventID(w, event.NewEventID())
}

// HandleSecurity acknowledges CSP violation reports.
func (h *Ingest) HandleSecurity(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admit(w, r, "security"); !ok {
		return
	}

	if _, ok := h.readBody(w, r, "security", h.maxRequestSize); !ok {
		return
	}

	metrics.EventsTotal.WithLabelValues("security", "accepted").Inc()
	writeEventID(w, "")
}

// HandleProbe answers SDK connectivity probes: GET /api/{project_id}/.
func (h *Ingest) HandleProbe(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.Atoi(r.PathValue("project_id"))
	if err != nil || !h.projectAllowed(projectID) {
		httputil.WriteError(w, http.StatusNotFound, "project not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"status":     "ok",
	})
}

// checkEnvelopeDSN cross-checks the envelope dsn header against the
// authenticated key and the URL project id. Mismatches are logged, not
// rejected.
func (h *Ingest) checkEnvelopeDSN(r *http.Request, dsn string, projectID int) {
	if dsn == "" {
		return
	}

	if dsnKey := auth.ParsePublicKeyFromDSN(dsn); dsnKey != "" {
		authKey := h.auth.ExtractPublicKey(r.Header.Get("X-Sentry-Auth"), r.URL.Query())
		if authKey != "" && dsnKey != authKey {
			h.log.WarnContext(r.Context(), "envelope dsn key differs from request auth",
				"project_id", projectID)
		}
	}

	if dsnProject := auth.ParseProjectIDFromDSN(dsn); dsnProject != 0 && dsnProject != projectID {
		h.log.WarnContext(r.Context(), "envelope dsn project differs from url",
			"project_id", projectID, "dsn_project_id", dsnProject)
	}
}

// admit runs the shared admission steps: project allow-list then auth.
func (h *Ingest) admit(w http.ResponseWriter, r *http.Request, endpoint string) (int, bool) {
	projectID, err := strconv.Atoi(r.PathValue("project_id"))
	if err != nil || !h.projectAllowed(projectID) {
		metrics.EventsTotal.WithLabelValues(endpoint, "unknown_project").Inc()
		httputil.WriteError(w, http.StatusNotFound, "project not found")
		return 0, false
	}

	key := h.auth.ExtractPublicKey(r.Header.Get("X-Sentry-Auth"), r.URL.Query())
	if !h.auth.Validate(key) {
		metrics.EventsTotal.WithLabelValues(endpoint, "unauthorized").Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "invalid or missing authentication")
		return 0, false
	}

	return projectID, true
}

func (h *Ingest) projectAllowed(id int) bool {
	if len(h.projects) == 0 {
		return true
	}
	_, ok := h.projects[id]
	return ok
}

// readBody enforces the size cap both from Content-Length, before reading,
// and on the actual bytes read.
func (h *Ingest) readBody(w http.ResponseWriter, r *http.Request, endpoint string, maxSize int64) ([]byte, bool) {
	if r.ContentLength > maxSize {
		metrics.EventsTotal.WithLabelValues(endpoint, "too_large").Inc()
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			metrics.EventsTotal.WithLabelValues(endpoint, "too_large").Inc()
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		// client disconnect or read failure: no side effects
		h.log.DebugContext(r.Context(), "body read aborted", "error", err.Error())
		return nil, false
	}

	metrics.EventBytesTotal.Add(float64(len(body)))
	return body, true
}

// submit hands one event to the sink, translating back-pressure into 503.
func (h *Ingest) submit(w http.ResponseWriter, r *http.Request, endpoint string, ev *event.RawEvent, projectID int, eventID string) bool {
	err := h.sink.Submit(r.Context(), batcher.Event{
		Raw:       ev,
		ProjectID: projectID,
		EventID:   eventID,
	})
	if err != nil {
		status := http.StatusServiceUnavailable
		detail := "server busy, retry later"
		if !errors.Is(err, batcher.ErrBufferFull) {
			detail = "event submission failed"
		}
		h.log.ErrorContext(r.Context(), "event submission failed",
			"project_id", projectID, "event_id", eventID, "error", err.Error())
		metrics.EventsTotal.WithLabelValues(endpoint, "rejected").Inc()
		httputil.WriteError(w, status, detail)
		return false
	}
	return true
}

// writeEventID emits the uniform ingest response. An empty id serializes
// as null.
func writeEventID(w http.ResponseWriter, id string) {
	var value interface{}
	if id != "" {
		value = id
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": value})
}
