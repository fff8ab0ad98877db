// Package transform normalizes decoded SDK events into the canonical
// indexed document: field mapping, message extraction, stacktrace
// rendering, fingerprinting and PII hashing. Transformation is pure and
// never fails for data reasons; missing or ill-typed fields degrade to
// omission.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentrel/sentrel/internal/event"
	"github.com/sentrel/sentrel/internal/schema"
)

const noMessage = "No message"

// defaultFingerprint is Sentry's grouping placeholder, emitted when no
// fingerprint component can be derived.
var defaultFingerprint = []string{"{{ default }}"}

// Transformer converts RawEvents into Documents.
type Transformer struct{}

// New creates a Transformer.
func New() *Transformer {
	return &Transformer{}
}

// Transform maps one event onto the document schema. received_at is
// wall-clock UTC; everything else is a deterministic function of the input.
func (t *Transformer) Transform(ev *event.RawEvent, projectID int) *schema.Document {
	doc := &schema.Document{
		Timestamp:  eventTime(ev),
		ReceivedAt: time.Now().UTC(),
		EventID:    ev.EventID,
		ProjectID:  projectID,

		Level:       ev.Level,
		Platform:    ev.Platform,
		Environment: ev.Environment,
		Release:     ev.Release,
		Transaction: ev.Transaction,
		ServerName:  ev.ServerName,
		Logger:      ev.Logger,

		Message:     extractMessage(ev),
		Tags:        ev.Tags,
		Fingerprint: fingerprint(ev),
	}

	if doc.EventID == "" {
		doc.EventID = event.NewEventID()
	}
	if doc.Environment == "" {
		doc.Environment = "production"
	}

	if exc := firstException(ev); exc != nil {
		doc.ExceptionType = exc.Type
		doc.ExceptionValue = exc.Value
		doc.Stacktrace = renderStacktrace(exc)
	}

	doc.User = transformUser(ev.User)
	doc.Browser = contextNameVer(ev, "browser")
	doc.OS = contextNameVer(ev, "os")
	doc.Device = contextDevice(ev)
	doc.Runtime = contextNameVer(ev, "runtime")
	doc.Request = transformRequest(ev.Request)
	doc.SDK = transformSDK(ev.SDK)

	if ev.Request != nil && len(ev.Request.Headers) > 0 {
		doc.RequestHeaders = ev.Request.Headers
	}

	return doc
}

// eventTime applies the timestamp coercion contract: an invalid or absent
// source timestamp falls back to wall-clock UTC now.
func eventTime(ev *event.RawEvent) time.Time {
	if ev.Timestamp.Valid {
		return ev.Timestamp.Time.UTC()
	}
	return time.Now().UTC()
}

// extractMessage picks the human-readable message with priority
// exception > message > logentry.
func extractMessage(ev *event.RawEvent) string {
	if exc := firstException(ev); exc != nil {
		excType := exc.Type
		if excType == "" {
			excType = "Error"
		}
		if exc.Value != "" {
			return fmt.Sprintf("%s: %s", excType, exc.Value)
		}
		return excType
	}

	if ev.Message != "" {
		return ev.Message
	}

	if ev.LogEntry != nil {
		return formatLogEntry(ev.LogEntry)
	}

	return noMessage
}

// formatLogEntry substitutes %s placeholders positionally. A mismatch
// between placeholders and params keeps the raw message.
func formatLogEntry(le *event.LogEntry) string {
	msg := le.Message
	if msg == "" {
		return noMessage
	}
	if len(le.Params) == 0 || !strings.Contains(msg, "%s") {
		return msg
	}

	parts := strings.Split(msg, "%s")
	if len(parts)-1 > len(le.Params) {
		return msg
	}

	var b strings.Builder
	for i, part := range parts {
		b.WriteString(part)
		if i < len(parts)-1 {
			b.WriteString(paramString(le.Params[i]))
		}
	}
	return b.String()
}

func paramString(p interface{}) string {
	switch v := p.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "None"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func firstException(ev *event.RawEvent) *event.ExceptionValue {
	if ev.Exception == nil || len(ev.Exception.Values) == 0 {
		return nil
	}
	return &ev.Exception.Values[0]
}

// renderStacktrace concatenates the first exception's frames in reverse
// order (innermost last), one Python-traceback-style line per frame, with
// the stripped context line appended when present.
func renderStacktrace(exc *event.ExceptionValue) string {
	if exc.Stacktrace == nil || len(exc.Stacktrace.Frames) == 0 {
		return ""
	}

	frames := exc.Stacktrace.Frames
	lines := make([]string, 0, len(frames)*2)

	for i := len(frames) - 1; i >= 0; i-- {
		frame := frames[i]

		filename := frame.Filename
		if filename == "" {
			filename = "?"
		}
		lineno := "?"
		if frame.Lineno != nil {
			lineno = strconv.FormatInt(*frame.Lineno, 10)
		}
		function := frame.Function
		if function == "" {
			function = "?"
		}
		if frame.Module != "" {
			function = frame.Module + "." + function
		}

		lines = append(lines, fmt.Sprintf("  File %q, line %s, in %s", filename, lineno, function))

		if frame.ContextLine != "" {
			lines = append(lines, "    "+strings.TrimSpace(frame.ContextLine))
		}
	}

	return strings.Join(lines, "\n")
}

// transformUser emits only non-empty sub-fields. The email is replaced by
// the first 16 hex characters of SHA-256 over its lowercased bytes; the
// raw address never reaches the document.
func transformUser(u *event.User) *schema.User {
	if u == nil {
		return nil
	}

	out := &schema.User{
		ID:       u.ID,
		Username: u.Username,
		IP:       u.IPAddress,
	}
	if u.Email != "" {
		out.EmailHash = HashEmail(u.Email)
	}

	if out.ID == "" && out.EmailHash == "" && out.Username == "" && out.IP == "" {
		return nil
	}
	return out
}

// HashEmail returns the first 16 hex characters of SHA-256 of the
// lowercased email.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])[:16]
}

func contextNameVer(ev *event.RawEvent, key string) *schema.NameVer {
	ctx := ev.Contexts[key]
	if len(ctx) == 0 {
		return nil
	}

	out := &schema.NameVer{
		Name:    contextString(ctx, "name"),
		Version: contextString(ctx, "version"),
	}
	if out.Name == "" && out.Version == "" {
		return nil
	}
	return out
}

func contextDevice(ev *event.RawEvent) *schema.Device {
	ctx := ev.Contexts["device"]
	if len(ctx) == 0 {
		return nil
	}

	out := &schema.Device{
		Family: contextString(ctx, "family"),
		Model:  contextString(ctx, "model"),
		Brand:  contextString(ctx, "brand"),
	}
	if out.Family == "" && out.Model == "" && out.Brand == "" {
		return nil
	}
	return out
}

func contextString(ctx map[string]interface{}, key string) string {
	v, ok := ctx[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func transformRequest(req *event.Request) *schema.RequestRef {
	if req == nil || (req.URL == "" && req.Method == "") {
		return nil
	}
	return &schema.RequestRef{URL: req.URL, Method: req.Method}
}

func transformSDK(sdk *event.SDKInfo) *schema.NameVer {
	if sdk == nil || (sdk.Name == "" && sdk.Version == "") {
		return nil
	}
	return &schema.NameVer{Name: sdk.Name, Version: sdk.Version}
}

// fingerprint uses the source fingerprint when present, otherwise the
// ordered non-empty concatenation of exception type, transaction-or-logger
// and platform, otherwise the "{{ default }}" placeholder.
func fingerprint(ev *event.RawEvent) []string {
	if len(ev.Fingerprint) > 0 {
		return ev.Fingerprint
	}

	var components []string
	if exc := firstException(ev); exc != nil && exc.Type != "" {
		components = append(components, exc.Type)
	}
	if ev.Transaction != "" {
		components = append(components, ev.Transaction)
	} else if ev.Logger != "" {
		components = append(components, ev.Logger)
	}
	if ev.Platform != "" {
		components = append(components, ev.Platform)
	}

	if len(components) == 0 {
		return defaultFingerprint
	}
	return components
}
