package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentrel/sentrel/internal/event"
)

func ts(t time.Time) event.Timestamp {
	return event.Timestamp{Time: t, Valid: true}
}

func intp(v int64) *int64 { return &v }

func TestTransformBasicFields(t *testing.T) {
	tr := New()
	when := time.Date(2024, 3, 15, 12, 30, 45, 0, time.UTC)

	doc := tr.Transform(&event.RawEvent{
		EventID:     "fc6d8c0c43fc4630ad850ee518f1b9d0",
		Timestamp:   ts(when),
		Level:       "warning",
		Platform:    "python",
		Environment: "staging",
		Release:     "1.4.2",
		Transaction: "/checkout",
		Message:     "something happened",
		Tags:        map[string]string{"region": "eu"},
	}, 7)

	assert.Equal(t, "fc6d8c0c43fc4630ad850ee518f1b9d0", doc.EventID)
	assert.Equal(t, 7, doc.ProjectID)
	assert.Equal(t, when, doc.Timestamp)
	assert.Equal(t, "warning", doc.Level)
	assert.Equal(t, "staging", doc.Environment)
	assert.Equal(t, "something happened", doc.Message)
	assert.Equal(t, map[string]string{"region": "eu"}, doc.Tags)
	assert.False(t, doc.ReceivedAt.IsZero())
}

func TestTransformDefaults(t *testing.T) {
	tr := New()
	doc := tr.Transform(&event.RawEvent{Level: "error"}, 1)

	assert.Len(t, doc.EventID, 32, "missing event id gets a fresh one")
	assert.Equal(t, "production", doc.Environment)
	assert.Equal(t, "No message", doc.Message)
	assert.WithinDuration(t, time.Now().UTC(), doc.Timestamp, 5*time.Second,
		"invalid timestamp falls back to now")
	assert.Equal(t, []string{"{{ default }}"}, doc.Fingerprint)
}

func TestExtractMessagePriority(t *testing.T) {
	tr := New()

	// exception wins over message
	doc := tr.Transform(&event.RawEvent{
		Message: "plain message",
		Exception: &event.Exception{Values: []event.ExceptionValue{
			{Type: "ValueError", Value: "bad input"},
		}},
	}, 1)
	assert.Equal(t, "ValueError: bad input", doc.Message)
	assert.Equal(t, "ValueError", doc.ExceptionType)
	assert.Equal(t, "bad input", doc.ExceptionValue)

	// exception with no type defaults to Error
	doc = tr.Transform(&event.RawEvent{
		Exception: &event.Exception{Values: []event.ExceptionValue{{Value: "boom"}}},
	}, 1)
	assert.Equal(t, "Error: boom", doc.Message)

	// exception with type only
	doc = tr.Transform(&event.RawEvent{
		Exception: &event.Exception{Values: []event.ExceptionValue{{Type: "KeyError"}}},
	}, 1)
	assert.Equal(t, "KeyError", doc.Message)

	// message wins over logentry
	doc = tr.Transform(&event.RawEvent{
		Message:  "plain",
		LogEntry: &event.LogEntry{Message: "templated %s"},
	}, 1)
	assert.Equal(t, "plain", doc.Message)
}

func TestFormatLogEntry(t *testing.T) {
	cases := []struct {
		name string
		le   event.LogEntry
		want string
	}{
		{
			name: "positional substitution",
			le:   event.LogEntry{Message: "user %s hit %s", Params: []interface{}{"alice", "/cart"}},
			want: "user alice hit /cart",
		},
		{
			name: "numeric and nil params",
			le:   event.LogEntry{Message: "count=%s flag=%s", Params: []interface{}{float64(42), nil}},
			want: "count=42 flag=None",
		},
		{
			name: "more placeholders than params keeps raw",
			le:   event.LogEntry{Message: "%s %s %s", Params: []interface{}{"only one"}},
			want: "%s %s %s",
		},
		{
			name: "no params keeps raw",
			le:   event.LogEntry{Message: "literal %s"},
			want: "literal %s",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatLogEntry(&tc.le))
		})
	}
}

func TestRenderStacktrace(t *testing.T) {
	exc := &event.ExceptionValue{
		Type: "ValueError",
		Stacktrace: &event.Stacktrace{Frames: []event.Frame{
			{Filename: "outer.py", Lineno: intp(5), Function: "outer", Module: "app", ContextLine: "  call_inner()  "},
			{Filename: "inner.py", Lineno: intp(12), Function: "inner"},
			{Function: "mystery"},
		}},
	}

	got := renderStacktrace(exc)
	want := "  File \"?\", line ?, in mystery\n" +
		"  File \"inner.py\", line 12, in inner\n" +
		"  File \"outer.py\", line 5, in app.outer\n" +
		"    call_inner()"
	assert.Equal(t, want, got)
}

func TestRenderStacktraceEmpty(t *testing.T) {
	assert.Empty(t, renderStacktrace(&event.ExceptionValue{Type: "E"}))
	assert.Empty(t, renderStacktrace(&event.ExceptionValue{Stacktrace: &event.Stacktrace{}}))
}

func TestTransformUserHashesEmail(t *testing.T) {
	tr := New()
	doc := tr.Transform(&event.RawEvent{
		User: &event.User{ID: "u1", Email: "Alice@Example.COM", IPAddress: "8.8.8.8"},
	}, 1)

	require.NotNil(t, doc.User)
	assert.Equal(t, "u1", doc.User.ID)
	assert.Equal(t, "8.8.8.8", doc.User.IP)
	assert.Equal(t, "ff8d9819fc0e12bf", doc.User.EmailHash,
		"email hash is case-insensitive and truncated to 16 hex chars")
}

func TestHashEmail(t *testing.T) {
	assert.Equal(t, HashEmail("alice@example.com"), HashEmail("ALICE@EXAMPLE.COM"))
	assert.Len(t, HashEmail("user@example.com"), 16)
	assert.Equal(t, "b4c9a289323b21a0", HashEmail("user@example.com"))
}

func TestTransformEmptyUserOmitted(t *testing.T) {
	tr := New()
	doc := tr.Transform(&event.RawEvent{User: &event.User{Name: "only name"}}, 1)
	assert.Nil(t, doc.User, "user with no indexable sub-fields is dropped")
}

func TestTransformContexts(t *testing.T) {
	tr := New()
	doc := tr.Transform(&event.RawEvent{
		Contexts: map[string]map[string]interface{}{
			"browser": {"name": "Firefox", "version": "120.0"},
			"os":      {"name": "Linux"},
			"device":  {"family": "Pixel", "model": "7", "brand": "Google"},
			"runtime": {"name": "CPython", "version": float64(3.12)},
		},
	}, 1)

	require.NotNil(t, doc.Browser)
	assert.Equal(t, "Firefox", doc.Browser.Name)
	require.NotNil(t, doc.OS)
	assert.Equal(t, "Linux", doc.OS.Name)
	require.NotNil(t, doc.Device)
	assert.Equal(t, "Pixel", doc.Device.Family)
	require.NotNil(t, doc.Runtime)
	assert.Equal(t, "3.12", doc.Runtime.Version)
}

func TestFingerprint(t *testing.T) {
	tr := New()

	// explicit fingerprint passes through
	doc := tr.Transform(&event.RawEvent{Fingerprint: []string{"custom", "group"}}, 1)
	assert.Equal(t, []string{"custom", "group"}, doc.Fingerprint)

	// derived from exception type, transaction, platform
	doc = tr.Transform(&event.RawEvent{
		Platform:    "python",
		Transaction: "/checkout",
		Exception:   &event.Exception{Values: []event.ExceptionValue{{Type: "ValueError"}}},
	}, 1)
	assert.Equal(t, []string{"ValueError", "/checkout", "python"}, doc.Fingerprint)

	// logger substitutes for a missing transaction
	doc = tr.Transform(&event.RawEvent{Logger: "app.views", Platform: "python"}, 1)
	assert.Equal(t, []string{"app.views", "python"}, doc.Fingerprint)
}

func TestTransformRequestHeadersCarried(t *testing.T) {
	tr := New()
	doc := tr.Transform(&event.RawEvent{
		Request: &event.Request{
			URL:     "https://shop.example.com/checkout",
			Method:  "POST",
			Headers: map[string]string{"User-Agent": "Mozilla/5.0"},
		},
	}, 1)

	require.NotNil(t, doc.Request)
	assert.Equal(t, "POST", doc.Request.Method)
	assert.Equal(t, map[string]string{"User-Agent": "Mozilla/5.0"}, doc.RequestHeaders)
}

func TestTransformIsDeterministic(t *testing.T) {
	tr := New()
	ev := &event.RawEvent{
		EventID:   "fc6d8c0c43fc4630ad850ee518f1b9d0",
		Timestamp: ts(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Message:   "same in, same out",
	}

	a := tr.Transform(ev, 1)
	b := tr.Transform(ev, 1)
	assert.Equal(t, a.EventID, b.EventID)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, a.Timestamp, b.Timestamp)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}
