package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmptyPayload(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, []byte("   "), []byte("not json")} {
		ev := Decode(payload)
		require.NotNil(t, ev)
		assert.Equal(t, "error", ev.Level)
		assert.Empty(t, ev.EventID)
		assert.False(t, ev.Timestamp.Valid)
	}
}

func TestDecodeFullEvent(t *testing.T) {
	payload := []byte(`{
		"event_id": "fc6d8c0c43fc4630ad850ee518f1b9d0",
		"timestamp": "2024-03-15T12:30:45Z",
		"platform": "python",
		"level": "warning",
		"logger": "app.views",
		"transaction": "/checkout",
		"server_name": "web-1",
		"release": "1.4.2",
		"environment": "staging",
		"message": "something happened",
		"tags": {"region": "eu", "shard": 3, "canary": true},
		"user": {"id": "u1", "email": "User@Example.com", "ip_address": "8.8.8.8"},
		"sdk": {"name": "sentry.python", "version": "1.40.0"}
	}`)

	ev := Decode(payload)
	assert.Equal(t, "fc6d8c0c43fc4630ad850ee518f1b9d0", ev.EventID)
	assert.Equal(t, "warning", ev.Level)
	assert.Equal(t, "python", ev.Platform)
	assert.Equal(t, "/checkout", ev.Transaction)
	assert.Equal(t, "staging", ev.Environment)

	require.True(t, ev.Timestamp.Valid)
	assert.Equal(t, time.Date(2024, 3, 15, 12, 30, 45, 0, time.UTC), ev.Timestamp.Time)

	// tag values of any JSON type coerce to strings
	assert.Equal(t, map[string]string{"region": "eu", "shard": "3", "canary": "true"}, ev.Tags)

	require.NotNil(t, ev.User)
	assert.Equal(t, "User@Example.com", ev.User.Email)
	require.NotNil(t, ev.SDK)
	assert.Equal(t, "sentry.python", ev.SDK.Name)
}

func TestDecodeTimestampForms(t *testing.T) {
	want := time.Date(2024, 3, 15, 12, 30, 45, 0, time.UTC)

	cases := map[string]string{
		"iso_z":         `{"timestamp": "2024-03-15T12:30:45Z"}`,
		"iso_offset":    `{"timestamp": "2024-03-15T12:30:45+00:00"}`,
		"iso_no_offset": `{"timestamp": "2024-03-15T12:30:45"}`,
		"iso_space":     `{"timestamp": "2024-03-15 12:30:45"}`,
		"epoch_seconds": `{"timestamp": 1710505845}`,
		"epoch_millis":  `{"timestamp": 1710505845000}`,
		"epoch_string":  `{"timestamp": "1710505845"}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			ev := Decode([]byte(payload))
			require.True(t, ev.Timestamp.Valid, "timestamp should parse")
			assert.True(t, want.Equal(ev.Timestamp.Time),
				"want %s, got %s", want, ev.Timestamp.Time)
		})
	}
}

func TestDecodeFractionalEpoch(t *testing.T) {
	ev := Decode([]byte(`{"timestamp": 1710505845.5}`))
	require.True(t, ev.Timestamp.Valid)
	assert.Equal(t, int64(1710505845), ev.Timestamp.Time.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(ev.Timestamp.Time.Nanosecond()))
}

func TestDecodeGarbageTimestamp(t *testing.T) {
	for _, payload := range []string{
		`{"timestamp": "yesterday"}`,
		`{"timestamp": {"nested": true}}`,
		`{"timestamp": null}`,
	} {
		ev := Decode([]byte(payload))
		assert.False(t, ev.Timestamp.Valid, "payload %s", payload)
	}
}

func TestDecodeIllTypedFieldsDropped(t *testing.T) {
	ev := Decode([]byte(`{"message": 42, "level": ["a"], "release": "ok"}`))
	assert.Empty(t, ev.Message)
	assert.Equal(t, "error", ev.Level)
	assert.Equal(t, "ok", ev.Release)
}

func TestDecodeUnknownKeysPreserved(t *testing.T) {
	ev := Decode([]byte(`{"message": "m", "spans": [{"op": "db"}], "custom_field": 7}`))

	require.Contains(t, ev.Unknown, "spans")
	require.Contains(t, ev.Unknown, "custom_field")
	assert.NotContains(t, ev.Unknown, "message")

	// round trip through the queue wire format keeps unknown keys
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	again := Decode(data)
	assert.Contains(t, again.Unknown, "spans")
	assert.JSONEq(t, `[{"op":"db"}]`, string(again.Unknown["spans"]))
}

func TestDecodeExceptionChain(t *testing.T) {
	ev := Decode([]byte(`{
		"exception": {"values": [
			{"type": "ValueError", "value": "bad input", "stacktrace": {"frames": [
				{"filename": "app.py", "lineno": 10, "function": "main"}
			]}}
		]}
	}`))

	require.NotNil(t, ev.Exception)
	require.Len(t, ev.Exception.Values, 1)
	exc := ev.Exception.Values[0]
	assert.Equal(t, "ValueError", exc.Type)
	require.NotNil(t, exc.Stacktrace)
	require.Len(t, exc.Stacktrace.Frames, 1)
	require.NotNil(t, exc.Stacktrace.Frames[0].Lineno)
	assert.Equal(t, int64(10), *exc.Stacktrace.Frames[0].Lineno)
}

func TestNewEventID(t *testing.T) {
	id := NewEventID()
	assert.Len(t, id, 32)
	assert.NotContains(t, id, "-")
	assert.NotEqual(t, id, NewEventID())
}
