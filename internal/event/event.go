// Package event models the JSON payload sent by Sentry SDKs and provides a
// tolerant decoder for it. SDKs disagree wildly about which fields they
// send and how they type them, so every field is optional, per-field decode
// failures degrade to the zero value, and unknown top-level keys are kept
// in a catch-all bucket for round-trip debugging.
package event

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// RawEvent is the decoded form of one event or transaction payload.
type RawEvent struct {
	EventID     string
	Timestamp   Timestamp
	Platform    string
	Level       string
	Logger      string
	Transaction string
	ServerName  string
	Release     string
	Dist        string
	Environment string

	Message  string
	LogEntry *LogEntry

	Exception *Exception

	User        *User
	Request     *Request
	Contexts    map[string]map[string]interface{}
	Tags        map[string]string
	Extra       map[string]interface{}
	Fingerprint []string
	Breadcrumbs json.RawMessage
	SDK         *SDKInfo
	Modules     map[string]string

	// Unknown holds top-level keys this model does not recognize,
	// byte-identical to the input.
	Unknown map[string]json.RawMessage
}

// LogEntry is the parameterized message interface.
type LogEntry struct {
	Message string        `json:"message"`
	Params  []interface{} `json:"params,omitempty"`
}

// Exception wraps the SDK's exception value chain.
type Exception struct {
	Values []ExceptionValue `json:"values"`
}

// ExceptionValue is a single exception in the chain.
type ExceptionValue struct {
	Type       string          `json:"type"`
	Value      string          `json:"value"`
	Module     string          `json:"module,omitempty"`
	Stacktrace *Stacktrace     `json:"stacktrace,omitempty"`
	Mechanism  json.RawMessage `json:"mechanism,omitempty"`
}

// Stacktrace holds frames ordered outermost first, as transmitted.
type Stacktrace struct {
	Frames []Frame `json:"frames"`
}

// Frame is a single stack frame. Lineno is a pointer so a missing line
// number renders as "?" rather than 0.
type Frame struct {
	Filename    string `json:"filename,omitempty"`
	Lineno      *int64 `json:"lineno,omitempty"`
	Function    string `json:"function,omitempty"`
	Module      string `json:"module,omitempty"`
	ContextLine string `json:"context_line,omitempty"`
}

// User is the SDK user interface.
type User struct {
	ID        string `json:"id,omitempty"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Request is the SDK HTTP request interface.
type Request struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Data        json.RawMessage   `json:"data,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// SDKInfo identifies the emitting client.
type SDKInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// knownKeys are the top-level fields the decoder maps onto RawEvent;
// everything else lands in Unknown.
var knownKeys = map[string]struct{}{
	"event_id": {}, "timestamp": {}, "platform": {}, "level": {},
	"logger": {}, "transaction": {}, "server_name": {}, "release": {},
	"dist": {}, "environment": {}, "message": {}, "logentry": {},
	"exception": {}, "user": {}, "request": {}, "contexts": {},
	"tags": {}, "extra": {}, "fingerprint": {}, "breadcrumbs": {},
	"sdk": {}, "modules": {},
}

// Decode parses a JSON event payload. It never fails: empty or unparseable
// input yields an empty event with level "error", and individual fields
// that do not match their expected shape are dropped rather than aborting
// the decode.
func Decode(payload []byte) *RawEvent {
	ev := &RawEvent{Level: "error"}

	if len(strings.TrimSpace(string(payload))) == 0 {
		return ev
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ev
	}

	decodeString(fields["event_id"], &ev.EventID)
	decodeString(fields["platform"], &ev.Platform)
	decodeString(fields["logger"], &ev.Logger)
	decodeString(fields["transaction"], &ev.Transaction)
	decodeString(fields["server_name"], &ev.ServerName)
	decodeString(fields["release"], &ev.Release)
	decodeString(fields["dist"], &ev.Dist)
	decodeString(fields["environment"], &ev.Environment)
	decodeString(fields["message"], &ev.Message)

	var level string
	decodeString(fields["level"], &level)
	if level != "" {
		ev.Level = level
	}

	if raw, ok := fields["timestamp"]; ok {
		_ = json.Unmarshal(raw, &ev.Timestamp)
	}
	if raw, ok := fields["logentry"]; ok {
		var le LogEntry
		if json.Unmarshal(raw, &le) == nil && le.Message != "" {
			ev.LogEntry = &le
		}
	}
	if raw, ok := fields["exception"]; ok {
		var exc Exception
		if json.Unmarshal(raw, &exc) == nil && len(exc.Values) > 0 {
			ev.Exception = &exc
		}
	}
	if raw, ok := fields["user"]; ok {
		var u User
		if json.Unmarshal(raw, &u) == nil {
			ev.User = &u
		}
	}
	if raw, ok := fields["request"]; ok {
		var req Request
		if json.Unmarshal(raw, &req) == nil {
			ev.Request = &req
		}
	}
	if raw, ok := fields["contexts"]; ok {
		_ = json.Unmarshal(raw, &ev.Contexts)
	}
	if raw, ok := fields["tags"]; ok {
		ev.Tags = decodeTags(raw)
	}
	if raw, ok := fields["extra"]; ok {
		_ = json.Unmarshal(raw, &ev.Extra)
	}
	if raw, ok := fields["fingerprint"]; ok {
		_ = json.Unmarshal(raw, &ev.Fingerprint)
	}
	if raw, ok := fields["breadcrumbs"]; ok {
		ev.Breadcrumbs = raw
	}
	if raw, ok := fields["sdk"]; ok {
		var sdk SDKInfo
		if json.Unmarshal(raw, &sdk) == nil {
			ev.SDK = &sdk
		}
	}
	if raw, ok := fields["modules"]; ok {
		_ = json.Unmarshal(raw, &ev.Modules)
	}

	for key, raw := range fields {
		if _, known := knownKeys[key]; known {
			continue
		}
		if ev.Unknown == nil {
			ev.Unknown = make(map[string]json.RawMessage)
		}
		ev.Unknown[key] = raw
	}

	return ev
}

// decodeTags accepts any JSON object and coerces every value to a string,
// since SDKs occasionally send numbers or booleans as tag values.
func decodeTags(raw json.RawMessage) map[string]string {
	var loose map[string]interface{}
	if err := json.Unmarshal(raw, &loose); err != nil || len(loose) == 0 {
		return nil
	}

	tags := make(map[string]string, len(loose))
	for k, v := range loose {
		tags[k] = coerceString(v)
	}
	return tags
}

func decodeString(raw json.RawMessage, dst *string) {
	if raw == nil {
		return
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		*dst = s
	}
}

// NewEventID returns a fresh v4 UUID in Sentry's 32-char lowercase hex
// form (no dashes).
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
