package event

import "encoding/json"

// MarshalJSON reassembles the event as a JSON object, including any
// unrecognized keys captured at decode time, so that an event survives a
// trip through the distributed queue without losing fields.
func (ev *RawEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(ev.Unknown)+16)
	for k, v := range ev.Unknown {
		out[k] = v
	}

	putString(out, "event_id", ev.EventID)
	putString(out, "platform", ev.Platform)
	putString(out, "level", ev.Level)
	putString(out, "logger", ev.Logger)
	putString(out, "transaction", ev.Transaction)
	putString(out, "server_name", ev.ServerName)
	putString(out, "release", ev.Release)
	putString(out, "dist", ev.Dist)
	putString(out, "environment", ev.Environment)
	putString(out, "message", ev.Message)

	if ev.Timestamp.Valid {
		out["timestamp"] = ev.Timestamp
	}
	if ev.LogEntry != nil {
		out["logentry"] = ev.LogEntry
	}
	if ev.Exception != nil {
		out["exception"] = ev.Exception
	}
	if ev.User != nil {
		out["user"] = ev.User
	}
	if ev.Request != nil {
		out["request"] = ev.Request
	}
	if len(ev.Contexts) > 0 {
		out["contexts"] = ev.Contexts
	}
	if len(ev.Tags) > 0 {
		out["tags"] = ev.Tags
	}
	if len(ev.Extra) > 0 {
		out["extra"] = ev.Extra
	}
	if len(ev.Fingerprint) > 0 {
		out["fingerprint"] = ev.Fingerprint
	}
	if len(ev.Breadcrumbs) > 0 {
		out["breadcrumbs"] = ev.Breadcrumbs
	}
	if ev.SDK != nil {
		out["sdk"] = ev.SDK
	}
	if len(ev.Modules) > 0 {
		out["modules"] = ev.Modules
	}

	return json.Marshal(out)
}

func putString(m map[string]interface{}, key, val string) {
	if val != "" {
		m[key] = val
	}
}
