// Package envelope implements the Sentry envelope framing: a JSON header
// line followed by repeated item-header/payload pairs, where a payload is
// either length-prefixed (and possibly binary, with embedded newlines) or
// newline-terminated.
//
// The decoder runs a cursor over the raw byte buffer rather than splitting
// on newlines up front, so a `length` field that covers embedded newlines
// is honored byte-for-byte.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Item types defined by the Sentry protocol. Anything else is preserved
// as ItemUnknown and ignored by the pipeline.
const (
	ItemEvent        = "event"
	ItemTransaction  = "transaction"
	ItemSession      = "session"
	ItemAttachment   = "attachment"
	ItemUserReport   = "user_report"
	ItemClientReport = "client_report"
	ItemUnknown      = "unknown"
)

// Header is the envelope header line. All fields are optional and carried
// through for correlation only.
type Header struct {
	EventID string          `json:"event_id,omitempty"`
	DSN     string          `json:"dsn,omitempty"`
	SentAt  string          `json:"sent_at,omitempty"`
	SDK     json.RawMessage `json:"sdk,omitempty"`
	Trace   json.RawMessage `json:"trace,omitempty"`
}

// Item is one entry in the envelope. Payload is byte-identical to the
// input; the decoder never interprets payload content.
type Item struct {
	Type    string
	Headers map[string]json.RawMessage
	Payload []byte
}

// Envelope is the decoded framing.
type Envelope struct {
	Header Header
	Items  []Item
}

// ErrBadHeader reports that the envelope header line was not valid JSON.
// Decoding still proceeds best-effort; the caller decides whether a header
// failure on an otherwise itemless body is fatal.
var ErrBadHeader = errors.New("envelope: malformed header line")

// Decode parses an envelope body. It never fails fatally: malformed input
// yields a partial envelope plus a diagnostic error.
func Decode(body []byte) (*Envelope, error) {
	env := &Envelope{}
	if len(body) == 0 {
		return env, nil
	}

	cursor := 0
	headerLine, next := readLine(body, cursor)
	cursor = next

	var diag error
	if len(bytes.TrimSpace(headerLine)) > 0 {
		if err := json.Unmarshal(headerLine, &env.Header); err != nil {
			diag = fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
	}

	for cursor < len(body) {
		line, next := readLine(body, cursor)
		cursor = next

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var itemHeader map[string]json.RawMessage
		if err := json.Unmarshal(line, &itemHeader); err != nil {
			// Not an item header; skip this line and resync.
			continue
		}

		item := Item{
			Type:    itemType(itemHeader),
			Headers: itemHeader,
		}

		if length, ok := itemLength(itemHeader); ok {
			// Length-prefixed payload; may contain newlines. Clamp to
			// the remaining input rather than failing.
			end := cursor + length
			if end > len(body) {
				end = len(body)
			}
			item.Payload = body[cursor:end]
			cursor = end
			// Trailing newline after the payload is framing, not data.
			if cursor < len(body) && body[cursor] == '\n' {
				cursor++
			}
		} else {
			item.Payload, cursor = readLine(body, cursor)
		}

		env.Items = append(env.Items, item)
	}

	return env, diag
}

// Events returns the event and transaction items, in envelope order.
func (e *Envelope) Events() []Item {
	var items []Item
	for _, item := range e.Items {
		if item.Type == ItemEvent || item.Type == ItemTransaction {
			items = append(items, item)
		}
	}
	return items
}

// Sessions returns the session items.
func (e *Envelope) Sessions() []Item {
	var items []Item
	for _, item := range e.Items {
		if item.Type == ItemSession {
			items = append(items, item)
		}
	}
	return items
}

// Encode renders the envelope back to its wire form. Item payloads are
// written with an explicit length so binary content round-trips.
func Encode(header Header, items []Item) ([]byte, error) {
	var buf bytes.Buffer

	headerLine, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	buf.Write(headerLine)
	buf.WriteByte('\n')

	for _, item := range items {
		itemHeader := make(map[string]interface{}, len(item.Headers)+2)
		for k, v := range item.Headers {
			itemHeader[k] = v
		}
		itemHeader["type"] = item.Type
		itemHeader["length"] = len(item.Payload)

		line, err := json.Marshal(itemHeader)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

// readLine returns the bytes from pos up to (excluding) the next newline,
// and the cursor position after that newline. Without a trailing newline
// the rest of the buffer is the line.
func readLine(body []byte, pos int) ([]byte, int) {
	if pos >= len(body) {
		return nil, pos
	}
	idx := bytes.IndexByte(body[pos:], '\n')
	if idx < 0 {
		return body[pos:], len(body)
	}
	return body[pos : pos+idx], pos + idx + 1
}

func itemType(header map[string]json.RawMessage) string {
	raw, ok := header["type"]
	if !ok {
		return ItemUnknown
	}
	var t string
	if err := json.Unmarshal(raw, &t); err != nil || t == "" {
		return ItemUnknown
	}
	return t
}

func itemLength(header map[string]json.RawMessage) (int, bool) {
	raw, ok := header["length"]
	if !ok {
		return 0, false
	}
	var length int
	if err := json.Unmarshal(raw, &length); err != nil || length < 0 {
		return 0, false
	}
	return length, true
}
