// Package chats defines the typed conversation records read from the store
// and the single rule used to count their messages.
package chats

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// Message is one entry of a conversation's message list. Its contents are
// opaque: chatlens only counts messages or serializes them for the judge.
type Message = json.RawMessage

// Record is a single conversation row parsed from the store.
type Record struct {
	ID       string    `json:"id"`
	Position int       `json:"-"`
	Category *string   `json:"chat_type,omitempty"`
	Messages []Message `json:"messages"`

	// PrecomputedCount is the msg_count summary stored alongside the row,
	// nil when the column is null or absent.
	PrecomputedCount *int `json:"msg_count,omitempty"`
}

// Columns names the table columns a Record is parsed from.
type Columns struct {
	ID       string `mapstructure:"id_column" yaml:"id_column"`
	Messages string `mapstructure:"messages_column" yaml:"messages_column"`
	Count    string `mapstructure:"count_column" yaml:"count_column"`
	Category string `mapstructure:"category_column" yaml:"category_column"`
}

// DefaultColumns matches the ai_chat table layout.
func DefaultColumns() Columns {
	return Columns{
		ID:       "id",
		Messages: "messages",
		Count:    "msg_count",
		Category: "chat_type",
	}
}

// countKey is the field inside the msg_count summary object.
const countKey = "msg_count"

// MessageCount returns the number of messages in r: the precomputed count
// when present, else the length of the message list, else zero. Every
// place that needs a count goes through this function.
func MessageCount(r Record) int {
	if r.PrecomputedCount != nil {
		return *r.PrecomputedCount
	}
	return len(r.Messages)
}

// Transcript serializes the message list as the JSON array handed to the
// judge model.
func (r Record) Transcript() (string, error) {
	msgs := r.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("serializing messages for %s: %w", r.ID, err)
	}
	return string(b), nil
}

// ParseRecords converts raw tabular rows into Records. Columns missing from
// the result are treated as null. A message column that cannot be decoded
// as a JSON array is an error.
func ParseRecords(columns []string, rows [][]any, cols Columns) ([]Record, error) {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	get := func(row []any, name string) any {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	records := make([]Record, 0, len(rows))
	for pos, row := range rows {
		r := Record{Position: pos}

		r.ID = parseID(get(row, cols.ID))
		if r.ID == "" {
			r.ID = fmt.Sprintf("chat_%d", pos)
		}

		msgs, err := parseMessages(get(row, cols.Messages))
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", pos, r.ID, err)
		}
		r.Messages = msgs

		r.PrecomputedCount = parseCount(get(row, cols.Count))

		if c, ok := parseText(get(row, cols.Category)); ok {
			r.Category = &c
		}

		records = append(records, r)
	}
	return records, nil
}

func parseID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case [16]byte:
		return uuid.UUID(id).String()
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	s, _ := parseText(v)
	return s
}

func parseText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// parseMessages accepts an already-decoded JSON array (pgx jsonb, proxy
// JSON) or JSON text (sqlite).
func parseMessages(v any) ([]Message, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]Message, 0, len(m))
		for i, el := range m {
			b, err := json.Marshal(el)
			if err != nil {
				return nil, fmt.Errorf("encoding message %d: %w", i, err)
			}
			out = append(out, b)
		}
		return out, nil
	case string:
		return decodeMessages([]byte(m))
	case []byte:
		return decodeMessages(m)
	case json.RawMessage:
		return decodeMessages(m)
	default:
		return nil, fmt.Errorf("messages column has unsupported type %T", v)
	}
}

func decodeMessages(b []byte) ([]Message, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var out []Message
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// parseCount reads the msg_count summary object. A non-null object without
// the key counts as zero; anything that is not an object is treated as
// absent so the list length applies.
func parseCount(v any) *int {
	var obj map[string]any
	switch c := v.(type) {
	case nil:
		return nil
	case map[string]any:
		obj = c
	case string:
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			return nil
		}
	case []byte:
		if err := json.Unmarshal(c, &obj); err != nil {
			return nil
		}
	default:
		return nil
	}
	if obj == nil {
		return nil
	}

	n := 0
	if raw, ok := obj[countKey]; ok {
		if parsed, ok := toInt(raw); ok {
			n = parsed
		}
	}
	return &n
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}
