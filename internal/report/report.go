// Package report persists analysis results as JSON files.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
)

// Output file names written under the configured output directory.
const (
	StatsFile            = "chat_length_stats.json"
	DistributionFile     = "chat_lengths_full_distributions.json"
	ByCategoryFile       = "chat_length_by_type.json"
	DetailedFeedbackFile = "detailed_judge_feedback.json"
	ConsolidatedFile     = "judge_feedback.json"
	FeedbackLogFile      = "detailed_judge_feedback.jsonl"
)

// ErrPersistence is matched by every write failure in this package.
var ErrPersistence = errors.New("persistence failed")

// WriteJSON writes v to path as two-space indented UTF-8 JSON, replacing
// any existing file atomically. Non-ASCII text and <>& are written as is.
// Values encoding/json cannot represent are written in their string form.
func WriteJSON(path string, v any) error {
	data, err := encode(v)
	if err != nil {
		data, err = encode(normalize(reflect.ValueOf(v)))
		if err != nil {
			return fmt.Errorf("%w: encoding %s: %w", ErrPersistence, filepath.Base(path), err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrPersistence, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrPersistence, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replacing %s: %w", ErrPersistence, path, err)
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalize rebuilds v from maps, slices and scalars, replacing anything
// encoding/json rejects (NaN, channels, funcs, complex numbers) with its
// fmt representation.
func normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	nilPtr := v.Kind() == reflect.Pointer && v.IsNil()
	if m, ok := v.Interface().(json.Marshaler); ok && !nilPtr {
		if b, err := m.MarshalJSON(); err == nil && json.Valid(b) {
			return json.RawMessage(b)
		}
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return normalize(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprint(v.Interface())
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = normalize(v.Index(i))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, omitEmpty, skip := jsonName(f)
			if skip {
				continue
			}
			fv := v.Field(i)
			if omitEmpty && fv.IsZero() {
				continue
			}
			out[name] = normalize(fv)
		}
		return out
	default:
		return v.Interface()
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// JSONLWriter appends one JSON object per line and flushes each write, so
// records written before a failure survive it. It is safe for concurrent
// use.
type JSONLWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONLWriter truncates or creates path.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{file: f, encoder: enc}, nil
}

// Write writes v as a single JSON line.
func (w *JSONLWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *JSONLWriter) Close() error {
	return w.file.Close()
}
