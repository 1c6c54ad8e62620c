package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogEntry is one line of JSON output. Runtime correlation keys are promoted
// out of Fields so entries can be filtered by actor and sequence number.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Seq       uint64         `json:"seq,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// entryHandler writes one LogEntry per record. Copies made by WithAttrs and
// WithGroup share the writer lock.
type entryHandler struct {
	level     slog.Leveler
	addSource bool
	writer    io.Writer
	attrs     []slog.Attr
	groups    []string
	mu        *sync.Mutex
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	add := func(attr slog.Attr) bool {
		entry.add(h.groups, attr)
		return true
	}
	for _, attr := range h.attrs {
		add(attr)
	}
	record.Attrs(add)

	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

// add records attr under its group-qualified key, or on the entry itself
// for correlation keys.
func (e *LogEntry) add(groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	if e.promote(key, attr.Value) {
		return
	}

	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = plainValue(attr.Value)
}

func (e *LogEntry) promote(key string, value slog.Value) bool {
	switch key {
	case "component", "actor":
		if value.Kind() != slog.KindString {
			return false
		}
		if key == "component" {
			e.Component = value.String()
		} else {
			e.Actor = value.String()
		}
		return true
	case "seq":
		switch {
		case value.Kind() == slog.KindUint64:
			e.Seq = value.Uint64()
			return true
		case value.Kind() == slog.KindInt64 && value.Int64() >= 0:
			e.Seq = uint64(value.Int64())
			return true
		}
	}

	return false
}

// plainValue converts a resolved slog value into something encoding/json
// renders readably.
func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := make(map[string]any)
		for _, item := range value.Group() {
			group[item.Key] = plainValue(item.Value.Resolve())
		}
		return group
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.Any()
	}
}
