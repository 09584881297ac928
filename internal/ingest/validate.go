package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Guliveer/procsnap/internal/store"
)

const (
	// MaxHostnameLength is the longest accepted hostname, in characters.
	MaxHostnameLength = 255
	// MaxNameLength is the longest stored process name, in characters.
	// Longer names are truncated, not rejected.
	MaxNameLength = 255
)

// naive timestamps carry no offset and are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ValidationError lists every problem found in a payload, keyed by field
// path (for example "processes[3].pid").
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "invalid snapshot payload: " + strings.Join(parts, ", ")
}

// payload is a validated snapshot ready for persistence.
type payload struct {
	hostname  string
	createdAt time.Time
	hasTime   bool
	processes []store.Process
}

// parsePayload checks the payload shape field by field so that every
// violation can be reported at once.
func parsePayload(raw []byte) (*payload, error) {
	verr := &ValidationError{}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		verr.add("body", "must be a JSON object")
		return nil, verr
	}

	p := &payload{}

	if v, ok := obj["hostname"]; !ok {
		verr.add("hostname", "field is required")
	} else if host, ok := parseString(v); !ok {
		verr.add("hostname", "must be a string")
	} else if host = strings.TrimSpace(host); host == "" {
		verr.add("hostname", "must not be blank")
	} else if strings.ContainsRune(host, 0) {
		verr.add("hostname", "must not contain NUL characters")
	} else if utf8.RuneCountInString(host) > MaxHostnameLength {
		verr.add("hostname", fmt.Sprintf("must be at most %d characters", MaxHostnameLength))
	} else {
		p.hostname = host
	}

	if v, ok := obj["created_at"]; ok && !isNull(v) {
		ts, err := parseTimestamp(v)
		if err != nil {
			verr.add("created_at", err.Error())
		} else {
			p.createdAt, p.hasTime = ts, true
		}
	}

	v, ok := obj["processes"]
	var items []json.RawMessage
	switch {
	case !ok:
		verr.add("processes", "field is required")
	case isNull(v) || json.Unmarshal(v, &items) != nil:
		verr.add("processes", "must be an array")
	default:
		p.processes = make([]store.Process, 0, len(items))
		for i, item := range items {
			if proc, ok := parseProcess(item, fmt.Sprintf("processes[%d]", i), verr); ok {
				p.processes = append(p.processes, proc)
			}
		}
	}

	if !verr.empty() {
		return nil, verr
	}
	return p, nil
}

func parseProcess(raw json.RawMessage, path string, verr *ValidationError) (store.Process, bool) {
	var obj map[string]json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &obj) != nil {
		verr.add(path, "must be an object")
		return store.Process{}, false
	}

	before := len(verr.Fields)
	var proc store.Process

	for _, f := range []struct {
		key string
		dst *int64
	}{
		{"pid", &proc.PID},
		{"ppid", &proc.PPID},
	} {
		v, ok := obj[f.key]
		if !ok {
			verr.add(path+"."+f.key, "field is required")
			continue
		}
		n, ok := parseInt(v)
		if !ok {
			verr.add(path+"."+f.key, "must be an integer")
			continue
		}
		*f.dst = n
	}

	if v, ok := obj["name"]; !ok {
		verr.add(path+".name", "field is required")
	} else if name, ok := parseString(v); !ok {
		verr.add(path+".name", "must be a string")
	} else if name = strings.TrimSpace(name); name == "" {
		verr.add(path+".name", "must not be blank")
	} else if strings.ContainsRune(name, 0) {
		verr.add(path+".name", "must not contain NUL characters")
	} else {
		proc.Name = truncate(name, MaxNameLength)
	}

	for _, f := range []struct {
		key string
		dst **float64
	}{
		{"cpu_percent", &proc.CPUPercent},
		{"memory_percent", &proc.MemoryPercent},
	} {
		v, ok := obj[f.key]
		if !ok || isNull(v) {
			continue
		}
		n, ok := parseFloat(v)
		if !ok {
			verr.add(path+"."+f.key, "must be a number or null")
			continue
		}
		*f.dst = &n
	}

	if v, ok := obj["memory_rss"]; ok && !isNull(v) {
		n, ok := parseInt(v)
		switch {
		case !ok:
			verr.add(path+".memory_rss", "must be an integer or null")
		case n < 0:
			verr.add(path+".memory_rss", "must not be negative")
		default:
			proc.MemoryRSS = &n
		}
	}

	return proc, len(verr.Fields) == before
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s, ok := parseString(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("must be an ISO-8601 timestamp string")
	}
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	for _, layout := range naiveLayouts {
		if err == nil {
			break
		}
		t, err = time.ParseInLocation(layout, s, time.UTC)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("must be an ISO-8601 timestamp, got %q", s)
	}
	if !store.InRange(t) {
		return time.Time{}, fmt.Errorf("must be between %s and %s",
			store.MinCreatedAt.Format(time.RFC3339), store.MaxCreatedAt.Format(time.RFC3339))
	}
	return t.UTC(), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isNumber(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

func parseString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// parseInt accepts JSON integers only; 1.5, 1e3 and "1" are rejected.
func parseInt(raw json.RawMessage) (int64, bool) {
	if !isNumber(raw) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(raw json.RawMessage) (float64, bool) {
	if !isNumber(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// truncate shortens s to at most max characters.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
