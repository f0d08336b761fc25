package pipeline

import (
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultMaxStringLen bounds individual string fields in success payloads.
// Probe results are small; the guard exists for upstream fields of
// unbounded size (ISP names, catalog regions) reaching the controller.
const DefaultMaxStringLen = 2000

const truncatedSuffix = "... [TRUNCATED]"

// Sanitizer truncates oversized string fields in result payloads before
// they are serialized into the envelope.
type Sanitizer struct {
	MaxStringLen int
}

// NewSanitizer builds a sanitizer with the given per-string bound.
func NewSanitizer(maxStringLen int) *Sanitizer {
	if maxStringLen <= 0 {
		maxStringLen = DefaultMaxStringLen
	}
	return &Sanitizer{MaxStringLen: maxStringLen}
}

// Sanitize normalizes data to plain JSON values and truncates every string
// longer than the bound. The value is passed through unchanged when it
// cannot round-trip JSON.
func (s *Sanitizer) Sanitize(data any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}

	out := string(raw)
	walk(gjson.ParseBytes(raw), "", func(path string, val gjson.Result) {
		if len(val.String()) <= s.MaxStringLen {
			return
		}
		slog.Debug("truncating long result string", "path", path, "len", len(val.String()), "limit", s.MaxStringLen)
		out, _ = sjson.Set(out, path, val.String()[:s.MaxStringLen]+truncatedSuffix)
	})

	var sanitized any
	if err := json.Unmarshal([]byte(out), &sanitized); err != nil {
		return data
	}
	return sanitized
}

// walk visits every string leaf with its sjson-style path.
func walk(val gjson.Result, prefix string, visit func(path string, val gjson.Result)) {
	switch {
	case val.IsObject() || val.IsArray():
		val.ForEach(func(key, child gjson.Result) bool {
			path := key.String()
			if prefix != "" {
				path = prefix + "." + path
			}
			walk(child, path, visit)
			return true
		})
	case val.Type == gjson.String:
		if prefix != "" {
			visit(prefix, val)
		}
	}
}
