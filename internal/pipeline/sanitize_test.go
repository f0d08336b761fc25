package pipeline

import (
	"strings"
	"testing"
)

func TestSanitize_TruncatesLongStrings(t *testing.T) {
	s := NewSanitizer(10)
	data := map[string]any{
		"short": "ok",
		"long":  strings.Repeat("x", 50),
		"nested": map[string]any{
			"also": strings.Repeat("y", 50),
		},
		"list": []any{strings.Repeat("z", 50), "fine"},
	}

	out, ok := s.Sanitize(data).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", s.Sanitize(data))
	}

	if out["short"] != "ok" {
		t.Errorf("short string changed: %v", out["short"])
	}
	long := out["long"].(string)
	if !strings.HasSuffix(long, truncatedSuffix) || len(long) != 10+len(truncatedSuffix) {
		t.Errorf("long string not truncated: %q", long)
	}
	nested := out["nested"].(map[string]any)["also"].(string)
	if !strings.HasSuffix(nested, truncatedSuffix) {
		t.Errorf("nested string not truncated: %q", nested)
	}
	item := out["list"].([]any)[0].(string)
	if !strings.HasSuffix(item, truncatedSuffix) {
		t.Errorf("array element not truncated: %q", item)
	}
}

func TestSanitize_PassthroughWhenNothingLong(t *testing.T) {
	s := NewSanitizer(100)
	data := map[string]any{"a": "short", "n": 5}

	out := s.Sanitize(data)

	// Payloads with no long strings keep their content; the result is a
	// JSON-decoded copy, not the original value.
	if m, ok := out.(map[string]any); !ok || m["a"] != "short" {
		t.Errorf("unexpected output: %v", out)
	}
}

func TestSanitize_NonMarshalableValue(t *testing.T) {
	s := NewSanitizer(10)
	ch := make(chan int)

	if out := s.Sanitize(ch); out == nil {
		t.Error("unmarshalable values should pass through, not vanish")
	}
}

func TestNewSanitizer_DefaultBound(t *testing.T) {
	if s := NewSanitizer(0); s.MaxStringLen != DefaultMaxStringLen {
		t.Errorf("expected default bound, got %d", s.MaxStringLen)
	}
}
