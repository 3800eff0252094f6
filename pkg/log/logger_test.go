package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)
	l.Debugf("hidden")
	l.Infof("hidden too")
	l.Warnf("visible")
	l.Errorf("also visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("low-level messages leaked: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "also visible") {
		t.Errorf("expected messages missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).Component("dma").Component("emitter")
	l.Infof("chain appended")
	if !strings.Contains(buf.String(), "[dma.emitter]") {
		t.Errorf("missing component prefix: %q", buf.String())
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO)
	l.SetFormat(FormatJSON)
	l.WithFields(Fields{"axis": 2, "steps": 118}).Infof("planner done")

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if rec["msg"] != "planner done" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["level"] != "INFO" {
		t.Errorf("level = %v", rec["level"])
	}
	if rec["axis"] != float64(2) {
		t.Errorf("axis field = %v", rec["axis"])
	}
}

func TestFieldsOrdering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).WithFields(Fields{"b": 1, "a": 2})
	l.Infof("msg")
	out := buf.String()
	if strings.Index(out, "a=2") > strings.Index(out, "b=1") {
		t.Errorf("fields not sorted: %q", out)
	}
}
