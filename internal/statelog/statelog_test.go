package statelog_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/statetrans/internal/statelog"
)

func TestInfofFormat(t *testing.T) {
	var buf bytes.Buffer
	l := statelog.New(&buf)
	l.Infof("anomaly score=%.2f", 0.97)

	line := buf.String()
	if !strings.Contains(line, "[INFO]: anomaly score=0.97") {
		t.Fatalf("log line = %q, want it to contain %q", line, "[INFO]: anomaly score=0.97")
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("log line = %q, want a trailing newline (newline-delimited per spec.md §6)", line)
	}
}

func TestWarnAndErrorLevels(t *testing.T) {
	var buf bytes.Buffer
	l := statelog.New(&buf)
	l.Warnf("unknown opcode %q", 'Z')
	l.Errorf("uplink handshake failed")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "[WARN]:") {
		t.Errorf("line 0 = %q, want it to contain [WARN]:", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR]:") {
		t.Errorf("line 1 = %q, want it to contain [ERROR]:", lines[1])
	}
}

func TestTimestampFormat(t *testing.T) {
	var buf bytes.Buffer
	l := statelog.New(&buf)
	// Confirm the leading timestamp parses back with the documented layout.
	l.Infof("x")
	line := buf.String()
	tsField := line[:len("2006-01-02 15:04:05")]
	if _, err := time.Parse("2006-01-02 15:04:05", tsField); err != nil {
		t.Fatalf("leading timestamp %q does not parse as YYYY-MM-DD HH:MM:SS: %v", tsField, err)
	}
}
