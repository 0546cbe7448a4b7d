// Package statelog writes the human-readable, append-only statetrans.log
// persisted state spec.md §6 describes: newline-delimited lines of the form
// `YYYY-MM-DD HH:MM:SS [LEVEL]: message`. It wraps the standard log package
// the way _examples/m-lab-etl/cmd/etl_worker/etl_worker.go configures one
// (log.New with a custom flag set), rather than introducing a third-party
// structured-logging library the pack never reaches for at this layer —
// m-lab/go/logx (used elsewhere in this module for sampled diagnostic
// logging, see engine/engine.go) is for rate-limited stderr chatter, not
// for a durable audit trail with a fixed on-disk format.
package statelog

import (
	"fmt"
	"io"
	"log"
	"time"
)

// Level tags a log line's severity, per spec.md §7's error taxonomy
// (malformed input: no log; protocol mismatch: WARN/ERROR; fatal: process
// terminates after an ERROR line if one was emitted first).
type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger appends timestamped, leveled lines to an underlying writer.
type Logger struct {
	out io.Writer
	now func() time.Time
}

// New wraps w (typically an append-mode *os.File opened on statetrans.log)
// as a Logger. now defaults to time.Now; tests may override it.
func New(w io.Writer) *Logger {
	return &Logger{out: w, now: time.Now}
}

func (l *Logger) format(level Level, msg string) string {
	ts := l.now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s [%s]: %s\n", ts, level, msg)
}

func (l *Logger) write(level Level, msg string) {
	if _, err := io.WriteString(l.out, l.format(level, msg)); err != nil {
		log.Printf("statelog: write failed: %v", err)
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.write(Info, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write(Warn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write(Error, fmt.Sprintf(format, args...))
}
