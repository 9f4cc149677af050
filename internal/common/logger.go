package common

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Logger is a small leveled logger writing to a configured file, with
// errors always duplicated to stderr so a broken cache never goes silent.
type Logger struct {
	impl      *log.Logger
	fileName  string
	verbosity int
}

// MakeLogger opens logFile (or falls back to stderr when empty) and
// returns a ready Logger. verbosity gates Info calls; Error is unconditional.
func MakeLogger(logFile string, verbosity int) (*Logger, error) {
	var impl *log.Logger

	if logFile != "" && logFile != "stderr" {
		out, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, err
		}
		impl = log.New(out, "", 0)
	} else {
		impl = log.New(os.Stderr, "", 0)
	}

	return &Logger{impl: impl, fileName: logFile, verbosity: verbosity}, nil
}

func formatLine(prefix string, v ...interface{}) string {
	return fmt.Sprintf("%s [cache-tool] %s %s", time.Now().Format("2006-01-02 15:04:05"), prefix, fmt.Sprintln(v...))
}

// Info logs v if verbosity is high enough for this call site.
func (l *Logger) Info(level int, v ...interface{}) {
	if l.verbosity >= level {
		_ = l.impl.Output(0, formatLine("INFO", v...))
	}
}

// Error always logs v, and duplicates to stderr when logging to a file.
func (l *Logger) Error(v ...interface{}) {
	line := formatLine("ERROR", v...)
	_ = l.impl.Output(0, line)
	if l.fileName != "" && l.fileName != "stderr" {
		_, _ = fmt.Fprint(os.Stderr, line)
	}
}

// GetFileName returns the configured log file, empty for stderr-only.
func (l *Logger) GetFileName() string {
	return l.fileName
}
