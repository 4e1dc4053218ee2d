// Package logger is the leveled logger shared by every chunkbatch package.
// Messages go through the standard library logger with a "[LEVEL] " prefix and are
// dropped when they are below the process-wide level.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel orders log severities; smaller values are more verbose.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level '%s'", level)
}

// SetLogLevel sets the process-wide level. Unknown names fall back to INFO with a warning.
func SetLogLevel(level string) {
	parsed, err := ParseLevel(level)
	if err != nil {
		log.Printf("[WARN] %v, defaulting to INFO", err)
	}
	current.Store(int32(parsed))
}

// Level returns the current process-wide level.
func Level() LogLevel {
	return LogLevel(current.Load())
}

// SetOutput redirects all log output, mainly so tests can capture it.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(l LogLevel) bool {
	return LogLevel(current.Load()) <= l
}

func output(l LogLevel, format string, v ...interface{}) {
	if !enabled(l) {
		return
	}
	_ = log.Output(3, "["+l.String()+"] "+fmt.Sprintf(format, v...))
}

// Debugf logs at DEBUG level.
func Debugf(format string, v ...interface{}) { output(LevelDebug, format, v...) }

// Infof logs at INFO level.
func Infof(format string, v ...interface{}) { output(LevelInfo, format, v...) }

// Warnf logs at WARN level.
func Warnf(format string, v ...interface{}) { output(LevelWarn, format, v...) }

// Errorf logs at ERROR level.
func Errorf(format string, v ...interface{}) { output(LevelError, format, v...) }

// Fatalf logs at FATAL level and exits the process.
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
