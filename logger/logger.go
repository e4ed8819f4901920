package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields type alias for logrus.Fields to maintain compatibility
type Fields map[string]interface{}

// Log wraps logrus.Logger with component-aware helpers.
type Log struct {
	*logrus.Logger
}

// Entry wraps logrus.Entry so chained calls keep returning our type.
type Entry struct {
	*logrus.Entry
}

// Options mirrors the logging section of the configuration file.
type Options struct {
	Level  string
	Format string
	Output string
	// MaxAge enables lumberjack rotation (days) for file outputs.
	MaxAge int
}

var globalLogger *Log

func init() {
	globalLogger = Logger()
}

// Logger builds a JSON logger at the level named by LOG_LEVEL (info by default).
func Logger() *Log {
	l := &Log{Logger: logrus.New()}
	l.SetReportCaller(true)
	l.SetLevel(parseLevelOr(os.Getenv("LOG_LEVEL"), logrus.InfoLevel))
	formatter, _ := newFormatter("json")
	l.SetFormatter(formatter)
	l.AddHook(&callerHook{})
	return l
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *Log {
	l := Logger()
	l.SetOutput(io.Discard)
	return l
}

func GetLogger() *Log {
	return globalLogger
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// Configure applies level, format and output. LOG_LEVEL wins over opts.Level.
func (l *Log) Configure(opts Options) error {
	level := opts.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}

	formatter, err := newFormatter(opts.Format)
	if err != nil {
		return err
	}

	out, err := newOutput(opts.Output, opts.MaxAge)
	if err != nil {
		return err
	}

	l.SetLevel(lvl)
	l.SetReportCaller(true)
	l.SetFormatter(formatter)
	l.SetOutput(out)
	return nil
}

// shortCaller renders the caller as file.go:line with no function name.
func shortCaller(f *runtime.Frame) (string, string) {
	return "", filepath.Base(f.File) + ":" + strconv.Itoa(f.Line)
}

var jsonKeys = logrus.FieldMap{
	logrus.FieldKeyTime:  "timestamp",
	logrus.FieldKeyLevel: "level",
	logrus.FieldKeyMsg:   "message",
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano, FieldMap: jsonKeys, CallerPrettyfier: shortCaller}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339, CallerPrettyfier: shortCaller}, nil
	}
	return nil, fmt.Errorf("invalid log format '%s'", format)
}

func newOutput(output string, maxAge int) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	// Anything else is a file path.
	if maxAge > 0 {
		return &lumberjack.Logger{
			Filename: output,
			MaxAge:   maxAge,
			MaxSize:  100,
			Compress: true,
		}, nil
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", output, err)
	}
	return file, nil
}

func parseLevelOr(level string, fallback logrus.Level) logrus.Level {
	if level == "" {
		return fallback
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fallback
	}
	return lvl
}

// LogPerformanceEntry records how long an operation took.
func LogPerformanceEntry(entry *Entry, component string, operation string, duration time.Duration, fields Fields) {
	merged := Fields{}
	for k, v := range fields {
		merged[k] = v
	}
	merged["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	merged["operation"] = operation

	entry.WithFields(merged).WithComponent(component).Debug("performance metric")
}

// LogDataFlowEntry records records moving from source to destination.
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Info("data flow metric")
}
