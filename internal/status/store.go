package status

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cryptoingest/internal/ingest"
	"cryptoingest/internal/metrics"
)

// ring keeps the most recent limit items.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = 100
	}
	return &ring[T]{limit: limit}
}

func (r *ring[T]) add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		r.items = append([]T(nil), r.items[len(r.items)-r.limit:]...)
	}
}

func (r *ring[T]) snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

type runRecord struct {
	InvocationID string    `json:"invocation_id"`
	State        string    `json:"state"`
	Stage        string    `json:"stage,omitempty"`
	Path         string    `json:"path,omitempty"`
	RecordCount  int       `json:"record_count"`
	Error        string    `json:"error,omitempty"`
	DeadLetter   string    `json:"deadletter_path,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

func newRunRecord(res ingest.Result) runRecord {
	rec := runRecord{
		InvocationID: res.InvocationID,
		State:        string(res.State),
		Stage:        res.Stage,
		Path:         res.Path,
		RecordCount:  res.RecordCount,
		StartedAt:    res.StartedAt,
		DurationMs:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.DeadLetter != nil && res.DeadLetter.Written {
		rec.DeadLetter = res.DeadLetter.Path
	}
	return rec
}

type metricRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Name      string                 `json:"name"`
	Value     interface{}            `json:"value"`
	Type      string                 `json:"type"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func newMetricRecord(m metrics.Metric) metricRecord {
	return metricRecord{
		Timestamp: m.Timestamp,
		Component: m.Component,
		Name:      m.Name,
		Value:     m.Value,
		Type:      m.Type,
		Fields:    m.Fields,
	}
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logHook captures warning and error entries from the global logger.
type logHook struct {
	logs    *ring[logRecord]
	enabled atomic.Bool
}

func newLogHook(limit int) *logHook {
	h := &logHook{logs: newRing[logRecord](limit)}
	h.enabled.Store(true)
	return h
}

func (h *logHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (h *logHook) Fire(entry *logrus.Entry) error {
	if !h.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}
	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	h.logs.add(record)
	return nil
}

func (h *logHook) close() {
	h.enabled.Store(false)
}
