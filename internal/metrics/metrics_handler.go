package metrics

import (
	"sync"
	"time"

	"cryptoingest/logger"
)

// Metric is one structured metric event as seen by handlers.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler receives every event passed to EmitMetric.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registration; zero is never issued.
type MetricHandlerID uint64

type handlerRegistry struct {
	mu      sync.RWMutex
	lastID  MetricHandlerID
	entries map[MetricHandlerID]MetricHandler
}

var handlers = &handlerRegistry{entries: map[MetricHandlerID]MetricHandler{}}

func (r *handlerRegistry) add(h MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	r.entries[r.lastID] = h
	return r.lastID
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *handlerRegistry) list() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricHandler, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	return out
}

func (r *handlerRegistry) reset() {
	r.mu.Lock()
	r.entries = map[MetricHandlerID]MetricHandler{}
	r.lastID = 0
	r.mu.Unlock()
}

// RegisterMetricHandler subscribes h to metric events. A nil handler is
// ignored and yields zero.
func RegisterMetricHandler(h MetricHandler) MetricHandlerID {
	if h == nil {
		return 0
	}
	return handlers.add(h)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		handlers.remove(id)
	}
}

// recordMetric writes the debug metric line and fans the event out. Unnamed
// metrics are dropped; an empty type means counter.
func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	event := Metric{
		Timestamp: time.Now().UTC(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copyFields(fields, 0),
	}

	line := copyFields(fields, 3)
	line["metric"], line["metric_type"], line["value"] = name, metricType, value
	log.WithComponent(component).WithFields(line).Debug("metric")

	for _, h := range handlers.list() {
		h(event)
	}
	return event, true
}

func copyFields(src logger.Fields, extra int) logger.Fields {
	out := make(logger.Fields, len(src)+extra)
	for k, v := range src {
		out[k] = v
	}
	return out
}
