package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperPackages are skipped when resolving the caller so that entries
// point at the code that asked for the log line rather than a helper.
var wrapperPackages = []string{
	"github.com/sirupsen/logrus.",
	"cryptoingest/logger.",
	"cryptoingest/internal/metrics.recordMetric",
	"cryptoingest/internal/metrics.EmitMetric",
}

// callerHook rewrites entry.Caller to the first frame outside wrapperPackages.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := externalCaller(4); ok {
		entry.Caller = &frame
	}
	return nil
}

func externalCaller(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && (!isWrapper(frame.Function) || strings.HasSuffix(frame.File, "_test.go")) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isWrapper(fn string) bool {
	for _, prefix := range wrapperPackages {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}
