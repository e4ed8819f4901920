// Registers:
//
//	#cryptoingest_invocations_total{outcome}
//	#cryptoingest_fetch_attempts_total{result}
//	#cryptoingest_records_uploaded_total
//	#cryptoingest_deadletter_writes_total{result}
//	#go_* and process_* system metrics
//
// EmitMetric additionally fans structured metric events out to registered
// handlers and, when enabled, to CloudWatch.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	once sync.Once

	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoingest_invocations_total",
			Help: "Scheduled invocations by final outcome",
		},
		[]string{"outcome"},
	)

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoingest_fetch_attempts_total",
			Help: "Upstream fetch attempts by result",
		},
		[]string{"result"},
	)

	recordsUploaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptoingest_records_uploaded_total",
			Help: "Market records written to primary storage",
		},
	)

	deadLetterWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptoingest_deadletter_writes_total",
			Help: "Dead-letter write attempts by result",
		},
		[]string{"result"},
	)
)

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		_ = prometheus.Register(invocations)
		_ = prometheus.Register(fetchAttempts)
		_ = prometheus.Register(recordsUploaded)
		_ = prometheus.Register(deadLetterWrites)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// IncrementInvocation counts a finished invocation ("done" or "dead_lettered").
func IncrementInvocation(outcome string) {
	invocations.WithLabelValues(outcome).Inc()
}

// IncrementFetchAttempt counts one upstream attempt.
func IncrementFetchAttempt(result string) {
	fetchAttempts.WithLabelValues(result).Inc()
}

// AddRecordsUploaded counts records stored in the primary container.
func AddRecordsUploaded(n int) {
	if n > 0 {
		recordsUploaded.Add(float64(n))
	}
}

// IncrementDeadLetter counts a dead-letter write ("written" or "failed").
func IncrementDeadLetter(result string) {
	deadLetterWrites.WithLabelValues(result).Inc()
}
