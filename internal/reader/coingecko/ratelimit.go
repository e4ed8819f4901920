package coingecko

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"cryptoingest/internal/metrics"
	"cryptoingest/logger"
)

// reportRateLimited emits the rate_limit_exceeded metric and a warning with
// the upstream's Retry-After hint, if any.
func reportRateLimited(log *logger.Log, page int, retryAfter time.Duration) {
	fields := logger.Fields{
		"source": "coingecko",
		"page":   strconv.Itoa(page),
	}
	metrics.EmitMetric(log, "coingecko_fetcher", "rate_limit_exceeded", int64(1), "counter", fields)

	entry := log.WithComponent("coingecko_fetcher").WithFields(fields)
	if retryAfter > 0 {
		entry = entry.WithField("retry_after", retryAfter.String())
	}
	entry.Warn("rate limit exceeded")
}

// parseRetryAfter accepts either delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
