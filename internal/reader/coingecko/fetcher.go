// Package coingecko reads the coins/markets snapshot from the CoinGecko REST
// API.
package coingecko

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	appconfig "cryptoingest/config"
	"cryptoingest/internal/metrics"
	"cryptoingest/internal/models"
	"cryptoingest/logger"
)

const (
	DefaultURL       = "https://api.coingecko.com/api/v3/coins/markets"
	DefaultUserAgent = "crypto-pipeline-ingest/1.0"

	maxBodyInError = 256
)

// Fetcher performs the paged market request with retry and backoff.
type Fetcher struct {
	client  *resty.Client
	url     string
	limiter *rate.Limiter
	log     *logger.Log

	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// NewFetcher builds a Fetcher from the upstream section of the config.
func NewFetcher(cfg appconfig.UpstreamConfig) *Fetcher {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Fetcher{
		client:  client,
		url:     url,
		limiter: limiter,
		log:     logger.GetLogger(),
		sleep:   sleepContext,
		rnd:     rand.Float64,
	}
}

// WithBackoff replaces the wait between attempts and its jitter source. Nil
// arguments keep the current ones.
func (f *Fetcher) WithBackoff(sleep func(ctx context.Context, d time.Duration) error, rnd func() float64) *Fetcher {
	if sleep != nil {
		f.sleep = sleep
	}
	if rnd != nil {
		f.rnd = rnd
	}
	return f
}

// Backoff is the delay after a failed attempt: 2^attempt seconds plus up to
// one second of jitter drawn from rnd.
func Backoff(attempt int, rnd func() float64) time.Duration {
	base := math.Pow(2, float64(attempt))
	jitter := 0.0
	if rnd != nil {
		jitter = rnd()
	}
	return time.Duration((base + jitter) * float64(time.Second))
}

// Fetch requests one page of markets and decodes it into records. Transient
// failures (429, 5xx, transport errors, malformed bodies) are retried up to
// maxAttempts; any other status fails at once.
func (f *Fetcher) Fetch(ctx context.Context, pageSize, page, maxAttempts int) ([]*models.Record, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := f.log.WithComponent("coingecko_fetcher").WithFields(logger.Fields{
		"page":     page,
		"per_page": pageSize,
	})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		records, err := f.attempt(ctx, pageSize, page)
		if err == nil {
			metrics.IncrementFetchAttempt("success")
			log.WithFields(logger.Fields{"attempt": attempt, "count": len(records)}).Debug("fetched markets")
			return records, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			metrics.IncrementFetchAttempt("permanent")
			log.WithFields(logger.Fields{"attempt": attempt, "status": statusErr.StatusCode}).WithError(err).Warn("non-retryable upstream response")
			return nil, &FetchError{Attempts: attempt, Err: err}
		}
		if ctx.Err() != nil {
			return nil, &FetchError{Attempts: attempt, Err: err}
		}
		if statusErr != nil && statusErr.StatusCode == http.StatusTooManyRequests {
			reportRateLimited(f.log, page, statusErr.RetryAfter)
		}

		metrics.IncrementFetchAttempt("retryable")
		log.WithFields(logger.Fields{"attempt": attempt, "max_attempts": maxAttempts}).WithError(err).Warn("fetch attempt failed")
		if attempt == maxAttempts {
			break
		}

		delay := Backoff(attempt, f.rnd)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, &FetchError{Attempts: attempt, Err: err}
		}
	}
	return nil, &FetchError{Attempts: maxAttempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, pageSize, page int) ([]*models.Record, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"vs_currency":             "usd",
			"order":                   "market_cap_desc",
			"per_page":                strconv.Itoa(pageSize),
			"page":                    strconv.Itoa(page),
			"sparkline":               "false",
			"price_change_percentage": "1h,24h,7d",
		}).
		Get(f.url)
	if err != nil {
		return nil, err
	}

	body := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode(),
			Body:       truncate(string(body)),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
		}
	}

	if err := checkShape(body); err != nil {
		return nil, err
	}
	records, err := models.DecodeRecords(body)
	if err != nil {
		return nil, &ShapeError{Reason: err.Error()}
	}
	return records, nil
}

func checkShape(body []byte) error {
	if !gjson.ValidBytes(body) {
		return &ShapeError{Reason: "invalid JSON"}
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return &ShapeError{Reason: "top-level value is not an array"}
	}
	var bad error
	idx := 0
	parsed.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			bad = &ShapeError{Reason: "array element " + strconv.Itoa(idx) + " is not an object"}
			return false
		}
		idx++
		return true
	})
	return bad
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string) string {
	if len(s) <= maxBodyInError {
		return s
	}
	return s[:maxBodyInError] + "..."
}
