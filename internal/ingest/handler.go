// Package ingest runs one scheduled snapshot: fetch, package, upload, and
// dead-letter on failure.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appconfig "cryptoingest/config"
	"cryptoingest/internal/metrics"
	"cryptoingest/internal/models"
	"cryptoingest/internal/writer"
	"cryptoingest/logger"
)

// State is the position of an invocation in the pipeline.
type State string

const (
	StateIdle         State = "idle"
	StateFetching     State = "fetching"
	StatePackaging    State = "packaging"
	StateUploading    State = "uploading"
	StateDone         State = "done"
	StateDeadLettered State = "dead_lettered"
)

// deadLetterTimeout bounds the dead-letter write once the run context is gone.
const deadLetterTimeout = 30 * time.Second

type Fetcher interface {
	Fetch(ctx context.Context, pageSize, page, maxAttempts int) ([]*models.Record, error)
}

type Uploader interface {
	Upload(ctx context.Context, container, path string, body []byte) error
}

type DeadLetterRecorder interface {
	Record(ctx context.Context, message string, failure models.FailureContext) writer.Outcome
}

// Settings are the per-invocation parameters.
type Settings struct {
	PageSize     int
	Page         int
	MaxAttempts  int
	RawContainer string
}

// SettingsFromConfig picks the handler settings out of the loaded config.
func SettingsFromConfig(cfg *appconfig.Config) Settings {
	return Settings{
		PageSize:     cfg.Upstream.PageSize,
		Page:         cfg.Upstream.Page,
		MaxAttempts:  cfg.Upstream.MaxAttempts,
		RawContainer: cfg.Storage.RawContainer,
	}
}

// Result summarises a finished invocation. Stage is set only when the
// invocation was dead-lettered.
type Result struct {
	InvocationID string
	State        State
	Stage        string
	Path         string
	RecordCount  int
	Err          error
	DeadLetter   *writer.Outcome
	StartedAt    time.Time
	Duration     time.Duration
}

// Handler owns one pipeline wiring and may be invoked repeatedly.
type Handler struct {
	settings   Settings
	fetcher    Fetcher
	uploader   Uploader
	deadLetter DeadLetterRecorder
	pack       func([]*models.Record, string) ([]byte, error)
	now        func() time.Time
	log        *logger.Log
}

func NewHandler(settings Settings, fetcher Fetcher, uploader Uploader, deadLetter DeadLetterRecorder) *Handler {
	return &Handler{
		settings:   settings,
		fetcher:    fetcher,
		uploader:   uploader,
		deadLetter: deadLetter,
		pack:       writer.PackageNDJSON,
		now:        time.Now,
		log:        logger.GetLogger(),
	}
}

// Run executes one invocation. Handled failures end in StateDeadLettered and
// are reported through the Result, never as a panic or error.
func (h *Handler) Run(ctx context.Context) (res Result) {
	started := h.now()
	at := started.UTC().Truncate(time.Second)
	key := models.NewPartitionKey(at, h.settings.Page)

	res = Result{
		InvocationID: uuid.NewString(),
		State:        StateIdle,
		StartedAt:    at,
	}
	log := h.log.WithComponent("ingest").WithFields(logger.Fields{
		"invocation_id": res.InvocationID,
		"page":          h.settings.Page,
	})
	log.Info("ingest triggered")

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during %s: %v", res.State, r)
			log.WithError(err).Error("ingest panicked")
			// The batch is already stored; nothing to dead-letter.
			if res.State != StateDone {
				h.divert(ctx, &res, err, h.failureFor(res))
			}
		}
		res.Duration = h.now().Sub(started)
		metrics.IncrementInvocation(string(res.State))
	}()

	res.State = StateFetching
	records, err := h.fetcher.Fetch(ctx, h.settings.PageSize, h.settings.Page, h.settings.MaxAttempts)
	if err != nil {
		log.WithError(err).Error("failed to fetch data")
		h.divert(ctx, &res, err, models.FetchFailure(h.settings.Page))
		return res
	}
	res.RecordCount = len(records)
	res.Path = key.Path()

	res.State = StatePackaging
	body, err := h.pack(records, key.Stamp())
	if err != nil {
		log.WithError(err).Error("failed to package batch")
		h.divert(ctx, &res, err, models.PackageFailure(res.Path, res.RecordCount))
		return res
	}

	res.State = StateUploading
	if err := h.uploader.Upload(ctx, h.settings.RawContainer, res.Path, body); err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": res.Path}).Error("upload failed")
		h.divert(ctx, &res, err, models.UploadFailure(res.Path, res.RecordCount))
		return res
	}

	res.State = StateDone
	metrics.AddRecordsUploaded(res.RecordCount)
	metrics.EmitMetric(h.log, "ingest", "records_uploaded", res.RecordCount, "counter", logger.Fields{
		"unit":      "count",
		"container": h.settings.RawContainer,
	})
	log.WithFields(logger.Fields{
		"count":       res.RecordCount,
		"destination": h.settings.RawContainer + "/" + res.Path,
	}).Info("uploaded records")
	logger.LogDataFlowEntry(log, "coingecko", h.settings.RawContainer, res.RecordCount, "coins_markets")
	logger.LogPerformanceEntry(log, "ingest", "run", h.now().Sub(started), logger.Fields{
		"bytes": len(body),
	})
	return res
}

// failureFor builds the dead-letter context for the stage res is in.
func (h *Handler) failureFor(res Result) models.FailureContext {
	switch res.State {
	case StatePackaging:
		return models.PackageFailure(res.Path, res.RecordCount)
	case StateUploading:
		return models.UploadFailure(res.Path, res.RecordCount)
	default:
		return models.FetchFailure(h.settings.Page)
	}
}

func (h *Handler) divert(ctx context.Context, res *Result, cause error, failure models.FailureContext) {
	res.State = StateDeadLettered
	res.Stage = failure.Stage()
	res.Err = cause

	// Shutdown must not cost the failure record.
	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	out := h.deadLetter.Record(dlCtx, cause.Error(), failure)
	res.DeadLetter = &out
	metrics.EmitMetric(h.log, "ingest", "dead_lettered", 1, "counter", logger.Fields{
		"unit":  "count",
		"stage": res.Stage,
	})
}
