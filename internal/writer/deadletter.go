package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptoingest/internal/metrics"
	"cryptoingest/internal/models"
	"cryptoingest/internal/storage"
	"cryptoingest/logger"
)

const jsonContentType = "application/json"

// Outcome describes a dead-letter attempt. Err is set only when nothing was
// written.
type Outcome struct {
	Written bool
	Path    string
	Err     error
}

// DeadLetterWriter records failed invocations in the dead-letter container.
// It never reports failure through an error return and never panics.
type DeadLetterWriter struct {
	opener    storage.Opener
	container string
	now       func() time.Time
	log       *logger.Log
}

func NewDeadLetterWriter(opener storage.Opener, container string) *DeadLetterWriter {
	return &DeadLetterWriter{
		opener:    opener,
		container: container,
		now:       time.Now,
		log:       logger.GetLogger(),
	}
}

// Record writes {"error","context","timestamp_utc"} to
// failed_ingest/YYYY/MM/DD/HH/error_<epoch>.json.
func (w *DeadLetterWriter) Record(ctx context.Context, message string, failure models.FailureContext) (out Outcome) {
	log := w.log.WithComponent("deadletter_writer").WithFields(logger.Fields{
		"stage":     failure.Stage(),
		"container": w.container,
	})

	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Path: out.Path, Err: fmt.Errorf("dead-letter panic: %v", r)}
		}
		if out.Written {
			metrics.IncrementDeadLetter("written")
			return
		}
		metrics.IncrementDeadLetter("failed")
		log.WithError(out.Err).WithFields(logger.Fields{"path": out.Path}).Error("failed to write dead-letter record")
	}()

	at := w.now().UTC()
	out.Path = models.DeadLetterPath(at)

	body, err := encodeDeadLetter(models.NewDeadLetterRecord(message, failure, at))
	if err != nil {
		out.Err = err
		return out
	}

	store, err := w.opener.Open(ctx)
	if err != nil {
		out.Err = err
		return out
	}

	err = store.Put(ctx, storage.Object{
		Container:   w.container,
		Key:         out.Path,
		Body:        body,
		ContentType: jsonContentType,
	})
	if err != nil {
		out.Err = fmt.Errorf("write dead-letter %s/%s: %w", w.container, out.Path, err)
		return out
	}

	out.Written = true
	log.WithFields(logger.Fields{"path": out.Path}).Info("wrote dead-letter record")
	return out
}

func encodeDeadLetter(rec models.DeadLetterRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode dead-letter record: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
