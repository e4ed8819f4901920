package writer

import (
	"context"
	"errors"
	"fmt"

	"cryptoingest/internal/storage"
	"cryptoingest/logger"
)

const (
	ndjsonContentType = "application/x-ndjson"
	gzipEncoding      = "gzip"
)

// UploadError wraps a storage failure while writing a raw batch.
type UploadError struct {
	Container string
	Path      string
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s/%s: %v", e.Container, e.Path, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RawWriter puts packaged batches into the primary container.
type RawWriter struct {
	opener  storage.Opener
	version string
	log     *logger.Log
}

func NewRawWriter(opener storage.Opener, version string) *RawWriter {
	return &RawWriter{
		opener:  opener,
		version: version,
		log:     logger.GetLogger(),
	}
}

// Upload writes body to container/path, replacing any existing object.
// Storage configuration faults are returned as-is; any other storage error
// comes back as *UploadError.
func (w *RawWriter) Upload(ctx context.Context, container, path string, body []byte) error {
	store, err := w.opener.Open(ctx)
	if err != nil {
		var cfgErr *storage.ConfigError
		if errors.As(err, &cfgErr) {
			return err
		}
		return &UploadError{Container: container, Path: path, Err: err}
	}

	obj := storage.Object{
		Container:       container,
		Key:             path,
		Body:            body,
		ContentType:     ndjsonContentType,
		ContentEncoding: gzipEncoding,
		Metadata:        map[string]string{"ingest-version": w.version},
	}
	if err := store.Put(ctx, obj); err != nil {
		return &UploadError{Container: container, Path: path, Err: err}
	}

	w.log.WithComponent("raw_writer").WithFields(logger.Fields{
		"backend":   store.Backend(),
		"container": container,
		"path":      path,
		"bytes":     len(body),
	}).Debug("uploaded raw batch")
	return nil
}
