package writer

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"cryptoingest/internal/models"
)

// PackageNDJSON stamps every record with ingestedAt and returns the batch as
// gzip-compressed newline-delimited JSON. The input records are not modified.
func PackageNDJSON(records []*models.Record, ingestedAt string) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	stamp := models.String(ingestedAt)
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("record %d is nil", i)
		}
		row := rec.Clone()
		row.Set(models.IngestedAtField, stamp)

		line, err := row.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
		if _, err := zw.Write(line); err != nil {
			return nil, fmt.Errorf("compress record %d: %w", i, err)
		}
		if _, err := zw.Write([]byte{'\n'}); err != nil {
			return nil, fmt.Errorf("compress record %d: %w", i, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
