package models

import "time"

// Pipeline stages that can be dead-lettered.
const (
	StageFetch   = "fetch"
	StagePackage = "package"
	StageUpload  = "upload"
)

// FailureContext describes where a failure happened: always a "stage" key
// plus the parameters relevant to that stage.
type FailureContext map[string]any

// Stage returns the stage name or an empty string.
func (c FailureContext) Stage() string {
	s, _ := c["stage"].(string)
	return s
}

// FetchFailure is the context for a failed upstream fetch.
func FetchFailure(page int) FailureContext {
	return FailureContext{"stage": StageFetch, "page": page}
}

// PackageFailure is the context for a batch that could not be serialised.
func PackageFailure(blobName string, count int) FailureContext {
	return FailureContext{"stage": StagePackage, "blob_name": blobName, "count": count}
}

// UploadFailure is the context for a batch that could not be stored.
func UploadFailure(blobName string, count int) FailureContext {
	return FailureContext{"stage": StageUpload, "blob_name": blobName, "count": count}
}

// DeadLetterRecord is the JSON document written for every handled failure.
type DeadLetterRecord struct {
	Error        string         `json:"error"`
	Context      FailureContext `json:"context"`
	TimestampUTC string         `json:"timestamp_utc"`
}

// NewDeadLetterRecord stamps a failure with at in UTC, microsecond precision.
func NewDeadLetterRecord(msg string, ctx FailureContext, at time.Time) DeadLetterRecord {
	if ctx == nil {
		ctx = FailureContext{}
	}
	return DeadLetterRecord{
		Error:        msg,
		Context:      ctx,
		TimestampUTC: at.UTC().Format(deadLetterStamp),
	}
}
