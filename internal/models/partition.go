package models

import (
	"fmt"
	"time"
)

const (
	// RawPrefix is the top-level folder of primary objects.
	RawPrefix = "coins_markets"
	// DeadLetterPrefix is the top-level folder of dead-letter objects.
	DeadLetterPrefix = "failed_ingest"

	stampLayout     = "2006-01-02T15:04:05Z"
	compactLayout   = "20060102T150405Z"
	deadLetterStamp = "2006-01-02T15:04:05.000000Z"
)

// PartitionKey names the primary object for one page fetched at one instant.
// Two keys built from the same second and page produce the same path.
type PartitionKey struct {
	At   time.Time
	Page int
}

// NewPartitionKey normalises at to UTC with second precision.
func NewPartitionKey(at time.Time, page int) PartitionKey {
	return PartitionKey{At: at.UTC().Truncate(time.Second), Page: page}
}

// Path returns the hive-style object path, e.g.
// coins_markets/year=2024/month=01/day=01/hour=00/coins_markets_p1_20240101T000200Z.jsonl.gz
func (k PartitionKey) Path() string {
	at := k.At.UTC()
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/hour=%02d/%s_p%d_%s.jsonl.gz",
		RawPrefix,
		at.Year(), int(at.Month()), at.Day(), at.Hour(),
		RawPrefix, k.Page, at.Format(compactLayout),
	)
}

// Stamp is the value written into IngestedAtField.
func (k PartitionKey) Stamp() string {
	return k.At.UTC().Format(stampLayout)
}

// DeadLetterPath returns failed_ingest/YYYY/MM/DD/HH/error_<epochSeconds>.json.
func DeadLetterPath(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/error_%d.json",
		DeadLetterPrefix, at.Year(), int(at.Month()), at.Day(), at.Hour(), at.Unix())
}
