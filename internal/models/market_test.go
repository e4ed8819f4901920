package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeRecordsPreservesOrderAndNumbers(t *testing.T) {
	body := []byte(`[{"id":"bitcoin","current_price":43251.123456789012345,"roi":null,"tags":["a",1,true],"name":"Bitcoin <BTC> & café"},{"id":"ethereum","market_cap_rank":2}]`)

	records, err := DecodeRecords(body)
	if err != nil {
		t.Fatalf("DecodeRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	keys := records[0].Keys()
	want := []string{"id", "current_price", "roi", "tags", "name"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d = %q, want %q", i, keys[i], want[i])
		}
	}

	out, err := records[0].MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	expected := `{"id":"bitcoin","current_price":43251.123456789012345,"roi":null,"tags":["a",1,true],"name":"Bitcoin <BTC> & café"}`
	if string(out) != expected {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", out, expected)
	}
}

func TestRecordKeepsLineSeparatorsLiteral(t *testing.T) {
	rec := NewRecord()
	rec.Set("desc\u2028", String("a\u2028b\u2029c \"q\" \\u2028 \n"))

	out, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	expected := "{\"desc\u2028\":\"a\u2028b\u2029c \\\"q\\\" \\\\u2028 \\n\"}"
	if string(out) != expected {
		t.Fatalf("encoded = %s, want %s", out, expected)
	}

	var back map[string]string
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["desc\u2028"] != "a\u2028b\u2029c \"q\" \\u2028 \n" {
		t.Fatalf("unexpected value %q", back["desc\u2028"])
	}
}

func TestDecodeRecordsRejectsWrongShape(t *testing.T) {
	cases := map[string]string{
		"object":        `{"id":"bitcoin"}`,
		"scalar items":  `[1,2]`,
		"mixed items":   `[{"id":"bitcoin"},"x"]`,
		"trailing data": `[] []`,
		"invalid":       `[{"id":}]`,
	}
	for name, body := range cases {
		if _, err := DecodeRecords([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRecordSetReplacesInPlace(t *testing.T) {
	rec := NewRecord()
	rec.Set("a", Int(1))
	rec.Set("b", String("x"))
	rec.Set("a", Int(2))

	if rec.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", rec.Len())
	}
	out, _ := json.Marshal(rec)
	if string(out) != `{"a":2,"b":"x"}` {
		t.Fatalf("unexpected encoding: %s", out)
	}
}

func TestRecordCloneIsShallow(t *testing.T) {
	nested := NewRecord()
	nested.Set("usd", Float(1.5))
	rec := NewRecord()
	rec.Set("price", Object(nested))

	clone := rec.Clone()
	clone.Set(IngestedAtField, String("2024-01-01T00:00:00Z"))

	if _, ok := rec.Get(IngestedAtField); ok {
		t.Fatal("clone mutated the original record")
	}
	v, _ := clone.Get("price")
	if v.Record() != nested {
		t.Fatal("nested object should be shared by a shallow copy")
	}
}

func TestPartitionKeyPath(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 2, 0, 987654321, time.UTC)
	key := NewPartitionKey(at, 1)

	want := "coins_markets/year=2024/month=01/day=01/hour=00/coins_markets_p1_20240101T000200Z.jsonl.gz"
	if got := key.Path(); got != want {
		t.Fatalf("Path() = %s, want %s", got, want)
	}
	if got := key.Stamp(); got != "2024-01-01T00:02:00Z" {
		t.Fatalf("Stamp() = %s", got)
	}
}

func TestPartitionKeyNormalisesZone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2024, 3, 10, 4, 30, 15, 0, loc)
	key := NewPartitionKey(local, 3)

	want := "coins_markets/year=2024/month=03/day=09/hour=23/coins_markets_p3_20240309T233015Z.jsonl.gz"
	if got := key.Path(); got != want {
		t.Fatalf("Path() = %s, want %s", got, want)
	}
	if NewPartitionKey(local, 3) != key {
		t.Fatal("partition key must be deterministic")
	}
}

func TestDeadLetterPathAndRecord(t *testing.T) {
	at := time.Date(2024, 1, 1, 7, 5, 9, 123456000, time.UTC)

	if got := DeadLetterPath(at); got != "failed_ingest/2024/01/01/07/error_1704092709.json" {
		t.Fatalf("DeadLetterPath() = %s", got)
	}

	rec := NewDeadLetterRecord("boom", FetchFailure(1), at)
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"error":"boom","context":{"page":1,"stage":"fetch"},"timestamp_utc":"2024-01-01T07:05:09.123456Z"}`
	if string(data) != want {
		t.Fatalf("unexpected dead-letter json:\n got %s\nwant %s", data, want)
	}
}
