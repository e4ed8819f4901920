package writer

import (
	"bufio"
	"bytes"
	stdgzip "compress/gzip"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "cryptoingest/config"
	"cryptoingest/internal/models"
	"cryptoingest/internal/storage"
	"cryptoingest/logger"
)

func gunzipLines(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := stdgzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.True(t, len(raw) == 0 || raw[len(raw)-1] == '\n', "output must end with a newline")

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestPackageNDJSONRoundTrip(t *testing.T) {
	records, err := models.DecodeRecords([]byte(`[
		{"id":"bitcoin","name":"Bitcoin","current_price":67000.120,"tags":["a&b","<c>"],"roi":null},
		{"id":"tether","name":"Tether ₮","current_price":1,"_ingested_at_utc":"stale","extra":{"x":1}}
	]`))
	require.NoError(t, err)

	out, err := PackageNDJSON(records, "2024-03-01T12:05:07Z")
	require.NoError(t, err)

	lines := gunzipLines(t, out)
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":"bitcoin","name":"Bitcoin","current_price":67000.120,"tags":["a&b","<c>"],"roi":null,"_ingested_at_utc":"2024-03-01T12:05:07Z"}`, lines[0])
	assert.Equal(t, `{"id":"tether","name":"Tether ₮","current_price":1,"_ingested_at_utc":"2024-03-01T12:05:07Z","extra":{"x":1}}`, lines[1])

	decoded, err := models.DecodeRecords([]byte("[" + lines[0] + "," + lines[1] + "]"))
	require.NoError(t, err)
	for i, rec := range decoded {
		assert.Equal(t, records[i].Len()+boolToInt(i == 0), rec.Len())
		for _, key := range records[i].Keys() {
			if key == models.IngestedAtField {
				continue
			}
			want, _ := records[i].Get(key)
			got, ok := rec.Get(key)
			require.True(t, ok, key)
			wantJSON, _ := want.MarshalJSON()
			gotJSON, _ := got.MarshalJSON()
			assert.Equal(t, string(wantJSON), string(gotJSON))
		}
	}

	_, stale := records[1].Get(models.IngestedAtField)
	assert.True(t, stale)
	v, _ := records[1].Get(models.IngestedAtField)
	s, _ := v.Str()
	assert.Equal(t, "stale", s, "input records must not be modified")
	_, present := records[0].Get(models.IngestedAtField)
	assert.False(t, present)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestPackageNDJSONEmptyBatch(t *testing.T) {
	out, err := PackageNDJSON(nil, "2024-03-01T12:05:07Z")
	require.NoError(t, err)
	assert.Empty(t, gunzipLines(t, out))
}

func TestPackageNDJSONNilRecord(t *testing.T) {
	_, err := PackageNDJSON([]*models.Record{nil}, "2024-03-01T12:05:07Z")
	assert.Error(t, err)
}

type failingStore struct {
	err   error
	panic bool
}

func (f failingStore) Backend() string { return "failing" }

func (f failingStore) Put(context.Context, storage.Object) error {
	if f.panic {
		panic("store exploded")
	}
	return f.err
}

func TestRawWriterUpload(t *testing.T) {
	mem := storage.NewMemoryStore()
	w := NewRawWriter(storage.Static(mem), "1.0")
	w.log = logger.Discard()

	require.NoError(t, w.Upload(context.Background(), "raw", "coins_markets/a.jsonl.gz", []byte("one")))
	require.NoError(t, w.Upload(context.Background(), "raw", "coins_markets/a.jsonl.gz", []byte("two")))

	obj, ok := mem.Get("raw", "coins_markets/a.jsonl.gz")
	require.True(t, ok)
	assert.Equal(t, "two", string(obj.Body))
	assert.Equal(t, "application/x-ndjson", obj.ContentType)
	assert.Equal(t, "gzip", obj.ContentEncoding)
	assert.Equal(t, "1.0", obj.Metadata["ingest-version"])
	assert.Len(t, mem.Keys("raw"), 1)
}

func TestRawWriterUploadError(t *testing.T) {
	w := NewRawWriter(storage.Static(failingStore{err: errors.New("503 from storage")}), "1.0")
	w.log = logger.Discard()

	err := w.Upload(context.Background(), "raw", "p", []byte("x"))
	var upErr *UploadError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, "raw", upErr.Container)
	assert.Equal(t, "p", upErr.Path)
}

func TestRawWriterConfigFaultPassesThrough(t *testing.T) {
	w := NewRawWriter(storage.NewOpener(appconfig.StorageConfig{Backend: appconfig.BackendS3}), "1.0")
	w.log = logger.Discard()

	err := w.Upload(context.Background(), "raw", "p", []byte("x"))
	var cfgErr *storage.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, storage.ErrMissingCredential)
	var upErr *UploadError
	assert.False(t, errors.As(err, &upErr))
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 5, 7, 123456789, time.UTC)
}

func TestDeadLetterWriterRecord(t *testing.T) {
	mem := storage.NewMemoryStore()
	w := NewDeadLetterWriter(storage.Static(mem), "deadletter")
	w.log = logger.Discard()
	w.now = fixedClock

	out := w.Record(context.Background(), "upstream <503> & friends", models.FetchFailure(1))
	require.True(t, out.Written)
	require.NoError(t, out.Err)

	wantPath := "failed_ingest/2024/03/01/12/error_1709294707.json"
	assert.Equal(t, wantPath, out.Path)

	obj, ok := mem.Get("deadletter", wantPath)
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Empty(t, obj.ContentEncoding)
	assert.Equal(t,
		`{"error":"upstream <503> & friends","context":{"page":1,"stage":"fetch"},"timestamp_utc":"2024-03-01T12:05:07.123456Z"}`,
		string(obj.Body))
}

func TestDeadLetterWriterFailureIsSwallowed(t *testing.T) {
	w := NewDeadLetterWriter(storage.Static(failingStore{err: errors.New("disk full")}), "deadletter")
	w.log = logger.Discard()
	w.now = fixedClock

	out := w.Record(context.Background(), "boom", models.UploadFailure("raw/p", 3))
	assert.False(t, out.Written)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "disk full")
}

func TestDeadLetterWriterMissingCredential(t *testing.T) {
	w := NewDeadLetterWriter(storage.NewOpener(appconfig.StorageConfig{Backend: appconfig.BackendAzure}), "deadletter")
	w.log = logger.Discard()

	out := w.Record(context.Background(), "boom", models.FetchFailure(1))
	assert.False(t, out.Written)
	assert.ErrorIs(t, out.Err, storage.ErrMissingCredential)
}

func TestDeadLetterWriterRecoversPanics(t *testing.T) {
	w := NewDeadLetterWriter(storage.Static(failingStore{panic: true}), "deadletter")
	w.log = logger.Discard()
	w.now = fixedClock

	var out Outcome
	require.NotPanics(t, func() {
		out = w.Record(context.Background(), "boom", models.FetchFailure(1))
	})
	assert.False(t, out.Written)
	assert.Contains(t, out.Err.Error(), "store exploded")
	assert.Equal(t, "failed_ingest/2024/03/01/12/error_1709294707.json", out.Path)
}
