package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestRawDocTimestampFromTicks(t *testing.T) {
	d := rawDoc{"timestamp_us": int64(1722000000123456)}
	got := d.timestamp()
	assert.Equal(t, time.UnixMicro(1722000000123456).UTC(), got)
}

func TestRawDocTimestampFromBars(t *testing.T) {
	d := rawDoc{"start_time": int64(1722000000000000)}
	got := d.timestamp()
	assert.Equal(t, time.UnixMicro(1722000000000000).UTC(), got)
}

func TestGroupByDaySplitsOnCalendarDay(t *testing.T) {
	d0 := rawDoc{"timestamp_us": time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC).UnixMicro()}
	d1 := rawDoc{"timestamp_us": time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC).UnixMicro()}
	d2 := rawDoc{"timestamp_us": time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC).UnixMicro()}

	batches := groupByDay([]rawDoc{d0, d1, d2})
	assert.Len(t, batches["2026/01/01"], 2)
	assert.Len(t, batches["2026/01/02"], 1)
}

func TestWriteShardProducesReadableZstdNDJSON(t *testing.T) {
	dir := t.TempDir()
	a := &Archiver{cfg: Config{Dir: dir}}

	batch := []rawDoc{
		{"symbol": "NQU25-CME", "timestamp_us": int64(1000)},
		{"symbol": "NQU25-CME", "timestamp_us": int64(2000)},
	}
	path, err := a.writeShard(ticksCollection, "2026/01/01", batch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ticksCollection, "2026/01/01.jsonl.zst"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	zr, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer zr.Close()
	decompressed, err := zr.DecodeAll(raw, nil)
	require.NoError(t, err)

	dec := json.NewDecoder(jsonReaderFrom(decompressed))
	var rows []map[string]any
	for dec.More() {
		var row map[string]any
		require.NoError(t, dec.Decode(&row))
		rows = append(rows, row)
	}
	assert.Len(t, rows, 2)
}

func jsonReaderFrom(b []byte) *os.File {
	f, err := os.CreateTemp("", "archive-test-*.jsonl")
	if err != nil {
		panic(err)
	}
	f.Write(b)
	f.Seek(0, 0)
	return f
}

func TestRotateLocalRemovesOldestFilesFirst(t *testing.T) {
	dir := t.TempDir()
	a := &Archiver{cfg: Config{Dir: dir, MaxLocalBytes: 10}}

	mustWrite := func(name string, size int) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	}
	mustWrite("ticks/2026/01/01.jsonl.zst", 8)
	mustWrite("ticks/2026/01/02.jsonl.zst", 8)

	a.rotateLocal()

	_, err1 := os.Stat(filepath.Join(dir, "ticks/2026/01/01.jsonl.zst"))
	_, err2 := os.Stat(filepath.Join(dir, "ticks/2026/01/02.jsonl.zst"))
	assert.True(t, os.IsNotExist(err1), "oldest shard should have been rotated out")
	assert.NoError(t, err2, "newest shard should survive")
}

type fakeS3Uploader struct {
	lastKey    string
	lastBucket string
}

func (f *fakeS3Uploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastKey = *params.Key
	f.lastBucket = *params.Bucket
	return &s3.PutObjectOutput{}, nil
}

func TestUploadShardUsesPrefixedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.jsonl.zst")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	fake := &fakeS3Uploader{}
	a := &Archiver{cfg: Config{S3Bucket: "cold-store", S3Prefix: "mdic"}, s3: fake}

	require.NoError(t, a.uploadShard(context.Background(), path, ticksCollection, "2026/01/01"))
	assert.Equal(t, "cold-store", fake.lastBucket)
	assert.Equal(t, "mdic/ticks/2026/01/01.jsonl.zst", fake.lastKey)
}
