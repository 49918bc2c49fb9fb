// Package archive implements C6's cold-storage rotation: ticks and bars
// rolled out of the hot Mongo collections are written as zstd-compressed
// NDJSON shards to local disk and, optionally, uploaded to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/minhos/mdic/internal/mdicerr"
)

const (
	ticksCollection = "ticks"
	barsCollection  = "bars"
	stateCollection = "mdic_state"
)

// S3Uploader is the subset of *s3.Client the archiver needs; satisfied by
// the real AWS SDK client and fakeable in tests.
type S3Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config controls rotation policy.
type Config struct {
	Dir           string        // local shard directory
	MaxLocalBytes int64         // 0 disables local rotation
	Interval      time.Duration // time between archive cycles
	MaxAge        time.Duration // archive rows older than this
	S3Bucket      string        // empty disables S3 upload
	S3Prefix      string
}

// Archiver periodically moves ticks and bars older than Config.MaxAge from
// Mongo into compressed local shards (and, if S3Bucket is set, to S3),
// deleting the oldest local shards once MaxLocalBytes is exceeded.
type Archiver struct {
	db  *mongo.Database
	cfg Config
	s3  S3Uploader
}

// New creates an Archiver. s3Client may be nil, which disables S3 upload
// regardless of Config.S3Bucket.
func New(db *mongo.Database, cfg Config, s3Client S3Uploader) *Archiver {
	return &Archiver{db: db, cfg: cfg, s3: s3Client}
}

// Run starts the periodic archive loop. Blocks until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	log.Printf("archiver: dir=%s max_local=%dMB interval=%v age=%v s3_bucket=%q",
		a.cfg.Dir, a.cfg.MaxLocalBytes>>20, a.cfg.Interval, a.cfg.MaxAge, a.cfg.S3Bucket)

	a.cycle(ctx, ticksCollection)
	a.cycle(ctx, barsCollection)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx, ticksCollection)
			a.cycle(ctx, barsCollection)
		}
	}
}

func (a *Archiver) cycle(ctx context.Context, collection string) {
	cursor, err := a.loadCursor(ctx, collection)
	if err != nil {
		log.Printf("archiver: load cursor for %s: %v", collection, err)
		return
	}

	cutoff := time.Now().Add(-a.cfg.MaxAge)
	if !cursor.Before(cutoff) {
		return
	}

	docs, err := a.queryOlderThan(ctx, collection, cursor, cutoff)
	if err != nil {
		log.Printf("archiver: query %s: %v", collection, err)
		return
	}
	if len(docs) == 0 {
		a.saveCursor(ctx, collection, cutoff)
		return
	}

	batches := groupByDay(docs)
	var ids []any
	for day, batch := range batches {
		path, err := a.writeShard(collection, day, batch)
		if err != nil {
			log.Printf("archiver: write %s/%s: %v", collection, day, err)
			return
		}
		if a.s3 != nil && a.cfg.S3Bucket != "" {
			if err := a.uploadShard(ctx, path, collection, day); err != nil {
				log.Printf("archiver: s3 upload %s/%s: %v", collection, day, err)
				return
			}
		}
		for _, d := range batch {
			ids = append(ids, d["_id"])
		}
		log.Printf("archiver: archived %d %s rows for %s", len(batch), collection, day)
	}

	if err := a.deleteArchived(ctx, collection, ids); err != nil {
		log.Printf("archiver: delete archived %s rows: %v", collection, err)
		return
	}

	a.saveCursor(ctx, collection, cutoff)
	a.rotateLocal()
}

// rawDoc is a generic Mongo document, used so ticks and bars share the same
// read/write/delete plumbing without duplicating tickDoc/barDoc here.
type rawDoc bson.M

func (d rawDoc) timestamp() time.Time {
	switch v := d["timestamp_us"].(type) {
	case int64:
		return time.UnixMicro(v).UTC()
	}
	switch v := d["start_time"].(type) {
	case int64:
		return time.UnixMicro(v).UTC()
	}
	return time.Time{}
}

func (a *Archiver) loadCursor(ctx context.Context, collection string) (time.Time, error) {
	var doc struct {
		ValueTime time.Time `bson:"value_time"`
	}
	key := "archive_cursor:" + collection
	err := a.db.Collection(stateCollection).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return doc.ValueTime, nil
}

func (a *Archiver) saveCursor(ctx context.Context, collection string, t time.Time) {
	key := "archive_cursor:" + collection
	_, err := a.db.Collection(stateCollection).UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"key": key, "value_time": t, "updated_at": time.Now()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		log.Printf("archiver: save cursor for %s: %v", collection, err)
	}
}

func (a *Archiver) queryOlderThan(ctx context.Context, collection string, from, to time.Time) ([]rawDoc, error) {
	field := "timestamp_us"
	if collection == barsCollection {
		field = "start_time"
	}
	filter := bson.M{field: bson.M{"$gte": from.UnixMicro(), "$lt": to.UnixMicro()}}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: 1}})

	cur, err := a.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	var docs []rawDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return docs, nil
}

func groupByDay(docs []rawDoc) map[string][]rawDoc {
	batches := make(map[string][]rawDoc)
	for _, d := range docs {
		day := d.timestamp().Format("2006/01/02")
		batches[day] = append(batches[day], d)
	}
	return batches
}

// writeShard zstd-compresses batch as NDJSON to
// dir/<collection>/YYYY/MM/DD.jsonl.zst and returns the written path.
func (a *Archiver) writeShard(collection, day string, batch []rawDoc) (string, error) {
	path := filepath.Join(a.cfg.Dir, collection, day+".jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	for _, d := range batch {
		if err := enc.Encode(d); err != nil {
			zw.Close()
			return "", fmt.Errorf("encode: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("zstd close: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return path, nil
}

func (a *Archiver) uploadShard(ctx context.Context, path, collection, day string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read shard: %w", err)
	}
	key := fmt.Sprintf("%s/%s/%s.jsonl.zst", a.cfg.S3Prefix, collection, day)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.cfg.S3Bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return mdicerr.Network("archive.uploadShard", err)
	}
	return nil
}

func (a *Archiver) deleteArchived(ctx context.Context, collection string, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := a.db.Collection(collection).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("delete archived %s rows: %w", collection, err)
	}
	return nil
}

// rotateLocal deletes the oldest local shard files once MaxLocalBytes is
// exceeded; disabled when MaxLocalBytes is 0.
func (a *Archiver) rotateLocal() {
	if a.cfg.MaxLocalBytes <= 0 {
		return
	}

	type entry struct {
		path string
		size int64
	}
	var files []entry
	var total int64

	filepath.Walk(a.cfg.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		files = append(files, entry{path: path, size: info.Size()})
		total += info.Size()
		return nil
	})

	if total <= a.cfg.MaxLocalBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	for _, f := range files {
		if total <= a.cfg.MaxLocalBytes {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("archiver: remove %s: %v", f.path, err)
			continue
		}
		total -= f.size
		log.Printf("archiver: rotated out %s (%d bytes)", f.path, f.size)
	}
}
