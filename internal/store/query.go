package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/minhos/mdic/internal/mdicerr"
)

// Candle is an OHLCV bucket computed on the fly from stored ticks, used by
// C8's historical REST surface when a caller wants a coarser resolution
// than what C6 stores natively.
type Candle struct {
	Bucket time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Count  int64
}

// bucketSeconds maps a supported aggregation interval to its width.
var bucketSeconds = map[string]int64{
	"1m": 60, "5m": 300, "15m": 900, "1h": 3600, "4h": 14400, "1d": 86400,
}

// QueryCandles aggregates stored ticks for symbol into OHLCV buckets of the
// given interval, newest first, bounded by limit.
func (s *Store) QueryCandles(ctx context.Context, symbol, interval string, from, to time.Time, limit int) ([]Candle, error) {
	secs, ok := bucketSeconds[interval]
	if !ok {
		return nil, mdicerr.New("store.QueryCandles", mdicerr.ConfigurationError, fmt.Errorf("unsupported interval %q", interval)).WithSymbol(symbol)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	millisPerBucket := secs * 1000

	matchFilter := bson.M{
		"symbol": symbol,
		"timestamp_us": bson.M{
			"$gte": from.UnixMicro(),
			"$lt":  to.UnixMicro(),
		},
	}

	bucketExpr := bson.M{
		"$subtract": bson.A{
			bson.M{"$divide": bson.A{"$timestamp_us", 1000}},
			bson.M{"$mod": bson.A{
				bson.M{"$divide": bson.A{"$timestamp_us", 1000}},
				millisPerBucket,
			}},
		},
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: matchFilter}},
		{{Key: "$sort", Value: bson.D{{Key: "timestamp_us", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bucketExpr},
			{Key: "open", Value: bson.M{"$first": "$price"}},
			{Key: "high", Value: bson.M{"$max": "$price"}},
			{Key: "low", Value: bson.M{"$min": "$price"}},
			{Key: "close", Value: bson.M{"$last": "$price"}},
			{Key: "volume", Value: bson.M{"$sum": "$size"}},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: -1}}}},
		{{Key: "$limit", Value: int64(limit)}},
	}

	cursor, err := s.db.Collection(ticksCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mdicerr.Storage("store.QueryCandles", err).WithSymbol(symbol)
	}
	defer cursor.Close(ctx)

	var raw []struct {
		BucketMs int64   `bson:"_id"`
		Open     float64 `bson:"open"`
		High     float64 `bson:"high"`
		Low      float64 `bson:"low"`
		Close    float64 `bson:"close"`
		Volume   int64   `bson:"volume"`
		Count    int64   `bson:"count"`
	}
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, mdicerr.Storage("store.QueryCandles", err).WithSymbol(symbol)
	}

	candles := make([]Candle, len(raw))
	for i, r := range raw {
		candles[i] = Candle{
			Bucket: time.UnixMilli(r.BucketMs).UTC(),
			Open:   r.Open, High: r.High, Low: r.Low, Close: r.Close,
			Volume: r.Volume, Count: r.Count,
		}
	}
	return candles, nil
}
