package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

type barDoc struct {
	Symbol       string          `bson:"symbol"`
	Timeframe    string          `bson:"timeframe"`
	StartTime    int64           `bson:"start_time"`
	Open         decimal.Decimal `bson:"open"`
	High         decimal.Decimal `bson:"high"`
	Low          decimal.Decimal `bson:"low"`
	Close        decimal.Decimal `bson:"close"`
	Volume       int64           `bson:"volume"`
	OpenInterest *int64          `bson:"open_interest,omitempty"`
}

func toBarDoc(symbol string, tf model.Timeframe, b model.DailyBar) barDoc {
	return barDoc{
		Symbol: symbol, Timeframe: string(tf), StartTime: b.Date.UnixMicro(),
		Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
		Volume: b.Volume, OpenInterest: b.OpenInterest,
	}
}

func fromBarDoc(d barDoc) model.DailyBar {
	return model.DailyBar{
		Date: time.UnixMicro(d.StartTime).UTC(), Open: d.Open, High: d.High, Low: d.Low,
		Close: d.Close, Volume: d.Volume, OpenInterest: d.OpenInterest,
	}
}

// dominates reports whether candidate strictly dominates existing, per
// spec.md §4.6: higher volume, or a different close.
func dominates(candidate, existing barDoc) bool {
	return candidate.Volume > existing.Volume || !candidate.Close.Equal(existing.Close)
}

// InsertBars implements insert_bars(symbol, timeframe, bars). A bar whose
// (symbol, timeframe, start_time) already exists is updated only if the
// new row strictly dominates the stored one; otherwise it's a no-op.
func (s *Store) InsertBars(ctx context.Context, symbol string, tf model.Timeframe, bars []model.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.writers.withSymbolLock(symbol, func() error {
		coll := s.db.Collection(barsCollection)
		for _, b := range bars {
			doc := toBarDoc(symbol, tf, b)
			filter := bson.D{{Key: "symbol", Value: symbol}, {Key: "timeframe", Value: string(tf)}, {Key: "start_time", Value: doc.StartTime}}

			var existing barDoc
			err := coll.FindOne(ctx, filter).Decode(&existing)
			switch {
			case err == mongo.ErrNoDocuments:
				if _, err := coll.InsertOne(ctx, doc); err != nil {
					return mdicerr.Storage("store.InsertBars", err).WithSymbol(symbol)
				}
				s.extendCoverageBar(symbol, tf, b.Date, tf.Duration())
			case err != nil:
				return mdicerr.Storage("store.InsertBars", err).WithSymbol(symbol)
			default:
				if dominates(doc, existing) {
					_, err := coll.ReplaceOne(ctx, filter, doc, options.Replace())
					if err != nil {
						return mdicerr.Storage("store.InsertBars", err).WithSymbol(symbol)
					}
				}
				// otherwise: no-op, existing row already dominates or ties.
				s.extendCoverageBar(symbol, tf, b.Date, tf.Duration())
			}
		}
		return nil
	})
}

// RangeBars returns bars for (symbol, timeframe) within [t0, t1), ascending
// by start time.
func (s *Store) RangeBars(ctx context.Context, symbol string, tf model.Timeframe, t0, t1 time.Time) ([]model.DailyBar, error) {
	filter := bson.D{
		{Key: "symbol", Value: symbol},
		{Key: "timeframe", Value: string(tf)},
		{Key: "start_time", Value: bson.D{
			{Key: "$gte", Value: t0.UnixMicro()},
			{Key: "$lt", Value: t1.UnixMicro()},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cur, err := s.db.Collection(barsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, mdicerr.Storage("store.RangeBars", err).WithSymbol(symbol)
	}
	defer cur.Close(ctx)

	var docs []barDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mdicerr.Storage("store.RangeBars", err).WithSymbol(symbol)
	}
	out := make([]model.DailyBar, len(docs))
	for i, d := range docs {
		out[i] = fromBarDoc(d)
	}
	return out, nil
}
