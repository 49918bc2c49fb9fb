package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/minhos/mdic/internal/mdicerr"
	"github.com/minhos/mdic/internal/model"
)

type tickDoc struct {
	Symbol           string          `bson:"symbol"`
	TimestampUs      int64           `bson:"timestamp_us"`
	Price            decimal.Decimal `bson:"price"`
	Size             uint32          `bson:"size"`
	Bid              decimal.Decimal `bson:"bid"`
	Ask              decimal.Decimal `bson:"ask"`
	BidSize          uint32          `bson:"bid_size"`
	AskSize          uint32          `bson:"ask_size"`
	Side             byte            `bson:"side"`
	Sequence         uint16          `bson:"sequence"`
	VWAP             decimal.Decimal `bson:"vwap"`
	CumulativeVolume int64           `bson:"cumulative_volume"`
	TradeCount       int64           `bson:"trade_count"`
}

func toTickDoc(t model.Tick) tickDoc {
	return tickDoc{
		Symbol: t.Symbol, TimestampUs: t.TimestampUs, Price: t.Price, Size: t.Size,
		Bid: t.Bid, Ask: t.Ask, BidSize: t.BidSize, AskSize: t.AskSize,
		Side: byte(t.Side), Sequence: t.Sequence, VWAP: t.VWAP,
		CumulativeVolume: t.CumulativeVolume, TradeCount: t.TradeCount,
	}
}

func fromTickDoc(d tickDoc) model.Tick {
	return model.Tick{
		Symbol: d.Symbol, TimestampUs: d.TimestampUs, Price: d.Price, Size: d.Size,
		Bid: d.Bid, Ask: d.Ask, BidSize: d.BidSize, AskSize: d.AskSize,
		Side: model.Side(d.Side), Sequence: d.Sequence, VWAP: d.VWAP,
		CumulativeVolume: d.CumulativeVolume, TradeCount: d.TradeCount,
	}
}

// InsertTicks implements insert_ticks(symbol, ticks). A tick whose
// (symbol, timestamp_us) or (symbol, sequence) already exists is a no-op (spec.md
// §4.6); writes for one symbol are serialized against each other but never
// against other symbols or against readers.
func (s *Store) InsertTicks(ctx context.Context, symbol string, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	return s.writers.withSymbolLock(symbol, func() error {
		coll := s.db.Collection(ticksCollection)
		for _, t := range ticks {
			_, err := coll.InsertOne(ctx, toTickDoc(t))
			if err != nil {
				if mongo.IsDuplicateKeyError(err) {
					continue // (symbol, timestamp_us) or (symbol, sequence) already present: no-op
				}
				return mdicerr.Storage("store.InsertTicks", err).WithSymbol(symbol)
			}
			s.extendCoverageTick(symbol, t.TimestampUs)
		}
		return nil
	})
}

// RangeTicks returns ticks for symbol within [t0, t1), ascending by time.
func (s *Store) RangeTicks(ctx context.Context, symbol string, t0, t1 time.Time) ([]model.Tick, error) {
	filter := bson.D{
		{Key: "symbol", Value: symbol},
		{Key: "timestamp_us", Value: bson.D{
			{Key: "$gte", Value: t0.UnixMicro()},
			{Key: "$lt", Value: t1.UnixMicro()},
		}},
	}
	cur, err := s.db.Collection(ticksCollection).Find(ctx, filter)
	if err != nil {
		return nil, mdicerr.Storage("store.RangeTicks", err).WithSymbol(symbol)
	}
	defer cur.Close(ctx)

	var docs []tickDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mdicerr.Storage("store.RangeTicks", err).WithSymbol(symbol)
	}
	out := make([]model.Tick, len(docs))
	for i, d := range docs {
		out[i] = fromTickDoc(d)
	}
	return out, nil
}
