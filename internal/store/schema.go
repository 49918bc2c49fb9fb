package store

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	ticksCollection = "ticks"
	barsCollection  = "bars"
)

// EnsureIndexes creates the idempotent uniqueness/query indexes the store
// relies on: a secondary (symbol, sequence) uniqueness constraint for
// ticks and a natural (symbol, timeframe, start_time) key for bars,
// matching spec.md §4.6's storage-backend contract.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: ticksCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "timestamp_us", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: ticksCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "sequence", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.D{{Key: "sequence", Value: bson.D{{Key: "$exists", Value: true}}}}),
			},
		},
		{
			collection: barsCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "symbol", Value: 1}, {Key: "timeframe", Value: 1}, {Key: "start_time", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}

	for _, i := range indexes {
		if _, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	log.Println("store: MongoDB indexes ensured")
	return nil
}
