// Package store implements the Time-Series Store (C6): idempotent,
// append-only insertion of ticks and bars into MongoDB, with a CoverageIndex
// maintained per (symbol, timeframe).
package store

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/minhos/mdic/internal/mdicerr"
)

const defaultDatabase = "mdic"

// Store wraps the MongoDB client/database and a per-symbol serializing
// queue so a single writer touches any one symbol's collections at a time.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	writers  *symbolWriterPool
	coverage *coverageTracker
}

// New connects to MongoDB and returns a Store. The URI may include a
// database name path component (e.g. mongodb://localhost:27017/mdic); if
// absent, "mdic" is used.
func New(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, mdicerr.Storage("store.New", fmt.Errorf("connect: %w", err))
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, mdicerr.Storage("store.New", fmt.Errorf("ping: %w", err))
	}

	dbName := defaultDatabase
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	log.Printf("store: connected to MongoDB (db=%s)", dbName)
	return &Store{
		client:   client,
		db:       client.Database(dbName),
		writers:  newSymbolWriterPool(),
		coverage: newCoverageTracker(),
	}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Migrate creates the idempotent indexes every collection needs.
func (s *Store) Migrate(ctx context.Context) error {
	return EnsureIndexes(ctx, s.db)
}

// DB exposes the underlying database for the archiver and diagnostics.
func (s *Store) DB() *mongo.Database { return s.db }
