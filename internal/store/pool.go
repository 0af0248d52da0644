// Package store implements the persistence model: typed queries over the
// class, recording, ban and frontend tables, one file per entity.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/pkg/database"
)

// Store wraps a pgxpool.Pool with the dispatcher's typed queries.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Migrate applies embedded SQL migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, s.pool)
}

// Pool exposes the underlying pool for callers that need a transaction
// spanning multiple repository calls (recreate, adjust persistence).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
