package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
)

// Checkpoint returns the last fully processed block height recorded for a
// consumer, or ok=false when the consumer has never checkpointed.
func (s *Session) Checkpoint(ctx context.Context, consumer string) (uint64, bool, error) {
	var height int64
	err := s.db.Query(s.stmts.metaGet.text, consumer).
		WithContext(ctx).Consistency(s.stmts.metaGet.cons).Scan(&height)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading checkpoint: %w", err)
	}
	return clampUint64(height), true, nil
}

// SetCheckpoint records that every block up to and including height has been
// flushed for the consumer. Callers only invoke this after a successful
// flush; the checkpoint must never run ahead of persisted data.
func (s *Session) SetCheckpoint(ctx context.Context, consumer string, height uint64) error {
	if err := s.exec(ctx, s.stmts.metaSet, consumer, int64(height)); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}
