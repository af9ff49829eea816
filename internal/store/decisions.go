package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Decisions loads the cached oracle decisions for one client under one
// rule-set hash. Buckets under stale hashes stay in the table but are
// never consulted.
func (s *Store) Decisions(ctx context.Context, client, rulesHash string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("tender_id", "relevant").
		From("decisions").
		Where(sq.Eq{"client": client, "rules_hash": rulesHash}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading decisions: %w", err)
	}
	defer rows.Close()

	decisions := make(map[string]bool)
	for rows.Next() {
		var id string
		var relevant bool
		if err := rows.Scan(&id, &relevant); err != nil {
			return nil, err
		}
		decisions[id] = relevant
	}

	return decisions, rows.Err()
}

// RecordDecision stores one oracle verdict. Last writer wins within a
// (client, hash, id) key; concurrent classification completions commute.
func (s *Store) RecordDecision(ctx context.Context, client, rulesHash, tenderID string, relevant bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := builder.Insert("decisions").
		Options("OR REPLACE").
		Columns("client", "rules_hash", "tender_id", "relevant").
		Values(client, rulesHash, tenderID, relevant).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}
