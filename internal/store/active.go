package store

import (
	"context"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
)

// ActiveIDs returns a client's active set, sorted by id.
func (s *Store) ActiveIDs(ctx context.Context, client string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("tender_id").
		From("active").
		Where(sq.Eq{"client": client}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading active set: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// MergeActive unions ids into the client's active set. Already-present
// ids are untouched, so their added_at is preserved.
func (s *Store) MergeActive(ctx context.Context, client string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if id == "" {
			continue
		}
		query, args, err := builder.Insert("active").
			Options("OR IGNORE").
			Columns("client", "tender_id").
			Values(client, id).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("merging %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// PruneActive removes only the explicitly listed ids. Absence of an id
// from a later run never shrinks the set; removal requires a confirmed
// non-vigency from the status source.
func (s *Store) PruneActive(ctx context.Context, client string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := builder.Delete("active").
		Where(sq.Eq{"client": client, "tender_id": ids}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}
