package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/jpavez/tender-scout/internal/tender"
)

// Catalog returns the local checksum ledger as a day -> checksum map.
func (s *Store) Catalog(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("day", "checksum").From("catalog").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	defer rows.Close()

	ledger := make(map[string]string)
	for rows.Next() {
		var day, checksum string
		if err := rows.Scan(&day, &checksum); err != nil {
			return nil, err
		}
		ledger[day] = checksum
	}

	return ledger, rows.Err()
}

// SaveDay replaces one day's snapshot and records its checksum in the
// ledger, atomically. The ledger entry only becomes visible once the
// snapshot rows are committed, so a crash mid-day re-fetches that day.
func (s *Store) SaveDay(ctx context.Context, day, checksum string, tenders *tender.Tenders) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args, err := builder.Delete("snapshots").Where(sq.Eq{"day": day}).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clearing day %s: %w", day, err)
	}

	if tenders != nil {
		for _, t := range tenders.Items {
			if t.ID == "" {
				continue
			}
			payload, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encoding tender %s: %w", t.ID, err)
			}

			query, args, err := builder.Insert("snapshots").
				Options("OR REPLACE").
				Columns("day", "tender_id", "status", "payload").
				Values(day, t.ID, t.StatusCode, string(payload)).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("inserting tender %s: %w", t.ID, err)
			}
		}
	}

	query, args, err = builder.Insert("catalog").
		Columns("day", "checksum").
		Values(day, checksum).
		Suffix("ON CONFLICT(day) DO UPDATE SET checksum = excluded.checksum").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("recording checksum for %s: %w", day, err)
	}

	return tx.Commit()
}

// Day loads one day's snapshot.
func (s *Store) Day(ctx context.Context, day string) (*tender.Tenders, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("payload", "status").
		From("snapshots").
		Where(sq.Eq{"day": day}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading day %s: %w", day, err)
	}
	defer rows.Close()

	tenders := &tender.Tenders{}
	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, err
		}
		tenders.Items = append(tenders.Items, t)
	}

	return tenders, rows.Err()
}

// Days returns the snapshot days in the inclusive range, newest first.
func (s *Store) Days(ctx context.Context, from, to string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("DISTINCT day").
		From("snapshots").
		Where(sq.GtOrEq{"day": from}).
		Where(sq.LtOrEq{"day": to}).
		OrderBy("day DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day)
	}

	return days, rows.Err()
}

// FindTenders resolves ids against snapshots taken on or after sinceDay,
// preferring the most recent snapshot of each tender. Ids with no match
// are simply absent from the result.
func (s *Store) FindTenders(ctx context.Context, ids []string, sinceDay string) (map[string]*tender.Tender, error) {
	if len(ids) == 0 {
		return map[string]*tender.Tender{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("tender_id", "payload", "status").
		From("snapshots").
		Where(sq.Eq{"tender_id": ids}).
		Where(sq.GtOrEq{"day": sinceDay}).
		OrderBy("day DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolving tenders: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*tender.Tender)
	for rows.Next() {
		var id, payload string
		var status int
		if err := rows.Scan(&id, &payload, &status); err != nil {
			return nil, err
		}
		if _, ok := found[id]; ok {
			continue
		}

		var t tender.Tender
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decoding tender %s: %w", id, err)
		}
		t.StatusCode = status
		found[id] = &t
	}

	return found, rows.Err()
}

// UpdateStatus refreshes a tender's status code across all its snapshot
// rows, so later reports reflect the live registry.
func (s *Store) UpdateStatus(ctx context.Context, tenderID string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := builder.Update("snapshots").
		Set("status", status).
		Where(sq.Eq{"tender_id": tenderID}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTender(row rowScanner) (*tender.Tender, error) {
	var payload string
	var status int
	if err := row.Scan(&payload, &status); err != nil {
		return nil, err
	}

	var t tender.Tender
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, err
	}
	t.StatusCode = status
	return &t, nil
}
