package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// ErrNoRuns is returned by LatestRun when a client has never completed a run.
var ErrNoRuns = errors.New("no runs recorded")

// Run identifies one completed pipeline run and its artifact on disk.
type Run struct {
	ID        string
	Client    string
	Path      string
	CreatedAt string
}

// RecordRun registers a run artifact as the client's newest run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query, args, err := builder.Insert("runs").
		Columns("id", "client", "path").
		Values(run.ID, run.Client, run.Path).
		ToSql()
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// LatestRun returns the most recent run for a client. Downstream stages
// consume this pointer instead of globbing the artifact directory.
func (s *Store) LatestRun(ctx context.Context, client string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args, err := builder.Select("id", "client", "path", "created_at").
		From("runs").
		Where(sq.Eq{"client": client}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var run Run
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&run.ID, &run.Client, &run.Path, &run.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRuns
		}
		return nil, fmt.Errorf("reading latest run: %w", err)
	}

	return &run, nil
}
