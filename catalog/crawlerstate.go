/*
Copyright © 2025 the Floracast authors.
This file is part of Floracast.

Floracast is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Floracast is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Floracast.  If not, see <http://www.gnu.org/licenses/>.*/

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
)

// ErrCrawlerRunning reports that another instance of the same crawler
// already holds the running state.
var ErrCrawlerRunning = errors.New("catalog: crawler already running")

// AcquireCrawler flips the crawler's state row to running, failing with
// ErrCrawlerRunning if it already is. The row is the single-instance lock;
// at most one run per crawler kind may be active.
func (s *Store) AcquireCrawler(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: beginning crawler acquisition: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var cursor []byte
	err = tx.QueryRow(ctx, `
		SELECT status, cursor FROM crawler_state WHERE crawler_name = $1 FOR UPDATE
	`, name).Scan(&status, &cursor)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		cursor = []byte("{}")
		if _, err := tx.Exec(ctx, `
			INSERT INTO crawler_state (crawler_name, status, cursor) VALUES ($1, 'running', '{}')
		`, name); err != nil {
			return nil, fmt.Errorf("catalog: creating crawler state for %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("catalog: reading crawler state for %s: %w", name, err)
	case status == "running":
		return nil, ErrCrawlerRunning
	default:
		if _, err := tx.Exec(ctx, `
			UPDATE crawler_state SET status = 'running', updated_at = NOW() WHERE crawler_name = $1
		`, name); err != nil {
			return nil, fmt.Errorf("catalog: acquiring crawler %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("catalog: committing crawler acquisition: %w", err)
	}
	return cursor, nil
}

// ReleaseCrawler marks the crawler idle. Call with the final cursor so a
// later run resumes where this one stopped.
func (s *Store) ReleaseCrawler(ctx context.Context, name string, cursor []byte) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	if len(cursor) == 0 {
		cursor = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE crawler_state SET status = 'idle', cursor = $2, updated_at = NOW()
		WHERE crawler_name = $1
	`, name, cursor)
	if err != nil {
		return fmt.Errorf("catalog: releasing crawler %s: %w", name, err)
	}
	return nil
}

// Checkpoint persists an in-progress cursor without releasing the lock.
// A crashed run resumes from its last checkpoint.
func (s *Store) Checkpoint(ctx context.Context, name string, cursor []byte) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		UPDATE crawler_state SET cursor = $2, updated_at = NOW() WHERE crawler_name = $1
	`, name, cursor)
	if err != nil {
		return fmt.Errorf("catalog: checkpointing crawler %s: %w", name, err)
	}
	return nil
}

// BeginCrawlerRun opens a run report row and returns its id.
func (s *Store) BeginCrawlerRun(ctx context.Context, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO crawler_runs (crawler_name, started_at, status)
		VALUES ($1, NOW(), 'running') RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("catalog: beginning crawler run for %s: %w", name, err)
	}
	return id, nil
}

// FinishCrawlerRun closes a run report row with its final counters. A
// non-nil runErr marks the run failed and records the message.
func (s *Store) FinishCrawlerRun(ctx context.Context, runID int64, processed, inserted, updated int64, runErr error) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	status := RunCompleted
	var msg *string
	if runErr != nil {
		status = RunFailed
		m := runErr.Error()
		msg = &m
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE crawler_runs
		SET completed_at = NOW(), status = $2, records_processed = $3,
		    records_inserted = $4, records_updated = $5, error_message = $6
		WHERE id = $1
	`, runID, status, processed, inserted, updated, msg)
	if err != nil {
		return fmt.Errorf("catalog: finishing crawler run %d: %w", runID, err)
	}
	return nil
}

// RecentCrawlerRuns lists the most recent run reports across all crawlers.
func (s *Store) RecentCrawlerRuns(ctx context.Context, limit int) ([]CrawlerRun, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, crawler_name, started_at, completed_at, status,
		       records_processed, records_inserted, records_updated, error_message
		FROM crawler_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing crawler runs: %w", err)
	}
	defer rows.Close()

	var out []CrawlerRun
	for rows.Next() {
		var r CrawlerRun
		if err := rows.Scan(&r.ID, &r.CrawlerName, &r.StartedAt, &r.CompletedAt, &r.Status,
			&r.RecordsProcessed, &r.RecordsInserted, &r.RecordsUpdated, &r.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StaleCrawlers returns crawlers stuck in running with no update for
// longer than age. Operators use this to spot crashed runs whose lock
// needs manual release.
func (s *Store) StaleCrawlers(ctx context.Context, age time.Duration) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT crawler_name FROM crawler_state
		WHERE status = 'running' AND updated_at < NOW() - $1::interval
	`, age.String())
	if err != nil {
		return nil, fmt.Errorf("catalog: listing stale crawlers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
