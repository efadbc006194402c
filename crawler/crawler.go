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

// Package crawler ingests upstream botanical data sources into the raw
// catalog tables. Every crawler kind follows the same contract: fetch
// upstream records, stage them, promote staged rows into raw tables,
// checkpoint a resumable cursor, and report a run row. The orchestrator
// enforces one running instance per kind via the crawler_state row.
package crawler

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Counts accumulates what a run touched.
type Counts struct {
	Processed int64
	Inserted  int64
	Updated   int64
}

// Session carries per-run state into a crawler: the cursor it should
// resume from and the counters it reports.
type Session struct {
	// Cursor is the resumption point persisted by the previous run;
	// `{}` for a fresh start.
	Cursor json.RawMessage

	// MaxRecords caps the records processed in this run; 0 means no
	// cap. A capped run stops cleanly at a checkpoint and the next run
	// resumes from there.
	MaxRecords int64

	Log *logrus.Entry

	counts     Counts
	checkpoint func(ctx context.Context, cursor []byte) error
}

// Add accumulates run counters.
func (s *Session) Add(processed, inserted, updated int64) {
	s.counts.Processed += processed
	s.counts.Inserted += inserted
	s.counts.Updated += updated
}

// exhausted reports whether the per-run record budget is spent.
func (s *Session) exhausted() bool {
	return s.MaxRecords > 0 && s.counts.Processed >= s.MaxRecords
}

// Checkpoint persists cursor so a crashed run resumes from here. The
// cursor is also retained as the session's final cursor.
func (s *Session) Checkpoint(ctx context.Context, cursor []byte) error {
	s.Cursor = cursor
	return s.checkpoint(ctx, cursor)
}

// Crawler is one ingestion kind.
type Crawler interface {
	Name() string
	Crawl(ctx context.Context, sess *Session) error
}

// StateStore is the slice of the catalog the orchestrator needs.
type StateStore interface {
	AcquireCrawler(ctx context.Context, name string) ([]byte, error)
	ReleaseCrawler(ctx context.Context, name string, cursor []byte) error
	Checkpoint(ctx context.Context, name string, cursor []byte) error
	BeginCrawlerRun(ctx context.Context, name string) (int64, error)
	FinishCrawlerRun(ctx context.Context, runID int64, processed, inserted, updated int64, runErr error) error
}

// Runner orchestrates crawler runs.
type Runner struct {
	State StateStore
	Log   *logrus.Logger

	// MaxRecords bounds each run; 0 means unbounded.
	MaxRecords int64
}

// Run executes one crawl under the single-instance lock and reports the
// outcome. The lock is released and the run row closed even when the
// crawl fails; the final cursor is persisted either way so partial
// progress is never lost.
func (r *Runner) Run(ctx context.Context, c Crawler) (Counts, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("crawler", c.Name())

	cursor, err := r.State.AcquireCrawler(ctx, c.Name())
	if err != nil {
		return Counts{}, err
	}

	runID, err := r.State.BeginCrawlerRun(ctx, c.Name())
	if err != nil {
		r.State.ReleaseCrawler(ctx, c.Name(), cursor)
		return Counts{}, err
	}

	sess := &Session{
		Cursor:     cursor,
		MaxRecords: r.MaxRecords,
		Log:        entry,
		checkpoint: func(ctx context.Context, cur []byte) error {
			return r.State.Checkpoint(ctx, c.Name(), cur)
		},
	}

	entry.WithField("run_id", runID).Info("crawl starting")
	crawlErr := c.Crawl(ctx, sess)

	// Closing out must happen even when ctx is canceled.
	finCtx := context.WithoutCancel(ctx)
	if err := r.State.FinishCrawlerRun(finCtx, runID, sess.counts.Processed,
		sess.counts.Inserted, sess.counts.Updated, crawlErr); err != nil {
		entry.WithError(err).Error("recording crawler run failed")
	}
	if err := r.State.ReleaseCrawler(finCtx, c.Name(), sess.Cursor); err != nil {
		entry.WithError(err).Error("releasing crawler lock failed")
	}

	if crawlErr != nil {
		entry.WithError(crawlErr).Error("crawl failed")
		return sess.counts, crawlErr
	}
	entry.WithFields(logrus.Fields{
		"processed": sess.counts.Processed,
		"inserted":  sess.counts.Inserted,
		"updated":   sess.counts.Updated,
	}).Info("crawl finished")
	return sess.counts, nil
}
