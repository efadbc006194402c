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

// Package catalog implements the persistent species catalog: canonical
// species records, raw and unified traits, regions and per-species range
// geometry, climate aggregates, climate envelopes, and the recommendation
// cache. All state lives in a PostGIS-enabled PostgreSQL database; the
// spatial index and the raster sampling primitive are provided by the
// database.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"
)

// SQLTimeout is the deadline applied to individual catalog queries.
const SQLTimeout = 5 * time.Second

// Store is a handle to the catalog database.
type Store struct {
	Pool *pgxpool.Pool

	Log *logrus.Logger
}

// Connect opens a connection pool to the catalog database at dbURL,
// retrying with exponential backoff while the database comes up.
func Connect(ctx context.Context, dbURL string, log *logrus.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parsing database URL: %w", err)
	}
	cfg.MaxConns = 25

	var pool *pgxpool.Pool
	err = backoff.Retry(func() error {
		pool, err = pgxpool.ConnectConfig(ctx, cfg)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
	if err != nil {
		return nil, fmt.Errorf("catalog: connecting to database: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{Pool: pool, Log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.Pool.Close()
}

// Health reports database reachability, the PostGIS version, and row
// counts for the externally documented tables.
type Health struct {
	Database string           `json:"database"`
	PostGIS  string           `json:"postgis"`
	Tables   map[string]int64 `json:"tables"`
}

// healthTables is the documented list of tables reported by the health
// endpoint.
var healthTables = []string{
	"species", "species_unified", "species_regions", "species_geometry",
	"tdwg_level3", "tdwg_climate", "species_climate_envelope_unified",
	"recommendation_cache",
}

// CheckHealth pings the database and gathers table counts. A failed ping
// is reported in the result, not as an error.
func (s *Store) CheckHealth(ctx context.Context) Health {
	h := Health{Tables: make(map[string]int64)}

	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	if err := s.Pool.Ping(ctx); err != nil {
		h.Database = err.Error()
		return h
	}
	h.Database = "connected"

	if err := s.Pool.QueryRow(ctx, "SELECT PostGIS_version()").Scan(&h.PostGIS); err != nil {
		h.PostGIS = "not available"
	}

	for _, table := range healthTables {
		var count int64
		if err := s.Pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			h.Tables[table] = -1
		} else {
			h.Tables[table] = count
		}
	}
	return h
}
