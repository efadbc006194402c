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

// CacheTTL is how long a cached recommendation response stays servable.
const CacheTTL = 24 * time.Hour

// CachedRecommendation is one row of the recommendation response cache.
// Response holds the full serialized API response so cache hits are
// byte-identical to the original computation.
type CachedRecommendation struct {
	CacheKey   string
	Request    []byte
	Response   []byte
	SpeciesIDs []int64
	Metrics    []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	HitCount   int
}

// CacheGet returns the unexpired cached response for key, incrementing its
// hit counter, or ErrNotFound. Expired rows are treated as absent and
// removed lazily.
func (s *Store) CacheGet(ctx context.Context, key string) (*CachedRecommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	c := &CachedRecommendation{CacheKey: key}
	err := s.Pool.QueryRow(ctx, `
		UPDATE recommendation_cache
		SET hit_count = hit_count + 1
		WHERE cache_key = $1 AND expires_at > NOW()
		RETURNING request, response, species_ids, diversity_metrics, created_at, expires_at, hit_count
	`, key).Scan(&c.Request, &c.Response, &c.SpeciesIDs, &c.Metrics, &c.CreatedAt, &c.ExpiresAt, &c.HitCount)
	if errors.Is(err, pgx.ErrNoRows) {
		// Reap the expired row, if any, outside the hot path's way.
		_, _ = s.Pool.Exec(ctx, `DELETE FROM recommendation_cache WHERE cache_key = $1 AND expires_at <= NOW()`, key)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: reading recommendation cache: %w", err)
	}
	return c, nil
}

// CachePut stores a computed response under key with the standard TTL.
func (s *Store) CachePut(ctx context.Context, c *CachedRecommendation) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO recommendation_cache
			(cache_key, request, response, species_ids, diversity_metrics, created_at, expires_at, hit_count)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW() + $6::interval, 0)
		ON CONFLICT (cache_key) DO UPDATE
		SET request = EXCLUDED.request, response = EXCLUDED.response,
		    species_ids = EXCLUDED.species_ids, diversity_metrics = EXCLUDED.diversity_metrics,
		    created_at = NOW(), expires_at = NOW() + $6::interval, hit_count = 0
	`, c.CacheKey, c.Request, c.Response, c.SpeciesIDs, c.Metrics, CacheTTL.String())
	if err != nil {
		return fmt.Errorf("catalog: writing recommendation cache: %w", err)
	}
	return nil
}

// CachePurgeExpired deletes all expired cache rows and reports how many
// were removed.
func (s *Store) CachePurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM recommendation_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("catalog: purging recommendation cache: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CacheStats summarizes cache occupancy for the stats endpoint.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	TotalHits int64 `json:"total_hits"`
}

// CacheStats returns occupancy counters over unexpired rows.
func (s *Store) CacheStats(ctx context.Context) (*CacheStats, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	st := &CacheStats{}
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0)
		FROM recommendation_cache WHERE expires_at > NOW()
	`).Scan(&st.Entries, &st.TotalHits)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading cache stats: %w", err)
	}
	return st, nil
}
