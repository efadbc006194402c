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
	"fmt"

	"github.com/jackc/pgx/v4"
)

// MaxOccurrencesPerSpecies caps how many occurrence points are retained
// per species at promotion time. Beyond this the envelope percentiles
// stop improving and the table only gets heavier.
const MaxOccurrencesPerSpecies = 500

// StageOccurrences bulk-loads raw occurrence records into the staging
// table with COPY. Staged rows are unvalidated; PromoteOccurrences applies
// the quality filter.
func (s *Store) StageOccurrences(ctx context.Context, occs []Occurrence) (int64, error) {
	rows := make([][]interface{}, len(occs))
	for i := range occs {
		o := &occs[i]
		var unc, year interface{}
		if o.UncertaintyM > 0 {
			unc = o.UncertaintyM
		}
		if o.Year > 0 {
			year = o.Year
		}
		rows[i] = []interface{}{o.UpstreamID, o.SpeciesID, o.Lat, o.Lon, unc, year, nilIfEmpty(o.CountryCode)}
	}
	n, err := s.Pool.CopyFrom(ctx,
		pgx.Identifier{"raw_occurrences_stage"},
		[]string{"upstream_id", "species_id", "lat", "lon", "uncertainty_m", "year", "country_code"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("catalog: staging occurrences: %w", err)
	}
	return n, nil
}

// PromoteOccurrences moves staged rows that pass the quality filter into
// raw_occurrences and truncates the stage. The filter keeps rows with
// coordinates, uncertainty at most 10 km, and year 1970 or later, then
// retains at most MaxOccurrencesPerSpecies rows per species preferring
// low uncertainty and recent years. The cap holds across promotions:
// every species touched by the batch is re-ranked together with its
// already-promoted rows and trimmed back to the cap, so incremental
// crawls cannot accumulate past it. Returns how many rows were inserted.
func (s *Store) PromoteOccurrences(ctx context.Context) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: beginning occurrence promotion: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO raw_occurrences (upstream_id, species_id, lat, lon, uncertainty_m, year, country_code)
		SELECT upstream_id, species_id, lat, lon, uncertainty_m, year, country_code
		FROM (
			SELECT *,
				ROW_NUMBER() OVER (
					PARTITION BY species_id
					ORDER BY uncertainty_m ASC NULLS LAST, year DESC NULLS LAST
				) AS quality_rank
			FROM raw_occurrences_stage
			WHERE upstream_id IS NOT NULL
			  AND species_id IS NOT NULL
			  AND lat IS NOT NULL AND lon IS NOT NULL
			  AND lat BETWEEN -90 AND 90 AND lon BETWEEN -180 AND 180
			  AND (uncertainty_m IS NULL OR uncertainty_m <= 10000)
			  AND year >= 1970
		) q
		WHERE quality_rank <= $1
		ON CONFLICT (upstream_id) DO NOTHING
	`, MaxOccurrencesPerSpecies)
	if err != nil {
		return 0, fmt.Errorf("catalog: promoting occurrences: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM raw_occurrences
		WHERE upstream_id IN (
			SELECT upstream_id FROM (
				SELECT o.upstream_id,
					ROW_NUMBER() OVER (
						PARTITION BY o.species_id
						ORDER BY o.uncertainty_m ASC NULLS LAST, o.year DESC NULLS LAST
					) AS quality_rank
				FROM raw_occurrences o
				WHERE o.species_id IN (
					SELECT DISTINCT species_id FROM raw_occurrences_stage
					WHERE species_id IS NOT NULL
				)
			) q
			WHERE quality_rank > $1
		)
	`, MaxOccurrencesPerSpecies); err != nil {
		return 0, fmt.Errorf("catalog: trimming occurrences past the cap: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE raw_occurrences_stage`); err != nil {
		return 0, fmt.Errorf("catalog: truncating occurrence stage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("catalog: committing occurrence promotion: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OccurrencesMissingClimate returns up to limit promoted occurrences
// with upstream_id after afterID (exclusive, "" starts from the
// beginning) that have not yet had the bioclimatic rasters sampled at
// their point. The keyset cursor lets the annotation loop walk past
// points outside raster coverage, which stay unannotated.
func (s *Store) OccurrencesMissingClimate(ctx context.Context, afterID string, limit int) ([]Occurrence, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT upstream_id, species_id, lat, lon
		FROM raw_occurrences
		WHERE bio1 IS NULL AND upstream_id > $1
		ORDER BY upstream_id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing occurrences missing climate: %w", err)
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.UpstreamID, &o.SpeciesID, &o.Lat, &o.Lon); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetOccurrenceClimate records the climate sample for one occurrence.
func (s *Store) SetOccurrenceClimate(ctx context.Context, upstreamID string, v *BioVector) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		UPDATE raw_occurrences
		SET bio1 = $2, bio5 = $3, bio6 = $4, bio12 = $5, bio15 = $6
		WHERE upstream_id = $1
	`, upstreamID, v.Bio1, v.Bio5, v.Bio6, v.Bio12, v.Bio15)
	if err != nil {
		return fmt.Errorf("catalog: setting climate for occurrence %s: %w", upstreamID, err)
	}
	return nil
}
