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

	"github.com/jackc/pgx/v4"
)

func envelopeTable(src EnvelopeSource) (string, error) {
	switch src {
	case SourceOccurrence:
		return "species_envelope_occurrence", nil
	case SourceEcoregion:
		return "species_envelope_ecoregion", nil
	case SourceRegion:
		return "species_envelope_region", nil
	}
	return "", fmt.Errorf("catalog: unknown envelope source %q", src)
}

// UpsertEnvelope writes one species envelope into the per-source table.
// Only the occurrence table carries the percentile columns.
func (s *Store) UpsertEnvelope(ctx context.Context, src EnvelopeSource, e *ClimateEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	table, err := envelopeTable(src)
	if err != nil {
		return err
	}

	if src == SourceOccurrence {
		_, err = s.Pool.Exec(ctx, `
			INSERT INTO species_envelope_occurrence
				(species_id, temp_mean, temp_min, temp_max, temp_p05, temp_p95,
				 cold_month_p05, warm_month_p95,
				 precip_mean, precip_min, precip_max, precip_seasonality,
				 n_samples, envelope_quality, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (species_id) DO UPDATE
			SET temp_mean = EXCLUDED.temp_mean, temp_min = EXCLUDED.temp_min, temp_max = EXCLUDED.temp_max,
			    temp_p05 = EXCLUDED.temp_p05, temp_p95 = EXCLUDED.temp_p95,
			    cold_month_p05 = EXCLUDED.cold_month_p05, warm_month_p95 = EXCLUDED.warm_month_p95,
			    precip_mean = EXCLUDED.precip_mean, precip_min = EXCLUDED.precip_min,
			    precip_max = EXCLUDED.precip_max, precip_seasonality = EXCLUDED.precip_seasonality,
			    n_samples = EXCLUDED.n_samples, envelope_quality = EXCLUDED.envelope_quality,
			    notes = EXCLUDED.notes
		`, e.SpeciesID, e.TempMean, e.TempMin, e.TempMax, e.TempP05, e.TempP95,
			e.ColdMonthP05, e.WarmMonthP95,
			e.PrecipMean, e.PrecipMin, e.PrecipMax, e.PrecipSeasonality,
			e.NSamples, e.Quality, e.Notes)
	} else {
		_, err = s.Pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s
				(species_id, temp_mean, temp_min, temp_max,
				 precip_mean, precip_min, precip_max, precip_seasonality,
				 n_samples, envelope_quality, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (species_id) DO UPDATE
			SET temp_mean = EXCLUDED.temp_mean, temp_min = EXCLUDED.temp_min, temp_max = EXCLUDED.temp_max,
			    precip_mean = EXCLUDED.precip_mean, precip_min = EXCLUDED.precip_min,
			    precip_max = EXCLUDED.precip_max, precip_seasonality = EXCLUDED.precip_seasonality,
			    n_samples = EXCLUDED.n_samples, envelope_quality = EXCLUDED.envelope_quality,
			    notes = EXCLUDED.notes
		`, table), e.SpeciesID, e.TempMean, e.TempMin, e.TempMax,
			e.PrecipMean, e.PrecipMin, e.PrecipMax, e.PrecipSeasonality,
			e.NSamples, e.Quality, e.Notes)
	}
	if err != nil {
		return fmt.Errorf("catalog: upserting %s envelope for species %d: %w", src, e.SpeciesID, err)
	}
	return nil
}

// EnvelopeBySpecies reads one per-source envelope, or ErrNotFound.
func (s *Store) EnvelopeBySpecies(ctx context.Context, src EnvelopeSource, speciesID int64) (*ClimateEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	table, err := envelopeTable(src)
	if err != nil {
		return nil, err
	}

	e := &ClimateEnvelope{SpeciesID: speciesID}
	if src == SourceOccurrence {
		err = s.Pool.QueryRow(ctx, `
			SELECT temp_mean, temp_min, temp_max, temp_p05, temp_p95,
			       cold_month_p05, warm_month_p95,
			       precip_mean, precip_min, precip_max, precip_seasonality,
			       n_samples, envelope_quality, notes
			FROM species_envelope_occurrence WHERE species_id = $1
		`, speciesID).Scan(&e.TempMean, &e.TempMin, &e.TempMax, &e.TempP05, &e.TempP95,
			&e.ColdMonthP05, &e.WarmMonthP95,
			&e.PrecipMean, &e.PrecipMin, &e.PrecipMax, &e.PrecipSeasonality,
			&e.NSamples, &e.Quality, &e.Notes)
	} else {
		err = s.Pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT temp_mean, temp_min, temp_max,
			       precip_mean, precip_min, precip_max, precip_seasonality,
			       n_samples, envelope_quality, notes
			FROM %s WHERE species_id = $1
		`, table), speciesID).Scan(&e.TempMean, &e.TempMin, &e.TempMax,
			&e.PrecipMean, &e.PrecipMin, &e.PrecipMax, &e.PrecipSeasonality,
			&e.NSamples, &e.Quality, &e.Notes)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching %s envelope for species %d: %w", src, speciesID, err)
	}
	return e, nil
}

// RebuildUnifiedEnvelopes regenerates species_climate_envelope_unified
// from the three per-source tables in one statement. The per-species row
// comes from the highest-priority source present (occurrence, then
// ecoregion, then region) and the consensus grade counts how many sources
// produced an envelope.
func (s *Store) RebuildUnifiedEnvelopes(ctx context.Context) (int64, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: beginning unified envelope rebuild: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE species_climate_envelope_unified`); err != nil {
		return 0, fmt.Errorf("catalog: truncating unified envelopes: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		WITH ranked AS (
			SELECT species_id, temp_mean, temp_min, temp_max, temp_p05, temp_p95,
			       precip_mean, precip_min, precip_max, precip_seasonality,
			       n_samples, envelope_quality, 'occurrence' AS envelope_source, 1 AS priority
			FROM species_envelope_occurrence
			UNION ALL
			SELECT species_id, temp_mean, temp_min, temp_max, NULL, NULL,
			       precip_mean, precip_min, precip_max, precip_seasonality,
			       n_samples, envelope_quality, 'ecoregion', 2
			FROM species_envelope_ecoregion
			UNION ALL
			SELECT species_id, temp_mean, temp_min, temp_max, NULL, NULL,
			       precip_mean, precip_min, precip_max, precip_seasonality,
			       n_samples, envelope_quality, 'region', 3
			FROM species_envelope_region
		),
		counts AS (
			SELECT species_id, COUNT(*) AS n_sources FROM ranked GROUP BY species_id
		)
		INSERT INTO species_climate_envelope_unified
			(species_id, temp_mean, temp_min, temp_max, temp_p05, temp_p95,
			 precip_mean, precip_min, precip_max, precip_seasonality,
			 n_samples, envelope_quality, envelope_source, source_consensus)
		SELECT DISTINCT ON (r.species_id)
			r.species_id, r.temp_mean, r.temp_min, r.temp_max, r.temp_p05, r.temp_p95,
			r.precip_mean, r.precip_min, r.precip_max, r.precip_seasonality,
			r.n_samples, r.envelope_quality, r.envelope_source,
			CASE c.n_sources WHEN 3 THEN 'high' WHEN 2 THEN 'medium' ELSE 'single' END
		FROM ranked r
		JOIN counts c USING (species_id)
		ORDER BY r.species_id, r.priority
	`)
	if err != nil {
		return 0, fmt.Errorf("catalog: rebuilding unified envelopes: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("catalog: committing unified envelope rebuild: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnifiedEnvelopeBySpecies reads the unified envelope row, or ErrNotFound.
func (s *Store) UnifiedEnvelopeBySpecies(ctx context.Context, speciesID int64) (*UnifiedEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	u := &UnifiedEnvelope{}
	u.SpeciesID = speciesID
	err := s.Pool.QueryRow(ctx, `
		SELECT temp_mean, temp_min, temp_max, temp_p05, temp_p95,
		       precip_mean, precip_min, precip_max, precip_seasonality,
		       n_samples, envelope_quality, envelope_source, source_consensus
		FROM species_climate_envelope_unified WHERE species_id = $1
	`, speciesID).Scan(&u.TempMean, &u.TempMin, &u.TempMax, &u.TempP05, &u.TempP95,
		&u.PrecipMean, &u.PrecipMin, &u.PrecipMax, &u.PrecipSeasonality,
		&u.NSamples, &u.Quality, &u.Source, &u.Consensus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching unified envelope for species %d: %w", speciesID, err)
	}
	return u, nil
}
