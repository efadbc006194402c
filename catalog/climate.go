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

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// RasterTimeout is the deadline for raster point sampling.
const RasterTimeout = 10 * time.Second

// pgUndefinedFunction is the SQLSTATE raised when get_climate_at_point
// is not installed.
const pgUndefinedFunction = "42883"

// UpsertRegionClimate writes the per-region bio variable aggregate.
func (s *Store) UpsertRegionClimate(ctx context.Context, rc *RegionClimate) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tdwg_climate
			(tdwg_code, bio1_mean, bio1_min, bio1_max, bio5_mean, bio5_min, bio5_max,
			 bio6_mean, bio6_min, bio6_max, bio12_mean, bio12_min, bio12_max,
			 bio15_mean, bio15_min, bio15_max)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (tdwg_code) DO UPDATE
		SET bio1_mean = EXCLUDED.bio1_mean, bio1_min = EXCLUDED.bio1_min, bio1_max = EXCLUDED.bio1_max,
		    bio5_mean = EXCLUDED.bio5_mean, bio5_min = EXCLUDED.bio5_min, bio5_max = EXCLUDED.bio5_max,
		    bio6_mean = EXCLUDED.bio6_mean, bio6_min = EXCLUDED.bio6_min, bio6_max = EXCLUDED.bio6_max,
		    bio12_mean = EXCLUDED.bio12_mean, bio12_min = EXCLUDED.bio12_min, bio12_max = EXCLUDED.bio12_max,
		    bio15_mean = EXCLUDED.bio15_mean, bio15_min = EXCLUDED.bio15_min, bio15_max = EXCLUDED.bio15_max
	`, rc.Code,
		rc.Mean.Bio1, rc.Min.Bio1, rc.Max.Bio1,
		rc.Mean.Bio5, rc.Min.Bio5, rc.Max.Bio5,
		rc.Mean.Bio6, rc.Min.Bio6, rc.Max.Bio6,
		rc.Mean.Bio12, rc.Min.Bio12, rc.Max.Bio12,
		rc.Mean.Bio15, rc.Min.Bio15, rc.Max.Bio15)
	if err != nil {
		return fmt.Errorf("catalog: upserting climate for region %s: %w", rc.Code, err)
	}
	return nil
}

// RegionClimateByCode returns the aggregated climate for one region, or
// ErrNotFound.
func (s *Store) RegionClimateByCode(ctx context.Context, code string) (*RegionClimate, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	rc := &RegionClimate{Code: code}
	err := s.Pool.QueryRow(ctx, `
		SELECT bio1_mean, bio1_min, bio1_max, bio5_mean, bio5_min, bio5_max,
		       bio6_mean, bio6_min, bio6_max, bio12_mean, bio12_min, bio12_max,
		       bio15_mean, bio15_min, bio15_max
		FROM tdwg_climate WHERE tdwg_code = $1
	`, code).Scan(
		&rc.Mean.Bio1, &rc.Min.Bio1, &rc.Max.Bio1,
		&rc.Mean.Bio5, &rc.Min.Bio5, &rc.Max.Bio5,
		&rc.Mean.Bio6, &rc.Min.Bio6, &rc.Max.Bio6,
		&rc.Mean.Bio12, &rc.Min.Bio12, &rc.Max.Bio12,
		&rc.Mean.Bio15, &rc.Min.Bio15, &rc.Max.Bio15)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching climate for region %s: %w", code, err)
	}
	return rc, nil
}

// ClimateAtPoint samples the bioclimatic rasters at a point through the
// get_climate_at_point database function. It returns (nil, nil) when the
// rasters have no coverage at the point or the sampling function is not
// installed, so callers can fall back to regional aggregates. Any other
// failure is returned as an error.
func (s *Store) ClimateAtPoint(ctx context.Context, lat, lon float64) (*BioVector, error) {
	ctx, cancel := context.WithTimeout(ctx, RasterTimeout)
	defer cancel()

	var v BioVector
	var b1, b5, b6, b12, b15 *float64
	err := s.Pool.QueryRow(ctx, `
		SELECT
			MAX(CASE WHEN bio_var = 'bio1' THEN value END),
			MAX(CASE WHEN bio_var = 'bio5' THEN value END),
			MAX(CASE WHEN bio_var = 'bio6' THEN value END),
			MAX(CASE WHEN bio_var = 'bio12' THEN value END),
			MAX(CASE WHEN bio_var = 'bio15' THEN value END)
		FROM get_climate_at_point($1, $2)
	`, lat, lon).Scan(&b1, &b5, &b6, &b12, &b15)
	if err != nil {
		// The sampling function is optional infrastructure; its absence
		// means "no point sample", not a store failure.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedFunction {
			return nil, nil
		}
		return nil, fmt.Errorf("catalog: sampling climate at (%.4f, %.4f): %w", lat, lon, err)
	}
	if b1 == nil || b5 == nil || b6 == nil {
		return nil, nil
	}
	v.Bio1, v.Bio5, v.Bio6 = *b1, *b5, *b6
	if b12 != nil {
		v.Bio12 = *b12
	}
	if b15 != nil {
		v.Bio15 = *b15
	}
	return &v, nil
}

// UpsertEcoregions loads ecoregion reference rows with centroid climate
// samples.
func (s *Store) UpsertEcoregions(ctx context.Context, ecos []Ecoregion) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog: beginning ecoregion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range ecos {
		e := &ecos[i]
		var b1, b5, b6, b12, b15 *float64
		if e.Climate != nil {
			b1, b5, b6, b12, b15 = &e.Climate.Bio1, &e.Climate.Bio5, &e.Climate.Bio6, &e.Climate.Bio12, &e.Climate.Bio15
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ecoregions
				(eco_id, eco_name, biome_num, biome_name, realm, centroid_lon, centroid_lat,
				 bio1, bio5, bio6, bio12, bio15)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (eco_id) DO UPDATE
			SET eco_name = EXCLUDED.eco_name, biome_num = EXCLUDED.biome_num,
			    biome_name = EXCLUDED.biome_name, realm = EXCLUDED.realm,
			    centroid_lon = EXCLUDED.centroid_lon, centroid_lat = EXCLUDED.centroid_lat,
			    bio1 = EXCLUDED.bio1, bio5 = EXCLUDED.bio5, bio6 = EXCLUDED.bio6,
			    bio12 = EXCLUDED.bio12, bio15 = EXCLUDED.bio15
		`, e.EcoID, e.Name, e.BiomeNum, nilIfEmpty(e.BiomeName), nilIfEmpty(e.Realm),
			e.CentroidLon, e.CentroidLat, b1, b5, b6, b12, b15)
		if err != nil {
			return fmt.Errorf("catalog: upserting ecoregion %d: %w", e.EcoID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog: committing ecoregion batch: %w", err)
	}
	return nil
}

// UpsertSpeciesEcoregions writes (species, ecoregion, observations) rows.
func (s *Store) UpsertSpeciesEcoregions(ctx context.Context, rows []SpeciesEcoregion) (inserted, updated int64, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("catalog: beginning species_ecoregions transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range rows {
		r := &rows[i]
		var isInsert bool
		err = tx.QueryRow(ctx, `
			INSERT INTO species_ecoregions (species_id, eco_id, n_observations, source)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (species_id, eco_id) DO UPDATE
			SET n_observations = EXCLUDED.n_observations, source = EXCLUDED.source
			RETURNING (xmax = 0)
		`, r.SpeciesID, r.EcoID, r.NObservations, nilIfEmpty(r.Source)).Scan(&isInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("catalog: upserting species_ecoregion (%d, %d): %w", r.SpeciesID, r.EcoID, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("catalog: committing species_ecoregions batch: %w", err)
	}
	return inserted, updated, nil
}

// EcoregionSamplesSnapshot streams, per species, the centroid climate
// samples of the ecoregions the species occurs in. Ecoregions without a
// valid climate sample are excluded in SQL.
func (s *Store) EcoregionSamplesSnapshot(ctx context.Context, fn func(speciesID int64, samples []BioVector) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning ecoregion snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT se.species_id, e.bio1, e.bio5, e.bio6, e.bio12, e.bio15
		FROM species_ecoregions se
		JOIN ecoregions e ON se.eco_id = e.eco_id
		WHERE e.bio1 IS NOT NULL AND e.bio5 IS NOT NULL AND e.bio6 IS NOT NULL
		  AND e.bio12 IS NOT NULL AND e.bio15 IS NOT NULL
		ORDER BY se.species_id
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming ecoregion samples: %w", err)
	}
	defer rows.Close()

	return streamBioVectors(rows, fn)
}

// OccurrenceSamplesSnapshot streams, per species, the point climate
// samples of its retained occurrences.
func (s *Store) OccurrenceSamplesSnapshot(ctx context.Context, fn func(speciesID int64, samples []BioVector) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning occurrence snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT species_id, bio1, bio5, bio6, bio12, bio15
		FROM raw_occurrences
		WHERE bio1 IS NOT NULL AND bio5 IS NOT NULL AND bio6 IS NOT NULL
		  AND bio12 IS NOT NULL AND bio15 IS NOT NULL
		ORDER BY species_id
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming occurrence samples: %w", err)
	}
	defer rows.Close()

	return streamBioVectors(rows, fn)
}

// RegionAggregatesSnapshot streams, per species, the climate aggregates of
// its native regions.
func (s *Store) RegionAggregatesSnapshot(ctx context.Context, fn func(speciesID int64, aggs []RegionClimate) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning region climate snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT sr.species_id, c.tdwg_code,
		       c.bio1_mean, c.bio1_min, c.bio1_max, c.bio5_mean, c.bio5_min, c.bio5_max,
		       c.bio6_mean, c.bio6_min, c.bio6_max, c.bio12_mean, c.bio12_min, c.bio12_max,
		       c.bio15_mean, c.bio15_min, c.bio15_max
		FROM species_regions sr
		JOIN tdwg_climate c ON sr.tdwg_code = c.tdwg_code
		WHERE sr.is_native AND c.bio1_mean IS NOT NULL
		ORDER BY sr.species_id
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming region aggregates: %w", err)
	}
	defer rows.Close()

	var cur int64 = -1
	var batch []RegionClimate
	flush := func() error {
		if cur >= 0 {
			return fn(cur, batch)
		}
		return nil
	}
	for rows.Next() {
		var id int64
		var rc RegionClimate
		if err := rows.Scan(&id, &rc.Code,
			&rc.Mean.Bio1, &rc.Min.Bio1, &rc.Max.Bio1,
			&rc.Mean.Bio5, &rc.Min.Bio5, &rc.Max.Bio5,
			&rc.Mean.Bio6, &rc.Min.Bio6, &rc.Max.Bio6,
			&rc.Mean.Bio12, &rc.Min.Bio12, &rc.Max.Bio12,
			&rc.Mean.Bio15, &rc.Min.Bio15, &rc.Max.Bio15); err != nil {
			return err
		}
		if id != cur {
			if err := flush(); err != nil {
				return err
			}
			cur = id
			batch = batch[:0]
		}
		batch = append(batch, rc)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

func streamBioVectors(rows pgx.Rows, fn func(speciesID int64, samples []BioVector) error) error {
	var cur int64 = -1
	var batch []BioVector
	flush := func() error {
		if cur >= 0 {
			return fn(cur, batch)
		}
		return nil
	}
	for rows.Next() {
		var id int64
		var v BioVector
		if err := rows.Scan(&id, &v.Bio1, &v.Bio5, &v.Bio6, &v.Bio12, &v.Bio15); err != nil {
			return err
		}
		if id != cur {
			if err := flush(); err != nil {
				return err
			}
			cur = id
			batch = batch[:0]
		}
		batch = append(batch, v)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}
