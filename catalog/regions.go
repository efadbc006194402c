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

// UpsertRegion loads one TDWG level-3 cell with its geometry. Region
// geometries are canonical reference data loaded out-of-band.
func (s *Store) UpsertRegion(ctx context.Context, r *Region) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO tdwg_level3 (level3_code, level3_name, continent, geom)
		VALUES ($1, $2, $3, ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)))
		ON CONFLICT (level3_code) DO UPDATE
		SET level3_name = EXCLUDED.level3_name,
		    continent = EXCLUDED.continent,
		    geom = EXCLUDED.geom
	`, r.Code, r.Name, nilIfEmpty(r.Continent), string(r.GeoJSON))
	if err != nil {
		return fmt.Errorf("catalog: upserting region %s: %w", r.Code, err)
	}
	return nil
}

// Regions returns all regions with their geometries encoded as GeoJSON,
// for building the in-process locator index.
func (s *Store) Regions(ctx context.Context) ([]Region, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT level3_code, level3_name, COALESCE(continent, ''), ST_AsGeoJSON(geom)
		FROM tdwg_level3
		ORDER BY level3_code
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing regions: %w", err)
	}
	defer rows.Close()

	var out []Region
	for rows.Next() {
		var r Region
		var gj *string
		if err := rows.Scan(&r.Code, &r.Name, &r.Continent, &gj); err != nil {
			return nil, err
		}
		if gj != nil {
			r.GeoJSON = []byte(*gj)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RegionByCode fetches one region without geometry.
func (s *Store) RegionByCode(ctx context.Context, code string) (*Region, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	r := &Region{}
	err := s.Pool.QueryRow(ctx, `
		SELECT level3_code, level3_name, COALESCE(continent, '')
		FROM tdwg_level3 WHERE level3_code = $1
	`, code).Scan(&r.Code, &r.Name, &r.Continent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching region %s: %w", code, err)
	}
	return r, nil
}

// RegionAtPoint returns the region whose geometry contains the point, or
// ErrNotFound when no region does.
func (s *Store) RegionAtPoint(ctx context.Context, lat, lon float64) (*Region, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	r := &Region{}
	err := s.Pool.QueryRow(ctx, `
		SELECT level3_code, level3_name, COALESCE(continent, '')
		FROM tdwg_level3
		WHERE ST_Contains(geom, ST_SetSRID(ST_Point($1, $2), 4326))
		LIMIT 1
	`, lon, lat).Scan(&r.Code, &r.Name, &r.Continent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: locating region at (%.4f, %.4f): %w", lat, lon, err)
	}
	return r, nil
}

// NearestRegion returns the nearest region within tolerance degrees of the
// point, along with its distance in km, or ErrNotFound when none is that
// close.
func (s *Store) NearestRegion(ctx context.Context, lat, lon, tolerance float64) (*Region, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	r := &Region{}
	var distKm float64
	err := s.Pool.QueryRow(ctx, `
		SELECT level3_code, level3_name, COALESCE(continent, ''),
		       ST_Distance(geom, ST_SetSRID(ST_Point($1, $2), 4326)) * 111
		FROM tdwg_level3
		WHERE ST_DWithin(geom, ST_SetSRID(ST_Point($1, $2), 4326), $3)
		ORDER BY geom <-> ST_SetSRID(ST_Point($1, $2), 4326)
		LIMIT 1
	`, lon, lat, tolerance).Scan(&r.Code, &r.Name, &r.Continent, &distKm)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: locating nearest region to (%.4f, %.4f): %w", lat, lon, err)
	}
	return r, distKm, nil
}

// UpsertRawDistribution stages per-source distribution tuples.
func (s *Store) UpsertRawDistribution(ctx context.Context, rows []SpeciesRegion) (inserted, updated int64, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("catalog: beginning distribution transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range rows {
		r := &rows[i]
		var isInsert bool
		err = tx.QueryRow(ctx, `
			INSERT INTO raw_distribution (species_id, tdwg_code, source, is_native, is_endemic, is_introduced)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (species_id, tdwg_code, source) DO UPDATE
			SET is_native = EXCLUDED.is_native,
			    is_endemic = EXCLUDED.is_endemic,
			    is_introduced = EXCLUDED.is_introduced,
			    fetched_at = NOW()
			RETURNING (xmax = 0)
		`, r.SpeciesID, r.Code, r.Source, r.IsNative, r.IsEndemic, r.IsIntroduced).Scan(&isInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("catalog: upserting raw distribution (%d, %s, %s): %w",
				r.SpeciesID, r.Code, r.Source, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("catalog: committing distribution batch: %w", err)
	}
	return inserted, updated, nil
}

// RawDistributionSnapshot streams raw distribution rows grouped by species
// under a repeatable-read snapshot.
func (s *Store) RawDistributionSnapshot(ctx context.Context, fn func(speciesID int64, rows []SpeciesRegion) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning distribution snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT species_id, tdwg_code, source, is_native, is_endemic, is_introduced
		FROM raw_distribution
		ORDER BY species_id, tdwg_code, source
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming raw distribution: %w", err)
	}
	defer rows.Close()

	var cur int64 = -1
	var batch []SpeciesRegion
	flush := func() error {
		if cur >= 0 {
			return fn(cur, batch)
		}
		return nil
	}
	for rows.Next() {
		var r SpeciesRegion
		if err := rows.Scan(&r.SpeciesID, &r.Code, &r.Source, &r.IsNative, &r.IsEndemic, &r.IsIntroduced); err != nil {
			return err
		}
		if r.SpeciesID != cur {
			if err := flush(); err != nil {
				return err
			}
			cur = r.SpeciesID
			batch = batch[:0]
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// SpeciesRegionsSnapshot streams consolidated membership rows grouped by
// species under a repeatable-read snapshot, for the geometry materializer.
func (s *Store) SpeciesRegionsSnapshot(ctx context.Context, fn func(speciesID int64, rows []SpeciesRegion) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning species_regions snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT species_id, tdwg_code, is_native, is_endemic, is_introduced, COALESCE(source, '')
		FROM species_regions
		ORDER BY species_id, tdwg_code
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming species_regions: %w", err)
	}
	defer rows.Close()

	var cur int64 = -1
	var batch []SpeciesRegion
	flush := func() error {
		if cur >= 0 {
			return fn(cur, batch)
		}
		return nil
	}
	for rows.Next() {
		var r SpeciesRegion
		if err := rows.Scan(&r.SpeciesID, &r.Code, &r.IsNative, &r.IsEndemic, &r.IsIntroduced, &r.Source); err != nil {
			return err
		}
		if r.SpeciesID != cur {
			if err := flush(); err != nil {
				return err
			}
			cur = r.SpeciesID
			batch = batch[:0]
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// ReplaceSpeciesRegions replaces the consolidated membership rows for one
// species in a single transaction.
func (s *Store) ReplaceSpeciesRegions(ctx context.Context, speciesID int64, regions []SpeciesRegion) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog: beginning species_regions transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM species_regions WHERE species_id = $1`, speciesID); err != nil {
		return fmt.Errorf("catalog: clearing species_regions for %d: %w", speciesID, err)
	}
	for i := range regions {
		r := &regions[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO species_regions (species_id, tdwg_code, is_native, is_endemic, is_introduced, source)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (species_id, tdwg_code) DO UPDATE
			SET is_native = EXCLUDED.is_native,
			    is_endemic = EXCLUDED.is_endemic,
			    is_introduced = EXCLUDED.is_introduced,
			    source = EXCLUDED.source
		`, speciesID, r.Code, r.IsNative, r.IsEndemic, r.IsIntroduced, nilIfEmpty(r.Source))
		if err != nil {
			return fmt.Errorf("catalog: inserting species_regions (%d, %s): %w", speciesID, r.Code, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("catalog: committing species_regions for %d: %w", speciesID, err)
	}
	return nil
}

// SpeciesRegions returns the consolidated membership rows for one species.
func (s *Store) SpeciesRegions(ctx context.Context, speciesID int64) ([]SpeciesRegion, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT species_id, tdwg_code, is_native, is_endemic, is_introduced, COALESCE(source, '')
		FROM species_regions WHERE species_id = $1 ORDER BY tdwg_code
	`, speciesID)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing regions for species %d: %w", speciesID, err)
	}
	defer rows.Close()

	var out []SpeciesRegion
	for rows.Next() {
		var r SpeciesRegion
		if err := rows.Scan(&r.SpeciesID, &r.Code, &r.IsNative, &r.IsEndemic, &r.IsIntroduced, &r.Source); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSpeciesGeometry writes the materialized range for one species.
// Ranges arrive as GeoJSON computed by the distribution consolidator.
func (s *Store) UpsertSpeciesGeometry(ctx context.Context, g *SpeciesGeometry) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO species_geometry
			(species_id, native_range, full_range,
			 bbox_xmin, bbox_ymin, bbox_xmax, bbox_ymax,
			 centroid_lon, centroid_lat, native_area_km2, full_area_km2,
			 n_native_regions, n_regions, native_inferred)
		VALUES ($1,
			ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($2), 4326)),
			ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($3), 4326)),
			$4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (species_id) DO UPDATE
		SET native_range = EXCLUDED.native_range,
		    full_range = EXCLUDED.full_range,
		    bbox_xmin = EXCLUDED.bbox_xmin, bbox_ymin = EXCLUDED.bbox_ymin,
		    bbox_xmax = EXCLUDED.bbox_xmax, bbox_ymax = EXCLUDED.bbox_ymax,
		    centroid_lon = EXCLUDED.centroid_lon, centroid_lat = EXCLUDED.centroid_lat,
		    native_area_km2 = EXCLUDED.native_area_km2,
		    full_area_km2 = EXCLUDED.full_area_km2,
		    n_native_regions = EXCLUDED.n_native_regions,
		    n_regions = EXCLUDED.n_regions,
		    native_inferred = EXCLUDED.native_inferred
	`, g.SpeciesID, string(g.NativeRangeGeoJSON), string(g.FullRangeGeoJSON),
		g.BBox[0], g.BBox[1], g.BBox[2], g.BBox[3],
		g.CentroidLon, g.CentroidLat, g.NativeAreaKm2, g.FullAreaKm2,
		g.NNativeRegions, g.NRegions, g.NativeInferred)
	if err != nil {
		return fmt.Errorf("catalog: upserting geometry for species %d: %w", g.SpeciesID, err)
	}
	return nil
}
