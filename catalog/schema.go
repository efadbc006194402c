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
)

// schema holds the catalog DDL. Raw tables are append-only and written by
// crawlers; consolidated tables are regenerated wholesale by the
// consolidators; envelope tables are regenerated when their inputs change.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,

	`CREATE TABLE IF NOT EXISTS species (
		id BIGSERIAL PRIMARY KEY,
		canonical_name TEXT UNIQUE NOT NULL,
		genus TEXT,
		family TEXT,
		backbone_id BIGINT,
		authority_ids JSONB NOT NULL DEFAULT '{}',
		taxonomic_status TEXT NOT NULL DEFAULT 'unresolved',
		accepted_species_id BIGINT REFERENCES species(id),
		match_method TEXT,
		unmatched_reason TEXT,
		CONSTRAINT species_status_chk CHECK
			(taxonomic_status IN ('accepted','synonym','unresolved')),
		CONSTRAINT species_synonym_chk CHECK
			(taxonomic_status <> 'synonym' OR accepted_species_id IS NOT NULL)
	)`,
	`CREATE INDEX IF NOT EXISTS species_family_idx ON species (family)`,
	`CREATE INDEX IF NOT EXISTS species_backbone_idx ON species (backbone_id)`,

	`CREATE TABLE IF NOT EXISTS backbone_names (
		backbone_id BIGINT PRIMARY KEY,
		scientific_name TEXT NOT NULL,
		canonical_form TEXT NOT NULL,
		authorship TEXT,
		genus TEXT,
		family TEXT,
		status TEXT NOT NULL,
		accepted_backbone_id BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS backbone_canonical_idx ON backbone_names (canonical_form)`,

	`CREATE TABLE IF NOT EXISTS common_names (
		species_id BIGINT NOT NULL REFERENCES species(id),
		language TEXT NOT NULL,
		common_name TEXT NOT NULL,
		PRIMARY KEY (species_id, language)
	)`,

	`CREATE TABLE IF NOT EXISTS raw_traits (
		species_id BIGINT NOT NULL REFERENCES species(id),
		source TEXT NOT NULL,
		growth_form TEXT,
		growth_form_raw TEXT,
		max_height_m DOUBLE PRECISION,
		woodiness TEXT,
		nitrogen_fixer BOOLEAN,
		dispersal_syndrome TEXT,
		deciduousness TEXT,
		lifespan_years DOUBLE PRECISION,
		threat_status TEXT,
		payload JSONB NOT NULL DEFAULT '{}',
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (species_id, source)
	)`,

	`CREATE TABLE IF NOT EXISTS species_unified (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		growth_form TEXT,
		growth_form_source TEXT,
		max_height_m DOUBLE PRECISION,
		max_height_source TEXT,
		woodiness TEXT,
		woodiness_source TEXT,
		is_nitrogen_fixer BOOLEAN NOT NULL DEFAULT FALSE,
		nitrogen_fixer_source TEXT,
		dispersal_syndrome TEXT,
		dispersal_source TEXT,
		deciduousness TEXT,
		deciduousness_source TEXT,
		lifespan_years DOUBLE PRECISION,
		lifespan_source TEXT,
		threat_status TEXT,
		threat_status_source TEXT,
		is_tree BOOLEAN NOT NULL DEFAULT FALSE,
		is_shrub BOOLEAN NOT NULL DEFAULT FALSE,
		is_climber BOOLEAN NOT NULL DEFAULT FALSE,
		is_herb BOOLEAN NOT NULL DEFAULT FALSE,
		is_palm BOOLEAN NOT NULL DEFAULT FALSE,
		brazil_native BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS species_unified_gf_idx ON species_unified (growth_form)`,

	`CREATE TABLE IF NOT EXISTS tdwg_level3 (
		level3_code TEXT PRIMARY KEY,
		level3_name TEXT NOT NULL,
		continent TEXT,
		geom geometry(MultiPolygon, 4326)
	)`,
	`CREATE INDEX IF NOT EXISTS tdwg_level3_geom_idx ON tdwg_level3 USING GIST (geom)`,

	`CREATE TABLE IF NOT EXISTS raw_distribution (
		species_id BIGINT NOT NULL REFERENCES species(id),
		tdwg_code TEXT NOT NULL,
		source TEXT NOT NULL,
		is_native BOOLEAN NOT NULL DEFAULT FALSE,
		is_endemic BOOLEAN NOT NULL DEFAULT FALSE,
		is_introduced BOOLEAN NOT NULL DEFAULT FALSE,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (species_id, tdwg_code, source)
	)`,

	`CREATE TABLE IF NOT EXISTS species_regions (
		species_id BIGINT NOT NULL REFERENCES species(id),
		tdwg_code TEXT NOT NULL REFERENCES tdwg_level3(level3_code),
		is_native BOOLEAN NOT NULL DEFAULT FALSE,
		is_endemic BOOLEAN NOT NULL DEFAULT FALSE,
		is_introduced BOOLEAN NOT NULL DEFAULT FALSE,
		source TEXT,
		PRIMARY KEY (species_id, tdwg_code)
	)`,
	`CREATE INDEX IF NOT EXISTS species_regions_code_idx ON species_regions (tdwg_code)`,

	`CREATE TABLE IF NOT EXISTS species_geometry (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		native_range geometry(MultiPolygon, 4326),
		full_range geometry(MultiPolygon, 4326),
		bbox_xmin DOUBLE PRECISION, bbox_ymin DOUBLE PRECISION,
		bbox_xmax DOUBLE PRECISION, bbox_ymax DOUBLE PRECISION,
		centroid_lon DOUBLE PRECISION, centroid_lat DOUBLE PRECISION,
		native_area_km2 DOUBLE PRECISION,
		full_area_km2 DOUBLE PRECISION,
		n_native_regions INT NOT NULL DEFAULT 0,
		n_regions INT NOT NULL DEFAULT 0,
		native_inferred BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS tdwg_climate (
		tdwg_code TEXT PRIMARY KEY REFERENCES tdwg_level3(level3_code),
		bio1_mean DOUBLE PRECISION, bio1_min DOUBLE PRECISION, bio1_max DOUBLE PRECISION,
		bio5_mean DOUBLE PRECISION, bio5_min DOUBLE PRECISION, bio5_max DOUBLE PRECISION,
		bio6_mean DOUBLE PRECISION, bio6_min DOUBLE PRECISION, bio6_max DOUBLE PRECISION,
		bio12_mean DOUBLE PRECISION, bio12_min DOUBLE PRECISION, bio12_max DOUBLE PRECISION,
		bio15_mean DOUBLE PRECISION, bio15_min DOUBLE PRECISION, bio15_max DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS ecoregions (
		eco_id INT PRIMARY KEY,
		eco_name TEXT NOT NULL,
		biome_num INT,
		biome_name TEXT,
		realm TEXT,
		centroid_lon DOUBLE PRECISION,
		centroid_lat DOUBLE PRECISION,
		bio1 DOUBLE PRECISION, bio5 DOUBLE PRECISION, bio6 DOUBLE PRECISION,
		bio12 DOUBLE PRECISION, bio15 DOUBLE PRECISION
	)`,

	`CREATE TABLE IF NOT EXISTS species_ecoregions (
		species_id BIGINT NOT NULL REFERENCES species(id),
		eco_id INT NOT NULL REFERENCES ecoregions(eco_id),
		n_observations INT NOT NULL DEFAULT 0,
		source TEXT,
		PRIMARY KEY (species_id, eco_id)
	)`,

	`CREATE TABLE IF NOT EXISTS raw_occurrences (
		upstream_id TEXT PRIMARY KEY,
		species_id BIGINT NOT NULL REFERENCES species(id),
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		uncertainty_m DOUBLE PRECISION,
		year INT,
		country_code TEXT,
		bio1 DOUBLE PRECISION, bio5 DOUBLE PRECISION, bio6 DOUBLE PRECISION,
		bio12 DOUBLE PRECISION, bio15 DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS raw_occurrences_species_idx ON raw_occurrences (species_id)`,

	`CREATE TABLE IF NOT EXISTS raw_occurrences_stage (
		upstream_id TEXT,
		species_id BIGINT,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		uncertainty_m DOUBLE PRECISION,
		year INT,
		country_code TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS species_envelope_occurrence (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		temp_mean DOUBLE PRECISION NOT NULL,
		temp_min DOUBLE PRECISION NOT NULL,
		temp_max DOUBLE PRECISION NOT NULL,
		temp_p05 DOUBLE PRECISION,
		temp_p95 DOUBLE PRECISION,
		cold_month_p05 DOUBLE PRECISION,
		warm_month_p95 DOUBLE PRECISION,
		precip_mean DOUBLE PRECISION NOT NULL,
		precip_min DOUBLE PRECISION NOT NULL,
		precip_max DOUBLE PRECISION NOT NULL,
		precip_seasonality DOUBLE PRECISION NOT NULL,
		n_samples INT NOT NULL,
		envelope_quality TEXT NOT NULL,
		notes TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS species_envelope_ecoregion (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		temp_mean DOUBLE PRECISION NOT NULL,
		temp_min DOUBLE PRECISION NOT NULL,
		temp_max DOUBLE PRECISION NOT NULL,
		precip_mean DOUBLE PRECISION NOT NULL,
		precip_min DOUBLE PRECISION NOT NULL,
		precip_max DOUBLE PRECISION NOT NULL,
		precip_seasonality DOUBLE PRECISION NOT NULL,
		n_samples INT NOT NULL,
		envelope_quality TEXT NOT NULL,
		notes TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS species_envelope_region (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		temp_mean DOUBLE PRECISION NOT NULL,
		temp_min DOUBLE PRECISION NOT NULL,
		temp_max DOUBLE PRECISION NOT NULL,
		precip_mean DOUBLE PRECISION NOT NULL,
		precip_min DOUBLE PRECISION NOT NULL,
		precip_max DOUBLE PRECISION NOT NULL,
		precip_seasonality DOUBLE PRECISION NOT NULL,
		n_samples INT NOT NULL,
		envelope_quality TEXT NOT NULL,
		notes TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS species_climate_envelope_unified (
		species_id BIGINT PRIMARY KEY REFERENCES species(id),
		temp_mean DOUBLE PRECISION NOT NULL,
		temp_min DOUBLE PRECISION NOT NULL,
		temp_max DOUBLE PRECISION NOT NULL,
		temp_p05 DOUBLE PRECISION,
		temp_p95 DOUBLE PRECISION,
		precip_mean DOUBLE PRECISION NOT NULL,
		precip_min DOUBLE PRECISION NOT NULL,
		precip_max DOUBLE PRECISION NOT NULL,
		precip_seasonality DOUBLE PRECISION NOT NULL,
		n_samples INT NOT NULL,
		envelope_quality TEXT NOT NULL,
		envelope_source TEXT NOT NULL,
		source_consensus TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS recommendation_cache (
		cache_key TEXT PRIMARY KEY,
		request JSONB NOT NULL,
		response JSONB NOT NULL,
		species_ids BIGINT[] NOT NULL,
		diversity_metrics JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		hit_count INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS crawler_state (
		crawler_name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		cursor JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS crawler_runs (
		id BIGSERIAL PRIMARY KEY,
		crawler_name TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		records_processed BIGINT NOT NULL DEFAULT 0,
		records_inserted BIGINT NOT NULL DEFAULT 0,
		records_updated BIGINT NOT NULL DEFAULT 0,
		error_message TEXT
	)`,
}

// Migrate creates the catalog schema if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: migrating schema: %w", err)
		}
	}
	return nil
}
