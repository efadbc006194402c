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

// UpsertRawTraits writes one trait row per (species, source) in a single
// transaction. Re-running a crawl with the same input replaces rather than
// appends.
func (s *Store) UpsertRawTraits(ctx context.Context, traits []RawTrait) (inserted, updated int64, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("catalog: beginning raw trait transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range traits {
		t := &traits[i]
		var isInsert bool
		err = tx.QueryRow(ctx, `
			INSERT INTO raw_traits
				(species_id, source, growth_form, growth_form_raw, max_height_m, woodiness,
				 nitrogen_fixer, dispersal_syndrome, deciduousness, lifespan_years, threat_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (species_id, source) DO UPDATE
			SET growth_form = EXCLUDED.growth_form,
			    growth_form_raw = EXCLUDED.growth_form_raw,
			    max_height_m = EXCLUDED.max_height_m,
			    woodiness = EXCLUDED.woodiness,
			    nitrogen_fixer = EXCLUDED.nitrogen_fixer,
			    dispersal_syndrome = EXCLUDED.dispersal_syndrome,
			    deciduousness = EXCLUDED.deciduousness,
			    lifespan_years = EXCLUDED.lifespan_years,
			    threat_status = EXCLUDED.threat_status,
			    fetched_at = NOW()
			RETURNING (xmax = 0)
		`, t.SpeciesID, t.Source, t.GrowthForm, t.GrowthFormRaw, t.MaxHeightM, t.Woodiness,
			t.NitrogenFixer, t.DispersalSyndrome, t.Deciduousness, t.LifespanYears, t.ThreatStatus).Scan(&isInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("catalog: upserting raw trait (%d, %s): %w", t.SpeciesID, t.Source, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("catalog: committing raw trait batch: %w", err)
	}
	return inserted, updated, nil
}

// RawTraitsSnapshot opens a repeatable-read transaction and streams all
// raw trait rows grouped by species id, calling fn once per species. The
// snapshot isolates the consolidator from crawlers appending concurrently.
func (s *Store) RawTraitsSnapshot(ctx context.Context, fn func(speciesID int64, traits []RawTrait) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("catalog: beginning trait snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT species_id, source, growth_form, growth_form_raw, max_height_m, woodiness,
		       nitrogen_fixer, dispersal_syndrome, deciduousness, lifespan_years, threat_status
		FROM raw_traits
		ORDER BY species_id, source
	`)
	if err != nil {
		return fmt.Errorf("catalog: streaming raw traits: %w", err)
	}
	defer rows.Close()

	var cur int64 = -1
	var batch []RawTrait
	flush := func() error {
		if cur >= 0 {
			return fn(cur, batch)
		}
		return nil
	}
	for rows.Next() {
		var t RawTrait
		if err := rows.Scan(&t.SpeciesID, &t.Source, &t.GrowthForm, &t.GrowthFormRaw,
			&t.MaxHeightM, &t.Woodiness, &t.NitrogenFixer, &t.DispersalSyndrome,
			&t.Deciduousness, &t.LifespanYears, &t.ThreatStatus); err != nil {
			return err
		}
		if t.SpeciesID != cur {
			if err := flush(); err != nil {
				return err
			}
			cur = t.SpeciesID
			batch = batch[:0]
		}
		batch = append(batch, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// UpsertUnifiedTrait replaces the unified row for one species. The upsert
// does not block concurrent readers.
func (s *Store) UpsertUnifiedTrait(ctx context.Context, u *UnifiedTrait) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO species_unified
			(species_id, growth_form, growth_form_source, max_height_m, max_height_source,
			 woodiness, woodiness_source, is_nitrogen_fixer, nitrogen_fixer_source,
			 dispersal_syndrome, dispersal_source, deciduousness, deciduousness_source,
			 lifespan_years, lifespan_source, threat_status, threat_status_source,
			 is_tree, is_shrub, is_climber, is_herb, is_palm, brazil_native)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (species_id) DO UPDATE
		SET growth_form = EXCLUDED.growth_form,
		    growth_form_source = EXCLUDED.growth_form_source,
		    max_height_m = EXCLUDED.max_height_m,
		    max_height_source = EXCLUDED.max_height_source,
		    woodiness = EXCLUDED.woodiness,
		    woodiness_source = EXCLUDED.woodiness_source,
		    is_nitrogen_fixer = EXCLUDED.is_nitrogen_fixer,
		    nitrogen_fixer_source = EXCLUDED.nitrogen_fixer_source,
		    dispersal_syndrome = EXCLUDED.dispersal_syndrome,
		    dispersal_source = EXCLUDED.dispersal_source,
		    deciduousness = EXCLUDED.deciduousness,
		    deciduousness_source = EXCLUDED.deciduousness_source,
		    lifespan_years = EXCLUDED.lifespan_years,
		    lifespan_source = EXCLUDED.lifespan_source,
		    threat_status = EXCLUDED.threat_status,
		    threat_status_source = EXCLUDED.threat_status_source,
		    is_tree = EXCLUDED.is_tree,
		    is_shrub = EXCLUDED.is_shrub,
		    is_climber = EXCLUDED.is_climber,
		    is_herb = EXCLUDED.is_herb,
		    is_palm = EXCLUDED.is_palm,
		    brazil_native = EXCLUDED.brazil_native
	`, u.SpeciesID,
		attrVal(u.GrowthForm), attrSrc(u.GrowthForm),
		attrVal(u.MaxHeightM), attrSrc(u.MaxHeightM),
		attrVal(u.Woodiness), attrSrc(u.Woodiness),
		attrBool(u.NitrogenFixer), attrSrc(u.NitrogenFixer),
		attrVal(u.DispersalSyndrome), attrSrc(u.DispersalSyndrome),
		attrVal(u.Deciduousness), attrSrc(u.Deciduousness),
		attrVal(u.LifespanYears), attrSrc(u.LifespanYears),
		attrVal(u.ThreatStatus), attrSrc(u.ThreatStatus),
		u.IsTree, u.IsShrub, u.IsClimber, u.IsHerb, u.IsPalm, u.BrazilNative)
	if err != nil {
		return fmt.Errorf("catalog: upserting unified trait for species %d: %w", u.SpeciesID, err)
	}
	return nil
}

// BrazilNativeSpecies returns the ids of species with at least one native
// SpeciesRegion row in the Brazil subset of region codes.
func (s *Store) BrazilNativeSpecies(ctx context.Context, brazilCodes []string) (map[int64]bool, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT DISTINCT species_id FROM species_regions
		WHERE is_native AND tdwg_code = ANY($1)
	`, brazilCodes)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing Brazil-native species: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func attrVal[T any](a *Attributed[T]) interface{} {
	if a == nil {
		return nil
	}
	return a.Value
}

func attrSrc[T any](a *Attributed[T]) interface{} {
	if a == nil {
		return nil
	}
	return a.Source
}

// attrBool returns false rather than NULL for a missing boolean attribute;
// species_unified.is_nitrogen_fixer is NOT NULL.
func attrBool(a *Attributed[bool]) bool {
	return a != nil && a.Value
}
