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
	"time"
)

// CatalogStats summarizes the state of the catalog for the stats endpoint.
type CatalogStats struct {
	SpeciesTotal      int64 `json:"species_total"`
	SpeciesAccepted   int64 `json:"species_accepted"`
	SpeciesSynonyms   int64 `json:"species_synonyms"`
	SpeciesUnresolved int64 `json:"species_unresolved"`

	WithUnifiedTraits   int64 `json:"with_unified_traits"`
	WithDistribution    int64 `json:"with_distribution"`
	WithUnifiedEnvelope int64 `json:"with_unified_envelope"`

	EnvelopesBySource  map[string]int64 `json:"envelopes_by_source"`
	EnvelopesByQuality map[string]int64 `json:"envelopes_by_quality"`
	GrowthForms        map[string]int64 `json:"growth_forms"`

	RegionsWithClimate int64 `json:"regions_with_climate"`
	Occurrences        int64 `json:"occurrences"`

	Cache *CacheStats `json:"cache,omitempty"`
}

// Stats gathers catalog counters. The scan queries are bounded together;
// the endpoint is for dashboards, not hot paths.
func (s *Store) Stats(ctx context.Context) (*CatalogStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	st := &CatalogStats{
		EnvelopesBySource:  make(map[string]int64),
		EnvelopesByQuality: make(map[string]int64),
		GrowthForms:        make(map[string]int64),
	}

	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE taxonomic_status = 'accepted'),
		       COUNT(*) FILTER (WHERE taxonomic_status = 'synonym'),
		       COUNT(*) FILTER (WHERE taxonomic_status = 'unresolved')
		FROM species
	`).Scan(&st.SpeciesTotal, &st.SpeciesAccepted, &st.SpeciesSynonyms, &st.SpeciesUnresolved)
	if err != nil {
		return nil, fmt.Errorf("catalog: counting species: %w", err)
	}

	err = s.Pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM species_unified),
		       (SELECT COUNT(DISTINCT species_id) FROM species_regions),
		       (SELECT COUNT(*) FROM species_climate_envelope_unified),
		       (SELECT COUNT(*) FROM tdwg_climate WHERE bio1_mean IS NOT NULL),
		       (SELECT COUNT(*) FROM raw_occurrences)
	`).Scan(&st.WithUnifiedTraits, &st.WithDistribution, &st.WithUnifiedEnvelope,
		&st.RegionsWithClimate, &st.Occurrences)
	if err != nil {
		return nil, fmt.Errorf("catalog: counting coverage: %w", err)
	}

	if err := s.countsInto(ctx, `
		SELECT envelope_source, COUNT(*) FROM species_climate_envelope_unified GROUP BY 1
	`, st.EnvelopesBySource); err != nil {
		return nil, err
	}
	if err := s.countsInto(ctx, `
		SELECT envelope_quality, COUNT(*) FROM species_climate_envelope_unified GROUP BY 1
	`, st.EnvelopesByQuality); err != nil {
		return nil, err
	}
	if err := s.countsInto(ctx, `
		SELECT growth_form, COUNT(*) FROM species_unified WHERE growth_form IS NOT NULL GROUP BY 1
	`, st.GrowthForms); err != nil {
		return nil, err
	}

	cache, err := s.CacheStats(ctx)
	if err != nil {
		return nil, err
	}
	st.Cache = cache
	return st, nil
}

func (s *Store) countsInto(ctx context.Context, q string, dst map[string]int64) error {
	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("catalog: counting groups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}
