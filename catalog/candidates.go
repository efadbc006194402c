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
	"strings"
	"time"
)

// CandidateTimeout bounds the recommendation candidate query, which scans
// wider than the point lookups covered by SQLTimeout.
const CandidateTimeout = 15 * time.Second

// Candidate is one species eligible for recommendation at a site: an
// accepted species with a unified climate envelope, joined to its unified
// traits for scoring and diversity distance.
type Candidate struct {
	SpeciesID     int64
	CanonicalName string
	Genus         string
	Family        string
	CommonNameEN  *string
	CommonNamePT  *string

	GrowthForm        *string
	MaxHeightM        *float64
	Woodiness         *string
	NitrogenFixer     bool
	DispersalSyndrome *string
	Deciduousness     *string
	LifespanYears     *float64
	ThreatStatus      *string
	BrazilNative      bool

	// Region membership flags relative to the filter's region. All false
	// when the filter carried no region.
	IsNative     bool
	IsEndemic    bool
	IsIntroduced bool

	Envelope UnifiedEnvelope
}

// CandidateFilter selects which species enter the scoring pool. Growth
// form values must already be canonical; umbrella expansion happens in
// the recommendation layer.
type CandidateFilter struct {
	// RegionCode restricts candidates to species attested in the region.
	// Empty means no region restriction.
	RegionCode string
	// IncludeIntroduced widens the region membership from native rows to
	// native-or-introduced rows. Ignored without a region.
	IncludeIntroduced bool
	// EndemicsOnly keeps only species endemic to the region.
	EndemicsOnly bool
	// GrowthForms restricts by canonical growth form.
	GrowthForms []string
	// ExcludeThreatened drops species with threat_status CR, EN, or VU.
	// Species with no threat assessment pass.
	ExcludeThreatened bool
	// MinHeightM and MaxHeightM bound the species' maximum height. A
	// species with no recorded height fails a height bound.
	MinHeightM *float64
	MaxHeightM *float64
	// NitrogenFixersOnly keeps only nitrogen fixers.
	NitrogenFixersOnly bool
	// Limit caps the number of rows returned, preferring envelopes with
	// more samples. The recommendation engine leaves this at zero and
	// caps the pool after scoring; a positive limit truncates before any
	// climate scoring happens.
	Limit int
}

// Candidates returns the scoring pool for a site. Synonyms and species
// without envelopes never appear; scoring and diversity selection happen
// in the caller.
func (s *Store) Candidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, CandidateTimeout)
	defer cancel()

	var b strings.Builder
	args := []interface{}{}

	b.WriteString(`
		SELECT sp.id, sp.canonical_name, COALESCE(sp.genus, ''), COALESCE(sp.family, ''),
		       cne.common_name, cnp.common_name,
		       u.growth_form, u.max_height_m, u.woodiness, u.is_nitrogen_fixer,
		       u.dispersal_syndrome, u.deciduousness, u.lifespan_years, u.threat_status, u.brazil_native,
	`)
	if f.RegionCode != "" {
		b.WriteString(`       sr.is_native, sr.is_endemic, sr.is_introduced,`)
	} else {
		b.WriteString(`       FALSE, FALSE, FALSE,`)
	}
	b.WriteString(`
		       e.temp_mean, e.temp_min, e.temp_max, e.temp_p05, e.temp_p95,
		       e.precip_mean, e.precip_min, e.precip_max, e.precip_seasonality,
		       e.n_samples, e.envelope_quality, e.envelope_source, e.source_consensus
		FROM species sp
		JOIN species_climate_envelope_unified e ON e.species_id = sp.id
		JOIN species_unified u ON u.species_id = sp.id
		LEFT JOIN common_names cne ON cne.species_id = sp.id AND cne.language = 'en'
		LEFT JOIN common_names cnp ON cnp.species_id = sp.id AND cnp.language = 'pt'
	`)
	if f.RegionCode != "" {
		args = append(args, f.RegionCode)
		fmt.Fprintf(&b, ` JOIN species_regions sr ON sr.species_id = sp.id AND sr.tdwg_code = $%d`, len(args))
		if f.IncludeIntroduced {
			b.WriteString(` AND (sr.is_native OR sr.is_introduced)`)
		} else {
			b.WriteString(` AND sr.is_native`)
		}
		if f.EndemicsOnly {
			b.WriteString(` AND sr.is_endemic`)
		}
	}
	b.WriteString(` WHERE sp.taxonomic_status = 'accepted'`)

	if len(f.GrowthForms) > 0 {
		args = append(args, f.GrowthForms)
		fmt.Fprintf(&b, " AND u.growth_form = ANY($%d)", len(args))
	}
	if f.ExcludeThreatened {
		b.WriteString(" AND (u.threat_status IS NULL OR u.threat_status NOT IN ('CR', 'EN', 'VU'))")
	}
	if f.MinHeightM != nil {
		args = append(args, *f.MinHeightM)
		fmt.Fprintf(&b, " AND u.max_height_m >= $%d", len(args))
	}
	if f.MaxHeightM != nil {
		args = append(args, *f.MaxHeightM)
		fmt.Fprintf(&b, " AND u.max_height_m <= $%d", len(args))
	}
	if f.NitrogenFixersOnly {
		b.WriteString(" AND u.is_nitrogen_fixer")
	}

	b.WriteString(" ORDER BY e.n_samples DESC, sp.id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.Pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		e := &c.Envelope
		if err := rows.Scan(&c.SpeciesID, &c.CanonicalName, &c.Genus, &c.Family,
			&c.CommonNameEN, &c.CommonNamePT,
			&c.GrowthForm, &c.MaxHeightM, &c.Woodiness, &c.NitrogenFixer,
			&c.DispersalSyndrome, &c.Deciduousness, &c.LifespanYears, &c.ThreatStatus, &c.BrazilNative,
			&c.IsNative, &c.IsEndemic, &c.IsIntroduced,
			&e.TempMean, &e.TempMin, &e.TempMax, &e.TempP05, &e.TempP95,
			&e.PrecipMean, &e.PrecipMin, &e.PrecipMax, &e.PrecipSeasonality,
			&e.NSamples, &e.Quality, &e.Source, &e.Consensus); err != nil {
			return nil, err
		}
		e.SpeciesID = c.SpeciesID
		out = append(out, c)
	}
	return out, rows.Err()
}

// SpeciesSummary is the species listing row served by the catalog browse
// endpoint.
type SpeciesSummary struct {
	SpeciesID     int64   `json:"species_id"`
	CanonicalName string  `json:"canonical_name"`
	Family        string  `json:"family"`
	GrowthForm    *string `json:"growth_form,omitempty"`
	ThreatStatus  *string `json:"threat_status,omitempty"`
	HasEnvelope   bool    `json:"has_envelope"`
	BrazilNative  bool    `json:"brazil_native"`
}

// ListSpecies pages through the accepted species attested in a region,
// optionally narrowed to one canonical growth form or to native rows.
func (s *Store) ListSpecies(ctx context.Context, region, growthForm string, nativeOnly bool, limit, offset int) ([]SpeciesSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	var b strings.Builder
	b.WriteString(`
		SELECT sp.id, sp.canonical_name, COALESCE(sp.family, ''),
		       u.growth_form, u.threat_status,
		       e.species_id IS NOT NULL, COALESCE(u.brazil_native, FALSE)
		FROM species sp
		JOIN species_regions sr ON sr.species_id = sp.id
		LEFT JOIN species_unified u ON u.species_id = sp.id
		LEFT JOIN species_climate_envelope_unified e ON e.species_id = sp.id
		WHERE sp.taxonomic_status = 'accepted' AND sr.tdwg_code = $1
	`)
	args := []interface{}{region}
	if nativeOnly {
		b.WriteString(" AND sr.is_native")
	}
	if growthForm != "" {
		args = append(args, growthForm)
		fmt.Fprintf(&b, " AND u.growth_form = $%d", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY sp.canonical_name LIMIT $%d", len(args))
	args = append(args, offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	rows, err := s.Pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing species in %s: %w", region, err)
	}
	defer rows.Close()

	var out []SpeciesSummary
	for rows.Next() {
		var sm SpeciesSummary
		if err := rows.Scan(&sm.SpeciesID, &sm.CanonicalName, &sm.Family,
			&sm.GrowthForm, &sm.ThreatStatus, &sm.HasEnvelope, &sm.BrazilNative); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// SearchSpecies lists accepted species whose canonical name matches the
// query prefix, case-insensitively.
func (s *Store) SearchSpecies(ctx context.Context, query string, limit int) ([]SpeciesSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	rows, err := s.Pool.Query(ctx, `
		SELECT sp.id, sp.canonical_name, COALESCE(sp.family, ''),
		       u.growth_form, u.threat_status,
		       e.species_id IS NOT NULL, COALESCE(u.brazil_native, FALSE)
		FROM species sp
		LEFT JOIN species_unified u ON u.species_id = sp.id
		LEFT JOIN species_climate_envelope_unified e ON e.species_id = sp.id
		WHERE sp.taxonomic_status = 'accepted' AND sp.canonical_name ILIKE $1 || '%'
		ORDER BY sp.canonical_name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: searching species %q: %w", query, err)
	}
	defer rows.Close()

	var out []SpeciesSummary
	for rows.Next() {
		var sm SpeciesSummary
		if err := rows.Scan(&sm.SpeciesID, &sm.CanonicalName, &sm.Family,
			&sm.GrowthForm, &sm.ThreatStatus, &sm.HasEnvelope, &sm.BrazilNative); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
