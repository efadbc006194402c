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

package traits

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// DefaultPrecedence orders sources for every attribute that has no
// override. Earlier wins.
var DefaultPrecedence = []string{
	"trait-growth", "trait-ecology", "backbone", "validation", "curated", "auxiliary",
}

// Per-attribute precedence overrides. An attribute absent here uses
// DefaultPrecedence. The tables are data, not logic: changing policy means
// editing a list.
var attributePrecedence = map[string][]string{
	"growth_form":   {"trait-growth", "backbone", "trait-ecology", "curated"},
	"lifespan":      {"trait-ecology", "curated", "trait-growth"},
	"threat_status": {"validation", "curated", "trait-ecology"},
}

// precedenceFor returns the source order for one attribute.
func precedenceFor(attr string) []string {
	if p, ok := attributePrecedence[attr]; ok {
		return p
	}
	return DefaultPrecedence
}

// pickString walks the precedence order and returns the first source with
// a non-empty value for the attribute.
func pickString(attr string, bySource map[string]*catalog.RawTrait, get func(*catalog.RawTrait) *string) *catalog.Attributed[string] {
	for _, src := range precedenceFor(attr) {
		t, ok := bySource[src]
		if !ok {
			continue
		}
		if v := get(t); v != nil && *v != "" {
			return &catalog.Attributed[string]{Value: *v, Source: src}
		}
	}
	return nil
}

func pickFloat(attr string, bySource map[string]*catalog.RawTrait, get func(*catalog.RawTrait) *float64) *catalog.Attributed[float64] {
	for _, src := range precedenceFor(attr) {
		t, ok := bySource[src]
		if !ok {
			continue
		}
		if v := get(t); v != nil {
			return &catalog.Attributed[float64]{Value: *v, Source: src}
		}
	}
	return nil
}

func pickBool(attr string, bySource map[string]*catalog.RawTrait, get func(*catalog.RawTrait) *bool) *catalog.Attributed[bool] {
	for _, src := range precedenceFor(attr) {
		t, ok := bySource[src]
		if !ok {
			continue
		}
		if v := get(t); v != nil {
			return &catalog.Attributed[bool]{Value: *v, Source: src}
		}
	}
	return nil
}

// Consolidate reduces one species' raw trait rows to its unified row.
// Unknown growth form values were already dropped at ingest, so every
// stored growth_form is canonical.
func Consolidate(speciesID int64, raw []catalog.RawTrait) *catalog.UnifiedTrait {
	bySource := make(map[string]*catalog.RawTrait, len(raw))
	for i := range raw {
		bySource[raw[i].Source] = &raw[i]
	}

	u := &catalog.UnifiedTrait{
		SpeciesID:         speciesID,
		GrowthForm:        pickString("growth_form", bySource, func(t *catalog.RawTrait) *string { return t.GrowthForm }),
		MaxHeightM:        pickFloat("max_height", bySource, func(t *catalog.RawTrait) *float64 { return t.MaxHeightM }),
		Woodiness:         pickString("woodiness", bySource, func(t *catalog.RawTrait) *string { return t.Woodiness }),
		NitrogenFixer:     pickBool("nitrogen_fixer", bySource, func(t *catalog.RawTrait) *bool { return t.NitrogenFixer }),
		DispersalSyndrome: pickString("dispersal_syndrome", bySource, func(t *catalog.RawTrait) *string { return t.DispersalSyndrome }),
		Deciduousness:     pickString("deciduousness", bySource, func(t *catalog.RawTrait) *string { return t.Deciduousness }),
		LifespanYears:     pickFloat("lifespan", bySource, func(t *catalog.RawTrait) *float64 { return t.LifespanYears }),
		ThreatStatus:      pickString("threat_status", bySource, func(t *catalog.RawTrait) *string { return t.ThreatStatus }),
	}

	if u.GrowthForm != nil {
		h := HabitOf(u.GrowthForm.Value)
		u.IsTree, u.IsShrub, u.IsClimber, u.IsHerb, u.IsPalm =
			h.IsTree, h.IsShrub, h.IsClimber, h.IsHerb, h.IsPalm
	}
	return u
}

// Store is the slice of the catalog the consolidator needs.
type Store interface {
	RawTraitsSnapshot(ctx context.Context, fn func(speciesID int64, traits []catalog.RawTrait) error) error
	BrazilNativeSpecies(ctx context.Context, brazilCodes []string) (map[int64]bool, error)
	UpsertUnifiedTrait(ctx context.Context, u *catalog.UnifiedTrait) error
}

// BrazilRegionCodes are the TDWG level-3 cells covering Brazil, used to
// materialize the brazil_native convenience flag.
var BrazilRegionCodes = []string{"BZC", "BZE", "BZL", "BZN", "BZS"}

// Consolidator rebuilds species_unified from the raw trait tables.
type Consolidator struct {
	Store Store
	Log   *logrus.Logger
}

// Run streams a snapshot of raw traits and writes one unified row per
// species. Species with no raw rows keep no unified row.
func (c *Consolidator) Run(ctx context.Context) (int64, error) {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	native, err := c.Store.BrazilNativeSpecies(ctx, BrazilRegionCodes)
	if err != nil {
		return 0, err
	}

	var written int64
	err = c.Store.RawTraitsSnapshot(ctx, func(speciesID int64, raw []catalog.RawTrait) error {
		u := Consolidate(speciesID, raw)
		u.BrazilNative = native[speciesID]
		if err := c.Store.UpsertUnifiedTrait(ctx, u); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	log.WithField("species", written).Info("trait consolidation finished")
	return written, nil
}
