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

// Package distribution consolidates per-source region membership into
// species_regions and materializes per-species range geometry from the
// TDWG level-3 cells.
package distribution

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// Consolidate folds multiple sources' membership tuples for one species
// into one row per region. The flags are OR-folded: any source claiming
// native makes the row native. Sources contributing to a row are recorded
// comma-separated in sorted order so re-runs are stable.
func Consolidate(speciesID int64, raw []catalog.SpeciesRegion, knownRegions map[string]bool) []catalog.SpeciesRegion {
	type fold struct {
		native, endemic, introduced bool
		sources                     map[string]bool
	}
	byCode := make(map[string]*fold)
	for i := range raw {
		r := &raw[i]
		if knownRegions != nil && !knownRegions[r.Code] {
			continue
		}
		f, ok := byCode[r.Code]
		if !ok {
			f = &fold{sources: make(map[string]bool)}
			byCode[r.Code] = f
		}
		f.native = f.native || r.IsNative
		f.endemic = f.endemic || r.IsEndemic
		f.introduced = f.introduced || r.IsIntroduced
		if r.Source != "" {
			f.sources[r.Source] = true
		}
	}

	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]catalog.SpeciesRegion, 0, len(codes))
	for _, code := range codes {
		f := byCode[code]
		srcs := make([]string, 0, len(f.sources))
		for s := range f.sources {
			srcs = append(srcs, s)
		}
		sort.Strings(srcs)
		out = append(out, catalog.SpeciesRegion{
			SpeciesID:    speciesID,
			Code:         code,
			IsNative:     f.native,
			IsEndemic:    f.endemic,
			IsIntroduced: f.introduced,
			Source:       strings.Join(srcs, ","),
		})
	}
	return out
}

// Store is the slice of the catalog the consolidator needs.
type Store interface {
	Regions(ctx context.Context) ([]catalog.Region, error)
	RawDistributionSnapshot(ctx context.Context, fn func(speciesID int64, rows []catalog.SpeciesRegion) error) error
	ReplaceSpeciesRegions(ctx context.Context, speciesID int64, regions []catalog.SpeciesRegion) error
}

// Consolidator rebuilds species_regions from raw_distribution.
type Consolidator struct {
	Store Store
	Log   *logrus.Logger
}

// Run streams a snapshot of raw membership tuples and replaces the
// consolidated rows species by species. Tuples naming regions absent from
// the TDWG reference table are dropped with a warning count.
func (c *Consolidator) Run(ctx context.Context) (int64, error) {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	regions, err := c.Store.Regions(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(regions))
	for i := range regions {
		known[regions[i].Code] = true
	}

	var speciesDone, dropped int64
	err = c.Store.RawDistributionSnapshot(ctx, func(speciesID int64, raw []catalog.SpeciesRegion) error {
		rows := Consolidate(speciesID, raw, known)
		dropped += int64(countUnknown(raw, known))
		if err := c.Store.ReplaceSpeciesRegions(ctx, speciesID, rows); err != nil {
			return err
		}
		speciesDone++
		return nil
	})
	if err != nil {
		return speciesDone, err
	}
	log.WithFields(logrus.Fields{
		"species":        speciesDone,
		"unknown_region": dropped,
	}).Info("distribution consolidation finished")
	return speciesDone, nil
}

func countUnknown(raw []catalog.SpeciesRegion, known map[string]bool) int {
	n := 0
	for i := range raw {
		if !known[raw[i].Code] {
			n++
		}
	}
	return n
}
