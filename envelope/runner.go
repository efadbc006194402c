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

package envelope

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// Store is the slice of the catalog the derivers need.
type Store interface {
	OccurrenceSamplesSnapshot(ctx context.Context, fn func(speciesID int64, samples []catalog.BioVector) error) error
	EcoregionSamplesSnapshot(ctx context.Context, fn func(speciesID int64, samples []catalog.BioVector) error) error
	RegionAggregatesSnapshot(ctx context.Context, fn func(speciesID int64, aggs []catalog.RegionClimate) error) error
	UpsertEnvelope(ctx context.Context, src catalog.EnvelopeSource, e *catalog.ClimateEnvelope) error
	RebuildUnifiedEnvelopes(ctx context.Context) (int64, error)
}

// Deriver runs the three envelope derivations and rebuilds the unified
// view.
type Deriver struct {
	Store Store
	Log   *logrus.Logger
}

// Report counts what one derivation pass produced.
type Report struct {
	Occurrence int64
	Ecoregion  int64
	Region     int64
	Unified    int64
}

// Run derives all three envelope variants and rebuilds the unified table.
// Derivations are independent; a species missing from one layer can still
// get an envelope from another.
func (d *Deriver) Run(ctx context.Context) (*Report, error) {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Report{}

	err := d.Store.OccurrenceSamplesSnapshot(ctx, func(id int64, samples []catalog.BioVector) error {
		e := FromOccurrences(id, samples)
		if e == nil {
			return nil
		}
		if err := d.Store.UpsertEnvelope(ctx, catalog.SourceOccurrence, e); err != nil {
			return err
		}
		r.Occurrence++
		return nil
	})
	if err != nil {
		return r, err
	}

	err = d.Store.EcoregionSamplesSnapshot(ctx, func(id int64, samples []catalog.BioVector) error {
		e := FromEcoregionSamples(id, samples)
		if e == nil {
			return nil
		}
		if err := d.Store.UpsertEnvelope(ctx, catalog.SourceEcoregion, e); err != nil {
			return err
		}
		r.Ecoregion++
		return nil
	})
	if err != nil {
		return r, err
	}

	err = d.Store.RegionAggregatesSnapshot(ctx, func(id int64, aggs []catalog.RegionClimate) error {
		e := FromRegionAggregates(id, aggs)
		if e == nil {
			return nil
		}
		if err := d.Store.UpsertEnvelope(ctx, catalog.SourceRegion, e); err != nil {
			return err
		}
		r.Region++
		return nil
	})
	if err != nil {
		return r, err
	}

	r.Unified, err = d.Store.RebuildUnifiedEnvelopes(ctx)
	if err != nil {
		return r, err
	}
	log.WithFields(logrus.Fields{
		"occurrence": r.Occurrence,
		"ecoregion":  r.Ecoregion,
		"region":     r.Region,
		"unified":    r.Unified,
	}).Info("envelope derivation finished")
	return r, nil
}
