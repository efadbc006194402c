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

package floracastutil

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/distribution"
	"github.com/spatialflora/floracast/envelope"
	"github.com/spatialflora/floracast/taxonomy"
	"github.com/spatialflora/floracast/traits"
)

// Migrate applies the catalog schema.
func Migrate(ctx context.Context) error {
	log := initLog()
	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info("catalog schema up to date")
	return nil
}

// Consolidate resolves taxonomy and rebuilds the unified trait and
// distribution tables. The resolver runs first so trait and distribution
// rows attributed to synonyms consolidate under the accepted species.
func Consolidate(ctx context.Context) error {
	log := initLog()
	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := &taxonomy.Resolver{Store: store, Log: log}
	report, err := resolver.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"accepted":  report.Accepted,
		"synonyms":  report.Synonyms,
		"unmatched": len(report.Unmatched),
	}).Info("taxonomy resolved")

	tc := &traits.Consolidator{Store: store, Log: log}
	n, err := tc.Run(ctx)
	if err != nil {
		return err
	}
	log.WithField("species", n).Info("traits consolidated")

	dc := &distribution.Consolidator{Store: store, Log: log}
	n, err = dc.Run(ctx)
	if err != nil {
		return err
	}
	log.WithField("species", n).Info("distribution consolidated")

	m := &distribution.Materializer{Store: store, Log: log}
	n, err = m.Run(ctx)
	if err != nil {
		return err
	}
	log.WithField("species", n).Info("range geometry materialized")
	return nil
}

// Derive computes the three climate envelope variants and rebuilds the
// unified envelope view.
func Derive(ctx context.Context) error {
	log := initLog()
	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	d := &envelope.Deriver{Store: store, Log: log}
	report, err := d.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"occurrence": report.Occurrence,
		"ecoregion":  report.Ecoregion,
		"region":     report.Region,
		"unified":    report.Unified,
	}).Info("envelopes derived")
	return nil
}
