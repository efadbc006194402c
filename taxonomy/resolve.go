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

package taxonomy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// Store is the slice of the catalog the resolver needs.
type Store interface {
	UnresolvedSpecies(ctx context.Context) ([]*catalog.Species, error)
	BackboneNames(ctx context.Context) ([]catalog.BackboneName, error)
	UpsertSpecies(ctx context.Context, sp *catalog.Species) (int64, error)
	AnnotateMatch(ctx context.Context, speciesID, backboneID int64, status catalog.TaxonomicStatus, acceptedSpeciesID *int64, method string) error
	AnnotateUnmatched(ctx context.Context, speciesID int64, reason string) error
}

// Resolver matches every unresolved species against the backbone and
// annotates the outcome. Synonym matches also guarantee that the accepted
// species record exists, so a synonym always points at a resolvable row.
type Resolver struct {
	Store Store
	Log   *logrus.Logger
}

// Report summarizes one resolver pass.
type Report struct {
	Processed int
	Accepted  int
	Synonyms  int
	Unmatched map[string]int
}

// Run resolves all currently unresolved species. Resolution only
// annotates; no species rows are ever deleted.
func (r *Resolver) Run(ctx context.Context) (*Report, error) {
	log := r.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	names, err := r.Store.BackboneNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("taxonomy: backbone name table is empty; run the backbone crawler first")
	}
	matcher := NewMatcher(names)

	byBackboneID := make(map[int64]*catalog.BackboneName, len(names))
	for i := range names {
		byBackboneID[names[i].BackboneID] = &names[i]
	}

	pending, err := r.Store.UnresolvedSpecies(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Unmatched: make(map[string]int)}
	for _, sp := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		res, reason := matcher.Match(sp.CanonicalName)
		if res == nil {
			report.Unmatched[reason]++
			if err := r.Store.AnnotateUnmatched(ctx, sp.ID, reason); err != nil {
				return report, err
			}
			continue
		}

		var acceptedSpeciesID *int64
		status := res.Status
		if status == catalog.StatusSynonym {
			id, err := r.ensureAccepted(ctx, byBackboneID, res.AcceptedBackboneID)
			if err != nil {
				log.WithError(err).WithField("species", sp.CanonicalName).
					Warn("synonym target missing from backbone; recording as unmatched")
				report.Unmatched[ReasonNoCandidate]++
				if err := r.Store.AnnotateUnmatched(ctx, sp.ID, ReasonNoCandidate); err != nil {
					return report, err
				}
				continue
			}
			acceptedSpeciesID = &id
			report.Synonyms++
		} else {
			report.Accepted++
		}

		if err := r.Store.AnnotateMatch(ctx, sp.ID, res.BackboneID, status, acceptedSpeciesID, res.Method); err != nil {
			return report, err
		}
	}

	log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"accepted":  report.Accepted,
		"synonyms":  report.Synonyms,
		"unmatched": report.Unmatched,
	}).Info("taxonomic resolution finished")
	return report, nil
}

// ensureAccepted upserts the species row for a synonym's accepted backbone
// name and returns its id. Chains are flattened here: the created row is
// always accepted, so a synonym points one link at most.
func (r *Resolver) ensureAccepted(ctx context.Context, byBackboneID map[int64]*catalog.BackboneName, acceptedBackboneID *int64) (int64, error) {
	if acceptedBackboneID == nil {
		return 0, fmt.Errorf("taxonomy: synonym without accepted backbone id")
	}
	target, ok := byBackboneID[*acceptedBackboneID]
	if !ok {
		return 0, fmt.Errorf("taxonomy: accepted backbone id %d not in name table", *acceptedBackboneID)
	}
	// Follow one more link if the backbone's accepted row is itself a
	// synonym; deeper chains are malformed backbone data.
	if target.Status == catalog.StatusSynonym && target.AcceptedBackboneID != nil {
		if t2, ok := byBackboneID[*target.AcceptedBackboneID]; ok {
			target = t2
		}
	}

	id, err := r.Store.UpsertSpecies(ctx, &catalog.Species{
		CanonicalName: target.CanonicalForm,
		Genus:         target.Genus,
		Family:        target.Family,
		Status:        catalog.StatusAccepted,
	})
	if err != nil {
		return 0, err
	}
	if err := r.Store.AnnotateMatch(ctx, id, target.BackboneID, catalog.StatusAccepted, nil, MethodExact); err != nil {
		return 0, err
	}
	return id, nil
}
