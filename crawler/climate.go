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

package crawler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spatialflora/floracast/catalog"
)

// climateAnnotateBatch is how many unannotated occurrences are sampled
// against the raster per round.
const climateAnnotateBatch = 1000

// ClimateStore is the slice of the catalog the climate crawler needs.
type ClimateStore interface {
	UpsertRegionClimate(ctx context.Context, rc *catalog.RegionClimate) error
	OccurrencesMissingClimate(ctx context.Context, afterID string, limit int) ([]catalog.Occurrence, error)
	SetOccurrenceClimate(ctx context.Context, upstreamID string, v *catalog.BioVector) error
	ClimateAtPoint(ctx context.Context, lat, lon float64) (*catalog.BioVector, error)
}

// Climate loads per-region climate aggregates from upstream, then
// backfills the bio variables of occurrence points that have none yet by
// sampling the in-database raster.
type Climate struct {
	Store   ClimateStore
	Client  *Client
	BaseURL string
}

func (c *Climate) Name() string { return "climate" }

type regionClimateRecord struct {
	Code string            `json:"code"`
	Mean catalog.BioVector `json:"mean"`
	Min  catalog.BioVector `json:"min"`
	Max  catalog.BioVector `json:"max"`
}

func (c *Climate) Crawl(ctx context.Context, sess *Session) error {
	body, err := c.Client.Get(ctx, c.BaseURL+"/climate/regions")
	if err != nil {
		return err
	}
	var recs []regionClimateRecord
	if err := json.Unmarshal(body, &recs); err != nil {
		return fmt.Errorf("crawler: decoding region climate: %w", err)
	}
	for _, rec := range recs {
		if rec.Code == "" {
			continue
		}
		rc := &catalog.RegionClimate{Code: rec.Code, Mean: rec.Mean, Min: rec.Min, Max: rec.Max}
		if err := c.Store.UpsertRegionClimate(ctx, rc); err != nil {
			return err
		}
		sess.Add(1, 1, 0)
	}

	// Backfill occurrence points until none are missing climate. Points
	// outside raster coverage stay NULL and are excluded from envelope
	// derivation by the snapshot queries.
	annotated := int64(0)
	after := ""
	for {
		if sess.exhausted() {
			return nil
		}
		occs, err := c.Store.OccurrencesMissingClimate(ctx, after, climateAnnotateBatch)
		if err != nil {
			return err
		}
		if len(occs) == 0 {
			break
		}
		for i := range occs {
			o := &occs[i]
			v, err := c.Store.ClimateAtPoint(ctx, o.Lat, o.Lon)
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			if err := c.Store.SetOccurrenceClimate(ctx, o.UpstreamID, v); err != nil {
				return err
			}
			annotated++
		}
		// Advance past every attempted row so batches of points outside
		// raster coverage cannot pin the loop to the same front.
		after = occs[len(occs)-1].UpstreamID
		sess.Add(int64(len(occs)), 0, annotated)
		annotated = 0
	}
	return nil
}
