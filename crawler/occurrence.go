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

// OccurrenceStore is the slice of the catalog the occurrence crawler
// needs.
type OccurrenceStore interface {
	SpeciesStore
	StageOccurrences(ctx context.Context, occs []catalog.Occurrence) (int64, error)
	PromoteOccurrences(ctx context.Context) (int64, error)
}

// Occurrence crawls georeferenced occurrence records. Pages are staged
// with COPY and the quality filter runs once in SQL at promotion time, so
// the crawler itself only rejects records it cannot attribute to a
// species at all.
type Occurrence struct {
	Store    OccurrenceStore
	Client   *Client
	BaseURL  string
	PageSize int
}

func (o *Occurrence) Name() string { return "occurrence" }

type occurrenceRecord struct {
	Key            string   `json:"key"`
	ScientificName string   `json:"scientificName"`
	Lat            *float64 `json:"decimalLatitude"`
	Lon            *float64 `json:"decimalLongitude"`
	UncertaintyM   *float64 `json:"coordinateUncertaintyInMeters"`
	Year           *int     `json:"year"`
	CountryCode    string   `json:"countryCode"`
}

type occurrencePage struct {
	Results      []occurrenceRecord `json:"results"`
	EndOfRecords bool               `json:"endOfRecords"`
}

func (o *Occurrence) Crawl(ctx context.Context, sess *Session) error {
	cur, err := decodeCursor(sess.Cursor)
	if err != nil {
		return err
	}
	size := o.PageSize
	if size <= 0 {
		size = 1000
	}
	resolver := newSpeciesResolver(o.Store)

	for {
		if sess.exhausted() {
			return nil
		}
		url := fmt.Sprintf("%s/occurrences?offset=%d&limit=%d", o.BaseURL, cur.Offset, size)
		body, err := o.Client.Get(ctx, url)
		if err != nil {
			return err
		}
		var page occurrencePage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("crawler: decoding occurrence page at offset %d: %w", cur.Offset, err)
		}

		occs := make([]catalog.Occurrence, 0, len(page.Results))
		for _, rec := range page.Results {
			if rec.Key == "" || rec.Lat == nil || rec.Lon == nil {
				continue
			}
			id, err := resolver.resolve(ctx, rec.ScientificName, "", "")
			if err != nil {
				sess.Log.WithError(err).WithField("name", rec.ScientificName).Warn("skipping record")
				continue
			}
			occ := catalog.Occurrence{
				UpstreamID:  rec.Key,
				SpeciesID:   id,
				Lat:         *rec.Lat,
				Lon:         *rec.Lon,
				CountryCode: rec.CountryCode,
			}
			if rec.UncertaintyM != nil {
				occ.UncertaintyM = *rec.UncertaintyM
			}
			if rec.Year != nil {
				occ.Year = *rec.Year
			}
			occs = append(occs, occ)
		}
		staged, err := o.Store.StageOccurrences(ctx, occs)
		if err != nil {
			return err
		}
		sess.Add(int64(len(page.Results)), staged, 0)

		cur.Offset += len(page.Results)
		if err := sess.Checkpoint(ctx, encodeCursor(cur)); err != nil {
			return err
		}
		if page.EndOfRecords || len(page.Results) == 0 {
			break
		}
	}

	promoted, err := o.Store.PromoteOccurrences(ctx)
	if err != nil {
		return err
	}
	sess.Log.WithField("promoted", promoted).Info("occurrence promotion finished")
	return nil
}
