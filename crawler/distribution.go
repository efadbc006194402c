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
	"strings"

	"github.com/spatialflora/floracast/catalog"
)

// DistributionStore is the slice of the catalog the distribution crawler
// needs.
type DistributionStore interface {
	SpeciesStore
	UpsertRawDistribution(ctx context.Context, rows []catalog.SpeciesRegion) (inserted, updated int64, err error)
}

// Distribution crawls per-species TDWG region membership.
type Distribution struct {
	Store      DistributionStore
	Client     *Client
	BaseURL    string
	SourceName string
	PageSize   int
}

func (d *Distribution) Name() string { return "distribution" }

// source is the value recorded on raw rows.
func (d *Distribution) source() string {
	if d.SourceName != "" {
		return d.SourceName
	}
	return "distribution"
}

type distributionRecord struct {
	ScientificName string `json:"scientificName"`
	TDWGCode       string `json:"tdwgCode"`
	Establishment  string `json:"establishment"`
	Endemic        bool   `json:"endemic"`
}

type distributionPage struct {
	Results      []distributionRecord `json:"results"`
	EndOfRecords bool                 `json:"endOfRecords"`
}

func (d *Distribution) Crawl(ctx context.Context, sess *Session) error {
	cur, err := decodeCursor(sess.Cursor)
	if err != nil {
		return err
	}
	size := d.PageSize
	if size <= 0 {
		size = 1000
	}
	resolver := newSpeciesResolver(d.Store)

	for {
		if sess.exhausted() {
			return nil
		}
		url := fmt.Sprintf("%s/distribution?offset=%d&limit=%d", d.BaseURL, cur.Offset, size)
		body, err := d.Client.Get(ctx, url)
		if err != nil {
			return err
		}
		var page distributionPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("crawler: decoding distribution page at offset %d: %w", cur.Offset, err)
		}

		rows := make([]catalog.SpeciesRegion, 0, len(page.Results))
		for _, rec := range page.Results {
			if rec.TDWGCode == "" {
				continue
			}
			id, err := resolver.resolve(ctx, rec.ScientificName, "", "")
			if err != nil {
				sess.Log.WithError(err).WithField("name", rec.ScientificName).Warn("skipping record")
				continue
			}
			establishment := strings.ToLower(rec.Establishment)
			rows = append(rows, catalog.SpeciesRegion{
				SpeciesID:    id,
				Code:         strings.ToUpper(rec.TDWGCode),
				Source:       d.source(),
				IsNative:     establishment == "native",
				IsEndemic:    rec.Endemic,
				IsIntroduced: establishment == "introduced",
			})
		}
		ins, upd, err := d.Store.UpsertRawDistribution(ctx, rows)
		if err != nil {
			return err
		}
		sess.Add(int64(len(page.Results)), ins, upd)

		cur.Offset += len(page.Results)
		if err := sess.Checkpoint(ctx, encodeCursor(cur)); err != nil {
			return err
		}
		if page.EndOfRecords || len(page.Results) == 0 {
			return nil
		}
	}
}
