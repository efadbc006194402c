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

// EcoregionStore is the slice of the catalog the ecoregion crawler needs.
type EcoregionStore interface {
	SpeciesStore
	UpsertEcoregions(ctx context.Context, ecos []catalog.Ecoregion) error
	UpsertSpeciesEcoregions(ctx context.Context, rows []catalog.SpeciesEcoregion) (inserted, updated int64, err error)
}

// Ecoregion crawls the terrestrial ecoregion reference list and the
// species-to-ecoregion observation links. The reference list is small and
// refreshed in full on every run; only the link pages are resumable.
type Ecoregion struct {
	Store      EcoregionStore
	Client     *Client
	BaseURL    string
	SourceName string
	PageSize   int
}

func (e *Ecoregion) Name() string { return "ecoregion" }

func (e *Ecoregion) source() string {
	if e.SourceName != "" {
		return e.SourceName
	}
	return "ecoregion"
}

type ecoregionRecord struct {
	EcoID       int      `json:"ecoId"`
	Name        string   `json:"name"`
	BiomeNum    int      `json:"biomeNum"`
	BiomeName   string   `json:"biomeName"`
	Realm       string   `json:"realm"`
	CentroidLon float64  `json:"centroidLon"`
	CentroidLat float64  `json:"centroidLat"`
	Bio1        *float64 `json:"bio1"`
	Bio5        *float64 `json:"bio5"`
	Bio6        *float64 `json:"bio6"`
	Bio12       *float64 `json:"bio12"`
	Bio15       *float64 `json:"bio15"`
}

type ecoregionLinkRecord struct {
	ScientificName string `json:"scientificName"`
	EcoID          int    `json:"ecoId"`
	NObservations  int    `json:"nObservations"`
}

type ecoregionLinkPage struct {
	Results      []ecoregionLinkRecord `json:"results"`
	EndOfRecords bool                  `json:"endOfRecords"`
}

func (e *Ecoregion) refreshReference(ctx context.Context) error {
	body, err := e.Client.Get(ctx, e.BaseURL+"/ecoregions")
	if err != nil {
		return err
	}
	var recs []ecoregionRecord
	if err := json.Unmarshal(body, &recs); err != nil {
		return fmt.Errorf("crawler: decoding ecoregion reference: %w", err)
	}
	ecos := make([]catalog.Ecoregion, 0, len(recs))
	for _, rec := range recs {
		eco := catalog.Ecoregion{
			EcoID:       rec.EcoID,
			Name:        rec.Name,
			BiomeNum:    rec.BiomeNum,
			BiomeName:   rec.BiomeName,
			Realm:       rec.Realm,
			CentroidLon: rec.CentroidLon,
			CentroidLat: rec.CentroidLat,
		}
		// A centroid climate sample is only stored when every core
		// variable is present; partial vectors would skew envelopes.
		if rec.Bio1 != nil && rec.Bio5 != nil && rec.Bio6 != nil && rec.Bio12 != nil && rec.Bio15 != nil {
			eco.Climate = &catalog.BioVector{
				Bio1: *rec.Bio1, Bio5: *rec.Bio5, Bio6: *rec.Bio6,
				Bio12: *rec.Bio12, Bio15: *rec.Bio15,
			}
		}
		ecos = append(ecos, eco)
	}
	return e.Store.UpsertEcoregions(ctx, ecos)
}

func (e *Ecoregion) Crawl(ctx context.Context, sess *Session) error {
	cur, err := decodeCursor(sess.Cursor)
	if err != nil {
		return err
	}
	size := e.PageSize
	if size <= 0 {
		size = 1000
	}
	if err := e.refreshReference(ctx); err != nil {
		return err
	}
	resolver := newSpeciesResolver(e.Store)

	for {
		if sess.exhausted() {
			return nil
		}
		url := fmt.Sprintf("%s/ecoregion-links?offset=%d&limit=%d", e.BaseURL, cur.Offset, size)
		body, err := e.Client.Get(ctx, url)
		if err != nil {
			return err
		}
		var page ecoregionLinkPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("crawler: decoding ecoregion link page at offset %d: %w", cur.Offset, err)
		}

		rows := make([]catalog.SpeciesEcoregion, 0, len(page.Results))
		for _, rec := range page.Results {
			if rec.EcoID == 0 {
				continue
			}
			id, err := resolver.resolve(ctx, rec.ScientificName, "", "")
			if err != nil {
				sess.Log.WithError(err).WithField("name", rec.ScientificName).Warn("skipping record")
				continue
			}
			rows = append(rows, catalog.SpeciesEcoregion{
				SpeciesID:     id,
				EcoID:         rec.EcoID,
				NObservations: rec.NObservations,
				Source:        e.source(),
			})
		}
		ins, upd, err := e.Store.UpsertSpeciesEcoregions(ctx, rows)
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
