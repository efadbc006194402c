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

// pageCursor is the resumable offset used by the paged crawlers.
type pageCursor struct {
	Offset int `json:"offset"`
}

func decodeCursor(raw json.RawMessage) (pageCursor, error) {
	var c pageCursor
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("crawler: decoding cursor: %w", err)
	}
	return c, nil
}

func encodeCursor(c pageCursor) []byte {
	b, _ := json.Marshal(c)
	return b
}

// BackboneStore is the slice of the catalog the backbone crawler needs.
type BackboneStore interface {
	UpsertBackboneNames(ctx context.Context, names []catalog.BackboneName) (inserted, updated int64, err error)
}

// Backbone crawls the reference name backbone. It only maintains
// backbone_names; species rows are created by the ingestion crawlers and
// matched later by the taxonomy resolver.
type Backbone struct {
	Store    BackboneStore
	Client   *Client
	BaseURL  string
	PageSize int
}

func (b *Backbone) Name() string { return "backbone" }

type backboneRecord struct {
	ID             int64  `json:"id"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName"`
	Authorship     string `json:"authorship"`
	Genus          string `json:"genus"`
	Family         string `json:"family"`
	Status         string `json:"taxonomicStatus"`
	AcceptedID     *int64 `json:"acceptedId"`
}

type backbonePage struct {
	Results      []backboneRecord `json:"results"`
	EndOfRecords bool             `json:"endOfRecords"`
}

func backboneStatus(s string) catalog.TaxonomicStatus {
	switch s {
	case "ACCEPTED":
		return catalog.StatusAccepted
	case "SYNONYM", "HOMOTYPIC_SYNONYM", "HETEROTYPIC_SYNONYM", "PROPARTE_SYNONYM":
		return catalog.StatusSynonym
	}
	return catalog.StatusUnresolved
}

func (b *Backbone) Crawl(ctx context.Context, sess *Session) error {
	cur, err := decodeCursor(sess.Cursor)
	if err != nil {
		return err
	}
	size := b.PageSize
	if size <= 0 {
		size = 1000
	}

	for {
		if sess.exhausted() {
			return nil
		}
		url := fmt.Sprintf("%s/names?offset=%d&limit=%d", b.BaseURL, cur.Offset, size)
		body, err := b.Client.Get(ctx, url)
		if err != nil {
			return err
		}
		var page backbonePage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("crawler: decoding backbone page at offset %d: %w", cur.Offset, err)
		}

		names := make([]catalog.BackboneName, 0, len(page.Results))
		for _, rec := range page.Results {
			if rec.ScientificName == "" {
				continue
			}
			canonical := rec.CanonicalName
			if canonical == "" {
				canonical = rec.ScientificName
			}
			names = append(names, catalog.BackboneName{
				BackboneID:         rec.ID,
				ScientificName:     rec.ScientificName,
				CanonicalForm:      canonical,
				Authorship:         rec.Authorship,
				Genus:              rec.Genus,
				Family:             rec.Family,
				Status:             backboneStatus(rec.Status),
				AcceptedBackboneID: rec.AcceptedID,
			})
		}
		ins, upd, err := b.Store.UpsertBackboneNames(ctx, names)
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
