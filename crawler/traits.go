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
	"github.com/spatialflora/floracast/taxonomy"
	"github.com/spatialflora/floracast/traits"
)

// SpeciesStore resolves raw names into species ids, creating unresolved
// species records on first sight.
type SpeciesStore interface {
	UpsertSpecies(ctx context.Context, sp *catalog.Species) (int64, error)
}

// speciesResolver memoizes name-to-id lookups within one crawl. Names are
// reduced to their canonical binomial before the species row is created,
// so "Cedrela fissilis Vell." and "Cedrela fissilis" share one record.
type speciesResolver struct {
	store SpeciesStore
	memo  map[string]int64
}

func newSpeciesResolver(store SpeciesStore) *speciesResolver {
	return &speciesResolver{store: store, memo: make(map[string]int64)}
}

func (r *speciesResolver) resolve(ctx context.Context, rawName, authorityKey, authorityID string) (int64, error) {
	canonical := taxonomy.StripAuthority(rawName)
	if canonical == "" {
		return 0, fmt.Errorf("crawler: empty species name")
	}
	if id, ok := r.memo[canonical]; ok {
		return id, nil
	}
	sp := &catalog.Species{CanonicalName: canonical}
	if genus, _ := taxonomy.SplitBinomial(taxonomy.Normalize(canonical)); genus != "" {
		sp.Genus = canonical[:len(genus)]
	}
	if authorityKey != "" && authorityID != "" {
		sp.AuthorityIDs = map[string]string{authorityKey: authorityID}
	}
	id, err := r.store.UpsertSpecies(ctx, sp)
	if err != nil {
		return 0, err
	}
	r.memo[canonical] = id
	return id, nil
}

// TraitStore is the slice of the catalog the trait crawlers need.
type TraitStore interface {
	SpeciesStore
	UpsertRawTraits(ctx context.Context, rows []catalog.RawTrait) (inserted, updated int64, err error)
	UpsertCommonName(ctx context.Context, speciesID int64, language, name string) error
}

// Traits crawls one trait source. The same type serves the trait-growth
// and trait-ecology kinds; they differ in SourceName, endpoint, and which
// fields the upstream populates.
type Traits struct {
	Store      TraitStore
	Client     *Client
	BaseURL    string
	SourceName string
	Vocab      traits.Vocab
	PageSize   int
}

func (t *Traits) Name() string { return t.SourceName }

type traitRecord struct {
	ScientificName string   `json:"scientificName"`
	AuthorityID    string   `json:"sourceId"`
	GrowthForm     string   `json:"growthForm"`
	MaxHeightM     *float64 `json:"maxHeightM"`
	Woodiness      string   `json:"woodiness"`
	NitrogenFixer  *bool    `json:"nitrogenFixer"`
	Dispersal      string   `json:"dispersalSyndrome"`
	Deciduousness  string   `json:"deciduousness"`
	LifespanYears  *float64 `json:"lifespanYears"`
	ThreatStatus   string   `json:"threatStatus"`
	CommonName     string   `json:"commonName"`
	CommonNameLang string   `json:"commonNameLanguage"`
}

type traitPage struct {
	Results      []traitRecord `json:"results"`
	EndOfRecords bool          `json:"endOfRecords"`
}

func (t *Traits) Crawl(ctx context.Context, sess *Session) error {
	cur, err := decodeCursor(sess.Cursor)
	if err != nil {
		return err
	}
	size := t.PageSize
	if size <= 0 {
		size = 500
	}
	vocab := t.Vocab
	if vocab == nil {
		vocab = traits.DefaultVocab()
	}
	resolver := newSpeciesResolver(t.Store)

	for {
		if sess.exhausted() {
			return nil
		}
		url := fmt.Sprintf("%s/traits?offset=%d&limit=%d", t.BaseURL, cur.Offset, size)
		body, err := t.Client.Get(ctx, url)
		if err != nil {
			return err
		}
		var page traitPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("crawler: decoding %s page at offset %d: %w", t.SourceName, cur.Offset, err)
		}

		rows := make([]catalog.RawTrait, 0, len(page.Results))
		for _, rec := range page.Results {
			id, err := resolver.resolve(ctx, rec.ScientificName, t.SourceName, rec.AuthorityID)
			if err != nil {
				sess.Log.WithError(err).WithField("name", rec.ScientificName).Warn("skipping record")
				continue
			}
			row := catalog.RawTrait{SpeciesID: id, Source: t.SourceName}
			if rec.GrowthForm != "" {
				raw := rec.GrowthForm
				row.GrowthFormRaw = &raw
				// Unknown vocabulary keeps the raw value for audit but
				// stores no canonical form.
				if canon, ok := vocab.Normalize(rec.GrowthForm); ok {
					row.GrowthForm = &canon
				}
			}
			row.MaxHeightM = rec.MaxHeightM
			if w := traits.NormalizeWoodiness(rec.Woodiness); w != "" {
				row.Woodiness = &w
			}
			row.NitrogenFixer = rec.NitrogenFixer
			if rec.Dispersal != "" {
				d := rec.Dispersal
				row.DispersalSyndrome = &d
			}
			if rec.Deciduousness != "" {
				d := rec.Deciduousness
				row.Deciduousness = &d
			}
			row.LifespanYears = rec.LifespanYears
			if ts := traits.NormalizeThreatStatus(rec.ThreatStatus); ts != "" {
				row.ThreatStatus = &ts
			}
			rows = append(rows, row)

			if rec.CommonName != "" {
				lang := rec.CommonNameLang
				if lang == "" {
					lang = "en"
				}
				if err := t.Store.UpsertCommonName(ctx, id, lang, rec.CommonName); err != nil {
					return err
				}
			}
		}
		ins, upd, err := t.Store.UpsertRawTraits(ctx, rows)
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
