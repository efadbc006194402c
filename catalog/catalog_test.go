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

package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/internal/postgis"
)

// setup starts a PostGIS container, migrates the schema, and returns a
// connected store.
func setup(t *testing.T) (*catalog.Store, context.Context) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()
	url, c := postgis.SetupTestDB(ctx, t)
	t.Cleanup(func() { c.Terminate(ctx) })

	store, err := catalog.Connect(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return store, ctx
}

func TestSpeciesUpsertIdempotent(t *testing.T) {
	store, ctx := setup(t)

	sp := &catalog.Species{
		CanonicalName: "Handroanthus impetiginosus",
		Genus:         "Handroanthus",
		Family:        "Bignoniaceae",
		AuthorityIDs:  map[string]string{"gbif": "4091509"},
	}
	id1, err := store.UpsertSpecies(ctx, sp)
	if err != nil {
		t.Fatal(err)
	}

	// Re-ingesting the same canonical name must return the same id and
	// merge authority ids rather than duplicating the row.
	sp2 := &catalog.Species{
		CanonicalName: "Handroanthus impetiginosus",
		AuthorityIDs:  map[string]string{"powo": "109213-2"},
	}
	id2, err := store.UpsertSpecies(ctx, sp2)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id for same canonical name, got %d and %d", id1, id2)
	}

	got, err := store.SpeciesByID(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.AuthorityIDs["gbif"] != "4091509" || got.AuthorityIDs["powo"] != "109213-2" {
		t.Errorf("authority ids not merged: %v", got.AuthorityIDs)
	}
	if got.Genus != "Handroanthus" {
		t.Errorf("genus lost on merge: %q", got.Genus)
	}
	if got.Status != catalog.StatusUnresolved {
		t.Errorf("new species should start unresolved, got %s", got.Status)
	}
}

func TestAnnotateMatch(t *testing.T) {
	store, ctx := setup(t)

	accID, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: "Cedrela fissilis"})
	if err != nil {
		t.Fatal(err)
	}
	synID, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: "Cedrela tubiflora"})
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AnnotateMatch(ctx, accID, 3061408, catalog.StatusAccepted, nil, "exact"); err != nil {
		t.Fatal(err)
	}
	if err := store.AnnotateMatch(ctx, synID, 3061411, catalog.StatusSynonym, &accID, "exact"); err != nil {
		t.Fatal(err)
	}

	unresolved, err := store.UnresolvedSpecies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved species, got %d", len(unresolved))
	}

	syn, err := store.SpeciesByID(ctx, synID)
	if err != nil {
		t.Fatal(err)
	}
	if syn.Status != catalog.StatusSynonym || syn.AcceptedSpeciesID == nil || *syn.AcceptedSpeciesID != accID {
		t.Errorf("synonym annotation wrong: status=%s accepted=%v", syn.Status, syn.AcceptedSpeciesID)
	}
}

func TestRawTraitsSnapshotGroups(t *testing.T) {
	store, ctx := setup(t)

	var ids []int64
	for _, name := range []string{"Inga edulis", "Schinus terebinthifolia"} {
		id, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: name})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	gf := "tree"
	traits := []catalog.RawTrait{
		{SpeciesID: ids[0], Source: "trait-growth", GrowthForm: &gf},
		{SpeciesID: ids[0], Source: "backbone", GrowthForm: &gf},
		{SpeciesID: ids[1], Source: "trait-growth", GrowthForm: &gf},
	}
	ins, upd, err := store.UpsertRawTraits(ctx, traits)
	if err != nil {
		t.Fatal(err)
	}
	if ins != 3 || upd != 0 {
		t.Errorf("first load: inserted=%d updated=%d, want 3/0", ins, upd)
	}

	// Re-running the same batch updates in place.
	ins, upd, err = store.UpsertRawTraits(ctx, traits)
	if err != nil {
		t.Fatal(err)
	}
	if ins != 0 || upd != 3 {
		t.Errorf("second load: inserted=%d updated=%d, want 0/3", ins, upd)
	}

	groups := make(map[int64]int)
	err = store.RawTraitsSnapshot(ctx, func(speciesID int64, ts []catalog.RawTrait) error {
		groups[speciesID] = len(ts)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if groups[ids[0]] != 2 || groups[ids[1]] != 1 {
		t.Errorf("snapshot grouping wrong: %v", groups)
	}
}

func TestPromoteOccurrences(t *testing.T) {
	store, ctx := setup(t)

	id, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: "Euterpe edulis"})
	if err != nil {
		t.Fatal(err)
	}

	occs := []catalog.Occurrence{
		{UpstreamID: "gbif:1", SpeciesID: id, Lat: -23.5, Lon: -46.6, UncertaintyM: 100, Year: 2019},
		// Too uncertain.
		{UpstreamID: "gbif:2", SpeciesID: id, Lat: -23.5, Lon: -46.6, UncertaintyM: 50000, Year: 2019},
		// Too old.
		{UpstreamID: "gbif:3", SpeciesID: id, Lat: -23.5, Lon: -46.6, UncertaintyM: 100, Year: 1950},
		// No uncertainty recorded is acceptable.
		{UpstreamID: "gbif:4", SpeciesID: id, Lat: -23.5, Lon: -46.6, Year: 2021},
	}
	if _, err := store.StageOccurrences(ctx, occs); err != nil {
		t.Fatal(err)
	}
	n, err := store.PromoteOccurrences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("promoted %d rows, want 2", n)
	}

	// Promotion is idempotent once the stage is drained.
	n, err = store.PromoteOccurrences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second promotion moved %d rows, want 0", n)
	}

	missing, err := store.OccurrencesMissingClimate(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 occurrences missing climate, got %d", len(missing))
	}
	if err := store.SetOccurrenceClimate(ctx, "gbif:1", &catalog.BioVector{Bio1: 19.2, Bio5: 27.3, Bio6: 11.7, Bio12: 1450, Bio15: 42}); err != nil {
		t.Fatal(err)
	}
	missing, err = store.OccurrencesMissingClimate(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 {
		t.Errorf("expected 1 occurrence missing climate after annotation, got %d", len(missing))
	}
}

func TestPromoteOccurrencesCapsPerSpecies(t *testing.T) {
	store, ctx := setup(t)

	id, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: "Araucaria angustifolia"})
	if err != nil {
		t.Fatal(err)
	}

	occs := make([]catalog.Occurrence, catalog.MaxOccurrencesPerSpecies+50)
	for i := range occs {
		occs[i] = catalog.Occurrence{
			UpstreamID:   fmt.Sprintf("gbif:%d", i),
			SpeciesID:    id,
			Lat:          -25.0,
			Lon:          -50.0,
			UncertaintyM: float64(100 + i),
			Year:         2020,
		}
	}
	if _, err := store.StageOccurrences(ctx, occs); err != nil {
		t.Fatal(err)
	}
	n, err := store.PromoteOccurrences(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != catalog.MaxOccurrencesPerSpecies {
		t.Errorf("promoted %d rows, want cap %d", n, catalog.MaxOccurrencesPerSpecies)
	}
}

func TestPromoteOccurrencesCapAcrossPromotions(t *testing.T) {
	store, ctx := setup(t)

	id, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: "Cedrela fissilis"})
	if err != nil {
		t.Fatal(err)
	}

	promote := func(prefix string, n int, baseUncertainty float64) {
		occs := make([]catalog.Occurrence, n)
		for i := range occs {
			occs[i] = catalog.Occurrence{
				UpstreamID:   fmt.Sprintf("%s:%04d", prefix, i),
				SpeciesID:    id,
				Lat:          -25.0,
				Lon:          -50.0,
				UncertaintyM: baseUncertainty + float64(i),
				Year:         2020,
			}
		}
		if _, err := store.StageOccurrences(ctx, occs); err != nil {
			t.Fatal(err)
		}
		if _, err := store.PromoteOccurrences(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// A full crawl fills the species to the cap, then an incremental
	// crawl delivers better-quality points.
	promote("gbif", catalog.MaxOccurrencesPerSpecies, 5000)
	promote("gbif-inc", 300, 100)

	kept, err := store.OccurrencesMissingClimate(ctx, "", 2*catalog.MaxOccurrencesPerSpecies)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != catalog.MaxOccurrencesPerSpecies {
		t.Errorf("retained %d occurrences, want cap %d", len(kept), catalog.MaxOccurrencesPerSpecies)
	}
	var incremental int
	for _, o := range kept {
		if strings.HasPrefix(o.UpstreamID, "gbif-inc:") {
			incremental++
		}
	}
	if incremental != 300 {
		t.Errorf("kept %d incremental rows, want all 300 better-quality ones", incremental)
	}
}

func TestClimateAtPointErrors(t *testing.T) {
	store, ctx := setup(t)

	// Without the optional sampling function the point sample is simply
	// absent.
	v, err := store.ClimateAtPoint(ctx, -25.0, -50.0)
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("sample = %+v, want none without rasters", v)
	}

	// A real store failure must surface, not masquerade as no coverage.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.ClimateAtPoint(canceled, -25.0, -50.0); err == nil {
		t.Error("canceled context must return an error")
	}
}

func TestUnifiedEnvelopePriority(t *testing.T) {
	store, ctx := setup(t)

	mk := func(name string) int64 {
		id, err := store.UpsertSpecies(ctx, &catalog.Species{CanonicalName: name})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	envelope := func(id int64, temp float64) *catalog.ClimateEnvelope {
		return &catalog.ClimateEnvelope{
			SpeciesID: id,
			TempMean:  temp, TempMin: temp - 10, TempMax: temp + 10,
			PrecipMean: 1200, PrecipMin: 800, PrecipMax: 1800, PrecipSeasonality: 40,
			NSamples: 120, Quality: catalog.QualityHigh,
		}
	}

	all3 := mk("Tabebuia rosea")
	eco := mk("Psidium cattleyanum")
	regOnly := mk("Eugenia uniflora")

	for _, src := range []catalog.EnvelopeSource{catalog.SourceOccurrence, catalog.SourceEcoregion, catalog.SourceRegion} {
		if err := store.UpsertEnvelope(ctx, src, envelope(all3, 20)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.UpsertEnvelope(ctx, catalog.SourceEcoregion, envelope(eco, 18)); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertEnvelope(ctx, catalog.SourceRegion, envelope(eco, 25)); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertEnvelope(ctx, catalog.SourceRegion, envelope(regOnly, 22)); err != nil {
		t.Fatal(err)
	}

	n, err := store.RebuildUnifiedEnvelopes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("unified rebuild wrote %d rows, want 3", n)
	}

	cases := []struct {
		id        int64
		source    catalog.EnvelopeSource
		consensus catalog.SourceConsensus
		tempMean  float64
	}{
		{all3, catalog.SourceOccurrence, catalog.ConsensusHigh, 20},
		{eco, catalog.SourceEcoregion, catalog.ConsensusMedium, 18},
		{regOnly, catalog.SourceRegion, catalog.ConsensusSingle, 22},
	}
	for _, c := range cases {
		u, err := store.UnifiedEnvelopeBySpecies(ctx, c.id)
		if err != nil {
			t.Fatal(err)
		}
		if u.Source != c.source {
			t.Errorf("species %d: source = %s, want %s", c.id, u.Source, c.source)
		}
		if u.Consensus != c.consensus {
			t.Errorf("species %d: consensus = %s, want %s", c.id, u.Consensus, c.consensus)
		}
		if u.TempMean != c.tempMean {
			t.Errorf("species %d: temp_mean = %v, want %v", c.id, u.TempMean, c.tempMean)
		}
	}
}

func TestRecommendationCache(t *testing.T) {
	store, ctx := setup(t)

	if _, err := store.CacheGet(ctx, "absent"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent key, got %v", err)
	}

	put := &catalog.CachedRecommendation{
		CacheKey:   "k1",
		Request:    []byte(`{"location":"BZS","k":20}`),
		Response:   []byte(`{"recommendations":[]}`),
		SpeciesIDs: []int64{1, 2, 3},
		Metrics:    []byte(`{"functional_diversity":0.41}`),
	}
	if err := store.CachePut(ctx, put); err != nil {
		t.Fatal(err)
	}

	got, err := store.CacheGet(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Response) != string(put.Response) {
		t.Errorf("cached response mismatch: %s", got.Response)
	}
	if got.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", got.HitCount)
	}
	got, err = store.CacheGet(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.HitCount != 2 {
		t.Errorf("hit count = %d, want 2", got.HitCount)
	}

	stats, err := store.CacheStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.TotalHits != 2 {
		t.Errorf("cache stats = %+v", stats)
	}
}

func TestCrawlerSingleInstance(t *testing.T) {
	store, ctx := setup(t)

	cursor, err := store.AcquireCrawler(ctx, "occurrence")
	if err != nil {
		t.Fatal(err)
	}
	if string(cursor) != "{}" {
		t.Errorf("fresh cursor = %s, want {}", cursor)
	}

	if _, err := store.AcquireCrawler(ctx, "occurrence"); !errors.Is(err, catalog.ErrCrawlerRunning) {
		t.Fatalf("expected ErrCrawlerRunning, got %v", err)
	}
	// A different crawler kind is unaffected.
	if _, err := store.AcquireCrawler(ctx, "backbone"); err != nil {
		t.Fatalf("unrelated crawler blocked: %v", err)
	}

	if err := store.ReleaseCrawler(ctx, "occurrence", []byte(`{"offset":300}`)); err != nil {
		t.Fatal(err)
	}
	cursor, err = store.AcquireCrawler(ctx, "occurrence")
	if err != nil {
		t.Fatal(err)
	}
	if string(cursor) != `{"offset":300}` {
		t.Errorf("resumed cursor = %s", cursor)
	}
}

func TestRegionAtPoint(t *testing.T) {
	store, ctx := setup(t)

	// A 10x10 degree cell around south Brazil.
	sq := []byte(`{"type":"Polygon","coordinates":[[[-55,-30],[-45,-30],[-45,-20],[-55,-20],[-55,-30]]]}`)
	if err := store.UpsertRegion(ctx, &catalog.Region{Code: "BZS", Name: "Brazil South", Continent: "SOUTHERN AMERICA", GeoJSON: sq}); err != nil {
		t.Fatal(err)
	}

	r, err := store.RegionAtPoint(ctx, -25, -50)
	if err != nil {
		t.Fatal(err)
	}
	if r.Code != "BZS" {
		t.Errorf("region at point = %s, want BZS", r.Code)
	}

	if _, err := store.RegionAtPoint(ctx, 40, 10); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound in open ocean, got %v", err)
	}

	// Just outside the cell but within tolerance.
	near, dist, err := store.NearestRegion(ctx, -25, -44.8, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if near.Code != "BZS" {
		t.Errorf("nearest region = %s, want BZS", near.Code)
	}
	if dist <= 0 || dist > 60 {
		t.Errorf("nearest distance = %v km, want (0, 60]", dist)
	}
}
