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

package recommend

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/traits"
)

// memEngineStore fakes the catalog slice the engine sees.
type memEngineStore struct {
	pool           []catalog.Candidate
	candidateCalls int
	lastFilter     catalog.CandidateFilter
	cache          map[string]*catalog.CachedRecommendation
}

func (m *memEngineStore) Candidates(ctx context.Context, f catalog.CandidateFilter) ([]catalog.Candidate, error) {
	m.candidateCalls++
	m.lastFilter = f
	return m.pool, nil
}

func (m *memEngineStore) CacheGet(ctx context.Context, key string) (*catalog.CachedRecommendation, error) {
	if c, ok := m.cache[key]; ok {
		c.HitCount++
		return c, nil
	}
	return nil, catalog.ErrNotFound
}

func (m *memEngineStore) CachePut(ctx context.Context, c *catalog.CachedRecommendation) error {
	if m.cache == nil {
		m.cache = make(map[string]*catalog.CachedRecommendation)
	}
	m.cache[c.CacheKey] = c
	return nil
}

// memLocStore fakes the resolver's catalog slice.
type memLocStore struct {
	regions  map[string]*catalog.Region
	climates map[string]*catalog.RegionClimate
	point    *catalog.BioVector
}

func (m *memLocStore) RegionByCode(ctx context.Context, code string) (*catalog.Region, error) {
	if r, ok := m.regions[code]; ok {
		return r, nil
	}
	return nil, catalog.ErrNotFound
}

func (m *memLocStore) ClimateAtPoint(ctx context.Context, lat, lon float64) (*catalog.BioVector, error) {
	return m.point, nil
}

func (m *memLocStore) RegionClimateByCode(ctx context.Context, code string) (*catalog.RegionClimate, error) {
	if rc, ok := m.climates[code]; ok {
		return rc, nil
	}
	return nil, catalog.ErrNotFound
}

// memLocator fakes spatial containment.
type memLocator struct {
	contained *catalog.Region
	nearest   *catalog.Region
	distKm    float64
}

func (m *memLocator) LocateRegion(ctx context.Context, lat, lon float64) (*catalog.Region, error) {
	if m.contained != nil {
		return m.contained, nil
	}
	return nil, catalog.ErrNotFound
}

func (m *memLocator) NearestRegion(ctx context.Context, lat, lon, tol float64) (*catalog.Region, float64, error) {
	if m.nearest != nil {
		return m.nearest, m.distKm, nil
	}
	return nil, 0, catalog.ErrNotFound
}

func treeCandidate(id int64, family string, tempMean float64) catalog.Candidate {
	c := candidate(id, family, traits.FormTree, 20)
	c.IsNative = true
	c.Envelope.SpeciesID = id
	c.Envelope.TempMean = tempMean
	c.Envelope.TempMin = 2
	c.Envelope.TempMax = 34
	c.Envelope.PrecipMean = 1500
	c.Envelope.PrecipSeasonality = 40
	c.Envelope.NSamples = 120
	return c
}

// bzsClimate is the site bio-vector every engine test scores against.
var bzsClimate = catalog.RegionClimate{
	Code: "BZS",
	Mean: catalog.BioVector{Bio1: 20, Bio12: 1500, Bio15: 40},
	Min:  catalog.BioVector{Bio6: 8},
	Max:  catalog.BioVector{Bio5: 30},
}

func newTestEngine(store *memEngineStore) *Engine {
	return &Engine{
		Store: store,
		Resolver: &Resolver{
			Store: &memLocStore{
				regions:  map[string]*catalog.Region{"BZS": {Code: "BZS", Name: "Brazil South"}},
				climates: map[string]*catalog.RegionClimate{"BZS": &bzsClimate},
			},
			Locator: &memLocator{},
		},
		now: func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestEngineRecommend(t *testing.T) {
	store := &memEngineStore{pool: []catalog.Candidate{
		treeCandidate(1, "Fabaceae", 20),
		treeCandidate(2, "Meliaceae", 18),
		treeCandidate(3, "Myrtaceae", 19),
	}}
	e := newTestEngine(store)

	result, err := e.Recommend(context.Background(), &Request{
		TDWGCode: "BZS", NSpecies: 2,
		Preferences: Preferences{GrowthForms: []string{"tree"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp := result.Response

	if len(resp.Species) != 2 {
		t.Fatalf("selected %d species, want 2", len(resp.Species))
	}
	for i, sp := range resp.Species {
		if sp.SelectionRank != i+1 {
			t.Errorf("rank[%d] = %d", i, sp.SelectionRank)
		}
		if sp.ClimateMatchScore < DefaultThreshold {
			t.Errorf("%s score %v below threshold", sp.CanonicalName, sp.ClimateMatchScore)
		}
		if !sp.IsNative {
			t.Errorf("%s should be native", sp.CanonicalName)
		}
	}
	// The best climate match seeds the selection.
	if resp.Species[0].SpeciesID != 1 {
		t.Errorf("seed species = %d, want 1", resp.Species[0].SpeciesID)
	}

	if resp.LocationInfo.TDWGCode != "BZS" || resp.LocationInfo.Bio1 != 20 {
		t.Errorf("location echo = %+v", resp.LocationInfo)
	}

	f := store.lastFilter
	if f.RegionCode != "BZS" || f.IncludeIntroduced || len(f.GrowthForms) != 1 || f.GrowthForms[0] != "tree" {
		t.Errorf("candidate filter = %+v", f)
	}
	if f.Limit != 0 {
		t.Errorf("store-side pool limit = %d, want none", f.Limit)
	}
	if f.ExcludeThreatened {
		t.Error("threatened species are included by default")
	}
	if len(store.cache) != 1 {
		t.Errorf("cache entries = %d, want 1", len(store.cache))
	}
}

func TestEngineScoreOrdersPool(t *testing.T) {
	// More eligible species than the pool cap, with the best climate
	// match carrying the fewest samples so the store lists it last.
	var pool []catalog.Candidate
	for i := 0; i < 520; i++ {
		c := treeCandidate(int64(i+2), "Fabaceae", 18)
		c.Envelope.NSamples = 10000 - i
		pool = append(pool, c)
	}
	best := treeCandidate(1, "Meliaceae", 20)
	best.Envelope.NSamples = 12
	pool = append(pool, best)
	store := &memEngineStore{pool: pool}
	e := newTestEngine(store)

	result, err := e.Recommend(context.Background(), &Request{TDWGCode: "BZS", NSpecies: 3})
	if err != nil {
		t.Fatal(err)
	}
	if store.lastFilter.Limit != 0 {
		t.Errorf("candidate query limit = %d; the pool must be capped after scoring", store.lastFilter.Limit)
	}
	if got := result.Response.Species[0].SpeciesID; got != 1 {
		t.Errorf("top recommendation = species %d, want the best climate match 1", got)
	}
}

func TestEngineNoCandidates(t *testing.T) {
	// An imperfect match against a 0.99 threshold leaves nothing.
	store := &memEngineStore{pool: []catalog.Candidate{
		treeCandidate(1, "Fabaceae", 14),
	}}
	e := newTestEngine(store)

	_, err := e.Recommend(context.Background(), &Request{
		TDWGCode: "BZS", ClimateThreshold: 0.99, NSpecies: 5,
	})
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindNoCandidates {
		t.Fatalf("err = %v, want no_candidates", err)
	}
	if rerr.Hint == "" {
		t.Error("no_candidates must carry a remediation hint")
	}
}

func TestEngineHardFilterExcludes(t *testing.T) {
	// Species 2's envelope tops out far below the site's warm extreme.
	frail := treeCandidate(2, "Meliaceae", 20)
	frail.Envelope.TempMax = 25
	store := &memEngineStore{pool: []catalog.Candidate{
		treeCandidate(1, "Fabaceae", 20),
		frail,
	}}
	e := newTestEngine(store)

	result, err := e.Recommend(context.Background(), &Request{TDWGCode: "BZS", NSpecies: 5, ClimateThreshold: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	for _, sp := range result.Response.Species {
		if sp.SpeciesID == 2 {
			t.Error("species failing the hard filter must never be recommended")
		}
	}
}

func TestEngineCacheRoundTrip(t *testing.T) {
	store := &memEngineStore{pool: []catalog.Candidate{
		treeCandidate(1, "Fabaceae", 20),
		treeCandidate(2, "Meliaceae", 18),
	}}
	e := newTestEngine(store)
	req := &Request{TDWGCode: "BZS", NSpecies: 2}

	first, err := e.Recommend(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Fatal("first call must miss")
	}

	second, err := e.Recommend(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Fatal("second call must hit")
	}
	if !bytes.Equal(first.JSON, second.JSON) {
		t.Error("cached response must be byte-identical")
	}
	if store.candidateCalls != 1 {
		t.Errorf("candidate query ran %d times, want 1", store.candidateCalls)
	}
	for _, c := range store.cache {
		if c.HitCount != 1 {
			t.Errorf("hit_count = %d, want 1", c.HitCount)
		}
	}
}

func TestEngineUnknownRegion(t *testing.T) {
	e := newTestEngine(&memEngineStore{})
	_, err := e.Recommend(context.Background(), &Request{TDWGCode: "XXX"})
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Kind != KindLocationUnresolved {
		t.Fatalf("err = %v, want location_unresolved", err)
	}
}

func TestResolverStateCode(t *testing.T) {
	r := &Resolver{
		Store: &memLocStore{
			regions:  map[string]*catalog.Region{"BZS": {Code: "BZS", Name: "Brazil South"}},
			climates: map[string]*catalog.RegionClimate{"BZS": &bzsClimate},
		},
		Locator: &memLocator{},
	}
	n, verr := (&Request{StateCode: "br-sc"}).normalize()
	if verr != nil {
		t.Fatal(verr)
	}
	loc, rerr := r.Resolve(context.Background(), n)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if loc.TDWGCode != "BZS" {
		t.Errorf("state BR-SC resolved to %s, want BZS", loc.TDWGCode)
	}
	if loc.Bio.Bio6 != 8 || loc.Bio.Bio5 != 30 {
		t.Errorf("aggregate bio-vector = %+v", loc.Bio)
	}

	n, _ = (&Request{StateCode: "US-CA"}).normalize()
	if _, rerr := r.Resolve(context.Background(), n); rerr == nil || rerr.Kind != KindLocationUnresolved {
		t.Errorf("unknown state: err = %v", rerr)
	}
}

func TestResolverCoords(t *testing.T) {
	region := &catalog.Region{Code: "BZS", Name: "Brazil South"}
	point := &catalog.BioVector{Bio1: 17, Bio5: 28, Bio6: 5, Bio12: 1700, Bio15: 35}
	r := &Resolver{
		Store: &memLocStore{
			climates: map[string]*catalog.RegionClimate{"BZS": &bzsClimate},
			point:    point,
		},
		Locator: &memLocator{contained: region},
	}
	n, _ := (&Request{Latitude: fp(-27.6), Longitude: fp(-48.5)}).normalize()
	loc, rerr := r.Resolve(context.Background(), n)
	if rerr != nil {
		t.Fatal(rerr)
	}
	// The point sample wins over the regional aggregate.
	if loc.Bio != *point {
		t.Errorf("bio = %+v, want point sample", loc.Bio)
	}
	if loc.Latitude == nil || *loc.Latitude != -27.6 {
		t.Error("coordinates must be echoed")
	}
}

func TestResolverCoordsRasterFallback(t *testing.T) {
	region := &catalog.Region{Code: "BZS", Name: "Brazil South"}
	r := &Resolver{
		Store: &memLocStore{
			climates: map[string]*catalog.RegionClimate{"BZS": &bzsClimate},
		},
		Locator: &memLocator{nearest: region, distKm: 12},
	}
	n, _ := (&Request{Latitude: fp(-27.6), Longitude: fp(-48.0)}).normalize()
	loc, rerr := r.Resolve(context.Background(), n)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if loc.Bio.Bio1 != 20 {
		t.Errorf("fallback bio = %+v, want regional aggregate", loc.Bio)
	}
}

func TestResolverCoordsOutOfCoverage(t *testing.T) {
	r := &Resolver{Store: &memLocStore{}, Locator: &memLocator{}}
	n, _ := (&Request{Latitude: fp(0), Longitude: fp(-30)}).normalize()
	_, rerr := r.Resolve(context.Background(), n)
	if rerr == nil || rerr.Kind != KindLocationUnresolved {
		t.Fatalf("err = %v, want location_unresolved", rerr)
	}
	if rerr.Hint == "" {
		t.Error("coverage failures should hint at the cause")
	}
}
