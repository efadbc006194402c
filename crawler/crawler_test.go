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
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// fakeState records the orchestration calls in order.
type fakeState struct {
	cursor    []byte
	calls     []string
	finishErr error
	released  []byte
}

func (f *fakeState) AcquireCrawler(ctx context.Context, name string) ([]byte, error) {
	f.calls = append(f.calls, "acquire")
	return f.cursor, nil
}

func (f *fakeState) ReleaseCrawler(ctx context.Context, name string, cursor []byte) error {
	f.calls = append(f.calls, "release")
	f.released = cursor
	return nil
}

func (f *fakeState) Checkpoint(ctx context.Context, name string, cursor []byte) error {
	f.calls = append(f.calls, "checkpoint")
	f.cursor = cursor
	return nil
}

func (f *fakeState) BeginCrawlerRun(ctx context.Context, name string) (int64, error) {
	f.calls = append(f.calls, "begin")
	return 7, nil
}

func (f *fakeState) FinishCrawlerRun(ctx context.Context, runID int64, processed, inserted, updated int64, runErr error) error {
	f.calls = append(f.calls, "finish")
	f.finishErr = runErr
	return nil
}

type funcCrawler struct {
	name string
	fn   func(ctx context.Context, sess *Session) error
}

func (c *funcCrawler) Name() string { return c.name }

func (c *funcCrawler) Crawl(ctx context.Context, s *Session) error { return c.fn(ctx, s) }

func TestRunnerReleasesOnFailure(t *testing.T) {
	state := &fakeState{cursor: []byte(`{"offset":100}`)}
	r := &Runner{State: state, Log: logrus.New()}

	crawlErr := errors.New("upstream gone")
	counts, err := r.Run(context.Background(), &funcCrawler{name: "test", fn: func(ctx context.Context, sess *Session) error {
		cur, err := decodeCursor(sess.Cursor)
		if err != nil {
			return err
		}
		if cur.Offset != 100 {
			t.Errorf("resumed at offset %d, want 100", cur.Offset)
		}
		sess.Add(50, 40, 10)
		if err := sess.Checkpoint(ctx, encodeCursor(pageCursor{Offset: 150})); err != nil {
			return err
		}
		return crawlErr
	}})
	if !errors.Is(err, crawlErr) {
		t.Fatalf("err = %v, want %v", err, crawlErr)
	}
	if counts.Processed != 50 || counts.Inserted != 40 || counts.Updated != 10 {
		t.Errorf("counts = %+v", counts)
	}

	want := []string{"acquire", "begin", "checkpoint", "finish", "release"}
	if fmt.Sprint(state.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", state.calls, want)
	}
	if state.finishErr == nil {
		t.Error("run row must record the failure")
	}
	// Partial progress survives the failure.
	var cur pageCursor
	if err := json.Unmarshal(state.released, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.Offset != 150 {
		t.Errorf("released cursor offset = %d, want 150", cur.Offset)
	}
}

type fakeBackboneStore struct {
	names []catalog.BackboneName
}

func (f *fakeBackboneStore) UpsertBackboneNames(ctx context.Context, names []catalog.BackboneName) (int64, int64, error) {
	f.names = append(f.names, names...)
	return int64(len(names)), 0, nil
}

func TestBackbonePagination(t *testing.T) {
	records := []backboneRecord{
		{ID: 1, ScientificName: "Cedrela fissilis Vell.", CanonicalName: "Cedrela fissilis", Status: "ACCEPTED"},
		{ID: 2, ScientificName: "Cedrela tubiflora Bertoni", CanonicalName: "Cedrela tubiflora", Status: "SYNONYM", AcceptedID: i64p(1)},
		{ID: 3, ScientificName: "Inga edulis Mart.", CanonicalName: "Inga edulis", Status: "ACCEPTED"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		page := backbonePage{Results: records[offset:end], EndOfRecords: end == len(records)}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	store := &fakeBackboneStore{}
	state := &fakeState{}
	r := &Runner{State: state, Log: logrus.New()}
	counts, err := r.Run(context.Background(), &Backbone{
		Store:    store,
		Client:   &Client{},
		BaseURL:  srv.URL,
		PageSize: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 3 || counts.Inserted != 3 {
		t.Errorf("counts = %+v", counts)
	}
	if len(store.names) != 3 {
		t.Fatalf("stored %d names, want 3", len(store.names))
	}
	if store.names[1].Status != catalog.StatusSynonym || store.names[1].AcceptedBackboneID == nil {
		t.Errorf("synonym record mishandled: %+v", store.names[1])
	}
	var cur pageCursor
	if err := json.Unmarshal(state.released, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.Offset != 3 {
		t.Errorf("final cursor offset = %d, want 3", cur.Offset)
	}
}

func TestRunnerMaxRecords(t *testing.T) {
	records := []backboneRecord{
		{ID: 1, ScientificName: "Cedrela fissilis Vell.", CanonicalName: "Cedrela fissilis", Status: "ACCEPTED"},
		{ID: 2, ScientificName: "Cedrela tubiflora Bertoni", CanonicalName: "Cedrela tubiflora", Status: "ACCEPTED"},
		{ID: 3, ScientificName: "Inga edulis Mart.", CanonicalName: "Inga edulis", Status: "ACCEPTED"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		page := backbonePage{Results: records[offset:end], EndOfRecords: end == len(records)}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	state := &fakeState{}
	r := &Runner{State: state, Log: logrus.New(), MaxRecords: 2}
	counts, err := r.Run(context.Background(), &Backbone{
		Store:    &fakeBackboneStore{},
		Client:   &Client{},
		BaseURL:  srv.URL,
		PageSize: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 2 {
		t.Errorf("processed = %d, want the 2-record budget", counts.Processed)
	}
	// The capped run still checkpoints, so the next run resumes.
	var cur pageCursor
	if err := json.Unmarshal(state.released, &cur); err != nil {
		t.Fatal(err)
	}
	if cur.Offset != 2 {
		t.Errorf("released cursor offset = %d, want 2", cur.Offset)
	}
}

type fakeTraitStore struct {
	species map[string]int64
	nextID  int64
	rows    []catalog.RawTrait
	common  map[int64]string
}

func (f *fakeTraitStore) UpsertSpecies(ctx context.Context, sp *catalog.Species) (int64, error) {
	if f.species == nil {
		f.species = make(map[string]int64)
	}
	if id, ok := f.species[sp.CanonicalName]; ok {
		return id, nil
	}
	f.nextID++
	f.species[sp.CanonicalName] = f.nextID
	return f.nextID, nil
}

func (f *fakeTraitStore) UpsertRawTraits(ctx context.Context, rows []catalog.RawTrait) (int64, int64, error) {
	f.rows = append(f.rows, rows...)
	return int64(len(rows)), 0, nil
}

func (f *fakeTraitStore) UpsertCommonName(ctx context.Context, speciesID int64, language, name string) error {
	if f.common == nil {
		f.common = make(map[int64]string)
	}
	f.common[speciesID] = language + ":" + name
	return nil
}

func TestTraitsCrawlNormalizesAndResolves(t *testing.T) {
	page := traitPage{
		Results: []traitRecord{
			{ScientificName: "Cedrela fissilis Vell.", AuthorityID: "tg-1", GrowthForm: "árvore", CommonName: "cedro", CommonNameLang: "pt"},
			{ScientificName: "Cedrela fissilis", AuthorityID: "tg-2", GrowthForm: "Tree"},
			{ScientificName: "Mimosa scabrella Benth.", AuthorityID: "tg-3", GrowthForm: "weird-form", ThreatStatus: "Least Concern"},
		},
		EndOfRecords: true,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	store := &fakeTraitStore{}
	r := &Runner{State: &fakeState{}, Log: logrus.New()}
	counts, err := r.Run(context.Background(), &Traits{
		Store:      store,
		Client:     &Client{},
		BaseURL:    srv.URL,
		SourceName: "trait-growth",
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 3 {
		t.Errorf("processed = %d, want 3", counts.Processed)
	}

	// Authority strings collapse to one species record.
	if len(store.species) != 2 {
		t.Fatalf("species = %v, want 2 records", store.species)
	}
	cedrelaID := store.species["Cedrela fissilis"]
	if cedrelaID == 0 {
		t.Fatal("authority not stripped from species name")
	}
	if store.rows[0].SpeciesID != cedrelaID || store.rows[1].SpeciesID != cedrelaID {
		t.Error("both Cedrela rows should share a species id")
	}

	// Portuguese and English vocabulary both canonicalize.
	for i := 0; i < 2; i++ {
		if store.rows[i].GrowthForm == nil || *store.rows[i].GrowthForm != "tree" {
			t.Errorf("row %d growth form = %v, want tree", i, store.rows[i].GrowthForm)
		}
	}
	// Unknown vocabulary keeps the raw value only.
	if store.rows[2].GrowthForm != nil {
		t.Errorf("unknown form canonicalized to %q", *store.rows[2].GrowthForm)
	}
	if store.rows[2].GrowthFormRaw == nil || *store.rows[2].GrowthFormRaw != "weird-form" {
		t.Error("raw growth form must be kept for audit")
	}
	if store.rows[2].ThreatStatus == nil || *store.rows[2].ThreatStatus != "LC" {
		t.Errorf("threat status = %v, want LC", store.rows[2].ThreatStatus)
	}
	if got := store.common[cedrelaID]; got != "pt:cedro" {
		t.Errorf("common name = %q, want pt:cedro", got)
	}
}

// fakeClimateStore pages unannotated occurrences with a keyset cursor
// the way the catalog does, capped at pageSize rows per call. Points
// south of the equator count as outside raster coverage.
type fakeClimateStore struct {
	occs      []catalog.Occurrence
	pageSize  int
	annotated map[string]*catalog.BioVector
}

func (f *fakeClimateStore) UpsertRegionClimate(ctx context.Context, rc *catalog.RegionClimate) error {
	return nil
}

func (f *fakeClimateStore) OccurrencesMissingClimate(ctx context.Context, afterID string, limit int) ([]catalog.Occurrence, error) {
	if limit > f.pageSize {
		limit = f.pageSize
	}
	var out []catalog.Occurrence
	for _, o := range f.occs {
		if o.UpstreamID <= afterID {
			continue
		}
		if _, ok := f.annotated[o.UpstreamID]; ok {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeClimateStore) SetOccurrenceClimate(ctx context.Context, upstreamID string, v *catalog.BioVector) error {
	if f.annotated == nil {
		f.annotated = make(map[string]*catalog.BioVector)
	}
	f.annotated[upstreamID] = v
	return nil
}

func (f *fakeClimateStore) ClimateAtPoint(ctx context.Context, lat, lon float64) (*catalog.BioVector, error) {
	if lat < 0 {
		return nil, nil
	}
	return &catalog.BioVector{Bio1: 18, Bio5: 30, Bio6: 8, Bio12: 1400, Bio15: 40}, nil
}

func TestClimateBackfillWalksPastUncoveredPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	// The first page is entirely outside coverage; the covered point
	// sits behind it and must still be annotated.
	store := &fakeClimateStore{
		occs: []catalog.Occurrence{
			{UpstreamID: "occ:a", Lat: -1, Lon: -50},
			{UpstreamID: "occ:b", Lat: -2, Lon: -51},
			{UpstreamID: "occ:c", Lat: 5, Lon: -52},
		},
		pageSize: 2,
	}
	r := &Runner{State: &fakeState{}, Log: logrus.New()}
	counts, err := r.Run(context.Background(), &Climate{
		Store:   store,
		Client:  &Client{},
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Processed != 3 {
		t.Errorf("processed = %d, want all 3 points attempted", counts.Processed)
	}
	if len(store.annotated) != 1 || store.annotated["occ:c"] == nil {
		t.Errorf("annotated = %v, want exactly occ:c", store.annotated)
	}
}

func i64p(v int64) *int64 { return &v }
