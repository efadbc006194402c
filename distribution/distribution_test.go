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

package distribution

import (
	"context"
	"fmt"
	"testing"

	"github.com/spatialflora/floracast/catalog"
)

func TestConsolidateORFold(t *testing.T) {
	known := map[string]bool{"BZS": true, "BZL": true}
	raw := []catalog.SpeciesRegion{
		{SpeciesID: 1, Code: "BZS", Source: "distribution", IsNative: true},
		{SpeciesID: 1, Code: "BZS", Source: "backbone", IsIntroduced: true},
		{SpeciesID: 1, Code: "BZL", Source: "distribution", IsNative: true, IsEndemic: true},
		// Unknown region is dropped.
		{SpeciesID: 1, Code: "XXX", Source: "distribution", IsNative: true},
	}
	rows := Consolidate(1, raw, known)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// Sorted by code: BZL first.
	if rows[0].Code != "BZL" || !rows[0].IsNative || !rows[0].IsEndemic {
		t.Errorf("BZL row wrong: %+v", rows[0])
	}
	bzs := rows[1]
	if bzs.Code != "BZS" || !bzs.IsNative || !bzs.IsIntroduced || bzs.IsEndemic {
		t.Errorf("BZS flags not OR-folded: %+v", bzs)
	}
	if bzs.Source != "backbone,distribution" {
		t.Errorf("BZS sources = %q, want sorted backbone,distribution", bzs.Source)
	}
}

func TestConsolidateDeterministic(t *testing.T) {
	known := map[string]bool{"AGE": true, "BZS": true, "PAR": true}
	raw := []catalog.SpeciesRegion{
		{SpeciesID: 7, Code: "PAR", Source: "b"},
		{SpeciesID: 7, Code: "AGE", Source: "a"},
		{SpeciesID: 7, Code: "BZS", Source: "b"},
		{SpeciesID: 7, Code: "BZS", Source: "a"},
	}
	first := Consolidate(7, raw, known)
	for i := 0; i < 5; i++ {
		again := Consolidate(7, raw, known)
		if len(again) != len(first) {
			t.Fatalf("row count changed between runs")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d row %d differs: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}

// square returns a GeoJSON polygon covering [x, x+w] x [y, y+w].
func square(x, y, w float64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		x, y, x+w, y, x+w, y+w, x, y+w, x, y))
}

type memGeomStore struct {
	regions    []catalog.Region
	membership map[int64][]catalog.SpeciesRegion
	written    map[int64]*catalog.SpeciesGeometry
}

func (m *memGeomStore) Regions(ctx context.Context) ([]catalog.Region, error) {
	return m.regions, nil
}

func (m *memGeomStore) SpeciesRegionsSnapshot(ctx context.Context, fn func(int64, []catalog.SpeciesRegion) error) error {
	for id, rows := range m.membership {
		if err := fn(id, rows); err != nil {
			return err
		}
	}
	return nil
}

func (m *memGeomStore) UpsertSpeciesGeometry(ctx context.Context, g *catalog.SpeciesGeometry) error {
	m.written[g.SpeciesID] = g
	return nil
}

func TestMaterializeRanges(t *testing.T) {
	store := &memGeomStore{
		regions: []catalog.Region{
			{Code: "AAA", GeoJSON: square(0, 0, 10)},
			{Code: "BBB", GeoJSON: square(10, 0, 10)},
			{Code: "CCC", GeoJSON: square(20, 0, 10)},
		},
		membership: map[int64][]catalog.SpeciesRegion{
			1: {
				{SpeciesID: 1, Code: "AAA", IsNative: true},
				{SpeciesID: 1, Code: "BBB", IsNative: true},
				{SpeciesID: 1, Code: "CCC", IsIntroduced: true},
			},
		},
		written: make(map[int64]*catalog.SpeciesGeometry),
	}
	m := &Materializer{Store: store}

	n, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("wrote %d rows, want 1", n)
	}

	g := store.written[1]
	if g.NRegions != 3 || g.NNativeRegions != 2 {
		t.Errorf("region counts = %d/%d, want 3/2", g.NRegions, g.NNativeRegions)
	}
	if g.NativeInferred {
		t.Error("reported native membership must not be flagged as inferred")
	}
	// The native range is a subset of the full range.
	if g.NativeAreaKm2 <= 0 || g.FullAreaKm2 <= 0 {
		t.Errorf("areas must be positive: native %.0f full %.0f", g.NativeAreaKm2, g.FullAreaKm2)
	}
	if g.NativeAreaKm2 > g.FullAreaKm2 {
		t.Errorf("native area %.0f exceeds full area %.0f", g.NativeAreaKm2, g.FullAreaKm2)
	}
	// Full range bbox spans all three squares.
	if g.BBox[0] != 0 || g.BBox[2] != 30 {
		t.Errorf("bbox x = [%g, %g], want [0, 30]", g.BBox[0], g.BBox[2])
	}
	if g.BBox[1] != 0 || g.BBox[3] != 10 {
		t.Errorf("bbox y = [%g, %g], want [0, 10]", g.BBox[1], g.BBox[3])
	}
	// Centroid inside the full range.
	if g.CentroidLon < 0 || g.CentroidLon > 30 || g.CentroidLat < 0 || g.CentroidLat > 10 {
		t.Errorf("centroid (%g, %g) outside range", g.CentroidLon, g.CentroidLat)
	}
	if len(g.NativeRangeGeoJSON) == 0 || len(g.FullRangeGeoJSON) == 0 {
		t.Error("range encodings are empty")
	}
}

func TestMaterializeNoNativeClaims(t *testing.T) {
	store := &memGeomStore{
		regions: []catalog.Region{{Code: "AAA", GeoJSON: square(0, 0, 5)}},
		membership: map[int64][]catalog.SpeciesRegion{
			2: {{SpeciesID: 2, Code: "AAA", IsIntroduced: true}},
		},
		written: make(map[int64]*catalog.SpeciesGeometry),
	}
	m := &Materializer{Store: store}
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	g := store.written[2]
	if g == nil {
		t.Fatal("no geometry written")
	}
	// Without native claims the native geometry falls back to the full
	// range, but the row says so instead of fabricating a count.
	if g.NativeAreaKm2 != g.FullAreaKm2 {
		t.Errorf("native area %.0f != full area %.0f", g.NativeAreaKm2, g.FullAreaKm2)
	}
	if !g.NativeInferred {
		t.Error("fallback native range must be flagged as inferred")
	}
	if g.NNativeRegions != 0 {
		t.Errorf("native region count = %d, want 0 when no source reports one", g.NNativeRegions)
	}
}
