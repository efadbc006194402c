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

// Package spatial locates coordinates within the TDWG level-3 partition.
// Two implementations exist: one backed by PostGIS containment queries,
// and an in-process R-tree index built from the region geometries at
// startup. They answer identically; the index trades memory for latency
// on the recommendation hot path.
package spatial

import (
	"context"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"

	"github.com/spatialflora/floracast/catalog"
)

// DefaultToleranceDeg is how far offshore a point may sit and still snap
// to the nearest region, in degrees (~55 km).
const DefaultToleranceDeg = 0.5

// kmPerDegree approximates great-circle distance at the equator.
const kmPerDegree = 111.0

// Locator answers point-in-region queries.
type Locator interface {
	// LocateRegion returns the region containing the point, or
	// catalog.ErrNotFound.
	LocateRegion(ctx context.Context, lat, lon float64) (*catalog.Region, error)
	// NearestRegion returns the closest region within tolerance degrees
	// and its distance in km, or catalog.ErrNotFound.
	NearestRegion(ctx context.Context, lat, lon, toleranceDeg float64) (*catalog.Region, float64, error)
}

// DBLocator delegates to PostGIS.
type DBLocator struct {
	Store *catalog.Store
}

func (l *DBLocator) LocateRegion(ctx context.Context, lat, lon float64) (*catalog.Region, error) {
	return l.Store.RegionAtPoint(ctx, lat, lon)
}

func (l *DBLocator) NearestRegion(ctx context.Context, lat, lon, toleranceDeg float64) (*catalog.Region, float64, error) {
	return l.Store.NearestRegion(ctx, lat, lon, toleranceDeg)
}

// indexedRegion pairs a region with its decoded geometry for the R-tree.
type indexedRegion struct {
	region catalog.Region
	poly   geom.Polygonal
}

func (r *indexedRegion) Bounds() *geom.Bounds {
	return r.poly.Bounds()
}

func (r *indexedRegion) Similar(g geom.Geom, tol float64) bool {
	return r.poly.Similar(g, tol)
}

func (r *indexedRegion) Transform(t proj.Transformer) (geom.Geom, error) {
	return r.poly.Transform(t)
}

func (r *indexedRegion) Len() int { return r.poly.Len() }

func (r *indexedRegion) Points() func() geom.Point { return r.poly.Points() }

// Index is the in-process locator.
type Index struct {
	tree    *rtree.Rtree
	regions []*indexedRegion
}

// NewIndex decodes the region geometries and builds the R-tree. Regions
// without geometry are skipped.
func NewIndex(regions []catalog.Region) (*Index, error) {
	idx := &Index{tree: rtree.NewTree(25, 50)}
	for i := range regions {
		r := &regions[i]
		if len(r.GeoJSON) == 0 {
			continue
		}
		g, err := geojson.Decode(r.GeoJSON)
		if err != nil {
			return nil, fmt.Errorf("spatial: decoding geometry for region %s: %w", r.Code, err)
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("spatial: region %s is not polygonal", r.Code)
		}
		ir := &indexedRegion{region: *r, poly: p}
		idx.regions = append(idx.regions, ir)
		idx.tree.Insert(ir)
	}
	return idx, nil
}

// Len returns how many regions are indexed.
func (idx *Index) Len() int { return len(idx.regions) }

func (idx *Index) LocateRegion(ctx context.Context, lat, lon float64) (*catalog.Region, error) {
	pt := geom.Point{X: lon, Y: lat}
	for _, hit := range idx.tree.SearchIntersect(pt.Bounds()) {
		ir := hit.(*indexedRegion)
		if pt.Within(ir.poly) != geom.Outside {
			out := ir.region
			return &out, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (idx *Index) NearestRegion(ctx context.Context, lat, lon, toleranceDeg float64) (*catalog.Region, float64, error) {
	if toleranceDeg <= 0 {
		toleranceDeg = DefaultToleranceDeg
	}
	pt := geom.Point{X: lon, Y: lat}

	// Candidate set: everything whose bounds intersect the tolerance box.
	box := &geom.Bounds{
		Min: geom.Point{X: lon - toleranceDeg, Y: lat - toleranceDeg},
		Max: geom.Point{X: lon + toleranceDeg, Y: lat + toleranceDeg},
	}
	best := math.Inf(1)
	var bestRegion *catalog.Region
	for _, hit := range idx.tree.SearchIntersect(box) {
		ir := hit.(*indexedRegion)
		d := distanceToPolygon(pt, ir.poly)
		if d < best {
			best = d
			out := ir.region
			bestRegion = &out
		}
	}
	if bestRegion == nil || best > toleranceDeg {
		return nil, 0, catalog.ErrNotFound
	}
	return bestRegion, best * kmPerDegree, nil
}

// distanceToPolygon is the planar degree distance from a point to the
// nearest edge of a polygonal geometry. Zero when inside.
func distanceToPolygon(pt geom.Point, p geom.Polygonal) float64 {
	if pt.Within(p) != geom.Outside {
		return 0
	}
	best := math.Inf(1)
	for _, poly := range p.Polygons() {
		for _, ring := range poly {
			for i := range ring {
				a := ring[i]
				b := ring[(i+1)%len(ring)]
				if d := pointSegmentDistance(pt, a, b); d < best {
					best = d
				}
			}
		}
	}
	return best
}

func pointSegmentDistance(p, a, b geom.Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
