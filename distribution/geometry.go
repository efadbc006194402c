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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// Spatial references for area computation. Areas are measured after
// projecting to a world Albers equal-area grid; absolute values drift at
// high latitudes but ranking between species ranges is preserved.
const (
	longlatSR = "+proj=longlat +datum=WGS84 +no_defs"
	albersSR  = "+proj=aea +lat_1=-30 +lat_2=30 +lat_0=0 +lon_0=0 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs"
)

// GeometryStore is the slice of the catalog the materializer needs.
type GeometryStore interface {
	Regions(ctx context.Context) ([]catalog.Region, error)
	SpeciesRegionsSnapshot(ctx context.Context, fn func(speciesID int64, rows []catalog.SpeciesRegion) error) error
	UpsertSpeciesGeometry(ctx context.Context, g *catalog.SpeciesGeometry) error
}

// Materializer derives per-species range geometry by unioning the TDWG
// cells the species occurs in.
type Materializer struct {
	Store GeometryStore
	Log   *logrus.Logger

	polys map[string]geom.Polygonal
	toAEA proj.Transformer
}

// init decodes every region geometry once and prepares the equal-area
// transform.
func (m *Materializer) init(ctx context.Context) error {
	regions, err := m.Store.Regions(ctx)
	if err != nil {
		return err
	}
	m.polys = make(map[string]geom.Polygonal, len(regions))
	for i := range regions {
		r := &regions[i]
		if len(r.GeoJSON) == 0 {
			continue
		}
		g, err := geojson.Decode(r.GeoJSON)
		if err != nil {
			return fmt.Errorf("distribution: decoding geometry for region %s: %w", r.Code, err)
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return fmt.Errorf("distribution: region %s is not polygonal", r.Code)
		}
		m.polys[r.Code] = p
	}

	src, err := proj.Parse(longlatSR)
	if err != nil {
		return fmt.Errorf("distribution: parsing longlat SR: %w", err)
	}
	dst, err := proj.Parse(albersSR)
	if err != nil {
		return fmt.Errorf("distribution: parsing equal-area SR: %w", err)
	}
	m.toAEA, err = src.NewTransform(dst)
	if err != nil {
		return fmt.Errorf("distribution: building equal-area transform: %w", err)
	}
	return nil
}

// union merges the named regions' polygons into one Polygonal. Unknown
// codes are skipped; nil means no usable geometry.
func (m *Materializer) union(codes []string) geom.Polygonal {
	var acc geom.Polygonal
	for _, code := range codes {
		p, ok := m.polys[code]
		if !ok {
			continue
		}
		if acc == nil {
			acc = p
			continue
		}
		acc = acc.Union(p)
	}
	return acc
}

// areaKm2 measures a lon/lat polygon in km² via the equal-area projection.
func (m *Materializer) areaKm2(p geom.Polygonal) (float64, error) {
	g, err := p.Transform(m.toAEA)
	if err != nil {
		return 0, err
	}
	pp, ok := g.(geom.Polygonal)
	if !ok {
		return 0, fmt.Errorf("distribution: projected geometry is not polygonal")
	}
	return pp.Area() / 1e6, nil
}

// Materialize builds the geometry row for one species from its
// consolidated membership. Returns nil when no region has usable
// geometry.
func (m *Materializer) Materialize(speciesID int64, rows []catalog.SpeciesRegion) (*catalog.SpeciesGeometry, error) {
	var nativeCodes, allCodes []string
	for i := range rows {
		r := &rows[i]
		allCodes = append(allCodes, r.Code)
		if r.IsNative {
			nativeCodes = append(nativeCodes, r.Code)
		}
	}

	full := m.union(allCodes)
	if full == nil {
		return nil, nil
	}
	native := m.union(nativeCodes)
	nativeInferred := false
	if native == nil {
		// No source claims nativeness anywhere; carry the full range as
		// the native geometry but flag it as inferred and leave the
		// native region count at zero.
		native = full
		nativeInferred = true
	}

	fullJSON, err := geojson.Encode(full)
	if err != nil {
		return nil, fmt.Errorf("distribution: encoding full range for species %d: %w", speciesID, err)
	}
	nativeJSON, err := geojson.Encode(native)
	if err != nil {
		return nil, fmt.Errorf("distribution: encoding native range for species %d: %w", speciesID, err)
	}

	fullArea, err := m.areaKm2(full)
	if err != nil {
		return nil, fmt.Errorf("distribution: measuring full range for species %d: %w", speciesID, err)
	}
	nativeArea, err := m.areaKm2(native)
	if err != nil {
		return nil, fmt.Errorf("distribution: measuring native range for species %d: %w", speciesID, err)
	}

	b := full.Bounds()
	centroid := full.Centroid()
	return &catalog.SpeciesGeometry{
		SpeciesID:          speciesID,
		BBox:               [4]float64{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y},
		CentroidLon:        centroid.X,
		CentroidLat:        centroid.Y,
		NativeAreaKm2:      nativeArea,
		FullAreaKm2:        fullArea,
		NNativeRegions:     len(nativeCodes),
		NRegions:           len(allCodes),
		NativeInferred:     nativeInferred,
		NativeRangeGeoJSON: nativeJSON,
		FullRangeGeoJSON:   fullJSON,
	}, nil
}

// Run rebuilds species_geometry for every species with consolidated
// membership rows.
func (m *Materializer) Run(ctx context.Context) (int64, error) {
	log := m.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := m.init(ctx); err != nil {
		return 0, err
	}

	var written, skipped int64
	err := m.Store.SpeciesRegionsSnapshot(ctx, func(speciesID int64, rows []catalog.SpeciesRegion) error {
		g, err := m.Materialize(speciesID, rows)
		if err != nil {
			return err
		}
		if g == nil {
			skipped++
			return nil
		}
		if err := m.Store.UpsertSpeciesGeometry(ctx, g); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	log.WithFields(logrus.Fields{
		"species": written,
		"skipped": skipped,
	}).Info("range geometry materialization finished")
	return written, nil
}
