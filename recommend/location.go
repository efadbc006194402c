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
	"context"
	"errors"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/spatial"
)

// stateToTDWG maps Brazilian federative-unit codes onto the TDWG level-3
// cells that cover them. Administrative lookups outside this table fail
// with location_unresolved.
var stateToTDWG = map[string]string{
	// North.
	"BR-AC": "BZN", "BR-AM": "BZN", "BR-AP": "BZN", "BR-PA": "BZN",
	"BR-RO": "BZN", "BR-RR": "BZN", "BR-TO": "BZN",
	// Northeast.
	"BR-AL": "BZE", "BR-BA": "BZE", "BR-CE": "BZE", "BR-MA": "BZE",
	"BR-PB": "BZE", "BR-PE": "BZE", "BR-PI": "BZE", "BR-RN": "BZE",
	"BR-SE": "BZE",
	// West-Central.
	"BR-DF": "BZC", "BR-GO": "BZC", "BR-MS": "BZC", "BR-MT": "BZC",
	// Southeast.
	"BR-ES": "BZL", "BR-MG": "BZL", "BR-RJ": "BZL", "BR-SP": "BZL",
	// South.
	"BR-PR": "BZS", "BR-RS": "BZS", "BR-SC": "BZS",
}

// Location is a resolved site: the region it belongs to and the
// bio-vector used for scoring.
type Location struct {
	TDWGCode  string `json:"tdwg_code"`
	TDWGName  string `json:"tdwg_name"`
	Bio       catalog.BioVector
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// LocationStore is the slice of the catalog the resolver needs.
type LocationStore interface {
	RegionByCode(ctx context.Context, code string) (*catalog.Region, error)
	ClimateAtPoint(ctx context.Context, lat, lon float64) (*catalog.BioVector, error)
	RegionClimateByCode(ctx context.Context, code string) (*catalog.RegionClimate, error)
}

// Resolver maps a request's location specifier to a region and a
// bio-vector. Containment and nearest-neighbor queries go through the
// spatial locator so the PostGIS-backed and in-process implementations
// are interchangeable.
type Resolver struct {
	Store   LocationStore
	Locator spatial.Locator
}

// Resolve maps the normalized request onto a Location. Coordinate
// requests prefer the raster-sampled bio-vector and fall back to the
// region aggregate; code requests always use the aggregate.
func (r *Resolver) Resolve(ctx context.Context, n *normalized) (*Location, *Error) {
	switch {
	case n.Latitude != nil:
		return r.resolveCoords(ctx, *n.Latitude, *n.Longitude)
	case n.StateCode != "":
		code, ok := stateToTDWG[n.StateCode]
		if !ok {
			return nil, errUnresolved("unknown administrative code %q", n.StateCode)
		}
		return r.resolveCode(ctx, code)
	default:
		return r.resolveCode(ctx, n.TDWGCode)
	}
}

func (r *Resolver) resolveCode(ctx context.Context, code string) (*Location, *Error) {
	region, err := r.Store.RegionByCode(ctx, code)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, errUnresolved("unknown region %q", code)
	}
	if err != nil {
		return nil, errStore(err)
	}
	loc := &Location{TDWGCode: region.Code, TDWGName: region.Name}
	if e := r.regionClimate(ctx, loc); e != nil {
		return nil, e
	}
	return loc, nil
}

func (r *Resolver) resolveCoords(ctx context.Context, lat, lon float64) (*Location, *Error) {
	region, err := r.Locator.LocateRegion(ctx, lat, lon)
	if errors.Is(err, catalog.ErrNotFound) {
		region, _, err = r.Locator.NearestRegion(ctx, lat, lon, spatial.DefaultToleranceDeg)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &Error{
				Kind:    KindLocationUnresolved,
				Message: "coordinates fall outside region coverage",
				Hint:    "the location must be on or near land within the mapped partition",
			}
		}
	}
	if err != nil {
		return nil, errStore(err)
	}

	loc := &Location{
		TDWGCode: region.Code, TDWGName: region.Name,
		Latitude: &lat, Longitude: &lon,
	}

	// Point sample first; regional aggregate as fallback when the point
	// has no raster coverage.
	bio, err := r.Store.ClimateAtPoint(ctx, lat, lon)
	if err != nil {
		return nil, errStore(err)
	}
	if bio != nil {
		loc.Bio = *bio
		return loc, nil
	}
	if e := r.regionClimate(ctx, loc); e != nil {
		return nil, e
	}
	return loc, nil
}

func (r *Resolver) regionClimate(ctx context.Context, loc *Location) *Error {
	rc, err := r.Store.RegionClimateByCode(ctx, loc.TDWGCode)
	if errors.Is(err, catalog.ErrNotFound) {
		return &Error{
			Kind:    KindClimateUnavailable,
			Message: "no climate data for region " + loc.TDWGCode,
		}
	}
	if err != nil {
		return errStore(err)
	}
	loc.Bio = catalog.BioVector{
		Bio1:  rc.Mean.Bio1,
		Bio5:  rc.Max.Bio5,
		Bio6:  rc.Min.Bio6,
		Bio12: rc.Mean.Bio12,
		Bio15: rc.Mean.Bio15,
	}
	return nil
}
