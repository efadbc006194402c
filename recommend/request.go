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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spatialflora/floracast/traits"
)

// Request bounds.
const (
	DefaultSpeciesCount = 20
	MaxSpeciesCount     = 1000
	DefaultThreshold    = 0.6
	MinThreshold        = 0.3
	MaxThreshold        = 1.0

	// Candidate pool sizing: 2k clamped to [500, 2000].
	minCandidatePool = 500
	maxCandidatePool = 2000
)

// Preferences is the filter bag on a recommendation request.
type Preferences struct {
	GrowthForms        []string `json:"growth_forms,omitempty"`
	IncludeIntroduced  bool     `json:"include_introduced,omitempty"`
	IncludeThreatened  *bool    `json:"include_threatened,omitempty"`
	MinHeightM         *float64 `json:"min_height_m,omitempty"`
	MaxHeightM         *float64 `json:"max_height_m,omitempty"`
	NitrogenFixersOnly bool     `json:"nitrogen_fixers_only,omitempty"`
	EndemicsOnly       bool     `json:"endemics_only,omitempty"`
}

// Request is the recommendation query. Exactly one of TDWGCode,
// StateCode, or the coordinate pair locates the site.
type Request struct {
	TDWGCode  string   `json:"tdwg_code,omitempty"`
	StateCode string   `json:"state_code,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	NSpecies         int         `json:"n_species,omitempty"`
	ClimateThreshold float64     `json:"climate_threshold,omitempty"`
	Preferences      Preferences `json:"preferences,omitempty"`
}

// normalized is the canonical form of a request after validation: clamps
// applied, umbrella growth forms expanded and sorted, the threatened
// default resolved. Cache keys hash this form so equivalent requests
// share an entry.
type normalized struct {
	TDWGCode  string   `json:"tdwg_code,omitempty"`
	StateCode string   `json:"state_code,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	NSpecies  int     `json:"n_species"`
	Threshold float64 `json:"climate_threshold"`

	GrowthForms        []string `json:"growth_forms,omitempty"`
	IncludeIntroduced  bool     `json:"include_introduced"`
	IncludeThreatened  bool     `json:"include_threatened"`
	MinHeightM         *float64 `json:"min_height_m,omitempty"`
	MaxHeightM         *float64 `json:"max_height_m,omitempty"`
	NitrogenFixersOnly bool     `json:"nitrogen_fixers_only"`
	EndemicsOnly       bool     `json:"endemics_only"`
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalize validates a request and reduces it to canonical form.
func (r *Request) normalize() (*normalized, *Error) {
	locators := 0
	if r.TDWGCode != "" {
		locators++
	}
	if r.StateCode != "" {
		locators++
	}
	hasCoords := r.Latitude != nil || r.Longitude != nil
	if hasCoords {
		if r.Latitude == nil || r.Longitude == nil {
			return nil, errInvalid("latitude and longitude must be given together")
		}
		if *r.Latitude < -90 || *r.Latitude > 90 {
			return nil, errInvalid("latitude %.4f out of range [-90, 90]", *r.Latitude)
		}
		if *r.Longitude < -180 || *r.Longitude > 180 {
			return nil, errInvalid("longitude %.4f out of range [-180, 180]", *r.Longitude)
		}
		locators++
	}
	if locators == 0 {
		return nil, errInvalid("one of tdwg_code, state_code, or latitude/longitude is required")
	}
	if locators > 1 {
		return nil, errInvalid("tdwg_code, state_code, and latitude/longitude are mutually exclusive")
	}

	if r.Preferences.MinHeightM != nil && *r.Preferences.MinHeightM < 0 {
		return nil, errInvalid("min_height_m must be non-negative")
	}
	if r.Preferences.MinHeightM != nil && r.Preferences.MaxHeightM != nil &&
		*r.Preferences.MinHeightM > *r.Preferences.MaxHeightM {
		return nil, errInvalid("min_height_m exceeds max_height_m")
	}

	forms, unknown := traits.ExpandGrowthForms(r.Preferences.GrowthForms)
	if len(unknown) > 0 {
		return nil, errInvalid("unknown growth forms: %s", strings.Join(unknown, ", "))
	}
	sort.Strings(forms)

	n := r.NSpecies
	if n == 0 {
		n = DefaultSpeciesCount
	}
	if n < 0 {
		return nil, errInvalid("n_species must be positive")
	}
	threshold := r.ClimateThreshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	includeThreatened := true
	if r.Preferences.IncludeThreatened != nil {
		includeThreatened = *r.Preferences.IncludeThreatened
	}

	return &normalized{
		TDWGCode:           strings.ToUpper(strings.TrimSpace(r.TDWGCode)),
		StateCode:          strings.ToUpper(strings.TrimSpace(r.StateCode)),
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		NSpecies:           clampInt(n, 1, MaxSpeciesCount),
		Threshold:          clampFloat(threshold, MinThreshold, MaxThreshold),
		GrowthForms:        forms,
		IncludeIntroduced:  r.Preferences.IncludeIntroduced,
		IncludeThreatened:  includeThreatened,
		MinHeightM:         r.Preferences.MinHeightM,
		MaxHeightM:         r.Preferences.MaxHeightM,
		NitrogenFixersOnly: r.Preferences.NitrogenFixersOnly,
		EndemicsOnly:       r.Preferences.EndemicsOnly,
	}, nil
}

// cacheKey is the SHA-256 of the canonicalized request parameters.
func (n *normalized) cacheKey() string {
	b, err := json.Marshal(n)
	if err != nil {
		panic(err) // the struct contains only marshalable fields
	}
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// poolSize caps the scored pool handed to the diversity selector for k
// requested species.
func (n *normalized) poolSize() int {
	return clampInt(2*n.NSpecies, minCandidatePool, maxCandidatePool)
}
