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
	"math"

	"github.com/spatialflora/floracast/catalog"
)

// Climate match score component weights.
const (
	weightTempMean    = 0.25
	weightHardFilter  = 0.25
	weightPrecip      = 0.20
	weightSeasonality = 0.15
	weightColdHardy   = 0.15

	// hardFilterMarginC is the tolerance beyond the envelope's absolute
	// temperature bounds before a species is ruled out entirely.
	hardFilterMarginC = 3.0
)

// Round3 rounds to three decimals, the precision of every reported score.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Score computes the climate match score of an envelope against a site's
// bio-vector. The result is in [0, 1]; it is exactly 0 when the site's
// extremes fall outside the envelope's tolerated range, regardless of the
// other components.
func Score(e *catalog.UnifiedEnvelope, site *catalog.BioVector) float64 {
	cold := site.Bio6
	warm := site.Bio5

	// Hard filter first: a site colder or hotter than the species has
	// ever been attested to survive, beyond the margin, zeroes the score.
	if cold < e.TempMin-hardFilterMarginC || warm > e.TempMax+hardFilterMarginC {
		return 0
	}

	score := weightHardFilter

	score += weightTempMean * math.Max(0, 1-math.Abs(site.Bio1-e.TempMean)/10)

	if e.PrecipMean > 0 {
		score += weightPrecip * math.Max(0, 1-math.Abs(site.Bio12-e.PrecipMean)/e.PrecipMean)
	} else {
		score += weightPrecip * 0.10
	}

	score += weightSeasonality * math.Max(0, 1-math.Abs(site.Bio15-e.PrecipSeasonality)/50)

	// Cold hardiness: frost-free sites score full; freezing sites score
	// full only for species attested comfortably below the site minimum.
	switch {
	case cold >= 0:
		score += weightColdHardy
	case e.TempMin < cold-2:
		score += weightColdHardy
	default:
		score += weightColdHardy * 0.05
	}

	return Round3(score)
}
