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
	"testing"

	"github.com/spatialflora/floracast/catalog"
)

// envelope builds a plausible subtropical envelope for score tests.
func envelope() *catalog.UnifiedEnvelope {
	e := &catalog.UnifiedEnvelope{}
	e.TempMean = 20
	e.TempMin = 2
	e.TempMax = 34
	e.PrecipMean = 1500
	e.PrecipSeasonality = 40
	return e
}

func TestScorePerfectMatch(t *testing.T) {
	e := envelope()
	site := &catalog.BioVector{Bio1: 20, Bio5: 30, Bio6: 8, Bio12: 1500, Bio15: 40}
	if got := Score(e, site); got != 1.0 {
		t.Errorf("Score = %v, want 1.0", got)
	}
}

func TestScoreHardFilterZeroes(t *testing.T) {
	e := envelope()
	// Site colder than the envelope minimum beyond the 3 degree margin.
	cold := &catalog.BioVector{Bio1: 5, Bio5: 20, Bio6: -2, Bio12: 1500, Bio15: 40}
	if got := Score(e, cold); got != 0 {
		t.Errorf("Score below cold margin = %v, want 0", got)
	}
	// Site hotter than the envelope maximum beyond the margin.
	hot := &catalog.BioVector{Bio1: 30, Bio5: 38, Bio6: 15, Bio12: 1500, Bio15: 40}
	if got := Score(e, hot); got != 0 {
		t.Errorf("Score above warm margin = %v, want 0", got)
	}
	// Exactly at the margin still passes.
	edge := &catalog.BioVector{Bio1: 20, Bio5: 37, Bio6: -1, Bio12: 1500, Bio15: 40}
	if got := Score(e, edge); got == 0 {
		t.Error("Score at margin boundary should not be zeroed")
	}
}

func TestScoreColdHardiness(t *testing.T) {
	e := envelope()
	e.TempMin = -12

	// Freezing site, species attested well below: full component.
	hardy := &catalog.BioVector{Bio1: 20, Bio5: 30, Bio6: -5, Bio12: 1500, Bio15: 40}
	// Freezing site, species attested only near the site minimum: the
	// component drops to a twentieth.
	e2 := envelope()
	e2.TempMin = -6
	tender := Score(e2, hardy)
	full := Score(e, hardy)
	if full-tender < 0.1 {
		t.Errorf("cold hardiness gap = %v - %v, want >= 0.95 * 0.15", full, tender)
	}
}

func TestScorePrecipZeroMean(t *testing.T) {
	e := envelope()
	e.PrecipMean = 0
	site := &catalog.BioVector{Bio1: 20, Bio5: 30, Bio6: 8, Bio12: 100, Bio15: 40}
	// 0.25 + 0.25 + 0.20*0.10 + 0.15 + 0.15 = 0.82
	if got := Score(e, site); got != 0.82 {
		t.Errorf("Score with zero precip mean = %v, want 0.82", got)
	}
}

func TestRound3(t *testing.T) {
	if got := Round3(0.12349); got != 0.123 {
		t.Errorf("Round3(0.12349) = %v", got)
	}
	if got := Round3(0.1235); got != 0.124 {
		t.Errorf("Round3(0.1235) = %v", got)
	}
}
