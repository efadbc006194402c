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
	"github.com/spatialflora/floracast/traits"
)

func candidate(id int64, family, form string, height float64) catalog.Candidate {
	f := form
	h := height
	return catalog.Candidate{
		SpeciesID:     id,
		CanonicalName: "Species " + family,
		Family:        family,
		GrowthForm:    &f,
		MaxHeightM:    &h,
	}
}

func TestGowerDistanceBounds(t *testing.T) {
	a := candidate(1, "Fabaceae", traits.FormTree, 30)
	b := candidate(2, "Fabaceae", traits.FormTree, 30)
	va, vb := featureVector(&a), featureVector(&b)
	if d := gowerDistance(&va, &vb); d != 0 {
		t.Errorf("identical candidates: distance = %v, want 0", d)
	}

	c := candidate(3, "Poaceae", traits.FormGraminoid, 1)
	c.NitrogenFixer = true
	vc := featureVector(&c)
	d := gowerDistance(&va, &vc)
	if d <= 0 || d > 1 {
		t.Errorf("distance = %v, want in (0, 1]", d)
	}
}

func TestFeatureVectorDefaults(t *testing.T) {
	// Missing height and lifespan fall back to growth-form defaults.
	form := traits.FormTree
	c := catalog.Candidate{SpeciesID: 1, Family: "Meliaceae", GrowthForm: &form}
	v := featureVector(&c)
	if v[0] != 1 {
		t.Error("tree flag should be set")
	}
	if v[8] <= 0 || v[8] > 1 {
		t.Errorf("default height feature = %v, want in (0, 1]", v[8])
	}
	if v[9] <= 0 || v[9] > 1 {
		t.Errorf("default lifespan feature = %v, want in (0, 1]", v[9])
	}
}

func TestSelectDiverseSeedAndRanks(t *testing.T) {
	pool := []scored{
		{Candidate: candidate(1, "Fabaceae", traits.FormTree, 25), Score: 0.95},
		{Candidate: candidate(2, "Fabaceae", traits.FormTree, 24), Score: 0.90},
		{Candidate: candidate(3, "Poaceae", traits.FormGraminoid, 1), Score: 0.70},
		{Candidate: candidate(4, "Arecaceae", traits.FormPalm, 12), Score: 0.75},
		{Candidate: candidate(5, "Bignoniaceae", traits.FormLiana, 10), Score: 0.72},
	}

	sel := selectDiverse(pool, 3)
	if len(sel) != 3 {
		t.Fatalf("selected %d, want 3", len(sel))
	}
	// Seed is the top scorer.
	if sel[0].SpeciesID != 1 || sel[0].Rank != 1 || sel[0].DiversityContribution != 1.0 {
		t.Errorf("seed = %+v", sel[0])
	}
	// Ranks are 1..k and ids distinct.
	seen := map[int64]bool{}
	for i, s := range sel {
		if s.Rank != i+1 {
			t.Errorf("rank[%d] = %d", i, s.Rank)
		}
		if seen[s.SpeciesID] {
			t.Errorf("duplicate species %d", s.SpeciesID)
		}
		seen[s.SpeciesID] = true
	}
	// The near-duplicate tree (id 2) must not be picked while three
	// distinct habits are available.
	if seen[2] {
		t.Error("selection favored a redundant tree over distinct habits")
	}
}

func TestSelectDiverseDeterministicTies(t *testing.T) {
	// Two identical candidates except id: the lower id wins the tie.
	pool := []scored{
		{Candidate: candidate(10, "Fabaceae", traits.FormTree, 25), Score: 0.9},
		{Candidate: candidate(7, "Myrtaceae", traits.FormShrub, 3), Score: 0.8},
		{Candidate: candidate(5, "Myrtaceae", traits.FormShrub, 3), Score: 0.8},
	}
	sel := selectDiverse(pool, 2)
	if sel[1].SpeciesID != 5 {
		t.Errorf("tie should fall to the lower species id, got %d", sel[1].SpeciesID)
	}

	again := selectDiverse([]scored{pool[0], pool[1], pool[2]}, 2)
	for i := range sel {
		if sel[i].SpeciesID != again[i].SpeciesID {
			t.Fatalf("selection not deterministic at rank %d", i+1)
		}
	}
}

func TestSelectDiverseFewerThanK(t *testing.T) {
	pool := []scored{
		{Candidate: candidate(1, "Fabaceae", traits.FormTree, 25), Score: 0.9},
	}
	sel := selectDiverse(pool, 10)
	if len(sel) != 1 {
		t.Fatalf("selected %d, want 1", len(sel))
	}
}

func TestComputeMetrics(t *testing.T) {
	pool := []scored{
		{Candidate: candidate(1, "Fabaceae", traits.FormTree, 25), Score: 0.9},
		{Candidate: candidate(2, "Poaceae", traits.FormGraminoid, 1), Score: 0.8},
		{Candidate: candidate(3, "Fabaceae", traits.FormShrub, 3), Score: 0.7},
	}
	sel := selectDiverse(pool, 3)
	m := computeMetrics(sel)

	if m.NSpecies != 3 || m.NFamilies != 2 || m.NGrowthForms != 3 {
		t.Errorf("counts = %+v", m)
	}
	if m.PhylogeneticDiversity != Round3(2.0/3.0) {
		t.Errorf("PD = %v", m.PhylogeneticDiversity)
	}
	if m.GrowthFormRichness != 0.6 {
		t.Errorf("GFR = %v, want 0.6", m.GrowthFormRichness)
	}
	if m.FunctionalDiversity <= 0 || m.FunctionalDiversity > 1 {
		t.Errorf("FD = %v", m.FunctionalDiversity)
	}
	want := Round3(0.5*m.FunctionalDiversity + 0.25*m.PhylogeneticDiversity + 0.25*m.GrowthFormRichness)
	if m.TotalDiversityScore != want {
		t.Errorf("total = %v, want %v", m.TotalDiversityScore, want)
	}
}

func TestComputeMetricsSingleForm(t *testing.T) {
	pool := []scored{
		{Candidate: candidate(1, "Fabaceae", traits.FormTree, 25), Score: 0.9},
		{Candidate: candidate(2, "Meliaceae", traits.FormTree, 30), Score: 0.8},
	}
	m := computeMetrics(selectDiverse(pool, 2))
	if m.NGrowthForms != 1 || m.GrowthFormRichness != 0.2 {
		t.Errorf("single-form richness = %+v, want 0.2", m)
	}
}
