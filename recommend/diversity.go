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
	"hash/fnv"
	"math"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/traits"
)

// Greedy objective weights: marginal diversity against climate fit.
const (
	weightDiversity = 0.7
	weightClimate   = 0.3
)

// Feature vector normalization bounds.
const (
	heightScaleM     = 80.0
	lifespanScaleYrs = 15000.0
	familyHashBits   = 4
)

// Defaults for missing continuous traits, keyed by growth form. Values
// are rough life-history medians; they only have to place a species in
// the right neighborhood of trait space.
var defaultHeightM = map[string]float64{
	traits.FormTree: 15, traits.FormPalm: 12, traits.FormBamboo: 8,
	traits.FormShrub: 3, traits.FormSubshrub: 1,
	traits.FormLiana: 10, traits.FormVine: 4, traits.FormScrambler: 3,
	traits.FormForb: 0.5, traits.FormGraminoid: 0.8, traits.FormOther: 1,
}

var defaultLifespanYrs = map[string]float64{
	traits.FormTree: 100, traits.FormPalm: 60, traits.FormBamboo: 40,
	traits.FormShrub: 20, traits.FormSubshrub: 10,
	traits.FormLiana: 30, traits.FormVine: 5, traits.FormScrambler: 10,
	traits.FormForb: 2, traits.FormGraminoid: 3, traits.FormOther: 10,
}

// nFeatures is the fixed dimension of the trait vector: eight binary
// habit/function features, two normalized continuous features, and one
// phylogenetic proxy.
const nFeatures = 11

// featureVector maps a candidate into trait space. Binary features are
// 0/1; continuous features are normalized into [0, 1]; the last slot is
// a stable small-integer hash of the family, compared categorically.
func featureVector(c *catalog.Candidate) [nFeatures]float64 {
	var v [nFeatures]float64

	form := ""
	if c.GrowthForm != nil {
		form = *c.GrowthForm
	}
	h := traits.HabitOf(form)
	if h.IsTree {
		v[0] = 1
	}
	if h.IsShrub {
		v[1] = 1
	}
	if h.IsHerb {
		v[2] = 1
	}
	if h.IsClimber {
		v[3] = 1
	}
	if h.IsPalm {
		v[4] = 1
	}
	if c.NitrogenFixer {
		v[5] = 1
	}
	if c.DispersalSyndrome != nil {
		switch *c.DispersalSyndrome {
		case "animal", "zoochory", "endozoochory":
			v[6] = 1
		case "wind", "anemochory":
			v[7] = 1
		}
	}

	height := defaultHeightM[form]
	if c.MaxHeightM != nil {
		height = *c.MaxHeightM
	}
	v[8] = math.Min(1, math.Max(0, height/heightScaleM))

	lifespan := defaultLifespanYrs[form]
	if c.LifespanYears != nil {
		lifespan = *c.LifespanYears
	}
	if lifespan < 1 {
		lifespan = 1
	}
	v[9] = math.Min(1, math.Log(lifespan)/math.Log(lifespanScaleYrs))

	v[10] = float64(familyHash(c.Family))
	return v
}

// familyHash folds a family name into a small stable integer, the
// phylogenetic proxy feature.
func familyHash(family string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(family))
	return h.Sum32() & (1<<familyHashBits - 1)
}

// gowerDistance is the mean of the per-feature distances: |a-b| for the
// continuous slots, 0/1 equality for the rest.
func gowerDistance(a, b *[nFeatures]float64) float64 {
	var sum float64
	for i := 0; i < nFeatures; i++ {
		switch i {
		case 8, 9:
			sum += math.Abs(a[i] - b[i])
		default:
			if a[i] != b[i] {
				sum++
			}
		}
	}
	return sum / nFeatures
}

// scored pairs a candidate with its climate match score for selection.
type scored struct {
	catalog.Candidate
	Score    float64
	features [nFeatures]float64
}

// selected is a scored candidate with its selection outcome.
type selected struct {
	scored
	Rank                  int
	DiversityContribution float64
}

// selectDiverse greedily picks k candidates maximizing a blend of
// marginal trait-space diversity and climate fit. The input must be
// sorted by score descending, species id ascending; the first entry
// seeds the selection. Deterministic: ties fall to the higher score,
// then the lower species id.
func selectDiverse(pool []scored, k int) []selected {
	if len(pool) == 0 || k <= 0 {
		return nil
	}
	for i := range pool {
		pool[i].features = featureVector(&pool[i].Candidate)
	}

	out := make([]selected, 0, k)
	out = append(out, selected{scored: pool[0], Rank: 1, DiversityContribution: 1.0})
	remaining := pool[1:]

	for len(out) < k && len(remaining) > 0 {
		bestIdx := -1
		var bestCombined, bestMarginal float64
		for i := range remaining {
			c := &remaining[i]
			marginal := math.Inf(1)
			for j := range out {
				if d := gowerDistance(&c.features, &out[j].features); d < marginal {
					marginal = d
				}
			}
			combined := weightDiversity*marginal + weightClimate*c.Score
			better := combined > bestCombined
			if combined == bestCombined && bestIdx >= 0 {
				prev := &remaining[bestIdx]
				if c.Score > prev.Score ||
					(c.Score == prev.Score && c.SpeciesID < prev.SpeciesID) {
					better = true
				}
			}
			if bestIdx < 0 || better {
				bestIdx = i
				bestCombined = combined
				bestMarginal = marginal
			}
		}
		out = append(out, selected{
			scored:                remaining[bestIdx],
			Rank:                  len(out) + 1,
			DiversityContribution: Round3(bestMarginal),
		})
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}

// Metrics are the aggregate diversity statistics of a selection.
type Metrics struct {
	FunctionalDiversity   float64 `json:"functional_diversity"`
	PhylogeneticDiversity float64 `json:"phylogenetic_diversity"`
	GrowthFormRichness    float64 `json:"growth_form_richness"`
	TotalDiversityScore   float64 `json:"total_diversity_score"`
	NSpecies              int     `json:"n_species"`
	NFamilies             int     `json:"n_families"`
	NGrowthForms          int     `json:"n_growth_forms"`
}

// computeMetrics summarizes a selection: mean pairwise Gower distance,
// distinct-family ratio, and distinct growth forms over a denominator of
// five umbrella habits.
func computeMetrics(sel []selected) Metrics {
	m := Metrics{NSpecies: len(sel)}
	if len(sel) == 0 {
		return m
	}

	var sum float64
	var pairs int
	for i := 0; i < len(sel); i++ {
		for j := i + 1; j < len(sel); j++ {
			sum += gowerDistance(&sel[i].features, &sel[j].features)
			pairs++
		}
	}
	if pairs > 0 {
		m.FunctionalDiversity = Round3(sum / float64(pairs))
	}

	families := make(map[string]bool)
	forms := make(map[string]bool)
	for i := range sel {
		if sel[i].Family != "" {
			families[sel[i].Family] = true
		}
		if sel[i].GrowthForm != nil {
			forms[*sel[i].GrowthForm] = true
		}
	}
	m.NFamilies = len(families)
	m.NGrowthForms = len(forms)
	m.PhylogeneticDiversity = Round3(float64(len(families)) / float64(len(sel)))
	m.GrowthFormRichness = Round3(float64(len(forms)) / 5)

	m.TotalDiversityScore = Round3(0.5*m.FunctionalDiversity +
		0.25*m.PhylogeneticDiversity + 0.25*m.GrowthFormRichness)
	return m
}
