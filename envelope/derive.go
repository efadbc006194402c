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

// Package envelope derives per-species climate envelopes from three
// independent evidence layers: occurrence point samples, ecoregion
// centroid samples, and region-level climate aggregates. Each deriver
// writes its own table; the unified view resolves them by fixed priority
// (occurrence over ecoregion over region) so richer evidence always wins.
package envelope

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/spatialflora/floracast/catalog"
)

// MinOccurrenceSamples is the minimum number of climate-annotated
// occurrence points for the occurrence deriver to produce an envelope.
const MinOccurrenceSamples = 10

// MinPercentileSamples is the sample count below which the percentile
// fields fall back to the observed extremes. The fallback is recorded in
// the envelope notes.
const MinPercentileSamples = 20

const percentileFallbackNote = "percentiles from min/max: fewer than 20 samples"

// Quality thresholds per evidence layer. More samples from a weaker layer
// do not outrank a stronger layer; quality only grades within a layer.
func occurrenceQuality(n int) catalog.EnvelopeQuality {
	switch {
	case n >= 100:
		return catalog.QualityHigh
	case n >= 50:
		return catalog.QualityMedium
	}
	return catalog.QualityLow
}

func ecoregionQuality(n int) catalog.EnvelopeQuality {
	switch {
	case n >= 10:
		return catalog.QualityHigh
	case n >= 3:
		return catalog.QualityMedium
	}
	return catalog.QualityLow
}

func regionQuality(n int) catalog.EnvelopeQuality {
	switch {
	case n >= 5:
		return catalog.QualityHigh
	case n >= 2:
		return catalog.QualityMedium
	}
	return catalog.QualityLow
}

// quantile returns the p-quantile of xs. xs is sorted in place.
func quantile(p float64, xs []float64) float64 {
	sort.Float64s(xs)
	return stat.Quantile(p, stat.Empirical, xs, nil)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// columns transposes bio vectors into per-variable slices.
func columns(samples []catalog.BioVector) (bio1, bio5, bio6, bio12, bio15 []float64) {
	n := len(samples)
	bio1 = make([]float64, n)
	bio5 = make([]float64, n)
	bio6 = make([]float64, n)
	bio12 = make([]float64, n)
	bio15 = make([]float64, n)
	for i := range samples {
		s := &samples[i]
		bio1[i], bio5[i], bio6[i], bio12[i], bio15[i] = s.Bio1, s.Bio5, s.Bio6, s.Bio12, s.Bio15
	}
	return
}

// FromOccurrences derives the occurrence-based envelope. Returns nil when
// there are fewer than MinOccurrenceSamples samples. Temperature bounds
// come from the coldest-month and warmest-month variables, not the annual
// mean, so the envelope reflects what extremes the species tolerates.
func FromOccurrences(speciesID int64, samples []catalog.BioVector) *catalog.ClimateEnvelope {
	n := len(samples)
	if n < MinOccurrenceSamples {
		return nil
	}
	bio1, bio5, bio6, bio12, bio15 := columns(samples)

	e := &catalog.ClimateEnvelope{
		SpeciesID:         speciesID,
		TempMean:          round1(stat.Mean(bio1, nil)),
		TempMin:           round1(minOf(bio6)),
		TempMax:           round1(maxOf(bio5)),
		PrecipMean:        round1(stat.Mean(bio12, nil)),
		PrecipMin:         round1(minOf(bio12)),
		PrecipMax:         round1(maxOf(bio12)),
		PrecipSeasonality: round1(stat.Mean(bio15, nil)),
		NSamples:          n,
		Quality:           occurrenceQuality(n),
	}

	var p05, p95, cold05, warm95 float64
	if n < MinPercentileSamples {
		p05, p95 = minOf(bio1), maxOf(bio1)
		cold05, warm95 = e.TempMin, e.TempMax
		note := percentileFallbackNote
		e.Notes = &note
	} else {
		p05 = quantile(0.05, bio1)
		p95 = quantile(0.95, bio1)
		cold05 = quantile(0.05, bio6)
		warm95 = quantile(0.95, bio5)
	}
	p05, p95, cold05, warm95 = round1(p05), round1(p95), round1(cold05), round1(warm95)
	e.TempP05, e.TempP95 = &p05, &p95
	e.ColdMonthP05, e.WarmMonthP95 = &cold05, &warm95
	return e
}

// FromEcoregionSamples derives the ecoregion-based envelope from centroid
// climate samples of the ecoregions the species occurs in. A single
// ecoregion still yields an envelope, graded low.
func FromEcoregionSamples(speciesID int64, samples []catalog.BioVector) *catalog.ClimateEnvelope {
	n := len(samples)
	if n == 0 {
		return nil
	}
	bio1, bio5, bio6, bio12, bio15 := columns(samples)
	return &catalog.ClimateEnvelope{
		SpeciesID:         speciesID,
		TempMean:          round1(stat.Mean(bio1, nil)),
		TempMin:           round1(minOf(bio6)),
		TempMax:           round1(maxOf(bio5)),
		PrecipMean:        round1(stat.Mean(bio12, nil)),
		PrecipMin:         round1(minOf(bio12)),
		PrecipMax:         round1(maxOf(bio12)),
		PrecipSeasonality: round1(stat.Mean(bio15, nil)),
		NSamples:          n,
		Quality:           ecoregionQuality(n),
	}
}

// FromRegionAggregates derives the region-based envelope from the climate
// aggregates of the species' native regions. The bounds take the extreme
// of the per-region extremes: coldest min of the coldest region, wettest
// max of the wettest.
func FromRegionAggregates(speciesID int64, aggs []catalog.RegionClimate) *catalog.ClimateEnvelope {
	n := len(aggs)
	if n == 0 {
		return nil
	}
	var meanSum, seasonSum float64
	tempMin, tempMax := math.Inf(1), math.Inf(-1)
	precipMin, precipMax := math.Inf(1), math.Inf(-1)
	var precipSum float64
	for i := range aggs {
		a := &aggs[i]
		meanSum += a.Mean.Bio1
		seasonSum += a.Mean.Bio15
		precipSum += a.Mean.Bio12
		tempMin = math.Min(tempMin, a.Min.Bio6)
		tempMax = math.Max(tempMax, a.Max.Bio5)
		precipMin = math.Min(precipMin, a.Min.Bio12)
		precipMax = math.Max(precipMax, a.Max.Bio12)
	}
	return &catalog.ClimateEnvelope{
		SpeciesID:         speciesID,
		TempMean:          round1(meanSum / float64(n)),
		TempMin:           round1(tempMin),
		TempMax:           round1(tempMax),
		PrecipMean:        round1(precipSum / float64(n)),
		PrecipMin:         round1(precipMin),
		PrecipMax:         round1(precipMax),
		PrecipSeasonality: round1(seasonSum / float64(n)),
		NSamples:          n,
		Quality:           regionQuality(n),
	}
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
