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

// Package recommend turns a resolved location and the species catalog
// into a ranked, diversity-optimized species list. Scoring and selection
// are pure in-process computations; the store contributes the candidate
// pool and the response cache.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
)

// SpeciesRecommendation is one selected species in a response.
type SpeciesRecommendation struct {
	SpeciesID     int64    `json:"species_id"`
	CanonicalName string   `json:"canonical_name"`
	CommonNamePT  *string  `json:"common_name_pt,omitempty"`
	CommonNameEN  *string  `json:"common_name_en,omitempty"`
	Family        string   `json:"family"`
	GrowthForm    *string  `json:"growth_form,omitempty"`
	MaxHeightM    *float64 `json:"max_height_m,omitempty"`
	LifespanYears *float64 `json:"lifespan_years,omitempty"`
	NitrogenFixer bool     `json:"is_nitrogen_fixer"`
	ThreatStatus  *string  `json:"threat_status,omitempty"`
	IsNative      bool     `json:"is_native"`
	IsEndemic     bool     `json:"is_endemic"`

	ClimateMatchScore     float64 `json:"climate_match_score"`
	SelectionRank         int     `json:"selection_rank"`
	DiversityContribution float64 `json:"diversity_contribution"`
}

// LocationInfo echoes the resolved site back to the client.
type LocationInfo struct {
	TDWGCode  string   `json:"tdwg_code"`
	TDWGName  string   `json:"tdwg_name"`
	Bio1      float64  `json:"bio1"`
	Bio5      float64  `json:"bio5"`
	Bio6      float64  `json:"bio6"`
	Bio12     float64  `json:"bio12"`
	Bio15     float64  `json:"bio15"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Response is the recommendation payload.
type Response struct {
	Species          []SpeciesRecommendation `json:"species"`
	DiversityMetrics Metrics                 `json:"diversity_metrics"`
	LocationInfo     LocationInfo            `json:"location_info"`
	QueryTime        string                  `json:"query_time"`
}

// Store is the slice of the catalog the engine needs.
type Store interface {
	Candidates(ctx context.Context, f catalog.CandidateFilter) ([]catalog.Candidate, error)
	CacheGet(ctx context.Context, key string) (*catalog.CachedRecommendation, error)
	CachePut(ctx context.Context, c *catalog.CachedRecommendation) error
}

// Engine computes recommendations.
type Engine struct {
	Store    Store
	Resolver *Resolver
	Log      *logrus.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// Result carries a response together with its exact serialized bytes.
// Cache hits return the stored bytes untouched, so a repeated request is
// answered bit-identically for the lifetime of the cache entry.
type Result struct {
	Response *Response
	JSON     []byte
	CacheHit bool
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// Recommend validates, resolves, scores, and selects. Cache consultation
// wraps the whole computation; errors are always *Error.
func (e *Engine) Recommend(ctx context.Context, req *Request) (*Result, error) {
	log := e.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	start := e.clock()

	n, verr := req.normalize()
	if verr != nil {
		return nil, verr
	}
	key := n.cacheKey()

	if cached, err := e.Store.CacheGet(ctx, key); err == nil {
		var resp Response
		if err := json.Unmarshal(cached.Response, &resp); err == nil {
			log.WithField("cache_key", key).Debug("recommendation cache hit")
			return &Result{Response: &resp, JSON: cached.Response, CacheHit: true}, nil
		}
		log.WithField("cache_key", key).Warn("discarding undecodable cache entry")
	} else if !errors.Is(err, catalog.ErrNotFound) {
		// A broken cache is not fatal; compute and try to repopulate.
		log.WithError(err).Warn("recommendation cache read failed")
	}

	loc, rerr := e.Resolver.Resolve(ctx, n)
	if rerr != nil {
		return nil, rerr
	}

	pool, err := e.Store.Candidates(ctx, catalog.CandidateFilter{
		RegionCode:         loc.TDWGCode,
		IncludeIntroduced:  n.IncludeIntroduced,
		EndemicsOnly:       n.EndemicsOnly,
		GrowthForms:        n.GrowthForms,
		ExcludeThreatened:  !n.IncludeThreatened,
		MinHeightM:         n.MinHeightM,
		MaxHeightM:         n.MaxHeightM,
		NitrogenFixersOnly: n.NitrogenFixersOnly,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindDeadlineExceeded, Message: "candidate query timed out", Retriable: true}
		}
		return nil, errStore(err)
	}

	scoredPool := make([]scored, 0, len(pool))
	for i := range pool {
		s := Score(&pool[i].Envelope, &loc.Bio)
		if s < n.Threshold || s == 0 {
			continue
		}
		scoredPool = append(scoredPool, scored{Candidate: pool[i], Score: s})
	}
	if len(scoredPool) == 0 {
		return nil, &Error{
			Kind:    KindNoCandidates,
			Message: fmt.Sprintf("no species match threshold %.2f in %s with the requested filters", n.Threshold, loc.TDWGCode),
			Hint:    "lower climate_threshold or relax the preference filters",
		}
	}
	sort.Slice(scoredPool, func(i, j int) bool {
		if scoredPool[i].Score != scoredPool[j].Score {
			return scoredPool[i].Score > scoredPool[j].Score
		}
		return scoredPool[i].SpeciesID < scoredPool[j].SpeciesID
	})
	// The pool is capped only after scoring and ordering, so a
	// well-sampled species can never displace a better climate match.
	if limit := n.poolSize(); len(scoredPool) > limit {
		scoredPool = scoredPool[:limit]
	}

	sel := selectDiverse(scoredPool, n.NSpecies)
	metrics := computeMetrics(sel)

	resp := &Response{
		Species:          make([]SpeciesRecommendation, len(sel)),
		DiversityMetrics: metrics,
		LocationInfo: LocationInfo{
			TDWGCode: loc.TDWGCode, TDWGName: loc.TDWGName,
			Bio1: loc.Bio.Bio1, Bio5: loc.Bio.Bio5, Bio6: loc.Bio.Bio6,
			Bio12: loc.Bio.Bio12, Bio15: loc.Bio.Bio15,
			Latitude: loc.Latitude, Longitude: loc.Longitude,
		},
		QueryTime: e.clock().Sub(start).Round(time.Millisecond).String(),
	}
	for i := range sel {
		s := &sel[i]
		resp.Species[i] = SpeciesRecommendation{
			SpeciesID:             s.SpeciesID,
			CanonicalName:         s.CanonicalName,
			CommonNamePT:          s.CommonNamePT,
			CommonNameEN:          s.CommonNameEN,
			Family:                s.Family,
			GrowthForm:            s.GrowthForm,
			MaxHeightM:            s.MaxHeightM,
			LifespanYears:         s.LifespanYears,
			NitrogenFixer:         s.NitrogenFixer,
			ThreatStatus:          s.ThreatStatus,
			IsNative:              s.IsNative,
			IsEndemic:             s.IsEndemic,
			ClimateMatchScore:     s.Score,
			SelectionRank:         s.Rank,
			DiversityContribution: s.DiversityContribution,
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, errStore(err)
	}

	reqJSON, _ := json.Marshal(n)
	metricsJSON, _ := json.Marshal(metrics)
	ids := make([]int64, len(sel))
	for i := range sel {
		ids[i] = sel[i].SpeciesID
	}
	if err := e.Store.CachePut(ctx, &catalog.CachedRecommendation{
		CacheKey:   key,
		Request:    reqJSON,
		Response:   body,
		SpeciesIDs: ids,
		Metrics:    metricsJSON,
	}); err != nil {
		log.WithError(err).Warn("recommendation cache write failed")
	}

	log.WithFields(logrus.Fields{
		"region":     loc.TDWGCode,
		"candidates": len(pool),
		"eligible":   len(scoredPool),
		"selected":   len(sel),
	}).Info("recommendation computed")
	return &Result{Response: resp, JSON: body}, nil
}
