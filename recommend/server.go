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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/spatial"
)

// RequestTimeout bounds one API request end to end.
const RequestTimeout = 30 * time.Second

// Server is the recommendation HTTP API. Auth and TLS terminate outside.
type Server struct {
	Engine  *Engine
	Catalog *catalog.Store
	Log     *logrus.Logger
}

// Handler builds the API routing table wrapped in the CORS and deadline
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recommend", s.handleRecommend)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/regions", s.handleRegions)
	mux.HandleFunc("/api/species", s.handleSpecies)
	mux.HandleFunc("/api/species/", s.handleSpeciesDetail)
	mux.HandleFunc("/api/climate", s.handleClimate)
	return s.middleware(mux)
}

func (s *Server) log() *logrus.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), RequestTimeout)
		defer cancel()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.log().WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request served")
	})
}

// statusFor maps error kinds onto HTTP statuses.
func statusFor(kind ErrorKind) int {
	switch kind {
	case KindInputInvalid:
		return http.StatusBadRequest
	case KindLocationUnresolved, KindClimateUnavailable, KindNoCandidates:
		return http.StatusNotFound
	case KindDeadlineExceeded, KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rerr *Error
	if !errors.As(err, &rerr) {
		if errors.Is(err, context.DeadlineExceeded) {
			rerr = &Error{Kind: KindDeadlineExceeded, Message: "request deadline exceeded", Retriable: true}
		} else {
			rerr = errStore(err)
		}
	}
	writeJSON(w, statusFor(rerr.Kind), rerr)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errInvalid("POST required"))
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errInvalid("decoding request body: %v", err))
		return
	}
	result, err := s.Engine.Recommend(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The serialized bytes are written as-is so a cache hit reproduces
	// the original response exactly.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.JSON)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Catalog.CheckHealth(r.Context())
	status := http.StatusOK
	if h.Database != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// staleCrawlerAge is how long a crawler may go without a completed run
// before the stats endpoint flags it.
const staleCrawlerAge = 7 * 24 * time.Hour

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Catalog.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := map[string]interface{}{"catalog": stats}
	// The operational extras are best-effort; the catalog counts are the
	// point of the endpoint.
	if cs, err := s.Catalog.CacheStats(r.Context()); err == nil {
		payload["cache"] = cs
	}
	if runs, err := s.Catalog.RecentCrawlerRuns(r.Context(), 10); err == nil {
		payload["recent_crawler_runs"] = crawlerRunResults(runs)
	}
	if stale, err := s.Catalog.StaleCrawlers(r.Context(), staleCrawlerAge); err == nil {
		payload["stale_crawlers"] = stale
	}
	writeJSON(w, http.StatusOK, payload)
}

// crawlerRunResult is the run-history row in the stats payload.
type crawlerRunResult struct {
	Crawler     string     `json:"crawler"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Processed   int64      `json:"records_processed"`
	Inserted    int64      `json:"records_inserted"`
	Updated     int64      `json:"records_updated"`
	Error       *string    `json:"error,omitempty"`
}

func crawlerRunResults(runs []catalog.CrawlerRun) []crawlerRunResult {
	out := make([]crawlerRunResult, len(runs))
	for i, run := range runs {
		out[i] = crawlerRunResult{
			Crawler:     run.CrawlerName,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt,
			Status:      string(run.Status),
			Processed:   run.RecordsProcessed,
			Inserted:    run.RecordsInserted,
			Updated:     run.RecordsUpdated,
			Error:       run.ErrorMessage,
		}
	}
	return out
}

// regionResult is the /api/regions payload.
type regionResult struct {
	TDWGCode   string   `json:"tdwg_code"`
	TDWGName   string   `json:"tdwg_name"`
	Continent  string   `json:"continent,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := coordParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	region, lookupErr := s.Catalog.RegionAtPoint(r.Context(), lat, lon)
	var distKm *float64
	if errors.Is(lookupErr, catalog.ErrNotFound) {
		var d float64
		region, d, lookupErr = s.Catalog.NearestRegion(r.Context(), lat, lon, spatial.DefaultToleranceDeg)
		if lookupErr == nil {
			distKm = &d
		}
	}
	if errors.Is(lookupErr, catalog.ErrNotFound) {
		s.writeError(w, errUnresolved("no region within tolerance of (%.4f, %.4f)", lat, lon))
		return
	}
	if lookupErr != nil {
		s.writeError(w, lookupErr)
		return
	}
	writeJSON(w, http.StatusOK, regionResult{
		TDWGCode: region.Code, TDWGName: region.Name,
		Continent: region.Continent, DistanceKm: distKm,
	})
}

func (s *Server) handleSpecies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}

	if query := q.Get("q"); query != "" {
		list, err := s.Catalog.SearchSpecies(r.Context(), query, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"query":   query,
			"species": list,
			"count":   len(list),
		})
		return
	}

	region := q.Get("region")
	if region == "" {
		s.writeError(w, errInvalid("region or q parameter is required"))
		return
	}
	offset := intParam(q.Get("offset"), 0)
	nativeOnly := q.Get("native_only") == "true"

	list, err := s.Catalog.ListSpecies(r.Context(), region, q.Get("growth_form"), nativeOnly, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"region":  region,
		"species": list,
		"count":   len(list),
		"offset":  offset,
	})
}

// regionMembership is one distribution row in the species detail payload.
type regionMembership struct {
	TDWGCode     string `json:"tdwg_code"`
	IsNative     bool   `json:"is_native"`
	IsEndemic    bool   `json:"is_endemic"`
	IsIntroduced bool   `json:"is_introduced"`
}

// envelopeResult is a climate envelope in the species detail payload.
type envelopeResult struct {
	Source            string  `json:"source,omitempty"`
	Consensus         string  `json:"consensus,omitempty"`
	Quality           string  `json:"quality"`
	NSamples          int     `json:"n_samples"`
	TempMean          float64 `json:"temp_mean"`
	TempMin           float64 `json:"temp_min"`
	TempMax           float64 `json:"temp_max"`
	PrecipMean        float64 `json:"precip_mean"`
	PrecipMin         float64 `json:"precip_min"`
	PrecipMax         float64 `json:"precip_max"`
	PrecipSeasonality float64 `json:"precip_seasonality"`
}

func envelopeFrom(e *catalog.ClimateEnvelope, source, consensus string) *envelopeResult {
	return &envelopeResult{
		Source:            source,
		Consensus:         consensus,
		Quality:           string(e.Quality),
		NSamples:          e.NSamples,
		TempMean:          e.TempMean,
		TempMin:           e.TempMin,
		TempMax:           e.TempMax,
		PrecipMean:        e.PrecipMean,
		PrecipMin:         e.PrecipMin,
		PrecipMax:         e.PrecipMax,
		PrecipSeasonality: e.PrecipSeasonality,
	}
}

// speciesDetailResult is the /api/species/{id} payload.
type speciesDetailResult struct {
	SpeciesID         int64                      `json:"species_id"`
	CanonicalName     string                     `json:"canonical_name"`
	Genus             string                     `json:"genus"`
	Family            string                     `json:"family"`
	Status            string                     `json:"status"`
	Regions           []regionMembership         `json:"regions"`
	Envelope          *envelopeResult            `json:"envelope,omitempty"`
	EnvelopesBySource map[string]*envelopeResult `json:"envelopes_by_source,omitempty"`
}

func (s *Server) handleSpeciesDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/species/"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, errInvalid("species id must be a positive integer"))
		return
	}
	sp, err := s.Catalog.SpeciesByID(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "no species with id " + strconv.FormatInt(id, 10),
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := &speciesDetailResult{
		SpeciesID:     sp.ID,
		CanonicalName: sp.CanonicalName,
		Genus:         sp.Genus,
		Family:        sp.Family,
		Status:        string(sp.Status),
		Regions:       []regionMembership{},
	}
	rows, err := s.Catalog.SpeciesRegions(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for _, row := range rows {
		detail.Regions = append(detail.Regions, regionMembership{
			TDWGCode:     row.Code,
			IsNative:     row.IsNative,
			IsEndemic:    row.IsEndemic,
			IsIntroduced: row.IsIntroduced,
		})
	}
	if u, err := s.Catalog.UnifiedEnvelopeBySpecies(r.Context(), id); err == nil {
		detail.Envelope = envelopeFrom(&u.ClimateEnvelope, string(u.Source), string(u.Consensus))
	}
	for _, src := range []catalog.EnvelopeSource{catalog.SourceOccurrence, catalog.SourceEcoregion, catalog.SourceRegion} {
		if e, err := s.Catalog.EnvelopeBySpecies(r.Context(), src, id); err == nil {
			if detail.EnvelopesBySource == nil {
				detail.EnvelopesBySource = make(map[string]*envelopeResult)
			}
			detail.EnvelopesBySource[string(src)] = envelopeFrom(e, string(src), "")
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// climateResult is the /api/climate payload.
type climateResult struct {
	TDWGCode string            `json:"tdwg_code,omitempty"`
	Source   string            `json:"source"`
	Bio      catalog.BioVector `json:"bio"`
}

func (s *Server) handleClimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if code := q.Get("region"); code != "" {
		rc, err := s.Catalog.RegionClimateByCode(r.Context(), code)
		if errors.Is(err, catalog.ErrNotFound) {
			s.writeError(w, &Error{Kind: KindClimateUnavailable, Message: "no climate data for region " + code})
			return
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, climateResult{
			TDWGCode: code,
			Source:   "region_aggregate",
			Bio: catalog.BioVector{
				Bio1: rc.Mean.Bio1, Bio5: rc.Max.Bio5, Bio6: rc.Min.Bio6,
				Bio12: rc.Mean.Bio12, Bio15: rc.Mean.Bio15,
			},
		})
		return
	}

	lat, lon, err := coordParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	loc, rerr := s.Engine.Resolver.resolveCoords(r.Context(), lat, lon)
	if rerr != nil {
		s.writeError(w, rerr)
		return
	}
	writeJSON(w, http.StatusOK, climateResult{
		TDWGCode: loc.TDWGCode,
		Source:   "point_sample",
		Bio:      loc.Bio,
	})
}

func coordParams(r *http.Request) (lat, lon float64, err error) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		return 0, 0, errInvalid("lat and lon query parameters are required")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, errInvalid("coordinates (%.4f, %.4f) out of range", lat, lon)
	}
	return lat, lon, nil
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}
