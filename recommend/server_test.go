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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spatialflora/floracast/catalog"
)

func postRecommend(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/recommend", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServerRecommend(t *testing.T) {
	store := &memEngineStore{pool: []catalog.Candidate{
		treeCandidate(1, "Fabaceae", 20),
		treeCandidate(2, "Meliaceae", 18),
	}}
	s := &Server{Engine: newTestEngine(store)}
	h := s.Handler()

	w := postRecommend(t, h, `{"tdwg_code":"BZS","n_species":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Species) != 2 || resp.LocationInfo.TDWGCode != "BZS" {
		t.Errorf("response = %+v", resp)
	}
}

func TestServerErrorStatuses(t *testing.T) {
	store := &memEngineStore{pool: []catalog.Candidate{treeCandidate(1, "Fabaceae", 14)}}
	s := &Server{Engine: newTestEngine(store)}
	h := s.Handler()

	cases := []struct {
		name   string
		body   string
		status int
		kind   ErrorKind
	}{
		{"malformed json", `{`, http.StatusBadRequest, KindInputInvalid},
		{"no location", `{}`, http.StatusBadRequest, KindInputInvalid},
		{"unknown region", `{"tdwg_code":"XXX"}`, http.StatusNotFound, KindLocationUnresolved},
		{"no candidates", `{"tdwg_code":"BZS","climate_threshold":0.99}`, http.StatusNotFound, KindNoCandidates},
	}
	for _, c := range cases {
		w := postRecommend(t, h, c.body)
		if w.Code != c.status {
			t.Errorf("%s: status = %d, want %d", c.name, w.Code, c.status)
			continue
		}
		var e Error
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
			t.Errorf("%s: decoding error body: %v", c.name, err)
			continue
		}
		if e.Kind != c.kind {
			t.Errorf("%s: kind = %s, want %s", c.name, e.Kind, c.kind)
		}
	}
}

func TestServerCORSPreflight(t *testing.T) {
	s := &Server{Engine: newTestEngine(&memEngineStore{})}
	req := httptest.NewRequest(http.MethodOptions, "/api/recommend", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestServerRecommendRequiresPOST(t *testing.T) {
	s := &Server{Engine: newTestEngine(&memEngineStore{})}
	req := httptest.NewRequest(http.MethodGet, "/api/recommend", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}
}
