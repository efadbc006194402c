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

package taxonomy

import (
	"sort"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/spatialflora/floracast/catalog"
)

// Fuzzy acceptance bounds. A fuzzy candidate needs an epithet within
// MaxEpithetEdits edit operations and a whole-name similarity of at least
// MinSimilarity; when two candidates both qualify, the best must lead the
// runner-up by at least MinGap or the name is ambiguous.
const (
	MaxEpithetEdits = 2
	MinSimilarity   = 0.92
	MinGap          = 0.05
)

// Match methods recorded on the species row.
const (
	MethodExact      = "exact"
	MethodNormalized = "normalized"
	MethodStripped   = "stripped"
	MethodFuzzy      = "fuzzy"
)

// Unmatched reasons recorded on the species row.
const (
	ReasonNoCandidate = "no_candidate"
	ReasonAmbiguous   = "ambiguous"
	ReasonLowScore    = "low_score"
)

// Result is a successful backbone match.
type Result struct {
	BackboneID         int64
	Status             catalog.TaxonomicStatus
	AcceptedBackboneID *int64
	Method             string
	Similarity         float64
}

// Matcher holds the backbone name table indexed for the matching ladder.
// Build once, match many; the indexes are immutable after construction.
type Matcher struct {
	byExact      map[string][]*catalog.BackboneName
	byNormalized map[string][]*catalog.BackboneName
	byStripped   map[string][]*catalog.BackboneName
	byGenus      map[string][]*catalog.BackboneName
	names        []catalog.BackboneName
}

// NewMatcher indexes the backbone names.
func NewMatcher(names []catalog.BackboneName) *Matcher {
	m := &Matcher{
		byExact:      make(map[string][]*catalog.BackboneName, len(names)),
		byNormalized: make(map[string][]*catalog.BackboneName, len(names)),
		byStripped:   make(map[string][]*catalog.BackboneName, len(names)),
		byGenus:      make(map[string][]*catalog.BackboneName),
		names:        names,
	}
	for i := range m.names {
		n := &m.names[i]
		m.byExact[n.ScientificName] = append(m.byExact[n.ScientificName], n)
		m.byNormalized[Normalize(n.CanonicalForm)] = append(m.byNormalized[Normalize(n.CanonicalForm)], n)
		key := CanonicalKey(n.ScientificName)
		m.byStripped[key] = append(m.byStripped[key], n)
		if genus, _ := SplitBinomial(key); genus != "" {
			m.byGenus[genus] = append(m.byGenus[genus], n)
		}
	}
	return m
}

// Match runs the ladder for one raw name. On failure it returns nil and
// one of the Reason constants.
func (m *Matcher) Match(name string) (*Result, string) {
	if hits := m.byExact[strings.TrimSpace(name)]; len(hits) > 0 {
		return m.pick(hits, MethodExact, 1.0)
	}
	if hits := m.byNormalized[Normalize(name)]; len(hits) > 0 {
		return m.pick(hits, MethodNormalized, 1.0)
	}
	key := CanonicalKey(name)
	if hits := m.byStripped[key]; len(hits) > 0 {
		return m.pick(hits, MethodStripped, 1.0)
	}
	return m.fuzzy(key)
}

// pick resolves multiple backbone rows hitting the same key. Several rows
// sharing a canonical form is legitimate (homonyms, orthographic
// variants): an accepted row wins over synonyms; two accepted rows are
// ambiguous.
func (m *Matcher) pick(hits []*catalog.BackboneName, method string, sim float64) (*Result, string) {
	var accepted []*catalog.BackboneName
	for _, h := range hits {
		if h.Status == catalog.StatusAccepted {
			accepted = append(accepted, h)
		}
	}
	switch {
	case len(accepted) == 1:
		return result(accepted[0], method, sim), ""
	case len(accepted) > 1:
		return nil, ReasonAmbiguous
	case len(hits) == 1:
		return result(hits[0], method, sim), ""
	}
	// All synonyms: acceptable only if they agree on the accepted name.
	first := hits[0].AcceptedBackboneID
	for _, h := range hits[1:] {
		if first == nil || h.AcceptedBackboneID == nil || *h.AcceptedBackboneID != *first {
			return nil, ReasonAmbiguous
		}
	}
	return result(hits[0], method, sim), ""
}

func (m *Matcher) fuzzy(key string) (*Result, string) {
	genus, epithet := SplitBinomial(key)
	if genus == "" {
		return nil, ReasonNoCandidate
	}
	candidates := m.byGenus[genus]
	if len(candidates) == 0 {
		return nil, ReasonNoCandidate
	}

	type scored struct {
		name *catalog.BackboneName
		sim  float64
	}
	var qualified []scored
	for _, c := range candidates {
		ckey := CanonicalKey(c.ScientificName)
		_, cEpithet := SplitBinomial(ckey)
		if cEpithet == "" {
			continue
		}
		if smetrics.WagnerFischer(epithet, cEpithet, 1, 1, 1) > MaxEpithetEdits {
			continue
		}
		sim := smetrics.JaroWinkler(key, ckey, 0.7, 4)
		if sim >= MinSimilarity {
			qualified = append(qualified, scored{c, sim})
		}
	}
	if len(qualified) == 0 {
		return nil, ReasonLowScore
	}
	sort.Slice(qualified, func(i, j int) bool { return qualified[i].sim > qualified[j].sim })
	if len(qualified) > 1 && qualified[0].sim-qualified[1].sim < MinGap {
		// Two near-equal candidates that resolve to the same accepted
		// name are not genuinely ambiguous.
		a, b := qualified[0].name, qualified[1].name
		if acceptedID(a) == 0 || acceptedID(a) != acceptedID(b) {
			return nil, ReasonAmbiguous
		}
	}
	return result(qualified[0].name, MethodFuzzy, qualified[0].sim), ""
}

// acceptedID is the backbone id a row ultimately resolves to.
func acceptedID(n *catalog.BackboneName) int64 {
	if n.Status == catalog.StatusAccepted {
		return n.BackboneID
	}
	if n.AcceptedBackboneID != nil {
		return *n.AcceptedBackboneID
	}
	return 0
}

func result(n *catalog.BackboneName, method string, sim float64) *Result {
	r := &Result{
		BackboneID: n.BackboneID,
		Status:     n.Status,
		Method:     method,
		Similarity: sim,
	}
	if n.Status == catalog.StatusSynonym {
		r.AcceptedBackboneID = n.AcceptedBackboneID
	}
	if n.Status == catalog.StatusUnresolved {
		// Backbone rows flagged doubtful are carried through as
		// unresolved matches rather than dropped.
		r.Status = catalog.StatusUnresolved
	}
	return r
}
