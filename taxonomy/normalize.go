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

// Package taxonomy resolves raw plant names against a reference backbone.
// Matching is a ladder of increasingly permissive strategies: exact
// scientific name, normalized canonical form, authority-stripped form,
// and finally fuzzy matching within the genus. Every resolution outcome,
// successful or not, is annotated back onto the species record so
// downstream consumers can filter by match confidence.
package taxonomy

import (
	"strings"
	"unicode"
)

// rank markers separate the infraspecific epithet from the binomial. They
// and everything after them are dropped when normalizing to the binomial.
var rankMarkers = map[string]bool{
	"var.": true, "subsp.": true, "ssp.": true, "f.": true,
	"fo.": true, "forma": true, "cv.": true, "x": true, "×": true,
}

// Normalize lowercases a name, collapses runs of whitespace, and removes
// non-letter characters other than spaces, hyphens, and periods. The
// result is the comparison key for the normalized rung of the ladder.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	space := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsLetter(r) || r == '-' || r == '.' || r == '×':
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// StripAuthority reduces a scientific name to its binomial: the genus and
// specific epithet, dropping authorship, year citations, and infraspecific
// parts. Authorship is detected as the first capitalized or parenthesized
// token after the epithet; "Cedrela fissilis Vell." becomes
// "Cedrela fissilis".
func StripAuthority(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) < 2 {
		return strings.Join(fields, " ")
	}

	// The genus is kept as-is. The epithet must be lowercase; a second
	// token that starts uppercase or with '(' is already authorship
	// ("Quercus L."), in which case only the genus survives.
	second := fields[1]
	if second == "" || !unicode.IsLower(rune(second[0])) {
		return fields[0]
	}

	out := fields[:2]
	for i := 2; i+1 < len(fields); i++ {
		if !rankMarkers[strings.ToLower(fields[i])] {
			continue
		}
		epithet := fields[i+1]
		if epithet != "" && unicode.IsLower(rune(epithet[0])) {
			out = append(append([]string{}, out...), fields[i], epithet)
		}
		break
	}
	return strings.Join(out, " ")
}

// CanonicalKey is the fully reduced comparison form: the normalized,
// authority-stripped name.
func CanonicalKey(name string) string {
	return Normalize(StripAuthority(name))
}

// SplitBinomial returns the genus and specific epithet of a canonical key,
// or empty strings when the name is not a binomial.
func SplitBinomial(key string) (genus, epithet string) {
	fields := strings.Fields(key)
	if len(fields) < 2 {
		return "", ""
	}
	return fields[0], fields[1]
}
