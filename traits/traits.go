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

// Package traits consolidates per-source trait observations into one
// unified row per species. Sources disagree constantly; consolidation is
// a per-attribute precedence walk, never a vote, so a re-run with the
// same inputs always produces the same output.
package traits

import "strings"

// Canonical growth forms. Every source vocabulary collapses onto this
// set before consolidation.
const (
	FormTree      = "tree"
	FormShrub     = "shrub"
	FormSubshrub  = "subshrub"
	FormLiana     = "liana"
	FormVine      = "vine"
	FormScrambler = "scrambler"
	FormForb      = "forb"
	FormGraminoid = "graminoid"
	FormPalm      = "palm"
	FormBamboo    = "bamboo"
	FormOther     = "other"
)

// CanonicalForms is the closed set of accepted growth form values.
var CanonicalForms = map[string]bool{
	FormTree: true, FormShrub: true, FormSubshrub: true, FormLiana: true,
	FormVine: true, FormScrambler: true, FormForb: true, FormGraminoid: true,
	FormPalm: true, FormBamboo: true, FormOther: true,
}

// Habit booleans derived from a canonical growth form. The climber and
// herb flags are umbrellas: a liana is a climber, a graminoid is an herb.
// Bamboo and other carry no flag. The booleans are materialized from the
// form and must never drift from it.
type Habit struct {
	IsTree    bool
	IsShrub   bool
	IsClimber bool
	IsHerb    bool
	IsPalm    bool
}

// HabitOf maps a canonical growth form onto its derived booleans.
func HabitOf(form string) Habit {
	switch form {
	case FormTree:
		return Habit{IsTree: true}
	case FormShrub, FormSubshrub:
		return Habit{IsShrub: true}
	case FormLiana, FormVine, FormScrambler:
		return Habit{IsClimber: true}
	case FormForb, FormGraminoid:
		return Habit{IsHerb: true}
	case FormPalm:
		return Habit{IsPalm: true}
	}
	return Habit{}
}

// ExpandGrowthForms resolves query-side umbrella terms onto canonical
// forms: "herb" covers the herbaceous forms and "climber" the climbing
// ones. Canonical values pass through. The second result collects values
// that are neither canonical nor an umbrella; callers reject those.
func ExpandGrowthForms(requested []string) (expanded, unknown []string) {
	seen := make(map[string]bool, len(requested))
	add := func(form string) {
		if !seen[form] {
			seen[form] = true
			expanded = append(expanded, form)
		}
	}
	for _, r := range requested {
		v := strings.ToLower(strings.TrimSpace(r))
		switch {
		case v == "herb":
			add(FormForb)
			add(FormGraminoid)
		case v == "climber":
			add(FormLiana)
			add(FormVine)
			add(FormScrambler)
		case CanonicalForms[v]:
			add(v)
		default:
			unknown = append(unknown, r)
		}
	}
	return expanded, unknown
}

// Threat status values follow the IUCN category codes.
var threatRank = map[string]int{
	"LC": 1, "NT": 2, "VU": 3, "EN": 4, "CR": 5, "EW": 6, "EX": 7, "DD": 0,
}

// NormalizeThreatStatus maps source spellings of IUCN categories onto the
// two-letter codes. Unknown values are dropped.
func NormalizeThreatStatus(raw string) string {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := threatRank[v]; ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "least concern":
		return "LC"
	case "near threatened":
		return "NT"
	case "vulnerable":
		return "VU"
	case "endangered":
		return "EN"
	case "critically endangered":
		return "CR"
	case "extinct in the wild":
		return "EW"
	case "extinct":
		return "EX"
	case "data deficient":
		return "DD"
	}
	return ""
}

// NormalizeWoodiness collapses woodiness vocabulary onto woody,
// semi-woody, and herbaceous.
func NormalizeWoodiness(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "woody", "w":
		return "woody"
	case "semi-woody", "semiwoody", "variable":
		return "semi-woody"
	case "herbaceous", "non-woody", "nonwoody", "h":
		return "herbaceous"
	}
	return ""
}
