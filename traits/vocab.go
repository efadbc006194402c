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

package traits

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Vocab maps raw source vocabulary onto canonical growth forms. Keys are
// compared lowercased and trimmed. Source-specific overrides are loaded
// from TOML files shipped alongside the crawler configuration.
type Vocab map[string]string

// defaultVocab covers the spellings shared across sources. Per-source
// TOML files only need their oddities.
var defaultVocab = Vocab{
	"tree":               FormTree,
	"trees":              FormTree,
	"arvore":             FormTree,
	"árvore":             FormTree,
	"treelet":            FormTree,
	"small tree":         FormTree,
	"shrub":              FormShrub,
	"shrubs":             FormShrub,
	"arbusto":            FormShrub,
	"bush":               FormShrub,
	"subshrub":           FormSubshrub,
	"sub-shrub":          FormSubshrub,
	"subarbusto":         FormSubshrub,
	"dwarf shrub":        FormSubshrub,
	"palm":               FormPalm,
	"palm tree":          FormPalm,
	"palmeira":           FormPalm,
	"bamboo":             FormBamboo,
	"bambu":              FormBamboo,
	"liana":              FormLiana,
	"lianas":             FormLiana,
	"woody climber":      FormLiana,
	"woody vine":         FormLiana,
	"vine":               FormVine,
	"climber":            FormVine,
	"herbaceous climber": FormVine,
	"trepadeira":         FormVine,
	"scrambler":          FormScrambler,
	"scrambling shrub":   FormScrambler,
	"herb":               FormForb,
	"herbs":              FormForb,
	"erva":               FormForb,
	"forb":               FormForb,
	"forb/herb":          FormForb,
	"herbaceous":         FormForb,
	"fern":               FormForb,
	"samambaia":          FormForb,
	"grass":              FormGraminoid,
	"graminoid":          FormGraminoid,
	"sedge":              FormGraminoid,
	"succulent":          FormOther,
	"suculenta":          FormOther,
	"epiphyte":           FormOther,
	"epífita":            FormOther,
	"parasite":           FormOther,
}

// LoadVocab reads a per-source vocabulary file and layers it over the
// defaults. Every target value must be a canonical form.
func LoadVocab(path string) (Vocab, error) {
	overlay := make(map[string]string)
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return nil, fmt.Errorf("traits: loading vocabulary %s: %w", path, err)
	}
	v := make(Vocab, len(defaultVocab)+len(overlay))
	for k, canon := range defaultVocab {
		v[k] = canon
	}
	for k, canon := range overlay {
		if !CanonicalForms[canon] {
			return nil, fmt.Errorf("traits: vocabulary %s maps %q to non-canonical form %q", path, k, canon)
		}
		v[strings.ToLower(strings.TrimSpace(k))] = canon
	}
	return v, nil
}

// DefaultVocab returns a copy of the built-in vocabulary.
func DefaultVocab() Vocab {
	v := make(Vocab, len(defaultVocab))
	for k, canon := range defaultVocab {
		v[k] = canon
	}
	return v
}

// Normalize maps one raw growth form value onto the canonical set. The
// second result is false when the value is unknown; callers keep the raw
// value for audit and store no canonical form.
func (v Vocab) Normalize(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if CanonicalForms[key] {
		return key, true
	}
	canon, ok := v[key]
	return canon, ok
}
