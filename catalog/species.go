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

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// ErrNotFound reports that a requested row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// UpsertSpecies inserts a species by canonical name or returns the
// existing row's id. The canonical name is the natural key; re-running an
// ingest with the same names leaves the table unchanged.
func (s *Store) UpsertSpecies(ctx context.Context, sp *Species) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	auth, err := json.Marshal(sp.AuthorityIDs)
	if err != nil {
		return 0, fmt.Errorf("catalog: encoding authority ids: %w", err)
	}
	if sp.AuthorityIDs == nil {
		auth = []byte("{}")
	}
	if sp.Status == "" {
		sp.Status = StatusUnresolved
	}

	var id int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO species (canonical_name, genus, family, backbone_id, authority_ids, taxonomic_status, accepted_species_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (canonical_name) DO UPDATE
		SET genus = COALESCE(EXCLUDED.genus, species.genus),
		    family = COALESCE(EXCLUDED.family, species.family),
		    authority_ids = species.authority_ids || EXCLUDED.authority_ids
		RETURNING id
	`, sp.CanonicalName, nilIfEmpty(sp.Genus), nilIfEmpty(sp.Family), sp.BackboneID, auth, sp.Status, sp.AcceptedSpeciesID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("catalog: upserting species %q: %w", sp.CanonicalName, err)
	}
	return id, nil
}

// SpeciesByID fetches one species row.
func (s *Store) SpeciesByID(ctx context.Context, id int64) (*Species, error) {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	sp := &Species{}
	var genus, family *string
	var auth []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT id, canonical_name, genus, family, backbone_id, authority_ids,
		       taxonomic_status, accepted_species_id, match_method, unmatched_reason
		FROM species WHERE id = $1
	`, id).Scan(&sp.ID, &sp.CanonicalName, &genus, &family, &sp.BackboneID, &auth,
		&sp.Status, &sp.AcceptedSpeciesID, &sp.MatchMethod, &sp.UnmatchedReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: fetching species %d: %w", id, err)
	}
	sp.Genus = deref(genus)
	sp.Family = deref(family)
	if err := json.Unmarshal(auth, &sp.AuthorityIDs); err != nil {
		return nil, fmt.Errorf("catalog: decoding authority ids for species %d: %w", id, err)
	}
	return sp, nil
}

// UnresolvedSpecies returns species whose names have not yet been matched
// against the backbone.
func (s *Store) UnresolvedSpecies(ctx context.Context) ([]*Species, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, canonical_name, COALESCE(genus, ''), COALESCE(family, '')
		FROM species
		WHERE taxonomic_status = 'unresolved'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing unresolved species: %w", err)
	}
	defer rows.Close()

	var out []*Species
	for rows.Next() {
		sp := &Species{Status: StatusUnresolved}
		if err := rows.Scan(&sp.ID, &sp.CanonicalName, &sp.Genus, &sp.Family); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// AnnotateMatch records a successful disambiguation. Disambiguation never
// deletes species rows; it only annotates them.
func (s *Store) AnnotateMatch(ctx context.Context, speciesID, backboneID int64, status TaxonomicStatus, acceptedSpeciesID *int64, method string) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		UPDATE species
		SET backbone_id = $2, taxonomic_status = $3, accepted_species_id = $4,
		    match_method = $5, unmatched_reason = NULL
		WHERE id = $1
	`, speciesID, backboneID, status, acceptedSpeciesID, method)
	if err != nil {
		return fmt.Errorf("catalog: annotating match for species %d: %w", speciesID, err)
	}
	return nil
}

// AnnotateUnmatched records a failed disambiguation with its reason.
func (s *Store) AnnotateUnmatched(ctx context.Context, speciesID int64, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		UPDATE species SET unmatched_reason = $2, match_method = NULL WHERE id = $1
	`, speciesID, reason)
	if err != nil {
		return fmt.Errorf("catalog: annotating unmatched species %d: %w", speciesID, err)
	}
	return nil
}

// UpsertBackboneNames refreshes reference backbone rows by natural key.
func (s *Store) UpsertBackboneNames(ctx context.Context, names []BackboneName) (inserted, updated int64, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("catalog: beginning backbone transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range names {
		n := &names[i]
		var isInsert bool
		err = tx.QueryRow(ctx, `
			INSERT INTO backbone_names
				(backbone_id, scientific_name, canonical_form, authorship, genus, family, status, accepted_backbone_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (backbone_id) DO UPDATE
			SET scientific_name = EXCLUDED.scientific_name,
			    canonical_form = EXCLUDED.canonical_form,
			    authorship = EXCLUDED.authorship,
			    genus = EXCLUDED.genus,
			    family = EXCLUDED.family,
			    status = EXCLUDED.status,
			    accepted_backbone_id = EXCLUDED.accepted_backbone_id
			RETURNING (xmax = 0)
		`, n.BackboneID, n.ScientificName, n.CanonicalForm, nilIfEmpty(n.Authorship),
			nilIfEmpty(n.Genus), nilIfEmpty(n.Family), n.Status, n.AcceptedBackboneID).Scan(&isInsert)
		if err != nil {
			return 0, 0, fmt.Errorf("catalog: upserting backbone name %d: %w", n.BackboneID, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("catalog: committing backbone batch: %w", err)
	}
	return inserted, updated, nil
}

// BackboneNames loads the whole reference name table for the matcher.
func (s *Store) BackboneNames(ctx context.Context) ([]BackboneName, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT backbone_id, scientific_name, canonical_form, COALESCE(authorship, ''),
		       COALESCE(genus, ''), COALESCE(family, ''), status, accepted_backbone_id
		FROM backbone_names
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: loading backbone names: %w", err)
	}
	defer rows.Close()

	var out []BackboneName
	for rows.Next() {
		var n BackboneName
		if err := rows.Scan(&n.BackboneID, &n.ScientificName, &n.CanonicalForm,
			&n.Authorship, &n.Genus, &n.Family, &n.Status, &n.AcceptedBackboneID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertCommonName stores one common name per (species, language).
func (s *Store) UpsertCommonName(ctx context.Context, speciesID int64, language, name string) error {
	ctx, cancel := context.WithTimeout(ctx, SQLTimeout)
	defer cancel()

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO common_names (species_id, language, common_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (species_id, language) DO UPDATE SET common_name = EXCLUDED.common_name
	`, speciesID, language, name)
	if err != nil {
		return fmt.Errorf("catalog: upserting common name for species %d: %w", speciesID, err)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
