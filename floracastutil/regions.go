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

package floracastutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spatialflora/floracast/catalog"
)

// regionFeature is one entry of a TDWG level-3 GeoJSON feature collection
// in the WGSRPD distribution format.
type regionFeature struct {
	Properties struct {
		LevelCode string `json:"LEVEL3_COD"`
		Name      string `json:"LEVEL3_NAM"`
		Continent string `json:"LEVEL1_NAM"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

type regionCollection struct {
	Features []regionFeature `json:"features"`
}

// LoadRegions reads a TDWG level-3 feature collection from path and
// upserts the region reference table. Features without a level-3 code or
// a geometry are skipped with a warning.
func LoadRegions(ctx context.Context, path string) error {
	log := initLog()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("floracast: reading region file: %w", err)
	}
	var fc regionCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("floracast: decoding region file %s: %w", path, err)
	}
	if len(fc.Features) == 0 {
		return fmt.Errorf("floracast: region file %s holds no features", path)
	}

	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	var loaded, skipped int
	for _, f := range fc.Features {
		if f.Properties.LevelCode == "" || len(f.Geometry) == 0 {
			skipped++
			continue
		}
		r := &catalog.Region{
			Code:      f.Properties.LevelCode,
			Name:      f.Properties.Name,
			Continent: f.Properties.Continent,
			GeoJSON:   f.Geometry,
		}
		if err := store.UpsertRegion(ctx, r); err != nil {
			return err
		}
		loaded++
	}
	if skipped > 0 {
		log.WithField("features", skipped).Warn("skipped features without code or geometry")
	}
	log.WithField("regions", loaded).Info("region reference loaded")
	return nil
}
