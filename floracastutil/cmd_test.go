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
	"strings"
	"testing"

	"github.com/spatialflora/floracast/crawler"
)

func TestNewCrawlerUnknownSource(t *testing.T) {
	if _, err := newCrawler("herbarium", nil, nil); err == nil {
		t.Error("unknown source must be rejected")
	}
}

func TestNewCrawlerRequiresBaseURL(t *testing.T) {
	Cfg.Set("Sources.Backbone", "")
	_, err := newCrawler("backbone", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "Sources.Backbone") {
		t.Errorf("err = %v, want the missing config key named", err)
	}
}

func TestNewCrawlerSourceTags(t *testing.T) {
	keys := map[string]string{
		"backbone":       "Sources.Backbone",
		"traits-growth":  "Sources.TraitGrowth",
		"traits-ecology": "Sources.TraitEcology",
		"distribution":   "Sources.Distribution",
		"ecoregion":      "Sources.Ecoregion",
		"occurrence":     "Sources.Occurrence",
		"climate":        "Sources.Climate",
	}
	for tag, key := range keys {
		Cfg.Set(key, "http://upstream.test")
		c, err := newCrawler(tag, nil, &crawler.Client{})
		if err != nil {
			t.Errorf("%s: %v", tag, err)
			continue
		}
		if c.Name() != tag {
			t.Errorf("%s: crawler name = %q", tag, c.Name())
		}
		Cfg.Set(key, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	if got := Cfg.GetString("Crawl.Mode"); got != "incremental" {
		t.Errorf("Crawl.Mode default = %q", got)
	}
	if got := Cfg.GetInt("Crawl.PageSize"); got != 1000 {
		t.Errorf("Crawl.PageSize default = %d", got)
	}
	if got := Cfg.GetString("HTTP.ListenAddr"); got != ":8080" {
		t.Errorf("HTTP.ListenAddr default = %q", got)
	}
}
