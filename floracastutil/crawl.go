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
	"fmt"

	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/crawler"
	"github.com/spatialflora/floracast/traits"
)

// freshState wraps a crawler state store so a run starts from the
// beginning regardless of the stored cursor. The lock and run bookkeeping
// still go through the wrapped store, and the final cursor is persisted
// normally on release.
type freshState struct {
	crawler.StateStore
}

func (s freshState) AcquireCrawler(ctx context.Context, name string) ([]byte, error) {
	if _, err := s.StateStore.AcquireCrawler(ctx, name); err != nil {
		return nil, err
	}
	return []byte("{}"), nil
}

// Crawl runs the configured ingestion source once.
func Crawl(ctx context.Context) error {
	log := initLog()

	source := Cfg.GetString("Crawl.Source")
	if source == "" {
		return fmt.Errorf("floracast: no crawl source selected; set Crawl.Source")
	}

	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	client := &crawler.Client{
		Limiter:   rate.NewLimiter(rate.Limit(cast.ToFloat64(Cfg.Get("Crawl.RateLimit"))), 1),
		UserAgent: Cfg.GetString("Crawl.UserAgent"),
	}
	c, err := newCrawler(source, store, client)
	if err != nil {
		return err
	}

	var state crawler.StateStore = store
	switch mode := Cfg.GetString("Crawl.Mode"); mode {
	case "", "incremental":
	case "full":
		state = freshState{store}
	default:
		return fmt.Errorf("floracast: unknown crawl mode %q; use full or incremental", mode)
	}

	runner := &crawler.Runner{
		State:      state,
		Log:        log,
		MaxRecords: cast.ToInt64(Cfg.Get("Crawl.MaxRecords")),
	}
	_, err = runner.Run(ctx, c)
	return err
}

// sourceURL reads the base URL configured for an ingestion source and
// complains when it is missing.
func sourceURL(key string) (string, error) {
	u := Cfg.GetString(key)
	if u == "" {
		return "", fmt.Errorf("floracast: no base URL configured; set %s", key)
	}
	return u, nil
}

// loadVocab reads the configured growth-form vocabulary table, falling
// back to the built-in mapping.
func loadVocab() (traits.Vocab, error) {
	if path := Cfg.GetString("Crawl.VocabFile"); path != "" {
		return traits.LoadVocab(path)
	}
	return traits.DefaultVocab(), nil
}

// newCrawler builds the crawler for one source tag.
func newCrawler(source string, store *catalog.Store, client *crawler.Client) (crawler.Crawler, error) {
	pageSize := cast.ToInt(Cfg.Get("Crawl.PageSize"))

	switch source {
	case "backbone":
		u, err := sourceURL("Sources.Backbone")
		if err != nil {
			return nil, err
		}
		return &crawler.Backbone{Store: store, Client: client, BaseURL: u, PageSize: pageSize}, nil
	case "traits-growth":
		u, err := sourceURL("Sources.TraitGrowth")
		if err != nil {
			return nil, err
		}
		vocab, err := loadVocab()
		if err != nil {
			return nil, err
		}
		return &crawler.Traits{
			Store:      store,
			Client:     client,
			BaseURL:    u,
			SourceName: "traits-growth",
			Vocab:      vocab,
			PageSize:   pageSize,
		}, nil
	case "traits-ecology":
		u, err := sourceURL("Sources.TraitEcology")
		if err != nil {
			return nil, err
		}
		vocab, err := loadVocab()
		if err != nil {
			return nil, err
		}
		return &crawler.Traits{
			Store:      store,
			Client:     client,
			BaseURL:    u,
			SourceName: "traits-ecology",
			Vocab:      vocab,
			PageSize:   pageSize,
		}, nil
	case "distribution":
		u, err := sourceURL("Sources.Distribution")
		if err != nil {
			return nil, err
		}
		return &crawler.Distribution{Store: store, Client: client, BaseURL: u, PageSize: pageSize}, nil
	case "ecoregion":
		u, err := sourceURL("Sources.Ecoregion")
		if err != nil {
			return nil, err
		}
		return &crawler.Ecoregion{Store: store, Client: client, BaseURL: u, PageSize: pageSize}, nil
	case "occurrence":
		u, err := sourceURL("Sources.Occurrence")
		if err != nil {
			return nil, err
		}
		return &crawler.Occurrence{Store: store, Client: client, BaseURL: u, PageSize: pageSize}, nil
	case "climate":
		u, err := sourceURL("Sources.Climate")
		if err != nil {
			return nil, err
		}
		return &crawler.Climate{Store: store, Client: client, BaseURL: u}, nil
	}
	return nil, fmt.Errorf("floracast: unknown crawl source %q", source)
}
