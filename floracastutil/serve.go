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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spatialflora/floracast/catalog"
	"github.com/spatialflora/floracast/recommend"
	"github.com/spatialflora/floracast/spatial"
)

// cachePurgeInterval is how often expired recommendation cache rows are
// reaped while serving.
const cachePurgeInterval = time.Hour

// StartServer connects to the catalog and serves the recommendation API
// until ctx is canceled or the process is signaled.
func StartServer(ctx context.Context) error {
	log := initLog()

	store, err := catalog.Connect(ctx, Cfg.GetString("DatabaseURL"), log)
	if err != nil {
		return err
	}
	defer store.Close()

	var locator spatial.Locator = &spatial.DBLocator{Store: store}
	if Cfg.GetBool("HTTP.InMemoryLocator") {
		regions, err := store.Regions(ctx)
		if err != nil {
			return err
		}
		idx, err := spatial.NewIndex(regions)
		if err != nil {
			return err
		}
		log.WithField("regions", idx.Len()).Info("in-process region index built")
		locator = idx
	}

	engine := &recommend.Engine{
		Store: store,
		Resolver: &recommend.Resolver{
			Store:   store,
			Locator: locator,
		},
		Log: log,
	}
	api := &recommend.Server{Engine: engine, Catalog: store, Log: log}

	srv := &http.Server{
		Addr:    Cfg.GetString("HTTP.ListenAddr"),
		Handler: api.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go purgeCacheLoop(ctx, store)

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("recommendation API listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), recommend.RequestTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// purgeCacheLoop reaps expired recommendation cache rows periodically so
// the cache table does not grow without bound between requests.
func purgeCacheLoop(ctx context.Context, store *catalog.Store) {
	t := time.NewTicker(cachePurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := store.CachePurgeExpired(ctx); err != nil && ctx.Err() == nil {
				store.Log.WithError(err).Warn("cache purge failed")
			}
		}
	}
}
