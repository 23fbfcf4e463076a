package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/netprep/internal/config"
	"github.com/sells-group/netprep/internal/fetcher"
	"github.com/sells-group/netprep/internal/store"
)

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newResolver builds the land-use source resolver from the fetch section.
func newResolver(fc config.FetchConfig) *fetcher.Resolver {
	timeout := time.Duration(fc.TimeoutSecs) * time.Second
	return &fetcher.Resolver{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:   fc.UserAgent,
			Timeout:     timeout,
			MaxRetries:  fc.MaxRetries,
			RatePerHost: rate.Limit(fc.RatePerHost),
		}),
		FTP:     fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout}),
		TempDir: fc.TempDir,
	}
}
