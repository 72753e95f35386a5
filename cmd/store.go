package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/internal/store"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// storeEnabled reports whether extract should persist, with the --store flag
// overriding configuration when set.
func storeEnabled(c *config.Config, flagSet, flagValue bool) bool {
	if flagSet {
		return flagValue
	}
	return c.Store.Enabled
}
