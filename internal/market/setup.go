package market

import (
	"rltrader/internal/config"
	"rltrader/internal/store"
)

// NewFromConfig returns the Alpaca fetcher described by cfg. When
// cfg.Data.Cache is set, bars are read through the parquet store under
// cfg.Storage.DataDir.
func NewFromConfig(cfg *config.Config) Fetcher {
	var f Fetcher = NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL, cfg.Alpaca.Feed, cfg.Data.RateLimitPerMin)
	if cfg.Data.Cache {
		f = NewCachedFetcher(f, store.NewParquetStore(cfg.Storage.DataDir))
	}
	return f
}

// LoadOptionsFromConfig returns the retry settings in cfg.Data.
func LoadOptionsFromConfig(cfg *config.Config) LoadOptions {
	return LoadOptions{Retries: cfg.Data.Retries, RetryDelay: cfg.Data.RetryDelay}
}
