// Package config loads and validates the docfeed configuration.
//
// # Loading
//
// Loader starts from Default, merges every file layer in order, applies
// DOCFEED_* environment variables and validates the result. Files may be JSON
// or YAML (.yaml, .yml); duration fields accept strings such as "5s" or "14d".
//
//	loader := config.NewLoader()
//	loader.AddLayer("docfeed.yaml")
//	loader.AddLayer("docfeed.prod.json") // Overrides the first layer
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Environment overrides:
//
//	DOCFEED_NATS_URLS, DOCFEED_NATS_USERNAME, DOCFEED_NATS_PASSWORD,
//	DOCFEED_NATS_TOKEN, DOCFEED_NATS_TIMEOUT, DOCFEED_BUCKET,
//	DOCFEED_OVERRIDES, DOCFEED_LISTEN_SOURCE, DOCFEED_LISTEN_INCLUDE_METADATA,
//	DOCFEED_RESOLVE_TIMEOUT, DOCFEED_CACHE_MAX_ENTRIES, DOCFEED_CACHE_TTL,
//	DOCFEED_METRICS_ENABLED, DOCFEED_METRICS_PORT, DOCFEED_LOG_LEVEL,
//	DOCFEED_LOG_FORMAT
//
// # Live Overrides
//
// When store.overrides names a document, Manager watches it and merges its
// JSON object over the loaded configuration whenever it changes:
//
//	cm, err := config.NewConfigManager(cfg, src,
//		natsclient.DocRef{Bucket: cfg.Store.Bucket, Key: cfg.Store.Overrides}, logger)
//	if err != nil {
//		return err
//	}
//	remove := cm.OnChange(func(c *config.Config) { level.Set(parseLevel(c.Log.Level)) })
//	defer remove()
//	if err := cm.Start(ctx, 5*time.Second); err != nil {
//		return err
//	}
//	defer cm.Stop()
//
// SafeConfig guards the current value; Get returns a deep copy.
package config
