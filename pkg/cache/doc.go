// Cache usage:
//
//	c, err := cache.New[[]byte](ctx,
//		cache.WithMaxEntries[[]byte](500),
//		cache.WithTTL[[]byte](5*time.Minute),
//		cache.WithEvictionCallback(func(key string, _ []byte, reason cache.EvictReason) {
//			log.Printf("evicted %s (%s)", key, reason)
//		}),
//	)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
// Statistics are always collected; WithMetrics additionally exports them as
// docfeed_cache_* Prometheus series labelled with the component prefix.
package cache
