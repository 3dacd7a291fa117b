// Usage:
//
//	rev, err := retry.Value(ctx, retry.Quick(), func(ctx context.Context) (uint64, error) {
//		entry, err := bucket.Get(ctx, key)
//		if err != nil {
//			return 0, retry.Permanent(err)
//		}
//		return bucket.Update(ctx, key, mutate(entry.Value()), entry.Revision())
//	})
//
// Presets: Default (3 attempts, 100ms to 5s) for ordinary writes and Quick
// (10 attempts, 10ms to 1s) for contended compare-and-swap updates.
package retry
