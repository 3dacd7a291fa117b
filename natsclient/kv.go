package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/docfeed/errors"
	"github.com/c360/docfeed/pkg/retry"
)

// KVEntry is a stored document body with the revision used for CAS writes.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
	Created  time.Time
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	Timeout      time.Duration // per-operation timeout; zero disables it
	MaxValueSize int           // largest accepted document body in bytes
	Retry        retry.Policy  // policy for UpdateWithRetry conflicts
}

// DefaultKVOptions returns the defaults used by NewKVStore.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
		Retry:        retry.Quick(),
	}
}

// KVStore writes and reads documents in one bucket. Reads for feeds go
// through KVSource; KVStore serves the write side and one-off lookups.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore wraps bucket with the client's logger.
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger,
	}
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

func (kv *KVStore) checkSize(value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return errors.WrapInvalid(errors.ErrInvalidData, "KVStore", "checkSize",
			fmt.Sprintf("size %d exceeds maximum %d", len(value), kv.options.MaxValueSize))
	}
	return nil
}

// Get retrieves a document with its revision. A deleted or missing key
// returns ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", key)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
		Created:  entry.Created(),
	}, nil
}

// Put creates or replaces a document (last writer wins).
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", key)
	}

	kv.logger.Debugf("KV Put: bucket=%s key=%s revision=%d", kv.Bucket(), key, rev)
	return rev, nil
}

// Create stores a document only if the key does not exist.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, errors.WrapTransient(err, "KVStore", "Create", key)
	}

	kv.logger.Debugf("KV Create: bucket=%s key=%s revision=%d", kv.Bucket(), key, rev)
	return rev, nil
}

// Update replaces a document if its revision still matches.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := kv.checkSize(value); err != nil {
		return 0, err
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, errors.WrapTransient(err, "KVStore", "Update", key)
	}

	kv.logger.Debugf("KV Update: bucket=%s key=%s oldRev=%d newRev=%d", kv.Bucket(), key, revision, rev)
	return rev, nil
}

// UpdateWithRetry reads the document, applies updateFn and writes the result
// with a revision check, retrying on conflicts. A missing key is passed to
// updateFn as nil and created.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	policy := kv.options.Retry
	policy.Retryable = IsKVConflictError

	attempt := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++

		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !IsKVNotFoundError(err):
			return retry.Permanent(err)
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.Permanent(fmt.Errorf("update function: %w", err))
		}

		if revision == 0 {
			_, err = kv.Create(ctx, key, next)
		} else {
			_, err = kv.Update(ctx, key, next, revision)
		}
		if err != nil && IsKVConflictError(err) {
			kv.logger.Debugf("KV conflict (retrying): key=%s attempt=%d/%d", key, attempt, policy.Attempts)
		}
		return err
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	var perm *retry.PermanentError
	if stderrors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// UpdateJSON applies updateFn to the decoded JSON object stored at key.
func (kv *KVStore) UpdateJSON(ctx context.Context, key string,
	updateFn func(current map[string]any) error) error {

	return kv.UpdateWithRetry(ctx, key, func(currentBytes []byte) ([]byte, error) {
		current := make(map[string]any)
		if len(currentBytes) > 0 {
			if err := json.Unmarshal(currentBytes, &current); err != nil {
				return nil, errors.WrapInvalid(errors.ErrDataCorrupted, "KVStore", "UpdateJSON", err.Error())
			}
		}

		if err := updateFn(current); err != nil {
			return nil, err
		}
		return json.Marshal(current)
	})
}

// Delete removes a document. Watchers observe the key as no longer existing.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return errors.WrapTransient(err, "KVStore", "Delete", key)
	}

	kv.logger.Debugf("KV Delete: bucket=%s key=%s", kv.Bucket(), key)
	return nil
}

// Keys lists the live keys of the bucket.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "KVStore", "Keys", kv.Bucket())
	}
	return keys, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}

// Well-known KV errors
var (
	ErrKVKeyNotFound        = errors.ErrKeyNotFound
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)
