package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type evictionLog struct {
	mu     sync.Mutex
	events []string
}

func (l *evictionLog) record(key string, _ string, reason EvictReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, key+":"+reason.String())
}

func (l *evictionLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestCache(t *testing.T, options ...Option[string]) Cache[string] {
	t.Helper()
	c, err := New[string](context.Background(), options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_BasicOperations(t *testing.T) {
	cache := newTestCache(t)

	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	isNew, err := cache.Set("key1", "value1")
	if err != nil {
		t.Fatalf("Unexpected error setting key: %v", err)
	}
	if !isNew {
		t.Error("Expected new entry creation")
	}

	isNew, err = cache.Set("key1", "value1_updated")
	if err != nil {
		t.Fatalf("Unexpected error updating key: %v", err)
	}
	if isNew {
		t.Error("Expected existing entry update")
	}
	if value, exists := cache.Get("key1"); !exists || value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got value: %s, exists: %t", value, exists)
	}

	deleted, err := cache.Delete("key1")
	if err != nil || !deleted {
		t.Errorf("Expected successful deletion, got deleted=%t err=%v", deleted, err)
	}
	deleted, err = cache.Delete("key1")
	if err != nil || deleted {
		t.Errorf("Expected no deletion for missing key, got deleted=%t err=%v", deleted, err)
	}

	if _, err := cache.Set("", "v"); err == nil {
		t.Error("Expected error for empty key")
	}

	stats := cache.Stats()
	if stats.Hits() != 1 || stats.Misses() != 1 || stats.Sets() != 2 || stats.Deletes() != 1 {
		t.Errorf("Unexpected stats: %+v", stats.Summary())
	}
}

func TestCache_ReplaceNeverInserts(t *testing.T) {
	log := &evictionLog{}
	cache := newTestCache(t, WithMaxEntries[string](1), WithEvictionCallback[string](log.record))

	if _, err := cache.Set("a", "1"); err != nil {
		t.Fatalf("Unexpected error setting key: %v", err)
	}

	replaced, err := cache.Replace("b", "2")
	if err != nil || replaced {
		t.Fatalf("Expected no replacement of missing key, got replaced=%t err=%v", replaced, err)
	}
	if _, exists := cache.Get("b"); exists {
		t.Error("Replace must not insert")
	}
	if value, exists := cache.Get("a"); !exists || value != "1" {
		t.Errorf("Expected 'a' to survive, got value: %s, exists: %t", value, exists)
	}

	replaced, err = cache.Replace("a", "3")
	if err != nil || !replaced {
		t.Fatalf("Expected replacement, got replaced=%t err=%v", replaced, err)
	}
	if value, _ := cache.Get("a"); value != "3" {
		t.Errorf("Expected '3', got %s", value)
	}
	if events := log.snapshot(); len(events) != 0 {
		t.Errorf("Expected no evictions, got %v", events)
	}
	if _, err := cache.Replace("", "v"); err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestCache_EvictionCallbackReasons(t *testing.T) {
	log := &evictionLog{}
	cache := newTestCache(t, WithMaxEntries[string](2), WithEvictionCallback[string](log.record))

	_, _ = cache.Set("a", "1")
	_, _ = cache.Set("b", "2")
	_, _ = cache.Get("a") // a becomes most recently used
	_, _ = cache.Set("c", "3")

	if _, ok := cache.Get("b"); ok {
		t.Error("Expected least recently used entry to be evicted")
	}

	_, _ = cache.Delete("a")
	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	want := []string{"b:capacity", "a:deleted", "c:cleared"}
	got := log.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expected evictions %v, got %v", want, got)
	}
	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Size())
	}
}

func TestCache_CallbackMayReenter(t *testing.T) {
	var cache Cache[string]
	cache = newTestCache(t, WithEvictionCallback[string](func(key string, _ string, _ EvictReason) {
		// Must not deadlock: callbacks run outside the cache lock.
		_ = cache.Size()
		_, _ = cache.Get(key)
	}))

	_, _ = cache.Set("k", "v")
	done := make(chan struct{})
	go func() {
		_, _ = cache.Delete("k")
		_ = cache.Clear()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction callback deadlocked")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	log := &evictionLog{}
	cache := newTestCache(t,
		WithTTL[string](20*time.Millisecond),
		WithCleanupInterval[string](5*time.Millisecond),
		WithEvictionCallback[string](log.record))

	_, _ = cache.Set("short", "lived")
	if _, ok := cache.Get("short"); !ok {
		t.Fatal("Expected fresh entry to be readable")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(log.snapshot()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := log.snapshot(); len(got) != 1 || got[0] != "short:expired" {
		t.Errorf("Expected one expiry eviction, got %v", got)
	}
	if _, ok := cache.Get("short"); ok {
		t.Error("Expected expired entry to be gone")
	}
	if len(cache.Keys()) != 0 {
		t.Errorf("Expected no keys, got %v", cache.Keys())
	}
}

func TestCache_Concurrency(t *testing.T) {
	cache := newTestCache(t, WithMaxEntries[string](50))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i%20)
				_, _ = cache.Set(key, "v")
				_, _ = cache.Get(key)
				if i%7 == 0 {
					_, _ = cache.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	if cache.Size() > 50 {
		t.Errorf("Expected at most 50 entries, got %d", cache.Size())
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"unbounded without ttl", Config{}, false},
		{"negative size", Config{MaxEntries: -1}, true},
		{"negative ttl", Config{TTL: -time.Second}, true},
		{"ttl without cleanup interval", Config{TTL: time.Minute}, true},
		{"ttl with cleanup interval", Config{TTL: time.Minute, CleanupInterval: time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig[string](context.Background(), Config{MaxEntries: 1})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer c.Close()

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	if c.Size() != 1 {
		t.Errorf("Expected size 1, got %d", c.Size())
	}
	if c.Stats().Evictions() != 1 {
		t.Errorf("Expected 1 eviction, got %d", c.Stats().Evictions())
	}

	if _, err := NewFromConfig[string](context.Background(), Config{MaxEntries: -5}); err == nil {
		t.Error("Expected invalid config to be rejected")
	}
}
