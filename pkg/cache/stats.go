package cache

import (
	"sync/atomic"
	"time"
)

// Statistics tracks cache activity. It is always collected.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	peak      atomic.Int64
	capacity  atomic.Int64
	started   time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{started: time.Now()}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a cache set operation.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records an explicit delete.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records an automatic removal (expiry or capacity).
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current number of entries.
func (s *Statistics) UpdateSize(size int64) {
	s.size.Store(size)
	for {
		peak := s.peak.Load()
		if size <= peak || s.peak.CompareAndSwap(peak, size) {
			return
		}
	}
}

// SetMaxSize records the configured capacity; zero means unbounded.
func (s *Statistics) SetMaxSize(n int64) { s.capacity.Store(n) }

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the total number of set operations.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Deletes returns the total number of delete operations.
func (s *Statistics) Deletes() int64 { return s.deletes.Load() }

// Evictions returns the total number of automatic removals.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the number of entries at the last update.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// PeakSize returns the largest number of entries observed.
func (s *Statistics) PeakSize() int64 { return s.peak.Load() }

// HitRatio returns hits / (hits + misses), or 0 without requests.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Sets        int64         `json:"sets"`
	Deletes     int64         `json:"deletes"`
	Evictions   int64         `json:"evictions"`
	CurrentSize int64         `json:"current_size"`
	PeakSize    int64         `json:"peak_size"`
	MaxSize     int64         `json:"max_size"`
	HitRatio    float64       `json:"hit_ratio"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Sets:        s.Sets(),
		Deletes:     s.Deletes(),
		Evictions:   s.Evictions(),
		CurrentSize: s.CurrentSize(),
		PeakSize:    s.PeakSize(),
		MaxSize:     s.capacity.Load(),
		HitRatio:    s.HitRatio(),
		Uptime:      time.Since(s.started),
	}
}
