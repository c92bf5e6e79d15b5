package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries is the default capacity of a Store
	DefaultMaxEntries = 5000

	// DefaultEvictFraction is the default share of capacity freed on overflow
	DefaultEvictFraction = 0.4
)

// StoreConfig holds store configuration.
type StoreConfig struct {
	// Max is the maximum number of entries held at once.
	Max int

	// EvictFraction is the share of Max released by a Free run, in (0, 1].
	EvictFraction float64

	// Clock returns the current time (default: time.Now).
	Clock func() time.Time
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Max:           DefaultMaxEntries,
		EvictFraction: DefaultEvictFraction,
		Clock:         time.Now,
	}
}

// Store is a bounded key to Entry map with lazy expiry.
//
// Expired entries stay in the map until the next Free run; Get simply
// ignores them. Free runs synchronously inside Set when the store is full.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     uint64
	config  StoreConfig
}

// NewStore creates a new store, filling zero config fields with defaults.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxEntries
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = DefaultEvictFraction
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Store{
		entries: make(map[string]*Entry),
		config:  cfg,
	}
}

// Get returns the entry stored under key if it has not expired.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.entries[key]
	if !ok || item.IsExpired(s.config.Clock()) {
		CacheMisses.Inc()
		return Entry{}, false
	}
	CacheHits.Inc()
	return *item, true
}

// Set stores entry under key for ttl, replacing any previous entry.
// A full store is freed before the insert, so Len never exceeds Max.
func (s *Store) Set(key string, entry Entry, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.config.Max {
		s.freeLocked()
	}

	now := s.config.Clock()
	s.seq++
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)
	entry.seq = s.seq
	s.entries[key] = &entry

	CacheEntries.Set(float64(len(s.entries)))
}

// Free drops expired entries and, if more than the keep count remain,
// keeps only those furthest from expiry.
func (s *Store) Free() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeLocked()
}

// Len returns the number of stored entries, including expired ones not yet freed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Max returns the configured capacity.
func (s *Store) Max() int {
	return s.config.Max
}

// KeepCount is the number of live entries a Free run retains.
func (s *Store) KeepCount() int {
	return keepCount(s.config.Max, s.config.EvictFraction)
}

func keepCount(max int, fraction float64) int {
	// Epsilon absorbs float error such as 5000*0.4 landing just above 2000.
	keep := max - int(math.Ceil(float64(max)*fraction-1e-9))
	if keep < 0 {
		return 0
	}
	return keep
}

func (s *Store) freeLocked() {
	now := s.config.Clock()
	keep := keepCount(s.config.Max, s.config.EvictFraction)

	type kv struct {
		key   string
		entry *Entry
	}
	live := make([]kv, 0, len(s.entries))
	expired := 0
	for k, e := range s.entries {
		if e.IsExpired(now) {
			expired++
			continue
		}
		live = append(live, kv{key: k, entry: e})
	}

	overflow := 0
	if len(live) > keep {
		sort.Slice(live, func(i, j int) bool {
			a, b := live[i].entry, live[j].entry
			if !a.ExpiresAt.Equal(b.ExpiresAt) {
				return a.ExpiresAt.After(b.ExpiresAt)
			}
			return a.seq > b.seq
		})
		overflow = len(live) - keep
		live = live[:keep]
	}

	survivors := make(map[string]*Entry, len(live))
	for _, item := range live {
		survivors[item.key] = item.entry
	}
	s.entries = survivors

	if expired > 0 {
		CacheEvictions.WithLabelValues("expired").Add(float64(expired))
	}
	if overflow > 0 {
		CacheEvictions.WithLabelValues("overflow").Add(float64(overflow))
	}
	CacheEntries.Set(float64(len(s.entries)))
}
