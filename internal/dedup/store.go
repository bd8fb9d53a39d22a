// Package dedup implements the per-recipient TTL+capacity deduplication
// store keyed by (episode_id, msg_id).
package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e7
	defaultMaxCost     = 1e7
	defaultBufferItems = 64
	defaultTTL         = 5 * time.Minute
)

// Config configures the Store's underlying admission cache.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

func applyDefaults(cfg *Config) *Config {
	out := &Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
		TTL:         defaultTTL,
	}
	if cfg == nil {
		return out
	}
	if cfg.NumCounters > 0 {
		out.NumCounters = cfg.NumCounters
	}
	if cfg.MaxCost > 0 {
		out.MaxCost = cfg.MaxCost
	}
	if cfg.BufferItems > 0 {
		out.BufferItems = cfg.BufferItems
	}
	if cfg.TTL > 0 {
		out.TTL = cfg.TTL
	}
	return out
}

// Store deduplicates (episode_id, msg_id) pairs per recipient. A seen key
// never drops the original message — only the Router's decision to
// enqueue a duplicate is affected.
type Store struct {
	cache *ristretto.Cache
	ttl   time.Duration
	mu    sync.Mutex

	duplicates int64
}

// New creates a dedup Store.
func New(cfg *Config) (*Store, error) {
	c := applyDefaults(cfg)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: c.NumCounters,
		MaxCost:     c.MaxCost,
		BufferItems: c.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: new cache: %w", err)
	}
	return &Store{cache: cache, ttl: c.TTL}, nil
}

func key(recipient, episodeID, msgID string) string {
	return recipient + "\x00" + episodeID + "\x00" + msgID
}

// CheckAndMark reports whether (recipient, episodeID, msgID) has already
// been seen, and if not, marks it seen with the configured TTL.
func (s *Store) CheckAndMark(recipient, episodeID, msgID string) (duplicate bool) {
	k := key(recipient, episodeID, msgID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.cache.Get(k); found {
		s.duplicates++
		return true
	}
	s.cache.SetWithTTL(k, struct{}{}, 1, s.ttl)
	s.cache.Wait()
	return false
}

// Duplicates returns the running count of duplicate admissions observed.
func (s *Store) Duplicates() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Close releases the underlying cache.
func (s *Store) Close() {
	s.cache.Close()
}
