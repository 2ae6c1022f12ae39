package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"climate-analytics/internal/dataset"
	"climate-analytics/pkg/metrics"
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// resultCache memoizes analysis results per table content and parameters
type resultCache struct {
	lru     *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	metrics *metrics.Collector
}

func newResultCache(size int, ttl time.Duration, metricsCollector *metrics.Collector) (*resultCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("creating LRU cache: %w", err)
	}
	return &resultCache{lru: c, ttl: ttl, metrics: metricsCollector}, nil
}

// key hashes the CSV rendition of t together with the operation parameters
func cacheKey(op string, t *dataset.Table, params ...string) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", op)
	for _, p := range params {
		fmt.Fprintf(h, "%s\x00", p)
	}
	if err := t.WriteCSV(h); err != nil {
		return "", fmt.Errorf("hash table: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *resultCache) get(key string) (interface{}, bool) {
	entry, ok := c.lru.Get(key)
	if ok && c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	c.metrics.RecordCache(ok)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

func (c *resultCache) add(key string, value interface{}) {
	c.lru.Add(key, cacheEntry{value: value, expiresAt: time.Now().Add(c.ttl)})
}
