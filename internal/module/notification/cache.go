package notification

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SentCache remembers dedup keys of notifications already sent by this
// process. It backs the store when the store is unavailable.
type SentCache interface {
	Seen(key string) bool
	Mark(key string)
}

// LRUSentCache is a size-bounded SentCache whose entries expire.
type LRUSentCache struct {
	cache *lru.LRU[string, struct{}]
}

// NewLRUSentCache creates a cache of at most size keys kept for ttl.
func NewLRUSentCache(size int, ttl time.Duration) *LRUSentCache {
	if size <= 0 {
		size = 10000
	}
	return &LRUSentCache{cache: lru.NewLRU[string, struct{}](size, nil, ttl)}
}

func (c *LRUSentCache) Seen(key string) bool {
	return c.cache.Contains(key)
}

func (c *LRUSentCache) Mark(key string) {
	c.cache.Add(key, struct{}{})
}
