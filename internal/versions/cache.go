package versions

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 10 * time.Minute
)

// Cache keeps successful GitHub response bodies by URL so page reloads do not spend
// API quota. Failed responses are never cached.
type Cache struct {
	lru *expirable.LRU[string, []byte]
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *Cache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(url)
}

func (c *Cache) Put(url string, body []byte) {
	if c == nil {
		return
	}
	c.lru.Add(url, body)
}

func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
