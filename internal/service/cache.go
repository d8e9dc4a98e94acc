// cache.go — LRU-кэш метаданных документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docview/internal/domain/model"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — per-instance кэш документов по ID.
type CacheService struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewCacheService создаёт кэш на maxSize записей с временем жизни ttl.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{cache: expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)}
}

// Get возвращает документ из кэша; обновляет метрики hit/miss.
func (c *CacheService) Get(id string) (*model.Document, bool) {
	doc, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return doc, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *CacheService) Set(doc *model.Document) {
	c.cache.Add(doc.ID, doc)
}

// Delete инвалидирует запись.
func (c *CacheService) Delete(id string) {
	c.cache.Remove(id)
}
