package cache

import "time"

// CachedAnswer represents a model answer cached for a redacted text
type CachedAnswer struct {
	Answer   string    `json:"answer"`
	Model    string    `json:"model"`
	CachedAt time.Time `json:"cached_at"`
	TTL      int64     `json:"ttl"`
}

// LookupResult represents a cache lookup result
type LookupResult struct {
	Answer   *CachedAnswer `json:"answer"`
	CacheHit bool          `json:"cache_hit"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}
