package service

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

const admissionCacheNumCounters = (1 << 16) * 10
const admissionCacheMaxCost = 1 << 16
const admissionCacheBufferItems = 64
const admissionCacheTTL = 1 * time.Minute

// CachedAdmissionPolicy memoizes another policy's decisions in a
// cost-bounded cache. The cache key excludes the trace id so cardinality
// stays bounded; only wrap policies whose decisions do not vary per trace.
type CachedAdmissionPolicy struct {
	inner AdmissionPolicy
	cache *ristretto.Cache
}

func NewCachedAdmissionPolicy(inner AdmissionPolicy) (*CachedAdmissionPolicy, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: admissionCacheNumCounters,
		MaxCost:     admissionCacheMaxCost,
		BufferItems: admissionCacheBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admission cache: %w", err)
	}
	return &CachedAdmissionPolicy{inner: inner, cache: cache}, nil
}

func (cap *CachedAdmissionPolicy) ShouldDrop(
	organizationID int64,
	projectID int64,
	traceID string,
	shard int32,
) bool {
	key := fmt.Sprintf("%d:%d:%d", organizationID, projectID, shard)
	if cached, found := cap.cache.Get(key); found {
		if decision, ok := cached.(bool); ok {
			return decision
		}
	}
	decision := cap.inner.ShouldDrop(organizationID, projectID, traceID, shard)
	cap.cache.SetWithTTL(key, decision, 1, admissionCacheTTL)
	return decision
}
