package alerting

import (
	"context"
	"fmt"
	"sort"

	"recsignal/internal/models"
	"recsignal/internal/store"
)

type cacheKey struct {
	metric   models.MetricType
	env      models.Environment
	hostname string
	label    string
}

type cacheEntry struct {
	threshold models.Threshold
	ok        bool
}

// ThresholdCache memoizes resolutions for the lifetime of one batch. Build
// a fresh one per batch and drop it afterwards; it is not safe for
// concurrent use.
type ThresholdCache struct {
	entries map[cacheKey]cacheEntry
	lookups int
}

func NewThresholdCache() *ThresholdCache {
	return &ThresholdCache{entries: make(map[cacheKey]cacheEntry)}
}

// Lookups is the number of store queries the cache could not answer.
func (c *ThresholdCache) Lookups() int {
	return c.lookups
}

// Resolver finds the most specific threshold for a reading.
type Resolver struct {
	thresholds store.ThresholdStore
	cache      *ThresholdCache
}

// NewResolver binds a resolver to a transaction's threshold store. A nil
// cache disables memoization.
func NewResolver(thresholds store.ThresholdStore, cache *ThresholdCache) *Resolver {
	return &Resolver{thresholds: thresholds, cache: cache}
}

// Resolve returns the best matching threshold. ok is false when nothing is
// configured for the reading, which is not an error.
func (r *Resolver) Resolve(ctx context.Context, metric models.MetricType, env models.Environment, hostname, label string) (models.Threshold, bool, error) {
	key := cacheKey{metric: metric, env: env, hostname: hostname, label: label}
	if r.cache != nil {
		if e, hit := r.cache.entries[key]; hit {
			return e.threshold, e.ok, nil
		}
		r.cache.lookups++
	}

	rows, err := r.thresholds.Find(ctx, metric, env, hostname, label)
	if err != nil {
		return models.Threshold{}, false, fmt.Errorf("find thresholds for %s/%s: %w", metric, env, err)
	}
	t, ok := pickThreshold(rows, hostname, label)

	if r.cache != nil {
		r.cache.entries[key] = cacheEntry{threshold: t, ok: ok}
	}
	return t, ok, nil
}

// specificity scores a candidate: 0 is exact host and exact label, 2 is
// the environment-wide default. An empty request value never counts as an
// exact match.
func specificity(t models.Threshold, hostname, label string) (score int, hostExact bool) {
	hostExact = hostname != "" && t.Hostname == hostname
	labelExact := label != "" && t.PathLabel == label
	if !hostExact {
		score++
	}
	if !labelExact {
		score++
	}
	return score, hostExact
}

// pickThreshold selects the lowest specificity score. Ties go to the
// host-specific row, then to the most recently updated row, then to the
// lowest id.
func pickThreshold(rows []models.Threshold, hostname, label string) (models.Threshold, bool) {
	candidates := rows[:0:0]
	for _, t := range rows {
		if t.Hostname != "" && t.Hostname != hostname {
			continue
		}
		if t.PathLabel != "" && t.PathLabel != label {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return models.Threshold{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, hi := specificity(candidates[i], hostname, label)
		sj, hj := specificity(candidates[j], hostname, label)
		if si != sj {
			return si < sj
		}
		if hi != hj {
			return hi
		}
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}
