package memorystore

import (
	"math"
	"sort"
	"time"
)

// Heuristic weight constants from spec.md §4.3.1. No calibration procedure
// is specified; SPEC_FULL.md's Open Question Decisions fix them as-is.
const (
	similarityImportanceWeight = 0.4
	similarityImpactWeight     = 0.3
	recencyWeight              = 0.2
	accessWeight               = 0.1
	accessLogDivisor           = 3.0
)

// HeuristicScore blends vector similarity with importance, impact, recency
// and access frequency:
//
//	heuristic = s * (1 + 0.4*importance + 0.3*impact)
//	          + 0.2 * 1/(1+age_hours)
//	          + 0.1 * min(1, ln(1+access_count)/3)
func HeuristicScore(similarity, importance, impact float64, ageHours float64, accessCount int) float64 {
	base := similarity * (1 + similarityImportanceWeight*importance + similarityImpactWeight*impact)
	recency := recencyWeight * (1.0 / (1.0 + ageHours))
	access := accessWeight * math.Min(1.0, math.Log(1.0+float64(accessCount))/accessLogDivisor)
	return base + recency + access
}

// AgeHours returns the age of t relative to now in fractional hours.
func AgeHours(t, now time.Time) float64 {
	if now.Before(t) {
		return 0
	}
	return now.Sub(t).Hours()
}

// SortByHeuristicDescending stable-sorts results by HeuristicScore
// descending, per spec.md §8's "semantic_search results are stable-sorted
// by descending heuristic" property.
func SortByHeuristicDescending(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].HeuristicScore > results[j].HeuristicScore
	})
}
