package memorystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicScore_HigherImportanceScoresHigher(t *testing.T) {
	low := HeuristicScore(0.8, 0.1, 0.1, 1, 1)
	high := HeuristicScore(0.8, 1.0, 1.0, 1, 1)
	assert.Greater(t, high, low)
}

func TestHeuristicScore_RecencyDecaysWithAge(t *testing.T) {
	recent := HeuristicScore(0.5, 0.5, 0.5, 0, 0)
	old := HeuristicScore(0.5, 0.5, 0.5, 1000, 0)
	assert.Greater(t, recent, old)
}

func TestHeuristicScore_AccessBoostCapped(t *testing.T) {
	huge := HeuristicScore(0, 0, 0, 1_000_000, 1_000_000_000)
	assert.LessOrEqual(t, huge, 0.1+0.2/(1+1_000_000.0)+1e-9, "access term must be capped at 0.1 (weight * min(1,...)); only the tiny recency term is added")
}

func TestSortByHeuristicDescending(t *testing.T) {
	results := []SearchResult{
		{ID: "a", HeuristicScore: 0.2},
		{ID: "b", HeuristicScore: 0.9},
		{ID: "c", HeuristicScore: 0.5},
	}
	SortByHeuristicDescending(results)
	assert.Equal(t, []string{"b", "c", "a"}, []string{results[0].ID, results[1].ID, results[2].ID})
}

func TestAgeHours(t *testing.T) {
	now := time.Now()
	past := now.Add(-2 * time.Hour)
	assert.InDelta(t, 2.0, AgeHours(past, now), 0.01)
	assert.Equal(t, 0.0, AgeHours(now.Add(time.Hour), now))
}
