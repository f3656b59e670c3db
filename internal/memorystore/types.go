// Package memorystore implements the Memory Facade (C3): one logical
// interface over three backends — a structured event log (Postgres), an
// operational key/value cache plus idempotency store (Redis), and a vector
// semantic index (Qdrant) with heuristic retrieval scoring. Grounded on
// original_source/services/memory_service/store.py's MemoryStore class.
package memorystore

import "time"

// EventRow is one append-only row of the structured event log.
type EventRow struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	PlanID         string    `json:"plan_id,omitempty"`
	Producer       string    `json:"producer"`
	IdempotencyKey string    `json:"idempotency_key"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
}

// Task is one row of the per-plan task table (spec.md §3 "Task" entity).
type Task struct {
	TaskID    string    `json:"task_id"`
	PlanID    string    `json:"plan_id"`
	Status    string    `json:"status"`
	FilePath  string    `json:"file_path,omitempty"`
	Code      string    `json:"code,omitempty"`
	RepoURL   string    `json:"repo_url,omitempty"`
	QAAttempt int       `json:"qa_attempt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult is one row returned by semantic search, carrying both the
// raw vector similarity and the blended heuristic score it was ranked by.
type SearchResult struct {
	ID              string                 `json:"id"`
	Score           float64                `json:"score"`
	HeuristicScore  float64                `json:"heuristic_score"`
	Payload         map[string]interface{} `json:"payload"`
}

// EmbeddingPoint is one indexed point in the vector store (spec.md §3
// "Embedding point" entity).
type EmbeddingPoint struct {
	ID          string
	Text        string
	EventType   string
	PlanID      string
	CreatedAt   time.Time
	Importance  float64
	Impact      float64
	AccessCount int
}

// Task status constants (spec.md §4.6 state machine).
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskQARetry    = "qa_retry"
	TaskQAPassed   = "qa_passed"
	TaskQAFailed   = "qa_failed"
)

// indexedEventTypes + their (importance, impact) constants, per spec.md
// §4.3.1's indexing policy, grounded on
// original_source/services/memory_service/store.py's INDEXED_EVENT_TYPES.
var indexedEventTypes = map[string][2]float64{
	"plan.created":        {0.8, 0.6},
	"pipeline.conclusion":  {1.0, 1.0},
	"qa.failed":           {0.6, 0.7},
	"security.blocked":    {0.7, 0.9},
	"qa.passed":           {0.4, 0.3},
	"security.approved":   {0.5, 0.4},
}

// ShouldIndex reports whether eventType is part of the semantic indexing
// policy, and returns its (importance, impact) constants.
func ShouldIndex(eventType string) (importance, impact float64, ok bool) {
	v, ok := indexedEventTypes[eventType]
	if !ok {
		return 0, 0, false
	}
	return v[0], v[1], true
}
