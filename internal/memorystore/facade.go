package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/admadc/pipeline/internal/apperrors"
	"github.com/admadc/pipeline/internal/logging"
)

// Facade is the Memory Facade (C3): the single HTTP-fronted surface every
// other service reads and writes through. It owns the structured event log,
// the operational cache, and the vector index.
type Facade struct {
	Events *EventLog
	Cache  *Cache
	Vector *VectorIndex
	logger logging.Logger
}

func NewFacade(events *EventLog, cache *Cache, vector *VectorIndex, logger logging.Logger) *Facade {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Facade{Events: events, Cache: cache, Vector: vector, logger: logger}
}

type planIDExtractor struct {
	PlanID string `json:"plan_id"`
}

// StoreEvent persists env's row and, if it is a newly-stored event of an
// indexed type, asynchronously indexes it into the vector store. A failure
// of indexing MUST NOT fail the event store (spec.md §4.3).
func (f *Facade) StoreEvent(ctx context.Context, eventID, eventType, producer, idempotencyKey string, payload []byte, createdAt time.Time) (bool, error) {
	var extractor planIDExtractor
	_ = json.Unmarshal(payload, &extractor)

	row := EventRow{
		EventID:        eventID,
		EventType:      eventType,
		PlanID:         extractor.PlanID,
		Producer:       producer,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
		CreatedAt:      createdAt,
	}

	stored, err := f.Events.StoreEvent(ctx, row)
	if err != nil {
		return false, apperrors.Wrap("memory.StoreEvent", "memory", eventID, err)
	}
	if !stored {
		return false, nil
	}

	if importance, impact, ok := ShouldIndex(eventType); ok && f.Vector != nil {
		go func() {
			idxCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := f.Vector.Index(idxCtx, EmbeddingPoint{
				ID:         eventID,
				Text:       summarize(eventType, payload),
				EventType:  eventType,
				PlanID:     extractor.PlanID,
				CreatedAt:  createdAt,
				Importance: importance,
				Impact:     impact,
			}); err != nil {
				f.logger.Warn("memory: async vector indexing failed", logging.Fields{"event_id": eventID, "error": err.Error()})
			}
		}()
	}

	return true, nil
}

// summarize builds a short text representation of payload for embedding,
// grounded on memory_service/store.py's per-event-type summary builder.
func summarize(eventType string, payload []byte) string {
	var generic map[string]interface{}
	_ = json.Unmarshal(payload, &generic)
	return fmt.Sprintf("%s: %v", eventType, generic)
}

func (f *Facade) GetEvents(ctx context.Context, eventType, planID string, limit int) ([]EventRow, error) {
	return f.Events.GetEvents(ctx, eventType, planID, limit)
}

func (f *Facade) UpdateTask(ctx context.Context, t Task, qaAttemptSupplied bool) error {
	t.UpdatedAt = time.Now().UTC()
	return f.Events.UpsertTask(ctx, t, qaAttemptSupplied)
}

func (f *Facade) GetTasks(ctx context.Context, planID string) ([]Task, error) {
	return f.Events.GetTasks(ctx, planID)
}

func (f *Facade) GetTask(ctx context.Context, taskID string) (Task, error) {
	return f.Events.GetTask(ctx, taskID)
}

func (f *Facade) SemanticSearch(ctx context.Context, query, planID string, eventTypes []string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if f.Vector == nil {
		return nil, apperrors.ErrIndexUnavailable
	}
	return f.Vector.Search(ctx, query, SearchFilter{PlanID: planID, EventTypes: eventTypes}, limit)
}

func (f *Facade) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.Cache.Set(ctx, key, value, ttl)
}

func (f *Facade) CacheGet(ctx context.Context, key string) (string, bool, error) {
	return f.Cache.Get(ctx, key)
}

func (f *Facade) IdempotencyCheck(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return f.Cache.IdempotencyCheck(ctx, key, ttl)
}

func (f *Facade) HasCodeGeneratedForTask(ctx context.Context, planID, taskID string) (bool, error) {
	return f.Events.HasCodeGeneratedForTask(ctx, planID, taskID)
}
