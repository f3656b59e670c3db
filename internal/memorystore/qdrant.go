// VectorIndex implements the semantic memory backend (spec.md §4.3.1)
// against a Qdrant collection, scoring candidates with HeuristicScore after
// Qdrant's own vector-similarity search narrows the candidate set.
package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

const collectionName = "admadc_events"

// VectorIndex wraps a Qdrant collection and an Embedder, falling back to
// HashEmbedder when no external embedding API is configured (spec.md
// §4.3.1: "preferred external embedding API; otherwise a deterministic
// hash-to-vector fallback").
type VectorIndex struct {
	client   *qdrant.Client
	embedder Embedder
}

func NewVectorIndex(host string, port int, embedder Embedder) (*VectorIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("memorystore: connect qdrant: %w", err)
	}
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &VectorIndex{client: client, embedder: embedder}, nil
}

// EnsureCollection creates the collection if it does not already exist.
func (v *VectorIndex) EnsureCollection(ctx context.Context) error {
	exists, err := v.client.CollectionExists(ctx, collectionName)
	if err == nil && exists {
		return nil
	}
	return v.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     EmbeddingDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// Index embeds and upserts one point, per spec.md §4.3.1's indexing policy.
// Callers (the Facade) only invoke this for event types ShouldIndex allows.
func (v *VectorIndex) Index(ctx context.Context, point EmbeddingPoint) error {
	vec, err := v.embedder.Embed(point.Text)
	if err != nil {
		return fmt.Errorf("memorystore: embed: %w", err)
	}

	payload := map[string]interface{}{
		"text":         point.Text,
		"event_type":   point.EventType,
		"plan_id":      point.PlanID,
		"created_at":   point.CreatedAt.Format(time.RFC3339),
		"importance":   point.Importance,
		"impact":       point.Impact,
		"access_count": point.AccessCount,
	}

	wait := true
	_, err = v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewID(point.ID),
				Vectors: qdrant.NewVectors(vec...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("memorystore: upsert point: %w", err)
	}
	return nil
}

// SearchFilter narrows candidates by plan and/or event types before scoring,
// per spec.md §4.3.1: "Filters are translated to index predicates."
type SearchFilter struct {
	PlanID     string
	EventTypes []string
}

// Search embeds query, asks Qdrant for the top candidatesK by cosine
// similarity, then re-ranks by HeuristicScore and returns the top limit.
func (v *VectorIndex) Search(ctx context.Context, query string, filter SearchFilter, limit int) ([]SearchResult, error) {
	vec, err := v.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("memorystore: embed query: %w", err)
	}

	candidatesK := uint64(limit * 5)
	if candidatesK < 20 {
		candidatesK = 20
	}

	qfilter := buildQdrantFilter(filter)

	points, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionName,
		Query:          qdrant.NewQuery(vec...),
		Filter:         qfilter,
		Limit:          &candidatesK,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memorystore: query: %w", err)
	}

	now := time.Now().UTC()
	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		payload := qdrantValueMapToGo(p.GetPayload())
		importance, _ := payload["importance"].(float64)
		impact, _ := payload["impact"].(float64)
		accessCount := 0
		if ac, ok := payload["access_count"].(float64); ok {
			accessCount = int(ac)
		}
		createdAt := now
		if ts, ok := payload["created_at"].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				createdAt = parsed
			}
		}

		sim := float64(p.GetScore())
		h := HeuristicScore(sim, importance, impact, AgeHours(createdAt, now), accessCount)

		results = append(results, SearchResult{
			ID:             idToString(p.GetId()),
			Score:          sim,
			HeuristicScore: h,
			Payload:        payload,
		})
	}

	SortByHeuristicDescending(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func buildQdrantFilter(f SearchFilter) *qdrant.Filter {
	if f.PlanID == "" && len(f.EventTypes) == 0 {
		return nil
	}
	var must []*qdrant.Condition
	if f.PlanID != "" {
		must = append(must, qdrant.NewMatch("plan_id", f.PlanID))
	}
	if len(f.EventTypes) > 0 {
		var should []*qdrant.Condition
		for _, et := range f.EventTypes {
			should = append(should, qdrant.NewMatch("event_type", et))
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

func qdrantValueMapToGo(m map[string]*qdrant.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = qdrantValueToGo(v)
	}
	return out
}

func qdrantValueToGo(v *qdrant.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return float64(kind.IntegerValue)
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func idToString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if s, ok := id.GetPointIdOptions().(*qdrant.PointId_Uuid); ok {
		return s.Uuid
	}
	if n, ok := id.GetPointIdOptions().(*qdrant.PointId_Num); ok {
		return fmt.Sprintf("%d", n.Num)
	}
	return ""
}
