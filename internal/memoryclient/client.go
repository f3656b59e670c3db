// Package memoryclient is the HTTP client every non-Memory service uses to
// read and write through the Memory Facade, per spec.md §3's ownership
// rule: "all other services read through it." Retries transient failures
// with internal/resilience and never fails the caller's handler on a
// write failure (spec.md §7: "A Memory write failure inside a handler is
// logged and suppressed").
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memorystore"
	"github.com/admadc/pipeline/internal/resilience"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  logging.Logger
	cb      *resilience.CircuitBreaker
}

func New(baseURL string, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		cb:      resilience.NewCircuitBreaker("memory-client", 5, 30*time.Second),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("memoryclient: encode body: %w", err)
		}
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("memoryclient: %s %s: status %d", method, path, resp.StatusCode)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	}

	return c.cb.Execute(ctx, func() error {
		return resilience.Retry(ctx, nil, op)
	})
}

// StoreEvent posts env fields to POST /events. Per spec.md §7, write
// failures are logged and suppressed rather than surfaced to the caller.
func (c *Client) StoreEvent(ctx context.Context, eventID, eventType, producer, idempotencyKey string, payload json.RawMessage, ts time.Time) {
	req := map[string]interface{}{
		"event_id":        eventID,
		"event_type":      eventType,
		"producer":        producer,
		"idempotency_key": idempotencyKey,
		"payload":         payload,
		"timestamp":       ts,
	}
	if err := c.do(ctx, http.MethodPost, "/events", req, nil); err != nil {
		c.logger.Warn("memoryclient: store event failed, suppressing", logging.Fields{"event_id": eventID, "error": err.Error()})
	}
}

func (c *Client) GetEvents(ctx context.Context, eventType, planID string, limit int) ([]memorystore.EventRow, error) {
	path := fmt.Sprintf("/events?event_type=%s&plan_id=%s&limit=%d", eventType, planID, limit)
	var out struct {
		Events []memorystore.EventRow `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

type UpsertTaskRequest struct {
	memorystore.Task
	QAAttemptSupplied bool `json:"qa_attempt_supplied"`
}

func (c *Client) UpdateTask(ctx context.Context, req UpsertTaskRequest) error {
	return c.do(ctx, http.MethodPost, "/tasks", req, nil)
}

func (c *Client) GetTasks(ctx context.Context, planID string) ([]memorystore.Task, error) {
	var out struct {
		Tasks []memorystore.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/tasks/"+planID, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) SemanticSearch(ctx context.Context, query, planID string, eventTypes []string, limit int) ([]memorystore.SearchResult, error) {
	req := map[string]interface{}{
		"query": query, "plan_id": planID, "event_types": eventTypes, "limit": limit,
	}
	var out struct {
		Results []memorystore.SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/semantic/search", req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) CacheSet(ctx context.Context, key, value string, ttl time.Duration) error {
	req := map[string]interface{}{"key": key, "value": value, "ttl_seconds": int(ttl.Seconds())}
	return c.do(ctx, http.MethodPost, "/cache", req, nil)
}

func (c *Client) CacheGet(ctx context.Context, key string) (string, bool, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := c.do(ctx, http.MethodGet, "/cache/"+key, nil, &out)
	if err != nil {
		return "", false, nil
	}
	return out.Value, true, nil
}

func (c *Client) IdempotencyCheck(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	req := map[string]interface{}{"key": key, "ttl_seconds": int(ttl.Seconds())}
	var out struct {
		Existed bool `json:"existed"`
	}
	if err := c.do(ctx, http.MethodPost, "/idempotency/check", req, &out); err != nil {
		return false, err
	}
	return out.Existed, nil
}

// HasCodeGeneratedForTask scans code.generated events for an existing
// task_id match, backing Developer's idempotency pre-check (spec.md §4.5).
func (c *Client) HasCodeGeneratedForTask(ctx context.Context, planID, taskID string) (bool, error) {
	rows, err := c.GetEvents(ctx, "code.generated", planID, 500)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		var payload struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			continue
		}
		if payload.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}
