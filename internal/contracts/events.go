// Package contracts defines the canonical event envelope and typed payload
// variants that travel over the event bus, grounded on
// original_source/shared/contracts/events.py. Every payload type satisfies
// Payload so the envelope can carry a typed variant selected by EventType
// instead of an untyped map.
package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/admadc/pipeline/internal/apperrors"
)

var (
	errUnknownEventType = apperrors.ErrUnknownEventType
	errInvalidEnvelope  = apperrors.ErrInvalidEnvelope
)

// EventType is the closed set of routing keys on the event bus (spec.md §6).
type EventType string

const (
	EventPlanRequested         EventType = "plan.requested"
	EventPlanCreated           EventType = "plan.created"
	EventPlanRevisionSuggested EventType = "plan.revision_suggested"
	EventPlanRevisionConfirmed EventType = "plan.revision_confirmed"
	EventTaskAssigned          EventType = "task.assigned"
	EventCodeGenerated         EventType = "code.generated"
	EventQAPassed              EventType = "qa.passed"
	EventQAFailed              EventType = "qa.failed"
	EventPRRequested           EventType = "pr.requested"
	EventSecurityApproved      EventType = "security.approved"
	EventSecurityBlocked       EventType = "security.blocked"
	EventPRPendingApproval     EventType = "pr.pending_approval"
	EventPRHumanApproved       EventType = "pr.human_approved"
	EventPRHumanRejected       EventType = "pr.human_rejected"
	EventPRCreated             EventType = "pr.created"
	EventPipelineConclusion    EventType = "pipeline.conclusion"
	EventMemoryStore           EventType = "memory.store"
	EventMemoryQuery           EventType = "memory.query"
	EventMetricsTokensUsed     EventType = "metrics.tokens_used"
)

// knownEventTypes backs Validate's "unknown event types fail validation" rule.
var knownEventTypes = map[EventType]bool{
	EventPlanRequested: true, EventPlanCreated: true, EventPlanRevisionSuggested: true,
	EventPlanRevisionConfirmed: true, EventTaskAssigned: true, EventCodeGenerated: true,
	EventQAPassed: true, EventQAFailed: true, EventPRRequested: true,
	EventSecurityApproved: true, EventSecurityBlocked: true, EventPRPendingApproval: true,
	EventPRHumanApproved: true, EventPRHumanRejected: true, EventPRCreated: true,
	EventPipelineConclusion: true, EventMemoryStore: true, EventMemoryQuery: true,
	EventMetricsTokensUsed: true,
}

const EnvelopeVersion = "1"

// Envelope is the uniform wrapper around every bus message (spec.md §3).
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      EventType       `json:"event_type"`
	Version        string          `json:"version"`
	Timestamp      time.Time       `json:"timestamp"`
	Producer       string          `json:"producer"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
}

// Build constructs an envelope for payload, filling event_id/timestamp and
// deriving the deterministic idempotency key. Per spec.md §4.1.
func Build(eventType EventType, producer string, payload interface{}) (*Envelope, error) {
	if !knownEventTypes[eventType] {
		return nil, fmt.Errorf("contracts: %w: %s", errUnknownEventType, eventType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("contracts: marshal payload: %w", err)
	}
	canon, err := CanonicalJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("contracts: canonicalize payload: %w", err)
	}
	return &Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		Version:        EnvelopeVersion,
		Timestamp:      time.Now().UTC(),
		Producer:       producer,
		IdempotencyKey: IdempotencyKey(eventType, canon),
		Payload:        raw,
	}, nil
}

// IdempotencyKey hashes event_type + canonical JSON payload, per spec.md
// §3: "idempotency_key MUST be the same for two events whose
// (event_type, payload) are semantically equal; event_id MUST differ."
func IdempotencyKey(eventType EventType, canonicalPayload []byte) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte(":"))
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON re-serializes raw JSON with recursively sorted object keys
// and stable number/string forms, so semantically identical payloads hash
// identically regardless of field order.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalize(v))
}

func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, canonicalize(t[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// kv/orderedMap implement json.Marshaler to emit object keys in a fixed
// (sorted) order, since encoding/json otherwise sorts map[string]any keys
// already — this makes that guarantee explicit and independent of map
// iteration, and keeps nested objects stable too.
type kv struct {
	Key   string
	Value interface{}
}
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, p := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Validate decodes raw bytes into an Envelope and rejects unknown event
// types or malformed JSON.
func Validate(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("contracts: %w: %v", errInvalidEnvelope, err)
	}
	if !knownEventTypes[env.EventType] {
		return nil, fmt.Errorf("contracts: %w: %s", errUnknownEventType, env.EventType)
	}
	return &env, nil
}

// DecodePayload unmarshals the envelope's payload into dst, which must be a
// pointer to the variant matching env.EventType.
func (e *Envelope) DecodePayload(dst interface{}) error {
	return json.Unmarshal(e.Payload, dst)
}
