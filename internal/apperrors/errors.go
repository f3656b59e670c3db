// Package apperrors provides sentinel errors and a structured wrapper used
// across every pipeline service so callers can errors.Is/errors.As instead
// of matching on strings.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// Envelope / contracts
	ErrInvalidEnvelope  = errors.New("invalid event envelope")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrPayloadMismatch  = errors.New("payload does not match event type")

	// Broker
	ErrBrokerUnavailable  = errors.New("broker unavailable")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrIdempotentReplay   = errors.New("duplicate delivery suppressed")

	// Memory
	ErrNotFound        = errors.New("not found")
	ErrDuplicateEvent  = errors.New("event already stored")
	ErrUpstreamMemory  = errors.New("memory facade request failed")
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// Planner / gateway
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrApprovalNotFound     = errors.New("approval not found")

	// Tools
	ErrPathEscape  = errors.New("path escapes sandbox root")
	ErrToolTimeout = errors.New("tool execution timed out")
)

// PipelineError carries structured context about a failed operation so logs
// and error chains stay inspectable across service boundaries.
type PipelineError struct {
	Op      string // e.g. "broker.Publish", "memory.StoreEvent"
	Kind    string // e.g. "broker", "memory", "contracts"
	ID      string // entity id involved, if any (event_id, plan_id, task_id)
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func Wrap(op, kind string, id string, err error) *PipelineError {
	return &PipelineError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether err represents a transient condition a caller
// should retry with backoff, per spec.md §7's transient/terminal taxonomy.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBrokerUnavailable) ||
		errors.Is(err, ErrUpstreamMemory) ||
		errors.Is(err, ErrIndexUnavailable)
}
