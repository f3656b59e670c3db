// Package gateway implements the Gateway service (C8): the single entry
// point for the frontend. It broadcasts every bus event over WebSocket,
// intercepts security.approved to hold PRs for human review (the HITL
// approval gate), and proxies plan/task reads to the Planner and Memory
// Facade. Grounded on
// original_source/services/gateway_service/{main.py,ws_manager.py}.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
)

const serviceName = "gateway"

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	memory    *memoryclient.Client
	bus       Publisher
	ws        *ConnectionManager
	logger    logging.Logger

	mu              sync.Mutex
	pendingApproval map[string]contracts.PRApprovalPayload
}

func New(memory *memoryclient.Client, bus Publisher, ws *ConnectionManager, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Service{
		memory: memory, bus: bus, ws: ws, logger: logger,
		pendingApproval: make(map[string]contracts.PRApprovalPayload),
	}
}

// HandleAnyEvent is the routing-key "#" consumer: it forwards every event
// on the bus to connected WebSocket clients untouched.
func (s *Service) HandleAnyEvent(ctx context.Context, env *contracts.Envelope) error {
	msg, err := json.Marshal(map[string]interface{}{"type": "event", "event": env})
	if err != nil {
		return err
	}
	s.ws.Broadcast(msg)
	return nil
}

// HandleSecurityApproved intercepts security.approved to create a pending
// human approval rather than letting source control react directly,
// grounded on gateway_service/main.py's _consume_security_approved.
func (s *Service) HandleSecurityApproved(ctx context.Context, sec contracts.SecurityResultPayload) error {
	if !sec.Approved || len(sec.PRContext) == 0 {
		return nil
	}

	var filesChanged []string
	if rawFiles, ok := sec.PRContext["files"].([]interface{}); ok {
		for _, rf := range rawFiles {
			if m, ok := rf.(map[string]interface{}); ok {
				if fp, ok := m["file_path"].(string); ok {
					filesChanged = append(filesChanged, fp)
				}
			}
		}
	}

	conclusion := contracts.PipelineConclusionPayload{
		PlanID: sec.PlanID, BranchName: sec.BranchName,
		ConclusionText: sec.Reasoning, FilesChanged: filesChanged, Approved: sec.Approved,
	}
	if err := s.publishAndStore(ctx, contracts.EventPipelineConclusion, conclusion); err != nil {
		s.logger.Warn("gateway: failed to publish pipeline.conclusion", logging.Fields{"plan_id": sec.PlanID, "error": err.Error()})
	}

	approval := contracts.PRApprovalPayload{
		ApprovalID:        uuid.NewString(),
		PlanID:            sec.PlanID,
		BranchName:        sec.BranchName,
		FilesCount:        sec.FilesScanned,
		SecurityReasoning: sec.Reasoning,
		PRContext:         sec.PRContext,
	}

	s.mu.Lock()
	s.pendingApproval[approval.ApprovalID] = approval
	s.mu.Unlock()

	if err := s.publishAndStore(ctx, contracts.EventPRPendingApproval, approval); err != nil {
		s.logger.Warn("gateway: failed to publish pr.pending_approval", logging.Fields{"approval_id": approval.ApprovalID, "error": err.Error()})
	}

	msg, _ := json.Marshal(map[string]interface{}{"type": "approval", "approval": approval})
	s.ws.Broadcast(msg)

	s.logger.Info("gateway: PR approval pending human decision", logging.Fields{"plan_id": sec.PlanID, "approval_id": approval.ApprovalID})
	return nil
}

var errApprovalNotFound = fmt.Errorf("approval not found or already decided")

func (s *Service) decide(ctx context.Context, approvalID, decision string, eventType contracts.EventType) (contracts.PRApprovalPayload, error) {
	s.mu.Lock()
	approval, ok := s.pendingApproval[approvalID]
	if ok {
		delete(s.pendingApproval, approvalID)
	}
	s.mu.Unlock()

	if !ok {
		return contracts.PRApprovalPayload{}, errApprovalNotFound
	}

	approval.Decision = decision

	env, err := contracts.Build(eventType, serviceName, approval)
	if err != nil {
		return approval, err
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		return approval, err
	}

	decidedMsg, _ := json.Marshal(map[string]interface{}{"type": "approval_decided", "approval": approval})
	s.ws.Broadcast(decidedMsg)
	eventMsg, _ := json.Marshal(map[string]interface{}{"type": "event", "event": env})
	s.ws.Broadcast(eventMsg)

	return approval, nil
}

// Approve is the human decision path for /api/approvals/{id}/approve.
func (s *Service) Approve(ctx context.Context, approvalID string) (contracts.PRApprovalPayload, error) {
	approval, err := s.decide(ctx, approvalID, "approved", contracts.EventPRHumanApproved)
	if err == nil {
		s.logger.Info("gateway: human APPROVED PR", logging.Fields{"plan_id": approval.PlanID, "approval_id": approvalID})
	}
	return approval, err
}

// Reject is the human decision path for /api/approvals/{id}/reject.
func (s *Service) Reject(ctx context.Context, approvalID string) (contracts.PRApprovalPayload, error) {
	approval, err := s.decide(ctx, approvalID, "rejected", contracts.EventPRHumanRejected)
	if err == nil {
		s.logger.Info("gateway: human REJECTED PR", logging.Fields{"plan_id": approval.PlanID, "approval_id": approvalID})
	}
	return approval, err
}

func (s *Service) ListApprovals() []contracts.PRApprovalPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.PRApprovalPayload, 0, len(s.pendingApproval))
	for _, a := range s.pendingApproval {
		out = append(out, a)
	}
	return out
}

func (s *Service) publishAndStore(ctx context.Context, eventType contracts.EventType, payload interface{}) error {
	env, err := contracts.Build(eventType, serviceName, payload)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, env); err != nil {
		return err
	}
	if s.memory != nil {
		s.memory.StoreEvent(ctx, env.EventID, string(env.EventType), env.Producer, env.IdempotencyKey, env.Payload, env.Timestamp)
	}
	return nil
}
