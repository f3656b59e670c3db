package security

import (
	"context"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
)

const serviceName = "security"

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	memory  *memoryclient.Client
	bus     Publisher
	metrics *metrics.Registry
	logger  logging.Logger
}

func New(memory *memoryclient.Client, bus Publisher, metricsReg *metrics.Registry, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Service{memory: memory, bus: bus, metrics: metricsReg, logger: logger}
}

// HandlePRRequested is the pr.requested consumer (spec.md §4.7): the last
// gate before a PR reaches source control.
func (s *Service) HandlePRRequested(ctx context.Context, payload contracts.PRRequestedPayload) error {
	s.logger.Info("security: scanning PR", logging.Fields{"plan_id": payload.PlanID, "files": len(payload.Files)})

	result := ScanFiles(payload.Files)

	prContext := map[string]interface{}{}
	if result.Approved {
		prContext = map[string]interface{}{
			"plan_id":        payload.PlanID,
			"repo_url":       payload.RepoURL,
			"branch_name":    payload.BranchName,
			"files":          payload.Files,
			"commit_message": payload.CommitMessage,
		}
	}

	secPayload := contracts.SecurityResultPayload{
		PlanID: payload.PlanID, BranchName: payload.BranchName,
		Approved: result.Approved, Violations: result.Violations,
		FilesScanned: result.FilesScanned, PRContext: prContext, Reasoning: result.Reasoning,
	}

	if result.Approved {
		s.logger.Info("security: approved", logging.Fields{"plan_id": payload.PlanID})
		if s.metrics != nil {
			s.metrics.RecordTaskCompleted(ctx, "security_approved")
		}
		return s.publishAndStore(ctx, contracts.EventSecurityApproved, secPayload)
	}

	s.logger.Error("security: blocked", logging.Fields{"plan_id": payload.PlanID, "violations": len(result.Violations)})
	return s.publishAndStore(ctx, contracts.EventSecurityBlocked, secPayload)
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
