// Package replanner implements the Replanner critic agent (C9): on
// qa.failed or security.blocked it asks the LLM whether the originating
// plan needs revision and, if so, emits plan.revision_suggested with a
// severity and concrete suggestions. It is read-only: it never mutates the
// pipeline directly, only proposes. Grounded on
// original_source/services/replanner_service/{critic.py,main.py}.
package replanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
)

const serviceName = "replanner"

const agentGoal = "Keep the pipeline converging: decide when a failing plan needs structural revision rather than another blind retry."

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	llm     llmadapter.Provider
	memory  *memoryclient.Client
	bus     Publisher
	metrics *metrics.Registry
	logger  logging.Logger
}

func New(llm llmadapter.Provider, memory *memoryclient.Client, bus Publisher, metricsReg *metrics.Registry, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Service{llm: llm, memory: memory, bus: bus, metrics: metricsReg, logger: logger}
}

type decision struct {
	RevisionNeeded bool
	Severity       string
	Reason         string
	Suggestions    []string
}

// HandleQAFailed is the qa.failed consumer.
func (s *Service) HandleQAFailed(ctx context.Context, payload contracts.QAResultPayload) error {
	return s.analyseAndEmit(ctx, payload.PlanID, summariseQAOutcome(payload), false)
}

// HandleSecurityBlocked is the security.blocked consumer.
func (s *Service) HandleSecurityBlocked(ctx context.Context, payload contracts.SecurityResultPayload) error {
	return s.analyseAndEmit(ctx, payload.PlanID, summariseSecurityOutcome(payload), true)
}

func summariseQAOutcome(o contracts.QAResultPayload) string {
	status := "FAILED"
	if o.Passed {
		status = "PASSED"
	}
	issues := "none"
	if len(o.Issues) > 0 {
		issues = strings.Join(o.Issues, ", ")
	}
	return fmt.Sprintf("QA RESULT (%s) for task %s in plan %s. Issues: %s. Reasoning: %s",
		status, o.TaskID, o.PlanID, issues, o.Reasoning)
}

func summariseSecurityOutcome(o contracts.SecurityResultPayload) string {
	status := "BLOCKED"
	if o.Approved {
		status = "APPROVED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SECURITY RESULT: %s for plan %s, branch %s.\n", status, o.PlanID, o.BranchName)
	fmt.Fprintf(&b, "Files scanned: %d.\n", o.FilesScanned)
	if len(o.Violations) > 0 {
		b.WriteString("Violations (code MUST be changed to fix these):\n")
		for i, v := range o.Violations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, v)
		}
	} else {
		b.WriteString("Violations: none listed.\n")
	}
	if strings.TrimSpace(o.Reasoning) != "" {
		fmt.Fprintf(&b, "Security reasoning: %s", o.Reasoning)
	}
	return b.String()
}

const replannerPrompt = `You are an autonomous replanning agent in a multi-agent dev pipeline.

Your goal:
%s

You are analysing the outcome of a previous plan with id %s.

You receive:
- The final QA and/or Security result.
- A compact semantic memory window with past decisions and conclusions.

MEMORY CONTEXT:
%s

CURRENT OUTCOME SUMMARY:
%s
%s
Your job:
1. Decide whether the existing plan needs revision.
2. If yes, propose the smallest set of concrete, high-leverage adjustments.
3. Focus on structural changes to the plan, not line-by-line code fixes.

Respond EXACTLY in this format:
REASON: <1-3 sentences explaining why a revision is or is not needed>
SEVERITY: low|medium|high|critical
REVISION_NEEDED: yes|no
SUGGESTIONS:
- <suggestion 1 (if any)>
`

const securityBlockedInstruction = `
IMPORTANT (Security denied): The code was BLOCKED by the security scan. Your SUGGESTIONS must directly address EACH violation and the security reasoning above, so that the next implementation satisfies the security rules and the next run succeeds. Each suggestion should state what to remove, change or add to comply with security.
`

func (s *Service) analyseAndEmit(ctx context.Context, planID, outcomeSummary string, securityBlocked bool) error {
	memoryContext := s.fetchMemoryContext(ctx, planID)

	securityInstruction := ""
	if securityBlocked {
		securityInstruction = securityBlockedInstruction
	}

	prompt := fmt.Sprintf(replannerPrompt, agentGoal, planID, memoryContext, outcomeSummary, securityInstruction)

	resp, err := s.llm.GenerateText(ctx, prompt)
	if err != nil {
		s.logger.Warn("replanner: LLM call failed, no revision emitted", logging.Fields{"plan_id": planID, "error": err.Error()})
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordTokens(ctx, serviceName, "prompt", resp.PromptTokens)
		s.metrics.RecordTokens(ctx, serviceName, "completion", resp.CompletionTokens)
	}
	if resp.PromptTokens > 0 || resp.CompletionTokens > 0 {
		s.publishTokens(ctx, planID, resp.PromptTokens, resp.CompletionTokens)
	}

	dec := parseReplannerResponse(resp.Content)

	if !dec.RevisionNeeded {
		s.logger.Info("replanner: no revision needed", logging.Fields{"plan_id": planID, "severity": dec.Severity})
		return nil
	}

	revision := contracts.PlanRevisionPayload{
		OriginalPlanID: planID,
		NewPlanID:      uuid.NewString(),
		Reason:         dec.Reason,
		Suggestions:    dec.Suggestions,
		Severity:       dec.Severity,
	}

	s.logger.Info("replanner: emitting plan.revision_suggested", logging.Fields{"plan_id": planID, "new_plan_id": revision.NewPlanID, "severity": dec.Severity})
	return s.publishAndStore(ctx, contracts.EventPlanRevisionSuggested, revision)
}

func parseReplannerResponse(raw string) decision {
	dec := decision{Severity: "medium"}
	inSuggestions := false

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		switch {
		case strings.HasPrefix(upper, "REASON:"):
			dec.Reason = strings.TrimSpace(trimmed[len("REASON:"):])
			inSuggestions = false
		case strings.HasPrefix(upper, "SEVERITY:"):
			sev := strings.ToLower(strings.TrimSpace(trimmed[len("SEVERITY:"):]))
			if sev != "" {
				dec.Severity = sev
			}
			inSuggestions = false
		case strings.HasPrefix(upper, "REVISION_NEEDED:"):
			flag := strings.ToLower(strings.TrimSpace(trimmed[len("REVISION_NEEDED:"):]))
			dec.RevisionNeeded = flag == "yes"
			inSuggestions = false
		case strings.HasPrefix(upper, "SUGGESTIONS:"):
			inSuggestions = true
		case inSuggestions && strings.HasPrefix(trimmed, "-"):
			suggestion := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			lower := strings.ToLower(suggestion)
			if suggestion != "" && lower != "none" && lower != "n/a" {
				dec.Suggestions = append(dec.Suggestions, suggestion)
			}
		}
	}
	return dec
}

func (s *Service) fetchMemoryContext(ctx context.Context, planID string) string {
	if s.memory == nil {
		return "None."
	}
	results, err := s.memory.SemanticSearch(ctx, fmt.Sprintf("Outcome summary and reasoning for plan %s", planID), planID,
		[]string{string(contracts.EventPipelineConclusion), string(contracts.EventQAFailed), string(contracts.EventSecurityBlocked)}, 5)
	if err != nil || len(results) == 0 {
		return "None."
	}

	var lines []string
	for _, r := range results {
		text, _ := r.Payload["text"].(string)
		if len(text) > 400 {
			text = text[:400]
		}
		text = strings.ReplaceAll(text, "\n", " ")
		eventType, _ := r.Payload["event_type"].(string)
		lines = append(lines, fmt.Sprintf("- [%s] score=%.3f: %s", eventType, r.HeuristicScore, text))
	}
	return strings.Join(lines, "\n")
}

func (s *Service) publishTokens(ctx context.Context, planID string, promptTokens, completionTokens int) {
	payload := contracts.MetricsTokensUsedPayload{
		PlanID: planID, Service: serviceName,
		PromptTokens: promptTokens, CompletionTokens: completionTokens,
	}
	_ = s.publishAndStore(ctx, contracts.EventMetricsTokensUsed, payload)
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
