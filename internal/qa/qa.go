// Package qa implements the QA service (C6): a two-pass quality gate
// between code.generated and pr.requested. Pass one is deterministic static
// linting, pass two is an LLM review that explicitly responds to the
// developer's reasoning. Grounded on
// original_source/services/qa_service/{main.py,reviewer.py,config.py}.
package qa

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/memorystore"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/tools"
)

const serviceName = "qa"

// dangerousPatterns is the static pre-LLM rejection list, grounded on
// qa_service/config.py's DANGEROUS_PATTERNS.
var dangerousPatterns = []string{
	"eval(", "exec(", "__import__(", "os.system(",
	"subprocess.call(", "subprocess.Popen(", "pickle.loads(", "marshal.loads(",
}

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	llm        llmadapter.Provider
	memory     *memoryclient.Client
	bus        Publisher
	toolReg    *tools.Registry
	metrics    *metrics.Registry
	logger     logging.Logger
	maxRetries int

	reasoningMu  sync.Mutex
	devReasoning map[string]string
	qaReasoning  map[string]string
}

func New(llm llmadapter.Provider, memory *memoryclient.Client, bus Publisher, toolReg *tools.Registry, metricsReg *metrics.Registry, logger logging.Logger, maxRetries int) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Service{
		llm: llm, memory: memory, bus: bus, toolReg: toolReg, metrics: metricsReg, logger: logger,
		maxRetries:   maxRetries,
		devReasoning: make(map[string]string),
		qaReasoning:  make(map[string]string),
	}
}

type reviewResult struct {
	Passed    bool
	Issues    []string
	Reasoning string
}

// HandleCodeGenerated is the code.generated consumer (spec.md §4.6).
func (s *Service) HandleCodeGenerated(ctx context.Context, payload contracts.CodeGeneratedPayload) error {
	s.logger.Info("qa: reviewing code", logging.Fields{"task_id": payload.TaskID, "plan_id": payload.PlanID, "qa_attempt": payload.QAAttempt})

	s.reasoningMu.Lock()
	s.devReasoning[payload.TaskID] = payload.Reasoning
	s.reasoningMu.Unlock()

	result := s.runStaticLint(ctx, payload)
	if result == nil {
		result = s.llmReview(ctx, payload)
	}

	s.reasoningMu.Lock()
	s.qaReasoning[payload.TaskID] = result.Reasoning
	s.reasoningMu.Unlock()

	qaPayload := contracts.QAResultPayload{
		PlanID: payload.PlanID, TaskID: payload.TaskID, Passed: result.Passed,
		Issues: result.Issues, Code: payload.Code, FilePath: payload.FilePath,
		QAAttempt: payload.QAAttempt, Reasoning: result.Reasoning,
	}

	if result.Passed {
		s.logger.Info("qa: passed", logging.Fields{"task_id": payload.TaskID})
		if s.metrics != nil {
			s.metrics.RecordTaskCompleted(ctx, memorystore.TaskQAPassed)
		}
		if err := s.publishAndStore(ctx, contracts.EventQAPassed, qaPayload); err != nil {
			return err
		}
		s.updateTaskState(ctx, payload.TaskID, payload.PlanID, memorystore.TaskQAPassed, nil)
		return s.checkPlanReadyForPR(ctx, payload.PlanID)
	}

	s.logger.Warn("qa: failed", logging.Fields{"task_id": payload.TaskID, "qa_attempt": payload.QAAttempt, "issues": strings.Join(result.Issues, "; ")})

	if payload.QAAttempt < s.maxRetries {
		if s.metrics != nil {
			s.metrics.RecordQARetry(ctx)
		}
		return s.retryTask(ctx, payload, result.Issues)
	}

	s.logger.Error("qa: retries exhausted", logging.Fields{"task_id": payload.TaskID})
	if err := s.publishAndStore(ctx, contracts.EventQAFailed, qaPayload); err != nil {
		return err
	}
	s.updateTaskState(ctx, payload.TaskID, payload.PlanID, memorystore.TaskQAFailed, nil)
	return nil
}

func (s *Service) runStaticLint(ctx context.Context, payload contracts.CodeGeneratedPayload) *reviewResult {
	var issues []string
	for _, pattern := range dangerousPatterns {
		if strings.Contains(payload.Code, pattern) {
			issues = append(issues, fmt.Sprintf("Dangerous pattern detected: `%s`", pattern))
		}
	}

	if strings.EqualFold(payload.Language, "python") && s.toolReg != nil {
		result := tools.Execute(ctx, s.toolReg, "python_lint", map[string]string{"path": payload.FilePath})
		if !result.Success && result.Output != "" {
			issues = append(issues, fmt.Sprintf("[python_lint] %s", result.Output))
		}
	}

	if len(issues) == 0 {
		return nil
	}
	return &reviewResult{
		Passed: false,
		Issues: issues,
		Reasoning: fmt.Sprintf(
			"Static linting detected %d issue(s) before LLM review. Rejecting this change until the issues reported by the linter are fixed.",
			len(issues)),
	}
}

const qaReviewPrompt = `You are a strict senior code reviewer performing a quality assurance check.

The developer agent that wrote this code provided the following reasoning:
---
DEVELOPER'S REASONING:
%s
---

SHORT-TERM MEMORY:
%s

Now review the following %s code intended for file %s:

%s

Your job:
1. Explicitly respond to the developer's reasoning above.
2. Check that the code correctly implements the described task.
3. Identify any logic errors, missing error handling, or undefined variables.
4. Check for security anti-patterns.
5. Check code quality.

Format your response EXACTLY as:
REASONING: <2-4 sentences>
VERDICT: PASS or FAIL
ISSUES:
- <issue 1 if any>
(or "ISSUES: none" if PASS)
`

func (s *Service) llmReview(ctx context.Context, payload contracts.CodeGeneratedPayload) *reviewResult {
	s.reasoningMu.Lock()
	devReasoning := s.devReasoning[payload.TaskID]
	s.reasoningMu.Unlock()

	shortTermMemory := s.buildShortTermMemory(ctx, payload.PlanID)
	if strings.TrimSpace(shortTermMemory) == "" {
		shortTermMemory = "None."
	}

	prompt := fmt.Sprintf(qaReviewPrompt, devReasoning, shortTermMemory, payload.Language, payload.FilePath, payload.Code)

	resp, err := s.llm.GenerateText(ctx, prompt)
	if err != nil {
		return &reviewResult{Passed: false, Issues: []string{"LLM review call failed: " + err.Error()}, Reasoning: "Unable to complete LLM review."}
	}

	if s.metrics != nil {
		s.metrics.RecordTokens(ctx, serviceName, "prompt", resp.PromptTokens)
		s.metrics.RecordTokens(ctx, serviceName, "completion", resp.CompletionTokens)
	}
	if resp.PromptTokens > 0 || resp.CompletionTokens > 0 {
		s.publishTokens(ctx, payload.PlanID, resp.PromptTokens, resp.CompletionTokens)
	}

	return parseReviewResponse(resp.Content)
}

func parseReviewResponse(content string) *reviewResult {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	passed := true
	var issues []string
	var reasoning string
	inIssues := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)

		switch {
		case strings.HasPrefix(upper, "REASONING:"):
			reasoning = strings.TrimSpace(trimmed[len("REASONING:"):])
			inIssues = false
		case strings.HasPrefix(upper, "VERDICT:"):
			verdict := strings.TrimSpace(strings.ToUpper(strings.TrimPrefix(upper, "VERDICT:")))
			passed = verdict == "PASS"
			inIssues = false
		case strings.HasPrefix(upper, "ISSUES:"):
			inIssues = true
			inline := strings.TrimSpace(trimmed[len("ISSUES:"):])
			if !strings.EqualFold(inline, "none") && inline != "" {
				issues = append(issues, inline)
			}
		case inIssues && strings.HasPrefix(trimmed, "-"):
			issue := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			if !strings.EqualFold(issue, "none") && issue != "" {
				issues = append(issues, issue)
			}
		}
	}

	if !passed && len(issues) == 0 {
		issues = append(issues, "LLM reviewer returned FAIL without specific issues")
	}

	return &reviewResult{Passed: passed, Issues: issues, Reasoning: reasoning}
}

func (s *Service) retryTask(ctx context.Context, original contracts.CodeGeneratedPayload, issues []string) error {
	var feedbackLines []string
	for _, i := range issues {
		feedbackLines = append(feedbackLines, "- "+i)
	}
	feedback := "Previous QA issues to fix:\n" + strings.Join(feedbackLines, "\n")

	retrySpec := contracts.TaskSpec{
		TaskID:      original.TaskID,
		Description: fmt.Sprintf("Fix the following issues in %s:\n%s", original.FilePath, feedback),
		FilePath:    original.FilePath,
		Language:    original.Language,
	}
	retryPayload := contracts.TaskAssignedPayload{
		PlanID: original.PlanID, Task: retrySpec, QAFeedback: feedback,
	}
	if err := s.publishAndStore(ctx, contracts.EventTaskAssigned, retryPayload); err != nil {
		return err
	}

	nextAttempt := original.QAAttempt + 1
	s.updateTaskState(ctx, original.TaskID, original.PlanID, memorystore.TaskQARetry, &nextAttempt)

	s.logger.Info("qa: re-enqueued task to developer", logging.Fields{"task_id": original.TaskID, "qa_attempt": nextAttempt})
	return nil
}

// checkPlanReadyForPR implements the plan-readiness barrier: aggregate to
// pr.requested only when every task for the plan has qa_passed.
func (s *Service) checkPlanReadyForPR(ctx context.Context, planID string) error {
	if s.memory == nil {
		return nil
	}
	allTasks, err := s.memory.GetTasks(ctx, planID)
	if err != nil || len(allTasks) == 0 {
		return nil
	}

	for _, t := range allTasks {
		if t.Status != memorystore.TaskQAPassed {
			return nil
		}
	}

	var files []contracts.PRFile
	var repoURL string
	for _, t := range allTasks {
		files = append(files, contracts.PRFile{FilePath: t.FilePath, Code: t.Code, Reasoning: s.buildChainReasoning(t.TaskID)})
		if repoURL == "" {
			repoURL = t.RepoURL
		}
	}

	shortPlanID := planID
	if len(shortPlanID) > 8 {
		shortPlanID = shortPlanID[:8]
	}

	prPayload := contracts.PRRequestedPayload{
		PlanID: planID, RepoURL: repoURL,
		BranchName:       "admadc/plan-" + shortPlanID,
		Files:            files,
		CommitMessage:    fmt.Sprintf("feat: implement plan %s (QA approved)", shortPlanID),
		SecurityApproved: false,
	}

	s.logger.Info("qa: plan ready for PR, requesting security scan", logging.Fields{"plan_id": planID})
	return s.publishAndStore(ctx, contracts.EventPRRequested, prPayload)
}

// buildChainReasoning composes the visible dev->QA dialogue forwarded to
// security_service, grounded on qa_service/main.py's _build_chain_reasoning.
func (s *Service) buildChainReasoning(taskID string) string {
	s.reasoningMu.Lock()
	dev := s.devReasoning[taskID]
	qaR := s.qaReasoning[taskID]
	s.reasoningMu.Unlock()

	var parts []string
	if dev != "" {
		parts = append(parts, "[Developer] "+dev)
	}
	if qaR != "" {
		parts = append(parts, "[QA Reviewer] "+qaR)
	}
	return strings.Join(parts, "\n")
}

func (s *Service) buildShortTermMemory(ctx context.Context, planID string) string {
	if s.memory == nil {
		return ""
	}
	rows, err := s.memory.GetEvents(ctx, "", planID, 30)
	if err != nil {
		return ""
	}
	var lines []string
	for _, row := range rows {
		line := fmt.Sprintf("[%s] from %s at %s", row.EventType, row.Producer, row.CreatedAt.Format("15:04:05"))
		lines = append(lines, line)
	}
	window := strings.Join(lines, "\n")
	if len(window) > 2000 {
		window = window[:2000]
	}
	return window
}

func (s *Service) updateTaskState(ctx context.Context, taskID, planID, status string, qaAttempt *int) {
	if s.memory == nil {
		return
	}
	task := memorystore.Task{TaskID: taskID, PlanID: planID, Status: status}
	supplied := qaAttempt != nil
	if supplied {
		task.QAAttempt = *qaAttempt
	}
	req := memoryclient.UpsertTaskRequest{Task: task, QAAttemptSupplied: supplied}
	if err := s.memory.UpdateTask(ctx, req); err != nil {
		s.logger.Warn("qa: update task state failed", logging.Fields{"task_id": taskID, "error": err.Error()})
	}
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
