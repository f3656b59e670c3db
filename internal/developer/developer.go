// Package developer implements the Developer service (C5): generates code
// for one assigned task via the LLM adapter and publishes code.generated.
// Grounded on original_source/services/dev_service/main.py and generator.py.
package developer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/memorystore"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/tools"
)

const serviceName = "developer"

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	llm       llmadapter.Provider
	memory    *memoryclient.Client
	bus       Publisher
	toolReg   *tools.Registry
	metrics   *metrics.Registry
	logger    logging.Logger
}

func New(llm llmadapter.Provider, memory *memoryclient.Client, bus Publisher, toolReg *tools.Registry, metricsReg *metrics.Registry, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Service{llm: llm, memory: memory, bus: bus, toolReg: toolReg, metrics: metricsReg, logger: logger}
}

// HandleTaskAssigned is the task.assigned consumer body (spec.md §4.5).
func (s *Service) HandleTaskAssigned(ctx context.Context, payload contracts.TaskAssignedPayload) error {
	task := payload.Task

	if s.memory != nil {
		if already, err := s.memory.HasCodeGeneratedForTask(ctx, payload.PlanID, task.TaskID); err == nil && already {
			s.logger.Info("developer: code already generated, skipping", logging.Fields{"task_id": task.TaskID})
			return nil
		}
	}

	s.logger.Info("developer: processing task", logging.Fields{"task_id": task.TaskID, "plan_id": payload.PlanID, "has_feedback": payload.QAFeedback != ""})

	s.updateTaskState(ctx, task.TaskID, payload.PlanID, memorystore.TaskInProgress, "", "", "", false, 0)

	shortTermMemory := s.buildShortTermMemory(ctx, payload.PlanID)
	existingPreview := s.maybeReadExistingFile(ctx, task.FilePath)

	code, reasoning, promptTokens, completionTokens, err := s.generateCode(ctx, task, payload.PlanReasoning, payload.QAFeedback, strings.Join(nonEmpty(shortTermMemory, existingPreview), "\n"))
	if err != nil {
		return fmt.Errorf("developer: generate code: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTokens(ctx, serviceName, "prompt", promptTokens)
		s.metrics.RecordTokens(ctx, serviceName, "completion", completionTokens)
	}
	if promptTokens > 0 || completionTokens > 0 {
		s.publishTokens(ctx, payload.PlanID, promptTokens, completionTokens)
	}

	currentAttempt := s.currentQAAttempt(ctx, payload.PlanID, task.TaskID)

	cgPayload := contracts.CodeGeneratedPayload{
		PlanID:    payload.PlanID,
		TaskID:    task.TaskID,
		FilePath:  task.FilePath,
		Code:      code,
		Language:  task.Language,
		QAAttempt: currentAttempt,
		Reasoning: reasoning,
	}
	if err := s.publishAndStore(ctx, contracts.EventCodeGenerated, cgPayload); err != nil {
		return err
	}

	s.updateTaskState(ctx, task.TaskID, payload.PlanID, memorystore.TaskCompleted, task.FilePath, code, payload.RepoURL, false, 0)
	if s.metrics != nil {
		s.metrics.RecordTaskCompleted(ctx, memorystore.TaskCompleted)
	}

	s.logger.Info("developer: task code generated", logging.Fields{"task_id": task.TaskID})
	return nil
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

const codeGenPrompt = `You are an expert %s developer.

Write production-quality code for the following task:
%s

The code should be written for file: %s

Plan reasoning:
%s

Relevant project memory:
%s
%s
Respond EXACTLY in this format:
REASONING: <1-2 sentences>
CODE: <the full file contents, no markdown fences>
`

func (s *Service) generateCode(ctx context.Context, task contracts.TaskSpec, planReasoning, qaFeedback, shortTermMemory string) (code, reasoning string, promptTokens, completionTokens int, err error) {
	feedbackBlock := ""
	if qaFeedback != "" {
		feedbackBlock = "\nQA feedback from a previous attempt (address these issues):\n" + qaFeedback + "\n"
	}

	prompt := fmt.Sprintf(codeGenPrompt, task.Language, task.Description, task.FilePath, planReasoning, shortTermMemory, feedbackBlock)

	resp, genErr := s.llm.GenerateText(ctx, prompt)
	if genErr != nil {
		return "", "", 0, 0, genErr
	}

	reasoning, code = parseDeveloperResponse(resp.Content)
	code = stripCodeFences(code)
	return code, reasoning, resp.PromptTokens, resp.CompletionTokens, nil
}

func parseDeveloperResponse(raw string) (reasoning, code string) {
	const codeMarker = "CODE:"
	const reasoningMarker = "REASONING:"

	idx := strings.Index(raw, codeMarker)
	if idx == -1 {
		return "", strings.TrimSpace(raw)
	}
	head := raw[:idx]
	code = strings.TrimSpace(raw[idx+len(codeMarker):])

	if ri := strings.Index(head, reasoningMarker); ri != -1 {
		reasoning = strings.TrimSpace(head[ri+len(reasoningMarker):])
	}
	return reasoning, code
}

func stripCodeFences(code string) string {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "```") {
		return code
	}
	lines := strings.Split(code, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	code = strings.Join(lines, "\n")
	code = strings.TrimSuffix(strings.TrimSpace(code), "```")
	return strings.TrimSpace(code)
}

func (s *Service) maybeReadExistingFile(ctx context.Context, filePath string) string {
	if s.toolReg == nil || strings.TrimSpace(filePath) == "" {
		return ""
	}
	result := tools.Execute(ctx, s.toolReg, "read_file", map[string]string{"path": filePath})
	if !result.Success {
		return ""
	}
	content := result.Output
	if len(content) > 4000 {
		content = content[:4000]
	}
	if strings.TrimSpace(content) == "" {
		return ""
	}
	return fmt.Sprintf("Existing contents of %s:\n%s", filePath, content)
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
		summary := summarizeEvent(row)
		line := fmt.Sprintf("[%s] from %s at %s", row.EventType, row.Producer, row.CreatedAt.Format("15:04:05"))
		if summary != "" {
			line += " :: " + summary
		}
		lines = append(lines, line)
	}

	window := strings.Join(lines, "\n")
	if len(window) > 2000 {
		window = window[:2000]
	}
	return window
}

func summarizeEvent(row memorystore.EventRow) string {
	switch contracts.EventType(row.EventType) {
	case contracts.EventPlanCreated:
		var p contracts.PlanCreatedPayload
		if decodeRow(row, &p) {
			return truncate(p.Reasoning, 200)
		}
	case contracts.EventCodeGenerated:
		var p contracts.CodeGeneratedPayload
		if decodeRow(row, &p) {
			return p.FilePath
		}
	case contracts.EventQAPassed, contracts.EventQAFailed, contracts.EventSecurityApproved, contracts.EventSecurityBlocked:
		var p contracts.QAResultPayload
		if decodeRow(row, &p) {
			return truncate(p.Reasoning, 200)
		}
	}
	return ""
}

func decodeRow(row memorystore.EventRow, dst interface{}) bool {
	return json.Unmarshal(row.Payload, dst) == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Service) currentQAAttempt(ctx context.Context, planID, taskID string) int {
	if s.memory == nil {
		return 0
	}
	tasks, err := s.memory.GetTasks(ctx, planID)
	if err != nil {
		return 0
	}
	for _, t := range tasks {
		if t.TaskID == taskID {
			return t.QAAttempt
		}
	}
	return 0
}

func (s *Service) updateTaskState(ctx context.Context, taskID, planID, status, filePath, code, repoURL string, qaAttemptSupplied bool, qaAttempt int) {
	req := memoryclient.UpsertTaskRequest{
		Task: memorystore.Task{
			TaskID: taskID, PlanID: planID, Status: status,
			FilePath: filePath, Code: code, RepoURL: repoURL, QAAttempt: qaAttempt,
		},
		QAAttemptSupplied: qaAttemptSupplied,
	}
	if s.memory == nil {
		return
	}
	if err := s.memory.UpdateTask(ctx, req); err != nil {
		s.logger.Warn("developer: update task state failed", logging.Fields{"task_id": taskID, "error": err.Error()})
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
