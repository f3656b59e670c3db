// Package planner implements the Planner service (C4): task decomposition
// from a natural-language prompt, plus severity-gated consumption of
// replanner suggestions. Grounded on
// original_source/services/meta_planner/main.py and planner.py.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
)

const agentGoal = "Decompose a user request into small, independently implementable coding tasks."

// Publisher is the narrow broker dependency Planner needs.
type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

type Service struct {
	llm       llmadapter.Provider
	memory    *memoryclient.Client
	bus       Publisher
	logger    logging.Logger
	idemTTL   time.Duration

	idemCacheMu sync.Mutex
	idemCache   map[string]idemEntry
}

type idemEntry struct {
	planID    string
	response  PlanResponse
	expiresAt time.Time
}

type PlanResponse struct {
	PlanID string `json:"plan_id"`
}

func New(llm llmadapter.Provider, memory *memoryclient.Client, bus Publisher, logger logging.Logger, idemTTL time.Duration) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	if idemTTL <= 0 {
		idemTTL = 30 * time.Second
	}
	return &Service{llm: llm, memory: memory, bus: bus, logger: logger, idemTTL: idemTTL, idemCache: make(map[string]idemEntry)}
}

// idemKey matches meta_planner/main.py: sha256(prompt|project_name|repo_url).
func idemKey(prompt, projectName, repoURL string) string {
	h := sha256.Sum256([]byte(prompt + "|" + projectName + "|" + repoURL))
	return hex.EncodeToString(h[:])
}

// ExecutePlan is the idempotent entry point for both POST /plan and the
// plan.requested consumer (spec.md §4.4).
func (s *Service) ExecutePlan(ctx context.Context, prompt, projectName, repoURL string) (PlanResponse, error) {
	key := idemKey(prompt, projectName, repoURL)

	s.idemCacheMu.Lock()
	if entry, ok := s.idemCache[key]; ok && time.Now().Before(entry.expiresAt) {
		s.idemCacheMu.Unlock()
		return entry.response, nil
	}
	s.idemCacheMu.Unlock()

	resp, err := s.executePlanFresh(ctx, prompt, projectName, repoURL, "", "")
	if err != nil {
		return PlanResponse{}, err
	}

	s.idemCacheMu.Lock()
	s.idemCache[key] = idemEntry{planID: resp.PlanID, response: resp, expiresAt: time.Now().Add(s.idemTTL)}
	s.idemCacheMu.Unlock()

	return resp, nil
}

func (s *Service) executePlanFresh(ctx context.Context, prompt, projectName, repoURL, forcedPlanID, originalPlanID string) (PlanResponse, error) {
	memoryCtx := s.fetchMemoryContext(ctx, prompt)

	reasoning, tasks := s.decompose(ctx, prompt, memoryCtx)

	planID := forcedPlanID
	if planID == "" {
		planID = uuid.NewString()
	}
	for i := range tasks {
		if tasks[i].TaskID == "" {
			tasks[i].TaskID = uuid.NewString()
		}
	}

	created := contracts.PlanCreatedPayload{
		PlanID:         planID,
		OriginalPrompt: prompt,
		Tasks:          tasks,
		Reasoning:      reasoning,
		OriginalPlanID: originalPlanID,
	}
	if err := s.publishAndStore(ctx, contracts.EventPlanCreated, created); err != nil {
		return PlanResponse{}, err
	}

	for _, task := range tasks {
		assigned := contracts.TaskAssignedPayload{
			PlanID:        planID,
			Task:          task,
			PlanReasoning: reasoning,
			RepoURL:       repoURL,
		}
		if err := s.publishAndStore(ctx, contracts.EventTaskAssigned, assigned); err != nil {
			s.logger.Warn("planner: publish task.assigned failed", logging.Fields{"task_id": task.TaskID, "error": err.Error()})
		}
	}

	return PlanResponse{PlanID: planID}, nil
}

func (s *Service) fetchMemoryContext(ctx context.Context, prompt string) string {
	if s.memory == nil {
		return ""
	}
	results, err := s.memory.SemanticSearch(ctx, prompt, "", nil, 5)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, r := range results {
		if text, ok := r.Payload["text"].(string); ok {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

const planningPromptTemplate = `You are a senior software planner.

Goal: %s

User request:
%s

Relevant memory:
%s

Respond EXACTLY in this format:
REASONING: <1-3 sentences>
TASKS: <JSON array of {"description","file_path","language"}>
`

func (s *Service) decompose(ctx context.Context, prompt, memoryCtx string) (string, []contracts.TaskSpec) {
	fullPrompt := fmt.Sprintf(planningPromptTemplate, agentGoal, prompt, strings.TrimSpace(memoryCtx))

	resp, err := s.llm.GenerateText(ctx, fullPrompt)
	if err != nil {
		return "LLM call failed; falling back to single task.", fallbackTasks(prompt)
	}

	reasoning, tasksJSON := parsePlannerResponse(resp.Content)
	var tasks []contracts.TaskSpec
	if err := json.Unmarshal([]byte(tasksJSON), &tasks); err != nil || len(tasks) == 0 {
		return reasoning, fallbackTasks(prompt)
	}
	return reasoning, tasks
}

func fallbackTasks(prompt string) []contracts.TaskSpec {
	trimmed := prompt
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return []contracts.TaskSpec{{
		Description: "Implement: " + trimmed,
		FilePath:    "src/main.py",
		Language:    "python",
	}}
}

func parsePlannerResponse(raw string) (reasoning string, tasksJSON string) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	var inTasks bool
	var tasksBuf strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "REASONING:"):
			reasoning = strings.TrimSpace(trimmed[len("REASONING:"):])
			inTasks = false
		case strings.HasPrefix(upper, "TASKS:"):
			inTasks = true
			tasksBuf.WriteString(strings.TrimSpace(trimmed[len("TASKS:"):]))
		case inTasks:
			tasksBuf.WriteString(trimmed)
		}
	}
	return reasoning, tasksBuf.String()
}

func (s *Service) publishAndStore(ctx context.Context, eventType contracts.EventType, payload interface{}) error {
	env, err := contracts.Build(eventType, "planner", payload)
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

// ConsumeRevisionSuggested implements spec.md §4.4's replan consumer: only
// high/critical severities trigger a new plan execution.
func (s *Service) ConsumeRevisionSuggested(ctx context.Context, rev contracts.PlanRevisionPayload) error {
	if rev.Severity != "high" && rev.Severity != "critical" {
		s.logger.Info("planner: ignoring low/medium severity revision", logging.Fields{"plan_id": rev.OriginalPlanID, "severity": rev.Severity})
		return nil
	}

	originalPrompt, repoURL := s.lookupOriginalPlan(ctx, rev.OriginalPlanID)
	augmented := fmt.Sprintf("%s\n\nREVISION REQUIRED (%s): %s\nSuggestions:\n- %s",
		originalPrompt, rev.Severity, rev.Reason, strings.Join(rev.Suggestions, "\n- "))

	_, err := s.executePlanFresh(ctx, augmented, "", repoURL, rev.NewPlanID, rev.OriginalPlanID)
	return err
}

func (s *Service) lookupOriginalPlan(ctx context.Context, planID string) (prompt, repoURL string) {
	if s.memory == nil {
		return "", ""
	}
	rows, err := s.memory.GetEvents(ctx, string(contracts.EventPlanCreated), planID, 1)
	if err == nil {
		for _, r := range rows {
			var p contracts.PlanCreatedPayload
			if json.Unmarshal(r.Payload, &p) == nil {
				prompt = p.OriginalPrompt
			}
		}
	}
	tasks, err := s.memory.GetTasks(ctx, planID)
	if err == nil {
		for _, t := range tasks {
			if t.RepoURL != "" {
				repoURL = t.RepoURL
				break
			}
		}
	}
	return prompt, repoURL
}
