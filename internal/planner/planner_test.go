package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/llmadapter"
)

type fakePublisher struct {
	published []*contracts.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, env *contracts.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

func TestParsePlannerResponse_ExtractsReasoningAndTasks(t *testing.T) {
	raw := `REASONING: Split the work into two files.
TASKS: [{"description":"write main","file_path":"main.go","language":"go"}]`
	reasoning, tasksJSON := parsePlannerResponse(raw)
	assert.Equal(t, "Split the work into two files.", reasoning)
	assert.Contains(t, tasksJSON, "main.go")
}

func TestFallbackTasks_TruncatesLongPrompt(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	tasks := fallbackTasks(string(long))
	require.Len(t, tasks, 1)
	assert.LessOrEqual(t, len(tasks[0].Description), len("Implement: ")+200)
}

func TestIdemKey_IsDeterministic(t *testing.T) {
	a := idemKey("prompt", "project", "repo")
	b := idemKey("prompt", "project", "repo")
	c := idemKey("other", "project", "repo")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestExecutePlan_PublishesPlanCreatedAndTaskAssigned(t *testing.T) {
	pub := &fakePublisher{}
	llm := &llmadapter.MockProvider{Responses: []llmadapter.Response{
		{Content: `REASONING: one task is enough.
TASKS: [{"description":"write a greeter","file_path":"greet.go","language":"go"}]`},
	}}
	svc := New(llm, nil, pub, nil, 0)

	resp, err := svc.ExecutePlan(context.Background(), "build a greeter", "demo", "https://example.com/repo.git")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PlanID)

	require.Len(t, pub.published, 2)
	assert.Equal(t, contracts.EventPlanCreated, pub.published[0].EventType)
	assert.Equal(t, contracts.EventTaskAssigned, pub.published[1].EventType)
}

func TestExecutePlan_IsIdempotentForSameInput(t *testing.T) {
	pub := &fakePublisher{}
	llm := &llmadapter.MockProvider{Responses: []llmadapter.Response{
		{Content: `REASONING: ok.
TASKS: [{"description":"write it","file_path":"a.go","language":"go"}]`},
	}}
	svc := New(llm, nil, pub, nil, 0)

	first, err := svc.ExecutePlan(context.Background(), "same prompt", "demo", "")
	require.NoError(t, err)
	second, err := svc.ExecutePlan(context.Background(), "same prompt", "demo", "")
	require.NoError(t, err)

	assert.Equal(t, first.PlanID, second.PlanID)
	assert.Len(t, pub.published, 2, "second call should hit the idempotency cache and not republish")
}

func TestConsumeRevisionSuggested_IgnoresLowSeverity(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(&llmadapter.MockProvider{}, nil, pub, nil, 0)

	err := svc.ConsumeRevisionSuggested(context.Background(), contracts.PlanRevisionPayload{
		OriginalPlanID: "plan-1", Severity: "low", Reason: "minor nit",
	})
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestConsumeRevisionSuggested_ExecutesFreshPlanOnHighSeverity(t *testing.T) {
	pub := &fakePublisher{}
	llm := &llmadapter.MockProvider{Responses: []llmadapter.Response{
		{Content: `REASONING: revised.
TASKS: [{"description":"fix it","file_path":"a.go","language":"go"}]`},
	}}
	svc := New(llm, nil, pub, nil, 0)

	err := svc.ConsumeRevisionSuggested(context.Background(), contracts.PlanRevisionPayload{
		OriginalPlanID: "plan-1", NewPlanID: "plan-2", Severity: "high",
		Reason: "approach was broken", Suggestions: []string{"retry with smaller steps"},
	})
	require.NoError(t, err)
	require.Len(t, pub.published, 2)

	var created contracts.PlanCreatedPayload
	require.NoError(t, json.Unmarshal(pub.published[0].Payload, &created))
	assert.Equal(t, "plan-2", created.PlanID)
	assert.Equal(t, "plan-1", created.OriginalPlanID, "revision's plan.created must link back to the plan it revises")
}
