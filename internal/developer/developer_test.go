package developer

import (
	"context"
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

func TestParseDeveloperResponse_FullFormat(t *testing.T) {
	raw := "REASONING: Implemented a basic handler.\nCODE: package main\n\nfunc main() {}\n"
	reasoning, code := parseDeveloperResponse(raw)
	assert.Equal(t, "Implemented a basic handler.", reasoning)
	assert.Contains(t, code, "func main()")
}

func TestParseDeveloperResponse_NoCodeMarkerReturnsRawAsCode(t *testing.T) {
	reasoning, code := parseDeveloperResponse("just some text")
	assert.Empty(t, reasoning)
	assert.Equal(t, "just some text", code)
}

func TestStripCodeFences_RemovesMarkdownFence(t *testing.T) {
	fenced := "```go\npackage main\n```"
	assert.Equal(t, "package main", stripCodeFences(fenced))
}

func TestStripCodeFences_LeavesPlainCodeUntouched(t *testing.T) {
	plain := "package main"
	assert.Equal(t, plain, stripCodeFences(plain))
}

func TestNonEmpty_FiltersBlankStrings(t *testing.T) {
	out := nonEmpty("", "a", "   ", "b")
	assert.Equal(t, []string{"a", "b"}, out)
}

func TestTruncate_ShortensLongStrings(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello world", 5))
	assert.Equal(t, "hi", truncate("hi", 5))
}

func TestHandleTaskAssigned_PublishesCodeGenerated(t *testing.T) {
	pub := &fakePublisher{}
	llm := &llmadapter.MockProvider{Responses: []llmadapter.Response{
		{Content: "REASONING: wrote it\nCODE: package main\n", PromptTokens: 10, CompletionTokens: 5},
	}}
	svc := New(llm, nil, pub, nil, nil, nil)

	err := svc.HandleTaskAssigned(context.Background(), contracts.TaskAssignedPayload{
		PlanID: "plan-1",
		Task: contracts.TaskSpec{
			TaskID: "task-1", Description: "write a hello world", FilePath: "main.go", Language: "go",
		},
	})
	require.NoError(t, err)

	require.Len(t, pub.published, 2)
	assert.Equal(t, contracts.EventMetricsTokensUsed, pub.published[0].EventType)
	assert.Equal(t, contracts.EventCodeGenerated, pub.published[1].EventType)
}
