package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/admadc/pipeline/internal/contracts"
)

func TestScanFiles_ApprovesCleanCode(t *testing.T) {
	files := []contracts.PRFile{{FilePath: "main.py", Code: "def handler():\n    return 42\n"}}
	result := ScanFiles(files)
	assert.True(t, result.Approved)
	assert.Empty(t, result.Violations)
	assert.Equal(t, 1, result.FilesScanned)
}

func TestScanFiles_BlocksHardcodedSecret(t *testing.T) {
	files := []contracts.PRFile{{FilePath: "config.py", Code: `api_key = "sk-abcdef0123456789"`}}
	result := ScanFiles(files)
	assert.False(t, result.Approved)
	assert.NotEmpty(t, result.Violations)
}

func TestScanFiles_BlocksDangerousEval(t *testing.T) {
	files := []contracts.PRFile{{FilePath: "main.py", Code: "eval(user_input)"}}
	result := ScanFiles(files)
	assert.False(t, result.Approved)
	assert.Contains(t, result.Violations[0], "dangerous_eval")
}

func TestScanFiles_SkipsEmptyCode(t *testing.T) {
	files := []contracts.PRFile{{FilePath: "empty.py", Code: ""}}
	result := ScanFiles(files)
	assert.True(t, result.Approved)
	assert.Equal(t, 0, result.FilesScanned)
}

func TestScanFiles_ReasoningChainsUpstreamReasoningBeforeSummary(t *testing.T) {
	files := []contracts.PRFile{{
		FilePath:  "main.py",
		Code:      "def handler():\n    return 42\n",
		Reasoning: "[Developer] wrote a simple handler.\n[QA Reviewer] lint and LLM review both passed.",
	}}
	result := ScanFiles(files)
	assert.True(t, result.Approved)
	assert.Contains(t, result.Reasoning, "[Developer] wrote a simple handler.")
	assert.Contains(t, result.Reasoning, "[QA Reviewer] lint and LLM review both passed.")
	assert.Contains(t, result.Reasoning, "[Security]")
	devIdx := strings.Index(result.Reasoning, "[Developer]")
	secIdx := strings.Index(result.Reasoning, "[Security]")
	assert.True(t, devIdx < secIdx, "developer/QA reasoning must precede the security summary")
}
