package replanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/admadc/pipeline/internal/contracts"
)

func TestParseReplannerResponse_FullFormat(t *testing.T) {
	raw := `REASON: The approach is fundamentally flawed.
SEVERITY: high
REVISION_NEEDED: yes
SUGGESTIONS:
- Split the task into two smaller tasks.
- Avoid direct file writes, use the write_file tool instead.
`
	dec := parseReplannerResponse(raw)
	assert.True(t, dec.RevisionNeeded)
	assert.Equal(t, "high", dec.Severity)
	assert.Equal(t, "The approach is fundamentally flawed.", dec.Reason)
	assert.Len(t, dec.Suggestions, 2)
}

func TestParseReplannerResponse_NoneSuggestionsFiltered(t *testing.T) {
	raw := `REASON: Minor style nit only.
SEVERITY: low
REVISION_NEEDED: no
SUGGESTIONS:
- none
`
	dec := parseReplannerResponse(raw)
	assert.False(t, dec.RevisionNeeded)
	assert.Empty(t, dec.Suggestions)
}

func TestParseReplannerResponse_DefaultsToMediumSeverity(t *testing.T) {
	dec := parseReplannerResponse("REASON: unclear\nREVISION_NEEDED: no\n")
	assert.Equal(t, "medium", dec.Severity)
}

func TestSummariseSecurityOutcome_IncludesViolations(t *testing.T) {
	outcome := contracts.SecurityResultPayload{
		PlanID:       "plan-1",
		BranchName:   "admadc/plan-1",
		Approved:     false,
		Violations:   []string{"[main.py] Rule 'dangerous_eval': pattern matched"},
		FilesScanned: 1,
		Reasoning:    "blocked",
	}
	summary := summariseSecurityOutcome(outcome)
	assert.Contains(t, summary, "Violations")
	assert.Contains(t, summary, "Rule")
}
