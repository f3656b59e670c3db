package contracts

// TaskSpec is one item of a plan's decomposition, grounded on
// original_source/shared/contracts/events.py TaskSpec and
// meta_planner/planner.py's parsed JSON shape.
type TaskSpec struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	FilePath    string `json:"file_path"`
	Language    string `json:"language"`
}

type PlanRequestedPayload struct {
	UserPrompt  string `json:"user_prompt"`
	ProjectName string `json:"project_name"`
	RepoURL     string `json:"repo_url"`
}

type PlanCreatedPayload struct {
	PlanID         string     `json:"plan_id"`
	OriginalPrompt string     `json:"original_prompt"`
	Tasks          []TaskSpec `json:"tasks"`
	Reasoning      string     `json:"reasoning"`
	OriginalPlanID string     `json:"original_plan_id,omitempty"`
}

type TaskAssignedPayload struct {
	PlanID        string   `json:"plan_id"`
	Task          TaskSpec `json:"task"`
	QAFeedback    string   `json:"qa_feedback,omitempty"`
	PlanReasoning string   `json:"plan_reasoning,omitempty"`
	RepoURL       string   `json:"repo_url,omitempty"`
}

type CodeGeneratedPayload struct {
	PlanID    string `json:"plan_id"`
	TaskID    string `json:"task_id"`
	FilePath  string `json:"file_path"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	QAAttempt int    `json:"qa_attempt"`
	Reasoning string `json:"reasoning"`
}

// QAResultPayload backs both qa.passed and qa.failed.
type QAResultPayload struct {
	PlanID    string   `json:"plan_id"`
	TaskID    string   `json:"task_id"`
	Passed    bool     `json:"passed"`
	Issues    []string `json:"issues"`
	Code      string   `json:"code"`
	FilePath  string   `json:"file_path"`
	QAAttempt int      `json:"qa_attempt"`
	Reasoning string   `json:"reasoning"`
}

// PRFile is one aggregated file in a pr.requested payload. Reasoning carries
// the combined dev+QA chain-reasoning text for this file (supplemented
// feature: "[Developer] ...\n[QA Reviewer] ...").
type PRFile struct {
	FilePath  string `json:"file_path"`
	Code      string `json:"code"`
	Reasoning string `json:"reasoning,omitempty"`
}

type PRRequestedPayload struct {
	PlanID           string   `json:"plan_id"`
	RepoURL          string   `json:"repo_url"`
	BranchName       string   `json:"branch_name"`
	Files            []PRFile `json:"files"`
	CommitMessage    string   `json:"commit_message"`
	SecurityApproved bool     `json:"security_approved"`
}

// SecurityResultPayload backs both security.approved and security.blocked.
type SecurityResultPayload struct {
	PlanID       string                 `json:"plan_id"`
	BranchName   string                 `json:"branch_name"`
	Approved     bool                   `json:"approved"`
	Violations   []string               `json:"violations"`
	FilesScanned int                    `json:"files_scanned"`
	PRContext    map[string]interface{} `json:"pr_context"`
	Reasoning    string                 `json:"reasoning"`
}

// PRApprovalPayload backs pr.pending_approval, pr.human_approved and
// pr.human_rejected.
type PRApprovalPayload struct {
	ApprovalID        string                 `json:"approval_id"`
	PlanID            string                 `json:"plan_id"`
	BranchName        string                 `json:"branch_name"`
	FilesCount        int                    `json:"files_count"`
	SecurityReasoning string                 `json:"security_reasoning"`
	PRContext         map[string]interface{} `json:"pr_context"`
	Decision          string                 `json:"decision,omitempty"`
}

type PRCreatedPayload struct {
	PlanID     string `json:"plan_id"`
	BranchName string `json:"branch_name"`
	PRURL      string `json:"pr_url"`
	PRNumber   int    `json:"pr_number"`
}

type PipelineConclusionPayload struct {
	PlanID         string   `json:"plan_id"`
	BranchName     string   `json:"branch_name"`
	ConclusionText string   `json:"conclusion_text"`
	FilesChanged   []string `json:"files_changed"`
	Approved       bool     `json:"approved"`
}

type PlanRevisionPayload struct {
	OriginalPlanID string   `json:"original_plan_id"`
	NewPlanID      string   `json:"new_plan_id"`
	Reason         string   `json:"reason"`
	Suggestions    []string `json:"suggestions"`
	Severity       string   `json:"severity"`
}

type MetricsTokensUsedPayload struct {
	PlanID           string `json:"plan_id"`
	Service          string `json:"service"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// MemoryStorePayload/MemoryQueryPayload back the memory.store / memory.query
// event types (used for audit/fan-out only; the Memory Facade's primary
// surface is HTTP, per spec.md §6).
type MemoryStorePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type MemoryQueryPayload struct {
	Query string `json:"query"`
}
