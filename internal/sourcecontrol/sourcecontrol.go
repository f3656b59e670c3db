// Package sourcecontrol implements the Source Control service (C10): the
// final stage of the pipeline. It consumes pr.human_approved, materializes
// the approved files as a branch + commit against the target GitHub
// repository using the GitHub Git Data API, opens a pull request, and
// publishes pr.created. Grounded on
// original_source/services/github_service/{config.py,git_ops.py}, reworked
// from shell-out git/httpx calls into google/go-github/v68 + golang.org/x/oauth2.
package sourcecontrol

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"

	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
)

const serviceName = "sourcecontrol"

type Publisher interface {
	Publish(ctx context.Context, env *contracts.Envelope) error
}

// PullRequester is the subset of the go-github client this service drives,
// narrowed for testability.
type PullRequester interface {
	GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error)
	CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error)
	CreateTree(ctx context.Context, owner, repo, baseTree string, entries []*github.TreeEntry) (*github.Tree, *github.Response, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (*github.Commit, *github.Response, error)
	CreateCommit(ctx context.Context, owner, repo string, commit *github.Commit, opts *github.CreateCommitOptions) (*github.Commit, *github.Response, error)
	UpdateRef(ctx context.Context, owner, repo string, ref *github.Reference, force bool) (*github.Reference, *github.Response, error)
	CreatePullRequest(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error)
}

type Service struct {
	gh             PullRequester
	memory         *memoryclient.Client
	bus            Publisher
	metrics        *metrics.Registry
	logger         logging.Logger
	authorName     string
	authorEmail    string
	baseBranch     string
}

type Option func(*Service)

func WithAuthor(name, email string) Option {
	return func(s *Service) { s.authorName, s.authorEmail = name, email }
}

func WithBaseBranch(branch string) Option {
	return func(s *Service) { s.baseBranch = branch }
}

func New(gh PullRequester, memory *memoryclient.Client, bus Publisher, metricsReg *metrics.Registry, logger logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Service{
		gh: gh, memory: memory, bus: bus, metrics: metricsReg, logger: logger,
		authorName: "ADMADC Bot", authorEmail: "admadc@localhost", baseBranch: "main",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandlePRHumanApproved is the pr.human_approved consumer. It only acts on
// approved decisions; a rejected decision is terminal and produces no
// further events, mirroring the Python original's human-gate semantics.
func (s *Service) HandlePRHumanApproved(ctx context.Context, approval contracts.PRApprovalPayload) error {
	if approval.Decision != "approved" {
		s.logger.Info("sourcecontrol: skipping non-approved decision", logging.Fields{"plan_id": approval.PlanID, "decision": approval.Decision})
		return nil
	}

	repoURL, _ := approval.PRContext["repo_url"].(string)
	branchName, _ := approval.PRContext["branch_name"].(string)
	if branchName == "" {
		branchName = approval.BranchName
	}
	commitMessage, _ := approval.PRContext["commit_message"].(string)
	if commitMessage == "" {
		commitMessage = fmt.Sprintf("Automated changes for plan %s", approval.PlanID)
	}
	files := decodeFiles(approval.PRContext["files"])

	owner, repo, err := parseOwnerRepo(repoURL)
	if err != nil {
		s.logger.Error("sourcecontrol: cannot parse repo_url", logging.Fields{"repo_url": repoURL, "error": err.Error()})
		return err
	}

	created, err := s.openPullRequest(ctx, owner, repo, branchName, commitMessage, files)
	if err != nil {
		s.logger.Error("sourcecontrol: failed to open PR", logging.Fields{"plan_id": approval.PlanID, "error": err.Error()})
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordTaskCompleted(ctx, "pr_created")
	}

	payload := contracts.PRCreatedPayload{
		PlanID: approval.PlanID, BranchName: branchName,
		PRURL: created.GetHTMLURL(), PRNumber: created.GetNumber(),
	}
	s.logger.Info("sourcecontrol: opened pull request", logging.Fields{"plan_id": approval.PlanID, "pr_url": payload.PRURL})
	return s.publishAndStore(ctx, contracts.EventPRCreated, payload)
}

// openPullRequest mirrors git_ops.py's create_branch + write_files +
// commit_and_push + open_pull_request pipeline, expressed atomically via
// the GitHub Git Data API (tree/commit/ref) instead of a local clone.
func (s *Service) openPullRequest(ctx context.Context, owner, repo, branchName, commitMessage string, files []contracts.PRFile) (*github.PullRequest, error) {
	baseRef, _, err := s.gh.GetRef(ctx, owner, repo, "refs/heads/"+s.baseBranch)
	if err != nil {
		return nil, fmt.Errorf("get base ref: %w", err)
	}

	_, _, err = s.gh.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branchName),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil && !strings.Contains(err.Error(), "Reference already exists") {
		return nil, fmt.Errorf("create branch ref: %w", err)
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(f.FilePath),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(f.Code),
		})
	}

	baseCommit, _, err := s.gh.GetCommit(ctx, owner, repo, baseRef.Object.GetSHA())
	if err != nil {
		return nil, fmt.Errorf("get base commit: %w", err)
	}

	tree, _, err := s.gh.CreateTree(ctx, owner, repo, baseCommit.Tree.GetSHA(), entries)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	commit, _, err := s.gh.CreateCommit(ctx, owner, repo, &github.Commit{
		Message: github.String(commitMessage),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: baseRef.Object.SHA}},
		Author: &github.CommitAuthor{
			Name:  github.String(s.authorName),
			Email: github.String(s.authorEmail),
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}

	if _, _, err := s.gh.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branchName),
		Object: &github.GitObject{SHA: commit.SHA},
	}, true); err != nil {
		return nil, fmt.Errorf("update branch ref: %w", err)
	}

	pr, _, err := s.gh.CreatePullRequest(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(commitMessage),
		Head:  github.String(branchName),
		Base:  github.String(s.baseBranch),
		Body:  github.String(buildPRBody(files)),
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return pr, nil
}

func buildPRBody(files []contracts.PRFile) string {
	var b strings.Builder
	b.WriteString("Automated pull request produced by the pipeline.\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "### %s\n", f.FilePath)
		if f.Reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", f.Reasoning)
		}
	}
	return b.String()
}

// decodeFiles accepts either []contracts.PRFile (in-process dispatch) or the
// []interface{} of map[string]interface{} shape produced by JSON decoding a
// bus message, since PRContext is carried as map[string]interface{}.
func decodeFiles(raw interface{}) []contracts.PRFile {
	switch v := raw.(type) {
	case []contracts.PRFile:
		return v
	case []interface{}:
		out := make([]contracts.PRFile, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			f := contracts.PRFile{}
			if fp, ok := m["file_path"].(string); ok {
				f.FilePath = fp
			}
			if code, ok := m["code"].(string); ok {
				f.Code = code
			}
			if reasoning, ok := m["reasoning"].(string); ok {
				f.Reasoning = reasoning
			}
			out = append(out, f)
		}
		return out
	default:
		return nil
	}
}

func parseOwnerRepo(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
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
