package sourcecontrol

import (
	"context"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admadc/pipeline/internal/contracts"
)

type fakePublisher struct {
	published []*contracts.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, env *contracts.Envelope) error {
	f.published = append(f.published, env)
	return nil
}

type fakeGitHub struct {
	createPRCalled bool
	lastEntries    []*github.TreeEntry
}

func (f *fakeGitHub) GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error) {
	return &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String("base-sha")},
	}, nil, nil
}

func (f *fakeGitHub) CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error) {
	return ref, nil, nil
}

func (f *fakeGitHub) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []*github.TreeEntry) (*github.Tree, *github.Response, error) {
	f.lastEntries = entries
	return &github.Tree{SHA: github.String("tree-sha")}, nil, nil
}

func (f *fakeGitHub) GetCommit(ctx context.Context, owner, repo, sha string) (*github.Commit, *github.Response, error) {
	return &github.Commit{Tree: &github.Tree{SHA: github.String("base-tree-sha")}}, nil, nil
}

func (f *fakeGitHub) CreateCommit(ctx context.Context, owner, repo string, commit *github.Commit, opts *github.CreateCommitOptions) (*github.Commit, *github.Response, error) {
	return &github.Commit{SHA: github.String("commit-sha")}, nil, nil
}

func (f *fakeGitHub) UpdateRef(ctx context.Context, owner, repo string, ref *github.Reference, force bool) (*github.Reference, *github.Response, error) {
	return ref, nil, nil
}

func (f *fakeGitHub) CreatePullRequest(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	f.createPRCalled = true
	return &github.PullRequest{
		HTMLURL: github.String("https://github.com/admadc/demo/pull/7"),
		Number:  github.Int(7),
	}, nil, nil
}

func approvedPayload() contracts.PRApprovalPayload {
	return contracts.PRApprovalPayload{
		ApprovalID: "appr-1",
		PlanID:     "plan-1",
		BranchName: "admadc/plan-1",
		Decision:   "approved",
		PRContext: map[string]interface{}{
			"repo_url":       "https://github.com/admadc/demo.git",
			"branch_name":    "admadc/plan-1",
			"commit_message": "Add feature X",
			"files": []interface{}{
				map[string]interface{}{"file_path": "main.go", "code": "package main", "reasoning": "[Developer] wrote it"},
			},
		},
	}
}

func TestHandlePRHumanApproved_CreatesPullRequest(t *testing.T) {
	pub := &fakePublisher{}
	gh := &fakeGitHub{}
	svc := New(gh, nil, pub, nil, nil)

	err := svc.HandlePRHumanApproved(context.Background(), approvedPayload())
	require.NoError(t, err)

	assert.True(t, gh.createPRCalled)
	require.Len(t, gh.lastEntries, 1)
	assert.Equal(t, "main.go", gh.lastEntries[0].GetPath())

	require.Len(t, pub.published, 1)
	assert.Equal(t, contracts.EventPRCreated, pub.published[0].EventType)
}

func TestHandlePRHumanApproved_SkipsRejectedDecision(t *testing.T) {
	pub := &fakePublisher{}
	gh := &fakeGitHub{}
	svc := New(gh, nil, pub, nil, nil)

	payload := approvedPayload()
	payload.Decision = "rejected"

	err := svc.HandlePRHumanApproved(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, gh.createPRCalled)
	assert.Empty(t, pub.published)
}

func TestParseOwnerRepo(t *testing.T) {
	owner, repo, err := parseOwnerRepo("https://github.com/admadc/demo.git")
	require.NoError(t, err)
	assert.Equal(t, "admadc", owner)
	assert.Equal(t, "demo", repo)
}

func TestParseOwnerRepo_InvalidURL(t *testing.T) {
	_, _, err := parseOwnerRepo("not-a-url")
	assert.Error(t, err)
}
