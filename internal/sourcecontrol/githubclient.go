package sourcecontrol

import (
	"context"

	"github.com/google/go-github/v68/github"
)

// githubAdapter narrows *github.Client's Git and PullRequests services down
// to the PullRequester interface Service depends on.
type githubAdapter struct {
	client *github.Client
}

// NewGitHubAdapter wraps a real go-github client for production use; tests
// substitute a fake PullRequester directly.
func NewGitHubAdapter(client *github.Client) PullRequester {
	return &githubAdapter{client: client}
}

func (a *githubAdapter) GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error) {
	return a.client.Git.GetRef(ctx, owner, repo, ref)
}

func (a *githubAdapter) CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error) {
	return a.client.Git.CreateRef(ctx, owner, repo, ref)
}

func (a *githubAdapter) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []*github.TreeEntry) (*github.Tree, *github.Response, error) {
	return a.client.Git.CreateTree(ctx, owner, repo, baseTree, entries)
}

func (a *githubAdapter) GetCommit(ctx context.Context, owner, repo, sha string) (*github.Commit, *github.Response, error) {
	return a.client.Git.GetCommit(ctx, owner, repo, sha)
}

func (a *githubAdapter) CreateCommit(ctx context.Context, owner, repo string, commit *github.Commit, opts *github.CreateCommitOptions) (*github.Commit, *github.Response, error) {
	return a.client.Git.CreateCommit(ctx, owner, repo, commit, opts)
}

func (a *githubAdapter) UpdateRef(ctx context.Context, owner, repo string, ref *github.Reference, force bool) (*github.Reference, *github.Response, error) {
	return a.client.Git.UpdateRef(ctx, owner, repo, ref, force)
}

func (a *githubAdapter) CreatePullRequest(ctx context.Context, owner, repo string, pr *github.NewPullRequest) (*github.PullRequest, *github.Response, error) {
	return a.client.PullRequests.Create(ctx, owner, repo, pr)
}
