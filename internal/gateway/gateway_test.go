package gateway

import (
	"context"
	"testing"

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

func TestHandleSecurityApproved_CreatesPendingApproval(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(nil, pub, NewConnectionManager(nil), nil)

	err := svc.HandleSecurityApproved(context.Background(), contracts.SecurityResultPayload{
		PlanID: "plan-1", BranchName: "admadc/plan-1", Approved: true,
		FilesScanned: 2, Reasoning: "clean",
		PRContext: map[string]interface{}{"repo_url": "https://example.com/repo.git"},
	})
	require.NoError(t, err)

	approvals := svc.ListApprovals()
	require.Len(t, approvals, 1)
	assert.Equal(t, "plan-1", approvals[0].PlanID)
}

func TestHandleSecurityApproved_IgnoresUnapproved(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(nil, pub, NewConnectionManager(nil), nil)

	err := svc.HandleSecurityApproved(context.Background(), contracts.SecurityResultPayload{
		PlanID: "plan-2", Approved: false,
	})
	require.NoError(t, err)
	assert.Empty(t, svc.ListApprovals())
}

func TestApprove_RemovesPendingAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(nil, pub, NewConnectionManager(nil), nil)
	_ = svc.HandleSecurityApproved(context.Background(), contracts.SecurityResultPayload{
		PlanID: "plan-3", Approved: true, PRContext: map[string]interface{}{"x": 1},
	})

	approvals := svc.ListApprovals()
	require.Len(t, approvals, 1)

	_, err := svc.Approve(context.Background(), approvals[0].ApprovalID)
	require.NoError(t, err)
	assert.Empty(t, svc.ListApprovals())
}

func TestApprove_UnknownIDReturnsError(t *testing.T) {
	svc := New(nil, &fakePublisher{}, NewConnectionManager(nil), nil)
	_, err := svc.Approve(context.Background(), "does-not-exist")
	assert.Error(t, err)
}
