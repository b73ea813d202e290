package transition

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/bulkchange/workflow"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

var ctx = context.Background()

var loopingWorkflow = &domain.Workflow{
	Name: "software_dev",
	Steps: []domain.Step{
		{Id: 1, StatusId: "open", Actions: []domain.Action{
			{Id: 11, Name: "Start", ResultStep: 2},
			{Id: 99, Name: "Comment", ResultStep: domain.OriginStep},
			{Id: 13, Name: "Archive", ResultStep: 42},
		}},
		{Id: 2, StatusId: "progress", Actions: []domain.Action{
			{Id: 21, Name: "Stop", ResultStep: 1},
			{Id: 99, Name: "Comment", ResultStep: domain.OriginStep},
		}},
		{Id: 3, StatusId: "done"},
	},
}

var otherWorkflow = &domain.Workflow{
	Name: "ops",
	Steps: []domain.Step{
		{Id: 1, StatusId: "open", Actions: []domain.Action{{Id: 11, Name: "Start", ResultStep: 2}}},
		{Id: 2, StatusId: "progress"},
	},
}

func newGrouper(t *testing.T) *Grouper {
	t.Helper()
	resolver := workflow.NewStaticResolver("software_dev", loopingWorkflow, otherWorkflow)
	resolver.Assign(domain.ContextKey{ProjectId: 2, IssueTypeId: "task"}, "ops")
	issues, err := repository.NewMemIssueRepository()
	require.NoError(t, err)
	return NewGrouper(workflow.NewEngine(resolver, issues))
}

func TestKey_EncodeDecode(t *testing.T) {
	tests := map[string]struct {
		key     Key
		encoded string
	}{
		"simple":                   {key: Key{Workflow: "ops", ActionId: 11, DestinationStatus: "progress"}, encoded: "ops_11_progress"},
		"underscores in workflow":  {key: Key{Workflow: "software_dev", ActionId: 99, DestinationStatus: "open"}, encoded: "software%5Fdev_99_open"},
		"underscores in status":    {key: Key{Workflow: "jira", ActionId: 31, DestinationStatus: "in_progress"}, encoded: "jira_31_in%5Fprogress"},
		"numeric destination":      {key: Key{Workflow: "jira", ActionId: 5, DestinationStatus: "10001"}, encoded: "jira_5_10001"},
		"workflow with many parts": {key: Key{Workflow: "a_b_c", ActionId: 1, DestinationStatus: "x_y"}, encoded: "a%5Fb%5Fc_1_x%5Fy"},
		"percent signs":            {key: Key{Workflow: "100%", ActionId: 2, DestinationStatus: "done%5F"}, encoded: "100%25_2_done%255F"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.encoded, tc.key.Encode())
			decoded, err := Decode(tc.encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.key, decoded)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, encoded := range []string{"", "nounderscores", "wf_progress", "wf_x_progress", "_1_open", "wf_1_", "jira_31_in_progress", "wf_1_%zz"} {
		t.Run(encoded, func(t *testing.T) {
			_, err := Decode(encoded)
			assert.Equal(t, bulkerrors.ClassInvalidArgument, bulkerrors.Classify(err))
		})
	}
}

func TestGrouper_LoopingActionKeyedByOwnStatus(t *testing.T) {
	issues := []*domain.Issue{
		{Id: 1, Key: "A-1", ProjectId: 1, IssueTypeId: "bug", StatusId: "open"},
		{Id: 2, Key: "A-2", ProjectId: 1, IssueTypeId: "bug", StatusId: "progress"},
		{Id: 3, Key: "A-3", ProjectId: 1, IssueTypeId: "bug", StatusId: "open"},
	}

	groups, err := newGrouper(t).Group(ctx, issues)
	require.NoError(t, err)

	commentOpen, ok := groups.Get(Key{Workflow: "software_dev", ActionId: 99, DestinationStatus: "open"})
	require.True(t, ok)
	assert.Equal(t, []string{"A-1", "A-3"}, commentOpen.IssueKeys())

	commentProgress, ok := groups.Get(Key{Workflow: "software_dev", ActionId: 99, DestinationStatus: "progress"})
	require.True(t, ok)
	assert.Equal(t, []string{"A-2"}, commentProgress.IssueKeys())
	assert.Equal(t, "Comment", commentProgress.ActionName)
}

func TestGrouper_SkipsUnreachableDestinations(t *testing.T) {
	issues := []*domain.Issue{{Id: 1, Key: "A-1", ProjectId: 1, IssueTypeId: "bug", StatusId: "open"}}

	groups, err := newGrouper(t).Group(ctx, issues)
	require.NoError(t, err)

	for _, k := range groups.Keys() {
		assert.NotEqual(t, 13, k.ActionId)
	}
	assert.Equal(t, 2, groups.Len())
}

func TestGrouper_SeparatesWorkflows(t *testing.T) {
	issues := []*domain.Issue{
		{Id: 1, Key: "A-1", ProjectId: 1, IssueTypeId: "bug", StatusId: "open"},
		{Id: 2, Key: "B-1", ProjectId: 2, IssueTypeId: "task", StatusId: "open"},
		{Id: 3, Key: "A-2", ProjectId: 1, IssueTypeId: "bug", StatusId: "done"},
		{Id: 4, Key: "A-3", ProjectId: 1, IssueTypeId: "bug", StatusId: "unknown"},
	}

	groups, err := newGrouper(t).Group(ctx, issues)
	require.NoError(t, err)

	assert.Equal(t, []string{"software_dev", "ops"}, groups.Workflows())
	assert.Equal(t, []Key{
		{Workflow: "software_dev", ActionId: 11, DestinationStatus: "progress"},
		{Workflow: "software_dev", ActionId: 99, DestinationStatus: "open"},
	}, groups.KeysForWorkflow("software_dev"))
	assert.Equal(t, []Key{{Workflow: "ops", ActionId: 11, DestinationStatus: "progress"}}, groups.KeysForWorkflow("ops"))

	var skipped []string
	for _, i := range groups.Skipped {
		skipped = append(skipped, i.Key)
	}
	assert.Equal(t, []string{"A-2", "A-3"}, skipped)
}

func TestGrouper_IsDeterministic(t *testing.T) {
	var issues []*domain.Issue
	for i := 1; i <= 20; i++ {
		status := "open"
		if i%2 == 0 {
			status = "progress"
		}
		issues = append(issues, &domain.Issue{Id: int64(i), Key: fmt.Sprintf("A-%d", i), ProjectId: 1, IssueTypeId: "bug", StatusId: status})
	}

	first, err := newGrouper(t).Group(ctx, issues)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := newGrouper(t).Group(ctx, issues)
		require.NoError(t, err)
		assert.Equal(t, first.Keys(), again.Keys())
	}
}

func TestGroup_ShortList(t *testing.T) {
	g := &Group{}
	for i := 1; i <= 7; i++ {
		g.Issues = append(g.Issues, &domain.Issue{Key: fmt.Sprintf("A-%d", i)})
	}
	assert.Equal(t, []string{"A-1", "A-2", "A-3", "A-4", "A-5"}, g.ShortList())
	assert.True(t, g.IsShortListed())

	g.Issues = g.Issues[:3]
	assert.Equal(t, []string{"A-1", "A-2", "A-3"}, g.ShortList())
	assert.False(t, g.IsShortListed())
}
