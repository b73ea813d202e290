package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/bulkchange/workflow"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/auth/permission"
	"github.com/G-Research/bulkchange/internal/common/util"
)

const session = "session-1"

var (
	bugsA     = domain.ContextKey{ProjectId: 1, IssueTypeId: "bug"}
	subsA     = domain.ContextKey{ProjectId: 1, IssueTypeId: "sub"}
	tasksB    = domain.ContextKey{ProjectId: 2, IssueTypeId: "task"}
	bugsTgt   = domain.ContextKey{ProjectId: 3, IssueTypeId: "bug"}
	subsTgt   = domain.ContextKey{ProjectId: 3, IssueTypeId: "sub"}
	summary   = domain.Field{Id: domain.SummaryField, Name: "Summary", Kind: domain.TextField, Required: true}
	component = domain.Field{Id: domain.ComponentsField, Name: "Components", Kind: domain.OptionField}
)

var simpleWorkflow = &domain.Workflow{
	Name: "simple",
	Steps: []domain.Step{
		{Id: 1, StatusId: "open", Actions: []domain.Action{{Id: 11, Name: "Start", ResultStep: 2}}},
		{Id: 2, StatusId: "progress", Actions: []domain.Action{{Id: 21, Name: "Stop", ResultStep: 1}}},
	},
}

func seedIssues() []*domain.Issue {
	return []*domain.Issue{
		{
			Id: 1, Key: "A-1", ProjectId: 1, IssueTypeId: "bug", StatusId: "open",
			Options: map[string][]int64{domain.ComponentsField: {20}},
			Text:    map[string]string{domain.SummaryField: "Login fails"},
		},
		{
			Id: 2, Key: "A-2", ProjectId: 1, IssueTypeId: "bug", StatusId: "progress",
			Options: map[string][]int64{domain.ComponentsField: {21}},
			Text:    map[string]string{domain.SummaryField: "Legacy export"},
		},
		{
			Id: 3, Key: "A-3", ProjectId: 1, IssueTypeId: "sub", StatusId: "open", ParentId: 1,
			Text: map[string]string{domain.SummaryField: "Reproduce"},
		},
		{
			Id: 4, Key: "B-1", ProjectId: 2, IssueTypeId: "task", StatusId: "progress",
			Options: map[string][]int64{domain.ComponentsField: {40}},
			Text:    map[string]string{domain.SummaryField: "Rotate keys"},
		},
	}
}

var (
	alice = authorization.NewStaticPrincipal("alice", []string{"dev"})
	bob   = authorization.NewStaticPrincipal("bob", []string{"dev"})
	carol = authorization.NewStaticPrincipal("carol", []string{"contractor"})
)

func as(principal authorization.Principal) context.Context {
	return authorization.WithPrincipal(context.Background(), principal)
}

type fixture struct {
	wizard    *Wizard
	submitter *Submitter
	registry  *operation.Registry
	tasks     *taskmanager.Manager
	issues    *repository.MemIssueRepository
}

func (f *fixture) issue(t *testing.T, id int64) *domain.Issue {
	t.Helper()
	issue, err := f.issues.GetIssue(context.Background(), id)
	require.NoError(t, err)
	return issue
}

func (f *fixture) wait(t *testing.T, task *taskmanager.Task) *taskmanager.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	finished, err := f.tasks.WaitUntilTaskCompletes(ctx, task.Id())
	require.NoError(t, err)
	return finished
}

// globalGroups holds the groups granted the global bulk change permission.
func withFixture(t *testing.T, store wizard.Store, globalGroups []string, action func(f *fixture)) {
	t.Helper()
	issues, err := repository.NewMemIssueRepository()
	require.NoError(t, err)
	require.NoError(t, issues.Seed(seedIssues()...))

	fields := repository.NewStaticFieldConfigRepository()
	fields.SetContext(bugsA, repository.ContextConfig{
		Fields:  []domain.Field{summary, component},
		Options: map[string][]domain.Option{domain.ComponentsField: {{Id: 20, Name: "Backend"}, {Id: 21, Name: "Legacy"}}},
	})
	fields.SetContext(subsA, repository.ContextConfig{Fields: []domain.Field{summary}})
	fields.SetContext(tasksB, repository.ContextConfig{
		Fields:  []domain.Field{summary, component},
		Options: map[string][]domain.Option{domain.ComponentsField: {{Id: 40, Name: "Backend"}}},
	})
	fields.SetContext(bugsTgt, repository.ContextConfig{
		Fields:  []domain.Field{summary, component},
		Options: map[string][]domain.Option{domain.ComponentsField: {{Id: 200, Name: "Backend"}}},
	})
	fields.SetContext(subsTgt, repository.ContextConfig{Fields: []domain.Field{summary}})

	global := map[permission.Permission][]string{
		permissions.BulkChange:      globalGroups,
		permissions.BrowseProject:   {"dev"},
		permissions.EditIssue:       {"dev"},
		permissions.MoveIssue:       {"dev"},
		permissions.DeleteIssue:     {"dev"},
		permissions.TransitionIssue: {"dev"},
	}
	checker := authorization.NewPrincipalPermissionChecker(global, nil)

	engine := workflow.NewEngine(workflow.NewStaticResolver("simple", simpleWorkflow), issues)
	grouper := transition.NewGrouper(engine)
	registry := operation.NewRegistry(operation.All(&operation.Services{
		Issues:      issues,
		Fields:      fields,
		Workflow:    engine,
		Grouper:     grouper,
		Permissions: checker,
	})...)

	tasks, err := taskmanager.NewManager(taskmanager.Config{Workers: 2}, &util.DefaultClock{}, nil)
	require.NoError(t, err)
	defer func() {
		assert.False(t, tasks.Shutdown(5*time.Second))
	}()

	submitter := NewSubmitter(checker, tasks)
	remapper := remap.NewRemapper(fields, engine, issues)
	action(&fixture{
		wizard:    NewWizard(store, registry, submitter, tasks, remapper, grouper, issues, 10),
		submitter: submitter,
		registry:  registry,
		tasks:     tasks,
		issues:    issues,
	})
}

func withRedisStore(t *testing.T, action func(store wizard.Store)) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	action(wizard.NewRedisStore(client, time.Hour))
}
