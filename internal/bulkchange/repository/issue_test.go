package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

var ctx = context.Background()

func withRepository(t *testing.T, action func(r *MemIssueRepository)) {
	r, err := NewMemIssueRepository()
	require.NoError(t, err)
	require.NoError(t, r.Seed(
		&domain.Issue{Id: 1, Key: "A-1", ProjectId: 1, IssueTypeId: "bug", StatusId: "open"},
		&domain.Issue{Id: 2, Key: "A-2", ProjectId: 1, IssueTypeId: "sub", StatusId: "open", ParentId: 1},
		&domain.Issue{Id: 3, Key: "A-3", ProjectId: 1, IssueTypeId: "sub", StatusId: "open", ParentId: 1},
		&domain.Issue{Id: 4, Key: "B-1", ProjectId: 2, IssueTypeId: "task", StatusId: "done"},
	))
	action(r)
}

func TestMemIssueRepository_GetIssues(t *testing.T) {
	withRepository(t, func(r *MemIssueRepository) {
		issues, err := r.GetIssues(ctx, []int64{4, 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"B-1", "A-1"}, []string{issues[0].Key, issues[1].Key})

		_, err = r.GetIssues(ctx, []int64{1, 99})
		assert.Equal(t, bulkerrors.ClassNotFound, bulkerrors.Classify(err))

		byKey, err := r.GetIssueByKey(ctx, "A-2")
		require.NoError(t, err)
		assert.Equal(t, int64(2), byKey.Id)
	})
}

func TestMemIssueRepository_GetSubtasks(t *testing.T) {
	withRepository(t, func(r *MemIssueRepository) {
		subtasks, err := r.GetSubtasks(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, subtasks, 2)
		assert.Equal(t, int64(2), subtasks[0].Id)

		none, err := r.GetSubtasks(ctx, 4)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemIssueRepository_UpdateDoesNotAliasCallerCopy(t *testing.T) {
	withRepository(t, func(r *MemIssueRepository) {
		issue, err := r.GetIssue(ctx, 1)
		require.NoError(t, err)
		issue.StatusId = "done"
		require.NoError(t, r.UpdateIssue(ctx, issue))

		issue.StatusId = "mutated after update"
		stored, err := r.GetIssue(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "done", stored.StatusId)

		err = r.UpdateIssue(ctx, &domain.Issue{Id: 42})
		assert.Equal(t, bulkerrors.ClassNotFound, bulkerrors.Classify(err))
	})
}

func TestMemIssueRepository_DeleteRemovesSubtasks(t *testing.T) {
	withRepository(t, func(r *MemIssueRepository) {
		require.NoError(t, r.DeleteIssue(ctx, 1))
		for _, id := range []int64{1, 2, 3} {
			_, err := r.GetIssue(ctx, id)
			assert.Error(t, err)
		}
		_, err := r.GetIssue(ctx, 4)
		assert.NoError(t, err)
	})
}

func TestMemIssueRepository_Watchers(t *testing.T) {
	withRepository(t, func(r *MemIssueRepository) {
		require.NoError(t, r.AddWatcher(ctx, 1, "alice"))
		require.NoError(t, r.AddWatcher(ctx, 1, "alice"))
		require.NoError(t, r.AddWatcher(ctx, 1, "bob"))
		issue, _ := r.GetIssue(ctx, 1)
		assert.Equal(t, []string{"alice", "bob"}, issue.Watchers)

		require.NoError(t, r.RemoveWatcher(ctx, 1, "alice"))
		require.NoError(t, r.RemoveWatcher(ctx, 1, "carol"))
		issue, _ = r.GetIssue(ctx, 1)
		assert.Equal(t, []string{"bob"}, issue.Watchers)
	})
}

func TestStaticFieldConfigRepository(t *testing.T) {
	r := NewStaticFieldConfigRepository()
	key := domain.ContextKey{ProjectId: 1, IssueTypeId: "bug"}
	r.SetContext(key, ContextConfig{
		Fields:  []domain.Field{{Id: domain.ComponentsField, Kind: domain.OptionField}},
		Options: map[string][]domain.Option{domain.ComponentsField: {{Id: 1, Name: "Backend"}}},
	})

	fields, err := r.FieldsFor(ctx, key)
	require.NoError(t, err)
	assert.Len(t, fields, 1)

	options, err := r.OptionsFor(ctx, key, domain.ComponentsField)
	require.NoError(t, err)
	assert.Equal(t, []domain.Option{{Id: 1, Name: "Backend"}}, options)

	_, err = r.FieldsFor(ctx, domain.ContextKey{ProjectId: 9})
	assert.Equal(t, bulkerrors.ClassNotFound, bulkerrors.Classify(err))
}
