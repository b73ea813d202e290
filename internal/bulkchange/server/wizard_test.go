package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

func TestWizard_MoveAcrossContexts(t *testing.T) {
	withRedisStore(t, func(store wizard.Store) {
		withFixture(t, store, []string{"dev"}, func(f *fixture) {
			ctx := as(alice)
			state, err := f.wizard.Start(ctx, session, []int64{1, 2, 4})
			require.NoError(t, err)
			assert.Equal(t, wizard.StepChooseOperation, state.CurrentStep())

			state, err = f.wizard.ChooseOperation(ctx, session, operation.BulkMove)
			require.NoError(t, err)
			assert.Equal(t, []string{"A-3"}, state.SubTasks().Keys())

			state, plan, err := f.wizard.SetDetails(ctx, session, &Details{
				Targets: []wizard.TargetMapping{
					{Source: bugsA, Target: bugsTgt},
					{Source: tasksB, Target: bugsTgt},
				},
			})
			require.NoError(t, err)
			assert.Equal(t, wizard.StepConfirmation, state.CurrentStep())
			require.NotNil(t, plan)
			assert.Len(t, plan.Roots(), 2)
			assert.Equal(t, 4, plan.NumberOfIssues())
			assert.NotEmpty(t, plan.Warnings(), "Legacy has no counterpart in the target")

			task, err := f.wizard.Confirm(ctx, session, state.OperationId)
			require.NoError(t, err)
			task = f.wait(t, task)

			assert.Equal(t, 100, task.PercentComplete())
			assert.True(t, task.Result().IsSuccessful())
			assert.Equal(t, 4, task.Progress().Done())

			a1 := f.issue(t, 1)
			assert.Equal(t, bugsTgt, a1.Context())
			assert.Equal(t, []int64{200}, a1.Options[domain.ComponentsField])
			a2 := f.issue(t, 2)
			assert.Equal(t, bugsTgt, a2.Context())
			assert.Empty(t, a2.Options[domain.ComponentsField])
			b1 := f.issue(t, 4)
			assert.Equal(t, bugsTgt, b1.Context())
			assert.Equal(t, []int64{200}, b1.Options[domain.ComponentsField])
			assert.Equal(t, subsTgt, f.issue(t, 3).Context())

			again, err := f.wizard.Confirm(ctx, session, state.OperationId)
			require.NoError(t, err)
			assert.Same(t, task, again)
		})
	})
}

func TestWizard_TransitionOnlyTouchesChosenGroup(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		ctx := as(alice)
		_, err := f.wizard.Start(ctx, session, []int64{1, 2})
		require.NoError(t, err)
		_, err = f.wizard.ChooseOperation(ctx, session, operation.BulkWorkflowTransition)
		require.NoError(t, err)

		groups, err := f.wizard.Transitions(ctx, session)
		require.NoError(t, err)
		start := transition.Key{Workflow: "simple", ActionId: 11, DestinationStatus: "progress"}
		stop := transition.Key{Workflow: "simple", ActionId: 21, DestinationStatus: "open"}
		assert.Equal(t, []transition.Key{start, stop}, groups.KeysForWorkflow("simple"))

		state, _, err := f.wizard.SetDetails(ctx, session, &Details{
			TransitionKey: start.Encode(),
			FieldValues:   domain.NewFieldValues().With(domain.SummaryField, domain.Value{Text: "Started"}),
			Actions:       []wizard.FieldAction{{FieldId: domain.SummaryField, Mode: wizard.Replace}},
		})
		require.NoError(t, err)
		task, err := f.wizard.Confirm(ctx, session, state.OperationId)
		require.NoError(t, err)
		task = f.wait(t, task)

		assert.True(t, task.Result().IsSuccessful())
		assert.Equal(t, 1, task.Progress().Total())
		assert.Equal(t, 100, task.PercentComplete())

		a1 := f.issue(t, 1)
		assert.Equal(t, "progress", a1.StatusId)
		assert.Equal(t, "Started", a1.Text[domain.SummaryField])
		a2 := f.issue(t, 2)
		assert.Equal(t, "progress", a2.StatusId)
		assert.Equal(t, "Legacy export", a2.Text[domain.SummaryField])
	})
}

func TestWizard_TransitionRejectsInvalidFieldChanges(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		ctx := as(alice)
		_, err := f.wizard.Start(ctx, session, []int64{1, 2})
		require.NoError(t, err)
		_, err = f.wizard.ChooseOperation(ctx, session, operation.BulkWorkflowTransition)
		require.NoError(t, err)

		start := transition.Key{Workflow: "simple", ActionId: 11, DestinationStatus: "progress"}
		state, _, err := f.wizard.SetDetails(ctx, session, &Details{
			TransitionKey: start.Encode(),
			Actions:       []wizard.FieldAction{{FieldId: domain.SummaryField, Mode: wizard.Clear}},
		})
		var validationErr *bulkerrors.ErrValidation
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, []string{domain.SummaryField}, validationErr.Fields())
		assert.Equal(t, wizard.StepOperationDetails, state.CurrentStep())
	})
}

func TestWizard_InvalidDetailsNeverReachTaskManager(t *testing.T) {
	tests := map[string]struct {
		operation operation.Kind
		details   *Details
		field     string
	}{
		"edit without fields": {
			operation: operation.BulkEdit,
			details:   &Details{},
			field:     "",
		},
		"move without targets": {
			operation: operation.BulkMove,
			details:   &Details{},
			field:     remap.TargetField,
		},
		"transition without key": {
			operation: operation.BulkWorkflowTransition,
			details:   &Details{},
			field:     operation.TransitionField,
		},
		"transition with malformed key": {
			operation: operation.BulkWorkflowTransition,
			details:   &Details{TransitionKey: "nonsense"},
			field:     operation.TransitionField,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
				ctx := as(alice)
				_, err := f.wizard.Start(ctx, session, []int64{1, 2})
				require.NoError(t, err)
				_, err = f.wizard.ChooseOperation(ctx, session, tc.operation)
				require.NoError(t, err)

				state, _, err := f.wizard.SetDetails(ctx, session, tc.details)
				var validationErr *bulkerrors.ErrValidation
				require.ErrorAs(t, err, &validationErr)
				assert.Contains(t, validationErr.Fields(), tc.field)
				assert.Equal(t, wizard.StepOperationDetails, state.CurrentStep())

				_, err = f.wizard.Confirm(ctx, session, state.OperationId)
				assert.Error(t, err)
				all, err := f.tasks.AllTasks()
				require.NoError(t, err)
				assert.Empty(t, all)
			})
		})
	}
}

func TestWizard_StateErrors(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		ctx := as(alice)
		_, err := f.wizard.State(ctx, session)
		assert.Equal(t, bulkerrors.ClassNotFound, bulkerrors.Classify(err))

		state, err := f.wizard.Start(ctx, session, []int64{1})
		require.NoError(t, err)

		_, _, err = f.wizard.SetDetails(ctx, session, &Details{})
		assert.Equal(t, bulkerrors.ClassState, bulkerrors.Classify(err), "no operation chosen yet")

		_, err = f.wizard.State(as(bob), session)
		assert.Equal(t, bulkerrors.ClassState, bulkerrors.Classify(err), "other users can't see the wizard")

		_, err = f.wizard.ChooseOperation(ctx, session, operation.BulkEdit)
		require.NoError(t, err)
		_, err = f.wizard.Confirm(ctx, session, "stale")
		assert.Equal(t, bulkerrors.ClassState, bulkerrors.Classify(err))

		_, err = f.wizard.ChooseOperation(ctx, session, "bulk_nonsense")
		assert.Equal(t, bulkerrors.ClassNotFound, bulkerrors.Classify(err))

		require.NoError(t, f.wizard.Cancel(ctx, session))
		_, err = f.wizard.Confirm(ctx, session, state.OperationId)
		assert.True(t, wizard.IsNotFound(err))
	})
}

func TestWizard_ChooseOperationNarrowsSelection(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		ctx := as(alice)
		_, err := f.wizard.Start(ctx, session, []int64{1, 3})
		require.NoError(t, err)

		state, err := f.wizard.ChooseOperation(ctx, session, operation.BulkMove)
		require.NoError(t, err)
		assert.Equal(t, []string{"A-1"}, state.Selection().Keys())

		state, err = f.wizard.ChooseOperation(ctx, session, operation.BulkDelete)
		require.NoError(t, err)
		assert.Equal(t, []string{"A-1", "A-3"}, state.Selection().Keys())
		assert.Zero(t, state.SubTaskCount())
	})
}

func TestWizard_MaxIssues(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		f.wizard.maxIssues = 2
		_, err := f.wizard.Start(as(alice), session, []int64{1, 2, 4})
		assert.Equal(t, bulkerrors.ClassValidation, bulkerrors.Classify(err))
	})
}

func TestWizard_GlobalPermissionRequired(t *testing.T) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"admins"}, func(f *fixture) {
		ctx := as(alice)
		_, err := f.wizard.Start(ctx, session, []int64{1, 2, 4})
		require.NoError(t, err)

		ops, err := f.wizard.Operations(ctx, session)
		require.NoError(t, err)
		assert.Empty(t, ops)

		_, err = f.wizard.ChooseOperation(ctx, session, operation.BulkEdit)
		var permissionErr *bulkerrors.ErrNoPermission
		require.ErrorAs(t, err, &permissionErr)
		assert.Equal(t, 3, permissionErr.AffectedCount)
	})
}
