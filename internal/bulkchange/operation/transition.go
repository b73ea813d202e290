package operation

import (
	"context"
	"fmt"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// TransitionField is the field id validation errors about the chosen transition are reported against.
const TransitionField = "transition"

// WorkflowTransition takes one workflow action on every issue it is available to.
type WorkflowTransition struct {
	*Services
}

func (*WorkflowTransition) isOperation() {}

func (*WorkflowTransition) Kind() Kind {
	return BulkWorkflowTransition
}

func (*WorkflowTransition) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

// CheckPermission passes if at least one selected issue may be transitioned. Issues that may not are
// reported as failures when the operation runs.
func (o *WorkflowTransition) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireOnAny(ctx, BulkWorkflowTransition, permissions.TransitionIssue, sel)
}

func (o *WorkflowTransition) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *WorkflowTransition) Actions(ctx context.Context, sel domain.Selection) (*Actions, error) {
	return o.fieldActions(ctx, sel)
}

// Validate checks the chosen transition is available to the selection, along with any field changes
// made on the way.
func (o *WorkflowTransition) Validate(ctx context.Context, req *Request) error {
	if req.Transition.Workflow == "" {
		return bulkerrors.NewValidationError(TransitionField, "no transition chosen")
	}
	groups, err := o.Grouper.Group(ctx, req.Selection.Issues())
	if err != nil {
		return err
	}
	if _, ok := groups.Get(req.Transition); !ok {
		return bulkerrors.NewValidationError(TransitionField, "transition %s is not available to any selected issue", req.Transition)
	}
	return o.validateActions(ctx, req)
}

// NumberOfTasks counts every selected issue. Callers narrow the selection to the issues of the chosen
// transition group before submitting.
func (o *WorkflowTransition) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return req.Selection.Len(), nil
}

// Perform applies the chosen field changes and takes the transition on each selected issue. An issue
// whose status changed since it was selected, so that the transition no longer applies, is reported
// as failed.
func (o *WorkflowTransition) Perform(ctx context.Context, req *Request, progress Progress) error {
	principal := authorization.GetPrincipal(ctx)
	o.forEach(req.Selection.Issues(), progress, func(issue *domain.Issue) error {
		if !o.Permissions.UserHasProjectPermission(ctx, permissions.TransitionIssue, issue.ProjectId) {
			return &bulkerrors.ErrNoPermission{
				Principal:  principal.GetName(),
				Permission: string(permissions.TransitionIssue),
				Action:     string(BulkWorkflowTransition),
			}
		}
		current, err := o.Issues.GetIssue(ctx, issue.Id)
		if err != nil {
			return err
		}
		if err := o.checkEligible(ctx, current, req.Transition); err != nil {
			return err
		}
		edited, _, err := o.applyActions(ctx, current, req)
		if err != nil {
			return err
		}
		updated, err := o.Workflow.Transition(ctx, edited, req.Transition.ActionId)
		if err != nil {
			return err
		}
		o.notify(ctx, req, notify.IssueTransition, current.Key, fmt.Sprintf("%s -> %s", current.StatusId, updated.StatusId))
		return nil
	})
	return nil
}

// checkEligible returns an error unless issue, as it is now, belongs to the transition group of key.
func (o *WorkflowTransition) checkEligible(ctx context.Context, issue *domain.Issue, key transition.Key) error {
	groups, err := o.Grouper.Group(ctx, []*domain.Issue{issue})
	if err != nil {
		return err
	}
	if _, ok := groups.Get(key); !ok {
		return &bulkerrors.ErrInvalidArgument{
			Name:    TransitionField,
			Value:   key.Encode(),
			Message: fmt.Sprintf("transition is not available to %s in status %s", issue.Key, issue.StatusId),
		}
	}
	return nil
}
