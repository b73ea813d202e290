package operation

import (
	"context"
	"fmt"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Move moves top level issues, with their subtasks, into other projects or issue types.
type Move struct {
	*Services
}

func (*Move) isOperation() {}

func (*Move) Kind() Kind {
	return BulkMove
}

func (*Move) Filter() wizard.SelectionFilter {
	return wizard.ParentsOnly
}

func (o *Move) CheckPermission(ctx context.Context, sel domain.Selection) error {
	for _, issue := range sel.Issues() {
		if issue.IsSubTask() {
			return &bulkerrors.ErrInvalidArgument{
				Name:    "selection",
				Value:   issue.Key,
				Message: "only top level issues can be moved",
			}
		}
	}
	return o.requireMove(ctx, BulkMove, sel)
}

func (o *Move) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Move) Actions(ctx context.Context, sel domain.Selection) (*Actions, error) {
	return o.fieldActions(ctx, sel)
}

func (o *Move) Validate(_ context.Context, req *Request) error {
	return validatePlan(req)
}

func (o *Move) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return planSize(req)
}

func (o *Move) Perform(ctx context.Context, req *Request, progress Progress) error {
	return performPlan(ctx, o.Services, req, progress)
}

// Migrate changes the issue type of issues within their project. Subtasks of migrated issues are
// migrated along with them.
type Migrate struct {
	*Services
}

func (*Migrate) isOperation() {}

func (*Migrate) Kind() Kind {
	return BulkMigrate
}

func (*Migrate) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

func (o *Migrate) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireMove(ctx, BulkMigrate, sel)
}

func (o *Migrate) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Migrate) Actions(ctx context.Context, sel domain.Selection) (*Actions, error) {
	return o.fieldActions(ctx, sel)
}

func (o *Migrate) Validate(_ context.Context, req *Request) error {
	if err := validatePlan(req); err != nil {
		return err
	}
	verr := &bulkerrors.ErrValidation{}
	for _, n := range req.Plan.Roots() {
		if n.Target.ProjectId != n.Source.ProjectId {
			verr.Add(remap.TargetField, "issues in %s can only be migrated within their project", n.Source)
		}
	}
	return verr.ErrorOrNil()
}

func (o *Migrate) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return planSize(req)
}

func (o *Migrate) Perform(ctx context.Context, req *Request, progress Progress) error {
	return performPlan(ctx, o.Services, req, progress)
}

// requireMove checks the user in ctx may move every issue in sel along with the subtasks that travel
// with them.
func (s *Services) requireMove(ctx context.Context, kind Kind, sel domain.Selection) error {
	if sel.IsEmpty() {
		return emptySelection()
	}
	moving := sel.Issues()
	for _, issue := range sel.Issues() {
		if issue.IsSubTask() {
			continue
		}
		subtasks, err := s.Issues.GetSubtasks(ctx, issue.Id)
		if err != nil {
			return err
		}
		moving = append(moving, subtasks...)
	}
	return s.requireOnAll(ctx, kind, permissions.MoveIssue, domain.NewSelection(moving))
}

func validatePlan(req *Request) error {
	if req.Plan == nil {
		return bulkerrors.NewValidationError(remap.TargetField, "no target chosen")
	}
	verr := &bulkerrors.ErrValidation{}
	for _, issue := range req.Selection.Issues() {
		if _, ok := req.Plan.NodeForIssue(issue.Id); !ok {
			verr.Add(remap.TargetField, "no target chosen for %s", issue.Key)
		}
	}
	return verr.ErrorOrNil()
}

func planSize(req *Request) (int, error) {
	if req.Plan == nil {
		return 0, &bulkerrors.ErrInvalidArgument{Name: "plan", Value: "", Message: "no move plan"}
	}
	return req.Plan.NumberOfIssues(), nil
}

// performPlan moves every issue in the plan, parents before their subtasks.
func performPlan(ctx context.Context, s *Services, req *Request, progress Progress) error {
	if req.Plan == nil {
		return &bulkerrors.ErrInvalidArgument{Name: "plan", Value: "", Message: "no move plan"}
	}
	s.forEach(req.Plan.Issues(), progress, func(issue *domain.Issue) error {
		current, err := s.Issues.GetIssue(ctx, issue.Id)
		if err != nil {
			return err
		}
		moved, err := req.Plan.Apply(current)
		if err != nil {
			return err
		}
		if err := s.Issues.UpdateIssue(ctx, moved); err != nil {
			return err
		}
		s.notify(ctx, req, notify.IssueMoved, current.Key, fmt.Sprintf("moved from %s to %s", current.Context(), moved.Context()))
		return nil
	})
	return nil
}
