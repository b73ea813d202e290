package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Engine executes workflow actions against issues.
type Engine struct {
	resolver Resolver
	issues   repository.IssueRepository
}

func NewEngine(resolver Resolver, issues repository.IssueRepository) *Engine {
	return &Engine{
		resolver: resolver,
		issues:   issues,
	}
}

func (e *Engine) WorkflowFor(ctx context.Context, key domain.ContextKey) (*domain.Workflow, error) {
	return e.resolver.WorkflowFor(ctx, key)
}

// AvailableActions returns the workflow of issue and the actions leaving its current status.
// An issue whose status is not part of its workflow has no actions.
func (e *Engine) AvailableActions(ctx context.Context, issue *domain.Issue) (*domain.Workflow, []domain.Action, error) {
	w, err := e.resolver.WorkflowFor(ctx, issue.Context())
	if err != nil {
		return nil, nil, err
	}
	step, ok := w.StepForStatus(issue.StatusId)
	if !ok {
		return w, nil, nil
	}
	return w, append([]domain.Action(nil), step.Actions...), nil
}

// Transition takes actionId on issue and stores the result. Any field changes already applied to
// issue are stored along with the new status.
func (e *Engine) Transition(ctx context.Context, issue *domain.Issue, actionId int) (*domain.Issue, error) {
	w, actions, err := e.AvailableActions(ctx, issue)
	if err != nil {
		return nil, err
	}
	for _, action := range actions {
		if action.Id != actionId {
			continue
		}
		destination, ok := w.Destination(issue.StatusId, action)
		if !ok {
			return nil, &bulkerrors.ErrInvalidArgument{
				Name:    "action",
				Value:   strconv.Itoa(actionId),
				Message: fmt.Sprintf("destination of %q is not part of workflow %s", action.Name, w.Name),
			}
		}
		updated := issue.DeepCopy()
		updated.StatusId = destination
		if err := e.issues.UpdateIssue(ctx, updated); err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, &bulkerrors.ErrInvalidArgument{
		Name:    "action",
		Value:   strconv.Itoa(actionId),
		Message: fmt.Sprintf("action is not available for issue %s in status %s", issue.Key, issue.StatusId),
	}
}
