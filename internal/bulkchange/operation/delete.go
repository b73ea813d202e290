package operation

import (
	"context"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
)

// Delete deletes issues along with their subtasks.
type Delete struct {
	*Services
}

func (*Delete) isOperation() {}

func (*Delete) Kind() Kind {
	return BulkDelete
}

func (*Delete) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

func (o *Delete) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireOnAll(ctx, BulkDelete, permissions.DeleteIssue, sel)
}

func (o *Delete) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Delete) Actions(context.Context, domain.Selection) (*Actions, error) {
	return &Actions{}, nil
}

func (o *Delete) Validate(context.Context, *Request) error {
	return nil
}

func (o *Delete) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return req.Selection.Len(), nil
}

func (o *Delete) Perform(ctx context.Context, req *Request, progress Progress) error {
	sel := req.Selection
	o.forEach(sel.Issues(), progress, func(issue *domain.Issue) error {
		// Already gone along with its parent.
		if issue.IsSubTask() && sel.Contains(issue.ParentId) {
			return nil
		}
		if err := o.Issues.DeleteIssue(ctx, issue.Id); err != nil {
			return err
		}
		o.notify(ctx, req, notify.IssueDeleted, issue.Key, "deleted")
		return nil
	})
	return nil
}
