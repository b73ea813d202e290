package operation

import (
	"context"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

type Watch struct {
	*Services
}

func (*Watch) isOperation() {}

func (*Watch) Kind() Kind {
	return BulkWatch
}

func (*Watch) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

func (o *Watch) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireWatcher(ctx, BulkWatch, sel)
}

func (o *Watch) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Watch) Actions(context.Context, domain.Selection) (*Actions, error) {
	return &Actions{}, nil
}

func (o *Watch) Validate(context.Context, *Request) error {
	return nil
}

func (o *Watch) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return req.Selection.Len(), nil
}

func (o *Watch) Perform(ctx context.Context, req *Request, progress Progress) error {
	user := authorization.GetPrincipal(ctx).GetName()
	o.forEach(req.Selection.Issues(), progress, func(issue *domain.Issue) error {
		return o.Issues.AddWatcher(ctx, issue.Id, user)
	})
	return nil
}

type Unwatch struct {
	*Services
}

func (*Unwatch) isOperation() {}

func (*Unwatch) Kind() Kind {
	return BulkUnwatch
}

func (*Unwatch) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

func (o *Unwatch) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireWatcher(ctx, BulkUnwatch, sel)
}

func (o *Unwatch) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Unwatch) Actions(context.Context, domain.Selection) (*Actions, error) {
	return &Actions{}, nil
}

func (o *Unwatch) Validate(context.Context, *Request) error {
	return nil
}

func (o *Unwatch) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return req.Selection.Len(), nil
}

func (o *Unwatch) Perform(ctx context.Context, req *Request, progress Progress) error {
	user := authorization.GetPrincipal(ctx).GetName()
	o.forEach(req.Selection.Issues(), progress, func(issue *domain.Issue) error {
		return o.Issues.RemoveWatcher(ctx, issue.Id, user)
	})
	return nil
}

// requireWatcher checks the user in ctx is logged in and can browse every selected issue.
func (s *Services) requireWatcher(ctx context.Context, kind Kind, sel domain.Selection) error {
	principal := authorization.GetPrincipal(ctx)
	if authorization.IsAnonymous(principal) {
		return &bulkerrors.ErrNoPermission{
			Principal:     principal.GetName(),
			Permission:    string(permissions.BrowseProject),
			Action:        string(kind),
			AffectedCount: sel.Len(),
			Message:       "anonymous users can't watch issues",
		}
	}
	return s.requireOnAll(ctx, kind, permissions.BrowseProject, sel)
}
