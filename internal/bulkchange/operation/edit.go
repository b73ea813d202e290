package operation

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Edit sets, adds to, removes from or clears field values.
type Edit struct {
	*Services
}

func (*Edit) isOperation() {}

func (*Edit) Kind() Kind {
	return BulkEdit
}

func (*Edit) Filter() wizard.SelectionFilter {
	return wizard.AllIssues
}

func (o *Edit) CheckPermission(ctx context.Context, sel domain.Selection) error {
	return o.requireOnAll(ctx, BulkEdit, permissions.EditIssue, sel)
}

func (o *Edit) CanPerform(ctx context.Context, sel domain.Selection) bool {
	return o.CheckPermission(ctx, sel) == nil
}

func (o *Edit) Actions(ctx context.Context, sel domain.Selection) (*Actions, error) {
	return o.fieldActions(ctx, sel)
}

func (o *Edit) Validate(ctx context.Context, req *Request) error {
	if len(req.Actions) == 0 {
		return bulkerrors.NewValidationError("", "no fields chosen to edit")
	}
	return o.validateActions(ctx, req)
}

// validateActions checks every field action in req can be applied to the selection.
func (s *Services) validateActions(ctx context.Context, req *Request) error {
	if len(req.Actions) == 0 {
		return nil
	}
	actions, err := s.fieldActions(ctx, req.Selection)
	if err != nil {
		return err
	}
	verr := &bulkerrors.ErrValidation{}
	for _, action := range req.Actions {
		field, ok := actions.Field(action.FieldId)
		if !ok {
			verr.Add(action.FieldId, "field is not available for the selected issues")
			continue
		}
		value, hasValue := req.FieldValues.Get(field.Id)
		switch {
		case action.Mode == wizard.Clear && field.Required:
			verr.Add(field.Id, "%s is required and can't be cleared", field.Name)
		case action.Mode == wizard.Clear:
		case (action.Mode == wizard.Add || action.Mode == wizard.Remove) && field.Kind != domain.OptionField:
			verr.Add(field.Id, "values can only be added to or removed from fields with options")
		case !hasValue || value.IsEmpty():
			if action.Mode != wizard.Replace || field.Required {
				verr.Add(field.Id, "no value chosen for %s", field.Name)
			}
		}
	}
	return verr.ErrorOrNil()
}

func (o *Edit) NumberOfTasks(_ context.Context, req *Request) (int, error) {
	return req.Selection.Len(), nil
}

func (o *Edit) Perform(ctx context.Context, req *Request, progress Progress) error {
	o.forEach(req.Selection.Issues(), progress, func(issue *domain.Issue) error {
		current, err := o.Issues.GetIssue(ctx, issue.Id)
		if err != nil {
			return err
		}
		updated, changed, err := o.applyActions(ctx, current, req)
		if err != nil {
			return err
		}
		if err := o.Issues.UpdateIssue(ctx, updated); err != nil {
			return err
		}
		o.notify(ctx, req, notify.IssueUpdated, current.Key, fmt.Sprintf("updated %v", changed))
		return nil
	})
	return nil
}

// applyActions returns a copy of issue with the field actions of req applied, along with the names
// of the changed fields. Actions on fields missing from the issue's context are skipped.
func (s *Services) applyActions(ctx context.Context, issue *domain.Issue, req *Request) (*domain.Issue, []string, error) {
	if len(req.Actions) == 0 {
		return issue, nil, nil
	}
	fields, err := s.Fields.FieldsFor(ctx, issue.Context())
	if err != nil {
		return nil, nil, err
	}
	updated := issue
	var changed []string
	for _, action := range req.Actions {
		idx := slices.IndexFunc(fields, func(f domain.Field) bool { return f.Id == action.FieldId })
		if idx < 0 {
			continue
		}
		value, _ := req.FieldValues.Get(action.FieldId)
		updated = applyAction(updated, fields[idx], action.Mode, value)
		changed = append(changed, fields[idx].Name)
	}
	return updated, changed, nil
}

func applyAction(issue *domain.Issue, field domain.Field, mode wizard.ChangeMode, value domain.Value) *domain.Issue {
	switch mode {
	case wizard.Clear:
		return domain.ApplyValue(issue, field, domain.Value{})
	case wizard.Add:
		merged := slices.Clone(issue.Options[field.Id])
		for _, v := range value.Options {
			if !slices.Contains(merged, v) {
				merged = append(merged, v)
			}
		}
		return domain.ApplyValue(issue, field, domain.Value{Options: merged})
	case wizard.Remove:
		var kept []int64
		for _, v := range issue.Options[field.Id] {
			if !slices.Contains(value.Options, v) {
				kept = append(kept, v)
			}
		}
		return domain.ApplyValue(issue, field, domain.Value{Options: kept})
	}
	return domain.ApplyValue(issue, field, value)
}
