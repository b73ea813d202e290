package operation

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/bulkchange/workflow"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/auth/permission"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

type Kind string

const (
	BulkEdit               Kind = "bulk_edit"
	BulkMove               Kind = "bulk_move"
	BulkMigrate            Kind = "bulk_migrate"
	BulkDelete             Kind = "bulk_delete"
	BulkWatch              Kind = "bulk_watch"
	BulkUnwatch            Kind = "bulk_unwatch"
	BulkWorkflowTransition Kind = "bulk_workflow_transition"
)

// Operation is a mutation applied to every issue of a selection.
// The set of operations is closed; every implementation lives in this package.
type Operation interface {
	Kind() Kind
	// Filter is the kind of issue the operation accepts into its selection.
	Filter() wizard.SelectionFilter
	// CheckPermission returns nil if the user in ctx may run the operation on sel.
	CheckPermission(ctx context.Context, sel domain.Selection) error
	CanPerform(ctx context.Context, sel domain.Selection) bool
	// Actions returns the fields the operation may change on sel.
	Actions(ctx context.Context, sel domain.Selection) (*Actions, error)
	// Validate checks req is complete. Errors are *bulkerrors.ErrValidation and block the wizard.
	Validate(ctx context.Context, req *Request) error
	// NumberOfTasks is the number of units of work Perform reports progress for.
	NumberOfTasks(ctx context.Context, req *Request) (int, error)
	// Perform applies the operation to each issue in turn, reporting each one to progress.
	// Failures of individual issues are reported and don't stop the rest; an error is returned only
	// when no further issue can be processed.
	Perform(ctx context.Context, req *Request, progress Progress) error

	isOperation()
}

// Request is everything an operation needs to run, snapshotted when the operation is submitted.
type Request struct {
	Selection        domain.Selection
	FieldValues      domain.FieldValues
	Actions          []wizard.FieldAction
	SendNotification bool
	// Move and migrate.
	Plan *remap.Plan
	// Workflow transition.
	Transition transition.Key
}

// Progress receives the outcome of each unit of work.
type Progress interface {
	Completed(entity string)
	Failed(entity string, err error)
}

// Actions holds the fields an operation may change. Visible fields are present in every context of
// the selection; hidden fields only in some.
type Actions struct {
	Visible []domain.Field
	Hidden  []domain.Field
}

func (a *Actions) Field(id string) (domain.Field, bool) {
	for _, fields := range [][]domain.Field{a.Visible, a.Hidden} {
		for _, f := range fields {
			if f.Id == id {
				return f, true
			}
		}
	}
	return domain.Field{}, false
}

func (a *Actions) IsEmpty() bool {
	return len(a.Visible) == 0 && len(a.Hidden) == 0
}

// Services are the collaborators operations mutate issues through.
type Services struct {
	Issues      repository.IssueRepository
	Fields      repository.FieldConfigRepository
	Workflow    *workflow.Engine
	Grouper     *transition.Grouper
	Permissions authorization.ProjectPermissionChecker
	Notifier    notify.Notifier
}

// All returns every operation, in the order they're offered to users.
func All(s *Services) []Operation {
	return []Operation{
		&Edit{s},
		&Move{s},
		&Migrate{s},
		&WorkflowTransition{s},
		&Delete{s},
		&Watch{s},
		&Unwatch{s},
	}
}

// fieldActions splits the fields of every context in sel into those common to all of them and the rest.
func (s *Services) fieldActions(ctx context.Context, sel domain.Selection) (*Actions, error) {
	contexts := sel.Contexts()
	var order []domain.Field
	counts := map[string]int{}
	for _, key := range contexts {
		fields, err := s.Fields.FieldsFor(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if counts[f.Id] == 0 {
				order = append(order, f)
			}
			counts[f.Id]++
		}
	}
	actions := &Actions{}
	for _, f := range order {
		if counts[f.Id] == len(contexts) {
			actions.Visible = append(actions.Visible, f)
		} else {
			actions.Hidden = append(actions.Hidden, f)
		}
	}
	return actions, nil
}

func emptySelection() error {
	return &bulkerrors.ErrInvalidArgument{Name: "selection", Value: "", Message: "no issues selected"}
}

// requireOnAll checks the user in ctx holds perm in the project of every issue in sel.
func (s *Services) requireOnAll(ctx context.Context, kind Kind, perm permission.Permission, sel domain.Selection) error {
	if sel.IsEmpty() {
		return emptySelection()
	}
	denied := 0
	checked := map[int64]bool{}
	for _, issue := range sel.Issues() {
		allowed, ok := checked[issue.ProjectId]
		if !ok {
			allowed = s.Permissions.UserHasProjectPermission(ctx, perm, issue.ProjectId)
			checked[issue.ProjectId] = allowed
		}
		if !allowed {
			denied++
		}
	}
	if denied > 0 {
		return &bulkerrors.ErrNoPermission{
			Principal:     authorization.GetPrincipal(ctx).GetName(),
			Permission:    string(perm),
			Action:        string(kind),
			AffectedCount: denied,
		}
	}
	return nil
}

// requireOnAny checks the user in ctx holds perm in the project of at least one issue in sel.
func (s *Services) requireOnAny(ctx context.Context, kind Kind, perm permission.Permission, sel domain.Selection) error {
	if sel.IsEmpty() {
		return emptySelection()
	}
	for _, issue := range sel.Issues() {
		if s.Permissions.UserHasProjectPermission(ctx, perm, issue.ProjectId) {
			return nil
		}
	}
	return &bulkerrors.ErrNoPermission{
		Principal:     authorization.GetPrincipal(ctx).GetName(),
		Permission:    string(perm),
		Action:        string(kind),
		AffectedCount: sel.Len(),
	}
}

func (s *Services) forEach(issues []*domain.Issue, progress Progress, fn func(issue *domain.Issue) error) {
	for _, issue := range issues {
		if err := fn(issue); err != nil {
			progress.Failed(issue.Key, err)
			continue
		}
		progress.Completed(issue.Key)
	}
}

func (s *Services) notify(ctx context.Context, req *Request, eventType notify.EventType, issueKey string, detail string) {
	if !req.SendNotification || s.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:     eventType,
		IssueKey: issueKey,
		User:     authorization.GetPrincipal(ctx).GetName(),
		Detail:   detail,
	}
	if err := s.Notifier.Notify(ctx, event); err != nil {
		log.WithError(err).WithField("issue", issueKey).Warn("failed to send notification")
	}
}
