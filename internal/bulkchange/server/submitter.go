package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/permissions"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

var displayNames = map[operation.Kind]string{
	operation.BulkEdit:               "Bulk edit",
	operation.BulkMove:               "Bulk move",
	operation.BulkMigrate:            "Bulk migrate",
	operation.BulkDelete:             "Bulk delete",
	operation.BulkWatch:              "Bulk watch",
	operation.BulkUnwatch:            "Bulk unwatch",
	operation.BulkWorkflowTransition: "Bulk workflow transition",
}

func DisplayName(kind operation.Kind) string {
	if name, ok := displayNames[kind]; ok {
		return name
	}
	return string(kind)
}

// Submitter hands operations to the task manager once they've been authorized and validated.
// Nothing that fails either check reaches the task manager.
type Submitter struct {
	permissions authorization.PermissionChecker
	tasks       *taskmanager.Manager
}

func NewSubmitter(permissions authorization.PermissionChecker, tasks *taskmanager.Manager) *Submitter {
	return &Submitter{permissions: permissions, tasks: tasks}
}

// Authorize checks the user in ctx may bulk change at all, then that they may run op on sel.
func (s *Submitter) Authorize(ctx context.Context, op operation.Operation, sel domain.Selection) error {
	if !s.permissions.UserHasPermission(ctx, permissions.BulkChange) {
		return &bulkerrors.ErrNoPermission{
			Principal:     authorization.GetPrincipal(ctx).GetName(),
			Permission:    string(permissions.BulkChange),
			Action:        string(op.Kind()),
			AffectedCount: sel.Len(),
		}
	}
	return op.CheckPermission(ctx, sel)
}

// CanPerform is Authorize as a predicate.
func (s *Submitter) CanPerform(ctx context.Context, op operation.Operation, sel domain.Selection) bool {
	return s.Authorize(ctx, op, sel) == nil
}

// Submit authorizes and validates req, then queues op to run on it.
// The returned task may be one submitted earlier by the same user for the same operation.
func (s *Submitter) Submit(ctx context.Context, op operation.Operation, req *operation.Request) (*taskmanager.Task, error) {
	if err := s.Authorize(ctx, op, req.Selection); err != nil {
		return nil, err
	}
	if err := op.Validate(ctx, req); err != nil {
		return nil, err
	}
	key := taskmanager.DedupKey{
		User:      authorization.GetPrincipal(ctx).GetName(),
		Operation: string(op.Kind()),
	}
	task, err := s.tasks.SubmitTask(ctx, &operationCallable{op: op, req: req}, DisplayName(op.Kind()), key)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"task":      task.Id(),
		"user":      key.User,
		"operation": key.Operation,
		"issues":    req.Selection.Len(),
	}).Info("bulk operation accepted")
	return task, nil
}

// operationCallable adapts an operation and the request it was submitted with to a task.
type operationCallable struct {
	op  operation.Operation
	req *operation.Request
}

func (c *operationCallable) NumberOfTasks(ctx context.Context) (int, error) {
	return c.op.NumberOfTasks(ctx, c.req)
}

func (c *operationCallable) Run(ctx context.Context, progress *taskmanager.ProgressContext) error {
	return c.op.Perform(ctx, c.req, progress)
}
