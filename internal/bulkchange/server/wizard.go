package server

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Details are the choices made on the operation details step. Only the parts relevant to the chosen
// operation are used.
type Details struct {
	FieldValues      domain.FieldValues           `json:"fieldValues"`
	Actions          []wizard.FieldAction         `json:"actions,omitempty"`
	Retained         []string                     `json:"retained,omitempty"`
	SendNotification *bool                        `json:"sendNotification,omitempty"`
	Targets          []wizard.TargetMapping       `json:"targets,omitempty"`
	ChildTypes       map[string]string            `json:"childTypes,omitempty"`
	ValueMappings    map[string]map[int64]int64   `json:"valueMappings,omitempty"`
	StatusMappings   map[string]map[string]string `json:"statusMappings,omitempty"`
	TransitionKey    string                       `json:"transitionKey,omitempty"`
}

// Wizard drives a user through choosing issues, an operation and its details, then submits it.
// One wizard state is kept per session; every call loads it, checks the requested step is reachable
// and stores it again.
type Wizard struct {
	store     wizard.Store
	registry  *operation.Registry
	submitter *Submitter
	tasks     *taskmanager.Manager
	remapper  *remap.Remapper
	grouper   *transition.Grouper
	issues    repository.IssueRepository
	maxIssues int
}

func NewWizard(
	store wizard.Store,
	registry *operation.Registry,
	submitter *Submitter,
	tasks *taskmanager.Manager,
	remapper *remap.Remapper,
	grouper *transition.Grouper,
	issues repository.IssueRepository,
	maxIssues int,
) *Wizard {
	return &Wizard{
		store:     store,
		registry:  registry,
		submitter: submitter,
		tasks:     tasks,
		remapper:  remapper,
		grouper:   grouper,
		issues:    issues,
		maxIssues: maxIssues,
	}
}

// Start discards any wizard state of the session and starts again with the given issues selected.
// A task submitted by the discarded state carries on running.
func (w *Wizard) Start(ctx context.Context, sessionId string, issueIds []int64) (*wizard.State, error) {
	state, err := wizard.NewState(authorization.GetPrincipal(ctx).GetName(), w.maxIssues)
	if err != nil {
		return nil, err
	}
	if len(issueIds) == 0 {
		return nil, bulkerrors.NewValidationError("", "no issues selected")
	}
	issues, err := w.issues.GetIssues(ctx, issueIds)
	if err != nil {
		return nil, err
	}
	if err := state.InitSelectedIssues(issues); err != nil {
		return nil, err
	}
	state.CompleteStep()
	if err := w.store.Put(ctx, sessionId, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (w *Wizard) State(ctx context.Context, sessionId string) (*wizard.State, error) {
	return w.load(ctx, sessionId)
}

// Cancel discards the wizard state of the session.
func (w *Wizard) Cancel(ctx context.Context, sessionId string) error {
	return w.store.Delete(ctx, sessionId)
}

// Operations returns the operations the user may run on the selection.
func (w *Wizard) Operations(ctx context.Context, sessionId string) ([]operation.Operation, error) {
	state, err := w.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	var ops []operation.Operation
	for _, op := range w.registry.Applicable(ctx, state.Selection()) {
		if w.submitter.CanPerform(ctx, op, state.Selection()) {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// ChooseOperation sets the operation to run and narrows the selection to the issues it accepts.
func (w *Wizard) ChooseOperation(ctx context.Context, sessionId string, kind operation.Kind) (*wizard.State, error) {
	state, err := w.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if err := state.SetCurrentStep(wizard.StepChooseOperation); err != nil {
		return nil, err
	}
	op, err := w.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	if state.OperationName != string(kind) {
		resetDetails(state)
	}
	if err := state.SetOperation(string(kind), op.Filter()); err != nil {
		return nil, err
	}
	if state.Selection().IsEmpty() {
		return nil, bulkerrors.NewValidationError("", "none of the selected issues can be changed by %s", DisplayName(kind))
	}
	if err := w.submitter.Authorize(ctx, op, state.Selection()); err != nil {
		return nil, err
	}
	if err := w.recordSubTasks(ctx, state, kind); err != nil {
		return nil, err
	}
	state.CompleteStep()
	if err := w.store.Put(ctx, sessionId, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Actions returns the fields the chosen operation may change.
func (w *Wizard) Actions(ctx context.Context, sessionId string) (*operation.Actions, error) {
	state, op, err := w.loadWithOperation(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return op.Actions(ctx, state.Selection())
}

// Transitions returns the workflow transitions available to the selection.
func (w *Wizard) Transitions(ctx context.Context, sessionId string) (*transition.Groups, error) {
	state, err := w.load(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return w.grouper.Group(ctx, state.Selection().Issues())
}

// SetDetails records details and validates them against the chosen operation. The choices are kept
// even when they're invalid so the user can correct them. For moves the plan is returned so it can
// be previewed, including when it fails validation.
func (w *Wizard) SetDetails(ctx context.Context, sessionId string, details *Details) (*wizard.State, *remap.Plan, error) {
	state, op, err := w.loadWithOperation(ctx, sessionId)
	if err != nil {
		return nil, nil, err
	}
	if err := state.SetCurrentStep(wizard.StepOperationDetails); err != nil {
		return nil, nil, err
	}
	applyDetails(state, details)

	req, err := w.request(ctx, state, op)
	if err == nil {
		err = op.Validate(ctx, req)
	}
	if err == nil {
		state.CompleteStep()
	}
	if putErr := w.store.Put(ctx, sessionId, state); putErr != nil {
		return nil, nil, putErr
	}
	if req != nil {
		return state, req.Plan, err
	}
	return state, nil, err
}

// Confirm submits the operation. operationId must match the wizard state, so that a form from a
// wizard that has since been restarted can't submit the new one.
// Confirming an already submitted wizard returns the task it submitted.
func (w *Wizard) Confirm(ctx context.Context, sessionId string, operationId string) (*taskmanager.Task, error) {
	state, op, err := w.loadWithOperation(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if state.OperationId != operationId {
		return nil, &bulkerrors.ErrState{Step: state.CurrentStep(), Message: "the bulk operation was restarted in another window"}
	}
	if state.IsLocked() {
		return w.tasks.GetTask(state.TaskId)
	}
	if state.CurrentStep() != wizard.StepConfirmation {
		return nil, &bulkerrors.ErrState{Step: state.CurrentStep(), Message: "operation details are incomplete"}
	}
	req, err := w.request(ctx, state, op)
	if err != nil {
		return nil, err
	}
	task, err := w.submitter.Submit(ctx, op, req)
	if err != nil {
		return nil, err
	}
	state.Lock(task.Id())
	if err := w.store.Put(ctx, sessionId, state); err != nil {
		log.WithError(err).WithField("task", task.Id()).Warn("bulk operation submitted but wizard state not saved")
		return nil, err
	}
	return task, nil
}

func (w *Wizard) load(ctx context.Context, sessionId string) (*wizard.State, error) {
	state, err := w.store.Get(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if user := authorization.GetPrincipal(ctx).GetName(); state.User != user {
		return nil, &bulkerrors.ErrState{Message: "the bulk operation was started by another user"}
	}
	return state, nil
}

func (w *Wizard) loadWithOperation(ctx context.Context, sessionId string) (*wizard.State, operation.Operation, error) {
	state, err := w.load(ctx, sessionId)
	if err != nil {
		return nil, nil, err
	}
	if state.OperationName == "" {
		return nil, nil, &bulkerrors.ErrState{Step: state.CurrentStep(), Message: "no operation chosen"}
	}
	op, err := w.registry.Get(operation.Kind(state.OperationName))
	if err != nil {
		return nil, nil, err
	}
	return state, op, nil
}

// recordSubTasks notes the subtasks that move along with their parents.
func (w *Wizard) recordSubTasks(ctx context.Context, state *wizard.State, kind operation.Kind) error {
	if kind != operation.BulkMove && kind != operation.BulkMigrate {
		state.SetSubTasks(nil)
		return nil
	}
	var subTasks []*domain.Issue
	for _, issue := range state.Selection().Issues() {
		if issue.IsSubTask() {
			continue
		}
		children, err := w.issues.GetSubtasks(ctx, issue.Id)
		if err != nil {
			return err
		}
		subTasks = append(subTasks, children...)
	}
	state.SetSubTasks(subTasks)
	return nil
}

// request snapshots state into the request the operation is validated and run with.
func (w *Wizard) request(ctx context.Context, state *wizard.State, op operation.Operation) (*operation.Request, error) {
	req := &operation.Request{
		Selection:        state.Selection(),
		FieldValues:      state.FieldValues,
		Actions:          state.Actions.Values(),
		SendNotification: state.SendNotification,
	}
	switch op.Kind() {
	case operation.BulkMove, operation.BulkMigrate:
		plan, err := w.remapper.Build(ctx, remapRequest(state))
		req.Plan = plan
		if err != nil {
			return req, err
		}
	case operation.BulkWorkflowTransition:
		if state.TransitionKey == "" {
			break
		}
		key, err := transition.Decode(state.TransitionKey)
		if err != nil {
			return req, bulkerrors.NewValidationError(operation.TransitionField, "%s", err)
		}
		req.Transition = key
		// Only the issues the chosen transition is available to take part.
		groups, err := w.grouper.Group(ctx, req.Selection.Issues())
		if err != nil {
			return req, err
		}
		if group, ok := groups.Get(key); ok {
			req.Selection = domain.NewSelection(group.Issues)
		}
	}
	return req, nil
}

func remapRequest(state *wizard.State) remap.Request {
	targets := make(map[domain.ContextKey]domain.ContextKey, len(state.Targets))
	for _, t := range state.Targets {
		targets[t.Source] = t.Target
	}
	return remap.Request{
		Issues:         state.Selection().Issues(),
		Targets:        targets,
		ChildTypes:     state.ChildTypes,
		ValueMappings:  state.ValueMappings,
		StatusMappings: state.StatusMappings,
		Retained:       state.Retained,
		FieldValues:    state.FieldValues,
	}
}

func applyDetails(state *wizard.State, d *Details) {
	state.FieldValues = d.FieldValues
	state.Actions.Clear()
	for _, a := range d.Actions {
		state.Actions.Put(a)
	}
	state.Retained = d.Retained
	if d.SendNotification != nil {
		state.SendNotification = *d.SendNotification
	}
	for _, t := range d.Targets {
		state.SetTarget(t.Source, t.Target)
	}
	for source, childType := range d.ChildTypes {
		state.ChildTypes[source] = childType
	}
	for fieldId, mappings := range d.ValueMappings {
		state.AddValueMappings(fieldId, mappings)
	}
	for source, mappings := range d.StatusMappings {
		if state.StatusMappings[source] == nil {
			state.StatusMappings[source] = map[string]string{}
		}
		for from, to := range mappings {
			state.StatusMappings[source][from] = to
		}
	}
	state.TransitionKey = d.TransitionKey
}

func resetDetails(state *wizard.State) {
	state.FieldValues = domain.NewFieldValues()
	state.Actions.Clear()
	state.Retained = nil
	state.Targets = nil
	state.ChildTypes = map[string]string{}
	state.ValueMappings = map[string]map[int64]int64{}
	state.StatusMappings = map[string]map[string]string{}
	state.TransitionKey = ""
}
