package remap

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// StatusField is the field id validation errors about unmapped statuses are reported against.
const StatusField = "status"

// TargetField is the field id validation errors about missing targets are reported against.
const TargetField = "target"

type WorkflowResolver interface {
	WorkflowFor(ctx context.Context, key domain.ContextKey) (*domain.Workflow, error)
}

type SubtaskSource interface {
	GetSubtasks(ctx context.Context, parentId int64) ([]*domain.Issue, error)
}

type Request struct {
	Issues []*domain.Issue
	// Source context -> target context of the selected issues.
	Targets map[domain.ContextKey]domain.ContextKey
	// Source subtask context (as ContextKey.String()) -> subtask issue type in the target project.
	// Subtasks keep their issue type if unset.
	ChildTypes map[string]string
	// Field id -> source option id -> target option id.
	ValueMappings map[string]map[int64]int64
	// Source context (as ContextKey.String()) -> source status -> target status.
	StatusMappings map[string]map[string]string
	// Fields whose values are kept, rather than replaced by FieldValues, if they're valid in the target.
	Retained    []string
	FieldValues domain.FieldValues
}

// Remapper plans moving issues between contexts.
type Remapper struct {
	fields    repository.FieldConfigRepository
	workflows WorkflowResolver
	subtasks  SubtaskSource
}

func NewRemapper(fields repository.FieldConfigRepository, workflows WorkflowResolver, subtasks SubtaskSource) *Remapper {
	return &Remapper{
		fields:    fields,
		workflows: workflows,
		subtasks:  subtasks,
	}
}

// Build plans the move described by req.
//
// Option values carry over to the target if they're valid there, or if an option with an identical
// name exists there. Otherwise the user's mapping for the value is used. Values left unmapped are
// dropped with a warning, except on retain-mandatory fields where they are a validation error.
// Statuses missing from the target workflow must be mapped by the user. Every field required in the
// target must end up with a value, carried over or chosen.
//
// Subtasks of moved issues get a child node per distinct subtask context that changes, and so on
// down. The plan is returned along with any *bulkerrors.ErrValidation so it can still be shown.
func (r *Remapper) Build(ctx context.Context, req Request) (*Plan, error) {
	plan := newPlan(req.FieldValues, req.Retained)
	verr := &bulkerrors.ErrValidation{}
	seen := map[int64]bool{}

	for _, group := range groupByContext(req.Issues, seen) {
		target, ok := req.Targets[group.context]
		if !ok {
			verr.Add(TargetField, "no target chosen for issues in %s", group.context)
			continue
		}
		idx, err := r.buildNode(ctx, req, plan, group.context, target, group.issues, 0, -1, verr)
		if err != nil {
			return nil, err
		}
		if err := r.buildChildren(ctx, req, plan, idx, seen, verr); err != nil {
			return nil, err
		}
	}
	return plan, verr.ErrorOrNil()
}

func (r *Remapper) buildChildren(ctx context.Context, req Request, plan *Plan, parentIdx int, seen map[int64]bool, verr *bulkerrors.ErrValidation) error {
	parent := plan.nodes[parentIdx]
	var subtasks []*domain.Issue
	for _, issue := range parent.Issues {
		children, err := r.subtasks.GetSubtasks(ctx, issue.Id)
		if err != nil {
			return err
		}
		subtasks = append(subtasks, children...)
	}
	for _, group := range groupByContext(subtasks, seen) {
		target := domain.ContextKey{ProjectId: parent.Target.ProjectId, IssueTypeId: group.context.IssueTypeId}
		if childType, ok := req.ChildTypes[group.context.String()]; ok && childType != "" {
			target.IssueTypeId = childType
		}
		if target == group.context {
			continue
		}
		idx, err := r.buildNode(ctx, req, plan, group.context, target, group.issues, parent.Depth+1, parentIdx, verr)
		if err != nil {
			return err
		}
		if err := r.buildChildren(ctx, req, plan, idx, seen, verr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Remapper) buildNode(
	ctx context.Context,
	req Request,
	plan *Plan,
	source domain.ContextKey,
	target domain.ContextKey,
	issues []*domain.Issue,
	depth int,
	parent int,
	verr *bulkerrors.ErrValidation,
) (int, error) {
	sourceFields, err := r.fields.FieldsFor(ctx, source)
	if err != nil {
		return 0, err
	}
	targetFields, err := r.fields.FieldsFor(ctx, target)
	if err != nil {
		return 0, err
	}
	n := &Node{
		Source:        source,
		Target:        target,
		Issues:        issues,
		Fields:        targetFields,
		Substitutions: map[string]Substitution{},
		Statuses:      map[string]string{},
		Depth:         depth,
	}
	logger := log.WithFields(log.Fields{"source": source.String(), "target": target.String()})

	for _, sf := range sourceFields {
		tf, ok := findField(targetFields, sf.Id)
		if !ok {
			if anyHasValue(issues, sf) {
				n.warn(logger, "%s is not present in %s and will be dropped", sf.Name, target)
			}
			continue
		}
		if tf.Kind != domain.OptionField {
			continue
		}
		tf.RetainMandatory = tf.RetainMandatory || sf.RetainMandatory
		sub, err := r.substitution(ctx, req, n, tf, verr, logger)
		if err != nil {
			return 0, err
		}
		n.Substitutions[tf.Id] = sub
	}

	if err := r.mapStatuses(ctx, req, n, verr); err != nil {
		return 0, err
	}
	for _, f := range n.Fields {
		if missing := n.missingRequired(f, plan.values, plan.retained); len(missing) > 0 {
			verr.Add(f.Id, "%s is required in %s but has no value for %s", f.Name, target, strings.Join(missing, ", "))
		}
	}

	preview := &domain.Issue{ProjectId: source.ProjectId, IssueTypeId: source.IssueTypeId}
	if len(issues) > 0 {
		preview.StatusId = issues[0].StatusId
	}
	n.Preview = n.apply(preview, plan.values, plan.retained)

	return plan.add(n, parent), nil
}

func (r *Remapper) substitution(
	ctx context.Context,
	req Request,
	n *Node,
	field domain.Field,
	verr *bulkerrors.ErrValidation,
	logger *log.Entry,
) (Substitution, error) {
	sourceOptions, err := r.fields.OptionsFor(ctx, n.Source, field.Id)
	if err != nil {
		return nil, err
	}
	targetOptions, err := r.fields.OptionsFor(ctx, n.Target, field.Id)
	if err != nil {
		return nil, err
	}
	userMappings := req.ValueMappings[field.Id]
	sub := Substitution{}

	for _, v := range usedValues(n.Issues, field.Id) {
		if hasOption(targetOptions, v) {
			sub[v] = v
			continue
		}
		name := optionName(sourceOptions, v)
		if match, ok := optionByName(targetOptions, name); ok {
			sub[v] = match
			continue
		}
		if to, ok := userMappings[v]; ok {
			if to != domain.NoValue && !hasOption(targetOptions, to) {
				verr.Add(field.Id, "%s is not a valid value for %s in %s", optionLabel(targetOptions, to), field.Name, n.Target)
				continue
			}
			sub[v] = to
			continue
		}
		if field.RetainMandatory {
			verr.Add(field.Id, "%s value %s has no match in %s and must be mapped", field.Name, name, n.Target)
			continue
		}
		n.warn(logger, "%s value %s has no match in %s and will be dropped", field.Name, name, n.Target)
	}

	if to, ok := userMappings[domain.NoValue]; ok && (to == domain.NoValue || hasOption(targetOptions, to)) {
		sub[domain.NoValue] = to
	}
	return sub, nil
}

func (r *Remapper) mapStatuses(ctx context.Context, req Request, n *Node, verr *bulkerrors.ErrValidation) error {
	w, err := r.workflows.WorkflowFor(ctx, n.Target)
	if err != nil {
		return err
	}
	mappings := req.StatusMappings[n.Source.String()]
	var unmapped []string
	for _, issue := range n.Issues {
		if issue.StatusId == "" {
			verr.Add(StatusField, "%s has no status", issue.Key)
			continue
		}
		if _, done := n.Statuses[issue.StatusId]; done || slices.Contains(unmapped, issue.StatusId) {
			continue
		}
		if w.HasStatus(issue.StatusId) {
			n.Statuses[issue.StatusId] = issue.StatusId
			continue
		}
		to, ok := mappings[issue.StatusId]
		if !ok || !w.HasStatus(to) {
			unmapped = append(unmapped, issue.StatusId)
			verr.Add(StatusField, "status %s of issues in %s does not exist in workflow %s and must be mapped", issue.StatusId, n.Source, w.Name)
			continue
		}
		n.Statuses[issue.StatusId] = to
	}
	return nil
}

func (n *Node) warn(logger *log.Entry, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Debug(msg)
	n.Warnings = append(n.Warnings, msg)
}

type contextGroup struct {
	context domain.ContextKey
	issues  []*domain.Issue
}

// groupByContext groups issues not already in seen by context, in order of first appearance.
func groupByContext(issues []*domain.Issue, seen map[int64]bool) []*contextGroup {
	var groups []*contextGroup
	index := map[domain.ContextKey]*contextGroup{}
	for _, issue := range issues {
		if seen[issue.Id] {
			continue
		}
		seen[issue.Id] = true
		key := issue.Context()
		g, ok := index[key]
		if !ok {
			g = &contextGroup{context: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.issues = append(g.issues, issue)
	}
	return groups
}

func usedValues(issues []*domain.Issue, fieldId string) []int64 {
	var values []int64
	for _, issue := range issues {
		for _, v := range issue.Options[fieldId] {
			if !slices.Contains(values, v) {
				values = append(values, v)
			}
		}
	}
	return values
}

func anyHasValue(issues []*domain.Issue, field domain.Field) bool {
	for _, issue := range issues {
		if !issue.FieldIsEmpty(field) {
			return true
		}
	}
	return false
}

func findField(fields []domain.Field, id string) (domain.Field, bool) {
	for _, f := range fields {
		if f.Id == id {
			return f, true
		}
	}
	return domain.Field{}, false
}

func hasOption(options []domain.Option, id int64) bool {
	for _, o := range options {
		if o.Id == id {
			return true
		}
	}
	return false
}

func optionName(options []domain.Option, id int64) string {
	for _, o := range options {
		if o.Id == id {
			return o.Name
		}
	}
	return ""
}

func optionLabel(options []domain.Option, id int64) string {
	if name := optionName(options, id); name != "" {
		return name
	}
	return fmt.Sprintf("%d", id)
}

func optionByName(options []domain.Option, name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	for _, o := range options {
		if o.Name == name {
			return o.Id, true
		}
	}
	return 0, false
}
