package wizard

import (
	"encoding/json"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
	"github.com/G-Research/bulkchange/internal/common/util"
)

// Wizard steps.
const (
	StepChooseIssues     = 1
	StepChooseOperation  = 2
	StepOperationDetails = 3
	StepConfirmation     = 4
)

// NoIssueLimit disables the limit on the number of selected issues.
const NoIssueLimit = -1

// SelectionFilter restricts which kinds of issue an operation accepts.
type SelectionFilter int

const (
	AllIssues SelectionFilter = iota
	ParentsOnly
	SubTasksOnly
)

func (f SelectionFilter) accepts(issue *domain.Issue) bool {
	switch f {
	case ParentsOnly:
		return !issue.IsSubTask()
	case SubTasksOnly:
		return issue.IsSubTask()
	}
	return true
}

// TargetMapping is the context the user chose for issues currently in Source.
type TargetMapping struct {
	Source domain.ContextKey `json:"source"`
	Target domain.ContextKey `json:"target"`
}

// State is the in-progress bulk operation of a single user session.
// State is not threadsafe; it is loaded, modified and stored again within one request.
type State struct {
	// Identifies this wizard run, so that requests from a stale browser tab can be detected.
	OperationId   string
	User          string
	OperationName string
	FieldValues   domain.FieldValues
	Actions       *ActionMap
	// Field ids whose current values should be kept when moving, if they are valid in the target.
	Retained         []string
	SendNotification bool
	// Move and migrate choices.
	Targets    []TargetMapping
	ChildTypes map[string]string
	// Field id -> source option id -> target option id.
	ValueMappings map[string]map[int64]int64
	// Source context -> source status -> target status.
	StatusMappings map[string]map[string]string
	// Encoded transition key chosen for a workflow transition.
	TransitionKey string
	// Id of the task executing this operation, once submitted.
	TaskId string

	currentStep  int
	visitedSteps map[int]bool
	maxIssues    int
	filter       SelectionFilter
	chosen       []*domain.Issue
	selection    domain.Selection
	subTasks     domain.Selection
}

func NewState(user string, maxIssues int) (*State, error) {
	s := &State{
		OperationId:      util.NewUUID(),
		User:             user,
		Actions:          NewActionMap(),
		SendNotification: true,
		ChildTypes:       map[string]string{},
		ValueMappings:    map[string]map[int64]int64{},
		StatusMappings:   map[string]map[string]string{},
		currentStep:      StepChooseIssues,
		visitedSteps:     map[int]bool{},
		maxIssues:        NoIssueLimit,
	}
	if err := s.SetMaxIssues(maxIssues); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) CurrentStep() int {
	return s.currentStep
}

// SetCurrentStep moves the wizard to step, which must either have been reached before or be the step
// directly after the current one.
func (s *State) SetCurrentStep(step int) error {
	if step != s.currentStep && step != s.currentStep+1 && !s.visitedSteps[step] {
		return &bulkerrors.ErrState{
			Step:    s.currentStep,
			Message: fmt.Sprintf("step %d is not reachable from step %d", step, s.currentStep),
		}
	}
	s.currentStep = step
	return nil
}

func (s *State) AddAvailablePreviousStep(step int) {
	s.visitedSteps[step] = true
}

func (s *State) ClearAvailablePreviousSteps() {
	s.visitedSteps = map[int]bool{}
}

func (s *State) IsAvailablePreviousStep(step int) bool {
	return s.visitedSteps[step]
}

func (s *State) AvailablePreviousSteps() []int {
	steps := maps.Keys(s.visitedSteps)
	slices.Sort(steps)
	return steps
}

// CompleteStep whitelists every step up to and including the current one and advances to the next.
func (s *State) CompleteStep() {
	s.ClearAvailablePreviousSteps()
	for step := StepChooseIssues; step <= s.currentStep; step++ {
		s.AddAvailablePreviousStep(step)
	}
	s.currentStep++
}

func (s *State) MaxIssues() int {
	return s.maxIssues
}

func (s *State) SetMaxIssues(maxIssues int) error {
	if maxIssues < NoIssueLimit {
		return &bulkerrors.ErrInvalidArgument{
			Name:    "maxIssues",
			Value:   fmt.Sprint(maxIssues),
			Message: "must be -1 (no limit) or greater",
		}
	}
	s.maxIssues = maxIssues
	return nil
}

func (s *State) IsLocked() bool {
	return s.TaskId != ""
}

// Lock freezes the selection once taskId has been submitted for it.
func (s *State) Lock(taskId string) {
	s.TaskId = taskId
}

// InitSelectedIssues replaces the selection. Issues the active operation doesn't accept are dropped.
func (s *State) InitSelectedIssues(issues []*domain.Issue) error {
	if s.IsLocked() {
		return &bulkerrors.ErrState{Step: s.currentStep, Message: "selection can't change once the operation was submitted"}
	}
	if s.maxIssues != NoIssueLimit && len(issues) > s.maxIssues {
		return bulkerrors.NewValidationError("", "%d issues selected but at most %d may be changed at once", len(issues), s.maxIssues)
	}
	s.chosen = domain.NewSelection(issues).Issues()
	s.applyFilter()
	return nil
}

// SetOperation records the chosen operation and narrows the selection to the issues it accepts.
func (s *State) SetOperation(name string, filter SelectionFilter) error {
	if s.IsLocked() {
		return &bulkerrors.ErrState{Step: s.currentStep, Message: "operation can't change once submitted"}
	}
	s.OperationName = name
	s.filter = filter
	s.applyFilter()
	return nil
}

func (s *State) applyFilter() {
	var accepted []*domain.Issue
	for _, issue := range s.chosen {
		if s.filter.accepts(issue) {
			accepted = append(accepted, issue)
		}
	}
	s.selection = domain.NewSelection(accepted)
}

func (s *State) Selection() domain.Selection {
	return s.selection
}

// SetSubTasks records subtasks of selected issues that will be affected without being selected.
func (s *State) SetSubTasks(subTasks []*domain.Issue) {
	s.subTasks = domain.NewSelection(subTasks)
}

func (s *State) SubTasks() domain.Selection {
	return s.subTasks
}

func (s *State) SubTaskCount() int {
	return s.subTasks.Len()
}

// IsSubTaskCollection is true if any selected issue is a subtask.
func (s *State) IsSubTaskCollection() bool {
	for _, issue := range s.selection.Issues() {
		if issue.IsSubTask() {
			return true
		}
	}
	return false
}

// IsSubTaskOnly is true if the selection is non-empty and every selected issue is a subtask.
func (s *State) IsSubTaskOnly() bool {
	if s.selection.IsEmpty() {
		return false
	}
	for _, issue := range s.selection.Issues() {
		if !issue.IsSubTask() {
			return false
		}
	}
	return true
}

// SelectedIssuesIncludingSubTasks returns selected issues and their recorded subtasks, sorted by key.
func (s *State) SelectedIssuesIncludingSubTasks() []*domain.Issue {
	issues := s.selection.Issues()
	for _, sub := range s.subTasks.Issues() {
		if !s.selection.Contains(sub.Id) {
			issues = append(issues, sub)
		}
	}
	slices.SortFunc(issues, func(a, b *domain.Issue) bool { return a.Key < b.Key })
	return issues
}

func (s *State) SetFieldValue(fieldId string, value domain.Value) {
	s.FieldValues = s.FieldValues.With(fieldId, value)
}

func (s *State) SetTarget(source domain.ContextKey, target domain.ContextKey) {
	for i := range s.Targets {
		if s.Targets[i].Source == source {
			s.Targets[i].Target = target
			return
		}
	}
	s.Targets = append(s.Targets, TargetMapping{Source: source, Target: target})
}

// AddValueMappings merges mappings for fieldId into those already chosen. New choices win.
func (s *State) AddValueMappings(fieldId string, mappings map[int64]int64) {
	existing, ok := s.ValueMappings[fieldId]
	if !ok {
		existing = map[int64]int64{}
		s.ValueMappings[fieldId] = existing
	}
	for from, to := range mappings {
		existing[from] = to
	}
}

func (s *State) AddStatusMapping(source domain.ContextKey, from string, to string) {
	key := source.String()
	if s.StatusMappings[key] == nil {
		s.StatusMappings[key] = map[string]string{}
	}
	s.StatusMappings[key][from] = to
}

type stateJSON struct {
	OperationId      string                       `json:"operationId"`
	User             string                       `json:"user"`
	OperationName    string                       `json:"operationName,omitempty"`
	FieldValues      domain.FieldValues           `json:"fieldValues"`
	Actions          *ActionMap                   `json:"actions"`
	Retained         []string                     `json:"retained,omitempty"`
	SendNotification bool                         `json:"sendNotification"`
	Targets          []TargetMapping              `json:"targets,omitempty"`
	ChildTypes       map[string]string            `json:"childTypes,omitempty"`
	ValueMappings    map[string]map[int64]int64   `json:"valueMappings,omitempty"`
	StatusMappings   map[string]map[string]string `json:"statusMappings,omitempty"`
	TransitionKey    string                       `json:"transitionKey,omitempty"`
	TaskId           string                       `json:"taskId,omitempty"`
	CurrentStep      int                          `json:"currentStep"`
	VisitedSteps     []int                        `json:"visitedSteps,omitempty"`
	MaxIssues        int                          `json:"maxIssues"`
	Filter           SelectionFilter              `json:"filter"`
	Chosen           []*domain.Issue              `json:"chosen,omitempty"`
	SubTasks         domain.Selection             `json:"subTasks"`
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		OperationId:      s.OperationId,
		User:             s.User,
		OperationName:    s.OperationName,
		FieldValues:      s.FieldValues,
		Actions:          s.Actions,
		Retained:         s.Retained,
		SendNotification: s.SendNotification,
		Targets:          s.Targets,
		ChildTypes:       s.ChildTypes,
		ValueMappings:    s.ValueMappings,
		StatusMappings:   s.StatusMappings,
		TransitionKey:    s.TransitionKey,
		TaskId:           s.TaskId,
		CurrentStep:      s.currentStep,
		VisitedSteps:     s.AvailablePreviousSteps(),
		MaxIssues:        s.maxIssues,
		Filter:           s.filter,
		Chosen:           s.chosen,
		SubTasks:         s.subTasks,
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var j stateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*s = State{
		OperationId:      j.OperationId,
		User:             j.User,
		OperationName:    j.OperationName,
		FieldValues:      j.FieldValues,
		Actions:          j.Actions,
		Retained:         j.Retained,
		SendNotification: j.SendNotification,
		Targets:          j.Targets,
		ChildTypes:       j.ChildTypes,
		ValueMappings:    j.ValueMappings,
		StatusMappings:   j.StatusMappings,
		TransitionKey:    j.TransitionKey,
		TaskId:           j.TaskId,
		currentStep:      j.CurrentStep,
		visitedSteps:     map[int]bool{},
		maxIssues:        j.MaxIssues,
		filter:           j.Filter,
		chosen:           j.Chosen,
		subTasks:         j.SubTasks,
	}
	for _, step := range j.VisitedSteps {
		s.visitedSteps[step] = true
	}
	if s.Actions == nil {
		s.Actions = NewActionMap()
	}
	if s.ChildTypes == nil {
		s.ChildTypes = map[string]string{}
	}
	if s.ValueMappings == nil {
		s.ValueMappings = map[string]map[int64]int64{}
	}
	if s.StatusMappings == nil {
		s.StatusMappings = map[string]map[string]string{}
	}
	s.applyFilter()
	return nil
}
