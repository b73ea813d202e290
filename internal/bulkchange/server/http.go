package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

const (
	WizardPath = "/api/v1/bulk/"
	TasksPath  = "/api/v1/tasks"
)

// ProgressUrl is where the progress of task can be polled.
func ProgressUrl(taskId string) string {
	return TasksPath + "/" + taskId
}

type startRequest struct {
	IssueIds []int64 `json:"issueIds"`
}

type operationRequest struct {
	Operation operation.Kind `json:"operation"`
}

type confirmRequest struct {
	OperationId string `json:"operationId"`
}

type submitResponse struct {
	TaskId      string `json:"taskId"`
	ProgressUrl string `json:"progressUrl"`
}

type operationOption struct {
	Kind operation.Kind `json:"kind"`
	Name string         `json:"name"`
}

type actionsResponse struct {
	Visible []domain.Field `json:"visible"`
	Hidden  []domain.Field `json:"hidden"`
}

type stateResponse struct {
	OperationId            string          `json:"operationId"`
	Operation              string          `json:"operation,omitempty"`
	Step                   int             `json:"step"`
	AvailablePreviousSteps []int           `json:"availablePreviousSteps"`
	Issues                 []string        `json:"issues"`
	SubTasks               []string        `json:"subTasks,omitempty"`
	TaskId                 string          `json:"taskId,omitempty"`
	ProgressUrl            string          `json:"progressUrl,omitempty"`
	Mappings               []mappingView   `json:"mappings,omitempty"`
	Warnings               []string        `json:"warnings,omitempty"`
	Errors                 *errorsResponse `json:"errors,omitempty"`
}

type mappingView struct {
	Source   domain.ContextKey `json:"source"`
	Target   domain.ContextKey `json:"target"`
	Depth    int               `json:"depth"`
	Issues   []string          `json:"issues"`
	Statuses map[string]string `json:"statuses,omitempty"`
	Preview  *domain.Issue     `json:"preview,omitempty"`
}

type transitionView struct {
	Key         string   `json:"key"`
	ActionId    int      `json:"actionId"`
	ActionName  string   `json:"actionName"`
	Destination string   `json:"destination"`
	IssueCount  int      `json:"issueCount"`
	ShortList   []string `json:"shortList"`
	More        bool     `json:"more"`
}

type workflowView struct {
	Workflow    string           `json:"workflow"`
	Transitions []transitionView `json:"transitions"`
}

type transitionsResponse struct {
	Workflows []workflowView `json:"workflows"`
	Skipped   []string       `json:"skipped,omitempty"`
}

type errorsResponse struct {
	Message       string              `json:"message"`
	Fields        map[string][]string `json:"fields,omitempty"`
	AffectedCount int                 `json:"affectedCount,omitempty"`
	// Set when the wizard must be started again.
	Restart bool `json:"restart,omitempty"`
}

type Handler struct {
	wizard *Wizard
	tasks  *taskmanager.Manager
	mux    *http.ServeMux
}

// NewHandler serves the wizard and task APIs. The user is taken from headers set by a fronting proxy.
func NewHandler(w *Wizard, tasks *taskmanager.Manager) http.Handler {
	h := &Handler{wizard: w, tasks: tasks, mux: http.NewServeMux()}
	h.mux.HandleFunc(WizardPath, h.serveWizard)
	h.mux.HandleFunc(TasksPath, h.serveTasks)
	h.mux.HandleFunc(TasksPath+"/", h.serveTask)
	return authorization.HeaderAuthMiddleware(h.mux)
}

func (h *Handler) serveWizard(w http.ResponseWriter, r *http.Request) {
	sessionId, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, WizardPath), "/")
	if sessionId == "" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	switch {
	case action == "" && r.Method == http.MethodGet:
		state, err := h.wizard.State(ctx, sessionId)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newStateResponse(state, nil))

	case action == "" && r.Method == http.MethodDelete:
		if err := h.wizard.Cancel(ctx, sessionId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case action == "issues" && r.Method == http.MethodPost:
		var req startRequest
		if !readJSON(w, r, &req) {
			return
		}
		state, err := h.wizard.Start(ctx, sessionId, req.IssueIds)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newStateResponse(state, nil))

	case action == "operations" && r.Method == http.MethodGet:
		ops, err := h.wizard.Operations(ctx, sessionId)
		if err != nil {
			writeError(w, err)
			return
		}
		options := make([]operationOption, 0, len(ops))
		for _, op := range ops {
			options = append(options, operationOption{Kind: op.Kind(), Name: DisplayName(op.Kind())})
		}
		writeJSON(w, http.StatusOK, options)

	case action == "operation" && r.Method == http.MethodPost:
		var req operationRequest
		if !readJSON(w, r, &req) {
			return
		}
		state, err := h.wizard.ChooseOperation(ctx, sessionId, req.Operation)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newStateResponse(state, nil))

	case action == "actions" && r.Method == http.MethodGet:
		actions, err := h.wizard.Actions(ctx, sessionId)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, actionsResponse{Visible: actions.Visible, Hidden: actions.Hidden})

	case action == "transitions" && r.Method == http.MethodGet:
		groups, err := h.wizard.Transitions(ctx, sessionId)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newTransitionsResponse(groups))

	case action == "details" && r.Method == http.MethodPost:
		var details Details
		if !readJSON(w, r, &details) {
			return
		}
		state, plan, err := h.wizard.SetDetails(ctx, sessionId, &details)
		if state == nil {
			writeError(w, err)
			return
		}
		resp := newStateResponse(state, plan)
		status := http.StatusOK
		if err != nil {
			status, resp.Errors = errorResponse(err)
		}
		writeJSON(w, status, resp)

	case action == "confirm" && r.Method == http.MethodPost:
		var req confirmRequest
		if !readJSON(w, r, &req) {
			return
		}
		task, err := h.wizard.Confirm(ctx, sessionId, req.OperationId)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{TaskId: task.Id(), ProgressUrl: ProgressUrl(task.Id())})

	default:
		http.Error(w, "unsupported request", http.StatusMethodNotAllowed)
	}
}

// serveTasks lists live tasks, or every task held if all=true.
func (h *Handler) serveTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "unsupported request", http.StatusMethodNotAllowed)
		return
	}
	var tasks []*taskmanager.Task
	var err error
	if r.URL.Query().Get("all") == "true" {
		tasks, err = h.tasks.AllTasks()
	} else {
		tasks, err = h.tasks.LiveTasks()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	statuses := make([]*taskmanager.Status, 0, len(tasks))
	for _, t := range tasks {
		statuses = append(statuses, t.Status())
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) serveTask(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, TasksPath+"/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		task, err := h.tasks.GetTask(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task.Status())
	case http.MethodDelete:
		if err := h.tasks.RemoveTask(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported request", http.StatusMethodNotAllowed)
	}
}

func newStateResponse(state *wizard.State, plan *remap.Plan) *stateResponse {
	resp := &stateResponse{
		OperationId:            state.OperationId,
		Operation:              state.OperationName,
		Step:                   state.CurrentStep(),
		AvailablePreviousSteps: state.AvailablePreviousSteps(),
		Issues:                 state.Selection().Keys(),
		SubTasks:               state.SubTasks().Keys(),
		TaskId:                 state.TaskId,
	}
	if state.IsLocked() {
		resp.ProgressUrl = ProgressUrl(state.TaskId)
	}
	if plan != nil {
		plan.Walk(func(n *remap.Node) {
			resp.Mappings = append(resp.Mappings, mappingView{
				Source:   n.Source,
				Target:   n.Target,
				Depth:    n.Depth,
				Issues:   n.IssueKeys(),
				Statuses: n.Statuses,
				Preview:  n.Preview,
			})
		})
		resp.Warnings = plan.Warnings()
	}
	return resp
}

func newTransitionsResponse(groups *transition.Groups) *transitionsResponse {
	resp := &transitionsResponse{Workflows: []workflowView{}}
	for _, wf := range groups.Workflows() {
		view := workflowView{Workflow: wf}
		for _, key := range groups.KeysForWorkflow(wf) {
			group, _ := groups.Get(key)
			view.Transitions = append(view.Transitions, transitionView{
				Key:         key.Encode(),
				ActionId:    key.ActionId,
				ActionName:  group.ActionName,
				Destination: key.DestinationStatus,
				IssueCount:  len(group.Issues),
				ShortList:   group.ShortList(),
				More:        group.IsShortListed(),
			})
		}
		resp.Workflows = append(resp.Workflows, view)
	}
	for _, issue := range groups.Skipped {
		resp.Skipped = append(resp.Skipped, issue.Key)
	}
	return resp
}

func newErrorsResponse(err error) *errorsResponse {
	resp := &errorsResponse{Message: err.Error()}
	var validationErr *bulkerrors.ErrValidation
	var permissionErr *bulkerrors.ErrNoPermission
	switch {
	case errors.As(err, &validationErr):
		resp.Fields = validationErr.Messages
	case errors.As(err, &permissionErr):
		resp.AffectedCount = permissionErr.AffectedCount
	case bulkerrors.Classify(err) == bulkerrors.ClassState:
		resp.Restart = true
	}
	return resp
}

// errorResponse maps err to a status and response body. Internal errors are logged and hidden from
// the caller.
func errorResponse(err error) (int, *errorsResponse) {
	status := bulkerrors.HttpStatusFromError(err)
	if status == http.StatusInternalServerError {
		log.Errorf("bulk change request failed: %+v", err)
		return status, &errorsResponse{Message: "internal error"}
	}
	return status, newErrorsResponse(err)
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := errorResponse(err)
	writeJSON(w, status, resp)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, &bulkerrors.ErrInvalidArgument{Name: "body", Value: "", Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}
