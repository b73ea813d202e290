package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

type client struct {
	t       *testing.T
	handler http.Handler
	user    string
	groups  string
}

func (c *client) do(method string, path string, body interface{}, out interface{}) int {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if c.user != "" {
		req.Header.Set(authorization.UserHeader, c.user)
		req.Header.Set(authorization.GroupsHeader, c.groups)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func withClient(t *testing.T, action func(c *client, f *fixture)) {
	withFixture(t, wizard.NewMemoryStore(time.Hour), []string{"dev"}, func(f *fixture) {
		action(&client{t: t, handler: NewHandler(f.wizard, f.tasks), user: "alice", groups: "dev"}, f)
	})
}

func TestHandler_EditFlow(t *testing.T) {
	withClient(t, func(c *client, f *fixture) {
		wizardUrl := WizardPath + session

		var state stateResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/issues", startRequest{IssueIds: []int64{1, 2}}, &state))
		assert.Equal(t, []string{"A-1", "A-2"}, state.Issues)
		assert.Equal(t, wizard.StepChooseOperation, state.Step)

		var options []operationOption
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, wizardUrl+"/operations", nil, &options))
		assert.Contains(t, options, operationOption{Kind: "bulk_edit", Name: "Bulk edit"})

		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/operation", operationRequest{Operation: "bulk_edit"}, &state))
		assert.Equal(t, "bulk_edit", state.Operation)

		var actions actionsResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, wizardUrl+"/actions", nil, &actions))
		assert.Equal(t, []domain.Field{summary, component}, actions.Visible)

		details := &Details{
			FieldValues: domain.NewFieldValues().With(domain.SummaryField, domain.Value{Text: "Renamed"}),
			Actions:     []wizard.FieldAction{{FieldId: domain.SummaryField, Mode: wizard.Replace}},
		}
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/details", details, &state))
		assert.Equal(t, wizard.StepConfirmation, state.Step)
		assert.Nil(t, state.Errors)

		var submitted submitResponse
		require.Equal(t, http.StatusAccepted, c.do(http.MethodPost, wizardUrl+"/confirm", confirmRequest{OperationId: state.OperationId}, &submitted))
		assert.Equal(t, ProgressUrl(submitted.TaskId), submitted.ProgressUrl)

		task, err := f.tasks.GetTask(submitted.TaskId)
		require.NoError(t, err)
		f.wait(t, task)

		var status taskmanager.Status
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, submitted.ProgressUrl, nil, &status))
		assert.Equal(t, taskmanager.Finished, status.State)
		assert.Equal(t, 100, status.PercentComplete)
		require.NotNil(t, status.Result)
		assert.True(t, status.Result.Successful)
		assert.Equal(t, "Renamed", f.issue(t, 1).Text[domain.SummaryField])
		assert.Equal(t, "Renamed", f.issue(t, 2).Text[domain.SummaryField])

		var statuses []*taskmanager.Status
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, TasksPath+"?all=true", nil, &statuses))
		assert.Len(t, statuses, 1)
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, TasksPath, nil, &statuses))
		assert.Empty(t, statuses)

		assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, submitted.ProgressUrl, nil, nil))
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, submitted.ProgressUrl, nil, nil))
	})
}

func TestHandler_Errors(t *testing.T) {
	withClient(t, func(c *client, f *fixture) {
		wizardUrl := WizardPath + session

		var resp errorsResponse
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, wizardUrl, nil, &resp))

		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/issues", startRequest{IssueIds: []int64{1, 2}}, nil))

		resp = errorsResponse{}
		assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, wizardUrl+"/confirm", confirmRequest{OperationId: "stale"}, &resp))
		assert.True(t, resp.Restart)

		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/operation", operationRequest{Operation: "bulk_edit"}, nil))
		var state stateResponse
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, wizardUrl+"/details", &Details{
			Actions: []wizard.FieldAction{{FieldId: domain.SummaryField, Mode: wizard.Clear}},
		}, &state))
		require.NotNil(t, state.Errors)
		assert.Contains(t, state.Errors.Fields, domain.SummaryField)
		assert.Equal(t, wizard.StepOperationDetails, state.Step)

		resp = errorsResponse{}
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, wizardUrl+"/issues", "not json", &resp))

		c.user, c.groups = "carol", "contractor"
		resp = errorsResponse{}
		assert.Equal(t, http.StatusConflict, c.do(http.MethodGet, wizardUrl, nil, &resp))
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, wizardUrl+"/issues", startRequest{IssueIds: []int64{1, 2, 4}}, nil))
		resp = errorsResponse{}
		assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, wizardUrl+"/operation", operationRequest{Operation: "bulk_delete"}, &resp))
		assert.Equal(t, 3, resp.AffectedCount)

		assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, wizardUrl, nil, nil))
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, TasksPath+"/missing", nil, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, c.do(http.MethodPut, wizardUrl+"/confirm", nil, nil))
	})
}

func TestErrorResponse(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	status, resp := errorResponse(errors.Wrap(errors.New("connection refused"), "loading workflow"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, &errorsResponse{Message: "internal error"}, resp)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "connection refused")

	hook.Reset()
	status, resp = errorResponse(bulkerrors.NewValidationError(domain.SummaryField, "required"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, map[string][]string{domain.SummaryField: {"required"}}, resp.Fields)
	assert.Nil(t, hook.LastEntry())
}
