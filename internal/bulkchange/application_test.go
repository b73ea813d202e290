package bulkchange

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/bulkchange/configuration"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
)

func knownGoodConfig() *configuration.BulkChangeConfig {
	return &configuration.BulkChangeConfig{
		Wizard: configuration.WizardConfig{
			SessionStore: configuration.RedisSessionStore,
			SessionTtl:   time.Minute,
			MaxIssues:    -1,
		},
		Tasks: configuration.TasksConfig{
			Workers:               1,
			QueueSize:             1,
			ErrorDisplayCap:       1,
			FinishedTaskRetention: time.Minute,
			CleanupInterval:       time.Minute,
			ShutdownTimeout:       time.Minute,
		},
		WorkflowCacheSize: 1,
		Catalog: configuration.CatalogConfig{
			DefaultWorkflow: "jira",
		},
	}
}

func TestRectifyConfig(t *testing.T) {
	testCases := []struct {
		name           string
		modify         func(c *configuration.BulkChangeConfig)
		expectedError  bool
		expectedConfig func(c *configuration.BulkChangeConfig)
	}{
		{
			name: "S'all good",
		},
		{
			name: "Missing session store",
			modify: func(c *configuration.BulkChangeConfig) {
				c.Wizard.SessionStore = ""
			},
			expectedConfig: func(c *configuration.BulkChangeConfig) {
				c.Wizard.SessionStore = configuration.MemorySessionStore
			},
		},
		{
			name: "Unknown session store",
			modify: func(c *configuration.BulkChangeConfig) {
				c.Wizard.SessionStore = "postgres"
			},
			expectedError: true,
		},
		{
			name: "Incorrect MaxIssues",
			modify: func(c *configuration.BulkChangeConfig) {
				c.Wizard.MaxIssues = -5
			},
			expectedConfig: func(c *configuration.BulkChangeConfig) {
				c.Wizard.MaxIssues = DefaultConfiguration.Wizard.MaxIssues
			},
		},
		{
			name: "Incorrect Tasks",
			modify: func(c *configuration.BulkChangeConfig) {
				c.Tasks = configuration.TasksConfig{}
			},
			expectedConfig: func(c *configuration.BulkChangeConfig) {
				c.Tasks = DefaultConfiguration.Tasks
			},
		},
		{
			name: "Incorrect WorkflowCacheSize and DefaultWorkflow",
			modify: func(c *configuration.BulkChangeConfig) {
				c.WorkflowCacheSize = 0
				c.Catalog.DefaultWorkflow = ""
			},
			expectedConfig: func(c *configuration.BulkChangeConfig) {
				c.WorkflowCacheSize = DefaultConfiguration.WorkflowCacheSize
				c.Catalog.DefaultWorkflow = DefaultConfiguration.Catalog.DefaultWorkflow
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := knownGoodConfig()
			if tc.modify != nil {
				tc.modify(config)
			}
			err := RectifyConfig(config)
			if tc.expectedError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected := knownGoodConfig()
			if tc.expectedConfig != nil {
				tc.expectedConfig(expected)
			}
			assert.Equal(t, expected, config)
		})
	}
}

func TestLoadIssues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": 1, "key": "A-1", "projectId": 1, "issueTypeId": "bug", "statusId": "open"},
		{"id": 2, "key": "A-2", "projectId": 1, "issueTypeId": "sub", "statusId": "open", "parentId": 1}
	]`), 0o600))

	issues, err := repository.NewMemIssueRepository()
	require.NoError(t, err)
	require.NoError(t, loadIssues(issues, path))

	issue, err := issues.GetIssueByKey(context.Background(), "A-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), issue.ParentId)

	assert.NoError(t, loadIssues(issues, ""))
	assert.Error(t, loadIssues(issues, filepath.Join(t.TempDir(), "missing.json")))
}

func TestLoadIssues_ExpandsHomeDirectory(t *testing.T) {
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "issues.json"), []byte(`[
		{"id": 7, "key": "H-7", "projectId": 1, "issueTypeId": "bug", "statusId": "open"}
	]`), 0o600))

	issues, err := repository.NewMemIssueRepository()
	require.NoError(t, err)
	require.NoError(t, loadIssues(issues, "~/issues.json"))

	issue, err := issues.GetIssue(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "H-7", issue.Key)
}
