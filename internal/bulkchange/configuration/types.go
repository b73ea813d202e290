package configuration

import (
	"time"

	"github.com/go-redis/redis"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/auth/permission"
)

const (
	RedisSessionStore  = "redis"
	MemorySessionStore = "memory"
)

type BulkChangeConfig struct {
	HttpPort    uint16 `validate:"required"`
	MetricsPort uint16 `validate:"required"`

	Redis  redis.UniversalOptions
	Wizard WizardConfig
	Tasks  TasksConfig

	Notifications NotificationsConfig

	// Number of context -> workflow lookups kept in memory.
	WorkflowCacheSize int

	// Groups granted each global permission, including the bulk change permission itself.
	PermissionGroupMapping map[permission.Permission][]string
	// Overrides PermissionGroupMapping for project scoped permissions in the given projects.
	ProjectPermissionGroupMapping map[int64]map[permission.Permission][]string

	Catalog CatalogConfig
}

type WizardConfig struct {
	// Either "redis" or "memory".
	SessionStore string `validate:"oneof=redis memory"`
	// Wizard state is discarded if untouched for this long.
	SessionTtl time.Duration
	// Largest number of issues that may be selected; -1 for no limit.
	MaxIssues int
}

type TasksConfig struct {
	Workers   int `validate:"gt=0"`
	QueueSize int `validate:"gt=0"`
	// Number of failed issues listed in a task result. The count of failures is never capped.
	ErrorDisplayCap int
	// Finished tasks are forgotten after this long.
	FinishedTaskRetention time.Duration
	CleanupInterval       time.Duration
	// How long shutdown waits for running tasks.
	ShutdownTimeout time.Duration
}

type NotificationsConfig struct {
	Enabled       bool
	RetryAttempts uint
	RetryDelay    time.Duration
}

// CatalogConfig describes the projects, field configuration and workflows issues live in.
type CatalogConfig struct {
	DefaultWorkflow string
	Workflows       []domain.Workflow
	Contexts        []ContextConfig `validate:"dive"`
	// Path of a JSON file of issues loaded at startup.
	IssuesFile string
}

type ContextConfig struct {
	ProjectId   int64  `validate:"required"`
	IssueTypeId string `validate:"required"`
	// Defaults to DefaultWorkflow.
	Workflow string
	Fields   []domain.Field
	// Field id -> valid options.
	Options map[string][]domain.Option
}

func (c ContextConfig) Key() domain.ContextKey {
	return domain.ContextKey{ProjectId: c.ProjectId, IssueTypeId: c.IssueTypeId}
}
