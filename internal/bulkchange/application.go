package bulkchange

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/bulkchange/internal/bulkchange/configuration"
	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/bulkchange/notify"
	"github.com/G-Research/bulkchange/internal/bulkchange/operation"
	"github.com/G-Research/bulkchange/internal/bulkchange/remap"
	"github.com/G-Research/bulkchange/internal/bulkchange/repository"
	"github.com/G-Research/bulkchange/internal/bulkchange/server"
	"github.com/G-Research/bulkchange/internal/bulkchange/taskmanager"
	"github.com/G-Research/bulkchange/internal/bulkchange/transition"
	"github.com/G-Research/bulkchange/internal/bulkchange/wizard"
	"github.com/G-Research/bulkchange/internal/bulkchange/workflow"
	"github.com/G-Research/bulkchange/internal/common"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	commonconfig "github.com/G-Research/bulkchange/internal/common/config"
	"github.com/G-Research/bulkchange/internal/common/health"
	"github.com/G-Research/bulkchange/internal/common/task"
	"github.com/G-Research/bulkchange/internal/common/util"
)

// DefaultConfiguration holds the values RectifyConfig falls back to.
var DefaultConfiguration = configuration.BulkChangeConfig{
	Wizard: configuration.WizardConfig{
		SessionStore: configuration.MemorySessionStore,
		SessionTtl:   time.Hour,
		MaxIssues:    1000,
	},
	Tasks: configuration.TasksConfig{
		Workers:               taskmanager.DefaultWorkers,
		QueueSize:             taskmanager.DefaultQueueSize,
		ErrorDisplayCap:       100,
		FinishedTaskRetention: 24 * time.Hour,
		CleanupInterval:       10 * time.Minute,
		ShutdownTimeout:       30 * time.Second,
	},
	WorkflowCacheSize: 1000,
	Catalog: configuration.CatalogConfig{
		DefaultWorkflow: "default",
	},
}

type App struct {
	Config *configuration.BulkChangeConfig
}

func New(config *configuration.BulkChangeConfig) *App {
	return &App{Config: config}
}

// RectifyConfig replaces invalid values with defaults. Returns a non-nil error if mis-configuration is
// unrecoverable.
func RectifyConfig(config *configuration.BulkChangeConfig) error {
	logger := log.WithField("BulkChange", "RectifyConfig")
	warn := func(name string, configured interface{}, def interface{}) {
		logger.WithFields(log.Fields{
			"default":    def,
			"configured": configured,
		}).Warnf("config.%s invalid, using default instead", name)
	}

	switch config.Wizard.SessionStore {
	case configuration.RedisSessionStore, configuration.MemorySessionStore:
	case "":
		warn("Wizard.SessionStore", config.Wizard.SessionStore, DefaultConfiguration.Wizard.SessionStore)
		config.Wizard.SessionStore = DefaultConfiguration.Wizard.SessionStore
	default:
		return errors.Errorf("config.Wizard.SessionStore must be %q or %q, not %q",
			configuration.RedisSessionStore, configuration.MemorySessionStore, config.Wizard.SessionStore)
	}
	if config.Wizard.SessionTtl <= 0 {
		warn("Wizard.SessionTtl", config.Wizard.SessionTtl, DefaultConfiguration.Wizard.SessionTtl)
		config.Wizard.SessionTtl = DefaultConfiguration.Wizard.SessionTtl
	}
	if config.Wizard.MaxIssues < wizard.NoIssueLimit || config.Wizard.MaxIssues == 0 {
		warn("Wizard.MaxIssues", config.Wizard.MaxIssues, DefaultConfiguration.Wizard.MaxIssues)
		config.Wizard.MaxIssues = DefaultConfiguration.Wizard.MaxIssues
	}
	if config.Tasks.Workers <= 0 {
		warn("Tasks.Workers", config.Tasks.Workers, DefaultConfiguration.Tasks.Workers)
		config.Tasks.Workers = DefaultConfiguration.Tasks.Workers
	}
	if config.Tasks.QueueSize <= 0 {
		warn("Tasks.QueueSize", config.Tasks.QueueSize, DefaultConfiguration.Tasks.QueueSize)
		config.Tasks.QueueSize = DefaultConfiguration.Tasks.QueueSize
	}
	if config.Tasks.ErrorDisplayCap <= 0 {
		warn("Tasks.ErrorDisplayCap", config.Tasks.ErrorDisplayCap, DefaultConfiguration.Tasks.ErrorDisplayCap)
		config.Tasks.ErrorDisplayCap = DefaultConfiguration.Tasks.ErrorDisplayCap
	}
	if config.Tasks.FinishedTaskRetention <= 0 {
		warn("Tasks.FinishedTaskRetention", config.Tasks.FinishedTaskRetention, DefaultConfiguration.Tasks.FinishedTaskRetention)
		config.Tasks.FinishedTaskRetention = DefaultConfiguration.Tasks.FinishedTaskRetention
	}
	if config.Tasks.CleanupInterval <= 0 {
		warn("Tasks.CleanupInterval", config.Tasks.CleanupInterval, DefaultConfiguration.Tasks.CleanupInterval)
		config.Tasks.CleanupInterval = DefaultConfiguration.Tasks.CleanupInterval
	}
	if config.Tasks.ShutdownTimeout <= 0 {
		warn("Tasks.ShutdownTimeout", config.Tasks.ShutdownTimeout, DefaultConfiguration.Tasks.ShutdownTimeout)
		config.Tasks.ShutdownTimeout = DefaultConfiguration.Tasks.ShutdownTimeout
	}
	if config.WorkflowCacheSize <= 0 {
		warn("WorkflowCacheSize", config.WorkflowCacheSize, DefaultConfiguration.WorkflowCacheSize)
		config.WorkflowCacheSize = DefaultConfiguration.WorkflowCacheSize
	}
	if config.Catalog.DefaultWorkflow == "" {
		warn("Catalog.DefaultWorkflow", config.Catalog.DefaultWorkflow, DefaultConfiguration.Catalog.DefaultWorkflow)
		config.Catalog.DefaultWorkflow = DefaultConfiguration.Catalog.DefaultWorkflow
	}
	return nil
}

// StartUp runs the service until ctx is cancelled.
func (a *App) StartUp(ctx context.Context) error {
	config := a.Config
	if err := RectifyConfig(config); err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return errors.Wrap(err, "invalid configuration")
	}
	g, ctx := errgroup.WithContext(ctx)
	logger := log.WithField("BulkChange", "StartUp")

	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)

	issues, err := repository.NewMemIssueRepository()
	if err != nil {
		return err
	}
	if err := loadIssues(issues, config.Catalog.IssuesFile); err != nil {
		return err
	}
	fields := repository.NewStaticFieldConfigRepository()
	resolver := newResolver(config.Catalog)
	for _, c := range config.Catalog.Contexts {
		fields.SetContext(c.Key(), repository.ContextConfig{Fields: c.Fields, Options: c.Options})
		if c.Workflow != "" {
			resolver.Assign(c.Key(), c.Workflow)
		}
	}
	workflows, err := workflow.NewCachedResolver(resolver, config.WorkflowCacheSize)
	if err != nil {
		return err
	}
	engine := workflow.NewEngine(workflows, issues)
	grouper := transition.NewGrouper(engine)
	checker := authorization.NewPrincipalPermissionChecker(config.PermissionGroupMapping, config.ProjectPermissionGroupMapping)

	services := &operation.Services{
		Issues:      issues,
		Fields:      fields,
		Workflow:    engine,
		Grouper:     grouper,
		Permissions: checker,
	}
	if config.Notifications.Enabled {
		services.Notifier = notify.NewRetryingNotifier(notify.LoggingNotifier{}, config.Notifications.RetryAttempts, config.Notifications.RetryDelay)
	}
	registry := operation.NewRegistry(operation.All(services)...)

	tasks, err := taskmanager.NewManager(
		taskmanager.Config{
			Workers:         config.Tasks.Workers,
			QueueSize:       config.Tasks.QueueSize,
			ErrorDisplayCap: config.Tasks.ErrorDisplayCap,
		},
		&util.DefaultClock{},
		taskmanager.NewMetrics(prometheus.DefaultRegisterer),
	)
	if err != nil {
		return err
	}
	healthChecks.Add(tasks)

	var store wizard.Store
	var redisClient redis.UniversalClient
	switch config.Wizard.SessionStore {
	case configuration.RedisSessionStore:
		redisClient = redis.NewUniversalClient(&config.Redis)
		redisStore := wizard.NewRedisStore(redisClient, config.Wizard.SessionTtl)
		healthChecks.Add(redisStore)
		store = redisStore
	default:
		store = wizard.NewMemoryStore(config.Wizard.SessionTtl)
	}

	background := task.NewBackgroundTaskManager(taskmanager.MetricsPrefix, prometheus.DefaultRegisterer)
	background.Register(func() {
		tasks.Cleanup(config.Tasks.FinishedTaskRetention)
	}, config.Tasks.CleanupInterval, "finished_task_cleanup")

	submitter := server.NewSubmitter(checker, tasks)
	w := server.NewWizard(
		store,
		registry,
		submitter,
		tasks,
		remap.NewRemapper(fields, workflows, issues),
		grouper,
		issues,
		config.Wizard.MaxIssues,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", server.NewHandler(w, tasks))
	health.SetupHttpMux(mux, healthChecks)
	shutdownHttpServer := common.ServeHttp(config.HttpPort, mux)
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownHttpServer()
		if background.StopAll(time.Second) {
			logger.Warn("background loops did not stop in time")
		}
		if tasks.Shutdown(config.Tasks.ShutdownTimeout) {
			logger.Warnf("bulk operations still running after %s", config.Tasks.ShutdownTimeout)
		}
		shutdownMetricServer()
		if redisClient != nil {
			util.CloseResource("redis", redisClient)
		}
		return nil
	})

	startupCompleteCheck.MarkComplete()
	logger.Infof("bulk change service listening on %d", config.HttpPort)
	return g.Wait()
}

func newResolver(catalog configuration.CatalogConfig) *workflow.StaticResolver {
	workflows := make([]*domain.Workflow, len(catalog.Workflows))
	for i := range catalog.Workflows {
		workflows[i] = &catalog.Workflows[i]
	}
	return workflow.NewStaticResolver(catalog.DefaultWorkflow, workflows...)
}

// loadIssues seeds issues from a JSON array of issues in path, if path is set. A leading ~ in path
// is the home directory.
func loadIssues(issues *repository.MemIssueRepository, path string) error {
	if path == "" {
		return nil
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return errors.WithStack(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "error reading issues from %s", path)
	}
	var seed []*domain.Issue
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrapf(err, "error parsing issues in %s", path)
	}
	if err := issues.Seed(seed...); err != nil {
		return err
	}
	log.Infof("loaded %d issues from %s", len(seed), path)
	return nil
}
