package taskmanager

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/bulkchange/internal/bulkchange/result"
	"github.com/G-Research/bulkchange/internal/common/auth/authorization"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
	"github.com/G-Research/bulkchange/internal/common/util"
)

const (
	DefaultWorkers   = 5
	DefaultQueueSize = 100
)

// FatalMessage is shown to users when a task is terminated by an unexpected error.
const FatalMessage = "The bulk operation was stopped by an unexpected error. Details have been logged."

type Config struct {
	Workers         int
	QueueSize       int
	ErrorDisplayCap int
}

// Manager runs tasks on a pool of workers, separate from the goroutines submitting them.
type Manager struct {
	db         *TaskDb
	queue      chan *Task
	workers    sync.WaitGroup
	displayCap int
	clock      util.Clock
	metrics    *Metrics

	// Guards closing queue.
	mu       sync.RWMutex
	shutdown bool
}

func NewManager(config Config, clock util.Clock, metrics *Metrics) (*Manager, error) {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	db, err := NewTaskDb()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		db:         db,
		queue:      make(chan *Task, config.QueueSize),
		displayCap: config.ErrorDisplayCap,
		clock:      clock,
		metrics:    metrics,
	}
	m.workers.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go m.work()
	}
	return m, nil
}

// SubmitTask queues callable to run in the background and returns straight away.
// If a task with the same dedup key hasn't finished yet, that task is returned instead and callable
// is never run.
func (m *Manager) SubmitTask(ctx context.Context, callable Callable, displayName string, key DedupKey) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shutdown {
		return nil, &bulkerrors.ErrUnavailable{Message: "task manager is shutting down"}
	}

	total, err := callable.NumberOfTasks(ctx)
	if err != nil {
		return nil, err
	}
	r := result.New(m.displayCap)
	task := &Task{
		id:          util.NewULID(),
		displayName: displayName,
		dedupKey:    key,
		submitted:   m.clock.Now(),
		// The task outlives the request submitting it.
		ctx:      authorization.WithPrincipal(context.Background(), authorization.GetPrincipal(ctx)),
		callable: callable,
		progress: newProgressContext(total, r),
		result:   r,
		done:     make(chan struct{}),
	}
	task.setState(Pending)

	existing, registered, err := m.db.GetOrRegister(task)
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"task": existing.Id(), "user": key.User, "operation": key.Operation})
	if !registered {
		logger.Info("bulk operation already running, returning existing task")
		m.metrics.RecordDeduplicated(key.Operation)
		return existing, nil
	}
	m.metrics.RecordSubmitted(key.Operation)

	select {
	case m.queue <- task:
		logger.WithField("units", total).Info("bulk operation submitted")
		return task, nil
	default:
		m.metrics.RecordRejected()
		task.result.Fail("Too many bulk operations are queued. Please try again later.")
		m.finish(task)
		return nil, &bulkerrors.ErrUnavailable{Message: "too many bulk operations queued"}
	}
}

// Check fails once the manager has been shut down.
func (m *Manager) Check() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shutdown {
		return &bulkerrors.ErrUnavailable{Message: "task manager is shutting down"}
	}
	return nil
}

func (m *Manager) GetTask(id string) (*Task, error) {
	return m.db.Get(id)
}

// LiveTasks returns tasks that are queued or running, in submission order.
func (m *Manager) LiveTasks() ([]*Task, error) {
	return m.db.Live()
}

// AllTasks returns every task still held, in submission order.
func (m *Manager) AllTasks() ([]*Task, error) {
	return m.db.All()
}

// RemoveTask forgets a finished task.
func (m *Manager) RemoveTask(id string) error {
	return m.db.Remove(id)
}

// Cleanup forgets tasks that finished more than retention ago.
func (m *Manager) Cleanup(retention time.Duration) {
	removed, err := m.db.RemoveFinishedBefore(m.clock.Now().Add(-retention))
	if err != nil {
		log.WithError(err).Warn("failed to clean up finished tasks")
		return
	}
	if removed > 0 {
		log.Infof("removed %d finished bulk operation tasks", removed)
	}
}

// WaitUntilTaskCompletes blocks until the task has finished or ctx is done.
func (m *Manager) WaitUntilTaskCompletes(ctx context.Context, id string) (*Task, error) {
	task, err := m.db.Get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-task.Done():
		return task, nil
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued and running tasks to finish.
// Returns true if the timeout was hit.
func (m *Manager) Shutdown(timeout time.Duration) bool {
	m.mu.Lock()
	if !m.shutdown {
		m.shutdown = true
		close(m.queue)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.workers.Wait()
	}()
	select {
	case <-done:
		return false
	case <-time.After(timeout):
		return true
	}
}

func (m *Manager) work() {
	defer m.workers.Done()
	for task := range m.queue {
		m.run(task)
	}
}

func (m *Manager) run(task *Task) {
	logger := log.WithFields(log.Fields{
		"task":      task.id,
		"user":      task.dedupKey.User,
		"operation": task.dedupKey.Operation,
	})
	start := m.clock.Now()
	task.setState(Running)

	err := call(task)
	if err != nil {
		fatal := &bulkerrors.ErrFatalTask{TaskId: task.id, Message: FatalMessage, Cause: err}
		logger.Errorf("bulk operation failed: %+v", fatal.Cause)
		task.result.Fail(fatal.Message)
	}
	elapsed := m.clock.Now().Sub(start)
	task.result.SetElapsed(elapsed)
	m.metrics.RecordFinished(task.dedupKey.Operation, elapsed, task.result.Errors.Count(), err != nil)
	logger.WithFields(log.Fields{
		"elapsed": elapsed,
		"units":   task.progress.Done(),
		"errors":  task.result.Errors.Count(),
	}).Info("bulk operation finished")
	m.finish(task)
}

// finish completes the progress of task, even if fewer units were reported than expected, then
// releases its dedup key and wakes anyone waiting for it.
func (m *Manager) finish(task *Task) {
	task.progress.complete()
	task.finished.Store(m.clock.Now().UnixNano())
	if err := m.db.MarkFinished(task); err != nil {
		log.WithError(err).WithField("task", task.id).Error("failed to mark task finished")
	}
	task.setState(Finished)
	close(task.done)
}

func call(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return task.callable.Run(task.ctx, task.progress)
}
