package taskmanager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/G-Research/bulkchange/internal/bulkchange/result"
)

type State string

const (
	Pending  State = "pending"
	Running  State = "running"
	Finished State = "finished"
)

// Callable is the work a task runs.
type Callable interface {
	// NumberOfTasks is the number of units of work Run reports to its ProgressContext.
	NumberOfTasks(ctx context.Context) (int, error)
	Run(ctx context.Context, progress *ProgressContext) error
}

// DedupKey identifies submissions that must not run concurrently.
type DedupKey struct {
	User      string
	Operation string
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%s", k.User, k.Operation)
}

// ProgressContext turns completion signals of a running task into a percentage.
// Only the running task writes to it; any number of goroutines may read it.
type ProgressContext struct {
	total  int64
	done   atomic.Int64
	forced atomic.Bool
	result *result.Result
}

func newProgressContext(total int, r *result.Result) *ProgressContext {
	return &ProgressContext{total: int64(total), result: r}
}

// Completed records that the unit of work for entity succeeded.
func (p *ProgressContext) Completed(string) {
	p.done.Add(1)
}

// Failed records that the unit of work for entity failed. The task carries on.
func (p *ProgressContext) Failed(entity string, err error) {
	p.result.Errors.AddError(entity, err)
	p.done.Add(1)
}

func (p *ProgressContext) Total() int {
	return int(p.total)
}

func (p *ProgressContext) Done() int {
	return int(p.done.Load())
}

func (p *ProgressContext) PercentComplete() int {
	if p.forced.Load() {
		return 100
	}
	if p.total <= 0 {
		return 0
	}
	percent := p.done.Load() * 100 / p.total
	if percent > 100 {
		return 100
	}
	return int(percent)
}

func (p *ProgressContext) complete() {
	p.forced.Store(true)
}

// Task is a submitted bulk operation.
type Task struct {
	id          string
	displayName string
	dedupKey    DedupKey
	submitted   time.Time
	finished    atomic.Int64
	state       atomic.Value
	ctx         context.Context
	callable    Callable
	progress    *ProgressContext
	result      *result.Result
	done        chan struct{}
}

func (t *Task) Id() string {
	return t.id
}

func (t *Task) DisplayName() string {
	return t.displayName
}

func (t *Task) DedupKey() DedupKey {
	return t.dedupKey
}

func (t *Task) Submitted() time.Time {
	return t.submitted
}

// FinishedAt returns the time the task finished, or the zero time if it hasn't.
func (t *Task) FinishedAt() time.Time {
	nanos := t.finished.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (t *Task) State() State {
	return t.state.Load().(State)
}

func (t *Task) IsFinished() bool {
	return t.State() == Finished
}

func (t *Task) PercentComplete() int {
	return t.progress.PercentComplete()
}

func (t *Task) Progress() *ProgressContext {
	return t.progress
}

// Result returns the outcome of the task, or nil until the task has finished.
func (t *Task) Result() *result.Result {
	if !t.IsFinished() {
		return nil
	}
	return t.result
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) setState(s State) {
	t.state.Store(s)
}

// Status is a point in time view of a Task, suitable for serialising.
type Status struct {
	Id              string          `json:"id"`
	Name            string          `json:"name"`
	User            string          `json:"user"`
	Operation       string          `json:"operation"`
	State           State           `json:"state"`
	PercentComplete int             `json:"percentComplete"`
	Submitted       time.Time       `json:"submitted"`
	Result          *result.Summary `json:"result,omitempty"`
}

func (t *Task) Status() *Status {
	s := &Status{
		Id:              t.id,
		Name:            t.displayName,
		User:            t.dedupKey.User,
		Operation:       t.dedupKey.Operation,
		State:           t.State(),
		PercentComplete: t.PercentComplete(),
		Submitted:       t.submitted,
	}
	if r := t.Result(); r != nil {
		s.Result = r.Summary()
	}
	return s
}
