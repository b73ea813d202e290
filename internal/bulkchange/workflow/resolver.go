package workflow

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// Resolver returns the workflow issues in a context follow.
// Returned workflows are shared and must be treated as read-only.
type Resolver interface {
	WorkflowFor(ctx context.Context, key domain.ContextKey) (*domain.Workflow, error)
}

// StaticResolver has a set of workflow assignments backed by simple maps.
// Contexts without an explicit assignment use DefaultWorkflow.
type StaticResolver struct {
	mu              sync.RWMutex
	workflows       map[string]*domain.Workflow
	assignments     map[domain.ContextKey]string
	DefaultWorkflow string
}

func NewStaticResolver(defaultWorkflow string, workflows ...*domain.Workflow) *StaticResolver {
	r := &StaticResolver{
		workflows:       map[string]*domain.Workflow{},
		assignments:     map[domain.ContextKey]string{},
		DefaultWorkflow: defaultWorkflow,
	}
	for _, w := range workflows {
		r.workflows[w.Name] = w
	}
	return r
}

func (r *StaticResolver) Assign(key domain.ContextKey, workflowName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[key] = workflowName
}

func (r *StaticResolver) WorkflowFor(_ context.Context, key domain.ContextKey) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.assignments[key]
	if !ok {
		name = r.DefaultWorkflow
	}
	w, ok := r.workflows[name]
	if !ok {
		return nil, &bulkerrors.ErrNotFound{Type: "workflow", Value: name, Message: "assigned to " + key.String()}
	}
	return w, nil
}

// CachedResolver keeps recently resolved workflows in a local LRU cache.
type CachedResolver struct {
	workflows *lru.Cache
	delegate  Resolver
}

func NewCachedResolver(delegate Resolver, cacheSize int) (*CachedResolver, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &CachedResolver{
		workflows: cache,
		delegate:  delegate,
	}, nil
}

func (r *CachedResolver) WorkflowFor(ctx context.Context, key domain.ContextKey) (*domain.Workflow, error) {
	if w, ok := r.workflows.Get(key); ok {
		return w.(*domain.Workflow), nil
	}
	w, err := r.delegate.WorkflowFor(ctx, key)
	if err != nil {
		return nil, err
	}
	r.workflows.Add(key, w)
	return w, nil
}

// Invalidate drops every cached workflow, e.g. after workflow assignments changed.
func (r *CachedResolver) Invalidate() {
	r.workflows.Purge()
}
