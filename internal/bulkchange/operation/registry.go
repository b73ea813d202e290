package operation

import (
	"context"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

type Registry struct {
	kinds      []Kind
	operations map[Kind]Operation
}

func NewRegistry(operations ...Operation) *Registry {
	r := &Registry{operations: map[Kind]Operation{}}
	for _, op := range operations {
		if _, exists := r.operations[op.Kind()]; !exists {
			r.kinds = append(r.kinds, op.Kind())
		}
		r.operations[op.Kind()] = op
	}
	return r
}

func (r *Registry) Get(kind Kind) (Operation, error) {
	op, ok := r.operations[kind]
	if !ok {
		return nil, &bulkerrors.ErrNotFound{Type: "operation", Value: string(kind)}
	}
	return op, nil
}

func (r *Registry) Kinds() []Kind {
	return append([]Kind(nil), r.kinds...)
}

// Applicable returns the operations the user in ctx can perform on sel.
func (r *Registry) Applicable(ctx context.Context, sel domain.Selection) []Operation {
	var ops []Operation
	for _, kind := range r.kinds {
		op := r.operations[kind]
		if op.CanPerform(ctx, sel) {
			ops = append(ops, op)
		}
	}
	return ops
}
