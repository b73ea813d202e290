package repository

import (
	"context"
	"sync"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// FieldConfigRepository resolves which fields, and which values for them, are valid in a context.
type FieldConfigRepository interface {
	// FieldsFor returns the fields present in a context, in display order.
	FieldsFor(ctx context.Context, key domain.ContextKey) ([]domain.Field, error)
	OptionsFor(ctx context.Context, key domain.ContextKey, fieldId string) ([]domain.Option, error)
}

type ContextConfig struct {
	Fields  []domain.Field
	Options map[string][]domain.Option
}

// StaticFieldConfigRepository is a FieldConfigRepository holding configuration in memory.
type StaticFieldConfigRepository struct {
	mu       sync.RWMutex
	contexts map[domain.ContextKey]ContextConfig
}

func NewStaticFieldConfigRepository() *StaticFieldConfigRepository {
	return &StaticFieldConfigRepository{contexts: map[domain.ContextKey]ContextConfig{}}
}

func (r *StaticFieldConfigRepository) SetContext(key domain.ContextKey, config ContextConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts[key] = config
}

func (r *StaticFieldConfigRepository) FieldsFor(_ context.Context, key domain.ContextKey) ([]domain.Field, error) {
	config, err := r.get(key)
	if err != nil {
		return nil, err
	}
	return append([]domain.Field(nil), config.Fields...), nil
}

func (r *StaticFieldConfigRepository) OptionsFor(_ context.Context, key domain.ContextKey, fieldId string) ([]domain.Option, error) {
	config, err := r.get(key)
	if err != nil {
		return nil, err
	}
	return append([]domain.Option(nil), config.Options[fieldId]...), nil
}

func (r *StaticFieldConfigRepository) get(key domain.ContextKey) (ContextConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.contexts[key]
	if !ok {
		return ContextConfig{}, &bulkerrors.ErrNotFound{Type: "context", Value: key.String()}
	}
	return config, nil
}
