package result

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

// DefaultDisplayCap is the number of failed entities shown to users when no cap is configured.
const DefaultDisplayCap = 100

type EntityErrors struct {
	Entity   string   `json:"entity"`
	Messages []string `json:"messages"`
}

// Aggregator collects error messages per entity, keeping entities in the order they first failed.
// The display cap only limits what Capped returns; every entry is kept and counted.
type Aggregator struct {
	mu       sync.Mutex
	cap      int
	order    []string
	messages map[string][]string
}

func NewAggregator(displayCap int) *Aggregator {
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}
	return &Aggregator{
		cap:      displayCap,
		messages: map[string][]string{},
	}
}

func (a *Aggregator) Add(entity string, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.messages[entity]; !ok {
		a.order = append(a.order, entity)
	}
	a.messages[entity] = append(a.messages[entity], message)
}

// AddError records err against entity. Validation errors contribute one message per field.
func (a *Aggregator) AddError(entity string, err error) {
	var validationErr *bulkerrors.ErrValidation
	if errors.As(err, &validationErr) {
		for _, field := range validationErr.Fields() {
			for _, m := range validationErr.Messages[field] {
				if field == "" {
					a.Add(entity, m)
				} else {
					a.Add(entity, field+": "+m)
				}
			}
		}
		return
	}
	a.Add(entity, err.Error())
}

// Count is the number of entities with at least one error.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

func (a *Aggregator) DisplayCap() int {
	return a.cap
}

func (a *Aggregator) IsLimited() bool {
	return a.Count() > a.cap
}

// Capped returns the errors of the first DisplayCap failed entities.
func (a *Aggregator) Capped() []EntityErrors {
	return a.first(a.cap)
}

func (a *Aggregator) All() []EntityErrors {
	return a.first(-1)
}

func (a *Aggregator) Messages(entity string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages[entity]...)
}

// ErrorOrNil flattens every recorded message into a single error, or returns nil if nothing failed.
func (a *Aggregator) ErrorOrNil() error {
	var result *multierror.Error
	for _, e := range a.All() {
		for _, m := range e.Messages {
			result = multierror.Append(result, &bulkerrors.ErrEntity{Entity: e.Entity, Cause: errors.New(m)})
		}
	}
	return result.ErrorOrNil()
}

func (a *Aggregator) first(n int) []EntityErrors {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 || n > len(a.order) {
		n = len(a.order)
	}
	out := make([]EntityErrors, 0, n)
	for _, entity := range a.order[:n] {
		out = append(out, EntityErrors{
			Entity:   entity,
			Messages: append([]string(nil), a.messages[entity]...),
		})
	}
	return out
}
