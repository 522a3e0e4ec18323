package handlers

import (
	"fmt"
	"slices"

	"github.com/roach88/offsync/internal/ir"
)

// Registry is the closed map from action type to handler.
type Registry struct {
	handlers map[ir.ActionType]Handler
	schema   *Schema
}

// NewRegistry builds a registry from handlers. It fails if any recognized
// action type is missing, or if handlers names a type outside the set.
func NewRegistry(handlers map[ir.ActionType]Handler) (*Registry, error) {
	for t, h := range handlers {
		if !t.Valid() {
			return nil, fmt.Errorf("registry: %w: %q", ir.ErrUnknownAction, t)
		}
		if h == nil {
			return nil, fmt.Errorf("registry: nil handler for %s", t)
		}
	}
	var missing []string
	for _, t := range ir.ActionTypes() {
		if _, ok := handlers[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("registry: no handler for %v", missing)
	}

	schema, err := NewSchema()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	copied := make(map[ir.ActionType]Handler, len(handlers))
	for t, h := range handlers {
		copied[t] = h
	}
	return &Registry{handlers: copied, schema: schema}, nil
}

// Default returns the registry with the built-in handlers.
// Panics if the embedded schema does not compile.
func Default() *Registry {
	r, err := NewRegistry(map[ir.ActionType]Handler{
		ir.ActionBookAppointment:   BookHandler{},
		ir.ActionCancelAppointment: CancelHandler{},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the handler for t.
func (r *Registry) Get(t ir.ActionType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ir.ErrUnknownAction, t)
	}
	return h, nil
}

// Validate checks that a is structurally sound and that its payload
// satisfies the schema for its type.
func (r *Registry) Validate(a ir.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return r.schema.Validate(a.Payload)
}
