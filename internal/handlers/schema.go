package handlers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/offsync/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// Schema validates payloads against the embedded CUE definitions.
//
// A cue.Context is not safe for concurrent use, so every evaluation holds
// the mutex.
type Schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[ir.ActionType]cue.Value
}

// NewSchema compiles the embedded schema and resolves one definition per
// action type. A type without a definition is a build error.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	defs := make(map[ir.ActionType]cue.Value, len(ir.ActionTypes()))
	for _, t := range ir.ActionTypes() {
		def := v.LookupPath(cue.ParsePath("#" + string(t)))
		if !def.Exists() {
			return nil, fmt.Errorf("schema has no definition for %s", t)
		}
		defs[t] = def
	}
	return &Schema{ctx: ctx, defs: defs}, nil
}

// FieldError reports the first schema violation in a payload.
type FieldError struct {
	Type    ir.ActionType
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s: %s", ir.ErrInvalidPayload, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s.%s: %s", ir.ErrInvalidPayload, e.Type, e.Field, e.Message)
}

// Unwrap lets errors.Is match ir.ErrInvalidPayload.
func (e *FieldError) Unwrap() error {
	return ir.ErrInvalidPayload
}

// Validate checks p against the definition for its action type.
func (s *Schema) Validate(p ir.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ir.ErrInvalidPayload, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.defs[p.ActionType()]
	if !ok {
		return fmt.Errorf("%w: %q", ir.ErrUnknownAction, p.ActionType())
	}
	val := s.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("%w: %v", ir.ErrInvalidPayload, err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fieldError(p.ActionType(), err)
	}
	return nil
}

// fieldError extracts the path of the first CUE error.
func fieldError(t ir.ActionType, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &FieldError{Type: t, Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &FieldError{
		Type:    t,
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}
