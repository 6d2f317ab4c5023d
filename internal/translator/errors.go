package translator

import (
	"errors"
	"fmt"
)

// Common errors returned by the translator and component lookups.
var (
	ErrComponentNotFound = errors.New("component not found")
	ErrUnknownProcess    = errors.New("connection references unknown process")
)

// UnresolvedPortError reports an inport or outport process whose metadata
// lacks a field its port needs.
type UnresolvedPortError struct {
	Process string
	Kind    string // inport or outport
	Field   string
}

func (e *UnresolvedPortError) Error() string {
	return fmt.Sprintf("%s %q: missing metadata field %q", e.Kind, e.Process, e.Field)
}

// UnknownComponentError reports a process whose component is not registered.
type UnknownComponentError struct {
	Process   string
	Component string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("process %q: unknown component %q", e.Process, e.Component)
}

// Is lets errors.Is(err, ErrComponentNotFound) match.
func (e *UnknownComponentError) Is(target error) bool {
	return target == ErrComponentNotFound
}
