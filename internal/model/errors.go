package model

import "fmt"

// ParseError reports a policy line that was skipped. It is recoverable
// unless the compiler runs in strict mode.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// DegenerateRangeError reports contradictory inequalities on one field of a leaf.
type DegenerateRangeError struct {
	Line  int
	Field string
	Min   int64
	Max   int64
}

func (e *DegenerateRangeError) Error() string {
	return fmt.Sprintf("line %d: contradictory conditions on field %s: min %d > max %d", e.Line, e.Field, e.Min, e.Max)
}

type UnknownClassError struct {
	Line  int
	Class int
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("line %d: class %d has no configured action", e.Line, e.Class)
}

// UndefinedDestinationError means an action id is referenced by a class but
// absent from the action table. A deliberate drop is a present action with
// no destination and never produces this error.
type UndefinedDestinationError struct {
	Line   int
	Class  int
	Action int
}

func (e *UndefinedDestinationError) Error() string {
	return fmt.Sprintf("line %d: action %d (class %d) has no destination entry", e.Line, e.Action, e.Class)
}
