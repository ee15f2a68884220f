package lang

import (
	"fmt"

	cserrors "github.com/wedaly/caesium/internal/errors"
)

// SyntaxError is a lexical or grammatical error, anchored to a byte
// offset in the source query so callers can point at the bad token.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return cserrors.ErrQuerySyntax
}

// TypeError is a static type-checking failure: an expression of the
// wrong value kind (window stream, quantile table, metric list) used
// where another kind is required.
type TypeError struct {
	Pos  int
	Msg  string
	Want ValueKind
	Got  ValueKind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error at position %d: %s (expected %s, got %s)", e.Pos, e.Msg, e.Want, e.Got)
}

func (e *TypeError) Unwrap() error {
	return cserrors.ErrQueryType
}

func newTypeError(pos int, msg string, want, got ValueKind) error {
	return &TypeError{Pos: pos, Msg: msg, Want: want, Got: got}
}
