package sema

import (
	"fmt"

	"vela-vm/internal/token"
)

// SemanticError covers every failure the three passes can raise:
// redefinition, duplicate parameters, and assignment to an undeclared
// global or to a builtin.
type SemanticError struct {
	Pos     token.Position
	Message string
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("[sema:%d:%d] %s", e.Pos.Line, e.Pos.Column, e.Message)
}

func errAt(tok token.Token, format string, args ...interface{}) *SemanticError {
	return &SemanticError{Pos: tok.Pos, Message: fmt.Sprintf(format, args...)}
}
