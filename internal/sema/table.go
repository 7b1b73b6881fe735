// Package sema runs the three ordered semantic passes over a parsed
// program — redefinition checking, variable-kind resolution, and a
// conservative constant-fold/dead-var-prune optimization — and
// produces the annotation table the compiler consumes. It is kept
// deliberately decoupled from internal/compiler: the compiler never
// tracks scopes itself, it only looks up what this package already
// decided.
package sema

import (
	"vela-vm/internal/ast"
	"vela-vm/internal/token"
)

type Kind int

const (
	KindLocal Kind = iota
	KindClosed
	KindGlobal
	KindBuiltin
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "Local"
	case KindClosed:
		return "Closed"
	case KindGlobal:
		return "Global"
	case KindBuiltin:
		return "Builtin"
	default:
		return "?"
	}
}

// Annotation is what the resolver decided about one name-introducing
// or name-referencing token.
type Annotation struct {
	Kind  Kind
	Slot  int    // local slot or upvalue index, for KindLocal/KindClosed
	Name  string // global name, for KindGlobal
	Index int    // builtin registry index, for KindBuiltin
}

// UpvalueDesc mirrors object.UpvalueDesc; sema doesn't import
// internal/object to avoid coupling the semantic layer to the heap
// representation, the compiler translates one into the other.
type UpvalueDesc struct {
	FromLocal bool
	Index     int
}

// FuncInfo is everything the compiler needs about one function
// (FunctionDeclStmt or AnonFunctionExpr node, or the program root) that
// isn't carried on the AST node itself: its upvalue list in capture
// order and how many local slots its frame needs.
type FuncInfo struct {
	Upvalues  []UpvalueDesc
	NumLocals int
}

// Table is the output of the semantic passes: per-token annotations
// keyed by source position (token identity), and per-function extra
// info keyed by the function's AST node.
type Table struct {
	Annotations map[token.Position]Annotation
	Funcs       map[ast.Node]*FuncInfo
}

func newTable() *Table {
	return &Table{
		Annotations: make(map[token.Position]Annotation),
		Funcs:       make(map[ast.Node]*FuncInfo),
	}
}

func (t *Table) Lookup(tok token.Token) (Annotation, bool) {
	a, ok := t.Annotations[tok.Pos]
	return a, ok
}

// BuiltinLookup is supplied by the compiler driver (backed by
// internal/builtin's registry) so the resolver can classify Builtin
// references without importing the registry itself.
type BuiltinLookup interface {
	LookupFreeFunction(name string) (index int, ok bool)
}
