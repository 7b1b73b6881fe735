// Package ast defines the syntax tree produced by internal/parser and
// consumed by internal/sema and internal/compiler. Every node carries
// the token it was built from so later passes can report positions
// and the semantic pass can key its annotation table off token
// identity (source position).
package ast

import (
	"strings"

	"vela-vm/internal/token"
)

type Node interface {
	Tok() token.Token
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Identifier is not itself a Statement or Expression; it names a
// binding site (parameter, var declaration, function name) and is
// the unit the annotation table attaches Local/Closed/Global kinds to.
type Identifier struct {
	Token token.Token
	Name  string
}

func (i *Identifier) Tok() token.Token { return i.Token }

// ---- Statements ----

type PrintStmt struct {
	Token token.Token
	Value Expression
}

func (s *PrintStmt) statementNode() {}
func (s *PrintStmt) Tok() token.Token { return s.Token }

type VarDeclStmt struct {
	Token token.Token
	Name  *Identifier
	Value Expression // nil if uninitialized
}

func (s *VarDeclStmt) statementNode() {}
func (s *VarDeclStmt) Tok() token.Token { return s.Token }

type AssignmentStmt struct {
	Token token.Token
	Name  *Identifier
	Value Expression
}

func (s *AssignmentStmt) statementNode() {}
func (s *AssignmentStmt) Tok() token.Token { return s.Token }

type PropertyAssignmentStmt struct {
	Token  token.Token
	Target Expression
	Name   string
	Value  Expression
}

func (s *PropertyAssignmentStmt) statementNode() {}
func (s *PropertyAssignmentStmt) Tok() token.Token { return s.Token }

type ExpressionStmt struct {
	Token token.Token
	Value Expression
}

func (s *ExpressionStmt) statementNode() {}
func (s *ExpressionStmt) Tok() token.Token { return s.Token }

type AssertStmt struct {
	Token token.Token
	Value Expression
}

func (s *AssertStmt) statementNode() {}
func (s *AssertStmt) Tok() token.Token { return s.Token }

type PassStmt struct {
	Token token.Token
}

func (s *PassStmt) statementNode() {}
func (s *PassStmt) Tok() token.Token { return s.Token }

type FunctionDeclStmt struct {
	Token  token.Token
	Name   string
	Params []*Identifier
	Vararg *Identifier // nil if the function has no vararg tail
	Body   Expression  // always a *BlockExpr
}

func (s *FunctionDeclStmt) statementNode() {}
func (s *FunctionDeclStmt) Tok() token.Token { return s.Token }

type StructDeclStmt struct {
	Token  token.Token
	Name   string
	Fields []string
}

func (s *StructDeclStmt) statementNode() {}
func (s *StructDeclStmt) Tok() token.Token { return s.Token }

type EnumDeclStmt struct {
	Token    token.Token
	Name     string
	Variants []string
}

func (s *EnumDeclStmt) statementNode() {}
func (s *EnumDeclStmt) Tok() token.Token { return s.Token }

type ImplBlockStmt struct {
	Token           token.Token
	Name            string
	Implementations []*FunctionDeclStmt
}

func (s *ImplBlockStmt) statementNode() {}
func (s *ImplBlockStmt) Tok() token.Token { return s.Token }

// ---- Expressions ----

type NumberLit struct {
	Token token.Token
	Value int64
}

func (e *NumberLit) expressionNode() {}
func (e *NumberLit) Tok() token.Token { return e.Token }

type ConstStringLit struct {
	Token token.Token
	Value string
}

func (e *ConstStringLit) expressionNode() {}
func (e *ConstStringLit) Tok() token.Token { return e.Token }

type NameExpr struct {
	Token token.Token
	Name  string
}

func (e *NameExpr) expressionNode() {}
func (e *NameExpr) Tok() token.Token { return e.Token }

type BinaryExpr struct {
	Token token.Token
	Op    string
	Left  Expression
	Right Expression
}

func (e *BinaryExpr) expressionNode() {}
func (e *BinaryExpr) Tok() token.Token { return e.Token }

type UnaryExpr struct {
	Token token.Token
	Op    string
	Right Expression
}

func (e *UnaryExpr) expressionNode() {}
func (e *UnaryExpr) Tok() token.Token { return e.Token }

type IfExpr struct {
	Token token.Token
	Cond  Expression
	Then  Expression
	Else  Expression // nil when there is no else branch
}

func (e *IfExpr) expressionNode() {}
func (e *IfExpr) Tok() token.Token { return e.Token }

// BlockExpr is a sequence of statements evaluated in order; if the
// last statement is an ExpressionStmt its value is the block's value,
// otherwise the block evaluates to Nothing.
type BlockExpr struct {
	Begin token.Token
	End   token.Token
	Stmts []Statement
}

func (e *BlockExpr) expressionNode() {}
func (e *BlockExpr) Tok() token.Token { return e.Begin }

// SingleStatementExpr lifts a Statement into expression position
// (used for the `def f() = <stmt>` single-statement function shorthand).
type SingleStatementExpr struct {
	Stmt Statement
}

func (e *SingleStatementExpr) expressionNode() {}
func (e *SingleStatementExpr) Tok() token.Token { return e.Stmt.Tok() }

type CallExpr struct {
	Token  token.Token
	Callee Expression
	Args   []Expression
}

func (e *CallExpr) expressionNode() {}
func (e *CallExpr) Tok() token.Token { return e.Token }

// PartialCallExpr models Call(callee, args) where some args are
// holes (`_`). Args[i] is nil at every hole position.
type PartialCallExpr struct {
	Token  token.Token
	Callee Expression
	Args   []Expression
}

func (e *PartialCallExpr) expressionNode() {}
func (e *PartialCallExpr) Tok() token.Token { return e.Token }

func (e *PartialCallExpr) IsHole(i int) bool { return e.Args[i] == nil }

type PropertyAccessExpr struct {
	Token  token.Token
	Target Expression
	Name   string
}

func (e *PropertyAccessExpr) expressionNode() {}
func (e *PropertyAccessExpr) Tok() token.Token { return e.Token }

type PropertyTestExpr struct {
	Token  token.Token
	Target Expression
	Name   string
}

func (e *PropertyTestExpr) expressionNode() {}
func (e *PropertyTestExpr) Tok() token.Token { return e.Token }

type AnonFunctionExpr struct {
	ArrowTok token.Token
	Params   []*Identifier
	Vararg   *Identifier
	Body     Expression
}

func (e *AnonFunctionExpr) expressionNode() {}
func (e *AnonFunctionExpr) Tok() token.Token { return e.ArrowTok }

// Program is the root of the tree: always a Block, per spec.
type Program struct {
	Root *BlockExpr
}

func (p *Program) String() string {
	var sb strings.Builder
	sb.WriteString("program(")
	sb.WriteString(string(rune(len(p.Root.Stmts))))
	sb.WriteString(" stmts)")
	return sb.String()
}
