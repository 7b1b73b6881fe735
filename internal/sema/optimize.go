package sema

import (
	"vela-vm/internal/ast"
	"vela-vm/internal/token"
)

// Optimize runs the conservative constant-fold and dead-var-prune pass
// in place over prog. usedLocal/usedGlobal report, by declaration
// token position (locals) or name (globals), whether the resolver ever
// saw a reference to that binding.
func Optimize(prog *ast.Program, table *Table, usedLocal map[token.Position]bool, usedGlobal map[string]bool) {
	o := &optimizer{table: table, usedLocal: usedLocal, usedGlobal: usedGlobal}
	prog.Root = o.foldBlock(prog.Root)
}

type optimizer struct {
	table      *Table
	usedLocal  map[token.Position]bool
	usedGlobal map[string]bool
}

func (o *optimizer) foldBlock(b *ast.BlockExpr) *ast.BlockExpr {
	kept := b.Stmts[:0:0]
	for _, s := range b.Stmts {
		s = o.foldStmt(s)
		if o.isDeadVarDecl(s) {
			continue
		}
		kept = append(kept, s)
	}
	b.Stmts = kept
	return b
}

func (o *optimizer) isDeadVarDecl(s ast.Statement) bool {
	vd, ok := s.(*ast.VarDeclStmt)
	if !ok {
		return false
	}
	if vd.Value != nil && !isPure(vd.Value) {
		return false
	}
	ann, ok := o.table.Lookup(vd.Name.Token)
	if !ok {
		return false
	}
	switch ann.Kind {
	case KindLocal:
		return !o.usedLocal[vd.Name.Token.Pos]
	case KindGlobal:
		return !o.usedGlobal[vd.Name.Name]
	default:
		return false
	}
}

// isPure reports whether evaluating expr can have no observable effect
// beyond producing a value — safe to drop if its result is discarded.
func isPure(e ast.Expression) bool {
	switch ex := e.(type) {
	case *ast.NumberLit, *ast.ConstStringLit, *ast.NameExpr:
		return true
	case *ast.BinaryExpr:
		return isPure(ex.Left) && isPure(ex.Right)
	case *ast.UnaryExpr:
		return isPure(ex.Right)
	default:
		return false
	}
}

func (o *optimizer) foldStmt(s ast.Statement) ast.Statement {
	switch st := s.(type) {
	case *ast.PrintStmt:
		st.Value = o.foldExpr(st.Value)
	case *ast.VarDeclStmt:
		if st.Value != nil {
			st.Value = o.foldExpr(st.Value)
		}
	case *ast.AssignmentStmt:
		st.Value = o.foldExpr(st.Value)
	case *ast.PropertyAssignmentStmt:
		st.Target = o.foldExpr(st.Target)
		st.Value = o.foldExpr(st.Value)
	case *ast.ExpressionStmt:
		st.Value = o.foldExpr(st.Value)
	case *ast.AssertStmt:
		st.Value = o.foldExpr(st.Value)
	case *ast.FunctionDeclStmt:
		st.Body = o.foldExpr(st.Body)
	case *ast.ImplBlockStmt:
		for _, m := range st.Implementations {
			m.Body = o.foldExpr(m.Body)
		}
	}
	return s
}

func (o *optimizer) foldExpr(e ast.Expression) ast.Expression {
	switch ex := e.(type) {
	case *ast.BinaryExpr:
		ex.Left = o.foldExpr(ex.Left)
		ex.Right = o.foldExpr(ex.Right)
		return foldBinary(ex)
	case *ast.UnaryExpr:
		ex.Right = o.foldExpr(ex.Right)
		return foldUnary(ex)
	case *ast.IfExpr:
		ex.Cond = o.foldExpr(ex.Cond)
		ex.Then = o.foldExpr(ex.Then)
		if ex.Else != nil {
			ex.Else = o.foldExpr(ex.Else)
		}
		return ex
	case *ast.BlockExpr:
		return o.foldBlock(ex)
	case *ast.SingleStatementExpr:
		ex.Stmt = o.foldStmt(ex.Stmt)
		return ex
	case *ast.CallExpr:
		ex.Callee = o.foldExpr(ex.Callee)
		for i, a := range ex.Args {
			ex.Args[i] = o.foldExpr(a)
		}
		return ex
	case *ast.PartialCallExpr:
		ex.Callee = o.foldExpr(ex.Callee)
		for i, a := range ex.Args {
			if a != nil {
				ex.Args[i] = o.foldExpr(a)
			}
		}
		return ex
	case *ast.PropertyAccessExpr:
		ex.Target = o.foldExpr(ex.Target)
		return ex
	case *ast.PropertyTestExpr:
		ex.Target = o.foldExpr(ex.Target)
		return ex
	case *ast.AnonFunctionExpr:
		ex.Body = o.foldExpr(ex.Body)
		return ex
	default:
		return e
	}
}

func foldBinary(ex *ast.BinaryExpr) ast.Expression {
	l, lok := ex.Left.(*ast.NumberLit)
	r, rok := ex.Right.(*ast.NumberLit)
	if !lok || !rok {
		return ex
	}
	var v int64
	switch ex.Op {
	case "+":
		v = l.Value + r.Value
	case "-":
		v = l.Value - r.Value
	case "*":
		v = l.Value * r.Value
	case "/":
		if r.Value == 0 {
			return ex // defer division-by-zero to the runtime error path
		}
		v = l.Value / r.Value
	case "%":
		if r.Value == 0 {
			return ex
		}
		v = l.Value % r.Value
	case "**":
		v = ipow(l.Value, r.Value)
	case "==":
		v = boolInt(l.Value == r.Value)
	case "!=":
		v = boolInt(l.Value != r.Value)
	case "<":
		v = boolInt(l.Value < r.Value)
	case "<=":
		v = boolInt(l.Value <= r.Value)
	case ">":
		v = boolInt(l.Value > r.Value)
	case ">=":
		v = boolInt(l.Value >= r.Value)
	default:
		return ex
	}
	return &ast.NumberLit{Token: ex.Token, Value: v}
}

func foldUnary(ex *ast.UnaryExpr) ast.Expression {
	n, ok := ex.Right.(*ast.NumberLit)
	if !ok {
		return ex
	}
	switch ex.Op {
	case "-":
		return &ast.NumberLit{Token: ex.Token, Value: -n.Value}
	case "not":
		return &ast.NumberLit{Token: ex.Token, Value: boolInt(n.Value == 0)}
	default:
		return ex
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func ipow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	r := int64(1)
	for ; exp > 0; exp-- {
		r *= base
	}
	return r
}
