package sema

import (
	"vela-vm/internal/ast"
	"vela-vm/internal/token"
)

type localVar struct {
	name string
	slot int
	tok  token.Token
	used bool
}

type blockScope struct {
	vars map[string]*localVar
}

func newBlockScope() *blockScope {
	return &blockScope{vars: make(map[string]*localVar)}
}

type upvalueInfo struct {
	name      string
	fromLocal bool
	index     int
}

// funcScope tracks one function's (or the program root's) locals,
// block stack, and resolved upvalue list while the resolver is inside
// its body. live is the stack of currently-live locals — slot assigned
// to a new declaration is always len(live) — so that slot numbers are
// reused across sibling blocks exactly as they will be reused as
// physical operand-stack positions once a block's Pop instructions
// run. maxLive is the high-water mark, used only for frame sizing.
type funcScope struct {
	parent   *funcScope
	isRoot   bool
	node     ast.Node
	blocks   []*blockScope
	live     []*localVar
	maxLive  int
	upvalues []upvalueInfo
}

func (fs *funcScope) pushBlock() *blockScope {
	b := newBlockScope()
	fs.blocks = append(fs.blocks, b)
	return b
}

func (fs *funcScope) popBlock() *blockScope {
	b := fs.blocks[len(fs.blocks)-1]
	fs.blocks = fs.blocks[:len(fs.blocks)-1]
	fs.live = fs.live[:len(fs.live)-len(b.vars)]
	return b
}

func (fs *funcScope) currentBlock() *blockScope {
	return fs.blocks[len(fs.blocks)-1]
}

// findLocal searches this function's blocks innermost-out (never
// crossing into a parent function).
func (fs *funcScope) findLocal(name string) (*localVar, bool) {
	for i := len(fs.blocks) - 1; i >= 0; i-- {
		if lv, ok := fs.blocks[i].vars[name]; ok {
			return lv, true
		}
	}
	return nil, false
}

// findOrAddUpvalue dedups by name so repeated references to the same
// captured name reuse one upvalue slot.
func (fs *funcScope) findOrAddUpvalue(name string, fromLocal bool, index int) int {
	for i, uv := range fs.upvalues {
		if uv.name == name {
			return i
		}
	}
	fs.upvalues = append(fs.upvalues, upvalueInfo{name: name, fromLocal: fromLocal, index: index})
	return len(fs.upvalues) - 1
}

type Resolver struct {
	builtins    BuiltinLookup
	table       *Table
	funcs       *funcScope // top of the function-scope stack
	globalNames map[string]token.Token
	globalUsed  map[string]bool
	declUsed    map[token.Position]bool
	errs        []error
}

func NewResolver(builtins BuiltinLookup) *Resolver {
	return &Resolver{
		builtins:    builtins,
		table:       newTable(),
		globalNames: make(map[string]token.Token),
		globalUsed:  make(map[string]bool),
		declUsed:    make(map[token.Position]bool),
	}
}

func (r *Resolver) recordBlockUsage(b *blockScope) {
	for _, lv := range b.vars {
		r.declUsed[lv.tok.Pos] = lv.used
	}
}

// Resolve runs all three passes (redefinition check and variable-kind
// resolution happen together during the single tree walk below;
// optimization runs afterward in optimize.go) and returns the
// annotation table, or the first error encountered.
func Resolve(prog *ast.Program, builtins BuiltinLookup) (*Table, error) {
	r := NewResolver(builtins)
	root := &funcScope{isRoot: true, node: prog.Root}
	r.funcs = root
	root.pushBlock()
	r.resolveStmts(prog.Root.Stmts, true)
	root.popBlock()
	r.table.Funcs[prog.Root] = &FuncInfo{NumLocals: root.maxLive}

	if len(r.errs) > 0 {
		return nil, r.errs[0]
	}
	Optimize(prog, r.table, r.declUsed, r.globalUsed)
	return r.table, nil
}

func (r *Resolver) fail(err error) {
	r.errs = append(r.errs, err)
}

// ---- declarations ----

// declare registers a new binding for name at tok. atGlobalScope is
// true only while resolving the statements directly inside the
// program root's single top-level block (clox's rule for what counts
// as global); every other declaration — including a function's own
// top-level body block — is local.
func (r *Resolver) declare(name string, tok token.Token, atGlobalScope bool) Annotation {
	if atGlobalScope {
		if prev, ok := r.globalNames[name]; ok {
			r.fail(errAt(tok, "redefinition of %q (previously declared at %d:%d)", name, prev.Pos.Line, prev.Pos.Column))
		}
		r.globalNames[name] = tok
		ann := Annotation{Kind: KindGlobal, Name: name}
		r.table.Annotations[tok.Pos] = ann
		return ann
	}

	fs := r.funcs
	block := fs.currentBlock()
	if prev, ok := block.vars[name]; ok {
		r.fail(errAt(tok, "redefinition of %q (previously declared at %d:%d)", name, prev.tok.Pos.Line, prev.tok.Pos.Column))
	}
	lv := &localVar{name: name, slot: len(fs.live), tok: tok}
	fs.live = append(fs.live, lv)
	if len(fs.live) > fs.maxLive {
		fs.maxLive = len(fs.live)
	}
	block.vars[name] = lv
	ann := Annotation{Kind: KindLocal, Slot: lv.slot}
	r.table.Annotations[tok.Pos] = ann
	return ann
}

// ---- name reference resolution ----

func (r *Resolver) resolveRef(name string, tok token.Token) Annotation {
	if lv, ok := r.funcs.findLocal(name); ok {
		lv.used = true
		ann := Annotation{Kind: KindLocal, Slot: lv.slot}
		r.table.Annotations[tok.Pos] = ann
		return ann
	}
	if idx, ok := r.resolveUpvalue(r.funcs, name); ok {
		ann := Annotation{Kind: KindClosed, Slot: idx}
		r.table.Annotations[tok.Pos] = ann
		return ann
	}
	if _, ok := r.globalNames[name]; ok {
		r.globalUsed[name] = true
		ann := Annotation{Kind: KindGlobal, Name: name}
		r.table.Annotations[tok.Pos] = ann
		return ann
	}
	if r.builtins != nil {
		if idx, ok := r.builtins.LookupFreeFunction(name); ok {
			ann := Annotation{Kind: KindBuiltin, Index: idx}
			r.table.Annotations[tok.Pos] = ann
			return ann
		}
	}
	// Unresolved names are optimistically treated as globals: a
	// top-level def may legitimately reference another def that is
	// declared later in the program (mutual recursion). An actually
	// missing global surfaces as an UnknownGlobal runtime error, not a
	// compile-time one.
	ann := Annotation{Kind: KindGlobal, Name: name}
	r.table.Annotations[tok.Pos] = ann
	return ann
}

// resolveUpvalue walks up the function-scope chain looking for name as
// a local (or existing upvalue) of an enclosing function, marking the
// capture at every intermediate level it passes through on the way
// back down, per the propagation rule.
func (r *Resolver) resolveUpvalue(fs *funcScope, name string) (int, bool) {
	if fs.parent == nil {
		return 0, false
	}
	if lv, ok := fs.parent.findLocal(name); ok {
		lv.used = true
		idx := fs.findOrAddUpvalue(name, true, lv.slot)
		return idx, true
	}
	if idx, ok := r.resolveUpvalue(fs.parent, name); ok {
		myIdx := fs.findOrAddUpvalue(name, false, idx)
		return myIdx, true
	}
	return 0, false
}

// ---- statement/expression walk ----

func (r *Resolver) resolveStmts(stmts []ast.Statement, atGlobalScope bool) {
	for _, s := range stmts {
		r.resolveStmt(s, atGlobalScope)
	}
}

func (r *Resolver) resolveStmt(s ast.Statement, atGlobalScope bool) {
	switch st := s.(type) {
	case *ast.PrintStmt:
		r.resolveExpr(st.Value)
	case *ast.VarDeclStmt:
		if st.Value != nil {
			r.resolveExpr(st.Value)
		}
		r.declare(st.Name.Name, st.Name.Token, atGlobalScope)
	case *ast.AssignmentStmt:
		r.resolveExpr(st.Value)
		ann := r.resolveRef(st.Name.Name, st.Name.Token)
		if ann.Kind == KindBuiltin {
			r.fail(errAt(st.Name.Token, "cannot assign to builtin %q", st.Name.Name))
		}
		if ann.Kind == KindGlobal {
			if _, ok := r.globalNames[st.Name.Name]; !ok {
				r.fail(errAt(st.Name.Token, "assignment to undeclared global %q", st.Name.Name))
			}
		}
	case *ast.PropertyAssignmentStmt:
		r.resolveExpr(st.Target)
		r.resolveExpr(st.Value)
	case *ast.ExpressionStmt:
		r.resolveExpr(st.Value)
	case *ast.AssertStmt:
		r.resolveExpr(st.Value)
	case *ast.PassStmt:
		// nothing to resolve
	case *ast.FunctionDeclStmt:
		r.declare(st.Name, st.Token, atGlobalScope)
		r.resolveFunction(st, st.Params, st.Vararg, st.Body)
	case *ast.StructDeclStmt:
		r.declare(st.Name, st.Token, atGlobalScope)
	case *ast.EnumDeclStmt:
		r.declare(st.Name, st.Token, atGlobalScope)
	case *ast.ImplBlockStmt:
		for _, m := range st.Implementations {
			r.resolveFunction(m, m.Params, m.Vararg, m.Body)
		}
	}
}

func (r *Resolver) resolveExpr(e ast.Expression) {
	switch ex := e.(type) {
	case nil:
		return
	case *ast.NumberLit, *ast.ConstStringLit:
		return
	case *ast.NameExpr:
		r.resolveRef(ex.Name, ex.Token)
	case *ast.BinaryExpr:
		r.resolveExpr(ex.Left)
		r.resolveExpr(ex.Right)
	case *ast.UnaryExpr:
		r.resolveExpr(ex.Right)
	case *ast.IfExpr:
		r.resolveExpr(ex.Cond)
		r.resolveExpr(ex.Then)
		if ex.Else != nil {
			r.resolveExpr(ex.Else)
		}
	case *ast.BlockExpr:
		r.funcs.pushBlock()
		r.resolveStmts(ex.Stmts, false)
		r.recordBlockUsage(r.funcs.popBlock())
	case *ast.SingleStatementExpr:
		r.resolveStmt(ex.Stmt, false)
	case *ast.CallExpr:
		r.resolveExpr(ex.Callee)
		for _, a := range ex.Args {
			r.resolveExpr(a)
		}
	case *ast.PartialCallExpr:
		r.resolveExpr(ex.Callee)
		for _, a := range ex.Args {
			if a != nil {
				r.resolveExpr(a)
			}
		}
	case *ast.PropertyAccessExpr:
		r.resolveExpr(ex.Target)
	case *ast.PropertyTestExpr:
		r.resolveExpr(ex.Target)
	case *ast.AnonFunctionExpr:
		r.resolveFunction(ex, ex.Params, ex.Vararg, ex.Body)
	}
}

// resolveFunction pushes a new function scope, declares parameters
// (duplicate parameter names fail, per the redefinition pass), resolves
// the body directly into that same scope's one block (so params and
// body locals share one slot space), then records the function's
// resolved upvalue list.
func (r *Resolver) resolveFunction(node ast.Node, params []*ast.Identifier, vararg *ast.Identifier, body ast.Expression) {
	parent := r.funcs
	fs := &funcScope{parent: parent, node: node}
	r.funcs = fs
	fs.pushBlock()

	seen := make(map[string]token.Token)
	declareParam := func(id *ast.Identifier) {
		if prev, ok := seen[id.Name]; ok {
			r.fail(errAt(id.Token, "duplicate parameter %q (previously declared at %d:%d)", id.Name, prev.Pos.Line, prev.Pos.Column))
		}
		seen[id.Name] = id.Token
		r.declare(id.Name, id.Token, false)
	}
	for _, p := range params {
		declareParam(p)
	}
	if vararg != nil {
		declareParam(vararg)
	}

	if block, ok := body.(*ast.BlockExpr); ok {
		r.resolveStmts(block.Stmts, false)
	} else {
		r.resolveExpr(body)
	}

	r.recordBlockUsage(fs.popBlock())
	r.funcs = parent

	upvs := make([]UpvalueDesc, len(fs.upvalues))
	for i, uv := range fs.upvalues {
		upvs[i] = UpvalueDesc{FromLocal: uv.fromLocal, Index: uv.index}
	}
	r.table.Funcs[node] = &FuncInfo{Upvalues: upvs, NumLocals: fs.maxLive}
}
