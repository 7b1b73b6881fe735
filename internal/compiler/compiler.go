// Package compiler turns a sema-annotated AST into bytecode: one
// object.Chunk per function declaration, anonymous function, and the
// program root. It never tracks scopes itself — every Local/Closed/
// Global/Builtin decision was already made by internal/sema; this
// package only translates those decisions into concrete opcodes and
// operand indices.
package compiler

import (
	"fmt"
	"math"

	"vela-vm/internal/ast"
	"vela-vm/internal/builtin"
	"vela-vm/internal/bytecode"
	"vela-vm/internal/heap"
	"vela-vm/internal/object"
	"vela-vm/internal/sema"
	"vela-vm/internal/token"
)

// CompileError covers the compiler-internal violations reserved by the
// error taxonomy: AST shapes the semantic pass should have already
// ruled out.
type CompileError struct {
	Message string
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile error: %s", e.Message) }

func compileErrorf(format string, args ...interface{}) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...)}
}

// Compiler compiles one chunk (one function activation's worth of
// code). enclosing links to the compiler for the lexically surrounding
// function, mirroring the way the annotation table's upvalue
// descriptors point outward one level at a time. structDescs/enumDescs
// are shared by reference across the whole compilation so an ImplBlock
// anywhere can find the descriptor a StructDeclStmt/EnumDeclStmt built
// earlier.
type Compiler struct {
	enclosing *Compiler
	chunk     *object.Chunk
	table     *sema.Table
	registry  *builtin.Registry
	heap      *heap.Heap
	node      ast.Node

	structDescs map[string]*object.StructDescriptorObj
	enumDescs   map[string]*object.EnumDescriptorObj
}

func newChild(parent *Compiler, node ast.Node, name string, arity object.Arity) *Compiler {
	return &Compiler{
		enclosing:   parent,
		chunk:       object.NewChunk(name, arity),
		table:       parent.table,
		registry:    parent.registry,
		heap:        parent.heap,
		node:        node,
		structDescs: parent.structDescs,
		enumDescs:   parent.enumDescs,
	}
}

func (c *Compiler) root() *Compiler {
	r := c
	for r.enclosing != nil {
		r = r.enclosing
	}
	return r
}

// Compile is the entry point: it produces the root closure whose chunk
// is the program's entry point.
func Compile(prog *ast.Program, table *sema.Table, registry *builtin.Registry, h *heap.Heap) (*object.Closure, error) {
	c := &Compiler{
		table:       table,
		registry:    registry,
		heap:        h,
		node:        prog.Root,
		chunk:       object.NewChunk("<script>", object.Arity{Kind: object.Exact, N: 0}),
		structDescs: make(map[string]*object.StructDescriptorObj),
		enumDescs:   make(map[string]*object.EnumDescriptorObj),
	}
	if info, ok := table.Funcs[prog.Root]; ok {
		c.chunk.NumLocals = info.NumLocals
	}

	if err := c.compileBlockValue(prog.Root); err != nil {
		return nil, err
	}
	c.emitOp(bytecode.OpReturn, prog.Root.Tok().Pos.Line)

	closure := &object.Closure{Template: c.chunk}
	h.Track(c.chunk)
	h.Track(closure)
	return closure, nil
}

// ---- low-level emission ----

func (c *Compiler) emitByte(b byte, line int) int           { return c.chunk.Emit(b, line) }
func (c *Compiler) emitOp(op bytecode.OpCode, line int) int { return c.emitByte(byte(op), line) }

func (c *Compiler) emitU8Op(op bytecode.OpCode, v int, line int) {
	c.emitOp(op, line)
	c.emitByte(byte(v), line)
}

func (c *Compiler) emitU16Op(op bytecode.OpCode, v int, line int) {
	c.emitOp(op, line)
	bytecode.WriteUint16(c.chunk, uint16(v), line)
}

func (c *Compiler) constIdx(v object.Value) int { return c.chunk.AddConstant(v) }

func (c *Compiler) nameConst(name string) int {
	return c.constIdx(object.Str(c.heap.NewString(name)))
}

// emitJump emits op with a placeholder operand, returning the offset
// of that operand for patchJump to fix up once the target is known.
func (c *Compiler) emitJump(op bytecode.OpCode, line int) int {
	c.emitOp(op, line)
	pos := len(c.chunk.Code)
	c.chunk.Emit(0xff, line)
	c.chunk.Emit(0xff, line)
	return pos
}

func (c *Compiler) patchJump(operandPos int) {
	rel := len(c.chunk.Code) - (operandPos + 2)
	c.chunk.Code[operandPos] = byte(uint16(rel) >> 8)
	c.chunk.Code[operandPos+1] = byte(uint16(rel))
}

// ---- binding references ----

// bindDeclared finishes a VarDecl/FunctionDecl/StructDecl/EnumDecl once
// its value is already on top of the stack: a Local binding just
// leaves it there (the pushed value *is* the local's slot), a Global
// binding stores and pops it.
func (c *Compiler) bindDeclared(tok token.Token, line int) {
	ann, _ := c.table.Lookup(tok)
	if ann.Kind == sema.KindGlobal {
		c.emitU16Op(bytecode.OpStoreGlobal, c.nameConst(ann.Name), line)
	}
}

func (c *Compiler) storeRef(tok token.Token, line int) {
	ann, _ := c.table.Lookup(tok)
	switch ann.Kind {
	case sema.KindLocal:
		c.emitU8Op(bytecode.OpStoreLocal, ann.Slot, line)
	case sema.KindClosed:
		c.emitU8Op(bytecode.OpStoreUpvalue, ann.Slot, line)
	case sema.KindGlobal:
		c.emitU16Op(bytecode.OpStoreGlobal, c.nameConst(ann.Name), line)
	}
}

func (c *Compiler) loadRef(tok token.Token, name string, line int) {
	ann, ok := c.table.Lookup(tok)
	if !ok {
		ann = sema.Annotation{Kind: sema.KindGlobal, Name: name}
	}
	switch ann.Kind {
	case sema.KindLocal:
		c.emitU8Op(bytecode.OpLoadLocal, ann.Slot, line)
	case sema.KindClosed:
		c.emitU8Op(bytecode.OpLoadUpvalue, ann.Slot, line)
	case sema.KindGlobal:
		c.emitU16Op(bytecode.OpLoadGlobal, c.nameConst(ann.Name), line)
	case sema.KindBuiltin:
		c.emitU16Op(bytecode.OpLoadBuiltin, ann.Index, line)
	}
}

// ---- statements ----

func (c *Compiler) compileStmt(s ast.Statement) error {
	line := s.Tok().Pos.Line
	switch st := s.(type) {
	case *ast.PrintStmt:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.emitOp(bytecode.OpPrint, line)

	case *ast.VarDeclStmt:
		if st.Value != nil {
			if err := c.compileExpr(st.Value); err != nil {
				return err
			}
		} else {
			c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Nothing()), line)
		}
		c.bindDeclared(st.Name.Token, line)

	case *ast.AssignmentStmt:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.storeRef(st.Name.Token, line)

	case *ast.PropertyAssignmentStmt:
		if err := c.compileExpr(st.Target); err != nil {
			return err
		}
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.emitU16Op(bytecode.OpSetProperty, c.nameConst(st.Name), line)

	case *ast.ExpressionStmt:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.emitU8Op(bytecode.OpPop, 1, line)

	case *ast.AssertStmt:
		if err := c.compileExpr(st.Value); err != nil {
			return err
		}
		c.emitOp(bytecode.OpAssert, line)

	case *ast.PassStmt:
		// nothing to emit

	case *ast.FunctionDeclStmt:
		return c.compileFunctionDecl(st, line)

	case *ast.StructDeclStmt:
		c.compileStructDecl(st, line)

	case *ast.EnumDeclStmt:
		c.compileEnumDecl(st, line)

	case *ast.ImplBlockStmt:
		return c.compileImplBlock(st)

	default:
		return compileErrorf("unhandled statement %T", s)
	}
	return nil
}

// localDeclToken reports the identity token a redefinition-checked
// declaration was recorded under, for the statements that can appear
// directly inside a block and introduce a name.
func localDeclToken(s ast.Statement) (token.Token, bool) {
	switch st := s.(type) {
	case *ast.VarDeclStmt:
		return st.Name.Token, true
	case *ast.FunctionDeclStmt:
		return st.Token, true
	case *ast.StructDeclStmt:
		return st.Token, true
	case *ast.EnumDeclStmt:
		return st.Token, true
	default:
		return token.Token{}, false
	}
}

// blockLocalInfo scans the statements declared directly in b (not
// inside any nested block) and reports the slot of the first Local
// among them and how many there are. Declarations resolved Global
// don't occupy a stack slot and are excluded.
func (c *Compiler) blockLocalInfo(b *ast.BlockExpr) (firstSlot, count int) {
	firstSlot = -1
	for _, s := range b.Stmts {
		tok, ok := localDeclToken(s)
		if !ok {
			continue
		}
		ann, found := c.table.Lookup(tok)
		if !found || ann.Kind != sema.KindLocal {
			continue
		}
		if firstSlot == -1 {
			firstSlot = ann.Slot
		}
		count++
	}
	return firstSlot, count
}

// compileBlockValue compiles every statement of b and leaves exactly
// one value on the stack: the last statement's value if it is an
// ExpressionStmt, otherwise Nothing. Locals declared directly in b are
// removed from underneath that value so the block's net stack effect,
// relative to entry, is a push of one value (a function's own
// top-level block never strictly needs this cleanup — Return discards
// the whole frame regardless — but the same code path compiles those
// too, just doing slightly redundant work right before a Return).
func (c *Compiler) compileBlockValue(b *ast.BlockExpr) error {
	n := len(b.Stmts)
	if n == 0 {
		c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Nothing()), b.Tok().Pos.Line)
		return nil
	}
	for i := 0; i < n-1; i++ {
		if err := c.compileStmt(b.Stmts[i]); err != nil {
			return err
		}
	}
	return c.compileBlockTail(b, b.Stmts[n-1])
}

func (c *Compiler) compileBlockTail(b *ast.BlockExpr, last ast.Statement) error {
	line := last.Tok().Pos.Line
	firstSlot, count := c.blockLocalInfo(b)

	if es, ok := last.(*ast.ExpressionStmt); ok {
		if err := c.compileExpr(es.Value); err != nil {
			return err
		}
		if count > 0 {
			c.emitU8Op(bytecode.OpStoreLocal, firstSlot, line)
			if count > 1 {
				c.emitU8Op(bytecode.OpPop, count-1, line)
			}
		}
		return nil
	}

	if err := c.compileStmt(last); err != nil {
		return err
	}
	if count > 0 {
		c.emitU8Op(bytecode.OpPop, count, line)
	}
	c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Nothing()), line)
	return nil
}

// ---- expressions ----

func (c *Compiler) compileExpr(e ast.Expression) error {
	line := e.Tok().Pos.Line
	switch ex := e.(type) {
	case *ast.NumberLit:
		c.emitIntLiteral(ex.Value, line)

	case *ast.ConstStringLit:
		c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Str(c.heap.NewString(ex.Value))), line)

	case *ast.NameExpr:
		c.loadRef(ex.Token, ex.Name, line)

	case *ast.BinaryExpr:
		return c.compileBinary(ex, line)

	case *ast.UnaryExpr:
		if err := c.compileExpr(ex.Right); err != nil {
			return err
		}
		switch ex.Op {
		case "-":
			c.emitOp(bytecode.OpNegate, line)
		case "not":
			c.emitOp(bytecode.OpNot, line)
		default:
			return compileErrorf("unknown unary operator %q", ex.Op)
		}

	case *ast.IfExpr:
		return c.compileIf(ex, line)

	case *ast.BlockExpr:
		return c.compileBlockValue(ex)

	case *ast.SingleStatementExpr:
		return c.compileSingleStatementExpr(ex)

	case *ast.CallExpr:
		return c.compileCall(ex, line)

	case *ast.PartialCallExpr:
		return c.compilePartialCall(ex, line)

	case *ast.PropertyAccessExpr:
		if err := c.compileExpr(ex.Target); err != nil {
			return err
		}
		c.emitU16Op(bytecode.OpGetProperty, c.nameConst(ex.Name), line)

	case *ast.PropertyTestExpr:
		if err := c.compileExpr(ex.Target); err != nil {
			return err
		}
		c.emitU16Op(bytecode.OpHasProperty, c.nameConst(ex.Name), line)

	case *ast.AnonFunctionExpr:
		return c.compileAnonFunction(ex, line)

	default:
		return compileErrorf("unhandled expression %T", e)
	}
	return nil
}

func (c *Compiler) emitIntLiteral(v int64, line int) {
	if v >= math.MinInt16 && v <= math.MaxInt16 {
		c.emitOp(bytecode.OpLoadImmediateInt, line)
		bytecode.WriteUint16(c.chunk, uint16(int16(v)), line)
		return
	}
	c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Int(v)), line)
}

func (c *Compiler) compileSingleStatementExpr(ex *ast.SingleStatementExpr) error {
	if es, ok := ex.Stmt.(*ast.ExpressionStmt); ok {
		return c.compileExpr(es.Value)
	}
	if err := c.compileStmt(ex.Stmt); err != nil {
		return err
	}
	c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Nothing()), ex.Tok().Pos.Line)
	return nil
}

func (c *Compiler) compileIf(ex *ast.IfExpr, line int) error {
	if err := c.compileExpr(ex.Cond); err != nil {
		return err
	}
	elseJump := c.emitJump(bytecode.OpJumpIfFalse, line)
	if err := c.compileExpr(ex.Then); err != nil {
		return err
	}
	endJump := c.emitJump(bytecode.OpJump, line)

	c.patchJump(elseJump)
	if ex.Else != nil {
		if err := c.compileExpr(ex.Else); err != nil {
			return err
		}
	} else {
		c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.Nothing()), line)
	}
	c.patchJump(endJump)
	return nil
}

var binaryOps = map[string]bytecode.OpCode{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul,
	"/": bytecode.OpDiv, "%": bytecode.OpMod, "**": bytecode.OpPower,
	"==": bytecode.OpEq, "!=": bytecode.OpNe,
	"<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt, ">=": bytecode.OpGe,
}

// compileBinary lowers And/Or to If-style jumps (there is no dedicated
// And/Or opcode): `a and b` behaves as `if a then b else 0`, `a or b`
// as `if a then 1 else b`. The ISA's JumpIfFalse consumes its operand,
// so there is no Dup to recover the left operand's own value on the
// short-circuit path — this design returns a canonical 0/1 on that
// path rather than the left operand itself. Everything else is a plain
// two-operand opcode with left-then-right evaluation order.
func (c *Compiler) compileBinary(ex *ast.BinaryExpr, line int) error {
	switch ex.Op {
	case "and":
		if err := c.compileExpr(ex.Left); err != nil {
			return err
		}
		falseJump := c.emitJump(bytecode.OpJumpIfFalse, line)
		if err := c.compileExpr(ex.Right); err != nil {
			return err
		}
		endJump := c.emitJump(bytecode.OpJump, line)
		c.patchJump(falseJump)
		c.emitIntLiteral(0, line)
		c.patchJump(endJump)
		return nil

	case "or":
		if err := c.compileExpr(ex.Left); err != nil {
			return err
		}
		falseJump := c.emitJump(bytecode.OpJumpIfFalse, line)
		c.emitIntLiteral(1, line)
		trueJump := c.emitJump(bytecode.OpJump, line)
		c.patchJump(falseJump)
		if err := c.compileExpr(ex.Right); err != nil {
			return err
		}
		c.patchJump(trueJump)
		return nil
	}

	if err := c.compileExpr(ex.Left); err != nil {
		return err
	}
	if err := c.compileExpr(ex.Right); err != nil {
		return err
	}
	op, ok := binaryOps[ex.Op]
	if !ok {
		return compileErrorf("unknown binary operator %q", ex.Op)
	}
	c.emitOp(op, line)
	return nil
}

// ---- calls ----

func (c *Compiler) compileCall(ex *ast.CallExpr, line int) error {
	if name, ok := staticCalleeName(ex.Callee); ok {
		if desc, ok := c.root().structDescs[name]; ok {
			return c.compileNewStruct(desc, ex.Args, line)
		}
	}
	if err := c.compileExpr(ex.Callee); err != nil {
		return err
	}
	for _, a := range ex.Args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.emitU8Op(bytecode.OpCall, len(ex.Args), line)
	return nil
}

func staticCalleeName(e ast.Expression) (string, bool) {
	n, ok := e.(*ast.NameExpr)
	if !ok {
		return "", false
	}
	return n.Name, true
}

// compileNewStruct is a static specialization of a Call whose callee
// is a literal, statically-known struct name: it skips the general
// callee-type dispatch and emits the descriptor directly against
// NewStruct. A struct value reached dynamically (stored in a variable,
// passed around, then called) still goes through the general Call
// path, whose StructDescriptor branch performs the same construction.
func (c *Compiler) compileNewStruct(desc *object.StructDescriptorObj, args []ast.Expression, line int) error {
	descIdx := c.constIdx(object.StructDescriptor(desc))
	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.emitOp(bytecode.OpNewStruct, line)
	bytecode.WriteUint16(c.chunk, uint16(descIdx), line)
	c.chunk.Emit(byte(len(args)), line)
	return nil
}

// compilePartialCall emits every non-hole argument, then a
// PartialCall(argc) whose trailing argc bytes mark which positions
// were holes (1) versus real pushed values (0) — the values for hole
// positions are never pushed at all, so the vm knows from argc and the
// flag bytes exactly how many stack slots to consume.
func (c *Compiler) compilePartialCall(ex *ast.PartialCallExpr, line int) error {
	if err := c.compileExpr(ex.Callee); err != nil {
		return err
	}
	for _, a := range ex.Args {
		if a == nil {
			continue
		}
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.emitOp(bytecode.OpPartialCall, line)
	c.chunk.Emit(byte(len(ex.Args)), line)
	for _, a := range ex.Args {
		if a == nil {
			c.chunk.Emit(1, line)
		} else {
			c.chunk.Emit(0, line)
		}
	}
	return nil
}

// ---- function/struct/enum/impl declarations ----

func computeArity(params []*ast.Identifier, vararg *ast.Identifier) object.Arity {
	if vararg != nil {
		return object.Arity{Kind: object.AtLeast, N: len(params)}
	}
	return object.Arity{Kind: object.Exact, N: len(params)}
}

func (c *Compiler) emitMakeClosure(chunkConstIdx int, upvDescs []object.UpvalueDesc, line int) {
	c.emitOp(bytecode.OpMakeClosure, line)
	bytecode.WriteUint16(c.chunk, uint16(chunkConstIdx), line)
	c.chunk.Emit(byte(len(upvDescs)), line)
	for _, u := range upvDescs {
		var isLocal byte
		if u.FromLocal {
			isLocal = 1
		}
		c.chunk.Emit(isLocal, line)
		c.chunk.Emit(byte(u.Index), line)
	}
}

// compileNestedFunction compiles node's body into its own chunk via a
// child Compiler, wraps it as a bare (not-yet-captured) Function
// constant in the *outer* chunk, and returns that constant's index
// together with the upvalue descriptors the outer chunk's MakeClosure
// needs to emit.
func (c *Compiler) compileNestedFunction(node ast.Node, name string, params []*ast.Identifier, vararg *ast.Identifier, body ast.Expression) (int, []object.UpvalueDesc, error) {
	info := c.table.Funcs[node]
	if info == nil {
		info = &sema.FuncInfo{}
	}
	child := newChild(c, node, name, computeArity(params, vararg))
	child.chunk.NumLocals = info.NumLocals

	var err error
	if block, ok := body.(*ast.BlockExpr); ok {
		err = child.compileBlockValue(block)
	} else {
		err = child.compileExpr(body)
	}
	if err != nil {
		return 0, nil, err
	}
	child.emitOp(bytecode.OpReturn, body.Tok().Pos.Line)

	upvDescs := make([]object.UpvalueDesc, len(info.Upvalues))
	for i, u := range info.Upvalues {
		upvDescs[i] = object.UpvalueDesc{FromLocal: u.FromLocal, Index: u.Index}
	}
	child.chunk.UpvalueDescs = upvDescs

	closure := &object.Closure{Template: child.chunk}
	c.heap.Track(child.chunk)
	c.heap.Track(closure)
	return c.constIdx(object.Function(closure)), upvDescs, nil
}

func (c *Compiler) compileFunctionDecl(st *ast.FunctionDeclStmt, line int) error {
	constIdx, upvDescs, err := c.compileNestedFunction(st, st.Name, st.Params, st.Vararg, st.Body)
	if err != nil {
		return err
	}
	c.emitMakeClosure(constIdx, upvDescs, line)
	c.bindDeclared(st.Token, line)
	return nil
}

func (c *Compiler) compileAnonFunction(ex *ast.AnonFunctionExpr, line int) error {
	constIdx, upvDescs, err := c.compileNestedFunction(ex, "<anonymous>", ex.Params, ex.Vararg, ex.Body)
	if err != nil {
		return err
	}
	c.emitMakeClosure(constIdx, upvDescs, line)
	return nil
}

func (c *Compiler) compileStructDecl(st *ast.StructDeclStmt, line int) {
	desc := object.NewStructDescriptor(st.Name, append([]string(nil), st.Fields...))
	c.heap.Track(desc)
	c.root().structDescs[st.Name] = desc
	c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.StructDescriptor(desc)), line)
	c.bindDeclared(st.Token, line)
}

func (c *Compiler) compileEnumDecl(st *ast.EnumDeclStmt, line int) {
	desc := object.NewEnumDescriptor(st.Name, append([]string(nil), st.Variants...))
	c.heap.Track(desc)
	c.root().enumDescs[st.Name] = desc
	c.emitU16Op(bytecode.OpLoadConst, c.constIdx(object.EnumDescriptor(desc)), line)
	c.bindDeclared(st.Token, line)
}

// compileImplBlock compiles each method as a plain chunk (no closure:
// impl blocks are expected at top level, where there is nothing to
// capture — see the BoundMethodObj grounding note in DESIGN.md) and
// installs it into the already-constructed descriptor's method table.
func (c *Compiler) compileImplBlock(st *ast.ImplBlockStmt) error {
	methods := make(map[string]*object.Chunk, len(st.Implementations))
	for _, m := range st.Implementations {
		info := c.table.Funcs[m]
		if info == nil {
			info = &sema.FuncInfo{}
		}
		child := newChild(c, m, m.Name, computeArity(m.Params, m.Vararg))
		child.chunk.NumLocals = info.NumLocals

		var err error
		if block, ok := m.Body.(*ast.BlockExpr); ok {
			err = child.compileBlockValue(block)
		} else {
			err = child.compileExpr(m.Body)
		}
		if err != nil {
			return err
		}
		child.emitOp(bytecode.OpReturn, m.Body.Tok().Pos.Line)
		c.heap.Track(child.chunk)
		methods[m.Name] = child.chunk
	}

	if desc, ok := c.root().structDescs[st.Name]; ok {
		for name, chunk := range methods {
			desc.Methods[name] = chunk
		}
		return nil
	}
	if desc, ok := c.root().enumDescs[st.Name]; ok {
		for name, chunk := range methods {
			desc.Methods[name] = chunk
		}
		return nil
	}
	return compileErrorf("impl block for unknown type %q", st.Name)
}
