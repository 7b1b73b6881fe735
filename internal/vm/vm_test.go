package vm

import (
	"testing"

	"vela-vm/internal/builtin"
	"vela-vm/internal/builtin/stdlib"
	"vela-vm/internal/compiler"
	"vela-vm/internal/heap"
	"vela-vm/internal/lexer"
	"vela-vm/internal/object"
	"vela-vm/internal/parser"
	"vela-vm/internal/sema"
)

// run lexes, parses, resolves, and compiles src, then executes it on a
// fresh VM. Tests that need to tweak the VM before running (stack
// limit overrides, etc.) use runOnVM directly instead.
func run(t *testing.T, src string) (object.Value, error) {
	t.Helper()
	registry := stdlib.Install(builtin.NewRegistry())
	h := heap.New()
	entry, err := compileSrc(t, src, registry, h)
	if err != nil {
		return object.Value{}, err
	}
	machine := New(h, registry)
	return machine.Run(entry)
}

func runOnVM(t *testing.T, machine *VM, registry *builtin.Registry, h *heap.Heap, src string) (object.Value, error) {
	t.Helper()
	entry, err := compileSrc(t, src, registry, h)
	if err != nil {
		return object.Value{}, err
	}
	return machine.Run(entry)
}

func compileSrc(t *testing.T, src string, registry *builtin.Registry, h *heap.Heap) (*object.Closure, error) {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors for %q: %v", src, errs)
	}
	table, err := sema.Resolve(program, registry)
	if err != nil {
		t.Fatalf("resolve error for %q: %v", src, err)
	}
	return compiler.Compile(program, table, registry, h)
}

type vmTestCase struct {
	name     string
	input    string
	expected object.Value
}

func runVmTests(t *testing.T, tests []vmTestCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := run(t, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Equal(tt.expected) {
				t.Errorf("input %q: expected %s, got %s", tt.input, tt.expected.String(), result.String())
			}
		})
	}
}

func TestIntegerArithmetic(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"add", "1 + 2", object.Int(3)},
		{"precedence", "2 + 3 * 4", object.Int(14)},
		{"parens", "(2 + 3) * 4", object.Int(20)},
		{"sub-mul", "10 - 2 * 3", object.Int(4)},
		{"div", "7 / 2", object.Int(3)},
		{"mod", "7 % 2", object.Int(1)},
		{"power", "2 ** 10", object.Int(1024)},
		{"power-right-assoc", "2 ** 3 ** 2", object.Int(512)},
		{"negate", "-5 + 2", object.Int(-3)},
		{"double-negate", "- -5", object.Int(5)},
	})
}

func TestComparisonAndLogic(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"lt-true", "1 < 2", object.Int(1)},
		{"lt-false", "2 < 1", object.Int(0)},
		{"eq", "3 == 3", object.Int(1)},
		{"neq", "3 != 3", object.Int(0)},
		{"and-short-circuits-false", "0 and (1 / 0)", object.Int(0)},
		{"or-short-circuits-true", "1 or (1 / 0)", object.Int(1)},
		{"and-both-truthy", "1 and 2", object.Int(2)},
		{"or-first-truthy", "5 or 2", object.Int(1)},
		{"not", "not 0", object.Int(1)},
	})
}

func TestVarDeclAndAssignment(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"var-use", "var x = 10\nx + 1", object.Int(11)},
		{"reassign", "var x = 1\nx = x + 41\nx", object.Int(42)},
		{"block-swaps-through-local", "var a = 1\nvar b = 2\n{ var t = a; a = b; b = t }\na", object.Int(2)},
	})
}

func TestIfExpression(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"then-branch", "if 1 { 10 } else { 20 }", object.Int(10)},
		{"else-branch", "if 0 { 10 } else { 20 }", object.Int(20)},
		{"then-keyword-form", "if 1 then 5 else 6", object.Int(5)},
		{"missing-else-is-nothing-when-false", "if 0 { 10 }", object.Nothing()},
	})
}

// TestClosureOverGlobal exercises a closure capturing a variable
// declared at the program's top level, which resolves as Global rather
// than as an upvalue.
func TestClosureOverGlobal(t *testing.T) {
	src := `
var x = 10
def addX(n) {
  x + n
}
addX(1)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(11)) {
		t.Errorf("expected 11, got %s", result.String())
	}
}

// TestClosureIdentityPerCall confirms two closures minted by separate
// calls to the same factory capture independent upvalue cells.
func TestClosureIdentityPerCall(t *testing.T) {
	src := `
def mk(n) {
  (x) -> x + n
}
var a = mk(7)
var b = mk(9)
a(0) + b(0)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(16)) {
		t.Errorf("expected 16, got %s", result.String())
	}
}

// TestPartialApplication covers filling a partial application's single
// hole with a later call's argument.
func TestPartialApplication(t *testing.T) {
	src := `
def add(a, b) { a + b }
var inc = add(1, _)
inc(41)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(42)) {
		t.Errorf("expected 42, got %s", result.String())
	}
}

func TestPartialApplicationAssociative(t *testing.T) {
	src := `
def add3(a, b, c) { a + b + c }
var p1 = add3(_, _, 3)
var p2 = p1(1, _)
p2(2)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(6)) {
		t.Errorf("expected 6, got %s", result.String())
	}
}

func TestStructConstructAndAccess(t *testing.T) {
	src := `
struct Point: { x, y }
var p = Point(3, 4)
p.x + p.y
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(7)) {
		t.Errorf("expected 7, got %s", result.String())
	}
}

// TestStructConstructViaDynamicCall exercises the vm's dynamic
// StructDescriptor-as-callee dispatch path (as opposed to the
// compiler's static NewStruct specialization used when the callee is
// a literal struct name), reached here by calling through a variable.
func TestStructConstructViaDynamicCall(t *testing.T) {
	src := `
struct Point: { x, y }
var ctor = Point
var p = ctor(3, 4)
p.x + p.y
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(7)) {
		t.Errorf("expected 7, got %s", result.String())
	}
}

func TestStructPropertyAssignment(t *testing.T) {
	src := `
struct Point: { x, y }
var p = Point(1, 1)
p.x = 99
p.x
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(99)) {
		t.Errorf("expected 99, got %s", result.String())
	}
}

func TestImplBlockMethod(t *testing.T) {
	src := `
struct Point: { x, y }
impl Point: {
  def sum(self) { self.x + self.y }
}
var p = Point(3, 4)
p.sum()
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(7)) {
		t.Errorf("expected 7, got %s", result.String())
	}
}

func TestEnumVariantIdentity(t *testing.T) {
	src := `
enum Color: { Red, Green, Blue }
Color.Red == Color.Red
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(1)) {
		t.Errorf("expected 1, got %s", result.String())
	}
}

func TestEnumVariantsDistinct(t *testing.T) {
	src := `
enum Color: { Red, Green, Blue }
Color.Red == Color.Blue
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(0)) {
		t.Errorf("expected 0, got %s", result.String())
	}
}

// TestVarargPacking confirms surplus arguments land on the heap as a
// List reachable only through the vararg binding.
func TestVarargPacking(t *testing.T) {
	src := `
def count(...rest) { len(rest) }
count(1, 2, 3, 4)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(4)) {
		t.Errorf("expected 4, got %s", result.String())
	}
}

func TestVarargWithFixedParams(t *testing.T) {
	src := `
def f(a, b, ...rest) { a + b + len(rest) }
f(1, 2, 10, 20, 30)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(6)) {
		t.Errorf("expected 6, got %s", result.String())
	}
}

func TestRecursion(t *testing.T) {
	src := `
def fact(n) {
  if n <= 1 then 1 else n * fact(n - 1)
}
fact(10)
`
	result, err := run(t, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(3628800)) {
		t.Errorf("expected 3628800, got %s", result.String())
	}
}

// TestDeepRecursionNeverReturnsWrongValue exercises a call depth deep
// enough to exhaust FramesMax; it must either complete with the
// correct answer or fail with StackOverflow/FrameOverflow, but never
// silently return a wrong value.
func TestDeepRecursionNeverReturnsWrongValue(t *testing.T) {
	src := `
def countdown(n) {
  if n <= 0 then 0 else countdown(n - 1)
}
countdown(10000)
`
	result, err := run(t, src)
	if err != nil {
		if rerr, ok := err.(*RuntimeError); ok {
			if rerr.Kind == FrameOverflowKind || rerr.Kind == StackOverflowKind {
				return
			}
		}
		t.Fatalf("expected FrameOverflow/StackOverflow or success, got: %v", err)
	}
	if !result.Equal(object.Int(0)) {
		t.Errorf("expected 0 on success, got %s", result.String())
	}
}

func TestOverrideStackLimitTriggersStackOverflow(t *testing.T) {
	registry := stdlib.Install(builtin.NewRegistry())
	h := heap.New()
	machine := New(h, registry)
	machine.OverrideStackLimit(8)

	src := `
def deep(n) {
  if n <= 0 then 0 else 1 + deep(n - 1)
}
deep(100)
`
	_, err := runOnVM(t, machine, registry, h, src)
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != StackOverflowKind {
		t.Errorf("expected StackOverflowKind, got %s", rerr.Kind)
	}
}

func TestDivisionByZero(t *testing.T) {
	_, err := run(t, "1 / 0")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != DivisionByZeroKind {
		t.Errorf("expected DivisionByZeroKind, got %s", rerr.Kind)
	}
}

func TestModuloByZero(t *testing.T) {
	_, err := run(t, "1 % 0")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != DivisionByZeroKind {
		t.Errorf("expected DivisionByZeroKind, got %s", rerr.Kind)
	}
}

func TestAssertionFailure(t *testing.T) {
	_, err := run(t, "assert 1 == 2")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != AssertionFailedKind {
		t.Errorf("expected AssertionFailedKind, got %s", rerr.Kind)
	}
}

func TestAssertionSuccessDoesNotAbort(t *testing.T) {
	result, err := run(t, "assert 1 == 1\n42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Equal(object.Int(42)) {
		t.Errorf("expected 42, got %s", result.String())
	}
}

func TestArityMismatch(t *testing.T) {
	_, err := run(t, "def f(a, b) { a + b }\nf(1)")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != ArityMismatchKind {
		t.Errorf("expected ArityMismatchKind, got %s", rerr.Kind)
	}
}

func TestUnknownGlobal(t *testing.T) {
	_, err := run(t, "doesNotExist")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != UnknownGlobalKind {
		t.Errorf("expected UnknownGlobalKind, got %s", rerr.Kind)
	}
}

func TestUnknownProperty(t *testing.T) {
	_, err := run(t, "struct Point: { x, y }\nvar p = Point(1, 2)\np.z")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != UnknownPropertyKind {
		t.Errorf("expected UnknownPropertyKind, got %s", rerr.Kind)
	}
}

func TestCallingNonCallableIsTypeError(t *testing.T) {
	_, err := run(t, "var x = 5\nx()")
	rerr, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %v", err)
	}
	if rerr.Kind != RuntimeTypeErrorKind {
		t.Errorf("expected RuntimeTypeErrorKind, got %s", rerr.Kind)
	}
}

func TestPropertyTest(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"has-field", `struct Point: { x, y }
var p = Point(1, 2)
p.x?`, object.Int(1)},
		{"missing-field", `struct Point: { x, y }
var p = Point(1, 2)
p.z?`, object.Int(0)},
	})
}

func TestBuiltinFreeFunctions(t *testing.T) {
	runVmTests(t, []vmTestCase{
		{"len-of-string", `len("hello")`, object.Int(5)},
		{"int-of-string", `int("42") + 1`, object.Int(43)},
	})
}

func TestStringMethod(t *testing.T) {
	result, err := run(t, `"hi".concat(" there")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != object.ValStr {
		t.Fatalf("expected Str, got %s", result.Type)
	}
	if result.String() != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", result.String())
	}
}

// TestGlobalsPersistAcrossRuns exercises the REPL's shared-VM pattern:
// a global declared in one Run call is visible to a later Run call on
// the same VM.
func TestGlobalsPersistAcrossRuns(t *testing.T) {
	registry := stdlib.Install(builtin.NewRegistry())
	h := heap.New()
	machine := New(h, registry)

	if _, err := runOnVM(t, machine, registry, h, "var x = 41"); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}
	result, err := runOnVM(t, machine, registry, h, "x + 1")
	if err != nil {
		t.Fatalf("unexpected error on second run: %v", err)
	}
	if !result.Equal(object.Int(42)) {
		t.Errorf("expected 42, got %s", result.String())
	}
}
