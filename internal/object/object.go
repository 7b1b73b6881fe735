// Package object defines the tagged value representation and the heap
// object kinds it can reference: strings, chunks, closures, upvalue
// cells, partial applications, bound methods, and struct/enum
// descriptors and instances. Value and Chunk live in the same package
// so that a Function value can point directly at its Chunk without the
// value/chunk packages importing each other.
package object

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type ValueType int

const (
	ValInt ValueType = iota
	ValStr
	ValFunction
	ValPartial
	ValBuiltin
	ValBoundMethod
	ValStructDescriptor
	ValStructInstance
	ValEnumDescriptor
	ValEnumInstance
	ValList
	ValNothing
)

func (t ValueType) String() string {
	switch t {
	case ValInt:
		return "Int"
	case ValStr:
		return "Str"
	case ValFunction:
		return "Function"
	case ValPartial:
		return "Partial"
	case ValBuiltin:
		return "Builtin"
	case ValBoundMethod:
		return "BoundMethod"
	case ValStructDescriptor:
		return "StructDescriptor"
	case ValStructInstance:
		return "StructInstance"
	case ValEnumDescriptor:
		return "EnumDescriptor"
	case ValEnumInstance:
		return "EnumInstance"
	case ValList:
		return "List"
	case ValNothing:
		return "Nothing"
	default:
		return "?"
	}
}

// Object is a heap-allocated value kind. Trace reports every child
// object it directly holds so the tracing collector in internal/heap
// can follow references without type-switching on every value.
type Object interface {
	Trace(visit func(Object))
	TypeName() string
}

// Value is the tagged union every opcode operates on. Equality is
// structural for Int, identity-based (same Obj pointer) for everything
// heap-allocated.
type Value struct {
	Type ValueType
	Int  int64  // payload for ValInt, and the registry index for ValBuiltin
	Obj  Object // payload for every heap-allocated kind; nil for ValInt/ValBuiltin/ValNothing
}

func Int(i int64) Value               { return Value{Type: ValInt, Int: i} }
func Builtin(index int64) Value       { return Value{Type: ValBuiltin, Int: index} }
func Nothing() Value                  { return Value{Type: ValNothing} }
func Str(o *StringObj) Value          { return Value{Type: ValStr, Obj: o} }
func Function(o *Closure) Value       { return Value{Type: ValFunction, Obj: o} }
func Partial(o *PartialApp) Value     { return Value{Type: ValPartial, Obj: o} }
func BoundMethod(o *BoundMethodObj) Value {
	return Value{Type: ValBoundMethod, Obj: o}
}
func StructDescriptor(o *StructDescriptorObj) Value {
	return Value{Type: ValStructDescriptor, Obj: o}
}
func StructInstance(o *StructInstanceObj) Value {
	return Value{Type: ValStructInstance, Obj: o}
}
func EnumDescriptor(o *EnumDescriptorObj) Value {
	return Value{Type: ValEnumDescriptor, Obj: o}
}
func EnumInstance(o *EnumInstanceObj) Value {
	return Value{Type: ValEnumInstance, Obj: o}
}
func List(o *ListObj) Value { return Value{Type: ValList, Obj: o} }

// Truthy follows the language's only falsy values: integer zero and
// Nothing. Everything else, including the empty string, is truthy.
func (v Value) Truthy() bool {
	switch v.Type {
	case ValInt:
		return v.Int != 0
	case ValNothing:
		return false
	default:
		return true
	}
}

// Equal is structural for Int (and a Builtin's registry index),
// identity-based (same heap object) for every heap-allocated kind,
// Str included, per the data model.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValInt:
		return v.Int == other.Int
	case ValBuiltin:
		return v.Int == other.Int
	case ValNothing:
		return true
	default:
		return v.Obj == other.Obj
	}
}

func (v Value) String() string {
	switch v.Type {
	case ValInt:
		return fmt.Sprintf("%d", v.Int)
	case ValNothing:
		return "nothing"
	case ValStr:
		return v.Obj.(*StringObj).S
	case ValBuiltin:
		return fmt.Sprintf("<builtin #%d>", v.Int)
	case ValFunction:
		return fmt.Sprintf("<fn %s>", v.Obj.(*Closure).Template.Name)
	case ValPartial:
		return "<partial>"
	case ValBoundMethod:
		return "<bound method>"
	case ValStructDescriptor:
		return fmt.Sprintf("<struct %s>", v.Obj.(*StructDescriptorObj).Name)
	case ValStructInstance:
		return v.Obj.(*StructInstanceObj).String()
	case ValEnumDescriptor:
		return fmt.Sprintf("<enum %s>", v.Obj.(*EnumDescriptorObj).Name)
	case ValEnumInstance:
		inst := v.Obj.(*EnumInstanceObj)
		return fmt.Sprintf("%s.%s", inst.Descriptor.Name, inst.Descriptor.Variants[inst.VariantIndex])
	case ValList:
		return v.Obj.(*ListObj).String()
	default:
		return "?"
	}
}

// ---- heap object kinds ----

type StringObj struct {
	S string
}

func (s *StringObj) Trace(func(Object)) {}
func (s *StringObj) TypeName() string   { return "Str" }

// ArityKind distinguishes an exact parameter count from a variadic
// "at least n" tail.
type ArityKind int

const (
	Exact ArityKind = iota
	AtLeast
)

type Arity struct {
	Kind ArityKind
	N    int
}

func (a Arity) Accepts(provided int) bool {
	if a.Kind == AtLeast {
		return provided >= a.N
	}
	return provided == a.N
}

func (a Arity) String() string {
	if a.Kind == AtLeast {
		return fmt.Sprintf("at least %d", a.N)
	}
	return fmt.Sprintf("%d", a.N)
}

// UpvalueDesc tells the compiler, for a nested chunk's Nth upvalue,
// whether to capture it from a local slot of the immediately enclosing
// chunk or from that chunk's own upvalue vector.
type UpvalueDesc struct {
	FromLocal bool
	Index     int
}

// Chunk is an immutable compiled function body: code, constants, and a
// line table for diagnostics. It is referenced through a Closure's
// Template field, another chunk's constant pool, a struct or enum
// descriptor's method table, or a user BoundMethod, never through a
// chunk-index table.
type Chunk struct {
	ID           uuid.UUID
	Name         string
	Arity        Arity
	Constants    []Value
	Code         []byte
	Lines        []int
	UpvalueDescs []UpvalueDesc
	NumLocals    int
}

func NewChunk(name string, arity Arity) *Chunk {
	return &Chunk{ID: uuid.New(), Name: name, Arity: arity}
}

func (c *Chunk) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if existing.Type == v.Type && sameConstant(existing, v) {
			return i
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

func sameConstant(a, b Value) bool {
	switch a.Type {
	case ValInt:
		return a.Int == b.Int
	case ValStr:
		return a.Obj.(*StringObj).S == b.Obj.(*StringObj).S
	default:
		return false // non-Int/Str constants are never deduplicated
	}
}

func (c *Chunk) Emit(b byte, line int) int {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
	return len(c.Code) - 1
}

func (c *Chunk) LineAt(opcodeIndex int) int {
	if opcodeIndex < 0 || opcodeIndex >= len(c.Lines) {
		return -1
	}
	return c.Lines[opcodeIndex]
}

func (c *Chunk) Trace(visit func(Object)) {
	for _, k := range c.Constants {
		if k.Obj != nil {
			visit(k.Obj)
		}
	}
}

func (c *Chunk) TypeName() string { return "Chunk" }

// UpvalueCell is the indirection shared between a closure and the
// frame that created it. While open, Location points at the live
// operand-stack slot; Close copies the current value in and severs the
// link so the binding survives the owning frame's return.
type UpvalueCell struct {
	Location *Value
	Closed   Value
	IsClosed bool
	Next     *UpvalueCell // intrusive list of open upvalues, most recent first
}

func NewOpenUpvalue(loc *Value) *UpvalueCell {
	return &UpvalueCell{Location: loc}
}

func (u *UpvalueCell) Get() Value {
	if u.IsClosed {
		return u.Closed
	}
	return *u.Location
}

func (u *UpvalueCell) Set(v Value) {
	if u.IsClosed {
		u.Closed = v
		return
	}
	*u.Location = v
}

func (u *UpvalueCell) Close() {
	u.Closed = *u.Location
	u.IsClosed = true
	u.Location = nil
	u.Next = nil
}

func (u *UpvalueCell) Trace(visit func(Object)) {
	if u.IsClosed && u.Closed.Obj != nil {
		visit(u.Closed.Obj)
	} else if !u.IsClosed && u.Location != nil && u.Location.Obj != nil {
		visit(u.Location.Obj)
	}
}

func (u *UpvalueCell) TypeName() string { return "Upvalue" }

// Closure pairs an immutable chunk template with the upvalue cells one
// particular MakeClosure captured; two closures over the same template
// are distinct heap objects with independent captures.
type Closure struct {
	Template *Chunk
	Upvalues []*UpvalueCell
}

func (c *Closure) Trace(visit func(Object)) {
	visit(c.Template)
	for _, uv := range c.Upvalues {
		visit(uv)
	}
}

func (c *Closure) TypeName() string { return "Function" }

// PartialArg is one bound-argument slot of a PartialApp; Hole marks a
// slot left open by `_` and still awaiting a value.
type PartialArg struct {
	Value Value
	Hole  bool
}

type PartialApp struct {
	Callee Value
	Args   []PartialArg
}

// Holes reports the number of unfilled slots remaining.
func (p *PartialApp) Holes() int {
	n := 0
	for _, a := range p.Args {
		if a.Hole {
			n++
		}
	}
	return n
}

// Fill returns a new PartialApp with the first len(newArgs) holes
// replaced left-to-right; callers check Holes() on the result to see
// whether every hole is now filled.
func (p *PartialApp) Fill(newArgs []Value) *PartialApp {
	filled := &PartialApp{Callee: p.Callee, Args: append([]PartialArg(nil), p.Args...)}
	j := 0
	for i := range filled.Args {
		if j >= len(newArgs) {
			break
		}
		if filled.Args[i].Hole {
			filled.Args[i] = PartialArg{Value: newArgs[j]}
			j++
		}
	}
	return filled
}

// Resolved returns the full argument vector once no holes remain.
func (p *PartialApp) Resolved() []Value {
	out := make([]Value, len(p.Args))
	for i, a := range p.Args {
		out[i] = a.Value
	}
	return out
}

func (p *PartialApp) Trace(visit func(Object)) {
	if p.Callee.Obj != nil {
		visit(p.Callee.Obj)
	}
	for _, a := range p.Args {
		if !a.Hole && a.Value.Obj != nil {
			visit(a.Value.Obj)
		}
	}
}

func (p *PartialApp) TypeName() string { return "Partial" }

// BoundMethodObj ties a receiver to a method found either in a
// descriptor's own method table (UserMethod set) or in the builtin
// registry (BuiltinClass/BuiltinMethod set, resolved by the vm against
// internal/builtin at call time).
type BoundMethodObj struct {
	Self        Value
	UserMethod  *Chunk
	IsBuiltin   bool
	BuiltinClass  int
	BuiltinMethod int
}

func (b *BoundMethodObj) Trace(visit func(Object)) {
	if b.Self.Obj != nil {
		visit(b.Self.Obj)
	}
	if b.UserMethod != nil {
		visit(b.UserMethod)
	}
}

func (b *BoundMethodObj) TypeName() string { return "BoundMethod" }

type StructDescriptorObj struct {
	Name    string
	Fields  []string
	Methods map[string]*Chunk
}

func NewStructDescriptor(name string, fields []string) *StructDescriptorObj {
	return &StructDescriptorObj{Name: name, Fields: fields, Methods: map[string]*Chunk{}}
}

func (d *StructDescriptorObj) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

func (d *StructDescriptorObj) Trace(visit func(Object)) {
	for _, m := range d.Methods {
		visit(m)
	}
}

func (d *StructDescriptorObj) TypeName() string { return "StructDescriptor" }

type StructInstanceObj struct {
	Descriptor *StructDescriptorObj
	Fields     []Value
}

func (s *StructInstanceObj) Get(name string) (Value, bool) {
	i := s.Descriptor.FieldIndex(name)
	if i < 0 {
		return Value{}, false
	}
	return s.Fields[i], true
}

func (s *StructInstanceObj) Set(name string, v Value) bool {
	i := s.Descriptor.FieldIndex(name)
	if i < 0 {
		return false
	}
	s.Fields[i] = v
	return true
}

func (s *StructInstanceObj) String() string {
	var sb strings.Builder
	sb.WriteString(s.Descriptor.Name)
	sb.WriteString("{")
	for i, f := range s.Descriptor.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f)
		sb.WriteString(": ")
		sb.WriteString(s.Fields[i].String())
	}
	sb.WriteString("}")
	return sb.String()
}

func (s *StructInstanceObj) Trace(visit func(Object)) {
	visit(s.Descriptor)
	for _, f := range s.Fields {
		if f.Obj != nil {
			visit(f.Obj)
		}
	}
}

func (s *StructInstanceObj) TypeName() string { return s.Descriptor.Name }

type EnumDescriptorObj struct {
	Name     string
	Variants []string
	Methods  map[string]*Chunk
	// instances holds the interned singleton for each variant so enum
	// values compare equal by identity as the data model requires.
	instances []*EnumInstanceObj
}

func NewEnumDescriptor(name string, variants []string) *EnumDescriptorObj {
	d := &EnumDescriptorObj{Name: name, Variants: variants, Methods: map[string]*Chunk{}}
	d.instances = make([]*EnumInstanceObj, len(variants))
	for i := range variants {
		d.instances[i] = &EnumInstanceObj{Descriptor: d, VariantIndex: i}
	}
	return d
}

func (d *EnumDescriptorObj) VariantIndex(name string) int {
	for i, v := range d.Variants {
		if v == name {
			return i
		}
	}
	return -1
}

// Instance returns the interned singleton for a variant by index.
func (d *EnumDescriptorObj) Instance(variantIndex int) *EnumInstanceObj {
	return d.instances[variantIndex]
}

func (d *EnumDescriptorObj) Trace(visit func(Object)) {
	for _, m := range d.Methods {
		visit(m)
	}
}

func (d *EnumDescriptorObj) TypeName() string { return "EnumDescriptor" }

type EnumInstanceObj struct {
	Descriptor   *EnumDescriptorObj
	VariantIndex int
}

func (e *EnumInstanceObj) Trace(visit func(Object)) { visit(e.Descriptor) }
func (e *EnumInstanceObj) TypeName() string         { return e.Descriptor.Name }

// ListObj is the heap container a variadic call's surplus arguments are
// packed into before the callee's frame is entered; the language has
// no literal or indexing syntax of its own for it, so it is reachable
// only through a `...rest` parameter binding.
type ListObj struct {
	Elements []Value
}

func (l *ListObj) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range l.Elements {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteString("]")
	return sb.String()
}

func (l *ListObj) Trace(visit func(Object)) {
	for _, v := range l.Elements {
		if v.Obj != nil {
			visit(v.Obj)
		}
	}
}

func (l *ListObj) TypeName() string { return "List" }
