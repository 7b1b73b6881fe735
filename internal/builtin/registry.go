// Package builtin holds the process-lifetime registry of native free
// functions and native methods. It is built once at startup by
// stdlib.Install and never mutated afterward; opcodes reference its
// entries by integer index rather than by name.
package builtin

import (
	"fmt"

	"vela-vm/internal/object"
)

// VMContext is the narrow slice of the vm a native function needs: the
// ability to allocate on the heap. Natives never get the whole *vm.VM,
// keeping the registry's dependency on the vm package to zero.
type VMContext interface {
	NewString(s string) *object.StringObj
	// CallableArity reports the arity of any callable value (closure,
	// builtin, bound method, or partial application), or false if v is
	// not callable at all. Introspection builtins (arity, is_vararg)
	// are the only callers.
	CallableArity(v object.Value) (object.Arity, bool)
}

// Func is a native free function or method body. args is already
// arity-checked against the Arity the function was registered with.
type Func func(vm VMContext, args []object.Value) (object.Value, error)

type freeEntry struct {
	name  string
	arity object.Arity
	fn    Func
}

type methodEntry struct {
	name  string
	arity object.Arity
	fn    Func
}

type classMethods struct {
	typeName string
	methods  []methodEntry
	byName   map[string]int
}

// Registry is immutable after stdlib.Install returns; CallFree and
// CallMethod are the only entry points the vm uses at runtime.
type Registry struct {
	free       []freeEntry
	freeByName map[string]int

	classes      []classMethods
	classByName  map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		freeByName:  make(map[string]int),
		classByName: make(map[string]int),
	}
}

// RegisterFree adds a free function, returning its registry index.
// Registering the same name twice is a programmer error (panics) since
// the registry is assembled once, entirely under this package's
// control, at process startup.
func (r *Registry) RegisterFree(name string, arity object.Arity, fn Func) int {
	if _, exists := r.freeByName[name]; exists {
		panic(fmt.Sprintf("builtin: free function %q registered twice", name))
	}
	idx := len(r.free)
	r.free = append(r.free, freeEntry{name: name, arity: arity, fn: fn})
	r.freeByName[name] = idx
	return idx
}

// RegisterMethod adds a method under typeName, returning (classIdx, methodIdx).
func (r *Registry) RegisterMethod(typeName, name string, arity object.Arity, fn Func) (int, int) {
	classIdx, ok := r.classByName[typeName]
	if !ok {
		classIdx = len(r.classes)
		r.classes = append(r.classes, classMethods{typeName: typeName, byName: make(map[string]int)})
		r.classByName[typeName] = classIdx
	}
	c := &r.classes[classIdx]
	if _, exists := c.byName[name]; exists {
		panic(fmt.Sprintf("builtin: method %s.%s registered twice", typeName, name))
	}
	methodIdx := len(c.methods)
	c.methods = append(c.methods, methodEntry{name: name, arity: arity, fn: fn})
	c.byName[name] = methodIdx
	return classIdx, methodIdx
}

// LookupFreeFunction implements sema.BuiltinLookup.
func (r *Registry) LookupFreeFunction(name string) (int, bool) {
	idx, ok := r.freeByName[name]
	return idx, ok
}

func (r *Registry) FreeArity(idx int) object.Arity { return r.free[idx].arity }
func (r *Registry) FreeName(idx int) string        { return r.free[idx].name }

// CallFree invokes the free function at idx.
func (r *Registry) CallFree(idx int, vm VMContext, args []object.Value) (object.Value, error) {
	return r.free[idx].fn(vm, args)
}

// LookupMethod resolves (type name, method name) to its registry
// indices, for property access that falls through to builtin methods.
func (r *Registry) LookupMethod(typeName, methodName string) (classIdx, methodIdx int, ok bool) {
	ci, ok := r.classByName[typeName]
	if !ok {
		return 0, 0, false
	}
	mi, ok := r.classes[ci].byName[methodName]
	if !ok {
		return 0, 0, false
	}
	return ci, mi, true
}

func (r *Registry) HasMethod(typeName, methodName string) bool {
	_, _, ok := r.LookupMethod(typeName, methodName)
	return ok
}

func (r *Registry) MethodArity(classIdx, methodIdx int) object.Arity {
	return r.classes[classIdx].methods[methodIdx].arity
}

func (r *Registry) MethodName(classIdx, methodIdx int) string {
	return r.classes[classIdx].methods[methodIdx].name
}

// CallMethod invokes the method at (classIdx, methodIdx). args[0] is
// the receiver, per the calling convention for BoundMethod.
func (r *Registry) CallMethod(classIdx, methodIdx int, vm VMContext, args []object.Value) (object.Value, error) {
	return r.classes[classIdx].methods[methodIdx].fn(vm, args)
}
