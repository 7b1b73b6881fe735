// Package stdlib installs the concrete native functions and methods
// into a builtin.Registry: len, str, int, type_of, sum, arity,
// is_vararg, chr and ord as free functions, and upper/lower/concat/slice
// as Str methods. There is deliberately no I/O, network, or
// persistence builtin here — core execution has no file or socket
// surface, per the collaborator contract in internal/vm.
package stdlib

import (
	"fmt"
	"strings"

	"vela-vm/internal/builtin"
	"vela-vm/internal/object"
)

// Install registers every standard builtin into r and returns r, so
// callers can chain it straight out of builtin.NewRegistry().
func Install(r *builtin.Registry) *builtin.Registry {
	installFree(r)
	installStrMethods(r)
	return r
}

func installFree(r *builtin.Registry) {
	r.RegisterFree("len", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		switch args[0].Type {
		case object.ValStr:
			return object.Int(int64(len(args[0].Obj.(*object.StringObj).S))), nil
		case object.ValList:
			return object.Int(int64(len(args[0].Obj.(*object.ListObj).Elements))), nil
		default:
			return object.Value{}, fmt.Errorf("len: unsupported type %s", args[0].Type)
		}
	})

	r.RegisterFree("str", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		return object.Str(vm.NewString(args[0].String())), nil
	})

	r.RegisterFree("int", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		v := args[0]
		switch v.Type {
		case object.ValInt:
			return v, nil
		case object.ValStr:
			s := strings.TrimSpace(v.Obj.(*object.StringObj).S)
			var n int64
			var neg bool
			i := 0
			if i < len(s) && (s[i] == '-' || s[i] == '+') {
				neg = s[i] == '-'
				i++
			}
			if i == len(s) {
				return object.Value{}, fmt.Errorf("int: %q is not a valid integer", s)
			}
			for ; i < len(s); i++ {
				if s[i] < '0' || s[i] > '9' {
					return object.Value{}, fmt.Errorf("int: %q is not a valid integer", s)
				}
				n = n*10 + int64(s[i]-'0')
			}
			if neg {
				n = -n
			}
			return object.Int(n), nil
		default:
			return object.Value{}, fmt.Errorf("int: unsupported type %s", v.Type)
		}
	})

	r.RegisterFree("type_of", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		return object.Str(vm.NewString(args[0].Type.String())), nil
	})

	r.RegisterFree("chr", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		if args[0].Type != object.ValInt {
			return object.Value{}, fmt.Errorf("chr: expected Int, got %s", args[0].Type)
		}
		return object.Str(vm.NewString(string(rune(args[0].Int)))), nil
	})

	r.RegisterFree("ord", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		if args[0].Type != object.ValStr {
			return object.Value{}, fmt.Errorf("ord: expected Str, got %s", args[0].Type)
		}
		s := args[0].Obj.(*object.StringObj).S
		runes := []rune(s)
		if len(runes) != 1 {
			return object.Value{}, fmt.Errorf("ord: expected a single-character string, got %q", s)
		}
		return object.Int(int64(runes[0])), nil
	})

	r.RegisterFree("sum", object.Arity{Kind: object.AtLeast, N: 0}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		var total int64
		for i, a := range args {
			if a.Type != object.ValInt {
				return object.Value{}, fmt.Errorf("sum: expected all args of type Int, got %s at arg %d", a.Type, i)
			}
			total += a.Int
		}
		return object.Int(total), nil
	})

	r.RegisterFree("arity", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		a, ok := vm.CallableArity(args[0])
		if !ok {
			return object.Value{}, fmt.Errorf("arity: expected a callable, got %s", args[0].Type)
		}
		return object.Int(int64(a.N)), nil
	})

	r.RegisterFree("is_vararg", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		a, ok := vm.CallableArity(args[0])
		if !ok {
			return object.Value{}, fmt.Errorf("is_vararg: expected a callable, got %s", args[0].Type)
		}
		if a.Kind == object.AtLeast {
			return object.Int(1), nil
		}
		return object.Int(0), nil
	})
}

func installStrMethods(r *builtin.Registry) {
	str := object.ValStr.String()

	r.RegisterMethod(str, "upper", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		return object.Str(vm.NewString(strings.ToUpper(args[0].Obj.(*object.StringObj).S))), nil
	})

	r.RegisterMethod(str, "lower", object.Arity{Kind: object.Exact, N: 1}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		return object.Str(vm.NewString(strings.ToLower(args[0].Obj.(*object.StringObj).S))), nil
	})

	r.RegisterMethod(str, "concat", object.Arity{Kind: object.Exact, N: 2}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		if args[1].Type != object.ValStr {
			return object.Value{}, fmt.Errorf("concat: expected Str argument, got %s", args[1].Type)
		}
		self := args[0].Obj.(*object.StringObj).S
		other := args[1].Obj.(*object.StringObj).S
		return object.Str(vm.NewString(self + other)), nil
	})

	r.RegisterMethod(str, "slice", object.Arity{Kind: object.Exact, N: 3}, func(vm builtin.VMContext, args []object.Value) (object.Value, error) {
		if args[1].Type != object.ValInt || args[2].Type != object.ValInt {
			return object.Value{}, fmt.Errorf("slice: expected Int start and end")
		}
		s := []rune(args[0].Obj.(*object.StringObj).S)
		start, end := args[1].Int, args[2].Int
		if start < 0 || end > int64(len(s)) || start > end {
			return object.Value{}, fmt.Errorf("slice: index out of range [%d:%d] for length %d", start, end, len(s))
		}
		return object.Str(vm.NewString(string(s[start:end]))), nil
	})
}
