package etch

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned by value operations when the operands'
// kinds do not satisfy the operator's contract (spec §3.1: arithmetic
// requires matching numeric types, with string+string and array+array
// concatenation as the only exceptions).
var ErrTypeMismatch = errors.New("etch: type mismatch")

// ErrDivisionByZero is returned by Div/Mod when the divisor is zero and
// the compiler did not prove the operation safe ahead of time.
var ErrDivisionByZero = errors.New("etch: division by zero")

func numericKind(v Value) bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// Add implements the generic `+` operator on values: numeric addition
// or string concatenation. Array+array needs the heap and is done by
// the VM's execArith through Heap.ConcatArrays. Mixed int/float is a type
// error at this layer; the compiler is expected to have already
// rejected it (spec Open Question: "mixed numeric arithmetic is a type
// error at compile time; explicit cast required").
func Add(a, b Value) (Value, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return Int(a.I + b.I), nil
	case a.Kind == KindFloat && b.Kind == KindFloat:
		return Float(a.F + b.F), nil
	case a.Kind == KindString && b.Kind == KindString:
		return StringVal(a.S + b.S), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot add %s and %s", ErrTypeMismatch, a.Kind, b.Kind)
	}
}

// ConcatArrays implements array+array per spec §3.1. Array payloads
// live on the heap, so this is exposed as a Heap method (see heap.go)
// rather than here; kept documented alongside Add for discoverability.

func arith(a, b Value, name string, iop func(x, y int64) (int64, error), fop func(x, y float64) (float64, error)) (Value, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		r, err := iop(a.I, b.I)
		if err != nil {
			return Value{}, err
		}
		return Int(r), nil
	case a.Kind == KindFloat && b.Kind == KindFloat:
		r, err := fop(a.F, b.F)
		if err != nil {
			return Value{}, err
		}
		return Float(r), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot %s %s and %s", ErrTypeMismatch, name, a.Kind, b.Kind)
	}
}

func Sub(a, b Value) (Value, error) {
	return arith(a, b, "subtract",
		func(x, y int64) (int64, error) { return x - y, nil },
		func(x, y float64) (float64, error) { return x - y, nil })
}

func Mul(a, b Value) (Value, error) {
	return arith(a, b, "multiply",
		func(x, y int64) (int64, error) { return x * y, nil },
		func(x, y float64) (float64, error) { return x * y, nil })
}

func Div(a, b Value) (Value, error) {
	return arith(a, b, "divide",
		func(x, y int64) (int64, error) {
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			return x / y, nil
		},
		func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			return x / y, nil
		})
}

func Mod(a, b Value) (Value, error) {
	return arith(a, b, "modulo",
		func(x, y int64) (int64, error) {
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			return x % y, nil
		},
		func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			r := x - y*float64(int64(x/y))
			return r, nil
		})
}

func Neg(a Value) (Value, error) {
	switch a.Kind {
	case KindInt:
		return Int(-a.I), nil
	case KindFloat:
		return Float(-a.F), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot negate %s", ErrTypeMismatch, a.Kind)
	}
}

// Compare implements ordered comparison, defined only for
// integer/integer, float/float, and character/character per spec §3.1.
// It returns -1, 0, or 1.
func Compare(a, b Value) (int, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return cmpInt64(a.I, b.I), nil
	case a.Kind == KindFloat && b.Kind == KindFloat:
		return cmpFloat64(a.F, b.F), nil
	case a.Kind == KindChar && b.Kind == KindChar:
		return cmpInt64(a.I, b.I), nil
	default:
		return 0, fmt.Errorf("%w: cannot order %s and %s", ErrTypeMismatch, a.Kind, b.Kind)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal implements tag-then-payload equality. It does not know about
// the one exception spec §3.1 calls out — weak(id) compared to nil
// tests validity of the referent rather than comparing payload bytes —
// since that needs the heap and this is a pure value-layer function;
// vm_ops.go's valuesEqual special-cases it before falling back to
// Equal for every other kind.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil, KindNone:
		return true
	case KindBool, KindInt, KindChar, KindArray, KindTable, KindRef, KindWeak, KindClosure, KindCoroutine, KindChannel:
		return a.I == b.I
	case KindFloat:
		return a.F == b.F
	case KindString:
		return a.S == b.S
	case KindTypeDesc:
		return a.TypeID == b.TypeID && a.S == b.S
	case KindEnum:
		return a.TypeID == b.TypeID && a.I == b.I
	case KindSome, KindOk, KindError:
		return Equal(*a.Inner, *b.Inner)
	default:
		return false
	}
}
