package etch

import (
	"fmt"
	"strconv"
)

// Kind is the tag of a Value. The tag fully determines which payload
// field of Value is active; see the field comments on Value for the
// mapping.
type Kind uint8

const (
	KindNil Kind = iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindChar
	KindTypeDesc
	KindString
	KindArray
	KindTable
	KindSome
	KindOk
	KindError
	KindEnum
	KindRef
	KindWeak
	KindClosure
	KindCoroutine
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	case KindTypeDesc:
		return "typedesc"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindTable:
		return "table"
	case KindSome:
		return "some"
	case KindOk:
		return "ok"
	case KindError:
		return "error"
	case KindEnum:
		return "enum"
	case KindRef:
		return "ref"
	case KindWeak:
		return "weak"
	case KindClosure:
		return "closure"
	case KindCoroutine:
		return "coroutine"
	case KindChannel:
		return "channel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged union over every runtime value Etch bytecode can
// carry in a register, a global, a heap cell, or a wrapper payload.
//
// Field usage by Kind:
//
//	KindNil, KindNone:        no payload
//	KindBool:                 I (0 or 1)
//	KindInt:                  I
//	KindFloat:                F
//	KindChar:                 I (byte value)
//	KindTypeDesc:             S (type name), TypeID
//	KindString:               S
//	KindArray, KindTable:     I (heap slot id)
//	KindSome, KindOk, KindError: Inner (wrapped value)
//	KindEnum:                 TypeID (enum type id), I (int value), S (optional display string)
//	KindRef, KindWeak, KindClosure, KindCoroutine: I (heap slot id)
//	KindChannel:              I (VM channel table id, not a heap slot)
//
// Array and table values are themselves heap handles: the Value only
// carries the slot id, and Heap owns the actual backing storage (see
// heap.go). This keeps Value a small, copyable struct, matching the
// teacher's choice of small immutable value structs in value.go.
type Value struct {
	Kind   Kind
	I      int64
	F      float64
	S      string
	TypeID int32
	Inner  *Value
}

func Nil() Value  { return Value{Kind: KindNil} }
func None() Value { return Value{Kind: KindNone} }

func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.I = 1
	}
	return v
}

func Int(i int64) Value     { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, F: f} }
func Char(c byte) Value     { return Value{Kind: KindChar, I: int64(c)} }

func TypeDesc(name string, id int32) Value {
	return Value{Kind: KindTypeDesc, S: name, TypeID: id}
}

func StringVal(s string) Value { return Value{Kind: KindString, S: s} }

func ArrayHandle(slot int) Value   { return Value{Kind: KindArray, I: int64(slot)} }
func TableHandle(slot int) Value   { return Value{Kind: KindTable, I: int64(slot)} }
func RefHandle(slot int) Value     { return Value{Kind: KindRef, I: int64(slot)} }
func WeakHandle(slot int) Value    { return Value{Kind: KindWeak, I: int64(slot)} }
func ClosureHandle(slot int) Value { return Value{Kind: KindClosure, I: int64(slot)} }
func CoroHandle(slot int) Value    { return Value{Kind: KindCoroutine, I: int64(slot)} }

// ChannelHandle refers to an entry in VM.channels, not a Heap slot:
// channels are owned by the scheduler's lifetime, not by refcounting
// (spec §4.7 channels are process-lifetime, not value-lifetime).
func ChannelHandle(id int) Value { return Value{Kind: KindChannel, I: int64(id)} }

func Some(v Value) Value  { return Value{Kind: KindSome, Inner: &v} }
func Ok(v Value) Value    { return Value{Kind: KindOk, Inner: &v} }
func ErrVal(v Value) Value { return Value{Kind: KindError, Inner: &v} }

func Enum(typeID int32, intVal int64, display string) Value {
	return Value{Kind: KindEnum, TypeID: typeID, I: intVal, S: display}
}

// IsHeapHandle reports whether v's payload is a slot id owned by a Heap.
func (v Value) IsHeapHandle() bool {
	switch v.Kind {
	case KindArray, KindTable, KindRef, KindWeak, KindClosure, KindCoroutine:
		return true
	default:
		return false
	}
}

// IsStrongHandle reports whether v contributes to a heap slot's
// strong-refs count when stored (per spec §3.2: weak handles never do).
func (v Value) IsStrongHandle() bool {
	switch v.Kind {
	case KindArray, KindTable, KindRef, KindClosure, KindCoroutine:
		return true
	default:
		return false
	}
}

func (v Value) SlotID() int { return int(v.I) }

// Truthy implements the VM's notion of truthiness used by test/not/and/or.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil, KindNone:
		return false
	case KindBool:
		return v.I != 0
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindNone:
		return "none"
	case KindBool:
		return strconv.FormatBool(v.I != 0)
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindChar:
		return strconv.QuoteRune(rune(v.I))
	case KindString:
		return strconv.Quote(v.S)
	case KindTypeDesc:
		return "typedesc(" + v.S + ")"
	case KindArray:
		return fmt.Sprintf("array(#%d)", v.I)
	case KindTable:
		return fmt.Sprintf("table(#%d)", v.I)
	case KindSome:
		return "some(" + v.Inner.String() + ")"
	case KindOk:
		return "ok(" + v.Inner.String() + ")"
	case KindError:
		return "error(" + v.Inner.String() + ")"
	case KindEnum:
		if v.S != "" {
			return v.S
		}
		return fmt.Sprintf("enum(%d,%d)", v.TypeID, v.I)
	case KindRef:
		return fmt.Sprintf("ref(#%d)", v.I)
	case KindWeak:
		return fmt.Sprintf("weak(#%d)", v.I)
	case KindClosure:
		return fmt.Sprintf("closure(#%d)", v.I)
	case KindCoroutine:
		return fmt.Sprintf("coroutine(#%d)", v.I)
	case KindChannel:
		return fmt.Sprintf("channel(#%d)", v.I)
	default:
		return v.Kind.String()
	}
}
