package etch

import (
	"fmt"
	"strings"
)

// vm_ops.go holds the exec* handlers factored out of vm.go's dispatch
// switch, grouped by concern (arithmetic, indexing, control flow,
// calls, coroutines/channels) the way the teacher splits vm.go from
// vm_instructions.go by concern rather than stuffing one file.

func (vm *VM) execArith(f *Frame, in Instr) (bool, error) {
	a, b := f.reg(in.B), f.reg(in.C)
	var r Value
	var err error
	switch in.Op {
	case OpAdd, OpAddInt, OpAddFloat:
		if a.Kind == KindArray && b.Kind == KindArray {
			var id int
			if id, err = vm.heap.ConcatArrays(a.SlotID(), b.SlotID()); err == nil {
				r = ArrayHandle(id)
			}
		} else {
			r, err = Add(a, b)
		}
	case OpSub, OpSubInt, OpSubFloat:
		r, err = Sub(a, b)
	case OpMul, OpMulInt, OpMulFloat:
		r, err = Mul(a, b)
	case OpDiv, OpDivInt, OpDivFloat:
		r, err = Div(a, b)
	case OpMod, OpModInt, OpModFloat:
		r, err = Mod(a, b)
	case OpPow:
		r, err = powValue(a, b)
	}
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.A, r)
	return true, nil
}

func powValue(a, b Value) (Value, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		result := int64(1)
		base := a.I
		for exp := b.I; exp > 0; exp-- {
			result *= base
		}
		return Int(result), nil
	case a.Kind == KindFloat && b.Kind == KindFloat:
		result := 1.0
		for exp := 0; exp < int(b.F); exp++ {
			result *= a.F
		}
		return Float(result), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot raise %s to %s", ErrTypeMismatch, a.Kind, b.Kind)
	}
}

// execImm implements the *Imm family: B holds the left operand
// register, Imm the signed 8-bit right-hand constant (spec §4.2
// "Immediate arithmetic... avoids a constant-pool round trip for small
// literals").
func (vm *VM) execImm(f *Frame, in Instr) (bool, error) {
	a := f.reg(in.B)
	imm := Int(int64(in.Imm))
	var r Value
	var err error
	switch in.Op {
	case OpAddImm:
		r, err = Add(a, imm)
	case OpSubImm:
		r, err = Sub(a, imm)
	case OpMulImm:
		r, err = Mul(a, imm)
	case OpDivImm:
		r, err = Div(a, imm)
	case OpModImm:
		r, err = Mod(a, imm)
	case OpAndImm:
		r = Bool(a.Truthy() && in.Imm != 0)
	case OpOrImm:
		r = Bool(a.Truthy() || in.Imm != 0)
	}
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.A, r)
	return true, nil
}

// valuesEqual is the VM-level equality entry point every comparison
// opcode goes through: it special-cases weak(id) compared to nil
// (spec §3.1 "tests validity of the referent") before falling back to
// value_ops.go's tag-then-payload Equal for everything else, since
// that check needs the heap and Equal is a pure value-layer function.
func (vm *VM) valuesEqual(a, b Value) bool {
	if a.Kind == KindWeak && b.Kind == KindNil {
		return !vm.heap.WeakValid(a.SlotID())
	}
	if a.Kind == KindNil && b.Kind == KindWeak {
		return !vm.heap.WeakValid(b.SlotID())
	}
	return Equal(a, b)
}

// execCompareStore implements the Eq/Lt/Le/Ne *Store forms: A = bool
// result of comparing B and C per in.CmpOp (spec §4.2 "Store-comparison
// forms"). OpEqStore is reused for all four comparators, tagged by
// in.CmpOp, rather than giving each its own register-layout handler
// (see compiler_lower.go's lowerBinary).
func (vm *VM) execCompareStore(f *Frame, in Instr) (bool, error) {
	b, c := f.reg(in.B), f.reg(in.C)
	var result bool
	switch in.CmpOp {
	case CmpEq:
		result = vm.valuesEqual(b, c)
	case CmpNe:
		result = !vm.valuesEqual(b, c)
	case CmpLt, CmpLe:
		cmp, err := Compare(b, c)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		if in.CmpOp == CmpLt {
			result = cmp < 0
		} else {
			result = cmp <= 0
		}
	}
	f.setReg(in.A, Bool(result))
	return true, nil
}

// execCmpJmp implements the fused compare-and-jump instruction
// compiler_fusion.go produces: compare B and C per CmpOp, and if true,
// jump by SBx; otherwise fall through.
func (vm *VM) execCmpJmp(f *Frame, in Instr) (bool, error) {
	b, c := f.reg(in.B), f.reg(in.C)
	var result bool
	switch in.CmpOp {
	case CmpEq:
		result = vm.valuesEqual(b, c)
	case CmpNe:
		result = !vm.valuesEqual(b, c)
	case CmpLt, CmpLe:
		cmp, err := Compare(b, c)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		if in.CmpOp == CmpLt {
			result = cmp < 0
		} else {
			result = cmp <= 0
		}
	}
	if result {
		f.PC += 1 + int(in.SBx)
	} else {
		f.PC++
	}
	return false, nil
}

func (vm *VM) execGetIndex(f *Frame, in Instr) (bool, error) {
	base, key := f.reg(in.B), f.reg(in.C)
	switch base.Kind {
	case KindArray:
		v, err := vm.heap.GetArrayElem(base.SlotID(), int(key.I))
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, v)
	case KindTable:
		v, ok, err := vm.heap.GetField(base.SlotID(), key.S)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		if !ok {
			v = Nil()
		}
		f.setReg(in.A, v)
	default:
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot index %s", ErrTypeMismatch, base.Kind))
	}
	return true, nil
}

func (vm *VM) execSetIndex(f *Frame, in Instr) (bool, error) {
	base, key, val := f.reg(in.A), f.reg(in.B), f.reg(in.C)
	switch base.Kind {
	case KindArray:
		if err := vm.heap.SetArrayElem(base.SlotID(), int(key.I), val); err != nil {
			return false, vm.wrapPanic(f, err)
		}
	case KindTable:
		if err := vm.heap.SetField(base.SlotID(), key.S, val); err != nil {
			return false, vm.wrapPanic(f, err)
		}
	default:
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot index %s", ErrTypeMismatch, base.Kind))
	}
	return true, nil
}

// execIn implements the `in`/`not in` membership operator (spec §4.2
// Boolean family "container membership"): array membership tests for
// an equal element, table membership tests for key presence, and
// string membership tests for substring containment. negate flips the
// result for `not in` (compiler_lower.go's binOpOpcode maps both
// OpBinIn and OpBinNotIn onto this same handler's two opcodes).
func (vm *VM) execIn(f *Frame, in Instr, negate bool) (bool, error) {
	elem, container := f.reg(in.B), f.reg(in.C)
	var found bool
	switch container.Kind {
	case KindArray:
		n, err := vm.heap.ArrayLen(container.SlotID())
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		for i := 0; i < n; i++ {
			v, err := vm.heap.GetArrayElem(container.SlotID(), i)
			if err != nil {
				return false, vm.wrapPanic(f, err)
			}
			if Equal(elem, v) {
				found = true
				break
			}
		}
	case KindTable:
		if elem.Kind != KindString {
			return false, vm.wrapPanic(f, fmt.Errorf("%w: table membership requires a string key, got %s", ErrTypeMismatch, elem.Kind))
		}
		_, ok, err := vm.heap.GetField(container.SlotID(), elem.S)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		found = ok
	case KindString:
		if elem.Kind != KindString {
			return false, vm.wrapPanic(f, fmt.Errorf("%w: string membership requires a string operand, got %s", ErrTypeMismatch, elem.Kind))
		}
		found = strings.Contains(container.S, elem.S)
	default:
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot test membership in %s", ErrTypeMismatch, container.Kind))
	}
	if negate {
		found = !found
	}
	f.setReg(in.A, Bool(found))
	return true, nil
}

// execAppendIndex implements array-literal element pushes
// (compiler_lower.go's lowerArrayLit emits OpSetIndexImm with no
// explicit index, meaning "push"): A = array, C = value.
func (vm *VM) execAppendIndex(f *Frame, in Instr) (bool, error) {
	base := f.reg(in.A)
	if base.Kind != KindArray {
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot push onto %s", ErrTypeMismatch, base.Kind))
	}
	if err := vm.heap.ArrayPush(base.SlotID(), f.reg(in.C)); err != nil {
		return false, vm.wrapPanic(f, err)
	}
	return true, nil
}

func (vm *VM) execGetField(f *Frame, in Instr) (bool, error) {
	base := f.reg(in.B)
	if base.Kind != KindTable {
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot access field on %s", ErrTypeMismatch, base.Kind))
	}
	name := vm.prog.Constants[in.Bx].S
	v, ok, err := vm.heap.GetField(base.SlotID(), name)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	if !ok {
		v = Nil()
	}
	f.setReg(in.A, v)
	return true, nil
}

func (vm *VM) execSetField(f *Frame, in Instr) (bool, error) {
	base := f.reg(in.A)
	if base.Kind != KindTable {
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot set field on %s", ErrTypeMismatch, base.Kind))
	}
	name := vm.prog.Constants[in.Bx].S
	if err := vm.heap.SetField(base.SlotID(), name, f.reg(in.B)); err != nil {
		return false, vm.wrapPanic(f, err)
	}
	return true, nil
}

func (vm *VM) execLen(f *Frame, in Instr) (bool, error) {
	base := f.reg(in.B)
	switch base.Kind {
	case KindArray:
		n, err := vm.heap.ArrayLen(base.SlotID())
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, Int(int64(n)))
	case KindTable:
		n, err := vm.heap.TableLen(base.SlotID())
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, Int(int64(n)))
	case KindString:
		f.setReg(in.A, Int(int64(len(base.S))))
	default:
		return false, vm.wrapPanic(f, fmt.Errorf("%w: %s has no length", ErrTypeMismatch, base.Kind))
	}
	return true, nil
}

func (vm *VM) execCast(f *Frame, in Instr) (bool, error) {
	src := f.reg(in.B)
	target := Kind(in.C)
	var out Value
	switch {
	case src.Kind == KindInt && target == KindFloat:
		out = Float(float64(src.I))
	case src.Kind == KindFloat && target == KindInt:
		out = Int(int64(src.F))
	case src.Kind == KindInt && target == KindChar:
		out = Char(byte(src.I))
	case src.Kind == KindChar && target == KindInt:
		out = Int(src.I)
	case target == KindString:
		out = StringVal(src.String())
	default:
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot cast %s to %s", ErrTypeMismatch, src.Kind, target))
	}
	f.setReg(in.A, out)
	return true, nil
}

// execIntForPrep checks whether a counted loop should run at all: if
// (step>0 && start>limit) || (step<0 && start<limit) || step==0, the loop body is
// skipped entirely by jumping past it (spec §4.2 fused counted-loop
// prep/step pair).
func (vm *VM) execIntForPrep(f *Frame, in Instr) (bool, error) {
	start, limit, step := f.reg(in.A).I, f.reg(in.B).I, f.reg(in.C).I
	skip := (step > 0 && start > limit) || (step < 0 && start < limit) || step == 0
	if skip {
		f.PC += 1 + int(in.SBx)
	} else {
		f.PC++
	}
	return false, nil
}

// execIntForLoop increments the loop register by step and jumps back
// to the body while still in range.
func (vm *VM) execIntForLoop(f *Frame, in Instr) (bool, error) {
	cur := f.reg(in.A).I
	step := f.reg(in.C).I
	limit := f.reg(in.B).I
	next := cur + step
	inRange := (step > 0 && next <= limit) || (step < 0 && next >= limit)
	if inRange {
		f.setReg(in.A, Int(next))
		f.PC += 1 + int(in.SBx)
	} else {
		f.PC++
	}
	return false, nil
}

// execForPrep initializes generic array/table iteration: A = collection
// handle, B = cursor register (int, starts at 0), C = loop-variable
// register. Jumps past the body if the collection is empty.
func (vm *VM) execForPrep(f *Frame, in Instr) (bool, error) {
	coll := f.reg(in.A)
	f.setReg(in.B, Int(0))
	length, err := vm.collectionLen(coll)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	if length == 0 {
		f.PC += 1 + int(in.SBx)
		return false, nil
	}
	v, err := vm.collectionAt(coll, 0)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.C, v)
	f.PC++
	return false, nil
}

func (vm *VM) execForLoop(f *Frame, in Instr) (bool, error) {
	coll := f.reg(in.A)
	cursor := f.reg(in.B).I + 1
	length, err := vm.collectionLen(coll)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	if cursor >= int64(length) {
		f.PC++
		return false, nil
	}
	v, err := vm.collectionAt(coll, int(cursor))
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.B, Int(cursor))
	f.setReg(in.C, v)
	f.PC += 1 + int(in.SBx)
	return false, nil
}

func (vm *VM) collectionLen(v Value) (int, error) {
	switch v.Kind {
	case KindArray:
		return vm.heap.ArrayLen(v.SlotID())
	case KindTable:
		return vm.heap.TableLen(v.SlotID())
	default:
		return 0, fmt.Errorf("%w: %s is not iterable", ErrTypeMismatch, v.Kind)
	}
}

func (vm *VM) collectionAt(v Value, i int) (Value, error) {
	switch v.Kind {
	case KindArray:
		return vm.heap.GetArrayElem(v.SlotID(), i)
	case KindTable:
		return Nil(), fmt.Errorf("etch: table iteration by ordinal index is not addressable through this path")
	default:
		return Value{}, fmt.Errorf("%w: %s is not iterable", ErrTypeMismatch, v.Kind)
	}
}

// execReturn pops f, delivering its result to the caller (if any) and
// to vm.lastReturn for the Go-side Call()/Run() caller, and runs any
// pending defers LIFO first (spec §4.5 "Defer statements").
func (vm *VM) execReturn(f *Frame, in Instr) (bool, error) {
	result := f.reg(in.A)

	for i := len(f.Defers) - 1; i >= 0; i-- {
		d := f.Defers[i]
		fd := vm.prog.Functions[d.FuncIdx]
		if _, err := vm.Call(fd, d.Args); err != nil {
			return false, err
		}
	}

	vm.lastReturn = result
	if f.Caller != nil {
		f.Caller.setReg(f.ResultReg, result)
		f.Caller.PC++
	}
	vm.top = f.Caller
	return false, nil
}

func (vm *VM) execDeferPush(f *Frame, in Instr) (bool, error) {
	numArgs := int(in.NumArgs)
	args := make([]Value, numArgs)
	for i := 0; i < numArgs; i++ {
		args[i] = f.reg(in.A + uint8(i))
	}
	f.Defers = append(f.Defers, deferredCall{FuncIdx: int(in.FuncIdx), Args: args})
	return true, nil
}

// execFusedTriadic evaluates one of the nine fused `(x OP1 y) OP2 z`
// shapes compiler_fusion.go collapses into a single instruction: B, C
// are the first operation's operands, Imm (reinterpreted as a register
// index) is the second operation's extra operand.
func (vm *VM) execFusedTriadic(f *Frame, in Instr) (bool, error) {
	b, c := f.reg(in.B), f.reg(in.C)
	extra := f.reg(uint8(in.Imm))

	var mid, out Value
	var err error
	switch in.Op {
	case OpFusedAddAdd:
		mid, err = Add(b, c)
		if err == nil {
			out, err = Add(mid, extra)
		}
	case OpFusedMulAdd:
		mid, err = Mul(b, c)
		if err == nil {
			out, err = Add(mid, extra)
		}
	case OpFusedSubSub:
		mid, err = Sub(b, c)
		if err == nil {
			out, err = Sub(mid, extra)
		}
	case OpFusedSubMul:
		mid, err = Sub(b, c)
		if err == nil {
			out, err = Mul(mid, extra)
		}
	case OpFusedMulSub:
		mid, err = Mul(b, c)
		if err == nil {
			out, err = Sub(mid, extra)
		}
	case OpFusedDivAdd:
		mid, err = Div(b, c)
		if err == nil {
			out, err = Add(mid, extra)
		}
	case OpFusedAddSub:
		mid, err = Add(b, c)
		if err == nil {
			out, err = Sub(mid, extra)
		}
	case OpFusedAddMul:
		mid, err = Add(b, c)
		if err == nil {
			out, err = Mul(mid, extra)
		}
	case OpFusedSubDiv:
		mid, err = Sub(b, c)
		if err == nil {
			out, err = Div(mid, extra)
		}
	}
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.A, out)
	return true, nil
}

// execFusedFieldOp implements the load-op-store fused family (spec
// §4.2 "Fused load-op-store"): read table[field], combine with a
// register operand, write back. A = table, B = value register, Bx =
// field-name constant index.
func (vm *VM) execFusedFieldOp(f *Frame, in Instr) (bool, error) {
	base := f.reg(in.A)
	if base.Kind != KindTable {
		return false, vm.wrapPanic(f, fmt.Errorf("%w: cannot field-op %s", ErrTypeMismatch, base.Kind))
	}
	name := vm.prog.Constants[in.Bx].S
	cur, ok, err := vm.heap.GetField(base.SlotID(), name)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	if !ok {
		cur = Int(0)
	}
	operand := f.reg(in.B)
	var result Value
	switch in.Op {
	case OpFieldIncr:
		result, err = Add(cur, operand)
	case OpGetAddSet:
		result, err = Add(cur, operand)
	case OpGetSubSet:
		result, err = Sub(cur, operand)
	case OpGetMulSet:
		result, err = Mul(cur, operand)
	case OpGetDivSet:
		result, err = Div(cur, operand)
	case OpGetModSet:
		result, err = Mod(cur, operand)
	}
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	if err := vm.heap.SetField(base.SlotID(), name, result); err != nil {
		return false, vm.wrapPanic(f, err)
	}
	return true, nil
}

// execIncTestLt implements the fused increment-and-test used by
// counted-loop lowering's peephole-eligible successor form: A += 1,
// then jump by SBx if A < R[B].
func (vm *VM) execIncTestLt(f *Frame, in Instr) (bool, error) {
	next := f.reg(in.A).I + 1
	f.setReg(in.A, Int(next))
	if next < f.reg(in.B).I {
		f.PC += 1 + int(in.SBx)
	} else {
		f.PC++
	}
	return false, nil
}

func (vm *VM) execCallNative(f *Frame, in Instr) (bool, error) {
	fd := vm.prog.Functions[in.FuncIdx]
	args := make([]Value, in.NumArgs)
	for i := range args {
		args[i] = f.reg(in.A + uint8(i))
	}
	callee := newFrame(f, fd)
	callee.ResultReg = in.A
	copy(callee.Regs, args)
	vm.top = callee
	return false, nil
}

func (vm *VM) execCallHost(f *Frame, in Instr) (bool, error) {
	fd := vm.prog.Functions[in.FuncIdx]
	host, ok := vm.hosts[fd.Name]
	if !ok {
		return false, vm.wrapPanic(f, fmt.Errorf("etch: host function %q is not registered", fd.Name))
	}
	args := make([]Value, in.NumArgs)
	for i := range args {
		args[i] = f.reg(in.A + uint8(i))
	}
	result, err := host(vm, args)
	if err != nil {
		// spec §7.5: a host-layer exception never propagates (§4.6
		// "never propagate") — it becomes a nil result plus a
		// diagnostic, and dispatch continues.
		if vm.hostErrSink != nil {
			vm.hostErrSink(&HostError{Func: fd.Name, Err: err})
		}
		f.setReg(in.A, Nil())
		return true, nil
	}
	f.setReg(in.A, result)
	return true, nil
}

// execMakeClosure builds a closure heap object from the function-table
// entry in.FuncIdx and the captured registers laid out at A+1..
func (vm *VM) execMakeClosure(f *Frame, in Instr) (bool, error) {
	captures := make([]Value, in.NumArgs)
	for i := range captures {
		captures[i] = f.reg(in.A + 1 + uint8(i))
	}
	id, err := vm.heap.AllocClosure(int(in.FuncIdx), captures)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	f.setReg(in.A, ClosureHandle(id))
	return true, nil
}

// RunDestructor implements heap.DestructorRunner by invoking the
// destructor function as an ordinary call with self as its sole
// argument.
func (vm *VM) RunDestructor(funcIdx int, self Value) error {
	if funcIdx < 0 || funcIdx >= len(vm.prog.Functions) {
		return nil
	}
	_, err := vm.Call(vm.prog.Functions[funcIdx], []Value{self})
	return err
}
