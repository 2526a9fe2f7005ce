package etch

import "fmt"

// lowerBlock lowers a sequence of statements, returning the register
// holding the last statement's value (Etch blocks are expressions;
// spec §4.5 "expression-oriented"). An empty block evaluates to nil.
func (fc *funcCompiler) lowerBlock(b *Block) (int, error) {
	fc.scope = newScope(fc.scope)
	defer func() { fc.scope = fc.scope.parent }()

	last := -1
	for _, stmt := range b.Stmts {
		reg, err := fc.lowerNode(stmt)
		if err != nil {
			return 0, err
		}
		last = reg
	}
	if last < 0 {
		last = fc.regs.alloc()
		fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(last)})
	}
	return last, nil
}

func (fc *funcCompiler) lowerNode(n Node) (int, error) {
	switch v := n.(type) {
	case *Block:
		return fc.lowerBlock(v)
	case *Let:
		return fc.lowerLet(v)
	case *Assign:
		return fc.lowerAssign(v)
	case *If:
		return fc.lowerIf(v)
	case *While:
		return fc.lowerWhile(v)
	case *ForRange:
		return fc.lowerForRange(v)
	case *ForEach:
		return fc.lowerForEach(v)
	case *Match:
		return fc.lowerMatch(v)
	case *Call:
		return fc.lowerCall(v)
	case *BinaryExpr:
		return fc.lowerBinary(v)
	case *UnaryExpr:
		return fc.lowerUnary(v)
	case *Name:
		return fc.lowerName(v)
	case *Literal:
		return fc.lowerLiteral(v)
	case *Index:
		return fc.lowerIndexRead(v)
	case *Field:
		return fc.lowerFieldRead(v)
	case *ArrayLit:
		return fc.lowerArrayLit(v)
	case *TableLit:
		return fc.lowerTableLit(v)
	case *Lambda:
		return fc.lowerLambda(v)
	case *WrapExpr:
		return fc.lowerWrap(v)
	case *CastExpr:
		return fc.lowerCast(v)
	case *DeferStmt:
		return fc.lowerDefer(v)
	case *SpawnExpr:
		return fc.lowerSpawn(v)
	case *ResumeExpr:
		return fc.lowerResume(v)
	case *YieldExpr:
		return fc.lowerYield(v)
	case *ChannelNewExpr:
		return fc.lowerChannelNew(v)
	case *ChannelSendStmt:
		return fc.lowerChannelSend(v)
	case *ChannelRecvExpr:
		return fc.lowerChannelRecv(v)
	case *ReturnStmt:
		return fc.lowerReturnStmt(v)
	default:
		return 0, fmt.Errorf("unsupported ast node %T", n)
	}
}

func (fc *funcCompiler) lowerLet(l *Let) (int, error) {
	reg, err := fc.lowerNode(l.Expr)
	if err != nil {
		return 0, err
	}
	fc.scope.define(l.Name, reg)
	fc.startLifetime(l.Name, reg, len(fc.asm.code))
	return reg, nil
}

func (fc *funcCompiler) lowerAssign(a *Assign) (int, error) {
	valReg, err := fc.lowerNode(a.Expr)
	if err != nil {
		return 0, err
	}
	switch target := a.Target.(type) {
	case *Name:
		if reg, ok := fc.scope.lookup(target.Ident); ok {
			fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(reg), B: uint8(valReg)})
			fc.touchLifetime(target.Ident, reg, len(fc.asm.code))
			return reg, nil
		}
		nameConst := fc.constIndexOf(StringVal(target.Ident))
		fc.emit(Instr{Op: OpSetGlobal, Format: FormatABx, A: uint8(valReg), Bx: uint16(nameConst)})
		return valReg, nil
	case *Index:
		baseReg, err := fc.lowerNode(target.Base)
		if err != nil {
			return 0, err
		}
		keyReg, err := fc.lowerNode(target.Key)
		if err != nil {
			return 0, err
		}
		fc.emit(Instr{Op: OpSetIndex, Format: FormatABC, A: uint8(baseReg), B: uint8(keyReg), C: uint8(valReg)})
		return valReg, nil
	case *Field:
		baseReg, err := fc.lowerNode(target.Base)
		if err != nil {
			return 0, err
		}
		nameConst := fc.constIndexOf(StringVal(target.Name))
		fc.emit(Instr{Op: OpSetField, Format: FormatABx, A: uint8(baseReg), B: uint8(valReg), Bx: uint16(nameConst)})
		return valReg, nil
	default:
		return 0, fmt.Errorf("invalid assignment target %T", a.Target)
	}
}

func (fc *funcCompiler) lowerIf(i *If) (int, error) {
	condReg, err := fc.lowerNode(i.Cond)
	if err != nil {
		return 0, err
	}
	elseLbl := fc.asm.newLabel()
	endLbl := fc.asm.newLabel()

	fc.emit(Instr{Op: OpTest, Format: FormatABC, A: uint8(condReg), B: 1})
	fc.emitJump(OpJmp, 0, 0, 0, elseLbl)

	result := fc.regs.alloc()
	thenReg, err := fc.lowerBlock(i.Then)
	if err != nil {
		return 0, err
	}
	fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(result), B: uint8(thenReg)})
	fc.emitJump(OpJmp, 0, 0, 0, endLbl)

	fc.asm.bind(elseLbl)
	if i.Else != nil {
		elseReg, err := fc.lowerBlock(i.Else)
		if err != nil {
			return 0, err
		}
		fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(result), B: uint8(elseReg)})
	} else {
		fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(result)})
	}
	fc.asm.bind(endLbl)
	return result, nil
}

func (fc *funcCompiler) lowerWhile(w *While) (int, error) {
	startLbl := fc.asm.newLabel()
	endLbl := fc.asm.newLabel()
	fc.asm.bind(startLbl)

	condReg, err := fc.lowerNode(w.Cond)
	if err != nil {
		return 0, err
	}
	fc.emit(Instr{Op: OpTest, Format: FormatABC, A: uint8(condReg), B: 1})
	fc.emitJump(OpJmp, 0, 0, 0, endLbl)

	if _, err := fc.lowerBlock(w.Body); err != nil {
		return 0, err
	}
	fc.emitJump(OpJmp, 0, 0, 0, startLbl)
	fc.asm.bind(endLbl)

	result := fc.regs.alloc()
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(result)})
	return result, nil
}

// lowerForRange lowers a counted loop to the fused IntForPrep/IntForLoop
// pair (spec §4.2 "Fused inc-and-test... shrinks counted loops").
// IntForPrep consumes (loopVar, limit, step) starting at A and jumps to
// end if the range is empty; IntForLoop increments loopVar by step and
// jumps back to the body start while loopVar is still within range.
func (fc *funcCompiler) lowerForRange(fr *ForRange) (int, error) {
	startReg, err := fc.lowerNode(fr.Start)
	if err != nil {
		return 0, err
	}
	endReg, err := fc.lowerNode(fr.End)
	if err != nil {
		return 0, err
	}
	var stepReg int
	if fr.Step != nil {
		stepReg, err = fc.lowerNode(fr.Step)
		if err != nil {
			return 0, err
		}
	} else {
		stepReg = fc.regs.alloc()
		fc.emit(Instr{Op: OpLoadK, Format: FormatABx, A: uint8(stepReg), Bx: uint16(fc.constIndexOf(Int(1)))})
	}

	loopVar := fc.regs.alloc()
	limit := fc.regs.alloc()
	step := fc.regs.alloc()
	fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(loopVar), B: uint8(startReg)})
	fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(limit), B: uint8(endReg)})
	fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(step), B: uint8(stepReg)})

	endLbl := fc.asm.newLabel()
	bodyLbl := fc.asm.newLabel()
	fc.emitJump(OpIntForPrep, uint8(loopVar), uint8(limit), uint8(step), endLbl)
	fc.asm.bind(bodyLbl)

	fc.scope = newScope(fc.scope)
	fc.scope.define(fr.Var, loopVar)
	fc.startLifetime(fr.Var, loopVar, len(fc.asm.code))
	_, err = fc.lowerBlock(fr.Body)
	fc.scope = fc.scope.parent
	if err != nil {
		return 0, err
	}

	fc.emitJump(OpIntForLoop, uint8(loopVar), uint8(limit), uint8(step), bodyLbl)
	fc.asm.bind(endLbl)
	fc.closeLifetime(fr.Var, loopVar, len(fc.asm.code))

	result := fc.regs.alloc()
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(result)})
	return result, nil
}

// lowerForEach lowers collection iteration to the generic
// ForPrep/ForLoop pair (spec §4.2, §4.5): A holds the collection
// handle, B the cursor register, C the loop variable; ForLoop writes
// the next element into loopVar and jumps back to the body while
// elements remain. Only arrays are iterated (a non-empty table makes
// ForPrep panic), and keyVar is bound but never written by the loop.
func (fc *funcCompiler) lowerForEach(fe *ForEach) (int, error) {
	iterReg, err := fc.lowerNode(fe.Iter)
	if err != nil {
		return 0, err
	}
	cursor := fc.regs.alloc()
	loopVar := fc.regs.alloc()
	keyVar := 0
	if fe.KeyVar != "" {
		keyVar = fc.regs.alloc()
	}

	endLbl := fc.asm.newLabel()
	bodyLbl := fc.asm.newLabel()
	fc.emitJump(OpForPrep, uint8(iterReg), uint8(cursor), uint8(loopVar), endLbl)
	fc.asm.bind(bodyLbl)

	fc.scope = newScope(fc.scope)
	fc.scope.define(fe.Var, loopVar)
	fc.startLifetime(fe.Var, loopVar, len(fc.asm.code))
	if fe.KeyVar != "" {
		fc.scope.define(fe.KeyVar, keyVar)
		fc.startLifetime(fe.KeyVar, keyVar, len(fc.asm.code))
	}
	_, err = fc.lowerBlock(fe.Body)
	fc.scope = fc.scope.parent
	if err != nil {
		return 0, err
	}

	fc.emitJump(OpForLoop, uint8(iterReg), uint8(cursor), uint8(loopVar), bodyLbl)
	fc.asm.bind(endLbl)

	result := fc.regs.alloc()
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(result)})
	return result, nil
}

func (fc *funcCompiler) lowerName(n *Name) (int, error) {
	if reg, ok := fc.scope.lookup(n.Ident); ok {
		fc.touchLifetime(n.Ident, reg, len(fc.asm.code))
		return reg, nil
	}
	dst := fc.regs.alloc()
	nameConst := fc.constIndexOf(StringVal(n.Ident))
	fc.emit(Instr{Op: OpGetGlobal, Format: FormatABx, A: uint8(dst), Bx: uint16(nameConst)})
	return dst, nil
}

func (fc *funcCompiler) lowerLiteral(l *Literal) (int, error) {
	dst := fc.regs.alloc()
	switch l.Value.Kind {
	case KindNil:
		fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(dst)})
	case KindBool:
		fc.emit(Instr{Op: OpLoadBool, Format: FormatABC, A: uint8(dst), B: uint8(l.Value.I)})
	default:
		fc.emit(Instr{Op: OpLoadK, Format: FormatABx, A: uint8(dst), Bx: uint16(fc.constIndexOf(l.Value))})
	}
	return dst, nil
}

func (fc *funcCompiler) lowerIndexRead(ix *Index) (int, error) {
	baseReg, err := fc.lowerNode(ix.Base)
	if err != nil {
		return 0, err
	}
	keyReg, err := fc.lowerNode(ix.Key)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpGetIndex, Format: FormatABC, A: uint8(dst), B: uint8(baseReg), C: uint8(keyReg)})
	return dst, nil
}

func (fc *funcCompiler) lowerFieldRead(f *Field) (int, error) {
	baseReg, err := fc.lowerNode(f.Base)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	nameConst := fc.constIndexOf(StringVal(f.Name))
	fc.emit(Instr{Op: OpGetField, Format: FormatABx, A: uint8(dst), B: uint8(baseReg), Bx: uint16(nameConst)})
	return dst, nil
}

func (fc *funcCompiler) lowerArrayLit(a *ArrayLit) (int, error) {
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpNewArray, Format: FormatABC, A: uint8(dst)})
	for _, elem := range a.Elems {
		elemReg, err := fc.lowerNode(elem)
		if err != nil {
			return 0, err
		}
		fc.emit(Instr{Op: OpSetIndexImm, Format: FormatABC, A: uint8(dst), C: uint8(elemReg)})
	}
	return dst, nil
}

func (fc *funcCompiler) lowerTableLit(t *TableLit) (int, error) {
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpNewTable, Format: FormatABC, A: uint8(dst)})
	for _, entry := range t.Entries {
		valReg, err := fc.lowerNode(entry.Value)
		if err != nil {
			return 0, err
		}
		nameConst := fc.constIndexOf(StringVal(entry.Key))
		fc.emit(Instr{Op: OpSetField, Format: FormatABx, A: uint8(dst), B: uint8(valReg), Bx: uint16(nameConst)})
	}
	return dst, nil
}

func (fc *funcCompiler) lowerWrap(w *WrapExpr) (int, error) {
	inner, err := fc.lowerNode(w.Expr)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	op := OpWrapSome
	switch w.Kind {
	case WrapOk:
		op = OpWrapOk
	case WrapErr:
		op = OpWrapErr
	}
	fc.emit(Instr{Op: op, Format: FormatABC, A: uint8(dst), B: uint8(inner)})
	return dst, nil
}

func (fc *funcCompiler) lowerCast(c *CastExpr) (int, error) {
	src, err := fc.lowerNode(c.Expr)
	if err != nil {
		return 0, err
	}
	var target Kind
	switch c.Target.Name {
	case "int":
		target = KindInt
	case "float":
		target = KindFloat
	case "char":
		target = KindChar
	case "string":
		target = KindString
	default:
		return 0, fmt.Errorf("unsupported cast target %q", c.Target.Name)
	}
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpCast, Format: FormatABC, A: uint8(dst), B: uint8(src), C: uint8(target)})
	return dst, nil
}

func (fc *funcCompiler) lowerDefer(d *DeferStmt) (int, error) {
	funcIdx, numArgs, base, err := fc.lowerCallArgs(d.Call)
	if err != nil {
		return 0, err
	}
	fc.emit(Instr{Op: OpDeferPush, Format: FormatCall, A: uint8(base), FuncIdx: uint16(funcIdx), NumArgs: uint8(numArgs)})
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(dst)})
	return dst, nil
}

func (fc *funcCompiler) lowerReturnStmt(r *ReturnStmt) (int, error) {
	if r.Value == nil {
		dst := fc.regs.alloc()
		fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(dst)})
		fc.emitReturn(dst)
		return dst, nil
	}
	reg, err := fc.lowerNode(r.Value)
	if err != nil {
		return 0, err
	}
	fc.emitReturn(reg)
	return reg, nil
}

var binOpOpcode = map[BinaryOp]Opcode{
	OpBinAdd: OpAdd, OpBinSub: OpSub, OpBinMul: OpMul, OpBinDiv: OpDiv,
	OpBinMod: OpMod, OpBinPow: OpPow,
	OpBinAnd: OpAnd, OpBinOr: OpOr, OpBinIn: OpIn, OpBinNotIn: OpNotIn,
}

var binOpCmp = map[BinaryOp]CmpOp{
	OpBinEq: CmpEq, OpBinNe: CmpNe, OpBinLt: CmpLt, OpBinLe: CmpLe,
}

func (fc *funcCompiler) lowerBinary(b *BinaryExpr) (int, error) {
	leftReg, err := fc.lowerNode(b.Left)
	if err != nil {
		return 0, err
	}
	rightReg, err := fc.lowerNode(b.Right)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()

	switch b.Op {
	case OpBinEq, OpBinNe, OpBinLt, OpBinLe:
		fc.emit(Instr{Op: OpEqStore, Format: FormatABC, A: uint8(dst), B: uint8(leftReg), C: uint8(rightReg), CmpOp: binOpCmp[b.Op]})
		return dst, nil
	case OpBinGt:
		fc.emit(Instr{Op: OpEqStore, Format: FormatABC, A: uint8(dst), B: uint8(rightReg), C: uint8(leftReg), CmpOp: CmpLt})
		return dst, nil
	case OpBinGe:
		fc.emit(Instr{Op: OpEqStore, Format: FormatABC, A: uint8(dst), B: uint8(rightReg), C: uint8(leftReg), CmpOp: CmpLe})
		return dst, nil
	}

	op, ok := binOpOpcode[b.Op]
	if !ok {
		return 0, fmt.Errorf("unsupported binary operator %d", b.Op)
	}
	fc.emit(Instr{Op: op, Format: FormatABC, A: uint8(dst), B: uint8(leftReg), C: uint8(rightReg)})
	return dst, nil
}

func (fc *funcCompiler) lowerUnary(u *UnaryExpr) (int, error) {
	src, err := fc.lowerNode(u.Expr)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	if u.Not {
		fc.emit(Instr{Op: OpNot, Format: FormatABC, A: uint8(dst), B: uint8(src)})
	} else {
		fc.emit(Instr{Op: OpUnm, Format: FormatABC, A: uint8(dst), B: uint8(src)})
	}
	return dst, nil
}

// lowerCallArgs evaluates a call's arguments into a contiguous register
// run starting at base, the calling convention the Call-format
// instructions rely on (spec §4.2 "Call ... fixed-width 64-bit" form:
// base register + argument count rather than per-arg operands).
func (fc *funcCompiler) lowerCallArgs(call *Call) (funcIdx int, numArgs int, base int, err error) {
	idx, ok := fc.c.prog.FuncIndex[call.Callee]
	if !ok {
		return 0, 0, 0, fmt.Errorf("call to undeclared function %q", call.Callee)
	}
	argRegs := make([]int, len(call.Args))
	for i, a := range call.Args {
		r, err := fc.lowerNode(a)
		if err != nil {
			return 0, 0, 0, err
		}
		argRegs[i] = r
	}
	base = fc.regs.alloc()
	for i, r := range argRegs {
		dst := base + i
		for dst >= fc.regs.next {
			fc.regs.alloc()
		}
		fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(dst), B: uint8(r)})
	}
	return idx, len(call.Args), base, nil
}

func (fc *funcCompiler) lowerCall(call *Call) (int, error) {
	funcIdx, numArgs, base, err := fc.lowerCallArgs(call)
	if err != nil {
		return 0, err
	}
	fd := fc.c.prog.Functions[funcIdx]
	op := OpCallNative
	switch fd.Kind {
	case FuncBuiltin:
		op = OpCallBuiltin
	case FuncHost:
		op = OpCallHost
	case FuncForeign:
		op = OpCallForeign
	}
	fc.emit(Instr{Op: op, Format: FormatCall, A: uint8(base), FuncIdx: uint16(funcIdx), NumArgs: uint8(numArgs), NumResults: 1})

	if !call.Propagate {
		return base, nil
	}
	return fc.lowerPropagation(base)
}

// lowerPropagation implements the postfix '?' operator (spec §4.5
// "Result/Option propagation"): if the call's result is None/Err, the
// enclosing function returns it immediately; otherwise the unwrapped
// payload becomes the expression's value.
func (fc *funcCompiler) lowerPropagation(resultReg int) (int, error) {
	cont := fc.asm.newLabel()
	fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(resultReg), B: uint8(KindNone)})
	fc.emitJump(OpJmp, 0, 0, 0, cont)
	fc.emitReturn(resultReg)
	fc.asm.bind(cont)

	cont2 := fc.asm.newLabel()
	fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(resultReg), B: uint8(KindError)})
	fc.emitJump(OpJmp, 0, 0, 0, cont2)
	fc.emitReturn(resultReg)
	fc.asm.bind(cont2)

	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpUnwrapResult, Format: FormatABC, A: uint8(dst), B: uint8(resultReg)})
	return dst, nil
}

// lowerLambda builds a closure value over the current function's
// registers. Captures are copied into consecutive registers starting
// right after the destination, the layout OpMakeClosure's VM handler
// expects (spec §3.1 KindClosure, §4.5 lambda/closure nodes).
func (fc *funcCompiler) lowerLambda(l *Lambda) (int, error) {
	sub := &funcCompiler{
		c:              fc.c,
		def:            FuncDef{Name: fmt.Sprintf("%s$lambda%d", fc.def.Name, fc.c.nextLambda()), Params: l.Params, ParamT: l.ParamT, Return: l.Return, Body: l.Body},
		asm:            newAssembler(),
		regs:           &regAlloc{},
		scope:          newScope(nil),
		constDedup:     map[string]int{},
		activeLifetime: map[string]*LifetimeRecord{},
	}
	for _, p := range l.Params {
		reg := sub.regs.alloc()
		sub.scope.define(p, reg)
		sub.startLifetime(p, reg, 0)
	}
	for _, cap := range l.Captures {
		reg := sub.regs.alloc()
		sub.scope.define(cap, reg)
		sub.startLifetime(cap, reg, 0)
	}

	ret, err := sub.lowerBlock(l.Body)
	if err != nil {
		return 0, err
	}
	sub.emitReturn(ret)
	if err := sub.asm.resolve(); err != nil {
		return 0, err
	}
	sub.closeAllLifetimes(len(sub.asm.code))

	entryPC := len(fc.c.prog.Code)
	for i := range sub.debugMap {
		sub.debugMap[i].PC += entryPC
	}
	fc.c.prog.Code = append(fc.c.prog.Code, sub.asm.code...)
	endPC := len(fc.c.prog.Code)

	constBase := len(fc.c.prog.Constants)
	fc.c.prog.Constants = append(fc.c.prog.Constants, sub.constIndex...)
	rebaseConstants(fc.c.prog.Code[entryPC:endPC], constBase)
	fc.c.prog.DebugMap = append(fc.c.prog.DebugMap, sub.debugMap...)
	fc.c.prog.Lifetimes[sub.def.Name] = sub.lifetimes

	funcIdx := len(fc.c.prog.Functions)
	fc.c.prog.FuncIndex[sub.def.Name] = funcIdx
	fc.c.prog.Functions = append(fc.c.prog.Functions, FuncDesc{
		Name: sub.def.Name, Kind: FuncNative, Params: l.ParamT, Return: l.Return,
		EntryPC: entryPC, EndPC: endPC, MaxReg: sub.regs.max,
	})

	base := fc.regs.alloc()
	for i, capName := range l.Captures {
		capReg, ok := fc.scope.lookup(capName)
		if !ok {
			return 0, fmt.Errorf("lambda captures undefined variable %q", capName)
		}
		dst := base + 1 + i
		for dst >= fc.regs.next {
			fc.regs.alloc()
		}
		fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(dst), B: uint8(capReg)})
	}
	fc.emit(Instr{Op: OpMakeClosure, Format: FormatCall, A: uint8(base), FuncIdx: uint16(funcIdx), NumArgs: uint8(len(l.Captures))})
	return base, nil
}

func (fc *funcCompiler) lowerSpawn(s *SpawnExpr) (int, error) {
	funcIdx, numArgs, base, err := fc.lowerCallArgs(s.Call)
	if err != nil {
		return 0, err
	}
	fc.emit(Instr{Op: OpSpawn, Format: FormatCall, A: uint8(base), FuncIdx: uint16(funcIdx), NumArgs: uint8(numArgs)})
	return base, nil
}

func (fc *funcCompiler) lowerResume(r *ResumeExpr) (int, error) {
	coroReg, err := fc.lowerNode(r.Coro)
	if err != nil {
		return 0, err
	}
	argRegs := make([]int, len(r.Args))
	for i, a := range r.Args {
		reg, err := fc.lowerNode(a)
		if err != nil {
			return 0, err
		}
		argRegs[i] = reg
	}
	base := fc.regs.alloc()
	fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(base), B: uint8(coroReg)})
	for i, reg := range argRegs {
		dst := base + 1 + i
		for dst >= fc.regs.next {
			fc.regs.alloc()
		}
		fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(dst), B: uint8(reg)})
	}
	fc.emit(Instr{Op: OpResume, Format: FormatCall, A: uint8(base), NumArgs: uint8(len(r.Args)), NumResults: 1})
	return base, nil
}

func (fc *funcCompiler) lowerYield(y *YieldExpr) (int, error) {
	valReg, err := fc.lowerNode(y.Value)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpYield, Format: FormatABC, A: uint8(dst), B: uint8(valReg)})
	return dst, nil
}

func (fc *funcCompiler) lowerChannelNew(ch *ChannelNewExpr) (int, error) {
	capReg, err := fc.lowerNode(ch.Capacity)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpChannelNew, Format: FormatABC, A: uint8(dst), B: uint8(capReg)})
	return dst, nil
}

func (fc *funcCompiler) lowerChannelSend(s *ChannelSendStmt) (int, error) {
	chReg, err := fc.lowerNode(s.Chan)
	if err != nil {
		return 0, err
	}
	valReg, err := fc.lowerNode(s.Value)
	if err != nil {
		return 0, err
	}
	fc.emit(Instr{Op: OpChannelSend, Format: FormatABC, A: uint8(chReg), B: uint8(valReg)})
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(dst)})
	return dst, nil
}

func (fc *funcCompiler) lowerChannelRecv(r *ChannelRecvExpr) (int, error) {
	chReg, err := fc.lowerNode(r.Chan)
	if err != nil {
		return 0, err
	}
	dst := fc.regs.alloc()
	fc.emit(Instr{Op: OpChannelRecv, Format: FormatABC, A: uint8(dst), B: uint8(chReg)})
	return dst, nil
}
