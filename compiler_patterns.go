package etch

// compiler_patterns.go lowers a Match expression to the sequential
// decision-tree spec §4.5 describes: each arm is tried in order, its
// pattern compiled to a chain of tag/value tests, and the first arm
// whose pattern (and optional guard) passes runs its body. Bindings a
// pattern introduces are scoped to that arm's body only.

func (fc *funcCompiler) lowerMatch(m *Match) (int, error) {
	subjectReg, err := fc.lowerNode(m.Subject)
	if err != nil {
		return 0, err
	}
	result := fc.regs.alloc()
	endLbl := fc.asm.newLabel()

	for _, arm := range m.Arms {
		nextLbl := fc.asm.newLabel()

		fc.scope = newScope(fc.scope)
		if err := fc.lowerPattern(arm.Pattern, subjectReg, nextLbl); err != nil {
			fc.scope = fc.scope.parent
			return 0, err
		}

		if arm.Guard != nil {
			guardReg, err := fc.lowerNode(arm.Guard)
			if err != nil {
				fc.scope = fc.scope.parent
				return 0, err
			}
			fc.emit(Instr{Op: OpTest, Format: FormatABC, A: uint8(guardReg), B: 1})
			fc.emitJump(OpJmp, 0, 0, 0, nextLbl)
		}

		bodyReg, err := fc.lowerBlock(arm.Body)
		fc.scope = fc.scope.parent
		if err != nil {
			return 0, err
		}
		fc.emit(Instr{Op: OpMove, Format: FormatABC, A: uint8(result), B: uint8(bodyReg)})
		fc.emitJump(OpJmp, 0, 0, 0, endLbl)

		fc.asm.bind(nextLbl)
	}

	// No arm matched: a malformed (non-exhaustive) match falls through
	// to nil here. An exhaustiveness check belongs to the (out-of-scope)
	// surface-syntax type checker; this core trusts its typed AST input.
	fc.emit(Instr{Op: OpLoadNil, Format: FormatABC, A: uint8(result)})
	fc.asm.bind(endLbl)
	return result, nil
}

// lowerPattern emits the test chain for pattern against the value in
// subjectReg, jumping to failLbl on any mismatch. Matching patterns
// bind names into the current (already-pushed) scope.
func (fc *funcCompiler) lowerPattern(pattern Pattern, subjectReg int, failLbl Label) error {
	switch p := pattern.(type) {
	case WildcardPattern:
		return nil

	case BindPattern:
		fc.scope.define(p.Name, subjectReg)
		fc.startLifetime(p.Name, subjectReg, len(fc.asm.code))
		return nil

	case LiteralPattern:
		constReg := fc.regs.alloc()
		fc.emit(Instr{Op: OpLoadK, Format: FormatABx, A: uint8(constReg), Bx: uint16(fc.constIndexOf(p.Value))})
		cmpReg := fc.regs.alloc()
		fc.emit(Instr{Op: OpEqStore, Format: FormatABC, A: uint8(cmpReg), B: uint8(subjectReg), C: uint8(constReg), CmpOp: CmpEq})
		fc.emit(Instr{Op: OpTest, Format: FormatABC, A: uint8(cmpReg), B: 1})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		return nil

	case NonePattern:
		fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(subjectReg), B: uint8(KindNone)})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		return nil

	case SomePattern:
		fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(subjectReg), B: uint8(KindSome)})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		inner := fc.regs.alloc()
		fc.emit(Instr{Op: OpUnwrapOption, Format: FormatABC, A: uint8(inner), B: uint8(subjectReg)})
		return fc.lowerPattern(p.Inner, inner, failLbl)

	case OkPattern:
		fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(subjectReg), B: uint8(KindOk)})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		inner := fc.regs.alloc()
		fc.emit(Instr{Op: OpUnwrapResult, Format: FormatABC, A: uint8(inner), B: uint8(subjectReg)})
		return fc.lowerPattern(p.Inner, inner, failLbl)

	case ErrPattern:
		fc.emit(Instr{Op: OpTestTag, Format: FormatABC, A: uint8(subjectReg), B: uint8(KindError)})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		inner := fc.regs.alloc()
		fc.emit(Instr{Op: OpUnwrapResult, Format: FormatABC, A: uint8(inner), B: uint8(subjectReg)})
		return fc.lowerPattern(p.Inner, inner, failLbl)

	case EnumPattern:
		constReg := fc.regs.alloc()
		fc.emit(Instr{Op: OpLoadK, Format: FormatABx, A: uint8(constReg),
			Bx: uint16(fc.constIndexOf(Enum(p.Type.ID, fc.c.enumValueOf(p.Type, p.Name), p.Name)))})
		cmpReg := fc.regs.alloc()
		fc.emit(Instr{Op: OpEqStore, Format: FormatABC, A: uint8(cmpReg), B: uint8(subjectReg), C: uint8(constReg), CmpOp: CmpEq})
		fc.emit(Instr{Op: OpTest, Format: FormatABC, A: uint8(cmpReg), B: 1})
		fc.emitJump(OpJmp, 0, 0, 0, failLbl)
		return nil

	default:
		return &CompileError{Func: fc.def.Name, Message: "unsupported pattern shape"}
	}
}

// enumValueOf looks up the ordinal of an enum member by declared name,
// consulting the registry Compile built from the Module's type
// declarations, so pattern lowering and enum-literal lowering agree on
// what integer an enum member name denotes.
func (c *Compiler) enumValueOf(t TypeRef, name string) int64 {
	for i, v := range c.enumMembers[t.ID] {
		if v == name {
			return int64(i)
		}
	}
	return -1
}
