package etch

// compiler_fusion.go is the peephole pass spec §4.2/§4.5 describes:
// after a function's generic instruction stream is fully assembled and
// resolved, adjacent instructions matching a known shape are rewritten
// into a single fused instruction, shrinking dispatch overhead without
// changing observable behavior. Matched-away instructions are replaced
// with OpNop rather than removed, so PCs (and every already-resolved
// jump target) stay stable — the same reason the fusion pass runs
// after label resolution, not before.
//
// fusedSpecs is the table driving this matcher: each entry names the
// two generic ops that, back to back with the first's destination
// immediately reused as the second's left operand, collapse into one
// fused op. The VM does not read this table; vm.go's dispatch switch
// and vm_ops.go's execFusedTriadic list the fused opcodes themselves.
type fusedSpec struct {
	first, second Opcode
	fused         Opcode
}

var fusedSpecs = []fusedSpec{
	{OpAdd, OpAdd, OpFusedAddAdd},
	{OpMul, OpAdd, OpFusedMulAdd},
	{OpSub, OpSub, OpFusedSubSub},
	{OpSub, OpMul, OpFusedSubMul},
	{OpMul, OpSub, OpFusedMulSub},
	{OpDiv, OpAdd, OpFusedDivAdd},
	{OpAdd, OpSub, OpFusedAddSub},
	{OpAdd, OpMul, OpFusedAddMul},
	{OpSub, OpDiv, OpFusedSubDiv},
}

// fuseProgram runs the peephole pass over every function's instruction
// range in p.Code. Called once by Compile after all functions have
// been assembled and concatenated.
func fuseProgram(p *Program) {
	for _, f := range p.Functions {
		fuseRange(p.Code, f.EntryPC, f.EndPC)
	}
}

func fuseRange(code []Instr, start, end int) {
	// namedElsewhere reports whether reg appears as an operand of any
	// instruction in the range outside the n slots starting at i. A fused
	// instruction no longer writes the matched shape's intermediate
	// register, so a shape is fused only when nothing else names it.
	namedElsewhere := func(reg uint8, i, n int) bool {
		for pc := start; pc < end; pc++ {
			in := code[pc]
			if (pc < i || pc >= i+n) && (in.A == reg || in.B == reg || in.C == reg || uint8(in.Imm) == reg) {
				return true
			}
		}
		return false
	}
	for i := start; i < end; i++ {
		if i+2 < end && isCmpJmpShape(code, i) && !namedElsewhere(code[i].A, i, 3) {
			fuseCmpJmp(code, i)
			continue
		}
		if i+1 < end && isTriadicShape(code, i) && !namedElsewhere(code[i].A, i, 2) {
			fuseTriadic(code, i)
		}
	}
}

func isCmpJmpShape(code []Instr, i int) bool {
	return code[i].Op == OpEqStore &&
		code[i+1].Op == OpTest && code[i+1].A == code[i].A && code[i+1].B == 1 &&
		code[i+2].Op == OpJmp
}

// fuseCmpJmp collapses `cmp; test; jmp` into a single `cmpJmp`,
// recomputing the jump's PC-relative offset since the fused
// instruction now lives two slots earlier than the jmp it replaces.
// The test skips the jmp when the comparison holds, so the fused
// instruction carries the negated comparison and jumps when the
// original one fails.
func fuseCmpJmp(code []Instr, i int) {
	jmpPC := i + 2
	target := jmpPC + 1 + int(code[jmpPC].SBx)
	newSBx := target - (i + 1)

	cmp := code[i]
	b, c, op := cmp.B, cmp.C, cmp.CmpOp
	switch op {
	case CmpEq:
		op = CmpNe
	case CmpNe:
		op = CmpEq
	case CmpLt: // !(b < c) is c <= b
		op, b, c = CmpLe, c, b
	case CmpLe: // !(b <= c) is c < b
		op, b, c = CmpLt, c, b
	}
	code[i] = Instr{
		Op: OpCmpJmp, Format: FormatAsBx,
		B: b, C: c, CmpOp: op,
		SBx:  int32(newSBx),
		Line: cmp.Line,
	}
	code[i+1] = Instr{Op: OpNop, Line: code[i+1].Line}
	code[i+2] = Instr{Op: OpNop, Line: code[i+2].Line}
}

func isTriadicShape(code []Instr, i int) bool {
	for _, spec := range fusedSpecs {
		if code[i].Op == spec.first && code[i+1].Op == spec.second && code[i+1].B == code[i].A {
			return true
		}
	}
	return false
}

// fuseTriadic collapses `t = a OP1 b; d = t OP2 c` into one fused
// instruction. The first op's three source operands (a, b) plus the
// second op's extra operand (c) all survive: a and b stay in B/C, c is
// carried in the otherwise-unused Imm slot (reinterpreted as a 4th
// register index for fused triadic ops specifically, not a signed
// immediate — see bytecode.go's Instr doc).
func fuseTriadic(code []Instr, i int) {
	for _, spec := range fusedSpecs {
		if code[i].Op != spec.first || code[i+1].Op != spec.second || code[i+1].B != code[i].A {
			continue
		}
		first := code[i]
		second := code[i+1]
		code[i] = Instr{
			Op: spec.fused, Format: FormatABC,
			A: second.A, B: first.B, C: first.C,
			Imm:  int8(second.C),
			Line: first.Line,
		}
		code[i+1] = Instr{Op: OpNop, Line: second.Line}
		return
	}
}
