package etch

import (
	"fmt"
	"strings"

	"github.com/kunitoki/etch-sub006/ascii"
)

// Dump renders a Program as human-readable assembly, one function at
// a time, generalizing the teacher's vm_program.go PrettyString/
// HighlightPrettyString split from a PEG instruction stream to the
// register-VM's Instr shape. Non-goal per spec (textual error
// formatting is out of scope), but a bytecode dump is plain
// diagnostics, not source-level surface, so it stays in scope.
func (p *Program) Dump() string {
	return p.dump(false)
}

// DumpColor is Dump with ascii.DefaultTheme highlighting, for a
// terminal-attached CLI (cmd/etch's "dump" subcommand).
func (p *Program) DumpColor() string {
	return p.dump(true)
}

func (p *Program) dump(color bool) string {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return ascii.Color(c, "%s", s)
	}

	var b strings.Builder
	for fi, fd := range p.Functions {
		b.WriteString(paint(ascii.DefaultTheme.Label, fmt.Sprintf("func #%d %s(", fi, fd.Name)))
		for i, pt := range fd.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(paint(ascii.DefaultTheme.Operand, pt.Name))
		}
		b.WriteString(paint(ascii.DefaultTheme.Label, fmt.Sprintf(") -> %s  [%s, entry=%d, end=%d, maxreg=%d]\n",
			fd.Return.Name, fd.Kind, fd.EntryPC, fd.EndPC, fd.MaxReg)))

		if fd.Kind != FuncNative {
			continue
		}
		for pc := fd.EntryPC; pc < fd.EndPC && pc < len(p.Code); pc++ {
			b.WriteString(p.dumpInstr(pc, paint))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *Program) dumpInstr(pc int, paint func(c, s string) string) string {
	in := p.Code[pc]
	var operands string

	switch in.Format {
	case FormatABx:
		operands = fmt.Sprintf("r%d, #%d", in.A, in.Bx)
		if int(in.Bx) < len(p.Constants) {
			operands += paint(ascii.DefaultTheme.Comment, fmt.Sprintf("  ; %s", p.Constants[in.Bx].String()))
		}
	case FormatAsBx:
		target := pc + 1 + int(in.SBx)
		operands = fmt.Sprintf("r%d, %+d", in.A, in.SBx)
		operands += paint(ascii.DefaultTheme.Comment, fmt.Sprintf("  ; -> %06d", target))
	case FormatAx:
		operands = fmt.Sprintf("r%d, r%d, r%d, r%d", in.A, in.B, in.C, in.Imm)
	case FormatCall:
		operands = fmt.Sprintf("r%d, func#%d, argc=%d, resc=%d", in.A, in.FuncIdx, in.NumArgs, in.NumResults)
	default: // FormatABC
		operands = fmt.Sprintf("r%d, r%d, r%d", in.A, in.B, in.C)
	}

	line := paint(ascii.DefaultTheme.Comment, fmt.Sprintf("%06d  ", pc))
	op := paint(ascii.DefaultTheme.Operator, fmt.Sprintf("%-12s", in.Op))
	return fmt.Sprintf("%s%s %s\n", line, op, operands)
}
