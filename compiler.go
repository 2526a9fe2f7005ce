package etch

import "fmt"

// CompileError reports a problem discovered while lowering a Module to
// a Program (spec §7 compile-time diagnostics).
type CompileError struct {
	Func    string
	Message string
}

func (e *CompileError) Error() string {
	if e.Func == "" {
		return "etch: compile error: " + e.Message
	}
	return fmt.Sprintf("etch: compile error in %s: %s", e.Func, e.Message)
}

// regAlloc is a freelist register allocator, generalizing the teacher's
// grammar_compiler.go capture-slot counter into a proper alloc/free
// pair so register pressure shrinks across temporaries instead of only
// ever growing (spec §4.5 "Register allocation").
type regAlloc struct {
	next int
	free []int
	max  int
}

func (r *regAlloc) alloc() int {
	if n := len(r.free); n > 0 {
		reg := r.free[n-1]
		r.free = r.free[:n-1]
		return reg
	}
	reg := r.next
	r.next++
	if r.next > r.max {
		r.max = r.next
	}
	return reg
}

func (r *regAlloc) release(reg int) {
	r.free = append(r.free, reg)
}

// scope maps lexical variable names to the register holding them,
// chained to its parent for lookup across nested blocks.
type scope struct {
	vars   map[string]int
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]int{}, parent: parent}
}

func (s *scope) define(name string, reg int) {
	s.vars[name] = reg
}

func (s *scope) lookup(name string) (int, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if reg, ok := cur.vars[name]; ok {
			return reg, true
		}
	}
	return 0, false
}

// funcCompiler lowers one FuncDef's body into an instruction stream.
type funcCompiler struct {
	c     *Compiler
	def   FuncDef
	asm   *assembler
	regs  *regAlloc
	scope *scope

	constIndex []Value
	constDedup map[string]int // kind|printed form -> index; see constIndexOf

	lifetimes      []LifetimeRecord
	activeLifetime map[string]*LifetimeRecord

	debugMap []DebugEntry

	deferLabels []Label // coroutine/defer bookkeeping: pending defers at current nesting
	line        int32
}

// Compiler lowers a whole Module into one Program, resolving call
// targets across functions via the mangled-name function table (spec
// §4.5, §3.3).
type Compiler struct {
	mod       *Module
	prog      *Program
	mangleOf    map[string]string // declared name -> mangled canonical name
	lambdaSeq   int
	enumMembers map[int32][]string // TypeDecl.ID -> ordered member names
}

// nextLambda returns a fresh, per-module-unique ordinal for naming
// anonymous lambda functions in the function table.
func (c *Compiler) nextLambda() int {
	c.lambdaSeq++
	return c.lambdaSeq
}

// Compile lowers mod into an executable Program. Each function is
// compiled independently into its own instruction run, then the runs
// are concatenated (teacher's grammar_compiler.go does the same
// single-stream concatenation for rule bodies via backpatchCallSites).
func Compile(mod *Module) (*Program, error) {
	c := &Compiler{
		mod:         mod,
		prog:        NewProgram(),
		mangleOf:    map[string]string{},
		enumMembers: map[int32][]string{},
	}

	for _, t := range mod.Types {
		if t.ID == 0 {
			t.ID = TypeID(t.Name)
		}
		c.prog.Types = append(c.prog.Types, t)
		if t.Kind == TypeEnum {
			c.enumMembers[t.ID] = t.EnumValues
		}
	}

	// Pre-register every function's mangled name and a function-table
	// stub before lowering any body, so a call site can resolve its
	// callee's FuncIdx regardless of declaration order (forward calls
	// and mutual recursion both need this).
	for _, f := range mod.Funcs {
		mangledName := MangleName(f.Name, f.ParamT)
		c.mangleOf[f.Name] = mangledName
		c.prog.FuncIndex[mangledName] = len(c.prog.Functions)
		c.prog.Functions = append(c.prog.Functions, FuncDesc{
			Name:   mangledName,
			Kind:   FuncNative,
			Params: f.ParamT,
			Return: f.Return,
		})
	}

	for _, f := range mod.Funcs {
		fc := &funcCompiler{
			c:              c,
			def:            f,
			asm:            newAssembler(),
			regs:           &regAlloc{},
			scope:          newScope(nil),
			constDedup:     map[string]int{},
			activeLifetime: map[string]*LifetimeRecord{},
		}
		for i, p := range f.Params {
			reg := fc.regs.alloc()
			fc.scope.define(p, reg)
			fc.startLifetime(p, reg, 0)
			_ = i
		}

		ret, err := fc.lowerBlock(f.Body)
		if err != nil {
			return nil, &CompileError{Func: f.Name, Message: err.Error()}
		}
		fc.emitReturn(ret)

		if err := fc.asm.resolve(); err != nil {
			return nil, &CompileError{Func: f.Name, Message: err.Error()}
		}
		fc.closeAllLifetimes(len(fc.asm.code))

		entryPC := len(c.prog.Code)
		for i := range fc.asm.code {
			fc.debugMap[i].PC += entryPC
		}
		for i := range fc.lifetimes {
			fc.lifetimes[i].StartPC += entryPC
			fc.lifetimes[i].EndPC += entryPC
			fc.lifetimes[i].DefPC += entryPC
		}
		c.prog.Code = append(c.prog.Code, fc.asm.code...)
		endPC := len(c.prog.Code)

		constBase := len(c.prog.Constants)
		c.prog.Constants = append(c.prog.Constants, fc.constIndex...)
		rebaseConstants(c.prog.Code[entryPC:endPC], constBase)

		c.prog.DebugMap = append(c.prog.DebugMap, fc.debugMap...)
		name := mangled(f, c)
		c.prog.Lifetimes[name] = fc.lifetimes

		idx := c.prog.FuncIndex[name]
		c.prog.Functions[idx].EntryPC = entryPC
		c.prog.Functions[idx].EndPC = endPC
		c.prog.Functions[idx].MaxReg = fc.regs.max
	}

	if idx, ok := c.prog.FuncIndex["main"]; ok {
		c.prog.Entry = c.prog.Functions[idx].EntryPC
	}

	fuseProgram(c.prog)

	return c.prog, nil
}

func mangled(f FuncDef, c *Compiler) string {
	return c.mangleOf[f.Name]
}

// rebaseConstants shifts the constant index in Bx of every OpLoadK,
// OpGetGlobal, OpSetGlobal, OpGetField and OpSetField by constBase,
// since each function's constant pool is assembled locally then
// appended to the program-wide pool at a function-specific offset.
func rebaseConstants(code []Instr, constBase int) {
	for i := range code {
		switch code[i].Op {
		case OpLoadK, OpGetGlobal, OpSetGlobal, OpGetField, OpSetField:
			code[i].Bx += uint16(constBase)
		}
	}
}

// constIndexOf returns the constant-pool index for v, reusing an
// existing slot for any value of the same kind and printed form already
// emitted by this function (teacher's vm_encoder.go addSet pattern,
// generalized from charsets to arbitrary constants).
func (fc *funcCompiler) constIndexOf(v Value) int {
	key := v.Kind.String() + "|" + v.String()
	if idx, ok := fc.constDedup[key]; ok {
		return idx
	}
	idx := len(fc.constIndex)
	fc.constIndex = append(fc.constIndex, v)
	fc.constDedup[key] = idx
	return idx
}

func (fc *funcCompiler) emitReturn(reg int) {
	fc.emit(Instr{Op: OpReturn, Format: FormatABC, A: uint8(reg)})
}

// emit appends instr, stamping its debug-map entry from the current
// source line (spec §3.3 debug map is kept parallel to Code).
func (fc *funcCompiler) emit(instr Instr) int {
	instr.Line = fc.line
	pc := fc.asm.emit(instr)
	fc.debugMap = append(fc.debugMap, DebugEntry{PC: pc, Line: int(fc.line)})
	return pc
}

// emitJump mirrors emit but goes through the assembler's label-patching
// path; kept as a separate entry point so debugMap stays index-aligned
// with asm.code regardless of which emit path was used.
func (fc *funcCompiler) emitJump(op Opcode, a, b, c uint8, l Label) int {
	pc := fc.asm.emitJump(op, a, b, c, l)
	fc.debugMap = append(fc.debugMap, DebugEntry{PC: pc, Line: int(fc.line)})
	return pc
}
