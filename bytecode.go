// Package-level note on the chosen instruction set (spec's Open
// Questions section flags two parallel, conflicting instruction-format
// "worlds" in the original source). This implementation adopts the
// newer of the two: ABx-form LoadK, typedesc values, enum values,
// coroutines, channels, and fused triadic arithmetic. See DESIGN.md.
package etch

// CurrentBytecodeVersion and CurrentASTVersion gate program loading
// (spec §3.3 "Versioning", §6.1): loaders accept only the current
// version and reject everything else rather than migrating.
const (
	CurrentBytecodeVersion uint32 = 1
	CurrentASTVersion      uint32 = 1
)

// Opcode identifies an instruction handler. Grouped by family to match
// spec §4.2's listing; values are stable within a bytecode version.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Data movement
	OpMove
	OpLoadK
	OpLoadNil
	OpLoadBool
	OpGetGlobal
	OpSetGlobal
	OpGetRef
	OpSetRef

	// Generic + specialized arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpUnm
	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpModInt
	OpAddFloat
	OpSubFloat
	OpMulFloat
	OpDivFloat
	OpModFloat

	// Immediate arithmetic (8-bit signed immediate in Imm)
	OpAddImm
	OpSubImm
	OpMulImm
	OpDivImm
	OpModImm
	OpAndImm
	OpOrImm

	// Conditional-skip comparisons
	OpEq
	OpLt
	OpLe

	// Store-comparison forms
	OpEqStore
	OpLtStore
	OpLeStore
	OpNeStore

	// Fused compare-and-jump
	OpCmpJmp

	// Boolean
	OpNot
	OpAnd
	OpOr
	OpIn
	OpNotIn

	// Indexing
	OpGetIndex
	OpSetIndex
	OpGetIndexImm
	OpSetIndexImm
	OpGetField
	OpSetField
	OpSlice

	// Length / construction
	OpLen
	OpNewArray
	OpNewTable

	// Wrappers
	OpWrapSome
	OpWrapOk
	OpWrapErr
	OpLoadNone
	OpTestTag
	OpUnwrapOption
	OpUnwrapResult

	// Cast
	OpCast

	// Control flow
	OpJmp
	OpTest
	OpTestSet
	OpForPrep
	OpForLoop
	OpIntForPrep
	OpIntForLoop
	OpReturn
	OpDeferPush

	// Fused triadic arithmetic (int or float picked from the operand kinds)
	OpFusedAddAdd
	OpFusedMulAdd
	OpFusedSubSub
	OpFusedSubMul
	OpFusedMulSub
	OpFusedDivAdd
	OpFusedAddSub
	OpFusedAddMul
	OpFusedSubDiv

	// Fused load-op-store
	OpFieldIncr
	OpGetAddSet
	OpGetSubSet
	OpGetMulSet
	OpGetDivSet
	OpGetModSet

	// Fused inc-and-test (shrinks counted loops)
	OpIncTestLt

	// Calls
	OpCallNative
	OpCallBuiltin
	OpCallHost
	OpCallForeign
	OpMakeClosure

	// Coroutines / channels
	OpSpawn
	OpResume
	OpYield
	OpChannelNew
	OpChannelSend
	OpChannelRecv

	OpHalt
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpMove: "move", OpLoadK: "loadk", OpLoadNil: "loadnil",
	OpLoadBool: "loadbool", OpGetGlobal: "getglobal", OpSetGlobal: "setglobal",
	OpGetRef: "getref", OpSetRef: "setref",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpPow: "pow", OpUnm: "unm",
	OpAddInt: "add.i", OpSubInt: "sub.i", OpMulInt: "mul.i", OpDivInt: "div.i", OpModInt: "mod.i",
	OpAddFloat: "add.f", OpSubFloat: "sub.f", OpMulFloat: "mul.f", OpDivFloat: "div.f", OpModFloat: "mod.f",
	OpAddImm: "add.imm", OpSubImm: "sub.imm", OpMulImm: "mul.imm", OpDivImm: "div.imm", OpModImm: "mod.imm",
	OpAndImm: "and.imm", OpOrImm: "or.imm",
	OpEq: "eq", OpLt: "lt", OpLe: "le",
	OpEqStore: "eq.store", OpLtStore: "lt.store", OpLeStore: "le.store", OpNeStore: "ne.store",
	OpCmpJmp: "cmpjmp",
	OpNot:    "not", OpAnd: "and", OpOr: "or", OpIn: "in", OpNotIn: "notin",
	OpGetIndex: "getindex", OpSetIndex: "setindex",
	OpGetIndexImm: "getindex.imm", OpSetIndexImm: "setindex.imm",
	OpGetField: "getfield", OpSetField: "setfield", OpSlice: "slice",
	OpLen: "len", OpNewArray: "newarray", OpNewTable: "newtable",
	OpWrapSome: "wrap.some", OpWrapOk: "wrap.ok", OpWrapErr: "wrap.err",
	OpLoadNone: "loadnone", OpTestTag: "testtag",
	OpUnwrapOption: "unwrap.option", OpUnwrapResult: "unwrap.result",
	OpCast: "cast",
	OpJmp:  "jmp", OpTest: "test", OpTestSet: "testset",
	OpForPrep: "forprep", OpForLoop: "forloop",
	OpIntForPrep: "iforprep", OpIntForLoop: "iforloop",
	OpReturn: "return", OpDeferPush: "defer",
	OpFusedAddAdd: "fused.addadd", OpFusedMulAdd: "fused.muladd",
	OpFusedSubSub: "fused.subsub", OpFusedSubMul: "fused.submul",
	OpFusedMulSub: "fused.mulsub", OpFusedDivAdd: "fused.divadd",
	OpFusedAddSub: "fused.addsub", OpFusedAddMul: "fused.addmul",
	OpFusedSubDiv: "fused.subdiv",
	OpFieldIncr:   "field.incr",
	OpGetAddSet:   "getaddset", OpGetSubSet: "getsubset", OpGetMulSet: "getmulset",
	OpGetDivSet: "getdivset", OpGetModSet: "getmodset",
	OpIncTestLt:   "inctestlt",
	OpCallNative:  "call.native", OpCallBuiltin: "call.builtin",
	OpCallHost:    "call.host", OpCallForeign: "call.foreign",
	OpMakeClosure: "makeclosure",
	OpSpawn: "spawn", OpResume: "resume", OpYield: "yield",
	OpChannelNew: "chan.new", OpChannelSend: "chan.send", OpChannelRecv: "chan.recv",
	OpHalt: "halt",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "op?"
}

// Format identifies which of the five encoding forms spec §4.2
// mandates an instruction uses.
type Format uint8

const (
	FormatABC Format = iota
	FormatABx
	FormatAsBx
	FormatAx
	FormatCall
)

// NumKind is an int/float tag carried in every Instr and serialized by
// program_io.go. The fusion pass leaves it at NumInt and the VM does
// not read it: arithmetic handlers pick int or float from the operand
// kinds (see DESIGN.md).
type NumKind uint8

const (
	NumInt NumKind = iota
	NumFloat
)

// CmpOp identifies the comparator embedded in a cmpJmp fused
// instruction or a store-comparison instruction.
type CmpOp uint8

const (
	CmpEq CmpOp = iota
	CmpLt
	CmpLe
	CmpNe
)

// Instr is the compiler's and VM's in-memory instruction
// representation. One Instr corresponds to one slot in
// Program.Code, addressed by slice index; program_io.go packs/unpacks
// this shape field by field as a fixed-size record, and PCs in the
// file are the same slice indices (see DESIGN.md's "PC representation"
// note).
type Instr struct {
	Op     Opcode
	Format Format

	A, B, C uint8 // ABC / Ax (Ax reuses A,B,C as its packed triadic registers)
	Bx      uint16
	SBx     int32 // wide enough for a full instruction-array jump offset

	FuncIdx    uint16 // Call form
	NumArgs    uint8
	NumResults uint8

	NumKind  NumKind
	CmpOp    CmpOp
	CastKind uint8
	Imm      int8 // 8-bit signed immediate for *Imm ops; reinterpreted as a
	// 4th source-register index by the fused triadic ops (compiler_fusion.go),
	// which otherwise only have the three ABC register slots to work with

	Line int32 // convenience copy of the source line, also recorded in the debug map
}

// FuncKind identifies what kind of callable a function-table entry
// describes (spec §3.3).
type FuncKind uint8

const (
	FuncNative FuncKind = iota
	FuncBuiltin
	FuncHost
	FuncForeign
)

func (k FuncKind) String() string {
	switch k {
	case FuncNative:
		return "native"
	case FuncBuiltin:
		return "builtin"
	case FuncHost:
		return "host"
	case FuncForeign:
		return "foreign"
	default:
		return "?"
	}
}

// TypeRef names a declared or built-in type by name plus a
// deterministic hash-derived id (spec §6.3: "Enum values accept a
// type-id computed deterministically from the type name").
type TypeRef struct {
	Name string
	ID   int32
}

// TypeID hashes a type name into the deterministic id spec §6.3
// requires ("same hash the core uses internally"). FNV-1a keeps this a
// single pure function shared by the compiler, the VM, and the host
// ABI surface.
func TypeID(name string) int32 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return int32(h & 0x7fffffff)
}

// FuncDesc is one function-table entry (spec §3.3).
type FuncDesc struct {
	Name            string // canonical mangled name
	Kind            FuncKind
	Params          []TypeRef
	Return          TypeRef
	EntryPC         int
	EndPC           int
	MaxReg          int
	Library         string // FuncForeign only
	Symbol          string // FuncForeign only
	UsesPropagation bool
	PropagationType TypeRef
}

// TypeDeclKind distinguishes the three declared-type shapes the type
// registry holds (spec §3.3).
type TypeDeclKind uint8

const (
	TypeObject TypeDeclKind = iota
	TypeEnum
	TypeDistinct
)

// FieldDecl is one field of an object type declaration.
type FieldDecl struct {
	Name string
	Type TypeRef
}

// TypeDecl is one type-registry entry (spec §3.3, §6.1).
type TypeDecl struct {
	Name       string
	ID         int32
	Kind       TypeDeclKind
	Fields     []FieldDecl   // TypeObject
	EnumValues []string      // TypeEnum, ordered by int-value
	Underlying TypeRef       // TypeDistinct
}

// DebugEntry maps one PC to a source position (spec §3.3 debug map).
type DebugEntry struct {
	PC     int
	File   string
	Line   int
	Column int
}

// LifetimeRecord is one (variable, register, start, end, def) tuple
// (spec §3.3 lifetime map, §4.5.3).
type LifetimeRecord struct {
	Variable string
	Register int
	StartPC  int
	EndPC    int
	DefPC    int
}

// Program is the immutable artifact the compiler produces and the VM
// executes (spec §3.3).
type Program struct {
	Code      []Instr
	Constants []Value
	Functions []FuncDesc
	FuncIndex map[string]int
	Types     []TypeDecl
	Entry     int

	DebugMap  []DebugEntry
	Lifetimes map[string][]LifetimeRecord // keyed by function canonical name

	BytecodeVersion uint32
	ASTVersion      uint32
}

// NewProgram returns an empty Program stamped with the current format
// versions.
func NewProgram() *Program {
	return &Program{
		FuncIndex:       map[string]int{},
		Lifetimes:       map[string][]LifetimeRecord{},
		BytecodeVersion: CurrentBytecodeVersion,
		ASTVersion:      CurrentASTVersion,
	}
}

// DebugPosition returns the nearest debug map entry at or before pc.
func (p *Program) DebugPosition(pc int) (DebugEntry, bool) {
	var best DebugEntry
	found := false
	for _, e := range p.DebugMap {
		if e.PC <= pc && (!found || e.PC > best.PC) {
			best = e
			found = true
		}
	}
	return best, found
}

// FuncAt returns the function-table entry whose [EntryPC,EndPC) range
// contains pc, used by VM inspection (spec §4.6).
func (p *Program) FuncAt(pc int) (FuncDesc, bool) {
	for _, f := range p.Functions {
		if pc >= f.EntryPC && pc < f.EndPC {
			return f, true
		}
	}
	return FuncDesc{}, false
}
