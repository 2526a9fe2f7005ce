package etch

import "fmt"

// Panic is a runtime fault the VM cannot recover from locally: a type
// mismatch in an operation, an undefined global, an unwrap of an empty
// option/result, an unimplemented opcode, or an abort requested by the
// debug callback (spec §7 "Panic: unrecoverable runtime fault").
type Panic struct {
	PC      int
	Func    string
	Message string
}

func (p *Panic) Error() string {
	return fmt.Sprintf("etch: panic in %s at pc=%d: %s", p.Func, p.PC, p.Message)
}

// InstrCallback is invoked before every instruction the VM dispatches,
// letting an embedding host single-step, set breakpoints, or trace
// execution (spec §4.6 "Embedding interface... instruction callback").
// See debug.go for StepAction and the breakpoint bookkeeping that
// drives this hook.
type InstrCallback func(vm *VM, f *Frame, in Instr) StepAction

// HostFunc is a function the embedding host registers under a name,
// invoked via OpCallHost (spec §4.6 "host function registration").
type HostFunc func(vm *VM, args []Value) (Value, error)

// VM executes one Program's bytecode against one Heap, one global
// table, and a set of host-registered functions. Grounded on the
// teacher's vm.go virtualMachine.Match dispatch loop, generalized from
// a single backtracking cursor to a register-window call stack (see
// frame.go) and widened with the coroutine/channel/host-call opcodes
// this spec adds.
type VM struct {
	prog    *Program
	heap    *Heap
	globals map[string]Value
	hosts   map[string]HostFunc

	top *Frame

	coros         map[int]*Coroutine
	channels      map[int]*Channel
	nextChannelID int

	instrCallback InstrCallback
	breakpoints   map[int]bool
	instrCount    int64

	gcCycleInterval int
	dirtySinceGC    int
	cycleSink       DiagnosticSink
	hostErrSink     func(*HostError)

	lastReturn   Value
	pendingYield bool
}

// NewVM constructs a VM ready to execute prog, with a heap of
// heapCapacity slots (spec §4.6 "Context lifecycle").
func NewVM(prog *Program, heapCapacity int) *VM {
	vm := &VM{
		prog:            prog,
		globals:         map[string]Value{},
		hosts:           map[string]HostFunc{},
		coros:           map[int]*Coroutine{},
		channels:        map[int]*Channel{},
		breakpoints:     map[int]bool{},
		gcCycleInterval: 256,
	}
	vm.heap = NewHeap(heapCapacity, vm)
	return vm
}

// RegisterHost installs fn under name so bytecode compiled with a
// FuncHost descriptor of that name can call it (spec §4.6).
func (vm *VM) RegisterHost(name string, fn HostFunc) {
	vm.hosts[name] = fn
}

// SetInstructionCallback installs (or clears, with nil) the
// per-instruction debug hook.
func (vm *VM) SetInstructionCallback(cb InstrCallback) {
	vm.instrCallback = cb
}

// SetCycleDiagnosticSink installs the callback maybeCollect reports
// the SCCs found by Heap.DetectCycles to, each time the dirty count
// reaches gcCycleInterval (spec §4.3, SPEC_FULL.md's DiagnosticSink
// supplement). Reported cycles are not freed.
func (vm *VM) SetCycleDiagnosticSink(sink DiagnosticSink) {
	vm.cycleSink = sink
}

// SetHostErrorSink installs the callback execCallHost reports a failed
// host call to (spec §7.5 "the core converts a host-layer exception to
// a VM-side nil result and records a diagnostic"). A nil sink silently
// drops the diagnostic; the VM-side nil result and dispatch continuation
// happen regardless of whether a sink is installed.
func (vm *VM) SetHostErrorSink(sink func(*HostError)) {
	vm.hostErrSink = sink
}

// Global reads a global variable; ok is false if it was never set.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// SetGlobal writes a global variable, retaining any heap handle it
// carries.
func (vm *VM) SetGlobal(name string, v Value) {
	if old, ok := vm.globals[name]; ok {
		_ = vm.heap.Release(old)
	}
	vm.heap.Retain(v)
	vm.globals[name] = v
}

// Run executes prog's entry function to completion and returns its
// result.
func (vm *VM) Run() (Value, error) {
	fd, ok := vm.prog.FuncAt(vm.prog.Entry)
	if !ok {
		return Value{}, &Panic{Message: "program has no entry function"}
	}
	return vm.Call(fd, nil)
}

// Call invokes fd with args from Go (the embedding host's synchronous
// call path, spec §4.6), pushing a fresh frame and running the
// dispatch loop until that frame returns.
func (vm *VM) Call(fd FuncDesc, args []Value) (Value, error) {
	frame := newFrame(vm.top, fd)
	for i, a := range args {
		if i < len(frame.Regs) {
			frame.Regs[i] = a
		}
	}
	prevTop := vm.top
	vm.top = frame
	if err := vm.loopUntil(prevTop); err != nil {
		vm.top = prevTop
		return Value{}, err
	}
	if vm.top != prevTop {
		// Paused by a breakpoint or StepPause: the paused frame stays
		// the active one so the host can inspect it.
		return vm.lastReturn, nil
	}
	vm.top = prevTop
	return vm.lastReturn, nil
}

// loopUntil runs the fetch-decode-execute loop until control returns
// to stopFrame (the frame active before the call that pushed the
// current top), mirroring the teacher's single `for { switch op {...} }`
// shape in vm.go, generalized to push/pop Frame values instead of a
// backtracking cursor stack.
func (vm *VM) loopUntil(stopFrame *Frame) error {
	for {
		f := vm.top
		if f == stopFrame || f == nil {
			return nil
		}
		if f.PC >= vm.prog.Entry+len(vm.prog.Code) && f.PC >= len(vm.prog.Code) {
			return &Panic{PC: f.PC, Func: f.Func.Name, Message: "program counter ran off the end of the code"}
		}
		in := vm.prog.Code[f.PC]

		if vm.instrCallback != nil || vm.breakpoints[f.PC] {
			action := StepContinue
			if vm.breakpoints[f.PC] {
				action = StepPause
			}
			if vm.instrCallback != nil {
				action = vm.instrCallback(vm, f, in)
			}
			switch action {
			case StepAbort:
				return &Panic{PC: f.PC, Func: f.Func.Name, Message: "execution aborted by debug callback"}
			case StepPause:
				return nil
			}
		}

		vm.instrCount++
		advance, err := vm.exec(f, in)
		if err != nil {
			return err
		}
		if advance {
			f.PC++
		}

		if vm.pendingYield {
			vm.pendingYield = false
			return nil
		}

		vm.dirtySinceGC = vm.heap.DirtyCount()
		if vm.dirtySinceGC >= vm.gcCycleInterval {
			vm.maybeCollect()
			vm.heap.clearDirty()
		}
	}
}

func (vm *VM) maybeCollect() {
	vm.dirtySinceGC = 0
	if sccs := vm.heap.DetectCycles(); len(sccs) > 0 && vm.cycleSink != nil {
		for _, scc := range sccs {
			vm.cycleSink(scc)
		}
	}
}

// exec dispatches a single instruction against frame f, returning
// whether f.PC should advance by one (control-flow opcodes manage
// f.PC themselves and return false).
func (vm *VM) exec(f *Frame, in Instr) (bool, error) {
	switch in.Op {
	case OpNop:
		return true, nil

	case OpMove:
		f.setReg(in.A, f.reg(in.B))
		return true, nil

	case OpLoadK:
		f.setReg(in.A, vm.prog.Constants[in.Bx])
		return true, nil

	case OpLoadNil:
		f.setReg(in.A, Nil())
		return true, nil

	case OpLoadNone:
		f.setReg(in.A, None())
		return true, nil

	case OpLoadBool:
		f.setReg(in.A, Bool(in.B != 0))
		return true, nil

	case OpGetGlobal:
		name := vm.prog.Constants[in.Bx].S
		v, ok := vm.globals[name]
		if !ok {
			return false, &Panic{PC: f.PC, Func: f.Func.Name, Message: "undefined global " + name}
		}
		f.setReg(in.A, v)
		return true, nil

	case OpSetGlobal:
		name := vm.prog.Constants[in.Bx].S
		vm.SetGlobal(name, f.reg(in.A))
		return true, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
		return vm.execArith(f, in)

	case OpAddInt, OpSubInt, OpMulInt, OpDivInt, OpModInt,
		OpAddFloat, OpSubFloat, OpMulFloat, OpDivFloat, OpModFloat:
		return vm.execArith(f, in)

	case OpAddImm, OpSubImm, OpMulImm, OpDivImm, OpModImm, OpAndImm, OpOrImm:
		return vm.execImm(f, in)

	case OpUnm:
		r, err := Neg(f.reg(in.B))
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, r)
		return true, nil

	case OpNot:
		f.setReg(in.A, Bool(!f.reg(in.B).Truthy()))
		return true, nil

	case OpAnd:
		a := f.reg(in.B)
		if !a.Truthy() {
			f.setReg(in.A, a)
		} else {
			f.setReg(in.A, f.reg(in.C))
		}
		return true, nil

	case OpOr:
		a := f.reg(in.B)
		if a.Truthy() {
			f.setReg(in.A, a)
		} else {
			f.setReg(in.A, f.reg(in.C))
		}
		return true, nil

	case OpIn:
		return vm.execIn(f, in, false)

	case OpNotIn:
		return vm.execIn(f, in, true)

	case OpEqStore, OpLtStore, OpLeStore, OpNeStore:
		return vm.execCompareStore(f, in)

	case OpCmpJmp:
		return vm.execCmpJmp(f, in)

	case OpTestTag:
		// Mirrors OpTest's skip-on-match convention: if R[A]'s Kind
		// equals B, skip the instruction that follows (typically a Jmp
		// to the "no match" path); otherwise fall into it.
		if f.reg(in.A).Kind == Kind(in.B) {
			f.PC += 2
		} else {
			f.PC++
		}
		return false, nil

	case OpGetIndex:
		return vm.execGetIndex(f, in)
	case OpSetIndex:
		return vm.execSetIndex(f, in)
	case OpSetIndexImm:
		return vm.execAppendIndex(f, in)
	case OpGetField:
		return vm.execGetField(f, in)
	case OpSetField:
		return vm.execSetField(f, in)

	case OpLen:
		return vm.execLen(f, in)
	case OpNewArray:
		id, err := vm.heap.AllocArray(0)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, ArrayHandle(id))
		return true, nil
	case OpNewTable:
		id, err := vm.heap.AllocTable(noDestructor)
		if err != nil {
			return false, vm.wrapPanic(f, err)
		}
		f.setReg(in.A, TableHandle(id))
		return true, nil

	case OpWrapSome:
		inner := f.reg(in.B)
		f.setReg(in.A, Some(inner))
		return true, nil
	case OpWrapOk:
		inner := f.reg(in.B)
		f.setReg(in.A, Ok(inner))
		return true, nil
	case OpWrapErr:
		inner := f.reg(in.B)
		f.setReg(in.A, ErrVal(inner))
		return true, nil
	case OpUnwrapOption, OpUnwrapResult:
		v := f.reg(in.B)
		if v.Inner == nil {
			return false, &Panic{PC: f.PC, Func: f.Func.Name, Message: "unwrap of empty option/result"}
		}
		f.setReg(in.A, *v.Inner)
		return true, nil

	case OpCast:
		return vm.execCast(f, in)

	case OpJmp:
		f.PC += 1 + int(in.SBx)
		return false, nil

	case OpTest:
		cond := f.reg(in.A).Truthy()
		if cond == (in.B != 0) {
			f.PC += 2
		} else {
			f.PC++
		}
		return false, nil

	case OpTestSet:
		cond := f.reg(in.B).Truthy()
		if cond == (in.C != 0) {
			f.setReg(in.A, f.reg(in.B))
			f.PC += 2
		} else {
			f.PC++
		}
		return false, nil

	case OpIntForPrep:
		return vm.execIntForPrep(f, in)
	case OpIntForLoop:
		return vm.execIntForLoop(f, in)
	case OpForPrep:
		return vm.execForPrep(f, in)
	case OpForLoop:
		return vm.execForLoop(f, in)

	case OpReturn:
		return vm.execReturn(f, in)

	case OpDeferPush:
		return vm.execDeferPush(f, in)

	case OpFusedAddAdd, OpFusedMulAdd, OpFusedSubSub, OpFusedSubMul,
		OpFusedMulSub, OpFusedDivAdd, OpFusedAddSub, OpFusedAddMul, OpFusedSubDiv:
		return vm.execFusedTriadic(f, in)

	case OpFieldIncr, OpGetAddSet, OpGetSubSet, OpGetMulSet, OpGetDivSet, OpGetModSet:
		return vm.execFusedFieldOp(f, in)

	case OpIncTestLt:
		return vm.execIncTestLt(f, in)

	case OpCallNative, OpCallBuiltin:
		return vm.execCallNative(f, in)
	case OpCallHost:
		return vm.execCallHost(f, in)
	case OpCallForeign:
		return false, &Panic{PC: f.PC, Func: f.Func.Name, Message: "foreign calls require a host-provided ABI shim (declarative metadata only in this core)"}

	case OpMakeClosure:
		return vm.execMakeClosure(f, in)

	case OpSpawn:
		return vm.execSpawn(f, in)
	case OpResume:
		return vm.execResume(f, in)
	case OpYield:
		return vm.execYield(f, in)
	case OpChannelNew:
		return vm.execChannelNew(f, in)
	case OpChannelSend:
		return vm.execChannelSend(f, in)
	case OpChannelRecv:
		return vm.execChannelRecv(f, in)

	case OpHalt:
		return false, nil

	default:
		return false, &Panic{PC: f.PC, Func: f.Func.Name, Message: fmt.Sprintf("unimplemented opcode %s", in.Op)}
	}
}

func (vm *VM) wrapPanic(f *Frame, err error) error {
	return &Panic{PC: f.PC, Func: f.Func.Name, Message: err.Error()}
}
