package etch

import "fmt"

// Options configures a Context at creation (spec §4.6 "Context
// lifecycle"). A zero Options is valid: GCCycleInterval of 0 means
// "use the default".
type Options struct {
	Verbose bool
	Debug   bool

	// GCCycleInterval is how many dirty-object mutations accumulate
	// before a cycle-detection pass runs; 0 means VM's built-in
	// default (see NewVM's gcCycleInterval).
	GCCycleInterval int
}

// Context owns one Program plus one VM and is the unit the host
// driver (cmd/etch) creates, runs, and destroys (spec §4.6). It
// generalizes the teacher's flavorCompiler + matcher pairing: where
// the teacher wires a grammar compiler to a single backtracking
// matcher, Context wires Compile's bytecode output to a register VM.
type Context struct {
	opts Options
	prog *Program
	vm   *VM

	gcBudgetMicros  int64
	gcBudgetSpent   int64
}

// NewContext creates an empty Context; Compile or Load must run
// before Execute/Call.
func NewContext(opts Options) *Context {
	return &Context{opts: opts}
}

// Compile lowers mod's typed AST to bytecode and readies a fresh VM
// over it (spec §4.6 "Compile"). heapCapacity sizes the backing heap
// (spec §4.1).
func (ctx *Context) Compile(mod *Module, heapCapacity int) error {
	prog, err := Compile(mod)
	if err != nil {
		return err
	}
	ctx.load(prog, heapCapacity)
	return nil
}

// Load installs an already-serialized Program (spec §6.1), e.g. one
// produced by a prior Compile + EncodeProgram round trip.
func (ctx *Context) Load(data []byte, heapCapacity int) error {
	prog, err := DecodeProgram(data)
	if err != nil {
		return &LoadError{Err: err}
	}
	ctx.load(prog, heapCapacity)
	return nil
}

func (ctx *Context) load(prog *Program, heapCapacity int) {
	ctx.prog = prog
	ctx.vm = NewVM(prog, heapCapacity)
	if ctx.opts.GCCycleInterval > 0 {
		ctx.vm.gcCycleInterval = ctx.opts.GCCycleInterval
	}
}

// Execute runs the program from its entry point and reports an exit
// code (spec §4.6 "Execute"): 0 on a successful run, 1 on a Panic or
// other runtime error.
func (ctx *Context) Execute() (int, error) {
	if ctx.vm == nil {
		return 1, fmt.Errorf("etch: context has no loaded program")
	}
	if _, err := ctx.vm.Run(); err != nil {
		return 1, err
	}
	return 0, nil
}

// Call invokes the named function with args and returns its result
// (spec §4.6 "Call").
func (ctx *Context) Call(name string, args []Value) (Value, error) {
	if ctx.vm == nil {
		return Value{}, fmt.Errorf("etch: context has no loaded program")
	}
	idx, ok := ctx.prog.FuncIndex[name]
	if !ok {
		return Value{}, fmt.Errorf("etch: no such function %q", name)
	}
	return ctx.vm.Call(ctx.prog.Functions[idx], args)
}

// Global reads a global by name (spec §4.6 "Global variables").
func (ctx *Context) Global(name string) (Value, bool) {
	v, ok := ctx.vm.globals[name]
	return v, ok
}

// SetGlobal writes a global by name, retaining/releasing heap handles
// as the old and new values require.
func (ctx *Context) SetGlobal(name string, v Value) {
	ctx.vm.SetGlobal(name, v)
}

// GlobalExists reports whether name has been assigned.
func (ctx *Context) GlobalExists(name string) bool {
	_, ok := ctx.vm.globals[name]
	return ok
}

// RegisterHost binds name to fn so "kind: host" function-table entries
// calling it resolve at runtime (spec §4.6 "Host function
// registration"). Panics from fn are recovered and turned into a
// returned error rather than unwinding into the VM's dispatch loop;
// execCallHost then converts that error into a HostError diagnostic and
// a nil result (spec §7.5), never a propagating VM error.
func (ctx *Context) RegisterHost(name string, fn HostFunc) {
	ctx.vm.RegisterHost(name, func(vm *VM, args []Value) (v Value, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("host function %q panicked: %v", name, r)
			}
		}()
		return fn(vm, args)
	})
}

// SetInstructionCallback installs a per-instruction hook (spec §4.6
// "Instruction callback").
func (ctx *Context) SetInstructionCallback(cb InstrCallback) {
	ctx.vm.SetInstructionCallback(cb)
}

// SetCycleDiagnosticSink installs a callback notified with each
// reference-cycle SCC the VM's periodic cycle detection finds (spec
// §4.3, SUPPLEMENTED FEATURES in SPEC_FULL.md). The VM reports these
// cycles; it does not free them.
func (ctx *Context) SetCycleDiagnosticSink(sink DiagnosticSink) {
	ctx.vm.SetCycleDiagnosticSink(sink)
}

// SetHostErrorSink installs a callback notified whenever a registered
// host function returns an error (spec §7.5): the call itself resolves
// to a nil result and execution continues rather than aborting.
func (ctx *Context) SetHostErrorSink(sink func(*HostError)) {
	ctx.vm.SetHostErrorSink(sink)
}

// --- VM inspection (spec §4.6 "mandatory for debugger support") ---

func (ctx *Context) CurrentPC() int        { return ctx.vm.CurrentPC() }
func (ctx *Context) CurrentFunc() string   { return ctx.vm.CurrentFunc() }
func (ctx *Context) StackDepth() int       { return ctx.vm.StackDepth() }
func (ctx *Context) RegisterCount() int    { return ctx.vm.RegisterCount() }
func (ctx *Context) InstructionCount() int64 { return ctx.vm.InstructionCount() }

// ReadRegister reads register i of the active frame.
func (ctx *Context) ReadRegister(i uint8) (Value, bool) {
	return ctx.vm.ReadRegister(i)
}

// SetBreakpoint and ClearBreakpoint manage the breakpoint set a debug
// driver steps against via the instruction callback.
func (ctx *Context) SetBreakpoint(pc int)   { ctx.vm.SetBreakpoint(pc) }
func (ctx *Context) ClearBreakpoint(pc int) { ctx.vm.ClearBreakpoint(pc) }

// SetGCFrameBudget records a per-frame microsecond budget (spec §4.6
// "Frame budget for GC") and resets the spent amount. The budget is
// only reported back by GCBudgetRemaining; the VM's cycle detection
// does not consult it and runs purely on the dirty-object threshold.
func (ctx *Context) SetGCFrameBudget(micros int64) {
	ctx.gcBudgetMicros = micros
	ctx.gcBudgetSpent = 0
}

// GCBudgetRemaining reports how much of the declared frame budget is
// left, or 0 if no budget was set.
func (ctx *Context) GCBudgetRemaining() int64 {
	if ctx.gcBudgetMicros <= 0 {
		return 0
	}
	remaining := ctx.gcBudgetMicros - ctx.gcBudgetSpent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DirtyObjectCount reports how many heap objects have been mutated
// since the last cycle-detection pass, the signal the host can poll to
// decide whether a dedicated GC frame is worth scheduling.
func (ctx *Context) DirtyObjectCount() int {
	return ctx.vm.dirtySinceGC
}

// RecommendGCFrame reports whether dirty objects have crossed the
// threshold the VM uses to trigger cycle detection on its own
// (spec §4.6 "ask whether a dedicated GC frame is recommended").
func (ctx *Context) RecommendGCFrame() bool {
	return ctx.vm.dirtySinceGC >= ctx.vm.gcCycleInterval
}
