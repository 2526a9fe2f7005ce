package etch

import "fmt"

// CoroState is the lifecycle state of a Coroutine (spec §3.5).
type CoroState uint8

const (
	CoroSuspended CoroState = iota
	CoroRunning
	CoroBlocked // parked on a full/empty channel operation
	CoroDead
)

func (s CoroState) String() string {
	switch s {
	case CoroSuspended:
		return "suspended"
	case CoroRunning:
		return "running"
	case CoroBlocked:
		return "blocked"
	case CoroDead:
		return "dead"
	default:
		return "?"
	}
}

// Coroutine is a stackless cooperative continuation (spec §3.5,
// §4.7): a saved call-frame chain plus the state needed to resume it
// where it last yielded. Etch has no OS threads; coroutines are
// scheduled entirely by explicit Resume calls from bytecode or the
// embedding host (spec §5 "single-threaded cooperative").
type Coroutine struct {
	id    int
	State CoroState
	frame *Frame // saved continuation; nil once dead

	lastYielded Value
	finalResult Value

	// BlockedOn is the channel slot id this coroutine is parked on,
	// valid only when State == CoroBlocked.
	BlockedOn   int
	BlockedSend bool // true = parked sending, false = parked receiving
	pendingSend Value
}

// execSpawn creates a new coroutine bound to the called function and
// its arguments, in the Suspended state, without running it (spec
// §4.7 "spawn" evaluates to a coroutine handle; first Resume starts
// it).
func (vm *VM) execSpawn(f *Frame, in Instr) (bool, error) {
	fd := vm.prog.Functions[in.FuncIdx]
	args := make([]Value, in.NumArgs)
	for i := range args {
		args[i] = f.reg(in.A + uint8(i))
	}
	callee := newFrame(nil, fd)
	copy(callee.Regs, args)

	// A coroutine handle is backed by a real heap slot (reusing the
	// closure shape: function index + captured starting arguments) so
	// Heap.Retain/Release's refcounting applies to it like any other
	// strong handle (spec §3.1 KindCoroutine payload).
	slotID, err := vm.heap.AllocClosure(int(in.FuncIdx), args)
	if err != nil {
		return false, vm.wrapPanic(f, err)
	}
	coro := &Coroutine{id: slotID, State: CoroSuspended, frame: callee}
	callee.CoroSelf = coro
	vm.coros[slotID] = coro

	f.setReg(in.A, CoroHandle(slotID))
	return true, nil
}

// ReleaseCoroutine implements DestructorRunner's coroutine cleanup
// path (spec §5 "Cancellation"): its pending defers are drained
// directly, outside the normal resume/loopUntil path, since its saved
// continuation is being discarded rather than completed. The
// coroutine is then marked dead regardless of outcome.
func (vm *VM) ReleaseCoroutine(slotID int) error {
	coro := vm.coros[slotID]
	if coro == nil || coro.State == CoroDead {
		return nil
	}
	if len(coro.frame.Defers) > 0 {
		for i := len(coro.frame.Defers) - 1; i >= 0; i-- {
			d := coro.frame.Defers[i]
			fd := vm.prog.Functions[d.FuncIdx]
			if _, err := vm.Call(fd, d.Args); err != nil {
				coro.State = CoroDead
				return err
			}
		}
		coro.frame.Defers = nil
	}
	coro.State = CoroDead
	return nil
}

// execResume transfers control to a suspended coroutine, running it
// until it yields, returns, blocks, or panics (spec §4.7 "resume").
// A = coroutine handle register (reused as the result register); args
// are already laid out at A+1.. by compiler_lower.go's lowerResume.
func (vm *VM) execResume(f *Frame, in Instr) (bool, error) {
	handle := f.reg(in.A)
	if handle.Kind != KindCoroutine {
		return false, vm.wrapPanic(f, fmt.Errorf("%w: resume requires a coroutine", ErrTypeMismatch))
	}
	coro := vm.coros[handle.SlotID()]
	if coro == nil {
		return false, vm.wrapPanic(f, fmt.Errorf("etch: resume of an unknown coroutine"))
	}
	if coro.State == CoroDead {
		// Spec §5 "Cancellation": resume of a dead coroutine is a
		// no-op returning its last return value.
		f.setReg(in.A, Some(coro.finalResult))
		return true, nil
	}
	if coro.State == CoroRunning {
		return false, vm.wrapPanic(f, fmt.Errorf("etch: coroutine is already running"))
	}

	args := make([]Value, in.NumArgs)
	for i := range args {
		args[i] = f.reg(in.A + 1 + uint8(i))
	}
	if coro.State == CoroSuspended && coro.frame.PC == coro.frame.Func.EntryPC {
		copy(coro.frame.Regs, args)
	}

	coro.State = CoroRunning
	prevTop := vm.top
	vm.top = coro.frame
	err := vm.loopUntil(prevTop)
	vm.top = prevTop
	if err != nil {
		coro.State = CoroDead
		return false, err
	}

	if coro.State == CoroRunning {
		coro.State = CoroDead
		coro.finalResult = vm.lastReturn
		f.setReg(in.A, Some(coro.finalResult))
	} else {
		f.setReg(in.A, Some(coro.lastYielded))
	}
	return true, nil
}

// execYield suspends the current coroutine, stashing its value for
// the resumer and unwinding loopUntil back to the Resume call site
// (spec §4.7 "yield").
func (vm *VM) execYield(f *Frame, in Instr) (bool, error) {
	coro := f.CoroSelf
	if coro == nil {
		return false, vm.wrapPanic(f, fmt.Errorf("etch: yield outside a coroutine"))
	}
	coro.lastYielded = f.reg(in.B)
	coro.State = CoroSuspended
	f.PC++ // resume continues just past the yield on next Resume
	vm.pendingYield = true
	return false, nil
}
