package etch

// StepAction is returned by an InstrCallback (vm.go) to tell the
// dispatch loop how to proceed after observing an instruction, the
// same three-way hook shape the teacher's vmgen flavor callback uses
// around its own instruction dispatch.
type StepAction uint8

const (
	// StepContinue lets the instruction execute normally.
	StepContinue StepAction = iota
	// StepAbort stops execution immediately with a Panic.
	StepAbort
	// StepPause stops the dispatch loop without error, leaving the VM
	// positioned at the current frame and PC: VM.Call returns and the
	// paused frame stays active for CurrentPC, ReadRegister and
	// StackDepth. No call in this package continues a paused frame.
	StepPause
)

func (a StepAction) String() string {
	switch a {
	case StepContinue:
		return "continue"
	case StepAbort:
		return "abort"
	case StepPause:
		return "pause"
	default:
		return "?"
	}
}

// SetBreakpoint arms a pause at PC: the next time the dispatch loop
// reaches that instruction, loopUntil returns as if an InstrCallback
// had returned StepPause. When a callback is set, it is still invoked
// there and its returned action decides instead.
func (vm *VM) SetBreakpoint(pc int) {
	vm.breakpoints[pc] = true
}

// ClearBreakpoint disarms a previously set breakpoint.
func (vm *VM) ClearBreakpoint(pc int) {
	delete(vm.breakpoints, pc)
}

// Breakpoints reports the currently armed breakpoint PCs.
func (vm *VM) Breakpoints() []int {
	pcs := make([]int, 0, len(vm.breakpoints))
	for pc := range vm.breakpoints {
		pcs = append(pcs, pc)
	}
	return pcs
}

// InstructionCount reports how many instructions have been dispatched
// since the VM was created, for host-side step budgets and tracing.
func (vm *VM) InstructionCount() int64 {
	return vm.instrCount
}

// CurrentPC reports the active frame's program counter, or -1 if the
// VM is idle between calls.
func (vm *VM) CurrentPC() int {
	if vm.top == nil {
		return -1
	}
	return vm.top.PC
}

// CurrentFunc reports the active frame's function name, or "" if the
// VM is idle between calls.
func (vm *VM) CurrentFunc() string {
	if vm.top == nil {
		return ""
	}
	return vm.top.Func.Name
}

// StackDepth reports the number of frames on the call stack the
// active frame is part of.
func (vm *VM) StackDepth() int {
	n := 0
	for f := vm.top; f != nil; f = f.Caller {
		n++
	}
	return n
}

// ReadRegister inspects register i of the active frame, for a debug
// callback or embedding host introspecting paused state.
func (vm *VM) ReadRegister(i uint8) (Value, bool) {
	if vm.top == nil || int(i) >= len(vm.top.Regs) {
		return Value{}, false
	}
	return vm.top.Regs[i], true
}

// RegisterCount reports how many registers the active frame has.
func (vm *VM) RegisterCount() int {
	if vm.top == nil {
		return 0
	}
	return len(vm.top.Regs)
}
