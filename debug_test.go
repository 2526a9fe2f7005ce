package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointPausesDispatchLoop(t *testing.T) {
	prog, err := Compile(buildAddModule())
	require.NoError(t, err)
	vm := NewVM(prog, 64)

	mainFD := prog.Functions[prog.FuncIndex["main"]]
	vm.SetBreakpoint(mainFD.EntryPC)

	result, err := vm.Call(mainFD, nil)
	require.NoError(t, err)
	// Paused before a single instruction ran: no return value was ever
	// computed, so Call reports whatever lastReturn happened to be
	// (the zero Value) rather than the real 7.
	assert.NotEqual(t, Int(7), result)
	assert.Equal(t, mainFD.EntryPC, vm.CurrentPC())
	assert.Contains(t, vm.Breakpoints(), mainFD.EntryPC)

	vm.ClearBreakpoint(mainFD.EntryPC)
	assert.NotContains(t, vm.Breakpoints(), mainFD.EntryPC)
}

func TestInstructionCallbackCanAbort(t *testing.T) {
	prog, err := Compile(buildAddModule())
	require.NoError(t, err)
	vm := NewVM(prog, 64)

	vm.SetInstructionCallback(func(vm *VM, f *Frame, in Instr) StepAction {
		return StepAbort
	})

	mainFD := prog.Functions[prog.FuncIndex["main"]]
	_, err = vm.Call(mainFD, nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*Panic))
}

func TestInstructionCallbackCounterRunsToCompletion(t *testing.T) {
	prog, err := Compile(buildAddModule())
	require.NoError(t, err)
	vm := NewVM(prog, 64)

	var seen int
	vm.SetInstructionCallback(func(vm *VM, f *Frame, in Instr) StepAction {
		seen++
		return StepContinue
	})

	mainFD := prog.Functions[prog.FuncIndex["main"]]
	result, err := vm.Call(mainFD, nil)
	require.NoError(t, err)
	assert.Equal(t, Int(7), result)
	assert.Greater(t, seen, 0)
	assert.Equal(t, int64(seen), vm.InstructionCount())
}

func TestInspectionAccessorsOnIdleVM(t *testing.T) {
	assert.Equal(t, -1, (&VM{}).CurrentPC())
	assert.Equal(t, "", (&VM{}).CurrentFunc())
	assert.Equal(t, 0, (&VM{}).RegisterCount())

	_, ok := (&VM{}).ReadRegister(0)
	assert.False(t, ok)
}
