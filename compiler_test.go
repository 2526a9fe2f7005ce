package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMangleNameIncludesParamTypesForOverloads(t *testing.T) {
	assert.Equal(t, "add", MangleName("add", nil))
	assert.Equal(t, "add#int,int", MangleName("add", []TypeRef{intType, intType}))
	assert.Equal(t, "add#float", MangleName("add", []TypeRef{{Name: "float"}}))
}

func TestRegAllocReusesFreedRegisters(t *testing.T) {
	r := &regAlloc{}
	a := r.alloc()
	b := r.alloc()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.max)

	r.release(a)
	c := r.alloc() // should reuse a's slot rather than growing max
	assert.Equal(t, a, c)
	assert.Equal(t, 2, r.max)
}

func TestCompileForwardReferenceBetweenFunctions(t *testing.T) {
	// main calls "helper" which is declared after it in Funcs; the
	// two-pass Compile (pre-register stubs, then lower bodies) must
	// resolve this without error.
	helper := FuncDef{
		Name: "helper", Return: intType,
		Body: &Block{Stmts: []Node{&ReturnStmt{Value: &Literal{Value: Int(99)}}}},
	}
	main := FuncDef{
		Name: "main", Return: intType,
		Body: &Block{Stmts: []Node{&ReturnStmt{Value: &Call{
			Callee: MangleName("helper", nil),
		}}}},
	}
	mod := &Module{Funcs: []FuncDef{main, helper}}

	prog, err := Compile(mod)
	require.NoError(t, err)

	vm := NewVM(prog, 64)
	result, err := vm.Call(prog.Functions[prog.FuncIndex["main"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Int(99), result)
}

func TestCompileRejectsCallToUndeclaredFunction(t *testing.T) {
	main := FuncDef{
		Name: "main", Return: intType,
		Body: &Block{Stmts: []Node{&ReturnStmt{Value: &Call{Callee: "nonexistent"}}}},
	}
	mod := &Module{Funcs: []FuncDef{main}}

	_, err := Compile(mod)
	require.Error(t, err)
}

func TestFuseTriadicCollapsesAddAddPair(t *testing.T) {
	// A hand-built add;add pair sharing the first's destination as the
	// second's left operand is the exact shape fuseTriadic looks for.
	code := []Instr{
		{Op: OpAdd, Format: FormatABC, A: 2, B: 0, C: 1},
		{Op: OpAdd, Format: FormatABC, A: 2, B: 2, C: 3},
	}
	fuseRange(code, 0, len(code))
	assert.Equal(t, OpFusedAddAdd, code[0].Op)
	assert.Equal(t, OpNop, code[1].Op)
}

func TestFuseProgramLeavesUnmatchedCodeAlone(t *testing.T) {
	code := []Instr{
		{Op: OpAdd, Format: FormatABC, A: 2, B: 0, C: 1},
		{Op: OpMove, Format: FormatABC, A: 3, B: 2},
	}
	fuseRange(code, 0, len(code))
	assert.Equal(t, OpAdd, code[0].Op)
	assert.Equal(t, OpMove, code[1].Op)
}
