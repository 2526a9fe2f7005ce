package etch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intType = TypeRef{Name: "int", ID: TypeID("int")}

func buildAddModule() *Module {
	add := FuncDef{
		Name:   "add",
		Params: []string{"a", "b"},
		ParamT: []TypeRef{intType, intType},
		Return: intType,
		Body: &Block{Stmts: []Node{
			&ReturnStmt{Value: &BinaryExpr{
				Op:    OpBinAdd,
				Left:  &Name{Ident: "a"},
				Right: &Name{Ident: "b"},
			}},
		}},
	}
	main := FuncDef{
		Name:   "main",
		Return: intType,
		Body: &Block{Stmts: []Node{
			&ReturnStmt{Value: &Call{
				Callee: MangleName("add", add.ParamT),
				Args:   []Node{&Literal{Value: Int(3)}, &Literal{Value: Int(4)}},
			}},
		}},
	}
	return &Module{Funcs: []FuncDef{add, main}}
}

func TestCompileAndRunSimpleCall(t *testing.T) {
	mod := buildAddModule()
	prog, err := Compile(mod)
	require.NoError(t, err)

	vm := NewVM(prog, 256)
	fd, ok := prog.FuncIndex["main"]
	require.True(t, ok)

	result, err := vm.Call(prog.Functions[fd], nil)
	require.NoError(t, err)
	assert.Equal(t, Int(7), result)
}

func TestForwardAndMutualRecursiveCalls(t *testing.T) {
	isEven := FuncDef{
		Name:   "isEven",
		Params: []string{"n"},
		ParamT: []TypeRef{intType},
		Return: TypeRef{Name: "bool", ID: TypeID("bool")},
		Body: &Block{Stmts: []Node{
			&If{
				Cond: &BinaryExpr{Op: OpBinEq, Left: &Name{Ident: "n"}, Right: &Literal{Value: Int(0)}},
				Then: &Block{Stmts: []Node{&ReturnStmt{Value: &Literal{Value: Bool(true)}}}},
				Else: &Block{Stmts: []Node{&ReturnStmt{Value: &Call{
					Callee: MangleName("isOdd", []TypeRef{intType}),
					Args:   []Node{&BinaryExpr{Op: OpBinSub, Left: &Name{Ident: "n"}, Right: &Literal{Value: Int(1)}}},
				}}}},
			},
		}},
	}
	isOdd := FuncDef{
		Name:   "isOdd",
		Params: []string{"n"},
		ParamT: []TypeRef{intType},
		Return: TypeRef{Name: "bool", ID: TypeID("bool")},
		Body: &Block{Stmts: []Node{
			&If{
				Cond: &BinaryExpr{Op: OpBinEq, Left: &Name{Ident: "n"}, Right: &Literal{Value: Int(0)}},
				Then: &Block{Stmts: []Node{&ReturnStmt{Value: &Literal{Value: Bool(false)}}}},
				Else: &Block{Stmts: []Node{&ReturnStmt{Value: &Call{
					Callee: MangleName("isEven", []TypeRef{intType}),
					Args:   []Node{&BinaryExpr{Op: OpBinSub, Left: &Name{Ident: "n"}, Right: &Literal{Value: Int(1)}}},
				}}}},
			},
		}},
	}
	mod := &Module{Funcs: []FuncDef{isEven, isOdd}}

	prog, err := Compile(mod)
	require.NoError(t, err)
	vm := NewVM(prog, 256)

	fd := prog.Functions[prog.FuncIndex[MangleName("isEven", []TypeRef{intType})]]
	result, err := vm.Call(fd, []Value{Int(4)})
	require.NoError(t, err)
	assert.Equal(t, Bool(true), result)
}

func TestArrayPushAndIndex(t *testing.T) {
	main := FuncDef{
		Name:   "main",
		Return: intType,
		Body: &Block{Stmts: []Node{
			&Let{Name: "arr", Expr: &ArrayLit{Elems: []Node{
				&Literal{Value: Int(1)}, &Literal{Value: Int(2)}, &Literal{Value: Int(3)},
			}}},
			&ReturnStmt{Value: &Index{Base: &Name{Ident: "arr"}, Key: &Literal{Value: Int(1)}}},
		}},
	}
	mod := &Module{Funcs: []FuncDef{main}}
	prog, err := Compile(mod)
	require.NoError(t, err)

	vm := NewVM(prog, 256)
	result, err := vm.Call(prog.Functions[prog.FuncIndex["main"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Int(2), result)
}

func TestMembershipOperatorInAndNotIn(t *testing.T) {
	main := FuncDef{
		Name:   "main",
		Return: TypeRef{Name: "bool", ID: TypeID("bool")},
		Body: &Block{Stmts: []Node{
			&Let{Name: "arr", Expr: &ArrayLit{Elems: []Node{
				&Literal{Value: Int(1)}, &Literal{Value: Int(2)}, &Literal{Value: Int(3)},
			}}},
			&ReturnStmt{Value: &BinaryExpr{
				Op:   OpBinAnd,
				Left: &BinaryExpr{Op: OpBinIn, Left: &Literal{Value: Int(2)}, Right: &Name{Ident: "arr"}},
				Right: &BinaryExpr{
					Op:    OpBinNotIn,
					Left:  &Literal{Value: Int(9)},
					Right: &Name{Ident: "arr"},
				},
			}},
		}},
	}
	mod := &Module{Funcs: []FuncDef{main}}
	prog, err := Compile(mod)
	require.NoError(t, err)

	vm := NewVM(prog, 256)
	result, err := vm.Call(prog.Functions[prog.FuncIndex["main"]], nil)
	require.NoError(t, err)
	assert.Equal(t, Bool(true), result)
}
