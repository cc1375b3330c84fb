package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/lexer"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := New(lexer.New(src))
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors for %q: %v", src, p.Errors())
	return prog
}

func TestParsePackageAndImports(t *testing.T) {
	prog := parse(t, `package app.main
import std.errors.Exception
import std.collections.*
import std.testing.{assert, fail}

var x = 1;`)
	assert.Equal(t, "app.main", prog.Package)
	require.Len(t, prog.Imports, 3)
	assert.Equal(t, "std.errors", prog.Imports[0].Path)
	assert.Equal(t, "Exception", prog.Imports[0].Single)
	assert.True(t, prog.Imports[1].Wildcard)
	assert.Equal(t, []string{"assert", "fail"}, prog.Imports[2].Names)
}

func TestParseVarDeclWithTypeAndInit(t *testing.T) {
	prog := parse(t, `var count: int = 42;`)
	require.Len(t, prog.Statements, 1)
	decl := prog.Statements[0].(*ast.VariableDeclaration)
	assert.Equal(t, "count", decl.Name)
	assert.Equal(t, "int", decl.Type)
	lit, ok := decl.Value.(*ast.IntegerLiteral)
	require.True(t, ok)
	assert.Equal(t, "42", lit.Value)
}

func TestParseFunctionDecl(t *testing.T) {
	prog := parse(t, `func add(a: int, b: int) -> int { return a + b; }`)
	require.Len(t, prog.Statements, 1)
	fn := prog.Statements[0].(*ast.FunctionDecl)
	assert.Equal(t, "add", fn.Name)
	assert.Equal(t, "int", fn.ReturnType)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, "a", fn.Params[0].Name)
	require.Len(t, fn.Body.Statements, 1)
	ret := fn.Body.Statements[0].(*ast.Return)
	bin := ret.Value.(*ast.BinaryExpr)
	assert.Equal(t, "+", bin.Op)
}

func TestParseClassWithExtendsAndInterfaces(t *testing.T) {
	prog := parse(t, `class Dog extends Animal implements Runner {
		func bark() { return 1; }
	}`)
	cd := prog.Statements[0].(*ast.ClassDecl)
	assert.Equal(t, "Dog", cd.Name)
	assert.Equal(t, "Animal", cd.Parent)
	assert.Equal(t, []string{"Runner"}, cd.Interfaces)
	require.Len(t, cd.Methods, 1)
	assert.Equal(t, "bark", cd.Methods[0].Name)
}

func TestParseIfElse(t *testing.T) {
	prog := parse(t, `if x > 0 { y = 1; } else { y = 2; }`)
	stmt := prog.Statements[0].(*ast.If)
	require.NotNil(t, stmt.Else)
}

func TestParseForInAndForC(t *testing.T) {
	prog := parse(t, `for item in items { print(item); }`)
	forIn := prog.Statements[0].(*ast.ForIn)
	assert.Equal(t, "item", forIn.VarName)

	prog2 := parse(t, `for i := 0; i < 10; i = i + 1 { print(i); }`)
	forC := prog2.Statements[0].(*ast.ForC)
	require.NotNil(t, forC.Init)
	require.NotNil(t, forC.Condition)
	require.NotNil(t, forC.Post)
}

func TestParseTryCatchFinally(t *testing.T) {
	prog := parse(t, `try { risky(); } catch (e: RuntimeException) { handle(e); } finally { cleanup(); }`)
	tr := prog.Statements[0].(*ast.Try)
	require.Len(t, tr.Catches, 1)
	assert.Equal(t, "e", tr.Catches[0].Param)
	require.NotNil(t, tr.Finally)
}

func TestParseNamedArguments(t *testing.T) {
	prog := parse(t, `greet(name: "Ada", times: 2);`)
	exprStmt := prog.Statements[0].(*ast.ExpressionStatement)
	call := exprStmt.Expression.(*ast.Call)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "name", call.Args[0].Name)
	assert.Equal(t, "times", call.Args[1].Name)
}

func TestParseGoSpawn(t *testing.T) {
	prog := parse(t, `go worker(1);`)
	exprStmt := prog.Statements[0].(*ast.ExpressionStatement)
	spawn, ok := exprStmt.Expression.(*ast.GoSpawn)
	require.True(t, ok)
	assert.Equal(t, "worker", spawn.Call.Callee.(*ast.Identifier).Name)
}

func TestParseStringInterpolation(t *testing.T) {
	prog := parse(t, `var s = "hello ${name}!";`)
	decl := prog.Statements[0].(*ast.VariableDeclaration)
	str := decl.Value.(*ast.StringLiteral)
	require.Len(t, str.Parts, 3)
	assert.Equal(t, "hello ", str.Parts[0].Text)
	require.NotNil(t, str.Parts[1].Expr)
	assert.Equal(t, "!", str.Parts[2].Text)
}

func TestParseErrorRecordsMessage(t *testing.T) {
	p := New(lexer.New(`var = ;`))
	p.ParseProgram()
	assert.NotEmpty(t, p.Errors())
}
