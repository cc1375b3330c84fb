package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/lexer"
	"github.com/quilllang/quill/pkg/parser"
)

func compile(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())
	c := New()
	chunk, err := c.Compile(prog)
	require.NoError(t, err)
	return chunk
}

func lastOp(chunk *bytecode.Chunk, fromEnd int) bytecode.Opcode {
	return chunk.Instructions[len(chunk.Instructions)-1-fromEnd].Op
}

func TestCompileIntegerLiteralEndsInHalt(t *testing.T) {
	chunk := compile(t, "42;")
	require.NotEmpty(t, chunk.Instructions)
	assert.Equal(t, bytecode.OpHalt, lastOp(chunk, 0))
	// 42 fits the CONST_INT8 fast path.
	assert.Equal(t, bytecode.OpConstInt8, chunk.Instructions[0].Op)
	assert.Equal(t, 42, chunk.Instructions[0].Operand)
}

func TestCompileLargeIntegerUsesConstantPool(t *testing.T) {
	chunk := compile(t, "100000;")
	assert.Equal(t, bytecode.OpConst, chunk.Instructions[0].Op)
	assert.Equal(t, int64(100000), chunk.Constants[chunk.Instructions[0].Operand])
}

func TestCompileStringLiteralAddsConstant(t *testing.T) {
	chunk := compile(t, `"hello";`)
	assert.Equal(t, bytecode.OpConst, chunk.Instructions[0].Op)
	assert.Equal(t, "hello", chunk.Constants[chunk.Instructions[0].Operand])
}

func TestCompileFunctionDeclRegistersForwardDeclaration(t *testing.T) {
	chunk := compile(t, "func add(a, b) { return a + b; }")
	fi, ok := chunk.Functions["add"]
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, fi.ParamNames)
}

func TestCompileCallEmitsCallOpcodeWithArgCount(t *testing.T) {
	chunk := compile(t, "func add(a, b) { return a + b; }\nadd(1, 2);")
	var sawCall bool
	for _, in := range chunk.Instructions {
		if in.Op == bytecode.OpCall {
			sawCall = true
			assert.Equal(t, 2, in.Operand)
		}
	}
	assert.True(t, sawCall, "expected a CALL instruction")
}

func TestCompileTailCallInReturnPosition(t *testing.T) {
	chunk := compile(t, "func loop(n) { return loop(n); }")
	var sawTailCall bool
	for _, in := range chunk.Instructions {
		if in.Op == bytecode.OpTailCall {
			sawTailCall = true
		}
	}
	assert.True(t, sawTailCall, "a self-call in tail position should compile to TAIL_CALL")
}

func TestCompileClassRegistersType(t *testing.T) {
	chunk := compile(t, "class Dog {\n\tfunc bark() { return 1; }\n}")
	td, ok := chunk.LookupType("Dog")
	require.True(t, ok)
	assert.Equal(t, bytecode.KindClass, td.Kind)
	_, ok = td.Methods.Get("bark")
	assert.True(t, ok)
}

func TestRecompileAppendsRatherThanResets(t *testing.T) {
	c := New()
	p1 := parser.New(lexer.New("var x = 1;"))
	prog1 := p1.ParseProgram()
	chunk, err := c.Compile(prog1)
	require.NoError(t, err)
	firstLen := len(chunk.Instructions)

	p2 := parser.New(lexer.New("var y = 2;"))
	prog2 := p2.ParseProgram()
	chunk2, err := c.Compile(prog2)
	require.NoError(t, err)

	assert.Greater(t, len(chunk2.Instructions), firstLen)
	assert.Same(t, chunk, chunk2, "Compile should keep emitting into the same chunk across calls")
}

func TestFusedAddLocalOpcodeOnlyEmittedForStaticallyIntLocal(t *testing.T) {
	intChunk := compile(t, "func f(n: int) { println(n + 1); }")
	var sawFusedInt bool
	for _, in := range intChunk.Instructions {
		if in.Op == bytecode.OpGetLocalAddInt {
			sawFusedInt = true
		}
	}
	assert.True(t, sawFusedInt, "an int-typed param added to an int8 literal should fuse to GetLocalAddInt")

	floatChunk := compile(t, "func f(n: float) { println(n + 1); }")
	for _, in := range floatChunk.Instructions {
		assert.NotEqual(t, bytecode.OpGetLocalAddInt, in.Op,
			"a float-typed local must never fuse into the int-only GetLocalAddInt opcode")
	}
}

func TestFusedLeLocalOpcodeOnlyEmittedForStaticallyIntLocal(t *testing.T) {
	chunk := compile(t, "func f(n: string) { if n <= 1 { println(n); } }")
	for _, in := range chunk.Instructions {
		assert.NotEqual(t, bytecode.OpGetLocalLeInt, in.Op,
			"a string-typed local must never fuse into the int-only GetLocalLeInt opcode")
	}
}

func TestAssignmentToConstIsACompileError(t *testing.T) {
	p := parser.New(lexer.New("const x = 1; x = 2;"))
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())
	c := New()
	_, err := c.Compile(prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constant")
}

func TestAssignmentToNonConstGlobalStillCompiles(t *testing.T) {
	chunk := compile(t, "var x = 1; x = 2;")
	var sawSet bool
	for _, in := range chunk.Instructions {
		if in.Op == bytecode.OpSetGlobal {
			sawSet = true
		}
	}
	assert.True(t, sawSet, "a plain var assignment should still emit SetGlobal")
}

func TestCompileErrorsDoNotLeakIntoNextCompile(t *testing.T) {
	c := New()
	c.errorf(ast.Position{Line: 1, Column: 1}, "synthetic error from a prior compile")
	require.Error(t, c.errs.ErrorOrNil())

	p := parser.New(lexer.New("1;"))
	prog := p.ParseProgram()
	_, err := c.Compile(prog)
	assert.NoError(t, err, "a prior unrelated compile error must not leak into the next Compile call")
}
