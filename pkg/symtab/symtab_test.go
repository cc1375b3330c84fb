package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineAndResolveLocal(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)

	sym := fn.Define("x")
	assert.Equal(t, ScopeLocal, sym.Scope)
	assert.Equal(t, 0, sym.Index)

	resolved, ok := fn.Resolve("x")
	require.True(t, ok)
	assert.Equal(t, sym, resolved)
}

func TestPushPopScopeFreesSlots(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)

	fn.Define("a")
	fn.PushScope()
	fn.Define("b")
	fn.Define("c")
	assert.Equal(t, 3, fn.MaxSlots())

	freed := fn.PopScope()
	assert.Equal(t, 2, freed)

	_, ok := fn.Resolve("b")
	assert.False(t, ok, "b should no longer resolve once its block has closed")

	// a's slot is still live in the outer (function) scope.
	_, ok = fn.Resolve("a")
	assert.True(t, ok)

	// A sibling block reuses the freed slot numbering.
	fn.PushScope()
	d := fn.Define("d")
	assert.Equal(t, 1, d.Index)
}

func TestResolveFallsBackToGlobals(t *testing.T) {
	tbl := NewGlobal()
	g := tbl.DefineGlobal("counter")
	assert.Equal(t, ScopeGlobal, g.Scope)

	fn := NewEnclosed(tbl)
	resolved, ok := fn.Resolve("counter")
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, resolved.Scope)
	assert.Equal(t, g.Index, resolved.Index)
}

func TestResolveCapturesFreeVariableFromEnclosingFunction(t *testing.T) {
	tbl := NewGlobal()
	outer := NewEnclosed(tbl)
	outer.Define("captured")

	inner := NewEnclosed(outer)
	sym, ok := inner.Resolve("captured")
	require.True(t, ok)
	assert.Equal(t, ScopeFree, sym.Scope)
	assert.Equal(t, 0, sym.Index)

	require.Len(t, inner.FreeSymbols(), 1)
	assert.Equal(t, "captured", inner.FreeSymbols()[0].Name)

	// Resolving the same free variable again reuses the same upvalue slot.
	sym2, _ := inner.Resolve("captured")
	assert.Equal(t, sym.Index, sym2.Index)
	assert.Len(t, inner.FreeSymbols(), 1)
}

func TestDefineTypedRecordsTypeTagAndConstness(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)

	sym := fn.DefineTyped("n", TypeInt, true)
	assert.Equal(t, TypeInt, sym.TypeTag)
	assert.True(t, sym.IsConst)

	resolved, ok := fn.Resolve("n")
	require.True(t, ok)
	assert.Equal(t, TypeInt, resolved.TypeTag)
	assert.True(t, resolved.IsConst)
}

func TestPlainDefineLeavesTypeTagUnknownAndNotConst(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)
	sym := fn.Define("x")
	assert.Equal(t, TypeUnknown, sym.TypeTag)
	assert.False(t, sym.IsConst)
}

func TestDefineGlobalTypedRecordsTypeTagAndConstness(t *testing.T) {
	tbl := NewGlobal()
	sym := tbl.DefineGlobalTyped("MAX", TypeInt, true)
	assert.Equal(t, TypeInt, sym.TypeTag)
	assert.True(t, sym.IsConst)

	fn := NewEnclosed(tbl)
	resolved, ok := fn.Resolve("MAX")
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, resolved.Scope)
	assert.True(t, resolved.IsConst)
}

func TestCapturedFreeVariableKeepsConstnessFromEnclosingFunction(t *testing.T) {
	tbl := NewGlobal()
	outer := NewEnclosed(tbl)
	outer.DefineTyped("limit", TypeInt, true)

	inner := NewEnclosed(outer)
	sym, ok := inner.Resolve("limit")
	require.True(t, ok)
	assert.Equal(t, ScopeFree, sym.Scope)
	assert.True(t, sym.IsConst, "a captured const upvalue should still report const")
}

func TestUndefinedNameDoesNotResolve(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)
	_, ok := fn.Resolve("nope")
	assert.False(t, ok)
}

func TestDepthTracksOpenBlocks(t *testing.T) {
	tbl := NewGlobal()
	fn := NewEnclosed(tbl)
	assert.Equal(t, 1, fn.Depth()) // NewEnclosed opens the function's own scope

	fn.PushScope()
	assert.Equal(t, 2, fn.Depth())
	fn.PopScope()
	assert.Equal(t, 1, fn.Depth())
}
