package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	packed := Pack(1234, 56)
	hi, lo := Unpack(packed)
	assert.Equal(t, 1234, hi)
	assert.Equal(t, 56, lo)
}

func TestChunkEmitAndPatch(t *testing.T) {
	c := NewChunk()
	ip := c.Emit(OpJumpIfFalse, -1, 3)
	c.Emit(OpPushNull, 0, 3)
	target := len(c.Instructions)
	c.Patch(ip, target)
	assert.Equal(t, target, c.Instructions[ip].Operand)
}

func TestAddConstantReturnsStableIndex(t *testing.T) {
	c := NewChunk()
	i0 := c.AddConstant(int64(1))
	i1 := c.AddConstant("two")
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, int64(1), c.Constants[i0])
	assert.Equal(t, "two", c.Constants[i1])
}

func TestMethodTablePutGet(t *testing.T) {
	mt := NewMethodTable()
	mt.Put("bark", FuncInfo{Name: "bark", ConstIndex: 3})
	fi, ok := mt.Get("bark")
	require.True(t, ok)
	assert.Equal(t, 3, fi.ConstIndex)

	_, ok = mt.Get("missing")
	assert.False(t, ok)
}

func TestRegisterAndLookupType(t *testing.T) {
	c := NewChunk()
	td := &TypeDef{Name: "Dog", Kind: KindClass, Methods: NewMethodTable()}
	c.RegisterType("Dog", td)

	got, ok := c.LookupType("Dog")
	require.True(t, ok)
	assert.Equal(t, KindClass, got.Kind)

	_, ok = c.LookupType("Cat")
	assert.False(t, ok)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := NewChunk()
	c.AddConstant(int64(42))
	c.AddConstant(3.5)
	c.AddConstant("hi")
	c.AddConstant(true)
	c.AddConstant(nil)
	c.Emit(OpConst, 0, 1)
	c.Emit(OpConst, 1, 2)
	c.Emit(OpAdd, 0, 3)
	c.Emit(OpHalt, 0, 4)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, c))

	decoded, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, c.Constants, decoded.Constants)
	assert.Equal(t, c.Instructions, decoded.Instructions)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0})
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDisassembleIncludesOpcodeNames(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(int64(7))
	c.Emit(OpConst, idx, 1)
	c.Emit(OpHalt, 0, 2)

	out := Disassemble(c)
	assert.Contains(t, out, "CONST")
	assert.Contains(t, out, "HALT")
	assert.Contains(t, out, "7")
}

func TestDisassembleTypeTreeRendersHierarchy(t *testing.T) {
	c := NewChunk()
	methods := NewMethodTable()
	methods.Put("bark", FuncInfo{Name: "bark"})
	c.RegisterType("Animal", &TypeDef{Name: "Animal", Kind: KindClass, Methods: NewMethodTable()})
	c.RegisterType("Dog", &TypeDef{
		Name: "Dog", Kind: KindClass, Parent: "Animal",
		Interfaces: []string{"Runner"}, Methods: methods,
		Fields: []FieldInfo{{Name: "name", Index: 0, Default: -1}},
	})

	out := DisassembleTypeTree(c)
	assert.Contains(t, out, "Dog")
	assert.Contains(t, out, "extends Animal")
	assert.Contains(t, out, "implements Runner")
	assert.Contains(t, out, "bark")
}
