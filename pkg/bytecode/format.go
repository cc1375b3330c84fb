// Serialization and disassembly for .qlc bytecode files.
//
// Binary Format Layout:
//
//	[Header]
//	  Magic Number (4 bytes): "QUIL" (0x5155494C)
//	  Version (4 bytes): format version (currently 1)
//	  Flags (4 bytes): reserved
//
//	[Constants Section]
//	  Count (4 bytes)
//	  For each constant: Type (1 byte) + type-specific payload
//
//	[Instructions Section]
//	  Count (4 bytes)
//	  For each instruction: Opcode (1 byte) + Operand (8 bytes) + Line (4 bytes)
//
// This format is reserved (spec.md's Non-goals explicitly exclude a stable
// persisted bytecode format across versions). Encode accepts only Int,
// Float, String, Bool and Null constants and returns an error for any
// other constant (function entry points, closure descriptors, chars), so
// a program that declares a function cannot be written out.
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/xlab/treeprint"
)

const (
	MagicNumber   uint32 = 0x5155494C // "QUIL"
	FormatVersion uint32 = 1
	formatFlags   uint32 = 0
)

const (
	constTypeInt    byte = 0x01
	constTypeFloat  byte = 0x02
	constTypeString byte = 0x03
	constTypeBool   byte = 0x04
	constTypeNil    byte = 0x05
)

// Encode writes the chunk's constant pool and instruction stream to w.
// Type/method registries are not serialized (they are rebuilt from the
// annotated source on every run); this is sufficient for the
// compile/disassemble developer loop.
func Encode(w io.Writer, c *Chunk) error {
	if err := binary.Write(w, binary.BigEndian, MagicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, formatFlags); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(c.Constants))); err != nil {
		return err
	}
	for _, k := range c.Constants {
		if err := encodeConstant(w, k); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(c.Instructions))); err != nil {
		return err
	}
	for _, in := range c.Instructions {
		if err := binary.Write(w, binary.BigEndian, byte(in.Op)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, int64(in.Operand)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, int32(in.Line)); err != nil {
			return err
		}
	}
	return nil
}

func encodeConstant(w io.Writer, v interface{}) error {
	switch val := v.(type) {
	case int64:
		if err := writeByte(w, constTypeInt); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, val)
	case float64:
		if err := writeByte(w, constTypeFloat); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, val)
	case string:
		if err := writeByte(w, constTypeString); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(val))); err != nil {
			return err
		}
		_, err := io.WriteString(w, val)
		return err
	case bool:
		if err := writeByte(w, constTypeBool); err != nil {
			return err
		}
		b := byte(0)
		if val {
			b = 1
		}
		return writeByte(w, b)
	case nil:
		return writeByte(w, constTypeNil)
	default:
		return fmt.Errorf("bytecode: unsupported constant type %T", v)
	}
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// Decode reads a chunk previously written by Encode. Type/method
// registries are left empty; the only caller, `quill disassemble`, needs
// just code and constants. No command executes a decoded chunk.
func Decode(r io.Reader) (*Chunk, error) {
	var magic, version, flags uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("bytecode: bad magic number %#x", magic)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d", version)
	}
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return nil, err
	}

	c := NewChunk()

	var constCount uint32
	if err := binary.Read(r, binary.BigEndian, &constCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < constCount; i++ {
		v, err := decodeConstant(r)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}

	var instrCount uint32
	if err := binary.Read(r, binary.BigEndian, &instrCount); err != nil {
		return nil, err
	}
	for i := uint32(0); i < instrCount; i++ {
		var op byte
		var operand int64
		var line int32
		if err := binary.Read(r, binary.BigEndian, &op); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &operand); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &line); err != nil {
			return nil, err
		}
		c.Instructions = append(c.Instructions, Instruction{Op: Opcode(op), Operand: int(operand), Line: int(line)})
	}
	return c, nil
}

func decodeConstant(r io.Reader) (interface{}, error) {
	var t byte
	if err := binary.Read(r, binary.BigEndian, &t); err != nil {
		return nil, err
	}
	switch t {
	case constTypeInt:
		var v int64
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	case constTypeFloat:
		var v float64
		err := binary.Read(r, binary.BigEndian, &v)
		return v, err
	case constTypeString:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return string(buf), nil
	case constTypeBool:
		var b byte
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return nil, err
		}
		return b != 0, nil
	case constTypeNil:
		return nil, nil
	default:
		return nil, fmt.Errorf("bytecode: unknown constant tag %#x", t)
	}
}

// Disassemble renders a chunk's instructions, one per line, with the
// constant pool interpolated for readability.
func Disassemble(c *Chunk) string {
	out := ""
	for ip, in := range c.Instructions {
		out += fmt.Sprintf("%04d  L%-4d  %-20s %s\n", ip, in.Line, in.Op.String(), formatOperand(c, in))
	}
	return out
}

func formatOperand(c *Chunk, in Instruction) string {
	switch in.Op {
	case OpConst, OpGetGlobal, OpSetGlobal, OpCast, OpTypeCheck:
		if in.Operand >= 0 && in.Operand < len(c.Constants) {
			return fmt.Sprintf("%d ; %v", in.Operand, c.Constants[in.Operand])
		}
	case OpInvokeMethod, OpInvokeSuper, OpSafeInvokeMethod, OpNonNullInvokeMethod:
		nameIdx, argc := Unpack(in.Operand)
		if nameIdx >= 0 && nameIdx < len(c.Constants) {
			return fmt.Sprintf("%v/%d", c.Constants[nameIdx], argc)
		}
	case OpInvokeStatic, OpGetStatic:
		classIdx, memberIdx := Unpack(in.Operand)
		if classIdx < len(c.Constants) && memberIdx < len(c.Constants) {
			return fmt.Sprintf("%v.%v", c.Constants[classIdx], c.Constants[memberIdx])
		}
	}
	return fmt.Sprintf("%d", in.Operand)
}

// DisassembleTypeTree renders the chunk's class/struct/enum/interface/trait
// registry as a tree (parent links, methods, fields) via xlab/treeprint —
// the domain-stack wiring named in SPEC_FULL.md §2.1.
func DisassembleTypeTree(c *Chunk) string {
	root := treeprint.New()
	root.SetValue("types")
	c.Types.Iter(func(name string, td *TypeDef) bool {
		branch := root.AddBranch(fmt.Sprintf("%s (%s)", name, kindName(td.Kind)))
		if td.Parent != "" {
			branch.AddNode("extends " + td.Parent)
		}
		for _, iface := range td.Interfaces {
			branch.AddNode("implements " + iface)
		}
		fields := branch.AddBranch("fields")
		for _, f := range td.Fields {
			fields.AddNode(f.Name)
		}
		methods := branch.AddBranch("methods")
		if td.Methods != nil {
			td.Methods.Each(func(name string, fi FuncInfo) {
				methods.AddNode(name)
			})
		}
		return false
	})
	return root.String()
}

func kindName(k TypeKind) string {
	switch k {
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindInterface:
		return "interface"
	case KindTrait:
		return "trait"
	default:
		return "?"
	}
}
