package vm

import (
	"fmt"
	"math"
	"time"

	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/value"
)

// addValues implements Add, which is overloaded across numbers and strings
// (string concatenation), unlike the other arithmetic ops.
func addValues(a, b interface{}) interface{} {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x + y
		case float64:
			return float64(x) + y
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return x + float64(y)
		case float64:
			return x + y
		}
	case string:
		return x + value.ToString(b)
	}
	return fmt.Sprintf("%v%v", a, b)
}

// arith implements Sub/Mul/Div/Mod/Pow, promoting int64 to float64 when
// either operand is a float.
func arith(op bytecode.Opcode, a, b interface{}) (interface{}, error) {
	af, aIsFloat := a.(float64)
	bf, bIsFloat := b.(float64)
	ai, aIsInt := a.(int64)
	bi, bIsInt := b.(int64)

	if !aIsFloat && !aIsInt {
		return nil, fmt.Errorf("cannot apply %s to %s", op, value.TypeName(a))
	}
	if !bIsFloat && !bIsInt {
		return nil, fmt.Errorf("cannot apply %s to %s", op, value.TypeName(b))
	}

	if aIsInt && bIsInt {
		switch op {
		case bytecode.OpSub:
			return ai - bi, nil
		case bytecode.OpMul:
			return ai * bi, nil
		case bytecode.OpDiv:
			if bi == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return ai / bi, nil
		case bytecode.OpMod:
			if bi == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			return ai % bi, nil
		case bytecode.OpPow:
			return int64(math.Pow(float64(ai), float64(bi))), nil
		}
	}

	if !aIsFloat {
		af = float64(ai)
	}
	if !bIsFloat {
		bf = float64(bi)
	}
	switch op {
	case bytecode.OpSub:
		return af - bf, nil
	case bytecode.OpMul:
		return af * bf, nil
	case bytecode.OpDiv:
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	case bytecode.OpMod:
		return math.Mod(af, bf), nil
	case bytecode.OpPow:
		return math.Pow(af, bf), nil
	}
	return nil, fmt.Errorf("unsupported arithmetic opcode %s", op)
}

// compare implements Lt/Le/Gt/Ge across numbers and strings.
func compare(op bytecode.Opcode, a, b interface{}) (interface{}, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare String to %s", value.TypeName(b))
		}
		switch op {
		case bytecode.OpLt:
			return as < bs, nil
		case bytecode.OpLe:
			return as <= bs, nil
		case bytecode.OpGt:
			return as > bs, nil
		case bytecode.OpGe:
			return as >= bs, nil
		}
	}

	af, err := toFloat(a)
	if err != nil {
		return nil, err
	}
	bf, err := toFloat(b)
	if err != nil {
		return nil, err
	}
	switch op {
	case bytecode.OpLt:
		return af < bf, nil
	case bytecode.OpLe:
		return af <= bf, nil
	case bytecode.OpGt:
		return af > bf, nil
	case bytecode.OpGe:
		return af >= bf, nil
	}
	return nil, fmt.Errorf("unsupported comparison opcode %s", op)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("cannot compare %s", value.TypeName(v))
	}
}

// getIndex implements GetIndex for arrays, maps, and strings.
func getIndex(target, idx interface{}) (interface{}, error) {
	switch t := target.(type) {
	case *value.Array:
		i, ok := idx.(int64)
		if !ok {
			return nil, fmt.Errorf("array index must be an Int, got %s", value.TypeName(idx))
		}
		if i < 0 || i >= int64(len(t.Elements)) {
			return nil, fmt.Errorf("array index %d out of range (length %d)", i, len(t.Elements))
		}
		return t.Elements[i], nil
	case *value.Map:
		v, ok := t.Get(idx)
		if !ok {
			return nil, fmt.Errorf("key %s not found in map", value.ToString(idx))
		}
		return v, nil
	case string:
		i, ok := idx.(int64)
		if !ok {
			return nil, fmt.Errorf("string index must be an Int, got %s", value.TypeName(idx))
		}
		runes := []rune(t)
		if i < 0 || i >= int64(len(runes)) {
			return nil, fmt.Errorf("string index %d out of range (length %d)", i, len(runes))
		}
		return runes[i], nil
	default:
		return nil, fmt.Errorf("cannot index into %s", value.TypeName(target))
	}
}

// setIndex implements SetIndex for arrays and maps; strings are immutable.
func setIndex(target, idx, v interface{}) error {
	switch t := target.(type) {
	case *value.Array:
		i, ok := idx.(int64)
		if !ok {
			return fmt.Errorf("array index must be an Int, got %s", value.TypeName(idx))
		}
		if i < 0 || i >= int64(len(t.Elements)) {
			return fmt.Errorf("array index %d out of range (length %d)", i, len(t.Elements))
		}
		t.Elements[i] = v
		return nil
	case *value.Map:
		t.Set(idx, v)
		return nil
	default:
		return fmt.Errorf("cannot assign into index of %s", value.TypeName(target))
	}
}

// kindOf reports the registered type kind for name, or "primitive" when it
// names no class/struct/enum/interface/trait — used by TypeInfo.
func kindOf(chunk *bytecode.Chunk, name string) string {
	td, ok := chunk.LookupType(name)
	if !ok {
		return "primitive"
	}
	switch td.Kind {
	case bytecode.KindClass:
		return "class"
	case bytecode.KindStruct:
		return "struct"
	case bytecode.KindEnum:
		return "enum"
	case bytecode.KindInterface:
		return "interface"
	case bytecode.KindTrait:
		return "trait"
	default:
		return "primitive"
	}
}

// sizeOf reports element/entry/rune counts for the collection types SizeOf
// supports.
func sizeOf(v interface{}) int64 {
	switch t := v.(type) {
	case *value.Array:
		return int64(len(t.Elements))
	case *value.Map:
		return int64(len(t.Entries))
	case string:
		return int64(len([]rune(t)))
	case *value.Range:
		n := t.End - t.Start
		if t.Inclusive {
			n++
		}
		if n < 0 {
			n = 0
		}
		return n
	default:
		return 0
	}
}

// nowUnix backs the Time builtin with wall-clock seconds since the epoch.
func nowUnix() int64 { return time.Now().Unix() }

// castValue implements the Cast expression's runtime conversions between
// primitive types.
func castValue(v interface{}, typeName string) (interface{}, error) {
	switch typeName {
	case "Int":
		switch t := v.(type) {
		case int64:
			return t, nil
		case float64:
			return int64(t), nil
		case string:
			return parseIntCast(t)
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case "Float":
		switch t := v.(type) {
		case int64:
			return float64(t), nil
		case float64:
			return t, nil
		case string:
			return parseFloatCast(t)
		}
	case "String":
		return value.ToString(v), nil
	case "Bool":
		return value.Truthy(v), nil
	}
	return nil, fmt.Errorf("cannot cast %s to %s", value.TypeName(v), typeName)
}

func parseIntCast(s string) (int64, error) {
	var n int64
	var neg bool
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	if i == len(s) {
		return 0, fmt.Errorf("invalid Int literal %q", s)
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid Int literal %q", s)
		}
		n = n*10 + int64(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

func parseFloatCast(s string) (float64, error) {
	var n float64
	fmt.Sscanf(s, "%g", &n)
	return n, nil
}

// matchesType implements the TypeCheck ("is") operator, walking a class's
// parent chain and declared interfaces so `x is Shape` succeeds for a
// subclass or interface implementor, not just an exact name match.
func (vm *VM) matchesType(v interface{}, typeName string) bool {
	name := value.TypeName(v)
	if name == typeName {
		return true
	}
	inst, ok := v.(*value.Instance)
	if !ok {
		return false
	}
	td, ok := vm.chunk.LookupType(inst.ClassName)
	if !ok {
		return false
	}
	for td != nil {
		for _, iface := range td.Interfaces {
			if iface == typeName {
				return true
			}
		}
		if td.Parent == "" {
			return false
		}
		if td.Parent == typeName {
			return true
		}
		td, ok = vm.chunk.LookupType(td.Parent)
		if !ok {
			return false
		}
	}
	return false
}
