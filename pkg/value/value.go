// Package value defines the runtime value representation shared by the
// compiler's constant pool and the VM's value stack.
//
// Every Value is either inline (Null, Int, Float, Bool, Char, Range — plain
// Go data, copied by assignment) or a shared handle to heap state (String,
// Array, Map, Function, Closure, Instance, StructValue, EnumValue,
// Iterator, Channel, TypeInfo). No Value hands out raw ownership of heap
// state, which is what makes passing a Value across a channel to another
// goroutine sound: both sides share the same handle, and coordination
// beyond that is the programmer's responsibility (spec's shared-resource
// policy), not the VM's.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Array is a growable, shared, interior-mutable sequence.
type Array struct {
	Elements []interface{}
}

// MapEntry preserves insertion order for Map's K->V table.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// Map is an insertion-ordered key->value table. Lookups are linear, which
// is adequate for typical script-sized maps; the type registry and
// per-class vtables use dolthub/swiss instead (see pkg/bytecode), while
// the VM's globals table is a plain Go map.
type Map struct {
	Entries []MapEntry
}

func (m *Map) Get(key interface{}) (interface{}, bool) {
	for _, e := range m.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func (m *Map) Set(key, val interface{}) {
	for i, e := range m.Entries {
		if e.Key == key {
			m.Entries[i].Value = val
			return
		}
	}
	m.Entries = append(m.Entries, MapEntry{Key: key, Value: val})
}

// Range is an inline triple; Int values only, per the language's indexing
// and iteration rules.
type Range struct {
	Start, End int64
	Inclusive  bool
}

// Function is a shared handle to a compiled function's entry point and
// parameter names, used for named-argument calls and for values that
// close over no free variables.
type Function struct {
	Name       string
	Entry      int // instruction pointer of the function body
	ParamNames []string
	IsMethod   bool
}

// Closure pairs a Function with the values captured from its defining
// scope, in the symbol table's stable capture order.
type Closure struct {
	Fn       *Function
	Upvalues []interface{}
}

// Instance is a shared, interior-mutable class object: a field vector
// addressed by the class's FieldInfo.Index, plus the class name for
// dispatch.
type Instance struct {
	ClassName string
	Fields    []interface{}
}

// StructValue is a shared, interior-mutable struct object (no methods,
// no inheritance — plain field vector).
type StructValue struct {
	StructName string
	Fields     []interface{}
}

// EnumValue names which variant of an enum this is and carries any
// payload fields the variant declared.
type EnumValue struct {
	EnumName     string
	VariantName  string
	VariantIndex int
	Payload      *Map
}

// IterKind distinguishes the source an Iterator was built over, since
// each has different internal advance logic.
type IterKind int

const (
	IterArray IterKind = iota
	IterMap
	IterRange
	IterString
)

// Iterator carries non-consuming iteration state: IterNext reads the
// current position and pushes {iterator-copy, value, has_next}; the copy
// holds the advanced position and the original iterator is unchanged.
type Iterator struct {
	Kind  IterKind
	Pos   int64
	Array *Array
	Map   *Map
	Start int64
	End   int64
	Incl  bool
	Str   []rune
}

// Next reports the next value without mutating it (the compiled for-in
// loop applies the advance by storing the returned iterator back into
// its iterator slot).
func (it *Iterator) Next() (next *Iterator, val interface{}, hasNext bool) {
	switch it.Kind {
	case IterArray:
		if it.Pos >= int64(len(it.Array.Elements)) {
			return it, nil, false
		}
		v := it.Array.Elements[it.Pos]
		return &Iterator{Kind: IterArray, Array: it.Array, Pos: it.Pos + 1}, v, true
	case IterMap:
		if it.Pos >= int64(len(it.Map.Entries)) {
			return it, nil, false
		}
		e := it.Map.Entries[it.Pos]
		pair := &Array{Elements: []interface{}{e.Key, e.Value}}
		return &Iterator{Kind: IterMap, Map: it.Map, Pos: it.Pos + 1}, pair, true
	case IterRange:
		last := it.End
		if it.Incl {
			if it.Pos > last {
				return it, nil, false
			}
		} else if it.Pos >= last {
			return it, nil, false
		}
		v := it.Pos
		return &Iterator{Kind: IterRange, Start: it.Start, End: it.End, Incl: it.Incl, Pos: it.Pos + 1}, v, true
	case IterString:
		if it.Pos >= int64(len(it.Str)) {
			return it, nil, false
		}
		v := it.Str[it.Pos]
		return &Iterator{Kind: IterString, Str: it.Str, Pos: it.Pos + 1}, v, true
	}
	return it, nil, false
}

// NewIterator wraps v for the for-in protocol; the second return is false
// when v is not iterable.
func NewIterator(v interface{}) (*Iterator, bool) {
	switch t := v.(type) {
	case *Array:
		return &Iterator{Kind: IterArray, Array: t}, true
	case *Map:
		return &Iterator{Kind: IterMap, Map: t}, true
	case *Range:
		return &Iterator{Kind: IterRange, Start: t.Start, End: t.End, Incl: t.Inclusive, Pos: t.Start}, true
	case string:
		return &Iterator{Kind: IterString, Str: []rune(t)}, true
	}
	return nil, false
}

// Channel is a shared handle; the scheduler package owns the actual
// buffer/waiter-queue implementation (pkg/scheduler.Channel). This alias
// type lets the VM hold a channel value without importing the scheduler
// package's goroutine machinery, which would create an import cycle
// (scheduler needs to run VM instances).
type Channel interface {
	Send(v interface{}) error
	Receive() (interface{}, bool, error)
	Close() error
}

// TypeInfo is a shared handle to a runtime type descriptor, returned by
// TypeOf/TypeInfo for reflection-ish introspection.
type TypeInfo struct {
	Name string
	Kind string // "class", "struct", "enum", "interface", "trait", "primitive"
}

// TypeName reports the dynamic type name of v, the string TypeOf pushes.
func TypeName(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "Null"
	case int64:
		return "Int"
	case float64:
		return "Float"
	case bool:
		return "Bool"
	case rune:
		return "Char"
	case string:
		return "String"
	case *Array:
		return "Array"
	case *Map:
		return "Map"
	case *Range:
		return "Range"
	case *Function:
		return "Function"
	case *Closure:
		return "Function"
	case *Instance:
		return t.ClassName
	case *StructValue:
		return t.StructName
	case *EnumValue:
		return t.EnumName
	case *Iterator:
		return "Iterator"
	case *TypeInfo:
		return "TypeInfo"
	default:
		if _, ok := v.(Channel); ok {
			return "Channel"
		}
		return fmt.Sprintf("%T", v)
	}
}

// ToString renders v the way the language's ToString builtin and string
// interpolation do.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case rune:
		return string(t)
	case string:
		return t
	case *Array:
		parts := make([]string, len(t.Elements))
		for i, el := range t.Elements {
			parts[i] = ToString(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *Map:
		parts := make([]string, len(t.Entries))
		for i, e := range t.Entries {
			parts[i] = ToString(e.Key) + ": " + ToString(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Range:
		op := ".."
		if t.Inclusive {
			op = "..="
		}
		return fmt.Sprintf("%d%s%d", t.Start, op, t.End)
	case *Instance:
		return t.ClassName + "@" + fmt.Sprintf("%p", t)
	case *StructValue:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = ToString(f)
		}
		return t.StructName + "{" + strings.Join(parts, ", ") + "}"
	case *EnumValue:
		return t.EnumName + "." + t.VariantName
	case *Function:
		return "<func " + t.Name + ">"
	case *Closure:
		return "<func " + t.Fn.Name + ">"
	case *TypeInfo:
		return "<type " + t.Name + ">"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Truthy reports whether v is a truthy condition value.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

// Equal implements the language's == for both inline and shared values.
// Shared collection/object types compare by identity (pointer equality),
// matching the "interior-mutable, reference-shared" ownership model in
// the value table: two distinct arrays with equal contents are not ==.
func Equal(a, b interface{}) bool {
	switch x := a.(type) {
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case rune:
		y, ok := b.(rune)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case nil:
		return b == nil
	default:
		return a == b
	}
}
