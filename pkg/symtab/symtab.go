// Package symtab implements the compiler's symbol table: a stack of
// lexical scopes mapping names to local slot numbers, plus the global
// name set.
//
// The teacher's compiler kept a single flat `map[string]int` for locals
// (pkg/compiler/compiler.go). Quill's block scoping, shadowing, and
// closures need a real stack: entering a block pushes a scope, leaving it
// pops one and frees its slots, and a name resolves to the nearest
// enclosing scope that defines it.
package symtab

// SymbolScope distinguishes where a resolved symbol lives at runtime.
type SymbolScope int

const (
	ScopeGlobal SymbolScope = iota
	ScopeLocal
	ScopeField
	ScopeFree // captured from an enclosing function (closure upvalue)
)

// TypeTag is a coarse static type used by the compiler's peephole fusion
// passes (spec.md §3: "a type tag used by optimization"). It is not a full
// type system — just enough to tell the fuser a slot is safe to treat as a
// machine int without a runtime type check.
type TypeTag int

const (
	TypeUnknown TypeTag = iota
	TypeInt
)

// Symbol is a resolved name: its storage scope, slot/index, declared-or-
// inferred type tag, and const-ness (spec.md §3/§4.5).
type Symbol struct {
	Name    string
	Scope   SymbolScope
	Index   int
	TypeTag TypeTag
	IsConst bool
}

type scope struct {
	names map[string]Symbol // name -> symbol within this scope
}

// Table is the full compile-time symbol table for one function being
// compiled, plus a link to the enclosing function's table for closures.
type Table struct {
	Outer *Table

	scopes     []*scope
	nextSlot   int
	maxSlot    int
	freeSyms   []Symbol // symbols captured from Outer, in capture order
	globals    map[string]Symbol
	nextGlobal int
}

// NewGlobal creates the root symbol table used for top-level declarations.
func NewGlobal() *Table {
	return &Table{globals: make(map[string]Symbol)}
}

// NewEnclosed creates a symbol table for a function/closure nested inside
// outer, sharing outer's globals.
func NewEnclosed(outer *Table) *Table {
	t := &Table{Outer: outer, globals: outer.globals}
	t.PushScope()
	return t
}

// PushScope opens a new lexical block. Slot numbering continues from the
// parent scope's high-water mark so block-local slots never collide with
// slots still live in an enclosing block of the same function.
func (t *Table) PushScope() {
	t.scopes = append(t.scopes, &scope{names: make(map[string]Symbol)})
}

// PopScope closes the innermost block, releasing its slots for reuse by
// later sibling blocks. Returns how many slots were freed, so the
// compiler can emit that many Pop instructions to balance the value stack.
func (t *Table) PopScope() int {
	n := len(t.scopes)
	if n == 0 {
		return 0
	}
	s := t.scopes[n-1]
	t.scopes = t.scopes[:n-1]
	freed := len(s.names)
	t.nextSlot -= freed
	return freed
}

// Define allocates a new local slot for name in the innermost scope, with
// an unknown type tag and not const. Most callers (function/method/closure
// params, catch and match bindings, for-in loop variables) don't have a
// declared type or const-ness to track, so this is the common case; var/
// const declarations use DefineTyped instead.
func (t *Table) Define(name string) Symbol {
	return t.DefineTyped(name, TypeUnknown, false)
}

// DefineTyped is Define but records the static type tag and const-ness a
// `var`/`const` declaration carries (spec.md §3's Symbol fields), so later
// peephole fusion and const-assignment checks can consult them via Resolve.
func (t *Table) DefineTyped(name string, tag TypeTag, isConst bool) Symbol {
	if len(t.scopes) == 0 {
		// top-level symbol outside any function: treat as global.
		return t.defineGlobal(name, tag, isConst)
	}
	slot := t.nextSlot
	t.nextSlot++
	if t.nextSlot > t.maxSlot {
		t.maxSlot = t.nextSlot
	}
	sym := Symbol{Name: name, Scope: ScopeLocal, Index: slot, TypeTag: tag, IsConst: isConst}
	t.scopes[len(t.scopes)-1].names[name] = sym
	return sym
}

func (t *Table) defineGlobal(name string, tag TypeTag, isConst bool) Symbol {
	if sym, ok := t.globals[name]; ok {
		sym.TypeTag, sym.IsConst = tag, isConst
		t.globals[name] = sym
		return sym
	}
	idx := t.nextGlobal
	t.nextGlobal++
	sym := Symbol{Name: name, Scope: ScopeGlobal, Index: idx, TypeTag: tag, IsConst: isConst}
	t.globals[name] = sym
	return sym
}

// DefineGlobal always allocates/resolves name as a top-level global,
// regardless of scope nesting (used for top-level func/class/var names
// visible across the whole program).
func (t *Table) DefineGlobal(name string) Symbol {
	return t.DefineGlobalTyped(name, TypeUnknown, false)
}

// DefineGlobalTyped is DefineGlobal but records a type tag and const-ness.
func (t *Table) DefineGlobalTyped(name string, tag TypeTag, isConst bool) Symbol {
	root := t
	for root.Outer != nil {
		root = root.Outer
	}
	return root.defineGlobal(name, tag, isConst)
}

// MaxSlots reports the largest number of live local slots this function
// ever needed, for the VM's per-frame locals allocation.
func (t *Table) MaxSlots() int { return t.maxSlot }

// Resolve looks up name from the innermost scope outward, then into
// enclosing functions (recording a free-variable capture), then globals.
func (t *Table) Resolve(name string) (Symbol, bool) {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if sym, ok := t.scopes[i].names[name]; ok {
			return sym, true
		}
	}
	if t.Outer != nil {
		if outerSym, ok := t.Outer.Resolve(name); ok {
			if outerSym.Scope == ScopeGlobal {
				return outerSym, true
			}
			return t.defineFree(outerSym), true
		}
	}
	if sym, ok := t.globals[name]; ok {
		return sym, true
	}
	return Symbol{}, false
}

func (t *Table) defineFree(original Symbol) Symbol {
	for i, f := range t.freeSyms {
		if f.Name == original.Name {
			return Symbol{Name: original.Name, Scope: ScopeFree, Index: i, TypeTag: original.TypeTag, IsConst: original.IsConst}
		}
	}
	t.freeSyms = append(t.freeSyms, original)
	return Symbol{Name: original.Name, Scope: ScopeFree, Index: len(t.freeSyms) - 1, TypeTag: original.TypeTag, IsConst: original.IsConst}
}

// FreeSymbols returns the captured-variable list in stable capture order,
// used by the compiler to emit closure-creation code that copies each
// upvalue's current binding.
func (t *Table) FreeSymbols() []Symbol { return t.freeSyms }

// Depth reports how many lexical blocks are currently open. The compiler
// records it when a loop or try opens; the TailCall-vs-try decision does
// not consult it (any open try blocks the fusion).
func (t *Table) Depth() int { return len(t.scopes) }
