// Package compiler lowers a parsed (and, in a full pipeline, type-checked)
// AST into a bytecode.Chunk.
//
// Compilation is two passes over the top-level statement list, per
// spec.md §4.2: pass 1 reserves a constant-pool slot for every top-level
// function so forward calls resolve; pass 2 walks the AST and emits
// instructions, allocating local slots via pkg/symtab, patching jumps,
// and opportunistically fusing superinstructions.
package compiler

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/bytecode"
	"github.com/quilllang/quill/pkg/symtab"
)

// loopInfo tracks a single open loop's patch bookkeeping for break/continue.
type loopInfo struct {
	label        string
	startIP      int
	breakPatches []int
	scopeDepth   int
}

// tryInfo tracks a single open try block, used to reject tail-call fusion
// inside an active handler (DESIGN.md's Open Question decision).
type tryInfo struct {
	scopeDepth int
}

// Compiler emits a bytecode.Chunk from an *ast.Program.
type Compiler struct {
	chunk *bytecode.Chunk
	syms  *symtab.Table

	loops []loopInfo
	tries []tryInfo

	// currentClass is set while compiling a method body, so `this` and
	// field access resolve against the right type.
	currentClass *bytecode.TypeDef

	errs *multierror.Error
}

// New creates a Compiler with a fresh top-level symbol table.
func New() *Compiler {
	return &Compiler{
		chunk: bytecode.NewChunk(),
		syms:  symtab.NewGlobal(),
	}
}

// Compile runs both passes and returns the chunk, or accumulated errors.
// Calling Compile again on the same Compiler appends to the same chunk
// and symbol table instead of starting over — the REPL's incremental
// evaluation relies on this to keep locals and globals live across
// separate inputs.
func (c *Compiler) Compile(program *ast.Program) (*bytecode.Chunk, error) {
	c.errs = nil
	c.forwardDeclare(program.Statements)
	for _, stmt := range program.Statements {
		c.compileStatement(stmt)
	}
	c.chunk.Emit(bytecode.OpHalt, 0, 0)

	if c.errs != nil {
		return nil, c.errs.ErrorOrNil()
	}
	return c.chunk, nil
}

func (c *Compiler) errorf(pos ast.Position, format string, args ...interface{}) {
	msg := fmt.Errorf("%d:%d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	c.errs = multierror.Append(c.errs, msg)
}

// forwardDeclare is compiler pass 1: reserve a constant-pool slot
// (placeholder Null) for every top-level function so forward calls from
// earlier in the file resolve to a stable index.
func (c *Compiler) forwardDeclare(stmts []ast.Statement) {
	for _, stmt := range stmts {
		if fn, ok := stmt.(*ast.FunctionDecl); ok {
			idx := c.chunk.AddConstant(nil)
			names := make([]string, len(fn.Params))
			for i, p := range fn.Params {
				names[i] = p.Name
			}
			c.chunk.Functions[fn.Name] = &bytecode.FuncInfo{Name: fn.Name, ParamNames: names, ConstIndex: idx}
			c.syms.DefineGlobal(fn.Name)
		}
	}
}

// ---- statements ----

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		c.compileExpression(s.Expression)
		c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	case *ast.VariableDeclaration:
		c.compileVarDecl(s)
	case *ast.Block:
		c.compileBlock(s)
	case *ast.If:
		c.compileIf(s)
	case *ast.ForC:
		c.compileForC(s)
	case *ast.ForIn:
		c.compileForIn(s)
	case *ast.Break:
		c.compileBreak(s)
	case *ast.Continue:
		c.compileContinue(s)
	case *ast.Return:
		c.compileReturn(s)
	case *ast.Throw:
		c.compileExpression(s.Value)
		c.chunk.Emit(bytecode.OpThrow, 0, s.Pos().Line)
	case *ast.Try:
		c.compileTry(s)
	case *ast.Match:
		c.compileMatch(s)
	case *ast.FunctionDecl:
		c.compileFunctionDecl(s)
	case *ast.ClassDecl:
		c.compileClassDecl(s)
	case *ast.StructDecl:
		c.compileStructDecl(s)
	case *ast.EnumDecl:
		c.compileEnumDecl(s)
	case *ast.InterfaceDecl:
		c.compileInterfaceDecl(s)
	case *ast.TraitDecl:
		c.compileTraitDecl(s)
	case *ast.GoSpawn:
		c.compileExpression(s)
		c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	default:
		c.errorf(stmt.Pos(), "unsupported statement %T", stmt)
	}
}

func (c *Compiler) compileVarDecl(s *ast.VariableDeclaration) {
	if s.Value != nil {
		c.compileExpression(s.Value)
	} else {
		c.chunk.Emit(bytecode.OpPushNull, 0, s.Pos().Line)
	}
	tag := varTypeTag(s)
	if c.syms.Depth() == 0 && c.currentClass == nil {
		c.syms.DefineGlobalTyped(s.Name, tag, s.IsConst)
		c.chunk.Emit(bytecode.OpSetGlobal, c.nameConst(s.Name), s.Pos().Line)
		return
	}
	c.syms.DefineTyped(s.Name, tag, s.IsConst)
	// value is already on the stack at the right position; no store needed
	// for the straightforward declare-at-next-slot case (spec.md §4.2).
}

// varTypeTag derives a declaration's static type tag from its declared
// type annotation, falling back to the initializer's literal shape when the
// type is inferred (`var x = 1`). Only int is tracked — it's the only tag
// the peephole fuser in compileBinary consults.
func varTypeTag(s *ast.VariableDeclaration) symtab.TypeTag {
	if s.Type == "int" {
		return symtab.TypeInt
	}
	if s.Type == "" {
		if _, ok := s.Value.(*ast.IntegerLiteral); ok {
			return symtab.TypeInt
		}
	}
	return symtab.TypeUnknown
}

func (c *Compiler) nameConst(name string) int { return c.chunk.AddConstant(name) }

func (c *Compiler) compileBlock(b *ast.Block) {
	c.syms.PushScope()
	for _, stmt := range b.Statements {
		c.compileStatement(stmt)
	}
	n := c.syms.PopScope()
	for i := 0; i < n; i++ {
		c.chunk.Emit(bytecode.OpPop, 0, b.Pos().Line)
	}
}

func (c *Compiler) compileIf(s *ast.If) {
	c.compileExpression(s.Condition)
	jfIP := c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
	c.compileBlock(s.Then)
	if s.Else != nil {
		jEndIP := c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line)
		c.chunk.Patch(jfIP, len(c.chunk.Instructions))
		switch e := s.Else.(type) {
		case *ast.Block:
			c.compileBlock(e)
		case *ast.If:
			c.compileIf(e)
		}
		c.chunk.Patch(jEndIP, len(c.chunk.Instructions))
		return
	}
	c.chunk.Patch(jfIP, len(c.chunk.Instructions))
}

func (c *Compiler) compileForC(s *ast.ForC) {
	c.syms.PushScope()
	if s.Init != nil {
		c.compileStatement(s.Init)
	}
	startIP := len(c.chunk.Instructions)
	li := loopInfo{label: s.Label, startIP: startIP, scopeDepth: c.syms.Depth()}
	c.loops = append(c.loops, li)

	var exitIP int
	hasCond := s.Condition != nil
	if hasCond {
		c.compileExpression(s.Condition)
		exitIP = c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
	}
	c.compileBlock(s.Body)
	if s.Post != nil {
		c.compileStatement(s.Post)
	}
	c.chunk.Emit(bytecode.OpLoop, startIP, s.Pos().Line)
	if hasCond {
		c.chunk.Patch(exitIP, len(c.chunk.Instructions))
	}

	top := c.loops[len(c.loops)-1]
	for _, p := range top.breakPatches {
		c.chunk.Patch(p, len(c.chunk.Instructions))
	}
	c.loops = c.loops[:len(c.loops)-1]
	n := c.syms.PopScope()
	for i := 0; i < n; i++ {
		c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	}
}

func (c *Compiler) compileForIn(s *ast.ForIn) {
	c.syms.PushScope()
	c.compileExpression(s.Iterable)
	c.chunk.Emit(bytecode.OpIterInit, 0, s.Pos().Line)
	iterSym := c.syms.Define("__iter__")
	c.chunk.Emit(bytecode.OpPushNull, 0, s.Pos().Line)
	valSym := c.syms.Define(s.VarName)

	startIP := len(c.chunk.Instructions)
	li := loopInfo{label: s.Label, startIP: startIP, scopeDepth: c.syms.Depth()}
	c.loops = append(c.loops, li)

	c.chunk.Emit(bytecode.OpGetLocal, iterSym.Index, s.Pos().Line)
	c.chunk.Emit(bytecode.OpIterNext, 0, s.Pos().Line)
	// stack: [iter, iter_copy, value, has_next] (IterNext leaves the
	// iterator it read in place)
	exitIP := c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
	// store value into loop var, iter_copy into iter slot, drop iter
	c.chunk.Emit(bytecode.OpSetLocal, valSym.Index, s.Pos().Line)
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	c.chunk.Emit(bytecode.OpSetLocal, iterSym.Index, s.Pos().Line)
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)

	c.compileBlock(s.Body)
	c.chunk.Emit(bytecode.OpLoop, startIP, s.Pos().Line)
	c.chunk.Patch(exitIP, len(c.chunk.Instructions))
	// exhausted: JumpIfFalsePop took has_next; drop value, iter_copy, iter
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)

	top := c.loops[len(c.loops)-1]
	for _, p := range top.breakPatches {
		c.chunk.Patch(p, len(c.chunk.Instructions))
	}
	c.loops = c.loops[:len(c.loops)-1]

	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line) // loop var
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line) // iterator
	c.syms.PopScope()
}

func (c *Compiler) findLoop(label string) (int, bool) {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if label == "" || c.loops[i].label == label {
			return i, true
		}
	}
	return 0, false
}

func (c *Compiler) compileBreak(s *ast.Break) {
	idx, ok := c.findLoop(s.Label)
	if !ok {
		c.errorf(s.Pos(), "break outside loop")
		return
	}
	patch := c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line)
	c.loops[idx].breakPatches = append(c.loops[idx].breakPatches, patch)
}

func (c *Compiler) compileContinue(s *ast.Continue) {
	idx, ok := c.findLoop(s.Label)
	if !ok {
		c.errorf(s.Pos(), "continue outside loop")
		return
	}
	c.chunk.Emit(bytecode.OpLoop, c.loops[idx].startIP, s.Pos().Line)
}

// isTailCallable reports whether expr is a call the VM can safely fuse
// into a TailCall (a plain call to a named function or a closure value,
// not a builtin and not a method dispatch).
func isTailCallable(expr ast.Expression) (*ast.Call, bool) {
	call, ok := expr.(*ast.Call)
	if !ok {
		return nil, false
	}
	ident, ok := call.Callee.(*ast.Identifier)
	if !ok {
		return nil, false
	}
	if _, isBuiltin := builtinCalls[ident.Name]; isBuiltin {
		return nil, false
	}
	return call, true
}

func (c *Compiler) compileReturn(s *ast.Return) {
	if s.Value == nil {
		c.chunk.Emit(bytecode.OpPushNull, 0, s.Pos().Line)
		c.chunk.Emit(bytecode.OpReturn, 0, s.Pos().Line)
		return
	}

	if call, ok := isTailCallable(s.Value); ok && len(c.tries) == 0 {
		c.compileCallArgs(call)
		c.compileExpression(call.Callee)
		c.chunk.Emit(bytecode.OpTailCall, len(call.Args), s.Pos().Line)
		return
	}

	if ident, ok := s.Value.(*ast.Identifier); ok {
		if sym, ok := c.syms.Resolve(ident.Name); ok && sym.Scope == symtab.ScopeLocal {
			c.chunk.Emit(bytecode.OpReturnLocal, sym.Index, s.Pos().Line)
			return
		}
	}
	if lit, ok := s.Value.(*ast.IntegerLiteral); ok {
		if v, ok := int8InlineValue(lit.Value); ok {
			c.chunk.Emit(bytecode.OpReturnInt, int(v), s.Pos().Line)
			return
		}
	}

	c.compileExpression(s.Value)
	c.chunk.Emit(bytecode.OpReturn, 0, s.Pos().Line)
}

func (c *Compiler) compileTry(s *ast.Try) {
	depth := c.syms.Depth()
	setupIP := c.chunk.Emit(bytecode.OpSetupTry, -1, s.Pos().Line)
	c.tries = append(c.tries, tryInfo{scopeDepth: depth})
	c.compileBlock(s.Body)
	c.tries = c.tries[:len(c.tries)-1]
	endJumps := []int{c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line)}
	c.chunk.Patch(setupIP, len(c.chunk.Instructions))

	for i, cc := range s.Catches {
		if i > 0 {
			// chain: on mismatch, fall through to test the next catch type
		}
		c.syms.PushScope()
		if cc.TypeName != "" {
			// leave exception on stack, test its type
			c.chunk.Emit(bytecode.OpDup, 0, s.Pos().Line)
			c.chunk.Emit(bytecode.OpTypeCheck, c.nameConst(cc.TypeName), s.Pos().Line)
			nextIP := c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
			if cc.Param != "" {
				c.syms.Define(cc.Param)
			} else {
				c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
			}
			for _, st := range cc.Body.Statements {
				c.compileStatement(st)
			}
			n := c.syms.PopScope()
			for j := 0; j < n; j++ {
				c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
			}
			endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
			c.chunk.Patch(nextIP, len(c.chunk.Instructions))
			continue
		}
		if cc.Param != "" {
			c.syms.Define(cc.Param)
		} else {
			c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
		}
		for _, st := range cc.Body.Statements {
			c.compileStatement(st)
		}
		n := c.syms.PopScope()
		for j := 0; j < n; j++ {
			c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
		}
		endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
	}

	for _, j := range endJumps {
		c.chunk.Patch(j, len(c.chunk.Instructions))
	}

	// finally is emitted once, here, where the normal and catch paths
	// converge (see DESIGN.md's Open Question decisions). A return from
	// inside the try or catch body leaves before reaching it.
	if s.Finally != nil {
		c.compileBlock(s.Finally)
	}
}

func (c *Compiler) compileMatch(s *ast.Match) {
	c.syms.PushScope()
	c.compileExpression(s.Scrutinee)
	scrutSym := c.syms.Define("__match__")

	var endJumps []int
	var nextArmPatch = -1
	for _, arm := range s.Arms {
		if nextArmPatch != -1 {
			c.chunk.Patch(nextArmPatch, len(c.chunk.Instructions))
			nextArmPatch = -1
		}
		switch {
		case arm.Wildcard:
			c.compileBlock(arm.Body)
			endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
		case arm.BindName != "":
			c.syms.PushScope()
			c.chunk.Emit(bytecode.OpGetLocal, scrutSym.Index, s.Pos().Line)
			c.syms.Define(arm.BindName)
			for _, st := range arm.Body.Statements {
				c.compileStatement(st)
			}
			n := c.syms.PopScope()
			for i := 0; i < n; i++ {
				c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line)
			}
			endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
		case arm.RangeLow != nil:
			c.chunk.Emit(bytecode.OpGetLocal, scrutSym.Index, s.Pos().Line)
			c.compileExpression(arm.RangeLow)
			c.chunk.Emit(bytecode.OpGe, 0, s.Pos().Line)
			lowFail := c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
			c.chunk.Emit(bytecode.OpGetLocal, scrutSym.Index, s.Pos().Line)
			c.compileExpression(arm.RangeHigh)
			c.chunk.Emit(bytecode.OpLe, 0, s.Pos().Line)
			highFail := c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
			c.compileBlock(arm.Body)
			endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
			c.chunk.Patch(lowFail, len(c.chunk.Instructions))
			c.chunk.Patch(highFail, len(c.chunk.Instructions))
		default:
			c.chunk.Emit(bytecode.OpGetLocal, scrutSym.Index, s.Pos().Line)
			c.compileExpression(arm.Literal)
			c.chunk.Emit(bytecode.OpEq, 0, s.Pos().Line)
			nextArmPatch = c.chunk.Emit(bytecode.OpJumpIfFalsePop, -1, s.Pos().Line)
			c.compileBlock(arm.Body)
			endJumps = append(endJumps, c.chunk.Emit(bytecode.OpJump, -1, s.Pos().Line))
		}
	}
	if nextArmPatch != -1 {
		c.chunk.Patch(nextArmPatch, len(c.chunk.Instructions))
	}
	for _, j := range endJumps {
		c.chunk.Patch(j, len(c.chunk.Instructions))
	}
	c.syms.PopScope()
	c.chunk.Emit(bytecode.OpPop, 0, s.Pos().Line) // drop scrutinee
}

// ---- function/class/struct/enum/interface/trait declarations ----

func (c *Compiler) compileFunctionDecl(fn *ast.FunctionDecl) {
	fi := c.chunk.Functions[fn.Name]
	if fi == nil {
		idx := c.chunk.AddConstant(nil)
		fi = &bytecode.FuncInfo{Name: fn.Name, ConstIndex: idx}
		c.chunk.Functions[fn.Name] = fi
	}
	jumpOverIP := c.chunk.Emit(bytecode.OpJump, -1, fn.Pos().Line)
	entry := len(c.chunk.Instructions)

	outer := c.syms
	c.syms = symtab.NewEnclosed(outer)
	for _, p := range fn.Params {
		c.syms.DefineTyped(p.Name, paramTypeTag(p), false)
	}
	for _, st := range fn.Body.Statements {
		c.compileStatement(st)
	}
	c.ensureImplicitReturn(false)
	c.syms = outer

	c.chunk.Patch(jumpOverIP, len(c.chunk.Instructions))
	fi.ParamNames = paramNames(fn.Params)
	c.chunk.Constants[fi.ConstIndex] = entry
}

func (c *Compiler) ensureImplicitReturn(returnThis bool) {
	n := len(c.chunk.Instructions)
	if n > 0 {
		last := c.chunk.Instructions[n-1].Op
		if last == bytecode.OpReturn || last == bytecode.OpReturnLocal || last == bytecode.OpReturnInt || last == bytecode.OpTailCall {
			return
		}
	}
	if returnThis {
		c.chunk.Emit(bytecode.OpGetLocal, 0, 0)
		c.chunk.Emit(bytecode.OpReturn, 0, 0)
		return
	}
	c.chunk.Emit(bytecode.OpPushNull, 0, 0)
	c.chunk.Emit(bytecode.OpReturn, 0, 0)
}

// paramTypeTag derives a parameter's static type tag from its declared
// type annotation; parameters have no initializer to infer from.
func paramTypeTag(p ast.Param) symtab.TypeTag {
	if p.Type == "int" {
		return symtab.TypeInt
	}
	return symtab.TypeUnknown
}

func paramNames(params []ast.Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}

func (c *Compiler) compileClassDecl(cd *ast.ClassDecl) {
	td := &bytecode.TypeDef{
		Name: cd.Name, Kind: bytecode.KindClass, Parent: cd.Parent,
		Interfaces: cd.Interfaces, IsAbstract: cd.IsAbstract,
		Methods: bytecode.NewMethodTable(), StaticMethods: bytecode.NewMethodTable(),
	}
	for i, f := range cd.Fields {
		if f.IsStatic {
			continue
		}
		td.Fields = append(td.Fields, bytecode.FieldInfo{Name: f.Name, Index: i, Default: -1})
	}
	// Trait default-method copy-on-no-override: any trait method without a
	// class override gets the trait's implementation registered directly,
	// so dispatch at runtime never has to consult trait tables separately.
	overridden := map[string]bool{}
	for _, m := range cd.Methods {
		overridden[m.Name] = true
	}

	c.chunk.RegisterType(cd.Name, td)

	prevClass := c.currentClass
	c.currentClass = td
	for _, m := range cd.Methods {
		c.compileMethod(cd.Name, m, td)
	}
	for _, traitName := range cd.Traits {
		if tdef, ok := c.chunk.LookupType(traitName); ok && tdef.Methods != nil {
			tdef.Methods.Each(func(name string, fi bytecode.FuncInfo) {
				if !overridden[name] {
					td.Methods.Put(name, fi)
				}
			})
		}
	}
	c.currentClass = prevClass
}

func (c *Compiler) compileMethod(className string, m *ast.MethodDecl, td *bytecode.TypeDef) {
	if m.IsAbstract {
		return
	}
	idx := c.chunk.AddConstant(nil)
	fi := bytecode.FuncInfo{Name: m.Name, ParamNames: paramNames(m.Params), ConstIndex: idx, IsMethod: true, IsStatic: m.IsStatic}

	jumpOverIP := c.chunk.Emit(bytecode.OpJump, -1, m.Pos().Line)
	entry := len(c.chunk.Instructions)

	outer := c.syms
	c.syms = symtab.NewEnclosed(outer)
	if !m.IsStatic {
		c.syms.Define("this") // slot 0
	}
	for _, p := range m.Params {
		sym := c.syms.DefineTyped(p.Name, paramTypeTag(p), false)
		if p.IsField && !m.IsStatic {
			c.chunk.Emit(bytecode.OpGetLocal, 0, m.Pos().Line)
			c.chunk.Emit(bytecode.OpGetLocal, sym.Index, m.Pos().Line)
			c.chunk.Emit(bytecode.OpSetField, c.nameConst(p.Name), m.Pos().Line)
			c.chunk.Emit(bytecode.OpPop, 0, m.Pos().Line)
		}
	}
	if m.Body != nil {
		for _, st := range m.Body.Statements {
			c.compileStatement(st)
		}
	}
	c.ensureImplicitReturn(m.IsInit && !m.IsStatic)
	c.syms = outer

	c.chunk.Patch(jumpOverIP, len(c.chunk.Instructions))
	c.chunk.Constants[idx] = entry

	if m.IsStatic {
		td.StaticMethods.Put(m.Name, fi)
	} else {
		td.Methods.Put(m.Name, fi)
	}
}

func (c *Compiler) compileStructDecl(sd *ast.StructDecl) {
	td := &bytecode.TypeDef{Name: sd.Name, Kind: bytecode.KindStruct}
	for i, f := range sd.Fields {
		td.Fields = append(td.Fields, bytecode.FieldInfo{Name: f.Name, Index: i, Default: -1})
	}
	c.chunk.RegisterType(sd.Name, td)
}

func (c *Compiler) compileEnumDecl(ed *ast.EnumDecl) {
	td := &bytecode.TypeDef{Name: ed.Name, Kind: bytecode.KindEnum}
	for i, v := range ed.Variants {
		td.EnumVariants = append(td.EnumVariants, bytecode.EnumVariantDef{Name: v.Name, Index: i, PayloadNames: v.PayloadNames})
	}
	c.chunk.RegisterType(ed.Name, td)
}

func (c *Compiler) compileInterfaceDecl(id *ast.InterfaceDecl) {
	td := &bytecode.TypeDef{Name: id.Name, Kind: bytecode.KindInterface, Methods: bytecode.NewMethodTable()}
	for _, m := range id.Methods {
		td.Methods.Put(m.Name, bytecode.FuncInfo{Name: m.Name, ParamNames: paramNames(m.Params)})
	}
	c.chunk.RegisterType(id.Name, td)
}

func (c *Compiler) compileTraitDecl(td_ *ast.TraitDecl) {
	td := &bytecode.TypeDef{Name: td_.Name, Kind: bytecode.KindTrait, Methods: bytecode.NewMethodTable()}
	for _, m := range td_.Methods {
		if m.Body == nil {
			td.Methods.Put(m.Name, bytecode.FuncInfo{Name: m.Name, ParamNames: paramNames(m.Params)})
			continue
		}
		c.compileMethod(td_.Name, m, td)
	}
	c.chunk.RegisterType(td_.Name, td)
}

// ---- expressions ----

func (c *Compiler) compileExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		c.compileIntLiteral(e)
	case *ast.FloatLiteral:
		idx := c.chunk.AddConstant(parseFloat(e.Value))
		c.chunk.Emit(bytecode.OpConst, idx, e.Pos().Line)
	case *ast.StringLiteral:
		c.compileStringLiteral(e)
	case *ast.CharLiteral:
		idx := c.chunk.AddConstant(e.Value)
		c.chunk.Emit(bytecode.OpConst, idx, e.Pos().Line)
	case *ast.BooleanLiteral:
		if e.Value {
			c.chunk.Emit(bytecode.OpPushTrue, 0, e.Pos().Line)
		} else {
			c.chunk.Emit(bytecode.OpPushFalse, 0, e.Pos().Line)
		}
	case *ast.NilLiteral:
		c.chunk.Emit(bytecode.OpPushNull, 0, e.Pos().Line)
	case *ast.Identifier:
		c.compileIdentifier(e)
	case *ast.SelfExpr:
		sym, ok := c.syms.Resolve("this")
		if !ok {
			c.errorf(e.Pos(), "this used outside a method")
			return
		}
		c.chunk.Emit(bytecode.OpGetLocal, sym.Index, e.Pos().Line)
	case *ast.Assignment:
		c.compileAssignment(e)
	case *ast.BinaryExpr:
		c.compileBinary(e)
	case *ast.UnaryExpr:
		c.compileExpression(e.Operand)
		switch e.Op {
		case "-":
			c.chunk.Emit(bytecode.OpNeg, 0, e.Pos().Line)
		case "!":
			c.chunk.Emit(bytecode.OpNot, 0, e.Pos().Line)
		}
	case *ast.Call:
		c.compileCall(e)
	case *ast.FieldAccess:
		c.compileExpression(e.Receiver)
		op := bytecode.OpGetField
		if e.Safe {
			op = bytecode.OpSafeGetField
		} else if e.NonNull {
			op = bytecode.OpNonNullGetField
		}
		c.chunk.Emit(op, c.nameConst(e.Name), e.Pos().Line)
	case *ast.MethodCall:
		c.compileMethodCall(e)
	case *ast.StaticAccess:
		c.compileStaticAccess(e)
	case *ast.IndexExpr:
		c.compileExpression(e.Target)
		c.compileExpression(e.Index)
		c.chunk.Emit(bytecode.OpGetIndex, 0, e.Pos().Line)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			c.compileExpression(el)
		}
		c.chunk.Emit(bytecode.OpNewArray, len(e.Elements), e.Pos().Line)
	case *ast.MapLiteral:
		for _, entry := range e.Entries {
			c.compileExpression(entry.Key)
			c.compileExpression(entry.Value)
		}
		c.chunk.Emit(bytecode.OpNewMap, len(e.Entries), e.Pos().Line)
	case *ast.RangeExpr:
		c.compileExpression(e.Start)
		c.compileExpression(e.End)
		if e.Inclusive {
			c.chunk.Emit(bytecode.OpNewRangeInclusive, 0, e.Pos().Line)
		} else {
			c.chunk.Emit(bytecode.OpNewRange, 0, e.Pos().Line)
		}
	case *ast.NewExpr:
		c.compileNewExpr(e)
	case *ast.NewStructExpr:
		c.compileNewStructExpr(e)
	case *ast.ClosureExpr:
		c.compileClosure(e)
	case *ast.ChannelMake:
		if e.Capacity != nil {
			c.compileExpression(e.Capacity)
		} else {
			c.chunk.Emit(bytecode.OpConstInt8, 0, e.Pos().Line)
		}
		c.chunk.Emit(bytecode.OpMakeChannel, 0, e.Pos().Line)
	case *ast.GoSpawn:
		c.compileCallArgs(e.Call)
		c.compileExpression(e.Call.Callee)
		c.chunk.Emit(bytecode.OpGoSpawn, len(e.Call.Args), e.Pos().Line)
	case *ast.CastExpr:
		c.compileExpression(e.Value)
		c.chunk.Emit(bytecode.OpCast, c.nameConst(e.TypeName), e.Pos().Line)
	case *ast.TypeCheckExpr:
		c.compileExpression(e.Value)
		c.chunk.Emit(bytecode.OpTypeCheck, c.nameConst(e.TypeName), e.Pos().Line)
	case *ast.Match:
		c.compileMatch(e)
		// compileMatch leaves no value on the stack here either: a match
		// in expression position yields no result. The parser only
		// produces Match as a statement.
	default:
		c.errorf(expr.Pos(), "unsupported expression %T", expr)
	}
}

func (c *Compiler) compileIntLiteral(e *ast.IntegerLiteral) {
	if v, ok := int8InlineValue(e.Value); ok {
		c.chunk.Emit(bytecode.OpConstInt8, int(v), e.Pos().Line)
		return
	}
	idx := c.chunk.AddConstant(parseInt(e.Value))
	c.chunk.Emit(bytecode.OpConst, idx, e.Pos().Line)
}

func (c *Compiler) compileStringLiteral(e *ast.StringLiteral) {
	if len(e.Parts) == 0 {
		idx := c.chunk.AddConstant(e.Value)
		c.chunk.Emit(bytecode.OpConst, idx, e.Pos().Line)
		return
	}
	// String interpolation lowers to ToString + concatenation (Add on
	// strings), per SPEC_FULL.md's supplemented-features section.
	first := true
	for _, part := range e.Parts {
		if part.Expr != nil {
			c.compileExpression(part.Expr)
			c.chunk.Emit(bytecode.OpToString, 0, e.Pos().Line)
		} else {
			idx := c.chunk.AddConstant(part.Text)
			c.chunk.Emit(bytecode.OpConst, idx, e.Pos().Line)
		}
		if !first {
			c.chunk.Emit(bytecode.OpAdd, 0, e.Pos().Line)
		}
		first = false
	}
}

func (c *Compiler) compileIdentifier(e *ast.Identifier) {
	sym, ok := c.syms.Resolve(e.Name)
	if !ok {
		c.errorf(e.Pos(), "undefined name %q", e.Name)
		return
	}
	switch sym.Scope {
	case symtab.ScopeGlobal:
		c.chunk.Emit(bytecode.OpGetGlobal, c.nameConst(e.Name), e.Pos().Line)
	case symtab.ScopeFree:
		c.chunk.Emit(bytecode.OpGetFree, sym.Index, e.Pos().Line)
	default:
		c.chunk.Emit(bytecode.OpGetLocal, sym.Index, e.Pos().Line)
	}
}

func (c *Compiler) compileAssignment(e *ast.Assignment) {
	switch target := e.Target.(type) {
	case *ast.Identifier:
		sym, ok := c.syms.Resolve(target.Name)
		if !ok {
			c.compileExpression(e.Value)
			c.errorf(e.Pos(), "undefined name %q", target.Name)
			return
		}
		if sym.IsConst {
			c.compileExpression(e.Value)
			c.errorf(e.Pos(), "assignment to constant %q", target.Name)
			return
		}
		c.compileExpression(e.Value)
		switch sym.Scope {
		case symtab.ScopeGlobal:
			c.chunk.Emit(bytecode.OpSetGlobal, c.nameConst(target.Name), e.Pos().Line)
		case symtab.ScopeFree:
			c.chunk.Emit(bytecode.OpSetFree, sym.Index, e.Pos().Line)
		default:
			c.chunk.Emit(bytecode.OpSetLocal, sym.Index, e.Pos().Line)
		}
	case *ast.FieldAccess:
		c.compileExpression(target.Receiver)
		c.compileExpression(e.Value)
		c.chunk.Emit(bytecode.OpSetField, c.nameConst(target.Name), e.Pos().Line)
	case *ast.IndexExpr:
		c.compileExpression(target.Target)
		c.compileExpression(target.Index)
		c.compileExpression(e.Value)
		c.chunk.Emit(bytecode.OpSetIndex, 0, e.Pos().Line)
	default:
		c.errorf(e.Pos(), "invalid assignment target %T", e.Target)
	}
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	if e.Op == "&&" {
		c.compileExpression(e.Left)
		jf := c.chunk.Emit(bytecode.OpJumpIfFalse, -1, e.Pos().Line)
		c.chunk.Emit(bytecode.OpPop, 0, e.Pos().Line)
		c.compileExpression(e.Right)
		c.chunk.Patch(jf, len(c.chunk.Instructions))
		return
	}
	if e.Op == "||" {
		c.compileExpression(e.Left)
		jt := c.chunk.Emit(bytecode.OpJumpIfTrue, -1, e.Pos().Line)
		c.chunk.Emit(bytecode.OpPop, 0, e.Pos().Line)
		c.compileExpression(e.Right)
		c.chunk.Patch(jt, len(c.chunk.Instructions))
		return
	}

	// Superinstruction fusion: `local + int8literal` and `local <= int8literal`.
	// Gated on the symbol's static type tag (spec.md §3/§4.1: "the left
	// operand is a local of a statically integer type") — a local whose
	// declared/inferred type isn't known-int must fall through to the
	// generic OpAdd/OpLe path instead of the unfused-check-free opcode, or
	// a valid float local (e.g. `var x = 1.5; x + 1`) would type-assert to
	// int64 in the VM and panic.
	if lit, ok := e.Right.(*ast.IntegerLiteral); ok {
		if ident, ok := e.Left.(*ast.Identifier); ok {
			if sym, ok := c.syms.Resolve(ident.Name); ok && sym.Scope == symtab.ScopeLocal && sym.TypeTag == symtab.TypeInt {
				if imm, ok := int8InlineValue(lit.Value); ok {
					switch e.Op {
					case "+":
						c.chunk.Emit(bytecode.OpGetLocalAddInt, bytecode.Pack(sym.Index, int(imm)&0xFFFF), e.Pos().Line)
						return
					case "<=":
						c.chunk.Emit(bytecode.OpGetLocalLeInt, bytecode.Pack(sym.Index, int(imm)&0xFFFF), e.Pos().Line)
						return
					}
				}
			}
		}
	}
	// Fusion: `localA + localB`, gated the same way on both operands.
	if e.Op == "+" {
		if la, ok := e.Left.(*ast.Identifier); ok {
			if lb, ok := e.Right.(*ast.Identifier); ok {
				sa, oka := c.syms.Resolve(la.Name)
				sb, okb := c.syms.Resolve(lb.Name)
				if oka && okb && sa.Scope == symtab.ScopeLocal && sb.Scope == symtab.ScopeLocal &&
					sa.TypeTag == symtab.TypeInt && sb.TypeTag == symtab.TypeInt {
					c.chunk.Emit(bytecode.OpAddLocals, bytecode.Pack(sa.Index, sb.Index), e.Pos().Line)
					return
				}
			}
		}
	}

	c.compileExpression(e.Left)
	c.compileExpression(e.Right)
	op := binaryOp(e.Op)
	c.chunk.Emit(op, 0, e.Pos().Line)
}

func binaryOp(op string) bytecode.Opcode {
	switch op {
	case "+":
		return bytecode.OpAdd
	case "-":
		return bytecode.OpSub
	case "*":
		return bytecode.OpMul
	case "/":
		return bytecode.OpDiv
	case "%":
		return bytecode.OpMod
	case "^":
		return bytecode.OpPow
	case "==":
		return bytecode.OpEq
	case "!=":
		return bytecode.OpNe
	case "<":
		return bytecode.OpLt
	case "<=":
		return bytecode.OpLe
	case ">":
		return bytecode.OpGt
	case ">=":
		return bytecode.OpGe
	default:
		return bytecode.OpAdd
	}
}

func (c *Compiler) compileCallArgs(call *ast.Call) {
	// Named-argument reordering happens here: if any Arg has a Name, the
	// compiler must know the callee's declared parameter order. For a
	// call to a known top-level function this is available from
	// chunk.Functions; otherwise args are pushed in source order.
	if ident, ok := call.Callee.(*ast.Identifier); ok {
		if fi, ok := c.chunk.Functions[ident.Name]; ok && hasNamedArg(call.Args) {
			ordered := reorderArgs(call.Args, fi.ParamNames)
			for _, a := range ordered {
				c.compileExpression(a)
			}
			return
		}
	}
	for _, a := range call.Args {
		c.compileExpression(a.Value)
	}
}

func hasNamedArg(args []ast.Arg) bool {
	for _, a := range args {
		if a.Name != "" {
			return true
		}
	}
	return false
}

func reorderArgs(args []ast.Arg, paramNames []string) []ast.Expression {
	byName := map[string]ast.Expression{}
	var positional []ast.Expression
	for _, a := range args {
		if a.Name != "" {
			byName[a.Name] = a.Value
		} else {
			positional = append(positional, a.Value)
		}
	}
	out := make([]ast.Expression, len(paramNames))
	pi := 0
	for i, name := range paramNames {
		if v, ok := byName[name]; ok {
			out[i] = v
			continue
		}
		if pi < len(positional) {
			out[i] = positional[pi]
			pi++
		}
	}
	return out
}

// builtinCall describes one of the spec's "Built-ins" opcode family
// (§4.1) as it's spelled at the call site: a bare identifier call with a
// fixed arity, e.g. `println(x)`, `sizeof(v)`, `time()`. These bypass
// OpCall entirely — there is no global named "println" to resolve.
type builtinCall struct {
	op    bytecode.Opcode
	arity int
}

var builtinCalls = map[string]builtinCall{
	"print":    {bytecode.OpPrint, 1},
	"println":  {bytecode.OpPrintLn, 1},
	"tostring": {bytecode.OpToString, 1},
	"typeof":   {bytecode.OpTypeOf, 1},
	"typeinfo": {bytecode.OpTypeInfo, 1},
	"sizeof":   {bytecode.OpSizeOf, 1},
	"panic":    {bytecode.OpPanic, 1},
	"time":     {bytecode.OpTime, 0},
}

func (c *Compiler) compileCall(e *ast.Call) {
	if ident, ok := e.Callee.(*ast.Identifier); ok {
		if b, ok := builtinCalls[ident.Name]; ok && len(e.Args) == b.arity {
			for _, a := range e.Args {
				c.compileExpression(a.Value)
			}
			c.chunk.Emit(b.op, 0, e.Pos().Line)
			return
		}
	}
	c.compileCallArgs(e)
	c.compileExpression(e.Callee)
	c.chunk.Emit(bytecode.OpCall, len(e.Args), e.Pos().Line)
}

func (c *Compiler) compileMethodCall(e *ast.MethodCall) {
	c.compileExpression(e.Receiver)
	for _, a := range e.Args {
		c.compileExpression(a.Value)
	}
	op := bytecode.OpInvokeMethod
	switch {
	case e.IsSuper:
		op = bytecode.OpInvokeSuper
	case e.Safe:
		op = bytecode.OpSafeInvokeMethod
	case e.NonNull:
		op = bytecode.OpNonNullInvokeMethod
	}
	c.chunk.Emit(op, bytecode.Pack(c.nameConst(e.Name), len(e.Args)), e.Pos().Line)
}

func (c *Compiler) compileStaticAccess(e *ast.StaticAccess) {
	classIdx := c.nameConst(e.ClassName)
	if e.IsCall {
		for _, a := range e.Args {
			c.compileExpression(a.Value)
		}
		c.chunk.Emit(bytecode.OpInvokeStatic, bytecode.Pack(classIdx, c.nameConst(e.Name)), e.Pos().Line)
		return
	}
	c.chunk.Emit(bytecode.OpGetStatic, bytecode.Pack(classIdx, c.nameConst(e.Name)), e.Pos().Line)
}

func (c *Compiler) compileNewExpr(e *ast.NewExpr) {
	for _, a := range e.Args {
		c.compileExpression(a.Value)
	}
	c.chunk.Emit(bytecode.OpNewClass, bytecode.Pack(c.nameConst(e.ClassName), len(e.Args)), e.Pos().Line)
}

func (c *Compiler) compileNewStructExpr(e *ast.NewStructExpr) {
	for _, f := range e.Fields {
		c.compileExpression(f.Value)
	}
	info := bytecode.Pack(c.nameConst(e.StructName), len(e.Fields))
	c.chunk.Emit(bytecode.OpNewStruct, info, e.Pos().Line)
}

func (c *Compiler) compileClosure(e *ast.ClosureExpr) {
	entryIdx := c.chunk.AddConstant(nil)
	descIdx := c.chunk.AddConstant(nil)
	jumpOverIP := c.chunk.Emit(bytecode.OpJump, -1, e.Pos().Line)
	entry := len(c.chunk.Instructions)

	outer := c.syms
	inner := symtab.NewEnclosed(outer)
	c.syms = inner
	for _, p := range e.Params {
		c.syms.DefineTyped(p.Name, paramTypeTag(p), false)
	}
	for _, st := range e.Body.Statements {
		c.compileStatement(st)
	}
	c.ensureImplicitReturn(false)
	c.syms = outer

	c.chunk.Patch(jumpOverIP, len(c.chunk.Instructions))
	c.chunk.Constants[entryIdx] = entry
	c.chunk.Constants[descIdx] = &bytecode.FuncInfo{Name: "<closure>", ParamNames: paramNames(e.Params), ConstIndex: entryIdx}

	free := inner.FreeSymbols()
	for _, sym := range free {
		// Each free symbol resolved inside the closure body against an
		// enclosing scope; push its current binding from here, at
		// closure-creation time, in capture order.
		switch sym.Scope {
		case symtab.ScopeGlobal:
			c.chunk.Emit(bytecode.OpGetGlobal, c.nameConst(sym.Name), e.Pos().Line)
		case symtab.ScopeFree:
			c.chunk.Emit(bytecode.OpGetFree, sym.Index, e.Pos().Line)
		default:
			c.chunk.Emit(bytecode.OpGetLocal, sym.Index, e.Pos().Line)
		}
	}
	c.chunk.Emit(bytecode.OpMakeClosure, bytecode.Pack(descIdx, len(free)), e.Pos().Line)
}

// int8InlineValue reports whether a decimal literal fits the
// ConstInt8 fast path (spec.md §8's boundary: -128 and 127 emit
// ConstInt8; -129 and 128 emit Const).
func int8InlineValue(lit string) (int8, bool) {
	n := parseInt(lit)
	if n >= -128 && n <= 127 {
		return int8(n), true
	}
	return 0, false
}

func parseInt(s string) int64 {
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var n int64
	for _, r := range s {
		n = n*10 + int64(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func parseFloat(s string) float64 {
	var intPart, fracPart int64
	var fracDigits int
	neg := false
	i := 0
	if len(s) > 0 && s[0] == '-' {
		neg = true
		i = 1
	}
	for ; i < len(s) && s[i] != '.'; i++ {
		intPart = intPart*10 + int64(s[i]-'0')
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s); i++ {
			fracPart = fracPart*10 + int64(s[i]-'0')
			fracDigits++
		}
	}
	f := float64(intPart)
	if fracDigits > 0 {
		div := 1.0
		for j := 0; j < fracDigits; j++ {
			div *= 10
		}
		f += float64(fracPart) / div
	}
	if neg {
		f = -f
	}
	return f
}
