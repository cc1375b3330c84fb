// Package types implements the structural type checker spec.md §1 treats
// as an external collaborator — here only to the depth needed to drive
// real .ql programs through the CLI end to end (§4.6 of SPEC_FULL.md):
// arity/undefined-name/duplicate-definition checking, abstract-class
// instantiation rejection, interface/trait conformance by name-set
// comparison, and package-name-vs-project.toml matching. It is
// deliberately not a full inference or generics engine.
package types

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/quilllang/quill/pkg/ast"
)

// MonoRequest names a generic definition plus a concrete type-argument
// tuple. Check never creates one, so MonoRequests always returns an
// empty list, and nothing downstream specializes generic calls; the
// compiler treats them as already monomorphized by name.
type MonoRequest struct {
	Generic  string
	TypeArgs []string
}

// PackageMismatch is spec.md §8 scenario 6's exact error shape.
type PackageMismatch struct {
	Expected string
	Actual   string
}

func (e *PackageMismatch) Error() string {
	return fmt.Sprintf("PackageMismatch { expected: %q, actual: %q }", e.Expected, e.Actual)
}

type funcSig struct {
	params   []ast.Param
	variadic bool
}

// Checker accumulates type/compile errors across one merged program.
type Checker struct {
	errs *multierror.Error

	funcs      map[string]funcSig
	classes    map[string]*ast.ClassDecl
	structs    map[string]*ast.StructDecl
	enums      map[string]*ast.EnumDecl
	interfaces map[string]*ast.InterfaceDecl
	traits     map[string]*ast.TraitDecl

	monoRequests []MonoRequest
}

// New creates an empty Checker.
func New() *Checker {
	return &Checker{
		funcs:      map[string]funcSig{},
		classes:    map[string]*ast.ClassDecl{},
		structs:    map[string]*ast.StructDecl{},
		enums:      map[string]*ast.EnumDecl{},
		interfaces: map[string]*ast.InterfaceDecl{},
		traits:     map[string]*ast.TraitDecl{},
	}
}

// MonoRequests returns every monomorphization request observed during Check.
func (c *Checker) MonoRequests() []MonoRequest { return c.monoRequests }

func (c *Checker) errorf(pos ast.Position, format string, args ...interface{}) {
	c.errs = multierror.Append(c.errs, fmt.Errorf("%d:%d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...)))
}

func (c *Checker) addErr(err error) {
	c.errs = multierror.Append(c.errs, err)
}

// Check runs all structural checks over program. expectedPackage is the
// empty string in standalone mode; standalone disables the package-decl
// and main-function requirements per spec.md §6.
func (c *Checker) Check(program *ast.Program, expectedPackage string, standalone bool) error {
	c.checkPackage(program, expectedPackage, standalone)
	c.registerTopLevel(program.Statements)
	c.checkConformance()
	if !standalone {
		c.checkMain(program.Statements)
		c.checkNoTopLevelCode(program.Statements)
	}
	top := newScope(nil)
	for _, stmt := range program.Statements {
		c.checkStatement(stmt, top)
	}
	if c.errs != nil {
		return c.errs.ErrorOrNil()
	}
	return nil
}

func (c *Checker) checkPackage(program *ast.Program, expectedPackage string, standalone bool) {
	if standalone {
		if program.Package != "" {
			c.errorf(ast.Position{}, "standalone mode permits no package declaration, found %q", program.Package)
		}
		return
	}
	if program.Package != "" && program.Package != expectedPackage {
		c.addErr(&PackageMismatch{Expected: expectedPackage, Actual: program.Package})
	}
}

func (c *Checker) checkMain(stmts []ast.Statement) {
	for _, stmt := range stmts {
		if fn, ok := stmt.(*ast.FunctionDecl); ok && fn.Name == "main" {
			if len(fn.Params) != 0 {
				c.errorf(fn.Position, "main must take no parameters")
			}
			if fn.ReturnType != "" {
				c.errorf(fn.Position, "main must not declare a return type")
			}
			return
		}
	}
	c.errorf(ast.Position{}, "missing main function")
}

// checkNoTopLevelCode rejects bare statements at the top level of a
// project-mode file: in that mode, a file is a library of declarations
// that `main` (or an importer) calls into, not a script that runs
// top-to-bottom the way a standalone file does.
func (c *Checker) checkNoTopLevelCode(stmts []ast.Statement) {
	for _, stmt := range stmts {
		switch stmt.(type) {
		case *ast.FunctionDecl, *ast.ClassDecl, *ast.StructDecl, *ast.EnumDecl,
			*ast.InterfaceDecl, *ast.TraitDecl:
			// declarations are always fine at the top level
		default:
			c.errorf(stmt.Pos(), "top-level code not allowed outside a function in project mode")
		}
	}
}

// registerTopLevel collects every named top-level definition, flagging
// duplicates across *all* categories (a class can't reuse a function's
// name, etc) since they all share one namespace for call/construct sites.
func (c *Checker) registerTopLevel(stmts []ast.Statement) {
	seen := map[string]ast.Position{}
	declare := func(name string, pos ast.Position) bool {
		if prev, ok := seen[name]; ok {
			c.errorf(pos, "duplicate definition of %q (first defined at %d:%d)", name, prev.Line, prev.Column)
			return false
		}
		seen[name] = pos
		return true
	}

	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.FunctionDecl:
			if declare(s.Name, s.Position) {
				c.funcs[s.Name] = funcSig{params: s.Params}
			}
		case *ast.ClassDecl:
			if declare(s.Name, s.Position) {
				c.classes[s.Name] = s
			}
		case *ast.StructDecl:
			if declare(s.Name, s.Position) {
				c.structs[s.Name] = s
			}
		case *ast.EnumDecl:
			if declare(s.Name, s.Position) {
				c.enums[s.Name] = s
			}
		case *ast.InterfaceDecl:
			if declare(s.Name, s.Position) {
				c.interfaces[s.Name] = s
			}
		case *ast.TraitDecl:
			if declare(s.Name, s.Position) {
				c.traits[s.Name] = s
			}
		}
	}
}

// checkConformance validates each class's interface/trait list by a
// name-set comparison against required method names, and rejects direct
// instantiation of abstract classes (caught separately in expression
// walking via NewExpr).
func (c *Checker) checkConformance() {
	for _, cd := range c.classes {
		have := map[string]bool{}
		for _, m := range cd.Methods {
			have[m.Name] = true
		}
		// walk parent chain so inherited methods count toward conformance
		for p := cd.Parent; p != ""; {
			parent, ok := c.classes[p]
			if !ok {
				break
			}
			for _, m := range parent.Methods {
				have[m.Name] = true
			}
			p = parent.Parent
		}

		for _, ifaceName := range cd.Interfaces {
			iface, ok := c.interfaces[ifaceName]
			if !ok {
				c.errorf(cd.Position, "class %q conforms to undefined interface %q", cd.Name, ifaceName)
				continue
			}
			for _, m := range iface.Methods {
				if !have[m.Name] {
					c.errorf(cd.Position, "class %q missing interface %q method %q", cd.Name, ifaceName, m.Name)
				}
			}
		}
		for _, traitName := range cd.Traits {
			trait, ok := c.traits[traitName]
			if !ok {
				c.errorf(cd.Position, "class %q uses undefined trait %q", cd.Name, traitName)
				continue
			}
			for _, m := range trait.Methods {
				if m.Body == nil && !have[m.Name] {
					c.errorf(cd.Position, "class %q missing trait %q method %q (no default body)", cd.Name, traitName, m.Name)
				}
			}
		}
		if cd.Parent != "" {
			if parent, ok := c.classes[cd.Parent]; ok {
				_ = parent
			} else {
				c.errorf(cd.Position, "class %q extends undefined class %q", cd.Name, cd.Parent)
			}
		}
	}
}

// scope is a lexical chain of declared names used for undefined-name
// checking; it does not track types, only presence.
type scope struct {
	parent *scope
	names  map[string]bool
}

func newScope(parent *scope) *scope { return &scope{parent: parent, names: map[string]bool{}} }

func (s *scope) define(name string) { s.names[name] = true }

func (s *scope) resolves(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}

// builtinCallNames is the spec.md §4.1 "Built-ins" opcode family as it's
// spelled at a call site (print/println/tostring/typeof/typeinfo/sizeof/
// panic/time). These never resolve through the ordinary name-lookup
// path — pkg/compiler emits them directly as their own opcode — so the
// checker must not flag them as undefined names.
var builtinCallNames = map[string]bool{
	"print": true, "println": true, "tostring": true, "typeof": true,
	"typeinfo": true, "sizeof": true, "panic": true, "time": true,
}

// isBuiltinCallee reports whether callee is a bare identifier naming one
// of the built-in call forms above.
func isBuiltinCallee(callee ast.Expression) bool {
	id, ok := callee.(*ast.Identifier)
	return ok && builtinCallNames[id.Name]
}

func (c *Checker) knownTopLevel(name string) bool {
	if _, ok := c.funcs[name]; ok {
		return true
	}
	if _, ok := c.classes[name]; ok {
		return true
	}
	if _, ok := c.structs[name]; ok {
		return true
	}
	if _, ok := c.enums[name]; ok {
		return true
	}
	return false
}

func (c *Checker) checkStatement(stmt ast.Statement, sc *scope) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		c.checkExpr(s.Expression, sc)
	case *ast.VariableDeclaration:
		if s.Value != nil {
			c.checkExpr(s.Value, sc)
		}
		sc.define(s.Name)
	case *ast.Block:
		inner := newScope(sc)
		for _, st := range s.Statements {
			c.checkStatement(st, inner)
		}
	case *ast.If:
		c.checkExpr(s.Condition, sc)
		c.checkStatement(s.Then, sc)
		if s.Else != nil {
			c.checkStatement(s.Else, sc)
		}
	case *ast.ForC:
		inner := newScope(sc)
		if s.Init != nil {
			c.checkStatement(s.Init, inner)
		}
		if s.Condition != nil {
			c.checkExpr(s.Condition, inner)
		}
		if s.Post != nil {
			c.checkStatement(s.Post, inner)
		}
		c.checkStatement(s.Body, inner)
	case *ast.ForIn:
		c.checkExpr(s.Iterable, sc)
		inner := newScope(sc)
		inner.define(s.VarName)
		c.checkStatement(s.Body, inner)
	case *ast.Return:
		if s.Value != nil {
			c.checkExpr(s.Value, sc)
		}
	case *ast.Throw:
		c.checkExpr(s.Value, sc)
	case *ast.GoSpawn:
		c.checkExpr(s.Call, sc)
	case *ast.Match:
		c.checkExpr(s.Scrutinee, sc)
		for _, arm := range s.Arms {
			inner := newScope(sc)
			if arm.Literal != nil {
				c.checkExpr(arm.Literal, sc)
			}
			if arm.RangeLow != nil {
				c.checkExpr(arm.RangeLow, sc)
			}
			if arm.RangeHigh != nil {
				c.checkExpr(arm.RangeHigh, sc)
			}
			if arm.BindName != "" {
				inner.define(arm.BindName)
			}
			c.checkStatement(arm.Body, inner)
		}
	case *ast.Try:
		c.checkStatement(s.Body, sc)
		for _, cat := range s.Catches {
			inner := newScope(sc)
			if cat.Param != "" {
				inner.define(cat.Param)
			}
			c.checkStatement(cat.Body, inner)
		}
		if s.Finally != nil {
			c.checkStatement(s.Finally, sc)
		}
	case *ast.FunctionDecl:
		c.checkFunctionBody(s.Params, s.Body, sc)
	case *ast.ClassDecl:
		for _, m := range s.Methods {
			inner := newScope(sc)
			inner.define("this")
			if m.Body != nil {
				c.checkFunctionBody(m.Params, m.Body, inner)
			}
		}
	case *ast.StructDecl, *ast.EnumDecl, *ast.InterfaceDecl, *ast.TraitDecl:
		// no executable bodies to walk beyond what registerTopLevel recorded
	case *ast.Break, *ast.Continue:
		// nothing to resolve
	}
}

func (c *Checker) checkFunctionBody(params []ast.Param, body *ast.Block, sc *scope) {
	inner := newScope(sc)
	for _, p := range params {
		inner.define(p.Name)
	}
	for _, st := range body.Statements {
		c.checkStatement(st, inner)
	}
}

func (c *Checker) checkExpr(expr ast.Expression, sc *scope) {
	switch e := expr.(type) {
	case *ast.Identifier:
		if !sc.resolves(e.Name) && !c.knownTopLevel(e.Name) {
			c.errorf(e.Position, "undefined name %q", e.Name)
		}
	case *ast.Assignment:
		c.checkExpr(e.Target, sc)
		c.checkExpr(e.Value, sc)
	case *ast.BinaryExpr:
		c.checkExpr(e.Left, sc)
		c.checkExpr(e.Right, sc)
	case *ast.UnaryExpr:
		c.checkExpr(e.Operand, sc)
	case *ast.Call:
		if !isBuiltinCallee(e.Callee) {
			c.checkExpr(e.Callee, sc)
			c.checkArity(e, sc)
		}
		for _, a := range e.Args {
			c.checkExpr(a.Value, sc)
		}
	case *ast.FieldAccess:
		c.checkExpr(e.Receiver, sc)
	case *ast.MethodCall:
		c.checkExpr(e.Receiver, sc)
		for _, a := range e.Args {
			c.checkExpr(a.Value, sc)
		}
	case *ast.StaticAccess:
		for _, a := range e.Args {
			c.checkExpr(a.Value, sc)
		}
	case *ast.IndexExpr:
		c.checkExpr(e.Target, sc)
		c.checkExpr(e.Index, sc)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			c.checkExpr(el, sc)
		}
	case *ast.MapLiteral:
		for _, ent := range e.Entries {
			c.checkExpr(ent.Key, sc)
			c.checkExpr(ent.Value, sc)
		}
	case *ast.RangeExpr:
		c.checkExpr(e.Start, sc)
		c.checkExpr(e.End, sc)
	case *ast.NewExpr:
		if cd, ok := c.classes[e.ClassName]; ok && cd.IsAbstract {
			c.errorf(e.Position, "cannot instantiate abstract class %q", e.ClassName)
		} else if !ok {
			c.errorf(e.Position, "undefined class %q", e.ClassName)
		}
		for _, a := range e.Args {
			c.checkExpr(a.Value, sc)
		}
	case *ast.NewStructExpr:
		if _, ok := c.structs[e.StructName]; !ok {
			c.errorf(e.Position, "undefined struct %q", e.StructName)
		}
		for _, f := range e.Fields {
			c.checkExpr(f.Value, sc)
		}
	case *ast.ClosureExpr:
		c.checkFunctionBody(e.Params, e.Body, sc)
	case *ast.ChannelMake:
		if e.Capacity != nil {
			c.checkExpr(e.Capacity, sc)
		}
	case *ast.CastExpr:
		c.checkExpr(e.Value, sc)
	case *ast.TypeCheckExpr:
		c.checkExpr(e.Value, sc)
	case *ast.GoSpawn:
		c.checkExpr(e.Call, sc)
	case *ast.Match:
		c.checkStatement(e, sc)
	case *ast.StringLiteral:
		for _, part := range e.Parts {
			if part.Expr != nil {
				c.checkExpr(part.Expr, sc)
			}
		}
	}
}

// checkArity validates a direct call to a known top-level function: either
// the positional argument count matches, or every argument is named and
// the name set exactly matches the function's parameter names (spec.md
// §8 scenario 3's named-argument call form).
func (c *Checker) checkArity(call *ast.Call, sc *scope) {
	id, ok := call.Callee.(*ast.Identifier)
	if !ok {
		return
	}
	sig, ok := c.funcs[id.Name]
	if !ok {
		return
	}
	named := false
	for _, a := range call.Args {
		if a.Name != "" {
			named = true
		}
	}
	if named {
		want := map[string]bool{}
		for _, p := range sig.params {
			want[p.Name] = true
		}
		if len(call.Args) != len(sig.params) {
			c.errorf(call.Position, "%q expects %d arguments, got %d", id.Name, len(sig.params), len(call.Args))
			return
		}
		for _, a := range call.Args {
			if a.Name == "" || !want[a.Name] {
				c.errorf(call.Position, "%q has no parameter named %q", id.Name, a.Name)
			}
		}
		return
	}
	if len(call.Args) != len(sig.params) {
		c.errorf(call.Position, "%q expects %d arguments, got %d", id.Name, len(sig.params), len(call.Args))
	}
}
