// Package parser implements a recursive-descent parser for Quill source.
//
// Like the teacher's parser, it keeps a 2-token lookahead (cur/peek) and
// accumulates errors instead of stopping at the first one (panic-mode
// recovery: on a malformed statement it records an error and skips tokens
// until the next statement boundary, per spec.md §9's parser note).
package parser

import (
	"fmt"

	"github.com/quilllang/quill/pkg/ast"
	"github.com/quilllang/quill/pkg/lexer"
)

// precedence levels, low to high
const (
	_ int = iota
	precLowest
	precAssign
	precOr
	precAnd
	precEquality
	precComparison
	precAdditive
	precMultiplicative
	precUnary
	precPower
	precCall
	precIndex
)

var precedences = map[lexer.TokenType]int{
	lexer.TokenAssign:      precAssign,
	lexer.TokenOr:          precOr,
	lexer.TokenAnd:         precAnd,
	lexer.TokenEqualEqual:  precEquality,
	lexer.TokenNotEqual:    precEquality,
	lexer.TokenLess:        precComparison,
	lexer.TokenLessEq:      precComparison,
	lexer.TokenGreater:     precComparison,
	lexer.TokenGreaterEq:   precComparison,
	lexer.TokenIs:          precComparison,
	lexer.TokenAs:          precComparison,
	lexer.TokenDotDot:      precComparison,
	lexer.TokenPlus:        precAdditive,
	lexer.TokenMinus:       precAdditive,
	lexer.TokenStar:        precMultiplicative,
	lexer.TokenSlash:       precMultiplicative,
	lexer.TokenPercent:     precMultiplicative,
	lexer.TokenCaret:       precPower,
	lexer.TokenLParen:      precCall,
	lexer.TokenDot:         precCall,
	lexer.TokenQuestionDot: precCall,
	lexer.TokenBangDot:     precCall,
	lexer.TokenLBracket:    precIndex,
}

// Parser turns a token stream into a *ast.Program.
type Parser struct {
	l *lexer.Lexer

	cur, peek lexer.Token
	errors    []string
}

// New creates a Parser over the given lexer.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}
	p.next()
	p.next()
	return p
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) pos() ast.Position { return ast.Position{Line: p.cur.Line, Column: p.cur.Column} }

func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("%d:%d: %s", p.cur.Line, p.cur.Column, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

func (p *Parser) expect(tt lexer.TokenType) lexer.Token {
	if p.cur.Type != tt {
		p.errorf("expected %s, got %s (%q)", tt, p.cur.Type, p.cur.Literal)
		p.synchronize()
		return p.cur
	}
	t := p.cur
	p.next()
	return t
}

// synchronize discards tokens until a likely statement boundary, so one
// malformed statement doesn't cascade into spurious follow-on errors.
func (p *Parser) synchronize() {
	for p.cur.Type != lexer.TokenEOF {
		if p.cur.Type == lexer.TokenRBrace {
			return
		}
		switch p.peek.Type {
		case lexer.TokenFunc, lexer.TokenVar, lexer.TokenIf, lexer.TokenFor,
			lexer.TokenReturn, lexer.TokenClass, lexer.TokenStruct,
			lexer.TokenEnum, lexer.TokenMatch, lexer.TokenTry:
			p.next()
			return
		}
		p.next()
	}
}

// ParseProgram parses an entire source file.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}

	if p.cur.Type == lexer.TokenPackage {
		p.next()
		prog.Package = p.expect(lexer.TokenIdentifier).Literal
		for p.cur.Type == lexer.TokenDot {
			p.next()
			prog.Package += "." + p.expect(lexer.TokenIdentifier).Literal
		}
	}

	for p.cur.Type == lexer.TokenImport {
		prog.Imports = append(prog.Imports, p.parseImport())
	}

	for p.cur.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
	}
	return prog
}

func (p *Parser) parseImport() *ast.Import {
	pos := p.pos()
	p.next() // consume 'import'
	imp := &ast.Import{Position: pos}
	path := p.expect(lexer.TokenIdentifier).Literal
	for p.cur.Type == lexer.TokenDot {
		p.next()
		if p.cur.Type == lexer.TokenStar {
			p.next()
			imp.Wildcard = true
			imp.Path = path
			return imp
		}
		if p.cur.Type == lexer.TokenLBrace {
			p.next()
			for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
				imp.Names = append(imp.Names, p.expect(lexer.TokenIdentifier).Literal)
				if p.cur.Type == lexer.TokenComma {
					p.next()
				}
			}
			p.expect(lexer.TokenRBrace)
			imp.Path = path
			return imp
		}
		ident := p.expect(lexer.TokenIdentifier).Literal
		path = path + "." + ident
	}
	// last segment is the single imported name
	idx := len(path)
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			idx = i
			break
		}
	}
	if idx < len(path) {
		imp.Path = path[:idx]
		imp.Single = path[idx+1:]
	} else {
		imp.Path = path
	}
	return imp
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case lexer.TokenVar, lexer.TokenConst:
		return p.parseVarDecl()
	case lexer.TokenFunc:
		return p.parseFunctionDecl()
	case lexer.TokenClass:
		return p.parseClassDecl(false)
	case lexer.TokenAbstract:
		p.next()
		return p.parseClassDecl(true)
	case lexer.TokenStruct:
		return p.parseStructDecl()
	case lexer.TokenEnum:
		return p.parseEnumDecl()
	case lexer.TokenInterface:
		return p.parseInterfaceDecl()
	case lexer.TokenTrait:
		return p.parseTraitDecl()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenFor:
		return p.parseFor("")
	case lexer.TokenIdentifier:
		if p.peek.Type == lexer.TokenDefine {
			pos := p.pos()
			name := p.cur.Literal
			p.next()
			p.next()
			val := p.parseExpression(precLowest)
			return &ast.VariableDeclaration{Position: pos, Name: name, Value: val}
		}
		if p.peek.Type == lexer.TokenColon {
			label := p.cur.Literal
			p.next()
			p.next()
			if p.cur.Type == lexer.TokenFor {
				return p.parseFor(label)
			}
			p.errorf("label must precede a for loop")
			return nil
		}
	case lexer.TokenBreak:
		pos := p.pos()
		p.next()
		label := ""
		if p.cur.Type == lexer.TokenIdentifier {
			label = p.cur.Literal
			p.next()
		}
		return &ast.Break{Position: pos, Label: label}
	case lexer.TokenContinue:
		pos := p.pos()
		p.next()
		label := ""
		if p.cur.Type == lexer.TokenIdentifier {
			label = p.cur.Literal
			p.next()
		}
		return &ast.Continue{Position: pos, Label: label}
	case lexer.TokenReturn:
		pos := p.pos()
		p.next()
		var val ast.Expression
		if p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenSemicolon {
			val = p.parseExpression(precLowest)
		}
		return &ast.Return{Position: pos, Value: val}
	case lexer.TokenThrow:
		pos := p.pos()
		p.next()
		val := p.parseExpression(precLowest)
		return &ast.Throw{Position: pos, Value: val}
	case lexer.TokenTry:
		return p.parseTry()
	case lexer.TokenMatch:
		return p.parseMatch()
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenSemicolon:
		p.next()
		return nil
	}
	expr := p.parseExpression(precLowest)
	return &ast.ExpressionStatement{Expression: expr}
}

func (p *Parser) parseVarDecl() ast.Statement {
	pos := p.pos()
	isConst := p.cur.Type == lexer.TokenConst
	p.next()
	name := p.expect(lexer.TokenIdentifier).Literal
	var typ string
	if p.cur.Type == lexer.TokenColon {
		p.next()
		typ = p.parseTypeName()
	}
	var val ast.Expression
	if p.cur.Type == lexer.TokenAssign {
		p.next()
		val = p.parseExpression(precLowest)
	}
	return &ast.VariableDeclaration{Position: pos, Name: name, Type: typ, Value: val, IsConst: isConst}
}

func (p *Parser) parseTypeName() string {
	name := p.expect(lexer.TokenIdentifier).Literal
	if p.cur.Type == lexer.TokenLess {
		name += "<"
		p.next()
		for p.cur.Type != lexer.TokenGreater && p.cur.Type != lexer.TokenEOF {
			name += p.parseTypeName()
			if p.cur.Type == lexer.TokenComma {
				name += ","
				p.next()
			}
		}
		p.expect(lexer.TokenGreater)
		name += ">"
	}
	if p.cur.Type == lexer.TokenLBracket {
		p.next()
		p.expect(lexer.TokenRBracket)
		name += "[]"
	}
	return name
}

func (p *Parser) parseBlock() *ast.Block {
	pos := p.pos()
	p.expect(lexer.TokenLBrace)
	blk := &ast.Block{Position: pos}
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		if stmt != nil {
			blk.Statements = append(blk.Statements, stmt)
		}
	}
	p.expect(lexer.TokenRBrace)
	return blk
}

func (p *Parser) parseParams() []ast.Param {
	var params []ast.Param
	p.expect(lexer.TokenLParen)
	for p.cur.Type != lexer.TokenRParen && p.cur.Type != lexer.TokenEOF {
		field := false
		if p.cur.Type == lexer.TokenThis {
			field = true
			p.next()
			p.expect(lexer.TokenDot)
		}
		name := p.expect(lexer.TokenIdentifier).Literal
		var typ string
		if p.cur.Type == lexer.TokenColon {
			p.next()
			typ = p.parseTypeName()
		}
		params = append(params, ast.Param{Name: name, Type: typ, IsField: field})
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

func (p *Parser) parseFunctionDecl() *ast.FunctionDecl {
	pos := p.pos()
	p.next() // 'func'
	name := p.expect(lexer.TokenIdentifier).Literal
	params := p.parseParams()
	var ret string
	if p.cur.Type == lexer.TokenArrow {
		p.next()
		ret = p.parseTypeName()
	}
	body := p.parseBlock()
	return &ast.FunctionDecl{Position: pos, Name: name, Params: params, ReturnType: ret, Body: body}
}

func (p *Parser) parseClassDecl(isAbstract bool) *ast.ClassDecl {
	pos := p.pos()
	p.next() // 'class'
	name := p.expect(lexer.TokenIdentifier).Literal
	cd := &ast.ClassDecl{Position: pos, Name: name, IsAbstract: isAbstract}
	if p.cur.Type == lexer.TokenExtends {
		p.next()
		cd.Parent = p.expect(lexer.TokenIdentifier).Literal
	}
	if p.cur.Type == lexer.TokenImplements {
		p.next()
		cd.Interfaces = append(cd.Interfaces, p.expect(lexer.TokenIdentifier).Literal)
		for p.cur.Type == lexer.TokenComma {
			p.next()
			cd.Interfaces = append(cd.Interfaces, p.expect(lexer.TokenIdentifier).Literal)
		}
	}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		p.parseClassMember(cd)
	}
	p.expect(lexer.TokenRBrace)
	return cd
}

func (p *Parser) parseClassMember(cd *ast.ClassDecl) {
	isStatic := false
	isAbstract := false
	for p.cur.Type == lexer.TokenStatic || p.cur.Type == lexer.TokenAbstract {
		if p.cur.Type == lexer.TokenStatic {
			isStatic = true
		} else {
			isAbstract = true
		}
		p.next()
	}
	switch p.cur.Type {
	case lexer.TokenInit:
		pos := p.pos()
		p.next()
		params := p.parseParams()
		body := p.parseBlock()
		cd.Methods = append(cd.Methods, &ast.MethodDecl{Position: pos, Name: "init", Params: params, Body: body, IsInit: true})
	case lexer.TokenFunc:
		pos := p.pos()
		p.next()
		name := p.expect(lexer.TokenIdentifier).Literal
		params := p.parseParams()
		var ret string
		if p.cur.Type == lexer.TokenArrow {
			p.next()
			ret = p.parseTypeName()
		}
		var body *ast.Block
		if isAbstract {
			// abstract methods have no body
		} else {
			body = p.parseBlock()
		}
		cd.Methods = append(cd.Methods, &ast.MethodDecl{
			Position: pos, Name: name, Params: params, ReturnType: ret, Body: body,
			IsStatic: isStatic, IsAbstract: isAbstract,
		})
	case lexer.TokenVar, lexer.TokenConst:
		pos := p.pos()
		p.next()
		name := p.expect(lexer.TokenIdentifier).Literal
		var typ string
		if p.cur.Type == lexer.TokenColon {
			p.next()
			typ = p.parseTypeName()
		}
		var def ast.Expression
		if p.cur.Type == lexer.TokenAssign {
			p.next()
			def = p.parseExpression(precLowest)
		}
		cd.Fields = append(cd.Fields, &ast.FieldDecl{Position: pos, Name: name, Type: typ, IsStatic: isStatic, Default: def})
	default:
		p.errorf("unexpected token %s in class body", p.cur.Type)
		p.synchronize()
	}
}

func (p *Parser) parseStructDecl() *ast.StructDecl {
	pos := p.pos()
	p.next()
	name := p.expect(lexer.TokenIdentifier).Literal
	sd := &ast.StructDecl{Position: pos, Name: name}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		fname := p.expect(lexer.TokenIdentifier).Literal
		p.expect(lexer.TokenColon)
		ftype := p.parseTypeName()
		sd.Fields = append(sd.Fields, &ast.FieldDecl{Name: fname, Type: ftype})
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRBrace)
	return sd
}

func (p *Parser) parseEnumDecl() *ast.EnumDecl {
	pos := p.pos()
	p.next()
	name := p.expect(lexer.TokenIdentifier).Literal
	ed := &ast.EnumDecl{Position: pos, Name: name}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		vname := p.expect(lexer.TokenIdentifier).Literal
		variant := &ast.EnumVariant{Name: vname}
		if p.cur.Type == lexer.TokenLParen {
			p.next()
			for p.cur.Type != lexer.TokenRParen && p.cur.Type != lexer.TokenEOF {
				variant.PayloadNames = append(variant.PayloadNames, p.expect(lexer.TokenIdentifier).Literal)
				if p.cur.Type == lexer.TokenComma {
					p.next()
				}
			}
			p.expect(lexer.TokenRParen)
		}
		ed.Variants = append(ed.Variants, variant)
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRBrace)
	return ed
}

func (p *Parser) parseInterfaceDecl() *ast.InterfaceDecl {
	pos := p.pos()
	p.next()
	name := p.expect(lexer.TokenIdentifier).Literal
	id := &ast.InterfaceDecl{Position: pos, Name: name}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		p.expect(lexer.TokenFunc)
		mname := p.expect(lexer.TokenIdentifier).Literal
		params := p.parseParams()
		var ret string
		if p.cur.Type == lexer.TokenArrow {
			p.next()
			ret = p.parseTypeName()
		}
		id.Methods = append(id.Methods, &ast.MethodDecl{Name: mname, Params: params, ReturnType: ret})
	}
	p.expect(lexer.TokenRBrace)
	return id
}

func (p *Parser) parseTraitDecl() *ast.TraitDecl {
	pos := p.pos()
	p.next()
	name := p.expect(lexer.TokenIdentifier).Literal
	td := &ast.TraitDecl{Position: pos, Name: name}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		p.expect(lexer.TokenFunc)
		mname := p.expect(lexer.TokenIdentifier).Literal
		params := p.parseParams()
		var ret string
		if p.cur.Type == lexer.TokenArrow {
			p.next()
			ret = p.parseTypeName()
		}
		var body *ast.Block
		if p.cur.Type == lexer.TokenLBrace {
			body = p.parseBlock()
		}
		td.Methods = append(td.Methods, &ast.MethodDecl{Name: mname, Params: params, ReturnType: ret, Body: body})
	}
	p.expect(lexer.TokenRBrace)
	return td
}

func (p *Parser) parseIf() *ast.If {
	pos := p.pos()
	p.next()
	cond := p.parseExpression(precLowest)
	then := p.parseBlock()
	node := &ast.If{Position: pos, Condition: cond, Then: then}
	if p.cur.Type == lexer.TokenElse {
		p.next()
		if p.cur.Type == lexer.TokenIf {
			node.Else = p.parseIf()
		} else {
			node.Else = p.parseBlock()
		}
	}
	return node
}

func (p *Parser) parseFor(label string) ast.Statement {
	pos := p.pos()
	p.next() // 'for'

	if p.cur.Type == lexer.TokenLBrace {
		body := p.parseBlock()
		return &ast.ForC{Position: pos, Label: label, Body: body}
	}

	// Disambiguate `for x in expr { }` from C-style `for init; cond; post { }`.
	if p.cur.Type == lexer.TokenIdentifier && p.peek.Type == lexer.TokenIn {
		varName := p.cur.Literal
		p.next()
		p.next() // 'in'
		iterable := p.parseExpression(precLowest)
		body := p.parseBlock()
		return &ast.ForIn{Position: pos, Label: label, VarName: varName, Iterable: iterable, Body: body}
	}

	var init ast.Statement
	if p.cur.Type != lexer.TokenSemicolon {
		init = p.parseStatement()
	}
	p.expect(lexer.TokenSemicolon)
	var cond ast.Expression
	if p.cur.Type != lexer.TokenSemicolon {
		cond = p.parseExpression(precLowest)
	}
	p.expect(lexer.TokenSemicolon)
	var post ast.Statement
	if p.cur.Type != lexer.TokenLBrace {
		post = p.parseStatement()
	}
	body := p.parseBlock()
	return &ast.ForC{Position: pos, Label: label, Init: init, Condition: cond, Post: post, Body: body}
}

func (p *Parser) parseTry() *ast.Try {
	pos := p.pos()
	p.next()
	body := p.parseBlock()
	node := &ast.Try{Position: pos, Body: body}
	for p.cur.Type == lexer.TokenCatch {
		p.next()
		p.expect(lexer.TokenLParen)
		param := p.expect(lexer.TokenIdentifier).Literal
		var typeName string
		if p.cur.Type == lexer.TokenColon {
			p.next()
			typeName = p.parseTypeName()
		}
		p.expect(lexer.TokenRParen)
		cbody := p.parseBlock()
		node.Catches = append(node.Catches, &ast.CatchClause{Param: param, TypeName: typeName, Body: cbody})
	}
	if p.cur.Type == lexer.TokenFinally {
		p.next()
		node.Finally = p.parseBlock()
	}
	return node
}

func (p *Parser) parseMatch() ast.Statement {
	pos := p.pos()
	p.next()
	scrutinee := p.parseExpression(precLowest)
	m := &ast.Match{Position: pos, Scrutinee: scrutinee}
	p.expect(lexer.TokenLBrace)
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		arm := &ast.MatchArm{}
		if p.cur.Type == lexer.TokenIdentifier && p.cur.Literal == "_" {
			arm.Wildcard = true
			p.next()
		} else if p.cur.Type == lexer.TokenIdentifier && p.peek.Type == lexer.TokenArrow {
			arm.BindName = p.cur.Literal
			p.next()
		} else {
			lit := p.parseExpression(precComparison + 1)
			if p.cur.Type == lexer.TokenDotDot {
				p.next()
				high := p.parseExpression(precComparison + 1)
				arm.RangeLow, arm.RangeHigh = lit, high
			} else {
				arm.Literal = lit
			}
		}
		p.expect(lexer.TokenArrow)
		if p.cur.Type == lexer.TokenLBrace {
			arm.Body = p.parseBlock()
		} else {
			expr := p.parseExpression(precLowest)
			arm.Body = &ast.Block{Statements: []ast.Statement{&ast.ExpressionStatement{Expression: expr}}}
		}
		m.Arms = append(m.Arms, arm)
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRBrace)
	return m
}

// --- expressions (Pratt parser) ---

func (p *Parser) parseExpression(prec int) ast.Expression {
	left := p.parsePrefix()
	for prec < p.precedenceOf(p.cur.Type) {
		left = p.parseInfix(left)
	}
	return left
}

func (p *Parser) precedenceOf(tt lexer.TokenType) int {
	if pr, ok := precedences[tt]; ok {
		return pr
	}
	return precLowest
}

func (p *Parser) parsePrefix() ast.Expression {
	pos := p.pos()
	switch p.cur.Type {
	case lexer.TokenInteger:
		lit := p.cur.Literal
		p.next()
		return &ast.IntegerLiteral{Position: pos, Value: lit}
	case lexer.TokenFloat:
		lit := p.cur.Literal
		p.next()
		return &ast.FloatLiteral{Position: pos, Value: lit}
	case lexer.TokenString:
		lit := p.cur.Literal
		p.next()
		return p.parseStringLiteral(pos, lit)
	case lexer.TokenChar:
		lit := p.cur.Literal
		p.next()
		var r rune
		for _, c := range lit {
			r = c
			break
		}
		return &ast.CharLiteral{Position: pos, Value: r}
	case lexer.TokenTrue:
		p.next()
		return &ast.BooleanLiteral{Position: pos, Value: true}
	case lexer.TokenFalse:
		p.next()
		return &ast.BooleanLiteral{Position: pos, Value: false}
	case lexer.TokenNil:
		p.next()
		return &ast.NilLiteral{Position: pos}
	case lexer.TokenThis:
		p.next()
		return &ast.SelfExpr{Position: pos}
	case lexer.TokenSuper:
		p.next()
		p.expect(lexer.TokenDot)
		name := p.expect(lexer.TokenIdentifier).Literal
		args := p.parseArgsIfCall()
		return &ast.MethodCall{Position: pos, Receiver: &ast.SelfExpr{Position: pos}, Name: name, Args: args, IsSuper: true}
	case lexer.TokenIdentifier:
		name := p.cur.Literal
		p.next()
		if name == "make_channel" && p.cur.Type == lexer.TokenLParen {
			p.next()
			var capacity ast.Expression
			if p.cur.Type != lexer.TokenRParen {
				capacity = p.parseExpression(precLowest)
			}
			p.expect(lexer.TokenRParen)
			return &ast.ChannelMake{Position: pos, Capacity: capacity}
		}
		ident := &ast.Identifier{Position: pos, Name: name}
		if p.cur.Type == lexer.TokenLParen {
			args := p.parseArgs()
			return &ast.Call{Position: pos, Callee: ident, Args: args}
		}
		return ident
	case lexer.TokenLParen:
		p.next()
		expr := p.parseExpression(precLowest)
		p.expect(lexer.TokenRParen)
		return expr
	case lexer.TokenLBracket:
		return p.parseArrayLiteral(pos)
	case lexer.TokenLBrace:
		return p.parseMapLiteral(pos)
	case lexer.TokenMinus, lexer.TokenBang:
		op := p.cur.Literal
		p.next()
		operand := p.parseExpression(precUnary)
		return &ast.UnaryExpr{Position: pos, Op: op, Operand: operand}
	case lexer.TokenFunc:
		return p.parseClosure(pos)
	case lexer.TokenNew:
		p.next()
		return p.parseNew(pos)
	case lexer.TokenGo:
		p.next()
		inner := p.parseExpression(precUnary)
		call, ok := inner.(*ast.Call)
		if !ok {
			p.errorf("go requires a call expression")
			return &ast.NilLiteral{Position: pos}
		}
		return &ast.GoSpawn{Position: pos, Call: call}
	default:
		p.errorf("unexpected token %s (%q) in expression", p.cur.Type, p.cur.Literal)
		p.next()
		return &ast.NilLiteral{Position: pos}
	}
}

func (p *Parser) parseNew(pos ast.Position) ast.Expression {
	name := p.expect(lexer.TokenIdentifier).Literal
	if p.cur.Type == lexer.TokenLBrace {
		p.next()
		n := &ast.NewStructExpr{Position: pos, StructName: name}
		for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
			fname := p.expect(lexer.TokenIdentifier).Literal
			p.expect(lexer.TokenColon)
			val := p.parseExpression(precLowest)
			n.Fields = append(n.Fields, ast.MapEntry{Key: &ast.Identifier{Name: fname}, Value: val})
			if p.cur.Type == lexer.TokenComma {
				p.next()
			}
		}
		p.expect(lexer.TokenRBrace)
		return n
	}
	args := p.parseArgs()
	return &ast.NewExpr{Position: pos, ClassName: name, Args: args}
}

func (p *Parser) parseStringLiteral(pos ast.Position, raw string) ast.Expression {
	// Lower ${...} interpolation markers embedded in the literal's raw text.
	// The lexer hands back the literal text verbatim; interpolation splitting
	// happens here by re-scanning for "${" / "}" pairs.
	if idx := indexOf(raw, "${"); idx < 0 {
		return &ast.StringLiteral{Position: pos, Value: raw}
	}
	var parts []ast.InterpPart
	rest := raw
	for {
		idx := indexOf(rest, "${")
		if idx < 0 {
			if rest != "" {
				parts = append(parts, ast.InterpPart{Text: rest})
			}
			break
		}
		if idx > 0 {
			parts = append(parts, ast.InterpPart{Text: rest[:idx]})
		}
		end := indexOf(rest[idx:], "}")
		if end < 0 {
			parts = append(parts, ast.InterpPart{Text: rest[idx:]})
			break
		}
		exprSrc := rest[idx+2 : idx+end]
		sub := New(lexer.New(exprSrc))
		expr := sub.parseExpression(precLowest)
		parts = append(parts, ast.InterpPart{Expr: expr})
		rest = rest[idx+end+1:]
	}
	return &ast.StringLiteral{Position: pos, Value: raw, Parts: parts}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func (p *Parser) parseClosure(pos ast.Position) ast.Expression {
	p.next() // 'func'
	params := p.parseParams()
	var ret string
	if p.cur.Type == lexer.TokenArrow {
		p.next()
		ret = p.parseTypeName()
	}
	body := p.parseBlock()
	return &ast.ClosureExpr{Position: pos, Params: params, ReturnType: ret, Body: body}
}

func (p *Parser) parseArrayLiteral(pos ast.Position) ast.Expression {
	p.next() // '['
	arr := &ast.ArrayLiteral{Position: pos}
	for p.cur.Type != lexer.TokenRBracket && p.cur.Type != lexer.TokenEOF {
		arr.Elements = append(arr.Elements, p.parseExpression(precLowest))
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRBracket)
	return arr
}

func (p *Parser) parseMapLiteral(pos ast.Position) ast.Expression {
	p.next() // '{'
	m := &ast.MapLiteral{Position: pos}
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		key := p.parseExpression(precLowest)
		p.expect(lexer.TokenColon)
		val := p.parseExpression(precLowest)
		m.Entries = append(m.Entries, ast.MapEntry{Key: key, Value: val})
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	p.expect(lexer.TokenRBrace)
	return m
}

func (p *Parser) parseArgs() []ast.Arg {
	p.expect(lexer.TokenLParen)
	args := p.parseArgList(lexer.TokenRParen)
	p.expect(lexer.TokenRParen)
	return args
}

func (p *Parser) parseArgsIfCall() []ast.Arg {
	if p.cur.Type != lexer.TokenLParen {
		return nil
	}
	return p.parseArgs()
}

func (p *Parser) parseArgList(end lexer.TokenType) []ast.Arg {
	var args []ast.Arg
	for p.cur.Type != end && p.cur.Type != lexer.TokenEOF {
		if p.cur.Type == lexer.TokenIdentifier && p.peek.Type == lexer.TokenColon {
			name := p.cur.Literal
			p.next()
			p.next()
			args = append(args, ast.Arg{Name: name, Value: p.parseExpression(precLowest)})
		} else {
			args = append(args, ast.Arg{Value: p.parseExpression(precLowest)})
		}
		if p.cur.Type == lexer.TokenComma {
			p.next()
		}
	}
	return args
}

func (p *Parser) parseInfix(left ast.Expression) ast.Expression {
	pos := p.pos()
	switch p.cur.Type {
	case lexer.TokenAssign:
		p.next()
		val := p.parseExpression(precLowest)
		return &ast.Assignment{Position: pos, Target: left, Value: val}
	case lexer.TokenDot, lexer.TokenQuestionDot, lexer.TokenBangDot:
		safe := p.cur.Type == lexer.TokenQuestionDot
		nonNull := p.cur.Type == lexer.TokenBangDot
		p.next()
		name := p.expect(lexer.TokenIdentifier).Literal
		if p.cur.Type == lexer.TokenLParen {
			args := p.parseArgs()
			return &ast.MethodCall{Position: pos, Receiver: left, Name: name, Args: args, Safe: safe, NonNull: nonNull}
		}
		return &ast.FieldAccess{Position: pos, Receiver: left, Name: name, Safe: safe, NonNull: nonNull}
	case lexer.TokenLBracket:
		p.next()
		idx := p.parseExpression(precLowest)
		p.expect(lexer.TokenRBracket)
		return &ast.IndexExpr{Position: pos, Target: left, Index: idx}
	case lexer.TokenDotDot:
		p.next()
		inclusive := false
		if p.cur.Type == lexer.TokenAssign {
			inclusive = true
			p.next()
		}
		end := p.parseExpression(precAdditive)
		return &ast.RangeExpr{Position: pos, Start: left, End: end, Inclusive: inclusive}
	case lexer.TokenLParen:
		// Call on an arbitrary left expression — an immediately-invoked
		// closure (`go func() { ... }()`) or a call chained off a call's
		// own result, as opposed to the plain `name(args)` form
		// parsePrefix already handles directly off an identifier.
		args := p.parseArgs()
		return &ast.Call{Position: pos, Callee: left, Args: args}
	case lexer.TokenIs:
		p.next()
		name := p.parseTypeName()
		return &ast.TypeCheckExpr{Position: pos, Value: left, TypeName: name}
	case lexer.TokenAs:
		p.next()
		name := p.parseTypeName()
		return &ast.CastExpr{Position: pos, Value: left, TypeName: name}
	default:
		op := p.cur.Literal
		prec := p.precedenceOf(p.cur.Type)
		p.next()
		right := p.parseExpression(prec)
		return &ast.BinaryExpr{Position: pos, Op: op, Left: left, Right: right}
	}
}
