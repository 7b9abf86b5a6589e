// Package parser implements the syntactic analyzer for the Lox
// programming language.
//
// The parser is a hand-rolled recursive-descent parser with one-token
// lookahead, with one parsing function per precedence level of the
// expression grammar. It consumes the token stream produced by the lexer and builds
// the [ast.Program] (a list of [ast.Declaration]).
//
// Key features:
//   - Top-down parsing of declarations, statements, and expressions
//   - Precedence-climbing expression parsing, lowest to highest: assignment
//     → or → and → equality → comparison → term → factor → unary → call →
//     primary
//   - Panic-mode error recovery: a parse error is recorded and parsing
//     resumes at the next statement boundary, so a single pass can report
//     more than one syntax error
//   - Parameter and argument counts are each bounded to 255
//
// The main entry point is [New], which creates a Parser over a [lexer.Lexer],
// and [Parser.ParseProgram], which parses a complete program and returns its
// AST together with the accumulated parse errors.
package parser

import (
	"strconv"
	"strings"

	"github.com/dr8co/klox/ast"
	"github.com/dr8co/klox/lexer"
	"github.com/dr8co/klox/token"
)

// Error is a single parse error, anchored to the span of the offending
// token.
type Error struct {
	Message string
	Span    token.Span
}

// maxArity is the limit on both parameter and argument counts, enforced
// uniformly for parity across the tree-walk, VM, and IR backends.
const maxArity = 255

// parseException is used internally to unwind to the nearest declaration
// boundary after a parse error, where synchronize() resumes scanning. It
// never crosses the package's public API: ParseProgram recovers it.
type parseException struct{ err Error }

// Parser holds the token stream and state for a single parse.
type Parser struct {
	l      *lexer.Lexer
	errors []Error
	idGen  *ast.IDGen

	current token.Token
	peek    token.Token
}

// New creates a Parser over the given lexer.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, idGen: &ast.IDGen{}}
	p.advance()
	p.advance()
	return p
}

// ParseProgram parses a complete program, returning its AST and every
// parse error accumulated along the way (post panic-mode recovery).
func (p *Parser) ParseProgram() (*ast.Program, []Error) {
	program := &ast.Program{}

	for !p.check(token.EOF) {
		decl := p.parseDeclarationRecovering()
		if decl != nil {
			program.Declarations = append(program.Declarations, decl)
		}
	}

	return program, p.errors
}

// ---------------------------------------------------------------------
// Token stream helpers
// ---------------------------------------------------------------------

func (p *Parser) advance() token.Token {
	prev := p.current
	p.current = p.peek
	p.peek = p.l.NextToken()
	return prev
}

func (p *Parser) check(kind token.Kind) bool { return p.current.Kind == kind }

func (p *Parser) match(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.check(k) {
			p.advance()
			return true
		}
	}
	return false
}

// consume advances past the current token if it has the expected kind,
// otherwise raises a parse error at the current token.
func (p *Parser) consume(kind token.Kind, msg string) token.Token {
	if p.check(kind) {
		return p.advance()
	}
	p.fail(p.current, msg)
	return p.current
}

func (p *Parser) fail(tok token.Token, msg string) {
	err := Error{Message: msg, Span: tok.Span}
	p.errors = append(p.errors, err)
	panic(parseException{err: err})
}

// synchronize discards tokens until a likely statement boundary: a
// semicolon (consumed) or a statement-starting keyword (left for the next
// declaration to consume). The accumulated error list is untouched.
func (p *Parser) synchronize() {
	for !p.check(token.EOF) {
		if p.current.Kind == token.SEMICOLON {
			p.advance()
			return
		}
		switch p.current.Kind {
		case token.CLASS, token.FUN, token.VAR, token.FOR, token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		p.advance()
	}
}

// parseDeclarationRecovering wraps parseDeclaration with panic-mode
// recovery, so one bad declaration does not abort the whole parse.
func (p *Parser) parseDeclarationRecovering() (decl ast.Declaration) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(parseException); ok {
				p.synchronize()
				decl = nil
				return
			}
			panic(r)
		}
	}()
	return p.parseDeclaration()
}

// ---------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------

func (p *Parser) parseDeclaration() ast.Declaration {
	switch p.current.Kind {
	case token.CLASS:
		return p.parseClassDecl()
	case token.FUN:
		return p.parseFunDecl()
	case token.VAR:
		return p.parseVarDecl()
	default:
		return &ast.StmtDecl{Stmt: p.parseStatement()}
	}
}

func (p *Parser) parseClassDecl() ast.Declaration {
	keyword := p.advance() // 'class'
	name := p.consume(token.IDENT, "expected class name")

	var superclass *ast.Variable
	if p.match(token.LESS) {
		superTok := p.consume(token.IDENT, "expected superclass name")
		superclass = ast.NewVariable(p.idGen, superTok)
	}

	p.consume(token.LBRACE, "expected '{' before class body")

	var methods []*ast.Function
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		methods = append(methods, p.parseFunction())
	}
	p.consume(token.RBRACE, "expected '}' after class body")

	return &ast.ClassDecl{Keyword: keyword, Name: name, Superclass: superclass, Methods: methods}
}

func (p *Parser) parseFunDecl() ast.Declaration {
	keyword := p.advance() // 'fun'
	fn := p.parseFunctionNamed(keyword)
	return &ast.FunDecl{Fn: fn}
}

// parseFunction parses a method inside a class body: `name(params) { body }`,
// with no leading `fun` keyword.
func (p *Parser) parseFunction() *ast.Function {
	name := p.consume(token.IDENT, "expected method name")
	return p.parseFunctionNamed(name)
}

// parseFunctionNamed parses the rest of a function or method declaration.
// keyword is the `fun` token, in which case the name is consumed here, or
// a method's already-consumed name token; either way it is kept as
// Function.Keyword (TokenLiteral()).
func (p *Parser) parseFunctionNamed(keyword token.Token) *ast.Function {
	name := keyword
	if keyword.Kind == token.FUN {
		name = p.consume(token.IDENT, "expected function name")
	}

	p.consume(token.LPAREN, "expected '(' after name")
	var params []token.Token
	if !p.check(token.RPAREN) {
		for {
			if len(params) >= maxArity {
				p.fail(p.current, "can't have more than 255 parameters")
			}
			params = append(params, p.consume(token.IDENT, "expected parameter name"))
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "expected ')' after parameters")

	if !p.check(token.LBRACE) {
		p.fail(p.current, "expected '{' before function body")
	}
	body := p.parseBlockDeclarations()

	return &ast.Function{Keyword: keyword, Name: name, Params: params, Body: body}
}

func (p *Parser) parseVarDecl() ast.Declaration {
	keyword := p.advance() // 'var'
	name := p.consume(token.IDENT, "expected variable name")

	var init ast.Expression
	if p.match(token.EQUAL) {
		init = p.parseExpression()
	}
	p.consume(token.SEMICOLON, "expected ';' after variable declaration")

	return &ast.VarDecl{Keyword: keyword, Name: name, Initializer: init}
}

// ---------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------

func (p *Parser) parseStatement() ast.Statement {
	switch p.current.Kind {
	case token.PRINT:
		return p.parsePrintStmt()
	case token.LBRACE:
		return p.parseBlockStmt()
	case token.IF:
		return p.parseIfStmt()
	case token.WHILE:
		return p.parseWhileStmt()
	case token.FOR:
		return p.parseForStmt()
	case token.RETURN:
		return p.parseReturnStmt()
	default:
		return p.parseExpressionStmt()
	}
}

func (p *Parser) parsePrintStmt() ast.Statement {
	keyword := p.advance()
	expr := p.parseExpression()
	p.consume(token.SEMICOLON, "expected ';' after value")
	return &ast.PrintStmt{Keyword: keyword, Expr: expr}
}

func (p *Parser) parseReturnStmt() ast.Statement {
	keyword := p.advance()
	var value ast.Expression
	if !p.check(token.SEMICOLON) {
		value = p.parseExpression()
	}
	p.consume(token.SEMICOLON, "expected ';' after return value")
	return &ast.ReturnStmt{Keyword: keyword, Value: value}
}

func (p *Parser) parseExpressionStmt() ast.Statement {
	expr := p.parseExpression()
	p.consume(token.SEMICOLON, "expected ';' after expression")
	return &ast.ExpressionStmt{Expr: expr}
}

func (p *Parser) parseBlockStmt() ast.Statement {
	lbrace := p.current
	decls := p.parseBlockDeclarations()
	return &ast.Block{LBrace: lbrace, Declarations: decls}
}

// parseBlockDeclarations consumes the leading '{' (already checked by the
// caller), parses declarations until the matching '}', and consumes it.
func (p *Parser) parseBlockDeclarations() []ast.Declaration {
	p.consume(token.LBRACE, "expected '{'")
	var decls []ast.Declaration
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		if d := p.parseDeclarationRecovering(); d != nil {
			decls = append(decls, d)
		}
	}
	p.consume(token.RBRACE, "expected '}' after block")
	return decls
}

func (p *Parser) parseIfStmt() ast.Statement {
	keyword := p.advance()
	p.consume(token.LPAREN, "expected '(' after 'if'")
	cond := p.parseExpression()
	p.consume(token.RPAREN, "expected ')' after if condition")

	then := p.parseStatement()
	var els ast.Statement
	if p.match(token.ELSE) {
		els = p.parseStatement()
	}
	return &ast.If{Keyword: keyword, Condition: cond, Then: then, Else: els}
}

func (p *Parser) parseWhileStmt() ast.Statement {
	keyword := p.advance()
	p.consume(token.LPAREN, "expected '(' after 'while'")
	cond := p.parseExpression()
	p.consume(token.RPAREN, "expected ')' after while condition")
	body := p.parseStatement()
	return &ast.While{Keyword: keyword, Condition: cond, Body: body}
}

// parseForStmt desugars `for (init; cond; step) body` into
// `{ init; while (cond) { body; step; } }` at parse time; no `for` AST
// node survives.
func (p *Parser) parseForStmt() ast.Statement {
	keyword := p.advance()
	p.consume(token.LPAREN, "expected '(' after 'for'")

	var init ast.Declaration
	switch {
	case p.match(token.SEMICOLON):
		init = nil
	case p.check(token.VAR):
		init = p.parseVarDecl()
	default:
		init = &ast.StmtDecl{Stmt: p.parseExpressionStmt()}
	}

	var cond ast.Expression
	if !p.check(token.SEMICOLON) {
		cond = p.parseExpression()
	}
	p.consume(token.SEMICOLON, "expected ';' after loop condition")

	var step ast.Expression
	if !p.check(token.RPAREN) {
		step = p.parseExpression()
	}
	p.consume(token.RPAREN, "expected ')' after for clauses")

	body := p.parseStatement()

	if step != nil {
		body = &ast.Block{LBrace: keyword, Declarations: []ast.Declaration{
			&ast.StmtDecl{Stmt: body},
			&ast.StmtDecl{Stmt: &ast.ExpressionStmt{Expr: step}},
		}}
	}

	if cond == nil {
		cond = ast.NewLiteral(p.idGen, keyword, true)
	}
	loop := ast.Statement(&ast.While{Keyword: keyword, Condition: cond, Body: body})

	if init != nil {
		return &ast.Block{LBrace: keyword, Declarations: []ast.Declaration{init, &ast.StmtDecl{Stmt: loop}}}
	}
	return loop
}

// ---------------------------------------------------------------------
// Expressions — precedence climbing, lowest to highest:
// assignment → or → and → equality → comparison → term → factor → unary →
// call → primary
// ---------------------------------------------------------------------

func (p *Parser) parseExpression() ast.Expression {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Expression {
	left := p.parseOr()

	if p.check(token.EQUAL) {
		switch target := left.(type) {
		case *ast.Variable:
			eq := p.advance()
			value := p.parseAssignment()
			return ast.NewAssign(p.idGen, target, target.Name.Span, eq, value)
		case *ast.Get:
			p.advance()
			value := p.parseAssignment()
			return ast.NewSet(p.idGen, target.Object, target.Name, value)
		default:
			// Report, but do not consume the '=': the caller (whatever
			// production invoked parseAssignment) continues as if the
			// left-hand expression stood alone.
			p.errors = append(p.errors, Error{Message: "invalid assignment target", Span: p.current.Span})
			return left
		}
	}
	return left
}

func (p *Parser) parseOr() ast.Expression {
	left := p.parseAnd()
	for p.check(token.OR) {
		op := p.advance()
		right := p.parseAnd()
		left = ast.NewLogical(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseAnd() ast.Expression {
	left := p.parseEquality()
	for p.check(token.AND) {
		op := p.advance()
		right := p.parseEquality()
		left = ast.NewLogical(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseEquality() ast.Expression {
	left := p.parseComparison()
	for p.check(token.EQUAL_EQUAL) || p.check(token.BANG_EQUAL) {
		op := p.advance()
		right := p.parseComparison()
		left = ast.NewBinary(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseComparison() ast.Expression {
	left := p.parseTerm()
	for p.check(token.LESS) || p.check(token.LESS_EQUAL) || p.check(token.GREATER) || p.check(token.GREATER_EQUAL) {
		op := p.advance()
		right := p.parseTerm()
		left = ast.NewBinary(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseTerm() ast.Expression {
	left := p.parseFactor()
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := p.advance()
		right := p.parseFactor()
		left = ast.NewBinary(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseFactor() ast.Expression {
	left := p.parseUnary()
	for p.check(token.STAR) || p.check(token.SLASH) {
		op := p.advance()
		right := p.parseUnary()
		left = ast.NewBinary(p.idGen, left, op, right)
	}
	return left
}

func (p *Parser) parseUnary() ast.Expression {
	if p.check(token.BANG) || p.check(token.MINUS) {
		op := p.advance()
		right := p.parseUnary()
		return ast.NewUnary(p.idGen, op, right)
	}
	return p.parseCall()
}

func (p *Parser) parseCall() ast.Expression {
	expr := p.parsePrimary()

	for {
		switch {
		case p.check(token.LPAREN):
			p.advance()
			expr = p.finishCall(expr)
		case p.check(token.DOT):
			p.advance()
			name := p.consume(token.IDENT, "expected property name after '.'")
			expr = ast.NewGet(p.idGen, expr, name)
		default:
			return expr
		}
	}
}

func (p *Parser) finishCall(callee ast.Expression) ast.Expression {
	var args []ast.Expression
	if !p.check(token.RPAREN) {
		for {
			if len(args) >= maxArity {
				p.fail(p.current, "can't have more than 255 arguments")
			}
			args = append(args, p.parseExpression())
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	paren := p.consume(token.RPAREN, "expected ')' after arguments")
	return ast.NewCall(p.idGen, callee, paren, args)
}

// unescapeString cooks a raw string lexeme (surrounding quotes and the
// \n \t \\ \" escape sequences included) into its runtime value. The
// scanner keeps lexemes byte-identical to the source, so the unescaping
// happens here, once, at literal construction.
func unescapeString(lexeme string) string {
	raw := lexeme
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte('\\')
				b.WriteByte(raw[i])
			}
			continue
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func (p *Parser) parsePrimary() ast.Expression {
	switch p.current.Kind {
	case token.FALSE:
		tok := p.advance()
		return ast.NewLiteral(p.idGen, tok, false)
	case token.TRUE:
		tok := p.advance()
		return ast.NewLiteral(p.idGen, tok, true)
	case token.NIL:
		tok := p.advance()
		return ast.NewLiteral(p.idGen, tok, nil)
	case token.NUMBER:
		tok := p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.fail(tok, "could not parse '"+tok.Lexeme+"' as a number")
		}
		return ast.NewLiteral(p.idGen, tok, v)
	case token.STRING:
		tok := p.advance()
		return ast.NewLiteral(p.idGen, tok, unescapeString(tok.Lexeme))
	case token.THIS:
		tok := p.advance()
		return ast.NewThis(p.idGen, tok)
	case token.SUPER:
		keyword := p.advance()
		p.consume(token.DOT, "expected '.' after 'super'")
		method := p.consume(token.IDENT, "expected superclass method name")
		return ast.NewSuper(p.idGen, keyword, method)
	case token.IDENT:
		tok := p.advance()
		return ast.NewVariable(p.idGen, tok)
	case token.LPAREN:
		lparen := p.advance()
		inner := p.parseExpression()
		p.consume(token.RPAREN, "expected ')' after expression")
		return ast.NewGrouping(p.idGen, lparen, inner)
	default:
		p.fail(p.current, "expected expression")
		return nil
	}
}
