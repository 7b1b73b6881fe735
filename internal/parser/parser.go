// Package parser implements a Pratt (operator-precedence) parser that
// turns a token stream into the AST in internal/ast. It is an
// external collaborator of the core pipeline: it consumes tokens and
// produces a root *ast.Program, nothing else is coupled to it.
package parser

import (
	"fmt"
	"strconv"

	"vela-vm/internal/ast"
	"vela-vm/internal/lexer"
	"vela-vm/internal/token"
)

type ParseError struct {
	Pos      token.Position
	Found    token.Kind
	Expected []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("[%d:%d] expected %v, found %s", e.Pos.Line, e.Pos.Column, e.Expected, e.Found)
}

const (
	_ int = iota
	LOWEST
	OR
	AND
	EQUALITY
	COMPARISON
	ADDITIVE
	MULTIPLICATIVE
	POWER
	UNARY
	CALL
)

var precedences = map[token.Kind]int{
	token.OR:      OR,
	token.AND:     AND,
	token.EQ:      EQUALITY,
	token.NEQ:     EQUALITY,
	token.LT:      COMPARISON,
	token.LTE:     COMPARISON,
	token.GT:      COMPARISON,
	token.GTE:     COMPARISON,
	token.PLUS:    ADDITIVE,
	token.MINUS:   ADDITIVE,
	token.STAR:    MULTIPLICATIVE,
	token.SLASH:   MULTIPLICATIVE,
	token.PERCENT: MULTIPLICATIVE,
	token.POWER:   POWER,
	token.LPAREN:  CALL,
	token.DOT:     CALL,
}

// Parser indexes into a pre-scanned token slice (rather than pulling
// one token at a time from the lexer) so that the `(params) -> body`
// vs. `(expr)` ambiguity can be resolved with simple index
// save/restore backtracking instead of a re-scan.
type Parser struct {
	toks []token.Token
	pos  int // index of p.cur within toks

	prefixFns map[token.Kind]func() ast.Expression
	infixFns  map[token.Kind]func(ast.Expression) ast.Expression

	errs []error
}

func New(l *lexer.Lexer) *Parser {
	var toks []token.Token
	for {
		t := l.NextToken()
		toks = append(toks, t)
		if t.Kind == token.EOF {
			break
		}
	}
	p := &Parser{toks: toks, pos: 0}
	p.registerFns()
	return p
}

func (p *Parser) registerFns() {
	p.prefixFns = map[token.Kind]func() ast.Expression{
		token.IDENTIFIER: p.parseName,
		token.NUMBER:     p.parseNumber,
		token.STRING:     p.parseString,
		token.HOLE:       p.parseHole,
		token.MINUS:      p.parseUnary,
		token.NOT:        p.parseUnary,
		token.LPAREN:     p.parseParenOrAnonFunction,
		token.LBRACE:     p.parseBlockAsExpression,
		token.IF:         p.parseIfExpression,
	}
	p.infixFns = map[token.Kind]func(ast.Expression) ast.Expression{
		token.PLUS:    p.parseBinary,
		token.MINUS:   p.parseBinary,
		token.STAR:    p.parseBinary,
		token.SLASH:   p.parseBinary,
		token.PERCENT: p.parseBinary,
		token.POWER:   p.parseBinary,
		token.EQ:      p.parseBinary,
		token.NEQ:     p.parseBinary,
		token.LT:      p.parseBinary,
		token.LTE:     p.parseBinary,
		token.GT:      p.parseBinary,
		token.GTE:     p.parseBinary,
		token.AND:     p.parseBinary,
		token.OR:      p.parseBinary,
		token.LPAREN:  p.parseCallOrPartial,
		token.DOT:     p.parsePropertyAccessOrTest,
	}
}

func (p *Parser) Errors() []error { return p.errs }

func (p *Parser) cur() token.Token {
	return p.toks[p.pos]
}

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *Parser) next() {
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
}

func (p *Parser) curIs(k token.Kind) bool  { return p.cur().Kind == k }
func (p *Parser) peekIs(k token.Kind) bool { return p.peek().Kind == k }

func (p *Parser) expect(k token.Kind) bool {
	if p.peekIs(k) {
		p.next()
		return true
	}
	p.errs = append(p.errs, &ParseError{Pos: p.peek().Pos, Found: p.peek().Kind, Expected: []string{string(k)}})
	return false
}

func (p *Parser) skipNewlines() {
	for p.curIs(token.NEWLINE) || p.curIs(token.SEMI) {
		p.next()
	}
}

// ParseProgram parses the whole token stream into a root Block.
func (p *Parser) ParseProgram() *ast.Program {
	begin := p.cur()
	var stmts []ast.Statement
	p.skipNewlines()
	for !p.curIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		p.next()
		p.skipStatementEnd()
	}
	return &ast.Program{Root: &ast.BlockExpr{Begin: begin, End: p.cur(), Stmts: stmts}}
}

func (p *Parser) skipStatementEnd() {
	if p.curIs(token.NEWLINE) || p.curIs(token.SEMI) {
		p.skipNewlines()
	}
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur().Kind {
	case token.VAR:
		return p.parseVarDecl()
	case token.PRINT:
		return p.parsePrint()
	case token.ASSERT:
		return p.parseAssert()
	case token.PASS:
		return &ast.PassStmt{Token: p.cur()}
	case token.DEF:
		return p.parseFunctionDecl()
	case token.STRUCT:
		return p.parseStructDecl()
	case token.ENUM:
		return p.parseEnumDecl()
	case token.IMPL:
		return p.parseImplBlock()
	default:
		return p.parseAssignmentOrExpressionStatement()
	}
}

func (p *Parser) parseVarDecl() ast.Statement {
	tok := p.cur()
	if !p.expect(token.IDENTIFIER) {
		return nil
	}
	name := &ast.Identifier{Token: p.cur(), Name: p.cur().Literal}
	var value ast.Expression
	if p.peekIs(token.ASSIGN) {
		p.next()
		p.next()
		value = p.parseExpression(LOWEST)
	}
	return &ast.VarDeclStmt{Token: tok, Name: name, Value: value}
}

func (p *Parser) parsePrint() ast.Statement {
	tok := p.cur()
	p.next()
	return &ast.PrintStmt{Token: tok, Value: p.parseExpression(LOWEST)}
}

func (p *Parser) parseAssert() ast.Statement {
	tok := p.cur()
	p.next()
	return &ast.AssertStmt{Token: tok, Value: p.parseExpression(LOWEST)}
}

func (p *Parser) parseAssignmentOrExpressionStatement() ast.Statement {
	tok := p.cur()
	expr := p.parseExpression(LOWEST)

	if p.peekIs(token.ASSIGN) {
		switch target := expr.(type) {
		case *ast.NameExpr:
			p.next() // consume '='
			p.next()
			value := p.parseExpression(LOWEST)
			return &ast.AssignmentStmt{Token: tok, Name: &ast.Identifier{Token: target.Token, Name: target.Name}, Value: value}
		case *ast.PropertyAccessExpr:
			p.next()
			p.next()
			value := p.parseExpression(LOWEST)
			return &ast.PropertyAssignmentStmt{Token: tok, Target: target.Target, Name: target.Name, Value: value}
		}
	}
	return &ast.ExpressionStmt{Token: tok, Value: expr}
}

func (p *Parser) parseParamList() (params []*ast.Identifier, vararg *ast.Identifier) {
	// p.cur() is the '(' when this is called.
	if p.peekIs(token.RPAREN) {
		p.next()
		return
	}
	for {
		if p.peekIs(token.ELLIPSIS) {
			p.next()
			p.expect(token.IDENTIFIER)
			vararg = &ast.Identifier{Token: p.cur(), Name: p.cur().Literal}
		} else {
			p.expect(token.IDENTIFIER)
			params = append(params, &ast.Identifier{Token: p.cur(), Name: p.cur().Literal})
		}
		if p.peekIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	p.expect(token.RPAREN)
	return
}

func (p *Parser) parseFunctionBody() ast.Expression {
	if p.peekIs(token.ASSIGN) {
		p.next()
		p.next()
		value := p.parseExpression(LOWEST)
		begin := value.Tok()
		return &ast.BlockExpr{Begin: begin, End: begin, Stmts: []ast.Statement{&ast.ExpressionStmt{Token: begin, Value: value}}}
	}
	p.expect(token.LBRACE)
	return p.parseBlockBody()
}

func (p *Parser) parseFunctionDecl() ast.Statement {
	tok := p.cur()
	p.expect(token.IDENTIFIER)
	name := p.cur().Literal
	p.expect(token.LPAREN)
	params, vararg := p.parseParamList()
	body := p.parseFunctionBody()
	return &ast.FunctionDeclStmt{Token: tok, Name: name, Params: params, Vararg: vararg, Body: body}
}

func (p *Parser) parseIdentList() []string {
	// p.cur() is the '{' when this is called.
	var names []string
	if p.peekIs(token.RBRACE) {
		p.next()
		return names
	}
	for {
		p.expect(token.IDENTIFIER)
		names = append(names, p.cur().Literal)
		if p.peekIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	p.expect(token.RBRACE)
	return names
}

func (p *Parser) parseStructDecl() ast.Statement {
	tok := p.cur()
	p.expect(token.IDENTIFIER)
	name := p.cur().Literal
	p.expect(token.COLON)
	p.expect(token.LBRACE)
	fields := p.parseIdentList()
	return &ast.StructDeclStmt{Token: tok, Name: name, Fields: fields}
}

func (p *Parser) parseEnumDecl() ast.Statement {
	tok := p.cur()
	p.expect(token.IDENTIFIER)
	name := p.cur().Literal
	p.expect(token.COLON)
	p.expect(token.LBRACE)
	variants := p.parseIdentList()
	return &ast.EnumDeclStmt{Token: tok, Name: name, Variants: variants}
}

func (p *Parser) parseImplBlock() ast.Statement {
	tok := p.cur()
	p.expect(token.IDENTIFIER)
	name := p.cur().Literal
	p.expect(token.COLON)
	p.expect(token.LBRACE)
	p.next()
	var methods []*ast.FunctionDeclStmt
	p.skipNewlines()
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		if p.curIs(token.DEF) {
			if fn, ok := p.parseFunctionDecl().(*ast.FunctionDeclStmt); ok {
				methods = append(methods, fn)
			}
		}
		p.next()
		p.skipStatementEnd()
	}
	return &ast.ImplBlockStmt{Token: tok, Name: name, Implementations: methods}
}

// ---- expressions ----

func (p *Parser) parseExpression(prec int) ast.Expression {
	prefix, ok := p.prefixFns[p.cur().Kind]
	if !ok {
		p.errs = append(p.errs, &ParseError{Pos: p.cur().Pos, Found: p.cur().Kind, Expected: []string{"expression"}})
		return nil
	}
	left := prefix()

	for !p.peekIs(token.NEWLINE) && prec < p.peekPrecedence() {
		infix, ok := p.infixFns[p.peek().Kind]
		if !ok {
			return left
		}
		p.next()
		left = infix(left)
	}
	return left
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peek().Kind]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.cur().Kind]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) parseName() ast.Expression {
	return &ast.NameExpr{Token: p.cur(), Name: p.cur().Literal}
}

func (p *Parser) parseHole() ast.Expression {
	return &ast.NameExpr{Token: p.cur(), Name: "_"}
}

func (p *Parser) parseNumber() ast.Expression {
	v, err := strconv.ParseInt(p.cur().Literal, 10, 64)
	if err != nil {
		p.errs = append(p.errs, &ParseError{Pos: p.cur().Pos, Found: p.cur().Kind, Expected: []string{"integer"}})
	}
	return &ast.NumberLit{Token: p.cur(), Value: v}
}

func (p *Parser) parseString() ast.Expression {
	return &ast.ConstStringLit{Token: p.cur(), Value: p.cur().Literal}
}

func (p *Parser) parseUnary() ast.Expression {
	tok := p.cur()
	op := tok.Literal
	if tok.Kind == token.NOT {
		op = "not"
	}
	p.next()
	right := p.parseExpression(UNARY)
	return &ast.UnaryExpr{Token: tok, Op: op, Right: right}
}

func (p *Parser) parseBinary(left ast.Expression) ast.Expression {
	tok := p.cur()
	op := tok.Literal
	if tok.Kind == token.AND {
		op = "and"
	} else if tok.Kind == token.OR {
		op = "or"
	}
	prec := p.curPrecedence()
	p.next()
	var right ast.Expression
	if tok.Kind == token.POWER {
		right = p.parseExpression(prec - 1) // right-associative
	} else {
		right = p.parseExpression(prec)
	}
	return &ast.BinaryExpr{Token: tok, Op: op, Left: left, Right: right}
}

// parseParenOrAnonFunction disambiguates `(expr)` grouping from
// `(params) -> body` anonymous functions by looking past the matching
// ')' for an arrow, backtracking the token index if that fails.
func (p *Parser) parseParenOrAnonFunction() ast.Expression {
	if p.peekIs(token.RPAREN) {
		p.next()
		p.expect(token.ARROW)
		return p.finishAnonFunction(nil, nil)
	}
	mark := p.pos
	if params, vararg, ok := p.tryParseAnonParams(); ok {
		return p.finishAnonFunction(params, vararg)
	}
	p.pos = mark
	p.next()
	expr := p.parseExpression(LOWEST)
	p.expect(token.RPAREN)
	return expr
}

func (p *Parser) tryParseAnonParams() (params []*ast.Identifier, vararg *ast.Identifier, ok bool) {
	for {
		if p.peekIs(token.ELLIPSIS) {
			p.next()
			if !p.peekIs(token.IDENTIFIER) {
				return nil, nil, false
			}
			p.next()
			vararg = &ast.Identifier{Token: p.cur(), Name: p.cur().Literal}
		} else if p.peekIs(token.IDENTIFIER) {
			p.next()
			params = append(params, &ast.Identifier{Token: p.cur(), Name: p.cur().Literal})
		} else {
			return nil, nil, false
		}
		if p.peekIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	if !p.peekIs(token.RPAREN) {
		return nil, nil, false
	}
	p.next()
	if !p.peekIs(token.ARROW) {
		return nil, nil, false
	}
	p.next()
	return params, vararg, true
}

func (p *Parser) finishAnonFunction(params []*ast.Identifier, vararg *ast.Identifier) ast.Expression {
	arrowTok := p.cur()
	p.next()
	var body ast.Expression
	if p.curIs(token.LBRACE) {
		body = p.parseBlockBody()
	} else {
		value := p.parseExpression(LOWEST)
		body = &ast.BlockExpr{Begin: value.Tok(), End: value.Tok(), Stmts: []ast.Statement{&ast.ExpressionStmt{Token: value.Tok(), Value: value}}}
	}
	return &ast.AnonFunctionExpr{ArrowTok: arrowTok, Params: params, Vararg: vararg, Body: body}
}

func (p *Parser) parseBlockAsExpression() ast.Expression {
	return p.parseBlockBody()
}

// parseBlockBody assumes p.cur() is the opening '{' and consumes
// through the matching '}'.
func (p *Parser) parseBlockBody() *ast.BlockExpr {
	begin := p.cur()
	p.next()
	p.skipNewlines()
	var stmts []ast.Statement
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		p.next()
		p.skipStatementEnd()
	}
	end := p.cur()
	return &ast.BlockExpr{Begin: begin, End: end, Stmts: stmts}
}

func (p *Parser) parseIfExpression() ast.Expression {
	tok := p.cur()
	p.next()
	cond := p.parseExpression(LOWEST)

	var thenExpr ast.Expression
	if p.peekIs(token.THEN) {
		p.next()
		p.next()
		thenExpr = p.parseExpression(LOWEST)
	} else {
		p.expect(token.LBRACE)
		thenExpr = p.parseBlockBody()
	}

	var elseExpr ast.Expression
	if p.peekIs(token.ELSE) {
		p.next()
		p.next()
		if p.curIs(token.LBRACE) {
			elseExpr = p.parseBlockBody()
		} else {
			elseExpr = p.parseExpression(LOWEST)
		}
	}
	return &ast.IfExpr{Token: tok, Cond: cond, Then: thenExpr, Else: elseExpr}
}

func (p *Parser) parseCallOrPartial(callee ast.Expression) ast.Expression {
	tok := p.cur()
	args := p.parseCallArgs()
	hasHole := false
	for _, a := range args {
		if a == nil {
			hasHole = true
			break
		}
	}
	if hasHole {
		return &ast.PartialCallExpr{Token: tok, Callee: callee, Args: args}
	}
	return &ast.CallExpr{Token: tok, Callee: callee, Args: args}
}

func (p *Parser) parseCallArgs() []ast.Expression {
	var args []ast.Expression
	if p.peekIs(token.RPAREN) {
		p.next()
		return args
	}
	p.next()
	args = append(args, p.parseCallArg())
	for p.peekIs(token.COMMA) {
		p.next()
		p.next()
		args = append(args, p.parseCallArg())
	}
	p.expect(token.RPAREN)
	return args
}

func (p *Parser) parseCallArg() ast.Expression {
	if p.curIs(token.HOLE) {
		return nil
	}
	return p.parseExpression(LOWEST)
}

func (p *Parser) parsePropertyAccessOrTest(target ast.Expression) ast.Expression {
	tok := p.cur()
	p.expect(token.IDENTIFIER)
	name := p.cur().Literal
	if p.peekIs(token.QMARK) {
		p.next()
		return &ast.PropertyTestExpr{Token: tok, Target: target, Name: name}
	}
	return &ast.PropertyAccessExpr{Token: tok, Target: target, Name: name}
}
