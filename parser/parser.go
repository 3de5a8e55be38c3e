// Package parser implements the syntactic analyzer for the Ape programming
// language.
//
// The parser takes a stream of tokens from the lexer and constructs an
// Abstract Syntax Tree (AST) that represents the structure of the program.
// It implements a recursive descent parser with Pratt parsing (precedence
// climbing) for expressions.
//
// Key features:
//   - Top-down parsing of statements and expressions
//   - Precedence-based expression parsing, including assignment and postfix
//     increment/decrement
//   - Error reporting for syntax errors, with source position attached
//   - Support for every language construct: declarations, loops, recover
//     blocks, and all expression forms
//
// The main entry point is the [New] function, which creates a new [Parser]
// instance, and the [Parser.ParseProgram] method, which parses a complete
// Ape program and returns an AST.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dr8co/ape/ast"
	"github.com/dr8co/ape/lexer"
	"github.com/dr8co/ape/token"
)

const (
	_ int = iota

	// Lowest represents the lowest possible precedence for parsing
	// expressions in the syntax tree.
	Lowest

	// Assign is the precedence of `=` and the compound assignment
	// operators. Right-associative.
	Assign

	// LogicOr is the precedence of `||`.
	LogicOr

	// LogicAnd is the precedence of `&&`.
	LogicAnd

	// Equals is the precedence for the equality operators.
	Equals // == !=

	// LessGreater is the precedence for ordering comparisons.
	LessGreater // > < >= <=

	// Sum is the precedence for the additive operators.
	Sum // + -

	// Product is the precedence for the multiplicative operators.
	Product // * / %

	// Prefix is the precedence for prefix operators.
	Prefix // -x or !x

	// Postfix is the precedence of postfix `++`/`--`.
	Postfix

	// Call is the precedence for function calls, indexing, and dot access.
	Call // myFunc(x), array[index], obj.field
)

// precedences maps token types to their respective precedence levels.
var precedences = map[token.Type]int{
	token.Assign:         Assign,
	token.PlusAssign:     Assign,
	token.MinusAssign:    Assign,
	token.AsteriskAssign: Assign,
	token.SlashAssign:    Assign,
	token.Or:             LogicOr,
	token.And:            LogicAnd,
	token.Eq:             Equals,
	token.NotEq:          Equals,
	token.Lt:             LessGreater,
	token.Lte:            LessGreater,
	token.Gt:             LessGreater,
	token.Gte:            LessGreater,
	token.Plus:           Sum,
	token.Minus:          Sum,
	token.Slash:          Product,
	token.Asterisk:       Product,
	token.Percent:        Product,
	token.PlusPlus:       Postfix,
	token.MinusMinus:     Postfix,
	token.Lparen:         Call,
	token.Lbracket:       Call,
	token.Dot:            Call,
}

type (
	prefixParseFn  func() ast.Expression
	infixParseFn   func(ast.Expression) ast.Expression
	postfixParseFn func(ast.Expression) ast.Expression
)

// ParseError is a single syntax error, carrying the source position where
// it occurred so the compiler's shared error list can render it alongside
// compile-time errors.
type ParseError struct {
	Message string
	File    string
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// Parser represents an Ape parser.
type Parser struct {
	l      *lexer.Lexer
	errors []ParseError

	currentToken token.Token
	peekToken    token.Token

	prefixParseFns  map[token.Type]prefixParseFn
	infixParseFns   map[token.Type]infixParseFn
	postfixParseFns map[token.Type]postfixParseFn
}

// New creates a new [Parser] with the given [lexer.Lexer].
func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l}

	p.prefixParseFns = make(map[token.Type]prefixParseFn)
	p.registerPrefix(token.Ident, p.parseIdentifier)
	p.registerPrefix(token.Int, p.parseNumberLiteral)
	p.registerPrefix(token.Bang, p.parsePrefixExpression)
	p.registerPrefix(token.Minus, p.parsePrefixExpression)
	p.registerPrefix(token.True, p.parseBoolean)
	p.registerPrefix(token.False, p.parseBoolean)
	p.registerPrefix(token.Null, p.parseNullLiteral)
	p.registerPrefix(token.Lparen, p.parseGroupedExpression)
	p.registerPrefix(token.If, p.parseIfExpression)
	p.registerPrefix(token.Function, p.parseFunctionLiteral)
	p.registerPrefix(token.String, p.parseStringLiteral)
	p.registerPrefix(token.Lbracket, p.parseArrayLiteral)
	p.registerPrefix(token.Lbrace, p.parseMapLiteral)

	p.infixParseFns = make(map[token.Type]infixParseFn)
	p.registerInfix(token.Plus, p.parseInfixExpression)
	p.registerInfix(token.Minus, p.parseInfixExpression)
	p.registerInfix(token.Slash, p.parseInfixExpression)
	p.registerInfix(token.Asterisk, p.parseInfixExpression)
	p.registerInfix(token.Percent, p.parseInfixExpression)
	p.registerInfix(token.Eq, p.parseInfixExpression)
	p.registerInfix(token.NotEq, p.parseInfixExpression)
	p.registerInfix(token.Lt, p.parseInfixExpression)
	p.registerInfix(token.Lte, p.parseInfixExpression)
	p.registerInfix(token.Gt, p.parseInfixExpression)
	p.registerInfix(token.Gte, p.parseInfixExpression)
	p.registerInfix(token.And, p.parseInfixExpression)
	p.registerInfix(token.Or, p.parseInfixExpression)
	p.registerInfix(token.Lparen, p.parseCallExpression)
	p.registerInfix(token.Lbracket, p.parseIndexExpression)
	p.registerInfix(token.Dot, p.parseDotExpression)
	p.registerInfix(token.Assign, p.parseAssignExpression)
	p.registerInfix(token.PlusAssign, p.parseAssignExpression)
	p.registerInfix(token.MinusAssign, p.parseAssignExpression)
	p.registerInfix(token.AsteriskAssign, p.parseAssignExpression)
	p.registerInfix(token.SlashAssign, p.parseAssignExpression)

	p.postfixParseFns = make(map[token.Type]postfixParseFn)
	p.registerPostfix(token.PlusPlus, p.parsePostfixExpression)
	p.registerPostfix(token.MinusMinus, p.parsePostfixExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

func (p *Parser) registerPrefix(t token.Type, fn prefixParseFn)   { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.Type, fn infixParseFn)     { p.infixParseFns[t] = fn }
func (p *Parser) registerPostfix(t token.Type, fn postfixParseFn) { p.postfixParseFns[t] = fn }

// Errors returns the list of errors encountered during parsing.
func (p *Parser) Errors() []ParseError { return p.errors }

func (p *Parser) errorf(tok token.Token, format string, args ...any) {
	p.errors = append(p.errors, ParseError{
		Message: fmt.Sprintf(format, args...),
		File:    tok.File, Line: tok.Line, Column: tok.Column,
	})
}

func (p *Parser) peekError(t token.Type) {
	p.errorf(p.peekToken, "expected next token to be %s, got %s instead", t, p.peekToken.Type)
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return Lowest
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.currentToken.Type]; ok {
		return pr
	}
	return Lowest
}

func (p *Parser) nextToken() {
	p.currentToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) currentTokenIs(t token.Type) bool { return p.currentToken.Type == t }
func (p *Parser) peekTokenIs(t token.Type) bool    { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// skipSemicolon consumes a single optional trailing `;` after a statement.
func (p *Parser) skipSemicolon() {
	if p.peekTokenIs(token.Semicolon) {
		p.nextToken()
	}
}

// ParseProgram parses a complete Ape program and returns its AST
// representation. It processes tokens until it reaches the end of the
// input, building a list of statements.
//
// Check [Parser.Errors] after calling this method to see if any parsing
// errors occurred.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}

	for !p.currentTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}

	return program
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.currentToken.Type {
	case token.Var:
		stmt := p.parseVarStatement(false)
		p.skipSemicolon()
		return stmt
	case token.Const:
		stmt := p.parseVarStatement(true)
		p.skipSemicolon()
		return stmt
	case token.Return:
		stmt := p.parseReturnStatement()
		p.skipSemicolon()
		return stmt
	case token.Break:
		stmt := &ast.BreakStatement{Token: p.currentToken}
		p.skipSemicolon()
		return stmt
	case token.Continue:
		stmt := &ast.ContinueStatement{Token: p.currentToken}
		p.skipSemicolon()
		return stmt
	case token.While:
		return p.parseWhileStatement()
	case token.For:
		return p.parseForStatement()
	case token.Recover:
		return p.parseRecoverStatement()
	case token.Lbrace:
		return p.parseBlockStatement()
	case token.Function:
		if p.peekTokenIs(token.Ident) {
			return p.parseFunctionDeclStatement()
		}
		fallthrough
	default:
		stmt := p.parseExpressionStatement()
		p.skipSemicolon()
		return stmt
	}
}

// parseVarStatement parses a `var name = value` or `const name = value`
// declaration, not including its trailing separator (a top-level `;` or a
// `for`-clause `;`, handled by the caller).
func (p *Parser) parseVarStatement(isConst bool) *ast.VarStatement {
	stmt := &ast.VarStatement{Token: p.currentToken, Const: isConst}

	if !p.expectPeek(token.Ident) {
		return nil
	}
	stmt.Name = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
	if !p.expectPeek(token.Assign) {
		return nil
	}
	p.nextToken()
	stmt.Value = p.parseExpression(Lowest)

	if fl, ok := stmt.Value.(*ast.FunctionLiteral); ok {
		fl.Name = stmt.Name.Value
	}
	return stmt
}

// parseFunctionDeclStatement parses `fn name(params) { body }`, which is
// sugar for `const name = fn name(params) { body };`.
func (p *Parser) parseFunctionDeclStatement() *ast.VarStatement {
	tok := p.currentToken // the `fn` token

	if !p.expectPeek(token.Ident) {
		return nil
	}
	name := &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}

	fl := &ast.FunctionLiteral{Token: tok, Name: name.Value}
	if !p.expectPeek(token.Lparen) {
		return nil
	}
	fl.Parameters = p.parseFunctionParameters()
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	fl.Body = p.parseBlockStatement()

	stmt := &ast.VarStatement{Token: tok, Name: name, Value: fl, Const: true}
	p.skipSemicolon()
	return stmt
}

func (p *Parser) parseReturnStatement() *ast.ReturnStatement {
	stmt := &ast.ReturnStatement{Token: p.currentToken}

	if p.peekTokenIs(token.Semicolon) || p.peekTokenIs(token.Rbrace) {
		return stmt
	}
	p.nextToken()
	stmt.ReturnValue = p.parseExpression(Lowest)
	return stmt
}

func (p *Parser) parseWhileStatement() *ast.WhileStatement {
	stmt := &ast.WhileStatement{Token: p.currentToken}

	if !p.expectPeek(token.Lparen) {
		return nil
	}
	p.nextToken()
	stmt.Condition = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

// parseForStatement parses both loop forms sharing the `for (` prefix: the
// C-style `for (init; test; update) { body }` and `for (v in src) { body }`.
func (p *Parser) parseForStatement() ast.Statement {
	tok := p.currentToken
	if !p.expectPeek(token.Lparen) {
		return nil
	}
	p.nextToken() // move to the first token inside the parens

	if p.currentTokenIs(token.Ident) && p.peekTokenIs(token.In) {
		return p.parseForEachStatement(tok)
	}
	return p.parseCStyleForStatement(tok)
}

func (p *Parser) parseForEachStatement(tok token.Token) *ast.ForEachStatement {
	stmt := &ast.ForEachStatement{Token: tok}
	stmt.Var = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}

	p.nextToken() // consume the loop variable, current = `in`
	p.nextToken() // move past `in`
	stmt.Iterable = p.parseExpression(Lowest)

	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

func (p *Parser) parseCStyleForStatement(tok token.Token) *ast.ForStatement {
	stmt := &ast.ForStatement{Token: tok}

	if !p.currentTokenIs(token.Semicolon) {
		switch p.currentToken.Type {
		case token.Var:
			stmt.Init = p.parseVarStatement(false)
		case token.Const:
			stmt.Init = p.parseVarStatement(true)
		default:
			stmt.Init = p.parseExpressionStatementBare()
		}
	}
	if !p.expectPeek(token.Semicolon) {
		return nil
	}

	p.nextToken()
	if !p.currentTokenIs(token.Semicolon) {
		stmt.Condition = p.parseExpression(Lowest)
		if !p.expectPeek(token.Semicolon) {
			return nil
		}
	}

	p.nextToken()
	if !p.currentTokenIs(token.Rparen) {
		stmt.Update = p.parseExpressionStatementBare()
	}
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

func (p *Parser) parseRecoverStatement() *ast.RecoverStatement {
	stmt := &ast.RecoverStatement{Token: p.currentToken}

	if !p.expectPeek(token.Lparen) {
		return nil
	}
	if !p.expectPeek(token.Ident) {
		return nil
	}
	stmt.Param = &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	return stmt
}

// parseExpressionStatementBare parses an expression statement without
// consuming a trailing separator, for use inside a `for` clause where the
// separator is a fixed `;` or `)` managed by the caller.
func (p *Parser) parseExpressionStatementBare() *ast.ExpressionStatement {
	stmt := &ast.ExpressionStatement{Token: p.currentToken}
	stmt.Expression = p.parseExpression(Lowest)
	return stmt
}

func (p *Parser) parseExpressionStatement() *ast.ExpressionStatement {
	return p.parseExpressionStatementBare()
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.currentToken}

	p.nextToken()
	for !p.currentTokenIs(token.Rbrace) && !p.currentTokenIs(token.EOF) {
		if stmt := p.parseStatement(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.currentToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.currentToken.Type)
		return nil
	}
	leftExp := prefix()

	for precedence < p.peekPrecedence() {
		if postfix := p.postfixParseFns[p.peekToken.Type]; postfix != nil {
			p.nextToken()
			leftExp = postfix(leftExp)
			continue
		}
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}
		p.nextToken()
		leftExp = infix(leftExp)
	}

	return leftExp
}

func (p *Parser) noPrefixParseFnError(t token.Type) {
	p.errorf(p.currentToken, "no prefix parse function for %s found", t)
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	lit := &ast.NumberLiteral{Token: p.currentToken}

	literal := p.currentToken.Literal
	var value float64
	var err error
	if strings.HasPrefix(literal, "0x") || strings.HasPrefix(literal, "0X") {
		var i int64
		i, err = strconv.ParseInt(literal[2:], 16, 64)
		value = float64(i)
	} else {
		value, err = strconv.ParseFloat(literal, 64)
	}
	if err != nil {
		p.errorf(p.currentToken, "could not parse %q as a number", literal)
		return nil
	}
	lit.Value = value
	return lit
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.currentToken, Value: p.currentTokenIs(token.True)}
}

func (p *Parser) parseNullLiteral() ast.Expression {
	return &ast.NullLiteral{Token: p.currentToken}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.currentToken, Value: p.currentToken.Literal}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expr := &ast.PrefixExpression{Token: p.currentToken, Operator: p.currentToken.Literal}
	p.nextToken()
	expr.Right = p.parseExpression(Prefix)
	return expr
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expr := &ast.InfixExpression{Token: p.currentToken, Operator: p.currentToken.Literal, Left: left}
	precedence := p.curPrecedence()
	p.nextToken()
	expr.Right = p.parseExpression(precedence)
	return expr
}

func (p *Parser) parsePostfixExpression(left ast.Expression) ast.Expression {
	return &ast.PostfixExpression{Token: p.currentToken, Operand: left, Operator: p.currentToken.Literal}
}

// parseAssignExpression parses `target = value` and the compound forms.
// Assignment is right-associative: the value side is parsed one precedence
// level below Assign so a chain like `a = b = c` parses as `a = (b = c)`.
func (p *Parser) parseAssignExpression(left ast.Expression) ast.Expression {
	expr := &ast.AssignExpression{Token: p.currentToken, Operator: p.currentToken.Literal, Target: left}

	switch left.(type) {
	case *ast.Identifier, *ast.IndexExpression, *ast.DotExpression:
	default:
		p.errorf(p.currentToken, "invalid assignment target %s", left.String())
	}

	p.nextToken()
	expr.Value = p.parseExpression(Assign - 1)
	return expr
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	return expr
}

func (p *Parser) parseIfExpression() ast.Expression {
	expr := &ast.IfExpression{Token: p.currentToken}

	if !p.expectPeek(token.Lparen) {
		return nil
	}
	p.nextToken()
	expr.Condition = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rparen) {
		return nil
	}
	expr.Consequence = p.parseIfBranch()

	if p.peekTokenIs(token.Else) {
		p.nextToken()
		if p.peekTokenIs(token.If) {
			p.nextToken()
			nested := p.parseIfExpression()
			expr.Alternative = &ast.BlockStatement{
				Token:      p.currentToken,
				Statements: []ast.Statement{&ast.ExpressionStatement{Token: p.currentToken, Expression: nested}},
			}
		} else {
			expr.Alternative = p.parseIfBranch()
		}
	}
	return expr
}

// parseIfBranch parses an if/else branch body: a braced block, or a single
// braceless statement wrapped in a one-statement block.
func (p *Parser) parseIfBranch() *ast.BlockStatement {
	if p.peekTokenIs(token.Lbrace) {
		p.nextToken()
		return p.parseBlockStatement()
	}
	p.nextToken()
	block := &ast.BlockStatement{Token: p.currentToken}
	if stmt := p.parseStatement(); stmt != nil {
		block.Statements = append(block.Statements, stmt)
	}
	return block
}

func (p *Parser) parseFunctionLiteral() ast.Expression {
	lit := &ast.FunctionLiteral{Token: p.currentToken}

	if !p.expectPeek(token.Lparen) {
		return nil
	}
	lit.Parameters = p.parseFunctionParameters()
	if !p.expectPeek(token.Lbrace) {
		return nil
	}
	lit.Body = p.parseBlockStatement()
	return lit
}

func (p *Parser) parseFunctionParameters() []*ast.Identifier {
	var identifiers []*ast.Identifier

	if p.peekTokenIs(token.Rparen) {
		p.nextToken()
		return identifiers
	}
	p.nextToken()
	identifiers = append(identifiers, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})

	for p.peekTokenIs(token.Comma) {
		p.nextToken()
		p.nextToken()
		identifiers = append(identifiers, &ast.Identifier{Token: p.currentToken, Value: p.currentToken.Literal})
	}

	if !p.expectPeek(token.Rparen) {
		return nil
	}
	return identifiers
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	expr := &ast.CallExpression{Token: p.currentToken, Function: function}
	expr.Arguments = p.parseExpressionList(token.Rparen)
	return expr
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	arr := &ast.ArrayLiteral{Token: p.currentToken}
	arr.Elements = p.parseExpressionList(token.Rbracket)
	return arr
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression

	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}

	p.nextToken()
	list = append(list, p.parseExpression(Lowest))

	for p.peekTokenIs(token.Comma) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(Lowest))
	}

	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	expr := &ast.IndexExpression{Token: p.currentToken, Left: left}
	p.nextToken()
	expr.Index = p.parseExpression(Lowest)
	if !p.expectPeek(token.Rbracket) {
		return nil
	}
	return expr
}

func (p *Parser) parseDotExpression(left ast.Expression) ast.Expression {
	tok := p.currentToken
	if !p.expectPeek(token.Ident) {
		return nil
	}
	return &ast.DotExpression{Token: tok, Left: left, Name: p.currentToken.Literal}
}

func (p *Parser) parseMapLiteral() ast.Expression {
	lit := &ast.MapLiteral{Token: p.currentToken}

	for !p.peekTokenIs(token.Rbrace) {
		p.nextToken()
		key := p.parseExpression(Lowest)

		if !p.expectPeek(token.Colon) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(Lowest)

		lit.Keys = append(lit.Keys, key)
		lit.Values = append(lit.Values, value)

		if !p.peekTokenIs(token.Rbrace) && !p.expectPeek(token.Comma) {
			return nil
		}
	}

	if !p.expectPeek(token.Rbrace) {
		return nil
	}
	return lit
}
