// Package lexer implements the lexical analyzer for the Ape programming
// language.
//
// The lexer reads source text one byte at a time and produces a stream of
// token.Token values for the parser to consume. Each token carries the
// file, line and column it was read from, so every byte the compiler later
// emits can be traced back to a source position.
package lexer

import (
	"strings"

	"github.com/dr8co/ape/token"
)

// Lexer tokenizes Ape source code.
type Lexer struct {
	file  string
	input string

	position     int
	readPosition int
	ch           byte

	line   int
	column int

	// the line/column of the character at `position`, captured before
	// readChar advances past it
	tokLine   int
	tokColumn int
}

// New creates a Lexer over input, attributing all positions to an unnamed
// source.
func New(input string) *Lexer {
	return NewWithFile(input, "<input>")
}

// NewWithFile creates a Lexer over input, attributing positions to file.
func NewWithFile(input, file string) *Lexer {
	l := &Lexer{
		file:   file,
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) makeToken(typ token.Type, literal string) token.Token {
	return token.Token{Type: typ, Literal: literal, File: l.file, Line: l.tokLine, Column: l.tokColumn}
}

// NextToken reads and returns the next token from the input, skipping
// whitespace and `//` line comments first.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespace()
	l.tokLine, l.tokColumn = l.line, l.column

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.Eq, "==")
		}
		l.readChar()
		return l.makeToken(token.Assign, "=")
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.NotEq, "!=")
		}
		l.readChar()
		return l.makeToken(token.Bang, "!")
	case '+':
		if l.peekChar() == '+' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.PlusPlus, "++")
		}
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.PlusAssign, "+=")
		}
		l.readChar()
		return l.makeToken(token.Plus, "+")
	case '-':
		if l.peekChar() == '-' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.MinusMinus, "--")
		}
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.MinusAssign, "-=")
		}
		l.readChar()
		return l.makeToken(token.Minus, "-")
	case '/':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.SlashAssign, "/=")
		}
		l.readChar()
		return l.makeToken(token.Slash, "/")
	case '*':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.AsteriskAssign, "*=")
		}
		l.readChar()
		return l.makeToken(token.Asterisk, "*")
	case '%':
		l.readChar()
		return l.makeToken(token.Percent, "%")
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.And, "&&")
		}
		l.readChar()
		return l.makeToken(token.Illegal, "&")
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.Or, "||")
		}
		l.readChar()
		return l.makeToken(token.Illegal, "|")
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.Lte, "<=")
		}
		l.readChar()
		return l.makeToken(token.Lt, "<")
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return l.makeToken(token.Gte, ">=")
		}
		l.readChar()
		return l.makeToken(token.Gt, ">")
	case '.':
		l.readChar()
		return l.makeToken(token.Dot, ".")
	case ';':
		l.readChar()
		return l.makeToken(token.Semicolon, ";")
	case ':':
		l.readChar()
		return l.makeToken(token.Colon, ":")
	case ',':
		l.readChar()
		return l.makeToken(token.Comma, ",")
	case '(':
		l.readChar()
		return l.makeToken(token.Lparen, "(")
	case ')':
		l.readChar()
		return l.makeToken(token.Rparen, ")")
	case '{':
		l.readChar()
		return l.makeToken(token.Lbrace, "{")
	case '}':
		l.readChar()
		return l.makeToken(token.Rbrace, "}")
	case '[':
		l.readChar()
		return l.makeToken(token.Lbracket, "[")
	case ']':
		l.readChar()
		return l.makeToken(token.Rbracket, "]")
	case '"':
		lit, ok := l.readString()
		if !ok {
			return l.makeToken(token.Illegal, "unterminated string")
		}
		tok := l.makeToken(token.String, lit)
		l.readChar()
		return tok
	case 0:
		return l.makeToken(token.EOF, "")
	default:
		if isLetter(l.ch) {
			literal := l.readIdentifier()
			return l.makeToken(token.LookupIdent(literal), literal)
		}
		if isDigit(l.ch) {
			return l.makeToken(token.Int, l.readNumber())
		}
		ch := l.ch
		l.readChar()
		return l.makeToken(token.Illegal, string(ch))
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || 'a' <= ch && ch <= 'f' || 'A' <= ch && ch <= 'F'
}

// readNumber reads a decimal or `0x`-prefixed hexadecimal integer literal,
// and decimal literals with a fractional part, returning its raw text.
func (l *Lexer) readNumber() string {
	position := l.position

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return l.input[position:l.position]
	}

	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[position:l.position]
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// skipWhitespace skips ordinary whitespace and `//` line comments.
func (l *Lexer) skipWhitespace() {
	for {
		if l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
			continue
		}

		if l.ch == '/' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		break
	}
}

// readString reads a string literal and returns its unescaped content and
// whether it was properly terminated by a matching quote.
func (l *Lexer) readString() (string, bool) {
	var b strings.Builder

	l.readChar()

	for {
		if l.ch == '"' {
			return b.String(), true
		}
		if l.ch == 0 {
			return b.String(), false
		}

		if l.ch == '\\' {
			l.readChar()
			if l.ch == 0 {
				return b.String(), false
			}
			switch l.ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte('\\')
				b.WriteByte(l.ch)
			}
		} else {
			b.WriteByte(l.ch)
		}

		l.readChar()
	}
}
