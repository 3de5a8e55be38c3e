package lexer

import (
	"testing"

	"github.com/dr8co/ape/token"
)

// TestNextToken exercises every token category the lexer recognizes: the
// core Monkey-style grammar plus Ape's additions (var/const, control flow
// keywords, comparison/logical/compound-assignment operators, hex
// integers, and dot access).
func TestNextToken(t *testing.T) {
	input := `var five = 5;
const ten = 10;
var add = fn(x, y) {
    x + y;
};
var result = add(five, ten);
!-/*5;
5 % 2;
5 < 10 > 5;
5 <= 10 >= 5;
true && false || true;
x += 1;
x -= 1;
x *= 2;
x /= 2;
x++;
x--;
a.b;
0x1F;

if (5 < 10) {
    return true;
} else {
    return false;
}

while (x < 10) { x = x + 1; }
for (var i = 0; i < 10; i = i + 1) { i; }
break;
continue;
recover (e) { e; }

10 == 10;
10 != 9;

"foobar"
"foo\nbar"
[1, 2];
{"foo": "bar"}
null
// a comment is ignored
1; // trailing comment
`
	tests := []struct {
		expectedType    token.Type
		expectedLiteral string
	}{
		{token.Var, "var"},
		{token.Ident, "five"},
		{token.Assign, "="},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Const, "const"},
		{token.Ident, "ten"},
		{token.Assign, "="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Var, "var"},
		{token.Ident, "add"},
		{token.Assign, "="},
		{token.Function, "fn"},
		{token.Lparen, "("},
		{token.Ident, "x"},
		{token.Comma, ","},
		{token.Ident, "y"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Ident, "x"},
		{token.Plus, "+"},
		{token.Ident, "y"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Semicolon, ";"},
		{token.Var, "var"},
		{token.Ident, "result"},
		{token.Assign, "="},
		{token.Ident, "add"},
		{token.Lparen, "("},
		{token.Ident, "five"},
		{token.Comma, ","},
		{token.Ident, "ten"},
		{token.Rparen, ")"},
		{token.Semicolon, ";"},
		{token.Bang, "!"},
		{token.Minus, "-"},
		{token.Slash, "/"},
		{token.Asterisk, "*"},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Int, "5"},
		{token.Percent, "%"},
		{token.Int, "2"},
		{token.Semicolon, ";"},
		{token.Int, "5"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Gt, ">"},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Int, "5"},
		{token.Lte, "<="},
		{token.Int, "10"},
		{token.Gte, ">="},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.True, "true"},
		{token.And, "&&"},
		{token.False, "false"},
		{token.Or, "||"},
		{token.True, "true"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.PlusAssign, "+="},
		{token.Int, "1"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.MinusAssign, "-="},
		{token.Int, "1"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.AsteriskAssign, "*="},
		{token.Int, "2"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.SlashAssign, "/="},
		{token.Int, "2"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.PlusPlus, "++"},
		{token.Semicolon, ";"},
		{token.Ident, "x"},
		{token.MinusMinus, "--"},
		{token.Semicolon, ";"},
		{token.Ident, "a"},
		{token.Dot, "."},
		{token.Ident, "b"},
		{token.Semicolon, ";"},
		{token.Int, "0x1F"},
		{token.Semicolon, ";"},
		{token.If, "if"},
		{token.Lparen, "("},
		{token.Int, "5"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Return, "return"},
		{token.True, "true"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Else, "else"},
		{token.Lbrace, "{"},
		{token.Return, "return"},
		{token.False, "false"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.While, "while"},
		{token.Lparen, "("},
		{token.Ident, "x"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Ident, "x"},
		{token.Assign, "="},
		{token.Ident, "x"},
		{token.Plus, "+"},
		{token.Int, "1"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.For, "for"},
		{token.Lparen, "("},
		{token.Var, "var"},
		{token.Ident, "i"},
		{token.Assign, "="},
		{token.Int, "0"},
		{token.Semicolon, ";"},
		{token.Ident, "i"},
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Ident, "i"},
		{token.Assign, "="},
		{token.Ident, "i"},
		{token.Plus, "+"},
		{token.Int, "1"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Ident, "i"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Break, "break"},
		{token.Semicolon, ";"},
		{token.Continue, "continue"},
		{token.Semicolon, ";"},
		{token.Recover, "recover"},
		{token.Lparen, "("},
		{token.Ident, "e"},
		{token.Rparen, ")"},
		{token.Lbrace, "{"},
		{token.Ident, "e"},
		{token.Semicolon, ";"},
		{token.Rbrace, "}"},
		{token.Int, "10"},
		{token.Eq, "=="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Int, "10"},
		{token.NotEq, "!="},
		{token.Int, "9"},
		{token.Semicolon, ";"},
		{token.String, "foobar"},
		{token.String, "foo\nbar"},
		{token.Lbracket, "["},
		{token.Int, "1"},
		{token.Comma, ","},
		{token.Int, "2"},
		{token.Rbracket, "]"},
		{token.Semicolon, ";"},
		{token.Lbrace, "{"},
		{token.String, "foo"},
		{token.Colon, ":"},
		{token.String, "bar"},
		{token.Rbrace, "}"},
		{token.Null, "null"},
		{token.Int, "1"},
		{token.Semicolon, ";"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (literal %q)",
				i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestNextTokenUnterminatedString(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Type != token.Illegal {
		t.Fatalf("expected Illegal token for unterminated string, got %q", tok.Type)
	}
}

func TestNextTokenPositions(t *testing.T) {
	l := New("var x = 1;\nx + 2;")

	first := l.NextToken() // var
	if first.Line != 1 || first.Column != 1 {
		t.Fatalf("expected var at 1:1, got %d:%d", first.Line, first.Column)
	}

	var tok token.Token
	for {
		tok = l.NextToken()
		if tok.Type == token.EOF {
			t.Fatalf("never found a token on line 2")
		}
		if tok.Line == 2 {
			break
		}
	}
	if tok.Literal != "x" || tok.Column != 1 {
		t.Fatalf("expected 'x' at column 1 of line 2, got %q at %d:%d", tok.Literal, tok.Line, tok.Column)
	}
}
