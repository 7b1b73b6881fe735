package lexer

import (
	"testing"

	"vela-vm/internal/token"
)

func TestNextToken(t *testing.T) {
	input := `var five = 5
var ten = 10

def add(x, y) {
  x + y
}

var result = add(five, ten)
-/*5
5 < 10 > 5

if (5 < 10) then
  print 1
else
  print 0

10 == 10
10 != 9
"foobar"
"foo bar"
struct Point: { x, y }
impl Point: { }
enum Color: { Red, Green }
add(1, _)
(x) -> x
f(...rest)
p.x
p.x?
`

	tests := []struct {
		expectedKind    token.Kind
		expectedLiteral string
	}{
		{token.VAR, "var"},
		{token.IDENTIFIER, "five"},
		{token.ASSIGN, "="},
		{token.NUMBER, "5"},
		{token.NEWLINE, "\n"},
		{token.VAR, "var"},
		{token.IDENTIFIER, "ten"},
		{token.ASSIGN, "="},
		{token.NUMBER, "10"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.DEF, "def"},
		{token.IDENTIFIER, "add"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "y"},
		{token.RPAREN, ")"},
		{token.LBRACE, "{"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "x"},
		{token.PLUS, "+"},
		{token.IDENTIFIER, "y"},
		{token.NEWLINE, "\n"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.VAR, "var"},
		{token.IDENTIFIER, "result"},
		{token.ASSIGN, "="},
		{token.IDENTIFIER, "add"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "five"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "ten"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.MINUS, "-"},
		{token.SLASH, "/"},
		{token.STAR, "*"},
		{token.NUMBER, "5"},
		{token.NEWLINE, "\n"},
		{token.NUMBER, "5"},
		{token.LT, "<"},
		{token.NUMBER, "10"},
		{token.GT, ">"},
		{token.NUMBER, "5"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.IF, "if"},
		{token.LPAREN, "("},
		{token.NUMBER, "5"},
		{token.LT, "<"},
		{token.NUMBER, "10"},
		{token.RPAREN, ")"},
		{token.THEN, "then"},
		{token.NEWLINE, "\n"},
		{token.PRINT, "print"},
		{token.NUMBER, "1"},
		{token.NEWLINE, "\n"},
		{token.ELSE, "else"},
		{token.NEWLINE, "\n"},
		{token.PRINT, "print"},
		{token.NUMBER, "0"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.NUMBER, "10"},
		{token.EQ, "=="},
		{token.NUMBER, "10"},
		{token.NEWLINE, "\n"},
		{token.NUMBER, "10"},
		{token.NEQ, "!="},
		{token.NUMBER, "9"},
		{token.NEWLINE, "\n"},
		{token.STRING, "foobar"},
		{token.NEWLINE, "\n"},
		{token.STRING, "foo bar"},
		{token.NEWLINE, "\n"},
		{token.STRUCT, "struct"},
		{token.IDENTIFIER, "Point"},
		{token.COLON, ":"},
		{token.LBRACE, "{"},
		{token.IDENTIFIER, "x"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "y"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.IMPL, "impl"},
		{token.IDENTIFIER, "Point"},
		{token.COLON, ":"},
		{token.LBRACE, "{"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.ENUM, "enum"},
		{token.IDENTIFIER, "Color"},
		{token.COLON, ":"},
		{token.LBRACE, "{"},
		{token.IDENTIFIER, "Red"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "Green"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "add"},
		{token.LPAREN, "("},
		{token.NUMBER, "1"},
		{token.COMMA, ","},
		{token.HOLE, "_"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.RPAREN, ")"},
		{token.ARROW, "->"},
		{token.IDENTIFIER, "x"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "f"},
		{token.LPAREN, "("},
		{token.ELLIPSIS, "..."},
		{token.IDENTIFIER, "rest"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "p"},
		{token.DOT, "."},
		{token.IDENTIFIER, "x"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "p"},
		{token.DOT, "."},
		{token.IDENTIFIER, "x"},
		{token.QMARK, "?"},
		{token.NEWLINE, "\n"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Kind != tt.expectedKind {
			t.Fatalf("tests[%d] - kind wrong. expected=%s, got=%s", i, tt.expectedKind, tok.Kind)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestLineCommentSkipped(t *testing.T) {
	l := New("1 // a comment\n2")
	tests := []struct {
		kind    token.Kind
		literal string
	}{
		{token.NUMBER, "1"},
		{token.NEWLINE, "\n"},
		{token.NUMBER, "2"},
		{token.EOF, ""},
	}
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Kind != tt.kind || tok.Literal != tt.literal {
			t.Fatalf("tests[%d]: expected {%s %q}, got {%s %q}", i, tt.kind, tt.literal, tok.Kind, tok.Literal)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"a\nb\tc\"d\\e"`)
	tok := l.NextToken()
	if tok.Kind != token.STRING {
		t.Fatalf("expected STRING, got %s", tok.Kind)
	}
	want := "a\nb\tc\"d\\e"
	if tok.Literal != want {
		t.Fatalf("expected %q, got %q", want, tok.Literal)
	}
}

func TestUnterminatedStringIsIllegal(t *testing.T) {
	l := New(`"unterminated`)
	tok := l.NextToken()
	if tok.Kind != token.ILLEGAL {
		t.Fatalf("expected ILLEGAL, got %s", tok.Kind)
	}
}

func TestBareBangIsIllegal(t *testing.T) {
	l := New("!")
	tok := l.NextToken()
	if tok.Kind != token.ILLEGAL {
		t.Fatalf("expected ILLEGAL for a bare '!', got %s", tok.Kind)
	}
}

func TestAllStopsAtEOF(t *testing.T) {
	toks, err := All("1 + 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(toks) == 0 || toks[len(toks)-1].Kind != token.EOF {
		t.Fatalf("expected the token stream to end in EOF, got %v", toks)
	}
}
