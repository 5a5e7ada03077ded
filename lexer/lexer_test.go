package lexer

import (
	"testing"

	"github.com/monkeyc-lang/monkeyc/token"
)

// TestNextToken tests the functionality of the NextToken method in the Lexer to ensure all tokens are correctly identified.
func TestNextToken(t *testing.T) {
	input := `let five = 5;
let ten = 10;
let add = fn(x, y) {
    x + y;
};
let result = add(five, ten);
!-/*5;
5 < 10 > 5;

if (5 < 10) {
    return true;
} else {
    return false;
}

10 == 10;
10 != 9;
5 <= 10;
10 >= 5;

// line comments are skipped entirely
"foobar"
"foo bar"
[1, 2];
{"foo": "bar"}
`
	tests := []struct {
		expectedType    token.Type
		expectedLiteral string
	}{
		{token.Let, "let"},
		{token.Ident, "five"},
		{token.Assign, "="},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.Let, "let"},
		{token.Ident, "ten"},
		{token.Assign, "="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Let, "let"},
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
		{token.Let, "let"},
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
		{token.Lt, "<"},
		{token.Int, "10"},
		{token.Gt, ">"},
		{token.Int, "5"},
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
		{token.Int, "10"},
		{token.Eq, "=="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Int, "10"},
		{token.NotEq, "!="},
		{token.Int, "9"},
		{token.Semicolon, ";"},
		{token.Int, "5"},
		{token.Lte, "<="},
		{token.Int, "10"},
		{token.Semicolon, ";"},
		{token.Int, "10"},
		{token.Gte, ">="},
		{token.Int, "5"},
		{token.Semicolon, ";"},
		{token.String, "foobar"},
		{token.String, "foo bar"},
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
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q",
				i, tt.expectedType, tok.Type)
		}

		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

// TestStringEscapes verifies that escape sequences inside string literals are unescaped.
func TestStringEscapes(t *testing.T) {
	input := `"a\nb" "tab\there" "quote\"inside" "back\\slash"`

	expected := []string{"a\nb", "tab\there", "quote\"inside", "back\\slash"}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != token.String {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, token.String, tok.Type)
		}
		if tok.Literal != want {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, want, tok.Literal)
		}
	}

	if tok := l.NextToken(); tok.Type != token.EOF {
		t.Fatalf("expected EOF, got %q", tok.Type)
	}
}

// TestUnterminatedString verifies that an unterminated string produces an Illegal token.
func TestUnterminatedString(t *testing.T) {
	l := New(`"never closed`)

	tok := l.NextToken()
	if tok.Type != token.Illegal {
		t.Fatalf("tokentype wrong. expected=%q, got=%q", token.Illegal, tok.Type)
	}
}
