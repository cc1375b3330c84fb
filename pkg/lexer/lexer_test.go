package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectTypes(input string) []TokenType {
	l := New(input)
	var types []TokenType
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == TokenEOF {
			return types
		}
	}
}

func TestNextTokenDelimitersAndOperators(t *testing.T) {
	input := `func main() { var x := 1 + 2 * 3; }`
	types := collectTypes(input)
	require.NotEmpty(t, types)
	assert.Equal(t, TokenFunc, types[0])
	assert.Equal(t, TokenIdentifier, types[1])
	assert.Equal(t, TokenLParen, types[2])
	assert.Equal(t, TokenRParen, types[3])
	assert.Equal(t, TokenLBrace, types[4])
	assert.Equal(t, TokenVar, types[5])
	assert.Equal(t, TokenIdentifier, types[6])
	assert.Equal(t, TokenDefine, types[7])
}

func TestKeywordsResolveToDistinctTypes(t *testing.T) {
	tests := map[string]TokenType{
		"class": TokenClass, "struct": TokenStruct, "enum": TokenEnum,
		"interface": TokenInterface, "trait": TokenTrait, "try": TokenTry,
		"catch": TokenCatch, "finally": TokenFinally, "throw": TokenThrow,
		"match": TokenMatch, "go": TokenGo, "import": TokenImport,
		"is": TokenIs, "as": TokenAs,
	}
	for lit, want := range tests {
		l := New(lit)
		tok := l.NextToken()
		assert.Equal(t, want, tok.Type, "keyword %q", lit)
		assert.Equal(t, lit, tok.Literal)
	}
}

func TestNumberLiterals(t *testing.T) {
	l := New("42 3.14 7")
	intTok := l.NextToken()
	assert.Equal(t, TokenInteger, intTok.Type)
	assert.Equal(t, "42", intTok.Literal)

	floatTok := l.NextToken()
	assert.Equal(t, TokenFloat, floatTok.Type)
	assert.Equal(t, "3.14", floatTok.Literal)

	intTok2 := l.NextToken()
	assert.Equal(t, TokenInteger, intTok2.Type)
	assert.Equal(t, "7", intTok2.Literal)
}

func TestStringLiteralWithEscapes(t *testing.T) {
	l := New(`"hello\nworld"`)
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "hello\nworld", tok.Literal)
}

func TestUnterminatedStringRecordsError(t *testing.T) {
	l := New(`"oops`)
	l.NextToken()
	require.Len(t, l.Errors(), 1)
	assert.Contains(t, l.Errors()[0], "unterminated string")
}

func TestTwoCharOperators(t *testing.T) {
	tests := []struct {
		input string
		want  TokenType
	}{
		{":=", TokenDefine}, {"==", TokenEqualEqual}, {"!=", TokenNotEqual},
		{"<=", TokenLessEq}, {">=", TokenGreaterEq}, {"&&", TokenAnd}, {"||", TokenOr},
		{"->", TokenArrow}, {"?.", TokenQuestionDot}, {"!.", TokenBangDot},
		{"...", TokenDotDotDot}, {"..", TokenDotDot},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		assert.Equal(t, tt.want, tok.Type, "input %q", tt.input)
	}
}

func TestCommentsAreSkipped(t *testing.T) {
	input := "// line comment\n1 /* block\ncomment */ 2"
	types := collectTypes(input)
	assert.Equal(t, []TokenType{TokenInteger, TokenInteger, TokenEOF}, types)
}

func TestLineAndColumnTracking(t *testing.T) {
	l := New("ab\ncd")
	first := l.NextToken()
	assert.Equal(t, 1, first.Line)
	second := l.NextToken()
	assert.Equal(t, 2, second.Line)
}

func TestUnknownCharacterProducesIllegalTokenAndError(t *testing.T) {
	l := New("@")
	tok := l.NextToken()
	assert.Equal(t, TokenIllegal, tok.Type)
	require.Len(t, l.Errors(), 1)
}
