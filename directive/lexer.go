package directive

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokLParen
	tokRParen
	tokComma
	tokString // quoted argument, quotes removed and escapes resolved
	tokBare   // unquoted argument, trimmed
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of directive"
	case tokIdent:
		return "identifier"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokString:
		return "quoted argument"
	case tokBare:
		return "argument"
	}
	return "unknown token"
}

type token struct {
	kind tokenKind
	val  string
	pos  int // byte offset inside the directive body
}

// lexer splits the body of one <api>...</api> tag into tokens.
// Identifiers are only recognized before the argument list opens;
// inside the parentheses everything that is not punctuation or a
// quoted string is a bare argument.
type lexer struct {
	src    string
	pos    int
	inArgs bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", l.pos, fmt.Sprintf(format, args...))
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	switch c {
	case '(':
		l.pos++
		l.inArgs = true
		return token{kind: tokLParen, val: "(", pos: start}, nil
	case ')':
		l.pos++
		l.inArgs = false
		return token{kind: tokRParen, val: ")", pos: start}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, val: ",", pos: start}, nil
	case '\'', '"':
		return l.quoted(c)
	}

	if !l.inArgs {
		return l.ident()
	}
	return l.bare()
}

func (l *lexer) ident() (token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (l.pos > start && c >= '0' && c <= '9') {
			l.pos++
			continue
		}
		break
	}
	if l.pos == start {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		return token{}, l.errorf("unexpected character %q", r)
	}
	return token{kind: tokIdent, val: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) bare() (token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ',', '(', ')', '\'', '"':
			return token{kind: tokBare, val: strings.TrimSpace(l.src[start:l.pos]), pos: start}, nil
		}
		l.pos++
	}
	return token{kind: tokBare, val: strings.TrimSpace(l.src[start:l.pos]), pos: start}, nil
}

func (l *lexer) quoted(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == quote:
			l.pos++
			return token{kind: tokString, val: b.String(), pos: start}, nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	l.pos = start
	return token{}, l.errorf("unterminated quoted argument")
}
