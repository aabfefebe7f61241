// Package directive parses the tool directives an agent embeds in its
// responses:
//
//	<api>search_by_text('Codice Civile','obbligazioni')</api>
//	<api>end_querying(La risposta è ...)</api>
//
// Search directives take at most two arguments, quoted with ' or " or left
// bare. The terminal end_querying directive takes its payload verbatim up to
// the last closing parenthesis of the tag. Malformed directives are dropped
// from the batch and reported as ParseErrors.
package directive

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

const (
	openTag  = "<api>"
	closeTag = "</api>"
)

// Canonical directive names
const (
	SearchByEmbedding = "search_by_embedding"
	SearchByText      = "search_by_text"
	SearchByCategory  = "search_by_category"
	SearchByArticle   = "search_by_article"
	WideSearch        = "wide_search"
	EndQuerying       = "end_querying"
)

// aliases maps accepted spellings onto canonical names
var aliases = map[string]string{
	SearchByEmbedding: SearchByEmbedding,
	SearchByText:      SearchByText,
	SearchByCategory:  SearchByCategory,
	SearchByArticle:   SearchByArticle,
	"search_article":  SearchByArticle,
	WideSearch:        WideSearch,
	"wide_article":    WideSearch,
}

// Canonical returns the canonical directive name for name and whether it is
// a recognized search directive.
func Canonical(name string) (string, bool) {
	c, ok := aliases[name]
	return c, ok
}

// Call is one parsed search directive. For embedding, text and category
// searches Doc is the document scope and Arg the query; for article search
// Doc is the article number and Arg the law; for wide search Doc is the
// query and Arg the law.
type Call struct {
	Name   string
	Doc    string
	Arg    string
	Offset int // byte offset of the <api> tag in the response
}

// String renders the call the way it is echoed back to the agent
func (c Call) String() string {
	return fmt.Sprintf("%s('%s','%s')", c.Name, c.Doc, c.Arg)
}

// ParseError describes a directive that was dropped from the batch
type ParseError struct {
	Offset    int
	Directive string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed directive at offset %d (%q): %s", e.Offset, e.Directive, e.Reason)
}

// Batch is everything parsed from one agent response
type Batch struct {
	Calls    []Call
	Terminal bool
	Answer   string
	Errors   []*ParseError
}

// Empty reports whether the response carried no usable directive
func (b Batch) Empty() bool {
	return len(b.Calls) == 0 && !b.Terminal
}

// Parse extracts all directives from a response in document order.
// Only the first end_querying directive is honoured.
func Parse(response string) Batch {
	var batch Batch

	rest := response
	base := 0
	for {
		i := strings.Index(rest, openTag)
		if i < 0 {
			break
		}
		offset := base + i
		bodyStart := i + len(openTag)
		j := strings.Index(rest[bodyStart:], closeTag)
		if j < 0 {
			batch.Errors = append(batch.Errors, &ParseError{
				Offset:    offset,
				Directive: truncate(rest[i:]),
				Reason:    "missing " + closeTag,
			})
			break
		}
		body := rest[bodyStart : bodyStart+j]
		advance := bodyStart + j + len(closeTag)
		rest = rest[advance:]
		base += advance

		if isTerminal(body) {
			answer, err := parseTerminal(body)
			if err != nil {
				batch.Errors = append(batch.Errors, &ParseError{Offset: offset, Directive: truncate(body), Reason: err.Error()})
				continue
			}
			if !batch.Terminal {
				batch.Terminal = true
				batch.Answer = answer
			}
			continue
		}

		call, err := parseCall(body)
		if err != nil {
			batch.Errors = append(batch.Errors, &ParseError{Offset: offset, Directive: truncate(body), Reason: err.Error()})
			continue
		}
		call.Offset = offset
		batch.Calls = append(batch.Calls, call)
	}

	return batch
}

func isTerminal(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), EndQuerying)
}

// parseTerminal takes everything between the first '(' and the last ')'.
// Answers routinely contain commas, quotes and parentheses, so the payload
// is not tokenized.
func parseTerminal(body string) (string, error) {
	body = strings.TrimSpace(body)
	rest := strings.TrimSpace(body[len(EndQuerying):])
	if !strings.HasPrefix(rest, "(") {
		return "", fmt.Errorf("expected '(' after %s", EndQuerying)
	}
	end := strings.LastIndex(rest, ")")
	if end <= 0 {
		return "", fmt.Errorf("missing ')' after %s payload", EndQuerying)
	}
	payload := strings.TrimSpace(rest[1:end])
	payload = unquote(payload)
	return html.UnescapeString(payload), nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' || first == '"') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseCall(body string) (Call, error) {
	p := &parser{lex: newLexer(body)}
	if err := p.advance(); err != nil {
		return Call{}, err
	}

	name, err := p.expect(tokIdent)
	if err != nil {
		return Call{}, err
	}
	canonical, ok := Canonical(name.val)
	if !ok {
		return Call{}, fmt.Errorf("unknown directive %q", name.val)
	}
	if _, err := p.expect(tokLParen); err != nil {
		return Call{}, err
	}

	args, err := p.args()
	if err != nil {
		return Call{}, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return Call{}, err
	}
	if p.tok.kind != tokEOF {
		return Call{}, fmt.Errorf("offset %d: unexpected %s after ')'", p.tok.pos, p.tok.kind)
	}
	if len(args) > 2 {
		return Call{}, fmt.Errorf("%s takes at most 2 arguments, got %d", canonical, len(args))
	}

	call := Call{Name: canonical}
	if len(args) > 0 {
		call.Doc = args[0]
	}
	if len(args) > 1 {
		call.Arg = args[1]
	}
	return call, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	if p.tok.kind != kind {
		return token{}, fmt.Errorf("offset %d: expected %s, found %s", p.tok.pos, kind, p.tok.kind)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

// args parses: [ arg { "," arg } ]
func (p *parser) args() ([]string, error) {
	var args []string
	if p.tok.kind == tokRParen {
		return args, nil
	}
	for {
		switch p.tok.kind {
		case tokString, tokBare:
			args = append(args, p.tok.val)
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokComma, tokRParen:
			// empty argument, e.g. ('', 'x') written as (,x)
			args = append(args, "")
		default:
			return nil, fmt.Errorf("offset %d: expected argument, found %s", p.tok.pos, p.tok.kind)
		}
		// a bare run directly followed by a quote, e.g. (abc'def'), is malformed
		if p.tok.kind == tokString || p.tok.kind == tokBare {
			return nil, fmt.Errorf("offset %d: expected ',' or ')', found %s", p.tok.pos, p.tok.kind)
		}
		if p.tok.kind != tokComma {
			return args, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func truncate(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
