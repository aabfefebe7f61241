package directive

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleSearch(t *testing.T) {
	batch := Parse("<api>search_by_text('DocA','hello')</api>")

	require.Len(t, batch.Calls, 1)
	assert.Empty(t, batch.Errors)
	assert.False(t, batch.Terminal)

	call := batch.Calls[0]
	assert.Equal(t, SearchByText, call.Name)
	assert.Equal(t, "DocA", call.Doc)
	assert.Equal(t, "hello", call.Arg)
	assert.Equal(t, 0, call.Offset)
}

func TestParseMultipleInDocumentOrder(t *testing.T) {
	resp := `Cerco prima per testo.
<api>search_by_text('Codice Civile','responsabilità')</api>
poi per articolo <api>search_by_article("2043", "Codice Civile")</api>
e infine <api>wide_search('danno ingiusto','')</api>`

	batch := Parse(resp)
	require.Len(t, batch.Calls, 3)
	assert.Empty(t, batch.Errors)

	assert.Equal(t, SearchByText, batch.Calls[0].Name)
	assert.Equal(t, SearchByArticle, batch.Calls[1].Name)
	assert.Equal(t, "2043", batch.Calls[1].Doc)
	assert.Equal(t, "Codice Civile", batch.Calls[1].Arg)
	assert.Equal(t, WideSearch, batch.Calls[2].Name)
	assert.Equal(t, "danno ingiusto", batch.Calls[2].Doc)
	assert.Equal(t, "", batch.Calls[2].Arg)

	assert.Less(t, batch.Calls[0].Offset, batch.Calls[1].Offset)
	assert.Less(t, batch.Calls[1].Offset, batch.Calls[2].Offset)
}

func TestParseAliases(t *testing.T) {
	batch := Parse("<api>search_article('15','Costituzione')</api><api>wide_article('ferie','')</api>")
	require.Len(t, batch.Calls, 2)
	assert.Equal(t, SearchByArticle, batch.Calls[0].Name)
	assert.Equal(t, WideSearch, batch.Calls[1].Name)
}

func TestParseBareAndMissingArgs(t *testing.T) {
	batch := Parse("<api>search_by_category( , LAW )</api><api>search_by_article(15)</api>")
	require.Len(t, batch.Calls, 2)

	assert.Equal(t, "", batch.Calls[0].Doc)
	assert.Equal(t, "LAW", batch.Calls[0].Arg)
	assert.Equal(t, "15", batch.Calls[1].Doc)
	assert.Equal(t, "", batch.Calls[1].Arg)
}

func TestParseEscapedQuotes(t *testing.T) {
	batch := Parse(`<api>search_by_text('', 'l\'azione di \"rivendicazione\"')</api>`)
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, `l'azione di "rivendicazione"`, batch.Calls[0].Arg)
}

func TestParseArgumentsContainingCommasInQuotes(t *testing.T) {
	batch := Parse(`<api>search_by_text('DocA','uno, due, tre')</api>`)
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, "uno, due, tre", batch.Calls[0].Arg)
}

func TestParseTerminal(t *testing.T) {
	batch := Parse("Ho abbastanza contesto. <api>end_querying('La risposta è...')</api>")
	require.True(t, batch.Terminal)
	assert.Equal(t, "La risposta è...", batch.Answer)
	assert.False(t, batch.Empty())
}

func TestParseTerminalUnescapesAndKeepsParentheses(t *testing.T) {
	batch := Parse("<api>end_querying(Vedi l&#39;art. 2043 (c.c.), &quot;danno&quot;)</api>")
	require.True(t, batch.Terminal)
	assert.Equal(t, `Vedi l'art. 2043 (c.c.), "danno"`, batch.Answer)
}

func TestParseTerminalAlongsideSearches(t *testing.T) {
	batch := Parse("<api>search_by_text('a','b')</api><api>end_querying(fine)</api><api>end_querying(altro)</api>")
	assert.True(t, batch.Terminal)
	assert.Equal(t, "fine", batch.Answer)
	assert.Len(t, batch.Calls, 1)
}

func TestParseNoDirectives(t *testing.T) {
	batch := Parse("Non so cosa cercare.")
	assert.True(t, batch.Empty())
	assert.Empty(t, batch.Errors)
}

func TestParseMalformedDirectivesAreDropped(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown name", "search_everything('a','b')"},
		{"unterminated quote", "search_by_text('a','b)"},
		{"too many args", "search_by_text('a','b','c')"},
		{"missing paren", "search_by_text 'a','b'"},
		{"trailing garbage", "search_by_text('a','b') extra"},
		{"junk between args", "search_by_text('a' 'b')"},
		{"no name", "('a','b')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := "pre <api>" + tt.body + "</api> <api>search_by_text('ok','ok')</api>"
			batch := Parse(resp)

			require.Len(t, batch.Calls, 1, "well-formed sibling must survive")
			assert.Equal(t, "ok", batch.Calls[0].Doc)
			require.Len(t, batch.Errors, 1)
			assert.Equal(t, 4, batch.Errors[0].Offset)
			assert.Contains(t, batch.Errors[0].Error(), "offset 4")
		})
	}
}

func TestParseUnclosedTag(t *testing.T) {
	batch := Parse("<api>search_by_text('a','b')</api> <api>search_by_text('c','d')")
	require.Len(t, batch.Calls, 1)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0].Reason, "</api>")
}

func TestCallStringRoundTrip(t *testing.T) {
	call := Call{Name: SearchByEmbedding, Doc: "DocA", Arg: "hello"}
	assert.Equal(t, "search_by_embedding('DocA','hello')", call.String())

	batch := Parse("<api>" + call.String() + "</api>")
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, call.Name, batch.Calls[0].Name)
	assert.Equal(t, call.Doc, batch.Calls[0].Doc)
	assert.Equal(t, call.Arg, batch.Calls[0].Arg)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// 79 ASCII bytes then "è" spans bytes 79 and 80
	s := strings.Repeat("a", 79) + "è" + strings.Repeat("b", 10)

	got := truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 79)+"...", got)

	assert.Equal(t, "breve", truncate("breve"))
}

func TestParseErrorDirectiveIsValidUTF8(t *testing.T) {
	// the 33-byte prefix puts byte 80 inside an "à"
	body := "search_by_text('Codice Civile', '" + strings.Repeat("à", 60) + "'"
	batch := Parse("<api>" + body + ")) extra</api>")

	require.NotEmpty(t, batch.Errors)
	for _, perr := range batch.Errors {
		assert.True(t, utf8.ValidString(perr.Directive))
	}
}
