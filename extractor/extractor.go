// Package extractor finds statute citations ("art. 2043 c.c.") in free text.
package extractor

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"lexgraph-backend/models"
)

// Extractor returns the (document, article) citations mentioned in a text,
// in document order.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]models.Citation, error)
}

// Canonical document names the abbreviations resolve to
const (
	CodiceCivile                 = "Codice Civile"
	CodicePenale                 = "Codice Penale"
	CodiceProceduraCivile        = "Codice di Procedura Civile"
	CodiceProceduraPenale        = "Codice di Procedura Penale"
	Costituzione                 = "Costituzione"
	decretoLegislativoNamePrefix = "D.Lgs."
	leggeNamePrefix              = "Legge"
	dprNamePrefix                = "D.P.R."
)

const latinSuffix = `(?:bis|ter|quater|quinquies|sexies|septies|octies|novies|decies)`

// 15, 15-bis, 15 bis, 15bis
const articleNumber = `\d+(?:\s*-?\s*` + latinSuffix + `\b)?`

var (
	// art. 15 / articolo 15-bis
	singleArticleRe = regexp.MustCompile(`(?i)\b(?:art\.|articolo)\s*(` + articleNumber + `)`)
	// artt. 1218 e 1223 / articoli 1, 2, e 3
	articleListRe = regexp.MustCompile(`(?i)\b(?:artt\.|articoli)\s*(` + articleNumber + `(?:\s*(?:,\s*(?:\bed?\b)?|\bed?\b)\s*` + articleNumber + `)*)`)
	listItemRe    = regexp.MustCompile(`(?i)` + articleNumber)
	suffixSpaceRe = regexp.MustCompile(`(?i)(\d+)\s*-?\s*(` + latinSuffix + `)`)
)

type docPattern struct {
	re   *regexp.Regexp
	name func(m []string) string
}

func fixed(name string) func([]string) string {
	return func([]string) string { return name }
}

func numbered(prefix string) func([]string) string {
	return func(m []string) string { return prefix + " " + m[1] + "/" + m[2] }
}

var docPatterns = []docPattern{
	{regexp.MustCompile(`(?i)\bc\.\s?p\.\s?c\.`), fixed(CodiceProceduraCivile)},
	{regexp.MustCompile(`(?i)\bc\.\s?p\.\s?p\.`), fixed(CodiceProceduraPenale)},
	{regexp.MustCompile(`(?i)\bc\.\s?c\.`), fixed(CodiceCivile)},
	{regexp.MustCompile(`(?i)\bc\.\s?p\.`), fixed(CodicePenale)},
	{regexp.MustCompile(`(?i)\bcost\.`), fixed(Costituzione)},
	{regexp.MustCompile(`(?i)\bcodice\s+di\s+procedura\s+civile\b`), fixed(CodiceProceduraCivile)},
	{regexp.MustCompile(`(?i)\bcodice\s+di\s+procedura\s+penale\b`), fixed(CodiceProceduraPenale)},
	{regexp.MustCompile(`(?i)\bcodice\s+civile\b`), fixed(CodiceCivile)},
	{regexp.MustCompile(`(?i)\bcodice\s+penale\b`), fixed(CodicePenale)},
	{regexp.MustCompile(`(?i)\bcostituzione\b`), fixed(Costituzione)},
	{regexp.MustCompile(`(?i)\b(?:d\.\s?lgs\.?|decreto\s+legislativo)\s*(?:n\.\s*)?(\d+)\s*/\s*(\d{4})`), numbered(decretoLegislativoNamePrefix)},
	{regexp.MustCompile(`(?i)\b(?:d\.\s?p\.\s?r\.?|decreto\s+del\s+presidente\s+della\s+repubblica)\s*(?:n\.\s*)?(\d+)\s*/\s*(\d{4})`), numbered(dprNamePrefix)},
	{regexp.MustCompile(`(?i)\b(?:legge|l\.)\s*(?:n\.\s*)?(\d+)\s*/\s*(\d{4})`), numbered(leggeNamePrefix)},
}

type mentionKind int

const (
	mentionArticle mentionKind = iota
	mentionDocument
)

type mention struct {
	kind  mentionKind
	start int
	end   int
	value string
}

// RuleExtractor recognizes the usual Italian citation forms with regular
// expressions. It is deterministic: unchanged text yields unchanged output.
type RuleExtractor struct{}

// NewRuleExtractor creates a rule-based extractor
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract implements Extractor.
//
// An article is attributed to the document mentioned right after it
// ("art. 2043 c.c."), otherwise to the last document mentioned before it,
// otherwise to the next document mentioned anywhere later in the text.
// Articles with no document at all are dropped.
func (e *RuleExtractor) Extract(ctx context.Context, text string) ([]models.Citation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	mentions := scan(text)

	var citations []models.Citation
	seen := make(map[models.Citation]bool)
	var current string
	for i, m := range mentions {
		if m.kind == mentionDocument {
			current = m.value
			continue
		}

		doc := ""
		if next, ok := nextDocument(mentions, i); ok && adjacent(text, m, next) {
			doc = next.value
		} else if current != "" {
			doc = current
		} else if ok {
			doc = next.value
		}
		if doc == "" {
			continue
		}

		c := models.Citation{DocumentName: doc, ArticleNumber: m.value}
		if seen[c] {
			continue
		}
		seen[c] = true
		citations = append(citations, c)
	}
	return citations, nil
}

// nextDocument returns the first document mention after index i
func nextDocument(mentions []mention, i int) (mention, bool) {
	for _, m := range mentions[i+1:] {
		if m.kind == mentionDocument {
			return m, true
		}
	}
	return mention{}, false
}

// adjacent reports whether only connective words and other article numbers
// separate an article from the following document ("art. 3 della legge
// 241/1990", "artt. 1218 e 1223 c.c.").
func adjacent(text string, art, doc mention) bool {
	if doc.start < art.end {
		return false
	}
	gap := strings.ToLower(strings.TrimSpace(text[art.end:doc.start]))
	if gap == "" {
		return true
	}
	for _, w := range strings.FieldsFunc(gap, func(r rune) bool { return r == ' ' || r == ',' || r == '\n' || r == '\t' }) {
		switch w {
		case "e", "ed", "del", "della", "dello", "dei", "delle", "di", "art.", "comma", "co.", "n.", "primo", "secondo", "terzo":
			continue
		}
		if isNumberish(w) {
			continue
		}
		return false
	}
	return true
}

func isNumberish(w string) bool {
	w = strings.Trim(w, ".;:")
	if w == "" {
		return false
	}
	for _, r := range w {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// scan returns article and document mentions ordered by position, with
// overlapping document matches resolved in favour of the earliest, longest.
func scan(text string) []mention {
	var mentions []mention

	listSpans := articleListRe.FindAllStringSubmatchIndex(text, -1)
	for _, loc := range listSpans {
		items := listItemRe.FindAllStringIndex(text[loc[2]:loc[3]], -1)
		for _, it := range items {
			start := loc[2] + it[0]
			end := loc[2] + it[1]
			mentions = append(mentions, mention{
				kind:  mentionArticle,
				start: start,
				end:   end,
				value: normalizeArticle(text[start:end]),
			})
		}
	}

	for _, loc := range singleArticleRe.FindAllStringSubmatchIndex(text, -1) {
		if insideAny(loc[0], listSpans) {
			continue
		}
		mentions = append(mentions, mention{
			kind:  mentionArticle,
			start: loc[2],
			end:   loc[3],
			value: normalizeArticle(text[loc[2]:loc[3]]),
		})
	}

	var docs []mention
	for _, p := range docPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			groups := make([]string, len(loc)/2)
			for g := range groups {
				if loc[2*g] >= 0 {
					groups[g] = text[loc[2*g]:loc[2*g+1]]
				}
			}
			docs = append(docs, mention{kind: mentionDocument, start: loc[0], end: loc[1], value: p.name(groups)})
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].start != docs[j].start {
			return docs[i].start < docs[j].start
		}
		return docs[i].end > docs[j].end
	})
	lastEnd := -1
	for _, d := range docs {
		if d.start < lastEnd {
			continue
		}
		mentions = append(mentions, d)
		lastEnd = d.end
	}

	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].start < mentions[j].start })
	return mentions
}

func insideAny(pos int, spans [][]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

// normalizeArticle turns "15 - bis" or "15bis" into "15-bis"
func normalizeArticle(s string) string {
	s = strings.TrimSpace(s)
	if m := suffixSpaceRe.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + strings.ToLower(m[2])
	}
	return s
}
