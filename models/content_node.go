package models

import (
	"strings"

	"github.com/google/uuid"
)

// NodeKind is the closed set of content-node kinds stored in the graph
type NodeKind string

const (
	// KindBranch is a structural branch node ("parti")
	KindBranch NodeKind = "parti"
	// KindContent is a title, section or article node ("contenuto")
	KindContent NodeKind = "contenuto"
)

// Valid reports whether k is one of the declared kinds
func (k NodeKind) Valid() bool {
	return k == KindBranch || k == KindContent
}

// ContentNode is a structural or leaf unit of a legal text.
// Leaves carry Body; non-leaves carry only Heading.
type ContentNode struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"`
	Kind       NodeKind   `json:"kind"`
	Position   int        `json:"position"` // order among siblings
	Title      string     `json:"title"`
	Heading    *string    `json:"heading,omitempty"`
	Body       *string    `json:"body,omitempty"`
	Embedding  []float32  `json:"-"`
}

// HasBody reports whether the node carries a non-empty body payload
func (n ContentNode) HasBody() bool {
	return n.Body != nil && strings.TrimSpace(*n.Body) != ""
}

// Kinds of RELATED edge targets
const (
	TargetContent = "contenuto"
	TargetChunk   = "chunk"
)

// RelatedEdge is a citation-derived link from a citing node to a cited node
type RelatedEdge struct {
	SourceID   uuid.UUID `json:"source_id"`
	TargetID   uuid.UUID `json:"target_id"`
	TargetKind string    `json:"target_kind"`
	Text       *string   `json:"text,omitempty"`
}

// ArticleTitle builds the canonical leaf title for an article number
func ArticleTitle(number string) string {
	return "Art. " + strings.TrimSpace(number)
}

// ArticleTitleLong builds the alternative long-form leaf title
func ArticleTitleLong(number string) string {
	return "Articolo " + strings.TrimSpace(number)
}
