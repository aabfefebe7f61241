package models

import (
	"github.com/google/uuid"
)

// Citation is a (document name, article number) pair found in a text span.
// Citations are never persisted; only their resolution is.
type Citation struct {
	DocumentName  string `json:"document_name"`
	ArticleNumber string `json:"article_number"`
}

// Match is the resolution of a citation. Both ids are independently
// nullable, but ArticleID is only ever set together with DocumentID.
type Match struct {
	DocumentID uuid.NullUUID `json:"document_id"`
	ArticleID  uuid.NullUUID `json:"article_id"`
}

// NoMatch is the sentinel for an unresolved citation
var NoMatch = Match{}

// DocumentMatched reports whether the document passed the confidence gate
func (m Match) DocumentMatched() bool {
	return m.DocumentID.Valid
}

// Resolved reports whether both the document and the article were found
func (m Match) Resolved() bool {
	return m.DocumentID.Valid && m.ArticleID.Valid
}
