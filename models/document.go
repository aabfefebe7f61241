package models

import (
	"github.com/google/uuid"
)

// Document is the root of a chunk chain and/or a content-node tree
type Document struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Tag       *string   `json:"tag,omitempty"`
	LegalName *string   `json:"legal_name,omitempty"` // canonical law name, e.g. "Codice Civile"
}

// Chunk is a contiguous slice of an ingested document's text.
// The head chunk of a chain has DocumentID set and PrevChunkID nil;
// every other chunk points at its predecessor.
type Chunk struct {
	ID          uuid.UUID  `json:"id"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	PrevChunkID *uuid.UUID `json:"prev_chunk_id,omitempty"`
	Text        string     `json:"text"`
	Embedding   []float32  `json:"-"`
}

// Entity is a labelled span attached to one or more chunks
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}
