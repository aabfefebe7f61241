package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Scored is a search candidate before enrichment
type Scored struct {
	ID    uuid.UUID
	Score float64
}

// Result is a context-enriched search hit
type Result struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	Score    float64   `json:"score"`
	Source   string    `json:"source,omitempty"` // source document name
	Title    string    `json:"title,omitempty"`
	Heading  string    `json:"heading,omitempty"`
	LawName  string    `json:"law_name,omitempty"`
	Prev     []string  `json:"prev_chunks,omitempty"`
	Next     []string  `json:"next_chunks,omitempty"`
	Entities []Entity  `json:"entities,omitempty"`
	Related  []string  `json:"related,omitempty"`
}

// Render formats the result as a context block for the agent prompt
func (r Result) Render() string {
	var b strings.Builder
	if r.Source != "" {
		fmt.Fprintf(&b, "[Fonte: %s]\n", r.Source)
	} else if r.LawName != "" {
		fmt.Fprintf(&b, "[Fonte: %s]\n", r.LawName)
	}
	if r.Title != "" {
		b.WriteString(r.Title)
		if r.Heading != "" {
			b.WriteString(" - " + r.Heading)
		}
		b.WriteString("\n")
	}
	for _, p := range r.Prev {
		b.WriteString("... " + p + "\n")
	}
	b.WriteString(r.Text)
	b.WriteString("\n")
	for _, n := range r.Next {
		b.WriteString(n + " ...\n")
	}
	if len(r.Entities) > 0 {
		parts := make([]string, 0, len(r.Entities))
		for _, e := range r.Entities {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.Text, e.Label))
		}
		b.WriteString("Entità: " + strings.Join(parts, "; ") + "\n")
	}
	for _, rel := range r.Related {
		b.WriteString("Correlato: " + rel + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
