// Package kb reads knowledge-base files and writes them into the graph.
//
// A KB tree is JSON in which every node declares its kind:
//
//	{"kind": "document", "nome_legge": "Codice Civile", "children": [
//	  {"kind": "parti", "titolo": "LIBRO QUARTO", "rubrica": "Delle obbligazioni", "children": [
//	    {"kind": "contenuto", "titolo": "Art. 1173", "rubrica": "Fonti delle obbligazioni",
//	     "contenuto": "Le obbligazioni derivano da contratto..."}]}]}
//
// Each kind accepts a fixed set of fields. Anything else is rejected.
package kb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Kind is the closed set of KB node kinds
type Kind string

const (
	KindDocument Kind = "document"
	KindBranch   Kind = "parti"
	KindContent  Kind = "contenuto"
)

// maxDepth bounds the nesting of a KB tree
const maxDepth = 64

var fieldSchema = map[Kind]map[string]bool{
	KindDocument: {"nome_legge": true, "name": true, "tag": true},
	KindBranch:   {"titolo": true, "rubrica": true},
	KindContent:  {"titolo": true, "rubrica": true, "contenuto": true},
}

// Node is one node of a KB tree. Document fields are only set on the root.
type Node struct {
	Kind Kind

	LegalName string
	Name      string
	Tag       string

	Title   string
	Heading string
	Body    string

	Children []*Node
}

// ErrInvalidTree is wrapped by every schema violation Parse reports
var ErrInvalidTree = errors.New("invalid knowledge-base tree")

// Parse reads one KB tree. The root must be a document, and documents may
// not nest.
func Parse(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after the root node", ErrInvalidTree)
	}

	root, err := parseNode(raw, "root", 0)
	if err != nil {
		return nil, err
	}
	if root.Kind != KindDocument {
		return nil, fmt.Errorf("%w: root: kind %q, want %q", ErrInvalidTree, root.Kind, KindDocument)
	}
	return root, nil
}

func parseNode(raw json.RawMessage, path string, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: %s: nesting deeper than %d", ErrInvalidTree, path, maxDepth)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %s: not an object", ErrInvalidTree, path)
	}

	var kind Kind
	if err := stringField(fields, "kind", (*string)(&kind)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTree, path, err)
	}
	schema, ok := fieldSchema[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidTree, path, kind)
	}
	if depth > 0 && kind == KindDocument {
		return nil, fmt.Errorf("%w: %s: nested document", ErrInvalidTree, path)
	}

	var unknown []string
	for name := range fields {
		if name != "kind" && name != "children" && !schema[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s: unknown %s fields: %s", ErrInvalidTree, path, kind, strings.Join(unknown, ", "))
	}

	n := &Node{Kind: kind}
	targets := map[string]*string{
		"nome_legge": &n.LegalName,
		"name":       &n.Name,
		"tag":        &n.Tag,
		"titolo":     &n.Title,
		"rubrica":    &n.Heading,
		"contenuto":  &n.Body,
	}
	for name := range schema {
		if err := stringField(fields, name, targets[name]); err != nil && !errors.Is(err, errMissing) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTree, path, err)
		}
	}

	if kind == KindDocument {
		n.LegalName = strings.TrimSpace(n.LegalName)
		if n.LegalName == "" {
			return nil, fmt.Errorf("%w: %s: document without nome_legge", ErrInvalidTree, path)
		}
		if n.Name == "" {
			n.Name = n.LegalName
		}
	}

	if rawChildren, ok := fields["children"]; ok && !bytes.Equal(bytes.TrimSpace(rawChildren), []byte("null")) {
		var children []json.RawMessage
		if err := json.Unmarshal(rawChildren, &children); err != nil {
			return nil, fmt.Errorf("%w: %s: children is not a list", ErrInvalidTree, path)
		}
		for i, c := range children {
			child, err := parseNode(c, fmt.Sprintf("%s.children[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}

var errMissing = errors.New("missing field")

func stringField(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok {
		return fmt.Errorf("%w %q", errMissing, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q must be a string", name)
	}
	return nil
}

// Walk calls fn for every node below root in depth-first order, with the
// node's parent and its index among its siblings
func Walk(root *Node, fn func(n, parent *Node, position int) error) error {
	var visit func(parent *Node) error
	visit = func(parent *Node) error {
		for i, child := range parent.Children {
			if err := fn(child, parent, i); err != nil {
				return err
			}
			if err := visit(child); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root)
}
