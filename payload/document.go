// Package payload holds the canonical document a flow's payload is converted
// to before transformation: an XML tree, a JSON value or opaque bytes.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Kind is the representation a Document holds
type Kind int

// Document kinds
const (
	KindRaw Kind = iota
	KindXML
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindXML:
		return "xml"
	case KindJSON:
		return "json"
	default:
		return "raw"
	}
}

// Document is an immutable-by-convention payload. Steps that change a
// document return a new one; Clone before mutating a tree in place.
type Document struct {
	kind Kind
	root *xmlquery.Node // document node for KindXML
	data []byte         // bytes for KindJSON and KindRaw
}

// ParseXML parses bytes into an XML document
func ParseXML(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNilPayload, "payload", "ParseXML", "empty document check")
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "payload", "ParseXML", "parse XML")
	}
	if firstElement(root) == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: no root element", errors.ErrParsingFailed), "payload", "ParseXML", "parse XML")
	}
	if !hasDeclaration(data) {
		dropDeclarations(root)
	}
	return &Document{kind: KindXML, root: root}, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// hasDeclaration reports whether data opens with an XML declaration
func hasDeclaration(data []byte) bool {
	data = bytes.TrimPrefix(data, utf8BOM)
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("<?xml"))
}

// dropDeclarations removes the declaration xmlquery adds to documents that
// did not carry one, so serializing gives back the input's shape.
func dropDeclarations(root *xmlquery.Node) {
	var decls []*xmlquery.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.DeclarationNode {
			decls = append(decls, c)
		}
	}
	for _, n := range decls {
		xmlquery.RemoveFromTree(n)
	}
}

// ParseJSON wraps bytes that must be valid JSON
func ParseJSON(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: invalid JSON", errors.ErrParsingFailed), "payload", "ParseJSON", "parse JSON")
	}
	return &Document{kind: KindJSON, data: append([]byte(nil), trimmed...)}, nil
}

// NewRaw wraps opaque bytes
func NewRaw(data []byte) *Document {
	return &Document{kind: KindRaw, data: append([]byte(nil), data...)}
}

// NewXMLDocument returns an empty XML document
func NewXMLDocument() *Document {
	return &Document{kind: KindXML, root: &xmlquery.Node{Type: xmlquery.DocumentNode}}
}

// NewJSONObject returns an empty JSON object document
func NewJSONObject() *Document {
	return &Document{kind: KindJSON, data: []byte("{}")}
}

// FromXMLNode wraps an existing document node, or an element that becomes
// the root of a new document.
func FromXMLNode(n *xmlquery.Node) *Document {
	if n.Type == xmlquery.DocumentNode {
		return &Document{kind: KindXML, root: n}
	}
	doc := &xmlquery.Node{Type: xmlquery.DocumentNode}
	xmlquery.AddChild(doc, copyNode(n))
	return &Document{kind: KindXML, root: doc}
}

// Kind returns the document representation
func (d *Document) Kind() Kind { return d.kind }

// Node returns the XML document node, or nil for other kinds
func (d *Document) Node() *xmlquery.Node { return d.root }

// Root returns the root element of an XML document
func (d *Document) Root() *xmlquery.Node {
	if d.root == nil {
		return nil
	}
	return firstElement(d.root)
}

// Bytes serializes the document. XML carries a declaration only when the
// parsed input did.
func (d *Document) Bytes() []byte {
	if d.kind == KindXML {
		return []byte(d.root.OutputXML(false))
	}
	return append([]byte(nil), d.data...)
}

// String returns Bytes as a string
func (d *Document) String() string { return string(d.Bytes()) }

// Size returns the serialized size in bytes
func (d *Document) Size() int {
	if d.kind == KindXML {
		return len(d.root.OutputXML(false))
	}
	return len(d.data)
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	if d.kind == KindXML {
		return &Document{kind: KindXML, root: copyNode(d.root)}
	}
	return &Document{kind: d.kind, data: append([]byte(nil), d.data...)}
}

// Value returns a generic view for expression environments: decoded JSON,
// or the document text for XML and raw payloads.
func (d *Document) Value() any {
	switch d.kind {
	case KindJSON:
		var v any
		if err := json.Unmarshal(d.data, &v); err == nil {
			return v
		}
		return string(d.data)
	default:
		return d.String()
	}
}

// Reparse interprets text in the same representation as d. It is used when
// a function returns a whole new payload as a string.
func (d *Document) Reparse(text string) (*Document, error) {
	switch d.kind {
	case KindXML:
		return ParseXML([]byte(text))
	case KindJSON:
		if !json.Valid([]byte(text)) {
			quoted, _ := json.Marshal(text)
			return ParseJSON(quoted)
		}
		return ParseJSON([]byte(text))
	default:
		return NewRaw([]byte(text)), nil
	}
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

// copyNode deep-copies n and its subtree, detached from any parent.
func copyNode(n *xmlquery.Node) *xmlquery.Node {
	c := &xmlquery.Node{
		Type:         n.Type,
		Data:         n.Data,
		Prefix:       n.Prefix,
		NamespaceURI: n.NamespaceURI,
	}
	if len(n.Attr) > 0 {
		c.Attr = append([]xmlquery.Attr(nil), n.Attr...)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		xmlquery.AddChild(c, copyNode(child))
	}
	return c
}

// ElementChildren returns the element children of n
func ElementChildren(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// NodeText returns the trimmed text of a node: attribute values for
// attribute nodes, inner text otherwise.
func NodeText(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}
