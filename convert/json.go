package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/antchfx/xmlquery"
	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// DefaultRoot is the root element used when a JSON payload does not name one.
const DefaultRoot = "root"

// JSONConverter handles JSON protocols
type JSONConverter struct{}

// ToCanonical converts JSON to an XML document
func (c *JSONConverter) ToCanonical(raw []byte, cfg adapter.Config) (*payload.Document, error) {
	doc, err := JSONToXML(raw, rootName(cfg, ""))
	if err != nil {
		return nil, conversionError("json", err)
	}
	return doc, nil
}

// FromCanonical writes doc as JSON
func (c *JSONConverter) FromCanonical(doc *payload.Document, _ adapter.Config) ([]byte, error) {
	switch doc.Kind() {
	case payload.KindXML:
		out, err := XMLToJSON(doc)
		if err != nil {
			return nil, conversionError("json", err)
		}
		return out, nil
	default:
		return doc.Bytes(), nil
	}
}

// JSONToXML converts a JSON value into an XML document. Object keys keep
// their document order. Arrays become a wrapper element holding repeated
// singular children (items → item). Null values are skipped. Keys starting
// with @ become attributes and #text becomes element text.
//
// With an empty root, a single-key object whose value is an object uses that
// key as the root element; anything else is wrapped in DefaultRoot.
func JSONToXML(data []byte, root string) (*payload.Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty JSON payload", errors.ErrNilPayload)
	}
	if !gjson.ValidBytes(trimmed) {
		return nil, fmt.Errorf("%w: invalid JSON", errors.ErrParsingFailed)
	}
	value := gjson.ParseBytes(trimmed)

	if root == "" {
		root = DefaultRoot
		if value.IsObject() {
			var keys []string
			var only gjson.Result
			value.ForEach(func(k, v gjson.Result) bool {
				keys = append(keys, k.String())
				only = v
				return true
			})
			if len(keys) == 1 && only.IsObject() {
				root = keys[0]
				value = only
			}
		}
	}

	doc := payload.NewXMLDocument()
	el := newElement(root)
	xmlquery.AddChild(doc.Node(), el)
	fillElement(el, value)
	return doc, nil
}

func newElement(name string) *xmlquery.Node {
	return &xmlquery.Node{Type: xmlquery.ElementNode, Data: sanitizeName(name)}
}

func fillElement(el *xmlquery.Node, v gjson.Result) {
	switch {
	case v.IsObject():
		v.ForEach(func(k, child gjson.Result) bool {
			key := k.String()
			switch {
			case child.Type == gjson.Null:
			case key == "#text":
				xmlquery.AddChild(el, &xmlquery.Node{Type: xmlquery.TextNode, Data: child.String()})
			case strings.HasPrefix(key, "@") && !child.IsObject() && !child.IsArray():
				xmlquery.AddAttr(el, sanitizeName(key[1:]), child.String())
			default:
				appendValue(el, key, child)
			}
			return true
		})
	case v.IsArray():
		item := singular(el.Data)
		for _, child := range v.Array() {
			appendValue(el, item, child)
		}
	case v.Type == gjson.Null:
	default:
		xmlquery.AddChild(el, &xmlquery.Node{Type: xmlquery.TextNode, Data: v.String()})
	}
}

func appendValue(parent *xmlquery.Node, name string, v gjson.Result) {
	if v.Type == gjson.Null {
		return
	}
	el := newElement(name)
	xmlquery.AddChild(parent, el)
	fillElement(el, v)
}

// singular names the repeated child of an array element.
func singular(name string) string {
	switch {
	case strings.HasSuffix(name, "ies") && len(name) > 3:
		return name[:len(name)-3] + "y"
	case strings.HasSuffix(name, "ses") && len(name) > 3:
		return name[:len(name)-2]
	case strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss") && len(name) > 1:
		return name[:len(name)-1]
	default:
		return "item"
	}
}

// sanitizeName makes s a valid XML element name.
func sanitizeName(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range s {
		valid := unicode.IsLetter(r) || r == '_' ||
			(i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.'))
		if valid {
			b.WriteRune(r)
			continue
		}
		if i == 0 && (unicode.IsDigit(r) || r == '-' || r == '.') {
			b.WriteRune('_')
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	out := b.String()
	if strings.HasPrefix(strings.ToLower(out), "xml") {
		out = "_" + out
	}
	return out
}

// XMLToJSON converts an XML document to JSON. The root element becomes the
// single top-level key unless it is DefaultRoot, which is unwrapped.
// Repeated siblings become arrays, as does an element whose children all
// carry its singular name. Leaf text is kept as a string.
func XMLToJSON(doc *payload.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", errors.ErrInvalidData)
	}
	var buf bytes.Buffer
	if root.Data == DefaultRoot && root.Prefix == "" {
		writeElementValue(&buf, root)
		return buf.Bytes(), nil
	}
	buf.WriteByte('{')
	writeKey(&buf, root.Data)
	writeElementValue(&buf, root)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, k string) {
	b, _ := json.Marshal(k)
	buf.Write(b)
	buf.WriteByte(':')
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

func writeElementValue(buf *bytes.Buffer, el *xmlquery.Node) {
	children := payload.ElementChildren(el)
	attrs := visibleAttrs(el)

	if len(children) == 0 && len(attrs) == 0 {
		writeString(buf, payload.NodeText(el))
		return
	}

	if len(attrs) == 0 && len(children) > 0 && isList(el, children) {
		buf.WriteByte('[')
		for i, c := range children {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeElementValue(buf, c)
		}
		buf.WriteByte(']')
		return
	}

	buf.WriteByte('{')
	first := true
	sep := func() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
	}
	for _, a := range attrs {
		sep()
		writeKey(buf, "@"+a.Name.Local)
		writeString(buf, a.Value)
	}

	// group siblings by name, keeping first-seen order
	var order []string
	groups := make(map[string][]*xmlquery.Node)
	for _, c := range children {
		if _, seen := groups[c.Data]; !seen {
			order = append(order, c.Data)
		}
		groups[c.Data] = append(groups[c.Data], c)
	}
	for _, name := range order {
		sep()
		writeKey(buf, name)
		nodes := groups[name]
		if len(nodes) == 1 {
			writeElementValue(buf, nodes[0])
			continue
		}
		buf.WriteByte('[')
		for i, n := range nodes {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeElementValue(buf, n)
		}
		buf.WriteByte(']')
	}
	if len(children) == 0 {
		if text := payload.NodeText(el); text != "" {
			sep()
			writeKey(buf, "#text")
			writeString(buf, text)
		}
	}
	buf.WriteByte('}')
}

func isList(el *xmlquery.Node, children []*xmlquery.Node) bool {
	item := singular(el.Data)
	for _, c := range children {
		if c.Data != item {
			return false
		}
	}
	return true
}

func visibleAttrs(el *xmlquery.Node) []xmlquery.Attr {
	var out []xmlquery.Attr
	for _, a := range el.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		out = append(out, a)
	}
	return out
}
