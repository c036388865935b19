package convert

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// Output formats a file-like target may ask for
const (
	FormatXML  = "xml"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// SniffConverter handles file-like protocols whose content type is only
// known by looking at it: XML, JSON or CSV with a header row. Anything else
// becomes the text of a single root element.
type SniffConverter struct {
	xml  XMLConverter
	json JSONConverter
}

// ToCanonical detects the format of raw and converts it
func (c *SniffConverter) ToCanonical(raw []byte, cfg adapter.Config) (*payload.Document, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, conversionError("file", fmt.Errorf("%w: empty payload", errors.ErrNilPayload))
	}
	switch trimmed[0] {
	case '<':
		return c.xml.ToCanonical(trimmed, cfg)
	case '{', '[':
		return c.json.ToCanonical(trimmed, cfg)
	}
	if doc, ok := csvToXML(trimmed, rootName(cfg, "rows")); ok {
		return doc, nil
	}
	doc := payload.NewXMLDocument()
	el := newElement(rootName(cfg, DefaultRoot))
	xmlquery.AddChild(doc.Node(), el)
	xmlquery.AddChild(el, &xmlquery.Node{Type: xmlquery.TextNode, Data: string(trimmed)})
	return doc, nil
}

// FromCanonical writes doc in the target's output format, XML by default.
func (c *SniffConverter) FromCanonical(doc *payload.Document, cfg adapter.Config) ([]byte, error) {
	switch strings.ToLower(outputFormat(cfg)) {
	case FormatJSON:
		return c.json.FromCanonical(doc, cfg)
	case FormatCSV:
		if doc.Kind() != payload.KindXML {
			return doc.Bytes(), nil
		}
		out, err := xmlToCSV(doc)
		if err != nil {
			return nil, conversionError("csv", err)
		}
		return out, nil
	default:
		return c.xml.FromCanonical(doc, cfg)
	}
}

// csvToXML reads a header row plus at least one record with two or more
// columns into <rows><row><col>value</col>...</row></rows>.
func csvToXML(data []byte, root string) (*payload.Document, bool) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 || len(records[0]) < 2 {
		return nil, false
	}
	header := records[0]
	doc := payload.NewXMLDocument()
	rows := newElement(root)
	xmlquery.AddChild(doc.Node(), rows)
	for _, rec := range records[1:] {
		row := newElement("row")
		xmlquery.AddChild(rows, row)
		for i, col := range header {
			if i >= len(rec) {
				break
			}
			cell := newElement(strings.TrimSpace(col))
			xmlquery.AddChild(row, cell)
			if rec[i] != "" {
				xmlquery.AddChild(cell, &xmlquery.Node{Type: xmlquery.TextNode, Data: rec[i]})
			}
		}
	}
	return doc, true
}

// xmlToCSV writes the element children of the root as rows. The header is
// the union of column names in first-seen order.
func xmlToCSV(doc *payload.Document) ([]byte, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", errors.ErrInvalidData)
	}
	rows := payload.ElementChildren(root)
	var header []string
	index := make(map[string]int)
	for _, row := range rows {
		for _, cell := range payload.ElementChildren(row) {
			if _, ok := index[cell.Data]; !ok {
				index[cell.Data] = len(header)
				header = append(header, cell.Data)
			}
		}
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		rec := make([]string, len(header))
		for _, cell := range payload.ElementChildren(row) {
			rec[index[cell.Data]] = payload.NodeText(cell)
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
