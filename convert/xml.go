package convert

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

// SOAP envelope namespaces
const (
	SOAP11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
	SOAP12Namespace = "http://www.w3.org/2003/05/soap-envelope"
)

// XMLConverter handles XML protocols. SOAP envelopes are unwrapped to the
// first element inside Body.
type XMLConverter struct{}

// ToCanonical parses raw as XML
func (c *XMLConverter) ToCanonical(raw []byte, _ adapter.Config) (*payload.Document, error) {
	doc, err := payload.ParseXML(raw)
	if err != nil {
		return nil, conversionError("xml", err)
	}
	inner, err := UnwrapSOAP(doc)
	if err != nil {
		return nil, conversionError("soap", err)
	}
	return inner, nil
}

// FromCanonical serializes doc as XML, converting JSON documents first.
func (c *XMLConverter) FromCanonical(doc *payload.Document, cfg adapter.Config) ([]byte, error) {
	switch doc.Kind() {
	case payload.KindXML:
		return doc.Bytes(), nil
	case payload.KindJSON:
		x, err := JSONToXML(doc.Bytes(), rootName(cfg, ""))
		if err != nil {
			return nil, conversionError("xml", err)
		}
		return x.Bytes(), nil
	default:
		return doc.Bytes(), nil
	}
}

// IsSOAPEnvelope reports whether n is a SOAP 1.1 or 1.2 Envelope element.
func IsSOAPEnvelope(n *xmlquery.Node) bool {
	if n == nil || n.Data != "Envelope" {
		return false
	}
	return n.NamespaceURI == SOAP11Namespace || n.NamespaceURI == SOAP12Namespace
}

// UnwrapSOAP returns the first Body child of a SOAP envelope as its own
// document. Other documents are returned unchanged. A Fault body is an error.
func UnwrapSOAP(doc *payload.Document) (*payload.Document, error) {
	root := doc.Root()
	if !IsSOAPEnvelope(root) {
		return doc, nil
	}
	var body *xmlquery.Node
	for _, child := range payload.ElementChildren(root) {
		if child.Data == "Body" {
			body = child
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("%w: SOAP envelope has no Body", errors.ErrInvalidData)
	}
	children := payload.ElementChildren(body)
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: SOAP Body is empty", errors.ErrInvalidData)
	}
	first := children[0]
	if first.Data == "Fault" {
		return nil, fmt.Errorf("SOAP fault: %s", faultText(first))
	}
	return payload.FromXMLNode(first), nil
}

func faultText(fault *xmlquery.Node) string {
	for _, name := range []string{"faultstring", "Reason"} {
		for _, c := range payload.ElementChildren(fault) {
			if c.Data == name {
				return payload.NodeText(c)
			}
		}
	}
	return strings.TrimSpace(fault.InnerText())
}
