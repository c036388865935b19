package payload

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/cache"
)

var (
	exprCacheOnce sync.Once
	exprCache     *cache.LRU[*xpath.Expr]
)

func compiled() *cache.LRU[*xpath.Expr] {
	exprCacheOnce.Do(func() {
		exprCache, _ = cache.NewLRU[*xpath.Expr](1024)
	})
	return exprCache
}

// CompileXPath compiles and caches an XPath expression. Namespace-qualified
// expressions resolve prefixes through ns.
func CompileXPath(path string, ns map[string]string) (*xpath.Expr, error) {
	key := path
	if len(ns) > 0 {
		key = nsKey(ns) + "|" + path
	}
	return compiled().GetOrCreate(key, func() (*xpath.Expr, error) {
		var (
			expr *xpath.Expr
			err  error
		)
		if len(ns) > 0 {
			expr, err = xpath.CompileWithNS(path, ns)
		} else {
			expr, err = xpath.Compile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", path, err)
		}
		return expr, nil
	})
}

func nsKey(ns map[string]string) string {
	parts := make([]string, 0, len(ns))
	for p, uri := range ns {
		parts = append(parts, p+"="+uri)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// SelectNodes returns every node path selects below top.
func SelectNodes(top *xmlquery.Node, path string, ns map[string]string) ([]*xmlquery.Node, error) {
	expr, err := CompileXPath(path, ns)
	if err != nil {
		return nil, err
	}
	return xmlquery.QuerySelectorAll(top, expr), nil
}

// SelectValues evaluates path and returns its values as strings. Node sets
// yield one value per node; numeric, string and boolean expressions yield one.
func SelectValues(top *xmlquery.Node, path string, ns map[string]string) ([]string, error) {
	expr, err := CompileXPath(path, ns)
	if err != nil {
		return nil, err
	}
	switch v := expr.Evaluate(xmlquery.CreateXPathNavigator(top)).(type) {
	case *xpath.NodeIterator:
		var out []string
		for v.MoveNext() {
			nav, ok := v.Current().(*xmlquery.NodeNavigator)
			if !ok {
				out = append(out, v.Current().Value())
				continue
			}
			// Current() is the owning element while the navigator sits on an attribute.
			if nav.NodeType() == xpath.AttributeNode {
				out = append(out, nav.Value())
				continue
			}
			out = append(out, NodeText(nav.Current()))
		}
		return out, nil
	case string:
		return []string{v}, nil
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case bool:
		return []string{strconv.FormatBool(v)}, nil
	case nil:
		return nil, nil
	default:
		return []string{fmt.Sprint(v)}, nil
	}
}

var stepPattern = regexp.MustCompile(`^(?:([A-Za-z_][\w.-]*):)?([A-Za-z_][\w.-]*)(?:\[(\d+)\])?$`)

type pathStep struct {
	prefix string
	name   string
	index  int
}

func (s pathStep) qualified() string {
	if s.prefix == "" {
		return s.name
	}
	return s.prefix + ":" + s.name
}

// targetPath is a parsed write path: element steps, then an optional
// attribute or explicit text() terminator.
type targetPath struct {
	anywhere bool // written as //name, matches the first existing element
	steps    []pathStep
	attr     string
}

func parseTargetPath(path string) (targetPath, error) {
	var tp targetPath
	p := strings.TrimSpace(path)
	switch {
	case strings.HasPrefix(p, "//"):
		tp.anywhere = true
		p = p[2:]
	case strings.HasPrefix(p, "/"):
		p = p[1:]
	}
	if p == "" {
		return tp, fmt.Errorf("empty target path %q", path)
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		last := i == len(parts)-1
		switch {
		case last && part == "text()":
			continue
		case last && strings.HasPrefix(part, "@"):
			tp.attr = part[1:]
			if tp.attr == "" {
				return tp, fmt.Errorf("empty attribute name in target path %q", path)
			}
			continue
		}
		m := stepPattern.FindStringSubmatch(part)
		if m == nil {
			return tp, fmt.Errorf("unsupported step %q in target path %q", part, path)
		}
		step := pathStep{prefix: m[1], name: m[2], index: 1}
		if m[3] != "" {
			step.index, _ = strconv.Atoi(m[3])
			if step.index < 1 {
				return tp, fmt.Errorf("position must be >= 1 in target path %q", path)
			}
		}
		tp.steps = append(tp.steps, step)
	}
	if len(tp.steps) == 0 {
		return tp, fmt.Errorf("target path %q names no element", path)
	}
	return tp, nil
}

// ValidateTargetPath reports whether path can be used with SetXPath.
func ValidateTargetPath(path string) error {
	_, err := parseTargetPath(path)
	return err
}

// SetXPath writes value at path in the document rooted at doc, creating any
// missing elements. The path is absolute (/a/b), or //name to write into the
// first existing element of that name, falling back to a child of the root.
// A final @attr step writes an attribute. Returns the element written to.
func SetXPath(doc *xmlquery.Node, path, value string, ns map[string]string) (*xmlquery.Node, error) {
	el, attr, err := ensurePath(doc, path, ns)
	if err != nil {
		return nil, err
	}
	if attr != "" {
		setAttr(el, attr, value)
		return el, nil
	}
	setText(el, value)
	return el, nil
}

// SetSubtree ensures the element at path exists and appends deep copies of
// src's attributes and children to it.
func SetSubtree(doc *xmlquery.Node, path string, src *xmlquery.Node, ns map[string]string) (*xmlquery.Node, error) {
	el, attr, err := ensurePath(doc, path, ns)
	if err != nil {
		return nil, err
	}
	if attr != "" {
		setAttr(el, attr, NodeText(src))
		return el, nil
	}
	if src.Type == xmlquery.AttributeNode || src.Type == xmlquery.TextNode {
		setText(el, NodeText(src))
		return el, nil
	}
	for _, a := range src.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		setAttr(el, qualifiedAttr(a), a.Value)
	}
	for c := src.FirstChild; c != nil; c = c.NextSibling {
		xmlquery.AddChild(el, copyNode(c))
	}
	return el, nil
}

func qualifiedAttr(a xmlquery.Attr) string {
	if a.Name.Space == "" {
		return a.Name.Local
	}
	return a.Name.Space + ":" + a.Name.Local
}

func ensurePath(doc *xmlquery.Node, path string, ns map[string]string) (*xmlquery.Node, string, error) {
	if doc == nil || doc.Type != xmlquery.DocumentNode {
		return nil, "", errors.WrapInvalid(errors.ErrInvalidData, "payload", "SetXPath", "document node check")
	}
	tp, err := parseTargetPath(path)
	if err != nil {
		return nil, "", errors.WrapInvalid(err, "payload", "SetXPath", "parse target path")
	}

	steps := tp.steps
	cur := doc
	if tp.anywhere {
		if found := findFirst(doc, steps[0]); found != nil {
			cur = found
			steps = steps[1:]
		} else if root := firstElement(doc); root != nil {
			cur = root
		}
	}

	for _, step := range steps {
		if cur.Type == xmlquery.DocumentNode {
			root := firstElement(cur)
			if root != nil {
				if root.Data != step.name || root.Prefix != step.prefix {
					return nil, "", errors.WrapInvalid(
						fmt.Errorf("%w: target root %s conflicts with existing root %s", errors.ErrInvalidData, step.qualified(), qualifiedName(root)),
						"payload", "SetXPath", "resolve root")
				}
				cur = root
				continue
			}
			if step.index > 1 {
				return nil, "", errors.WrapInvalid(
					fmt.Errorf("%w: document can only have one root element", errors.ErrInvalidData), "payload", "SetXPath", "resolve root")
			}
			root = newElement(step, ns, true)
			xmlquery.AddChild(cur, root)
			cur = root
			continue
		}
		cur = childAt(cur, step, ns)
	}
	return cur, tp.attr, nil
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix == "" {
		return n.Data
	}
	return n.Prefix + ":" + n.Data
}

// childAt returns the index-th child element matching step, appending empty
// siblings until it exists.
func childAt(parent *xmlquery.Node, step pathStep, ns map[string]string) *xmlquery.Node {
	seen := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == step.name && c.Prefix == step.prefix {
			seen++
			if seen == step.index {
				return c
			}
		}
	}
	var el *xmlquery.Node
	for ; seen < step.index; seen++ {
		el = newElement(step, ns, false)
		xmlquery.AddChild(parent, el)
	}
	return el
}

func findFirst(doc *xmlquery.Node, step pathStep) *xmlquery.Node {
	var found *xmlquery.Node
	var walk func(n *xmlquery.Node) bool
	walk = func(n *xmlquery.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			if c.Data == step.name && c.Prefix == step.prefix {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return found
}

func newElement(step pathStep, ns map[string]string, root bool) *xmlquery.Node {
	el := &xmlquery.Node{Type: xmlquery.ElementNode, Data: step.name, Prefix: step.prefix}
	if step.prefix != "" {
		if uri, ok := ns[step.prefix]; ok {
			el.NamespaceURI = uri
			if root {
				xmlquery.AddAttr(el, "xmlns:"+step.prefix, uri)
			}
		}
	}
	return el
}

func setAttr(el *xmlquery.Node, name, value string) {
	space, local := "", name
	if i := strings.IndexByte(name, ':'); i > 0 {
		space, local = name[:i], name[i+1:]
	}
	for i := range el.Attr {
		if el.Attr[i].Name.Local == local && el.Attr[i].Name.Space == space {
			el.Attr[i].Value = value
			return
		}
	}
	xmlquery.AddAttr(el, name, value)
}

func setText(el *xmlquery.Node, value string) {
	for c := el.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == xmlquery.TextNode || c.Type == xmlquery.CharDataNode {
			xmlquery.RemoveFromTree(c)
		}
		c = next
	}
	if value == "" {
		return
	}
	xmlquery.AddChild(el, &xmlquery.Node{Type: xmlquery.TextNode, Data: value})
}
