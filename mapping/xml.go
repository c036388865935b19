package mapping

import (
	"context"

	"github.com/antchfx/xmlquery"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

func (p *Plan) applyXML(ctx context.Context, in *payload.Document) (*payload.Document, error) {
	out := payload.NewXMLDocument()
	input := lazyInput(in)

	for _, c := range p.mappings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !c.def.IsArrayMapping {
			if err := p.writeXML(ctx, c, in.Node(), out, c.target, input); err != nil {
				return nil, err
			}
			continue
		}

		nodes, err := payload.SelectNodes(in.Node(), c.def.ArrayContextPath, c.ns)
		if err != nil {
			return nil, p.fail(c, "path", err)
		}
		for i, node := range nodes {
			if err := p.writeXML(ctx, c, node, out, indexTarget(c.target, i+1), input); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (p *Plan) writeXML(ctx context.Context, c *compiled, scope *xmlquery.Node, out *payload.Document, target string, input func() any) error {
	if c.def.MappingType == flowstore.MapStructure && c.fn == nil {
		node, err := p.firstXMLNode(c, scope, out)
		if err != nil {
			return p.fail(c, "path", err)
		}
		if node == nil {
			if _, err := p.required(c, nil); err != nil {
				return err
			}
			return nil
		}
		if _, err := payload.SetSubtree(out.Node(), target, node, c.ns); err != nil {
			return p.fail(c, "write", err)
		}
		return nil
	}

	sv, err := p.xmlValues(c, scope, out)
	if err != nil {
		return p.fail(c, "path", err)
	}
	v, err := p.evaluate(ctx, c, sv, input)
	if err != nil {
		return err
	}
	if _, err := payload.SetXPath(out.Node(), target, text(v), c.ns); err != nil {
		return p.fail(c, "write", err)
	}
	return nil
}

// xmlValues evaluates every source against scope. Absolute sources with no
// match fall back to the output document.
func (p *Plan) xmlValues(c *compiled, scope *xmlquery.Node, out *payload.Document) (sourceValues, error) {
	sv := sourceValues{
		texts: make([][]string, len(c.sources)),
		first: make([]any, len(c.sources)),
	}
	for i, src := range c.sources {
		vals, err := payload.SelectValues(scope, src, c.ns)
		if err != nil {
			return sv, err
		}
		if len(vals) == 0 && isAbsolute(src) && out.Root() != nil {
			if vals, err = payload.SelectValues(out.Node(), src, c.ns); err != nil {
				return sv, err
			}
		}
		sv.texts[i] = vals
		if len(vals) > 0 {
			sv.first[i] = vals[0]
		}
	}
	return sv, nil
}

func (p *Plan) firstXMLNode(c *compiled, scope *xmlquery.Node, out *payload.Document) (*xmlquery.Node, error) {
	if len(c.sources) == 0 {
		return nil, errors.ErrMissingConfig
	}
	src := c.sources[0]
	nodes, err := payload.SelectNodes(scope, src, c.ns)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 && isAbsolute(src) && out.Root() != nil {
		if nodes, err = payload.SelectNodes(out.Node(), src, c.ns); err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return nodes[0], nil
}
