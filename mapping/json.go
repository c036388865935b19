package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

func (p *Plan) applyJSON(ctx context.Context, in *payload.Document) (*payload.Document, error) {
	data := in.Bytes()
	out := []byte(`{}`)
	input := lazyInput(in)

	for _, c := range p.mappings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.jsonErr != nil {
			return nil, p.fail(c, "path", c.jsonErr)
		}
		if !c.def.IsArrayMapping {
			next, err := p.writeJSON(ctx, c, data, gjson.Result{}, out, c.target, input)
			if err != nil {
				return nil, err
			}
			out = next
			continue
		}

		items, err := jsonContext(data, c.def.ArrayContextPath)
		if err != nil {
			return nil, p.fail(c, "path", err)
		}
		for i, item := range items {
			next, err := p.writeJSON(ctx, c, data, item, out, indexTarget(c.target, i+1), input)
			if err != nil {
				return nil, err
			}
			out = next
		}
	}
	return payload.ParseJSON(out)
}

// jsonContext returns the elements an array mapping iterates. A path that
// selects one array iterates its elements.
func jsonContext(data []byte, path string) ([]gjson.Result, error) {
	results, err := payload.GetJSON(data, path)
	if err != nil {
		return nil, err
	}
	if len(results) == 1 && results[0].IsArray() {
		return results[0].Array(), nil
	}
	return results, nil
}

func (p *Plan) writeJSON(ctx context.Context, c *compiled, data []byte, scope gjson.Result, out []byte, target string, input func() any) ([]byte, error) {
	sv := sourceValues{
		texts: make([][]string, len(c.jsonSources)),
		first: make([]any, len(c.jsonSources)),
	}
	for i, src := range c.jsonSources {
		var results []gjson.Result
		relative := scope.Exists() && !isAbsolute(c.def.Sources()[i])
		if relative {
			if r := scope.Get(src); r.Exists() {
				results = flatten(r, src)
			}
		} else {
			r := gjson.GetBytes(data, src)
			if !r.Exists() {
				r = gjson.GetBytes(out, src)
			}
			if r.Exists() {
				results = flatten(r, src)
			}
		}
		for _, r := range results {
			if r.Type == gjson.Null {
				continue
			}
			sv.texts[i] = append(sv.texts[i], r.String())
			if sv.first[i] == nil {
				sv.first[i] = r.Value()
			}
		}
	}

	v, err := p.evaluate(ctx, c, sv, input)
	if err != nil {
		return nil, err
	}
	next, err := payload.SetJSON(out, target, v)
	if err != nil {
		return nil, p.fail(c, "write", fmt.Errorf("write %s: %w", target, err))
	}
	return next, nil
}

func flatten(r gjson.Result, path string) []gjson.Result {
	if strings.Contains(path, "#") && r.IsArray() {
		return r.Array()
	}
	return []gjson.Result{r}
}
