package mapping

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/function"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/metric"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/payload"
)

func newEngine(t *testing.T, store flowstore.FunctionStore) *Engine {
	t.Helper()
	ev, err := function.NewExprEvaluator(function.Options{})
	require.NoError(t, err)
	return NewEngine(function.NewResolver(store), ev, WithMetrics(metric.NewMetricsRegistry()))
}

func fm(id, source, target string) *flowstore.FieldMapping {
	return &flowstore.FieldMapping{
		ID: id, TransformationID: "t1", Active: true,
		SourceXPath: source, TargetXPath: target,
	}
}

func apply(t *testing.T, e *Engine, input string, mappings ...*flowstore.FieldMapping) *payload.Document {
	t.Helper()
	plan, err := e.Compile(context.Background(), "t1", mappings)
	require.NoError(t, err)
	doc, err := payload.ParseXML([]byte(input))
	require.NoError(t, err)
	out, err := plan.Apply(context.Background(), doc)
	require.NoError(t, err)
	return out
}

func TestApply_OrderToInvoice(t *testing.T) {
	out := apply(t, newEngine(t, nil),
		`<Order><CustomerName>Acme</CustomerName></Order>`,
		fm("m1", "/Order/CustomerName", "/Invoice/Buyer"))
	assert.Equal(t, `<Invoice><Buyer>Acme</Buyer></Invoice>`, out.String())
}

func TestApply_AttributeSourceToElement(t *testing.T) {
	out := apply(t, newEngine(t, nil),
		`<Order id="42"><Name>Acme</Name></Order>`,
		fm("m1", "/Order/@id", "/Invoice/Ref"))
	assert.Equal(t, `<Invoice><Ref>42</Ref></Invoice>`, out.String())
}

func TestApply_ArrayCardinality(t *testing.T) {
	e := newEngine(t, nil)
	mapping := &flowstore.FieldMapping{
		ID: "lines", Active: true,
		SourceXPath:      "Sku",
		TargetXPath:      "/Invoice/Line[*]/Code",
		IsArrayMapping:   true,
		ArrayContextPath: "/Order/Items/Item",
	}
	header := fm("hdr", "/Order/Id", "/Invoice/Ref")

	for _, n := range []int{0, 1, 3, 7} {
		t.Run(fmt.Sprintf("N=%d", n), func(t *testing.T) {
			var b strings.Builder
			b.WriteString("<Order><Id>o-1</Id><Items>")
			for i := 0; i < n; i++ {
				fmt.Fprintf(&b, "<Item><Sku>S%d</Sku></Item>", i)
			}
			b.WriteString("</Items></Order>")

			out := apply(t, e, b.String(), header, mapping)
			lines, err := payload.SelectNodes(out.Node(), "/Invoice/Line/Code", nil)
			require.NoError(t, err)
			assert.Len(t, lines, n)
			for i, l := range lines {
				assert.Equal(t, fmt.Sprintf("S%d", i), payload.NodeText(l))
			}
		})
	}
}

func TestApply_ArrayWithoutWildcardIndexesLastStep(t *testing.T) {
	out := apply(t, newEngine(t, nil),
		`<o><i>a</i><i>b</i></o>`,
		&flowstore.FieldMapping{
			ID: "m", Active: true, SourceXPath: ".", TargetXPath: "/r/v",
			IsArrayMapping: true, ArrayContextPath: "/o/i",
		})
	assert.Equal(t, `<r><v>a</v><v>b</v></r>`, out.String())
}

func TestApply_Rules(t *testing.T) {
	input := `<P><First> ada </First><Last>Lovelace</Last><Born>1815-12-10</Born></P>`
	tests := []struct {
		name    string
		mapping *flowstore.FieldMapping
		want    string
	}{
		{"direct", &flowstore.FieldMapping{SourceFields: []string{"/P/Last"}}, "Lovelace"},
		{"direct skips empty sources", &flowstore.FieldMapping{SourceFields: []string{"/P/Missing", "/P/Last"}}, "Lovelace"},
		{"concatenate", &flowstore.FieldMapping{
			SourceFields: []string{"/P/Last", "/P/Missing", "/P/Born"}, MappingRule: flowstore.RuleConcatenate,
			Options: map[string]string{"separator": "|"},
		}, "Lovelace|1815-12-10"},
		{"date format", &flowstore.FieldMapping{
			SourceFields: []string{"/P/Born"}, MappingRule: flowstore.RuleDateFormat,
			Options: map[string]string{"inputFormat": "yyyy-MM-dd", "outputFormat": "dd.MM.yyyy"},
		}, "10.12.1815"},
		{"uppercase", &flowstore.FieldMapping{SourceFields: []string{"/P/Last"}, MappingRule: flowstore.RuleUppercase}, "LOVELACE"},
		{"lowercase", &flowstore.FieldMapping{SourceFields: []string{"/P/Last"}, MappingRule: flowstore.RuleLowercase}, "lovelace"},
		{"trim", &flowstore.FieldMapping{SourceFields: []string{"/P/First"}, MappingRule: flowstore.RuleTrim}, "ada"},
		{"constant", &flowstore.FieldMapping{MappingRule: flowstore.RuleConstant, Options: map[string]string{"value": "EUR"}}, "EUR"},
		{"legacy bare name", &flowstore.FieldMapping{SourceFields: []string{"Last"}}, "Lovelace"},
		{"xpath function", &flowstore.FieldMapping{SourceFields: []string{"concat(/P/Last, '!')"}}, "Lovelace!"},
		{"default option", &flowstore.FieldMapping{SourceFields: []string{"/P/Missing"}, Options: map[string]string{"default": "n/a"}}, "n/a"},
	}
	e := newEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.mapping
			m.ID, m.Active, m.TargetField = "m", true, "/Out/V"
			out := apply(t, e, input, m)
			assert.Equal(t, "<Out><V>"+tt.want+"</V></Out>", out.String())
		})
	}
}

func TestApply_FunctionReference(t *testing.T) {
	ctx := context.Background()
	store := flowstore.NewMemoryStore()
	require.NoError(t, store.SaveFunction(ctx, &flowstore.ReusableFunction{
		ID: "fn-full", Name: "fullName", Body: "return last + ', ' + first;",
		Parameters: []flowstore.FunctionParameter{{Name: "first"}, {Name: "last"}},
	}))
	e := newEngine(t, store)

	byName := &flowstore.FieldMapping{
		ID: "m1", Active: true, SourceFields: []string{"/P/First", "/P/Last"},
		TargetField: "/Out/Name", FunctionName: "fullName",
	}
	inline := &flowstore.FieldMapping{
		ID: "m2", Active: true, MappingOrder: 1, SourceFields: []string{"/P/Last"},
		TargetField: "/Out/Len", JavaFunction: "len(arg0)",
	}
	out := apply(t, e, `<P><First>Ada</First><Last>Lovelace</Last></P>`, byName, inline)
	assert.Equal(t, `<Out><Name>Lovelace, Ada</Name><Len>8</Len></Out>`, out.String())
}

func TestApply_FunctionFailureNamesTarget(t *testing.T) {
	e := newEngine(t, nil)
	m := &flowstore.FieldMapping{
		ID: "m", Active: true, SourceFields: []string{"/P/Born"},
		TargetField: "/Out/Year", JavaFunction: "formatDate(arg0, 'yyyy-MM-dd', 'yyyy')",
	}
	plan, err := e.Compile(context.Background(), "t1", []*flowstore.FieldMapping{m})
	require.NoError(t, err)
	doc, _ := payload.ParseXML([]byte(`<P><Born>yesterday</Born></P>`))

	_, err = plan.Apply(context.Background(), doc)
	var te *errors.TransformationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/Out/Year", te.TargetField)
	assert.Equal(t, "t1", te.TransformationID)
}

func TestApply_RequiredValue(t *testing.T) {
	e := newEngine(t, nil)
	m := fm("m", "/Order/Missing", "/Out/V")
	m.Required = true
	plan, err := e.Compile(context.Background(), "t1", []*flowstore.FieldMapping{m})
	require.NoError(t, err)
	doc, _ := payload.ParseXML([]byte(`<Order/>`))

	_, err = plan.Apply(context.Background(), doc)
	assert.ErrorIs(t, err, errors.ErrRequiredValue)

	// not required: empty value, no error
	out := apply(t, e, `<Order/>`, fm("m", "/Order/Missing", "/Out/V"))
	assert.Equal(t, `<Out><V></V></Out>`, out.String())
}

func TestApply_LaterMappingReadsEarlierTarget(t *testing.T) {
	first := fm("a", "/Order/CustomerName", "/Invoice/Buyer")
	second := fm("b", "/Invoice/Buyer", "/Invoice/Copy")
	second.MappingOrder = 2
	second.MappingRule = flowstore.RuleUppercase

	// list order is reversed; mappingOrder decides
	out := apply(t, newEngine(t, nil), `<Order><CustomerName>Acme</CustomerName></Order>`, second, first)
	assert.Equal(t, `<Invoice><Buyer>Acme</Buyer><Copy>ACME</Copy></Invoice>`, out.String())
}

func TestApply_InactiveSkipped(t *testing.T) {
	off := fm("off", "/a/b", "/x/off")
	off.Active = false
	out := apply(t, newEngine(t, nil), `<a><b>1</b></a>`, fm("on", "/a/b", "/x/on"), off)
	assert.Equal(t, `<x><on>1</on></x>`, out.String())
}

func TestApply_StructureAndAttribute(t *testing.T) {
	structure := fm("s", "/Order/Address", "/Invoice/ShipTo")
	structure.MappingType = flowstore.MapStructure
	attr := fm("a", "/Order/@currency", "/Invoice/currency")
	attr.MappingType = flowstore.MapAttribute

	out := apply(t, newEngine(t, nil),
		`<Order currency="EUR"><Address><City>Oslo</City><Zip>0150</Zip></Address></Order>`,
		structure, attr)
	assert.Equal(t, `<Invoice currency="EUR"><ShipTo><City>Oslo</City><Zip>0150</Zip></ShipTo></Invoice>`, out.String())
}

func TestApply_Namespaces(t *testing.T) {
	m := fm("ns", "/o:Order/o:Name", "/i:Invoice/i:Buyer")
	m.NamespaceAware = true
	m.Namespaces = map[string]string{"o": "urn:order", "i": "urn:invoice"}

	out := apply(t, newEngine(t, nil), `<o:Order xmlns:o="urn:order"><o:Name>Acme</o:Name></o:Order>`, m)
	assert.Equal(t, `<i:Invoice xmlns:i="urn:invoice"><i:Buyer>Acme</i:Buyer></i:Invoice>`, out.String())
}

func TestCompile_EagerErrors(t *testing.T) {
	tests := []struct {
		name    string
		mapping *flowstore.FieldMapping
		target  error
	}{
		{"malformed source xpath", fm("m", "/Order/[", "/x/y"), nil},
		{"malformed target", fm("m", "/a", "/x/y[@z='1']"), nil},
		{"array without context", &flowstore.FieldMapping{ID: "m", Active: true, SourceXPath: "a", TargetXPath: "/x", IsArrayMapping: true}, nil},
		{"unknown rule", &flowstore.FieldMapping{ID: "m", Active: true, SourceXPath: "/a", TargetXPath: "/x", MappingRule: "REVERSE"}, errors.ErrUnsupportedType},
		{"bad inline function", &flowstore.FieldMapping{ID: "m", Active: true, SourceXPath: "/a", TargetXPath: "/x", JavaFunction: "arg0 +"}, nil},
	}
	e := newEngine(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(context.Background(), "t1", []*flowstore.FieldMapping{tt.mapping})
			var te *errors.TransformationError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, stepName, te.Step)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}

	noEval := NewEngine(nil, nil)
	_, err := noEval.Compile(context.Background(), "t1", []*flowstore.FieldMapping{
		{ID: "m", Active: true, SourceXPath: "/a", TargetXPath: "/x", JavaFunction: "arg0"},
	})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestApply_JSON(t *testing.T) {
	e := newEngine(t, nil)
	mappings := []*flowstore.FieldMapping{
		{ID: "buyer", Active: true, SourceFields: []string{"/Order/CustomerName"}, TargetField: "/Invoice/Buyer"},
		{ID: "total", Active: true, MappingOrder: 1, SourceFields: []string{"Order.Total"}, TargetField: "Invoice.Amount"},
		{
			ID: "lines", Active: true, MappingOrder: 2, SourceFields: []string{"sku"}, TargetField: "/Invoice/Lines[*]/Code",
			IsArrayMapping: true, ArrayContextPath: "/Order/Items", MappingRule: flowstore.RuleUppercase,
		},
		{ID: "copy", Active: true, MappingOrder: 3, SourceFields: []string{"/Invoice/Buyer"}, TargetField: "/Invoice/Echo"},
	}
	plan, err := e.Compile(context.Background(), "t1", mappings)
	require.NoError(t, err)

	doc, err := payload.ParseJSON([]byte(`{"Order":{"CustomerName":"Acme","Total":12.5,"Items":[{"sku":"a1"},{"sku":"b2"}]}}`))
	require.NoError(t, err)
	out, err := plan.Apply(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, payload.KindJSON, out.Kind())
	assert.JSONEq(t,
		`{"Invoice":{"Buyer":"Acme","Amount":12.5,"Lines":[{"Code":"A1"},{"Code":"B2"}],"Echo":"Acme"}}`,
		out.String())

	empty, err := payload.ParseJSON([]byte(`{"Order":{"Items":[]}}`))
	require.NoError(t, err)
	out, err = plan.Apply(context.Background(), empty)
	require.NoError(t, err)
	assert.False(t, strings.Contains(out.String(), "Lines"))
}

func TestApply_RawRejected(t *testing.T) {
	plan, err := newEngine(t, nil).Compile(context.Background(), "t1", []*flowstore.FieldMapping{fm("m", "/a", "/b")})
	require.NoError(t, err)
	_, err = plan.Apply(context.Background(), payload.NewRaw([]byte("x")))
	var te *errors.TransformationError
	assert.ErrorAs(t, err, &te)
}

func TestIndexTarget(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"/a/b[*]/c", 2, "/a/b[2]/c"},
		{"/a/b/c", 3, "/a/b/c[3]"},
		{"/a/b/@id", 1, "/a/b[1]/@id"},
		{"/a/b[4]", 1, "/a/b[4]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, indexTarget(tt.in, tt.n), tt.in)
	}
}
