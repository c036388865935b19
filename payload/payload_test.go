package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

func TestParseXML(t *testing.T) {
	doc, err := ParseXML([]byte(`<Order><CustomerName>Acme</CustomerName></Order>`))
	require.NoError(t, err)
	assert.Equal(t, KindXML, doc.Kind())
	assert.Equal(t, "Order", doc.Root().Data)
	assert.Equal(t, `<Order><CustomerName>Acme</CustomerName></Order>`, doc.String())

	_, err = ParseXML([]byte("   "))
	assert.True(t, errors.IsInvalid(err))

	_, err = ParseXML([]byte(`<Order><Open></Order>`))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestParseXML_Declaration(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"absent", `<Order><CustomerName>Acme</CustomerName></Order>`},
		{"present", `<?xml version="1.0" encoding="UTF-8"?><Order><CustomerName>Acme</CustomerName></Order>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseXML([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.in, string(doc.Bytes()))
			assert.Equal(t, "Order", doc.Root().Data)
		})
	}
}

func TestGetJSON_TrailingWildcard(t *testing.T) {
	data := []byte(`{"tags":["a","b"],"n":[]}`)

	vals, err := GetJSON(data, "tags.#")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "a", vals[0].String())
	assert.Equal(t, "b", vals[1].String())

	vals, err = GetJSON(data, "n.#")
	require.NoError(t, err)
	assert.Empty(t, vals)

	vals, err = GetJSON([]byte(`[1,2,3]`), "$.#")
	require.NoError(t, err)
	assert.Len(t, vals, 3)
}

func TestParseJSON(t *testing.T) {
	doc, err := ParseJSON([]byte(` {"a":1} `))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, doc.String())
	assert.Equal(t, map[string]any{"a": float64(1)}, doc.Value())

	_, err = ParseJSON([]byte(`{"a":`))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestClone_IsDeep(t *testing.T) {
	doc, err := ParseXML([]byte(`<a><b>1</b></a>`))
	require.NoError(t, err)

	clone := doc.Clone()
	_, err = SetXPath(clone.Node(), "/a/b", "2", nil)
	require.NoError(t, err)

	assert.Equal(t, `<a><b>1</b></a>`, doc.String())
	assert.Equal(t, `<a><b>2</b></a>`, clone.String())

	raw := NewRaw([]byte("x"))
	assert.Equal(t, "x", raw.Clone().String())
}

func TestSetValue_BuildsTree(t *testing.T) {
	doc := NewXMLDocument()
	_, err := SetXPath(doc.Node(), "/Invoice/Buyer", "Acme", nil)
	require.NoError(t, err)
	_, err = SetXPath(doc.Node(), "/Invoice/Lines/Line[2]/Sku", "B-2", nil)
	require.NoError(t, err)
	_, err = SetXPath(doc.Node(), "/Invoice/@currency", "EUR", nil)
	require.NoError(t, err)

	assert.Equal(t,
		`<Invoice currency="EUR"><Buyer>Acme</Buyer><Lines><Line></Line><Line><Sku>B-2</Sku></Line></Lines></Invoice>`,
		doc.String())
}

func TestSetValue_OverwritesText(t *testing.T) {
	doc := NewXMLDocument()
	_, err := SetXPath(doc.Node(), "/a/b", "1", nil)
	require.NoError(t, err)
	_, err = SetXPath(doc.Node(), "/a/b/text()", "2", nil)
	require.NoError(t, err)
	assert.Equal(t, `<a><b>2</b></a>`, doc.String())
}

func TestSetValue_RootConflict(t *testing.T) {
	doc := NewXMLDocument()
	_, err := SetXPath(doc.Node(), "/a/b", "1", nil)
	require.NoError(t, err)

	_, err = SetXPath(doc.Node(), "/other/b", "1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestSetValue_Anywhere(t *testing.T) {
	doc, err := ParseXML([]byte(`<r><x><name>old</name></x></r>`))
	require.NoError(t, err)

	_, err = SetXPath(doc.Node(), "//name", "new", nil)
	require.NoError(t, err)
	_, err = SetXPath(doc.Node(), "//missing", "v", nil)
	require.NoError(t, err)

	assert.Equal(t, `<r><x><name>new</name></x><missing>v</missing></r>`, doc.String())
}

func TestSetValue_Namespace(t *testing.T) {
	doc := NewXMLDocument()
	_, err := SetXPath(doc.Node(), "/inv:Invoice/inv:Buyer", "Acme", map[string]string{"inv": "urn:invoice"})
	require.NoError(t, err)
	assert.Equal(t, `<inv:Invoice xmlns:inv="urn:invoice"><inv:Buyer>Acme</inv:Buyer></inv:Invoice>`, doc.String())
}

func TestValidateTargetPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/a/b", false},
		{"/a/b[3]", false},
		{"/a/@id", false},
		{"//a", false},
		{"", true},
		{"/a/b[0]", true},
		{"/a/b[@x='1']", true},
		{"/@id", true},
		{"/a/*", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateTargetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetSubtree(t *testing.T) {
	src, err := ParseXML([]byte(`<Order><Address type="ship"><City>Oslo</City></Address></Order>`))
	require.NoError(t, err)
	nodes, err := SelectNodes(src.Node(), "/Order/Address", nil)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	doc := NewXMLDocument()
	_, err = SetSubtree(doc.Node(), "/Invoice/ShipTo", nodes[0], nil)
	require.NoError(t, err)
	assert.Equal(t, `<Invoice><ShipTo type="ship"><City>Oslo</City></ShipTo></Invoice>`, doc.String())
}

func TestSelectValues(t *testing.T) {
	doc, err := ParseXML([]byte(`<o id="7"><i>a</i><i>b</i></o>`))
	require.NoError(t, err)

	tests := []struct {
		path string
		want []string
	}{
		{"/o/i", []string{"a", "b"}},
		{"/o/@id", []string{"7"}},
		{"/o/i/@missing", nil},
		{"count(/o/i)", []string{"2"}},
		{"string(/o/i[2])", []string{"b"}},
		{"/o/missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := SelectValues(doc.Node(), tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = SelectValues(doc.Node(), "/o/[", nil)
	assert.Error(t, err)
}

func TestJSONPath(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"/Order/CustomerName", "Order.CustomerName", false},
		{"/Order/Items[2]/Sku", "Order.Items.1.Sku", false},
		{"/Order/Items[*]/Sku", "Order.Items.#.Sku", false},
		{"/Order/@id", "Order.id", false},
		{"Order.CustomerName", "Order.CustomerName", false},
		{"$.a.b", "a.b", false},
		{"/", "@this", false},
		{"/a/b[x]", "", true},
		{"/a//b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := JSONPath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAndSetJSON(t *testing.T) {
	data := []byte(`{"Order":{"Items":[{"Sku":"A"},{"Sku":"B"}],"CustomerName":"Acme"}}`)

	vals, err := GetJSON(data, "/Order/Items[*]/Sku")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "B", vals[1].String())

	vals, err = GetJSON(data, "/Order/Missing")
	require.NoError(t, err)
	assert.Empty(t, vals)

	vals, err = GetJSON(data, "/Order/Items[*]")
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, "A", vals[0].Get("Sku").String())

	out, err := SetJSON([]byte(`{}`), "/Invoice/Buyer", "Acme")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Invoice":{"Buyer":"Acme"}}`, string(out))

	out, err = SetJSONRaw(out, "/Invoice/Lines", []byte(`[1,2]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Invoice":{"Buyer":"Acme","Lines":[1,2]}}`, string(out))

	_, err = SetJSON(out, "/Invoice/Lines[*]", 1)
	assert.Error(t, err)
}

func TestReparse(t *testing.T) {
	j, _ := ParseJSON([]byte(`{}`))
	d, err := j.Reparse("plain")
	require.NoError(t, err)
	assert.Equal(t, `"plain"`, d.String())

	x := NewXMLDocument()
	d, err = x.Reparse("<a/>")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Root().Data)
}
