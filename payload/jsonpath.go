package payload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSONPath converts an XPath-style path such as /Order/Items[2]/Sku into
// gjson syntax (Order.Items.1.Sku). [*] becomes the # array wildcard and a
// trailing @attr or text() step is folded into a plain key. Paths without a
// leading slash are taken as gjson paths already.
func JSONPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(p, "/") {
		if p == "$" {
			return "@this", nil
		}
		return strings.TrimPrefix(p, "$."), nil
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "@this", nil
	}

	var out []string
	for _, part := range strings.Split(p, "/") {
		switch {
		case part == "":
			return "", fmt.Errorf("empty step in path %q", path)
		case part == "text()":
			continue
		case strings.HasPrefix(part, "@"):
			part = part[1:]
		}
		name, pred, hasPred := strings.Cut(part, "[")
		if i := strings.IndexByte(name, ':'); i >= 0 {
			name = name[i+1:]
		}
		out = append(out, escapeKey(name))
		if !hasPred {
			continue
		}
		pred = strings.TrimSuffix(pred, "]")
		if pred == "*" {
			out = append(out, "#")
			continue
		}
		n, err := strconv.Atoi(pred)
		if err != nil || n < 1 {
			return "", fmt.Errorf("unsupported predicate [%s] in path %q", pred, path)
		}
		out = append(out, strconv.Itoa(n-1))
	}
	if len(out) == 0 {
		return "@this", nil
	}
	return strings.Join(out, "."), nil
}

func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(k)
}

// GetJSON returns the values at path. A # wildcard flattens array results
// into one entry per element; a missing path returns no values.
func GetJSON(data []byte, path string) ([]gjson.Result, error) {
	p, err := JSONPath(path)
	if err != nil {
		return nil, err
	}
	// A trailing # would make gjson return the array length.
	flatten := strings.Contains(p, "#")
	if p == "#" {
		p = "@this"
	} else {
		p = strings.TrimSuffix(p, ".#")
	}
	res := gjson.GetBytes(data, p)
	if !res.Exists() {
		return nil, nil
	}
	if flatten && res.IsArray() {
		return res.Array(), nil
	}
	return []gjson.Result{res}, nil
}

// SetJSON writes a Go value at path, creating intermediate objects and arrays.
func SetJSON(data []byte, path string, value any) ([]byte, error) {
	p, err := JSONPath(path)
	if err != nil {
		return nil, err
	}
	if strings.Contains(p, "#") {
		return nil, fmt.Errorf("wildcard not allowed in target path %q", path)
	}
	return sjson.SetBytes(data, p, value)
}

// SetJSONRaw writes raw JSON at path.
func SetJSONRaw(data []byte, path string, raw []byte) ([]byte, error) {
	p, err := JSONPath(path)
	if err != nil {
		return nil, err
	}
	if strings.Contains(p, "#") {
		return nil, fmt.Errorf("wildcard not allowed in target path %q", path)
	}
	return sjson.SetRawBytes(data, p, raw)
}
