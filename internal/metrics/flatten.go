// Package metrics scores extraction output against gold JSON.
//
// Documents are flattened into dotted-path string fields and compared
// field by field. Lists are not aligned element-wise: a list is scored as a
// single value made of its elements joined with ", ".
package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Field is a single flattened entry.
type Field struct {
	Path  string
	Value string
}

// Flatten walks value in document order and returns its scalar fields.
// Object keys extend prefix with "."; arrays are joined, never recursed.
func Flatten(value gjson.Result, prefix string) []Field {
	var fields []Field
	flatten(value, prefix, &fields)
	return fields
}

// FlattenJSON parses raw JSON and flattens it with an empty prefix.
func FlattenJSON(raw []byte) []Field {
	return Flatten(gjson.ParseBytes(raw), "")
}

func flatten(value gjson.Result, prefix string, out *[]Field) {
	switch {
	case value.IsObject():
		value.ForEach(func(key, child gjson.Result) bool {
			path := key.String()
			if prefix != "" {
				path = prefix + "." + path
			}
			flatten(child, path, out)
			return true
		})
	case value.IsArray():
		elems := value.Array()
		parts := make([]string, len(elems))
		for i, elem := range elems {
			if elem.Type == gjson.Null {
				parts[i] = "None"
				continue
			}
			parts[i] = stringForm(elem)
		}
		*out = append(*out, Field{Path: prefix, Value: strings.Join(parts, ", ")})
	case value.Type == gjson.Null:
		*out = append(*out, Field{Path: prefix, Value: ""})
	default:
		*out = append(*out, Field{Path: prefix, Value: stringForm(value)})
	}
}

// stringForm returns the comparison string for a non-null value. Numbers are
// compared by value, booleans render as True and False, and nested
// containers inside lists are rendered as compact JSON.
func stringForm(value gjson.Result) string {
	switch value.Type {
	case gjson.String:
		return value.Str
	case gjson.True:
		return "True"
	case gjson.False:
		return "False"
	case gjson.Number:
		return numberForm(value.Raw)
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(value.Raw)); err != nil {
			return value.Raw
		}
		return buf.String()
	}
}

// numberForm returns the canonical text of a JSON number literal. Integer
// literals stay integers ("-0" becomes "0"). Literals with a fraction or an
// exponent are floats: the shortest round-trip digits, always with a decimal
// point or exponent, switching to exponent notation below 1e-4 and from
// 1e16 up. So 4.20 and 4.2 both give "4.2", and 1e2 and 100.0 both give
// "100.0".
func numberForm(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if raw == "-0" {
			return "0"
		}
		return raw
	}

	f, err := strconv.ParseFloat(raw, 64)
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case err != nil:
		return raw
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	if f != 0 {
		exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
		if err == nil && (exp < -4 || exp >= 16) {
			return sci
		}
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// fieldMap indexes fields by path. Later duplicates win.
func fieldMap(fields []Field) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Path] = f.Value
	}
	return m
}
