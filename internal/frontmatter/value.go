package frontmatter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes the value shapes a header field may hold.
type Kind uint8

// Kind values.
const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	default:
		return "string"
	}
}

// Value is a header field value: a string, number, boolean, or an array of
// those scalars. Arrays never nest.
type Value struct {
	Kind  Kind
	Str   string
	Num   float64
	Bool  bool
	Items []Value
}

// String builds a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number builds a numeric value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Array builds an array value. Nested arrays are flattened into their string form.
func Array(items ...Value) Value {
	out := make([]Value, 0, len(items))
	for _, it := range items {
		if it.Kind == KindArray {
			it = String(it.encode())
		}
		out = append(out, it)
	}
	return Value{Kind: KindArray, Items: out}
}

// Strings builds an array of string values.
func Strings(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return Value{Kind: KindArray, Items: items}
}

// AsString returns the string form of a scalar value. Numbers and booleans
// are formatted; arrays report false.
func (v Value) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber, KindBool:
		return v.encode(), true
	}
	return "", false
}

// AsStrings returns the items of an array as strings. A scalar string is
// treated as a one-element list.
func (v Value) AsStrings() []string {
	switch v.Kind {
	case KindArray:
		out := make([]string, 0, len(v.Items))
		for _, it := range v.Items {
			if s, ok := it.AsString(); ok {
				out = append(out, s)
			}
		}
		return out
	case KindString:
		if v.Str == "" {
			return nil
		}
		return []string{v.Str}
	}
	return nil
}

// Equal reports whether v and o hold the same value.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	case KindBool:
		return v.Bool == o.Bool
	}
	if len(v.Items) != len(o.Items) {
		return false
	}
	for i := range v.Items {
		if !v.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return true
}

// parseValue speculatively interprets raw as a YAML scalar or flow sequence.
// Anything that does not parse into a supported shape is kept as the raw string.
func parseValue(raw string) Value {
	if raw == "" {
		return String("")
	}
	var out any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return String(raw)
	}
	if v, ok := fromYAML(out); ok {
		return v
	}
	return String(raw)
}

func fromYAML(x any) (Value, bool) {
	switch t := x.(type) {
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case int:
		return Number(float64(t)), true
	case int64:
		return Number(float64(t)), true
	case uint64:
		return Number(float64(t)), true
	case float64:
		return Number(t), true
	case []any:
		items := make([]Value, 0, len(t))
		for _, el := range t {
			iv, ok := fromYAML(el)
			if !ok || iv.Kind == KindArray {
				return Value{}, false
			}
			items = append(items, iv)
		}
		return Value{Kind: KindArray, Items: items}, true
	}
	return Value{}, false
}

// encode renders v on a single line such that parseValue(encode(v)) == v.
func (v Value) encode() string {
	switch v.Kind {
	case KindNumber:
		switch {
		case math.IsNaN(v.Num):
			return ".nan"
		case math.IsInf(v.Num, 1):
			return ".inf"
		case math.IsInf(v.Num, -1):
			return "-.inf"
		}
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindArray:
		parts := make([]string, len(v.Items))
		for i, it := range v.Items {
			parts[i] = it.encodeItem()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if isPlainSafe(v.Str) {
		return v.Str
	}
	return quote(v.Str)
}

// encodeItem renders an array element. Plain strings containing flow
// indicators are quoted so they survive inside brackets.
func (v Value) encodeItem() string {
	if v.Kind == KindString && (strings.ContainsAny(v.Str, ",[]{}") || !isPlainSafe(v.Str)) {
		return quote(v.Str)
	}
	return v.encode()
}

// isPlainSafe reports whether s decodes back to itself when written unquoted.
func isPlainSafe(s string) bool {
	if s == "" || strings.ContainsAny(s, "\n\r") || strings.TrimSpace(s) != s {
		return false
	}
	var out any
	if err := yaml.Unmarshal([]byte(s), &out); err != nil {
		return false
	}
	got, ok := out.(string)
	return ok && got == s
}

// quote produces a YAML double-quoted scalar. Characters YAML does not
// accept raw, or would fold as line breaks, are written as escapes.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case 0:
			b.WriteString(`\0`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x85:
			b.WriteString(`\N`)
		case 0x2028:
			b.WriteString(`\L`)
		case 0x2029:
			b.WriteString(`\P`)
		default:
			switch {
			case yamlPrintable(r):
				b.WriteRune(r)
			case r <= 0xff:
				fmt.Fprintf(&b, `\x%02x`, r)
			case r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			default:
				fmt.Fprintf(&b, `\U%08x`, r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// yamlPrintable reports whether r may appear unescaped inside a quoted
// scalar. The byte order mark is excluded.
func yamlPrintable(r rune) bool {
	switch {
	case r >= 0x20 && r <= 0x7e:
		return true
	case r >= 0xa0 && r <= 0xd7ff:
		return true
	case r >= 0xe000 && r <= 0xfffd:
		return r != 0xfeff
	case r >= 0x10000 && r <= 0x10ffff:
		return true
	}
	return false
}
