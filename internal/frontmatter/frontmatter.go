// Package frontmatter splits a document into its delimited header block and
// body, and renders them back.
//
// The header is a sequence of "key: value" lines between two "---" lines at the
// top of the file. Values are parsed speculatively as YAML scalars or flow
// sequences and fall back to the raw string. Decoding never fails: input
// without a recognisable header is returned unchanged as the body.
//
// A closing line that merely starts with the delimiter ("---text") is accepted;
// the text after the delimiter on that line is the first line of the body.
package frontmatter

import (
	"sort"
	"strings"
)

// Delimiter opens and closes the header block.
const Delimiter = "---"

// Well-known field names.
const (
	KeyID       = "id"
	KeyTitle    = "title"
	KeyMode     = "mode"
	KeyLanguage = "language"
	KeyTags     = "tags"
	KeyCreated  = "created"
	KeyModified = "modified"
)

// keyOrder fixes where well-known fields appear when encoding. Other keys
// follow in lexical order.
var keyOrder = []string{KeyID, KeyTitle, KeyMode, KeyLanguage, KeyTags, KeyCreated, KeyModified}

// Fields maps header keys to their values.
type Fields map[string]Value

// String returns the string form of key, or "" when absent or not a scalar.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return strings.TrimSpace(s)
}

// Strings returns key as a list of strings.
func (f Fields) Strings(key string) []string {
	v, ok := f[key]
	if !ok {
		return nil
	}
	return v.AsStrings()
}

// Delimited reports whether s opens with a delimiter line once leading
// blank space is skipped, i.e. whether Decode would look for a header.
func Delimited(s string) bool {
	return strings.HasPrefix(strings.TrimLeft(s, " \t\r\n"), Delimiter)
}

// Decode separates the header from the body of raw.
func Decode(raw string) (Fields, string) {
	fields := Fields{}

	trimmed := strings.TrimLeft(raw, " \t\r\n")
	first, rest, ok := strings.Cut(trimmed, "\n")
	if !ok || strings.TrimRight(first, " \t\r") != Delimiter {
		return fields, raw
	}

	var header []string
	for {
		line, tail, more := strings.Cut(rest, "\n")
		clean := strings.TrimRight(line, " \t\r")
		switch {
		case clean == Delimiter:
			parseHeader(fields, header)
			if !more {
				return fields, ""
			}
			return fields, tail
		case strings.HasPrefix(line, Delimiter):
			parseHeader(fields, header)
			body := line[len(Delimiter):]
			if more {
				body += "\n" + tail
			}
			return fields, body
		}
		if !more {
			// No closing delimiter anywhere.
			return Fields{}, raw
		}
		header = append(header, line)
		rest = tail
	}
}

func parseHeader(fields Fields, lines []string) {
	for _, line := range lines {
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = parseValue(strings.TrimSpace(strings.TrimRight(val, "\r")))
	}
}

// Encode renders fields as a header block followed by body. With no fields the
// body is returned unchanged.
func Encode(fields Fields, body string) string {
	if len(fields) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(Delimiter)
	b.WriteByte('\n')
	for _, k := range orderedKeys(fields) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(fields[k].encode())
		b.WriteByte('\n')
	}
	b.WriteString(Delimiter)
	b.WriteByte('\n')
	b.WriteString(body)
	return b.String()
}

func orderedKeys(fields Fields) []string {
	out := make([]string, 0, len(fields))
	known := make(map[string]struct{}, len(keyOrder))
	for _, k := range keyOrder {
		known[k] = struct{}{}
		if _, ok := fields[k]; ok {
			out = append(out, k)
		}
	}
	var extra []string
	for k := range fields {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}
