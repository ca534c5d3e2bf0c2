// Package jsontext renders JSON with reproducible, ASCII-only text.
//
// Prompts and eval summaries are compared byte-for-byte across runs, so
// every string is written in one canonical escaped form, whatever escapes
// the source used. Non-ASCII characters become \uXXXX escapes and
// HTML-sensitive characters are left as-is.
package jsontext

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// ASCII rewrites every string token in src in canonical form: `"` and `\`
// escaped, \n \r \t \b \f by name, other control characters, DEL and every
// non-ASCII rune as lower-case \u escapes (surrogate pairs outside the BMP).
// Source escapes are decoded first, so \/ comes out as / and \u00C9 as
// \u00c9. src must be valid JSON text.
func ASCII(src []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(src))
	for len(src) > 0 {
		if src[0] != '"' {
			buf.WriteByte(src[0])
			src = src[1:]
			continue
		}
		end := stringEnd(src)
		var s string
		if err := json.Unmarshal(src[:end], &s); err != nil {
			buf.Write(src[:end])
		} else {
			writeString(&buf, s)
		}
		src = src[end:]
	}
	return buf.Bytes()
}

// stringEnd returns the length of the string token at the start of src.
func stringEnd(src []byte) int {
	for i := 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(src)
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				buf.WriteByte(byte(r))
			case r >= 0x10000:
				r1, r2 := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
			default:
				fmt.Fprintf(buf, `\u%04x`, r)
			}
		}
	}
	buf.WriteByte('"')
}

// Indent re-indents raw JSON, keeping its key order, and escapes it to ASCII.
// Numbers keep their source text.
func Indent(raw []byte, indent string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", indent); err != nil {
		return nil, fmt.Errorf("failed to indent json: %w", err)
	}
	return ASCII(buf.Bytes()), nil
}

// MarshalIndent encodes v with the given indent, without HTML escaping,
// and escapes the result to ASCII. No trailing newline is written.
func MarshalIndent(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}
	return ASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
