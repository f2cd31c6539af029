package rendering

import (
	"strconv"
	"strings"

	"github.com/artpar/occigate/core/schema"
)

// split cuts s at every sep that is not inside a quoted string or an
// angle-bracketed URI. Parts are trimmed; empty parts are dropped.
func split(s string, sep byte) ([]string, error) {
	var (
		parts   []string
		start   int
		inQuote bool
		inAngle bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote && c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '<':
			inAngle = true
		case c == '>':
			inAngle = false
		case !inAngle && c == sep:
			if p := strings.TrimSpace(s[start:i]); p != "" {
				parts = append(parts, p)
			}
			start = i + 1
		}
	}
	if inQuote {
		return nil, schema.Errorf(schema.CodeMalformedHeader, "unterminated quoted string in %q", s)
	}
	if inAngle {
		return nil, schema.Errorf(schema.CodeMalformedHeader, "unterminated <uri> in %q", s)
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		parts = append(parts, p)
	}
	return parts, nil
}

// splitEntries splits every header line into comma separated entries.
func splitEntries(lines []string) ([]string, error) {
	var out []string
	for _, line := range lines {
		parts, err := split(line, ',')
		if err != nil {
			return nil, err
		}
		out = append(out, parts...)
	}
	return out, nil
}

// cutPair splits "name=value" at the first '='.
func cutPair(s string) (string, string, bool) {
	name, value, ok := strings.Cut(s, "=")
	return strings.TrimSpace(name), strings.TrimSpace(value), ok
}

const hexDigits = "0123456789abcdef"

// quote renders s as a quoted string on a single line. Backslashes and
// quotes are escaped; control bytes become \n, \r, \t or \xHH.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' || c == '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c == 0x7f:
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// unquote reverses quote.
func unquote(s string) (string, error) {
	if !isQuoted(s) {
		return "", schema.Errorf(schema.CodeMalformedHeader, "expected quoted string, got %s", s)
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case c == '\\':
			if i+1 == len(inner) {
				return "", schema.Errorf(schema.CodeMalformedHeader, "dangling escape in %s", s)
			}
			i++
			switch inner[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'x':
				if i+2 >= len(inner) {
					return "", schema.Errorf(schema.CodeMalformedHeader, "short \\x escape in %s", s)
				}
				n, err := strconv.ParseUint(inner[i+1:i+3], 16, 8)
				if err != nil {
					return "", schema.Errorf(schema.CodeMalformedHeader, "bad \\x escape in %s", s)
				}
				b.WriteByte(byte(n))
				i += 2
			default:
				b.WriteByte(inner[i])
			}
		case c == '"':
			return "", schema.Errorf(schema.CodeMalformedHeader, "unescaped quote in %s", s)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// unquoteLoose unquotes s when it is quoted and returns it unchanged otherwise.
func unquoteLoose(s string) (string, error) {
	if isQuoted(s) {
		return unquote(s)
	}
	return s, nil
}

// parseValue interprets a wire value: a quoted string, a number or a boolean.
func parseValue(raw string) (schema.Value, error) {
	raw = strings.TrimSpace(raw)
	if isQuoted(raw) {
		s, err := unquote(raw)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.String(s), nil
	}
	switch raw {
	case "true":
		return schema.Bool(true), nil
	case "false":
		return schema.Bool(false), nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return schema.Number(n), nil
	}
	return schema.Value{}, schema.Errorf(schema.CodeMalformedHeader, "value %q is neither quoted, numeric nor boolean", raw)
}

// formatValue renders a value in wire form.
func formatValue(v schema.Value) string {
	if v.Type() == schema.TypeString {
		return quote(v.Text())
	}
	return v.Text()
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if c <= ' ' || c == '"' || c == ',' || c == ';' || c == '=' || c == '<' || c == '>' {
			return false
		}
	}
	return true
}
