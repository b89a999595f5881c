package core

import "strings"

// Render substitutes placeholders in tmpl from ctx and never fails.
//
// Syntax:
//
//	$name    replaced by ctx["name"]
//	${name}  same, for use next to identifier characters
//	$$       a literal "$"
//
// A name is an ASCII letter or underscore followed by letters, digits or
// underscores. Lookup is case-sensitive. Placeholders without a value and
// any "$" not starting a valid placeholder are copied through unchanged.
func Render(tmpl string, ctx RenderContext) string {
	if !strings.Contains(tmpl, "$") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}

		rest := tmpl[i+1:]
		switch {
		case strings.HasPrefix(rest, "$"):
			b.WriteByte('$')
			i += 2

		case strings.HasPrefix(rest, "{"):
			n := identLen(rest[1:])
			if n == 0 || len(rest) <= n+1 || rest[n+1] != '}' {
				b.WriteByte('$')
				i++
				continue
			}
			whole := tmpl[i : i+n+3]
			b.WriteString(lookup(ctx, rest[1:n+1], whole))
			i += len(whole)

		default:
			n := identLen(rest)
			if n == 0 {
				b.WriteByte('$')
				i++
				continue
			}
			whole := tmpl[i : i+n+1]
			b.WriteString(lookup(ctx, rest[:n], whole))
			i += len(whole)
		}
	}

	return b.String()
}

func lookup(ctx RenderContext, name, verbatim string) string {
	if v, ok := ctx[name]; ok {
		return v
	}
	return verbatim
}

// identLen returns the length of the identifier at the start of s, or 0.
func identLen(s string) int {
	n := 0
	for n < len(s) {
		c := s[n]
		isAlpha := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isAlpha && !(isDigit && n > 0) {
			break
		}
		n++
	}
	return n
}
