package pagination

import (
	"net/http"
	"strings"
)

// NextLink extracts the rel="next" target of an RFC 8288 Link header.
func NextLink(h http.Header) string {
	for _, value := range h.Values("Link") {
		for _, part := range splitLinks(value) {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			target := strings.TrimSpace(segs[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segs[1:] {
				k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
					if strings.EqualFold(rel, "next") {
						return target[1 : len(target)-1]
					}
				}
			}
		}
	}
	return ""
}

// splitLinks splits a Link header value on the commas separating
// link-values, ignoring commas inside <targets> and quoted parameters.
func splitLinks(value string) []string {
	var (
		parts          []string
		start          int
		inURI, inQuote bool
	)
	for i := 0; i < len(value); i++ {
		switch c := value[i]; {
		case inURI:
			inURI = c != '>'
		case inQuote:
			inQuote = c != '"'
		case c == '<':
			inURI = true
		case c == '"':
			inQuote = true
		case c == ',':
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	return append(parts, value[start:])
}
