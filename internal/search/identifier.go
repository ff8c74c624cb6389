package search

import (
	"regexp"
	"strings"
)

var (
	hrefID    = regexp.MustCompile(`/patent/([A-Z]{2}\d+[A-Z0-9]*)`)
	bareID    = regexp.MustCompile(`^[A-Z]{2}\d+[A-Z0-9]*$`)
	snippetID = regexp.MustCompile(`\b[A-Z]{2}\d{4,}[A-Z0-9]*\b`)
)

// IDFromHref extracts the identifier from a /patent/{id} path segment.
func IDFromHref(href string) string {
	if m := hrefID.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

// IDFromHidden returns the first whitespace-separated token, stripped of
// surrounding punctuation, that is a bare identifier.
func IDFromHidden(texts []string) string {
	for _, text := range texts {
		for _, token := range strings.Fields(text) {
			token = strings.Trim(token, `.,;:()[]{}"'`)
			if bareID.MatchString(token) {
				return token
			}
		}
	}
	return ""
}

// IDFromSnippet finds an identifier mentioned in free text. At least four
// digits are required so chemical formulas such as CO2 are not taken, and a
// token followed by "/" is the year half of a publication number like
// US2020/0123456, not an identifier.
func IDFromSnippet(snippet string) string {
	for _, loc := range snippetID.FindAllStringIndex(snippet, -1) {
		if loc[1] < len(snippet) && snippet[loc[1]] == '/' {
			continue
		}
		return snippet[loc[0]:loc[1]]
	}
	return ""
}

// ResolveID tries the href, then hidden tokens, then the snippet.
func ResolveID(href string, hidden []string, snippet string) string {
	if id := IDFromHref(href); id != "" {
		return id
	}
	if id := IDFromHidden(hidden); id != "" {
		return id
	}
	return IDFromSnippet(snippet)
}
