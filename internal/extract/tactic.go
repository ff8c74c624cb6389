package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// Tactic is one way of reading a field. Apply returns "" when nothing matched.
type Tactic struct {
	Name  string
	Apply func(ctx context.Context, doc *dom.Document) (string, error)
}

// ScriptFailureMarker prefixes script results that report an in-page error.
const ScriptFailureMarker = "__ERROR__"

var tagPattern = regexp.MustCompile(`(?s)<.*?>`)

// CSSText joins the text nodes beneath every element matching selector.
func CSSText(selector string) Tactic {
	return Tactic{
		Name: "css:" + selector,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			return joinTexts(dom.SelectionText(doc.Find(selector)), " "), nil
		},
	}
}

// CSSAttr returns the first non-empty attr value among matching elements.
func CSSAttr(selector, attr string) Tactic {
	return Tactic{
		Name: "attr:" + selector + "@" + attr,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var value string
			doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				v, ok := s.Attr(attr)
				if ok && Normalize(v) != "" {
					value = v
					return false
				}
				return true
			})
			return value, nil
		},
	}
}

// CSSAttrList joins every non-empty attr value among matching elements.
func CSSAttrList(selector, attr, sep string) Tactic {
	return Tactic{
		Name: "attrs:" + selector + "@" + attr,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var values []string
			doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
				if v, ok := s.Attr(attr); ok {
					values = append(values, v)
				}
			})
			return joinTexts(values, sep), nil
		},
	}
}

// LabeledXPath reads the first dd following each dt whose text contains
// label, ignoring case. Values from several matching labels are joined with sep.
func LabeledXPath(label, sep string) Tactic {
	lower := strings.ToLower(label)
	expr := fmt.Sprintf(
		"//dt[contains(translate(normalize-space(.), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '%s')]/following-sibling::dd[1]",
		lower,
	)
	return XPathText(expr, sep)
}

// XPathText joins the text of every node selected by expr.
func XPathText(expr, sep string) Tactic {
	return Tactic{
		Name: "xpath:" + expr,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			nodes, err := doc.XPath(expr)
			if err != nil {
				return "", err
			}
			values := make([]string, 0, len(nodes))
			for _, n := range nodes {
				values = append(values, joinTexts(dom.TextNodes(n), " "))
			}
			return joinTexts(values, sep), nil
		},
	}
}

// Regex matches pattern against the raw markup and returns the first
// capture group (or the whole match) with tags stripped and entities decoded.
func Regex(pattern string) Tactic {
	re := regexp.MustCompile(pattern)
	return Tactic{
		Name: "regex:" + pattern,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			m := re.FindStringSubmatch(doc.Raw())
			if m == nil {
				return "", nil
			}
			value := m[0]
			if len(m) > 1 {
				value = m[1]
			}
			return html.UnescapeString(tagPattern.ReplaceAllString(value, " ")), nil
		},
	}
}

// Script evaluates an in-page script that returns a string. When post is
// set, the result is reduced to its matches (first capture group when
// present), one per line. Results starting with ScriptFailureMarker fail.
func Script(name, script string, post *regexp.Regexp) Tactic {
	return Tactic{
		Name: "script:" + name,
		Apply: func(ctx context.Context, doc *dom.Document) (string, error) {
			s, err := doc.Scripter()
			if err != nil {
				return "", err
			}
			var out string
			if err := s.Evaluate(ctx, script, &out); err != nil {
				return "", fmt.Errorf("evaluate %s: %w", name, err)
			}
			if strings.HasPrefix(out, ScriptFailureMarker) {
				return "", errors.New(strings.TrimSpace(strings.TrimPrefix(out, ScriptFailureMarker)))
			}
			if post == nil {
				return out, nil
			}
			var kept []string
			for _, m := range post.FindAllStringSubmatch(out, -1) {
				if len(m) > 1 {
					kept = append(kept, m[1])
				} else {
					kept = append(kept, m[0])
				}
			}
			return strings.Join(kept, "\n"), nil
		},
	}
}
