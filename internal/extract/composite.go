package extract

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/patent-crawler/internal/dom"
)

// pairSep joins the two halves of a timeline event or a classification line.
const pairSep = " — "

var classificationCode = regexp.MustCompile(`^[A-Z]{1,4}\d{0,4}[A-Z]?\d{0,4}/?\d*$`)

// Citations renders each row as its non-empty cells joined by " | ", one row
// per line. Rows without any non-empty cell are dropped.
func Citations(rowSelector, cellSelector string) Tactic {
	return Tactic{
		Name: "citations:" + rowSelector,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var rows []string
			doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
				var cells []string
				row.Find(cellSelector).Each(func(_ int, cell *goquery.Selection) {
					cells = append(cells, joinTexts(dom.SelectionText(cell), " "))
				})
				if line := joinTexts(cells, " | "); line != "" {
					rows = append(rows, line)
				}
			})
			return strings.Join(rows, "\n"), nil
		},
	}
}

// Timeline renders each event as date and title joined by pairSep, and joins
// events with "; ". Events with neither part are skipped.
func Timeline(eventSelector, dateSelector, titleSelector string) Tactic {
	return Tactic{
		Name: "timeline:" + eventSelector,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var events []string
			doc.Find(eventSelector).Each(func(_ int, ev *goquery.Selection) {
				date := joinTexts(dom.SelectionText(ev.Find(dateSelector)), " ")
				title := joinTexts(dom.SelectionText(ev.Find(titleSelector)), " ")
				if date == "" && title == "" {
					return
				}
				events = append(events, date+pairSep+title)
			})
			return strings.Join(events, "; "), nil
		},
	}
}

// People walks the direct children of each definition list in document
// order, tracking the latest dt label. Values under a label containing
// "inventor" accumulate; for any other field the last value wins.
func People(listSelector, field string) Tactic {
	field = strings.ToLower(field)
	accumulate := field == "inventor"
	return Tactic{
		Name: "people:" + field,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var values []string
			doc.Find(listSelector).Each(func(_ int, list *goquery.Selection) {
				label := ""
				list.Children().Each(func(_ int, child *goquery.Selection) {
					switch goquery.NodeName(child) {
					case "dt":
						label = strings.ToLower(Normalize(child.Text()))
					case "dd":
						if !strings.Contains(label, field) {
							return
						}
						value := joinTexts(dom.SelectionText(child), " ")
						if value == "" {
							return
						}
						if accumulate {
							values = append(values, value)
						} else {
							values = []string{value}
						}
					}
				})
			})
			return strings.Join(values, ", "), nil
		},
	}
}

// classificationScript returns the leaf texts inside the classification
// viewer's shadow tree, one per line.
const classificationScript = `(() => {
  try {
    const host = document.querySelector('classification-viewer');
    if (!host) { return ''; }
    const out = [];
    const visit = (root) => {
      root.querySelectorAll('*').forEach((el) => {
        if (el.shadowRoot) { visit(el.shadowRoot); }
        if (el.children.length === 0) {
          const text = (el.textContent || '').trim();
          if (text) { out.push(text); }
        }
      });
    };
    visit(host.shadowRoot || host);
    return out.join('\n');
  } catch (e) {
    return '__ERROR__' + e;
  }
})()`

// ClassificationScript reads the classification tree through the live page.
func ClassificationScript() Tactic {
	return Script("classification", classificationScript, nil)
}

// ClassificationMarkup strips the tags from the container's outer markup and
// pairs each classification code with the description line that follows it.
func ClassificationMarkup(containerSelector string) Tactic {
	return Tactic{
		Name: "classification-markup:" + containerSelector,
		Apply: func(_ context.Context, doc *dom.Document) (string, error) {
			var pairs []string
			doc.Find(containerSelector).Each(func(_ int, s *goquery.Selection) {
				markup, err := goquery.OuterHtml(s)
				if err != nil {
					return
				}
				text := html.UnescapeString(tagPattern.ReplaceAllString(markup, "\n"))
				pairs = append(pairs, PairClassificationLines(strings.Split(text, "\n"))...)
			})
			return strings.Join(pairs, "\n"), nil
		},
	}
}

// PairClassificationLines pairs a code line with the next description line
// as code, pairSep, description. A pending code is dropped when another code
// or a label line arrives first.
func PairClassificationLines(lines []string) []string {
	var (
		pairs   []string
		pending string
	)
	for _, raw := range lines {
		line := Normalize(raw)
		switch {
		case line == "":
			continue
		case isLabel(line):
			pending = ""
		case classificationCode.MatchString(line):
			pending = line
		case pending == "":
			continue
		default:
			pairs = append(pairs, pending+pairSep+line)
			pending = ""
		}
	}
	return pairs
}

// classificationLabels are the viewer's heading lines, compared in lower case.
var classificationLabels = map[string]bool{
	"classifications": true,
	"cpc":             true,
	"ipc":             true,
	"cpc-only":        true,
	"info":            true,
}

// isLabel reports heading lines such as "Classifications" or "Notes:".
// Other single words, like the section title "ELECTRICITY", are
// descriptions.
func isLabel(line string) bool {
	return strings.HasSuffix(line, ":") || classificationLabels[strings.ToLower(line)]
}
