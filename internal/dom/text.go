package dom

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// TextNodes returns the descendant text nodes of every node, in document order.
// Script and style contents are skipped.
func TextNodes(nodes ...*html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			out = append(out, n.Data)
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		if n != nil {
			walk(n)
		}
	}
	return out
}

// SelectionText returns the descendant text nodes of a goquery selection.
func SelectionText(sel *goquery.Selection) []string {
	if sel == nil {
		return nil
	}
	return TextNodes(sel.Nodes...)
}
