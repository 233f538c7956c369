// Package htmlutil has small helpers for pulling clean text out of
// parsed html trees.
package htmlutil

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"lwepub/lib/textutil"
)

// GetText concatenates every text node under node in document order.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText renders the first node of sel to text fit for titles and
// bylines. Whitespace runs collapse to single spaces, then zero width
// and other unprintable characters are dropped.
func CleanText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	text := textutil.CollapseWhitespace(GetText(sel.Nodes[0]))
	return strings.TrimSpace(removeNonPrintable(text))
}
