package receipts

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

const maxContentWidth = "600"

// NormalizeHTML prepares a fetched HTML receipt for fixed-layout
// conversion: scripts, styles and comments are dropped, inline styling
// is stripped, empty and single-cell table wrappers are unwrapped,
// tables and images are constrained to a printable width, and a visible
// link back to the source URL is appended.
func NormalizeHTML(doc, sourceURL string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("receipts: parsing HTML: %w", err)
	}

	cleanNode(root)
	unwrapTables(root)
	appendSourceLink(root, sourceURL)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("receipts: rendering HTML: %w", err)
	}
	return buf.String(), nil
}

// cleanNode removes scripts, styles and comments, strips style
// attributes and constrains table and image widths.
func cleanNode(n *html.Node) {
	var next *html.Node
	for child := n.FirstChild; child != nil; child = next {
		next = child.NextSibling

		if child.Type == html.CommentNode {
			n.RemoveChild(child)
			continue
		}
		if child.Type == html.ElementNode && (child.Data == "script" || child.Data == "style") {
			n.RemoveChild(child)
			continue
		}
		cleanNode(child)
	}

	if n.Type != html.ElementNode {
		return
	}

	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Key == "style" || attr.Key == "class" {
			continue
		}
		if attr.Key == "width" && (n.Data == "table" || n.Data == "img") {
			continue
		}
		kept = append(kept, attr)
	}
	n.Attr = kept

	if n.Data == "table" || n.Data == "img" {
		n.Attr = append(n.Attr, html.Attribute{Key: "width", Val: maxContentWidth})
	}
}

// unwrapTables replaces wrapper tables (a table whose only content is
// another table) with their inner table, and removes tables with no
// content at all.
func unwrapTables(n *html.Node) {
	var next *html.Node
	for child := n.FirstChild; child != nil; child = next {
		next = child.NextSibling
		unwrapTables(child)

		if child.Type != html.ElementNode || child.Data != "table" {
			continue
		}

		inner := soleInnerTable(child)
		if inner != nil {
			inner.Parent.RemoveChild(inner)
			n.InsertBefore(inner, child)
			n.RemoveChild(child)
			continue
		}
		if !hasContent(child) {
			n.RemoveChild(child)
		}
	}
}

// soleInnerTable returns the single nested table when the outer table
// carries no content of its own, else nil.
func soleInnerTable(table *html.Node) *html.Node {
	var inner *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			switch {
			case child.Type == html.ElementNode && child.Data == "table":
				if inner != nil {
					return false
				}
				inner = child
			case child.Type == html.TextNode && strings.TrimSpace(child.Data) != "":
				return false
			case child.Type == html.ElementNode:
				if !walk(child) {
					return false
				}
			}
		}
		return true
	}
	if !walk(table) {
		return nil
	}
	return inner
}

// hasContent reports whether the node contains any text or image.
func hasContent(n *html.Node) bool {
	if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
		return true
	}
	if n.Type == html.ElementNode && n.Data == "img" {
		return true
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if hasContent(child) {
			return true
		}
	}
	return false
}

// appendSourceLink adds a footer paragraph linking back to the original
// receipt URL.
func appendSourceLink(root *html.Node, sourceURL string) {
	body := findElement(root, "body")
	if body == nil {
		body = root
	}

	p := &html.Node{Type: html.ElementNode, Data: "p"}
	a := &html.Node{
		Type: html.ElementNode,
		Data: "a",
		Attr: []html.Attribute{{Key: "href", Val: sourceURL}},
	}
	a.AppendChild(&html.Node{Type: html.TextNode, Data: sourceURL})
	p.AppendChild(&html.Node{Type: html.TextNode, Data: "Source: "})
	p.AppendChild(a)
	body.AppendChild(p)
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, name); found != nil {
			return found
		}
	}
	return nil
}
