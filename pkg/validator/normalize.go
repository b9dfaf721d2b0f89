package validator

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// defaultTitle is used when the input carries no title of its own.
const defaultTitle = "Untitled Page"

// allowedTags is the sanitizer's element allow-list. Elements outside the
// list are unwrapped (children kept) except for the active-content tags in
// droppedTags, whose whole subtree is removed. The style element stays:
// generated pages inline all their CSS.
var allowedTags = map[atom.Atom]bool{
	atom.A: true, atom.Article: true, atom.Aside: true, atom.B: true,
	atom.Blockquote: true, atom.Br: true, atom.Button: true, atom.Code: true,
	atom.Div: true, atom.Em: true, atom.Figcaption: true, atom.Figure: true,
	atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.I: true, atom.Img: true,
	atom.Input: true, atom.Label: true, atom.Li: true, atom.Main: true,
	atom.Nav: true, atom.Ol: true, atom.Option: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Select: true, atom.Small: true,
	atom.Span: true, atom.Strong: true, atom.Style: true, atom.Table: true,
	atom.Tbody: true, atom.Td: true, atom.Textarea: true, atom.Th: true,
	atom.Thead: true, atom.Tr: true, atom.U: true, atom.Ul: true,
}

// droppedTags are removed along with their entire subtree.
var droppedTags = map[atom.Atom]bool{
	atom.Script: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Link: true, atom.Meta: true, atom.Base: true,
}

// tagAttrs is the per-tag attribute whitelist, on top of the global
// class|id|style|data-* wildcard.
var tagAttrs = map[atom.Atom][]string{
	atom.A:        {"href", "target", "rel", "title"},
	atom.Img:      {"src", "alt", "width", "height", "loading"},
	atom.Input:    {"type", "name", "placeholder", "value", "required", "min", "max"},
	atom.Textarea: {"name", "placeholder", "rows", "cols", "required"},
	atom.Form:     {"action", "method"},
	atom.Button:   {"type", "disabled"},
	atom.Select:   {"name", "required"},
	atom.Option:   {"value", "selected"},
	atom.Label:    {"for"},
	atom.Td:       {"colspan", "rowspan"},
	atom.Th:       {"colspan", "rowspan", "scope"},
}

// Normalize parses the input, strips scripts and other active content from
// the body, sanitizes the remaining elements against the allow-list, and
// renders a standalone document with a standard head (charset, viewport,
// title). Normalize is idempotent: running it on its own output returns the
// same string.
func Normalize(input string) string {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		// html.Parse is error-tolerant; failures here mean the reader broke,
		// which cannot happen with strings.Reader. Return input unchanged.
		return input
	}

	title := findTitle(doc)
	if title == "" {
		title = defaultTitle
	}

	body := findNode(doc, atom.Body)
	if body == nil {
		return wrapDocument(title, "")
	}
	sanitizeChildren(body)

	var sb strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&sb, c)
	}
	return wrapDocument(title, sb.String())
}

func wrapDocument(title, body string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head>")
	sb.WriteString(`<meta charset="utf-8"/>`)
	sb.WriteString(`<meta content="width=device-width, initial-scale=1" name="viewport"/>`)
	sb.WriteString("<title>")
	sb.WriteString(escapeText(title))
	sb.WriteString("</title></head><body>")
	sb.WriteString(body)
	sb.WriteString("</body></html>")
	return sb.String()
}

func escapeText(s string) string {
	var sb strings.Builder
	_ = html.Render(&sb, &html.Node{Type: html.TextNode, Data: s})
	return sb.String()
}

// sanitizeChildren walks n's children, dropping or unwrapping disallowed
// elements and filtering attributes on allowed ones.
func sanitizeChildren(n *html.Node) {
	c := n.FirstChild
	for c != nil {
		next := c.NextSibling
		switch {
		case c.Type == html.ElementNode && droppedTags[c.DataAtom]:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && !allowedTags[c.DataAtom]:
			// Re-visit from the first hoisted child.
			next = unwrap(n, c)
		case c.Type == html.ElementNode:
			filterAttrs(c)
			sanitizeChildren(c)
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		}
		c = next
	}
}

// unwrap replaces c with its children, preserving order, and returns the
// node the caller should visit next (the first hoisted child, or c's old
// sibling when c was empty).
func unwrap(parent, c *html.Node) *html.Node {
	after := c.NextSibling
	parent.RemoveChild(c)
	var first *html.Node
	for child := c.FirstChild; child != nil; {
		nextChild := child.NextSibling
		c.RemoveChild(child)
		if after != nil {
			parent.InsertBefore(child, after)
		} else {
			parent.AppendChild(child)
		}
		if first == nil {
			first = child
		}
		child = nextChild
	}
	if first != nil {
		return first
	}
	return after
}

func filterAttrs(n *html.Node) {
	allowed := tagAttrs[n.DataAtom]
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace != "" {
			continue
		}
		key := strings.ToLower(a.Key)
		if !attrAllowed(key, allowed) {
			continue
		}
		if (key == "href" || key == "src") && isJavascriptURL(a.Val) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func attrAllowed(key string, tagSpecific []string) bool {
	switch key {
	case "class", "id", "style":
		return true
	}
	if strings.HasPrefix(key, "data-") {
		return true
	}
	for _, k := range tagSpecific {
		if key == k {
			return true
		}
	}
	return false
}

func isJavascriptURL(val string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(val)), "javascript:")
}

func findTitle(doc *html.Node) string {
	t := findNode(doc, atom.Title)
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(t.FirstChild.Data)
}

func findNode(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, a); found != nil {
			return found
		}
	}
	return nil
}
