package htmldom

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/feedveil/dom"
)

// overlayStyle occludes the host box without taking part in its layout.
const overlayStyle = "position:absolute;top:0;left:0;right:0;bottom:0;" +
	"display:flex;justify-content:center;align-items:center;" +
	"background:rgba(0,0,0,1);color:#fff;z-index:9999;font-size:18px;"

type node struct {
	doc    *Document
	n      *html.Node
	anchor *dom.Anchor
}

var _ dom.Node = (*node)(nil)

func (x *node) Anchor() *dom.Anchor { return x.anchor }

func (x *node) Matches(selector string) bool {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	return goquery.NewDocumentFromNode(x.n).Is(selector)
}

func (x *node) QueryAll(selector string) []dom.Node {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	if !x.doc.attachedLocked(x.n) {
		return nil
	}
	return x.doc.wrapAll(find(x.n, selector))
}

func (x *node) Text() string {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	return collectText(x.n)
}

func (x *node) Attr(name string) (string, bool) {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	return attr(x.n, name)
}

func (x *node) Attached() bool {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	return x.doc.attachedLocked(x.n)
}

func (x *node) EnsureOverlay(label string) (bool, error) {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	if !x.doc.attachedLocked(x.n) {
		return false, dom.ErrDetached
	}
	if overlayOf(x.n) != nil {
		return false, nil
	}

	ov := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
		Attr: []html.Attribute{
			{Key: "class", Val: dom.OverlayClass},
			{Key: "style", Val: overlayStyle},
		},
	}
	ov.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	x.n.AppendChild(ov)
	makeRelative(x.n)
	return true, nil
}

func (x *node) SetOverlayText(label string) error {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	if !x.doc.attachedLocked(x.n) {
		return dom.ErrDetached
	}
	ov := overlayOf(x.n)
	if ov == nil {
		return nil
	}
	for c := ov.FirstChild; c != nil; {
		next := c.NextSibling
		ov.RemoveChild(c)
		c = next
	}
	ov.AppendChild(&html.Node{Type: html.TextNode, Data: label})
	return nil
}

func (x *node) RemoveOverlay() error {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	if !x.doc.attachedLocked(x.n) {
		return dom.ErrDetached
	}
	if ov := overlayOf(x.n); ov != nil {
		x.n.RemoveChild(ov)
	}
	return nil
}

func (x *node) OverlayText() (string, bool) {
	x.doc.mu.Lock()
	defer x.doc.mu.Unlock()
	ov := overlayOf(x.n)
	if ov == nil {
		return "", false
	}
	var b strings.Builder
	for c := ov.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String(), true
}

// overlayOf returns the direct overlay child of n, if any.
func overlayOf(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isOverlay(c) {
			return c
		}
	}
	return nil
}

func isOverlay(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	cls, _ := attr(n, "class")
	for _, f := range strings.Fields(cls) {
		if f == dom.OverlayClass {
			return true
		}
	}
	return false
}

func insideOverlay(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if isOverlay(c) {
			return true
		}
	}
	return false
}

// makeRelative turns the host into a containing block for the overlay.
func makeRelative(n *html.Node) {
	for i, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		if strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "position:relative") {
			return
		}
		v := strings.TrimSpace(a.Val)
		if v != "" && !strings.HasSuffix(v, ";") {
			v += ";"
		}
		n.Attr[i].Val = v + "position:relative;"
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: "position:relative;"})
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// collectText concatenates text content with whitespace collapsed, ignoring
// overlays, scripts and styles.
func collectText(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style || isOverlay(c) {
				return false
			}
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}
