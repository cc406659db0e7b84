// Package htmldom is an in-memory dom.Document over golang.org/x/net/html,
// with CSS selectors evaluated by goquery (cascadia).
//
// It serves two purposes: screening static pages fetched over HTTP, and
// driving the observation loop deterministically in tests through Insert and
// Remove, which emulate framework-driven DOM mutations.
package htmldom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/feedveil/dom"
)

// Document is a mutable HTML tree. All access goes through its mutex so that
// node pipelines running on separate goroutines can share it.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	anchors map[*html.Node]*dom.Anchor
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	root *html.Node
	fn   func([]dom.Node)
}

var _ dom.Document = (*Document)(nil)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return newDocument(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func newDocument(root *html.Node) *Document {
	return &Document{
		root:    root,
		anchors: make(map[*html.Node]*dom.Anchor),
		subs:    make(map[int]*subscriber),
	}
}

// QueryAll returns every element matching selector in document order.
func (d *Document) QueryAll(selector string) []dom.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrapAll(find(d.root, selector))
}

// Query returns the first element matching selector.
func (d *Document) Query(selector string) (dom.Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	found := find(d.root, selector)
	if len(found) == 0 {
		return nil, false
	}
	return d.wrap(found[0]), true
}

// Subscribe registers fn for insertions under root. A nil root observes the
// whole document.
func (d *Document) Subscribe(root dom.Node, fn func([]dom.Node)) (dom.Subscription, error) {
	var rn *html.Node
	if root != nil {
		n, ok := root.(*node)
		if !ok || n.doc != d {
			return nil, errors.New("htmldom: subscription root belongs to another document")
		}
		rn = n.n
	}

	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = &subscriber{root: rn, fn: fn}
	d.mu.Unlock()

	return dom.SubscriptionFunc(func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}), nil
}

// Subscribers returns the number of live subscriptions.
func (d *Document) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Insert parses fragment in the context of parent, appends the resulting
// nodes to parent and notifies the subscribers observing parent. It returns
// the inserted element nodes.
func (d *Document) Insert(parent dom.Node, fragment string) ([]dom.Node, error) {
	p, ok := parent.(*node)
	if !ok || p.doc != d {
		return nil, errors.New("htmldom: insert parent belongs to another document")
	}

	d.mu.Lock()
	if !d.attachedLocked(p.n) {
		d.mu.Unlock()
		return nil, dom.ErrDetached
	}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), p.n)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	var inserted []dom.Node
	for _, c := range parsed {
		p.n.AppendChild(c)
		if c.Type == html.ElementNode {
			inserted = append(inserted, d.wrap(c))
		}
	}
	var targets []func([]dom.Node)
	for _, s := range d.subs {
		if s.root == nil || contains(s.root, p.n) {
			targets = append(targets, s.fn)
		}
	}
	d.mu.Unlock()

	if len(inserted) == 0 {
		return nil, nil
	}
	for _, fn := range targets {
		fn(inserted)
	}
	return inserted, nil
}

// Remove detaches n from the tree and releases the anchors of its subtree.
func (d *Document) Remove(target dom.Node) error {
	n, ok := target.(*node)
	if !ok || n.doc != d {
		return errors.New("htmldom: remove target belongs to another document")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if n.n.Parent == nil {
		return nil
	}
	n.n.Parent.RemoveChild(n.n)
	walk(n.n, func(c *html.Node) bool {
		delete(d.anchors, c)
		return true
	})
	return nil
}

// Render writes the current tree, overlays included.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("htmldom: render: %w", err)
	}
	return nil
}

// String renders the tree to a string.
func (d *Document) String() string {
	var b strings.Builder
	_ = d.Render(&b)
	return b.String()
}

// wrap returns the node handle for n, allocating its anchor on first sight.
// Must be called with mu held.
func (d *Document) wrap(n *html.Node) *node {
	a, ok := d.anchors[n]
	if !ok {
		a = dom.NewAnchor()
		d.anchors[n] = a
	}
	return &node{doc: d, n: n, anchor: a}
}

func (d *Document) wrapAll(ns []*html.Node) []dom.Node {
	if len(ns) == 0 {
		return nil
	}
	out := make([]dom.Node, len(ns))
	for i, n := range ns {
		out[i] = d.wrap(n)
	}
	return out
}

func (d *Document) attachedLocked(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == d.root {
			return true
		}
	}
	return false
}

// find returns the descendants of root matching selector, skipping anything
// inside an overlay. An invalid selector matches nothing.
func find(root *html.Node, selector string) []*html.Node {
	sel := goquery.NewDocumentFromNode(root).Find(selector)
	out := make([]*html.Node, 0, len(sel.Nodes))
	for _, n := range sel.Nodes {
		if !insideOverlay(n) {
			out = append(out, n)
		}
	}
	return out
}

// contains reports whether n is root or one of its descendants.
func contains(root, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

// walk visits n and its descendants depth-first. Returning false from fn
// skips the children of the current node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
