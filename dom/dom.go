// Package dom is the contract between the feedveil pipeline and a rendered
// document. Two backends implement it: htmldom (static, in-memory) and
// roddom (a live Chrome tab driven over CDP).
//
// Node identity is carried by *Anchor. A backend keeps a node's anchor
// reachable only while the node is attached to its tree, so anything keyed
// weakly by anchor disappears once the node is discarded.
package dom

import (
	"errors"
	"sync/atomic"
	"time"
)

// OverlayClass is the class carried by the occlusion overlay element.
const OverlayClass = "feedveil-overlay"

// ErrDetached is returned by overlay operations on a node that has left the
// document.
var ErrDetached = errors.New("dom: node detached")

var anchorSeq atomic.Uint64

// Anchor is the identity token of one node. Backends allocate exactly one
// anchor per live node and return the same pointer on every lookup.
type Anchor struct {
	id   uint64
	seen time.Time
}

// NewAnchor allocates a fresh identity token.
func NewAnchor() *Anchor {
	return &Anchor{id: anchorSeq.Add(1), seen: time.Now()}
}

// ID returns a process-unique number for logging.
func (a *Anchor) ID() uint64 { return a.id }

// Age is the time since the backend first saw the node.
func (a *Anchor) Age() time.Duration { return time.Since(a.seen) }

// Node is one element in the observed document.
type Node interface {
	// Anchor returns the node's identity token.
	Anchor() *Anchor
	// Matches reports whether the node itself matches a CSS selector.
	Matches(selector string) bool
	// QueryAll returns descendants matching a CSS selector, in document order.
	QueryAll(selector string) []Node
	// Text returns the trimmed text content, excluding any overlay.
	Text() string
	// Attr returns an attribute value.
	Attr(name string) (string, bool)
	// Attached reports whether the node is still part of the document.
	Attached() bool

	// EnsureOverlay adds the overlay with the given label unless one exists.
	// It reports whether an overlay was created.
	EnsureOverlay(label string) (bool, error)
	// SetOverlayText replaces the overlay label. No-op without an overlay.
	SetOverlayText(label string) error
	// RemoveOverlay removes the overlay if present.
	RemoveOverlay() error
	// OverlayText returns the overlay label and whether an overlay exists.
	OverlayText() (string, bool)
}

// Document is a queryable, observable tree.
type Document interface {
	// QueryAll returns every element matching selector.
	QueryAll(selector string) []Node
	// Query returns the first element matching selector.
	Query(selector string) (Node, bool)
	// Subscribe calls fn with the element nodes inserted under root (or
	// anywhere when root is nil). fn must not block.
	Subscribe(root Node, fn func(inserted []Node)) (Subscription, error)
}

// Subscription is a live insertion subscription.
type Subscription interface {
	Cancel()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Cancel calls f.
func (f SubscriptionFunc) Cancel() { f() }
