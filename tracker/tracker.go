// Package tracker owns the per-node processing state.
//
// Entries are keyed by weak pointers to the node's dom.Anchor and removed by
// a runtime cleanup once the anchor is collected. Backends release an anchor
// when its node leaves the document, so the tracker never retains state for
// discarded nodes and needs no explicit eviction.
package tracker

import (
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/hazyhaar/feedveil/dom"
)

// Phase is a node's position in the processing lifecycle.
type Phase int

const (
	Unseen         Phase = iota // never handed to the pipeline
	Scanning                    // classification in flight, placeholder attached
	Scored                      // probability known
	Failed                      // no usable probability; shown
	Unclassifiable              // nothing to judge; shown without scoring
)

func (p Phase) String() string {
	switch p {
	case Unseen:
		return "unseen"
	case Scanning:
		return "scanning"
	case Scored:
		return "scored"
	case Failed:
		return "failed"
	case Unclassifiable:
		return "unclassifiable"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether the phase ends processing absent a forced rescan.
func (p Phase) Terminal() bool { return p == Scored || p == Failed || p == Unclassifiable }

// State is a snapshot of one node's entry.
type State struct {
	Phase       Phase
	Probability float64 // meaningful when Phase == Scored
}

// Tracker maps nodes to their State. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[weak.Pointer[dom.Anchor]]*State
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[weak.Pointer[dom.Anchor]]*State)}
}

// State returns the current state of a node. Unknown nodes are Unseen.
func (t *Tracker) State(a *dom.Anchor) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[weak.Make(a)]; ok {
		return *e
	}
	return State{}
}

// ShouldProcess returns false iff the node is terminal and force is false.
func (t *Tracker) ShouldProcess(a *dom.Anchor, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return shouldProcess(t.entries[weak.Make(a)], force)
}

// MarkScanning moves the node to Scanning. It reports whether this call made
// the transition; a node already Scanning is left as is and yields false.
func (t *Tracker) MarkScanning(a *dom.Anchor) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entryLocked(a)
	if e.Phase == Scanning {
		return false
	}
	*e = State{Phase: Scanning}
	return true
}

// Begin atomically checks ShouldProcess and marks the node Scanning. Exactly
// one of several concurrent callers for the same node gets true; the others
// observe Scanning and must stand down.
func (t *Tracker) Begin(a *dom.Anchor, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := weak.Make(a)
	e := t.entries[k]
	if !shouldProcess(e, force) {
		return false
	}
	if e != nil && e.Phase == Scanning {
		return false
	}
	e = t.entryLocked(a)
	*e = State{Phase: Scanning}
	return true
}

// MarkScored records a probability. Overwrites any prior state.
func (t *Tracker) MarkScored(a *dom.Anchor, probability float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.entryLocked(a) = State{Phase: Scored, Probability: probability}
}

// MarkFailed records a classification failure. Overwrites any prior state.
func (t *Tracker) MarkFailed(a *dom.Anchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.entryLocked(a) = State{Phase: Failed}
}

// MarkUnclassifiable records that the node carried nothing to score. Like
// Scored and Failed it is terminal until a forced rescan.
func (t *Tracker) MarkUnclassifiable(a *dom.Anchor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.entryLocked(a) = State{Phase: Unclassifiable}
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Counts returns the number of live entries per phase.
func (t *Tracker) Counts() map[Phase]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Phase]int, 5)
	for _, e := range t.entries {
		out[e.Phase]++
	}
	return out
}

func shouldProcess(e *State, force bool) bool {
	if e == nil {
		return true
	}
	return force || !e.Phase.Terminal()
}

// entryLocked returns the entry for a, creating it and arming its cleanup on
// first use. Must be called with mu held.
func (t *Tracker) entryLocked(a *dom.Anchor) *State {
	k := weak.Make(a)
	if e, ok := t.entries[k]; ok {
		return e
	}
	e := &State{}
	t.entries[k] = e
	runtime.AddCleanup(a, t.forget, k)
	return e
}

func (t *Tracker) forget(k weak.Pointer[dom.Anchor]) {
	t.mu.Lock()
	delete(t.entries, k)
	t.mu.Unlock()
}
