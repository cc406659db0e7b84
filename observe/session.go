package observe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/item"
	"github.com/hazyhaar/feedveil/settings"
	"github.com/hazyhaar/feedveil/site"
	"github.com/hazyhaar/feedveil/tracker"
	"github.com/hazyhaar/feedveil/veil"
)

// State is the observation state of a Session.
type State int

const (
	Stopped State = iota
	Observing
)

func (s State) String() string {
	if s == Observing {
		return "observing"
	}
	return "stopped"
}

// Session observes one document for one site.
type Session struct {
	id      string
	ctx     context.Context
	doc     dom.Document
	adapter *site.Adapter
	profile settings.Profile
	started time.Time

	containers []string
	fields     item.FieldSpec
	settle     time.Duration
	batch      bool
	batchSize  int

	gateway *classify.Gateway
	tracker *tracker.Tracker
	veil    *veil.Controller
	rec     Recorder
	logger  *slog.Logger

	mu    sync.Mutex
	state State
	sub   dom.Subscription

	pending pending
	stats   counters
}

// pending counts pipelines and settle timers still outstanding. Unlike a
// WaitGroup it may grow from zero while someone waits for it to drain.
type pending struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed when n drops to zero
}

func (p *pending) add() {
	p.mu.Lock()
	if p.n == 0 {
		p.idle = make(chan struct{})
	}
	p.n++
	p.mu.Unlock()
}

func (p *pending) done() {
	p.mu.Lock()
	p.n--
	if p.n == 0 {
		close(p.idle)
	}
	p.mu.Unlock()
}

// drained returns a channel that is closed once nothing is outstanding.
func (p *pending) drained() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.n == 0 {
		c := make(chan struct{})
		close(c)
		return c
	}
	return p.idle
}

type counters struct {
	dispatched     atomic.Int64
	inFlight       atomic.Int64
	scored         atomic.Int64
	failed         atomic.Int64
	unclassifiable atomic.Int64
	suppressed     atomic.Int64
	discarded      atomic.Int64
	revealed       atomic.Int64
	obscured       atomic.Int64
	labelled       atomic.Int64
}

func newSession(ctx context.Context, l *Loop, doc dom.Document, a *site.Adapter, prof settings.Profile) *Session {
	id := l.cfg.NewID()
	s := &Session{
		id:         id,
		ctx:        ctx,
		doc:        doc,
		adapter:    a,
		profile:    prof,
		started:    time.Now(),
		containers: a.Containers,
		fields:     a.Fields.Override(prof.Fields),
		settle:     a.Settle,
		batch:      l.cfg.BatchMode,
		batchSize:  l.cfg.BatchSize,
		gateway:    l.gateway.For(a.Prompt),
		tracker:    tracker.New(),
		rec:        l.cfg.Recorder,
		logger:     l.cfg.Logger.With("session", id, "site", a.ID),
	}
	if len(prof.Containers) > 0 {
		s.containers = prof.Containers
	}
	if s.settle <= 0 {
		s.settle = l.cfg.Settle
	}
	s.veil = veil.New(l.cfg.Labels, s.logger)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Site returns the adapter the session runs with.
func (s *Session) Site() *site.Adapter { return s.adapter }

// Profile returns the profile read at activation.
func (s *Session) Profile() settings.Profile { return s.profile }

// Tracker exposes the per-node state, mostly for inspection.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// State returns the observation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start subscribes to insertions and sweeps the containers already present.
// It is a no-op while observing. The root lookup and the subscription run
// outside the session lock.
func (s *Session) Start() error {
	if s.State() == Observing {
		return nil
	}
	root := s.root()
	sub, err := s.doc.Subscribe(root, s.onInserted)
	if err != nil {
		return fmt.Errorf("observe: subscribe: %w", err)
	}

	s.mu.Lock()
	if s.state == Observing {
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.state = Observing
	s.mu.Unlock()

	n := s.sweep(false)
	s.logger.Debug("observe: initial sweep", "nodes", n, "scoped", root != nil)
	return nil
}

// Stop cancels the subscription. Pipelines already running complete; their
// results reach nodes that are still attached.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return
	}
	s.sub.Cancel()
	s.sub = nil
	s.state = Stopped
}

// Rescan sweeps every present container again. With force, nodes already
// scored or failed are re-classified; nodes still scanning are left alone.
func (s *Session) Rescan(force bool) (int, error) {
	if s.State() != Observing {
		return 0, ErrNotObserving
	}
	n := s.sweep(force)
	s.logger.Info("observe: rescan", "nodes", n, "force", force)
	return n, nil
}

// Wait blocks until no dispatched pipeline or settle delay is outstanding,
// or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.pending.drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// root picks the first of the adapter's root selectors present in the
// document. nil means the whole document.
func (s *Session) root() dom.Node {
	for _, sel := range s.adapter.Roots {
		if n, ok := s.doc.Query(sel); ok {
			return n
		}
	}
	return nil
}

func (s *Session) present() []dom.Node {
	seen := make(map[*dom.Anchor]bool)
	var out []dom.Node
	for _, sel := range s.containers {
		for _, n := range s.doc.QueryAll(sel) {
			if a := n.Anchor(); !seen[a] {
				seen[a] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (s *Session) sweep(force bool) int {
	nodes := s.present()
	if s.batch {
		s.dispatchBatches(nodes, force)
	} else {
		for _, n := range nodes {
			s.dispatch(n, force)
		}
	}
	return len(nodes)
}

// onInserted runs on the backend's notification path and must not block.
func (s *Session) onInserted(inserted []dom.Node) {
	if s.State() != Observing {
		return
	}
	found := s.discover(inserted)
	if len(found) == 0 {
		return
	}
	if s.settle <= 0 {
		for _, n := range found {
			s.dispatch(n, false)
		}
		return
	}
	s.pending.add()
	time.AfterFunc(s.settle, func() {
		defer s.pending.done()
		if s.State() != Observing {
			return
		}
		for _, n := range found {
			s.dispatch(n, false)
		}
	})
}

// discover returns the containers among the inserted nodes and their
// descendants, in order and without duplicates.
func (s *Session) discover(inserted []dom.Node) []dom.Node {
	seen := make(map[*dom.Anchor]bool)
	var out []dom.Node
	add := func(n dom.Node) {
		if a := n.Anchor(); !seen[a] {
			seen[a] = true
			out = append(out, n)
		}
	}
	for _, n := range inserted {
		for _, sel := range s.containers {
			if n.Matches(sel) {
				add(n)
				break
			}
		}
		for _, sel := range s.containers {
			for _, d := range n.QueryAll(sel) {
				add(d)
			}
		}
	}
	return out
}

// Snapshot is a point-in-time view of a session for status surfaces.
type Snapshot struct {
	ID        string         `json:"id"`
	Site      string         `json:"site"`
	State     string         `json:"state"`
	Started   time.Time      `json:"started"`
	Cutoff    float64        `json:"cutoff"`
	BatchMode bool           `json:"batch_mode"`
	Tracked   map[string]int `json:"tracked"`

	Dispatched     int64 `json:"dispatched"`
	InFlight       int64 `json:"in_flight"`
	Scored         int64 `json:"scored"`
	Failed         int64 `json:"failed"`
	Unclassifiable int64 `json:"unclassifiable"`
	Suppressed     int64 `json:"suppressed"`
	Discarded      int64 `json:"discarded"`
	Revealed       int64 `json:"revealed"`
	Obscured       int64 `json:"obscured"`
	Labelled       int64 `json:"labelled"`
}

// Snapshot returns the session's counters.
func (s *Session) Snapshot() Snapshot {
	tracked := make(map[string]int)
	for p, n := range s.tracker.Counts() {
		tracked[p.String()] = n
	}
	return Snapshot{
		ID:             s.id,
		Site:           s.adapter.ID,
		State:          s.State().String(),
		Started:        s.started,
		Cutoff:         s.profile.Cutoff,
		BatchMode:      s.batch,
		Tracked:        tracked,
		Dispatched:     s.stats.dispatched.Load(),
		InFlight:       s.stats.inFlight.Load(),
		Scored:         s.stats.scored.Load(),
		Failed:         s.stats.failed.Load(),
		Unclassifiable: s.stats.unclassifiable.Load(),
		Suppressed:     s.stats.suppressed.Load(),
		Discarded:      s.stats.discarded.Load(),
		Revealed:       s.stats.revealed.Load(),
		Obscured:       s.stats.obscured.Load(),
		Labelled:       s.stats.labelled.Load(),
	}
}
