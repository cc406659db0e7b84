package observe

import (
	"fmt"
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/extract"
	"github.com/hazyhaar/feedveil/item"
	"github.com/hazyhaar/feedveil/policy"
)

func (s *Session) dispatch(n dom.Node, force bool) {
	s.pending.add()
	s.stats.dispatched.Add(1)
	go func() {
		defer s.pending.done()
		s.runOne(n, force)
	}()
}

func (s *Session) runOne(n dom.Node, force bool) {
	s.stats.inFlight.Add(1)
	defer s.stats.inFlight.Add(-1)
	defer s.recoverNode(n)

	if !s.tracker.Begin(n.Anchor(), force) {
		s.suppress(n)
		return
	}
	it, ok := s.prepare(n)
	if !ok {
		return
	}
	start := time.Now()
	score := s.gateway.ScoreOne(s.ctx, s.profile.Goals, it)
	s.finish(n, it, score, time.Since(start), false)
}

// dispatchBatches claims nodes on the caller's goroutine, then scores them
// in chunks, one goroutine per chunk.
func (s *Session) dispatchBatches(nodes []dom.Node, force bool) {
	var claimed []dom.Node
	for _, n := range nodes {
		s.stats.dispatched.Add(1)
		if s.tracker.Begin(n.Anchor(), force) {
			claimed = append(claimed, n)
		} else {
			s.suppress(n)
		}
	}
	for start := 0; start < len(claimed); start += s.batchSize {
		end := min(start+s.batchSize, len(claimed))
		chunk := claimed[start:end]
		s.pending.add()
		go func() {
			defer s.pending.done()
			s.runBatch(chunk)
		}()
	}
}

func (s *Session) runBatch(chunk []dom.Node) {
	s.stats.inFlight.Add(int64(len(chunk)))
	defer s.stats.inFlight.Add(-int64(len(chunk)))

	var (
		nodes []dom.Node
		items []item.ContentItem
	)
	for _, n := range chunk {
		func() {
			defer s.recoverNode(n)
			if it, ok := s.prepare(n); ok {
				nodes = append(nodes, n)
				items = append(items, it)
			}
		}()
	}
	if len(items) == 0 {
		return
	}
	start := time.Now()
	scores := s.gateway.ScoreBatch(s.ctx, s.profile.Goals, items)
	latency := time.Since(start)
	for i, n := range nodes {
		func() {
			defer s.recoverNode(n)
			s.finish(n, items[i], scores[i], latency, true)
		}()
	}
}

// prepare attaches the placeholder and extracts the item. An unclassifiable
// item is revealed, left in its terminal tracker state and reported as not
// ready.
func (s *Session) prepare(n dom.Node) (item.ContentItem, bool) {
	if err := s.veil.Attach(n); err != nil {
		s.logger.Warn("observe: attach failed", "anchor", n.Anchor().ID(), "error", err)
	}
	it := extract.Item(n, s.fields)
	if len(it.Gaps) > 0 {
		s.logger.Debug("observe: extraction gaps", "anchor", n.Anchor().ID(), "gaps", it.Gaps)
	}
	if it.Classifiable() {
		return it, true
	}
	s.tracker.MarkUnclassifiable(n.Anchor())
	s.apply(n, policy.Unscored())
	s.stats.unclassifiable.Add(1)
	s.record(Event{ItemID: it.ID, Outcome: OutcomeUnclassifiable, Action: policy.Reveal})
	return it, false
}

func (s *Session) finish(n dom.Node, it item.ContentItem, score classify.Score, latency time.Duration, batch bool) {
	a := n.Anchor()
	ev := Event{ItemID: it.ID, Latency: latency, Batch: batch}
	if score.OK() {
		s.tracker.MarkScored(a, score.Probability)
		s.stats.scored.Add(1)
		ev.Outcome = OutcomeScored
		ev.Probability = score.Probability
	} else {
		s.tracker.MarkFailed(a)
		s.stats.failed.Add(1)
		ev.Outcome = OutcomeFailed
		ev.FailureKind = score.Failure.Kind.String()
		ev.Error = score.Failure.Err.Error()
	}

	act := policy.Decide(score, s.profile.Cutoff)
	ev.Action = act.Kind
	if !n.Attached() {
		s.stats.discarded.Add(1)
		ev.Outcome = OutcomeDiscarded
		s.record(ev)
		return
	}
	s.apply(n, act)
	s.record(ev)
}

func (s *Session) apply(n dom.Node, act policy.Action) {
	if err := s.veil.Apply(n, act); err != nil {
		s.logger.Warn("observe: apply failed", "anchor", n.Anchor().ID(), "action", act.Kind.String(), "error", err)
		return
	}
	switch act.Kind {
	case policy.Reveal:
		s.stats.revealed.Add(1)
	case policy.Obscure:
		s.stats.obscured.Add(1)
	case policy.ShowWithLabel:
		s.stats.labelled.Add(1)
	}
}

func (s *Session) suppress(n dom.Node) {
	s.stats.suppressed.Add(1)
	s.record(Event{Outcome: OutcomeSuppressed})
	s.logger.Debug("observe: duplicate suppressed", "anchor", n.Anchor().ID())
}

// recoverNode ends a pipeline that panicked in a terminal Failed state and
// shows the node with the failure label.
func (s *Session) recoverNode(n dom.Node) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("pipeline panic: %v", r)
	s.tracker.MarkFailed(n.Anchor())
	s.stats.failed.Add(1)
	s.logger.Error("observe: node pipeline panic", "anchor", n.Anchor().ID(), "panic", r)

	act := policy.Decide(classify.Fail("", classify.TransportFailure, err), s.profile.Cutoff)
	s.record(Event{Outcome: OutcomeFailed, Action: act.Kind, Error: err.Error()})
	s.showFailed(n, act)
}

// showFailed applies act to a node whose pipeline already panicked. The
// backend may panic again; that is logged and dropped.
func (s *Session) showFailed(n dom.Node, act policy.Action) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observe: failure label panic", "anchor", n.Anchor().ID(), "panic", r)
		}
	}()
	s.apply(n, act)
}

func (s *Session) record(e Event) {
	e.Session = s.id
	e.Site = s.adapter.ID
	e.At = time.Now()
	s.rec.Record(e)
}
