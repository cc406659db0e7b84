package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedveil/idgen"
	"github.com/hazyhaar/feedveil/item"
)

// Gateway scores items through an Oracle. It never returns an error and never
// panics: every outcome is a Score.
type Gateway struct {
	oracle  Oracle
	subject Subject
	logger  *slog.Logger
	newID   idgen.Generator
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithIDGenerator sets the generator of correlation ids for items without one.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(g *Gateway) { g.newID = gen }
}

// WithSubject sets the subject described to the oracle.
func WithSubject(s Subject) Option {
	return func(g *Gateway) { g.subject = s }
}

// NewGateway wraps an Oracle.
func NewGateway(o Oracle, opts ...Option) *Gateway {
	g := &Gateway{
		oracle:  o,
		subject: DefaultSubject,
		logger:  slog.Default(),
		newID:   idgen.Prefixed("itm_", idgen.NanoID(8)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// For returns a Gateway sharing g's oracle but describing items as s.
func (g *Gateway) For(s Subject) *Gateway {
	c := *g
	if s.Noun != "" {
		c.subject = s
	}
	return &c
}

// ScoreOne scores a single item. The returned Score carries the item's id.
func (g *Gateway) ScoreOne(ctx context.Context, goals string, it item.ContentItem) (s Score) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s = Fail(it.ID, TransportFailure, fmt.Errorf("oracle panic: %v", r))
		}
		g.logScore("one", it.ID, s, time.Since(start))
	}()

	raw, err := g.oracle.AnalyzeOne(ctx, goals, g.subject, FromItem(it))
	if err != nil {
		return Fail(it.ID, TransportFailure, err)
	}
	p, err := ParseSingle(raw)
	if err != nil {
		return Fail(it.ID, SchemaFailure, err)
	}
	return Score{ID: it.ID, Probability: p}
}

// ScoreBatch scores items in one oracle call. The result has exactly
// len(items) entries and result i belongs to items[i]. Items are correlated
// by id; items without an id get a generated one for the call. Entries the
// oracle omitted or flagged become Failures, and a transport or parse
// failure fails every item.
func (g *Gateway) ScoreBatch(ctx context.Context, goals string, items []item.ContentItem) (out []Score) {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()

	keys := make([]string, len(items))
	var recs []Record
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		k := it.ID
		if k == "" {
			k = g.newID()
		}
		keys[i] = k
		if seen[k] {
			continue
		}
		seen[k] = true
		r := FromItem(it)
		r.ID = k
		recs = append(recs, r)
	}

	failAll := func(kind FailureKind, err error) []Score {
		res := make([]Score, len(items))
		for i, it := range items {
			res[i] = Fail(it.ID, kind, err)
		}
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			out = failAll(TransportFailure, fmt.Errorf("oracle panic: %v", r))
		}
		g.logBatch(len(items), out, time.Since(start))
	}()

	raw, err := g.oracle.AnalyzeBatch(ctx, goals, g.subject, recs)
	if err != nil {
		return failAll(TransportFailure, err)
	}
	entries, err := ParseBatch(raw)
	if err != nil {
		return failAll(SchemaFailure, err)
	}

	byID := make(map[string]BatchEntry, len(entries))
	for _, e := range entries {
		if _, dup := byID[e.ID]; !dup {
			byID[e.ID] = e
		}
	}

	out = make([]Score, len(items))
	for i, it := range items {
		e, ok := byID[keys[i]]
		switch {
		case !ok:
			out[i] = Fail(it.ID, SchemaFailure, ErrNoResult)
		case e.Error || e.Probability == nil:
			out[i] = Fail(it.ID, SchemaFailure, ErrFlagged)
		default:
			out[i] = Score{ID: it.ID, Probability: *e.Probability}
		}
	}
	return out
}

func (g *Gateway) logScore(mode, id string, s Score, d time.Duration) {
	if s.OK() {
		g.logger.Debug("classify: scored", "mode", mode, "id", id,
			"probability", s.Probability, "duration", d)
		return
	}
	g.logger.Warn("classify: failure", "mode", mode, "id", id,
		"kind", s.Failure.Kind.String(), "error", s.Failure.Err, "duration", d)
}

func (g *Gateway) logBatch(n int, out []Score, d time.Duration) {
	failed := 0
	var first *Failure
	for _, s := range out {
		if !s.OK() {
			failed++
			if first == nil {
				first = s.Failure
			}
		}
	}
	if failed == 0 {
		g.logger.Debug("classify: batch scored", "items", n, "duration", d)
		return
	}
	g.logger.Warn("classify: batch failures", "items", n, "failed", failed,
		"kind", first.Kind.String(), "error", first.Err, "duration", d)
}

// IsTimeout reports whether a failure was caused by a deadline.
func IsTimeout(f *Failure) bool {
	return f != nil && f.Kind == TransportFailure && errors.Is(f.Err, context.DeadlineExceeded)
}
