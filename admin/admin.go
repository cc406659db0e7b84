// Package admin exposes running sessions over HTTP (chi) and MCP: status,
// forced rescans, recent metrics and ad-hoc classification.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/item"
	"github.com/hazyhaar/feedveil/observability"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/oracle"
	"github.com/hazyhaar/feedveil/policy"
	"github.com/hazyhaar/feedveil/settings"
	"github.com/hazyhaar/feedveil/site"
)

var (
	// ErrNoSession is returned when no active session covers a site.
	ErrNoSession = errors.New("admin: no active session")
	// ErrUnknownSite is returned for a site id the registry does not know.
	ErrUnknownSite = errors.New("admin: unknown site")
	// ErrNoMetrics is returned when the service runs without a metrics store.
	ErrNoMetrics = errors.New("admin: metrics disabled")
)

// OracleInfo is what the status surface reports about the oracle client.
type OracleInfo interface {
	Model() string
	Breaker() *oracle.Breaker
}

// Options wires a Service. Loop, Gateway, Store and Registry are required.
type Options struct {
	Loop     *observe.Loop
	Gateway  *classify.Gateway
	Store    settings.Store
	Registry *site.Registry
	Oracle   OracleInfo
	Metrics  *observability.Metrics
	Journal  *observability.Journal
	Logger   *slog.Logger
}

// Service implements the admin operations shared by both transports.
type Service struct {
	opts    Options
	logger  *slog.Logger
	started time.Time
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{opts: opts, logger: opts.Logger, started: time.Now()}
}

// Status is the state of the process.
type Status struct {
	Uptime   string             `json:"uptime"`
	Sessions []observe.Snapshot `json:"sessions"`
	Oracle   *OracleStatus      `json:"oracle,omitempty"`
}

// OracleStatus reports the oracle model and circuit state.
type OracleStatus struct {
	Model   string `json:"model"`
	Breaker string `json:"breaker"`
}

// Status returns a snapshot of every active session.
func (s *Service) Status() Status {
	st := Status{
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Sessions: []observe.Snapshot{},
	}
	for _, sess := range s.opts.Loop.Sessions() {
		st.Sessions = append(st.Sessions, sess.Snapshot())
	}
	if s.opts.Oracle != nil {
		st.Oracle = &OracleStatus{
			Model:   s.opts.Oracle.Model(),
			Breaker: s.opts.Oracle.Breaker().State().String(),
		}
	}
	return st
}

// RescanResult reports a forced rescan.
type RescanResult struct {
	Site     string `json:"site"`
	Sessions int    `json:"sessions"`
	Nodes    int    `json:"nodes"`
}

// Rescan re-classifies every present container of the site's observing
// sessions, including nodes already decided.
func (s *Service) Rescan(siteID string) (RescanResult, error) {
	res := RescanResult{Site: siteID}
	for _, sess := range s.opts.Loop.SessionsForSite(siteID) {
		n, err := sess.Rescan(true)
		if errors.Is(err, observe.ErrNotObserving) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Sessions++
		res.Nodes += n
	}
	if res.Sessions == 0 {
		return res, fmt.Errorf("%w for %s", ErrNoSession, siteID)
	}
	s.logger.Info("admin: rescan", "site", siteID, "sessions", res.Sessions, "nodes", res.Nodes)
	return res, nil
}

// ClassifyRequest is an ad-hoc item to score. Goals and Cutoff default to
// the site's profile.
type ClassifyRequest struct {
	Site   string   `json:"site"`
	Title  string   `json:"title"`
	Author string   `json:"author"`
	Goals  string   `json:"goals,omitempty"`
	Cutoff *float64 `json:"cutoff,omitempty"`
}

// ClassifyResult is the score and the action the pipeline would take.
type ClassifyResult struct {
	Site        string   `json:"site"`
	Probability *float64 `json:"probability,omitempty"`
	FailureKind string   `json:"failure_kind,omitempty"`
	Error       string   `json:"error,omitempty"`
	Action      string   `json:"action"`
	Label       string   `json:"label,omitempty"`
	Cutoff      float64  `json:"cutoff"`
}

// Classify scores one item through the gateway and the decision policy,
// without touching any document.
func (s *Service) Classify(ctx context.Context, req ClassifyRequest) (ClassifyResult, error) {
	a, ok := s.opts.Registry.Get(req.Site)
	if !ok {
		return ClassifyResult{}, fmt.Errorf("%w: %q", ErrUnknownSite, req.Site)
	}
	prof, err := s.opts.Store.Profile(ctx, a.ID)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("admin: profile %s: %w", a.ID, err)
	}
	goals, cutoff := prof.Goals, prof.Cutoff
	if req.Goals != "" {
		goals = req.Goals
	}
	if req.Cutoff != nil {
		if *req.Cutoff < 0 || *req.Cutoff > 100 {
			return ClassifyResult{}, settings.ErrInvalidCutoff
		}
		cutoff = *req.Cutoff
	}

	res := ClassifyResult{Site: a.ID, Cutoff: cutoff}
	it := item.ContentItem{Title: req.Title, Author: req.Author}
	if it.Title == "" && it.Author == "" {
		act := policy.Unscored()
		res.Action, res.Label = act.Kind.String(), act.Label
		return res, nil
	}

	score := s.opts.Gateway.For(a.Prompt).ScoreOne(ctx, goals, it)
	act := policy.Decide(score, cutoff)
	res.Action, res.Label = act.Kind.String(), act.Label
	if score.OK() {
		p := score.Probability
		res.Probability = &p
	} else {
		res.FailureKind = score.Failure.Kind.String()
		res.Error = score.Failure.Err.Error()
	}
	return res, nil
}

// MetricsQuery selects recent datapoints.
type MetricsQuery struct {
	Name  string `json:"name,omitempty"`
	Since string `json:"since,omitempty"` // Go duration, e.g. "1h"
	Limit int    `json:"limit,omitempty"`
}

// Metrics returns recent datapoints, newest first.
func (s *Service) Metrics(ctx context.Context, q MetricsQuery) ([]observability.Metric, error) {
	if s.opts.Metrics == nil {
		return nil, ErrNoMetrics
	}
	var since time.Time
	if q.Since != "" {
		d, err := time.ParseDuration(q.Since)
		if err != nil {
			return nil, fmt.Errorf("admin: since: %w", err)
		}
		since = time.Now().Add(-d)
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	s.opts.Metrics.Flush()
	return s.opts.Metrics.Query(ctx, q.Name, since, q.Limit)
}

// Journal returns recent verdicts, optionally for one site.
func (s *Service) Journal(ctx context.Context, siteID string, limit int) ([]observability.Entry, error) {
	if s.opts.Journal == nil {
		return nil, ErrNoMetrics
	}
	return s.opts.Journal.Recent(ctx, siteID, limit)
}
