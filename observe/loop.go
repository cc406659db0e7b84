// Package observe runs the classification pipeline over a live document.
//
// A Loop activates one Session per (document, site). A Session sweeps the
// content containers already present, then follows insertions under the
// site's most specific stable root. Every discovered node runs its own
// pipeline goroutine:
//
//	Begin -> Attach -> extract -> ScoreOne (or reveal if unclassifiable)
//	      -> MarkScored/MarkFailed -> Decide -> Apply
//
// No failure crosses a pipeline boundary, and the only effect on the document
// is the overlay managed by package veil.
package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/idgen"
	"github.com/hazyhaar/feedveil/settings"
	"github.com/hazyhaar/feedveil/site"
	"github.com/hazyhaar/feedveil/veil"
)

// ErrSiteDisabled is returned by Activate when the site's profile is off.
var ErrSiteDisabled = errors.New("observe: site disabled")

// ErrNotObserving is returned by Rescan on a stopped session.
var ErrNotObserving = errors.New("observe: session not observing")

// Config tunes a Loop.
type Config struct {
	// BatchMode sends sweeps to the oracle in chunks of BatchSize through
	// ScoreBatch. Insertions are always scored one by one.
	BatchMode bool
	BatchSize int
	// Settle is the delay before extracting inserted nodes when the site
	// adapter declares none.
	Settle time.Duration
	Labels veil.Labels

	Recorder Recorder
	Logger   *slog.Logger
	NewID    idgen.Generator
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("ses_", idgen.Default)
	}
}

// Loop owns the active sessions.
type Loop struct {
	gateway *classify.Gateway
	store   settings.Store
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// New returns a Loop scoring through gw and reading profiles from store.
func New(gw *classify.Gateway, store settings.Store, cfg Config) *Loop {
	cfg.defaults()
	return &Loop{
		gateway:  gw,
		store:    store,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Activate reads the site's profile, starts a Session on doc and returns it.
// The profile is read once; later settings changes need a re-activation.
// ctx carries values to oracle calls but its cancellation does not abort
// pipelines already in flight.
func (l *Loop) Activate(ctx context.Context, doc dom.Document, a *site.Adapter) (*Session, error) {
	prof, err := l.store.Profile(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("observe: profile %s: %w", a.ID, err)
	}
	if !prof.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrSiteDisabled, a.ID)
	}

	s := newSession(context.WithoutCancel(ctx), l, doc, a, prof)
	l.mu.Lock()
	l.sessions[s.id] = s
	l.mu.Unlock()

	if err := s.Start(); err != nil {
		l.forget(s)
		return nil, err
	}
	s.logger.Info("observe: session activated",
		"cutoff", prof.Cutoff, "containers", len(s.containers), "batch", l.cfg.BatchMode)
	return s, nil
}

// Deactivate stops s and forgets it. In-flight pipelines finish on their own.
func (l *Loop) Deactivate(s *Session) {
	s.Stop()
	l.forget(s)
	s.logger.Info("observe: session deactivated")
}

// Reactivate replaces s with a fresh session on the same document and site,
// picking up the current profile.
func (l *Loop) Reactivate(ctx context.Context, s *Session) (*Session, error) {
	l.Deactivate(s)
	return l.Activate(ctx, s.doc, s.adapter)
}

// Sessions returns the active sessions, oldest first.
func (l *Loop) Sessions() []*Session {
	l.mu.Lock()
	out := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].started.Before(out[j].started) })
	return out
}

// Session returns the active session with the given id.
func (l *Loop) Session(id string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	return s, ok
}

// SessionsForSite returns the active sessions of a site, oldest first.
func (l *Loop) SessionsForSite(siteID string) []*Session {
	var out []*Session
	for _, s := range l.Sessions() {
		if s.adapter.ID == siteID {
			out = append(out, s)
		}
	}
	return out
}

func (l *Loop) forget(s *Session) {
	l.mu.Lock()
	delete(l.sessions, s.id)
	l.mu.Unlock()
}
