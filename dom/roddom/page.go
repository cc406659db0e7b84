package roddom

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/idgen"
)

//go:embed feedveil.js
var installJS string

const bindingName = "__feedveil_binding"

// Page is a live tab exposed as a dom.Document.
type Page struct {
	page   *rod.Page
	url    string
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	anchors map[proto.DOMBackendNodeID]*tracked
	subs    map[string]func([]dom.Node)
}

type tracked struct {
	anchor *dom.Anchor
	el     *rod.Element
}

var _ dom.Document = (*Page)(nil)

func newPage(ctx context.Context, page *rod.Page, pageURL string, cfg Config) (*Page, error) {
	pctx, cancel := context.WithCancel(ctx)
	p := &Page{
		page:    page,
		url:     pageURL,
		cfg:     cfg,
		logger:  cfg.Logger,
		ctx:     pctx,
		cancel:  cancel,
		anchors: make(map[proto.DOMBackendNodeID]*tracked),
		subs:    make(map[string]func([]dom.Node)),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		p.logger.Warn("roddom: addBinding failed (may already exist)", "error", err)
	}
	if _, err := (proto.RuntimeEvaluate{Expression: installJS}).Call(page); err != nil {
		cancel()
		return nil, fmt.Errorf("roddom: install observer: %w", err)
	}

	go p.listenBinding()
	go p.pruneLoop()

	p.logger.Info("roddom: page ready", "url", pageURL)
	return p, nil
}

// URL returns the URL the page was opened on.
func (p *Page) URL() string { return p.url }

// Close stops background loops and closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return p.page.Close()
}

// QueryAll returns every element matching selector.
func (p *Page) QueryAll(selector string) []dom.Node {
	els, err := p.page.Timeout(p.cfg.OpTimeout).Elements(selector)
	if err != nil {
		p.logger.Debug("roddom: query failed", "selector", selector, "error", err)
		return nil
	}
	return p.wrapAll(els)
}

// Query returns the first element matching selector without waiting.
func (p *Page) Query(selector string) (dom.Node, bool) {
	has, el, err := p.page.Timeout(p.cfg.OpTimeout).Has(selector)
	if err != nil || !has {
		return nil, false
	}
	n, err := p.wrap(el)
	if err != nil {
		return nil, false
	}
	return n, true
}

// Subscribe starts a MutationObserver on root (the document element when
// root is nil) and forwards inserted element batches to fn.
func (p *Page) Subscribe(root dom.Node, fn func([]dom.Node)) (dom.Subscription, error) {
	id := idgen.NanoID(10)()

	p.mu.Lock()
	p.subs[id] = fn
	p.mu.Unlock()

	var err error
	if root != nil {
		rn, ok := root.(*node)
		if !ok || rn.p != p {
			err = errors.New("roddom: subscription root belongs to another page")
		} else {
			_, err = rn.op().Eval(`function (id) { return window.__feedveil.observe(id, this); }`, id)
		}
	} else {
		_, err = p.page.Timeout(p.cfg.OpTimeout).Eval(`(id) => window.__feedveil.observe(id, null)`, id)
	}
	if err != nil {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("roddom: subscribe: %w", err)
	}

	return dom.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
		if _, err := p.page.Timeout(p.cfg.OpTimeout).Eval(`(id) => window.__feedveil.disconnect(id)`, id); err != nil {
			p.logger.Debug("roddom: disconnect observer", "id", id, "error", err)
		}
	}), nil
}

// listenBinding receives batch keys from the injected observer.
func (p *Page) listenBinding() {
	p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		go p.deliver(e.Payload)
	})()
}

func (p *Page) deliver(key string) {
	id, _, ok := strings.Cut(key, ":")
	if !ok {
		return
	}
	p.mu.Lock()
	fn := p.subs[id]
	p.mu.Unlock()
	if fn == nil {
		return
	}

	els, err := p.page.Timeout(p.cfg.OpTimeout).ElementsByJS(rod.Eval(`(key) => window.__feedveil.take(key)`, key))
	if err != nil {
		p.logger.Warn("roddom: take inserted nodes", "key", key, "error", err)
		return
	}
	if nodes := p.wrapAll(els); len(nodes) > 0 {
		fn(nodes)
	}
}

// pruneLoop releases anchors of elements that left the document so that
// weakly keyed state can be reclaimed.
func (p *Page) pruneLoop() {
	ticker := time.NewTicker(p.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Page) prune() {
	p.mu.Lock()
	snapshot := make(map[proto.DOMBackendNodeID]*rod.Element, len(p.anchors))
	for id, t := range p.anchors {
		snapshot[id] = t.el
	}
	p.mu.Unlock()

	var gone []proto.DOMBackendNodeID
	for id, el := range snapshot {
		if !connected(el.Timeout(p.cfg.OpTimeout)) {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return
	}

	p.mu.Lock()
	for _, id := range gone {
		delete(p.anchors, id)
	}
	p.mu.Unlock()
	p.logger.Debug("roddom: pruned detached nodes", "count", len(gone))
}

func (p *Page) wrapAll(els rod.Elements) []dom.Node {
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		n, err := p.wrap(el)
		if err != nil {
			p.logger.Debug("roddom: describe element", "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

// wrap resolves the backend node id of el and returns the node handle
// carrying its anchor.
func (p *Page) wrap(el *rod.Element) (*node, error) {
	desc, err := el.Timeout(p.cfg.OpTimeout).Describe(0, false)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.anchors[desc.BackendNodeID]
	if !ok {
		t = &tracked{anchor: dom.NewAnchor(), el: el}
		p.anchors[desc.BackendNodeID] = t
	}
	return &node{p: p, el: el, anchor: t.anchor}, nil
}

func connected(el *rod.Element) bool {
	res, err := el.Eval(`function () { return this.isConnected; }`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}
