// Package roddom implements dom.Document over a live Chrome tab driven by
// go-rod. Insertions are captured by an injected MutationObserver that calls
// back into Go through a CDP runtime binding; node identity is the CDP
// backend node id, stable for the lifetime of the element.
package roddom

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser and the pages it opens.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// Headful runs Chrome with a window. Default: headless.
	Headful bool

	// Stealth applies go-rod/stealth evasions to every page. Default: true
	// unless DisableStealth is set.
	DisableStealth bool

	// ResourceBlocking lists resource types to block (fonts, media, stylesheets).
	ResourceBlocking []string

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration

	// OpTimeout bounds each element operation. Default: 10s.
	OpTimeout time.Duration

	// PruneInterval is how often anchors of disconnected elements are
	// released. Default: 30s.
	PruneInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns one Chrome process or remote connection.
type Browser struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// Launch starts Chrome (or connects to RemoteURL).
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	var wsURL string
	var lnch *launcher.Launcher
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("roddom: connecting to remote chrome", "url", wsURL)
	} else {
		lnch = launcher.New().Context(ctx).Headless(!cfg.Headful)
		lnch = lnch.Set("disable-blink-features", "AutomationControlled")
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("roddom: launch: %w", err)
		}
		wsURL = u
		log.Info("roddom: launched local chrome", "url", wsURL, "headful", cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		return nil, fmt.Errorf("roddom: connect: %w", err)
	}
	return &Browser{cfg: cfg, browser: b, lnch: lnch}, nil
}

// Open creates a tab, navigates to pageURL and returns it as a Document.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("roddom: browser is closed")
	}
	rb := b.browser
	b.mu.Unlock()

	var page *rod.Page
	var err error
	if b.cfg.DisableStealth {
		page, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(rb)
	}
	if err != nil {
		return nil, fmt.Errorf("roddom: create tab: %w", err)
	}

	if len(b.cfg.ResourceBlocking) > 0 {
		blockResources(page, b.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("roddom: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("roddom: wait load timeout", "url", pageURL, "error", err)
	}

	return newPage(ctx, page, pageURL, b.cfg)
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}

// blockResources fails requests for the configured resource types.
func blockResources(page *rod.Page, types []string) {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

func shouldBlock(block map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return block["images"]
	case "font":
		return block["fonts"]
	case "media":
		return block["media"]
	case "stylesheet":
		return block["stylesheets"]
	default:
		return block[lower]
	}
}
