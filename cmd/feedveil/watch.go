package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedveil/admin"
	"github.com/hazyhaar/feedveil/dom/roddom"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/settings"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <url>",
		Short: "Open a page in Chrome and veil its feed until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), args[0])
		},
	}
}

// current holds the live session of the watched page. It is nil while the
// site is disabled.
type current struct {
	mu   sync.Mutex
	sess *observe.Session
}

func (c *current) get() *observe.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (a *app) runWatch(ctx context.Context, pageURL string) error {
	log := a.logger

	reg, err := a.cfg.Registry()
	if err != nil {
		return err
	}
	adapter, ok := reg.DetectURL(pageURL)
	if !ok {
		return fmt.Errorf("no site adapter for %s (known: %v)", pageURL, reg.IDs())
	}

	store, settingsDB, closeStore, err := a.settingsStore()
	if err != nil {
		return err
	}
	defer closeStore()

	gw, client, err := a.gateway()
	if err != nil {
		return err
	}

	diag, err := a.diagnostics()
	if err != nil {
		return err
	}
	defer diag.close()

	loop := observe.New(gw, store, a.loopConfig(diag.recorder()))

	rc := a.cfg.Browser.RodConfig()
	rc.Logger = log
	browser, err := roddom.Launch(ctx, rc)
	if err != nil {
		return err
	}
	defer browser.Close()

	page, err := browser.Open(ctx, pageURL)
	if err != nil {
		return err
	}
	defer page.Close()

	cur := &current{}
	activate := func() error {
		cur.mu.Lock()
		defer cur.mu.Unlock()
		var (
			next *observe.Session
			err  error
		)
		if cur.sess == nil {
			next, err = loop.Activate(ctx, page, adapter)
		} else {
			next, err = loop.Reactivate(ctx, cur.sess)
		}
		if errors.Is(err, observe.ErrSiteDisabled) {
			cur.sess = nil
			log.Info("feedveil: site disabled, not observing", "site", adapter.ID)
			return nil
		}
		if err != nil {
			cur.sess = nil
			return err
		}
		cur.sess = next
		return nil
	}
	if err := activate(); err != nil {
		return err
	}

	if addr := a.cfg.Admin.Addr; addr != "" {
		svc := admin.New(admin.Options{
			Loop:     loop,
			Gateway:  gw,
			Store:    store,
			Registry: reg,
			Oracle:   client,
			Metrics:  diag.metrics,
			Journal:  diag.journal,
			Logger:   log,
		})
		srv := &http.Server{Addr: addr, Handler: svc.Router(a.cfg.Admin.MCP), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Info("feedveil: admin listening", "addr", addr, "mcp", a.cfg.Admin.MCP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("feedveil: admin server", "error", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	sched, err := a.schedule(ctx, cur, diag)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	if settingsDB != nil {
		w := settings.NewWatcher(settingsDB, settings.WatchOptions{
			Interval: a.cfg.Store.WatchInterval,
			Debounce: a.cfg.Store.WatchDebounce,
			Logger:   log,
		})
		go w.Run(ctx, func() error {
			log.Info("feedveil: settings changed, re-activating", "site", adapter.ID)
			return activate()
		})
	}

	<-ctx.Done()
	log.Info("feedveil: shutting down")

	if s := cur.get(); s != nil {
		loop.Deactivate(s)
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Wait(wctx); err != nil {
			log.Warn("feedveil: pipelines still running at exit", "error", err)
		}
	}
	return nil
}

// schedule registers the periodic jobs: forced rescans when configured, and
// a daily trim of the diagnostics tables.
func (a *app) schedule(ctx context.Context, cur *current, diag *diagnostics) (*cron.Cron, error) {
	log := a.logger
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if spec := a.cfg.Pipeline.RescanCron; spec != "" {
		if _, err := c.AddFunc(spec, func() {
			s := cur.get()
			if s == nil {
				return
			}
			if _, err := s.Rescan(true); err != nil {
				log.Warn("feedveil: scheduled rescan", "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("rescan_cron %q: %w", spec, err)
		}
	}

	retention := a.cfg.Store.Retention
	if _, err := c.AddFunc("@daily", func() {
		m, err := diag.metrics.Cleanup(ctx, retention)
		if err != nil {
			log.Warn("feedveil: metrics cleanup", "error", err)
		}
		j, err := diag.journal.Cleanup(ctx, retention)
		if err != nil {
			log.Warn("feedveil: journal cleanup", "error", err)
		}
		log.Info("feedveil: diagnostics trimmed", "metrics", m, "journal", j)
	}); err != nil {
		return nil, err
	}
	return c, nil
}
