package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/feedveil/dom/htmldom"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/site"
)

func (a *app) screenCmd() *cobra.Command {
	var (
		siteID  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "screen <file|url>",
		Short: "Run the pipeline over a static page and print the annotated HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScreen(cmd.Context(), args[0], siteID, timeout, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "site adapter id (default: detected from the URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for classifications")
	return cmd
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func pickAdapter(reg *site.Registry, siteID, src string) (*site.Adapter, error) {
	if siteID != "" {
		a, ok := reg.Get(siteID)
		if !ok {
			return nil, fmt.Errorf("unknown site %q (known: %v)", siteID, reg.IDs())
		}
		return a, nil
	}
	if isURL(src) {
		if a, ok := reg.DetectURL(src); ok {
			return a, nil
		}
	}
	return nil, fmt.Errorf("cannot detect the site of %s, pass --site", src)
}

func loadDocument(ctx context.Context, src string) (*htmldom.Document, error) {
	if isURL(src) {
		return htmldom.Fetch(ctx, nil, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return htmldom.Parse(f)
}

func (a *app) runScreen(ctx context.Context, src, siteID string, timeout time.Duration, out io.Writer) error {
	reg, err := a.cfg.Registry()
	if err != nil {
		return err
	}
	adapter, err := pickAdapter(reg, siteID, src)
	if err != nil {
		return err
	}
	doc, err := loadDocument(ctx, src)
	if err != nil {
		return err
	}

	store, _, closeStore, err := a.settingsStore()
	if err != nil {
		return err
	}
	defer closeStore()
	gw, _, err := a.gateway()
	if err != nil {
		return err
	}

	loop := observe.New(gw, store, a.loopConfig(nil))
	sess, err := loop.Activate(ctx, doc, adapter)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	waitErr := sess.Wait(wctx)
	loop.Deactivate(sess)

	snap := sess.Snapshot()
	a.logger.Info("feedveil: screened", "site", adapter.ID,
		"scored", snap.Scored, "failed", snap.Failed, "unclassifiable", snap.Unclassifiable,
		"revealed", snap.Revealed, "obscured", snap.Obscured, "labelled", snap.Labelled)
	if waitErr != nil {
		a.logger.Warn("feedveil: classifications still pending", "in_flight", snap.InFlight)
	}
	return doc.Render(out)
}
