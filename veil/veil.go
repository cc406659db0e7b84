// Package veil owns the occlusion overlay: the only thing the pipeline
// changes in the observed document.
package veil

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/policy"
)

// Labels are the overlay texts.
type Labels struct {
	Scanning string `yaml:"scanning" json:"scanning"`
	Obscured string `yaml:"obscured" json:"obscured"`
	Failed   string `yaml:"failed" json:"failed"`
}

// DefaultLabels are the stock overlay texts.
var DefaultLabels = Labels{
	Scanning: "Scanning...",
	Obscured: "Brainrot Removed",
	Failed:   policy.FailedLabel,
}

func (l Labels) withDefaults() Labels {
	if l.Scanning == "" {
		l.Scanning = DefaultLabels.Scanning
	}
	if l.Obscured == "" {
		l.Obscured = DefaultLabels.Obscured
	}
	if l.Failed == "" {
		l.Failed = DefaultLabels.Failed
	}
	return l
}

// Controller applies visibility actions to nodes. Operations on a detached
// node do nothing and return nil.
type Controller struct {
	labels Labels
	logger *slog.Logger
}

// New returns a Controller. Empty labels fall back to DefaultLabels.
func New(labels Labels, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{labels: labels.withDefaults(), logger: logger}
}

// Labels returns the texts in use.
func (c *Controller) Labels() Labels { return c.labels }

// Attach puts the scanning overlay on n. Calling it again keeps the single
// existing overlay and its current text.
func (c *Controller) Attach(n dom.Node) error {
	_, err := n.EnsureOverlay(c.labels.Scanning)
	return c.check("attach", n, err)
}

// Apply maps an action onto n's overlay.
func (c *Controller) Apply(n dom.Node, a policy.Action) error {
	switch a.Kind {
	case policy.Reveal:
		return c.check("reveal", n, n.RemoveOverlay())
	case policy.Obscure:
		return c.label(n, "obscure", c.labels.Obscured)
	case policy.ShowWithLabel:
		text := a.Label
		if text == "" {
			text = c.labels.Failed
		}
		return c.label(n, "label", text)
	default:
		return fmt.Errorf("veil: unknown action %s", a.Kind)
	}
}

func (c *Controller) label(n dom.Node, op, text string) error {
	created, err := n.EnsureOverlay(text)
	if err != nil {
		return c.check(op, n, err)
	}
	if created {
		return nil
	}
	return c.check(op, n, n.SetOverlayText(text))
}

func (c *Controller) check(op string, n dom.Node, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dom.ErrDetached) {
		c.logger.Debug("veil: node detached", "op", op, "anchor", n.Anchor().ID())
		return nil
	}
	return fmt.Errorf("veil: %s: %w", op, err)
}
