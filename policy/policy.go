// Package policy maps a score to a visibility action. It is fail-open: an
// item the oracle could not judge stays visible, with a label saying so.
package policy

import (
	"fmt"

	"github.com/hazyhaar/feedveil/classify"
)

// Kind is what happens to a node's visibility.
type Kind int

const (
	Reveal Kind = iota
	Obscure
	ShowWithLabel
)

func (k Kind) String() string {
	switch k {
	case Reveal:
		return "reveal"
	case Obscure:
		return "obscure"
	case ShowWithLabel:
		return "label"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FailedLabel is shown on items whose classification failed.
const FailedLabel = "classification failed"

// DefaultCutoff is used when a profile carries none.
const DefaultCutoff = 60

// Action is a visibility decision. Label is only meaningful for
// ShowWithLabel; an empty label on Obscure means the controller's default.
type Action struct {
	Kind  Kind
	Label string
}

// Decide applies the threshold. A probability equal to the cutoff obscures.
func Decide(s classify.Score, cutoff float64) Action {
	if !s.OK() {
		return Action{Kind: ShowWithLabel, Label: FailedLabel}
	}
	if s.Probability > cutoff {
		return Action{Kind: Reveal}
	}
	return Action{Kind: Obscure}
}

// Unscored is the action for an item with nothing to judge.
func Unscored() Action { return Action{Kind: Reveal} }
