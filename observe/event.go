package observe

import (
	"time"

	"github.com/hazyhaar/feedveil/policy"
)

// Outcome is how one node pipeline ended.
type Outcome string

const (
	OutcomeScored         Outcome = "scored"
	OutcomeFailed         Outcome = "failed"
	OutcomeUnclassifiable Outcome = "unclassifiable"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeDiscarded      Outcome = "discarded" // result arrived for a detached node
)

// Event describes one node pipeline outcome. It is diagnostic only.
type Event struct {
	Session     string
	Site        string
	ItemID      string
	Outcome     Outcome
	Action      policy.Kind
	Probability float64
	FailureKind string
	Error       string
	Latency     time.Duration
	Batch       bool
	At          time.Time
}

// Recorder receives pipeline events. Record must not block for long; it is
// called from node pipelines.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

// Record calls f.
func (f RecorderFunc) Record(e Event) { f(e) }

// Recorders fans events out to several recorders. Nil entries are skipped.
func Recorders(rs ...Recorder) Recorder {
	var live []Recorder
	for _, r := range rs {
		if r != nil {
			live = append(live, r)
		}
	}
	return RecorderFunc(func(e Event) {
		for _, r := range live {
			r.Record(e)
		}
	})
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
