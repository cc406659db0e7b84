// Package classify is the boundary between the pipeline and the external
// scoring oracle. The Gateway turns raw oracle completions into one Score per
// input item, and converts every way the oracle can misbehave (transport
// errors, malformed or out-of-schema payloads, missing entries) into an
// explicit Failure rather than an error the caller has to handle.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/feedveil/item"
)

// Subject tells the oracle what kind of item it is judging.
type Subject struct {
	Noun        string `yaml:"noun" json:"noun"`                 // "YouTube video"
	TitleLabel  string `yaml:"title_label" json:"title_label"`   // "Title"
	AuthorLabel string `yaml:"author_label" json:"author_label"` // "Channel"
}

// DefaultSubject is used when a site declares none.
var DefaultSubject = Subject{Noun: "content item", TitleLabel: "Title", AuthorLabel: "Author"}

// Record is what the oracle sees of one item.
type Record struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Author string          `json:"author"`
	Media  item.MediaFlags `json:"media"`
}

// Oracle is the scoring collaborator. Implementations return the raw
// completion text; an error means the call itself failed (network, timeout,
// non-2xx) and is treated exactly like an absent result.
type Oracle interface {
	AnalyzeOne(ctx context.Context, goals string, subject Subject, rec Record) (string, error)
	AnalyzeBatch(ctx context.Context, goals string, subject Subject, recs []Record) (string, error)
}

// FailureKind separates failure causes for logs and metrics. The decision
// policy treats all kinds alike.
type FailureKind int

const (
	TransportFailure FailureKind = iota + 1
	SchemaFailure
)

func (k FailureKind) String() string {
	switch k {
	case TransportFailure:
		return "transport"
	case SchemaFailure:
		return "schema"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Failure marks a Score without a usable probability.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("classify: %s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ErrNoResult is the cause of a Failure synthesized for an item the oracle's
// batch response did not cover.
var ErrNoResult = errors.New("no result for item")

// ErrFlagged is the cause of a Failure for an item the oracle reported as
// unscorable (error: true, or no probability).
var ErrFlagged = errors.New("oracle flagged item")

// Score is the outcome for one item: a probability in [0,100], or a Failure.
type Score struct {
	ID          string
	Probability float64
	Failure     *Failure
}

// OK reports whether the score carries a probability.
func (s Score) OK() bool { return s.Failure == nil }

// Fail builds a failed Score.
func Fail(id string, kind FailureKind, err error) Score {
	return Score{ID: id, Failure: &Failure{Kind: kind, Err: err}}
}

// FromItem builds the oracle record for an item.
func FromItem(it item.ContentItem) Record {
	return Record{ID: it.ID, Title: it.Title, Author: it.Author, Media: it.Media}
}
