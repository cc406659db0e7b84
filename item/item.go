// Package item defines the normalized record extracted from one content node
// and the declarative field locators used to build it.
package item

import "strings"

// MediaFlags records which kinds of media a content item carries.
type MediaFlags struct {
	HasImage bool `json:"has_image"`
	HasVideo bool `json:"has_video"`
	HasQuote bool `json:"has_quote"`
}

// ContentItem is the normalized facts about one content unit.
type ContentItem struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Author string     `json:"author"`
	Media  MediaFlags `json:"media"`

	// Gaps lists the fields that could not be located. Diagnostic only.
	Gaps []Field `json:"-"`
}

// Classifiable reports whether the item carries enough text to be judged.
// An item with neither title nor author is shown without scoring.
func (c ContentItem) Classifiable() bool {
	return strings.TrimSpace(c.Title) != "" || strings.TrimSpace(c.Author) != ""
}

// Field names a ContentItem field for gap reporting.
type Field string

const (
	FieldID     Field = "id"
	FieldTitle  Field = "title"
	FieldAuthor Field = "author"
)

// Locator finds one value inside a content node.
//
// Selector is evaluated relative to the node; an empty Selector targets the
// node itself. Attr reads an attribute instead of the text content. Pattern,
// when set, is a regular expression whose first capture group (or whole match)
// becomes the value.
type Locator struct {
	Selector string `yaml:"selector" json:"selector"`
	Attr     string `yaml:"attr,omitempty" json:"attr,omitempty"`
	Pattern  string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// FieldSpec is the per-site extraction recipe. Each locator list is a
// fallback chain tried in order; the first non-empty match wins.
type FieldSpec struct {
	ID     []Locator `yaml:"id" json:"id"`
	Title  []Locator `yaml:"title" json:"title"`
	Author []Locator `yaml:"author" json:"author"`

	// Media selectors: presence of any match sets the flag.
	Image []string `yaml:"image" json:"image"`
	Video []string `yaml:"video" json:"video"`
	Quote []string `yaml:"quote" json:"quote"`
}

// Selectors is a shorthand building a text locator chain from selectors.
func Selectors(sels ...string) []Locator {
	out := make([]Locator, len(sels))
	for i, s := range sels {
		out[i] = Locator{Selector: s}
	}
	return out
}

// Override returns s with every non-empty chain of o replacing its own.
func (s FieldSpec) Override(o FieldSpec) FieldSpec {
	if len(o.ID) > 0 {
		s.ID = o.ID
	}
	if len(o.Title) > 0 {
		s.Title = o.Title
	}
	if len(o.Author) > 0 {
		s.Author = o.Author
	}
	if len(o.Image) > 0 {
		s.Image = o.Image
	}
	if len(o.Video) > 0 {
		s.Video = o.Video
	}
	if len(o.Quote) > 0 {
		s.Quote = o.Quote
	}
	return s
}
