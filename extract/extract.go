// Package extract turns a content node into an item.ContentItem using a
// site's declarative FieldSpec.
//
// Extraction is read-only and total: a locator that finds nothing leaves its
// field empty and records a gap, and the remaining fields are still
// extracted. An empty record is a valid result.
package extract

import (
	"html"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/feedveil/dom"
	"github.com/hazyhaar/feedveil/item"
)

// MaxFieldRunes caps each extracted text field.
const MaxFieldRunes = 1000

var (
	strict   = bluemonday.StrictPolicy()
	patterns sync.Map // string -> *regexp.Regexp, or error for invalid patterns
)

// Item extracts a ContentItem from n. It never panics: a backend failure in
// the middle of extraction yields the fields gathered so far.
func Item(n dom.Node, spec item.FieldSpec) (it item.ContentItem) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extract: recovered from backend panic", "panic", r)
		}
	}()

	var ok bool
	if it.ID, ok = First(n, spec.ID); !ok {
		it.Gaps = append(it.Gaps, item.FieldID)
	}
	if it.Title, ok = First(n, spec.Title); !ok {
		it.Gaps = append(it.Gaps, item.FieldTitle)
	}
	if it.Author, ok = First(n, spec.Author); !ok {
		it.Gaps = append(it.Gaps, item.FieldAuthor)
	}

	it.Media.HasImage = present(n, spec.Image)
	it.Media.HasVideo = present(n, spec.Video)
	it.Media.HasQuote = present(n, spec.Quote)
	return it
}

// First walks a fallback chain and returns the first non-empty value.
func First(n dom.Node, chain []item.Locator) (string, bool) {
	for _, loc := range chain {
		if v := locate(n, loc); v != "" {
			return v, true
		}
	}
	return "", false
}

func locate(n dom.Node, loc item.Locator) string {
	targets := []dom.Node{n}
	if loc.Selector != "" {
		targets = n.QueryAll(loc.Selector)
	}
	for _, t := range targets {
		var raw string
		if loc.Attr != "" {
			raw, _ = t.Attr(loc.Attr)
		} else {
			raw = t.Text()
		}
		v := clean(raw)
		if v == "" {
			continue
		}
		if loc.Pattern != "" {
			v = match(loc.Pattern, v)
		}
		if v != "" {
			return v
		}
	}
	return ""
}

func present(n dom.Node, selectors []string) bool {
	for _, s := range selectors {
		if len(n.QueryAll(s)) > 0 {
			return true
		}
	}
	return false
}

// clean strips markup smuggled into attribute or text values, collapses
// whitespace and caps the length.
func clean(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>&") {
		s = html.UnescapeString(strict.Sanitize(s))
	}
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxFieldRunes {
		r := []rune(s)
		s = string(r[:MaxFieldRunes])
	}
	return s
}

// match applies pattern to v and returns the first capture group, or the
// whole match when the pattern has no group. Invalid patterns match nothing.
func match(pattern, v string) string {
	re := compile(pattern)
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	default:
		return m[0]
	}
}

func compile(pattern string) *regexp.Regexp {
	if v, ok := patterns.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("extract: invalid locator pattern", "pattern", pattern, "error", err)
		patterns.Store(pattern, err)
		return nil
	}
	patterns.Store(pattern, re)
	return re
}
