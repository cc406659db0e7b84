package oracle

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/item"
)

const singleExample = `EXAMPLE RESPONSE:
{
    "probability": 85
}`

const batchExample = `EXAMPLE RESPONSE:
[
    {"id": "item1", "probability": 85},
    {"id": "item2", "probability": 30}
]`

// SinglePrompt builds the prompt for one record.
func SinglePrompt(goals string, s classify.Subject, r classify.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are analyzing %s %s for a user who wants to %s.\n", article(s.Noun), s.Noun, goals)
	fmt.Fprintf(&b, "The %s %s is %q and the %s is %q.\n",
		s.Noun, strings.ToLower(s.TitleLabel), r.Title, strings.ToLower(s.AuthorLabel), r.Author)
	if m := media(r.Media); m != "" {
		fmt.Fprintf(&b, "It %s.\n", m)
	}
	fmt.Fprintf(&b, "Estimate the probability (0-100%%) that this %s will help the user achieve their goals and not waste their time.\n", s.Noun)
	b.WriteString("Provide a \"probability\" as a number.\n\n")
	b.WriteString(singleExample)
	return b.String()
}

// BatchPrompt builds the prompt for several records. Records are numbered
// from 1 and each carries its id so the response can be correlated.
func BatchPrompt(goals string, s classify.Subject, recs []classify.Record) string {
	var b strings.Builder
	plural := s.Noun + "s"
	fmt.Fprintf(&b, "You are analyzing %d %s for a user who wants to %s.\n", len(recs), plural, goals)
	fmt.Fprintf(&b, "For each %s, estimate the probability (0-100%%) that it will help the user achieve their goals and not waste their time.\n\n", s.Noun)
	fmt.Fprintf(&b, "Here are the %s:\n", plural)
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Item %d:\n", i+1)
		fmt.Fprintf(&b, "- %s: %q\n", s.TitleLabel, r.Title)
		fmt.Fprintf(&b, "- %s: %q\n", s.AuthorLabel, r.Author)
		if m := media(r.Media); m != "" {
			fmt.Fprintf(&b, "- Media: %s\n", m)
		}
		fmt.Fprintf(&b, "- ID: %q\n", r.ID)
	}
	fmt.Fprintf(&b, "\nProvide a JSON array with the analysis results for each %s. Include the ID and probability for each.\n\n", s.Noun)
	b.WriteString(batchExample)
	return b.String()
}

func article(noun string) string {
	if noun != "" && strings.ContainsRune("aeiouAEIOU", rune(noun[0])) {
		return "an"
	}
	return "a"
}

func media(m item.MediaFlags) string {
	var parts []string
	if m.HasImage {
		parts = append(parts, "an image")
	}
	if m.HasVideo {
		parts = append(parts, "a video")
	}
	if m.HasQuote {
		parts = append(parts, "a quoted post")
	}
	if len(parts) == 0 {
		return ""
	}
	return "contains " + strings.Join(parts, " and ")
}
