package site

import (
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/item"
)

// YouTube covers home, search, sidebar and end-screen video tiles.
func YouTube() *Adapter {
	return &Adapter{
		ID:      "youtube",
		Name:    "YouTube",
		Domains: []string{"youtube.com"},
		Containers: []string{
			"ytd-rich-item-renderer",
			"ytd-compact-video-renderer",
			"ytp-videowall-still",
		},
		Roots: []string{"ytd-app #content", "ytd-app"},
		Fields: item.FieldSpec{
			ID: []item.Locator{
				{Selector: "a#video-title-link", Attr: "href", Pattern: `[?&]v=([\w-]+)`},
				{Selector: "a#video-title", Attr: "href", Pattern: `[?&]v=([\w-]+)`},
				{Selector: "a#thumbnail", Attr: "href", Pattern: `[?&]v=([\w-]+)`},
				{Selector: "a[href*='watch?v=']", Attr: "href", Pattern: `[?&]v=([\w-]+)`},
			},
			Title:  item.Selectors("#video-title", "a#video-title", ".title a", ".title"),
			Author: item.Selectors("#channel-name a", ".ytd-channel-name a", "#channel-name"),
			Image:  []string{"img"},
		},
		Prompt: classify.Subject{Noun: "YouTube video", TitleLabel: "Title", AuthorLabel: "Channel"},
	}
}

// Twitter covers timeline, reply and quote tweets on twitter.com and x.com.
func Twitter() *Adapter {
	return &Adapter{
		ID:         "twitter",
		Name:       "Twitter/X",
		Domains:    []string{"twitter.com", "x.com"},
		Containers: []string{`article[data-testid="tweet"]`},
		Roots: []string{
			`main[role="main"]`,
			`div[data-testid="primaryColumn"]`,
			"#react-root",
		},
		Fields: item.FieldSpec{
			ID: []item.Locator{
				{Selector: `a[href*="/status/"]`, Attr: "href", Pattern: `/status/(\d+)`},
			},
			Title: item.Selectors(`div[data-testid="tweetText"]`),
			Author: item.Selectors(
				`div[data-testid="User-Name"] + div a div`,
				`div[data-testid="User-Name"] ~ div div[dir="ltr"] span`,
				`div[data-testid="User-Name"] a[href^="/"] span`,
				`div[data-testid="User-Name"] div[dir="ltr"] span span`,
			),
			Image: []string{`img[src*="https://pbs.twimg.com/media/"]`},
			Video: []string{"video", `div[data-testid="videoPlayer"]`},
			Quote: []string{`div.css-175oi2r.r-9aw3ui > div > div > div.css-175oi2r > div[dir="ltr"]`},
		},
		Prompt: classify.Subject{Noun: "tweet", TitleLabel: "Content", AuthorLabel: "Username"},
		Settle: 500 * time.Millisecond,
	}
}

// Reddit covers the redesign post cards.
func Reddit() *Adapter {
	return &Adapter{
		ID:         "reddit",
		Name:       "Reddit",
		Domains:    []string{"reddit.com"},
		Containers: []string{".Post", "shreddit-post"},
		Fields: item.FieldSpec{
			ID: []item.Locator{
				{Attr: "id"},
				{Attr: "permalink", Pattern: `/comments/(\w+)`},
			},
			Title: []item.Locator{
				{Selector: ".PostTitle"},
				{Attr: "post-title"},
				{Selector: "h3"},
			},
			Author: []item.Locator{
				{Selector: ".PostAuthor"},
				{Attr: "author"},
			},
			Image: []string{"img"},
			Video: []string{"video", "shreddit-player"},
		},
		Prompt: classify.Subject{Noun: "Reddit post", TitleLabel: "Title", AuthorLabel: "Author"},
	}
}
