// Package settings supplies the per-site profile a session is activated
// with: whether the site is enabled, the user's goals, the visibility cutoff
// and optional selector overrides. Profiles are read once per activation;
// a changed profile takes effect when the session is re-activated.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/feedveil/item"
)

// DefaultGoals describes the user when nothing is configured.
const DefaultGoals = "A computer science undergrad looking to learn about tech and CS. " +
	"Show anything that is tech especially AI related and never approve content that is not related to those topics."

// DefaultCutoff is the probability at or below which items are obscured.
const DefaultCutoff = 60

// ErrInvalidCutoff rejects a cutoff outside [0,100].
var ErrInvalidCutoff = errors.New("settings: cutoff must be within [0,100]")

// Site is the stored configuration of one site.
type Site struct {
	ID         string         `yaml:"id" json:"id"`
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	Preference string         `yaml:"preference" json:"preference"`
	Cutoff     float64        `yaml:"cutoff" json:"cutoff"`
	Containers []string       `yaml:"containers,omitempty" json:"containers,omitempty"`
	Fields     item.FieldSpec `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Validate checks the stored values.
func (s Site) Validate() error {
	if s.ID == "" {
		return errors.New("settings: site id required")
	}
	if s.Cutoff < 0 || s.Cutoff > 100 {
		return fmt.Errorf("%w: %s has %v", ErrInvalidCutoff, s.ID, s.Cutoff)
	}
	return nil
}

// Profile is what a session runs with. Goals already includes the site's
// preference.
type Profile struct {
	SiteID     string         `json:"site_id"`
	Enabled    bool           `json:"enabled"`
	Goals      string         `json:"goals"`
	Cutoff     float64        `json:"cutoff"`
	Fields     item.FieldSpec `json:"fields"`
	Containers []string       `json:"containers,omitempty"`
}

// Store yields the profile for a site. Unknown sites get defaults.
type Store interface {
	Profile(ctx context.Context, siteID string) (Profile, error)
}

var siteDefaults = map[string]Site{
	"youtube": {
		ID: "youtube", Enabled: true, Cutoff: DefaultCutoff,
		Preference: "Show tech tutorials, educational content, and programming videos. " +
			"Hide entertainment, vlogs, and gaming content.",
	},
	"twitter": {
		ID: "twitter", Enabled: true, Cutoff: DefaultCutoff,
		Preference: "Show tweets showcasing new tech, things people have built, insightful posts of all kinds, " +
			"and high-effort high-quality content. Hide memes, toxic posts, scams, and tweets that add no value and are obvious.",
	},
	"reddit": {
		ID: "reddit", Enabled: true, Cutoff: DefaultCutoff,
		Preference: "Show posts about technology, programming, and computer science. " +
			"Hide political discussions, entertainment content, and off-topic posts.",
	},
}

// DefaultSite returns the built-in settings for a site id. Sites without
// built-in settings are enabled with no preference.
func DefaultSite(id string) Site {
	if s, ok := siteDefaults[id]; ok {
		return s
	}
	return Site{ID: id, Enabled: true, Cutoff: DefaultCutoff}
}

// Compose joins the global goals and a site preference.
func Compose(goals, preference string) string {
	goals = strings.TrimSpace(goals)
	if goals == "" {
		goals = DefaultGoals
	}
	preference = strings.TrimSpace(preference)
	if preference == "" {
		return goals
	}
	if !strings.HasSuffix(goals, ".") {
		goals += "."
	}
	return goals + " " + preference
}

// Resolve builds the Profile for stored site settings and global goals.
func Resolve(goals string, s Site) Profile {
	return Profile{
		SiteID:     s.ID,
		Enabled:    s.Enabled,
		Goals:      Compose(goals, s.Preference),
		Cutoff:     s.Cutoff,
		Fields:     s.Fields,
		Containers: s.Containers,
	}
}

// Static is a Store over fixed values, for tests and one-shot commands.
type Static struct {
	Goals string
	Sites map[string]Site
}

// Profile implements Store.
func (s Static) Profile(_ context.Context, siteID string) (Profile, error) {
	site, ok := s.Sites[siteID]
	if !ok {
		site = DefaultSite(siteID)
	}
	if site.ID == "" {
		site.ID = siteID
	}
	if err := site.Validate(); err != nil {
		return Profile{}, err
	}
	return Resolve(s.Goals, site), nil
}
