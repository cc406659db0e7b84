package settings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedveil/item"
)

// FileSite is one site entry of a settings file. Unset fields keep the
// site's defaults.
type FileSite struct {
	Enabled    *bool          `yaml:"enabled"`
	Preference *string        `yaml:"preference"`
	Cutoff     *float64       `yaml:"cutoff"`
	Containers []string       `yaml:"containers"`
	Fields     item.FieldSpec `yaml:"fields"`
}

// FileStore serves profiles from a YAML document:
//
//	goals: "..."
//	sites:
//	  youtube:
//	    cutoff: 70
//	    preference: "..."
type FileStore struct {
	Goals string              `yaml:"goals"`
	Sites map[string]FileSite `yaml:"sites"`
}

// LoadFile reads and validates a settings file.
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates a settings document.
func ParseFile(data []byte) (*FileStore, error) {
	var fs FileStore
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("settings: parse: %w", err)
	}
	for id := range fs.Sites {
		if err := fs.site(id).Validate(); err != nil {
			return nil, err
		}
	}
	return &fs, nil
}

// Profile implements Store.
func (fs *FileStore) Profile(_ context.Context, siteID string) (Profile, error) {
	s := fs.site(siteID)
	if err := s.Validate(); err != nil {
		return Profile{}, err
	}
	return Resolve(fs.Goals, s), nil
}

func (fs *FileStore) site(id string) Site {
	s := DefaultSite(id)
	fsite, ok := fs.Sites[id]
	if !ok {
		return s
	}
	if fsite.Enabled != nil {
		s.Enabled = *fsite.Enabled
	}
	if fsite.Preference != nil {
		s.Preference = *fsite.Preference
	}
	if fsite.Cutoff != nil {
		s.Cutoff = *fsite.Cutoff
	}
	if len(fsite.Containers) > 0 {
		s.Containers = fsite.Containers
	}
	s.Fields = fsite.Fields
	return s
}
