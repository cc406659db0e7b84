// Package site holds the per-platform adapters: where the content containers
// are, how to extract a record from one, and how to describe an item to the
// oracle. Adapters are plain data; the pipeline never branches on site.
package site

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/item"
)

// Adapter is the declarative description of one platform.
type Adapter struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Domains []string `yaml:"domains" json:"domains"`

	// Containers are the selectors of content nodes.
	Containers []string `yaml:"containers" json:"containers"`
	// Roots are candidate stable ancestors to scope the mutation
	// subscription, narrowest first. None found means the whole document.
	Roots []string `yaml:"roots" json:"roots"`

	Fields item.FieldSpec   `yaml:"fields" json:"fields"`
	Prompt classify.Subject `yaml:"prompt" json:"prompt"`

	// Settle delays extraction of nodes discovered through mutations so that
	// late media attributes can populate.
	Settle time.Duration `yaml:"settle" json:"settle"`
}

// MatchesHost reports whether host is one of the adapter's domains or a
// subdomain of one.
func (a *Adapter) MatchesHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for _, d := range a.Domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Validate checks the adapter is usable by the pipeline.
func (a *Adapter) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("site: adapter without id")
	}
	if len(a.Containers) == 0 {
		return fmt.Errorf("site: %s: no container selectors", a.ID)
	}
	if len(a.Fields.Title) == 0 && len(a.Fields.Author) == 0 {
		return fmt.Errorf("site: %s: no title or author locators", a.ID)
	}
	return nil
}

// Registry indexes adapters by id. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
}

// NewRegistry returns a registry holding the given adapters.
func NewRegistry(adapters ...*Adapter) *Registry {
	r := &Registry{adapters: make(map[string]*Adapter)}
	for _, a := range adapters {
		r.adapters[a.ID] = a
	}
	return r
}

// Default returns a registry with the built-in adapters.
func Default() *Registry {
	return NewRegistry(YouTube(), Twitter(), Reddit())
}

// Put adds or replaces an adapter after validating it.
func (r *Registry) Put(a *Adapter) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.adapters[a.ID] = a
	r.mu.Unlock()
	return nil
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detect returns the adapter whose domains cover host.
func (r *Registry) Detect(host string) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.idsLocked() {
		if a := r.adapters[id]; a.MatchesHost(host) {
			return a, true
		}
	}
	return nil, false
}

// DetectURL is Detect over the host of a URL.
func (r *Registry) DetectURL(raw string) (*Adapter, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	return r.Detect(u.Hostname())
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
