package collector

import (
	"sort"

	"github.com/cwygoda/collector/internal/domain"
)

// Registry holds the collectors by catalog name.
type Registry struct {
	collectors map[string]domain.Collector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]domain.Collector)}
}

// Register adds a collector, replacing any with the same name.
func (r *Registry) Register(c domain.Collector) {
	r.collectors[c.Name()] = c
}

// Lookup returns the collector for name, or nil.
func (r *Registry) Lookup(name string) domain.Collector {
	return r.collectors[name]
}

// Has reports whether a collector is registered for name.
func (r *Registry) Has(name string) bool {
	_, ok := r.collectors[name]
	return ok
}

// Names returns the registered catalog names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultPages returns the page count configured for name's catalog, or 0.
func (r *Registry) DefaultPages(name string) int {
	if c, ok := r.collectors[name].(interface{ DefaultPages() int }); ok {
		return c.DefaultPages()
	}
	return 0
}
