package platform

import (
	"sort"
	"strings"

	"post-planner-bot/internal/domain"
)

// Registry resolves platform adapters by identifier.
type Registry struct {
	adapters map[string]domain.PlatformAdapter
}

var _ domain.PlatformDirectory = (*Registry)(nil)

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...domain.PlatformAdapter) *Registry {
	r := &Registry{adapters: make(map[string]domain.PlatformAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Adapter returns the adapter for the platform identifier.
func (r *Registry) Adapter(name string) (domain.PlatformAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names lists registered platform identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WebhooksFromSpec builds webhook adapters from a "name=url" list
// separated by commas, e.g. "mastodon=https://bridge/post,x=https://x-bridge/post".
func WebhooksFromSpec(spec, token string) []domain.PlatformAdapter {
	var adapters []domain.PlatformAdapter
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		endpoint = strings.TrimSpace(endpoint)
		if !ok || name == "" || endpoint == "" {
			continue
		}
		adapters = append(adapters, NewWebhook(name, endpoint, token))
	}
	return adapters
}
