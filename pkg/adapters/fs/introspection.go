package fs

import (
	"sort"

	"github.com/aretw0/introspection"
)

// RepositoryState exposes internal state for observability.
type RepositoryState struct {
	Path           string   `json:"path"`
	SystemDir      string   `json:"system_dir"`
	Gitless        bool     `json:"gitless"`
	Heads          int      `json:"cached_heads"`
	Dispatching    bool     `json:"dispatching"`
	TransactionIDs []string `json:"active_transactions,omitempty"`
}

// State implements introspection.Introspectable.
func (r *Repository) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return RepositoryState{
		Path:           r.Path,
		SystemDir:      r.config.SystemDir,
		Gitless:        r.config.Gitless,
		Heads:          r.cache.Len(),
		Dispatching:    r.dispatcher != nil,
		TransactionIDs: ids,
	}
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string {
	return "repository"
}

var _ introspection.Introspectable = (*Repository)(nil)
var _ introspection.Component = (*Repository)(nil)
