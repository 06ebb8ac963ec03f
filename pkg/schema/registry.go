// Package schema is the dictionary the engine resolves prefixed names
// against. Models are YAML files declaring namespaces:
//
//	name: acme
//	namespaces:
//	  - prefix: acme
//	    uri: http://acme.example/model/1.0
//
// Every (re)load notifies the registered listeners, which re-resolve their
// prefixed configuration.
package schema

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/introspection"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/autoversion/pkg/core"
)

// DefaultPattern selects model files inside the models directory.
const DefaultPattern = "**/*.{yaml,yml}"

// Namespace binds a prefix to a URI.
type Namespace struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	URI    string `yaml:"uri" json:"uri"`
}

// Model is the content of one model file.
type Model struct {
	Name       string      `yaml:"name"`
	Namespaces []Namespace `yaml:"namespaces"`
}

// Listener is notified after the schema has been (re)loaded.
type Listener interface {
	AfterSchemaInit(resolver core.NamespaceResolver)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(resolver core.NamespaceResolver)

// AfterSchemaInit implements Listener.
func (f ListenerFunc) AfterSchemaInit(resolver core.NamespaceResolver) {
	f(resolver)
}

// Builtins are always registered.
var Builtins = []Namespace{
	{Prefix: "", URI: ""},
	{Prefix: core.ContentModelPrefix, URI: core.ContentModelURI},
	{Prefix: core.SystemModelPrefix, URI: core.SystemModelURI},
}

// Registry is a reloadable prefix/URI map. It is safe for concurrent use.
type Registry struct {
	dir     string
	pattern string
	logger  *slog.Logger

	mu        sync.RWMutex
	prefixes  map[string]string // prefix -> uri
	uris      map[string]string // uri -> prefix
	models    []string
	listeners []Listener
	loads     int
	lastLoad  *time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPattern overrides DefaultPattern.
func WithPattern(pattern string) Option {
	return func(r *Registry) {
		r.pattern = pattern
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry reading model files from dir. An empty dir
// means builtins only.
func NewRegistry(dir string, opts ...Option) *Registry {
	r := &Registry{
		dir:     dir,
		pattern: DefaultPattern,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r.prefixes, r.uris = index(Builtins)
	return r
}

// Dir returns the models directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Pattern returns the model file pattern.
func (r *Registry) Pattern() string {
	return r.pattern
}

// AddListener registers l for future loads.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Load re-reads every model file and notifies listeners. On error the
// previous namespaces stay in effect and no listener is called.
func (r *Registry) Load() error {
	namespaces := append([]Namespace(nil), Builtins...)
	var models []string

	if r.dir != "" {
		matches, err := doublestar.Glob(os.DirFS(r.dir), r.pattern)
		if err != nil {
			return fmt.Errorf("failed to list models in %s: %w", r.dir, err)
		}
		sort.Strings(matches)

		for _, rel := range matches {
			m, err := readModel(filepath.Join(r.dir, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			namespaces = append(namespaces, m.Namespaces...)
			models = append(models, rel)
		}
	}

	prefixes, uris := index(namespaces)
	now := time.Now()

	r.mu.Lock()
	r.prefixes = prefixes
	r.uris = uris
	r.models = models
	r.loads++
	r.lastLoad = &now
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Info("schema loaded", "models", len(models), "namespaces", len(prefixes))

	for _, l := range listeners {
		l.AfterSchemaInit(r)
	}
	return nil
}

func readModel(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("failed to read model %s: %w", path, err)
	}
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Model{}, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	return m, nil
}

func index(namespaces []Namespace) (map[string]string, map[string]string) {
	prefixes := make(map[string]string, len(namespaces))
	uris := make(map[string]string, len(namespaces))
	for _, ns := range namespaces {
		prefixes[ns.Prefix] = ns.URI
		if _, taken := uris[ns.URI]; !taken {
			uris[ns.URI] = ns.Prefix
		}
	}
	return prefixes, uris
}

// NamespaceURI implements core.NamespaceResolver.
func (r *Registry) NamespaceURI(prefix string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uri, ok := r.prefixes[prefix]
	return uri, ok
}

// Prefix returns the prefix registered for uri.
func (r *Registry) Prefix(uri string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix, ok := r.uris[uri]
	return prefix, ok
}

// Prefixed renders q as "prefix:local", falling back to Clark notation for
// unknown namespaces.
func (r *Registry) Prefixed(q core.QName) string {
	prefix, ok := r.Prefix(q.Namespace)
	if !ok {
		return q.String()
	}
	if prefix == "" {
		return q.Local
	}
	return prefix + ":" + q.Local
}

// Resolve parses a prefixed name against the registry.
func (r *Registry) Resolve(name string) (core.QName, error) {
	return core.ParseQName(name, r)
}

// RegistryState exposes internal state for observability.
type RegistryState struct {
	Dir        string            `json:"dir"`
	Pattern    string            `json:"pattern"`
	Models     []string          `json:"models"`
	Namespaces map[string]string `json:"namespaces"`
	Listeners  int               `json:"listeners"`
	Loads      int               `json:"loads"`
	LastLoad   *time.Time        `json:"last_load,omitempty"`
}

// State implements introspection.Introspectable.
func (r *Registry) State() any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	namespaces := make(map[string]string, len(r.prefixes))
	for p, u := range r.prefixes {
		namespaces[p] = u
	}
	return RegistryState{
		Dir:        r.dir,
		Pattern:    r.pattern,
		Models:     append([]string(nil), r.models...),
		Namespaces: namespaces,
		Listeners:  len(r.listeners),
		Loads:      r.loads,
		LastLoad:   r.lastLoad,
	}
}

// ComponentType implements introspection.Component.
func (r *Registry) ComponentType() string {
	return "schema"
}

var _ introspection.Introspectable = (*Registry)(nil)
var _ introspection.Component = (*Registry)(nil)
var _ core.NamespaceResolver = (*Registry)(nil)
