package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/introspection"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/dispatch"
	"github.com/aretw0/autoversion/pkg/metrics"
	"github.com/aretw0/autoversion/pkg/schema"
)

// Engine is an auto-versioning vault: the filesystem repository with the
// dispatcher attached to its transactions.
type Engine struct {
	Repository *fs.Repository
	Dispatcher *dispatch.Dispatcher
	Schema     *schema.Registry

	versions core.VersionStore
	watcher  *schema.Watcher
	logger   *slog.Logger
}

// Historian lists the versions of a node, oldest first.
type Historian interface {
	History(ctx context.Context, ref core.NodeRef) ([]core.Version, error)
}

// New opens the vault at path and wires the engine.
//
//	engine, err := autoversion.New("./vault", autoversion.WithAutoInit(true))
func New(path string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	settings, err := resolveSettings(o)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	registry := schema.NewRegistry(o.modelsDir, schema.WithLogger(o.logger))
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	repo := openFS(abs, registry, o)
	if err := repo.Initialize(context.Background()); err != nil {
		return nil, err
	}

	nodes, locks, versions := services(repo, o)
	dopts := []dispatch.Option{
		dispatch.WithLogger(o.logger),
		dispatch.WithResolver(registry),
	}
	if o.metrics {
		dopts = append(dopts, dispatch.WithObserver(metrics.NewObserver(o.registerer)))
	}
	d, err := dispatch.New(settings, dispatch.Services{
		Nodes:    nodes,
		Locks:    locks,
		Versions: versions,
		Auth:     o.auth,
	}, dopts...)
	if err != nil {
		return nil, err
	}

	registry.AddListener(d)
	repo.SetDispatcher(d)

	e := &Engine{
		Repository: repo,
		Dispatcher: d,
		Schema:     registry,
		versions:   versions,
		logger:     o.logger,
	}
	if o.watchModels && o.modelsDir != "" {
		e.watcher = schema.NewWatcher(registry, o.onWatchError)
	}
	return e, nil
}

func resolveSettings(o *options) (config.Settings, error) {
	if o.settings != nil {
		return *o.settings, nil
	}
	return config.Load(o.configPath)
}

// Begin starts a transaction on the vault.
func (e *Engine) Begin(ctx context.Context) (*fs.Transaction, error) {
	return e.Repository.Begin(ctx)
}

// History lists the versions of ref from whichever store keeps them.
func (e *Engine) History(ctx context.Context, ref core.NodeRef) ([]core.Version, error) {
	h, ok := e.versions.(Historian)
	if !ok {
		return nil, fmt.Errorf("version store %T cannot list histories", e.versions)
	}
	return h.History(ctx, ref)
}

// Start runs the background workers, currently the model watcher.
func (e *Engine) Start(ctx context.Context) error {
	if e.watcher == nil {
		return nil
	}
	if err := e.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start schema watcher: %w", err)
	}
	e.logger.Debug("schema watcher started", "dir", e.Schema.Dir())
	return nil
}

// Stop ends the background workers.
func (e *Engine) Stop(ctx context.Context) error {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Stop(ctx)
}

// EngineState aggregates the state of the engine's components.
type EngineState struct {
	Repository any `json:"repository"`
	Dispatcher any `json:"dispatcher"`
	Schema     any `json:"schema"`
	Watcher    any `json:"watcher,omitempty"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	s := EngineState{
		Repository: e.Repository.State(),
		Dispatcher: e.Dispatcher.State(),
		Schema:     e.Schema.State(),
	}
	if e.watcher != nil {
		s.Watcher = e.watcher.State()
	}
	return s
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
