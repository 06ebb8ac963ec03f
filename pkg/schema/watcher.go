package schema

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aretw0/lifecycle"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Registry whenever one of its model files changes.
type Watcher struct {
	*worker.BaseWorker
	registry *Registry
	watcher  *fsnotify.Watcher
	onError  func(error)
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the registry's models directory. onError
// may be nil; failed reloads are logged either way.
func NewWatcher(registry *Registry, onError func(error)) *Watcher {
	return &Watcher{
		BaseWorker: worker.NewBaseWorker("schema-watcher"),
		registry:   registry,
		onError:    onError,
	}
}

// Start begins watching. It fails when the registry has no models directory.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if w.registry.Dir() == "" {
		return fmt.Errorf("schema registry has no models directory to watch")
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("schema watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.registry.Dir()); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.registry.Dir(), err)
	}
	w.watcher = watcher

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

// Stop ends the watch loop.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

// State implements worker.Worker.
func (w *Watcher) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"dir":               w.registry.Dir(),
		}
	})
}

// matches reports whether a filesystem event concerns a model file.
func (w *Watcher) matches(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	rel, err := filepath.Rel(w.registry.Dir(), event.Name)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(w.registry.Pattern(), filepath.ToSlash(rel))
	return err == nil && ok
}

func (w *Watcher) reload(ctx context.Context) {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		if err := w.registry.Load(); err != nil {
			w.registry.logger.Error("schema reload failed", "error", err)
			if w.onError != nil {
				w.onError(err)
			}
			return err
		}
		return nil
	}, lifecycle.WithErrorHandler(func(err error) {
		w.registry.logger.Error("schema reload panic", "error", err)
	}))
}

func (w *Watcher) run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if w.matches(event) {
				w.registry.logger.Debug("model changed", "path", event.Name, "op", event.Op.String())
				w.reload(ctx)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.registry.logger.Error("fsnotify error", "error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}
