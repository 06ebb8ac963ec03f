// Package dispatch routes repository lifecycle events to the change
// classifier and turns its decisions into version store calls.
//
// A Dispatcher is shared by every unit of work of a repository. Per unit of
// work state (the dedup set and the re-entrancy guard) lives on the
// *uow.UnitOfWork handed to each call, never on the Dispatcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/policy"
	"github.com/aretw0/autoversion/pkg/uow"
)

// Services are the repository collaborators the dispatcher consumes.
type Services struct {
	Nodes    core.NodeStore
	Locks    core.LockService
	Versions core.VersionStore

	// Auth defaults to an auth.Authenticator with the default system user.
	Auth core.Authenticator
	// Messages defaults to policy.DefaultMessages.
	Messages core.MessageSource
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithObserver registers an observer for dispatch outcomes.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithClock replaces time.Now for the association throttle.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithResolver resolves the exclusion lists at construction time instead of
// waiting for the first AfterSchemaInit.
func WithResolver(resolver core.NamespaceResolver) Option {
	return func(d *Dispatcher) {
		d.resolver = resolver
	}
}

// Dispatcher is the event router. It is safe for concurrent use as long as
// each unit of work is driven by a single goroutine.
type Dispatcher struct {
	settings config.Settings
	nodes    core.NodeStore
	locks    core.LockService
	versions core.VersionStore
	auth     core.Authenticator
	messages core.MessageSource
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	resolver core.NamespaceResolver

	classifier atomic.Pointer[policy.Classifier]
	dropped    atomic.Pointer[[]string]

	created    atomic.Int64
	skipped    atomic.Int64
	duplicates atomic.Int64
	deletions  atomic.Int64
}

// New creates a Dispatcher. Until the schema is initialised (AfterSchemaInit
// or WithResolver) the exclusion sets are empty.
func New(settings config.Settings, svc Services, opts ...Option) (*Dispatcher, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if svc.Nodes == nil || svc.Locks == nil || svc.Versions == nil {
		return nil, errors.New("dispatch: node store, lock service and version store are required")
	}

	d := &Dispatcher{
		settings: settings,
		nodes:    svc.Nodes,
		locks:    svc.Locks,
		versions: svc.Versions,
		auth:     svc.Auth,
		messages: svc.Messages,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.auth == nil {
		d.auth = auth.NewAuthenticator(auth.SystemUser, d.logger)
	}
	if d.messages == nil {
		d.messages = policy.DefaultMessages
	}

	d.classifier.Store(policy.NewClassifier(d.baseRules()))
	d.dropped.Store(&[]string{})

	if !settings.EnableAutoVersioning {
		d.logger.Info("auto-versioning is disabled, lifecycle events will be ignored")
	}
	if d.resolver != nil {
		d.AfterSchemaInit(d.resolver)
	}
	return d, nil
}

// Settings returns the settings the dispatcher was built with.
func (d *Dispatcher) Settings() config.Settings {
	return d.settings
}

// Enabled reports whether events are processed at all.
func (d *Dispatcher) Enabled() bool {
	return d.settings.EnableAutoVersioning
}

// Classifier returns the classifier currently in effect.
func (d *Dispatcher) Classifier() *policy.Classifier {
	return d.classifier.Load()
}

func (d *Dispatcher) baseRules() policy.Rules {
	mode := policy.DiffLegacy
	if d.settings.CustomDiffMode {
		mode = policy.DiffStrict
	}
	return policy.Rules{
		Mode:                         mode,
		AutoVersionAssociations:      d.settings.AutoVersionAssociations,
		AutoVersionChildAssociations: d.settings.AutoVersionChildAssociations,
		AssociationDelaySeconds:      d.settings.AssociationDelaySeconds,
	}
}

// AfterSchemaInit re-resolves the configured exclusion lists and swaps in a
// new classifier. Entries that do not resolve are dropped. It implements
// schema.Listener.
func (d *Dispatcher) AfterSchemaInit(resolver core.NamespaceResolver) {
	var dropped []string
	resolve := func(setting string, names []string) core.QNameSet {
		set := make(core.QNameSet, len(names))
		for _, name := range names {
			q, err := core.ParseQName(name, resolver)
			if err != nil {
				d.logger.Debug("dropping exclusion entry", "setting", setting, "entry", name, "error", err)
				dropped = append(dropped, name)
				continue
			}
			set[q] = struct{}{}
		}
		return set
	}

	rules := d.baseRules()
	rules.ExcludedProperties = resolve("excluded_update_properties", d.settings.ExcludedUpdateProperties)
	rules.ExcludedAssociationTypes = resolve("excluded_association_types", d.settings.ExcludedAssociationTypes)
	rules.ExcludedChildAssociationTypes = resolve("excluded_child_association_types", d.settings.ExcludedChildAssociationTypes)

	d.classifier.Store(policy.NewClassifier(rules))
	if dropped == nil {
		dropped = []string{}
	}
	d.dropped.Store(&dropped)
}

// Dispatch is the single entry point: it routes e to the handler of its kind.
func (d *Dispatcher) Dispatch(ctx context.Context, u *uow.UnitOfWork, e core.Event) error {
	if u == nil {
		return core.ErrNoUnitOfWork
	}
	switch e.Kind {
	case core.EventBeforeAddAspect:
		return d.BeforeAddAspect(ctx, u, e.Ref, e.Aspect)
	case core.EventAspectAdded:
		return d.OnAddAspect(ctx, u, e.Ref, e.Aspect)
	case core.EventAspectRemoved:
		return d.OnRemoveAspect(ctx, u, e.Ref, e.Aspect)
	case core.EventContentUpdated:
		return d.OnContentUpdate(ctx, u, e.Ref, e.NewContent)
	case core.EventPropertiesUpdated:
		return d.OnUpdateProperties(ctx, u, e.Ref, e.Before, e.After)
	case core.EventAssociationCreated:
		return d.OnCreateAssociation(ctx, u, e.Association)
	case core.EventAssociationDeleted:
		return d.OnDeleteAssociation(ctx, u, e.Association)
	case core.EventChildAssociationCreated:
		return d.OnCreateChildAssociation(ctx, u, e.Association)
	case core.EventChildAssociationDeleted:
		return d.OnDeleteChildAssociation(ctx, u, e.Association)
	case core.EventNodeDeleted:
		return d.OnDeleteNode(ctx, u, e.Ref, e.Archived)
	case core.EventVersionCreated:
		if e.Version == nil {
			return fmt.Errorf("version_created event for %s carries no version", e.Ref)
		}
		return d.AfterCreateVersion(ctx, u, e.Ref, *e.Version)
	}
	return fmt.Errorf("unknown event kind %d", e.Kind)
}

// CopyProperties returns the properties a copy of a versionable node keeps.
func (d *Dispatcher) CopyProperties(props core.Properties) core.Properties {
	return policy.CopyProperties(props)
}

// DispatcherState exposes internal state for observability.
type DispatcherState struct {
	Enabled                       bool     `json:"enabled"`
	DiffMode                      string   `json:"diff_mode"`
	AutoVersionAssociations       bool     `json:"auto_version_associations"`
	AutoVersionChildAssociations  bool     `json:"auto_version_child_associations"`
	AssociationDelaySeconds       int64    `json:"association_delay_seconds"`
	ExcludedProperties            []string `json:"excluded_properties"`
	ExcludedAssociationTypes      []string `json:"excluded_association_types"`
	ExcludedChildAssociationTypes []string `json:"excluded_child_association_types"`
	DroppedEntries                []string `json:"dropped_entries"`
	VersionsCreated               int64    `json:"versions_created"`
	Skipped                       int64    `json:"skipped"`
	Duplicates                    int64    `json:"duplicates"`
	HistoryDeletions              int64    `json:"history_deletions"`
}

// State implements introspection.Introspectable.
func (d *Dispatcher) State() any {
	rules := d.classifier.Load().Rules()
	return DispatcherState{
		Enabled:                       d.settings.EnableAutoVersioning,
		DiffMode:                      rules.Mode.String(),
		AutoVersionAssociations:       rules.AutoVersionAssociations,
		AutoVersionChildAssociations:  rules.AutoVersionChildAssociations,
		AssociationDelaySeconds:       rules.AssociationDelaySeconds,
		ExcludedProperties:            sorted(rules.ExcludedProperties),
		ExcludedAssociationTypes:      sorted(rules.ExcludedAssociationTypes),
		ExcludedChildAssociationTypes: sorted(rules.ExcludedChildAssociationTypes),
		DroppedEntries:                append([]string(nil), *d.dropped.Load()...),
		VersionsCreated:               d.created.Load(),
		Skipped:                       d.skipped.Load(),
		Duplicates:                    d.duplicates.Load(),
		HistoryDeletions:              d.deletions.Load(),
	}
}

// ComponentType implements introspection.Component.
func (d *Dispatcher) ComponentType() string {
	return "dispatcher"
}

func sorted(set core.QNameSet) []string {
	out := set.Strings()
	sort.Strings(out)
	return out
}

var _ introspection.Introspectable = (*Dispatcher)(nil)
var _ introspection.Component = (*Dispatcher)(nil)
