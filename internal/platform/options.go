package platform

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
)

// options holds the internal configuration of an Engine.
type options struct {
	logger       *slog.Logger
	settings     *config.Settings
	configPath   string
	versions     core.VersionStore
	auth         core.Authenticator
	registerer   prometheus.Registerer
	metrics      bool
	modelsDir    string
	watchModels  bool
	onWatchError func(error)
	config       map[string]interface{}
}

// Option defines a functional option for configuring the engine.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		config: make(map[string]interface{}),
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSettings uses the given settings instead of loading them.
func WithSettings(s config.Settings) Option {
	return func(o *options) {
		o.settings = &s
	}
}

// WithConfigFile loads settings from a YAML file (plus environment overrides).
// Ignored when WithSettings is given.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithAutoInit creates the vault directory and the git repository if missing.
func WithAutoInit(auto bool) Option {
	return func(o *options) {
		o.config["auto_init"] = auto
	}
}

// WithVersioning enables or disables git commits of nodes and versions.
// Left unset, it is detected from the vault.
func WithVersioning(enabled bool) Option {
	return func(o *options) {
		o.config["gitless"] = !enabled
	}
}

// WithMustExist ensures the vault directory must already exist.
func WithMustExist(must bool) Option {
	return func(o *options) {
		o.config["must_exist"] = must
	}
}

// WithSystemDir sets the hidden directory holding versions and archives.
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.config["system_dir"] = name
	}
}

// WithModels loads namespace models from dir. With watch, model changes are
// picked up while the engine runs.
func WithModels(dir string, watch bool) Option {
	return func(o *options) {
		o.modelsDir = dir
		o.watchModels = watch
	}
}

// WithWatcherErrorHandler registers a callback for failed model reloads.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onWatchError = fn
	}
}

// WithVersionStore keeps version histories outside the vault, e.g. in
// PostgreSQL. Nodes stay in the vault.
func WithVersionStore(store core.VersionStore) Option {
	return func(o *options) {
		o.versions = store
	}
}

// WithAuthenticator replaces the context based authenticator.
func WithAuthenticator(a core.Authenticator) Option {
	return func(o *options) {
		o.auth = a
	}
}

// WithMetrics exports decision counters to reg. A nil reg means the default
// Prometheus registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.metrics = true
		o.registerer = reg
	}
}
