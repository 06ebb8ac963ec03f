package autoversion

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/autoversion/internal/platform"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
)

// --- Types ---

// Engine is an auto-versioning vault.
type Engine = platform.Engine

// EngineState is the aggregated introspection state of an Engine.
type EngineState = platform.EngineState

// --- Configuration ---

// Option defines a functional option for configuring the engine.
type Option = platform.Option

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithSettings uses the given settings instead of loading them.
func WithSettings(s config.Settings) Option {
	return platform.WithSettings(s)
}

// WithConfigFile loads settings from a YAML file plus AUTOVERSION_* variables.
func WithConfigFile(path string) Option {
	return platform.WithConfigFile(path)
}

// WithAutoInit creates the vault directory and the git repository if missing.
func WithAutoInit(auto bool) Option {
	return platform.WithAutoInit(auto)
}

// WithVersioning enables or disables git commits.
func WithVersioning(enabled bool) Option {
	return platform.WithVersioning(enabled)
}

// WithMustExist ensures the vault directory must already exist.
func WithMustExist(must bool) Option {
	return platform.WithMustExist(must)
}

// WithSystemDir sets the hidden directory holding versions and archives.
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithModels loads namespace models from dir, optionally watching it.
func WithModels(dir string, watch bool) Option {
	return platform.WithModels(dir, watch)
}

// WithWatcherErrorHandler registers a callback for failed model reloads.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// WithVersionStore keeps version histories outside the vault.
func WithVersionStore(store core.VersionStore) Option {
	return platform.WithVersionStore(store)
}

// WithAuthenticator replaces the context based authenticator.
func WithAuthenticator(a core.Authenticator) Option {
	return platform.WithAuthenticator(a)
}

// WithMetrics exports decision counters to reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return platform.WithMetrics(reg)
}

// --- Factory ---

// New opens the vault at path and wires the engine.
func New(path string, opts ...Option) (*Engine, error) {
	return platform.New(path, opts...)
}

// FindVaultRoot looks upwards for a vault root indicator.
func FindVaultRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
