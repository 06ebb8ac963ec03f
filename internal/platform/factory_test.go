package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
)

const acmeURI = "http://acme.example/model/1.0"

func writeModel(t *testing.T, dir, name, prefix, uri string) {
	t.Helper()
	data := "name: " + name + "\nnamespaces:\n  - prefix: " + prefix + "\n    uri: " + uri + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(data), 0644))
}

func TestNew_Wiring(t *testing.T) {
	base := t.TempDir()
	models := filepath.Join(base, "models")
	require.NoError(t, os.MkdirAll(models, 0755))
	writeModel(t, models, "acme", "acme", acmeURI)

	settings := config.Defaults()
	settings.CustomDiffMode = true
	settings.ExcludedUpdateProperties = []string{"acme:score", "cm:title"}

	reg := prometheus.NewRegistry()
	engine, err := New(filepath.Join(base, "vault"),
		WithSettings(settings),
		WithAutoInit(true),
		WithVersioning(false),
		WithModels(models, false),
		WithMetrics(reg),
	)
	require.NoError(t, err)

	rules := engine.Dispatcher.Classifier().Rules()
	assert.True(t, rules.ExcludedProperties.Contains(core.NewQName(acmeURI, "score")))
	assert.True(t, rules.ExcludedProperties.Contains(core.NewQName(core.ContentModelURI, "title")))

	ctx := context.Background()
	tx, err := engine.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, "doc", "hello", nil, core.AspectVersionable))
	require.NoError(t, tx.Commit(ctx, "create"))

	history, err := engine.History(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "1.0", history[0].Label)

	count, err := testutil.GatherAndCount(reg, "autoversion_decisions_total")
	require.NoError(t, err)
	assert.Positive(t, count)

	state := engine.State().(EngineState)
	repoState := state.Repository.(fs.RepositoryState)
	assert.True(t, repoState.Gitless)
	assert.True(t, repoState.Dispatching)
	assert.Nil(t, state.Watcher)
	assert.Equal(t, "engine", engine.ComponentType())
}

func TestNew_WatchesModels(t *testing.T) {
	base := t.TempDir()
	models := filepath.Join(base, "models")
	require.NoError(t, os.MkdirAll(models, 0755))

	settings := config.Defaults()
	settings.CustomDiffMode = true
	settings.ExcludedUpdateProperties = []string{"acme:score"}

	engine, err := New(filepath.Join(base, "vault"),
		WithSettings(settings),
		WithAutoInit(true),
		WithVersioning(false),
		WithModels(models, true),
	)
	require.NoError(t, err)
	assert.Empty(t, engine.Dispatcher.Classifier().Rules().ExcludedProperties, "acme is unknown yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop(context.Background())

	writeModel(t, models, "acme", "acme", acmeURI)

	score := core.NewQName(acmeURI, "score")
	require.Eventually(t, func() bool {
		return engine.Dispatcher.Classifier().Rules().ExcludedProperties.Contains(score)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNew_Errors(t *testing.T) {
	t.Run("invalid settings", func(t *testing.T) {
		settings := config.Defaults()
		settings.AssociationDelaySeconds = -1
		_, err := New(t.TempDir(), WithSettings(settings), WithVersioning(false))
		assert.Error(t, err)
	})

	t.Run("missing vault without auto init", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "missing"), WithSettings(config.Defaults()))
		assert.Error(t, err)
	})

	t.Run("broken model", func(t *testing.T) {
		models := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(models, "bad.yaml"), []byte("namespaces: [\n"), 0644))
		_, err := New(t.TempDir(), WithSettings(config.Defaults()), WithVersioning(false), WithModels(models, false))
		assert.Error(t, err)
	})
}

func TestNew_LoadsConfigFile(t *testing.T) {
	base := t.TempDir()
	cfg := filepath.Join(base, ConfigFile)
	require.NoError(t, os.WriteFile(cfg, []byte(strings.Join([]string{
		"enable_auto_versioning: false",
		"association_delay_seconds: 12",
	}, "\n")), 0644))

	engine, err := New(base, WithConfigFile(cfg), WithVersioning(false))
	require.NoError(t, err)
	assert.False(t, engine.Dispatcher.Enabled())
	assert.Equal(t, int64(12), engine.Dispatcher.Settings().AssociationDelaySeconds)
}

func TestDetectGitless(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, detectGitless(dir, fs.DefaultSystemDir, false), "plain folder")
	assert.False(t, detectGitless(dir, fs.DefaultSystemDir, true), "fresh vault")

	require.NoError(t, os.Mkdir(filepath.Join(dir, fs.DefaultSystemDir), 0755))
	assert.True(t, detectGitless(dir, fs.DefaultSystemDir, true), "existing gitless vault")

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0755))
	assert.False(t, detectGitless(dir, fs.DefaultSystemDir, false), "git vault")
}

type memoryVersions struct {
	created []core.VersionRequest
}

func (m *memoryVersions) LatestVersionTime(context.Context, core.NodeRef) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (m *memoryVersions) CreateVersion(_ context.Context, req core.VersionRequest) (core.Version, error) {
	m.created = append(m.created, req)
	return core.Version{Ref: req.Ref, Label: "1.0", Kind: req.Kind}, nil
}

func (m *memoryVersions) DeleteHistory(context.Context, core.NodeRef) error {
	return nil
}

func TestNew_ExternalVersionStore(t *testing.T) {
	store := &memoryVersions{}
	engine, err := New(t.TempDir(),
		WithSettings(config.Defaults()),
		WithVersioning(false),
		WithVersionStore(store),
	)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := engine.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, "doc", "hello", nil, core.AspectVersionable))
	require.NoError(t, tx.Commit(ctx, ""))

	require.Len(t, store.created, 1)
	assert.Equal(t, core.VersionMajor, store.created[0].Kind)

	local, err := engine.Repository.History(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, local, "the vault keeps no records")

	_, err = engine.History(ctx, "doc")
	assert.Error(t, err)
}
