package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/dispatch"
	"github.com/aretw0/autoversion/pkg/git"
	"github.com/aretw0/autoversion/pkg/schema"
)

var title = core.NewQName(core.ContentModelURI, "title")

// setupRepo creates an initialised gitless repository in a temporary vault.
func setupRepo(t *testing.T, opts ...func(*fs.Config)) (*fs.Repository, string) {
	t.Helper()

	vaultPath := filepath.Join(t.TempDir(), "vault")
	cfg := fs.Config{
		Path:     vaultPath,
		AutoInit: true,
		Gitless:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	repo := fs.NewRepository(cfg)
	require.NoError(t, repo.Initialize(context.Background()))
	return repo, vaultPath
}

type outcomes struct {
	mu      sync.Mutex
	byKind  map[core.EventKind][]dispatch.Outcome
	deleted []core.NodeRef
}

func (o *outcomes) ObserveDecision(kind core.EventKind, outcome dispatch.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byKind == nil {
		o.byKind = make(map[core.EventKind][]dispatch.Outcome)
	}
	o.byKind[kind] = append(o.byKind[kind], outcome)
}

func (o *outcomes) ObserveHistoryDeleted(ref core.NodeRef) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, ref)
}

func (o *outcomes) of(kind core.EventKind) []dispatch.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]dispatch.Outcome(nil), o.byKind[kind]...)
}

func (o *outcomes) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byKind = nil
	o.deleted = nil
}

// setupEngine attaches a dispatcher to a fresh repository.
func setupEngine(t *testing.T, settings config.Settings) (*fs.Repository, *outcomes) {
	t.Helper()

	repo, _ := setupRepo(t)
	obs := &outcomes{}
	d, err := dispatch.New(settings, dispatch.Services{
		Nodes:    repo,
		Locks:    repo,
		Versions: repo,
	}, dispatch.WithObserver(obs), dispatch.WithResolver(schema.NewRegistry("")))
	require.NoError(t, err)
	repo.SetDispatcher(d)
	return repo, obs
}

func commit(t *testing.T, repo *fs.Repository, stage func(ctx context.Context, tx *fs.Transaction) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, stage(ctx, tx))
	require.NoError(t, tx.Commit(ctx, "test"))
}

func labels(t *testing.T, repo *fs.Repository, ref core.NodeRef) []string {
	t.Helper()
	history, err := repo.History(context.Background(), ref)
	require.NoError(t, err)
	out := make([]string, 0, len(history))
	for _, v := range history {
		out = append(out, v.Label)
	}
	return out
}

// gitIdentity makes commits work on machines without a configured identity.
func gitIdentity(t *testing.T) {
	t.Helper()
	if !git.IsInstalled() {
		t.Skip("git not installed")
	}
	for _, key := range []string{"GIT_AUTHOR", "GIT_COMMITTER"} {
		t.Setenv(key+"_NAME", "Test")
		t.Setenv(key+"_EMAIL", "test@example.com")
	}
}

func TestInitialize(t *testing.T) {
	t.Run("creates directory if missing", func(t *testing.T) {
		_, path := setupRepo(t)
		assert.DirExists(t, path)
	})

	t.Run("fails if MustExist and missing", func(t *testing.T) {
		repo := fs.NewRepository(fs.Config{
			Path:      filepath.Join(t.TempDir(), "missing"),
			Gitless:   true,
			MustExist: true,
		})
		assert.Error(t, repo.Initialize(context.Background()))
	})

	t.Run("inits git repo and ignores", func(t *testing.T) {
		gitIdentity(t)
		_, path := setupRepo(t, func(c *fs.Config) { c.Gitless = false })
		assert.DirExists(t, filepath.Join(path, ".git"))

		ignore, err := os.ReadFile(filepath.Join(path, ".gitignore"))
		require.NoError(t, err)
		assert.Contains(t, string(ignore), ".autoversion/heads.json")
		assert.Contains(t, string(ignore), fs.TempFilePrefix+"*")
	})
}

func TestRepository_NodeStore(t *testing.T) {
	repo, path := setupRepo(t)
	ctx := context.Background()

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "notes/report", "body", core.Properties{title: "Report"}, core.AspectVersionable)
	})
	assert.FileExists(t, filepath.Join(path, "notes", "report.md"))

	ok, err := repo.Exists(ctx, "notes/report")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "notes/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	v, present, err := repo.GetProperty(ctx, "notes/report", title)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "Report", v)

	// Adding the versionable aspect fills in its defaults.
	v, present, err = repo.GetProperty(ctx, "notes/report", core.PropAutoVersionProps)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, false, v)

	has, err := repo.HasAspect(ctx, "notes/report", core.AspectVersionable)
	require.NoError(t, err)
	assert.True(t, has)

	_, err = repo.Get(ctx, "notes/missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	for _, ref := range []core.NodeRef{"", "../escape", "/abs", "a/../b", ".autoversion/versions"} {
		ok, err := repo.Exists(ctx, ref)
		require.NoError(t, err)
		assert.False(t, ok, "ref %q", ref)
	}
}

func TestRepository_IsLockedReadOnly(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		for _, ref := range []core.NodeRef{"free", "writing", "frozen"} {
			if err := tx.Create(ctx, ref, "", nil); err != nil {
				return err
			}
		}
		if err := tx.Lock(ctx, "writing", &fs.Lock{Type: fs.LockWrite, Owner: "alice"}); err != nil {
			return err
		}
		return tx.Lock(ctx, "frozen", &fs.Lock{Type: fs.LockReadOnly, Owner: "alice"})
	})

	alice := auth.WithUser(ctx, "alice")
	bob := auth.WithUser(ctx, "bob")

	tests := []struct {
		name string
		ctx  context.Context
		ref  core.NodeRef
		want bool
	}{
		{"unlocked", bob, "free", false},
		{"write lock owner", alice, "writing", false},
		{"write lock other", bob, "writing", true},
		{"read only owner", alice, "frozen", true},
		{"read only other", bob, "frozen", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.IsLockedReadOnly(tt.ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepository_VersionStore(t *testing.T) {
	repo, path := setupRepo(t)
	ctx := auth.WithUser(context.Background(), "alice")

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		if err := tx.Create(ctx, "a", "parent", nil, core.AspectVersionable); err != nil {
			return err
		}
		return tx.Create(ctx, "a/b", "nested", nil, core.AspectVersionable)
	})

	_, ok, err := repo.LatestVersionTime(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "no history yet")

	first, err := repo.CreateVersion(ctx, core.VersionRequest{Ref: "a", Kind: core.VersionMajor, Description: "first"})
	require.NoError(t, err)
	assert.Equal(t, "1.0", first.Label)
	assert.Equal(t, "alice", first.Creator)

	second, err := repo.CreateVersion(ctx, core.VersionRequest{Ref: "a", Kind: core.VersionMinor})
	require.NoError(t, err)
	assert.Equal(t, "1.1", second.Label)

	_, err = repo.CreateVersion(ctx, core.VersionRequest{Ref: "a/b", Kind: core.VersionMinor})
	require.NoError(t, err)

	assert.Equal(t, []string{"1.0", "1.1"}, labels(t, repo, "a"))
	assert.Equal(t, []string{"0.1"}, labels(t, repo, "a/b"))

	label, _, err := repo.GetProperty(ctx, "a", core.PropVersionLabel)
	require.NoError(t, err)
	assert.Equal(t, "1.1", label)

	latest, ok, err := repo.LatestVersionTime(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, latest.Equal(second.Created))

	// A fresh repository on the same vault reads the persisted head cache.
	reopened := fs.NewRepository(fs.Config{Path: path, Gitless: true})
	require.NoError(t, reopened.Initialize(ctx))
	latest, ok, err = reopened.LatestVersionTime(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, latest.Equal(second.Created))

	require.NoError(t, repo.DeleteHistory(ctx, "a"))
	assert.Empty(t, labels(t, repo, "a"))
	assert.Equal(t, []string{"0.1"}, labels(t, repo, "a/b"), "nested history survives")

	_, ok, err = repo.LatestVersionTime(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an empty history is a no-op.
	require.NoError(t, repo.DeleteHistory(ctx, "a"))
}

func TestRepository_State(t *testing.T) {
	repo, path := setupRepo(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)

	state := repo.State().(fs.RepositoryState)
	assert.Equal(t, path, state.Path)
	assert.Equal(t, fs.DefaultSystemDir, state.SystemDir)
	assert.True(t, state.Gitless)
	assert.False(t, state.Dispatching)
	assert.Equal(t, []string{tx.ID()}, state.TransactionIDs)
	assert.Equal(t, "repository", repo.ComponentType())

	require.NoError(t, tx.Rollback(ctx))
	state = repo.State().(fs.RepositoryState)
	assert.Empty(t, state.TransactionIDs)
}

func TestRepository_GitCommits(t *testing.T) {
	gitIdentity(t)
	repo, path := setupRepo(t, func(c *fs.Config) { c.Gitless = false })
	ctx := auth.WithUser(context.Background(), "alice")

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, "doc", "hello", nil, core.AspectVersionable))
	require.NoError(t, tx.Commit(ctx, "create doc"))

	_, err = repo.CreateVersion(ctx, core.VersionRequest{Ref: "doc", Kind: core.VersionMajor, Description: "first"})
	require.NoError(t, err)

	client := git.NewClient(path, "", nil)
	out, err := client.Run(ctx, "log", "--format=%an|%s")
	require.NoError(t, err)
	assert.Contains(t, out, "alice|version 1.0 of doc: first")
	assert.Contains(t, out, "alice|create doc")

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status)
}
