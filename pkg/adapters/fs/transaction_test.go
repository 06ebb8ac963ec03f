package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/config"
	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/dispatch"
)

func TestTransaction_Isolation(t *testing.T) {
	repo, path := setupRepo(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, "draft", "buffered", nil))

	assert.NoFileExists(t, filepath.Join(path, "draft.md"), "staged only")

	node, err := tx.Get(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, "buffered", node.Content)

	assert.Error(t, tx.Create(ctx, "draft", "again", nil), "duplicate create")

	require.NoError(t, tx.Commit(ctx, ""))
	assert.FileExists(t, filepath.Join(path, "draft.md"))

	assert.ErrorIs(t, tx.Commit(ctx, ""), core.ErrTransactionClosed)
	_, err = tx.Get(ctx, "draft")
	assert.ErrorIs(t, err, core.ErrTransactionClosed)
}

func TestTransaction_Rollback(t *testing.T) {
	repo, path := setupRepo(t)
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(ctx, "discarded", "never written", nil))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback twice is harmless")

	assert.NoFileExists(t, filepath.Join(path, "discarded.md"))
	assert.ErrorIs(t, tx.Commit(ctx, ""), core.ErrTransactionClosed)
}

func TestTransaction_AssociationsAndCopy(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	references := core.NewQName(core.ContentModelURI, "references")
	contains := core.NewQName(core.ContentModelURI, "contains")

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		for _, ref := range []core.NodeRef{"src", "dst", "folder"} {
			if err := tx.Create(ctx, ref, "text", nil, core.AspectVersionable); err != nil {
				return err
			}
		}
		if err := tx.Associate(ctx, "src", "dst", references); err != nil {
			return err
		}
		return tx.AddChild(ctx, "folder", "src", contains)
	})

	node, err := repo.Get(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, []fs.Link{{Type: references, Target: "dst"}}, node.Associations)

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.Associate(ctx, "src", "nowhere", references), core.ErrNotFound)
	assert.ErrorIs(t, tx.Dissociate(ctx, "src", "folder", references), core.ErrNotFound)
	require.NoError(t, tx.Dissociate(ctx, "src", "dst", references))
	require.NoError(t, tx.RemoveChild(ctx, "folder", "src", contains))
	require.NoError(t, tx.Copy(ctx, "src", "copy"))
	require.NoError(t, tx.Commit(ctx, ""))

	node, err = repo.Get(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, node.Associations)

	folder, err := repo.Get(ctx, "folder")
	require.NoError(t, err)
	assert.Empty(t, folder.Children)

	cp, err := repo.Get(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, "text", cp.Content)
	assert.True(t, cp.HasAspect(core.AspectVersionable))
	assert.Equal(t, true, cp.Properties[core.PropAutoVersion])
}

func TestTransaction_VersionsOncePerTransaction(t *testing.T) {
	repo, obs := setupEngine(t, config.Defaults())

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "first draft", nil, core.AspectVersionable)
	})
	assert.Equal(t, []string{"1.0"}, labels(t, repo, "doc"), "initial version")
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeCreated}, obs.of(core.EventAspectAdded))
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeDuplicate}, obs.of(core.EventContentUpdated))

	// The label written by the version store is reported but deduplicated.
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeDuplicate}, obs.of(core.EventPropertiesUpdated))

	obs.reset()
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		if err := tx.WriteContent(ctx, "doc", "second draft"); err != nil {
			return err
		}
		return tx.SetProperties(ctx, "doc", core.Properties{title: "Doc"})
	})
	assert.Equal(t, []string{"1.0", "1.1"}, labels(t, repo, "doc"), "one version for content and properties")
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeCreated}, obs.of(core.EventContentUpdated))

	label, _, err := repo.GetProperty(context.Background(), "doc", core.PropVersionLabel)
	require.NoError(t, err)
	assert.Equal(t, "1.1", label)
}

func TestTransaction_PropertyUpdatesAreGuarded(t *testing.T) {
	repo, obs := setupEngine(t, config.Defaults())

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "", nil, core.AspectVersionable)
	})

	// autoVersionOnUpdateProps is off by default.
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.SetProperties(ctx, "doc", core.Properties{title: "One"})
	})
	assert.Equal(t, []string{"1.0"}, labels(t, repo, "doc"))

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.SetProperties(ctx, "doc", core.Properties{core.PropAutoVersionProps: true})
	})
	require.Equal(t, []string{"1.0", "1.1"}, labels(t, repo, "doc"))

	obs.reset()
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.SetProperties(ctx, "doc", core.Properties{title: "Two"})
	})
	assert.Equal(t, []string{"1.0", "1.1", "1.2"}, labels(t, repo, "doc"))
	assert.Equal(t,
		[]dispatch.Outcome{dispatch.OutcomeSuspended, dispatch.OutcomeCreated},
		obs.of(core.EventPropertiesUpdated),
		"label write re-enters while the handler runs")
}

func TestTransaction_DeleteAndArchive(t *testing.T) {
	repo, obs := setupEngine(t, config.Defaults())
	ctx := context.Background()

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		if err := tx.Create(ctx, "kept", "x", nil, core.AspectVersionable); err != nil {
			return err
		}
		return tx.Create(ctx, "gone", "y", nil, core.AspectVersionable)
	})
	require.Len(t, labels(t, repo, "kept"), 1)
	require.Len(t, labels(t, repo, "gone"), 1)

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		if err := tx.Delete(ctx, "kept", true); err != nil {
			return err
		}
		return tx.Delete(ctx, "gone", false)
	})

	ok, err := repo.Exists(ctx, "kept")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.FileExists(t, filepath.Join(repo.Path, fs.DefaultSystemDir, "archive", "kept.md"))
	assert.Empty(t, labels(t, repo, "kept"), "history travels with the archived node")
	archived, err := repo.ArchivedHistory(ctx, "kept")
	require.NoError(t, err)
	require.Len(t, archived, 1, "archived node keeps its history")
	assert.Equal(t, "1.0", archived[0].Label)

	assert.Empty(t, labels(t, repo, "gone"))
	assert.Equal(t, []core.NodeRef{"gone"}, obs.deleted)
}

func TestTransaction_RecreatedNodeStartsFreshHistory(t *testing.T) {
	repo, _ := setupEngine(t, config.Defaults())
	ctx := context.Background()

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "first life", nil, core.AspectVersionable)
	})
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.WriteContent(ctx, "doc", "first life, edited")
	})
	require.Equal(t, []string{"1.0", "1.1"}, labels(t, repo, "doc"))

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Delete(ctx, "doc", true)
	})
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "second life", nil, core.AspectVersionable)
	})
	assert.Equal(t, []string{"1.0"}, labels(t, repo, "doc"))

	archived, err := repo.ArchivedHistory(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, archived, 2)
	assert.Equal(t, "1.0", archived[0].Label)
	assert.Equal(t, "1.1", archived[1].Label)

	// Archiving again replaces the earlier archived history.
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Delete(ctx, "doc", true)
	})
	archived, err = repo.ArchivedHistory(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, "1.0", archived[0].Label)
	assert.Empty(t, labels(t, repo, "doc"))
}

func TestTransaction_UnchangedNumbersAreNotChanges(t *testing.T) {
	settings := config.Defaults()
	settings.CustomDiffMode = true
	settings.ExcludedUpdateProperties = []string{"cm:description"}
	repo, obs := setupEngine(t, settings)

	props := core.Properties{title: 3.0, core.PropAutoVersionProps: true}
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "x", props, core.AspectVersionable)
	})
	require.Equal(t, []string{"1.0"}, labels(t, repo, "doc"))

	obs.reset()
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.SetProperties(ctx, "doc", core.Properties{title: 3.0})
	})
	assert.Equal(t, []string{"1.0"}, labels(t, repo, "doc"))
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeSkipped}, obs.of(core.EventPropertiesUpdated))

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.SetProperties(ctx, "doc", core.Properties{title: 3.5})
	})
	assert.Equal(t, []string{"1.0", "1.1"}, labels(t, repo, "doc"))
}

func TestTransaction_RemoveVersionableAspect(t *testing.T) {
	repo, _ := setupEngine(t, config.Defaults())
	ctx := context.Background()

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "x", nil, core.AspectVersionable)
	})
	require.Len(t, labels(t, repo, "doc"), 1)

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.RemoveAspect(ctx, "doc", core.AspectVersionable)
	})
	assert.Empty(t, labels(t, repo, "doc"))

	node, err := repo.Get(ctx, "doc")
	require.NoError(t, err)
	for name := range core.VersionableAspectProperties {
		assert.NotContains(t, node.Properties, name)
	}

	// Re-adding the aspect starts a new history.
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.AddAspect(ctx, "doc", core.AspectVersionable, core.Properties{core.PropVersionType: "MINOR"})
	})
	assert.Equal(t, []string{"0.1"}, labels(t, repo, "doc"))
}

func TestTransaction_LockedNodesAreNotVersioned(t *testing.T) {
	repo, obs := setupEngine(t, config.Defaults())

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "x", nil, core.AspectVersionable)
	})
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Lock(ctx, "doc", &fs.Lock{Type: fs.LockReadOnly})
	})

	obs.reset()
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.WriteContent(ctx, "doc", "y")
	})
	assert.Equal(t, []string{"1.0"}, labels(t, repo, "doc"))
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeIneligible}, obs.of(core.EventContentUpdated))
}

func TestTransaction_Associations(t *testing.T) {
	settings := config.Defaults()
	settings.AutoVersionAssociations = true
	settings.AssociationDelaySeconds = 0
	repo, obs := setupEngine(t, settings)
	references := core.NewQName(core.ContentModelURI, "references")

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		for _, ref := range []core.NodeRef{"src", "dst"} {
			if err := tx.Create(ctx, ref, "", nil, core.AspectVersionable); err != nil {
				return err
			}
		}
		return nil
	})

	// Both nodes were just versioned, so the throttle holds the association back.
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Associate(ctx, "src", "dst", references)
	})
	assert.Equal(t, []dispatch.Outcome{dispatch.OutcomeSkipped}, obs.of(core.EventAssociationCreated))
	assert.Len(t, labels(t, repo, "src"), 1)

	// Child associations stay off.
	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.AddChild(ctx, "src", "dst", core.NewQName(core.ContentModelURI, "contains"))
	})
	assert.Empty(t, obs.of(core.EventChildAssociationCreated))
}

func TestTransaction_WithoutDispatcher(t *testing.T) {
	repo, path := setupRepo(t)

	commit(t, repo, func(ctx context.Context, tx *fs.Transaction) error {
		return tx.Create(ctx, "doc", "x", nil, core.AspectVersionable)
	})
	assert.Empty(t, labels(t, repo, "doc"))

	_, err := os.Stat(filepath.Join(path, fs.DefaultSystemDir, "versions"))
	assert.True(t, os.IsNotExist(err))
}
