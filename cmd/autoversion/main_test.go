package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/autoversion/pkg/core"
)

type closingStore struct {
	closed bool
}

func (s *closingStore) LatestVersionTime(context.Context, core.NodeRef) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (s *closingStore) CreateVersion(_ context.Context, req core.VersionRequest) (core.Version, error) {
	return core.Version{Ref: req.Ref, Label: "1.0", Kind: req.Kind}, nil
}

func (s *closingStore) DeleteHistory(context.Context, core.NodeRef) error {
	return nil
}

func (s *closingStore) Close() error {
	s.closed = true
	return nil
}

// runCLI executes the root command with args against an external store.
func runCLI(t *testing.T, store *closingStore, args ...string) error {
	t.Helper()
	t.Setenv("AUTOVERSION_POSTGRES_DSN", "")

	previous := openVersionStore
	openVersionStore = func(context.Context, string) (externalStore, error) {
		return store, nil
	}
	t.Cleanup(func() {
		openVersionStore = previous
		vaultPath, configPath, modelsDir, postgresDSN = "", "", "", ""
		gitless, replayInit = false, false
	})

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestReplay_FailureClosesVersionStore(t *testing.T) {
	vault := t.TempDir()
	script := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte("transactions:\n  - steps:\n      - op: write\n        ref: missing\n        content: x\n"), 0644))

	store := &closingStore{}
	err := runCLI(t, store, "replay", script, "--vault", vault, "--gitless", "--postgres", "postgres://unused")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.True(t, store.closed)
}

func TestReplay_MissingScript(t *testing.T) {
	store := &closingStore{}
	err := runCLI(t, store, "replay", filepath.Join(t.TempDir(), "missing.yaml"), "--vault", t.TempDir())
	assert.Error(t, err)
	assert.False(t, store.closed, "nothing was opened")
}

func TestCheck_ClosesVersionStore(t *testing.T) {
	store := &closingStore{}
	err := runCLI(t, store, "check", "--vault", t.TempDir(), "--gitless", "--postgres", "postgres://unused")
	require.NoError(t, err)
	assert.True(t, store.closed)
}

func TestCheck_MissingVaultClosesVersionStore(t *testing.T) {
	store := &closingStore{}
	err := runCLI(t, store, "check", "--vault", filepath.Join(t.TempDir(), "missing"), "--gitless", "--postgres", "postgres://unused")
	assert.Error(t, err)
	assert.True(t, store.closed)
}
