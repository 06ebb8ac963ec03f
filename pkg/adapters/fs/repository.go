// Package fs stores nodes as markdown files with YAML frontmatter and their
// version histories as YAML records under the system directory, optionally
// committed to git.
//
// Layout of a vault:
//
//	notes/report.md                                  node "notes/report"
//	.autoversion/versions/notes/report/1.0.yaml      its first version
//	.autoversion/archive/notes/old.md                an archived node
//	.autoversion/archive/versions/notes/old/1.0.yaml the history it took along
//	.autoversion/heads.json                          head cache (git ignored)
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/core"
	"github.com/aretw0/autoversion/pkg/git"
	"github.com/aretw0/autoversion/pkg/schema"
)

// DefaultSystemDir holds version records, archived nodes and the head cache.
const DefaultSystemDir = ".autoversion"

const nodeExt = ".md"

// Config holds the configuration of a filesystem repository.
type Config struct {
	Path      string
	AutoInit  bool
	Gitless   bool
	MustExist bool
	Logger    *slog.Logger
	SystemDir string
	// Namespaces resolves the prefixes used in frontmatter. Defaults to the
	// builtin namespaces.
	Namespaces Namespaces
}

// Repository implements core.NodeStore, core.LockService and core.VersionStore.
type Repository struct {
	Path   string
	config Config
	git    *git.Client
	cache  *cache
	codec  codec
	logger *slog.Logger

	// mu serialises file access; versions and node writes are read-modify-write.
	mu         sync.RWMutex
	dispatcher Dispatcher
	active     map[string]struct{}
}

// NewRepository creates a filesystem repository. Call Initialize before use.
func NewRepository(config Config) *Repository {
	if config.SystemDir == "" {
		config.SystemDir = DefaultSystemDir
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Namespaces == nil {
		config.Namespaces = schema.NewRegistry("")
	}
	return &Repository{
		Path:   config.Path,
		config: config,
		git:    git.NewClient(config.Path, config.SystemDir+".lock", config.Logger),
		cache:  newCache(config.Path, config.SystemDir),
		codec:  codec{ns: config.Namespaces},
		logger: config.Logger,
		active: make(map[string]struct{}),
	}
}

// SetDispatcher attaches the event sink transactions report to. Without one,
// transactions only store.
func (r *Repository) SetDispatcher(d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatcher = d
}

// Initialize prepares the vault directory and, unless gitless, the git repository.
func (r *Repository) Initialize(ctx context.Context) error {
	if r.config.MustExist {
		info, err := os.Stat(r.Path)
		if os.IsNotExist(err) {
			return fmt.Errorf("vault path does not exist: %s", r.Path)
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", r.Path)
		}
	} else if err := os.MkdirAll(r.Path, 0755); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}

	if err := r.cache.Load(); err != nil {
		return err
	}

	if r.config.Gitless {
		return nil
	}
	if !git.IsInstalled() {
		return fmt.Errorf("git is not installed")
	}

	newRepo := false
	if !r.git.IsRepo(ctx) {
		if !r.config.AutoInit {
			return fmt.Errorf("path is not a git repository: %s", r.Path)
		}
		if err := r.git.Init(ctx); err != nil {
			return fmt.Errorf("failed to git init: %w", err)
		}
		newRepo = true
	}

	modified, err := r.ensureIgnore()
	if err != nil {
		return fmt.Errorf("failed to ensure .gitignore: %w", err)
	}
	if modified && newRepo {
		if err := r.git.Add(ctx, ".gitignore"); err != nil {
			return fmt.Errorf("failed to add .gitignore: %w", err)
		}
		if err := r.git.Commit(ctx, "chore: configure autoversion ignores", ""); err != nil {
			return fmt.Errorf("failed to commit .gitignore: %w", err)
		}
	}
	return nil
}

func (r *Repository) ensureIgnore() (bool, error) {
	ignorePath := filepath.Join(r.Path, ".gitignore")
	entries := []string{
		r.config.SystemDir + "/heads.json",
		r.config.SystemDir + ".lock",
		TempFilePrefix + "*",
	}

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(content), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, e := range entries {
		if !present[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(strings.Join(missing, "\n") + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

// validateRef rejects refs that would escape the vault or land in the
// system directory.
func (r *Repository) validateRef(ref core.NodeRef) error {
	s := string(ref)
	if s == "" {
		return fmt.Errorf("empty node ref")
	}
	clean := path.Clean(s)
	if clean != s || path.IsAbs(s) || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return fmt.Errorf("invalid node ref %q", s)
	}
	if clean == r.config.SystemDir || strings.HasPrefix(clean, r.config.SystemDir+"/") {
		return fmt.Errorf("node ref %q is inside the system directory", s)
	}
	return nil
}

func (r *Repository) nodeFile(ref core.NodeRef) string {
	return string(ref) + nodeExt
}

func (r *Repository) nodePath(ref core.NodeRef) string {
	return filepath.Join(r.Path, filepath.FromSlash(r.nodeFile(ref)))
}

func (r *Repository) archiveFile(ref core.NodeRef) string {
	return path.Join(r.config.SystemDir, "archive", r.nodeFile(ref))
}

// Get reads a node. It returns core.ErrNotFound when the node does not exist.
func (r *Repository) Get(ctx context.Context, ref core.NodeRef) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.read(ref)
}

func (r *Repository) read(ref core.NodeRef) (*Node, error) {
	if err := r.validateRef(ref); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.nodePath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ref)
		}
		return nil, err
	}
	node, err := r.codec.parse(ref, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse node %s: %w", ref, err)
	}
	return node, nil
}

func (r *Repository) write(node *Node) error {
	data, err := r.codec.serialize(node)
	if err != nil {
		return fmt.Errorf("failed to serialize node %s: %w", node.Ref, err)
	}
	return writeFileAtomic(r.nodePath(node.Ref), data, 0644)
}

// Exists implements core.NodeStore.
func (r *Repository) Exists(ctx context.Context, ref core.NodeRef) (bool, error) {
	if err := r.validateRef(ref); err != nil {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, err := os.Stat(r.nodePath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// GetProperty implements core.NodeStore.
func (r *Repository) GetProperty(ctx context.Context, ref core.NodeRef, name core.QName) (any, bool, error) {
	node, err := r.Get(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	v, ok := node.Properties[name]
	return v, ok, nil
}

// HasAspect implements core.NodeStore.
func (r *Repository) HasAspect(ctx context.Context, ref core.NodeRef, aspect core.QName) (bool, error) {
	node, err := r.Get(ctx, ref)
	if err != nil {
		return false, err
	}
	return node.HasAspect(aspect), nil
}

// IsLockedReadOnly implements core.LockService. A read-only lock blocks
// everyone; a write lock blocks everyone but its owner.
func (r *Repository) IsLockedReadOnly(ctx context.Context, ref core.NodeRef) (bool, error) {
	node, err := r.Get(ctx, ref)
	if err != nil {
		return false, err
	}
	if node.Lock == nil {
		return false, nil
	}
	switch node.Lock.Type {
	case LockReadOnly:
		return true, nil
	case LockWrite:
		user, _ := auth.UserFrom(ctx)
		return node.Lock.Owner != user, nil
	}
	return false, nil
}

// Begin starts a transaction. Its lifecycle events go to the attached dispatcher.
func (r *Repository) Begin(ctx context.Context) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := newTransaction(r, r.dispatcher)
	r.active[tx.ID()] = struct{}{}
	return tx, nil
}

func (r *Repository) endTransaction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// apply writes staged nodes and removals to disk and, unless gitless,
// commits them in one commit.
func (r *Repository) apply(ctx context.Context, staged map[core.NodeRef]*Node, deleted map[core.NodeRef]bool, reason string) error {
	if len(staged) == 0 && len(deleted) == 0 {
		return nil
	}

	if !r.config.Gitless {
		unlock, err := r.git.Lock(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire git lock: %w", err)
		}
		defer unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var toAdd, toRm []string
	archivedHeads := false
	for _, node := range staged {
		if err := r.write(node); err != nil {
			return err
		}
		toAdd = append(toAdd, r.nodeFile(node.Ref))
	}

	for ref, archive := range deleted {
		src := r.nodePath(ref)
		if archive {
			dst := filepath.Join(r.Path, filepath.FromSlash(r.archiveFile(ref)))
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return fmt.Errorf("failed to create archive directory: %w", err)
			}
			if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to archive %s: %w", ref, err)
			}
			toAdd = append(toAdd, r.archiveFile(ref))

			removed, added, err := r.archiveRecords(ref)
			if err != nil {
				return fmt.Errorf("failed to archive versions of %s: %w", ref, err)
			}
			toRm = append(toRm, removed...)
			toAdd = append(toAdd, added...)
			if len(added) > 0 {
				archivedHeads = true
				r.cache.Delete(string(ref))
			}
		} else if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", ref, err)
		}
		toRm = append(toRm, r.nodeFile(ref))
	}

	if archivedHeads {
		if err := r.cache.Save(); err != nil {
			r.logger.Warn("failed to save head cache", "error", err)
		}
	}

	if r.config.Gitless {
		return nil
	}
	if err := r.git.Rm(ctx, toRm...); err != nil {
		return fmt.Errorf("failed to git rm: %w", err)
	}
	if err := r.git.Add(ctx, toAdd...); err != nil {
		return fmt.Errorf("failed to git add: %w", err)
	}
	if reason == "" {
		if val, ok := ctx.Value(core.ChangeReasonKey).(string); ok && val != "" {
			reason = val
		} else {
			reason = "update nodes"
		}
	}
	user, _ := auth.UserFrom(ctx)
	if err := r.git.Commit(ctx, reason, user); err != nil {
		return fmt.Errorf("failed to git commit: %w", err)
	}
	return nil
}

var (
	_ core.NodeStore    = (*Repository)(nil)
	_ core.LockService  = (*Repository)(nil)
	_ core.VersionStore = (*Repository)(nil)
)
