package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/autoversion/pkg/auth"
	"github.com/aretw0/autoversion/pkg/core"
)

// versionRecord is the on-disk form of a version: its metadata plus a frozen
// copy of the node.
type versionRecord struct {
	ID          string           `yaml:"id"`
	Ref         string           `yaml:"ref"`
	Label       string           `yaml:"label"`
	Kind        core.VersionKind `yaml:"kind"`
	Description string           `yaml:"description,omitempty"`
	Creator     string           `yaml:"creator"`
	Created     time.Time        `yaml:"created"`
	Aspects     []string         `yaml:"aspects,omitempty"`
	Properties  map[string]any   `yaml:"properties,omitempty"`
	Content     string           `yaml:"content,omitempty"`
}

func (rec versionRecord) version() core.Version {
	return core.Version{
		ID:          rec.ID,
		Ref:         core.NodeRef(rec.Ref),
		Label:       rec.Label,
		Kind:        rec.Kind,
		Description: rec.Description,
		Creator:     rec.Creator,
		Created:     rec.Created,
	}
}

func (r *Repository) versionsDir(ref core.NodeRef) string {
	return path.Join(r.config.SystemDir, "versions", string(ref))
}

func (r *Repository) versionFile(ref core.NodeRef, label string) string {
	return path.Join(r.versionsDir(ref), label+".yaml")
}

func (r *Repository) archivedVersionsDir(ref core.NodeRef) string {
	return path.Join(r.config.SystemDir, "archive", "versions", string(ref))
}

func (r *Repository) abs(rel string) string {
	return filepath.Join(r.Path, filepath.FromSlash(rel))
}

// History returns the versions of ref, oldest first.
func (r *Repository) History(ctx context.Context, ref core.NodeRef) ([]core.Version, error) {
	if err := r.validateRef(ref); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history(ref)
}

// ArchivedHistory returns the versions an archived node took with it,
// oldest first.
func (r *Repository) ArchivedHistory(ctx context.Context, ref core.NodeRef) ([]core.Version, error) {
	if err := r.validateRef(ref); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readRecords(ref, r.archivedVersionsDir(ref))
}

func (r *Repository) history(ref core.NodeRef) ([]core.Version, error) {
	return r.readRecords(ref, r.versionsDir(ref))
}

func (r *Repository) readRecords(ref core.NodeRef, rel string) ([]core.Version, error) {
	dir := r.abs(rel)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", ref, err)
	}

	versions := make([]core.Version, 0, len(matches))
	for _, name := range matches {
		if strings.HasPrefix(name, TempFilePrefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var rec versionRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse version %s of %s: %w", name, ref, err)
		}
		versions = append(versions, rec.version())
	}

	sort.Slice(versions, func(i, j int) bool {
		return core.CompareLabels(versions[i].Label, versions[j].Label) < 0
	})
	return versions, nil
}

// LatestVersionTime implements core.VersionStore.
func (r *Repository) LatestVersionTime(ctx context.Context, ref core.NodeRef) (time.Time, bool, error) {
	if head, ok := r.cache.Get(string(ref)); ok {
		return head.Created, true, nil
	}

	versions, err := r.History(ctx, ref)
	if err != nil || len(versions) == 0 {
		return time.Time{}, false, err
	}
	latest := versions[len(versions)-1]
	r.cache.Set(string(ref), headEntry{Label: latest.Label, Created: latest.Created, Count: len(versions)})
	return latest.Created, true, nil
}

// CreateVersion implements core.VersionStore. The new label is written to
// the node's cm:versionLabel; inside a committing transaction that write is
// reported as a properties update, followed by the version notification.
func (r *Repository) CreateVersion(ctx context.Context, req core.VersionRequest) (core.Version, error) {
	if err := r.validateRef(req.Ref); err != nil {
		return core.Version{}, err
	}

	creator, ok := auth.UserFrom(ctx)
	if !ok {
		creator = auth.AnonymousUser
	}

	v, before, after, err := r.storeVersion(ctx, req, creator)
	if err != nil {
		return core.Version{}, err
	}
	r.logger.Debug("version stored", "ref", req.Ref, "label", v.Label, "creator", creator)

	if tx := transactionFrom(ctx); tx != nil {
		err := tx.notify(ctx,
			core.Event{Kind: core.EventPropertiesUpdated, Ref: req.Ref, Before: before, After: after},
			core.Event{Kind: core.EventVersionCreated, Ref: req.Ref, Version: &v},
		)
		if err != nil {
			return v, err
		}
	}
	return v, nil
}

// storeVersion writes the record and the new label, and commits both.
func (r *Repository) storeVersion(ctx context.Context, req core.VersionRequest, creator string) (core.Version, core.Properties, core.Properties, error) {
	if !r.config.Gitless {
		unlock, err := r.git.Lock(ctx)
		if err != nil {
			return core.Version{}, nil, nil, fmt.Errorf("failed to acquire git lock: %w", err)
		}
		defer unlock()
	}

	r.mu.Lock()
	node, err := r.read(req.Ref)
	if err != nil {
		r.mu.Unlock()
		return core.Version{}, nil, nil, err
	}
	history, err := r.history(req.Ref)
	if err != nil {
		r.mu.Unlock()
		return core.Version{}, nil, nil, err
	}

	previous := ""
	if len(history) > 0 {
		previous = history[len(history)-1].Label
	}
	label, err := core.NextLabel(previous, req.Kind)
	if err != nil {
		r.mu.Unlock()
		return core.Version{}, nil, nil, err
	}

	before := node.Properties.Clone()
	node.Properties[core.PropVersionLabel] = label
	after := node.Properties.Clone()

	rec := versionRecord{
		ID:          uuid.NewString(),
		Ref:         string(req.Ref),
		Label:       label,
		Kind:        req.Kind,
		Description: req.Description,
		Creator:     creator,
		Created:     time.Now().UTC(),
		Properties:  r.codec.propertyRecord(after),
		Content:     node.Content,
	}
	for a := range node.Aspects {
		rec.Aspects = append(rec.Aspects, r.codec.ns.Prefixed(a))
	}
	sort.Strings(rec.Aspects)

	data, err := yaml.Marshal(rec)
	if err == nil {
		err = writeFileAtomic(r.abs(r.versionFile(req.Ref, label)), data, 0644)
	}
	if err == nil {
		err = r.write(node)
	}
	r.mu.Unlock()
	if err != nil {
		return core.Version{}, nil, nil, fmt.Errorf("failed to store version %s of %s: %w", label, req.Ref, err)
	}

	r.cache.Set(string(req.Ref), headEntry{Label: label, Created: rec.Created, Count: len(history) + 1})
	if err := r.cache.Save(); err != nil {
		r.logger.Warn("failed to save head cache", "error", err)
	}

	if !r.config.Gitless {
		if err := r.git.Add(ctx, r.versionFile(req.Ref, label), r.nodeFile(req.Ref)); err != nil {
			return core.Version{}, nil, nil, fmt.Errorf("failed to git add: %w", err)
		}
		msg := fmt.Sprintf("version %s of %s: %s", label, req.Ref, req.Description)
		if err := r.git.Commit(ctx, msg, creator); err != nil {
			return core.Version{}, nil, nil, fmt.Errorf("failed to git commit: %w", err)
		}
	}

	return rec.version(), before, after, nil
}

// DeleteHistory implements core.VersionStore.
func (r *Repository) DeleteHistory(ctx context.Context, ref core.NodeRef) error {
	if err := r.validateRef(ref); err != nil {
		return err
	}

	if !r.config.Gitless {
		unlock, err := r.git.Lock(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire git lock: %w", err)
		}
		defer unlock()
	}

	r.mu.Lock()
	removed, err := r.removeRecords(ref)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete versions of %s: %w", ref, err)
	}

	r.cache.Delete(string(ref))
	if err := r.cache.Save(); err != nil {
		r.logger.Warn("failed to save head cache", "error", err)
	}

	if len(removed) == 0 || r.config.Gitless {
		return nil
	}
	if err := r.git.Rm(ctx, removed...); err != nil {
		return fmt.Errorf("failed to git rm: %w", err)
	}
	user, _ := auth.UserFrom(ctx)
	if err := r.git.Commit(ctx, fmt.Sprintf("delete version history of %s", ref), user); err != nil {
		return fmt.Errorf("failed to git commit: %w", err)
	}
	return nil
}

// removeRecords deletes the version records of ref and returns their vault
// relative paths. Histories of nested refs ("a/b" under "a") are kept.
func (r *Repository) removeRecords(ref core.NodeRef) ([]string, error) {
	dir := r.abs(r.versionsDir(ref))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "*.yaml")
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(matches))
	for _, name := range matches {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, path.Join(r.versionsDir(ref), name))
	}
	// Only succeeds when nothing nested is left.
	_ = os.Remove(dir)
	return removed, nil
}

// archiveRecords moves the version records of ref next to its archived node,
// replacing a history archived earlier under the same ref. It returns the
// vault relative paths removed and added. Histories of nested refs stay.
func (r *Repository) archiveRecords(ref core.NodeRef) (removed, added []string, err error) {
	src := r.abs(r.versionsDir(ref))
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(src), "*.yaml")
	if err != nil || len(matches) == 0 {
		return nil, nil, err
	}

	dst := r.abs(r.archivedVersionsDir(ref))
	if stale, err := doublestar.Glob(os.DirFS(dst), "*.yaml"); err == nil {
		for _, name := range stale {
			if err := os.Remove(filepath.Join(dst, name)); err != nil && !os.IsNotExist(err) {
				return nil, nil, err
			}
			removed = append(removed, path.Join(r.archivedVersionsDir(ref), name))
		}
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, nil, err
	}

	for _, name := range matches {
		if err := os.Rename(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return removed, added, err
		}
		removed = append(removed, path.Join(r.versionsDir(ref), name))
		added = append(added, path.Join(r.archivedVersionsDir(ref), name))
	}
	_ = os.Remove(src)
	return removed, added, nil
}
