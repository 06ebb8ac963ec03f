package platform

import (
	"os"
	"path/filepath"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
	"github.com/aretw0/autoversion/pkg/core"
)

// openFS builds the filesystem repository for path. It is not initialised.
func openFS(path string, ns fs.Namespaces, o *options) *fs.Repository {
	autoInit, _ := o.config["auto_init"].(bool)
	mustExist, _ := o.config["must_exist"].(bool)
	systemDir, _ := o.config["system_dir"].(string)
	if systemDir == "" {
		systemDir = fs.DefaultSystemDir
	}

	gitless, ok := o.config["gitless"].(bool)
	if !ok {
		gitless = detectGitless(path, systemDir, autoInit)
		if gitless {
			o.logger.Debug("auto-detected gitless mode", "reason", ".git missing")
		}
	}

	return fs.NewRepository(fs.Config{
		Path:       path,
		AutoInit:   autoInit,
		Gitless:    gitless,
		MustExist:  mustExist || !autoInit,
		Logger:     o.logger,
		SystemDir:  systemDir,
		Namespaces: ns,
	})
}

// detectGitless decides the mode of a vault when it was not configured. A
// vault with .git is versioned in git. A fresh vault created with autoInit
// gets git; an existing vault without .git stays gitless.
func detectGitless(path, systemDir string, autoInit bool) bool {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return false
	}
	if !autoInit {
		return true
	}
	_, err := os.Stat(filepath.Join(path, systemDir))
	return err == nil
}

// services picks the version store: an injected one, or the vault itself.
func services(repo *fs.Repository, o *options) (core.NodeStore, core.LockService, core.VersionStore) {
	if o.versions != nil {
		return repo, repo, o.versions
	}
	return repo, repo, repo
}
