package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/autoversion/pkg/adapters/fs"
)

// ConfigFile is the settings file looked up at the vault root.
const ConfigFile = "autoversion.yaml"

// FindRoot looks upwards from startDir for a vault root. Indicators are the
// system directory, a .git directory or an autoversion.yaml file.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, fs.DefaultSystemDir) || hasFile(dir, ".git") || hasFile(dir, ConfigFile) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no vault root above %s", abs)
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
