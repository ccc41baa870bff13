package platform

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/placard/pkg/adapters/fs"
)

// ConfigFile is the optional marker file of a Placard directory.
const ConfigFile = "placard.yaml"

// FindRoot looks upwards from startDir for a store root.
// Indicators are: the .placard directory, a .git directory, or placard.yaml.
// It returns an error when the filesystem root is reached without a match.
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

	return "", fmt.Errorf("root not found")
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
