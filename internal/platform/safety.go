package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// DevNamespace is the directory under os.TempDir that sandboxed stores live in.
const DevNamespace = "placard-dev"

// IsDevRun reports whether the process runs via `go run` or `go test`,
// both of which build the binary in a temporary directory.
func IsDevRun() bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}

	if strings.HasPrefix(strings.ToLower(exe), strings.ToLower(os.TempDir())) {
		return true
	}

	return strings.HasSuffix(exe, ".test") || strings.HasSuffix(exe, ".test.exe")
}

// ResolveVaultPath returns where a store rooted at userPath should live.
// With forceTemp, paths outside the system temp directory are re-rooted under
// DevNamespace by their base name; paths already inside it are trusted.
func ResolveVaultPath(userPath string, forceTemp bool) string {
	if !forceTemp {
		if userPath == "" {
			return "."
		}
		return userPath
	}

	clean := filepath.Clean(userPath)
	if rel, err := filepath.Rel(os.TempDir(), clean); err == nil && filepath.IsAbs(clean) && !strings.HasPrefix(rel, "..") {
		return clean
	}

	name := filepath.Base(clean)
	if userPath == "" || name == "." || name == string(os.PathSeparator) {
		name = "default"
	}
	return filepath.Join(os.TempDir(), DevNamespace, name)
}
