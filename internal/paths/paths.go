package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnv overrides the default ~/.pyvm root.
const HomeEnv = "PYVM_HOME"

// Layout captures canonical locations under the pyvm root.
type Layout struct {
	Root         string
	RegistryFile string
	SettingsFile string
	VersionsDir  string
	StagingDir   string
	LogsDir      string
	LockFile     string
	EnvFile      string
}

// Resolve determines the root from the optional --home flag, then PYVM_HOME,
// then the user's home directory.
func Resolve(homeFlag string) (Layout, error) {
	root := homeFlag
	if root == "" {
		if override, ok := os.LookupEnv(HomeEnv); ok && override != "" {
			root = override
		}
	}
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Layout{}, fmt.Errorf("detect user home: %w", err)
		}
		root = filepath.Join(home, ".pyvm")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve pyvm root: %w", err)
	}
	return New(abs), nil
}

// New lays out the standard hierarchy below root without touching disk.
func New(root string) Layout {
	return Layout{
		Root:         root,
		RegistryFile: filepath.Join(root, "config.json"),
		SettingsFile: filepath.Join(root, "settings.yaml"),
		VersionsDir:  filepath.Join(root, "versions"),
		StagingDir:   filepath.Join(root, "staging"),
		LogsDir:      filepath.Join(root, "logs"),
		LockFile:     filepath.Join(root, "pyvm.lock"),
		EnvFile:      filepath.Join(root, "env"),
	}
}

// VersionDir returns the final install location for id.
func (l Layout) VersionDir(id string) string {
	return filepath.Join(l.VersionsDir, id)
}

// EnsureDirs creates the root together with the versions, staging and logs
// directories.
func (l Layout) EnsureDirs() error {
	dirs := []string{l.Root, l.VersionsDir, l.StagingDir, l.LogsDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DirExists reports whether a path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// SyncDir flushes directory metadata so a preceding rename survives a crash.
// Platforms that cannot open directories for sync are skipped.
func SyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
