package activation

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"pyvm/internal/paths"
)

// Target names accepted by NewPathStore.
const (
	TargetAuto     = "auto"
	TargetRegistry = "registry"
	TargetFile     = "file"
)

// NewPathStore selects the platform path store. "auto" uses the user
// environment registry key on Windows and the env file elsewhere.
func NewPathStore(target string, layout paths.Layout) (PathStore, error) {
	switch target {
	case "", TargetAuto:
		if runtime.GOOS == "windows" {
			return newRegistryPathStore()
		}
		return NewFilePathStore(layout.EnvFile), nil
	case TargetRegistry:
		return newRegistryPathStore()
	case TargetFile:
		return NewFilePathStore(layout.EnvFile), nil
	default:
		return nil, fmt.Errorf("unknown activation target %q", target)
	}
}

const (
	envFileHeader = "# Managed by pyvm. Source this file from your shell profile."
	envFileMarker = "# pyvm-path: "
)

// FilePathStore keeps the managed path fragment in a shell snippet that
// prepends it to PATH. The file is replaced atomically on every write.
type FilePathStore struct {
	file string
}

// NewFilePathStore returns a store backed by file.
func NewFilePathStore(file string) *FilePathStore {
	return &FilePathStore{file: file}
}

func (s *FilePathStore) Read() (string, error) {
	f, err := os.Open(s.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), envFileMarker); ok {
			return value, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read env file: %w", err)
	}
	return "", nil
}

func (s *FilePathStore) Write(value string) error {
	var b strings.Builder
	b.WriteString(envFileHeader + "\n")
	b.WriteString(envFileMarker + value + "\n")
	if value != "" {
		fmt.Fprintf(&b, "export PATH=\"%s${PATH:+:$PATH}\"\n", shellEscape(value))
	}

	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare env dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "env-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write env file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close env file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod env file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.file); err != nil {
		return fmt.Errorf("replace env file: %w", err)
	}
	_ = paths.SyncDir(dir)
	return nil
}

func shellEscape(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return r.Replace(value)
}

// MemoryPathStore is an in-process PathStore. WriteErr, when set, makes
// writes fail without changing the value.
type MemoryPathStore struct {
	mu       sync.Mutex
	value    string
	writes   int
	WriteErr error
}

// NewMemoryPathStore returns a store holding initial.
func NewMemoryPathStore(initial string) *MemoryPathStore {
	return &MemoryPathStore{value: initial}
}

func (s *MemoryPathStore) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryPathStore) Write(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.value = value
	s.writes++
	return nil
}

// Set replaces the value without counting a write, as a manual edit would.
func (s *MemoryPathStore) Set(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = value
}

// Writes reports how many successful writes were made.
func (s *MemoryPathStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
