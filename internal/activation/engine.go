// Package activation owns the search-path entry that makes one installed
// version's executables resolvable.
//
// An entry is managed when it lies under the versions directory. Every
// transition (activate, switch, deactivate) is computed in memory and applied
// with a single PathStore write, so observers never see two managed entries.
package activation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"pyvm/internal/errkind"
	"pyvm/internal/paths"
)

// PathStore reads and replaces the persisted search path.
type PathStore interface {
	Read() (string, error)
	Write(value string) error
}

type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Engine applies activation changes to a PathStore.
type Engine struct {
	store       PathStore
	versionsDir string
	binSubdir   string
	logger      Logger

	// Separator splits the path value; FoldCase compares entries
	// case-insensitively. Both default to the host platform.
	Separator string
	FoldCase  bool
}

// NewEngine returns an engine that manages entries under versionsDir. The
// executable directory of a version is installPath/binSubdir.
func NewEngine(store PathStore, versionsDir, binSubdir string, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		store:       store,
		versionsDir: filepath.Clean(versionsDir),
		binSubdir:   binSubdir,
		logger:      logger,
		Separator:   string(os.PathListSeparator),
		FoldCase:    runtime.GOOS == "windows",
	}
}

// ExecDir returns the directory placed on the path for installPath.
func (e *Engine) ExecDir(installPath string) string {
	if e.binSubdir == "" {
		return filepath.Clean(installPath)
	}
	return filepath.Join(installPath, e.binSubdir)
}

// Activate replaces any managed entry with installPath's executable directory.
// Prior entries that are already gone are not an error. On failure the prior
// path is left as it was.
func (e *Engine) Activate(id, installPath string) error {
	execDir := e.ExecDir(installPath)
	exists, err := paths.DirExists(execDir)
	if err != nil {
		return errkind.Classify("stat "+execDir, err)
	}
	if !exists {
		return fmt.Errorf("%w: executable directory %s for %s", errkind.ErrNotFound, execDir, id)
	}

	current, err := e.read()
	if err != nil {
		return err
	}
	next := e.join(append([]string{execDir}, e.unmanaged(current)...))
	if next == current {
		e.logger.Printf("activation: %s already active", id)
		return nil
	}
	if err := e.write(current, next); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}

	after, err := e.read()
	if err != nil {
		return err
	}
	managed := e.managed(after)
	if len(managed) != 1 || !e.same(managed[0], execDir) {
		return fmt.Errorf("activate %s: path store did not retain %s", id, execDir)
	}
	e.logger.Printf("activation: %s active at %s", id, execDir)
	return nil
}

// Deactivate removes managed entries. It does nothing when none are present.
func (e *Engine) Deactivate() error {
	current, err := e.read()
	if err != nil {
		return err
	}
	if len(e.managed(current)) == 0 {
		return nil
	}
	if err := e.write(current, e.join(e.unmanaged(current))); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}
	e.logger.Printf("activation: deactivated")
	return nil
}

// CurrentlyActivePath inspects the path store directly and returns the first
// managed entry, or "" when there is none.
func (e *Engine) CurrentlyActivePath() (string, error) {
	entries, err := e.ManagedEntries()
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[0], nil
}

// ManagedEntries returns every managed entry in path order.
func (e *Engine) ManagedEntries() ([]string, error) {
	current, err := e.read()
	if err != nil {
		return nil, err
	}
	return e.managed(current), nil
}

// Matches reports whether a path entry refers to installPath's executable
// directory.
func (e *Engine) Matches(entry, installPath string) bool {
	return e.same(entry, e.ExecDir(installPath))
}

func (e *Engine) read() (string, error) {
	value, err := e.store.Read()
	if err != nil {
		return "", errkind.Classify("read search path", err)
	}
	return value, nil
}

// write applies next. When the store refuses with a permission error the path
// is re-read to confirm nothing was partially applied.
func (e *Engine) write(current, next string) error {
	err := e.store.Write(next)
	if err == nil {
		return nil
	}
	err = errkind.Classify("write search path", err)
	if errors.Is(err, errkind.ErrPermissionDenied) {
		after, readErr := e.store.Read()
		if readErr == nil && after != current {
			return fmt.Errorf("search path changed despite failed write: %w", err)
		}
	}
	return err
}

func (e *Engine) split(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, e.Separator)
}

func (e *Engine) join(entries []string) string {
	return strings.Join(entries, e.Separator)
}

func (e *Engine) managed(value string) []string {
	var out []string
	for _, entry := range e.split(value) {
		if e.isManaged(entry) {
			out = append(out, entry)
		}
	}
	return out
}

func (e *Engine) unmanaged(value string) []string {
	var out []string
	for _, entry := range e.split(value) {
		if e.isManaged(entry) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (e *Engine) isManaged(entry string) bool {
	if strings.TrimSpace(entry) == "" {
		return false
	}
	root := e.fold(e.versionsDir)
	candidate := e.fold(filepath.Clean(entry))
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (e *Engine) same(a, b string) bool {
	return e.fold(filepath.Clean(a)) == e.fold(filepath.Clean(b))
}

func (e *Engine) fold(s string) string {
	if e.FoldCase {
		return strings.ToLower(s)
	}
	return s
}
