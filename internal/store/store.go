// Package store materialises and removes installed version trees.
//
// Installs are built in a staging directory and promoted into the versions
// directory by rename, so a final directory is either absent or complete.
// The store has no notion of which version is active.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pyvm/internal/errkind"
	"pyvm/internal/paths"
	"pyvm/internal/version"
)

const (
	partialPrefix = ".partial-"
	trashPrefix   = ".trash-"
)

// rename is swapped in tests to simulate promotion across filesystems.
var rename = os.Rename

type Logger interface {
	Printf(format string, v ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Store manages the versions and staging directories of a layout.
type Store struct {
	versionsDir string
	stagingDir  string
	logger      Logger
}

// Staging is an in-flight install. Nothing under it is visible as installed.
type Staging struct {
	ID      string
	Dir     string
	TreeDir string
}

// ArchivePath returns where the downloaded artifact named name is spooled.
func (s *Staging) ArchivePath(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}

// New returns a store over the layout's versions and staging directories.
func New(layout paths.Layout, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Store{versionsDir: layout.VersionsDir, stagingDir: layout.StagingDir, logger: logger}
}

// Path returns the final install directory for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.versionsDir, id)
}

// Begin allocates a fresh staging area for id. Staging left behind for the
// same id by an interrupted install is discarded first, so callers must hold
// the machine lock.
func (s *Store) Begin(id string) (*Staging, error) {
	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
		return nil, errkind.Classify("prepare staging dir", err)
	}
	s.discardStaging(id)

	dir := filepath.Join(s.stagingDir, id+"-"+uuid.NewString())
	st := &Staging{ID: id, Dir: dir, TreeDir: filepath.Join(dir, "tree")}
	if err := os.MkdirAll(st.TreeDir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errkind.Classify("create staging dir", err)
	}
	s.logger.Printf("store: staging %s at %s", id, dir)
	return st, nil
}

// Abort deletes staging. It is safe on nil, missing or half-written staging.
func (s *Store) Abort(st *Staging) {
	if st == nil || st.Dir == "" {
		return
	}
	if err := os.RemoveAll(st.Dir); err != nil {
		s.logger.Printf("store: abort %s: %v", st.ID, err)
	}
}

// Commit promotes the staged tree to its final location. When the final
// directory already exists the staging is discarded and ErrAlreadyInstalled
// is returned with the existing path; the existing install is never touched.
func (s *Store) Commit(st *Staging) (string, error) {
	if st == nil {
		return "", errors.New("commit: nil staging")
	}
	final := s.Path(st.ID)

	if err := os.MkdirAll(s.versionsDir, 0o755); err != nil {
		return "", errkind.Classify("prepare versions dir", err)
	}
	if exists, err := paths.DirExists(final); err != nil {
		return "", errkind.Classify("stat install dir", err)
	} else if exists {
		s.Abort(st)
		return final, fmt.Errorf("%w: %s", errkind.ErrAlreadyInstalled, st.ID)
	}

	if _, err := os.Stat(st.TreeDir); err != nil {
		return "", fmt.Errorf("commit %s: staged tree missing: %w", st.ID, err)
	}

	err := rename(st.TreeDir, final)
	if err != nil && errkind.IsCrossDevice(err) {
		err = s.promoteByCopy(st, final)
	}
	if err != nil {
		return "", errkind.Classify("commit "+st.ID, err)
	}
	if err := paths.SyncDir(s.versionsDir); err != nil {
		s.logger.Printf("store: %v", err)
	}

	s.Abort(st)
	s.logger.Printf("store: committed %s to %s", st.ID, final)
	return final, nil
}

// promoteByCopy copies the staged tree into a hidden sibling of final and then
// renames it, so final only appears once the copy is complete.
func (s *Store) promoteByCopy(st *Staging, final string) error {
	partial := filepath.Join(s.versionsDir, partialPrefix+st.ID+"-"+uuid.NewString())
	s.logger.Printf("store: cross-device commit for %s via %s", st.ID, partial)
	if err := copyTree(st.TreeDir, partial); err != nil {
		_ = os.RemoveAll(partial)
		return err
	}
	if err := rename(partial, final); err != nil {
		_ = os.RemoveAll(partial)
		return err
	}
	return nil
}

// Remove deletes the install directory of id. The directory is first renamed
// out of the way so the version disappears in one step.
func (s *Store) Remove(id string) error {
	final := s.Path(id)
	exists, err := paths.DirExists(final)
	if err != nil {
		return errkind.Classify("stat install dir", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", errkind.ErrNotInstalled, id)
	}

	trash := filepath.Join(s.versionsDir, trashPrefix+id+"-"+uuid.NewString())
	if err := rename(final, trash); err != nil {
		return errkind.Classify("remove "+id, err)
	}
	if err := paths.SyncDir(s.versionsDir); err != nil {
		s.logger.Printf("store: %v", err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return errkind.Classify("delete "+id, err)
	}
	s.logger.Printf("store: removed %s", id)
	return nil
}

// Installed lists the version directories present on disk, newest first.
func (s *Store) Installed() ([]string, error) {
	entries, err := os.ReadDir(s.versionsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read versions dir: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := version.Parse(entry.Name()); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	version.SortDescending(ids)
	return ids, nil
}

// Leftovers lists reclaimable artifacts of interrupted operations: staging
// areas plus partial and trash directories under versions.
func (s *Store) Leftovers() ([]string, error) {
	var out []string
	staging, err := os.ReadDir(s.stagingDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}
	for _, entry := range staging {
		out = append(out, filepath.Join(s.stagingDir, entry.Name()))
	}

	versions, err := os.ReadDir(s.versionsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read versions dir: %w", err)
	}
	for _, entry := range versions {
		name := entry.Name()
		if strings.HasPrefix(name, partialPrefix) || strings.HasPrefix(name, trashPrefix) {
			out = append(out, filepath.Join(s.versionsDir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Sweep deletes the given leftovers. Paths outside the store are refused.
func (s *Store) Sweep(targets []string) error {
	var errs []error
	for _, target := range targets {
		if !s.owns(target) {
			errs = append(errs, fmt.Errorf("refusing to sweep %s: outside store", target))
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, errkind.Classify("sweep "+target, err))
			continue
		}
		s.logger.Printf("store: swept %s", target)
	}
	return errors.Join(errs...)
}

func (s *Store) owns(target string) bool {
	parent := filepath.Dir(filepath.Clean(target))
	return parent == filepath.Clean(s.stagingDir) || parent == filepath.Clean(s.versionsDir)
}

func (s *Store) discardStaging(id string) {
	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		rest, ok := strings.CutPrefix(name, id+"-")
		if !ok || uuid.Validate(rest) != nil {
			continue
		}
		s.logger.Printf("store: discarding stale staging %s", name)
		_ = os.RemoveAll(filepath.Join(s.stagingDir, name))
	}
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
