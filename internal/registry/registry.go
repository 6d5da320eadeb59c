// Package registry persists the set of installed versions and the active
// pointer. It is the only source of truth that survives process restarts.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"pyvm/internal/errkind"
	"pyvm/internal/paths"
	"pyvm/internal/version"
)

const stateVersion = 1

// Record describes one installed version.
type Record struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	InstalledAt string `json:"installed_at"`
	Checksum    string `json:"checksum,omitempty"`
}

// State is the on-disk registry document.
type State struct {
	Version   int               `json:"version"`
	Installed map[string]Record `json:"installed"`
	Active    *string           `json:"active"`
}

// ActiveID returns the active identifier or "".
func (s State) ActiveID() string {
	if s.Active == nil {
		return ""
	}
	return *s.Active
}

// Registry reads and writes the state file. Every mutating call persists the
// complete state by atomic replace before it returns.
type Registry struct {
	path string
}

// New returns a registry backed by file.
func New(file string) *Registry {
	return &Registry{path: file}
}

// Path returns the backing file.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the state. A missing file is an empty registry; an unreadable or
// inconsistent one is ErrRegistryCorrupt and is never reset.
func (r *Registry) Load() (State, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return emptyState(), nil
		}
		return State{}, fmt.Errorf("%w: read %s: %w", errkind.ErrRegistryCorrupt, r.path, err)
	}

	var st State
	if err := json.Unmarshal(contents, &st); err != nil {
		return State{}, fmt.Errorf("%w: decode %s: %w", errkind.ErrRegistryCorrupt, r.path, err)
	}
	if err := st.normalize(); err != nil {
		return State{}, fmt.Errorf("%w: %s: %w", errkind.ErrRegistryCorrupt, r.path, err)
	}
	return st, nil
}

func (r *Registry) save(st State) error {
	if err := st.normalize(); err != nil {
		return fmt.Errorf("refusing to save inconsistent registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Classify("prepare registry directory", err)
	}

	buf, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.json")
	if err != nil {
		return errkind.Classify("create temp registry", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return errkind.Classify("write registry temp", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errkind.Classify("sync registry temp", err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.Classify("close registry temp", err)
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return errkind.Classify("replace registry", err)
	}
	// Best effort once the rename has landed.
	_ = paths.SyncDir(dir)
	return nil
}

func (r *Registry) update(mutate func(*State) error) error {
	st, err := r.Load()
	if err != nil {
		return err
	}
	if err := mutate(&st); err != nil {
		return err
	}
	return r.save(st)
}

// List returns installed records, newest identifier first.
func (r *Registry) List() ([]Record, error) {
	st, err := r.Load()
	if err != nil {
		return nil, err
	}
	return st.Records(), nil
}

// Get looks up one record.
func (r *Registry) Get(id string) (Record, bool, error) {
	st, err := r.Load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := st.Installed[id]
	return rec, ok, nil
}

// Add records a newly installed version.
func (r *Registry) Add(rec Record) error {
	if _, err := version.Parse(rec.ID); err != nil {
		return err
	}
	return r.update(func(st *State) error {
		if _, ok := st.Installed[rec.ID]; ok {
			return fmt.Errorf("%w: %s", errkind.ErrDuplicateVersion, rec.ID)
		}
		st.Installed[rec.ID] = rec
		return nil
	})
}

// Remove forgets a version. The active version cannot be removed.
func (r *Registry) Remove(id string) error {
	return r.update(func(st *State) error {
		if _, ok := st.Installed[id]; !ok {
			return fmt.Errorf("%w: %s", errkind.ErrNotFound, id)
		}
		if st.ActiveID() == id {
			return fmt.Errorf("%w: %s", errkind.ErrIsActive, id)
		}
		delete(st.Installed, id)
		return nil
	})
}

// SetActive points the registry at id, or clears the pointer when id is "".
func (r *Registry) SetActive(id string) error {
	return r.update(func(st *State) error {
		if id == "" {
			st.Active = nil
			return nil
		}
		if _, ok := st.Installed[id]; !ok {
			return fmt.Errorf("%w: %s", errkind.ErrNotInstalled, id)
		}
		active := id
		st.Active = &active
		return nil
	})
}

// GetActive returns the active identifier or "" when none is set.
func (r *Registry) GetActive() (string, error) {
	st, err := r.Load()
	if err != nil {
		return "", err
	}
	return st.ActiveID(), nil
}

// Records returns the installed records sorted by identifier, descending.
func (s State) Records() []Record {
	records := make([]Record, 0, len(s.Installed))
	for _, rec := range s.Installed {
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return version.CompareStrings(records[i].ID, records[j].ID) > 0
	})
	return records
}

func (s *State) normalize() error {
	if s.Version == 0 {
		s.Version = stateVersion
	}
	if s.Version > stateVersion {
		return fmt.Errorf("unsupported registry version %d", s.Version)
	}
	if s.Installed == nil {
		s.Installed = map[string]Record{}
	}
	for key, rec := range s.Installed {
		if _, err := version.Parse(key); err != nil {
			return fmt.Errorf("installed entry: %w", err)
		}
		if rec.ID == "" {
			rec.ID = key
			s.Installed[key] = rec
		}
		if rec.ID != key {
			return fmt.Errorf("installed entry %q records id %q", key, rec.ID)
		}
	}
	if s.Active != nil {
		if *s.Active == "" {
			s.Active = nil
		} else if _, ok := s.Installed[*s.Active]; !ok {
			return fmt.Errorf("active version %q is not installed", *s.Active)
		}
	}
	return nil
}

func emptyState() State {
	return State{Version: stateVersion, Installed: map[string]Record{}}
}
