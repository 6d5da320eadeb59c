// Package manager sequences installs, activation switches and uninstalls so
// that every prefix of an operation leaves a consistent, inspectable state.
//
// Mutating operations hold the machine lock and start by converging the search
// path onto the registry. Read-only operations take no lock.
package manager

import (
	"fmt"
	"log"

	"pyvm/internal/activation"
	"pyvm/internal/config"
	"pyvm/internal/fetch"
	"pyvm/internal/integrity"
	"pyvm/internal/lock"
	"pyvm/internal/logx"
	"pyvm/internal/paths"
	"pyvm/internal/registry"
	"pyvm/internal/store"
)

// Options wires a Manager. Settings must already have defaults applied.
// Fetcher and PathStore fall back to the production implementations chosen by
// Settings when nil.
type Options struct {
	Layout    paths.Layout
	Settings  config.Config
	Fetcher   fetch.Fetcher
	PathStore activation.PathStore
	Logger    *log.Logger
}

// Manager is the single writer of the registry, the versions directory and
// the managed search-path entry.
type Manager struct {
	layout   paths.Layout
	settings config.Config
	store    *store.Store
	registry *registry.Registry
	engine   *activation.Engine
	fetcher  fetch.Fetcher
	verifier integrity.Verifier
	locker   *lock.Locker
	logger   *log.Logger
	retry    retryPolicy
}

// New validates settings, prepares the layout and assembles the components.
func New(opts Options) (*Manager, error) {
	if err := opts.Settings.Err(); err != nil {
		return nil, err
	}
	if err := opts.Layout.EnsureDirs(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logx.Discard()
	}

	s := opts.Settings
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(s.Download.URLTemplate, s.Download.ChecksumURLTemplate, s.Download.Checksums, s.Download.Timeout)
	}
	pathStore := opts.PathStore
	if pathStore == nil {
		ps, err := activation.NewPathStore(s.Activation.Target, opts.Layout)
		if err != nil {
			return nil, fmt.Errorf("select path store: %w", err)
		}
		pathStore = ps
	}

	return &Manager{
		layout:   opts.Layout,
		settings: s,
		store:    store.New(opts.Layout, logger),
		registry: registry.New(opts.Layout.RegistryFile),
		engine:   activation.NewEngine(pathStore, opts.Layout.VersionsDir, s.Activation.BinSubdirValue(), logger),
		fetcher:  fetcher,
		verifier: integrity.Verifier{RequireDigest: s.Verify.RequireDigestValue()},
		locker:   lock.New(opts.Layout.LockFile, lock.Options{Timeout: s.Lock.Timeout, FailFast: s.Lock.FailFast}),
		logger:   logger,
		retry: retryPolicy{
			Attempts:     s.Download.Retries.Attempts,
			InitialDelay: s.Download.Retries.InitialDelay,
			MaxDelay:     s.Download.Retries.MaxDelay,
		},
	}, nil
}

// Layout returns the directory layout the manager operates on.
func (m *Manager) Layout() paths.Layout {
	return m.layout
}

// Listing is the result of List.
type Listing struct {
	Versions []registry.Record `json:"versions"`
	Active   string            `json:"active,omitempty"`
}

// List returns installed versions, newest first, with the active identifier.
func (m *Manager) List() (Listing, error) {
	st, err := m.registry.Load()
	if err != nil {
		return Listing{}, err
	}
	return Listing{Versions: st.Records(), Active: st.ActiveID()}, nil
}

// CurrentState reports the registry's active version next to what the search
// path actually holds.
type CurrentState struct {
	Active     string `json:"active,omitempty"`
	PathEntry  string `json:"path_entry,omitempty"`
	Consistent bool   `json:"consistent"`
}

// Current inspects the registry and the search path without locking.
func (m *Manager) Current() (CurrentState, error) {
	st, err := m.registry.Load()
	if err != nil {
		return CurrentState{}, err
	}
	managed, err := m.engine.ManagedEntries()
	if err != nil {
		return CurrentState{}, err
	}

	out := CurrentState{Active: st.ActiveID()}
	if len(managed) > 0 {
		out.PathEntry = managed[0]
	}
	out.Consistent = m.converged(st, managed)
	return out, nil
}

// converged reports whether the managed entries agree with the registry.
func (m *Manager) converged(st registry.State, managed []string) bool {
	active := st.ActiveID()
	if active == "" {
		return len(managed) == 0
	}
	return len(managed) == 1 && m.engine.Matches(managed[0], st.Installed[active].Path)
}
